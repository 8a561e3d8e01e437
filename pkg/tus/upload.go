package tus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// Journal persists in-flight upload endpoints so a crashed process can clean
// them up later. Record is called right after a session is created and
// Forget once its fate is settled (complete or terminated).
type Journal interface {
	Record(ctx context.Context, endpoint, name string, size int64) (string, error)
	Forget(ctx context.Context, id string) error
}

// Result describes a finished upload attempt.
type Result struct {
	Endpoint   string
	Size       int64
	Committed  int64
	Terminated bool
	// CleanupErr is the verify or terminate failure Upload logged instead of
	// returning.
	CleanupErr error
}

// Complete reports whether the server holds every byte.
func (r *Result) Complete() bool {
	return r.Committed == r.Size
}

// UploadOptions carries optional inputs to Upload.
type UploadOptions struct {
	Metadata map[string]string
	Progress ProgressFunc
	Journal  Journal
}

// Upload runs the create, transfer, verify lifecycle for one stream.
//
// r must be positioned at offset 0. After the transfer (successful or not)
// the committed offset is always queried. When it differs from the size the
// session is terminated so no partial fragment lingers on the server. Errors
// from the verify and terminate calls are logged, never returned: the
// transfer outcome is already known at that point.
func (c *Client) Upload(
	ctx context.Context, createURL, name string, r io.ReadSeeker, opts UploadOptions,
) (*Result, error) {
	size, err := streamSize(r)
	if err != nil {
		return nil, err
	}

	s, err := c.Create(ctx, createURL, name, size, opts.Metadata)
	if err != nil {
		return nil, err
	}

	journalID := c.record(ctx, opts.Journal, s, name)

	res := &Result{Endpoint: s.URL, Size: size}

	committed, transferErr := c.Transfer(ctx, s, r, 0, opts.Progress)
	res.Committed = committed

	c.reconcile(ctx, s, res)

	// A session that could not be terminated stays journaled for a later sweep.
	if res.Complete() || res.Terminated {
		c.forget(ctx, opts.Journal, journalID)
	}

	if transferErr != nil {
		return res, transferErr
	}

	if !res.Complete() {
		return res, fmt.Errorf("%w: %d of %d bytes committed", ErrIncompleteUpload, res.Committed, res.Size)
	}

	c.logger.Info("upload complete",
		slog.String("name", name),
		slog.Int64("size", size),
	)

	return res, nil
}

// reconcile queries the committed offset and terminates incomplete sessions.
// A zero-byte upload is verified like any other and is complete when the
// server reports offset 0.
func (c *Client) reconcile(ctx context.Context, s *Session, res *Result) {
	// Cleanup must run even when the caller's context was canceled mid-transfer.
	cleanupCtx := context.WithoutCancel(ctx)

	committed, err := c.Offset(cleanupCtx, s)
	if err != nil {
		c.logger.Warn("could not verify upload offset",
			slog.String("endpoint", s.URL),
			slog.String("error", err.Error()),
		)

		res.CleanupErr = fmt.Errorf("tus: verifying upload: %w", err)

		return
	}

	res.Committed = committed

	if committed == s.Size {
		return
	}

	c.logger.Warn("upload incomplete, terminating session",
		slog.String("endpoint", s.URL),
		slog.Int64("committed", committed),
		slog.Int64("size", s.Size),
	)

	if err := c.Terminate(cleanupCtx, s); err != nil {
		c.logger.Warn("could not terminate incomplete upload",
			slog.String("endpoint", s.URL),
			slog.String("error", err.Error()),
		)

		res.CleanupErr = fmt.Errorf("tus: terminating incomplete upload: %w", err)

		return
	}

	res.Terminated = true
}

func (c *Client) record(ctx context.Context, j Journal, s *Session, name string) string {
	if j == nil {
		return ""
	}

	id, err := j.Record(ctx, s.URL, name, s.Size)
	if err != nil {
		c.logger.Warn("failed to journal upload session", slog.String("error", err.Error()))

		return ""
	}

	return id
}

func (c *Client) forget(ctx context.Context, j Journal, id string) {
	if j == nil || id == "" {
		return
	}

	if err := j.Forget(context.WithoutCancel(ctx), id); err != nil {
		c.logger.Warn("failed to remove journaled upload session", slog.String("error", err.Error()))
	}
}

// streamSize returns the total size of r and checks that r sits at offset 0.
// Uploading from the middle of a stream would send a truncated file that the
// server accepts as complete.
func streamSize(r io.ReadSeeker) (int64, error) {
	pos, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, fmt.Errorf("tus: reading stream position: %w", err)
	}

	if pos != 0 {
		return 0, fmt.Errorf("%w (at %d)", ErrNotAtStart, pos)
	}

	end, err := r.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, fmt.Errorf("tus: measuring stream: %w", err)
	}

	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return 0, fmt.Errorf("tus: rewinding stream: %w", err)
	}

	return end, nil
}

// IsIncomplete reports whether err means the server kept fewer bytes than sent.
func IsIncomplete(err error) bool {
	return errors.Is(err, ErrIncompleteUpload)
}
