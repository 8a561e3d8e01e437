package pa6

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/megaputer/pa6-go/pkg/tus"
)

// Drive is the user's file area on the server. Paths are relative to the
// user directory and use forward slashes; "" is the root.
type Drive struct {
	c *Client
}

// Drive returns the file area facade.
func (c *Client) Drive() *Drive {
	return &Drive{c: c}
}

type driveEntry struct {
	Path string `json:"path"`
	Name string `json:"name"`
}

func entry(dir, name string) driveEntry {
	return driveEntry{Path: dir, Name: norm.NFC.String(name)}
}

// CreateFolder creates folder name inside dir.
func (d *Drive) CreateFolder(ctx context.Context, dir, name string) error {
	return d.command(ctx, "folder/create", dir, name)
}

// DeleteFolder deletes folder name inside dir.
func (d *Drive) DeleteFolder(ctx context.Context, dir, name string) error {
	return d.command(ctx, "folder/delete", dir, name)
}

// DeleteFile deletes file name inside dir.
func (d *Drive) DeleteFile(ctx context.Context, dir, name string) error {
	return d.command(ctx, "file/delete", dir, name)
}

func (d *Drive) command(ctx context.Context, endpoint, dir, name string) error {
	if name == "" {
		return invalidArgf("%s: name is required", endpoint)
	}

	_, err := d.c.do(ctx, call{
		method:   http.MethodPost,
		endpoint: endpoint,
		body:     entry(dir, name),
		emptyOK:  true,
	})
	if err != nil {
		return fmt.Errorf("pa6: %s %s: %w", endpoint, remotePath(dir, name), err)
	}

	return nil
}

// Download copies file name inside dir to w and returns the bytes written.
// The server first issues a one-time download uid, then serves the content
// outside the versioned API.
func (d *Drive) Download(ctx context.Context, dir, name string, w io.Writer) (int64, error) {
	var ticket struct {
		UID string `json:"uid"`
	}

	if _, err := d.c.post(ctx, "file/download", nil, entry(dir, name), &ticket); err != nil {
		return 0, fmt.Errorf("pa6: requesting download of %s: %w", remotePath(dir, name), err)
	}

	if ticket.UID == "" {
		return 0, fmt.Errorf("%w: file/download returned no uid", ErrMalformedResponse)
	}

	endpoint := d.c.origin + "/polyanalyst/download"

	resp, err := d.c.http.R().
		SetContext(ctx).
		SetQueryParam("uid", ticket.UID).
		SetDoNotParseResponse(true).
		Get(endpoint)
	if err != nil {
		return 0, fmt.Errorf("%w: GET %s: %w", ErrTransport, endpoint, err)
	}

	body := resp.RawBody()
	defer body.Close()

	if !statusOK(resp.StatusCode()) {
		raw, _ := io.ReadAll(io.LimitReader(body, maxErrorBodySize)) //nolint:errcheck // best-effort read for error message
		return 0, checkStatus("download", resp.StatusCode(), raw)
	}

	n, err := io.Copy(w, body)
	if err != nil {
		return n, fmt.Errorf("pa6: downloading %s: %w", remotePath(dir, name), err)
	}

	d.c.logger.Debug("file downloaded",
		slog.String("path", remotePath(dir, name)),
		slog.Int64("bytes", n),
	)

	return n, nil
}

// UploadFile sends r as file name inside dir. r must be positioned at its
// start. An upload the server did not fully commit is terminated and
// reported as tus.ErrIncompleteUpload.
func (d *Drive) UploadFile(
	ctx context.Context, r io.ReadSeeker, name, dir string, progress tus.ProgressFunc,
) (*tus.Result, error) {
	if name == "" {
		return nil, invalidArgf("upload: name is required")
	}

	name = norm.NFC.String(name)

	ctx, span := d.c.startSpan(ctx, http.MethodPost, "file/upload")

	res, err := d.c.uploads.Upload(ctx, d.c.apiURL+"/file/upload", name, r, tus.UploadOptions{
		Metadata: map[string]string{"foldername": dir},
		Progress: progress,
		Journal:  d.c.journal,
	})
	if res != nil {
		d.c.metrics.addUploaded(res.Committed)

		if res.CleanupErr != nil {
			d.c.diagnose(SourceUpload, fmt.Sprintf("%s: %v (session %s)", remotePath(dir, name), res.CleanupErr, res.Endpoint))
		}
	}

	if err != nil {
		err = uploadError(remotePath(dir, name), err)
		endSpan(span, 0, err)

		return res, err
	}

	endSpan(span, http.StatusOK, nil)

	return res, nil
}

// uploadError maps tus status failures onto the API error taxonomy.
func uploadError(target string, err error) error {
	var se *tus.StatusError
	if errors.As(err, &se) {
		apiErr := checkStatus("file/upload", se.StatusCode, []byte(se.Body))
		if apiErr != nil {
			return fmt.Errorf("pa6: uploading %s: %w", target, apiErr)
		}
	}

	return fmt.Errorf("pa6: uploading %s: %w", target, err)
}

// UploadOptions configures Drive.Upload.
type UploadOptions struct {
	// Recursive descends into subfolders. Without it a folder source only
	// creates the folder itself.
	Recursive bool
	// Progress, when set, is called for every chunk of every file.
	Progress func(file string, uploaded, total int64)
}

// Upload copies the local file or folder source into dest. Folders that
// already exist on the server are reused, so running the same upload twice
// succeeds.
func (d *Drive) Upload(ctx context.Context, source, dest string, opts UploadOptions) error {
	info, err := os.Stat(source)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return invalidArgf("cannot find %q: no such file or directory", source)
		}

		return fmt.Errorf("pa6: upload: %w", err)
	}

	return d.upload(ctx, filepath.Clean(source), info, dest, opts)
}

func (d *Drive) upload(ctx context.Context, local string, info os.FileInfo, dest string, opts UploadOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	name := info.Name()

	if !info.IsDir() {
		if !info.Mode().IsRegular() {
			d.c.logger.Warn("skipping non-regular file", slog.String("path", local))
			return nil
		}

		return d.uploadLocalFile(ctx, local, name, dest, opts)
	}

	if err := d.CreateFolder(ctx, dest, name); err != nil {
		if !errors.Is(err, ErrAlreadyExists) {
			return err
		}

		d.c.logger.Debug("folder already exists", slog.String("path", remotePath(dest, name)))
	}

	if !opts.Recursive {
		return nil
	}

	// ReadDir returns entries sorted by name.
	children, err := os.ReadDir(local)
	if err != nil {
		return fmt.Errorf("pa6: reading %s: %w", local, err)
	}

	// Server folder paths are rooted at "/".
	sub := strings.TrimSuffix(dest, "/") + "/" + name

	for _, child := range children {
		ci, err := child.Info()
		if err != nil {
			return fmt.Errorf("pa6: stat %s: %w", filepath.Join(local, child.Name()), err)
		}

		if err := d.upload(ctx, filepath.Join(local, child.Name()), ci, sub, opts); err != nil {
			return err
		}
	}

	return nil
}

func (d *Drive) uploadLocalFile(ctx context.Context, local, name, dest string, opts UploadOptions) error {
	f, err := os.Open(local)
	if err != nil {
		return fmt.Errorf("pa6: opening %s: %w", local, err)
	}
	defer f.Close()

	var progress tus.ProgressFunc
	if opts.Progress != nil {
		progress = func(uploaded, total int64) { opts.Progress(local, uploaded, total) }
	}

	_, err = d.UploadFile(ctx, f, name, dest, progress)

	return err
}

// TerminateUpload deletes an upload session left behind by an interrupted
// process. endpoint is the session URL returned by the server on create.
func (d *Drive) TerminateUpload(ctx context.Context, endpoint string) error {
	if err := d.c.uploads.Terminate(ctx, &tus.Session{URL: endpoint}); err != nil {
		return uploadError(endpoint, err)
	}

	return nil
}

// remotePath joins a server folder and a name with forward slashes.
func remotePath(dir, name string) string {
	dir = strings.TrimSuffix(dir, "/")
	if dir == "" {
		return name
	}

	return dir + "/" + name
}
