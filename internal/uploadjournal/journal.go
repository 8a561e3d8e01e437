// Package uploadjournal remembers upload sessions that were created on a
// PolyAnalyst server but not yet settled, so a later run can terminate the
// ones a crashed process left behind.
package uploadjournal

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/megaputer/pa6-go/pkg/pa6"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Entry is one journaled upload session.
type Entry struct {
	ID        string
	Endpoint  string
	FileName  string
	Size      int64
	CreatedAt time.Time
}

// Journal is a SQLite-backed upload journal. It implements tus.Journal.
type Journal struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// Open opens (creating if needed) the journal database at path and applies
// pending migrations.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Journal, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("uploadjournal: creating directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("uploadjournal: opening %s: %w", path, err)
	}

	// One writer; WAL lets concurrent CLI processes read.
	db.SetMaxOpenConns(1)

	if err := migrate(ctx, db, logger); err != nil {
		return nil, errors.Join(err, db.Close())
	}

	logger.Debug("upload journal opened", slog.String("path", path))

	return &Journal{db: db, logger: logger, now: time.Now}, nil
}

func migrate(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("uploadjournal: migration filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, sub)
	if err != nil {
		return fmt.Errorf("uploadjournal: creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("uploadjournal: running migrations: %w", err)
	}

	for _, r := range results {
		logger.Info("applied migration",
			slog.String("source", r.Source.Path),
			slog.Int64("duration_ms", r.Duration.Milliseconds()),
		)
	}

	return nil
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Record stores a freshly created session and returns its journal id.
func (j *Journal) Record(ctx context.Context, endpoint, name string, size int64) (string, error) {
	id := uuid.NewString()

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO upload_sessions (id, endpoint, file_name, size, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (endpoint) DO UPDATE SET id = excluded.id`,
		id, endpoint, name, size, j.now().UnixNano())
	if err != nil {
		return "", fmt.Errorf("uploadjournal: recording %s: %w", endpoint, err)
	}

	return id, nil
}

// Forget removes a settled session. Unknown ids are not an error.
func (j *Journal) Forget(ctx context.Context, id string) error {
	if _, err := j.db.ExecContext(ctx, `DELETE FROM upload_sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("uploadjournal: forgetting %s: %w", id, err)
	}

	return nil
}

// List returns every journaled session, oldest first.
func (j *Journal) List(ctx context.Context) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, endpoint, file_name, size, created_at FROM upload_sessions ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("uploadjournal: listing sessions: %w", err)
	}
	defer rows.Close()

	var entries []Entry

	for rows.Next() {
		var (
			e       Entry
			created int64
		)

		if err := rows.Scan(&e.ID, &e.Endpoint, &e.FileName, &e.Size, &created); err != nil {
			return nil, fmt.Errorf("uploadjournal: scanning session: %w", err)
		}

		e.CreatedAt = time.Unix(0, created)
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("uploadjournal: listing sessions: %w", err)
	}

	return entries, nil
}

// Terminator deletes an upload session on the server. *pa6.Drive
// satisfies it.
type Terminator interface {
	TerminateUpload(ctx context.Context, endpoint string) error
}

// SweepResult summarizes a Sweep.
type SweepResult struct {
	Terminated int
	Gone       int
	Failed     int
}

// Sweep terminates every journaled session and forgets the ones that are
// settled. A session the server no longer knows counts as gone. Sessions
// whose termination fails stay journaled and their errors are joined.
func (j *Journal) Sweep(ctx context.Context, t Terminator) (SweepResult, error) {
	var res SweepResult

	entries, err := j.List(ctx)
	if err != nil {
		return res, err
	}

	var errs []error

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return res, errors.Join(append(errs, err)...)
		}

		err := t.TerminateUpload(ctx, e.Endpoint)

		switch {
		case err == nil:
			res.Terminated++
		case errors.Is(err, pa6.ErrNotFound):
			res.Gone++
		default:
			res.Failed++

			j.logger.Warn("failed to terminate journaled upload",
				slog.String("endpoint", e.Endpoint),
				slog.String("file", e.FileName),
				slog.String("error", err.Error()),
			)

			errs = append(errs, fmt.Errorf("%s: %w", e.Endpoint, err))

			continue
		}

		if err := j.Forget(ctx, e.ID); err != nil {
			errs = append(errs, err)
		}
	}

	j.logger.Info("upload journal swept",
		slog.Int("terminated", res.Terminated),
		slog.Int("gone", res.Gone),
		slog.Int("failed", res.Failed),
	)

	return res, errors.Join(errs...)
}
