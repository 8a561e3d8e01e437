package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	// watchSettle is how long a file must stay unchanged before it is sent.
	watchSettle        = 750 * time.Millisecond
	watchErrBackoff    = time.Second
	watchErrMaxBackoff = 30 * time.Second
)

// fsWatcher is the subset of fsnotify.Watcher the upload watcher uses.
type fsWatcher interface {
	Add(name string) error
	Close() error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
}

type notifyWatcher struct {
	*fsnotify.Watcher
}

func (w notifyWatcher) Events() <-chan fsnotify.Event { return w.Watcher.Events }
func (w notifyWatcher) Errors() <-chan error          { return w.Watcher.Errors }

func newNotifyWatcher() (fsWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating filesystem watcher: %w", err)
	}

	return notifyWatcher{w}, nil
}

// uploadWatcher mirrors files written under root into remoteRoot after
// they settle. With recursive set, new subfolders are watched and uploaded
// too.
type uploadWatcher struct {
	root       string
	remoteRoot string
	recursive  bool
	settle     time.Duration
	logger     *slog.Logger

	uploadFile   func(ctx context.Context, local, remoteDir string) error
	uploadFolder func(ctx context.Context, local, remoteParent string) error

	// pending maps a local file to the time of its last change.
	pending map[string]time.Time
	now     func() time.Time
}

// remoteDir returns the server folder that mirrors the local folder dir.
func (u *uploadWatcher) remoteDir(dir string) string {
	rel, err := filepath.Rel(u.root, dir)
	if err != nil || rel == "." {
		return u.remoteRoot
	}

	return strings.TrimSuffix(u.remoteRoot, "/") + "/" + filepath.ToSlash(rel)
}

// addTree watches dir and, when recursive, every folder below it.
func (u *uploadWatcher) addTree(w fsWatcher, dir string) error {
	if !u.recursive {
		return w.Add(dir)
	}

	return filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			return w.Add(p)
		}

		return nil
	})
}

// run processes events until ctx is cancelled. Cancellation is a normal
// stop and returns nil.
func (u *uploadWatcher) run(ctx context.Context, w fsWatcher) error {
	if u.pending == nil {
		u.pending = map[string]time.Time{}
	}

	if u.now == nil {
		u.now = time.Now
	}

	if err := u.addTree(w, u.root); err != nil {
		return fmt.Errorf("watching %s: %w", u.root, err)
	}

	tick := time.NewTicker(u.settle / 2)
	defer tick.Stop()

	backoff := watchErrBackoff

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events():
			if !ok {
				return nil
			}

			u.handle(ctx, w, ev)
			backoff = watchErrBackoff

		case err, ok := <-w.Errors():
			if !ok {
				return nil
			}

			u.logger.Warn("filesystem watcher error",
				slog.String("error", err.Error()),
				slog.Duration("backoff", backoff),
			)

			if errors.Is(err, fsnotify.ErrEventOverflow) {
				u.logger.Warn("events were dropped; changes made meanwhile may not be uploaded")
			}

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}

			backoff = min(backoff*2, watchErrMaxBackoff)

		case <-tick.C:
			u.flush(ctx)
		}
	}
}

func (u *uploadWatcher) handle(ctx context.Context, w fsWatcher, ev fsnotify.Event) {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
			delete(u.pending, ev.Name)
		}

		return
	}

	info, err := os.Stat(ev.Name)
	if err != nil {
		// Gone again before we looked.
		u.logger.Debug("stat failed for changed path", slog.String("path", ev.Name), slog.String("error", err.Error()))
		return
	}

	if info.IsDir() {
		if !u.recursive || !ev.Has(fsnotify.Create) {
			return
		}

		if err := u.addTree(w, ev.Name); err != nil {
			u.logger.Warn("failed to watch new folder", slog.String("path", ev.Name), slog.String("error", err.Error()))
		}

		if err := u.uploadFolder(ctx, ev.Name, u.remoteDir(filepath.Dir(ev.Name))); err != nil {
			u.logger.Error("folder upload failed", slog.String("path", ev.Name), slog.String("error", err.Error()))
		}

		return
	}

	if info.Mode().IsRegular() {
		u.pending[ev.Name] = u.now()
	}
}

// flush uploads every pending file that has settled.
func (u *uploadWatcher) flush(ctx context.Context) {
	now := u.now()

	for path, changed := range u.pending {
		if now.Sub(changed) < u.settle {
			continue
		}

		delete(u.pending, path)

		if err := u.uploadFile(ctx, path, u.remoteDir(filepath.Dir(path))); err != nil {
			u.logger.Error("upload failed", slog.String("path", path), slog.String("error", err.Error()))
			continue
		}

		u.logger.Info("uploaded changed file", slog.String("path", path))
	}
}
