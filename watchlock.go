package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"github.com/megaputer/pa6-go/internal/config"
)

// watchLockPath names the lock of one watched folder. The folder's absolute
// path is hashed so any folder maps to a flat, safe file name.
func watchLockPath(dataDir, root string) (string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}

	id := uuid.NewSHA1(uuid.NameSpaceURL, []byte("file://"+filepath.ToSlash(abs)))

	return filepath.Join(dataDir, "watch", id.String()+".pid"), nil
}

// lockWatch takes an exclusive flock on path and writes our PID into it, so
// two watchers never upload the same folder. The returned func releases it.
func lockWatch(path string) (release func(), err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening watch lock: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()

		if pid, readErr := readLockPID(path); readErr == nil {
			return nil, fmt.Errorf("folder is already watched by process %d", pid)
		}

		return nil, fmt.Errorf("folder is already watched (could not lock %s)", path)
	}

	if err := writeLockPID(f); err != nil {
		_ = f.Close()
		return nil, err
	}

	return func() {
		_ = os.Remove(path)
		_ = f.Close()
	}, nil
}

func writeLockPID(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("truncating watch lock: %w", err)
	}

	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		return fmt.Errorf("writing watch lock: %w", err)
	}

	return f.Sync()
}

func readLockPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, errors.Join(fmt.Errorf("invalid PID in %s", path), err)
	}

	return pid, nil
}

// acquireWatchLock locks root under the default data directory.
func acquireWatchLock(root string) (func(), error) {
	dir := config.DefaultDataDir()
	if dir == "" {
		return nil, errors.New("cannot determine data directory for the watch lock")
	}

	path, err := watchLockPath(dir, root)
	if err != nil {
		return nil, err
	}

	return lockWatch(path)
}
