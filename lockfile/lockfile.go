// Package lockfile implements the on-disk locking primitive underneath the
// resource lockers. A lock is the presence of a file: Lock creates it with
// O_CREATE|O_EXCL so acquisition is atomic at the filesystem level, Unlock
// removes it. No state is kept in memory, which keeps the primitive correct
// when several OS processes share the same lock directory.
package lockfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

var (
	// ErrHeld signals that the lock file already exists, i.e. the lock is
	// currently held by another caller.
	ErrHeld = errors.New("lock file already held")

	// ErrNotHeld signals that the lock file does not exist, i.e. there is
	// nothing to unlock.
	ErrNotHeld = errors.New("lock file not held")
)

// Options are pass-through settings for a single Lock or Unlock call.
type Options struct {
	// ResolveSymlinks resolves the lock file's parent directory before
	// operating, so a symlinked lock directory maps to one real location.
	ResolveSymlinks bool

	// Retries is the number of immediate in-primitive retries on a busy
	// lock. Callers that own their own backoff policy pass 0.
	Retries int
}

func (o Options) apply(path string) (string, error) {
	if !o.ResolveSymlinks {
		return path, nil
	}
	dir, err := filepath.EvalSymlinks(filepath.Dir(path))
	if err != nil {
		return "", fmt.Errorf("resolve lock directory for %s: %w", path, err)
	}
	return filepath.Join(dir, filepath.Base(path)), nil
}

// Lock atomically creates the lock file at path and records the holder PID
// inside it. A lock held by someone else fails with an error wrapping
// ErrHeld.
func Lock(path string, opts Options) error {
	path, err := opts.apply(path)
	if err != nil {
		return err
	}

	for attempt := 0; ; attempt++ {
		fd, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			return writeHolder(fd, path)
		}
		if !os.IsExist(err) {
			return fmt.Errorf("create lock file %s: %w", path, err)
		}
		if attempt >= opts.Retries {
			return fmt.Errorf("%s: %w", path, ErrHeld)
		}
	}
}

// Unlock removes the lock file at path. A missing file fails with an error
// wrapping ErrNotHeld; that condition cannot be fixed by retrying.
func Unlock(path string, opts Options) error {
	path, err := opts.apply(path)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s: %w", path, ErrNotHeld)
		}
		return fmt.Errorf("remove lock file %s: %w", path, err)
	}
	return nil
}

// HolderPID reads the PID recorded in the lock file. Used by the stale-lock
// sweep to decide whether the holder is still alive.
func HolderPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read lock file %s: %w", path, err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID in lock file %s: %w", path, err)
	}
	return pid, nil
}

func writeHolder(fd *os.File, path string) error {
	_, err := fd.WriteString(strconv.Itoa(os.Getpid()))
	if closeErr := fd.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		// A lock file without a readable holder is still a valid lock; the
		// write only feeds stale-lock detection. Surface the error anyway so
		// nothing is swallowed.
		return fmt.Errorf("write holder to lock file %s: %w", path, err)
	}
	return nil
}
