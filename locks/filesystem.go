package locks

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ebogdum/lockfs/internal/pathutil"
	"github.com/ebogdum/lockfs/lockfile"
	"github.com/ebogdum/lockfs/metrics"
	"github.com/ebogdum/lockfs/retry"
)

// DefaultLockSubdir is the lock directory used when none is configured,
// relative to the root path.
const DefaultLockSubdir = ".internal/locks"

const filesystemBackend = "filesystem"

// FilesystemLocker maps resources to lock files in a single shared
// directory and delegates the raw lock/unlock calls to the lockfile
// primitive, wrapped in the retry engine. It keeps no in-memory lock table:
// the presence of a lock file is the only lock state, so any number of OS
// processes sharing the directory stay mutually excluded through the
// primitive's atomic file creation alone.
type FilesystemLocker struct {
	lockDir  string
	settings retry.Settings
	logger   *zap.Logger
}

// NewFilesystemLocker creates the lock directory (and parents)
// synchronously; a directory that cannot be created fails construction and
// is never retried. Empty rootPath defaults to "." and empty lockSubdir to
// DefaultLockSubdir.
func NewFilesystemLocker(rootPath, lockSubdir string, settings retry.Settings, logger *zap.Logger) (*FilesystemLocker, error) {
	if rootPath == "" {
		rootPath = "."
	}
	if lockSubdir == "" {
		lockSubdir = DefaultLockSubdir
	}

	lockDir, err := pathutil.SafeJoin(rootPath, lockSubdir)
	if err != nil {
		return nil, fmt.Errorf("invalid lock subdirectory %q: %w", lockSubdir, err)
	}

	if err := os.MkdirAll(lockDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory %s: %w", lockDir, err)
	}

	if err := settings.Validate(); err != nil {
		return nil, err
	}

	logger.Debug("Filesystem locker initialized",
		zap.String("lock_dir", lockDir),
		zap.Int("retry_count", settings.Count),
		zap.Duration("retry_delay", settings.Delay),
		zap.Duration("retry_jitter", settings.Jitter))

	return &FilesystemLocker{
		lockDir:  lockDir,
		settings: settings,
		logger:   logger,
	}, nil
}

// LockDir returns the directory holding the lock files.
func (l *FilesystemLocker) LockDir() string {
	return l.lockDir
}

// lockFilePath derives the lock file for a resource by hashing its path.
// The hash is a namespacing key over the lock directory, not a security
// boundary.
func (l *FilesystemLocker) lockFilePath(res Resource) string {
	sum := xxhash.Sum64String(res.Path)
	return filepath.Join(l.lockDir, strconv.FormatUint(sum, 16)+".lock")
}

// Acquire obtains the exclusive lock for res, sleeping with jitter between
// busy attempts until the lock is free, the retry budget runs out, or ctx
// expires.
func (l *FilesystemLocker) Acquire(ctx context.Context, res Resource) error {
	path := l.lockFilePath(res)
	start := time.Now()

	attempt := retry.OnError(func(context.Context) (struct{}, error) {
		err := lockfile.Lock(path, lockfile.Options{Retries: 0})
		if errors.Is(err, lockfile.ErrHeld) {
			metrics.LockContentionTotal.WithLabelValues(filesystemBackend).Inc()
		}
		return struct{}{}, err
	}, func(err error) bool {
		// Busy keeps retrying; everything else is unrecoverable here.
		return !errors.Is(err, lockfile.ErrHeld)
	})

	if _, err := retry.Until(ctx, attempt, l.settings); err != nil {
		metrics.LockOperationsTotal.WithLabelValues(filesystemBackend, "acquire", "failure").Inc()
		return &LockError{Op: "acquire", Path: res.Path, Err: err}
	}

	metrics.LockOperationsTotal.WithLabelValues(filesystemBackend, "acquire", "success").Inc()
	metrics.LockOperationDuration.WithLabelValues(filesystemBackend, "acquire").Observe(time.Since(start).Seconds())
	metrics.ActiveLocks.WithLabelValues(filesystemBackend).Inc()

	l.logger.Debug("Lock acquired",
		zap.String("resource", res.Path),
		zap.String("lock_file", path),
		zap.Duration("waited", time.Since(start)))
	return nil
}

// Release removes the lock file for res. A lock that the primitive reports
// as not held fails immediately: retrying a release that was never acquired
// cannot succeed.
func (l *FilesystemLocker) Release(ctx context.Context, res Resource) error {
	path := l.lockFilePath(res)
	start := time.Now()

	attempt := retry.OnError(func(context.Context) (struct{}, error) {
		return struct{}{}, lockfile.Unlock(path, lockfile.Options{Retries: 0})
	}, func(err error) bool {
		return errors.Is(err, lockfile.ErrNotHeld)
	})

	if _, err := retry.Until(ctx, attempt, l.settings); err != nil {
		metrics.LockOperationsTotal.WithLabelValues(filesystemBackend, "release", "failure").Inc()
		return &LockError{Op: "release", Path: res.Path, Err: err}
	}

	metrics.LockOperationsTotal.WithLabelValues(filesystemBackend, "release", "success").Inc()
	metrics.LockOperationDuration.WithLabelValues(filesystemBackend, "release").Observe(time.Since(start).Seconds())
	metrics.ActiveLocks.WithLabelValues(filesystemBackend).Dec()

	l.logger.Debug("Lock released",
		zap.String("resource", res.Path),
		zap.String("lock_file", path))
	return nil
}

// Finalize removes every residual lock file and then the lock directory
// itself. A missing or empty directory is success. Individual removal
// failures do not abort the sweep; they are collected and returned
// together.
func (l *FilesystemLocker) Finalize() error {
	entries, err := os.ReadDir(l.lockDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read lock directory %s: %w", l.lockDir, err)
	}

	var errs error
	removed := 0
	for _, entry := range entries {
		name := filepath.Join(l.lockDir, entry.Name())
		if err := os.Remove(name); err != nil && !os.IsNotExist(err) {
			errs = multierr.Append(errs, fmt.Errorf("failed to remove residual lock file %s: %w", name, err))
			continue
		}
		removed++
	}

	if err := os.Remove(l.lockDir); err != nil && !os.IsNotExist(err) {
		errs = multierr.Append(errs, fmt.Errorf("failed to remove lock directory %s: %w", l.lockDir, err))
	}

	if removed > 0 {
		metrics.FinalizeRemovedTotal.Add(float64(removed))
		l.logger.Info("Removed residual lock files during shutdown",
			zap.Int("count", removed),
			zap.String("lock_dir", l.lockDir))
	}

	return errs
}
