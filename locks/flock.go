package locks

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/gofrs/flock"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ebogdum/lockfs/internal/pathutil"
	"github.com/ebogdum/lockfs/metrics"
	"github.com/ebogdum/lockfs/retry"
)

const flockBackend = "flock"

// FlockLocker guards resources with OS advisory locks (flock) instead of
// lock-file presence. The kernel releases a flock automatically when its
// holder dies, which the presence-based locker cannot offer; the price is
// that the open file handles must be retained between Acquire and Release,
// so this locker is not stateless the way FilesystemLocker is.
type FlockLocker struct {
	lockDir  string
	settings retry.Settings
	logger   *zap.Logger

	mu      sync.Mutex
	handles map[string]*flock.Flock
}

// NewFlockLocker creates the lock directory synchronously, failing
// construction if it cannot be created.
func NewFlockLocker(rootPath, lockSubdir string, settings retry.Settings, logger *zap.Logger) (*FlockLocker, error) {
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

	return &FlockLocker{
		lockDir:  lockDir,
		settings: settings,
		logger:   logger,
		handles:  make(map[string]*flock.Flock),
	}, nil
}

// LockDir returns the directory holding the flock files.
func (l *FlockLocker) LockDir() string {
	return l.lockDir
}

func (l *FlockLocker) lockFilePath(res Resource) string {
	sum := xxhash.Sum64String(res.Path)
	return filepath.Join(l.lockDir, strconv.FormatUint(sum, 16)+".lock")
}

// Acquire obtains the flock for res. TryLock resolves false while another
// file description holds the lock, so acquisition runs through the
// boolean-sentinel adapter; flock errors are terminal immediately.
func (l *FlockLocker) Acquire(ctx context.Context, res Resource) error {
	fl := flock.New(l.lockFilePath(res))
	start := time.Now()

	attempt := retry.OnBool(func(context.Context) (bool, error) {
		locked, err := fl.TryLock()
		if err == nil && !locked {
			metrics.LockContentionTotal.WithLabelValues(flockBackend).Inc()
		}
		return locked, err
	}, false)

	if _, err := retry.Until(ctx, attempt, l.settings); err != nil {
		metrics.LockOperationsTotal.WithLabelValues(flockBackend, "acquire", "failure").Inc()
		return &LockError{Op: "acquire", Path: res.Path, Err: err}
	}

	l.mu.Lock()
	l.handles[res.Path] = fl
	l.mu.Unlock()

	metrics.LockOperationsTotal.WithLabelValues(flockBackend, "acquire", "success").Inc()
	metrics.LockOperationDuration.WithLabelValues(flockBackend, "acquire").Observe(time.Since(start).Seconds())
	metrics.ActiveLocks.WithLabelValues(flockBackend).Inc()

	l.logger.Debug("Lock acquired",
		zap.String("resource", res.Path),
		zap.String("lock_file", fl.Path()))
	return nil
}

// Release unlocks the flock held for res. A resource with no retained
// handle fails immediately with ErrNotAcquired.
func (l *FlockLocker) Release(ctx context.Context, res Resource) error {
	l.mu.Lock()
	fl, ok := l.handles[res.Path]
	delete(l.handles, res.Path)
	l.mu.Unlock()

	if !ok {
		metrics.LockOperationsTotal.WithLabelValues(flockBackend, "release", "failure").Inc()
		return &LockError{Op: "release", Path: res.Path, Err: ErrNotAcquired}
	}

	if err := fl.Unlock(); err != nil {
		metrics.LockOperationsTotal.WithLabelValues(flockBackend, "release", "failure").Inc()
		return &LockError{Op: "release", Path: res.Path, Err: err}
	}

	metrics.LockOperationsTotal.WithLabelValues(flockBackend, "release", "success").Inc()
	metrics.ActiveLocks.WithLabelValues(flockBackend).Dec()

	l.logger.Debug("Lock released", zap.String("resource", res.Path))
	return nil
}

// Finalize unlocks any handles still held, then sweeps the lock directory
// the same way the filesystem locker does, continuing past individual
// failures.
func (l *FlockLocker) Finalize() error {
	l.mu.Lock()
	handles := l.handles
	l.handles = make(map[string]*flock.Flock)
	l.mu.Unlock()

	var errs error
	for path, fl := range handles {
		if err := fl.Unlock(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("failed to unlock %s: %w", path, err))
		}
	}

	entries, err := os.ReadDir(l.lockDir)
	if err != nil {
		if os.IsNotExist(err) {
			return errs
		}
		return multierr.Append(errs, fmt.Errorf("failed to read lock directory %s: %w", l.lockDir, err))
	}

	for _, entry := range entries {
		name := filepath.Join(l.lockDir, entry.Name())
		if err := os.Remove(name); err != nil && !os.IsNotExist(err) {
			errs = multierr.Append(errs, fmt.Errorf("failed to remove residual lock file %s: %w", name, err))
		}
	}
	if err := os.Remove(l.lockDir); err != nil && !os.IsNotExist(err) {
		errs = multierr.Append(errs, fmt.Errorf("failed to remove lock directory %s: %w", l.lockDir, err))
	}

	return errs
}
