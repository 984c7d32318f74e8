package locks

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ebogdum/lockfs/metrics"
	"github.com/ebogdum/lockfs/retry"
)

const memoryBackend = "memory"

// MemoryLocker provides in-process locking for single-node deployments. Its
// try-acquire resolves false while the lock is held, so acquisition runs
// through the boolean-sentinel retry adapter rather than the error-coded
// one used by the filesystem locker.
type MemoryLocker struct {
	mu       sync.Mutex
	held     map[string]struct{}
	settings retry.Settings
	logger   *zap.Logger
}

// NewMemoryLocker creates a new in-memory locker.
func NewMemoryLocker(settings retry.Settings, logger *zap.Logger) *MemoryLocker {
	return &MemoryLocker{
		held:     make(map[string]struct{}),
		settings: settings,
		logger:   logger,
	}
}

func (m *MemoryLocker) tryAcquire(ctx context.Context, res Resource) (bool, error) {
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	default:
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.held[res.Path]; exists {
		metrics.LockContentionTotal.WithLabelValues(memoryBackend).Inc()
		return false, nil
	}

	m.held[res.Path] = struct{}{}
	return true, nil
}

// Acquire obtains the lock for res, retrying with jittered backoff while it
// is held by another caller.
func (m *MemoryLocker) Acquire(ctx context.Context, res Resource) error {
	start := time.Now()

	attempt := retry.OnBool(func(ctx context.Context) (bool, error) {
		return m.tryAcquire(ctx, res)
	}, false)

	if _, err := retry.Until(ctx, attempt, m.settings); err != nil {
		metrics.LockOperationsTotal.WithLabelValues(memoryBackend, "acquire", "failure").Inc()
		return &LockError{Op: "acquire", Path: res.Path, Err: err}
	}

	metrics.LockOperationsTotal.WithLabelValues(memoryBackend, "acquire", "success").Inc()
	metrics.LockOperationDuration.WithLabelValues(memoryBackend, "acquire").Observe(time.Since(start).Seconds())
	metrics.ActiveLocks.WithLabelValues(memoryBackend).Inc()

	m.logger.Debug("Lock acquired", zap.String("resource", res.Path))
	return nil
}

// Release frees the lock for res. Releasing a lock that is not held fails
// immediately with ErrNotAcquired.
func (m *MemoryLocker) Release(ctx context.Context, res Resource) error {
	select {
	case <-ctx.Done():
		return &LockError{Op: "release", Path: res.Path, Err: ctx.Err()}
	default:
	}

	m.mu.Lock()
	_, exists := m.held[res.Path]
	delete(m.held, res.Path)
	m.mu.Unlock()

	if !exists {
		metrics.LockOperationsTotal.WithLabelValues(memoryBackend, "release", "failure").Inc()
		return &LockError{Op: "release", Path: res.Path, Err: ErrNotAcquired}
	}

	metrics.LockOperationsTotal.WithLabelValues(memoryBackend, "release", "success").Inc()
	metrics.ActiveLocks.WithLabelValues(memoryBackend).Dec()

	m.logger.Debug("Lock released", zap.String("resource", res.Path))
	return nil
}

// Finalize clears all held locks.
func (m *MemoryLocker) Finalize() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.held = make(map[string]struct{})
	return nil
}
