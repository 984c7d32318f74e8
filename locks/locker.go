// Package locks provides advisory mutual exclusion on named resources.
// Locking is advisory: every code path touching a guarded resource must go
// through a Locker; nothing prevents direct access that bypasses it.
package locks

import (
	"context"
	"errors"
	"fmt"
)

// Resource identifies a lockable resource. Two resources name the same lock
// iff their paths are equal as strings; no normalization is applied.
type Resource struct {
	Path string
}

// Locker serializes access to named resources. Acquire blocks (through
// internal retries, not by occupying the calling goroutine's thread) until
// the caller holds the lock, the retry budget is exhausted, or ctx expires.
// There is no reentrancy: a second Acquire for the same resource competes
// exactly like a foreign caller.
type Locker interface {
	// Acquire obtains the exclusive lock for res.
	Acquire(ctx context.Context, res Resource) error

	// Release gives up a lock previously obtained through Acquire. Releasing
	// a lock that is not held fails immediately, without retries.
	Release(ctx context.Context, res Resource) error
}

// Finalizer is implemented by lockers that leave residual state behind.
// Finalize is a best-effort shutdown sweep, invoked exactly once by the
// hosting process's shutdown sequence. It must succeed when no locks remain
// and when no lock was ever taken; it does not consult concurrent holders
// in other processes.
type Finalizer interface {
	Finalize() error
}

// ErrNotAcquired signals a release of a lock that the locker does not
// consider held.
var ErrNotAcquired = errors.New("lock not acquired")

// LockError wraps the failure of a single lock operation with the resource
// path and the originating cause.
type LockError struct {
	Op   string // "acquire" or "release"
	Path string // resource path, not the lock file path
	Err  error
}

func (e *LockError) Error() string {
	return fmt.Sprintf("%s lock for %s: %v", e.Op, e.Path, e.Err)
}

func (e *LockError) Unwrap() error {
	return e.Err
}

// WithLock runs fn while holding the lock for res. The lock is released
// with a fresh context so that fn's cancellation cannot leak the lock.
func WithLock(ctx context.Context, locker Locker, res Resource, fn func(ctx context.Context) error) (err error) {
	if err := locker.Acquire(ctx, res); err != nil {
		return err
	}
	defer func() {
		if relErr := locker.Release(context.Background(), res); relErr != nil && err == nil {
			err = relErr
		}
	}()

	return fn(ctx)
}
