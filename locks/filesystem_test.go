package locks

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ebogdum/lockfs/lockfile"
	"github.com/ebogdum/lockfs/retry"
)

func newTestLocker(t *testing.T, settings retry.Settings) *FilesystemLocker {
	t.Helper()

	locker, err := NewFilesystemLocker(t.TempDir(), "", settings, zap.NewNop())
	require.NoError(t, err)
	return locker
}

func fastSettings() retry.Settings {
	return retry.Settings{Count: -1, Delay: 5 * time.Millisecond, Jitter: 3 * time.Millisecond}
}

func TestNewFilesystemLockerCreatesLockDirectory(t *testing.T) {
	root := t.TempDir()

	locker, err := NewFilesystemLocker(root, ".internal/locks", retry.DefaultSettings(), zap.NewNop())
	require.NoError(t, err)

	info, err := os.Stat(filepath.Join(root, ".internal", "locks"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, filepath.Join(root, ".internal", "locks"), locker.LockDir())
}

func TestNewFilesystemLockerRejectsEscapingSubdir(t *testing.T) {
	_, err := NewFilesystemLocker(t.TempDir(), "../outside", retry.DefaultSettings(), zap.NewNop())
	require.Error(t, err)
}

func TestNewFilesystemLockerFailsWhenDirectoryCannotBeCreated(t *testing.T) {
	root := t.TempDir()
	// A regular file where the lock dir should go makes MkdirAll fail.
	require.NoError(t, os.WriteFile(filepath.Join(root, "locks"), nil, 0o644))

	_, err := NewFilesystemLocker(root, "locks", retry.DefaultSettings(), zap.NewNop())
	require.Error(t, err)
}

func TestAcquireReleaseHappyPath(t *testing.T) {
	// Zero retry budget: the happy path must succeed on the first attempt.
	locker := newTestLocker(t, retry.Settings{Count: 0, Delay: time.Millisecond})
	ctx := context.Background()
	res := Resource{Path: "/alice/foo.ttl"}

	require.NoError(t, locker.Acquire(ctx, res))

	entries, err := os.ReadDir(locker.LockDir())
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	require.NoError(t, locker.Release(ctx, res))

	entries, err = os.ReadDir(locker.LockDir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestConcurrentAcquireSerializes(t *testing.T) {
	locker := newTestLocker(t, fastSettings())
	ctx := context.Background()
	res := Resource{Path: "/alice/foo.ttl"}

	require.NoError(t, locker.Acquire(ctx, res))

	acquired := make(chan time.Time, 1)
	errCh := make(chan error, 1)
	go func() {
		errCh <- locker.Acquire(ctx, res)
		acquired <- time.Now()
	}()

	// The competitor must still be waiting while we hold the lock.
	select {
	case err := <-errCh:
		t.Fatalf("second acquire finished while lock was held: %v", err)
	case <-time.After(30 * time.Millisecond):
	}

	released := time.Now()
	require.NoError(t, locker.Release(ctx, res))

	require.NoError(t, <-errCh)
	waited := (<-acquired).Sub(released)
	// Success within one delay+jitter interval of the release, with
	// scheduling slack.
	assert.Less(t, waited, 100*time.Millisecond)

	require.NoError(t, locker.Release(ctx, res))
}

func TestAcquireExhaustsBudgetWhileHeld(t *testing.T) {
	settings := retry.Settings{Count: 2, Delay: time.Millisecond, Jitter: 0}
	locker := newTestLocker(t, settings)
	ctx := context.Background()
	res := Resource{Path: "/alice/foo.ttl"}

	require.NoError(t, locker.Acquire(ctx, res))

	err := locker.Acquire(ctx, res)
	require.Error(t, err)
	assert.ErrorIs(t, err, retry.ErrBudgetExhausted)
	assert.ErrorIs(t, err, lockfile.ErrHeld)

	var lockErr *LockError
	require.ErrorAs(t, err, &lockErr)
	assert.Equal(t, "acquire", lockErr.Op)
	assert.Equal(t, "/alice/foo.ttl", lockErr.Path)
}

func TestReleaseWithoutAcquireFailsImmediately(t *testing.T) {
	// Unbounded retries: if the not-held error were retried instead of
	// terminal, this test would hang.
	locker := newTestLocker(t, retry.Settings{Count: -1, Delay: 10 * time.Millisecond})
	res := Resource{Path: "/alice/foo.ttl"}

	start := time.Now()
	err := locker.Release(context.Background(), res)
	require.Error(t, err)
	assert.ErrorIs(t, err, lockfile.ErrNotHeld)
	assert.Less(t, time.Since(start), 10*time.Millisecond)
}

func TestReleaseAfterReleaseIsTerminal(t *testing.T) {
	locker := newTestLocker(t, fastSettings())
	ctx := context.Background()
	res := Resource{Path: "/alice/foo.ttl"}

	require.NoError(t, locker.Acquire(ctx, res))
	require.NoError(t, locker.Release(ctx, res))

	err := locker.Release(ctx, res)
	require.Error(t, err)
	assert.ErrorIs(t, err, lockfile.ErrNotHeld)
}

func TestDistinctResourcesDoNotContend(t *testing.T) {
	locker := newTestLocker(t, retry.Settings{Count: 0, Delay: time.Millisecond})
	ctx := context.Background()

	require.NoError(t, locker.Acquire(ctx, Resource{Path: "/alice/foo.ttl"}))
	require.NoError(t, locker.Acquire(ctx, Resource{Path: "/bob/bar.ttl"}))

	entries, err := os.ReadDir(locker.LockDir())
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestResourceEqualityIsRawStringComparison(t *testing.T) {
	locker := newTestLocker(t, retry.Settings{Count: 0, Delay: time.Millisecond})
	ctx := context.Background()

	// Paths are compared as strings, so these are different locks.
	require.NoError(t, locker.Acquire(ctx, Resource{Path: "/alice/foo.ttl"}))
	require.NoError(t, locker.Acquire(ctx, Resource{Path: "alice/foo.ttl"}))
}

func TestAcquireRespectsContextCancellation(t *testing.T) {
	locker := newTestLocker(t, fastSettings())
	res := Resource{Path: "/alice/foo.ttl"}

	require.NoError(t, locker.Acquire(context.Background(), res))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := locker.Acquire(ctx, res)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFinalizeOnMissingDirectory(t *testing.T) {
	locker := newTestLocker(t, fastSettings())
	require.NoError(t, os.RemoveAll(locker.LockDir()))

	assert.NoError(t, locker.Finalize())
}

func TestFinalizeOnEmptyDirectory(t *testing.T) {
	locker := newTestLocker(t, fastSettings())

	require.NoError(t, locker.Finalize())
	_, err := os.Stat(locker.LockDir())
	assert.True(t, os.IsNotExist(err), "finalize should remove the directory itself")
}

func TestFinalizeSweepsResidualEntries(t *testing.T) {
	locker := newTestLocker(t, fastSettings())
	ctx := context.Background()

	require.NoError(t, locker.Acquire(ctx, Resource{Path: "/a"}))
	require.NoError(t, locker.Acquire(ctx, Resource{Path: "/b"}))
	require.NoError(t, locker.Acquire(ctx, Resource{Path: "/c"}))

	require.NoError(t, locker.Finalize())

	_, err := os.Stat(locker.LockDir())
	assert.True(t, os.IsNotExist(err))
}

func TestFinalizeContinuesPastEntryFailure(t *testing.T) {
	locker := newTestLocker(t, fastSettings())
	ctx := context.Background()

	require.NoError(t, locker.Acquire(ctx, Resource{Path: "/a"}))
	require.NoError(t, locker.Acquire(ctx, Resource{Path: "/b"}))

	// A non-empty subdirectory cannot be removed with os.Remove; the sweep
	// must report it but still clear the lock files around it.
	stuck := filepath.Join(locker.LockDir(), "stuck")
	require.NoError(t, os.Mkdir(stuck, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(stuck, "child"), nil, 0o644))

	err := locker.Finalize()
	require.Error(t, err)

	entries, readErr := os.ReadDir(locker.LockDir())
	require.NoError(t, readErr)
	require.Len(t, entries, 1)
	assert.Equal(t, "stuck", entries[0].Name())
}

func TestFinalizeIsSafeToCallTwice(t *testing.T) {
	locker := newTestLocker(t, fastSettings())

	require.NoError(t, locker.Finalize())
	assert.NoError(t, locker.Finalize())
}

func TestTwoLockersShareTheSameDirectory(t *testing.T) {
	root := t.TempDir()
	settings := retry.Settings{Count: 0, Delay: time.Millisecond}

	first, err := NewFilesystemLocker(root, "locks", settings, zap.NewNop())
	require.NoError(t, err)
	second, err := NewFilesystemLocker(root, "locks", settings, zap.NewNop())
	require.NoError(t, err)

	res := Resource{Path: "/shared"}
	require.NoError(t, first.Acquire(context.Background(), res))

	// The second locker sees the same lock file; there is no per-locker
	// in-memory state to bypass.
	err = second.Acquire(context.Background(), res)
	require.Error(t, err)
	assert.ErrorIs(t, err, lockfile.ErrHeld)

	require.NoError(t, second.Release(context.Background(), res))
}
