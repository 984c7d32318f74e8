package locks

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ebogdum/lockfs/lockfile"
	"github.com/ebogdum/lockfs/metrics"
)

// StartCleanupWorker starts a background goroutine that periodically
// removes lock files whose recorded holder process is no longer alive.
// This catches holders that crashed without releasing; lock files whose
// holder cannot be identified are left alone.
func StartCleanupWorker(ctx context.Context, lockDir string, interval time.Duration, logger *zap.Logger) {
	if interval <= 0 {
		logger.Debug("Stale lock cleanup disabled")
		return
	}

	go func() {
		logger.Info("Starting stale lock cleanup worker",
			zap.String("lock_dir", lockDir),
			zap.Duration("interval", interval))

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				sweepStaleLocks(lockDir, logger)
			case <-ctx.Done():
				logger.Info("Stale lock cleanup worker shutting down")
				return
			}
		}
	}()
}

// sweepStaleLocks removes lock files held by dead processes. Failures are
// logged per entry and never abort the sweep.
func sweepStaleLocks(lockDir string, logger *zap.Logger) {
	entries, err := os.ReadDir(lockDir)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Error("Failed to read lock directory", zap.String("lock_dir", lockDir), zap.Error(err))
		}
		return
	}

	removed := 0
	for _, entry := range entries {
		path := filepath.Join(lockDir, entry.Name())

		pid, err := lockfile.HolderPID(path)
		if err != nil {
			// Unreadable holder: possibly mid-write by a live locker.
			continue
		}
		if processAlive(pid) {
			continue
		}

		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logger.Error("Failed to remove stale lock file",
				zap.String("lock_file", path),
				zap.Int("holder_pid", pid),
				zap.Error(err))
			continue
		}

		removed++
		logger.Warn("Removed stale lock file",
			zap.String("lock_file", path),
			zap.Int("holder_pid", pid))
	}

	if removed > 0 {
		metrics.StaleLocksRemovedTotal.Add(float64(removed))
	}
}

// processAlive checks whether a process exists using signal 0. EPERM means
// the process exists but belongs to someone else; its lock must survive.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = process.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	return errors.Is(err, syscall.EPERM)
}
