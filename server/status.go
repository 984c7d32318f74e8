package server

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/ebogdum/lockfs/lockfile"
	"github.com/ebogdum/lockfs/supervisor"
)

// lockEntry is one currently present lock file.
type lockEntry struct {
	Name      string `json:"name"`
	HolderPID int    `json:"holder_pid,omitempty"`
	AgeMillis int64  `json:"age_ms"`
}

// listLocks reports the entries currently present in the lock directory.
// Lock file names are resource-path hashes; the resource paths themselves
// are not recoverable here and are not exposed.
func listLocks(lockDir string, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := os.ReadDir(lockDir)
		if err != nil && !os.IsNotExist(err) {
			logger.Error("Failed to read lock directory", zap.String("lock_dir", lockDir), zap.Error(err))
			http.Error(w, "failed to read lock directory", http.StatusInternalServerError)
			return
		}

		locks := make([]lockEntry, 0, len(entries))
		now := time.Now()
		for _, entry := range entries {
			info, err := entry.Info()
			if err != nil {
				continue
			}

			item := lockEntry{
				Name:      entry.Name(),
				AgeMillis: now.Sub(info.ModTime()).Milliseconds(),
			}
			if pid, err := lockfile.HolderPID(filepath.Join(lockDir, entry.Name())); err == nil {
				item.HolderPID = pid
			}
			locks = append(locks, item)
		}

		writeJSON(w, map[string]any{"locks": locks, "count": len(locks)}, logger)
	}
}

// listWorkers reports the supervised workers and their current PIDs.
func listWorkers(sup *supervisor.Supervisor, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := map[string]int{}
		if sup != nil {
			status = sup.Status()
		}
		writeJSON(w, map[string]any{"workers": status}, logger)
	}
}

func writeJSON(w http.ResponseWriter, payload any, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("Failed to write JSON response", zap.Error(err))
	}
}
