// Package metrics provides Prometheus metrics for LockFS operations.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Lock operation metrics
	LockOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lockfs_lock_operations_total",
			Help: "Total number of lock operations",
		},
		[]string{"backend", "operation", "status"}, // operation: "acquire", "release"; status: "success", "failure"
	)

	LockOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lockfs_lock_operation_duration_seconds",
			Help:    "Lock operation duration in seconds, including retries",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	LockContentionTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lockfs_lock_contention_total",
			Help: "Total number of busy attempts that went back to sleep",
		},
		[]string{"backend"},
	)

	// Active locks gauge
	ActiveLocks = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lockfs_active_locks",
			Help: "Number of currently held locks",
		},
		[]string{"backend"},
	)

	// Cleanup metrics
	StaleLocksRemovedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lockfs_stale_locks_removed_total",
			Help: "Total number of lock files removed because their holder died",
		},
	)

	FinalizeRemovedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lockfs_finalize_removed_total",
			Help: "Total number of residual lock files removed during shutdown",
		},
	)

	// Supervisor metrics
	WorkerRestartsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lockfs_worker_restarts_total",
			Help: "Total number of worker subprocess restarts",
		},
		[]string{"worker"},
	)

	// HTTP request metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lockfs_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lockfs_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// RegisterMetrics ensures all metrics are registered with Prometheus.
// This function is idempotent and safe to call multiple times.
func RegisterMetrics() {
	// All metrics are automatically registered via promauto.
	// This function exists for explicit initialization if needed.
}
