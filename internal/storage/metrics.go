// Package storage instruments the snapshot/diff/alert persistence layer with
// Prometheus metrics shared by the sqlite and postgres backends.
package storage

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StorageBackendType reports which storage backend is currently active,
	// so a dashboard can confirm a deployment is actually running the
	// profile it was configured for.
	// Values: 0 = memory (degraded fallback), 1 = sqlite (lite), 2 = postgres (standard)
	StorageBackendType = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "watchtower",
			Subsystem: "storage",
			Name:      "backend_type",
			Help:      "Active storage backend (0=memory, 1=sqlite, 2=postgres)",
		},
		[]string{"backend"},
	)

	// StorageOperationsTotal counts storage operations by operation, backend,
	// and outcome - e.g. init/sqlite/success, recorded by the factory.
	StorageOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "watchtower",
			Subsystem: "storage",
			Name:      "operations_total",
			Help:      "Total storage operations by operation, backend, status",
		},
		[]string{"operation", "backend", "status"},
	)

	// StorageOperationDuration tracks how long a repository call takes.
	// Buckets run 1ms-1s, since a capture run issues many small
	// snapshot/diff writes rather than a handful of large ones.
	StorageOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "watchtower",
			Subsystem: "storage",
			Name:      "operation_duration_seconds",
			Help:      "Storage operation duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		},
		[]string{"operation", "backend"},
	)

	// StorageErrorsTotal counts storage errors by operation, backend, and
	// classified error type (see ClassifyError).
	StorageErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "watchtower",
			Subsystem: "storage",
			Name:      "errors_total",
			Help:      "Total storage errors by operation, backend, error type",
		},
		[]string{"operation", "backend", "error_type"},
	)

	// SQLiteFileSizeBytes tracks the SQLite database file size (lite profile
	// only), used to alert before a PVC fills up.
	SQLiteFileSizeBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "watchtower",
			Subsystem: "storage",
			Name:      "sqlite_file_size_bytes",
			Help:      "SQLite database file size in bytes (lite profile only)",
		},
	)

	// StorageHealthStatus indicates the storage backend's health.
	// Values: 0 = unhealthy, 1 = healthy, 2 = degraded (fallback to memory)
	StorageHealthStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "watchtower",
			Subsystem: "storage",
			Name:      "health_status",
			Help:      "Storage health status (0=unhealthy, 1=healthy, 2=degraded)",
		},
		[]string{"backend"},
	)

	// StorageConnections tracks postgres connection pool utilization.
	StorageConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "watchtower",
			Subsystem: "storage",
			Name:      "connections",
			Help:      "Storage connection pool stats (postgres only)",
		},
		[]string{"backend", "state"},
	)
)

// RecordOperation records a repository call outcome. The sqlite and postgres
// repository methods do not call it.
func RecordOperation(operation, backend, status string) {
	StorageOperationsTotal.WithLabelValues(operation, backend, status).Inc()
}

// RecordOperationDuration records operation latency in seconds.
func RecordOperationDuration(operation, backend string, seconds float64) {
	StorageOperationDuration.WithLabelValues(operation, backend).Observe(seconds)
}

// RecordError records a classified storage error. A blank errorType (from a
// nil err passed through ClassifyError) is a no-op rather than a garbage
// "unlabeled" series.
func RecordError(operation, backend, errorType string) {
	if errorType == "" {
		return
	}
	StorageErrorsTotal.WithLabelValues(operation, backend, errorType).Inc()
}

// SetBackendType sets the active storage backend gauge.
func SetBackendType(backend string, value float64) {
	StorageBackendType.WithLabelValues(backend).Set(value)
}

// SetHealthStatus sets the storage health gauge.
func SetHealthStatus(backend string, status float64) {
	StorageHealthStatus.WithLabelValues(backend).Set(status)
}

// SetSQLiteFileSize sets the SQLite file size gauge (lite profile only).
func SetSQLiteFileSize(bytes int64) {
	SQLiteFileSizeBytes.Set(float64(bytes))
}

// SetConnectionStats sets postgres connection pool gauges.
func SetConnectionStats(backend string, total, idle, inUse int32) {
	StorageConnections.WithLabelValues(backend, "total").Set(float64(total))
	StorageConnections.WithLabelValues(backend, "idle").Set(float64(idle))
	StorageConnections.WithLabelValues(backend, "in_use").Set(float64(inUse))
}
