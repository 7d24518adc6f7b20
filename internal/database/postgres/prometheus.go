package postgres

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/ramfiaogusto/watchtower/pkg/metrics"
)

// PoolStatsProvider is the surface PrometheusExporter needs from a pool,
// narrow enough to fake in tests.
type PoolStatsProvider interface {
	Stats() PoolStats
}

// PrometheusExporter periodically copies a pool's lock-free PoolMetrics
// counters into Prometheus gauges/counters/histograms, bridging the gap
// between the pool's hot-path atomics and a scrapable metrics endpoint.
type PrometheusExporter struct {
	pool      PoolStatsProvider
	dbMetrics *metrics.DatabaseMetrics
	logger    *slog.Logger

	cancelFunc context.CancelFunc

	// lastX hold the cumulative counter values as of the previous export,
	// since PoolStats reports running totals but Prometheus counters need
	// deltas to avoid inflating on every tick.
	lastConnErrors    atomic.Int64
	lastQueryErrors   atomic.Int64
	lastTimeoutErrors int64
	lastConnsCreated  atomic.Int64
}

// NewPrometheusExporter builds an exporter that reads pool and writes to
// dbMetrics. Call Start to begin the periodic export loop.
func NewPrometheusExporter(pool PoolStatsProvider, dbMetrics *metrics.DatabaseMetrics) *PrometheusExporter {
	return &PrometheusExporter{
		pool:      pool,
		dbMetrics: dbMetrics,
		logger:    slog.Default(),
	}
}

// Start launches the export loop on a background goroutine, exporting
// immediately and then every interval until ctx is canceled or Stop is
// called.
func (e *PrometheusExporter) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)
	e.cancelFunc = cancel

	e.exportMetrics()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				e.exportMetrics()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop cancels the export loop and performs one final export.
func (e *PrometheusExporter) Stop() {
	if e.cancelFunc != nil {
		e.cancelFunc()
	}
	e.exportMetrics()
}

// exportMetrics reads a PoolStats snapshot and pushes it into Prometheus,
// converting the snapshot's running totals into deltas for the counters.
func (e *PrometheusExporter) exportMetrics() {
	if e.pool == nil || e.dbMetrics == nil {
		e.logger.Warn("prometheus exporter not fully initialized, skipping export")
		return
	}

	stats := e.pool.Stats()

	e.dbMetrics.ConnectionsActive.Set(float64(stats.ActiveConnections))
	e.dbMetrics.ConnectionsIdle.Set(float64(stats.IdleConnections))

	if created := stats.ConnectionsCreated; created > e.lastConnsCreated.Load() {
		e.dbMetrics.ConnectionsTotal.Add(float64(created - e.lastConnsCreated.Load()))
		e.lastConnsCreated.Store(created)
	}

	if stats.TotalQueries > 0 {
		avgQueryDuration := stats.QueryExecutionTime.Seconds() / float64(stats.TotalQueries)
		e.dbMetrics.QueryDurationSeconds.WithLabelValues("all").Observe(avgQueryDuration)
	}

	if connErrs := stats.ConnectionErrors; connErrs > e.lastConnErrors.Load() {
		e.dbMetrics.ErrorsTotal.WithLabelValues("connection").Add(float64(connErrs - e.lastConnErrors.Load()))
		e.lastConnErrors.Store(connErrs)
	}
	if queryErrs := stats.QueryErrors; queryErrs > e.lastQueryErrors.Load() {
		e.dbMetrics.ErrorsTotal.WithLabelValues("query").Add(float64(queryErrs - e.lastQueryErrors.Load()))
		e.lastQueryErrors.Store(queryErrs)
	}
	if stats.TimeoutErrors > e.lastTimeoutErrors {
		e.dbMetrics.ErrorsTotal.WithLabelValues("timeout").Add(float64(stats.TimeoutErrors - e.lastTimeoutErrors))
		e.lastTimeoutErrors = stats.TimeoutErrors
	}
}

// RecordConnectionWait records time spent waiting to acquire a connection.
func (e *PrometheusExporter) RecordConnectionWait(duration time.Duration) {
	e.dbMetrics.ConnectionWaitDurationSeconds.Observe(duration.Seconds())
}

// RecordQuery records one query's outcome, labeled by operation (SELECT,
// INSERT, ...) and success.
func (e *PrometheusExporter) RecordQuery(operation string, duration time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}

	e.dbMetrics.QueryDurationSeconds.WithLabelValues(operation).Observe(duration.Seconds())
	e.dbMetrics.QueriesTotal.WithLabelValues(operation, status).Inc()
}
