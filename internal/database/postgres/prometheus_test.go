package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramfiaogusto/watchtower/pkg/metrics"
)

type mockPoolStatsProvider struct {
	stats PoolStats
}

func (m *mockPoolStatsProvider) Stats() PoolStats {
	return m.stats
}

func TestNewPrometheusExporter(t *testing.T) {
	mockPool := &mockPoolStatsProvider{stats: PoolStats{ActiveConnections: 5}}
	dbMetrics := metrics.NewDatabaseMetrics("test_prom_exporter")

	exporter := NewPrometheusExporter(mockPool, dbMetrics)

	require.NotNil(t, exporter)
	assert.Same(t, mockPool, exporter.pool)
	assert.Same(t, dbMetrics, exporter.dbMetrics)
}

func TestPrometheusExporter_StartStop(t *testing.T) {
	mockPool := &mockPoolStatsProvider{stats: PoolStats{ActiveConnections: 5, IdleConnections: 10}}
	dbMetrics := metrics.NewDatabaseMetrics("test_prom_start_stop")

	exporter := NewPrometheusExporter(mockPool, dbMetrics)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	exporter.Start(ctx, 20*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	exporter.Stop()
}

func TestPrometheusExporter_ExportMetrics_NilGuards(t *testing.T) {
	mockPool := &mockPoolStatsProvider{stats: PoolStats{ActiveConnections: 7, IdleConnections: 3}}
	dbMetrics := metrics.NewDatabaseMetrics("test_prom_export_nil")

	exporter := NewPrometheusExporter(mockPool, dbMetrics)
	exporter.exportMetrics()

	exporter.pool = nil
	assert.NotPanics(t, func() { exporter.exportMetrics() })

	exporter.pool = mockPool
	exporter.dbMetrics = nil
	assert.NotPanics(t, func() { exporter.exportMetrics() })
}

func TestPrometheusExporter_ExportMetrics_TracksDeltasNotTotals(t *testing.T) {
	mockPool := &mockPoolStatsProvider{stats: PoolStats{ConnectionErrors: 2, QueryErrors: 1}}
	dbMetrics := metrics.NewDatabaseMetrics("test_prom_export_delta")

	exporter := NewPrometheusExporter(mockPool, dbMetrics)
	exporter.exportMetrics()

	assert.Equal(t, float64(2), testutil.ToFloat64(dbMetrics.ErrorsTotal.WithLabelValues("connection")))
	assert.Equal(t, float64(1), testutil.ToFloat64(dbMetrics.ErrorsTotal.WithLabelValues("query")))

	// A second export with the same cumulative stats should add nothing.
	exporter.exportMetrics()
	assert.Equal(t, float64(2), testutil.ToFloat64(dbMetrics.ErrorsTotal.WithLabelValues("connection")))

	// Only the increase since the last export should be added.
	mockPool.stats.ConnectionErrors = 5
	exporter.exportMetrics()
	assert.Equal(t, float64(5), testutil.ToFloat64(dbMetrics.ErrorsTotal.WithLabelValues("connection")))
}

func TestPrometheusExporter_RecordQuery_LabelsFailuresCorrectly(t *testing.T) {
	dbMetrics := metrics.NewDatabaseMetrics("test_prom_record_query")
	exporter := NewPrometheusExporter(&mockPoolStatsProvider{}, dbMetrics)

	exporter.RecordQuery("SELECT", 10*time.Millisecond, true)
	exporter.RecordQuery("SELECT", 10*time.Millisecond, false)

	assert.Equal(t, float64(1), testutil.ToFloat64(dbMetrics.QueriesTotal.WithLabelValues("SELECT", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(dbMetrics.QueriesTotal.WithLabelValues("SELECT", "error")))
}

func BenchmarkPrometheusExporter_ExportMetrics(b *testing.B) {
	mockPool := &mockPoolStatsProvider{stats: PoolStats{ActiveConnections: 5, IdleConnections: 10}}
	dbMetrics := metrics.NewDatabaseMetrics("bench_prom_export")

	exporter := NewPrometheusExporter(mockPool, dbMetrics)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		exporter.exportMetrics()
	}
}
