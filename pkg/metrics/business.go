package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// BusinessMetrics contains domain-level metrics for the change detection engine.
//
// Business metrics track high-level outcomes of the capture pipeline:
//   - Captures (completed runs by outcome; runs refused by the lock are not counted)
//   - Diffs (produced, change ratio distribution, significance decisions)
//   - Snapshots (full vs incremental, retention promotions/prunes)
//   - Alerts (emitted by severity)
//
// All metrics follow the taxonomy:
// watchtower_business_<subsystem>_<metric_name>_<unit>
type BusinessMetrics struct {
	namespace string

	// Capture subsystem
	CapturesTotal         *prometheus.CounterVec   // total capture attempts by outcome
	CaptureDurationSeconds *prometheus.HistogramVec // end-to-end capture duration

	// Diff subsystem
	DiffsTotal          *prometheus.CounterVec   // total diffs produced by significance
	ChangeRatio         prometheus.Histogram     // distribution of change ratios
	SignificantHunksTotal prometheus.Counter     // total significant hunks detected

	// Snapshot subsystem
	SnapshotsStoredTotal  *prometheus.CounterVec // total snapshots stored by kind (full|diff)
	RetentionPrunedTotal  prometheus.Counter     // snapshots pruned by retention
	RetentionPromotedTotal prometheus.Counter    // diff snapshots promoted to full on prune

	// Alert subsystem
	AlertsEmittedTotal *prometheus.CounterVec // total alerts emitted by severity
}

// NewBusinessMetrics creates a new BusinessMetrics instance with standard configuration.
func NewBusinessMetrics(namespace string) *BusinessMetrics {
	return &BusinessMetrics{
		namespace: namespace,

		CapturesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "business_capture",
				Name:      "total",
				Help:      "Total number of capture attempts by outcome",
			},
			[]string{"outcome"}, // outcome: success|error
		),

		CaptureDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "business_capture",
				Name:      "duration_seconds",
				Help:      "Duration of a full capture cycle (render+normalize+diff+store)",
				Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
			},
			[]string{"outcome"},
		),

		DiffsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "business_diff",
				Name:      "total",
				Help:      "Total number of diffs produced by significance classification",
			},
			[]string{"significant"}, // significant: true|false
		),

		ChangeRatio: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "business_diff",
				Name:      "change_ratio",
				Help:      "Distribution of changed-line ratios across diffs",
				Buckets:   []float64{0.0, 0.01, 0.05, 0.1, 0.25, 0.5, 0.75, 1.0},
			},
		),

		SignificantHunksTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "business_diff",
				Name:      "significant_hunks_total",
				Help:      "Total number of hunks classified as significant",
			},
		),

		SnapshotsStoredTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "business_snapshot",
				Name:      "stored_total",
				Help:      "Total number of snapshots stored, by kind",
			},
			[]string{"kind"}, // kind: full|diff
		),

		RetentionPrunedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "business_snapshot",
				Name:      "retention_pruned_total",
				Help:      "Total number of snapshots removed by retention enforcement",
			},
		),

		RetentionPromotedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "business_snapshot",
				Name:      "retention_promoted_total",
				Help:      "Total number of diff snapshots promoted to full during retention pruning",
			},
		),

		AlertsEmittedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "business_alert",
				Name:      "emitted_total",
				Help:      "Total number of alerts emitted by severity",
			},
			[]string{"severity"}, // severity: critical|high|medium|low
		),
	}
}

// RecordCapture records a completed capture attempt.
func (m *BusinessMetrics) RecordCapture(outcome string, duration float64) {
	m.CapturesTotal.WithLabelValues(outcome).Inc()
	m.CaptureDurationSeconds.WithLabelValues(outcome).Observe(duration)
}

// RecordDiff records a diff computation outcome.
func (m *BusinessMetrics) RecordDiff(significant bool, changeRatio float64) {
	label := "false"
	if significant {
		label = "true"
	}
	m.DiffsTotal.WithLabelValues(label).Inc()
	m.ChangeRatio.Observe(changeRatio)
}

// RecordSignificantHunks increments the significant hunk counter by n.
func (m *BusinessMetrics) RecordSignificantHunks(n int) {
	m.SignificantHunksTotal.Add(float64(n))
}

// RecordSnapshotStored records a snapshot write, tagged by kind ("full" or "diff").
func (m *BusinessMetrics) RecordSnapshotStored(kind string) {
	m.SnapshotsStoredTotal.WithLabelValues(kind).Inc()
}

// RecordRetentionPrune records a retention-driven snapshot removal, optionally
// noting that the next snapshot was promoted to full.
func (m *BusinessMetrics) RecordRetentionPrune(promoted bool) {
	m.RetentionPrunedTotal.Inc()
	if promoted {
		m.RetentionPromotedTotal.Inc()
	}
}

// RecordAlertEmitted records an alert emission by severity.
func (m *BusinessMetrics) RecordAlertEmitted(severity string) {
	m.AlertsEmittedTotal.WithLabelValues(severity).Inc()
}
