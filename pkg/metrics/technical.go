package metrics

// TechnicalMetrics aggregates technical-level metrics for the change detection engine.
//
// Technical metrics track system internals:
//   - HTTP request metrics (HTTPMetrics) under the technical_renderer
//     subsystem; the renderer gateway does not record its calls into them
//   - Renderer retry/backoff behavior (via RetryMetrics)
//
// This is an aggregator struct grouping metrics implemented in separate files
// (prometheus.go, retry.go) under the technical category.
type TechnicalMetrics struct {
	namespace string

	// HTTP subsystem - request metrics from prometheus.go; nothing writes to them
	HTTP *HTTPMetrics

	// Retry subsystem - renderer retry/backoff metrics, from retry.go
	Retry *RetryMetrics
}

// NewTechnicalMetrics creates a new TechnicalMetrics aggregator.
func NewTechnicalMetrics(namespace string) *TechnicalMetrics {
	return &TechnicalMetrics{
		namespace: namespace,
		HTTP:      NewHTTPMetricsWithNamespace(namespace, "technical_renderer"),
		Retry:     NewRetryMetrics(namespace),
	}
}
