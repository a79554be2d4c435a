// Package metrics holds the Prometheus collectors exported by Cadence.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values for pattern detections.
const (
	OutcomeCreated      = "created"
	OutcomeUpdated      = "updated"
	OutcomeInsufficient = "insufficient_data"
	OutcomeError        = "error"
)

// Metrics holds the application's custom collectors.
// All methods are safe to call on a nil *Metrics.
type Metrics struct {
	// Pattern detections by kind and outcome
	PatternDetections *prometheus.CounterVec

	// Context metrics
	ContextAggregations prometheus.Counter
	ContextItemsExpired prometheus.Counter
	ContextQueryLatency prometheus.Histogram

	// WebSocket metrics
	InsightSubscribers prometheus.Gauge
	InsightsBroadcast  prometheus.Counter
}

// New registers the collectors with reg. Pass prometheus.DefaultRegisterer
// in binaries and a fresh prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		PatternDetections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cadence_pattern_detections_total",
			Help: "Total number of pattern scope detections by kind and outcome",
		}, []string{"kind", "outcome"}),

		ContextAggregations: factory.NewCounter(prometheus.CounterOpts{
			Name: "cadence_context_aggregations_total",
			Help: "Total number of context aggregations",
		}),

		ContextItemsExpired: factory.NewCounter(prometheus.CounterOpts{
			Name: "cadence_context_items_expired_total",
			Help: "Total number of expired context items deleted by cleanup sweeps",
		}),

		ContextQueryLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "cadence_context_query_duration_seconds",
			Help:    "Context query latency in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),

		InsightSubscribers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "cadence_insight_subscribers",
			Help: "Number of connected insight feed clients",
		}),

		InsightsBroadcast: factory.NewCounter(prometheus.CounterOpts{
			Name: "cadence_insights_broadcast_total",
			Help: "Total number of detection results pushed to the insight feed",
		}),
	}
}

// RecordDetection records one scope outcome.
func (m *Metrics) RecordDetection(kind, outcome string) {
	if m == nil {
		return
	}
	m.PatternDetections.WithLabelValues(kind, outcome).Inc()
}

// RecordAggregation records a context aggregation.
func (m *Metrics) RecordAggregation() {
	if m == nil {
		return
	}
	m.ContextAggregations.Inc()
}

// RecordExpired records deleted expired items.
func (m *Metrics) RecordExpired(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ContextItemsExpired.Add(float64(n))
}

// RecordQueryLatency records a context query's latency.
func (m *Metrics) RecordQueryLatency(seconds float64) {
	if m == nil {
		return
	}
	m.ContextQueryLatency.Observe(seconds)
}

// RecordSubscriberConnect records a new insight feed client.
func (m *Metrics) RecordSubscriberConnect() {
	if m == nil {
		return
	}
	m.InsightSubscribers.Inc()
}

// RecordSubscriberDisconnect records an insight feed client leaving.
func (m *Metrics) RecordSubscriberDisconnect() {
	if m == nil {
		return
	}
	m.InsightSubscribers.Dec()
}

// RecordBroadcast records a detection result pushed to subscribers.
func (m *Metrics) RecordBroadcast() {
	if m == nil {
		return
	}
	m.InsightsBroadcast.Inc()
}
