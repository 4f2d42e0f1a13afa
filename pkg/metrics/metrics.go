// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// MutationsTotal tracks pipeline mutations by operation and outcome.
	MutationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_mutations_total",
			Help: "Total mutation pipeline operations",
		},
		[]string{"operation", "outcome"},
	)

	// ChangeEventsDispatched tracks change events delivered to handlers.
	ChangeEventsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_change_events_dispatched_total",
			Help: "Change events dispatched to subscribers",
		},
		[]string{"relation", "kind"},
	)

	// SubscriptionsActive tracks live topic subscriptions.
	SubscriptionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sync_subscriptions_active",
			Help: "Number of active topic subscriptions",
		},
	)

	// TypingParticipants tracks participants currently marked typing.
	TypingParticipants = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sync_typing_participants",
			Help: "Participants currently marked typing per conversation",
		},
		[]string{"conversation_id"},
	)

	// AggregateRecomputeFailures tracks reaction aggregate recompute errors.
	// These are logged and self-heal on the next mutation; the counter makes
	// persistent failure visible.
	AggregateRecomputeFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sync_aggregate_recompute_failures_total",
			Help: "Failed reaction aggregate recomputes",
		},
	)

	// SSEConnectionsActive tracks active SSE connections.
	SSEConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	// TranscriptionsTotal tracks transcription boundary calls.
	TranscriptionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_transcriptions_total",
			Help: "Transcription requests by outcome",
		},
		[]string{"outcome"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordMutation records a pipeline operation outcome.
func RecordMutation(operation, outcome string) {
	MutationsTotal.WithLabelValues(operation, outcome).Inc()
}

// IncrementSSEConnections increments the active SSE connection count.
func IncrementSSEConnections() {
	SSEConnectionsActive.Inc()
}

// DecrementSSEConnections decrements the active SSE connection count.
func DecrementSSEConnections() {
	SSEConnectionsActive.Dec()
}
