// ABOUTME: Prometheus collectors for the parley gateway
// ABOUTME: Registered on the default registry at init via promauto

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "parley_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "route"},
	)

	// Conversation metrics
	ConversationsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "parley_conversations_created_total",
			Help: "Total conversations created",
		},
	)

	MessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "parley_messages_sent_total",
			Help: "Total messages persisted",
		},
	)

	DuplicateSends = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "parley_duplicate_sends_total",
			Help: "Sends answered from the idempotency cache",
		},
	)

	ReadTransitions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "parley_read_transitions_total",
			Help: "Messages transitioned from unread to read",
		},
	)

	// Realtime metrics
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "parley_active_sessions",
			Help: "Currently registered websocket sessions",
		},
	)

	EventsDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_events_delivered_total",
			Help: "Events queued to a session",
		},
		[]string{"type"}, // "message", "typing" or "read"
	)

	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_events_dropped_total",
			Help: "Events dropped because a session buffer was full",
		},
		[]string{"type"},
	)

	RelayErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "parley_relay_errors_total",
			Help: "Failed publishes or undecodable envelopes on the cross-node relay",
		},
	)
)
