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
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "parley_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Delivery metrics
	MessagesStored = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "parley_messages_stored_total",
			Help: "Total messages durably stored",
		},
	)

	PushDelivered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "parley_push_delivered_total",
			Help: "Total message events pushed to connected sessions",
		},
	)

	PushDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "parley_push_dropped_total",
			Help: "Total message events dropped for slow consumers",
		},
	)

	PushDegraded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "parley_push_degraded_total",
			Help: "Total publish calls that failed after a durable write",
		},
	)

	PollRequests = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "parley_poll_requests_total",
			Help: "Total catch-up poll requests",
		},
	)

	WebsocketSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "parley_websocket_sessions",
			Help: "Currently connected websocket sessions",
		},
	)
)
