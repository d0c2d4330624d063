package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guildchat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "guildchat_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "route"},
	)

	MessagesCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guildchat_messages_created_total",
			Help: "Messages persisted by the ingress gateway",
		},
		[]string{"room_kind"},
	)

	MessagesRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guildchat_messages_rejected_total",
			Help: "Message writes rejected before persistence",
		},
		[]string{"reason"},
	)

	PublishFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "guildchat_publish_failures_total",
			Help: "Persisted messages whose realtime publish failed",
		},
	)

	PageFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guildchat_page_fetches_total",
			Help: "History pages served",
		},
		[]string{"room_kind", "first"},
	)

	EventsPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "guildchat_hub_events_published_total",
			Help: "Events fanned out by the hub",
		},
	)

	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guildchat_hub_events_dropped_total",
			Help: "Events dropped because a subscriber queue was full",
		},
		[]string{"policy"},
	)

	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "guildchat_hub_connections",
			Help: "Connections currently registered with the hub",
		},
	)
)
