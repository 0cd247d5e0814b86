package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sensechat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sensechat_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "path"},
	)

	// Business metrics
	MessagesEmbedded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sensechat_messages_embedded_total",
			Help: "Total messages summarized and embedded",
		},
		[]string{"lang"},
	)

	Renders = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sensechat_renders_total",
			Help: "Total render requests by serving provider and result",
		},
		[]string{"provider", "result"},
	)

	DeliveriesCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sensechat_deliveries_total",
			Help: "Total delivery records created",
		},
	)

	// Provider metrics
	ProviderCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sensechat_provider_calls_total",
			Help: "Total LLM provider calls by outcome",
		},
		[]string{"provider", "outcome"},
	)

	ProviderLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sensechat_provider_latency_seconds",
			Help:    "LLM provider call latency",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 15},
		},
		[]string{"provider"},
	)

	// Realtime metrics
	RealtimeConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sensechat_realtime_connections",
			Help: "Open realtime connections",
		},
	)

	OnlineUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sensechat_online_users",
			Help: "Users with a registered realtime connection",
		},
	)

	EventsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sensechat_realtime_events_sent_total",
			Help: "Realtime events queued to connections",
		},
		[]string{"event"},
	)

	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sensechat_realtime_events_dropped_total",
			Help: "Realtime events dropped because the connection was closed or backed up",
		},
		[]string{"event"},
	)

	RelayEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sensechat_relay_events_total",
			Help: "Cross-instance relay envelopes by direction",
		},
		[]string{"direction", "type"},
	)

	RelayErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sensechat_relay_errors_total",
			Help: "Relay transport errors",
		},
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sensechat_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"endpoint"},
	)

	BlockedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sensechat_blocked_requests_total",
			Help: "Total blocked requests",
		},
		[]string{"reason"},
	)

	// Retention metrics
	MessagesPurged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sensechat_messages_purged_total",
			Help: "Expired messages deleted",
		},
	)

	MessagesArchived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sensechat_messages_archived_total",
			Help: "Expired messages written to the archive before deletion",
		},
	)

	// Infrastructure metrics
	RedisLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sensechat_redis_latency_seconds",
			Help:    "Redis operation latency",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05},
		},
	)

	PostgresLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sensechat_postgres_latency_seconds",
			Help:    "PostgreSQL query latency",
			Buckets: []float64{.001, .005, .01, .025, .05, .1},
		},
	)
)
