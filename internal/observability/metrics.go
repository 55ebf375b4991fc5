package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// Viewer connection metrics
	WebSocketConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_connections_active",
			Help: "Number of connected viewers",
		},
	)

	WebSocketMessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "websocket_messages_sent_total",
			Help: "Total number of frames sent to viewers",
		},
		[]string{"type"},
	)

	WebSocketSlowConsumersDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_slow_consumers_dropped_total",
			Help: "Viewers disconnected because their send buffer was full",
		},
	)

	// Firehose metrics
	FirehoseEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "firehose_events_total",
			Help: "Stream events received, by operation",
		},
		[]string{"operation"},
	)

	FirehoseReconnectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "firehose_reconnects_total",
			Help: "Number of stream reconnect attempts",
		},
	)

	FirehoseConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "firehose_connected",
			Help: "1 while the stream connection is open",
		},
	)

	FirehoseDecodeErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "firehose_decode_errors_total",
			Help: "Stream frames dropped because they could not be parsed",
		},
	)

	// Cache metrics
	CacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cache_entries",
			Help: "Messages currently held in the recent-messages cache",
		},
	)

	CacheEvictionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cache_evictions_total",
			Help: "Messages evicted to keep the cache within capacity",
		},
	)

	IngestResultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_results_total",
			Help: "Mapping outcomes for stream events",
		},
		[]string{"result"},
	)

	// Reconciler metrics
	ReconcileRunsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reconcile_runs_total",
			Help: "Expiration reconciliation cycles started",
		},
	)

	ReconcileDeletesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconcile_deletes_total",
			Help: "Remote deletions attempted by the reconciler, by outcome",
		},
		[]string{"outcome"},
	)

	// Session metrics
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sessions_active",
			Help: "Authenticated sessions in the registry",
		},
	)

	// Identity resolution metrics
	IdentityLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "identity_lookups_total",
			Help: "Directory lookups, by result",
		},
		[]string{"result"},
	)

	IdentityBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "identity_breaker_state",
			Help: "Directory circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
	)

	// Database metrics
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5},
		},
		[]string{"operation", "adapter"},
	)

	// Relay metrics
	RelayMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_messages_total",
			Help: "Cross-instance relay messages, by direction",
		},
		[]string{"direction"},
	)
)
