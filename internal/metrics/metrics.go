package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Tracks inbound gateway requests by endpoint, status code and model.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kirogate_requests_total",
			Help: "Total number of gateway requests (by endpoint, status and model).",
		},
		[]string{"endpoint", "status", "model"},
	)

	// Measures inbound request processing time.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kirogate_request_duration_seconds",
			Help:    "Duration of gateway request processing in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 15), // 5ms → ~2.7min
		},
		[]string{"endpoint"},
	)

	// Gauges in-flight requests.
	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kirogate_active_connections",
			Help: "Number of requests currently being processed.",
		},
	)

	// Tracks outbound calls to the Kiro upstream.
	UpstreamRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kirogate_upstream_requests_total",
			Help: "Total number of Kiro upstream requests (by endpoint, method and status).",
		},
		[]string{"endpoint", "method", "status"},
	)

	UpstreamRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kirogate_upstream_request_duration_seconds",
			Help:    "Duration of Kiro upstream requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms → ~16s
		},
		[]string{"endpoint", "method"},
	)

	// Tracks total errors (aggregated).
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kirogate_errors_total",
			Help: "Count of gateway errors by component.",
		},
		[]string{"component", "reason"},
	)

	// Tracks requests rejected by the per-key rate limiter.
	RateLimitedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kirogate_rate_limited_total",
			Help: "Number of requests rejected with 429.",
		},
		[]string{"endpoint"},
	)

	// Gauges whether the cached upstream access token is currently valid.
	TokenValid = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kirogate_upstream_token_valid",
			Help: "1 when a non-expiring upstream access token is cached, 0 otherwise.",
		},
	)

	// Gauges the number of entries in the model info cache.
	ModelCacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kirogate_model_cache_size",
			Help: "Number of models held in the model info cache.",
		},
	)

	// Tracks NATS audit messages by subject and result.
	NATSMessageCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nats_messages_total",
			Help: "Total number of NATS messages published.",
		},
		[]string{"subject", "result"}, // result = "ok" | "error"
	)

	NATSMessageLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nats_message_latency_seconds",
			Help:    "Time taken to publish NATS messages",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"subject"},
	)
)

// ObserveDuration records the time taken for a function and updates the given histogram.
func ObserveDuration(v interface{}, start time.Time, labels ...string) {
	duration := time.Since(start).Seconds()

	switch metric := v.(type) {
	case *prometheus.HistogramVec:
		metric.WithLabelValues(labels...).Observe(duration)
	case *prometheus.SummaryVec:
		metric.WithLabelValues(labels...).Observe(duration)
	default:
		// silently ignore counters; they're not meant for duration tracking
	}
}

func IncRequest(endpoint, status, model string) {
	RequestsTotal.WithLabelValues(endpoint, status, model).Inc()
}

func IncUpstreamRequest(endpoint, method, status string) {
	UpstreamRequestsTotal.WithLabelValues(endpoint, method, status).Inc()
}

func IncError(component, reason string) {
	ErrorsTotal.WithLabelValues(component, reason).Inc()
}

func IncRateLimited(endpoint string) {
	RateLimitedTotal.WithLabelValues(endpoint).Inc()
}

func IncNATSMessage(subject, result string) {
	NATSMessageCount.WithLabelValues(subject, result).Inc()
}

func SetTokenValid(valid bool) {
	if valid {
		TokenValid.Set(1)
	} else {
		TokenValid.Set(0)
	}
}

func SetModelCacheSize(n int) {
	ModelCacheSize.Set(float64(n))
}
