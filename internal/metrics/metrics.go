package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Cache metrics
	cacheHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"strategy"},
	)

	cacheMissesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"strategy"},
	)

	cacheOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cache_operation_duration_seconds",
			Help:    "Duration of cache operations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "strategy"},
	)

	cacheErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_errors_total",
			Help: "Total number of cache errors by category",
		},
		[]string{"operation", "category"},
	)

	cachePollutionPreventionTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cache_pollution_prevention_total",
			Help: "Total number of cache writes refused by the pollution guard",
		},
	)

	cacheBlockedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_blocked_operations_total",
			Help: "Total number of cache operations blocked by an open circuit breaker",
		},
		[]string{"operation"},
	)

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"scope"},
	)

	circuitBreakerTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"scope", "to"},
	)

	circuitBreakerRejectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_rejects_total",
			Help: "Total number of calls rejected by an open circuit breaker",
		},
		[]string{"scope"},
	)

	circuitBreakerFallbackTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_fallback_total",
			Help: "Total number of stale-cache fallbacks served while open",
		},
		[]string{"reason"},
	)

	// Kong Admin API metrics
	kongRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kong_requests_total",
			Help: "Total number of Kong Admin API requests",
		},
		[]string{"operation", "status"},
	)

	kongRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kong_request_duration_seconds",
			Help:    "Duration of Kong Admin API requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// Redis reconnect metrics
	redisReconnectAttemptsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "redis_reconnect_attempts_total",
			Help: "Total number of Redis reconnection attempts",
		},
	)

	redisReconnectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redis_reconnects_total",
			Help: "Total number of completed Redis reconnect sequences",
		},
		[]string{"outcome"},
	)

	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	tokensIssuedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tokens_issued_total",
			Help: "Total number of JWTs issued",
		},
	)
)

func RecordCacheHit(strategy string) {
	cacheHitsTotal.WithLabelValues(strategy).Inc()
}

func RecordCacheMiss(strategy string) {
	cacheMissesTotal.WithLabelValues(strategy).Inc()
}

func RecordCacheOperation(operation, strategy string, duration time.Duration) {
	cacheOperationDuration.WithLabelValues(operation, strategy).Observe(duration.Seconds())
}

func RecordCacheError(operation, category string) {
	cacheErrorsTotal.WithLabelValues(operation, category).Inc()
}

func RecordPollutionPrevention() {
	cachePollutionPreventionTotal.Inc()
}

func RecordCacheBlocked(operation string) {
	cacheBlockedTotal.WithLabelValues(operation).Inc()
}

func RecordBreakerState(scope string, state int) {
	circuitBreakerState.WithLabelValues(scope).Set(float64(state))
}

func RecordBreakerTransition(scope, to string) {
	circuitBreakerTransitionsTotal.WithLabelValues(scope, to).Inc()
}

func RecordBreakerReject(scope string) {
	circuitBreakerRejectsTotal.WithLabelValues(scope).Inc()
}

func RecordBreakerFallback(reason string) {
	circuitBreakerFallbackTotal.WithLabelValues(reason).Inc()
}

func RecordKongRequest(operation, status string, duration time.Duration) {
	kongRequestsTotal.WithLabelValues(operation, status).Inc()
	kongRequestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func RecordReconnectAttempt() {
	redisReconnectAttemptsTotal.Inc()
}

func RecordReconnectOutcome(success bool) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	redisReconnectsTotal.WithLabelValues(outcome).Inc()
}

func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

func RecordTokenIssued() {
	tokensIssuedTotal.Inc()
}
