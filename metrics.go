package restcore

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector provides Prometheus metrics for the request lifecycle and
// the reliability layers. Safe for concurrent use; a nil collector is a
// no-op on every method.
type MetricsCollector struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight *prometheus.GaugeVec
	attemptsPerReq   *prometheus.HistogramVec

	retriesTotal *prometheus.CounterVec

	rateLimiterTokens *prometheus.GaugeVec
	rateLimiterWait   *prometheus.HistogramVec

	poolInUse          *prometheus.GaugeVec
	poolExhaustedTotal *prometheus.CounterVec

	decodeErrorsTotal *prometheus.CounterVec

	circuitBreakerState *prometheus.GaugeVec

	errorsTotal *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetricsCollector creates a collector on the default registerer.
func NewMetricsCollector() *MetricsCollector {
	return NewMetricsCollectorWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsCollectorWithRegistry creates a collector using the supplied
// registerer, letting tests and multi-client processes isolate registries.
func NewMetricsCollectorWithRegistry(registry prometheus.Registerer) *MetricsCollector {
	mc := &MetricsCollector{
		requestsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "restcore_requests_total",
				Help: "Total number of logical requests completed",
			},
			[]string{"method", "status_code", "endpoint"},
		),
		requestDuration: promauto.With(registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "restcore_request_duration_seconds",
				Help:    "Duration of logical requests in seconds, retries included",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "status_code", "endpoint"},
		),
		requestsInFlight: promauto.With(registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "restcore_requests_in_flight",
				Help: "Number of logical requests currently executing",
			},
			[]string{"method", "endpoint"},
		),
		attemptsPerReq: promauto.With(registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "restcore_attempts_per_request",
				Help:    "Network attempts consumed per logical request",
				Buckets: []float64{1, 2, 3, 4, 5, 8, 13},
			},
			[]string{"method", "endpoint"},
		),
		retriesTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "restcore_retries_total",
				Help: "Total number of retry attempts",
			},
			[]string{"method", "endpoint", "attempt"},
		),
		rateLimiterTokens: promauto.With(registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "restcore_rate_limiter_tokens",
				Help: "Currently available rate limiter tokens",
			},
			[]string{"name"},
		),
		rateLimiterWait: promauto.With(registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "restcore_rate_limiter_wait_seconds",
				Help:    "Time spent waiting for rate limiter tokens",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"name"},
		),
		poolInUse: promauto.With(registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "restcore_pool_connections_in_use",
				Help: "Connection slots currently held per host",
			},
			[]string{"host"},
		),
		poolExhaustedTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "restcore_pool_exhausted_total",
				Help: "Total number of acquisitions that timed out on a full pool",
			},
			[]string{"host"},
		),
		decodeErrorsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "restcore_decode_errors_total",
				Help: "Total number of response bodies rejected by the normalizer",
			},
			[]string{"kind", "endpoint"},
		),
		circuitBreakerState: promauto.With(registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "restcore_circuit_breaker_state",
				Help: "Current circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
			[]string{"name"},
		),
		errorsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "restcore_errors_total",
				Help: "Total number of terminal errors by type",
			},
			[]string{"type", "method", "endpoint"},
		),
	}

	if r, ok := registry.(*prometheus.Registry); ok {
		mc.registry = r
	}

	return mc
}

// RecordRequest records a completed logical request.
func (mc *MetricsCollector) RecordRequest(method, endpoint string, statusCode, attempts int, duration time.Duration) {
	if mc == nil {
		return
	}

	statusCodeStr := strconv.Itoa(statusCode)
	mc.requestsTotal.WithLabelValues(method, statusCodeStr, endpoint).Inc()
	mc.requestDuration.WithLabelValues(method, statusCodeStr, endpoint).Observe(duration.Seconds())
	mc.attemptsPerReq.WithLabelValues(method, endpoint).Observe(float64(attempts))
}

// RecordRequestStart increments the in-flight gauge.
func (mc *MetricsCollector) RecordRequestStart(method, endpoint string) {
	if mc == nil {
		return
	}
	mc.requestsInFlight.WithLabelValues(method, endpoint).Inc()
}

// RecordRequestEnd decrements the in-flight gauge.
func (mc *MetricsCollector) RecordRequestEnd(method, endpoint string) {
	if mc == nil {
		return
	}
	mc.requestsInFlight.WithLabelValues(method, endpoint).Dec()
}

// RecordRetry increments the retry counter for an attempt.
func (mc *MetricsCollector) RecordRetry(method, endpoint string, attempt int) {
	if mc == nil {
		return
	}
	mc.retriesTotal.WithLabelValues(method, endpoint, strconv.Itoa(attempt)).Inc()
}

// RecordRateLimiterTokens sets the available-token gauge.
func (mc *MetricsCollector) RecordRateLimiterTokens(name string, tokens float64) {
	if mc == nil {
		return
	}
	mc.rateLimiterTokens.WithLabelValues(name).Set(tokens)
}

// RecordRateLimiterWait observes time spent blocked on token acquisition.
func (mc *MetricsCollector) RecordRateLimiterWait(name string, wait time.Duration) {
	if mc == nil {
		return
	}
	mc.rateLimiterWait.WithLabelValues(name).Observe(wait.Seconds())
}

// RecordPoolInUse sets the per-host connection slot gauge.
func (mc *MetricsCollector) RecordPoolInUse(host string, inUse int) {
	if mc == nil {
		return
	}
	mc.poolInUse.WithLabelValues(host).Set(float64(inUse))
}

// RecordPoolExhausted increments the pool exhaustion counter.
func (mc *MetricsCollector) RecordPoolExhausted(host string) {
	if mc == nil {
		return
	}
	mc.poolExhaustedTotal.WithLabelValues(host).Inc()
}

// RecordDecodeError increments the decode failure counter.
func (mc *MetricsCollector) RecordDecodeError(kind DecodeKind, endpoint string) {
	if mc == nil {
		return
	}
	mc.decodeErrorsTotal.WithLabelValues(kind.String(), endpoint).Inc()
}

// RecordCircuitBreakerState sets the breaker state gauge.
func (mc *MetricsCollector) RecordCircuitBreakerState(name string, state CircuitState) {
	if mc == nil {
		return
	}
	mc.circuitBreakerState.WithLabelValues(name).Set(float64(state))
}

// RecordError increments the terminal error counter by type.
func (mc *MetricsCollector) RecordError(errorType, method, endpoint string) {
	if mc == nil {
		return
	}
	mc.errorsTotal.WithLabelValues(errorType, method, endpoint).Inc()
}

// GetRegistry exposes the underlying registry when the collector was built on
// a *prometheus.Registry; nil otherwise.
func (mc *MetricsCollector) GetRegistry() *prometheus.Registry {
	return mc.registry
}
