package requester

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// RequestMetricsRecorder records requester activity. The interface
// abstracts the metrics backend so tests can inject a mock recorder.
type RequestMetricsRecorder interface {
	// RecordRequest increments the request counter with outcome
	// "success", "failure" or "blocked_offline".
	RecordRequest(outcome string)

	// RecordDuration observes the total call duration including retries.
	RecordDuration(seconds float64)

	// RecordRetry increments the scheduled-retry counter.
	RecordRetry()

	// RecordHealthCheck increments the probe counter.
	RecordHealthCheck(healthy bool)
}

// PrometheusRequestMetrics is the production RequestMetricsRecorder.
type PrometheusRequestMetrics struct {
	requestCounter     *prometheus.CounterVec
	durationHistogram  prometheus.Histogram
	retryCounter       prometheus.Counter
	healthCheckCounter *prometheus.CounterVec
}

var (
	requestMetricsInstance *PrometheusRequestMetrics
	requestMetricsOnce     sync.Once
)

func getOrCreateCounterVec(opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	c := prometheus.NewCounterVec(opts, labels)
	if err := prometheus.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector.(*prometheus.CounterVec)
		}
		return promauto.NewCounterVec(opts, labels)
	}
	return c
}

func getOrCreateCounter(opts prometheus.CounterOpts) prometheus.Counter {
	c := prometheus.NewCounter(opts)
	if err := prometheus.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector.(prometheus.Counter)
		}
		return promauto.NewCounter(opts)
	}
	return c
}

func getOrCreateHistogram(opts prometheus.HistogramOpts) prometheus.Histogram {
	h := prometheus.NewHistogram(opts)
	if err := prometheus.Register(h); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector.(prometheus.Histogram)
		}
		return promauto.NewHistogram(opts)
	}
	return h
}

// NewPrometheusRequestMetrics creates the Prometheus-backed recorder.
// Uses singleton pattern to avoid duplicate metric registration in tests.
func NewPrometheusRequestMetrics() *PrometheusRequestMetrics {
	requestMetricsOnce.Do(func() {
		requestMetricsInstance = &PrometheusRequestMetrics{
			requestCounter: getOrCreateCounterVec(prometheus.CounterOpts{
				Name: "relay_requests_total",
				Help: "Total resilient requests by outcome",
			}, []string{"outcome"}),
			durationHistogram: getOrCreateHistogram(prometheus.HistogramOpts{
				Name:    "relay_request_duration_seconds",
				Help:    "Resilient request duration including retries",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			}),
			retryCounter: getOrCreateCounter(prometheus.CounterOpts{
				Name: "relay_request_retries_total",
				Help: "Total retries scheduled by the requester",
			}),
			healthCheckCounter: getOrCreateCounterVec(prometheus.CounterOpts{
				Name: "relay_health_checks_total",
				Help: "Total upstream health probes by result",
			}, []string{"result"}),
		}
	})
	return requestMetricsInstance
}

// RecordRequest implements RequestMetricsRecorder.RecordRequest
func (p *PrometheusRequestMetrics) RecordRequest(outcome string) {
	p.requestCounter.WithLabelValues(outcome).Inc()
}

// RecordDuration implements RequestMetricsRecorder.RecordDuration
func (p *PrometheusRequestMetrics) RecordDuration(seconds float64) {
	p.durationHistogram.Observe(seconds)
}

// RecordRetry implements RequestMetricsRecorder.RecordRetry
func (p *PrometheusRequestMetrics) RecordRetry() {
	p.retryCounter.Inc()
}

// RecordHealthCheck implements RequestMetricsRecorder.RecordHealthCheck
func (p *PrometheusRequestMetrics) RecordHealthCheck(healthy bool) {
	result := "unhealthy"
	if healthy {
		result = "healthy"
	}
	p.healthCheckCounter.WithLabelValues(result).Inc()
}
