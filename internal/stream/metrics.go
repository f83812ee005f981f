package stream

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// StreamMetricsRecorder records streaming activity. The interface
// abstracts the metrics backend so tests can inject a mock recorder.
type StreamMetricsRecorder interface {
	// RecordStream increments the session counter with outcome
	// "started", "completed", "error" or "aborted".
	RecordStream(outcome string)

	// RecordTokens adds to the decoded-token counter.
	RecordTokens(n int)

	// RecordBytes adds to the received-byte counter.
	RecordBytes(n int)

	// RecordBackpressure increments the backpressure-activation counter.
	RecordBackpressure()

	// RecordRetry increments the scheduled-retry counter.
	RecordRetry()

	// RecordCallbackPanic increments the isolated-panic counter.
	RecordCallbackPanic(callback string)
}

// PrometheusStreamMetrics is the production StreamMetricsRecorder.
type PrometheusStreamMetrics struct {
	streamCounter       *prometheus.CounterVec
	tokenCounter        prometheus.Counter
	byteCounter         prometheus.Counter
	backpressureCounter prometheus.Counter
	retryCounter        prometheus.Counter
	panicCounter        *prometheus.CounterVec
}

var (
	streamMetricsInstance *PrometheusStreamMetrics
	streamMetricsOnce     sync.Once
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

// NewPrometheusStreamMetrics creates the Prometheus-backed recorder.
// Uses singleton pattern to avoid duplicate metric registration in tests.
func NewPrometheusStreamMetrics() *PrometheusStreamMetrics {
	streamMetricsOnce.Do(func() {
		streamMetricsInstance = &PrometheusStreamMetrics{
			streamCounter: getOrCreateCounterVec(prometheus.CounterOpts{
				Name: "relay_streams_total",
				Help: "Total streaming sessions by outcome",
			}, []string{"outcome"}),
			tokenCounter: getOrCreateCounter(prometheus.CounterOpts{
				Name: "relay_stream_tokens_total",
				Help: "Total tokens decoded across all streams",
			}),
			byteCounter: getOrCreateCounter(prometheus.CounterOpts{
				Name: "relay_stream_bytes_total",
				Help: "Total body bytes received across all streams",
			}),
			backpressureCounter: getOrCreateCounter(prometheus.CounterOpts{
				Name: "relay_stream_backpressure_activations_total",
				Help: "Total backpressure activations",
			}),
			retryCounter: getOrCreateCounter(prometheus.CounterOpts{
				Name: "relay_stream_retries_total",
				Help: "Total stream retries scheduled",
			}),
			panicCounter: getOrCreateCounterVec(prometheus.CounterOpts{
				Name: "relay_stream_callback_panics_total",
				Help: "Total caller-supplied handler panics caught",
			}, []string{"callback"}),
		}
	})
	return streamMetricsInstance
}

// RecordStream implements StreamMetricsRecorder.RecordStream
func (p *PrometheusStreamMetrics) RecordStream(outcome string) {
	p.streamCounter.WithLabelValues(outcome).Inc()
}

// RecordTokens implements StreamMetricsRecorder.RecordTokens
func (p *PrometheusStreamMetrics) RecordTokens(n int) {
	p.tokenCounter.Add(float64(n))
}

// RecordBytes implements StreamMetricsRecorder.RecordBytes
func (p *PrometheusStreamMetrics) RecordBytes(n int) {
	p.byteCounter.Add(float64(n))
}

// RecordBackpressure implements StreamMetricsRecorder.RecordBackpressure
func (p *PrometheusStreamMetrics) RecordBackpressure() {
	p.backpressureCounter.Inc()
}

// RecordRetry implements StreamMetricsRecorder.RecordRetry
func (p *PrometheusStreamMetrics) RecordRetry() {
	p.retryCounter.Inc()
}

// RecordCallbackPanic implements StreamMetricsRecorder.RecordCallbackPanic
func (p *PrometheusStreamMetrics) RecordCallbackPanic(callback string) {
	p.panicCounter.WithLabelValues(callback).Inc()
}
