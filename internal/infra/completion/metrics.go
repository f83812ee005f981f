package completion

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// CompletionMetricsRecorder records completion call activity. The interface
// abstracts the metrics backend so tests can inject a mock recorder.
type CompletionMetricsRecorder interface {
	// RecordCompletion increments the call counter with outcome
	// "success" or "failure".
	RecordCompletion(provider, outcome string)

	// RecordDuration observes one API call's duration.
	RecordDuration(provider string, duration time.Duration)

	// RecordResponseLength observes the answer length in bytes.
	RecordResponseLength(length int)
}

// PrometheusCompletionMetrics is the production CompletionMetricsRecorder.
type PrometheusCompletionMetrics struct {
	completionCounter *prometheus.CounterVec
	durationHistogram *prometheus.HistogramVec
	lengthHistogram   prometheus.Histogram
}

var (
	completionMetricsInstance *PrometheusCompletionMetrics
	completionMetricsOnce     sync.Once
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

func getOrCreateHistogramVec(opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	h := prometheus.NewHistogramVec(opts, labels)
	if err := prometheus.Register(h); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector.(*prometheus.HistogramVec)
		}
		return promauto.NewHistogramVec(opts, labels)
	}
	return h
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

// NewPrometheusCompletionMetrics creates the Prometheus-backed recorder.
// Uses singleton pattern to avoid duplicate metric registration in tests.
func NewPrometheusCompletionMetrics() *PrometheusCompletionMetrics {
	completionMetricsOnce.Do(func() {
		completionMetricsInstance = &PrometheusCompletionMetrics{
			completionCounter: getOrCreateCounterVec(prometheus.CounterOpts{
				Name: "relay_completions_total",
				Help: "Total completion calls by provider and outcome",
			}, []string{"provider", "outcome"}),
			durationHistogram: getOrCreateHistogramVec(prometheus.HistogramOpts{
				Name:    "relay_completion_duration_seconds",
				Help:    "Completion API call duration",
				Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
			}, []string{"provider"}),
			lengthHistogram: getOrCreateHistogram(prometheus.HistogramOpts{
				Name:    "relay_completion_response_bytes",
				Help:    "Distribution of completion response sizes",
				Buckets: []float64{100, 300, 500, 1000, 2000, 5000, 10000, 20000},
			}),
		}
	})
	return completionMetricsInstance
}

// RecordCompletion implements CompletionMetricsRecorder.RecordCompletion
func (p *PrometheusCompletionMetrics) RecordCompletion(provider, outcome string) {
	p.completionCounter.WithLabelValues(provider, outcome).Inc()
}

// RecordDuration implements CompletionMetricsRecorder.RecordDuration
func (p *PrometheusCompletionMetrics) RecordDuration(provider string, duration time.Duration) {
	p.durationHistogram.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordResponseLength implements CompletionMetricsRecorder.RecordResponseLength
func (p *PrometheusCompletionMetrics) RecordResponseLength(length int) {
	p.lengthHistogram.Observe(float64(length))
}
