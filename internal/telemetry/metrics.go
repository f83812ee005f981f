package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// EventMetricsRecorder records telemetry sink activity. An interface is used
// so tests can inject a mock instead of touching the global Prometheus
// registry.
type EventMetricsRecorder interface {
	// RecordEvent increments the per-event counter.
	RecordEvent(event string)

	// RecordDropped increments the dropped-event counter with a reason
	// (queue_full, circuit_open, collector_error).
	RecordDropped(reason string)
}

// PrometheusEventMetrics is the production EventMetricsRecorder.
type PrometheusEventMetrics struct {
	eventCounter   *prometheus.CounterVec
	droppedCounter *prometheus.CounterVec
}

var (
	eventMetricsInstance *PrometheusEventMetrics
	eventMetricsOnce     sync.Once
)

// getOrCreateCounterVec gets an existing counter vec or creates a new one.
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

// NewPrometheusEventMetrics creates the Prometheus-backed recorder.
// Uses singleton pattern to avoid duplicate metric registration in tests.
func NewPrometheusEventMetrics() *PrometheusEventMetrics {
	eventMetricsOnce.Do(func() {
		eventMetricsInstance = &PrometheusEventMetrics{
			eventCounter: getOrCreateCounterVec(prometheus.CounterOpts{
				Name: "relay_telemetry_events_total",
				Help: "Total telemetry events recorded, by event name",
			}, []string{"event"}),
			droppedCounter: getOrCreateCounterVec(prometheus.CounterOpts{
				Name: "relay_telemetry_events_dropped_total",
				Help: "Total telemetry events dropped before reaching the collector",
			}, []string{"reason"}),
		}
	})
	return eventMetricsInstance
}

// RecordEvent implements EventMetricsRecorder.RecordEvent
func (p *PrometheusEventMetrics) RecordEvent(event string) {
	p.eventCounter.WithLabelValues(event).Inc()
}

// RecordDropped implements EventMetricsRecorder.RecordDropped
func (p *PrometheusEventMetrics) RecordDropped(reason string) {
	p.droppedCounter.WithLabelValues(reason).Inc()
}
