package circuitbreaker

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// StateMetricsRecorder records circuit breaker activity. The interface
// abstracts the metrics backend so tests can inject a mock recorder.
type StateMetricsRecorder interface {
	// RecordState sets the current state gauge for the named circuit
	// (0=closed, 1=open, 2=half-open).
	RecordState(circuit string, state State)

	// RecordTransition increments the transition counter.
	RecordTransition(circuit string, from, to State)

	// RecordBlocked increments the rejected-call counter.
	RecordBlocked(circuit string)
}

// PrometheusStateMetrics is the production StateMetricsRecorder.
type PrometheusStateMetrics struct {
	stateGauge        *prometheus.GaugeVec
	transitionCounter *prometheus.CounterVec
	blockedCounter    *prometheus.CounterVec
}

var (
	stateMetricsInstance *PrometheusStateMetrics
	stateMetricsOnce     sync.Once
)

func getOrCreateGaugeVec(opts prometheus.GaugeOpts, labels []string) *prometheus.GaugeVec {
	g := prometheus.NewGaugeVec(opts, labels)
	if err := prometheus.Register(g); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector.(*prometheus.GaugeVec)
		}
		return promauto.NewGaugeVec(opts, labels)
	}
	return g
}

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

// NewPrometheusStateMetrics creates the Prometheus-backed recorder.
// Uses singleton pattern to avoid duplicate metric registration in tests.
func NewPrometheusStateMetrics() *PrometheusStateMetrics {
	stateMetricsOnce.Do(func() {
		stateMetricsInstance = &PrometheusStateMetrics{
			stateGauge: getOrCreateGaugeVec(prometheus.GaugeOpts{
				Name: "relay_circuit_breaker_state",
				Help: "Current circuit breaker state (0=closed, 1=open, 2=half-open)",
			}, []string{"circuit"}),
			transitionCounter: getOrCreateCounterVec(prometheus.CounterOpts{
				Name: "relay_circuit_breaker_transitions_total",
				Help: "Total circuit breaker state transitions",
			}, []string{"circuit", "from", "to"}),
			blockedCounter: getOrCreateCounterVec(prometheus.CounterOpts{
				Name: "relay_circuit_breaker_blocked_total",
				Help: "Total calls rejected while the circuit was open",
			}, []string{"circuit"}),
		}
	})
	return stateMetricsInstance
}

// RecordState implements StateMetricsRecorder.RecordState
func (p *PrometheusStateMetrics) RecordState(circuit string, state State) {
	p.stateGauge.WithLabelValues(circuit).Set(float64(state))
}

// RecordTransition implements StateMetricsRecorder.RecordTransition
func (p *PrometheusStateMetrics) RecordTransition(circuit string, from, to State) {
	p.transitionCounter.WithLabelValues(circuit, from.String(), to.String()).Inc()
}

// RecordBlocked implements StateMetricsRecorder.RecordBlocked
func (p *PrometheusStateMetrics) RecordBlocked(circuit string) {
	p.blockedCounter.WithLabelValues(circuit).Inc()
}
