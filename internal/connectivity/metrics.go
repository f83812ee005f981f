package connectivity

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ProbeMetricsRecorder records connectivity probe activity. The interface
// abstracts the metrics backend so tests can inject a mock recorder.
type ProbeMetricsRecorder interface {
	// RecordProbe increments the probe counter with outcome "success" or "failure".
	RecordProbe(outcome string)

	// RecordStatus sets the online gauge (1=online, 0=offline).
	RecordStatus(online bool)
}

// PrometheusProbeMetrics is the production ProbeMetricsRecorder.
type PrometheusProbeMetrics struct {
	probeCounter *prometheus.CounterVec
	onlineGauge  prometheus.Gauge
}

var (
	probeMetricsInstance *PrometheusProbeMetrics
	probeMetricsOnce     sync.Once
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

func getOrCreateGauge(opts prometheus.GaugeOpts) prometheus.Gauge {
	g := prometheus.NewGauge(opts)
	if err := prometheus.Register(g); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector.(prometheus.Gauge)
		}
		return promauto.NewGauge(opts)
	}
	return g
}

// NewPrometheusProbeMetrics creates the Prometheus-backed recorder.
// Uses singleton pattern to avoid duplicate metric registration in tests.
func NewPrometheusProbeMetrics() *PrometheusProbeMetrics {
	probeMetricsOnce.Do(func() {
		probeMetricsInstance = &PrometheusProbeMetrics{
			probeCounter: getOrCreateCounterVec(prometheus.CounterOpts{
				Name: "relay_network_probes_total",
				Help: "Total connectivity probes by outcome",
			}, []string{"outcome"}),
			onlineGauge: getOrCreateGauge(prometheus.GaugeOpts{
				Name: "relay_network_online",
				Help: "Whether the upstream network is reachable (1=online, 0=offline)",
			}),
		}
	})
	return probeMetricsInstance
}

// RecordProbe implements ProbeMetricsRecorder.RecordProbe
func (p *PrometheusProbeMetrics) RecordProbe(outcome string) {
	p.probeCounter.WithLabelValues(outcome).Inc()
}

// RecordStatus implements ProbeMetricsRecorder.RecordStatus
func (p *PrometheusProbeMetrics) RecordStatus(online bool) {
	if online {
		p.onlineGauge.Set(1)
	} else {
		p.onlineGauge.Set(0)
	}
}
