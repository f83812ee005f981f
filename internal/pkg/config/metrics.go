package config

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ConfigMetrics tracks configuration state for one component: load
// timestamp, validation errors and fallback activity. Metric names are
// parameterized by component ("relay", "probe") so each binary reports
// separately.
type ConfigMetrics struct {
	loadTimestamp    prometheus.Gauge
	validationErrors *prometheus.CounterVec
	fallbacks        *prometheus.CounterVec
	fallbackActive   *prometheus.GaugeVec
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

// NewConfigMetrics creates the metric set for a component.
func NewConfigMetrics(componentName string) *ConfigMetrics {
	return &ConfigMetrics{
		loadTimestamp: getOrCreateGauge(prometheus.GaugeOpts{
			Name: fmt.Sprintf("%s_config_load_timestamp", componentName),
			Help: "Unix timestamp of the last configuration load",
		}),
		validationErrors: getOrCreateCounterVec(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_config_validation_errors_total", componentName),
			Help: "Total configuration validation errors by field",
		}, []string{"field"}),
		fallbacks: getOrCreateCounterVec(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_config_fallbacks_total", componentName),
			Help: "Total configuration fallback operations by field",
		}, []string{"field", "fallback_type"}),
		fallbackActive: getOrCreateGaugeVec(prometheus.GaugeOpts{
			Name: fmt.Sprintf("%s_config_fallback_active", componentName),
			Help: "Whether a configuration fallback is active (1) or not (0)",
		}, []string{"field"}),
	}
}

// RecordLoadTimestamp marks the time of a configuration load.
func (m *ConfigMetrics) RecordLoadTimestamp() {
	m.loadTimestamp.Set(float64(time.Now().Unix()))
}

// RecordValidationError counts a validation failure for a field.
func (m *ConfigMetrics) RecordValidationError(field string) {
	m.validationErrors.WithLabelValues(field).Inc()
}

// RecordFallback counts a fallback applied to a field.
func (m *ConfigMetrics) RecordFallback(field, fallbackType string) {
	m.fallbacks.WithLabelValues(field, fallbackType).Inc()
}

// SetFallbackActive flags whether a field is currently running on its
// fallback value.
func (m *ConfigMetrics) SetFallbackActive(field string, active bool) {
	if active {
		m.fallbackActive.WithLabelValues(field).Set(1)
	} else {
		m.fallbackActive.WithLabelValues(field).Set(0)
	}
}
