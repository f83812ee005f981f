// Package telemetry provides the fire-and-forget event sink used by the
// resilient network core. Trackers record structured operational events
// (circuit transitions, retries, stream lifecycle) and must never panic or
// block the caller.
package telemetry

import (
	"log/slog"
)

// Event names emitted by the core. These are part of the external contract:
// dashboards and tests match on them verbatim.
const (
	EventStreamStarted               = "stream.started"
	EventStreamFirstToken            = "stream.first_token"
	EventStreamCompleted             = "stream.completed"
	EventStreamError                 = "stream.error"
	EventStreamAbortRequested        = "stream.abort_requested"
	EventStreamRetryScheduled        = "stream.retry_scheduled"
	EventStreamRetryMaxExceeded      = "stream.retry_max_exceeded"
	EventStreamBackpressureActivated = "stream.backpressure.activated"
	EventStreamBufferFlushed         = "stream.buffer_flushed"

	EventCircuitStateChanged   = "circuit_breaker.state_changed"
	EventCircuitRequestBlocked = "circuit_breaker.request_blocked"

	EventNetworkRetryScheduled = "network.retry_scheduled"
	EventNetworkBlockedOffline = "network.request_blocked_offline"
	EventNetworkHealthCheck    = "network.health_check"

	// EventConnectivityProbe is emitted by the scheduled reachability
	// monitor. Kept distinct from health_check, whose payload shape
	// belongs to on-demand requester probes.
	EventConnectivityProbe = "network.connectivity_probe"
)

// Tracker records a structured event. Implementations must be safe for
// concurrent use, must not block, and must swallow their own failures:
// telemetry is best effort and can never take the request path down.
type Tracker interface {
	// Track records one event. correlationID may be empty.
	Track(event string, payload map[string]any, correlationID string)
}

// Noop is a Tracker that discards every event. Useful in tests and when
// telemetry is disabled by configuration.
type Noop struct{}

// Track implements Tracker.
func (Noop) Track(string, map[string]any, string) {}

// LogTracker writes events to a structured logger and counts them in
// Prometheus. It is the default production sink.
type LogTracker struct {
	logger  *slog.Logger
	metrics EventMetricsRecorder
}

// NewLogTracker creates a LogTracker backed by the given logger.
// A nil logger falls back to slog.Default().
func NewLogTracker(logger *slog.Logger) *LogTracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogTracker{
		logger:  logger,
		metrics: NewPrometheusEventMetrics(),
	}
}

// Track implements Tracker. Failures inside the sink (including panics from
// unusual payload values) are contained here.
func (t *LogTracker) Track(event string, payload map[string]any, correlationID string) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("telemetry sink panic recovered",
				slog.String("event", event),
				slog.Any("panic", r))
		}
	}()

	t.metrics.RecordEvent(event)

	attrs := make([]any, 0, 2+len(payload)*2)
	attrs = append(attrs, slog.String("event", event))
	if correlationID != "" {
		attrs = append(attrs, slog.String("correlation_id", correlationID))
	}
	for k, v := range payload {
		attrs = append(attrs, slog.Any(k, v))
	}
	t.logger.Info("telemetry event", attrs...)
}

// multiTracker fans one event out to several sinks.
type multiTracker struct {
	trackers []Tracker
}

// Multi combines trackers into one. Nil entries are skipped. With zero usable
// trackers it behaves like Noop.
func Multi(trackers ...Tracker) Tracker {
	filtered := make([]Tracker, 0, len(trackers))
	for _, t := range trackers {
		if t != nil {
			filtered = append(filtered, t)
		}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &multiTracker{trackers: filtered}
}

// Track implements Tracker.
func (m *multiTracker) Track(event string, payload map[string]any, correlationID string) {
	for _, t := range m.trackers {
		t.Track(event, payload, correlationID)
	}
}
