// Package tracing provides OpenTelemetry integration: a named tracer and
// HTTP middleware that opens a server span per request.
package tracing

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// tracer is the global tracer for the relay.
var tracer = otel.Tracer("chat-relay")

// GetTracer returns the relay's tracer for creating spans.
func GetTracer() trace.Tracer {
	return tracer
}
