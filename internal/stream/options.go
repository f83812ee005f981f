package stream

import "time"

// Format selects how the response body is decoded into tokens.
type Format int

const (
	// FormatAuto detects the framing from the first chunk's shape.
	FormatAuto Format = iota

	// FormatSSE decodes server-sent-event lines ("data: <payload>\n").
	FormatSSE

	// FormatText treats each raw chunk as one token.
	FormatText
)

// String returns the format name.
func (f Format) String() string {
	switch f {
	case FormatSSE:
		return "sse"
	case FormatText:
		return "text"
	default:
		return "auto"
	}
}

const (
	// DefaultBackpressureThreshold is the buffered-byte count above which
	// backpressure activates when StartOptions leaves it unset.
	DefaultBackpressureThreshold = 64 * 1024

	// DefaultRetryDelay is the base delay for Retry scheduling when
	// StartOptions leaves it unset.
	DefaultRetryDelay = time.Second
)

// StartOptions configures one streaming session.
type StartOptions struct {
	URL     string
	Method  string
	Body    []byte
	Headers map[string]string

	// OnToken is invoked for every decoded token, in decode order.
	// Panics are caught and logged, never propagated.
	OnToken func(token string)

	// OnComplete is invoked with the full buffer after the last token.
	OnComplete func(buffer string)

	// OnError is invoked on terminal failures.
	OnError func(err error)

	// CorrelationID tags this session's telemetry events.
	CorrelationID string

	// StreamID identifies the session. Generated when empty.
	StreamID string

	// MaxRetries bounds manual Retry calls. Zero disables Retry.
	MaxRetries int

	// RetryDelay is the base delay for Retry backoff.
	RetryDelay time.Duration

	// BackpressureThreshold is the buffered-byte limit before the
	// consumer slows reads. Zero selects DefaultBackpressureThreshold.
	BackpressureThreshold int

	// Format selects the decoding mode.
	Format Format
}

func (o *StartOptions) normalize() {
	if o.Method == "" {
		o.Method = "POST"
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = DefaultRetryDelay
	}
	if o.BackpressureThreshold <= 0 {
		o.BackpressureThreshold = DefaultBackpressureThreshold
	}
}
