// Package stream drives a long-lived chunked HTTP response, decoding
// tokens incrementally and applying backpressure once buffered output
// grows past a threshold. Callers supply token/completion/error handlers;
// handler panics are isolated and never corrupt session state.
package stream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"chat-relay/internal/requester"
	"chat-relay/internal/telemetry"
)

// ErrDisposed is returned once Dispose has been called.
var ErrDisposed = errors.New("stream consumer is disposed")

// backpressureTick is how long the read loop yields between reads while
// backpressure is active.
const backpressureTick = 5 * time.Millisecond

// readChunkSize is the read buffer size for the response body.
const readChunkSize = 4096

// Metrics is a snapshot of the active session's timing counters.
type Metrics struct {
	StartTime      time.Time
	FirstTokenTime time.Time
	BytesReceived  int
}

// Consumer owns at most one active streaming session. Starting a new
// session cancels and fully drains the previous one before any state is
// reset, so two sessions never interleave writes.
type Consumer struct {
	logger  *slog.Logger
	tracker telemetry.Tracker
	metrics StreamMetricsRecorder
	client  *http.Client

	mu         sync.Mutex
	disposed   bool
	generation uint64
	cancel     context.CancelFunc
	loopDone   chan struct{}
	timers     map[*time.Timer]struct{}

	opts       StartOptions
	retryCount int

	buffer        []byte
	tokenCount    int
	isStreaming   bool
	isAborted     bool
	err           error
	backpressure  bool
	startTime     time.Time
	firstTokenAt  time.Time
	bytesReceived int
}

// Option configures a Consumer.
type Option func(*Consumer)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Consumer) { c.logger = l }
}

// WithTracker sets the telemetry sink.
func WithTracker(t telemetry.Tracker) Option {
	return func(c *Consumer) { c.tracker = t }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(rec StreamMetricsRecorder) Option {
	return func(c *Consumer) { c.metrics = rec }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Consumer) { c.client = client }
}

// NewConsumer creates a Consumer.
func NewConsumer(opts ...Option) *Consumer {
	c := &Consumer{
		logger:  slog.Default(),
		tracker: telemetry.Noop{},
		client:  &http.Client{},
		timers:  make(map[*time.Timer]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = NewPrometheusStreamMetrics()
	}
	return c
}

// Start begins a new streaming session, superseding any active one. The
// prior session's read loop is fully stopped before state is reset.
func (c *Consumer) Start(opts StartOptions) error {
	return c.start(opts, true)
}

func (c *Consumer) start(opts StartOptions, fresh bool) error {
	opts.normalize()
	if opts.URL == "" {
		return errors.New("stream: URL is required")
	}
	if opts.StreamID == "" {
		opts.StreamID = uuid.NewString()
	}

	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return ErrDisposed
	}
	if c.cancel != nil {
		c.cancel()
	}
	prevDone := c.loopDone
	c.mu.Unlock()

	// Wait for the superseded read loop to exit before touching state.
	if prevDone != nil {
		<-prevDone
	}

	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return ErrDisposed
	}
	c.generation++
	gen := c.generation

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.cancel = cancel
	c.loopDone = done
	c.opts = opts
	if fresh {
		c.retryCount = 0
	}
	c.buffer = nil
	c.tokenCount = 0
	c.isStreaming = true
	c.isAborted = false
	c.err = nil
	c.backpressure = false
	c.startTime = time.Now()
	c.firstTokenAt = time.Time{}
	c.bytesReceived = 0
	c.mu.Unlock()

	c.metrics.RecordStream("started")
	c.tracker.Track(telemetry.EventStreamStarted, map[string]any{
		"url":       opts.URL,
		"stream_id": opts.StreamID,
		"format":    opts.Format.String(),
	}, opts.CorrelationID)

	go c.run(ctx, gen, opts, done)
	return nil
}

func (c *Consumer) run(ctx context.Context, gen uint64, opts StartOptions, done chan struct{}) {
	defer close(done)

	var body io.Reader
	if len(opts.Body) > 0 {
		body = bytes.NewReader(opts.Body)
	}
	req, err := http.NewRequestWithContext(ctx, opts.Method, opts.URL, body)
	if err != nil {
		c.fail(gen, opts, &requester.Error{
			Type: requester.ErrTypeNetwork, Message: "build request", Cause: err,
		})
		return
	}
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		c.fail(gen, opts, &requester.Error{
			Type: requester.ErrTypeNetwork, Message: err.Error(), Cause: err,
		})
		return
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.fail(gen, opts, &requester.Error{
			Type:       requester.ErrTypeHTTP,
			StatusCode: resp.StatusCode,
			Message:    resp.Status,
		})
		return
	}

	dec := newDecoder(opts.Format)
	buf := make([]byte, readChunkSize)
	for {
		// While backpressure is active each further read is deferred by
		// one tick so the downstream consumer can catch up.
		if c.throttled(gen) {
			select {
			case <-ctx.Done():
				return
			case <-time.After(backpressureTick):
			}
		}

		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			tokens, sentinel := dec.push(string(buf[:n]))
			if !c.deliver(gen, opts, tokens, n) {
				return
			}
			if sentinel {
				c.complete(gen, opts)
				return
			}
		}
		if readErr == io.EOF {
			c.complete(gen, opts)
			return
		}
		if readErr != nil {
			if ctx.Err() != nil {
				return
			}
			c.fail(gen, opts, &requester.Error{
				Type: requester.ErrTypeNetwork, Message: "read stream", Cause: readErr,
			})
			return
		}
	}
}

func (c *Consumer) throttled(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation == gen && c.backpressure
}

// deliver applies one chunk's tokens to the session and invokes OnToken
// for each. Returns false when the session has been superseded or aborted.
func (c *Consumer) deliver(gen uint64, opts StartOptions, tokens []string, chunkBytes int) bool {
	c.mu.Lock()
	if c.generation != gen || c.isAborted {
		c.mu.Unlock()
		return false
	}
	c.bytesReceived += chunkBytes

	first := false
	activated := false
	for _, tok := range tokens {
		c.buffer = append(c.buffer, tok...)
		c.tokenCount++
		if c.firstTokenAt.IsZero() {
			c.firstTokenAt = time.Now()
			first = true
		}
		if !c.backpressure && len(c.buffer) > opts.BackpressureThreshold {
			c.backpressure = true
			activated = true
		}
	}
	c.mu.Unlock()

	c.metrics.RecordBytes(chunkBytes)
	if len(tokens) > 0 {
		c.metrics.RecordTokens(len(tokens))
	}
	if first {
		c.tracker.Track(telemetry.EventStreamFirstToken, map[string]any{
			"stream_id": opts.StreamID,
		}, opts.CorrelationID)
	}
	if activated {
		c.metrics.RecordBackpressure()
		c.tracker.Track(telemetry.EventStreamBackpressureActivated, map[string]any{
			"threshold": opts.BackpressureThreshold,
		}, opts.CorrelationID)
	}

	if opts.OnToken != nil {
		for _, tok := range tokens {
			tok := tok
			c.invoke("on_token", func() { opts.OnToken(tok) })
		}
	}
	return true
}

func (c *Consumer) fail(gen uint64, opts StartOptions, failure *requester.Error) {
	c.mu.Lock()
	if c.generation != gen || c.isAborted {
		c.mu.Unlock()
		return
	}
	c.err = failure
	c.isStreaming = false
	c.mu.Unlock()

	c.metrics.RecordStream("error")
	c.tracker.Track(telemetry.EventStreamError, map[string]any{
		"stream_id":  opts.StreamID,
		"error_type": errorTypeTag(failure),
	}, opts.CorrelationID)
	c.logger.Error("stream failed",
		slog.String("stream_id", opts.StreamID),
		slog.Any("error", failure))

	if opts.OnError != nil {
		c.invoke("on_error", func() { opts.OnError(failure) })
	}
}

func (c *Consumer) complete(gen uint64, opts StartOptions) {
	c.mu.Lock()
	if c.generation != gen || c.isAborted {
		c.mu.Unlock()
		return
	}
	c.isStreaming = false
	buffer := string(c.buffer)
	tokenCount := c.tokenCount
	bytesReceived := c.bytesReceived
	duration := time.Since(c.startTime)
	c.mu.Unlock()

	c.metrics.RecordStream("completed")
	c.tracker.Track(telemetry.EventStreamCompleted, map[string]any{
		"stream_id":      opts.StreamID,
		"token_count":    tokenCount,
		"bytes_received": bytesReceived,
		"duration_ms":    duration.Milliseconds(),
	}, opts.CorrelationID)

	if opts.OnComplete != nil {
		c.invoke("on_complete", func() { opts.OnComplete(buffer) })
	}
}

// Abort stops the in-flight read. The buffer is retained.
func (c *Consumer) Abort() {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.isAborted = true
	c.isStreaming = false
	cancel := c.cancel
	opts := c.opts
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.metrics.RecordStream("aborted")
	c.tracker.Track(telemetry.EventStreamAbortRequested, map[string]any{
		"stream_id": opts.StreamID,
	}, opts.CorrelationID)
}

// Retry re-runs the last session after its terminal error, with backoff
// delay retryDelay * 2^(retryCount-1). Only valid after a stream error.
func (c *Consumer) Retry() error {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return ErrDisposed
	}
	if c.err == nil || c.isStreaming {
		c.mu.Unlock()
		return errors.New("stream: retry is only valid after a terminal error")
	}
	opts := c.opts
	if c.retryCount >= opts.MaxRetries {
		c.mu.Unlock()
		c.tracker.Track(telemetry.EventStreamRetryMaxExceeded, map[string]any{
			"stream_id":   opts.StreamID,
			"max_retries": opts.MaxRetries,
		}, opts.CorrelationID)
		return fmt.Errorf("stream: max retries (%d) exceeded", opts.MaxRetries)
	}
	c.retryCount++
	count := c.retryCount
	c.mu.Unlock()

	delay := opts.RetryDelay * (1 << (count - 1))
	c.metrics.RecordRetry()
	c.tracker.Track(telemetry.EventStreamRetryScheduled, map[string]any{
		"stream_id":   opts.StreamID,
		"retry_count": count,
		"delay_ms":    delay.Milliseconds(),
	}, opts.CorrelationID)

	c.schedule(delay, func() {
		if err := c.start(opts, false); err != nil {
			c.logger.Error("stream retry failed to start",
				slog.String("stream_id", opts.StreamID),
				slog.Any("error", err))
		}
	})
	return nil
}

// Append adds text to the buffer as one synthetic token. No network state
// is touched; backpressure is re-evaluated.
func (c *Consumer) Append(text string) {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.buffer = append(c.buffer, text...)
	c.tokenCount++
	threshold := c.opts.BackpressureThreshold
	if threshold <= 0 {
		threshold = DefaultBackpressureThreshold
	}
	activated := false
	if !c.backpressure && len(c.buffer) > threshold {
		c.backpressure = true
		activated = true
	}
	corrID := c.opts.CorrelationID
	c.mu.Unlock()

	if activated {
		c.metrics.RecordBackpressure()
		c.tracker.Track(telemetry.EventStreamBackpressureActivated, map[string]any{
			"threshold": threshold,
		}, corrID)
	}
}

// Flush empties the buffer and clears backpressure. Token counts and
// timing metrics are untouched.
func (c *Consumer) Flush() {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.buffer = nil
	c.backpressure = false
	corrID := c.opts.CorrelationID
	streamID := c.opts.StreamID
	c.mu.Unlock()

	c.tracker.Track(telemetry.EventStreamBufferFlushed, map[string]any{
		"stream_id": streamID,
	}, corrID)
}

// Dispose cancels any in-flight read and all pending timers. Idempotent;
// further Start calls are rejected.
func (c *Consumer) Dispose() {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.disposed = true
	cancel := c.cancel
	timers := make([]*time.Timer, 0, len(c.timers))
	for timer := range c.timers {
		timers = append(timers, timer)
	}
	c.timers = make(map[*time.Timer]struct{})
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	for _, timer := range timers {
		timer.Stop()
	}
}

// schedule runs fn after delay via a timer owned by the consumer, so
// Dispose can cancel it deterministically.
func (c *Consumer) schedule(delay time.Duration, fn func()) {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		delete(c.timers, timer)
		disposed := c.disposed
		c.mu.Unlock()
		if !disposed {
			fn()
		}
	})
	c.timers[timer] = struct{}{}
	c.mu.Unlock()
}

// invoke runs a caller-supplied handler with panic isolation. A handler
// panic is logged and recorded but never reaches the read loop.
func (c *Consumer) invoke(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.metrics.RecordCallbackPanic(name)
			c.logger.Error("stream callback panicked",
				slog.String("callback", name),
				slog.Any("panic", r))
		}
	}()
	fn()
}

// Buffer returns the accumulated token text.
func (c *Consumer) Buffer() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return string(c.buffer)
}

// BufferSize returns the buffered byte count.
func (c *Consumer) BufferSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buffer)
}

// TokenCount returns the number of tokens seen this session, including
// synthetic ones added via Append.
func (c *Consumer) TokenCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tokenCount
}

// IsStreaming reports whether a session is actively reading.
func (c *Consumer) IsStreaming() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isStreaming
}

// IsAborted reports whether the current session was aborted.
func (c *Consumer) IsAborted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isAborted
}

// Err returns the session's terminal error, if any.
func (c *Consumer) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// RetryCount returns how many retries the current session has consumed.
func (c *Consumer) RetryCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retryCount
}

// BackpressureActive reports whether the consumer is throttling reads.
func (c *Consumer) BackpressureActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.backpressure
}

// StreamMetrics returns a snapshot of the session's timing counters.
func (c *Consumer) StreamMetrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Metrics{
		StartTime:      c.startTime,
		FirstTokenTime: c.firstTokenAt,
		BytesReceived:  c.bytesReceived,
	}
}

func errorTypeTag(err *requester.Error) string {
	if err.Type == requester.ErrTypeHTTP && err.StatusCode != 0 {
		return strconv.Itoa(err.StatusCode)
	}
	return string(err.Type)
}
