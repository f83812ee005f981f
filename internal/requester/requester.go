// Package requester wraps a single HTTP call with offline detection, a
// circuit breaker, per-attempt timeouts and exponential-backoff retry.
package requester

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"chat-relay/internal/connectivity"
	"chat-relay/internal/resilience/circuitbreaker"
	"chat-relay/internal/resilience/retry"
	"chat-relay/internal/telemetry"
)

// Request describes one outbound HTTP call.
type Request struct {
	URL     string
	Method  string
	Headers map[string]string
	Body    []byte
}

// Response is the buffered result of a successful call.
type Response struct {
	StatusCode int
	Status     string
	Header     http.Header
	Body       []byte
}

// Config holds requester timeouts.
type Config struct {
	// Timeout bounds a single attempt, not the whole retry sequence.
	Timeout time.Duration

	// HealthCheckTimeout bounds a HealthCheck probe.
	HealthCheckTimeout time.Duration
}

// DefaultConfig returns the default requester configuration.
func DefaultConfig() Config {
	return Config{
		Timeout:            30 * time.Second,
		HealthCheckTimeout: 5 * time.Second,
	}
}

// Status is an on-demand snapshot of network health. It is recomputed on
// every call and never cached.
type Status struct {
	Online         bool
	CircuitBreaker circuitbreaker.Metrics
	Connection     ConnectionInfo
}

// ConnectionInfo describes the requester's active transport settings.
type ConnectionInfo struct {
	Timeout            time.Duration
	HealthCheckTimeout time.Duration
	MaxRetries         int
}

// Requester issues HTTP calls with resilience applied around each attempt.
type Requester struct {
	cfg      Config
	retryCfg retry.Config
	breaker  *circuitbreaker.CircuitBreaker
	monitor  *connectivity.Monitor
	client   *http.Client
	logger   *slog.Logger
	tracker  telemetry.Tracker
	metrics  RequestMetricsRecorder

	mu           sync.Mutex
	closed       bool
	unsubscribes []func()
}

// Option configures a Requester.
type Option func(*Requester)

// WithBreaker replaces the default upstream circuit breaker.
func WithBreaker(cb *circuitbreaker.CircuitBreaker) Option {
	return func(r *Requester) { r.breaker = cb }
}

// WithMonitor attaches a connectivity monitor for offline detection.
// Without one the requester assumes it is always online.
func WithMonitor(m *connectivity.Monitor) Option {
	return func(r *Requester) { r.monitor = m }
}

// WithRetryConfig replaces the default retry policy.
func WithRetryConfig(cfg retry.Config) Option {
	return func(r *Requester) { r.retryCfg = cfg }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Requester) { r.client = c }
}

// WithTracker sets the telemetry sink.
func WithTracker(t telemetry.Tracker) Option {
	return func(r *Requester) { r.tracker = t }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Requester) { r.logger = l }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(rec RequestMetricsRecorder) Option {
	return func(r *Requester) { r.metrics = rec }
}

// New creates a Requester.
func New(cfg Config, opts ...Option) *Requester {
	r := &Requester{
		cfg:      cfg,
		retryCfg: retry.UpstreamConfig(),
		logger:   slog.Default(),
		tracker:  telemetry.Noop{},
		client:   &http.Client{},
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.breaker == nil {
		r.breaker = circuitbreaker.New(circuitbreaker.UpstreamConfig(),
			circuitbreaker.WithTracker(r.tracker),
			circuitbreaker.WithLogger(r.logger))
	}
	if r.metrics == nil {
		r.metrics = NewPrometheusRequestMetrics()
	}
	if r.retryCfg.RetryCondition == nil {
		r.retryCfg.RetryCondition = DefaultRetryCondition
	}
	return r
}

// CallOption overrides settings for a single Call.
type CallOption func(*callSettings)

type callSettings struct {
	timeout       time.Duration
	correlationID string
}

// WithCallTimeout overrides the per-attempt timeout for one call.
func WithCallTimeout(d time.Duration) CallOption {
	return func(s *callSettings) { s.timeout = d }
}

// WithCorrelationID tags this call's telemetry events.
func WithCorrelationID(id string) CallOption {
	return func(s *callSettings) { s.correlationID = id }
}

// Call issues the request with offline detection, circuit breaking, a
// per-attempt timeout and retry with exponential backoff. Failures are
// returned as *Error with the taxonomy type set.
func (r *Requester) Call(ctx context.Context, req Request, opts ...CallOption) (*Response, error) {
	settings := callSettings{timeout: r.cfg.Timeout}
	for _, opt := range opts {
		opt(&settings)
	}

	if r.monitor != nil && !r.monitor.Online() {
		r.metrics.RecordRequest("blocked_offline")
		r.tracker.Track(telemetry.EventNetworkBlockedOffline, map[string]any{
			"url": req.URL,
		}, settings.correlationID)
		return nil, &Error{Type: ErrTypeOffline, Message: "no network connectivity"}
	}

	start := time.Now()

	retryCfg := r.retryCfg
	userHook := retryCfg.OnRetry
	retryCfg.OnRetry = func(attempt int, err error) {
		r.metrics.RecordRetry()
		r.tracker.Track(telemetry.EventNetworkRetryScheduled, map[string]any{
			"attempt":  attempt,
			"delay_ms": nominalDelay(retryCfg, attempt).Milliseconds(),
			"url":      req.URL,
		}, settings.correlationID)
		if userHook != nil {
			userHook(attempt, err)
		}
	}

	var resp *Response
	err := retry.WithBackoff(ctx, retryCfg, func() error {
		var attemptErr error
		resp, attemptErr = r.attempt(ctx, req, settings.timeout)
		return attemptErr
	})
	if err != nil {
		r.metrics.RecordRequest("failure")
		r.metrics.RecordDuration(time.Since(start).Seconds())
		return nil, Classify(err)
	}

	r.metrics.RecordRequest("success")
	r.metrics.RecordDuration(time.Since(start).Seconds())
	return resp, nil
}

// attempt runs one request through the circuit breaker with its own timeout.
func (r *Requester) attempt(ctx context.Context, req Request, timeout time.Duration) (*Response, error) {
	result, err := r.breaker.Execute(func() (interface{}, error) {
		return r.do(ctx, req, timeout)
	})
	if err != nil {
		return nil, err
	}
	return result.(*Response), nil
}

func (r *Requester) do(ctx context.Context, req Request, timeout time.Duration) (*Response, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, &Error{Type: ErrTypeNetwork, Message: "build request", Cause: err}
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := r.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &Error{Type: ErrTypeTimeout, Message: "request timed out", Cause: err}
		}
		if errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("request canceled: %w", context.Canceled)
		}
		return nil, &Error{Type: ErrTypeNetwork, Message: err.Error(), Cause: err}
	}
	defer httpResp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &Error{Type: ErrTypeTimeout, Message: "reading response timed out", Cause: err}
		}
		return nil, &Error{Type: ErrTypeNetwork, Message: "read response body", Cause: err}
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, &Error{
			Type:       ErrTypeHTTP,
			StatusCode: httpResp.StatusCode,
			Message:    httpResp.Status,
		}
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Status:     httpResp.Status,
		Header:     httpResp.Header,
		Body:       respBody,
	}, nil
}

// HealthCheck issues a HEAD probe with a short timeout and reports whether
// the target looks healthy. The response body is never read.
func (r *Requester) HealthCheck(ctx context.Context, url string) bool {
	timeout := r.cfg.HealthCheckTimeout
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	payload := map[string]any{"url": url}
	healthy := false

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		payload["error"] = err.Error()
	} else if resp, doErr := r.client.Do(req); doErr != nil {
		payload["error"] = doErr.Error()
	} else {
		resp.Body.Close() //nolint:errcheck
		payload["status"] = resp.StatusCode
		healthy = resp.StatusCode >= 200 && resp.StatusCode < 400
	}

	payload["healthy"] = healthy
	r.metrics.RecordHealthCheck(healthy)
	r.tracker.Track(telemetry.EventNetworkHealthCheck, payload, "")
	return healthy
}

// NetworkStatus returns a fresh snapshot of connectivity and breaker state.
func (r *Requester) NetworkStatus() Status {
	online := true
	if r.monitor != nil {
		online = r.monitor.Online()
	}
	return Status{
		Online:         online,
		CircuitBreaker: r.breaker.Metrics(),
		Connection: ConnectionInfo{
			Timeout:            r.cfg.Timeout,
			HealthCheckTimeout: r.cfg.HealthCheckTimeout,
			MaxRetries:         r.retryCfg.MaxRetries,
		},
	}
}

// OnOnlineStatusChange registers a listener for connectivity flips. The
// returned function unsubscribes it. Without a monitor the listener never
// fires and the unsubscribe is a no-op.
func (r *Requester) OnOnlineStatusChange(fn func(online bool)) func() {
	if r.monitor == nil {
		return func() {}
	}

	unsubscribe := r.monitor.Subscribe(fn)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		unsubscribe()
		return func() {}
	}
	r.unsubscribes = append(r.unsubscribes, unsubscribe)
	return unsubscribe
}

// Close unregisters all connectivity listeners and resets the circuit
// breaker. Idempotent.
func (r *Requester) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	unsubscribes := r.unsubscribes
	r.unsubscribes = nil
	r.mu.Unlock()

	for _, unsubscribe := range unsubscribes {
		unsubscribe()
	}
	r.breaker.Reset()
}

// nominalDelay is the un-jittered backoff delay reported in telemetry.
func nominalDelay(cfg retry.Config, attempt int) time.Duration {
	flat := cfg
	flat.JitterFraction = 0
	return retry.Delay(flat, attempt)
}
