// Package circuitbreaker provides a circuit breaker for upstream calls.
// It sheds load from a failing dependency after a run of consecutive
// failures and probes recovery with trial calls after a cooldown.
package circuitbreaker

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"chat-relay/internal/telemetry"
)

// ErrOpenState is returned when a call is rejected because the circuit is
// open. The wrapped operation is never invoked in that case.
var ErrOpenState = errors.New("circuit breaker is open")

// State represents the circuit breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config holds the configuration for a circuit breaker.
type Config struct {
	// Name is the circuit breaker name for logging, metrics and telemetry.
	Name string

	// FailureThreshold is the number of consecutive failures in closed
	// state that trips the circuit open.
	FailureThreshold int

	// RecoveryTimeout is how long the circuit stays open before the next
	// incoming call is allowed through as a half-open trial.
	RecoveryTimeout time.Duration

	// SuccessThreshold is the number of consecutive half-open successes
	// required to close the circuit again.
	SuccessThreshold int
}

// DefaultConfig returns a default configuration for circuit breakers.
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
		SuccessThreshold: 2,
	}
}

// UpstreamConfig returns configuration tuned for the LLM upstream.
// Streaming requests are expensive, so the circuit trips early.
func UpstreamConfig() Config {
	return Config{
		Name:             "llm-upstream",
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
		SuccessThreshold: 2,
	}
}

// ProbeConfig returns configuration for lightweight health probes.
// Probes are cheap and frequent, so recovery is retried sooner.
func ProbeConfig() Config {
	return Config{
		Name:             "upstream-probe",
		FailureThreshold: 3,
		RecoveryTimeout:  10 * time.Second,
		SuccessThreshold: 1,
	}
}

// Metrics is a point-in-time snapshot of breaker counters.
type Metrics struct {
	State           State
	FailureCount    int
	SuccessCount    int
	LastFailureTime time.Time
}

// CircuitBreaker implements the closed/open/half-open state machine.
// State transitions happen only inside the call path; there is no background
// timer. The open-to-half-open move is lazy: the first call arriving after
// RecoveryTimeout has elapsed performs it before executing.
type CircuitBreaker struct {
	cfg     Config
	tracker telemetry.Tracker
	logger  *slog.Logger
	metrics StateMetricsRecorder

	mu          sync.Mutex
	state       State
	failures    int
	successes   int
	lastFailure time.Time
}

// Option customizes a circuit breaker.
type Option func(*CircuitBreaker)

// WithTracker sets the telemetry sink for state changes and blocked calls.
func WithTracker(tracker telemetry.Tracker) Option {
	return func(cb *CircuitBreaker) {
		if tracker != nil {
			cb.tracker = tracker
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(cb *CircuitBreaker) {
		if logger != nil {
			cb.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(recorder StateMetricsRecorder) Option {
	return func(cb *CircuitBreaker) {
		if recorder != nil {
			cb.metrics = recorder
		}
	}
}

// New creates a new circuit breaker with the given configuration.
func New(cfg Config, opts ...Option) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 60 * time.Second
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}

	cb := &CircuitBreaker{
		cfg:     cfg,
		tracker: telemetry.Noop{},
		logger:  slog.Default(),
		metrics: NewPrometheusStateMetrics(),
		state:   StateClosed,
	}
	for _, opt := range opts {
		opt(cb)
	}
	cb.metrics.RecordState(cfg.Name, StateClosed)
	return cb
}

// Name returns the name of the circuit breaker.
func (cb *CircuitBreaker) Name() string {
	return cb.cfg.Name
}

// Execute runs fn if the circuit accepts the call. Any error from fn counts
// as a failure; a nil error counts as a success, regardless of the payload.
// When the circuit is open the call is rejected with ErrOpenState and fn is
// never invoked.
func (cb *CircuitBreaker) Execute(fn func() (interface{}, error)) (interface{}, error) {
	if err := cb.beforeCall(); err != nil {
		return nil, err
	}

	result, err := fn()
	cb.afterCall(err == nil)
	return result, err
}

// State returns the current state of the circuit breaker.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// IsOpen returns true if the circuit breaker is in the open state.
func (cb *CircuitBreaker) IsOpen() bool {
	return cb.State() == StateOpen
}

// Metrics returns a snapshot of the breaker counters.
func (cb *CircuitBreaker) Metrics() Metrics {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Metrics{
		State:           cb.state,
		FailureCount:    cb.failures,
		SuccessCount:    cb.successes,
		LastFailureTime: cb.lastFailure,
	}
}

// Reset forces the circuit closed with zeroed counters regardless of the
// current state. No failure-path telemetry is emitted.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = StateClosed
	cb.failures = 0
	cb.successes = 0
	cb.lastFailure = time.Time{}
	cb.metrics.RecordState(cb.cfg.Name, StateClosed)
}

// beforeCall decides whether the incoming call may proceed, applying the
// lazy open-to-half-open transition.
func (cb *CircuitBreaker) beforeCall() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed, StateHalfOpen:
		return nil
	case StateOpen:
		if time.Since(cb.lastFailure) >= cb.cfg.RecoveryTimeout {
			cb.transition(StateHalfOpen)
			cb.successes = 0
			return nil
		}
		cb.metrics.RecordBlocked(cb.cfg.Name)
		cb.tracker.Track(telemetry.EventCircuitRequestBlocked, map[string]any{
			"circuit": cb.cfg.Name,
		}, "")
		return ErrOpenState
	default:
		return ErrOpenState
	}
}

// afterCall records the outcome of an executed call.
func (cb *CircuitBreaker) afterCall(success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if success {
		cb.onSuccess()
	} else {
		cb.onFailure()
	}
}

func (cb *CircuitBreaker) onSuccess() {
	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		cb.successes++
		if cb.successes >= cb.cfg.SuccessThreshold {
			cb.transition(StateClosed)
			cb.failures = 0
			cb.successes = 0
		}
	}
}

func (cb *CircuitBreaker) onFailure() {
	cb.lastFailure = time.Now()

	switch cb.state {
	case StateClosed:
		cb.failures++
		if cb.failures >= cb.cfg.FailureThreshold {
			cb.transition(StateOpen)
		}
	case StateHalfOpen:
		// A single failed trial reopens the circuit.
		cb.successes = 0
		cb.transition(StateOpen)
	}
}

// transition changes state and reports it. Callers hold the mutex.
func (cb *CircuitBreaker) transition(to State) {
	if cb.state == to {
		return
	}
	from := cb.state
	cb.state = to

	cb.logger.Warn("circuit breaker state changed",
		slog.String("circuit", cb.cfg.Name),
		slog.String("from", from.String()),
		slog.String("to", to.String()))
	cb.metrics.RecordState(cb.cfg.Name, to)
	cb.metrics.RecordTransition(cb.cfg.Name, from, to)
	cb.tracker.Track(telemetry.EventCircuitStateChanged, map[string]any{
		"circuit": cb.cfg.Name,
		"from":    from.String(),
		"to":      to.String(),
	}, "")
}
