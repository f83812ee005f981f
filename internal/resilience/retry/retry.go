// Package retry provides retry logic with exponential backoff and jitter.
// It helps handle transient failures gracefully by automatically retrying failed operations.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"net/http"
	"syscall"
	"time"
)

// Config holds the configuration for retry logic.
type Config struct {
	// MaxRetries is the maximum number of retries after the first attempt.
	// Zero disables retrying entirely.
	MaxRetries int

	// BaseDelay is the delay before the first retry. The delay for retry k
	// is BaseDelay * 2^(k-1), capped at MaxDelay.
	BaseDelay time.Duration

	// MaxDelay is the maximum delay between retries.
	MaxDelay time.Duration

	// JitterFraction is the fraction of delay to add as random jitter (0.0 to 1.0).
	JitterFraction float64

	// RetryCondition decides whether an error is worth retrying.
	// Nil falls back to IsRetryable.
	RetryCondition func(err error) bool

	// OnRetry is invoked before each scheduled retry with the attempt
	// number (starting at 1) and the error that triggered it.
	OnRetry func(attempt int, err error)
}

// DefaultConfig returns a default retry configuration.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     3,
		BaseDelay:      1 * time.Second,
		MaxDelay:       30 * time.Second,
		JitterFraction: 0.1,
	}
}

// UpstreamConfig returns configuration for LLM upstream calls.
// Moderate retry because each attempt is expensive.
func UpstreamConfig() Config {
	return Config{
		MaxRetries:     3,
		BaseDelay:      2 * time.Second,
		MaxDelay:       10 * time.Second,
		JitterFraction: 0.1,
	}
}

// ProbeConfig returns configuration for health probes.
// A single fast retry; probes run frequently anyway.
func ProbeConfig() Config {
	return Config{
		MaxRetries:     1,
		BaseDelay:      500 * time.Millisecond,
		MaxDelay:       2 * time.Second,
		JitterFraction: 0.1,
	}
}

// Delay returns the backoff delay for the given retry attempt (1-based):
// BaseDelay * 2^(attempt-1), capped at MaxDelay, plus random jitter.
func Delay(cfg Config, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := cfg.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if cfg.MaxDelay > 0 && delay >= cfg.MaxDelay {
			delay = cfg.MaxDelay
			break
		}
	}
	if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	return addJitter(delay, cfg.JitterFraction)
}

// WithBackoff executes fn with retry logic and exponential backoff.
// It returns nil if fn succeeds, the error unchanged when it is not
// retryable, or a terminal wrapped error once MaxRetries is exhausted.
func WithBackoff(ctx context.Context, cfg Config, fn func() error) error {
	condition := cfg.RetryCondition
	if condition == nil {
		condition = IsRetryable
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		lastErr = fn()

		if lastErr == nil {
			if attempt > 0 {
				slog.Info("operation succeeded after retry",
					slog.Int("retries", attempt))
			}
			return nil
		}

		if !condition(lastErr) {
			slog.Warn("non-retryable error, aborting",
				slog.Int("attempt", attempt+1),
				slog.Any("error", lastErr))
			return lastErr
		}

		if attempt >= cfg.MaxRetries {
			break
		}

		retryAttempt := attempt + 1
		delay := Delay(cfg, retryAttempt)

		slog.Warn("operation failed, retrying",
			slog.Int("attempt", retryAttempt),
			slog.Int("max_retries", cfg.MaxRetries),
			slog.Duration("delay", delay),
			slog.Any("error", lastErr))

		if cfg.OnRetry != nil {
			cfg.OnRetry(retryAttempt, lastErr)
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("retry aborted: %w", ctx.Err())
		}
	}

	return fmt.Errorf("max retry attempts (%d) exceeded: %w", cfg.MaxRetries, lastErr)
}

// IsRetryable determines if an error is worth retrying.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	// Caller cancellation is never retryable.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	// Network errors (timeout)
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	// Connection-level syscall errors
	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ETIMEDOUT) ||
		errors.Is(err, syscall.ENETUNREACH) {
		return true
	}

	// HTTP status codes
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.StatusCode >= 500 && httpErr.StatusCode < 600 {
			return true
		}
		if httpErr.StatusCode == http.StatusTooManyRequests {
			return true
		}
		if httpErr.StatusCode == http.StatusRequestTimeout {
			return true
		}
	}

	return false
}

// HTTPError represents an HTTP error with status code.
type HTTPError struct {
	StatusCode int
	Message    string
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// addJitter adds random jitter to a duration to prevent thundering herd.
func addJitter(duration time.Duration, jitterFraction float64) time.Duration {
	if jitterFraction <= 0 {
		return duration
	}
	if jitterFraction > 1.0 {
		jitterFraction = 1.0
	}
	// #nosec G404 -- Using math/rand is acceptable for jitter calculation.
	// Cryptographic randomness is not required for retry backoff jitter.
	jitter := time.Duration(rand.Float64() * float64(duration) * jitterFraction)
	return duration + jitter
}
