package requester

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"chat-relay/internal/resilience/circuitbreaker"
	"chat-relay/internal/resilience/retry"
)

// ErrorType classifies request failures.
type ErrorType string

const (
	// ErrTypeNetwork means the call never reached the server.
	ErrTypeNetwork ErrorType = "network_error"

	// ErrTypeHTTP means the server responded with a non-2xx status.
	ErrTypeHTTP ErrorType = "http_error"

	// ErrTypeCircuitOpen means the circuit breaker rejected the call.
	ErrTypeCircuitOpen ErrorType = "circuit_open"

	// ErrTypeOffline means the connectivity check pre-empted the call.
	ErrTypeOffline ErrorType = "offline"

	// ErrTypeTimeout means the call exceeded its deadline.
	ErrTypeTimeout ErrorType = "timeout"

	// ErrTypeCallback means a caller-supplied handler panicked.
	// Always caught and logged, never propagated.
	ErrTypeCallback ErrorType = "callback_error"
)

// Error is the typed failure surfaced by the requester.
type Error struct {
	Type       ErrorType
	StatusCode int
	Message    string
	Cause      error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s (HTTP %d): %s", e.Type, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Classify maps an arbitrary error onto the requester taxonomy. Already
// typed errors pass through unchanged.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var typed *Error
	if errors.As(err, &typed) {
		return typed
	}

	if errors.Is(err, circuitbreaker.ErrOpenState) {
		return &Error{Type: ErrTypeCircuitOpen, Message: "circuit breaker is open", Cause: err}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Type: ErrTypeTimeout, Message: "request timed out", Cause: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Type: ErrTypeTimeout, Message: "request timed out", Cause: err}
	}

	var httpErr *retry.HTTPError
	if errors.As(err, &httpErr) {
		return &Error{
			Type:       ErrTypeHTTP,
			StatusCode: httpErr.StatusCode,
			Message:    httpErr.Message,
			Cause:      err,
		}
	}

	return &Error{Type: ErrTypeNetwork, Message: err.Error(), Cause: err}
}

// DefaultRetryCondition is the retry policy used when callers do not
// supply their own. Transient transport failures and retryable HTTP
// statuses are retried; pre-empted and application-level failures are not.
func DefaultRetryCondition(err error) bool {
	var typed *Error
	if !errors.As(err, &typed) {
		return retry.IsRetryable(err)
	}

	switch typed.Type {
	case ErrTypeNetwork, ErrTypeTimeout:
		return true
	case ErrTypeHTTP:
		return typed.StatusCode >= 500 ||
			typed.StatusCode == http.StatusTooManyRequests ||
			typed.StatusCode == http.StatusRequestTimeout
	default:
		// offline, circuit_open and callback errors will not improve
		// on an immediate retry.
		return false
	}
}
