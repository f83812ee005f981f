package relay

import (
	"net/http"
	"time"

	"chat-relay/internal/handler/http/respond"
	"chat-relay/internal/requester"
)

// StatusHandler serves GET /api/network/status with an on-demand snapshot
// of connectivity and circuit breaker state.
type StatusHandler struct {
	Requester *requester.Requester
}

func (h StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	status := h.Requester.NetworkStatus()

	resp := statusResponse{
		Online: status.Online,
		CircuitBreaker: breakerStatus{
			State:        status.CircuitBreaker.State.String(),
			FailureCount: status.CircuitBreaker.FailureCount,
			SuccessCount: status.CircuitBreaker.SuccessCount,
		},
		Connection: connectionInfoPayload{
			TimeoutMS:            status.Connection.Timeout.Milliseconds(),
			HealthCheckTimeoutMS: status.Connection.HealthCheckTimeout.Milliseconds(),
			MaxRetries:           status.Connection.MaxRetries,
		},
	}
	if !status.CircuitBreaker.LastFailureTime.IsZero() {
		resp.CircuitBreaker.LastFailureTime = status.CircuitBreaker.LastFailureTime.Format(time.RFC3339)
	}

	respond.JSON(w, http.StatusOK, resp)
}
