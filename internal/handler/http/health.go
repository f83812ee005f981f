// Package http wires the relay's HTTP surface: route registration, the
// middleware chain and operational endpoints.
package http

import (
	"net/http"
	"time"

	"chat-relay/internal/handler/http/respond"
	"chat-relay/internal/requester"
)

// HealthResponse is the body of health endpoints.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Online    *bool  `json:"online,omitempty"`
	Upstream  string `json:"upstream,omitempty"`
	LatencyMS *int64 `json:"latency_ms,omitempty"`
}

// HealthHandler serves liveness and upstream health probes.
type HealthHandler struct {
	Requester   *requester.Requester
	UpstreamURL string
}

// Health reports process liveness. GET /health always returns 200 while
// the server can serve requests; upstream reachability is reported as a
// field, not a failure, so orchestrators do not restart the relay when
// the upstream is down.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	online := h.Requester.NetworkStatus().Online
	respond.JSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Online:    &online,
	})
}

// Upstream actively probes the upstream endpoint. GET /health/upstream
// returns 200 when the probe succeeds and 503 otherwise.
func (h *HealthHandler) Upstream(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	healthy := h.Requester.HealthCheck(r.Context(), h.UpstreamURL)
	latency := time.Since(start).Milliseconds()

	resp := HealthResponse{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Upstream:  h.UpstreamURL,
		LatencyMS: &latency,
	}
	if healthy {
		resp.Status = "ok"
		respond.JSON(w, http.StatusOK, resp)
		return
	}
	resp.Status = "unhealthy"
	respond.JSON(w, http.StatusServiceUnavailable, resp)
}
