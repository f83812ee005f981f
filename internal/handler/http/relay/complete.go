package relay

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"chat-relay/internal/handler/http/requestid"
	"chat-relay/internal/handler/http/respond"
	"chat-relay/internal/infra/completion"
)

// CompleteHandler serves POST /api/relay/complete, the buffered fallback
// for clients that cannot consume SSE.
type CompleteHandler struct {
	Provider completion.Provider
	Logger   *slog.Logger
}

func (h CompleteHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req completeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.SafeError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}
	if req.Prompt == "" {
		respond.SafeError(w, http.StatusBadRequest, errors.New("prompt is required"))
		return
	}

	logger := h.logger().With(slog.String("request_id", requestid.FromContext(r.Context())))

	answer, err := h.Provider.Complete(r.Context(), req.Prompt)
	if err != nil {
		logger.Warn("completion failed",
			slog.String("provider", h.Provider.Name()),
			slog.Any("error", err),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()))
		respond.AppErrorOr(w, http.StatusBadGateway,
			respond.NewAppError(http.StatusBadGateway, "completion failed", err))
		return
	}

	logger.Info("completion served",
		slog.String("provider", h.Provider.Name()),
		slog.Int("answer_chars", len(answer)),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()))

	respond.JSON(w, http.StatusOK, completeResponse{
		Completion: answer,
		Provider:   h.Provider.Name(),
	})
}

func (h CompleteHandler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}
