package relay

import (
	"log/slog"
	"net/http"

	"chat-relay/internal/infra/completion"
	"chat-relay/internal/requester"
	"chat-relay/internal/stream"
)

// Deps carries the relay core components the handlers are built from.
type Deps struct {
	// Upstream is the streaming endpoint the relay reads tokens from.
	Upstream string

	// NewConsumer builds a stream consumer per request.
	NewConsumer func() *stream.Consumer

	// Provider serves the buffered completion fallback.
	Provider completion.Provider

	// Requester backs the network status endpoint.
	Requester *requester.Requester

	// Stream tunes sessions that do not set their own knobs.
	Stream StreamDefaults

	// NonStreamTimeout wraps the buffered endpoints with a request
	// deadline. The streaming endpoint is exempt: its lifetime is bound
	// to the client connection, not a fixed deadline. Nil disables it.
	NonStreamTimeout func(http.Handler) http.Handler

	Logger *slog.Logger
}

// Register registers the relay API routes with the given mux.
func Register(mux *http.ServeMux, deps Deps) {
	wrap := deps.NonStreamTimeout
	if wrap == nil {
		wrap = func(next http.Handler) http.Handler { return next }
	}

	mux.Handle("POST /api/relay/stream", StreamHandler{
		Upstream:    deps.Upstream,
		NewConsumer: deps.NewConsumer,
		Defaults:    deps.Stream,
		Logger:      deps.Logger,
	})
	mux.Handle("POST /api/relay/complete", wrap(CompleteHandler{
		Provider: deps.Provider,
		Logger:   deps.Logger,
	}))
	mux.Handle("GET /api/network/status", wrap(StatusHandler{
		Requester: deps.Requester,
	}))
}
