// Package relay exposes the relay core over HTTP: a streaming endpoint
// that re-frames upstream tokens as SSE, a buffered completion fallback
// and a network status snapshot.
package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"chat-relay/internal/handler/http/requestid"
	"chat-relay/internal/handler/http/respond"
	"chat-relay/internal/stream"
)

// StreamDefaults carries server-side session tuning applied when the
// client request does not override it.
type StreamDefaults struct {
	BackpressureThreshold int
	RetryDelay            time.Duration
	MaxRetries            int
}

// StreamHandler serves POST /api/relay/stream. Each request gets its own
// consumer so concurrent clients cannot supersede each other's sessions.
type StreamHandler struct {
	// Upstream is the streaming endpoint tokens are read from.
	Upstream string

	// NewConsumer builds a consumer per request.
	NewConsumer func() *stream.Consumer

	// Defaults tunes sessions that do not set their own knobs.
	Defaults StreamDefaults

	Logger *slog.Logger
}

// maxRetries resolves the session retry cap. A positive request value
// overrides the server default.
func (h StreamHandler) maxRetries(req streamRequest) int {
	if req.MaxRetries > 0 {
		return req.MaxRetries
	}
	return h.Defaults.MaxRetries
}

func (h StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req streamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.SafeError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}
	if req.Prompt == "" {
		respond.SafeError(w, http.StatusBadRequest, errors.New("prompt is required"))
		return
	}
	format, err := parseFormat(req.Format)
	if err != nil {
		respond.SafeError(w, http.StatusBadRequest, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respond.SafeError(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}

	body, err := json.Marshal(map[string]string{"prompt": req.Prompt})
	if err != nil {
		respond.SafeError(w, http.StatusInternalServerError, err)
		return
	}

	logger := h.logger().With(slog.String("request_id", requestid.FromContext(r.Context())))

	consumer := h.NewConsumer()
	defer consumer.Dispose()

	// The read loop blocks on this channel, which gives the client's
	// write speed natural flow control over upstream reads.
	tokens := make(chan string, 64)
	done := make(chan error, 1)

	// Closed when the handler returns so a blocked token delivery cannot
	// leak the consumer's read goroutine after a client disconnect.
	quit := make(chan struct{})
	defer close(quit)

	headers := map[string]string{"Content-Type": "application/json"}
	for k, v := range req.Headers {
		headers[k] = v
	}

	if err := consumer.Start(stream.StartOptions{
		URL:                   h.Upstream,
		Body:                  body,
		Headers:               headers,
		Format:                format,
		MaxRetries:            h.maxRetries(req),
		RetryDelay:            h.Defaults.RetryDelay,
		BackpressureThreshold: h.Defaults.BackpressureThreshold,
		CorrelationID:         requestid.FromContext(r.Context()),
		OnToken: func(tok string) {
			select {
			case tokens <- tok:
			case <-quit:
			}
		},
		OnComplete: func(string) { done <- nil },
		OnError:    func(err error) { done <- err },
	}); err != nil {
		respond.SafeError(w, http.StatusServiceUnavailable, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			consumer.Abort()
			logger.Info("client disconnected, stream aborted")
			return

		case tok := <-tokens:
			writeSSEToken(w, tok)
			flusher.Flush()

		case err := <-done:
			// Drain tokens delivered before the terminal callback.
			for {
				select {
				case tok := <-tokens:
					writeSSEToken(w, tok)
				default:
					if err != nil {
						logger.Warn("stream failed", slog.Any("error", err))
						fmt.Fprintf(w, "data: %s\n\n", errorFrame(err))
					} else {
						fmt.Fprint(w, "data: [DONE]\n\n")
					}
					flusher.Flush()
					return
				}
			}
		}
	}
}

func (h StreamHandler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

func writeSSEToken(w http.ResponseWriter, tok string) {
	frame, err := json.Marshal(map[string]string{"token": tok})
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", frame)
}

func errorFrame(err error) []byte {
	frame, merr := json.Marshal(map[string]string{"error": respond.SanitizeError(err)})
	if merr != nil {
		return []byte(`{"error":"stream failed"}`)
	}
	return frame
}

func parseFormat(s string) (stream.Format, error) {
	switch s {
	case "", "auto":
		return stream.FormatAuto, nil
	case "sse":
		return stream.FormatSSE, nil
	case "text":
		return stream.FormatText, nil
	default:
		return stream.FormatAuto, fmt.Errorf("format must be auto, sse or text")
	}
}
