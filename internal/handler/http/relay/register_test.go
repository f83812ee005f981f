package relay

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-relay/internal/requester"
	"chat-relay/internal/stream"
)

func TestStreamHandlerMaxRetries(t *testing.T) {
	h := StreamHandler{Defaults: StreamDefaults{MaxRetries: 3}}

	assert.Equal(t, 3, h.maxRetries(streamRequest{}), "server default applies when the request is silent")
	assert.Equal(t, 5, h.maxRetries(streamRequest{MaxRetries: 5}), "request override wins")
	assert.Equal(t, 0, StreamHandler{}.maxRetries(streamRequest{}), "no default, no retries")
}

func TestRegisterTimeoutWrapsBufferedRoutesOnly(t *testing.T) {
	req := requester.New(requester.Config{
		Timeout:            time.Second,
		HealthCheckTimeout: time.Second,
	}, requester.WithMetrics(nopRequestMetrics{}))
	t.Cleanup(req.Close)

	marker := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Deadline", "1")
			next.ServeHTTP(w, r)
		})
	}

	mux := http.NewServeMux()
	Register(mux, Deps{
		NewConsumer:      func() *stream.Consumer { return stream.NewConsumer(stream.WithMetrics(nopStreamMetrics{})) },
		Provider:         stubProvider{answer: "ok"},
		Requester:        req,
		NonStreamTimeout: marker,
	})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/network/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("X-Deadline"), "status endpoint gets the deadline")

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/relay/complete", strings.NewReader(`{"prompt": "hi"}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("X-Deadline"), "complete endpoint gets the deadline")

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/relay/stream", strings.NewReader(`{}`)))
	assert.Empty(t, rec.Header().Get("X-Deadline"), "streaming endpoint stays unbounded")
}

func TestRegisterWithoutTimeout(t *testing.T) {
	req := requester.New(requester.Config{
		Timeout:            time.Second,
		HealthCheckTimeout: time.Second,
	}, requester.WithMetrics(nopRequestMetrics{}))
	t.Cleanup(req.Close)

	mux := http.NewServeMux()
	Register(mux, Deps{Requester: req})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/network/status", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
