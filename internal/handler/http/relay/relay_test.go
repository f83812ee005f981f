package relay

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-relay/internal/stream"
)

type nopStreamMetrics struct{}

func (nopStreamMetrics) RecordStream(string)        {}
func (nopStreamMetrics) RecordTokens(int)           {}
func (nopStreamMetrics) RecordBytes(int)            {}
func (nopStreamMetrics) RecordBackpressure()        {}
func (nopStreamMetrics) RecordRetry()               {}
func (nopStreamMetrics) RecordCallbackPanic(string) {}

// upstreamServer emits the given SSE payload lines followed by [DONE].
func upstreamServer(t *testing.T, tokens []string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, tok := range tokens {
			fmt.Fprintf(w, "data: {\"token\": %q}\n", tok)
			flusher.Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n")
		flusher.Flush()
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newStreamHandler(upstream string) StreamHandler {
	return StreamHandler{
		Upstream: upstream,
		NewConsumer: func() *stream.Consumer {
			return stream.NewConsumer(stream.WithMetrics(nopStreamMetrics{}))
		},
	}
}

// sseFrames parses "data: ..." payloads from an SSE body.
func sseFrames(body string) []string {
	var frames []string
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		if payload, ok := strings.CutPrefix(line, "data: "); ok {
			frames = append(frames, payload)
		}
	}
	return frames
}

func postJSON(t *testing.T, handler http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/relay/stream", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestStreamHandlerRelaysTokens(t *testing.T) {
	upstream := upstreamServer(t, []string{"Hello", " world"})
	handler := newStreamHandler(upstream.URL)

	rec := postJSON(t, handler, `{"prompt": "hi"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	frames := sseFrames(rec.Body.String())
	require.Len(t, frames, 3)

	var first map[string]string
	require.NoError(t, json.Unmarshal([]byte(frames[0]), &first))
	assert.Equal(t, "Hello", first["token"])

	var second map[string]string
	require.NoError(t, json.Unmarshal([]byte(frames[1]), &second))
	assert.Equal(t, " world", second["token"])

	assert.Equal(t, "[DONE]", frames[2])
}

func TestStreamHandlerUpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	handler := newStreamHandler(srv.URL)
	rec := postJSON(t, handler, `{"prompt": "hi"}`)

	// Headers were already sent, so the failure arrives as an error frame.
	require.Equal(t, http.StatusOK, rec.Code)
	frames := sseFrames(rec.Body.String())
	require.NotEmpty(t, frames)

	var last map[string]string
	require.NoError(t, json.Unmarshal([]byte(frames[len(frames)-1]), &last))
	assert.NotEmpty(t, last["error"])
}

func TestStreamHandlerValidation(t *testing.T) {
	handler := newStreamHandler("http://127.0.0.1:1")

	t.Run("missing prompt", func(t *testing.T) {
		rec := postJSON(t, handler, `{}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		rec := postJSON(t, handler, `{not json`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown format", func(t *testing.T) {
		rec := postJSON(t, handler, `{"prompt": "hi", "format": "xml"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestStreamHandlerTextFormat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "plain chunk")
	}))
	t.Cleanup(srv.Close)

	handler := newStreamHandler(srv.URL)
	rec := postJSON(t, handler, `{"prompt": "hi", "format": "text"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	frames := sseFrames(rec.Body.String())
	require.Len(t, frames, 2)

	var first map[string]string
	require.NoError(t, json.Unmarshal([]byte(frames[0]), &first))
	assert.Equal(t, "plain chunk", first["token"])
	assert.Equal(t, "[DONE]", frames[1])
}

type stubProvider struct {
	answer string
	err    error
}

func (s stubProvider) Complete(context.Context, string) (string, error) { return s.answer, s.err }
func (s stubProvider) Name() string                                     { return "stub" }

func TestCompleteHandler(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		handler := CompleteHandler{Provider: stubProvider{answer: "42"}}
		req := httptest.NewRequest(http.MethodPost, "/api/relay/complete",
			strings.NewReader(`{"prompt": "what is the answer"}`))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp completeResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, "42", resp.Completion)
		assert.Equal(t, "stub", resp.Provider)
	})

	t.Run("provider failure", func(t *testing.T) {
		handler := CompleteHandler{Provider: stubProvider{err: errors.New("upstream exploded")}}
		req := httptest.NewRequest(http.MethodPost, "/api/relay/complete",
			strings.NewReader(`{"prompt": "hi"}`))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		require.Equal(t, http.StatusBadGateway, rec.Code)
		var resp map[string]string
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, "completion failed", resp["error"])
	})

	t.Run("missing prompt", func(t *testing.T) {
		handler := CompleteHandler{Provider: stubProvider{answer: "x"}}
		req := httptest.NewRequest(http.MethodPost, "/api/relay/complete", strings.NewReader(`{}`))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
