package requestid

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
)

func TestFromContext(t *testing.T) {
	t.Run("returns stored id", func(t *testing.T) {
		ctx := WithRequestID(context.Background(), "abc-123")
		if got := FromContext(ctx); got != "abc-123" {
			t.Errorf("FromContext() = %q, want %q", got, "abc-123")
		}
	})

	t.Run("returns empty string when unset", func(t *testing.T) {
		if got := FromContext(context.Background()); got != "" {
			t.Errorf("FromContext() = %q, want empty", got)
		}
	})
}

func TestMiddlewareGeneratesID(t *testing.T) {
	var seen string
	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = FromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if seen == "" {
		t.Fatal("request ID missing from context")
	}
	if _, err := uuid.Parse(seen); err != nil {
		t.Errorf("request ID %q is not a valid UUID: %v", seen, err)
	}
	if got := rec.Header().Get(RequestIDHeader); got != seen {
		t.Errorf("response header = %q, want %q", got, seen)
	}
}

func TestMiddlewarePropagatesExistingID(t *testing.T) {
	var seen string
	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = FromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "upstream-id-42")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if seen != "upstream-id-42" {
		t.Errorf("context request ID = %q, want %q", seen, "upstream-id-42")
	}
	if got := rec.Header().Get(RequestIDHeader); got != "upstream-id-42" {
		t.Errorf("response header = %q, want %q", got, "upstream-id-42")
	}
}
