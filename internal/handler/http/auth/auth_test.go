package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret")

func signToken(t *testing.T, claims jwt.MapClaims, method jwt.SigningMethod, key any) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return signed
}

func validToken(t *testing.T, sub string) string {
	return signToken(t, jwt.MapClaims{
		"sub": sub,
		"exp": time.Now().Add(time.Hour).Unix(),
	}, jwt.SigningMethodHS256, testSecret)
}

func serve(t *testing.T, secret []byte, path, authz string) (*httptest.ResponseRecorder, string) {
	t.Helper()
	var subject string
	handler := Middleware(secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject = Subject(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, path, nil)
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec, subject
}

func TestMiddlewareAllowsValidToken(t *testing.T) {
	rec, subject := serve(t, testSecret, "/api/relay/complete", "Bearer "+validToken(t, "client-7"))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "client-7", subject)
}

func TestMiddlewareRejectsMissingToken(t *testing.T) {
	rec, _ := serve(t, testSecret, "/api/relay/complete", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddlewareRejectsExpiredToken(t *testing.T) {
	tok := signToken(t, jwt.MapClaims{
		"sub": "client-7",
		"exp": time.Now().Add(-time.Minute).Unix(),
	}, jwt.SigningMethodHS256, testSecret)

	rec, _ := serve(t, testSecret, "/api/relay/complete", "Bearer "+tok)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddlewareRejectsWrongSecret(t *testing.T) {
	tok := signToken(t, jwt.MapClaims{
		"sub": "client-7",
		"exp": time.Now().Add(time.Hour).Unix(),
	}, jwt.SigningMethodHS256, []byte("other-secret"))

	rec, _ := serve(t, testSecret, "/api/relay/complete", "Bearer "+tok)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddlewareRejectsWrongAlgorithm(t *testing.T) {
	// alg "none" style downgrade must not pass.
	tok := signToken(t, jwt.MapClaims{
		"sub": "client-7",
		"exp": time.Now().Add(time.Hour).Unix(),
	}, jwt.SigningMethodHS512, testSecret)

	rec, _ := serve(t, testSecret, "/api/relay/complete", "Bearer "+tok)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddlewareRejectsMissingSubject(t *testing.T) {
	tok := signToken(t, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	}, jwt.SigningMethodHS256, testSecret)

	rec, _ := serve(t, testSecret, "/api/relay/complete", "Bearer "+tok)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddlewarePublicEndpoints(t *testing.T) {
	for _, path := range []string{"/health", "/health/upstream", "/metrics"} {
		rec, _ := serve(t, testSecret, path, "")
		assert.Equal(t, http.StatusNoContent, rec.Code, "path %s", path)
	}
}

func TestMiddlewareDisabledWithoutSecret(t *testing.T) {
	rec, subject := serve(t, nil, "/api/relay/complete", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, subject)
}

func TestIsPublicEndpoint(t *testing.T) {
	assert.True(t, IsPublicEndpoint("/health"))
	assert.True(t, IsPublicEndpoint("/health/upstream"))
	assert.True(t, IsPublicEndpoint("/metrics"))
	assert.False(t, IsPublicEndpoint("/api/relay/stream"))
	assert.False(t, IsPublicEndpoint("/healthz"))
}
