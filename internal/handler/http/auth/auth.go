// Package auth provides JWT bearer-token validation middleware for the
// relay API. The relay does not issue tokens itself; it only validates
// HS256 tokens minted by the deployment's identity service.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"chat-relay/internal/handler/http/respond"

	"github.com/golang-jwt/jwt/v5"
)

type ctxKey string

const ctxSubject ctxKey = "subject"

// publicEndpoints are reachable without a token. Health probes and the
// metrics scrape must keep working when the identity service is down.
var publicEndpoints = []string{
	"/health",
	"/metrics",
}

// IsPublicEndpoint reports whether the path is exempt from authentication.
func IsPublicEndpoint(path string) bool {
	for _, p := range publicEndpoints {
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}

// Subject returns the authenticated token subject from the context, or an
// empty string for unauthenticated requests.
func Subject(ctx context.Context) string {
	if sub, ok := ctx.Value(ctxSubject).(string); ok {
		return sub
	}
	return ""
}

// Middleware returns authorization middleware that requires a valid JWT
// bearer token for every endpoint except the public ones. The token
// subject is stored in the request context. An empty secret disables
// authentication entirely, which is the development default.
func Middleware(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(secret) == 0 || IsPublicEndpoint(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			sub, err := validateJWT(r.Header.Get("Authorization"), secret)
			if err != nil {
				RecordAuthResult("failure")
				respond.SafeError(w, http.StatusUnauthorized, fmt.Errorf("unauthorized: %w", err))
				return
			}

			RecordAuthResult("success")
			ctx := context.WithValue(r.Context(), ctxSubject, sub)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func validateJWT(authz string, secret []byte) (string, error) {
	const prefix = "Bearer "
	if !strings.HasPrefix(authz, prefix) {
		return "", errors.New("missing bearer token")
	}
	tokenString := strings.TrimPrefix(authz, prefix)
	tok, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, errors.New("unexpected signing method")
		}
		return secret, nil
	})
	if err != nil || !tok.Valid {
		return "", errors.New("invalid token")
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("invalid claims")
	}
	if exp, ok := claims["exp"].(float64); !ok || int64(exp) < time.Now().Unix() {
		return "", errors.New("token expired")
	}
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", errors.New("invalid sub claim")
	}
	return sub, nil
}
