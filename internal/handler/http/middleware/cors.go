// Package middleware holds cross-cutting HTTP middleware that needs its
// own configuration surface, currently CORS for browser clients.
package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	envcfg "chat-relay/pkg/config"
)

// CORSConfig holds the CORS policy for browser-facing deployments.
type CORSConfig struct {
	// AllowedOrigins is the origin whitelist. Empty means CORS headers
	// are never set and browsers enforce same-origin.
	AllowedOrigins []string

	// AllowedMethods lists methods permitted in cross-origin requests.
	AllowedMethods []string

	// AllowedHeaders lists request headers permitted in cross-origin
	// requests. Authorization must stay here for bearer tokens.
	AllowedHeaders []string

	// MaxAge is how long browsers may cache preflight results, seconds.
	MaxAge int

	Logger *slog.Logger
}

// LoadCORSConfig builds the CORS policy from environment variables.
// CORS_ALLOWED_ORIGINS is a comma-separated whitelist; the other values
// have defaults suited to the relay API.
func LoadCORSConfig() CORSConfig {
	cfg := CORSConfig{
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-Request-ID"},
		MaxAge:         86400,
	}
	if raw := envcfg.GetEnvString("CORS_ALLOWED_ORIGINS", ""); raw != "" {
		for _, origin := range strings.Split(raw, ",") {
			if trimmed := strings.TrimSpace(origin); trimmed != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, trimmed)
			}
		}
	}
	return cfg
}

// Enabled reports whether any origins are whitelisted.
func (c CORSConfig) Enabled() bool {
	return len(c.AllowedOrigins) > 0
}

func (c CORSConfig) allowed(origin string) bool {
	for _, o := range c.AllowedOrigins {
		if o == origin || o == "*" {
			return true
		}
	}
	return false
}

// CORS returns middleware enforcing the configured policy. Same-origin
// requests pass through untouched. Disallowed origins get no CORS
// headers, leaving the browser to block the response. Preflight OPTIONS
// requests from allowed origins are answered with 204 directly.
func CORS(config CORSConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}

			if !config.allowed(origin) {
				if config.Logger != nil {
					config.Logger.Warn("origin not allowed",
						slog.String("origin", origin),
						slog.String("path", r.URL.Path),
						slog.String("method", r.Method))
				}
				next.ServeHTTP(w, r)
				return
			}

			// Echo the origin rather than "*" so credentialed requests work.
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Vary", "Origin")

			if r.Method == http.MethodOptions {
				w.Header().Set("Access-Control-Allow-Methods", strings.Join(config.AllowedMethods, ", "))
				w.Header().Set("Access-Control-Allow-Headers", strings.Join(config.AllowedHeaders, ", "))
				w.Header().Set("Access-Control-Max-Age", strconv.Itoa(config.MaxAge))
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
