// Package completion provides non-streaming LLM completion providers used
// when a caller wants a single buffered answer instead of a token stream.
// Each provider wraps its API client with a circuit breaker and retry logic.
package completion

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"
)

// Provider generates a completion for a prompt.
type Provider interface {
	// Complete returns the model's answer for the prompt.
	Complete(ctx context.Context, prompt string) (string, error)

	// Name identifies the provider in logs and telemetry.
	Name() string
}

// Config holds provider-independent completion settings.
type Config struct {
	// Provider selects the backend: "openai", "claude" or "noop".
	Provider string

	// Model is the provider-specific model identifier.
	Model string

	// MaxTokens bounds the response length.
	MaxTokens int

	// Timeout bounds a single completion call including retries.
	Timeout time.Duration

	// BaseURL overrides the provider's API endpoint. Used to point at a
	// relay-local upstream or a test server.
	BaseURL string
}

// LoadConfig loads completion configuration from environment variables.
// Invalid numeric values fall back to defaults with a warning.
//
// Environment variables:
//   - COMPLETION_PROVIDER: "openai", "claude" or "noop" (default: "noop")
//   - COMPLETION_MODEL: model identifier (provider default when empty)
//   - COMPLETION_MAX_TOKENS: response token budget (default: 1024)
//   - COMPLETION_TIMEOUT: duration string, e.g. "60s" (default: 60s)
//   - COMPLETION_BASE_URL: API endpoint override (optional)
func LoadConfig() Config {
	cfg := Config{
		Provider:  "noop",
		MaxTokens: 1024,
		Timeout:   60 * time.Second,
	}

	if v := os.Getenv("COMPLETION_PROVIDER"); v != "" {
		cfg.Provider = v
	}
	cfg.Model = os.Getenv("COMPLETION_MODEL")
	cfg.BaseURL = os.Getenv("COMPLETION_BASE_URL")

	if v := os.Getenv("COMPLETION_MAX_TOKENS"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 || parsed > 32768 {
			slog.Warn("invalid COMPLETION_MAX_TOKENS, using default",
				slog.String("value", v),
				slog.Int("default", cfg.MaxTokens))
		} else {
			cfg.MaxTokens = parsed
		}
	}

	if v := os.Getenv("COMPLETION_TIMEOUT"); v != "" {
		parsed, err := time.ParseDuration(v)
		if err != nil || parsed <= 0 {
			slog.Warn("invalid COMPLETION_TIMEOUT, using default",
				slog.String("value", v),
				slog.Duration("default", cfg.Timeout))
		} else {
			cfg.Timeout = parsed
		}
	}

	return cfg
}

// NewProvider builds the configured provider. API keys come from the
// environment (OPENAI_API_KEY, ANTHROPIC_API_KEY).
func NewProvider(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "openai":
		apiKey := os.Getenv("OPENAI_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required when COMPLETION_PROVIDER=openai")
		}
		return NewOpenAI(apiKey, cfg), nil
	case "claude":
		apiKey := os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY is required when COMPLETION_PROVIDER=claude")
		}
		return NewClaude(apiKey, cfg), nil
	case "noop":
		return NewNoOp(), nil
	default:
		return nil, fmt.Errorf("unknown completion provider %q (expected openai, claude or noop)", cfg.Provider)
	}
}
