package completion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/google/uuid"

	"chat-relay/internal/resilience/circuitbreaker"
	"chat-relay/internal/resilience/retry"
)

// Claude implements Provider using Anthropic's messages API.
// Calls run through a circuit breaker and retry with backoff.
type Claude struct {
	client          anthropic.Client
	circuitBreaker  *circuitbreaker.CircuitBreaker
	retryConfig     retry.Config
	config          Config
	metricsRecorder CompletionMetricsRecorder
}

// NewClaude creates a Claude completion provider.
func NewClaude(apiKey string, cfg Config) *Claude {
	if cfg.Model == "" {
		cfg.Model = string(anthropic.ModelClaudeSonnet4_5_20250929)
	}

	clientOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(cfg.BaseURL))
	}

	slog.Info("initialized claude completion provider",
		slog.String("model", cfg.Model),
		slog.Int("max_tokens", cfg.MaxTokens))

	return &Claude{
		client:          anthropic.NewClient(clientOpts...),
		circuitBreaker:  circuitbreaker.New(circuitbreaker.DefaultConfig("claude-api")),
		retryConfig:     retry.UpstreamConfig(),
		config:          cfg,
		metricsRecorder: NewPrometheusCompletionMetrics(),
	}
}

// Name implements Provider.
func (c *Claude) Name() string { return "claude" }

// Complete generates an answer using the messages API with circuit breaking
// and retry applied.
func (c *Claude) Complete(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	var result string

	retryErr := retry.WithBackoff(ctx, c.retryConfig, func() error {
		cbResult, err := c.circuitBreaker.Execute(func() (interface{}, error) {
			return c.doComplete(ctx, prompt)
		})
		if err != nil {
			if errors.Is(err, circuitbreaker.ErrOpenState) {
				slog.Warn("claude api circuit breaker open, request rejected",
					slog.String("state", c.circuitBreaker.State().String()))
				return fmt.Errorf("claude api unavailable: circuit breaker open")
			}
			return err
		}
		result = cbResult.(string)
		return nil
	})
	if retryErr != nil {
		c.metricsRecorder.RecordCompletion("claude", "failure")
		return "", fmt.Errorf("claude completion failed after retries: %w", retryErr)
	}

	c.metricsRecorder.RecordCompletion("claude", "success")
	return result, nil
}

func (c *Claude) doComplete(ctx context.Context, prompt string) (string, error) {
	requestID := uuid.New().String()

	slog.InfoContext(ctx, "starting completion",
		slog.String("request_id", requestID),
		slog.String("provider", "claude"),
		slog.Int("prompt_length", len(prompt)))

	start := time.Now()

	message, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.config.Model),
		MaxTokens: int64(c.config.MaxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(
				anthropic.NewTextBlock(prompt),
			),
		},
	})

	duration := time.Since(start)
	c.metricsRecorder.RecordDuration("claude", duration)

	if err != nil {
		slog.ErrorContext(ctx, "completion failed",
			slog.String("request_id", requestID),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()))
		return "", fmt.Errorf("claude api error: %w", err)
	}

	if len(message.Content) == 0 {
		slog.ErrorContext(ctx, "claude api returned empty response",
			slog.String("request_id", requestID),
			slog.Duration("duration", duration))
		return "", fmt.Errorf("claude api returned empty response")
	}

	textBlock, ok := message.Content[0].AsAny().(anthropic.TextBlock)
	if !ok {
		slog.ErrorContext(ctx, "claude api returned unexpected response type",
			slog.String("request_id", requestID),
			slog.Duration("duration", duration))
		return "", fmt.Errorf("claude api returned unexpected response type")
	}

	answer := textBlock.Text
	c.metricsRecorder.RecordResponseLength(len(answer))

	slog.InfoContext(ctx, "completion finished",
		slog.String("request_id", requestID),
		slog.Int("response_length", len(answer)),
		slog.Duration("duration", duration))

	return answer, nil
}
