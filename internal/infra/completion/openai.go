package completion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"

	"chat-relay/internal/resilience/circuitbreaker"
	"chat-relay/internal/resilience/retry"
)

const defaultOpenAIModel = "gpt-4o-mini"

// OpenAI implements Provider using OpenAI's chat completion API.
// Calls run through a circuit breaker and retry with backoff.
type OpenAI struct {
	client          *openai.Client
	circuitBreaker  *circuitbreaker.CircuitBreaker
	retryConfig     retry.Config
	config          Config
	metricsRecorder CompletionMetricsRecorder
}

// NewOpenAI creates an OpenAI completion provider.
func NewOpenAI(apiKey string, cfg Config) *OpenAI {
	if cfg.Model == "" {
		cfg.Model = defaultOpenAIModel
	}

	clientCfg := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	slog.Info("initialized openai completion provider",
		slog.String("model", cfg.Model),
		slog.Int("max_tokens", cfg.MaxTokens))

	return &OpenAI{
		client:          openai.NewClientWithConfig(clientCfg),
		circuitBreaker:  circuitbreaker.New(circuitbreaker.DefaultConfig("openai-api")),
		retryConfig:     retry.UpstreamConfig(),
		config:          cfg,
		metricsRecorder: NewPrometheusCompletionMetrics(),
	}
}

// Name implements Provider.
func (o *OpenAI) Name() string { return "openai" }

// Complete generates an answer using the chat completion API with circuit
// breaking and retry applied.
func (o *OpenAI) Complete(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.config.Timeout)
	defer cancel()

	var result string

	retryErr := retry.WithBackoff(ctx, o.retryConfig, func() error {
		cbResult, err := o.circuitBreaker.Execute(func() (interface{}, error) {
			return o.doComplete(ctx, prompt)
		})
		if err != nil {
			if errors.Is(err, circuitbreaker.ErrOpenState) {
				slog.Warn("openai api circuit breaker open, request rejected",
					slog.String("state", o.circuitBreaker.State().String()))
				return fmt.Errorf("openai api unavailable: circuit breaker open")
			}
			return err
		}
		result = cbResult.(string)
		return nil
	})
	if retryErr != nil {
		o.metricsRecorder.RecordCompletion("openai", "failure")
		return "", fmt.Errorf("openai completion failed after retries: %w", retryErr)
	}

	o.metricsRecorder.RecordCompletion("openai", "success")
	return result, nil
}

func (o *OpenAI) doComplete(ctx context.Context, prompt string) (string, error) {
	requestID := uuid.New().String()

	slog.InfoContext(ctx, "starting completion",
		slog.String("request_id", requestID),
		slog.String("provider", "openai"),
		slog.Int("prompt_length", len(prompt)))

	start := time.Now()

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     o.config.Model,
		MaxTokens: o.config.MaxTokens,
		Messages: []openai.ChatCompletionMessage{{
			Role:    openai.ChatMessageRoleUser,
			Content: prompt,
		}},
	})

	duration := time.Since(start)
	o.metricsRecorder.RecordDuration("openai", duration)

	if err != nil {
		slog.ErrorContext(ctx, "completion failed",
			slog.String("request_id", requestID),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()))
		return "", fmt.Errorf("openai api error: %w", err)
	}

	if len(resp.Choices) == 0 {
		slog.ErrorContext(ctx, "openai api returned empty response",
			slog.String("request_id", requestID),
			slog.Duration("duration", duration))
		return "", fmt.Errorf("openai api returned empty response")
	}

	answer := resp.Choices[0].Message.Content
	o.metricsRecorder.RecordResponseLength(len(answer))

	slog.InfoContext(ctx, "completion finished",
		slog.String("request_id", requestID),
		slog.Int("response_length", len(answer)),
		slog.Duration("duration", duration))

	return answer, nil
}
