package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"chat-relay/internal/handler/http/requestid"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerLevels(t *testing.T) {
	tests := []struct {
		name     string
		logLevel string
		enabled  slog.Level
		disabled slog.Level
	}{
		{name: "default is info", logLevel: "", enabled: slog.LevelInfo, disabled: slog.LevelDebug},
		{name: "debug", logLevel: "debug", enabled: slog.LevelDebug, disabled: slog.LevelDebug - 4},
		{name: "warn", logLevel: "warn", enabled: slog.LevelWarn, disabled: slog.LevelInfo},
		{name: "error", logLevel: "error", enabled: slog.LevelError, disabled: slog.LevelWarn},
		{name: "unknown falls back to info", logLevel: "verbose", enabled: slog.LevelInfo, disabled: slog.LevelDebug},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("LOG_LEVEL", tt.logLevel)
			logger := NewLogger()
			ctx := context.Background()
			assert.True(t, logger.Enabled(ctx, tt.enabled))
			assert.False(t, logger.Enabled(ctx, tt.disabled))
		})
	}
}

func TestWithRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	t.Run("includes id from context", func(t *testing.T) {
		buf.Reset()
		ctx := requestid.WithRequestID(context.Background(), "req-99")
		WithRequestID(ctx, logger).Info("hello")

		var entry map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "req-99", entry["request_id"])
	})

	t.Run("no id leaves logger unchanged", func(t *testing.T) {
		buf.Reset()
		WithRequestID(context.Background(), logger).Info("hello")

		var entry map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		_, present := entry["request_id"]
		assert.False(t, present)
	})
}

func TestLoggerContext(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

	ctx := WithLogger(context.Background(), logger)
	assert.Same(t, logger, FromContext(ctx))

	assert.Same(t, slog.Default(), FromContext(context.Background()))
}
