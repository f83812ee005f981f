package telemetry

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestForwarder(t *testing.T, collectorURL string, cfg func(*ForwarderConfig)) *Forwarder {
	t.Helper()

	config := DefaultForwarderConfig(collectorURL)
	config.FlushInterval = 20 * time.Millisecond
	config.Timeout = time.Second
	if cfg != nil {
		cfg(&config)
	}

	f, err := NewForwarder(config, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	f.metrics = &mockEventMetrics{}
	t.Cleanup(f.Close)
	return f
}

func TestNewForwarder_RequiresURL(t *testing.T) {
	_, err := NewForwarder(ForwarderConfig{}, nil)
	assert.Error(t, err)
}

func TestForwarder_DeliversBatch(t *testing.T) {
	var mu sync.Mutex
	var received []envelope

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var batch []envelope
		if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
			t.Errorf("decode batch: %v", err)
		}
		mu.Lock()
		received = append(received, batch...)
		mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	f := newTestForwarder(t, server.URL, nil)

	f.Track(EventStreamStarted, map[string]any{"url": "u"}, "corr-42")
	f.Track(EventStreamCompleted, nil, "corr-42")
	f.Close()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 2)
	assert.Equal(t, EventStreamStarted, received[0].Event)
	assert.Equal(t, "corr-42", received[0].CorrelationID)
	assert.Equal(t, EventStreamCompleted, received[1].Event)
}

func TestForwarder_FullQueueDropsWithoutBlocking(t *testing.T) {
	// Collector that never answers quickly enough to drain the queue.
	block := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer server.Close()
	defer close(block)

	f := newTestForwarder(t, server.URL, func(cfg *ForwarderConfig) {
		cfg.QueueSize = 2
		cfg.BatchSize = 100
		cfg.FlushInterval = time.Hour
	})
	metrics := f.metrics.(*mockEventMetrics)

	start := time.Now()
	for i := 0; i < 50; i++ {
		f.Track(EventStreamError, nil, "")
	}
	elapsed := time.Since(start)

	// Track must return immediately even with a saturated queue.
	assert.Less(t, elapsed, 500*time.Millisecond)

	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	assert.NotEmpty(t, metrics.dropped)
	for _, reason := range metrics.dropped {
		assert.Equal(t, "queue_full", reason)
	}
}

func TestForwarder_CollectorErrorDropsBatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	f := newTestForwarder(t, server.URL, nil)
	metrics := f.metrics.(*mockEventMetrics)

	f.Track(EventNetworkRetryScheduled, map[string]any{"attempt": 1}, "")
	f.Close()

	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	require.Len(t, metrics.dropped, 1)
	assert.Equal(t, "collector_error", metrics.dropped[0])
}

func TestForwarder_CloseIsIdempotent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	f := newTestForwarder(t, server.URL, nil)
	f.Close()
	f.Close()
}
