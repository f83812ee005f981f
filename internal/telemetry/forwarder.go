package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// ForwarderConfig holds configuration for the HTTP event forwarder.
type ForwarderConfig struct {
	// CollectorURL is the endpoint receiving JSON event batches.
	CollectorURL string

	// QueueSize is the capacity of the in-memory event queue. Events past
	// capacity are dropped, never queued synchronously.
	QueueSize int

	// BatchSize is the maximum number of events per POST.
	BatchSize int

	// FlushInterval is how long a partial batch may wait before being sent.
	FlushInterval time.Duration

	// Timeout bounds a single collector POST.
	Timeout time.Duration
}

// DefaultForwarderConfig returns the configuration used in production.
func DefaultForwarderConfig(collectorURL string) ForwarderConfig {
	return ForwarderConfig{
		CollectorURL:  collectorURL,
		QueueSize:     1024,
		BatchSize:     64,
		FlushInterval: 5 * time.Second,
		Timeout:       10 * time.Second,
	}
}

// envelope is the wire form of one tracked event.
type envelope struct {
	Event         string         `json:"event"`
	Payload       map[string]any `json:"payload,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
}

// Forwarder ships events to an external collector over HTTP. It satisfies the
// Tracker contract: Track never blocks and never fails the caller. A circuit
// breaker guards the collector so a dead endpoint sheds load instead of
// piling up timed-out POSTs.
type Forwarder struct {
	cfg     ForwarderConfig
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
	metrics EventMetricsRecorder

	queue chan envelope
	stop  chan struct{}
	done  chan struct{}
	once  sync.Once
}

// NewForwarder creates and starts a forwarder. Call Close to flush and stop.
func NewForwarder(cfg ForwarderConfig, logger *slog.Logger) (*Forwarder, error) {
	if cfg.CollectorURL == "" {
		return nil, fmt.Errorf("telemetry forwarder: collector URL is required")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 64
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	settings := gobreaker.Settings{
		Name:        "telemetry-collector",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("telemetry collector circuit state changed",
				slog.String("circuit", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	}

	f := &Forwarder{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: gobreaker.NewCircuitBreaker(settings),
		logger:  logger,
		metrics: NewPrometheusEventMetrics(),
		queue:   make(chan envelope, cfg.QueueSize),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go f.run()
	return f, nil
}

// Track implements Tracker. A full queue drops the event.
func (f *Forwarder) Track(event string, payload map[string]any, correlationID string) {
	f.metrics.RecordEvent(event)

	env := envelope{
		Event:         event,
		Payload:       payload,
		CorrelationID: correlationID,
		Timestamp:     time.Now().UTC(),
	}
	select {
	case f.queue <- env:
	default:
		f.metrics.RecordDropped("queue_full")
	}
}

// Close stops the background loop after attempting one final flush.
// It is idempotent.
func (f *Forwarder) Close() {
	f.once.Do(func() {
		close(f.stop)
		<-f.done
	})
}

// run drains the queue into collector POSTs.
func (f *Forwarder) run() {
	defer close(f.done)

	ticker := time.NewTicker(f.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]envelope, 0, f.cfg.BatchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		f.send(batch)
		batch = batch[:0]
	}

	for {
		select {
		case env := <-f.queue:
			batch = append(batch, env)
			if len(batch) >= f.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-f.stop:
			// Drain whatever is already queued, then final flush.
			for {
				select {
				case env := <-f.queue:
					batch = append(batch, env)
					if len(batch) >= f.cfg.BatchSize {
						flush()
					}
					continue
				default:
				}
				break
			}
			flush()
			return
		}
	}
}

// send posts one batch through the circuit breaker. Failures drop the batch;
// the collector is best effort by contract.
func (f *Forwarder) send(batch []envelope) {
	body, err := json.Marshal(batch)
	if err != nil {
		f.logger.Error("telemetry batch marshal failed", slog.Any("error", err))
		f.metrics.RecordDropped("collector_error")
		return
	}

	_, execErr := f.breaker.Execute(func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(context.Background(), f.cfg.Timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.cfg.CollectorURL, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := f.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer func() {
			_ = resp.Body.Close()
		}()
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("collector returned status %d", resp.StatusCode)
		}
		return nil, nil
	})

	if execErr != nil {
		reason := "collector_error"
		if errors.Is(execErr, gobreaker.ErrOpenState) || errors.Is(execErr, gobreaker.ErrTooManyRequests) {
			reason = "circuit_open"
		}
		for range batch {
			f.metrics.RecordDropped(reason)
		}
		f.logger.Warn("telemetry batch dropped",
			slog.Int("events", len(batch)),
			slog.String("reason", reason),
			slog.Any("error", execErr))
	}
}
