// Package connectivity tracks whether the upstream network is reachable.
// A cron-scheduled prober maintains an online flag that callers consult
// before issuing requests, so offline failures surface immediately instead
// of burning retry budget.
package connectivity

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"chat-relay/internal/telemetry"
)

// Prober checks reachability of the upstream. A nil error means online.
type Prober func(ctx context.Context) error

// Config holds the configuration for the connectivity monitor.
type Config struct {
	// ProbeURL is the endpoint probed with a HEAD request.
	ProbeURL string

	// Schedule is the cron spec for periodic probes.
	Schedule string

	// Timeout bounds a single probe.
	Timeout time.Duration
}

// DefaultConfig returns a monitor configuration with sensible defaults.
func DefaultConfig(probeURL string) Config {
	return Config{
		ProbeURL: probeURL,
		Schedule: "@every 30s",
		Timeout:  5 * time.Second,
	}
}

// Monitor periodically probes the upstream and notifies subscribers when
// the online status flips.
type Monitor struct {
	cfg     Config
	prober  Prober
	logger  *slog.Logger
	tracker telemetry.Tracker
	metrics ProbeMetricsRecorder

	cron   *cron.Cron
	online atomic.Bool

	mu        sync.Mutex
	started   bool
	nextID    int
	listeners map[int]func(online bool)
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithProber replaces the default HTTP HEAD prober.
func WithProber(p Prober) Option {
	return func(m *Monitor) { m.prober = p }
}

// WithTracker sets the telemetry sink.
func WithTracker(t telemetry.Tracker) Option {
	return func(m *Monitor) { m.tracker = t }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(rec ProbeMetricsRecorder) Option {
	return func(m *Monitor) { m.metrics = rec }
}

// NewMonitor creates a Monitor. The monitor assumes it is online until the
// first probe says otherwise.
func NewMonitor(cfg Config, opts ...Option) *Monitor {
	m := &Monitor{
		cfg:       cfg,
		logger:    slog.Default(),
		tracker:   telemetry.Noop{},
		listeners: make(map[int]func(bool)),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.prober == nil {
		m.prober = httpProber(cfg.ProbeURL)
	}
	if m.metrics == nil {
		m.metrics = NewPrometheusProbeMetrics()
	}
	m.online.Store(true)
	m.metrics.RecordStatus(true)
	return m
}

// httpProber returns a Prober that issues a HEAD request against url.
func httpProber(url string) Prober {
	client := &http.Client{}
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
		if err != nil {
			return fmt.Errorf("build probe request: %w", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("probe %s: %w", url, err)
		}
		defer resp.Body.Close() //nolint:errcheck
		if resp.StatusCode >= 500 {
			return fmt.Errorf("probe %s: status %d", url, resp.StatusCode)
		}
		return nil
	}
}

// Start schedules periodic probes. Calling Start on a running monitor is a
// no-op. An immediate probe runs before the schedule kicks in.
func (m *Monitor) Start() error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	c := cron.New()
	if _, err := c.AddFunc(m.cfg.Schedule, func() {
		m.CheckNow(context.Background())
	}); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("schedule connectivity probe: %w", err)
	}
	m.cron = c
	m.started = true
	m.mu.Unlock()

	m.CheckNow(context.Background())
	c.Start()
	m.logger.Info("connectivity monitor started",
		slog.String("schedule", m.cfg.Schedule),
		slog.String("probe_url", m.cfg.ProbeURL))
	return nil
}

// Stop halts scheduled probes. Idempotent.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return
	}
	m.started = false
	ctx := m.cron.Stop()
	<-ctx.Done()
	m.logger.Info("connectivity monitor stopped")
}

// Online reports the last known reachability status.
func (m *Monitor) Online() bool {
	return m.online.Load()
}

// CheckNow runs a probe immediately and returns the resulting status.
func (m *Monitor) CheckNow(ctx context.Context) bool {
	probeCtx := ctx
	if m.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		probeCtx, cancel = context.WithTimeout(ctx, m.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	err := m.prober(probeCtx)
	latency := time.Since(start)
	online := err == nil

	if online {
		m.metrics.RecordProbe("success")
	} else {
		m.metrics.RecordProbe("failure")
		m.logger.Debug("connectivity probe failed",
			slog.Duration("latency", latency),
			slog.Any("error", err))
	}

	m.tracker.Track(telemetry.EventConnectivityProbe, map[string]any{
		"url":        m.cfg.ProbeURL,
		"online":     online,
		"latency_ms": latency.Milliseconds(),
	}, "")

	m.setOnline(online)
	return online
}

// Subscribe registers a listener invoked on every status change. The
// returned function removes the listener.
func (m *Monitor) Subscribe(fn func(online bool)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

func (m *Monitor) setOnline(online bool) {
	if m.online.Swap(online) == online {
		return
	}
	m.metrics.RecordStatus(online)
	if online {
		m.logger.Info("network is back online")
	} else {
		m.logger.Warn("network went offline")
	}

	m.mu.Lock()
	listeners := make([]func(bool), 0, len(m.listeners))
	for _, fn := range m.listeners {
		listeners = append(listeners, fn)
	}
	m.mu.Unlock()

	for _, fn := range listeners {
		m.notify(fn, online)
	}
}

// notify calls a listener with panic isolation so one faulty subscriber
// cannot take down the probe loop.
func (m *Monitor) notify(fn func(bool), online bool) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("connectivity listener panicked", slog.Any("panic", r))
		}
	}()
	fn(online)
}
