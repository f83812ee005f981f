// Package config defines the relay's top-level configuration: defaults,
// an optional YAML file, then environment overrides, in that order.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	pkgcfg "chat-relay/internal/pkg/config"
	envcfg "chat-relay/pkg/config"
)

// Duration wraps time.Duration so YAML values can be written as Go
// duration strings ("30s", "5m").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the root relay configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Upstream  UpstreamConfig  `yaml:"upstream"`
	Retry     RetryConfig     `yaml:"retry"`
	Breaker   BreakerConfig   `yaml:"circuit_breaker"`
	Stream    StreamConfig    `yaml:"stream"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds listener settings.
type ServerConfig struct {
	Addr              string   `yaml:"addr"`
	MetricsAddr       string   `yaml:"metrics_addr"`
	ReadHeaderTimeout Duration `yaml:"read_header_timeout"`
	RequestTimeout    Duration `yaml:"request_timeout"`
	ShutdownTimeout   Duration `yaml:"shutdown_timeout"`
}

// UpstreamConfig holds the endpoints the relay talks to.
type UpstreamConfig struct {
	// StreamURL is the token streaming endpoint.
	StreamURL string `yaml:"stream_url"`

	// HealthURL is probed by /health/upstream. Defaults to StreamURL.
	HealthURL string `yaml:"health_url"`

	// ProbeURL is the connectivity monitor target. Defaults to HealthURL.
	ProbeURL string `yaml:"probe_url"`

	// ProbeSchedule is a cron expression for connectivity probes.
	ProbeSchedule string `yaml:"probe_schedule"`

	// Timeout bounds a single upstream request attempt.
	Timeout Duration `yaml:"timeout"`
}

// RetryConfig holds backoff settings for upstream calls.
type RetryConfig struct {
	MaxRetries     int      `yaml:"max_retries"`
	BaseDelay      Duration `yaml:"base_delay"`
	MaxDelay       Duration `yaml:"max_delay"`
	JitterFraction float64  `yaml:"jitter_fraction"`
}

// BreakerConfig holds circuit breaker thresholds.
type BreakerConfig struct {
	FailureThreshold int      `yaml:"failure_threshold"`
	RecoveryTimeout  Duration `yaml:"recovery_timeout"`
	SuccessThreshold int      `yaml:"success_threshold"`
}

// StreamConfig holds streaming session defaults.
type StreamConfig struct {
	BackpressureThreshold int      `yaml:"backpressure_threshold"`
	RetryDelay            Duration `yaml:"retry_delay"`
	MaxRetries            int      `yaml:"max_retries"`
}

// RateLimitConfig holds per-client API rate limits.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// TelemetryConfig holds the optional event collector settings.
type TelemetryConfig struct {
	// CollectorURL enables the batching forwarder when non-empty.
	CollectorURL string   `yaml:"collector_url"`
	FlushTimeout Duration `yaml:"flush_timeout"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:              ":8080",
			MetricsAddr:       ":9090",
			ReadHeaderTimeout: Duration(5 * time.Second),
			RequestTimeout:    Duration(60 * time.Second),
			ShutdownTimeout:   Duration(10 * time.Second),
		},
		Upstream: UpstreamConfig{
			ProbeSchedule: "@every 30s",
			Timeout:       Duration(30 * time.Second),
		},
		Retry: RetryConfig{
			MaxRetries:     3,
			BaseDelay:      Duration(2 * time.Second),
			MaxDelay:       Duration(10 * time.Second),
			JitterFraction: 0.1,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			RecoveryTimeout:  Duration(30 * time.Second),
			SuccessThreshold: 2,
		},
		Stream: StreamConfig{
			BackpressureThreshold: 64 * 1024,
			RetryDelay:            Duration(time.Second),
			MaxRetries:            3,
		},
		RateLimit: RateLimitConfig{
			RPS:   10,
			Burst: 20,
		},
		Telemetry: TelemetryConfig{
			FlushTimeout: Duration(5 * time.Second),
		},
	}
}

// Load builds the configuration from defaults, the YAML file named by
// RELAY_CONFIG_FILE (when set) and environment overrides, then validates
// the result. Schedule values that fail validation fall back to the
// default with a warning rather than failing startup.
func Load() (Config, []string, error) {
	cfg := Default()
	var warnings []string

	if path := os.Getenv("RELAY_CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	cfg.Server.Addr = envcfg.GetEnvString("RELAY_ADDR", cfg.Server.Addr)
	cfg.Server.MetricsAddr = envcfg.GetEnvString("RELAY_METRICS_ADDR", cfg.Server.MetricsAddr)
	cfg.Upstream.StreamURL = envcfg.GetEnvString("UPSTREAM_STREAM_URL", cfg.Upstream.StreamURL)
	cfg.Upstream.HealthURL = envcfg.GetEnvString("UPSTREAM_HEALTH_URL", cfg.Upstream.HealthURL)
	cfg.Upstream.ProbeURL = envcfg.GetEnvString("NETWORK_PROBE_URL", cfg.Upstream.ProbeURL)
	cfg.Telemetry.CollectorURL = envcfg.GetEnvString("TELEMETRY_COLLECTOR_URL", cfg.Telemetry.CollectorURL)

	schedule := pkgcfg.LoadEnvWithFallback(
		"NETWORK_PROBE_SCHEDULE",
		cfg.Upstream.ProbeSchedule,
		pkgcfg.ValidateCronSchedule,
	)
	warnings = append(warnings, schedule.Warnings...)
	cfg.Upstream.ProbeSchedule = schedule.Value.(string)

	if cfg.Upstream.HealthURL == "" {
		cfg.Upstream.HealthURL = cfg.Upstream.StreamURL
	}
	if cfg.Upstream.ProbeURL == "" {
		cfg.Upstream.ProbeURL = cfg.Upstream.HealthURL
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, warnings, err
	}
	return cfg, warnings, nil
}

// Validate checks the configuration for values that cannot be served.
func (c Config) Validate() error {
	if err := pkgcfg.ValidateURL(c.Upstream.StreamURL); err != nil {
		return fmt.Errorf("upstream.stream_url: %w", err)
	}
	if err := pkgcfg.ValidateCronSchedule(c.Upstream.ProbeSchedule); err != nil {
		return fmt.Errorf("upstream.probe_schedule: %w", err)
	}

	durations := []struct {
		field string
		value time.Duration
	}{
		{"server.read_header_timeout", c.Server.ReadHeaderTimeout.Std()},
		{"server.request_timeout", c.Server.RequestTimeout.Std()},
		{"server.shutdown_timeout", c.Server.ShutdownTimeout.Std()},
		{"upstream.timeout", c.Upstream.Timeout.Std()},
		{"retry.base_delay", c.Retry.BaseDelay.Std()},
		{"retry.max_delay", c.Retry.MaxDelay.Std()},
		{"circuit_breaker.recovery_timeout", c.Breaker.RecoveryTimeout.Std()},
		{"stream.retry_delay", c.Stream.RetryDelay.Std()},
	}
	for _, d := range durations {
		if err := envcfg.ValidatePositiveDuration(d.value); err != nil {
			return fmt.Errorf("%s: %w", d.field, err)
		}
	}

	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries: cannot be negative, got %d", c.Retry.MaxRetries)
	}
	if c.Retry.JitterFraction < 0 || c.Retry.JitterFraction >= 1 {
		return fmt.Errorf("retry.jitter_fraction: must be in [0, 1), got %v", c.Retry.JitterFraction)
	}
	if c.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("circuit_breaker.failure_threshold: must be positive, got %d", c.Breaker.FailureThreshold)
	}
	if c.Breaker.SuccessThreshold <= 0 {
		return fmt.Errorf("circuit_breaker.success_threshold: must be positive, got %d", c.Breaker.SuccessThreshold)
	}
	if c.Stream.BackpressureThreshold <= 0 {
		return fmt.Errorf("stream.backpressure_threshold: must be positive, got %d", c.Stream.BackpressureThreshold)
	}
	if c.RateLimit.RPS <= 0 {
		return fmt.Errorf("rate_limit.rps: must be positive, got %v", c.RateLimit.RPS)
	}
	if c.RateLimit.Burst <= 0 {
		return fmt.Errorf("rate_limit.burst: must be positive, got %d", c.RateLimit.Burst)
	}

	return nil
}
