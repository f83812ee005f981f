// Command relay runs the chat relay server: an HTTP facade over the
// resilient streaming core, exposing SSE token relay, a buffered
// completion fallback and network status endpoints.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"chat-relay/internal/config"
	"chat-relay/internal/connectivity"
	nethttp "chat-relay/internal/handler/http"
	"chat-relay/internal/handler/http/auth"
	"chat-relay/internal/handler/http/middleware"
	"chat-relay/internal/handler/http/relay"
	"chat-relay/internal/handler/http/requestid"
	"chat-relay/internal/infra/completion"
	"chat-relay/internal/observability/logging"
	"chat-relay/internal/observability/tracing"
	"chat-relay/internal/requester"
	"chat-relay/internal/resilience/circuitbreaker"
	"chat-relay/internal/resilience/retry"
	"chat-relay/internal/stream"
	"chat-relay/internal/telemetry"
)

func main() {
	logger := logging.NewLogger()
	slog.SetDefault(logger)

	cfg, warnings, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}
	for _, warning := range warnings {
		logger.Warn("configuration fallback", slog.String("detail", warning))
	}
	logger.Info("configuration loaded",
		slog.String("addr", cfg.Server.Addr),
		slog.String("metrics_addr", cfg.Server.MetricsAddr),
		slog.String("upstream", cfg.Upstream.StreamURL),
		slog.String("probe_schedule", cfg.Upstream.ProbeSchedule))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracker, trackerCleanup := buildTracker(cfg, logger)
	defer trackerCleanup()

	monitor := connectivity.NewMonitor(connectivity.Config{
		ProbeURL: cfg.Upstream.ProbeURL,
		Schedule: cfg.Upstream.ProbeSchedule,
		Timeout:  5 * time.Second,
	},
		connectivity.WithTracker(tracker),
		connectivity.WithLogger(logger),
	)
	if err := monitor.Start(); err != nil {
		logger.Error("failed to start connectivity monitor", slog.Any("error", err))
		os.Exit(1)
	}
	defer monitor.Stop()

	breaker := circuitbreaker.New(circuitbreaker.Config{
		Name:             "llm-upstream",
		FailureThreshold: cfg.Breaker.FailureThreshold,
		RecoveryTimeout:  cfg.Breaker.RecoveryTimeout.Std(),
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
	},
		circuitbreaker.WithTracker(tracker),
		circuitbreaker.WithLogger(logger),
	)

	req := requester.New(requester.Config{
		Timeout:            cfg.Upstream.Timeout.Std(),
		HealthCheckTimeout: 5 * time.Second,
	},
		requester.WithBreaker(breaker),
		requester.WithMonitor(monitor),
		requester.WithRetryConfig(retry.Config{
			MaxRetries:     cfg.Retry.MaxRetries,
			BaseDelay:      cfg.Retry.BaseDelay.Std(),
			MaxDelay:       cfg.Retry.MaxDelay.Std(),
			JitterFraction: cfg.Retry.JitterFraction,
		}),
		requester.WithTracker(tracker),
		requester.WithLogger(logger),
	)
	defer req.Close()

	provider, err := completion.NewProvider(completion.LoadConfig())
	if err != nil {
		logger.Error("failed to build completion provider", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("completion provider ready", slog.String("provider", provider.Name()))

	apiServer := buildAPIServer(cfg, logger, tracker, req, provider)
	metricsServer := newMetricsServer(cfg.Server.MetricsAddr)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("relay server starting", slog.String("addr", cfg.Server.Addr))
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("metrics server starting", slog.String("addr", cfg.Server.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown initiated")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Std())
		defer cancel()

		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("relay server shutdown error", slog.Any("error", err))
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown error", slog.Any("error", err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("server error", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("relay stopped")
}

// buildTracker assembles the telemetry pipeline: a log tracker always,
// plus the batching forwarder when a collector URL is configured.
func buildTracker(cfg config.Config, logger *slog.Logger) (telemetry.Tracker, func()) {
	logTracker := telemetry.NewLogTracker(logger)

	if cfg.Telemetry.CollectorURL == "" {
		return logTracker, func() {}
	}

	forwarder, err := telemetry.NewForwarder(forwarderConfig(cfg), logger)
	if err != nil {
		logger.Warn("telemetry forwarder disabled", slog.Any("error", err))
		return logTracker, func() {}
	}
	return telemetry.Multi(logTracker, forwarder), forwarder.Close
}

// forwarderConfig maps the relay configuration onto the forwarder's,
// letting telemetry.flush_timeout shorten the batching interval.
func forwarderConfig(cfg config.Config) telemetry.ForwarderConfig {
	fcfg := telemetry.DefaultForwarderConfig(cfg.Telemetry.CollectorURL)
	if d := cfg.Telemetry.FlushTimeout.Std(); d > 0 {
		fcfg.FlushInterval = d
	}
	return fcfg
}

// buildAPIServer wires the route table and the middleware chain.
func buildAPIServer(
	cfg config.Config,
	logger *slog.Logger,
	tracker telemetry.Tracker,
	req *requester.Requester,
	provider completion.Provider,
) *http.Server {
	mux := http.NewServeMux()

	// Bounded endpoints get a fixed deadline; the streaming endpoint is
	// exempt and lives as long as the client connection.
	withTimeout := nethttp.Timeout(cfg.Server.RequestTimeout.Std())

	relay.Register(mux, relay.Deps{
		Upstream: cfg.Upstream.StreamURL,
		NewConsumer: func() *stream.Consumer {
			return stream.NewConsumer(
				stream.WithTracker(tracker),
				stream.WithLogger(logger),
			)
		},
		Provider:  provider,
		Requester: req,
		Stream: relay.StreamDefaults{
			BackpressureThreshold: cfg.Stream.BackpressureThreshold,
			RetryDelay:            cfg.Stream.RetryDelay.Std(),
			MaxRetries:            cfg.Stream.MaxRetries,
		},
		NonStreamTimeout: withTimeout,
		Logger:           logger,
	})

	health := &nethttp.HealthHandler{Requester: req, UpstreamURL: cfg.Upstream.HealthURL}
	mux.Handle("GET /health", withTimeout(http.HandlerFunc(health.Health)))
	mux.Handle("GET /health/upstream", withTimeout(http.HandlerFunc(health.Upstream)))

	rateLimiter := nethttp.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	jwtSecret := []byte(os.Getenv("JWT_SECRET"))
	if len(jwtSecret) == 0 {
		logger.Warn("JWT_SECRET not set, API authentication disabled")
	}

	// Innermost to outermost: auth, rate limit, metrics, recover,
	// logging, tracing, request ID, input bounds.
	var handler http.Handler = mux
	handler = auth.Middleware(jwtSecret)(handler)
	handler = rateLimiter.Limit(handler)
	handler = nethttp.MetricsMiddleware(handler)
	handler = nethttp.Recover(logger)(handler)
	handler = nethttp.Logging(logger)(handler)
	handler = tracing.Middleware(handler)
	handler = requestid.Middleware(handler)
	handler = nethttp.InputValidation()(handler)
	if corsCfg := middleware.LoadCORSConfig(); corsCfg.Enabled() {
		corsCfg.Logger = logger
		handler = middleware.CORS(corsCfg)(handler)
		logger.Info("CORS enabled", slog.Any("origins", corsCfg.AllowedOrigins))
	}

	return &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout.Std(),
	}
}
