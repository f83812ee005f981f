// Command probe is a one-shot health check for the relay's upstream.
// Usage: relay-probe [--url URL] [--timeout 5s] [--output json]
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"chat-relay/internal/config"
	"chat-relay/internal/observability/logging"
	"chat-relay/internal/requester"
)

// ProbeOutput is the JSON output format for probe results.
type ProbeOutput struct {
	URL       string `json:"url"`
	Healthy   bool   `json:"healthy"`
	LatencyMS int64  `json:"latency_ms"`
	Breaker   string `json:"circuit_breaker_state"`
}

func main() {
	var (
		url          string
		timeout      time.Duration
		outputFormat string
	)

	flag.StringVar(&url, "url", "", "Upstream URL to probe (default: configured health URL)")
	flag.DurationVar(&timeout, "timeout", 5*time.Second, "Probe timeout")
	flag.StringVar(&outputFormat, "output", "text", "Output format: text or json")
	flag.Parse()

	logger := logging.NewLogger()

	if url == "" {
		cfg, _, err := config.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: no --url given and configuration unusable: %v\n", err)
			os.Exit(2)
		}
		url = cfg.Upstream.HealthURL
	}

	req := requester.New(requester.Config{
		Timeout:            timeout,
		HealthCheckTimeout: timeout,
	}, requester.WithLogger(logger))
	defer req.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	start := time.Now()
	healthy := req.HealthCheck(ctx, url)
	latency := time.Since(start).Milliseconds()

	out := ProbeOutput{
		URL:       url,
		Healthy:   healthy,
		LatencyMS: latency,
		Breaker:   req.NetworkStatus().CircuitBreaker.State.String(),
	}

	if outputFormat == "json" {
		if err := json.NewEncoder(os.Stdout).Encode(out); err != nil {
			fmt.Fprintf(os.Stderr, "Error: encoding output: %v\n", err)
			os.Exit(2)
		}
	} else {
		state := "UNHEALTHY"
		if healthy {
			state = "HEALTHY"
		}
		fmt.Printf("%s %s (%dms, breaker %s)\n", state, url, latency, out.Breaker)
	}

	if !healthy {
		os.Exit(1)
	}
}
