package main

import (
	"testing"
	"time"

	"chat-relay/internal/config"
)

func TestForwarderConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Telemetry.CollectorURL = "http://collector.local/events"
	cfg.Telemetry.FlushTimeout = config.Duration(2 * time.Second)

	fcfg := forwarderConfig(cfg)
	if fcfg.CollectorURL != "http://collector.local/events" {
		t.Errorf("CollectorURL = %q", fcfg.CollectorURL)
	}
	if fcfg.FlushInterval != 2*time.Second {
		t.Errorf("FlushInterval = %v, want configured flush timeout", fcfg.FlushInterval)
	}
}

func TestForwarderConfigZeroFlushKeepsDefault(t *testing.T) {
	cfg := config.Default()
	cfg.Telemetry.CollectorURL = "http://collector.local/events"
	cfg.Telemetry.FlushTimeout = 0

	if got := forwarderConfig(cfg).FlushInterval; got <= 0 {
		t.Errorf("FlushInterval = %v, want a positive default", got)
	}
}
