package main

import (
	"os"
	"testing"
	"time"
)

func baseConfig() *appConfig {
	return &appConfig{
		brokerKind:    "simulate",
		name:          "busdemo",
		bufferSize:    65536,
		address:       "0.0.0.0",
		port:          20200,
		asMaster:      true,
		hostKind:      "sharedmemory",
		backpressure:  "drop",
		maxQueueDepth: 10000,
		logFormat:     "text",
		logLevel:      "info",
	}
}

func TestConfigValidate_OK(t *testing.T) {
	if err := baseConfig().validate(); err != nil {
		t.Fatalf("expected ok got %v", err)
	}
}

func TestConfigValidate_Errors(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*appConfig)
	}{
		{"badBroker", func(c *appConfig) { c.brokerKind = "xx" }},
		{"badHost", func(c *appConfig) { c.hostKind = "xx" }},
		{"badFormat", func(c *appConfig) { c.logFormat = "xx" }},
		{"badLevel", func(c *appConfig) { c.logLevel = "nope" }},
		{"badBackpressure", func(c *appConfig) { c.backpressure = "x" }},
		{"badBufferSize", func(c *appConfig) { c.bufferSize = 0 }},
		{"badMaxQueueDepth", func(c *appConfig) { c.maxQueueDepth = -1 }},
		{"tcpNeedsPort", func(c *appConfig) { c.brokerKind = "tcp"; c.port = 0 }},
	}
	for _, tc := range tests {
		base := baseConfig()
		tc.mod(base)
		if err := base.validate(); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestApplyEnvOverrides_Basic(t *testing.T) {
	base := baseConfig()

	os.Setenv("BUSDEMO_BROKER", "sharedmemory")
	os.Setenv("BUSDEMO_MDNS_ENABLE", "true")
	os.Setenv("BUSDEMO_BUFFER_SIZE", "4096")
	os.Setenv("BUSDEMO_LOG_METRICS_INTERVAL", "5s")
	t.Cleanup(func() {
		os.Unsetenv("BUSDEMO_BROKER")
		os.Unsetenv("BUSDEMO_MDNS_ENABLE")
		os.Unsetenv("BUSDEMO_BUFFER_SIZE")
		os.Unsetenv("BUSDEMO_LOG_METRICS_INTERVAL")
	})
	if err := applyEnvOverrides(base, map[string]struct{}{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if base.brokerKind != "sharedmemory" {
		t.Fatalf("expected brokerKind override, got %s", base.brokerKind)
	}
	if !base.mdnsEnable {
		t.Fatalf("expected mdnsEnable true")
	}
	if base.bufferSize != 4096 {
		t.Fatalf("expected bufferSize 4096 got %d", base.bufferSize)
	}
	if base.logMetricsEvery != 5*time.Second {
		t.Fatalf("expected logMetricsEvery 5s got %v", base.logMetricsEvery)
	}
}

func TestApplyEnvOverrides_FlagPrecedence(t *testing.T) {
	base := baseConfig()
	base.brokerKind = "simulate"
	os.Setenv("BUSDEMO_BROKER", "tcp")
	t.Cleanup(func() { os.Unsetenv("BUSDEMO_BROKER") })
	// Simulate user passed -broker flag (so env should be ignored)
	if err := applyEnvOverrides(base, map[string]struct{}{"broker": {}}); err != nil {
		t.Fatalf("err: %v", err)
	}
	if base.brokerKind != "simulate" {
		t.Fatalf("expected brokerKind unchanged simulate got %s", base.brokerKind)
	}
}

func TestApplyEnvOverrides_BadInt(t *testing.T) {
	base := baseConfig()
	os.Setenv("BUSDEMO_PORT", "notint")
	t.Cleanup(func() { os.Unsetenv("BUSDEMO_PORT") })
	if err := applyEnvOverrides(base, map[string]struct{}{}); err == nil {
		t.Fatalf("expected error for bad integer")
	}
}

func TestApplyEnvOverrides_MasterBoolVariants(t *testing.T) {
	base := baseConfig()
	base.asMaster = true
	os.Setenv("BUSDEMO_MASTER", "0")
	t.Cleanup(func() { os.Unsetenv("BUSDEMO_MASTER") })
	if err := applyEnvOverrides(base, map[string]struct{}{}); err != nil {
		t.Fatalf("err: %v", err)
	}
	if base.asMaster {
		t.Fatalf("expected asMaster false after BUSDEMO_MASTER=0")
	}
}
