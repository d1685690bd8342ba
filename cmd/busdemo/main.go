// Command busdemo assembles one broker of a chosen variant and exposes it
// over Prometheus metrics, optional mDNS advertisement, and graceful
// signal-driven shutdown. It exists to exercise the library end to end
// rather than to gateway a physical bus, so it has no device backend.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/ihedvall/bus-message-lib/internal/discovery"
	"github.com/ihedvall/bus-message-lib/internal/metrics"
)

func main() {
	cfg, showVersion := parseFlags()
	if showVersion {
		fmt.Printf("busdemo %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	if cfg == nil {
		os.Exit(2)
	}

	l := setupLogger(cfg.logFormat, cfg.logLevel)
	l.Info("build_info", "version", version, "commit", commit, "date", date)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)

	b, err := initBroker(cfg, l)
	if err != nil {
		l.Error("broker_init_error", "error", err)
		return
	}
	if err := b.Start(); err != nil {
		l.Error("broker_start_error", "error", err)
		return
	}
	l.Info("broker_started", "name", b.Name(), "address", b.Address(), "port", b.Port())

	var mdnsAd *discovery.Advertisement
	if cfg.mdnsEnable {
		port := b.Port()
		if port == 0 {
			port = cfg.port
		}
		meta := []string{"broker=" + cfg.brokerKind, "version=" + version, "commit=" + commit}
		ad, err := discovery.Start(ctx, cfg.mdnsName, port, meta)
		if err != nil {
			l.Warn("mdns_start_failed", "error", err)
		} else {
			mdnsAd = ad
			l.Info("mdns_started", "name", cfg.mdnsName, "port", port)
		}
	}

	metrics.SetReadinessFunc(func() bool {
		return ctx.Err() == nil && b.IsConnected()
	})
	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		srvHTTP := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	s := <-sigCh
	l.Info("shutdown_signal", "signal", s.String())
	cancel()
	if mdnsAd != nil {
		mdnsAd.Close()
	}
	if err := b.Stop(); err != nil {
		l.Warn("broker_stop_error", "error", err)
	}
	wg.Wait()
}
