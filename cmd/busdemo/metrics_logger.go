package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ihedvall/bus-message-lib/internal/metrics"
)

func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				snap := metrics.Snap()
				l.Info("metrics_snapshot",
					"ring_writes", snap.RingWrites,
					"ring_reads", snap.RingReads,
					"buffer_full", snap.BufferFull,
					"reclaims", snap.Reclaims,
					"tcp_rx", snap.TCPRx,
					"tcp_tx", snap.TCPTx,
					"drops", snap.Drops,
					"kicks", snap.Kicks,
					"errors", snap.Errors,
					"malformed", snap.Malformed,
					"subscribers", snap.Subscribers,
					"publishers", snap.Publishers,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}
