package shmring

import (
	"testing"
	"time"
)

// TestScenarioE4StallReclaimRealTiming exercises the actual 10s
// StallTimeout end to end: a stuck subscriber holds the ring full, and the
// master must force a reclaim within the 10-11s window the scenario names.
func TestScenarioE4StallReclaimRealTiming(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping real-timing stall scenario in -short mode")
	}

	r := newTestRing(64)
	r.Region.AllocateReadChannel() // never consumes: simulates a stuck subscriber

	for r.PublisherPoll(sampleFrame(1)) {
	}
	if !r.Region.BufferFull() {
		t.Fatal("expected buffer_full before master runs")
	}

	start := time.Now()
	stop := make(chan struct{})
	go r.RunMaster(stop)
	defer close(stop)

	deadline := start.Add(11 * time.Second)
	for time.Now().Before(deadline) {
		r.Lock.Lock()
		full := r.Region.BufferFull()
		r.Lock.Unlock()
		if !full {
			elapsed := time.Since(start)
			if elapsed < 10*time.Second {
				t.Fatalf("reclaim fired too early at %v, expected >= 10s", elapsed)
			}
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("expected forced reclaim within the 10-11s stall window")
}
