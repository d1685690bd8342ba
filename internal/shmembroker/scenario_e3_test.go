package shmembroker

import (
	"sync"
	"testing"
	"time"

	"github.com/ihedvall/bus-message-lib/internal/busqueue"
)

// TestScenarioE3TenToTenSharedMemory mirrors the shared-memory ten-to-ten
// scenario: 10 publishers each pushing 1000 messages, fanned out to 10
// subscribers, all sharing one shared-memory region.
func TestScenarioE3TenToTenSharedMemory(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping high-volume scenario in -short mode")
	}
	name := "buslib-test-e3-ten-to-ten"

	b := New(WithName(name), WithBufferSize(1<<20), AsMaster(true))
	if err := b.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer b.Stop()

	const nPub, nSub, perPub = 10, 10, 1000

	pubs := make([]*busqueue.Queue, 0, nPub)
	for i := 0; i < nPub; i++ {
		pubs = append(pubs, b.CreatePublisher())
	}
	subs := make([]*busqueue.Queue, 0, nSub)
	for i := 0; i < nSub; i++ {
		subs = append(subs, b.CreateSubscriber())
	}

	for _, p := range pubs {
		go func(p *busqueue.Queue) {
			for i := 0; i < perPub; i++ {
				p.Push(frame(uint32(i)))
			}
		}(p)
	}

	want := nPub * perPub
	deadline := time.Now().Add(60 * time.Second)

	var wg sync.WaitGroup
	results := make([]int, nSub)
	for i, s := range subs {
		wg.Add(1)
		go func(i int, s *busqueue.Queue) {
			defer wg.Done()
			got := 0
			for got < want && time.Now().Before(deadline) {
				if msg := s.PopWait(50 * time.Millisecond); msg != nil {
					got++
				}
			}
			results[i] = got
		}(i, s)
	}
	wg.Wait()

	for i, got := range results {
		if got != want {
			t.Fatalf("subscriber %d got %d, want %d", i, got, want)
		}
	}
}
