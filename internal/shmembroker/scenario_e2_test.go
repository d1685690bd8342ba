package shmembroker

import (
	"testing"
	"time"

	"github.com/ihedvall/bus-message-lib/internal/wire"
)

// TestScenarioE2SharedMemoryOneToOne mirrors the shared-memory one-to-one
// scenario: 10k CAN data frames carrying can_id=123, master publishing,
// client subscribing, connected throughout.
func TestScenarioE2SharedMemoryOneToOne(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping high-volume scenario in -short mode")
	}
	name := "buslib-test-e2-can123"

	master := New(WithName(name), WithBufferSize(1<<16), AsMaster(true))
	if err := master.Start(); err != nil {
		t.Fatalf("master start: %v", err)
	}
	defer master.Stop()

	client := New(WithName(name), WithBufferSize(1<<16), AsMaster(false))
	if err := client.Start(); err != nil {
		t.Fatalf("client start: %v", err)
	}
	defer client.Stop()

	pub := master.CreatePublisher()
	sub := client.CreateSubscriber()

	const n = 10000
	const canID = 123

	go func() {
		for i := 0; i < n; i++ {
			pub.Push(frame(uint32(canID)))
		}
	}()

	got := 0
	deadline := time.Now().Add(30 * time.Second)
	for got < n && time.Now().Before(deadline) {
		msg := sub.PopWait(100 * time.Millisecond)
		if msg == nil {
			if !client.IsConnected() {
				t.Fatal("client disconnected mid-scenario")
			}
			continue
		}
		cf, ok := msg.(*wire.CANDataFrame)
		if !ok {
			t.Fatalf("expected *wire.CANDataFrame, got %T", msg)
		}
		if cf.CANID() != canID {
			t.Fatalf("expected can_id=%d, got %d", canID, cf.CANID())
		}
		got++
	}
	if got != n {
		t.Fatalf("expected %d messages, got %d", n, got)
	}
	if !client.IsConnected() {
		t.Fatal("expected client to stay connected throughout")
	}
}
