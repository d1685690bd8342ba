package shmembroker

import (
	"testing"
	"time"

	"github.com/ihedvall/bus-message-lib/internal/wire"
)

func frame(id uint32) *wire.CANDataFrame {
	f := wire.NewCANDataFrame()
	f.SetMessageID(id)
	f.SetData([]byte{7, 7, 7})
	return f
}

func TestMasterClientOneToOne(t *testing.T) {
	name := "buslib-test-one-to-one"

	master := New(WithName(name), WithBufferSize(4096), AsMaster(true))
	if err := master.Start(); err != nil {
		t.Fatalf("master start: %v", err)
	}
	defer func() {
		master.Stop()
	}()

	client := New(WithName(name), WithBufferSize(4096), AsMaster(false))
	if err := client.Start(); err != nil {
		t.Fatalf("client start: %v", err)
	}
	defer client.Stop()

	pub := master.CreatePublisher()
	sub := client.CreateSubscriber()

	const n = 500
	go func() {
		for i := 0; i < n; i++ {
			pub.Push(frame(uint32(i)))
		}
	}()

	got := 0
	deadline := time.Now().Add(10 * time.Second)
	for got < n && time.Now().Before(deadline) {
		if msg := sub.PopWait(100 * time.Millisecond); msg != nil {
			got++
		}
	}
	if got != n {
		t.Fatalf("expected %d messages, got %d", n, got)
	}

	if !client.IsConnected() {
		t.Fatal("expected client to report connected once attached")
	}
}

// TestNofPublishersSubscribersNotRegistered asserts spec §4.F's registry
// carve-out: unlike the in-process/simulate brokers, a shared-memory
// broker never counts its own publisher/subscriber queues.
func TestNofPublishersSubscribersNotRegistered(t *testing.T) {
	name := "buslib-test-registry"

	b := New(WithName(name), WithBufferSize(4096), AsMaster(true))
	if err := b.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer b.Stop()

	pub := b.CreatePublisher()
	sub := b.CreateSubscriber()

	if n := b.NofPublishers(); n != 0 {
		t.Fatalf("NofPublishers() = %d, want 0", n)
	}
	if n := b.NofSubscribers(); n != 0 {
		t.Fatalf("NofSubscribers() = %d, want 0", n)
	}

	b.DetachPublisher(pub)
	b.DetachSubscriber(sub)

	if n := b.NofPublishers(); n != 0 {
		t.Fatalf("NofPublishers() after detach = %d, want 0", n)
	}
	if n := b.NofSubscribers(); n != 0 {
		t.Fatalf("NofSubscribers() after detach = %d, want 0", n)
	}
}
