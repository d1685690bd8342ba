package broker

import (
	"testing"
	"time"

	"github.com/ihedvall/bus-message-lib/internal/wire"
)

func sampleFrame(id uint32) *wire.CANDataFrame {
	f := wire.NewCANDataFrame()
	f.SetMessageID(id)
	f.SetData([]byte{9, 9})
	return f
}

func TestSingleProducerConsumer(t *testing.T) {
	b := New(WithName("t1"))
	if err := b.Start(); err != nil {
		t.Fatal(err)
	}
	defer b.Stop()

	pub := b.CreatePublisher()
	sub := b.CreateSubscriber()

	const n = 500
	for i := 0; i < n; i++ {
		pub.Push(sampleFrame(uint32(i)))
	}

	got := 0
	deadline := time.Now().Add(3 * time.Second)
	for got < n && time.Now().Before(deadline) {
		if msg := sub.PopWait(50 * time.Millisecond); msg != nil {
			got++
		}
	}
	if got != n {
		t.Fatalf("expected %d messages delivered, got %d", n, got)
	}
}

func TestBroadcastFanOutToAllSubscribers(t *testing.T) {
	b := New(WithName("t2"))
	if err := b.Start(); err != nil {
		t.Fatal(err)
	}
	defer b.Stop()

	pub := b.CreatePublisher()
	subA := b.CreateSubscriber()
	subB := b.CreateSubscriber()

	pub.Push(sampleFrame(1))

	a := subA.PopWait(1 * time.Second)
	bb := subB.PopWait(1 * time.Second)
	if a == nil || bb == nil {
		t.Fatal("expected both subscribers to receive the message")
	}
	if a == bb {
		t.Fatal("expected independent clones, not the same pointer")
	}
}

func TestDetachSubscriberStopsDelivery(t *testing.T) {
	b := New(WithName("t3"))
	if err := b.Start(); err != nil {
		t.Fatal(err)
	}
	defer b.Stop()

	pub := b.CreatePublisher()
	sub := b.CreateSubscriber()
	b.DetachSubscriber(sub)

	pub.Push(sampleFrame(1))
	time.Sleep(50 * time.Millisecond)

	if msg := sub.Pop(); msg != nil {
		t.Fatal("expected detached subscriber to receive nothing")
	}
	if b.NofSubscribers() != 0 {
		t.Fatalf("expected 0 subscribers, got %d", b.NofSubscribers())
	}
}

func TestDropPolicyDiscardsOnFullQueue(t *testing.T) {
	b := New(WithName("t4"), WithMaxQueueDepth(1), WithBackpressurePolicy(PolicyDrop))
	if err := b.Start(); err != nil {
		t.Fatal(err)
	}
	defer b.Stop()

	pub := b.CreatePublisher()
	sub := b.CreateSubscriber()

	pub.Push(sampleFrame(1))
	time.Sleep(30 * time.Millisecond)
	pub.Push(sampleFrame(2))
	time.Sleep(30 * time.Millisecond)

	if b.NofSubscribers() != 1 {
		t.Fatal("expected drop policy to keep the subscriber attached")
	}
	_ = sub.Pop()
}

func TestKickPolicyDetachesSaturatedSubscriber(t *testing.T) {
	b := New(WithName("t5"), WithMaxQueueDepth(1), WithBackpressurePolicy(PolicyKick))
	if err := b.Start(); err != nil {
		t.Fatal(err)
	}
	defer b.Stop()

	pub := b.CreatePublisher()
	b.CreateSubscriber()

	pub.Push(sampleFrame(1))
	time.Sleep(30 * time.Millisecond)
	pub.Push(sampleFrame(2))
	time.Sleep(30 * time.Millisecond)

	if b.NofSubscribers() != 0 {
		t.Fatalf("expected kick policy to detach the subscriber, got %d remaining", b.NofSubscribers())
	}
}
