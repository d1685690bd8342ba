package simbroker

import (
	"testing"
	"time"

	"github.com/ihedvall/bus-message-lib/internal/busqueue"
	"github.com/ihedvall/bus-message-lib/internal/wire"
)

func frame(id uint32) *wire.CANDataFrame {
	f := wire.NewCANDataFrame()
	f.SetMessageID(id)
	f.SetData([]byte{1, 2, 3})
	return f
}

func TestOneToOneDelivery(t *testing.T) {
	b := New(WithName("t1"), WithBufferSize(4096))
	if err := b.Start(); err != nil {
		t.Fatal(err)
	}
	defer b.Stop()

	pub := b.CreatePublisher()
	sub := b.CreateSubscriber()

	const n = 2000
	go func() {
		for i := 0; i < n; i++ {
			pub.Push(frame(uint32(123)))
		}
	}()

	got := 0
	deadline := time.Now().Add(5 * time.Second)
	for got < n && time.Now().Before(deadline) {
		if msg := sub.PopWait(50 * time.Millisecond); msg != nil {
			got++
		}
	}
	if got != n {
		t.Fatalf("expected %d messages, got %d", n, got)
	}
}

func TestTenToTenDelivery(t *testing.T) {
	b := New(WithName("t2"), WithBufferSize(16000))
	if err := b.Start(); err != nil {
		t.Fatal(err)
	}
	defer b.Stop()

	const nPub, nSub, perPub = 10, 10, 200

	pubQueues := make([]*busqueue.Queue, 0, nPub)
	for i := 0; i < nPub; i++ {
		pubQueues = append(pubQueues, b.CreatePublisher())
	}

	subs := make([]*busqueue.Queue, 0, nSub)
	for i := 0; i < nSub; i++ {
		subs = append(subs, b.CreateSubscriber())
	}

	for _, p := range pubQueues {
		go func(p *busqueue.Queue) {
			for i := 0; i < perPub; i++ {
				p.Push(frame(uint32(i)))
			}
		}(p)
	}

	want := nPub * perPub
	deadline := time.Now().Add(10 * time.Second)
	for _, s := range subs {
		got := 0
		for got < want && time.Now().Before(deadline) {
			if msg := s.PopWait(50 * time.Millisecond); msg != nil {
				got++
			}
		}
		if got != want {
			t.Fatalf("subscriber got %d, want %d", got, want)
		}
	}
}

func TestSustainedBackpressureRaisesBufferFull(t *testing.T) {
	b := New(WithName("t3"), WithBufferSize(64))
	if err := b.Start(); err != nil {
		t.Fatal(err)
	}
	defer b.Stop()

	pub := b.CreatePublisher()
	b.CreateSubscriber() // never drained, forces a stall

	for i := 0; i < 200; i++ {
		pub.Push(frame(1))
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		b.ring.Lock.Lock()
		full := b.ring.Region.BufferFull()
		b.ring.Lock.Unlock()
		if full {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected the ring to report buffer_full under sustained backpressure")
}
