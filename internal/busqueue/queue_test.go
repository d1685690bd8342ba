package busqueue

import (
	"testing"
	"time"

	"github.com/ihedvall/bus-message-lib/internal/wire"
)

func TestPushPopIdentity(t *testing.T) {
	q := New()
	m := wire.Create(wire.Unknown)
	m.SetTimestamp(7)
	q.Push(m)
	if q.Size() != 1 {
		t.Fatalf("expected size 1, got %d", q.Size())
	}
	got := q.Pop()
	if got == nil || got.Timestamp() != 7 {
		t.Fatal("pop did not return pushed message")
	}
	if q.Size() != 0 {
		t.Fatalf("expected size 0 after pop, got %d", q.Size())
	}
}

func TestPopOnEmptyReturnsNil(t *testing.T) {
	q := New()
	if q.Pop() != nil {
		t.Fatal("expected nil pop on empty queue")
	}
}

func TestPopWaitTimesOut(t *testing.T) {
	q := New()
	start := time.Now()
	got := q.PopWait(30 * time.Millisecond)
	elapsed := time.Since(start)
	if got != nil {
		t.Fatal("expected nil on timeout")
	}
	if elapsed > 200*time.Millisecond {
		t.Fatalf("PopWait took too long: %s", elapsed)
	}
}

func TestPopWaitWakesOnPush(t *testing.T) {
	q := New()
	done := make(chan wire.BusMessage, 1)
	go func() {
		done <- q.PopWait(2 * time.Second)
	}()
	time.Sleep(20 * time.Millisecond)
	m := wire.Create(wire.Unknown)
	q.Push(m)
	select {
	case got := <-done:
		if got == nil {
			t.Fatal("expected message, got nil")
		}
	case <-time.After(time.Second):
		t.Fatal("PopWait did not wake on push")
	}
}

func TestPushFrontOrdering(t *testing.T) {
	q := New()
	first := wire.Create(wire.Unknown)
	first.SetBusChannel(1)
	second := wire.Create(wire.Unknown)
	second.SetBusChannel(2)
	q.Push(first)
	q.PushFront(second)
	got := q.Pop()
	if got.BusChannel() != 2 {
		t.Fatalf("expected pushed-to-front message first, got channel %d", got.BusChannel())
	}
}

func TestEmptyWaitDoesNotDequeue(t *testing.T) {
	q := New()
	m := wire.Create(wire.Unknown)
	q.Push(m)
	if !q.EmptyWait(10 * time.Millisecond) {
		t.Fatal("expected non-empty")
	}
	if q.Size() != 1 {
		t.Fatalf("expected size unchanged at 1, got %d", q.Size())
	}
}

func TestPushRawUnknownTypeDropped(t *testing.T) {
	q := New()
	raw := make([]byte, wire.HeaderSize)
	wire.PutUint16(raw, 0, 999) // outside known enum range
	q.PushRaw(raw)
	if q.Size() != 0 {
		t.Fatal("expected frame to be dropped")
	}
}

func TestPushRawValidCANDataFrame(t *testing.T) {
	f := wire.NewCANDataFrame()
	f.SetMessageID(0x123)
	f.SetData([]byte{1, 2, 3})
	var raw []byte
	f.ToRaw(&raw)

	q := New()
	q.PushRaw(raw)
	if q.Size() != 1 {
		t.Fatalf("expected 1 message pushed, got %d", q.Size())
	}
	got := q.Pop().(*wire.CANDataFrame)
	if got.CANID() != 0x123 {
		t.Fatalf("unexpected can id %#x", got.CANID())
	}
}

func TestStartResetsQueue(t *testing.T) {
	q := New()
	q.Push(wire.Create(wire.Unknown))
	q.Start()
	if q.Size() != 0 {
		t.Fatal("expected size 0 after Start")
	}
}
