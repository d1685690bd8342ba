// Package busqueue implements the thread-safe publisher/subscriber queue
// primitive every broker transport is built on.
package busqueue

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ihedvall/bus-message-lib/internal/logging"
	"github.com/ihedvall/bus-message-lib/internal/wire"
)

// maxKnownMessageType bounds the enum this module's factory understands;
// push_raw drops frames with a type tag outside this range.
const maxKnownMessageType = wire.CANSingleWireType

// Queue is an ordered, thread-safe FIFO of bus messages. The queue owns
// enqueued messages until they are popped, at which point ownership
// transfers to the caller (spec §3, Queue).
type Queue struct {
	mu    sync.Mutex
	cond  *sync.Cond
	items []wire.BusMessage
	size  atomic.Int64
}

// New creates an empty, running queue.
func New() *Queue {
	q := &Queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends msg and wakes one waiter. O(1).
func (q *Queue) Push(msg wire.BusMessage) {
	q.mu.Lock()
	q.items = append(q.items, msg)
	q.size.Add(1)
	q.mu.Unlock()
	q.cond.Signal()
}

// PushFront prepends msg. Used when a transport returns an unsent message
// to the queue because the downstream was full.
func (q *Queue) PushFront(msg wire.BusMessage) {
	q.mu.Lock()
	q.items = append([]wire.BusMessage{msg}, q.items...)
	q.size.Add(1)
	q.mu.Unlock()
	q.cond.Signal()
}

// PushRaw parses a header from data, creates a typed message via the
// factory, and pushes it. It drops the frame (logging an error) if the
// declared type tag is outside the range this module's factory knows, or if
// FromRaw marks the resulting message invalid.
func (q *Queue) PushRaw(data []byte) {
	if len(data) < wire.HeaderSize {
		logging.L().Error("busqueue_push_raw_short", "len", len(data))
		return
	}
	t := wire.MessageType(wire.Uint16(data, 0))
	if t > maxKnownMessageType {
		logging.L().Error("busqueue_push_raw_unknown_type", "type", uint16(t))
		return
	}
	msg := wire.Create(t)
	msg.FromRaw(data)
	if !msg.Valid() {
		logging.L().Error("busqueue_push_raw_invalid", "type", t.String())
		return
	}
	q.Push(msg)
}

// Pop returns the next message, or nil if the queue is empty.
func (q *Queue) Pop() wire.BusMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.popLocked()
}

func (q *Queue) popLocked() wire.BusMessage {
	if len(q.items) == 0 {
		return nil
	}
	msg := q.items[0]
	q.items = q.items[1:]
	q.size.Add(-1)
	return msg
}

// PopWait waits up to relTime for a message, returning nil on timeout.
func (q *Queue) PopWait(relTime time.Duration) wire.BusMessage {
	deadline := time.Now().Add(relTime)

	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil
		}
		if !q.waitWithTimeout(remaining) {
			return nil
		}
	}
	return q.popLocked()
}

// waitWithTimeout blocks on q.cond for up to d, holding q.mu on entry and
// exit. It returns false if the wait timed out with the queue still empty.
// sync.Cond has no built-in
// timeout, so a helper goroutine broadcasts after d elapses.
func (q *Queue) waitWithTimeout(d time.Duration) bool {
	timedOut := make(chan struct{})
	timer := time.AfterFunc(d, func() {
		close(timedOut)
		q.cond.Broadcast()
	})
	defer timer.Stop()

	q.cond.Wait()

	select {
	case <-timedOut:
		return len(q.items) != 0
	default:
		return true
	}
}

// EmptyWait waits up to relTime for the queue to become non-empty. It does
// not dequeue. Returns true if the queue is non-empty when it returns.
func (q *Queue) EmptyWait(relTime time.Duration) bool {
	deadline := time.Now().Add(relTime)
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		if !q.waitWithTimeout(remaining) {
			return len(q.items) != 0
		}
	}
	return true
}

// Size returns the current count without requiring the lock.
func (q *Queue) Size() int { return int(q.size.Load()) }

// MessageSize returns the serialized size of the head message, or 0 if
// empty.
func (q *Queue) MessageSize() uint32 {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return 0
	}
	return q.items[0].Size()
}

// Start resets the queue to empty.
func (q *Queue) Start() {
	q.mu.Lock()
	q.items = nil
	q.size.Store(0)
	q.mu.Unlock()
}

// Stop wakes any waiters. Contents are retained for inspection; callers
// must call Clear afterward to actually empty the queue.
func (q *Queue) Stop() {
	q.mu.Lock()
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Clear empties the queue. Conventionally called right after Stop.
func (q *Queue) Clear() {
	q.mu.Lock()
	q.items = nil
	q.size.Store(0)
	q.mu.Unlock()
}
