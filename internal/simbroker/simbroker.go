// Package simbroker implements the "simulate broker": a reference
// implementation of the shared-memory ring algorithm that lives entirely on
// a heap buffer inside one process (spec §4.E). It shares its ring
// algorithm with internal/shmring so cross-process brokers exercise exactly
// the same PublisherPoll/SubscriberPoll/master logic this package's tests
// already cover.
package simbroker

import (
	"fmt"
	"sync"
	"time"

	"github.com/ihedvall/bus-message-lib/internal/broker"
	"github.com/ihedvall/bus-message-lib/internal/busqueue"
	"github.com/ihedvall/bus-message-lib/internal/logging"
	"github.com/ihedvall/bus-message-lib/internal/metrics"
	"github.com/ihedvall/bus-message-lib/internal/shmring"
)

// pollInterval is how long a subscriber task sleeps after finding no new
// data, and how long a publisher task waits to be woken after the ring
// reports full (spec §4.E).
const pollInterval = 10 * time.Millisecond

// Option configures a SimBroker at construction time.
type Option func(*SimBroker)

// WithName sets the broker's Name().
func WithName(name string) Option {
	return func(b *SimBroker) { b.name = name }
}

// WithBufferSize overrides the default 16000-byte ring payload.
func WithBufferSize(n int) Option {
	return func(b *SimBroker) { b.bufferSize = n }
}

// SimBroker is an in-process, heap-buffer implementation of the
// shared-memory ring broadcast protocol. Every publisher and subscriber
// runs its own goroutine bridging a plain busqueue.Queue (the client-facing
// FIFO) to the shared ring, mirroring the original's
// SimulateQueue::PublisherTask/SubscriberTask per-queue worker threads.
type SimBroker struct {
	name       string
	bufferSize int

	ring *shmring.Ring

	mu          sync.Mutex
	publishers  map[*busqueue.Queue]chan struct{}
	subscribers map[*busqueue.Queue]chan struct{}
	subChannel  map[*busqueue.Queue]int

	masterStop chan struct{}
	wg         sync.WaitGroup
	running    bool
}

// New returns a stopped simulate broker.
func New(opts ...Option) *SimBroker {
	b := &SimBroker{
		name:        "simbroker",
		bufferSize:  shmring.DefaultPayloadSize,
		publishers:  make(map[*busqueue.Queue]chan struct{}),
		subscribers: make(map[*busqueue.Queue]chan struct{}),
		subChannel:  make(map[*busqueue.Queue]int),
	}
	for _, fn := range opts {
		fn(b)
	}
	buf := make([]byte, shmring.HeaderBytes+b.bufferSize)
	region := shmring.NewRegion(buf, b.bufferSize)
	region.SetChannelUsed(shmring.WriteChannel, true)
	b.ring = shmring.NewRing(region, shmring.NewLocalLocker(), b.name)
	return b
}

func (b *SimBroker) Name() string      { return b.name }
func (b *SimBroker) MemorySize() int   { return b.bufferSize }
func (b *SimBroker) Address() string   { return "" }
func (b *SimBroker) Port() int         { return 0 }
func (b *SimBroker) IsConnected() bool { b.mu.Lock(); defer b.mu.Unlock(); return b.running }

var _ broker.Broker = (*SimBroker)(nil)

// CreatePublisher registers a publisher queue and starts its bridging
// goroutine (PublisherTask in the original).
func (b *SimBroker) CreatePublisher() *busqueue.Queue {
	q := busqueue.New()
	stop := make(chan struct{})

	b.mu.Lock()
	b.publishers[q] = stop
	b.mu.Unlock()
	metrics.SetPublishers(b.NofPublishers())

	b.wg.Add(1)
	go b.publisherTask(q, stop)
	return q
}

// CreateSubscriber registers a subscriber queue, allocates it a ring
// channel, and starts its bridging goroutine (SubscriberTask).
func (b *SimBroker) CreateSubscriber() *busqueue.Queue {
	q := busqueue.New()
	stop := make(chan struct{})

	b.ring.Lock.Lock()
	idx := b.ring.Region.AllocateReadChannel()
	b.ring.Lock.Unlock()

	b.mu.Lock()
	b.subscribers[q] = stop
	b.subChannel[q] = idx
	b.mu.Unlock()
	metrics.SetSubscribers(b.NofSubscribers())

	if idx < 0 {
		logging.L().Error("simbroker_channel_allocation_failed", "broker", b.name)
		return q
	}

	b.wg.Add(1)
	go b.subscriberTask(q, idx, stop)
	return q
}

// DetachPublisher stops and unregisters a publisher queue.
func (b *SimBroker) DetachPublisher(q *busqueue.Queue) {
	b.mu.Lock()
	stop, ok := b.publishers[q]
	delete(b.publishers, q)
	b.mu.Unlock()
	if ok {
		close(stop)
	}
	metrics.SetPublishers(b.NofPublishers())
}

// DetachSubscriber stops, releases the ring channel, and unregisters a
// subscriber queue.
func (b *SimBroker) DetachSubscriber(q *busqueue.Queue) {
	b.mu.Lock()
	stop, ok := b.subscribers[q]
	idx := b.subChannel[q]
	delete(b.subscribers, q)
	delete(b.subChannel, q)
	b.mu.Unlock()
	if ok {
		close(stop)
	}
	if idx > 0 {
		b.ring.Lock.Lock()
		b.ring.Region.ReleaseChannel(idx)
		b.ring.Lock.Unlock()
	}
	metrics.SetSubscribers(b.NofSubscribers())
}

func (b *SimBroker) NofPublishers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.publishers)
}

func (b *SimBroker) NofSubscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

// Start launches the master arbitration task.
func (b *SimBroker) Start() error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return nil
	}
	b.running = true
	b.masterStop = make(chan struct{})
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.ring.RunMaster(b.masterStop)
	}()
	return nil
}

// Stop halts the master task and every publisher/subscriber goroutine.
func (b *SimBroker) Stop() error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return nil
	}
	b.running = false
	close(b.masterStop)
	for _, stop := range b.publishers {
		close(stop)
	}
	for _, stop := range b.subscribers {
		close(stop)
	}
	b.publishers = make(map[*busqueue.Queue]chan struct{})
	b.subscribers = make(map[*busqueue.Queue]chan struct{})
	b.subChannel = make(map[*busqueue.Queue]int)
	b.mu.Unlock()

	b.wg.Wait()
	return nil
}

// publisherTask drains q into the ring, sleeping while the ring reports
// full: it retries PublisherPoll every pollInterval until the master has
// reset the ring. It does not wait on LocalLocker's buffer-full condition.
func (b *SimBroker) publisherTask(q *busqueue.Queue, stop chan struct{}) {
	defer b.wg.Done()
	for {
		select {
		case <-stop:
			return
		default:
		}

		msg := q.PopWait(pollInterval)
		if msg == nil {
			continue
		}

		for !b.ring.PublisherPoll(msg) {
			select {
			case <-stop:
				return
			case <-time.After(pollInterval):
			}
		}
	}
}

// subscriberTask copies records from the ring into q, sleeping 10ms after
// a poll finds nothing new (spec §4.E).
func (b *SimBroker) subscriberTask(q *busqueue.Queue, idx int, stop chan struct{}) {
	defer b.wg.Done()
	var raw []byte
	for {
		select {
		case <-stop:
			return
		default:
		}

		switch b.ring.SubscriberPoll(idx, &raw) {
		case shmring.PollOK:
			out := make([]byte, len(raw))
			copy(out, raw)
			q.PushRaw(out)
		case shmring.PollReconnect:
			logging.L().Warn("simbroker_subscriber_reconnect", "broker", b.name, "channel", idx)
			return
		case shmring.PollInconsistent:
			logging.L().Error("simbroker_subscriber_inconsistent", "broker", b.name, "channel", idx)
		case shmring.PollNoData:
			time.Sleep(pollInterval)
		}
	}
}

// String implements fmt.Stringer for debug logging.
func (b *SimBroker) String() string {
	return fmt.Sprintf("SimBroker(%s, %d bytes)", b.name, b.bufferSize)
}
