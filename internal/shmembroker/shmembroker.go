// Package shmembroker implements the shared-memory broker: the same ring
// algorithm as internal/simbroker, but the ring lives in a named
// POSIX shared-memory segment so publishers and subscribers in different
// processes can attach to it (spec §4.F).
package shmembroker

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

const pollInterval = 10 * time.Millisecond
const openRetryInterval = 1 * time.Second

// Option configures a Broker at construction time.
type Option func(*Broker)

// WithName sets the region's name and the broker's Name().
func WithName(name string) Option {
	return func(b *Broker) { b.name = name }
}

// WithBufferSize overrides the default 16000-byte ring payload.
func WithBufferSize(n int) Option {
	return func(b *Broker) { b.bufferSize = n }
}

// AsMaster marks this broker instance as the region's owner: it creates and
// initializes the segment. Non-master instances open an existing segment
// created by some other process, retrying every second until it appears
// (spec §4.F).
func AsMaster(isMaster bool) Option {
	return func(b *Broker) { b.master = isMaster }
}

// Broker is the shared-memory transport (spec §4.F). Reliability is a small
// state machine per queue task: WaitOnSharedMemory -> HandleMessages,
// reverting to WaitOnSharedMemory on any region error, with a latched
// "operable" flag suppressing duplicate error logs while it retries.
type Broker struct {
	name       string
	bufferSize int
	master     bool

	mu        sync.Mutex
	region    *shmring.Region
	lock      *shmring.FlockLocker
	closeFn   func() error
	ring      *shmring.Ring
	connected bool

	// publishers/subscribers track only the stop channel and read-channel
	// index needed to tear a queue's bridging goroutine down; per spec
	// §4.F the shared-memory variant does not add these queues to the
	// broker's registry the way the in-process/simulate brokers do (the
	// C++ ground truth's CreatePublisher/CreateSubscriber comment reads
	// "No need to add the message queue to a list"), so NofPublishers and
	// NofSubscribers always report 0.
	publishers  map[*busqueue.Queue]chan struct{}
	subscribers map[*busqueue.Queue]chan struct{}
	subChannel  map[*busqueue.Queue]int

	masterStop chan struct{}
	wg         sync.WaitGroup
	running    bool
}

// New returns a stopped shared-memory broker bound to region name.
func New(opts ...Option) *Broker {
	b := &Broker{
		name:        "shmembroker",
		bufferSize:  shmring.DefaultPayloadSize,
		publishers:  make(map[*busqueue.Queue]chan struct{}),
		subscribers: make(map[*busqueue.Queue]chan struct{}),
		subChannel:  make(map[*busqueue.Queue]int),
	}
	for _, fn := range opts {
		fn(b)
	}
	return b
}

func (b *Broker) Name() string    { return b.name }
func (b *Broker) MemorySize() int { return b.bufferSize }
func (b *Broker) Address() string { return "" }
func (b *Broker) Port() int       { return 0 }

func (b *Broker) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

var _ broker.Broker = (*Broker)(nil)

// attach maps (creating if master) the named region. Called both from
// Start and, for non-master instances that started before the master
// created the segment, retried lazily by queue tasks.
func (b *Broker) attach() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ring != nil {
		return nil
	}

	totalSize := shmring.HeaderBytes + b.bufferSize
	var region *shmring.Region
	var lock *shmring.FlockLocker
	var closeFn func() error
	var err error

	if b.master {
		region, lock, closeFn, err = shmring.CreateRegion(b.name, totalSize)
		if err != nil {
			metrics.IncError(metrics.ErrRegionOpen)
			return fmt.Errorf("shmembroker: create region %s: %w", b.name, err)
		}
		region.SetChannelUsed(shmring.WriteChannel, true)
		region.SetInitialized(true)
	} else {
		region, lock, closeFn, err = shmring.OpenRegion(b.name, totalSize)
		if err != nil {
			return err // not logged as an error: expected until the master creates it
		}
		if !region.Initialized() {
			closeFn()
			return fmt.Errorf("shmembroker: region %s not yet initialized", b.name)
		}
	}

	b.region = region
	b.lock = lock
	b.closeFn = closeFn
	b.ring = shmring.NewRing(region, lock, b.name)
	b.connected = true
	return nil
}

// CreatePublisher returns a fresh publisher queue. Its bridging goroutine
// waits for the region to appear if this instance is not the master (or
// the master hasn't finished Start yet). Per spec §4.F the queue is not
// added to the broker's registry, so NofPublishers is unaffected.
func (b *Broker) CreatePublisher() *busqueue.Queue {
	q := busqueue.New()
	stop := make(chan struct{})
	b.mu.Lock()
	b.publishers[q] = stop
	n := len(b.publishers)
	b.mu.Unlock()
	metrics.SetPublishers(n)

	b.wg.Add(1)
	go b.publisherTask(q, stop)
	return q
}

// CreateSubscriber returns a fresh subscriber queue and starts its
// bridging goroutine. Per spec §4.F the queue is not added to the
// broker's registry, so NofSubscribers is unaffected.
func (b *Broker) CreateSubscriber() *busqueue.Queue {
	q := busqueue.New()
	stop := make(chan struct{})
	b.mu.Lock()
	b.subscribers[q] = stop
	b.subChannel[q] = -1
	n := len(b.subscribers)
	b.mu.Unlock()
	metrics.SetSubscribers(n)

	b.wg.Add(1)
	go b.subscriberTask(q, stop)
	return q
}

func (b *Broker) DetachPublisher(q *busqueue.Queue) {
	b.mu.Lock()
	stop, ok := b.publishers[q]
	delete(b.publishers, q)
	n := len(b.publishers)
	b.mu.Unlock()
	if ok {
		close(stop)
	}
	metrics.SetPublishers(n)
}

func (b *Broker) DetachSubscriber(q *busqueue.Queue) {
	b.mu.Lock()
	stop, ok := b.subscribers[q]
	idx := b.subChannel[q]
	delete(b.subscribers, q)
	delete(b.subChannel, q)
	n := len(b.subscribers)
	ring := b.ring
	b.mu.Unlock()
	if ok {
		close(stop)
	}
	if idx > 0 && ring != nil {
		ring.Lock.Lock()
		ring.Region.ReleaseChannel(idx)
		ring.Lock.Unlock()
	}
	metrics.SetSubscribers(n)
}

// NofPublishers always reports 0: shared-memory publishers are not added
// to the broker's registry (spec §4.F).
func (b *Broker) NofPublishers() int { return 0 }

// NofSubscribers always reports 0: shared-memory subscribers are not
// added to the broker's registry (spec §4.F).
func (b *Broker) NofSubscribers() int { return 0 }

// Start, for the master, creates and attaches the region and launches the
// arbitration task. A non-master instance does not attach here; its
// publisher/subscriber tasks attach lazily.
func (b *Broker) Start() error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return nil
	}
	b.running = true
	b.masterStop = make(chan struct{})
	b.mu.Unlock()

	if b.master {
		if err := b.attach(); err != nil {
			return err
		}
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.ring.RunMaster(b.masterStop)
		}()
	}
	return nil
}

// Stop halts the master task (if any) and every publisher/subscriber
// goroutine, then unmaps the region. The master additionally removes the
// backing files.
func (b *Broker) Stop() error {
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
	closeFn := b.closeFn
	master := b.master
	name := b.name
	b.connected = false
	b.mu.Unlock()

	b.wg.Wait()

	if closeFn != nil {
		if err := closeFn(); err != nil {
			logging.L().Error("shmembroker_close_error", "broker", b.name, "error", err)
		}
	}
	if master {
		shmring.RemoveRegion(name)
	}
	return nil
}

// publisherTask implements the WaitOnSharedMemory -> HandleMessages state
// machine for a publisher (spec §4.F): retry attach() every second while
// unattached, suppressing duplicate error logs via a latched "operable"
// flag, then drain q into the ring once attached.
func (b *Broker) publisherTask(q *busqueue.Queue, stop chan struct{}) {
	defer b.wg.Done()
	operable := true

	for {
		select {
		case <-stop:
			return
		default:
		}

		b.mu.Lock()
		ring := b.ring
		b.mu.Unlock()
		if ring == nil {
			if err := b.attach(); err != nil {
				if operable {
					logging.L().Error("shmembroker_wait_on_shared_memory", "broker", b.name, "error", err)
					operable = false
				}
				select {
				case <-stop:
					return
				case <-time.After(openRetryInterval):
				}
				continue
			}
			operable = true
			b.mu.Lock()
			ring = b.ring
			b.mu.Unlock()
		}

		msg := q.PopWait(pollInterval)
		if msg == nil {
			continue
		}
		for !ring.PublisherPoll(msg) {
			select {
			case <-stop:
				return
			case <-time.After(pollInterval):
			}
		}
	}
}

// subscriberTask mirrors publisherTask: wait for the region, allocate a
// read channel, then copy records into q.
func (b *Broker) subscriberTask(q *busqueue.Queue, stop chan struct{}) {
	defer b.wg.Done()
	operable := true
	idx := -1
	var raw []byte

	for {
		select {
		case <-stop:
			return
		default:
		}

		b.mu.Lock()
		ring := b.ring
		b.mu.Unlock()
		if ring == nil {
			if err := b.attach(); err != nil {
				if operable {
					logging.L().Error("shmembroker_wait_on_shared_memory", "broker", b.name, "error", err)
					operable = false
				}
				select {
				case <-stop:
					return
				case <-time.After(openRetryInterval):
				}
				continue
			}
			operable = true
			b.mu.Lock()
			ring = b.ring
			b.mu.Unlock()
		}

		if idx < 0 {
			ring.Lock.Lock()
			idx = ring.Region.AllocateReadChannel()
			ring.Lock.Unlock()
			if idx < 0 {
				logging.L().Error("shmembroker_channel_allocation_failed", "broker", b.name)
				select {
				case <-stop:
					return
				case <-time.After(openRetryInterval):
				}
				continue
			}
			b.mu.Lock()
			b.subChannel[q] = idx
			b.mu.Unlock()
		}

		switch ring.SubscriberPoll(idx, &raw) {
		case shmring.PollOK:
			out := make([]byte, len(raw))
			copy(out, raw)
			q.PushRaw(out)
		case shmring.PollReconnect:
			logging.L().Warn("shmembroker_subscriber_reconnect", "broker", b.name, "channel", idx)
			idx = -1
		case shmring.PollInconsistent:
			logging.L().Error("shmembroker_subscriber_inconsistent", "broker", b.name, "channel", idx)
		case shmring.PollNoData:
			time.Sleep(pollInterval)
		}
	}
}
