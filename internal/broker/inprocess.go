package broker

import (
	"sync"
	"time"

	"github.com/ihedvall/bus-message-lib/internal/busqueue"
	"github.com/ihedvall/bus-message-lib/internal/logging"
	"github.com/ihedvall/bus-message-lib/internal/metrics"
	"github.com/ihedvall/bus-message-lib/internal/wire"
)

// sweepInterval is how often the in-process broadcast loop drains
// publishers and fans out to subscribers (spec §4.D).
const sweepInterval = 10 * time.Millisecond

// InProcess is the simplest broker: publishers and subscribers are plain
// busqueue.Queue values living in the same process, connected by a single
// broadcast worker. Grounded on the teacher's hub.Hub: a registry mutex
// guards two slices, Broadcast takes a point-in-time snapshot before
// fanning out so a slow subscriber can't hold the registry lock, and a
// configurable backpressure policy decides what happens when a
// subscriber's queue is saturated.
type InProcess struct {
	opts options

	mu          sync.RWMutex
	publishers  []*busqueue.Queue
	subscribers []*busqueue.Queue

	stop    chan struct{}
	wg      sync.WaitGroup
	running bool
}

// New returns a stopped in-process broker.
func New(opts ...Option) *InProcess {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	return &InProcess{opts: o}
}

func (b *InProcess) Name() string     { return b.opts.name }
func (b *InProcess) MemorySize() int  { return 0 }
func (b *InProcess) Address() string  { return "" }
func (b *InProcess) Port() int        { return 0 }

// MDNSName returns the instance name set via WithMDNSName, or "" if mDNS
// advertisement was not requested.
func (b *InProcess) MDNSName() string { return b.opts.mdnsName }
func (b *InProcess) IsConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.running
}

// CreatePublisher registers and returns a new publisher queue.
func (b *InProcess) CreatePublisher() *busqueue.Queue {
	q := busqueue.New()
	b.mu.Lock()
	b.publishers = append(b.publishers, q)
	b.mu.Unlock()
	metrics.SetPublishers(b.NofPublishers())
	return q
}

// CreateSubscriber registers and returns a new subscriber queue.
func (b *InProcess) CreateSubscriber() *busqueue.Queue {
	q := busqueue.New()
	b.mu.Lock()
	b.subscribers = append(b.subscribers, q)
	b.mu.Unlock()
	metrics.SetSubscribers(b.NofSubscribers())
	return q
}

// DetachPublisher removes q from the publisher registry.
func (b *InProcess) DetachPublisher(q *busqueue.Queue) {
	b.mu.Lock()
	b.publishers = removeQueue(b.publishers, q)
	b.mu.Unlock()
	metrics.SetPublishers(b.NofPublishers())
}

// DetachSubscriber removes q from the subscriber registry.
func (b *InProcess) DetachSubscriber(q *busqueue.Queue) {
	b.mu.Lock()
	b.subscribers = removeQueue(b.subscribers, q)
	b.mu.Unlock()
	metrics.SetSubscribers(b.NofSubscribers())
}

func removeQueue(list []*busqueue.Queue, target *busqueue.Queue) []*busqueue.Queue {
	out := list[:0]
	for _, q := range list {
		if q != target {
			out = append(out, q)
		}
	}
	return out
}

func (b *InProcess) NofPublishers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.publishers)
}

func (b *InProcess) NofSubscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Start launches the broadcast worker.
func (b *InProcess) Start() error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return nil
	}
	b.running = true
	b.stop = make(chan struct{})
	b.mu.Unlock()

	b.wg.Add(1)
	go b.broadcastLoop()
	return nil
}

// Stop halts the broadcast worker. Registered queues are left intact.
func (b *InProcess) Stop() error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return nil
	}
	b.running = false
	close(b.stop)
	b.mu.Unlock()

	b.wg.Wait()
	return nil
}

// broadcastLoop is the single worker of spec §4.D: sweep every publisher,
// drain it completely, fan each message out to every subscriber, sleep,
// repeat.
func (b *InProcess) broadcastLoop() {
	defer b.wg.Done()
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
			b.sweepOnce()
		}
	}
}

func (b *InProcess) sweepOnce() {
	b.mu.RLock()
	pubs := append([]*busqueue.Queue(nil), b.publishers...)
	subs := append([]*busqueue.Queue(nil), b.subscribers...)
	b.mu.RUnlock()

	if len(subs) > 0 {
		metrics.SetBroadcastFanout(len(subs))
	}

	for _, pub := range pubs {
		for {
			msg := pub.Pop()
			if msg == nil {
				break
			}
			b.fanOut(msg, subs)
		}
	}

	maxDepth, sumDepth := 0, 0
	for _, sub := range subs {
		d := sub.Size()
		if d > maxDepth {
			maxDepth = d
		}
		sumDepth += d
	}
	avgDepth := 0
	if len(subs) > 0 {
		avgDepth = sumDepth / len(subs)
	}
	metrics.SetQueueDepth(maxDepth, avgDepth)
}

// fanOut delivers msg to every subscriber, applying the configured
// backpressure policy to any subscriber whose queue is at capacity.
func (b *InProcess) fanOut(msg wire.BusMessage, subs []*busqueue.Queue) {
	for _, sub := range subs {
		if b.opts.maxQueueDepth > 0 && sub.Size() >= b.opts.maxQueueDepth {
			switch b.opts.backpressure {
			case PolicyKick:
				logging.L().Warn("broker_kick_subscriber", "broker", b.opts.name, "depth", sub.Size())
				b.DetachSubscriber(sub)
				metrics.IncBrokerKick()
			default:
				metrics.IncBrokerDrop()
			}
			continue
		}
		sub.Push(msg.Clone())
	}
}
