// Package shmemserver implements the shared-memory server/client TX/RX
// split (spec §4.G): identical to internal/shmembroker except the shared
// region carries two independent rings. The server's publishers write the
// TX ring and its subscribers read the RX ring; a client mirrors that
// (write RX, read TX). Naming follows
// original_source/interface/src/sharedmemorytxrxqueue.h's tx_queue_/
// publisher_ role flags.
package shmemserver

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

// TXRXRegion is a single shared-memory segment carrying two independent
// rings back to back: TX first, then RX. Each has its own header
// (initialized flag, buffer-full flag, 256 channels) and payload area.
type TXRXRegion struct {
	buf        []byte
	ringSize   int // header + payload, per ring
	tx         *shmring.Region
	rx         *shmring.Region
	lock       *shmring.FlockLocker
	closeFn    func() error
}

func newTXRXRegion(buf []byte, payloadSize int, lock *shmring.FlockLocker, closeFn func() error) *TXRXRegion {
	ringSize := shmring.HeaderBytes + payloadSize
	return &TXRXRegion{
		buf:      buf,
		ringSize: ringSize,
		tx:       shmring.NewRegion(buf[:ringSize], payloadSize),
		rx:       shmring.NewRegion(buf[ringSize:2*ringSize], payloadSize),
		lock:     lock,
		closeFn:  closeFn,
	}
}

// Option configures Server/Client construction.
type Option func(*config)

type config struct {
	name       string
	bufferSize int
}

// WithName sets the shared region's name.
func WithName(name string) Option { return func(c *config) { c.name = name } }

// WithBufferSize overrides the default 16000-byte per-ring payload.
func WithBufferSize(n int) Option { return func(c *config) { c.bufferSize = n } }

func defaultConfig() config {
	return config{name: "shmemserver", bufferSize: shmring.DefaultPayloadSize}
}

func totalRegionSize(bufferSize int) int {
	return 2 * (shmring.HeaderBytes + bufferSize)
}

// side implements the shared plumbing common to Server and Client: attach
// on demand, register queue tasks against a chosen (write, read) ring pair.
type side struct {
	cfg    config
	master bool

	mu      sync.Mutex
	region  *TXRXRegion
	writeR  *shmring.Ring // the ring this side's publishers write
	readR   *shmring.Ring // the ring this side's subscribers read

	// publishers/subscribers track only the stop channel and read-channel
	// index needed to tear a queue's bridging goroutine down; per spec
	// §4.G the shared-memory variant does not add these queues to the
	// broker's registry the way the in-process/simulate brokers do, so
	// nofPublishers and nofSubscribers always report 0.
	publishers  map[*busqueue.Queue]chan struct{}
	subscribers map[*busqueue.Queue]chan struct{}
	subChannel  map[*busqueue.Queue]int

	masterStop chan struct{}
	wg         sync.WaitGroup
	running    bool
	connected  bool
}

func newSide(cfg config, master bool) *side {
	return &side{
		cfg:         cfg,
		master:      master,
		publishers:  make(map[*busqueue.Queue]chan struct{}),
		subscribers: make(map[*busqueue.Queue]chan struct{}),
		subChannel:  make(map[*busqueue.Queue]int),
	}
}

func (s *side) attach(writeIsTX bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.region != nil {
		return nil
	}

	total := totalRegionSize(s.cfg.bufferSize)
	var buf []byte
	var lock *shmring.FlockLocker
	var closeFn func() error
	var err error

	if s.master {
		buf, lock, closeFn, err = shmring.CreateRawSegment(s.cfg.name, total)
		if err != nil {
			metrics.IncError(metrics.ErrRegionOpen)
			return fmt.Errorf("shmemserver: create region %s: %w", s.cfg.name, err)
		}
	} else {
		buf, lock, closeFn, err = shmring.OpenRawSegment(s.cfg.name, total)
		if err != nil {
			return err
		}
	}

	txrx := newTXRXRegion(buf, s.cfg.bufferSize, lock, closeFn)
	if s.master {
		txrx.tx.SetChannelUsed(shmring.WriteChannel, true)
		txrx.rx.SetChannelUsed(shmring.WriteChannel, true)
		// Initialized last: a racing client's attach() must never observe
		// initialized==true before the write channels are marked used.
		txrx.tx.SetInitialized(true)
		txrx.rx.SetInitialized(true)
	} else if !txrx.tx.Initialized() || !txrx.rx.Initialized() {
		closeFn()
		return fmt.Errorf("shmemserver: region %s not yet initialized", s.cfg.name)
	}

	s.region = txrx
	txRing := shmring.NewRing(txrx.tx, lock, s.cfg.name+"/tx")
	rxRing := shmring.NewRing(txrx.rx, lock, s.cfg.name+"/rx")
	if writeIsTX {
		s.writeR, s.readR = txRing, rxRing
	} else {
		s.writeR, s.readR = rxRing, txRing
	}
	s.connected = true
	return nil
}

func (s *side) isConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// createPublisher returns a fresh publisher queue. Per spec §4.F/§4.G the
// queue is not added to the broker's registry (the C++ ground truth's
// CreatePublisher/CreateSubscriber comment reads "No need to add the
// message queue to a list"), so nofPublishers always reports 0;
// s.publishers only tracks the stop channel needed to tear the bridging
// goroutine down on detach/stop.
func (s *side) createPublisher(writeIsTX bool) *busqueue.Queue {
	q := busqueue.New()
	stop := make(chan struct{})
	s.mu.Lock()
	s.publishers[q] = stop
	n := len(s.publishers)
	s.mu.Unlock()
	metrics.SetPublishers(n)

	s.wg.Add(1)
	go s.publisherTask(q, stop, writeIsTX)
	return q
}

// createSubscriber returns a fresh subscriber queue and starts its
// bridging goroutine. Per spec §4.F/§4.G the queue is not added to the
// broker's registry, so nofSubscribers always reports 0.
func (s *side) createSubscriber(writeIsTX bool) *busqueue.Queue {
	q := busqueue.New()
	stop := make(chan struct{})
	s.mu.Lock()
	s.subscribers[q] = stop
	s.subChannel[q] = -1
	n := len(s.subscribers)
	s.mu.Unlock()
	metrics.SetSubscribers(n)

	s.wg.Add(1)
	go s.subscriberTask(q, stop, writeIsTX)
	return q
}

func (s *side) detachPublisher(q *busqueue.Queue) {
	s.mu.Lock()
	stop, ok := s.publishers[q]
	delete(s.publishers, q)
	n := len(s.publishers)
	s.mu.Unlock()
	if ok {
		close(stop)
	}
	metrics.SetPublishers(n)
}

func (s *side) detachSubscriber(q *busqueue.Queue) {
	s.mu.Lock()
	stop, ok := s.subscribers[q]
	idx := s.subChannel[q]
	delete(s.subscribers, q)
	delete(s.subChannel, q)
	n := len(s.subscribers)
	readR := s.readR
	s.mu.Unlock()
	if ok {
		close(stop)
	}
	if idx > 0 && readR != nil {
		readR.Lock.Lock()
		readR.Region.ReleaseChannel(idx)
		readR.Lock.Unlock()
	}
	metrics.SetSubscribers(n)
}

// nofPublishers always reports 0: shared-memory publishers are not added
// to the broker's registry (spec §4.F/§4.G).
func (s *side) nofPublishers() int { return 0 }

// nofSubscribers always reports 0: shared-memory subscribers are not
// added to the broker's registry (spec §4.F/§4.G).
func (s *side) nofSubscribers() int { return 0 }

func (s *side) start(writeIsTX bool) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.masterStop = make(chan struct{})
	s.mu.Unlock()

	if s.master {
		if err := s.attach(writeIsTX); err != nil {
			return err
		}
		s.wg.Add(2)
		go func() {
			defer s.wg.Done()
			shmring.NewRing(s.region.tx, s.region.lock, s.cfg.name+"/tx").RunMaster(s.masterStop)
		}()
		go func() {
			defer s.wg.Done()
			shmring.NewRing(s.region.rx, s.region.lock, s.cfg.name+"/rx").RunMaster(s.masterStop)
		}()
	}
	return nil
}

func (s *side) stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.masterStop)
	for _, stop := range s.publishers {
		close(stop)
	}
	for _, stop := range s.subscribers {
		close(stop)
	}
	s.publishers = make(map[*busqueue.Queue]chan struct{})
	s.subscribers = make(map[*busqueue.Queue]chan struct{})
	s.subChannel = make(map[*busqueue.Queue]int)
	region := s.region
	master := s.master
	name := s.cfg.name
	s.connected = false
	s.mu.Unlock()

	s.wg.Wait()

	if region != nil && region.closeFn != nil {
		if err := region.closeFn(); err != nil {
			logging.L().Error("shmemserver_close_error", "region", name, "error", err)
		}
	}
	if master {
		shmring.RemoveRegion(name)
	}
	return nil
}

func (s *side) publisherTask(q *busqueue.Queue, stop chan struct{}, writeIsTX bool) {
	defer s.wg.Done()
	operable := true

	for {
		select {
		case <-stop:
			return
		default:
		}

		s.mu.Lock()
		ring := s.writeR
		s.mu.Unlock()
		if ring == nil {
			if err := s.attach(writeIsTX); err != nil {
				if operable {
					logging.L().Error("shmemserver_wait_on_shared_memory", "region", s.cfg.name, "error", err)
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
			s.mu.Lock()
			ring = s.writeR
			s.mu.Unlock()
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

func (s *side) subscriberTask(q *busqueue.Queue, stop chan struct{}, writeIsTX bool) {
	defer s.wg.Done()
	operable := true
	idx := -1
	var raw []byte

	for {
		select {
		case <-stop:
			return
		default:
		}

		s.mu.Lock()
		ring := s.readR
		s.mu.Unlock()
		if ring == nil {
			if err := s.attach(writeIsTX); err != nil {
				if operable {
					logging.L().Error("shmemserver_wait_on_shared_memory", "region", s.cfg.name, "error", err)
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
			s.mu.Lock()
			ring = s.readR
			s.mu.Unlock()
		}

		if idx < 0 {
			ring.Lock.Lock()
			idx = ring.Region.AllocateReadChannel()
			ring.Lock.Unlock()
			if idx < 0 {
				logging.L().Error("shmemserver_channel_allocation_failed", "region", s.cfg.name)
				select {
				case <-stop:
					return
				case <-time.After(openRetryInterval):
				}
				continue
			}
			s.mu.Lock()
			s.subChannel[q] = idx
			s.mu.Unlock()
		}

		switch ring.SubscriberPoll(idx, &raw) {
		case shmring.PollOK:
			out := make([]byte, len(raw))
			copy(out, raw)
			q.PushRaw(out)
		case shmring.PollReconnect:
			logging.L().Warn("shmemserver_subscriber_reconnect", "region", s.cfg.name, "channel", idx)
			idx = -1
		case shmring.PollInconsistent:
			logging.L().Error("shmemserver_subscriber_inconsistent", "region", s.cfg.name, "channel", idx)
		case shmring.PollNoData:
			time.Sleep(pollInterval)
		}
	}
}

// ServerSide is the broker.Broker implementation for the region's owning
// process: publishers write TX, subscribers read RX.
type ServerSide struct{ s *side }

// NewServerSide returns a stopped server-side broker; Start creates the
// backing region.
func NewServerSide(opts ...Option) *ServerSide {
	cfg := defaultConfig()
	for _, fn := range opts {
		fn(&cfg)
	}
	return &ServerSide{s: newSide(cfg, true)}
}

func (b *ServerSide) Name() string             { return b.s.cfg.name }
func (b *ServerSide) MemorySize() int          { return b.s.cfg.bufferSize }
func (b *ServerSide) Address() string          { return "" }
func (b *ServerSide) Port() int                { return 0 }
func (b *ServerSide) IsConnected() bool        { return b.s.isConnected() }
func (b *ServerSide) CreatePublisher() *busqueue.Queue  { return b.s.createPublisher(true) }
func (b *ServerSide) CreateSubscriber() *busqueue.Queue { return b.s.createSubscriber(true) }
func (b *ServerSide) DetachPublisher(q *busqueue.Queue)  { b.s.detachPublisher(q) }
func (b *ServerSide) DetachSubscriber(q *busqueue.Queue) { b.s.detachSubscriber(q) }
func (b *ServerSide) NofPublishers() int       { return b.s.nofPublishers() }
func (b *ServerSide) NofSubscribers() int      { return b.s.nofSubscribers() }
func (b *ServerSide) Start() error             { return b.s.start(true) }
func (b *ServerSide) Stop() error              { return b.s.stop() }

var _ broker.Broker = (*ServerSide)(nil)

// ClientSide is the broker.Broker implementation for a foreign process
// attaching to an existing region: publishers write RX, subscribers read
// TX (the mirror of ServerSide).
type ClientSide struct{ s *side }

// NewClientSide returns a stopped client-side broker; it never creates the
// segment, only opens one created by a ServerSide, retrying every second.
func NewClientSide(opts ...Option) *ClientSide {
	cfg := defaultConfig()
	for _, fn := range opts {
		fn(&cfg)
	}
	return &ClientSide{s: newSide(cfg, false)}
}

func (b *ClientSide) Name() string             { return b.s.cfg.name }
func (b *ClientSide) MemorySize() int          { return b.s.cfg.bufferSize }
func (b *ClientSide) Address() string          { return "" }
func (b *ClientSide) Port() int                { return 0 }
func (b *ClientSide) IsConnected() bool        { return b.s.isConnected() }
func (b *ClientSide) CreatePublisher() *busqueue.Queue  { return b.s.createPublisher(false) }
func (b *ClientSide) CreateSubscriber() *busqueue.Queue { return b.s.createSubscriber(false) }
func (b *ClientSide) DetachPublisher(q *busqueue.Queue)  { b.s.detachPublisher(q) }
func (b *ClientSide) DetachSubscriber(q *busqueue.Queue) { b.s.detachSubscriber(q) }
func (b *ClientSide) NofPublishers() int       { return b.s.nofPublishers() }
func (b *ClientSide) NofSubscribers() int      { return b.s.nofSubscribers() }
func (b *ClientSide) Start() error             { return b.s.start(false) }
func (b *ClientSide) Stop() error              { return b.s.stop() }

var _ broker.Broker = (*ClientSide)(nil)
