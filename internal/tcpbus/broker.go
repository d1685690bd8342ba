package tcpbus

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/ihedvall/bus-message-lib/internal/broker"
	"github.com/ihedvall/bus-message-lib/internal/busqueue"
	"github.com/ihedvall/bus-message-lib/internal/logging"
	"github.com/ihedvall/bus-message-lib/internal/metrics"
)

// pollInterval bounds how long the peer-bridging goroutines wait on an
// empty queue before checking for connection shutdown.
const pollInterval = 10 * time.Millisecond

// BrokerOption configures a Broker at construction.
type BrokerOption func(*Broker)

// WithHostBroker sets the in-host broker every accepted TCP peer is
// mirrored into. Typically a shared-memory broker so both local and remote
// producers/consumers share one ring (spec §4.H: "bridges cross-host
// clients into the in-host broadcast").
func WithHostBroker(host broker.Broker) BrokerOption {
	return func(b *Broker) { b.host = host }
}

// WithBrokerListenAddr sets the bind address/port, following the same
// address rule as Server.
func WithBrokerListenAddr(address string, port int) BrokerOption {
	return func(b *Broker) { b.address, b.port = address, port }
}

// WithBrokerName sets the broker's Name().
func WithBrokerName(name string) BrokerOption {
	return func(b *Broker) { b.name = name }
}

// Broker is the TCP broker of spec §4.H: an accept loop over a host
// broker. Each accepted connection gets its own publisher/subscriber on
// the host broker; the connection's read task feeds the host publisher,
// and the host subscriber is drained by the connection's write task,
// effectively bridging a remote peer into the host's broadcast domain.
type Broker struct {
	name    string
	address string
	port    int
	host    broker.Broker

	ln net.Listener

	mu    sync.Mutex
	conns map[*connection]struct{}

	stop    chan struct{}
	wg      sync.WaitGroup
	running bool
}

// NewBroker returns a stopped TCP broker over host.
func NewBroker(opts ...BrokerOption) *Broker {
	b := &Broker{
		name:    "tcpbroker",
		address: "0.0.0.0",
		conns:   make(map[*connection]struct{}),
	}
	for _, fn := range opts {
		fn(b)
	}
	return b
}

func (b *Broker) Name() string    { return b.name }
func (b *Broker) MemorySize() int { return b.host.MemorySize() }
func (b *Broker) Address() string { return b.address }

// Port returns the bound listener's actual port once Start has run
// (resolving an ephemeral port request of 0), or the configured port
// otherwise.
func (b *Broker) Port() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ln != nil {
		if tcpAddr, ok := b.ln.Addr().(*net.TCPAddr); ok {
			return tcpAddr.Port
		}
	}
	return b.port
}
func (b *Broker) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

var _ broker.Broker = (*Broker)(nil)

func (b *Broker) CreatePublisher() *busqueue.Queue  { return b.host.CreatePublisher() }
func (b *Broker) CreateSubscriber() *busqueue.Queue { return b.host.CreateSubscriber() }
func (b *Broker) DetachPublisher(q *busqueue.Queue)  { b.host.DetachPublisher(q) }
func (b *Broker) DetachSubscriber(q *busqueue.Queue) { b.host.DetachSubscriber(q) }
func (b *Broker) NofPublishers() int  { return b.host.NofPublishers() }
func (b *Broker) NofSubscribers() int { return b.host.NofSubscribers() }

// Start starts the host broker, binds the listener, and launches the
// accept loop and reap sweep.
func (b *Broker) Start() error {
	if b.host == nil {
		return fmt.Errorf("tcpbus: Broker requires WithHostBroker")
	}
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	if err := b.host.Start(); err != nil {
		return fmt.Errorf("tcpbus: host broker start: %w", err)
	}

	ln, err := net.Listen("tcp", bindAddr(b.address, b.port))
	if err != nil {
		wrap := fmt.Errorf("%w: %v", ErrListen, err)
		logging.L().Error("tcpbus_broker_listen_error", "broker", b.name, "error", err)
		metrics.IncError(mapErrToMetric(wrap))
		return fmt.Errorf("tcpbus: listen: %w", err)
	}

	b.mu.Lock()
	b.ln = ln
	b.running = true
	b.stop = make(chan struct{})
	b.mu.Unlock()

	b.wg.Add(2)
	go b.acceptLoop()
	go b.reapLoop()
	return nil
}

// Stop closes the listener and every peer connection, then stops the host
// broker.
func (b *Broker) Stop() error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return nil
	}
	b.running = false
	close(b.stop)
	ln := b.ln
	conns := make([]*connection, 0, len(b.conns))
	for c := range b.conns {
		conns = append(conns, c)
	}
	b.mu.Unlock()

	if ln != nil {
		_ = ln.Close()
	}
	for _, c := range conns {
		c.markClosed()
	}
	b.wg.Wait()

	return b.host.Stop()
}

func (b *Broker) acceptLoop() {
	defer b.wg.Done()
	for {
		c, err := b.ln.Accept()
		if err != nil {
			select {
			case <-b.stop:
				return
			default:
				wrap := fmt.Errorf("%w: %v", ErrAccept, err)
				logging.L().Error("tcpbus_broker_accept_error", "error", err)
				metrics.IncError(mapErrToMetric(wrap))
				return
			}
		}
		b.mirrorPeer(c)
	}
}

// mirrorPeer registers a fresh publisher/subscriber pair on the host
// broker for this connection, then bridges the socket to them: bytes read
// from the socket are published to the host, and everything the host
// broadcasts is written back out to the peer.
func (b *Broker) mirrorPeer(c net.Conn) {
	conn := newConnection(c)

	hostPub := b.host.CreatePublisher()
	hostSub := b.host.CreateSubscriber()

	b.mu.Lock()
	b.conns[conn] = struct{}{}
	b.mu.Unlock()

	b.wg.Add(3)
	go func() {
		defer b.wg.Done()
		conn.run()
		b.host.DetachPublisher(hostPub)
		b.host.DetachSubscriber(hostSub)
	}()
	go func() {
		defer b.wg.Done()
		for {
			msg := conn.pub.PopWait(pollInterval)
			if msg == nil {
				if conn.isClosed() {
					return
				}
				continue
			}
			hostPub.Push(msg)
		}
	}()
	go func() {
		defer b.wg.Done()
		for {
			msg := hostSub.PopWait(pollInterval)
			if msg == nil {
				if conn.isClosed() {
					return
				}
				continue
			}
			conn.sub.Push(msg)
		}
	}()
}

func (b *Broker) reapLoop() {
	defer b.wg.Done()
	ticker := time.NewTicker(reapSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
			b.mu.Lock()
			for c := range b.conns {
				if c.isClosed() {
					delete(b.conns, c)
				}
			}
			b.mu.Unlock()
		}
	}
}
