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

// messageThreadInterval is the fan-out sweep period of the server's
// message thread (spec §4.H uses the same 10ms cadence as the in-process
// broadcast loop).
const messageThreadInterval = 10 * time.Millisecond

// ServerOption configures a Server at construction.
type ServerOption func(*Server)

// WithListenAddr sets the bind address and port. Per spec §4.H, address
// "0.0.0.0" or "" binds all interfaces; any other value binds loopback
// only.
func WithListenAddr(address string, port int) ServerOption {
	return func(s *Server) { s.address, s.port = address, port }
}

// WithServerName sets the broker's Name().
func WithServerName(name string) ServerOption {
	return func(s *Server) { s.name = name }
}

// Server is the TCP server component of spec §4.H: it accepts connections,
// each owning a per-connection publisher/subscriber pair, and bridges them
// to a common fan-in queue (rxQueue) and fan-out queue (txQueue) via a
// message thread.
type Server struct {
	name    string
	address string
	port    int

	ln net.Listener

	rxQueue *busqueue.Queue // fan-in: what create_subscriber() returns
	txQueue *busqueue.Queue // fan-out: what create_publisher() returns

	mu    sync.Mutex
	conns map[*connection]struct{}

	stop    chan struct{}
	wg      sync.WaitGroup
	running bool
}

// NewServer returns a stopped TCP server.
func NewServer(opts ...ServerOption) *Server {
	s := &Server{
		name:    "tcpserver",
		address: "0.0.0.0",
		rxQueue: busqueue.New(),
		txQueue: busqueue.New(),
		conns:   make(map[*connection]struct{}),
	}
	for _, fn := range opts {
		fn(s)
	}
	return s
}

func (s *Server) Name() string    { return s.name }
func (s *Server) MemorySize() int { return 0 }
func (s *Server) Address() string { return s.address }
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		if tcpAddr, ok := s.ln.Addr().(*net.TCPAddr); ok {
			return tcpAddr.Port
		}
	}
	return s.port
}

func (s *Server) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

var _ broker.Broker = (*Server)(nil)

// CreatePublisher returns the server's tx_queue (spec §4.H): messages
// pushed here are fanned out to every connected client.
func (s *Server) CreatePublisher() *busqueue.Queue { return s.txQueue }

// CreateSubscriber returns the server's rx_queue: messages received from
// any client land here.
func (s *Server) CreateSubscriber() *busqueue.Queue { return s.rxQueue }

// DetachPublisher/DetachSubscriber are no-ops: the server exposes exactly
// one shared tx_queue/rx_queue pair, not per-caller queues.
func (s *Server) DetachPublisher(*busqueue.Queue)  {}
func (s *Server) DetachSubscriber(*busqueue.Queue) {}

func (s *Server) NofPublishers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}
func (s *Server) NofSubscribers() int { return s.NofPublishers() }

// bindAddr resolves the listen address per spec §4.H's address rule.
func bindAddr(address string, port int) string {
	if address == "" || address == "0.0.0.0" {
		return fmt.Sprintf(":%d", port)
	}
	return fmt.Sprintf("127.0.0.1:%d", port)
}

// Start binds the listener and launches the accept loop, message thread,
// and reap sweep.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	ln, err := net.Listen("tcp", bindAddr(s.address, s.port))
	if err != nil {
		s.mu.Unlock()
		wrap := fmt.Errorf("%w: %v", ErrListen, err)
		logging.L().Error("tcpbus_server_listen_error", "server", s.name, "error", err)
		metrics.IncError(mapErrToMetric(wrap))
		return fmt.Errorf("tcpbus: listen: %w", err)
	}
	s.ln = ln
	s.running = true
	s.stop = make(chan struct{})
	s.mu.Unlock()

	s.wg.Add(3)
	go s.acceptLoop()
	go s.messageThread()
	go s.reapLoop()
	return nil
}

// Stop closes the listener, every connection, and waits for background
// tasks to exit.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stop)
	ln := s.ln
	conns := make([]*connection, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	if ln != nil {
		_ = ln.Close()
	}
	for _, c := range conns {
		c.markClosed()
	}

	s.wg.Wait()
	return nil
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		c, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.stop:
				return
			default:
				wrap := fmt.Errorf("%w: %v", ErrAccept, err)
				logging.L().Error("tcpbus_accept_error", "error", err)
				metrics.IncError(mapErrToMetric(wrap))
				return
			}
		}
		conn := newConnection(c)
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()
		metrics.SetPublishers(s.NofPublishers())

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			conn.run()
		}()
	}
}

// messageThread drains txQueue into every connection's send side and
// drains every connection's receive side into rxQueue (spec §4.H).
func (s *Server) messageThread() {
	defer s.wg.Done()
	ticker := time.NewTicker(messageThreadInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweepOnce()
		}
	}
}

func (s *Server) sweepOnce() {
	s.mu.Lock()
	conns := make([]*connection, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for {
		msg := s.txQueue.Pop()
		if msg == nil {
			break
		}
		for _, c := range conns {
			if c.isClosed() {
				continue
			}
			c.sub.Push(msg.Clone())
		}
	}

	for _, c := range conns {
		for {
			msg := c.pub.Pop()
			if msg == nil {
				break
			}
			s.rxQueue.Push(msg)
		}
	}
}

func (s *Server) reapLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(reapSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.reapOnce()
		}
	}
}

func (s *Server) reapOnce() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		if c.isClosed() {
			delete(s.conns, c)
		}
	}
	metrics.SetPublishers(len(s.conns))
}
