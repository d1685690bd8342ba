package tcpbus

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ihedvall/bus-message-lib/internal/broker"
	"github.com/ihedvall/bus-message-lib/internal/busqueue"
	"github.com/ihedvall/bus-message-lib/internal/logging"
	"github.com/ihedvall/bus-message-lib/internal/metrics"
)

// ClientState is the per-client connection state machine of spec §4.H.
type ClientState int

const (
	Disconnected ClientState = iota
	Resolving
	Connecting
	Connected
	RetryWait
)

func (s ClientState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Resolving:
		return "resolving"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case RetryWait:
		return "retry_wait"
	default:
		return "unknown"
	}
}

const clientSendInterval = 10 * time.Millisecond
const clientRetryWait = 5 * time.Second

// ClientOption configures a Client at construction.
type ClientOption func(*Client)

// WithServerAddr sets the remote (address, port) to resolve and connect to.
func WithServerAddr(address string, port int) ClientOption {
	return func(c *Client) { c.address, c.port = address, port }
}

// WithClientName sets the broker's Name().
func WithClientName(name string) ClientOption {
	return func(c *Client) { c.name = name }
}

// Client is the TCP client of spec §4.H: it resolves and connects to a
// remote server, then runs overlapping read/send/retry-wait tasks against
// the socket. Its single publisher and single subscriber are plain queues;
// the transport moves messages between them and the wire.
type Client struct {
	name    string
	address string
	port    int

	mu    sync.Mutex
	state ClientState
	conn  net.Conn

	publisher  *busqueue.Queue
	subscriber *busqueue.Queue

	connected atomic.Bool

	stop    chan struct{}
	wg      sync.WaitGroup
	running bool
}

// NewClient returns a stopped TCP client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		name:       "tcpclient",
		publisher:  busqueue.New(),
		subscriber: busqueue.New(),
		state:      Disconnected,
	}
	for _, fn := range opts {
		fn(c)
	}
	return c
}

func (c *Client) Name() string    { return c.name }
func (c *Client) MemorySize() int { return 0 }
func (c *Client) Address() string { return c.address }
func (c *Client) Port() int       { return c.port }

// IsConnected latches true between a successful connect and any failure
// (spec §4.H).
func (c *Client) IsConnected() bool { return c.connected.Load() }

var _ broker.Broker = (*Client)(nil)

// CreatePublisher returns the client's single outbound queue: messages
// pushed here are sent to the server.
func (c *Client) CreatePublisher() *busqueue.Queue { return c.publisher }

// CreateSubscriber returns the client's single inbound queue: messages
// received from the server land here.
func (c *Client) CreateSubscriber() *busqueue.Queue { return c.subscriber }

func (c *Client) DetachPublisher(*busqueue.Queue)  {}
func (c *Client) DetachSubscriber(*busqueue.Queue) {}
func (c *Client) NofPublishers() int {
	if c.IsConnected() {
		return 1
	}
	return 0
}
func (c *Client) NofSubscribers() int { return c.NofPublishers() }

// State returns the client's current connection state.
func (c *Client) State() ClientState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s ClientState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Start launches the connect/read/send/retry-wait loop.
func (c *Client) Start() error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = true
	c.stop = make(chan struct{})
	c.mu.Unlock()

	c.wg.Add(1)
	go c.run()
	return nil
}

// Stop tears down the socket and stops the connection loop.
func (c *Client) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	close(c.stop)
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	c.wg.Wait()
	return nil
}

// run drives the state machine: Disconnected -> Resolving -> Connecting ->
// Connected, with any failure routing to RetryWait(5s) before starting
// over (spec §4.H).
func (c *Client) run() {
	defer c.wg.Done()
	for {
		select {
		case <-c.stop:
			return
		default:
		}

		c.setState(Resolving)
		addr, err := net.ResolveTCPAddr("tcp", fmt.Sprintf("%s:%d", c.address, c.port))
		if err != nil {
			wrap := fmt.Errorf("%w: %v", ErrHandshake, err)
			logging.L().Error("tcpbus_resolve_failed", "client", c.name, "error", err)
			metrics.IncError(mapErrToMetric(wrap))
			if !c.retryWait() {
				return
			}
			continue
		}

		c.setState(Connecting)
		conn, err := net.DialTimeout("tcp", addr.String(), 5*time.Second)
		if err != nil {
			wrap := fmt.Errorf("%w: %v", ErrHandshake, err)
			logging.L().Error("tcpbus_dial_failed", "client", c.name, "error", err)
			metrics.IncError(mapErrToMetric(wrap))
			if !c.retryWait() {
				return
			}
			continue
		}

		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		c.setState(Connected)
		c.connected.Store(true)

		c.serveConnection(conn)

		c.connected.Store(false)
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()

		if !c.retryWait() {
			return
		}
	}
}

// serveConnection runs the read and send tasks until either fails, then
// closes the socket and returns.
func (c *Client) serveConnection(conn net.Conn) {
	done := make(chan struct{}, 2)
	stop := make(chan struct{})

	go func() {
		c.readTask(conn, stop)
		done <- struct{}{}
	}()
	go func() {
		c.sendTask(conn, stop)
		done <- struct{}{}
	}()

	select {
	case <-done:
	case <-c.stop:
	}
	close(stop)
	_ = conn.Close()
	<-done
}

func (c *Client) readTask(conn net.Conn, stop chan struct{}) {
	for {
		data, err := readFrame(conn)
		if err != nil {
			wrap := fmt.Errorf("%w: %v", ErrConnRead, err)
			logging.L().Error("tcpbus_client_read_error", "client", c.name, "error", err)
			metrics.IncError(mapErrToMetric(wrap))
			return
		}
		metrics.IncTCPRx()
		c.subscriber.PushRaw(data)
		select {
		case <-stop:
			return
		default:
		}
	}
}

func (c *Client) sendTask(conn net.Conn, stop chan struct{}) {
	ticker := time.NewTicker(clientSendInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			msg := c.publisher.Pop()
			if msg == nil {
				continue
			}
			if err := writeFrame(conn, msg); err != nil {
				wrap := fmt.Errorf("%w: %v", ErrConnWrite, err)
				logging.L().Error("tcpbus_client_write_error", "client", c.name, "error", err)
				metrics.IncError(mapErrToMetric(wrap))
				return
			}
			metrics.AddTCPTx(1)
		}
	}
}

// retryWait sleeps 5 seconds (or until Stop is called), returning false if
// Stop fired.
func (c *Client) retryWait() bool {
	c.setState(RetryWait)
	select {
	case <-c.stop:
		return false
	case <-time.After(clientRetryWait):
		return true
	}
}
