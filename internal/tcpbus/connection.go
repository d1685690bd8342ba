package tcpbus

import (
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/ihedvall/bus-message-lib/internal/busqueue"
	"github.com/ihedvall/bus-message-lib/internal/logging"
	"github.com/ihedvall/bus-message-lib/internal/metrics"
)

// writeQueueTimeout is how long the write task waits on the per-connection
// subscriber queue before checking for shutdown again (spec §4.H).
const writeQueueTimeout = 100 * time.Millisecond

// reapSweepInterval is how often the server scans for dead connections
// (spec §4.H).
const reapSweepInterval = 2 * time.Second

// connection owns one accepted socket: a read task pushing raw wire
// records into pub, and a write task draining sub onto the wire (spec
// §4.H).
type connection struct {
	conn net.Conn
	pub  *busqueue.Queue // messages read from the socket land here
	sub  *busqueue.Queue // messages queued to send to this peer

	closed atomic.Bool
	stop   chan struct{}
}

func newConnection(c net.Conn) *connection {
	return &connection{
		conn: c,
		pub:  busqueue.New(),
		sub:  busqueue.New(),
		stop: make(chan struct{}),
	}
}

// run starts the read and write tasks and blocks until both exit.
func (c *connection) run() {
	done := make(chan struct{}, 2)
	go func() { c.readTask(); done <- struct{}{} }()
	go func() { c.writeTask(); done <- struct{}{} }()
	<-done
	<-done
}

func (c *connection) readTask() {
	for {
		data, err := readFrame(c.conn)
		if err != nil {
			wrap := fmt.Errorf("%w: %v", ErrConnRead, err)
			logging.L().Error("tcpbus_read_error", "remote", c.conn.RemoteAddr(), "error", err)
			metrics.IncError(mapErrToMetric(wrap))
			c.markClosed()
			return
		}
		metrics.IncTCPRx()
		c.pub.PushRaw(data)
	}
}

func (c *connection) writeTask() {
	for {
		select {
		case <-c.stop:
			return
		default:
		}
		msg := c.sub.PopWait(writeQueueTimeout)
		if msg == nil {
			if c.closed.Load() {
				return
			}
			continue
		}
		if err := writeFrame(c.conn, msg); err != nil {
			wrap := fmt.Errorf("%w: %v", ErrConnWrite, err)
			logging.L().Error("tcpbus_write_error", "remote", c.conn.RemoteAddr(), "error", err)
			metrics.IncError(mapErrToMetric(wrap))
			c.markClosed()
			return
		}
		metrics.AddTCPTx(1)
	}
}

func (c *connection) markClosed() {
	if c.closed.CompareAndSwap(false, true) {
		_ = c.conn.Close()
		close(c.stop)
	}
}

func (c *connection) isClosed() bool { return c.closed.Load() }
