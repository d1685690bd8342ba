// Package broker defines the common contract every transport variant
// implements (in-process, shared-memory, TCP) and hosts the in-process
// broadcast broker itself.
package broker

import (
	"github.com/ihedvall/bus-message-lib/internal/busqueue"
)

// Broker is the contract shared by every transport (spec §4.D).
type Broker interface {
	// Name identifies this broker instance for logging/metrics.
	Name() string
	// MemorySize reports the backing ring's payload capacity in bytes, or
	// 0 for brokers with no fixed-size ring (in-process, TCP).
	MemorySize() int
	// Address is the bind/connect address, or "" if not applicable.
	Address() string
	// Port is the bind/connect port, or 0 if not applicable.
	Port() int
	// IsConnected reports whether the broker's transport is currently up.
	// In-process and simulate brokers are always connected once started.
	IsConnected() bool

	// CreatePublisher returns a fresh queue registered as a publisher.
	CreatePublisher() *busqueue.Queue
	// CreateSubscriber returns a fresh queue registered as a subscriber.
	CreateSubscriber() *busqueue.Queue
	// DetachPublisher unregisters a publisher queue.
	DetachPublisher(q *busqueue.Queue)
	// DetachSubscriber unregisters a subscriber queue.
	DetachSubscriber(q *busqueue.Queue)

	NofPublishers() int
	NofSubscribers() int

	// Start begins the broker's background work (broadcast loop, master
	// arbitration, accept loop, etc).
	Start() error
	// Stop halts background work and releases resources. Registered
	// queues are left as-is so callers may drain them after Stop.
	Stop() error
}

// BackpressurePolicy controls what happens when a subscriber's queue is
// full and a broadcast would block indefinitely (spec §4.D edge case).
type BackpressurePolicy int

const (
	// PolicyDrop silently discards the message for that one subscriber
	// and increments a dropped-frame counter.
	PolicyDrop BackpressurePolicy = iota
	// PolicyKick detaches the offending subscriber entirely.
	PolicyKick
)

// Option configures a broker at construction time.
type Option func(*options)

type options struct {
	name          string
	backpressure  BackpressurePolicy
	mdnsName      string
	maxQueueDepth int
}

func defaultOptions() options {
	return options{name: "broker", backpressure: PolicyDrop, maxQueueDepth: 10000}
}

// WithMaxQueueDepth caps a subscriber's queue before the backpressure
// policy kicks in. 0 disables the cap.
func WithMaxQueueDepth(n int) Option {
	return func(o *options) { o.maxQueueDepth = n }
}

// WithName sets the broker's Name().
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithBackpressurePolicy selects what happens to a subscriber whose queue
// is full when a broadcast targets it.
func WithBackpressurePolicy(p BackpressurePolicy) Option {
	return func(o *options) { o.backpressure = p }
}

// WithMDNSName records an mDNS instance name, returned by
// (*InProcess).MDNSName. The broker does not advertise itself, and
// internal/discovery does not read this value.
func WithMDNSName(name string) Option {
	return func(o *options) { o.mdnsName = name }
}
