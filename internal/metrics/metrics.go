// Package metrics exposes Prometheus counters/gauges for every transport in
// this module, plus a lightweight local mirror for cheap in-process
// logging (no scrape round trip needed to print a summary line).
package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/ihedvall/bus-message-lib/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus series.
var (
	RingWrites = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ring_writes_total",
		Help: "Total records written into a shared ring by a publisher.",
	})
	RingReads = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ring_reads_total",
		Help: "Total records read from a shared ring by a subscriber.",
	})
	RingBufferFull = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ring_buffer_full_total",
		Help: "Total times a publisher observed a full ring and stalled.",
	})
	RingStallReclaims = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ring_stall_reclaims_total",
		Help: "Total forced index resets after a 10s buffer-full stall.",
	})
	RingInconsistencies = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ring_inconsistencies_total",
		Help: "Total detected read-ahead-of-write or out-of-bounds ring reads.",
	})
	TCPRxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tcp_rx_frames_total",
		Help: "Total bus messages received over TCP connections.",
	})
	TCPTxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tcp_tx_frames_total",
		Help: "Total bus messages sent over TCP connections.",
	})
	BrokerDroppedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "broker_dropped_frames_total",
		Help: "Total messages dropped by a broker due to slow or full subscribers.",
	})
	BrokerKickedSubscribers = promauto.NewCounter(prometheus.CounterOpts{
		Name: "broker_kicked_subscribers_total",
		Help: "Total subscribers detached due to backpressure kick policy.",
	})
	BrokerActiveSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "broker_active_subscribers",
		Help: "Current number of registered subscribers.",
	})
	BrokerActivePublishers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "broker_active_publishers",
		Help: "Current number of registered publishers.",
	})
	BroadcastFanout = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "broadcast_fanout",
		Help: "Number of subscribers targeted in the most recent broadcast sweep.",
	})
	QueueDepthMax = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "queue_depth_max",
		Help: "Observed max queued messages among subscribers since last sample.",
	})
	QueueDepthAvg = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "queue_depth_avg",
		Help: "Approximate average queued messages per subscriber in last sample.",
	})
	MalformedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "malformed_frames_total",
		Help: "Total rejected malformed wire records (short header, size overrun, unknown type).",
	})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})

	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality).
const (
	ErrRegionOpen    = "region_open"
	ErrRegionStall   = "ring_stall"
	ErrTCPRead       = "tcp_read"
	ErrTCPWrite      = "tcp_write"
	ErrTCPHandshake  = "tcp_handshake"
	ErrTCPAccept     = "tcp_accept"
	ErrDecodeUnknown = "decode_unknown_type"
)

// StartHTTP serves Prometheus metrics at /metrics and readiness at /ready.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrored counters for cheap logging without a scrape round trip.
var (
	localRingWrites  uint64
	localRingReads   uint64
	localBufferFull  uint64
	localReclaims    uint64
	localTCPRx       uint64
	localTCPTx       uint64
	localDrops       uint64
	localKicks       uint64
	localErrors      uint64
	localMalformed   uint64
	localSubscribers uint64
	localPublishers  uint64
)

// Snapshot is a cheap copy of the local counters.
type Snapshot struct {
	RingWrites  uint64
	RingReads   uint64
	BufferFull  uint64
	Reclaims    uint64
	TCPRx       uint64
	TCPTx       uint64
	Drops       uint64
	Kicks       uint64
	Errors      uint64
	Malformed   uint64
	Subscribers uint64
	Publishers  uint64
}

// Snap returns the current local counter values.
func Snap() Snapshot {
	return Snapshot{
		RingWrites:  atomic.LoadUint64(&localRingWrites),
		RingReads:   atomic.LoadUint64(&localRingReads),
		BufferFull:  atomic.LoadUint64(&localBufferFull),
		Reclaims:    atomic.LoadUint64(&localReclaims),
		TCPRx:       atomic.LoadUint64(&localTCPRx),
		TCPTx:       atomic.LoadUint64(&localTCPTx),
		Drops:       atomic.LoadUint64(&localDrops),
		Kicks:       atomic.LoadUint64(&localKicks),
		Errors:      atomic.LoadUint64(&localErrors),
		Malformed:   atomic.LoadUint64(&localMalformed),
		Subscribers: atomic.LoadUint64(&localSubscribers),
		Publishers:  atomic.LoadUint64(&localPublishers),
	}
}

func IncRingWrite() { RingWrites.Inc(); atomic.AddUint64(&localRingWrites, 1) }
func IncRingRead()  { RingReads.Inc(); atomic.AddUint64(&localRingReads, 1) }
func IncBufferFull() {
	RingBufferFull.Inc()
	atomic.AddUint64(&localBufferFull, 1)
}
func IncStallReclaim() {
	RingStallReclaims.Inc()
	atomic.AddUint64(&localReclaims, 1)
}
func IncRingInconsistency() { RingInconsistencies.Inc() }

func IncTCPRx() { TCPRxFrames.Inc(); atomic.AddUint64(&localTCPRx, 1) }
func AddTCPTx(n int) {
	TCPTxFrames.Add(float64(n))
	atomic.AddUint64(&localTCPTx, uint64(n))
}

func IncBrokerDrop() { BrokerDroppedFrames.Inc(); atomic.AddUint64(&localDrops, 1) }
func IncBrokerKick() { BrokerKickedSubscribers.Inc(); atomic.AddUint64(&localKicks, 1) }

func SetSubscribers(n int) {
	BrokerActiveSubscribers.Set(float64(n))
	atomic.StoreUint64(&localSubscribers, uint64(n))
}
func SetPublishers(n int) {
	BrokerActivePublishers.Set(float64(n))
	atomic.StoreUint64(&localPublishers, uint64(n))
}
func SetBroadcastFanout(n int) { BroadcastFanout.Set(float64(n)) }

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

func IncMalformed() { MalformedFrames.Inc(); atomic.AddUint64(&localMalformed, 1) }

// SetQueueDepth records a snapshot of max and avg queue depth across
// subscribers.
func SetQueueDepth(max, avg int) {
	QueueDepthMax.Set(float64(max))
	QueueDepthAvg.Set(float64(avg))
}

// InitBuildInfo sets the build info gauge and pre-registers error label
// series so the first error of each kind does not pay registration latency.
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	for _, lbl := range []string{ErrRegionOpen, ErrRegionStall, ErrTCPRead, ErrTCPWrite, ErrTCPHandshake, ErrTCPAccept, ErrDecodeUnknown} {
		Errors.WithLabelValues(lbl).Add(0)
	}
}

// SetReadinessFunc registers a function used by /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function if present.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil {
		return true
	}
	return fn()
}
