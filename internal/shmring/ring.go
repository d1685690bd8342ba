// Package shmring implements the single-writer, multi-reader broadcast ring
// shared by the simulate broker, the shared-memory broker, and the
// shared-memory server/client TX/RX split (spec §4.E/F/G). The algorithm is
// identical whether the backing bytes are a heap buffer (simulate broker,
// same process) or a memory-mapped shared-memory region (cross-process);
// only the Locker implementation differs.
package shmring

import (
	"time"

	"github.com/ihedvall/bus-message-lib/internal/wire"
)

// NumChannels is the number of channel slots in a ring: index 0 is the
// write channel, 1..255 are read channels.
const NumChannels = 256

const channelSize = 8 // used(uint32) + queueIndex(uint32)
const channelsOffset = 4 // initialized(1) + bufferFull(1) + reserved(2)
const channelsBytes = NumChannels * channelSize

// HeaderBytes is the size, in bytes, of the fixed ring header preceding the
// payload area: initialized flag, buffer-full flag, and the 256-entry
// channel array.
const HeaderBytes = channelsOffset + channelsBytes

// DefaultPayloadSize is the shared-memory broker's fixed ring payload size
// (spec §6). The simulate broker defaults to the same value but may be
// reconfigured for tests.
const DefaultPayloadSize = 16000

// RecordPrefixSize is the length, in bytes, of the little-endian record
// length prefix preceding every serialized message in the ring.
const RecordPrefixSize = 4

// StallTimeout is how long buffer_full may persist before the master
// forcibly reclaims the ring, dropping unread data (spec §4.E). It is a
// var, not a const, only so tests can shrink it with setStallTimeout
// instead of waiting out a real 10s stall.
var StallTimeout = 10 * time.Second

// setStallTimeout overrides StallTimeout for tests and returns nothing; the
// caller is responsible for restoring the previous value.
func setStallTimeout(d time.Duration) { StallTimeout = d }

// MasterWakePoll bounds how long the master sleeps between arbitration
// sweeps absent an earlier wake (spec §4.E: "1-second timeout").
const MasterWakePoll = 1 * time.Second

// pollInterval is the short-poll granularity used both by the master's
// stall-timer busy-wait and by FlockLocker.WaitBufferFull, where no real
// interprocess wake signal exists.
const pollInterval = 10 * time.Millisecond

// WriteChannel is the fixed index of the publisher's append cursor.
const WriteChannel = 0

// Region is a byte-addressable ring: a header (initialized flag,
// buffer-full flag, 256 channels) followed by a fixed-size payload area.
// It does not own synchronization; callers serialize access via a Locker.
type Region struct {
	buf     []byte // header + payload
	payload int    // payload area size in bytes
}

// NewRegion wraps buf, which must be at least HeaderBytes+payloadSize long,
// as a Region.
func NewRegion(buf []byte, payloadSize int) *Region {
	return &Region{buf: buf, payload: payloadSize}
}

// PayloadSize returns the ring's payload capacity in bytes.
func (r *Region) PayloadSize() int { return r.payload }

// Initialized reports whether the master has finished setting up the
// region (spec §4.F: subscribers retry every second until this is true).
func (r *Region) Initialized() bool { return r.buf[0] != 0 }

// SetInitialized marks the region ready for use.
func (r *Region) SetInitialized(v bool) {
	if v {
		r.buf[0] = 1
	} else {
		r.buf[0] = 0
	}
}

// BufferFull reports the shared buffer-full flag.
func (r *Region) BufferFull() bool { return r.buf[1] != 0 }

// SetBufferFull sets the shared buffer-full flag.
func (r *Region) SetBufferFull(v bool) {
	if v {
		r.buf[1] = 1
	} else {
		r.buf[1] = 0
	}
}

func (r *Region) channelOffset(i int) int { return channelsOffset + i*channelSize }

// ChannelUsed reports whether channel i is occupied by a participant.
func (r *Region) ChannelUsed(i int) bool {
	return wire.Uint32(r.buf, r.channelOffset(i)) != 0
}

// SetChannelUsed marks channel i occupied or free.
func (r *Region) SetChannelUsed(i int, used bool) {
	v := uint32(0)
	if used {
		v = 1
	}
	wire.PutUint32(r.buf, r.channelOffset(i), v)
}

// ChannelIndex returns channel i's queue_index cursor.
func (r *Region) ChannelIndex(i int) uint32 {
	return wire.Uint32(r.buf, r.channelOffset(i)+4)
}

// SetChannelIndex sets channel i's queue_index cursor.
func (r *Region) SetChannelIndex(i int, v uint32) {
	wire.PutUint32(r.buf, r.channelOffset(i)+4, v)
}

// ResetChannel zeroes a channel's cursor without changing its used flag.
func (r *Region) ResetChannel(i int) { r.SetChannelIndex(i, 0) }

// payloadAt returns the payload area, which begins right after the header.
func (r *Region) payloadAt(offset int) []byte {
	return r.buf[HeaderBytes+offset:]
}

// AllocateReadChannel scans channels 1..255 for a free slot and marks it
// used, returning its index. It leaves the channel's cursor at whatever
// ResetAll last left it at (usually 0), matching the original's
// GetChannel(), which only sets used=true and never touches the cursor —
// a late-joining subscriber replays the backlog since the last reset
// rather than starting at the current write position. Returns -1 if all
// 255 read channels are occupied (spec §7: "Channel allocation failed").
// Callers must hold the region lock.
func (r *Region) AllocateReadChannel() int {
	for i := 1; i < NumChannels; i++ {
		if !r.ChannelUsed(i) {
			r.SetChannelUsed(i, true)
			return i
		}
	}
	return -1
}

// ReleaseChannel frees channel i so it can be reused by another subscriber.
func (r *Region) ReleaseChannel(i int) {
	r.SetChannelUsed(i, false)
	r.SetChannelIndex(i, 0)
}

// ResetAll snaps every channel's cursor back to zero. Called by the master
// once every reader has caught up, or forcibly on stall reclaim.
func (r *Region) ResetAll() {
	for i := 0; i < NumChannels; i++ {
		r.SetChannelIndex(i, 0)
	}
}

// AllCaughtUp reports whether every used read channel has consumed up to
// the write channel's cursor.
func (r *Region) AllCaughtUp() bool {
	writeIdx := r.ChannelIndex(WriteChannel)
	for i := 1; i < NumChannels; i++ {
		if r.ChannelUsed(i) && r.ChannelIndex(i) != writeIdx {
			return false
		}
	}
	return true
}
