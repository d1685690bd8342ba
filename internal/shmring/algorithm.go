package shmring

import (
	"time"

	"github.com/ihedvall/bus-message-lib/internal/logging"
	"github.com/ihedvall/bus-message-lib/internal/metrics"
	"github.com/ihedvall/bus-message-lib/internal/wire"
)

// Ring pairs a Region with the Locker that arbitrates access to it. It is
// the unit both the simulate broker and the shared-memory broker drive
// through PublisherPoll/SubscriberPoll/RunMaster.
type Ring struct {
	Region *Region
	Lock   Locker
	Name   string // for log/metric context only
}

// NewRing wraps a region and its locker.
func NewRing(region *Region, lock Locker, name string) *Ring {
	return &Ring{Region: region, Lock: lock, Name: name}
}

// PublisherPoll attempts to serialize msg into the ring's write channel.
// Returns false if the ring is full, in which case buffer_full is raised
// and the master is notified (spec §4.E).
func (r *Ring) PublisherPoll(msg wire.BusMessage) bool {
	r.Lock.Lock()
	defer r.Lock.Unlock()

	size := int(msg.Size())
	writeIdx := r.Region.ChannelIndex(WriteChannel)
	free := r.Region.PayloadSize() - int(writeIdx) - size - RecordPrefixSize
	if free < 0 {
		r.Region.SetBufferFull(true)
		metrics.IncBufferFull()
		r.Lock.Notify()
		return false
	}

	var local []byte
	msg.ToRaw(&local)

	dst := r.Region.payloadAt(int(writeIdx))
	wire.PutUint32(dst, 0, uint32(len(local)))
	copy(dst[RecordPrefixSize:], local)

	r.Region.SetChannelIndex(WriteChannel, writeIdx+uint32(RecordPrefixSize+len(local)))
	metrics.IncRingWrite()
	return true
}

// SubscriberPollResult is the outcome of one SubscriberPoll call.
type SubscriberPollResult int

const (
	// PollNoData means the channel has caught up with the writer; nothing
	// to read this round.
	PollNoData SubscriberPollResult = iota
	// PollOK means a record was copied into out.
	PollOK
	// PollReconnect means the channel was released out from under the
	// caller (used == false); the caller must re-attach.
	PollReconnect
	// PollInconsistent means the reader raced ahead of or diverged from
	// the writer; the cursor was snapped back into range.
	PollInconsistent
)

// SubscriberPoll reads the next record for read channel idx, if any (spec
// §4.E). out is reused and truncated/grown as needed.
func (r *Ring) SubscriberPoll(idx int, out *[]byte) SubscriberPollResult {
	r.Lock.Lock()
	defer r.Lock.Unlock()

	if !r.Region.ChannelUsed(idx) {
		r.Region.SetChannelIndex(idx, 0)
		return PollReconnect
	}

	outIdx := r.Region.ChannelIndex(idx)
	inIdx := r.Region.ChannelIndex(WriteChannel)

	if inIdx < outIdx {
		metrics.IncRingInconsistency()
		r.Region.SetChannelIndex(idx, inIdx)
		return PollInconsistent
	}
	if inIdx == outIdx {
		return PollNoData
	}

	src := r.Region.payloadAt(int(outIdx))
	if int(outIdx)+RecordPrefixSize > r.Region.PayloadSize() {
		metrics.IncRingInconsistency()
		r.Region.SetChannelIndex(idx, inIdx)
		return PollInconsistent
	}
	recLen := int(wire.Uint32(src, 0))
	end := int(outIdx) + RecordPrefixSize + recLen
	if recLen < 0 || end > r.Region.PayloadSize() || uint32(end) > inIdx {
		metrics.IncRingInconsistency()
		r.Region.SetChannelIndex(idx, inIdx)
		return PollInconsistent
	}

	if cap(*out) < recLen {
		*out = make([]byte, recLen)
	} else {
		*out = (*out)[:recLen]
	}
	copy(*out, src[RecordPrefixSize:RecordPrefixSize+recLen])
	r.Region.SetChannelIndex(idx, uint32(end))
	metrics.IncRingRead()
	return PollOK
}

// RunMaster is the arbitration loop of spec §4.E/F/G: sleep on buffer_full
// (or a 1-second timeout); if all readers have caught up, reset the ring
// and clear buffer_full; otherwise start a 10-second stall timer and, if it
// expires while readers still lag, force the reset anyway, dropping unread
// data and logging an error. Runs until stop is closed.
func (r *Ring) RunMaster(stop <-chan struct{}) {
	var stallSince time.Time

	for {
		select {
		case <-stop:
			return
		default:
		}

		r.Lock.Lock()
		if !r.Region.BufferFull() {
			r.Lock.WaitBufferFull(MasterWakePoll)
		}

		if r.Region.AllCaughtUp() {
			r.Region.ResetAll()
			r.Region.SetBufferFull(false)
			stallSince = time.Time{}
			r.Lock.Notify()
			r.Lock.Unlock()
			continue
		}

		if !r.Region.BufferFull() {
			r.Lock.Unlock()
			continue
		}

		if stallSince.IsZero() {
			stallSince = time.Now()
			r.Lock.Unlock()
			continue
		}

		if time.Since(stallSince) < StallTimeout {
			r.Lock.Unlock()
			time.Sleep(pollInterval)
			continue
		}

		if time.Since(stallSince) >= StallTimeout {
			r.Region.ResetAll()
			r.Region.SetBufferFull(false)
			stallSince = time.Time{}
			r.Lock.Notify()
			metrics.IncStallReclaim()
			logging.Log(logging.Error, "shmring.master",
				"ring "+r.Name+" stalled for 10s, forcing reclaim and dropping unread data")
		}
		r.Lock.Unlock()
	}
}
