package shmring

import (
	"sync"
	"time"
)

// Locker serializes access to a Region and provides the buffer-full wake
// signal the master arbitration loop sleeps on. Two implementations exist:
// LocalLocker for the simulate broker (single process, real condvar) and the
// flock-backed locker in region_unix.go for cross-process shared memory,
// where "wait" degrades to a short poll (spec §9's own permitted
// substitution: "replace with file-locked regions and a short-poll
// condition" when the host cannot place a condvar in shared memory).
type Locker interface {
	Lock()
	Unlock()
	// WaitBufferFull blocks until Notify is called or timeout elapses.
	// Must be called with the lock held; releases it while waiting and
	// re-acquires before returning, mirroring sync.Cond.Wait.
	WaitBufferFull(timeout time.Duration)
	// Notify wakes any goroutine blocked in WaitBufferFull.
	Notify()
}

// LocalLocker is an in-process Locker backed by sync.Mutex/sync.Cond, used
// by the simulate broker where publisher, subscribers, and the master all
// live in the same process and heap buffer.
type LocalLocker struct {
	mu   sync.Mutex
	cond *sync.Cond
}

// NewLocalLocker returns a ready-to-use LocalLocker.
func NewLocalLocker() *LocalLocker {
	l := &LocalLocker{}
	l.cond = sync.NewCond(&l.mu)
	return l
}

func (l *LocalLocker) Lock()   { l.mu.Lock() }
func (l *LocalLocker) Unlock() { l.mu.Unlock() }

func (l *LocalLocker) WaitBufferFull(timeout time.Duration) {
	timer := time.AfterFunc(timeout, func() {
		l.mu.Lock()
		l.cond.Broadcast()
		l.mu.Unlock()
	})
	l.cond.Wait()
	timer.Stop()
}

func (l *LocalLocker) Notify() { l.cond.Broadcast() }
