//go:build unix

package shmring

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// FlockLocker is the cross-process Locker for shared-memory regions: mutual
// exclusion is a real flock(2) on a sidecar lock file, plus an in-process
// mutex because flock(2) does not exclude goroutines sharing one file
// descriptor. WaitBufferFull
// degrades to a 10ms short poll since no portable interprocess condition
// variable exists over a plain mmap. This is the exact substitution
// permitted for the shared-memory transports: "where the host cannot place
// [a mutex/condvar] in shared memory safely, replace with file-locked
// regions and a short-poll condition."
type FlockLocker struct {
	mu sync.Mutex
	fd int
}

// NewFlockLocker opens (creating if needed) a lock file at path and returns
// a Locker backed by flock(2) on its file descriptor.
func NewFlockLocker(path string) (*FlockLocker, error) {
	fd, err := unix.Open(path, unix.O_CREAT|unix.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("shmring: open lock file %s: %w", path, err)
	}
	return &FlockLocker{fd: fd}, nil
}

func (f *FlockLocker) Lock() {
	f.mu.Lock()
	for {
		err := unix.Flock(f.fd, unix.LOCK_EX)
		if err == nil {
			return
		}
		if err != unix.EINTR {
			panic(fmt.Sprintf("shmring: flock: %v", err))
		}
	}
}

func (f *FlockLocker) Unlock() {
	_ = unix.Flock(f.fd, unix.LOCK_UN)
	f.mu.Unlock()
}

// WaitBufferFull releases the lock, sleeps one poll interval (bounded by
// timeout), and re-acquires it. The caller re-checks region state on
// return; there is no real wake signal across processes, only the bounded
// poll.
func (f *FlockLocker) WaitBufferFull(timeout time.Duration) {
	f.Unlock()
	if timeout < pollInterval {
		time.Sleep(timeout)
	} else {
		time.Sleep(pollInterval)
	}
	f.Lock()
}

// Notify is a no-op: other processes discover state changes on their next
// poll tick.
func (f *FlockLocker) Notify() {}

// Close releases the lock file descriptor.
func (f *FlockLocker) Close() error { return unix.Close(f.fd) }

// segmentDir mirrors the teacher's shared-memory example: prefer
// /dev/shm, fall back to the OS temp dir when it doesn't exist.
func segmentDir() string {
	if fi, err := os.Stat("/dev/shm"); err == nil && fi.IsDir() {
		return "/dev/shm"
	}
	return os.TempDir()
}

// sanitizeName strips path separators from a caller-supplied region name so
// it can be used as a filename component (spec §9 region-name sanitization).
func sanitizeName(name string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", string(filepath.Separator), "_")
	return r.Replace(name)
}

func segmentPath(name string) string {
	return filepath.Join(segmentDir(), "buslib-"+sanitizeName(name)+".ring")
}

func lockPath(name string) string {
	return filepath.Join(segmentDir(), "buslib-"+sanitizeName(name)+".lock")
}

// CreateRawSegment allocates a named shared-memory segment of totalSize
// bytes, mmaps it, and zeroes it, returning the raw buffer and its Locker.
// The segment file is opened with O_EXCL: only one master may create a
// given name, and a leftover segment from an unclean previous shutdown
// must be removed with RemoveRegion before the master restarts, rather
// than silently reused. Used directly by callers that lay out more than
// one ring inside a single segment (internal/shmemserver's TX/RX split);
// single-ring callers should use CreateRegion instead.
func CreateRawSegment(name string, totalSize int) ([]byte, *FlockLocker, func() error, error) {
	path := segmentPath(name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o600)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("shmring: create segment %s: %w", path, err)
	}
	if err := f.Truncate(int64(totalSize)); err != nil {
		f.Close()
		return nil, nil, nil, fmt.Errorf("shmring: truncate segment %s: %w", path, err)
	}
	buf, err := unix.Mmap(int(f.Fd()), 0, totalSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, nil, nil, fmt.Errorf("shmring: mmap segment %s: %w", path, err)
	}
	for i := range buf {
		buf[i] = 0
	}

	lock, err := NewFlockLocker(lockPath(name))
	if err != nil {
		unix.Munmap(buf)
		f.Close()
		return nil, nil, nil, err
	}

	closeFn := func() error {
		lock.Close()
		if err := unix.Munmap(buf); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	}
	return buf, lock, closeFn, nil
}

// OpenRawSegment maps an existing named shared-memory segment created by
// CreateRawSegment/CreateRegion. Returns an error if the segment does not
// exist yet; callers should retry every second until initialized (spec
// §4.F).
func OpenRawSegment(name string, totalSize int) ([]byte, *FlockLocker, func() error, error) {
	path := segmentPath(name)
	f, err := os.OpenFile(path, os.O_RDWR, 0o600)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("shmring: open segment %s: %w", path, err)
	}
	buf, err := unix.Mmap(int(f.Fd()), 0, totalSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, nil, nil, fmt.Errorf("shmring: mmap segment %s: %w", path, err)
	}

	lock, err := NewFlockLocker(lockPath(name))
	if err != nil {
		unix.Munmap(buf)
		f.Close()
		return nil, nil, nil, err
	}

	closeFn := func() error {
		lock.Close()
		if err := unix.Munmap(buf); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	}
	return buf, lock, closeFn, nil
}

// CreateRegion allocates a named single-ring shared-memory segment of
// totalSize bytes, returning an uninitialized Region plus its Locker. The
// caller must call Region.SetInitialized(true) once setup is complete
// (spec §4.F).
func CreateRegion(name string, totalSize int) (*Region, *FlockLocker, func() error, error) {
	buf, lock, closeFn, err := CreateRawSegment(name, totalSize)
	if err != nil {
		return nil, nil, nil, err
	}
	return NewRegion(buf, totalSize-HeaderBytes), lock, closeFn, nil
}

// OpenRegion maps an existing named single-ring shared-memory segment
// created by CreateRegion.
func OpenRegion(name string, totalSize int) (*Region, *FlockLocker, func() error, error) {
	buf, lock, closeFn, err := OpenRawSegment(name, totalSize)
	if err != nil {
		return nil, nil, nil, err
	}
	return NewRegion(buf, totalSize-HeaderBytes), lock, closeFn, nil
}

// RemoveRegion unlinks a named segment's backing files. Used by the master
// on clean shutdown.
func RemoveRegion(name string) {
	_ = os.Remove(segmentPath(name))
	_ = os.Remove(lockPath(name))
}
