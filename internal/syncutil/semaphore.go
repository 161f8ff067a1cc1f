// Package syncutil provides the cross-process synchronization primitives
// the sandbox launcher's parent/child handshake is built on: a counting
// semaphore backed by a futex in memory shared across a re-exec boundary,
// and a close-on-exec pipe used as a one-shot error channel.
//
// A raw clone(2) with a caller-supplied child function (as the native
// sandbox this package's semantics are grounded on does) would let the
// parent and child share an anonymous mmap directly. Since this
// implementation constructs its child via re-exec rather than raw clone
// (see internal/sandbox's package doc for why), the shared memory instead
// lives in a memfd whose descriptor is inherited across exec, and the
// semaphore itself is a futex word inside that mapping: a futex on a
// shared memory page.
package syncutil

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// semaphoreWordSize is the size in bytes of a single futex word.
const semaphoreWordSize = 4

// Region is a block of memory shared between this process and another via
// an inherited memfd. It holds one or more Semaphore words.
type Region struct {
	data []byte
}

// NewRegion creates a fresh memfd-backed shared region of the given size
// (rounded up to a page by the kernel) and returns both the mapped Region
// for this process and the *os.File to hand to a child via ExtraFiles.
func NewRegion(size int) (*Region, *os.File, error) {
	fd, err := unix.MemfdCreate("isobox-handshake", 0)
	if err != nil {
		return nil, nil, fmt.Errorf("syncutil: memfd_create: %w", err)
	}
	file := os.NewFile(uintptr(fd), "isobox-handshake")

	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		file.Close()
		return nil, nil, fmt.Errorf("syncutil: ftruncate: %w", err)
	}
	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		file.Close()
		return nil, nil, fmt.Errorf("syncutil: mmap: %w", err)
	}
	return &Region{data: data}, file, nil
}

// OpenRegion maps an existing shared region from an inherited file
// descriptor (the child side of NewRegion).
func OpenRegion(f *os.File, size int) (*Region, error) {
	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("syncutil: mmap: %w", err)
	}
	return &Region{data: data}, nil
}

// Close unmaps the region. It does not throw; callers should still check
// the error if they care, but destruction-path callers may ignore it.
func (r *Region) Close() error {
	if r == nil || r.data == nil {
		return nil
	}
	err := unix.Munmap(r.data)
	r.data = nil
	return err
}

func (r *Region) wordAt(offset int) *uint32 {
	if offset+semaphoreWordSize > len(r.data) {
		panic("syncutil: semaphore offset out of range")
	}
	return (*uint32)(unsafe.Pointer(&r.data[offset]))
}

// Semaphore initializes a new counting semaphore at the given byte offset
// within the region, with the given initial value.
func (r *Region) Semaphore(offset int, initial uint32) *Semaphore {
	w := r.wordAt(offset)
	atomic.StoreUint32(w, initial)
	return &Semaphore{word: w}
}

// OpenSemaphore attaches to a semaphore previously initialized (by the
// other side of the handshake) at the given offset.
func (r *Region) OpenSemaphore(offset int) *Semaphore {
	return &Semaphore{word: r.wordAt(offset)}
}

// Semaphore is a counting semaphore implemented with a futex word in
// memory shared between two processes.
type Semaphore struct {
	word *uint32
}

// Post increments the semaphore and wakes one waiter.
func (s *Semaphore) Post() error {
	atomic.AddUint32(s.word, 1)
	return futexWake(s.word, 1)
}

// Wait blocks until the semaphore is non-zero, then atomically decrements it.
func (s *Semaphore) Wait() error {
	for {
		if s.tryDecrement() {
			return nil
		}
		if err := futexWait(s.word, 0, nil); err != nil &&
			err != unix.EAGAIN && err != unix.EINTR {
			return err
		}
	}
}

// TryWait attempts to decrement the semaphore without blocking.
func (s *Semaphore) TryWait() (bool, error) {
	return s.tryDecrement(), nil
}

// TimedWait blocks until the semaphore is non-zero or the timeout elapses.
// It returns false (not an error) on timeout.
func (s *Semaphore) TimedWait(d time.Duration) (bool, error) {
	deadline := time.Now().Add(d)
	for {
		if s.tryDecrement() {
			return true, nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false, nil
		}
		ts := unix.NsecToTimespec(remaining.Nanoseconds())
		err := futexWait(s.word, 0, &ts)
		if err == unix.ETIMEDOUT {
			continue
		}
		if err != nil && err != unix.EAGAIN && err != unix.EINTR {
			return false, err
		}
	}
}

func (s *Semaphore) tryDecrement() bool {
	for {
		v := atomic.LoadUint32(s.word)
		if v == 0 {
			return false
		}
		if atomic.CompareAndSwapUint32(s.word, v, v-1) {
			return true
		}
	}
}

const (
	futexWaitOp = 0
	futexWakeOp = 1
)

func futexWait(addr *uint32, val uint32, timeout *unix.Timespec) error {
	_, _, errno := unix.Syscall6(unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)), uintptr(futexWaitOp), uintptr(val),
		uintptr(unsafe.Pointer(timeout)), 0, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

func futexWake(addr *uint32, n int) error {
	_, _, errno := unix.Syscall6(unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)), uintptr(futexWakeOp), uintptr(n), 0, 0, 0)
	if errno != 0 {
		return errno
	}
	return nil
}
