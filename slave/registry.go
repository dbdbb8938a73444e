package slave

import (
	"fmt"
	"sync"

	"github.com/ardnew/softsdio/pkg"
)

// BufferState is the ownership state of a registered receive buffer.
type BufferState uint8

// Buffer states.
const (
	BufferUnregistered BufferState = iota // Handle does not resolve
	BufferIdle                            // Owned by the application
	BufferQueued                          // Owned by the driver and DMA engine
	BufferCompleted                       // Filled, waiting in the completion queue
)

// String returns a human-readable state name.
func (s BufferState) String() string {
	switch s {
	case BufferUnregistered:
		return "unregistered"
	case BufferIdle:
		return "idle"
	case BufferQueued:
		return "queued"
	case BufferCompleted:
		return "completed"
	default:
		return fmt.Sprintf("BufferState(%d)", s)
	}
}

type bufEntry struct {
	buf    []byte
	gen    uint32
	state  BufferState
	length int
	eof    bool
}

// registry is the fixed-size table of receive buffers.
// It is shared between application calls and the interrupt path.
type registry struct {
	mutex   sync.Mutex
	entries []bufEntry
	free    []uint32
	size    int
}

func newRegistry(count, size int) *registry {
	r := &registry{
		entries: make([]bufEntry, count),
		free:    make([]uint32, count),
		size:    size,
	}
	for i := range r.entries {
		r.entries[i].gen = 1
		// Pop from the end hands out index 0 first.
		r.free[i] = uint32(count - 1 - i)
	}
	return r
}

// lookup returns the live entry for h. The caller must hold the mutex.
func (r *registry) lookup(h Handle) (*bufEntry, error) {
	if h.IsZero() || int(h.index) >= len(r.entries) {
		return nil, fmt.Errorf("%w: unknown handle %s", pkg.ErrInvalidArgument, h)
	}
	e := &r.entries[h.index]
	if e.state == BufferUnregistered || e.gen != h.gen {
		return nil, fmt.Errorf("%w: stale handle %s", pkg.ErrInvalidArgument, h)
	}
	return e, nil
}

func (r *registry) register(buf []byte) (Handle, error) {
	if len(buf) < r.size {
		return Handle{}, fmt.Errorf("%w: buffer of %d bytes, need %d",
			pkg.ErrInvalidArgument, len(buf), r.size)
	}
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if len(r.free) == 0 {
		return Handle{}, fmt.Errorf("%w: all %d buffer slots registered",
			pkg.ErrNoMemory, len(r.entries))
	}
	idx := r.free[len(r.free)-1]
	r.free = r.free[:len(r.free)-1]
	e := &r.entries[idx]
	e.buf = buf[:r.size:r.size]
	e.state = BufferIdle
	e.length = r.size
	e.eof = false
	return Handle{index: idx, gen: e.gen}, nil
}

func (r *registry) unregister(h Handle) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	e, err := r.lookup(h)
	if err != nil {
		return err
	}
	if e.state != BufferIdle {
		return fmt.Errorf("%w: buffer %s is %s", pkg.ErrInvalidArgument, h, e.state)
	}
	r.releaseLocked(h.index)
	return nil
}

func (r *registry) releaseLocked(idx uint32) {
	e := &r.entries[idx]
	e.buf = nil
	e.state = BufferUnregistered
	e.gen++
	if e.gen == 0 {
		e.gen = 1
	}
	r.free = append(r.free, idx)
}

// resolve returns the buffer data for h: the bytes of its last completion,
// or the whole buffer if it has never been filled.
func (r *registry) resolve(h Handle) ([]byte, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	e, err := r.lookup(h)
	if err != nil {
		return nil, err
	}
	return e.buf[:e.length], nil
}

// state returns the state of h, or BufferUnregistered if it does not resolve.
func (r *registry) state(h Handle) BufferState {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	e, err := r.lookup(h)
	if err != nil {
		return BufferUnregistered
	}
	return e.state
}

// queue moves h from Idle to Queued and returns its buffer.
func (r *registry) queue(h Handle) ([]byte, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	e, err := r.lookup(h)
	if err != nil {
		return nil, err
	}
	if e.state != BufferIdle {
		return nil, fmt.Errorf("%w: buffer %s is %s", pkg.ErrInvalidArgument, h, e.state)
	}
	e.state = BufferQueued
	return e.buf, nil
}

// unqueue reverts a queue whose mount failed.
func (r *registry) unqueue(h Handle) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if e, err := r.lookup(h); err == nil && e.state == BufferQueued {
		e.state = BufferIdle
	}
}

// complete records a DMA completion for h. Called from the interrupt path.
func (r *registry) complete(h Handle, length int, eof bool) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	e, err := r.lookup(h)
	if err != nil || e.state != BufferQueued {
		return false
	}
	e.state = BufferCompleted
	e.length = length
	e.eof = eof
	return true
}

// deliver hands a completed buffer back to the application.
func (r *registry) deliver(h Handle) (data []byte, eof bool, err error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	e, err := r.lookup(h)
	if err != nil {
		return nil, false, err
	}
	if e.state != BufferCompleted {
		return nil, false, fmt.Errorf("%w: buffer %s is %s", pkg.ErrInvalidArgument, h, e.state)
	}
	e.state = BufferIdle
	return e.buf[:e.length], e.eof, nil
}

// idle returns every queued or completed buffer to Idle.
func (r *registry) idle() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	n := 0
	for i := range r.entries {
		e := &r.entries[i]
		if e.state == BufferQueued || e.state == BufferCompleted {
			e.state = BufferIdle
			e.length = r.size
			e.eof = false
			n++
		}
	}
	return n
}

// registered returns the number of registered buffers.
func (r *registry) registered() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return len(r.entries) - len(r.free)
}
