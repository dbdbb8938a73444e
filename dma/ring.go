package dma

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ardnew/softsdio/pkg"
)

// MaxRingSize bounds the number of descriptors in a single ring.
const MaxRingSize = 1024

var (
	// ErrInvalidSize is returned by NewRing for a size outside 1..MaxRingSize.
	ErrInvalidSize = errors.New("invalid ring size")

	// ErrStaleSlot is returned by Complete for a slot that was not claimed
	// from the current ring generation, or was already completed.
	ErrStaleSlot = errors.New("stale descriptor slot")
)

// Owner identifies which side may access a descriptor's buffer.
type Owner uint8

// Descriptor owners.
const (
	OwnerCPU Owner = iota // Driver or application
	OwnerDMA              // DMA engine
)

// String returns the owner name.
func (o Owner) String() string {
	if o == OwnerDMA {
		return "dma"
	}
	return "cpu"
}

// Descriptor is one entry of a descriptor ring.
type Descriptor struct {
	// Buf is the mounted memory. Its length is the descriptor capacity.
	Buf []byte
	// Length is the number of valid bytes: written by the engine on the
	// receive side, set by the driver on the send side.
	Length int
	// EOF marks the last descriptor of a packet.
	EOF bool
	// Owner is the side currently allowed to touch Buf.
	Owner Owner
	// Cookie is opaque driver bookkeeping returned unchanged by Reap.
	Cookie any
}

// Slot is the engine's view of a claimed descriptor.
type Slot struct {
	index  uint64
	epoch  uint64
	Buf    []byte
	Length int
}

// Stats holds the cumulative ring counters since creation or the last Reset.
type Stats struct {
	Mounted        uint64 // Descriptors mounted
	MountedBytes   uint64 // Sum of Length over mounted descriptors
	Completed      uint64 // Descriptors completed by the engine
	CompletedBytes uint64 // Sum of completed lengths
}

// Ring is a fixed-capacity descriptor ring shared by a driver and a DMA
// engine.
//
// Descriptors move through three cursors in order: the driver mounts at the
// tail, the engine claims and completes from the fill cursor, and the driver
// reaps completed descriptors from the head. Reap only ever returns the head,
// so completions are observed in mount order even if the engine completes
// claimed slots out of order.
//
// All methods are safe for concurrent use and never block, so they may be
// called from an interrupt path.
type Ring struct {
	mutex sync.Mutex
	items []Descriptor
	head  uint64 // next descriptor to reap
	fill  uint64 // next descriptor to claim
	tail  uint64 // next free position
	epoch uint64
	stats Stats
	kick  chan struct{}
}

// NewRing creates a ring with n descriptors.
func NewRing(n int) (*Ring, error) {
	if n <= 0 || n > MaxRingSize {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, n)
	}
	return &Ring{
		items: make([]Descriptor, n),
		kick:  make(chan struct{}, 1),
	}, nil
}

// Cap returns the number of descriptors in the ring.
func (r *Ring) Cap() int {
	return len(r.items)
}

// Len returns the number of mounted descriptors that have not been reaped.
func (r *Ring) Len() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return int(r.tail - r.head)
}

// Ready returns the number of mounted descriptors the engine has not claimed.
func (r *Ring) Ready() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return int(r.tail - r.fill)
}

// ReadyBytes returns the sum of Length over mounted descriptors the engine
// has not claimed.
func (r *Ring) ReadyBytes() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	n := 0
	for i := r.fill; i < r.tail; i++ {
		n += r.items[i%uint64(len(r.items))].Length
	}
	return n
}

// Stats returns a snapshot of the ring counters.
func (r *Ring) Stats() Stats {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.stats
}

// Kick returns a channel signalled after descriptors are mounted.
// The signal is coalesced; engines must re-check Ready after receiving it.
func (r *Ring) Kick() <-chan struct{} {
	return r.kick
}

// Mount appends d at the tail and hands it to the DMA engine.
func (r *Ring) Mount(d Descriptor) error {
	r.mutex.Lock()
	if r.tail-r.head == uint64(len(r.items)) {
		r.mutex.Unlock()
		return pkg.ErrRingFull
	}
	d.Owner = OwnerDMA
	d.EOF = false
	r.items[r.tail%uint64(len(r.items))] = d
	r.tail++
	r.stats.Mounted++
	r.stats.MountedBytes += uint64(d.Length)
	r.mutex.Unlock()

	select {
	case r.kick <- struct{}{}:
	default:
	}
	return nil
}

// Claim takes the next mounted descriptor for the engine.
func (r *Ring) Claim() (Slot, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.fill == r.tail {
		return Slot{}, false
	}
	d := &r.items[r.fill%uint64(len(r.items))]
	s := Slot{index: r.fill, epoch: r.epoch, Buf: d.Buf, Length: d.Length}
	r.fill++
	return s, true
}

// Complete returns a claimed descriptor to the CPU with the number of bytes
// transferred and whether it ends a packet.
func (r *Ring) Complete(s Slot, length int, eof bool) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if s.epoch != r.epoch || s.index < r.head || s.index >= r.fill {
		return ErrStaleSlot
	}
	d := &r.items[s.index%uint64(len(r.items))]
	if d.Owner != OwnerDMA {
		return ErrStaleSlot
	}
	if length < 0 || length > len(d.Buf) {
		return fmt.Errorf("%w: length %d exceeds descriptor capacity %d",
			pkg.ErrInvalidArgument, length, len(d.Buf))
	}
	d.Length = length
	d.EOF = eof
	d.Owner = OwnerCPU
	r.stats.Completed++
	r.stats.CompletedBytes += uint64(length)
	return nil
}

// Reap removes the head descriptor if the engine has completed it.
func (r *Ring) Reap() (Descriptor, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.head == r.fill {
		return Descriptor{}, false
	}
	i := r.head % uint64(len(r.items))
	if r.items[i].Owner != OwnerCPU {
		return Descriptor{}, false
	}
	d := r.items[i]
	r.items[i] = Descriptor{}
	r.head++
	return d, true
}

// Reset discards every descriptor that has not been reaped, returning them
// in ring order, and zeroes the cursors and counters. Slots claimed before
// the reset can no longer be completed.
func (r *Ring) Reset() []Descriptor {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	var out []Descriptor
	for i := r.head; i < r.tail; i++ {
		j := i % uint64(len(r.items))
		out = append(out, r.items[j])
		r.items[j] = Descriptor{}
	}
	r.head, r.fill, r.tail = 0, 0, 0
	r.epoch++
	r.stats = Stats{}
	return out
}
