package sim

import (
	"context"
	"fmt"
	"sync"
	"time"
	"unsafe"

	"github.com/benbjohnson/clock"

	"github.com/ardnew/softsdio/pkg"
	"github.com/ardnew/softsdio/slave/hal"
)

// DefaultAlignment is the buffer address alignment DMACapable requires.
const DefaultAlignment = 4

// Option configures a HAL.
type Option func(*HAL)

// WithClock sets the clock used for interrupt latency.
func WithClock(c clock.Clock) Option {
	return func(s *HAL) {
		s.clock = c
	}
}

// WithInterruptLatency delays each interrupt dispatch by d. Interrupts
// raised during the delay are coalesced into one status word.
func WithInterruptLatency(d time.Duration) Option {
	return func(s *HAL) {
		s.latency = d
	}
}

// WithAlignment sets the buffer alignment DMACapable requires.
func WithAlignment(n int) Option {
	return func(s *HAL) {
		s.align = n
	}
}

// WithoutInterruptLine makes Init fail as if every interrupt line were taken.
func WithoutInterruptLine() Option {
	return func(s *HAL) {
		s.noLine = true
	}
}

// HAL is an in-memory SDIO slave controller and DMA engine.
//
// It implements [hal.SlaveHAL] for the driver, and [HAL.Host] returns the
// bus host side that writes and reads packets through the bound rings.
// Interrupts are delivered from a dispatcher goroutine started by Init.
type HAL struct {
	clock   clock.Clock
	latency time.Duration
	align   int
	noLine  bool

	mutex   sync.Mutex
	link    hal.Link
	bound   bool
	running bool
	changed chan struct{} // closed and replaced on every bind/run change

	regs       [hal.NumRegisters]byte
	hostEnable uint8
	hostRaw    uint8
	hostLine   chan struct{} // poked when an enabled slave-to-host bit is raised

	intrPending hal.IntrStatus
	intrKick    chan struct{}
	intrDone    chan struct{}
	intrWG      sync.WaitGroup

	host *Host
}

// Verify interface compliance at compile time.
var _ hal.SlaveHAL = (*HAL)(nil)

// New creates an unbound controller.
func New(opts ...Option) *HAL {
	s := &HAL{
		clock:    clock.New(),
		align:    DefaultAlignment,
		changed:  make(chan struct{}),
		hostLine: make(chan struct{}, 1),
		intrKick: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.host = &Host{s: s, writer: make(chan struct{}, 1), reader: make(chan struct{}, 1)}
	return s
}

// Host returns the bus host view of the controller.
func (s *HAL) Host() *Host {
	return s.host
}

// notifyLocked wakes everything waiting on a state change.
func (s *HAL) notifyLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

// Init implements hal.SlaveHAL.
func (s *HAL) Init(ctx context.Context, link hal.Link) error {
	if err := pkg.ContextError(ctx); err != nil {
		return err
	}
	if link.Recv == nil || link.Send == nil || link.Handler == nil {
		return fmt.Errorf("%w: incomplete link", pkg.ErrInvalidArgument)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.noLine {
		return fmt.Errorf("%w: interrupt line unavailable", pkg.ErrNotFound)
	}
	if s.bound {
		// The line is held by the bound driver.
		return fmt.Errorf("%w: %w: controller already bound", pkg.ErrNotFound, pkg.ErrBusy)
	}
	s.link = link
	s.bound = true
	s.intrPending = 0
	s.intrDone = make(chan struct{})
	s.intrWG.Add(1)
	go s.dispatch(link.Handler, s.intrDone)
	s.notifyLocked()

	pkg.LogDebug(pkg.ComponentHAL, "sim controller bound",
		"recvRing", link.Recv.Cap(),
		"sendRing", link.Send.Cap(),
		"stream", link.Stream)
	return nil
}

// Start implements hal.SlaveHAL.
func (s *HAL) Start() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if !s.bound {
		return fmt.Errorf("%w: controller not bound", pkg.ErrInvalidState)
	}
	s.running = true
	s.notifyLocked()
	return nil
}

// Stop implements hal.SlaveHAL.
func (s *HAL) Stop() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if !s.bound {
		return fmt.Errorf("%w: controller not bound", pkg.ErrInvalidState)
	}
	s.running = false
	s.notifyLocked()
	return nil
}

// ResetHardware implements hal.SlaveHAL. It drops undelivered interrupts and
// the slave-to-host raw bits; the register file is kept.
func (s *HAL) ResetHardware() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if !s.bound {
		return fmt.Errorf("%w: controller not bound", pkg.ErrInvalidState)
	}
	s.intrPending = 0
	s.hostRaw = 0
	return nil
}

// Deinit implements hal.SlaveHAL.
func (s *HAL) Deinit() error {
	s.mutex.Lock()
	if !s.bound {
		s.mutex.Unlock()
		return fmt.Errorf("%w: controller not bound", pkg.ErrInvalidState)
	}
	s.bound = false
	s.running = false
	s.link = hal.Link{}
	close(s.intrDone)
	s.notifyLocked()
	s.mutex.Unlock()

	s.intrWG.Wait()
	pkg.LogDebug(pkg.ComponentHAL, "sim controller unbound")
	return nil
}

// DMACapable implements hal.SlaveHAL: buf must be non-empty and start on an
// aligned address.
func (s *HAL) DMACapable(buf []byte) bool {
	if len(buf) == 0 {
		return false
	}
	if s.align <= 1 {
		return true
	}
	return uintptr(unsafe.Pointer(unsafe.SliceData(buf)))%uintptr(s.align) == 0
}

// ReadRegister implements hal.SlaveHAL.
func (s *HAL) ReadRegister(addr int) byte {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.regs[addr]
}

// WriteRegister implements hal.SlaveHAL.
func (s *HAL) WriteRegister(addr int, v byte) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.regs[addr] = v
}

// HostInterruptEnable implements hal.SlaveHAL.
func (s *HAL) HostInterruptEnable() uint8 {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.hostEnable
}

// SetHostInterruptEnable implements hal.SlaveHAL.
func (s *HAL) SetHostInterruptEnable(mask uint8) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.hostEnable = mask
	s.assertLineLocked()
}

// RaiseHostInterrupt implements hal.SlaveHAL.
func (s *HAL) RaiseHostInterrupt(mask uint8) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.hostRaw |= mask
	s.assertLineLocked()
}

// ClearHostInterrupt implements hal.SlaveHAL.
func (s *HAL) ClearHostInterrupt(mask uint8) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.hostRaw &^= mask
}

func (s *HAL) assertLineLocked() {
	if !s.link.HostIntrLine || s.hostRaw&s.hostEnable == 0 {
		return
	}
	select {
	case s.hostLine <- struct{}{}:
	default:
	}
}

// raise latches status for the dispatcher.
func (s *HAL) raise(status hal.IntrStatus) {
	s.mutex.Lock()
	if !s.bound {
		s.mutex.Unlock()
		return
	}
	s.intrPending |= status
	s.mutex.Unlock()

	select {
	case s.intrKick <- struct{}{}:
	default:
	}
}

func (s *HAL) dispatch(h hal.InterruptHandler, done <-chan struct{}) {
	defer s.intrWG.Done()
	for {
		select {
		case <-s.intrKick:
		case <-done:
			return
		}
		if s.latency > 0 {
			s.clock.Sleep(s.latency)
		}
		s.mutex.Lock()
		status := s.intrPending
		s.intrPending = 0
		s.mutex.Unlock()
		if status != 0 {
			h.Interrupt(status)
		}
	}
}

// snapshot returns the current link and state-change channel, or
// ErrNotRunning if the controller is not started.
func (s *HAL) snapshot() (hal.Link, <-chan struct{}, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if !s.running {
		return hal.Link{}, nil, pkg.ErrNotRunning
	}
	return s.link, s.changed, nil
}
