package slave

import (
	"context"
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/rcrowley/go-metrics"
	"go.uber.org/multierr"

	"github.com/ardnew/softsdio/dma"
	"github.com/ardnew/softsdio/pkg"
	"github.com/ardnew/softsdio/slave/hal"
)

// Option configures a Driver at construction.
type Option func(*Driver)

// WithClock sets the clock used for completion polling.
func WithClock(c clock.Clock) Option {
	return func(d *Driver) {
		d.clock = c
	}
}

// WithMetrics sets the registry the driver reports counters to.
func WithMetrics(r metrics.Registry) Option {
	return func(d *Driver) {
		d.registry = r
	}
}

// Driver is an SDIO slave driver bound to one controller.
//
// A Driver starts Uninitialized. Initialize allocates the buffer table,
// descriptor rings, and queues and binds them to the controller; every
// buffer, send, and register operation fails with [pkg.ErrInvalidState]
// until then. Because the controller accepts a single binding, a second
// Driver on the same HAL cannot initialize.
type Driver struct {
	hal      hal.SlaveHAL
	clock    clock.Clock
	registry metrics.Registry
	metrics  *driverMetrics

	mutex sync.RWMutex
	state State
	inst  *instance
}

// instance holds everything allocated by one Initialize call.
type instance struct {
	config  Config
	clock   clock.Clock
	metrics *driverMetrics

	reg         *registry
	recvRing    *dma.Ring
	recvReap    sync.Mutex
	completions chan Handle

	sendRing  *dma.Ring
	sendReap  sync.Mutex
	sendSlots chan struct{}
	finished  chan any

	host *hostBridge

	closed    chan struct{}
	closeOnce sync.Once
}

// NewDriver creates an uninitialized driver for the given controller.
func NewDriver(h hal.SlaveHAL, opts ...Option) *Driver {
	d := &Driver{
		hal:   h,
		clock: clock.New(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.registry == nil {
		d.registry = metrics.NewRegistry()
	}
	d.metrics = newDriverMetrics(d.registry)
	return d
}

func newInstance(cfg Config, clk clock.Clock, m *driverMetrics) (*instance, error) {
	recvRing, err := dma.NewRing(cfg.RecvBufferCount)
	if err != nil {
		return nil, fmt.Errorf("%w: receive ring: %v", pkg.ErrNoMemory, err)
	}
	sendRing, err := dma.NewRing(cfg.SendQueueSize)
	if err != nil {
		return nil, fmt.Errorf("%w: send ring: %v", pkg.ErrNoMemory, err)
	}
	return &instance{
		config:      cfg,
		clock:       clk,
		metrics:     m,
		reg:         newRegistry(cfg.RecvBufferCount, cfg.RecvBufferSize),
		recvRing:    recvRing,
		completions: make(chan Handle, cfg.RecvBufferCount),
		sendRing:    sendRing,
		sendSlots:   make(chan struct{}, cfg.SendQueueSize),
		finished:    make(chan any, cfg.SendQueueSize),
		host:        newHostBridge(cfg.EventQueueSize),
		closed:      make(chan struct{}),
	}, nil
}

func (inst *instance) close() {
	inst.closeOnce.Do(func() {
		close(inst.closed)
	})
}

func (inst *instance) polling() bool {
	return inst.config.Completion == CompletionPoll
}

// errClosed is returned to callers blocked when the driver is deinitialized.
var errClosed = fmt.Errorf("%w: driver deinitialized", pkg.ErrInvalidState)

// active returns the current instance, or ErrInvalidState if uninitialized.
func (d *Driver) active() (*instance, error) {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	if d.inst == nil {
		return nil, fmt.Errorf("%w: driver not initialized", pkg.ErrInvalidState)
	}
	return d.inst, nil
}

// Initialize allocates driver resources and binds the controller.
//
// It fails with [pkg.ErrInvalidState] if already initialized,
// [pkg.ErrNotFound] if the controller has no free interrupt line, and
// [pkg.ErrNoMemory] if the configured sizes exceed the driver limits.
// Partially acquired resources are released before returning an error.
func (d *Driver) Initialize(ctx context.Context, cfg Config) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.state != StateUninitialized {
		return fmt.Errorf("%w: already initialized", pkg.ErrInvalidState)
	}
	if err := cfg.ValidateAndSetDefaults(); err != nil {
		return err
	}

	inst, err := newInstance(cfg, d.clock, d.metrics)
	if err != nil {
		return err
	}

	link := hal.Link{
		Recv:         inst.recvRing,
		Send:         inst.sendRing,
		Handler:      &isr{inst: inst},
		Stream:       cfg.SendingMode == ModeStream,
		HostIntrLine: !cfg.Flags.Has(FlagHostIntrDisabled),
	}
	if err := d.hal.Init(ctx, link); err != nil {
		inst.close()
		return fmt.Errorf("init controller: %w", err)
	}
	if err := d.hal.ResetHardware(); err != nil {
		inst.close()
		return multierr.Append(
			fmt.Errorf("reset controller: %w", err),
			d.hal.Deinit(),
		)
	}

	d.inst = inst
	d.state = StateStopped

	pkg.LogInfo(pkg.ComponentDriver, "driver initialized",
		"timing", cfg.Timing.String(),
		"mode", cfg.SendingMode.String(),
		"sendQueue", cfg.SendQueueSize,
		"recvBufferSize", cfg.RecvBufferSize,
		"recvBufferCount", cfg.RecvBufferCount,
		"completion", cfg.Completion.String(),
		"flags", cfg.Flags.String())
	return nil
}

// Start enables the hardware for sending and receiving. Data and counters
// left from before a Stop are kept.
func (d *Driver) Start() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	switch d.state {
	case StateUninitialized:
		return fmt.Errorf("%w: driver not initialized", pkg.ErrInvalidState)
	case StateRunning:
		return fmt.Errorf("%w: already started", pkg.ErrInvalidState)
	}
	if err := d.hal.Start(); err != nil {
		return fmt.Errorf("start controller: %w", err)
	}
	d.state = StateRunning
	pkg.LogDebug(pkg.ComponentDriver, "driver started")
	return nil
}

// Stop halts the hardware. Buffered data and counters are retained; call
// Reset to clear them. Stopping a stopped driver is a no-op.
func (d *Driver) Stop() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	switch d.state {
	case StateUninitialized:
		return fmt.Errorf("%w: driver not initialized", pkg.ErrInvalidState)
	case StateStopped:
		return nil
	}
	if err := d.hal.Stop(); err != nil {
		return fmt.Errorf("stop controller: %w", err)
	}
	d.state = StateStopped
	pkg.LogDebug(pkg.ComponentDriver, "driver stopped")
	return nil
}

// Reset clears queued buffers and pending completions and zeroes the
// counters. Every receive buffer returns to Idle; unreclaimed send
// transfers are discarded and their slots freed. The driver must be
// stopped.
func (d *Driver) Reset() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.resetLocked()
}

// ResetHardware resets the controller and then performs Reset.
func (d *Driver) ResetHardware() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if err := d.resetLocked(); err != nil {
		return err
	}
	if err := d.hal.ResetHardware(); err != nil {
		return fmt.Errorf("reset controller: %w", err)
	}
	return nil
}

func (d *Driver) resetLocked() error {
	switch d.state {
	case StateUninitialized:
		return fmt.Errorf("%w: driver not initialized", pkg.ErrInvalidState)
	case StateRunning:
		return fmt.Errorf("%w: stop the driver before reset", pkg.ErrInvalidState)
	}
	recv, send := d.inst.reset()
	pkg.LogDebug(pkg.ComponentDriver, "driver reset",
		"recvReleased", recv,
		"sendDropped", send)
	return nil
}

// Deinitialize unbinds the controller and releases every resource.
// Callers blocked in the driver return [pkg.ErrInvalidState]. The driver
// must be stopped; buffers still queued are forgotten.
func (d *Driver) Deinitialize() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	switch d.state {
	case StateUninitialized:
		return fmt.Errorf("%w: driver not initialized", pkg.ErrInvalidState)
	case StateRunning:
		return fmt.Errorf("%w: stop the driver before deinitialize", pkg.ErrInvalidState)
	}
	err := d.hal.Deinit()
	d.inst.reset()
	d.inst.close()
	d.inst = nil
	d.state = StateUninitialized
	if err != nil {
		return fmt.Errorf("deinit controller: %w", err)
	}
	pkg.LogInfo(pkg.ComponentDriver, "driver deinitialized")
	return nil
}

// State returns the lifecycle state.
func (d *Driver) State() State {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.state
}

// Config returns the configuration in effect, with defaults applied.
func (d *Driver) Config() (Config, error) {
	inst, err := d.active()
	if err != nil {
		return Config{}, err
	}
	return inst.config, nil
}

// Metrics returns the registry holding the driver counters.
func (d *Driver) Metrics() metrics.Registry {
	return d.registry
}

// Counters are the host-visible transfer counters. They survive Stop and
// Start and are zeroed by Reset.
type Counters struct {
	// RecvLoaded is the number of receive buffers loaded (host token count).
	RecvLoaded uint64
	// RecvBytes is the number of bytes the host has written.
	RecvBytes uint64
	// SendQueued is the number of bytes queued for the host to read.
	SendQueued uint64
	// SendBytes is the number of bytes the host has read.
	SendBytes uint64
}

// Counters returns a snapshot of the transfer counters.
func (d *Driver) Counters() (Counters, error) {
	inst, err := d.active()
	if err != nil {
		return Counters{}, err
	}
	recv := inst.recvRing.Stats()
	send := inst.sendRing.Stats()
	return Counters{
		RecvLoaded: recv.Mounted,
		RecvBytes:  recv.CompletedBytes,
		SendQueued: send.MountedBytes,
		SendBytes:  send.CompletedBytes,
	}, nil
}

// reset returns the instance to its just-initialized data state.
func (inst *instance) reset() (recvReleased, sendDropped int) {
	inst.recvReap.Lock()
	inst.recvRing.Reset()
	for {
		select {
		case <-inst.completions:
			continue
		default:
		}
		break
	}
	recvReleased = inst.reg.idle()
	inst.recvReap.Unlock()

	// Release one slot per discarded transfer and per unreclaimed tag. An
	// Enqueue between acquiring its slot and mounting keeps its slot.
	inst.sendReap.Lock()
	for _, desc := range inst.sendRing.Reset() {
		item := desc.Cookie.(*sendItem)
		if item.done != nil {
			item.err = fmt.Errorf("%w: transfer discarded by reset", pkg.ErrCancelled)
			close(item.done)
		}
		inst.releaseSlot()
		sendDropped++
	}
	for {
		select {
		case <-inst.finished:
			inst.releaseSlot()
			continue
		default:
		}
		break
	}
	inst.sendReap.Unlock()
	return recvReleased, sendDropped
}

// isr is the controller interrupt handler bound to one instance.
type isr struct {
	inst *instance
}

// Interrupt implements hal.InterruptHandler.
func (i *isr) Interrupt(status hal.IntrStatus) {
	inst := i.inst
	inst.metrics.interrupts.Inc(1)
	if !inst.polling() {
		if status.Has(hal.IntrRecvDone) {
			inst.reapRecv()
		}
		if status.Has(hal.IntrSendDone) {
			inst.reapSend()
		}
	}
	if bits := status.HostBits(); bits != 0 {
		inst.host.deliver(bits, inst.metrics)
	}
}
