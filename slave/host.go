package slave

import (
	"context"
	"fmt"
	"sync"

	"github.com/ardnew/softsdio/pkg"
	"github.com/ardnew/softsdio/slave/hal"
)

// hostBridge tracks the general-purpose interrupts raised by the host.
type hostBridge struct {
	mutex   sync.Mutex
	pending uint8

	// signal[n] is poked whenever bit n is delivered. Waiters re-check
	// pending after a poke, so a coalesced or stale poke is harmless.
	signal [hal.NumHostInterrupts]chan struct{}
	events chan uint8
}

func newHostBridge(eventQueue int) *hostBridge {
	b := &hostBridge{events: make(chan uint8, eventQueue)}
	for i := range b.signal {
		b.signal[i] = make(chan struct{}, 1)
	}
	return b
}

// deliver latches host interrupt bits from the interrupt path. Bits are
// pending before any event or signal for them is published.
func (b *hostBridge) deliver(bits uint8, m *driverMetrics) {
	b.mutex.Lock()
	b.pending |= bits
	b.mutex.Unlock()

	for n := range uint8(hal.NumHostInterrupts) {
		if bits&(1<<n) == 0 {
			continue
		}
		m.hostInterrupts.Inc(1)
		select {
		case b.events <- n:
		default:
			m.eventsDropped.Inc(1)
		}
		select {
		case b.signal[n] <- struct{}{}:
		default:
		}
	}
}

// take clears bit n if it is pending and reports whether it was.
func (b *hostBridge) take(n uint8) bool {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if b.pending&(1<<n) == 0 {
		return false
	}
	b.pending &^= 1 << n
	return true
}

func (b *hostBridge) wait(ctx context.Context, n uint8, closed <-chan struct{}) error {
	for {
		if b.take(n) {
			return nil
		}
		select {
		case <-b.signal[n]:
		case <-ctx.Done():
			// A raise racing the deadline still counts.
			if b.take(n) {
				return nil
			}
			return pkg.ContextError(ctx)
		case <-closed:
			return errClosed
		}
	}
}

func readableRegister(addr int) bool {
	return addr >= 0 && addr < hal.NumRegisters &&
		(addr < hal.IntVectorFirst || addr > hal.IntVectorLast)
}

// ReadRegister returns the shared register at addr. Addresses 0-27 and 32-63
// are general purpose; the interrupt vector 28-31 is rejected.
func (d *Driver) ReadRegister(addr int) (byte, error) {
	if _, err := d.active(); err != nil {
		return 0, err
	}
	if !readableRegister(addr) {
		return 0, fmt.Errorf("%w: register address %d", pkg.ErrInvalidArgument, addr)
	}
	return d.hal.ReadRegister(addr), nil
}

// WriteRegister stores v in the shared register at addr. Only addresses in
// Config.WritableRegisters are accepted.
func (d *Driver) WriteRegister(addr int, v byte) error {
	inst, err := d.active()
	if err != nil {
		return err
	}
	if !inst.config.WritableRegisters.Contains(addr) {
		return fmt.Errorf("%w: register address %d is not writable", pkg.ErrInvalidArgument, addr)
	}
	d.hal.WriteRegister(addr, v)
	return nil
}

// HostInterruptEnable returns the mask of slave-to-host interrupts that
// assert the interrupt line.
func (d *Driver) HostInterruptEnable() (HostInt, error) {
	if _, err := d.active(); err != nil {
		return 0, err
	}
	return HostInt(d.hal.HostInterruptEnable()), nil
}

// SetHostInterruptEnable replaces the slave-to-host interrupt enable mask.
func (d *Driver) SetHostInterruptEnable(mask HostInt) error {
	if _, err := d.active(); err != nil {
		return err
	}
	d.hal.SetHostInterruptEnable(uint8(mask))
	return nil
}

// SendHostInterrupt raises general-purpose interrupt bit (0-7) toward the
// host.
func (d *Driver) SendHostInterrupt(bit int) error {
	if _, err := d.active(); err != nil {
		return err
	}
	if bit < 0 || bit >= hal.NumHostInterrupts {
		return fmt.Errorf("%w: interrupt bit %d", pkg.ErrInvalidArgument, bit)
	}
	d.hal.RaiseHostInterrupt(1 << uint(bit))
	pkg.LogDebug(pkg.ComponentHost, "interrupt sent", "bit", bit)
	return nil
}

// ClearHostInterrupt withdraws slave-to-host interrupts the host has not
// yet cleared.
func (d *Driver) ClearHostInterrupt(mask HostInt) error {
	if _, err := d.active(); err != nil {
		return err
	}
	d.hal.ClearHostInterrupt(uint8(mask))
	return nil
}

// WaitInterrupt waits until the host raises general-purpose interrupt bit
// (0-7), then clears it. A bit the host raised once satisfies exactly one
// WaitInterrupt.
func (d *Driver) WaitInterrupt(ctx context.Context, bit int) error {
	inst, err := d.active()
	if err != nil {
		return err
	}
	if bit < 0 || bit >= hal.NumHostInterrupts {
		return fmt.Errorf("%w: interrupt bit %d", pkg.ErrInvalidArgument, bit)
	}
	return inst.host.wait(ctx, uint8(bit), inst.closed)
}

// Events returns the channel on which host interrupt numbers are published
// as they arrive. Events are dropped, and counted in the driver metrics,
// when the channel is full. The channel belongs to the current
// initialization; it is nil while the driver is uninitialized.
func (d *Driver) Events() <-chan uint8 {
	inst, err := d.active()
	if err != nil {
		return nil
	}
	return inst.host.events
}
