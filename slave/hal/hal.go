package hal

import (
	"context"

	"github.com/ardnew/softsdio/dma"
)

// Register file layout shared with the host.
const (
	NumRegisters = 64 // Size of the host-visible register block

	// IntVectorFirst..IntVectorLast are reserved for the interrupt vector.
	IntVectorFirst = 28
	IntVectorLast  = 31
)

// NumHostInterrupts is the number of general-purpose interrupt lines in
// each direction between slave and host.
const NumHostInterrupts = 8

// IntrStatus is the interrupt status word a HAL delivers to the driver.
//
// The low byte carries the general-purpose interrupts raised by the host
// (bit N = interrupt N). The remaining bits report DMA completions.
type IntrStatus uint32

// Interrupt status bits.
const (
	IntrHostMask IntrStatus = 0xFF   // Host general-purpose interrupts 0-7
	IntrRecvDone IntrStatus = 1 << 8 // Receive descriptors completed
	IntrSendDone IntrStatus = 1 << 9 // Send descriptors completed
	IntrAll      IntrStatus = 0x3FF  // All defined bits
)

// HostBits returns the host general-purpose interrupt bits.
func (s IntrStatus) HostBits() uint8 {
	return uint8(s & IntrHostMask)
}

// Has reports whether every bit in mask is set.
func (s IntrStatus) Has(mask IntrStatus) bool {
	return s&mask == mask
}

// InterruptHandler receives interrupts from the controller.
//
// Interrupt is called from the HAL's own goroutine and must not block:
// implementations may only take short locks and perform non-blocking
// channel operations.
type InterruptHandler interface {
	Interrupt(status IntrStatus)
}

// Link is the hardware-visible state a driver hands to the HAL.
type Link struct {
	// Recv is the ring of buffers the engine fills with host writes.
	Recv *dma.Ring
	// Send is the ring of buffers the engine drains on host reads.
	Send *dma.Ring
	// Handler receives controller interrupts.
	Handler InterruptHandler
	// Stream lets the host drain every queued send buffer in one read.
	Stream bool
	// HostIntrLine asserts the physical interrupt line toward the host when
	// an enabled slave-to-host interrupt is raised.
	HostIntrLine bool
}

// SlaveHAL defines the Hardware Abstraction Layer interface for an SDIO
// slave controller and its DMA engine.
//
// Clock, pin, and descriptor-register programming live behind this
// interface; the driver only manipulates the rings it passes in [Link] and
// the register file exposed here.
type SlaveHAL interface {
	// Init binds the controller to a driver. It returns pkg.ErrNotFound if no
	// interrupt line can be allocated, which includes the line already being
	// held by another binding.
	Init(ctx context.Context, link Link) error

	// Start enables DMA and signals IO-ready to the host.
	Start() error

	// Stop halts DMA activity and clears IO-ready. Mounted descriptors stay
	// mounted.
	Stop() error

	// ResetHardware resets the controller's internal state machines.
	ResetHardware() error

	// Deinit releases the interrupt line and unbinds the driver.
	Deinit() error

	// DMACapable reports whether buf satisfies the engine's address and
	// alignment constraints.
	DMACapable(buf []byte) bool

	// Register file

	// ReadRegister returns the register at addr (0 <= addr < NumRegisters).
	ReadRegister(addr int) byte

	// WriteRegister stores v at addr (0 <= addr < NumRegisters).
	WriteRegister(addr int, v byte)

	// HostInterruptEnable returns the slave-to-host interrupt enable mask.
	HostInterruptEnable() uint8

	// SetHostInterruptEnable replaces the slave-to-host interrupt enable mask.
	SetHostInterruptEnable(mask uint8)

	// RaiseHostInterrupt latches the given slave-to-host interrupt bits.
	RaiseHostInterrupt(mask uint8)

	// ClearHostInterrupt clears the given slave-to-host interrupt bits.
	ClearHostInterrupt(mask uint8)
}
