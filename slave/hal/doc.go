// Package hal defines the Hardware Abstraction Layer interface for SDIO
// slave controllers.
//
// The HAL sits between the driver in [github.com/ardnew/softsdio/slave] and
// the controller hardware. It owns everything the driver treats as an
// external collaborator: clock and pin setup, programming the DMA engine
// with the descriptor rings, the register block shared with the host, and
// the interrupt line.
//
// # Interface Overview
//
// The [SlaveHAL] interface covers:
//
//   - Lifecycle: Init, Start, Stop, ResetHardware, Deinit
//   - DMA policy: DMACapable
//   - Register file and slave-to-host interrupt vector
//
// The driver passes a [Link] to Init holding the receive and send
// [dma.Ring]s and an [InterruptHandler]. The controller fills receive
// descriptors and drains send descriptors, then reports completions and
// host-originated interrupts through the handler.
//
// # Implementing a HAL
//
//  1. Create a type that implements all [SlaveHAL] methods
//  2. In Init, program the engine with the rings and attach the interrupt
//  3. Deliver [IntrRecvDone] and [IntrSendDone] after completing descriptors
//  4. Deliver host general-purpose interrupts in the low byte of [IntrStatus]
//
// An in-memory controller for testing is available in
// [github.com/ardnew/softsdio/slave/hal/sim], and a named-pipe controller
// that serves a separate host process in
// [github.com/ardnew/softsdio/slave/hal/fifo].
package hal
