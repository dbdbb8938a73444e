package sim

import (
	"context"
	"fmt"

	"github.com/ardnew/softsdio/dma"
	"github.com/ardnew/softsdio/pkg"
	"github.com/ardnew/softsdio/slave/hal"
)

// Host is the SDIO bus host side of a simulated controller.
//
// Writes and reads are each serialized, as on a real bus; a write and a read
// may run concurrently.
type Host struct {
	s      *HAL
	writer chan struct{}
	reader chan struct{}
}

func acquire(ctx context.Context, sem chan struct{}) error {
	select {
	case sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return pkg.ContextError(ctx)
	}
}

// WritePacket writes data to the slave as one packet.
//
// It waits until the slave has loaded enough receive buffers to hold the
// whole packet, then fills them in order and marks the last one EOF. It
// fails with [pkg.ErrNotRunning] while the slave is stopped.
func (h *Host) WritePacket(ctx context.Context, data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty packet", pkg.ErrInvalidArgument)
	}
	if err := acquire(ctx, h.writer); err != nil {
		return err
	}
	defer func() { <-h.writer }()

	for {
		link, changed, err := h.s.snapshot()
		if err != nil {
			return err
		}
		if link.Recv.ReadyBytes() >= len(data) {
			break
		}
		select {
		case <-link.Recv.Kick():
		case <-changed:
		case <-ctx.Done():
			return pkg.ContextError(ctx)
		}
	}

	h.s.mutex.Lock()
	if !h.s.running {
		h.s.mutex.Unlock()
		return pkg.ErrNotRunning
	}
	err := fill(h.s.link.Recv, data)
	h.s.mutex.Unlock()
	if err != nil {
		return err
	}
	h.s.raise(hal.IntrRecvDone)
	return nil
}

func fill(r *dma.Ring, data []byte) error {
	off := 0
	for off < len(data) {
		slot, ok := r.Claim()
		if !ok {
			return fmt.Errorf("%w: receive ring drained mid-packet", pkg.ErrBufferTooSmall)
		}
		n := copy(slot.Buf, data[off:])
		off += n
		if err := r.Complete(slot, n, off == len(data)); err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("%w: zero-capacity receive buffer", pkg.ErrBufferTooSmall)
		}
	}
	return nil
}

// ReadPacket reads queued send data from the slave.
//
// In packet mode it returns one queued buffer. In stream mode it returns the
// concatenation of every buffer queued at the time of the read. It waits
// until data is queued and fails with [pkg.ErrNotRunning] while the slave is
// stopped.
func (h *Host) ReadPacket(ctx context.Context) ([]byte, error) {
	if err := acquire(ctx, h.reader); err != nil {
		return nil, err
	}
	defer func() { <-h.reader }()

	for {
		link, changed, err := h.s.snapshot()
		if err != nil {
			return nil, err
		}
		if link.Send.Ready() > 0 {
			break
		}
		select {
		case <-link.Send.Kick():
		case <-changed:
		case <-ctx.Done():
			return nil, pkg.ContextError(ctx)
		}
	}

	h.s.mutex.Lock()
	if !h.s.running {
		h.s.mutex.Unlock()
		return nil, pkg.ErrNotRunning
	}
	data, err := drain(h.s.link.Send, h.s.link.Stream)
	h.s.mutex.Unlock()
	if err != nil {
		return nil, err
	}
	h.s.raise(hal.IntrSendDone)
	return data, nil
}

func drain(r *dma.Ring, stream bool) ([]byte, error) {
	var out []byte
	for {
		slot, ok := r.Claim()
		if !ok {
			return out, nil
		}
		out = append(out, slot.Buf[:slot.Length]...)
		if err := r.Complete(slot, slot.Length, true); err != nil {
			return nil, err
		}
		if !stream {
			return out, nil
		}
	}
}

// Tokens returns the number of receive buffers loaded and not yet written.
func (h *Host) Tokens() int {
	h.s.mutex.Lock()
	r := h.s.link.Recv
	h.s.mutex.Unlock()
	if r == nil {
		return 0
	}
	return r.Ready()
}

// PendingSendLength returns the number of queued bytes not yet read.
func (h *Host) PendingSendLength() int {
	h.s.mutex.Lock()
	r := h.s.link.Send
	h.s.mutex.Unlock()
	if r == nil {
		return 0
	}
	return r.ReadyBytes()
}

func checkRegister(addr int) error {
	if addr < 0 || addr >= hal.NumRegisters ||
		(addr >= hal.IntVectorFirst && addr <= hal.IntVectorLast) {
		return fmt.Errorf("%w: register address %d", pkg.ErrInvalidArgument, addr)
	}
	return nil
}

// ReadRegister reads a shared register.
func (h *Host) ReadRegister(addr int) (byte, error) {
	if err := checkRegister(addr); err != nil {
		return 0, err
	}
	return h.s.ReadRegister(addr), nil
}

// WriteRegister writes a shared register.
func (h *Host) WriteRegister(addr int, v byte) error {
	if err := checkRegister(addr); err != nil {
		return err
	}
	h.s.WriteRegister(addr, v)
	return nil
}

// RaiseInterrupt raises general-purpose interrupt bit (0-7) toward the slave.
func (h *Host) RaiseInterrupt(bit int) error {
	if bit < 0 || bit >= hal.NumHostInterrupts {
		return fmt.Errorf("%w: interrupt bit %d", pkg.ErrInvalidArgument, bit)
	}
	h.s.mutex.Lock()
	bound := h.s.bound
	h.s.mutex.Unlock()
	if !bound {
		return pkg.ErrNotRunning
	}
	h.s.raise(hal.IntrStatus(1) << uint(bit))
	return nil
}

// PendingInterrupts returns the slave-to-host interrupt bits raised and not
// yet cleared, regardless of the enable mask.
func (h *Host) PendingInterrupts() uint8 {
	h.s.mutex.Lock()
	defer h.s.mutex.Unlock()
	return h.s.hostRaw
}

// ClearInterrupts clears slave-to-host interrupt bits.
func (h *Host) ClearInterrupts(mask uint8) {
	h.s.ClearHostInterrupt(mask)
}

// WaitLine waits for the interrupt line to be asserted and returns the
// enabled pending bits. The line is asserted when an enabled slave-to-host
// interrupt is raised, or when a raised one is enabled. It fails with
// [pkg.ErrInvalidState] when the slave has disabled the line; the host must
// poll PendingInterrupts instead.
func (h *Host) WaitLine(ctx context.Context) (uint8, error) {
	for {
		h.s.mutex.Lock()
		if h.s.bound && !h.s.link.HostIntrLine {
			h.s.mutex.Unlock()
			return 0, fmt.Errorf("%w: interrupt line disabled", pkg.ErrInvalidState)
		}
		changed := h.s.changed
		h.s.mutex.Unlock()

		select {
		case <-h.s.hostLine:
			if bits := h.PendingInterrupts() & h.s.HostInterruptEnable(); bits != 0 {
				return bits, nil
			}
		case <-changed:
		case <-ctx.Done():
			return 0, pkg.ContextError(ctx)
		}
	}
}
