package slave

import (
	"context"
	"fmt"
	"time"

	"github.com/ardnew/softsdio/dma"
	"github.com/ardnew/softsdio/pkg"
)

// RegisterBuffer adds buf to the receive buffer table and returns its handle.
//
// buf must be DMA capable and at least Config.RecvBufferSize bytes long; the
// driver uses exactly RecvBufferSize bytes of it. The buffer starts Idle and
// is owned by the caller until LoadBuffer.
func (d *Driver) RegisterBuffer(buf []byte) (Handle, error) {
	inst, err := d.active()
	if err != nil {
		return Handle{}, err
	}
	if !d.hal.DMACapable(buf) {
		return Handle{}, fmt.Errorf("%w: buffer is not DMA capable", pkg.ErrInvalidArgument)
	}
	h, err := inst.reg.register(buf)
	if err != nil {
		return Handle{}, err
	}
	pkg.LogDebug(pkg.ComponentRegistry, "buffer registered", "handle", h.String())
	return h, nil
}

// UnregisterBuffer releases an Idle buffer. The handle never resolves again.
func (d *Driver) UnregisterBuffer(h Handle) error {
	inst, err := d.active()
	if err != nil {
		return err
	}
	if err := inst.reg.unregister(h); err != nil {
		return err
	}
	pkg.LogDebug(pkg.ComponentRegistry, "buffer unregistered", "handle", h.String())
	return nil
}

// BufferState returns the state of the buffer h refers to. Unknown and
// stale handles report BufferUnregistered.
func (d *Driver) BufferState(h Handle) BufferState {
	inst, err := d.active()
	if err != nil {
		return BufferUnregistered
	}
	return inst.reg.state(h)
}

// GetBuffer returns the bytes of h's last completion, or its whole capacity
// if it has never been filled.
func (d *Driver) GetBuffer(h Handle) ([]byte, error) {
	inst, err := d.active()
	if err != nil {
		return nil, err
	}
	return inst.reg.resolve(h)
}

// LoadBuffer hands an Idle buffer to the DMA engine for the host to fill.
// Each loaded buffer adds one receive token visible to the host.
func (d *Driver) LoadBuffer(h Handle) error {
	inst, err := d.active()
	if err != nil {
		return err
	}
	buf, err := inst.reg.queue(h)
	if err != nil {
		return err
	}
	if err := inst.recvRing.Mount(dma.Descriptor{Buf: buf, Length: len(buf), Cookie: h}); err != nil {
		inst.reg.unqueue(h)
		return fmt.Errorf("load %s: %w", h, err)
	}
	inst.metrics.recvLoaded.Inc(1)
	return nil
}

// ReceivePacket waits for the next filled buffer.
//
// more is true when the buffer is an interior segment of a packet spanning
// several buffers; keep calling until more is false to reach the end of the
// packet. Buffers of one packet arrive in fill order. The returned buffer is
// Idle and owned by the caller; read it with GetBuffer and hand it back with
// LoadBuffer.
//
// With no deadline on ctx the call waits indefinitely. An expired deadline
// still returns a completion that is already available, and otherwise
// [pkg.ErrTimeout].
func (d *Driver) ReceivePacket(ctx context.Context) (h Handle, more bool, err error) {
	inst, err := d.active()
	if err != nil {
		return Handle{}, false, err
	}
	for {
		h, err = inst.nextCompletion(ctx)
		if err != nil {
			return Handle{}, false, err
		}
		_, eof, err := inst.reg.deliver(h)
		if err != nil {
			// Dropped by a reset after it was queued.
			continue
		}
		return h, !eof, nil
	}
}

// ReceiveSimple waits for the next filled buffer and returns its data,
// ignoring packet boundaries.
func (d *Driver) ReceiveSimple(ctx context.Context) (Handle, []byte, error) {
	inst, err := d.active()
	if err != nil {
		return Handle{}, nil, err
	}
	for {
		h, err := inst.nextCompletion(ctx)
		if err != nil {
			return Handle{}, nil, err
		}
		data, _, err := inst.reg.deliver(h)
		if err != nil {
			continue
		}
		return h, data, nil
	}
}

func (inst *instance) nextCompletion(ctx context.Context) (Handle, error) {
	if inst.polling() {
		inst.reapRecv()
	}
	select {
	case h := <-inst.completions:
		return h, nil
	default:
	}

	var tick <-chan time.Time
	if inst.polling() {
		t := inst.clock.Ticker(inst.config.PollInterval)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case h := <-inst.completions:
			return h, nil
		case <-tick:
			inst.reapRecv()
		case <-ctx.Done():
			return Handle{}, pkg.ContextError(ctx)
		case <-inst.closed:
			return Handle{}, errClosed
		}
	}
}

// reapRecv moves every completed head descriptor of the receive ring into
// the completion queue. Both the interrupt and polling paths call it.
func (inst *instance) reapRecv() {
	inst.recvReap.Lock()
	defer inst.recvReap.Unlock()
	for {
		desc, ok := inst.recvRing.Reap()
		if !ok {
			return
		}
		h := desc.Cookie.(Handle)
		if !inst.reg.complete(h, desc.Length, desc.EOF) {
			continue
		}
		select {
		case inst.completions <- h:
		default:
			// Capacity equals the buffer table size, and a handle is queued
			// at most once.
			pkg.LogError(pkg.ComponentRecv, "completion queue overflow", "handle", h.String())
			continue
		}
		inst.metrics.recvBuffers.Inc(1)
		inst.metrics.recvBytes.Inc(int64(desc.Length))
		if desc.EOF {
			inst.metrics.recvPackets.Inc(1)
		}
	}
}
