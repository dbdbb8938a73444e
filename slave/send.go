package slave

import (
	"context"
	"fmt"
	"time"

	"github.com/ardnew/softsdio/dma"
	"github.com/ardnew/softsdio/pkg"
)

// sendItem is the cookie mounted with each send descriptor.
type sendItem struct {
	tag any

	// done is closed when a Transmit transfer finishes or is discarded.
	// It is nil for Enqueue transfers, whose tags go to the finished queue.
	done chan struct{}
	err  error
}

// Enqueue queues buf for the host to read and returns once it is queued.
//
// The driver owns buf until its tag comes back from ReclaimFinished; the
// caller must not modify it before then. Every successful Enqueue must be
// matched by one ReclaimFinished, which releases its queue slot. When all
// Config.SendQueueSize slots are taken, Enqueue waits for one to free and
// fails with [pkg.ErrTimeout] if ctx expires first.
func (d *Driver) Enqueue(ctx context.Context, buf []byte, tag any) error {
	inst, err := d.active()
	if err != nil {
		return err
	}
	return inst.enqueue(ctx, &sendItem{tag: tag}, buf)
}

// ReclaimFinished waits for the next finished transfer and returns the tag
// it was enqueued with. Tags are returned in enqueue order.
func (d *Driver) ReclaimFinished(ctx context.Context) (any, error) {
	inst, err := d.active()
	if err != nil {
		return nil, err
	}
	tag, err := inst.nextFinished(ctx)
	if err != nil {
		return nil, err
	}
	inst.releaseSlot()
	return tag, nil
}

// Transmit queues buf and waits until the host has read it.
//
// The transfer does not pass through the finished queue, so Transmit can be
// mixed with Enqueue and ReclaimFinished. If ctx expires before the host
// reads the data, Transmit returns [pkg.ErrTimeout] and the transfer stays
// queued; its slot is released when the host finally reads it. buf must not
// be modified until then.
func (d *Driver) Transmit(ctx context.Context, buf []byte) error {
	inst, err := d.active()
	if err != nil {
		return err
	}
	item := &sendItem{done: make(chan struct{})}
	if err := inst.enqueue(ctx, item, buf); err != nil {
		return err
	}

	if inst.polling() {
		inst.reapSend()
	}
	select {
	case <-item.done:
		return item.err
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
		case <-item.done:
			return item.err
		case <-tick:
			inst.reapSend()
		case <-ctx.Done():
			return pkg.ContextError(ctx)
		case <-inst.closed:
			return errClosed
		}
	}
}

func (inst *instance) enqueue(ctx context.Context, item *sendItem, buf []byte) error {
	switch {
	case len(buf) == 0:
		return fmt.Errorf("%w: empty send buffer", pkg.ErrInvalidArgument)
	case len(buf) > MaxTransferSize:
		return fmt.Errorf("%w: send buffer of %d bytes exceeds %d",
			pkg.ErrInvalidArgument, len(buf), MaxTransferSize)
	}

	if err := inst.acquireSlot(ctx); err != nil {
		return err
	}
	desc := dma.Descriptor{Buf: buf, Length: len(buf), Cookie: item}
	if err := inst.sendRing.Mount(desc); err != nil {
		inst.releaseSlot()
		return fmt.Errorf("enqueue: %w", err)
	}
	inst.metrics.sendQueued.Inc(1)
	inst.metrics.sendDepth.Update(int64(len(inst.sendSlots)))
	return nil
}

func (inst *instance) acquireSlot(ctx context.Context) error {
	select {
	case inst.sendSlots <- struct{}{}:
		return nil
	default:
	}
	select {
	case inst.sendSlots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return pkg.ContextError(ctx)
	case <-inst.closed:
		return errClosed
	}
}

func (inst *instance) releaseSlot() {
	select {
	case <-inst.sendSlots:
	default:
	}
	inst.metrics.sendDepth.Update(int64(len(inst.sendSlots)))
}

func (inst *instance) nextFinished(ctx context.Context) (any, error) {
	if inst.polling() {
		inst.reapSend()
	}
	select {
	case tag := <-inst.finished:
		return tag, nil
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
		case tag := <-inst.finished:
			return tag, nil
		case <-tick:
			inst.reapSend()
		case <-ctx.Done():
			return nil, pkg.ContextError(ctx)
		case <-inst.closed:
			return nil, errClosed
		}
	}
}

// reapSend moves every transfer the host has read out of the send ring.
// Enqueue tags go to the finished queue; Transmit waiters are woken and
// their slots released here.
func (inst *instance) reapSend() {
	inst.sendReap.Lock()
	defer inst.sendReap.Unlock()
	for {
		desc, ok := inst.sendRing.Reap()
		if !ok {
			return
		}
		item := desc.Cookie.(*sendItem)
		inst.metrics.sendFinished.Inc(1)
		inst.metrics.sendBytes.Inc(int64(desc.Length))
		if item.done != nil {
			inst.releaseSlot()
			close(item.done)
			continue
		}
		select {
		case inst.finished <- item.tag:
		default:
			// Each finished tag still holds its slot, so the queue cannot
			// exceed the slot count.
			pkg.LogError(pkg.ComponentSend, "finished queue overflow")
		}
	}
}
