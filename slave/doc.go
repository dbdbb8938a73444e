// Package slave implements an SDIO slave driver: the buffer ownership,
// queueing, and interrupt protocol between application code, a DMA engine,
// and an external SDIO host.
//
// It is platform-agnostic and reaches the controller through the
// [hal.SlaveHAL] interface defined in [github.com/ardnew/softsdio/slave/hal].
// The HAL owns clocks, pins, descriptor registers, and the interrupt line;
// the driver owns the [dma.Ring]s it hands to the HAL and everything built on
// top of them.
//
// # Architecture
//
// A [Driver] is organized into four parts sharing one interrupt handler:
//
//   - Buffer registry: receive buffers registered by the application,
//     addressed by generation-checked [Handle]s
//   - Receive pipeline: loads buffers into the receive ring and returns them,
//     with packet boundaries, as the host fills them
//   - Send pipeline: a bounded queue of outgoing buffers with tagged
//     completions
//   - Host bridge: the shared register block and general-purpose interrupts
//     in both directions
//
// # Buffer States
//
// Every registered receive buffer is in exactly one state:
//
//	Idle ──LoadBuffer──► Queued ──host write──► Completed ──ReceivePacket──► Idle
//
// Idle buffers belong to the application. Queued and Completed buffers
// belong to the driver and must not be touched until ReceivePacket hands
// them back.
//
// # Packets
//
// A host write larger than Config.RecvBufferSize spans several buffers. All
// but the last are full and are returned with more set:
//
//	for {
//	    h, more, err := drv.ReceivePacket(ctx)
//	    if err != nil {
//	        return err
//	    }
//	    data, _ := drv.GetBuffer(h)
//	    pkt = append(pkt, data...)
//	    drv.LoadBuffer(h)
//	    if !more {
//	        break
//	    }
//	}
//
// # Blocking and Timeouts
//
// ReceivePacket, ReceiveSimple, Enqueue, ReclaimFinished, Transmit, and
// WaitInterrupt block only the calling goroutine. A context deadline maps to
// [pkg.ErrTimeout] and cancellation to [pkg.ErrCancelled]. A context without a
// deadline waits forever.
//
// # Completion Detection
//
// With [CompletionInterrupt] the HAL's interrupt reaps finished descriptors.
// With [CompletionPoll] blocked callers reap the rings themselves every
// Config.PollInterval. Both paths walk the same ring cursor, so each
// completion is delivered once.
//
// An in-memory controller for tests is available in
// [github.com/ardnew/softsdio/slave/hal/sim].
package slave
