// Package fifo implements the SDIO host side of the named-pipe transport
// served by [github.com/ardnew/softsdio/slave/hal/fifo].
//
// A [Client] plays the bus host: it writes packets into the slave's loaded
// receive buffers, reads packets the slave has queued, accesses the shared
// register block, and exchanges general-purpose interrupts.
//
// # Usage
//
//	c, err := fifo.Dial(ctx, "/tmp/sdio-bus")
//	if err != nil {
//	    return err
//	}
//	defer c.Close()
//
//	if err := c.WritePacket(ctx, []byte("ping")); err != nil {
//	    return err
//	}
//	reply, err := c.ReadPacket(ctx)
//
// Dial polls the bus directory until a slave-{uuid} subdirectory appears, so
// host and slave processes may start in either order.
package fifo
