// Package fifo implements a FIFO-based SDIO slave HAL using named pipes.
//
// The controller itself is the in-memory simulator from
// [github.com/ardnew/softsdio/slave/hal/sim]; this package exposes its bus
// host side to another process so a host program and a slave program can be
// tested against each other without hardware.
//
// # Architecture
//
// Each slave instance creates a unique subdirectory under a shared bus
// directory:
//
//	/tmp/sdio-bus/                   # Bus directory (shared with host)
//	└── slave-{uuid}/                # Slave subdirectory (unique per slave)
//	    ├── host_to_slave            # Commands from host
//	    ├── slave_to_host            # Responses to host
//	    └── interrupts               # Interrupt line assertions (slave → host)
//
// # Protocol
//
// Every message is framed as [type, len_lo, len_hi, payload...]. The host
// writes one command and reads exactly one response ([MsgAck], [MsgData], or
// [MsgStatus] carrying a [pkg.Status]). Packet writes and reads carry a
// 2-byte millisecond wait bound so the slave answers before the host gives
// up.
//
// # Usage
//
//	ctrl := fifo.New("/tmp/sdio-bus")
//	drv := slave.NewDriver(ctrl)
//	drv.Initialize(ctx, cfg)
//	drv.Start()
//
//	fmt.Printf("Slave directory: %s\n", ctrl.SlaveDir())
//
// The host process uses [github.com/ardnew/softsdio/host/fifo] with the same
// bus directory.
package fifo
