// Package sim implements an in-memory SDIO slave controller for testing.
//
// A [HAL] plays the DMA engine behind the driver's descriptor rings and, via
// [HAL.Host], the SDIO host on the other end of the bus. Host writes fill
// loaded receive buffers and host reads drain queued send buffers, raising
// the same completion interrupts a real controller would.
//
// # Usage
//
//	ctrl := sim.New()
//	drv := slave.NewDriver(ctrl)
//	drv.Initialize(ctx, slave.Config{})
//	drv.Start()
//
//	// Host side
//	ctrl.Host().WritePacket(ctx, []byte("hello"))
//	data, _ := ctrl.Host().ReadPacket(ctx)
//
// Interrupts are delivered from a goroutine owned by the HAL, so tests
// observe completions asynchronously, as they would on hardware.
package sim
