// Package dma models the descriptor rings an SDIO slave controller walks to
// move data between host transactions and application memory.
//
// A [Ring] is a fixed array of [Descriptor]s with an ownership bit. The
// driver mounts buffers (ownership passes to the DMA engine), the engine
// claims and completes them (ownership returns to the CPU with a length and
// an EOF mark), and the driver reaps completed descriptors in mount order.
//
//	driver: Mount ──► engine: Claim ──► engine: Complete ──► driver: Reap
//
// The same ring type serves both directions: on receive the engine writes
// into the mounted buffer and sets Length; on send the driver sets Length and
// the engine reads it.
package dma
