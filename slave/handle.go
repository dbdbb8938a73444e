package slave

import "fmt"

// Handle identifies a registered receive buffer.
//
// A Handle is an index into the driver's buffer table plus the generation
// of that table slot. Releasing a buffer bumps the slot generation, so a
// handle kept past UnregisterBuffer never resolves again, even after the
// slot is reused. The zero Handle is never valid.
type Handle struct {
	index uint32
	gen   uint32
}

// IsZero reports whether h is the zero Handle.
func (h Handle) IsZero() bool {
	return h.gen == 0
}

// String returns a compact "index.generation" form for logs.
func (h Handle) String() string {
	if h.IsZero() {
		return "nil"
	}
	return fmt.Sprintf("%d.%d", h.index, h.gen)
}
