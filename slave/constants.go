package slave

import (
	"fmt"
	"strings"

	"github.com/ardnew/softsdio/slave/hal"
)

// Driver limits.
const (
	// MaxTransferSize is the largest single send transfer: a 4096-byte DMA
	// block minus the 4-byte header reserved by the framing scheme.
	MaxTransferSize = 4096 - 4

	// MaxBufferSize is the largest receive buffer size the engine can fill.
	MaxBufferSize = MaxTransferSize

	// MaxSendQueueSize bounds Config.SendQueueSize.
	MaxSendQueueSize = 256

	// MaxRecvBuffers bounds Config.RecvBufferCount.
	MaxRecvBuffers = 256

	// DMAAlignment is the required alignment of DMA buffers in bytes.
	DMAAlignment = 4
)

// Configuration defaults.
const (
	DefaultSendQueueSize   = 4
	DefaultRecvBufferSize  = 512
	DefaultRecvBufferCount = 16
	DefaultEventQueueSize  = 16
)

// State is the driver lifecycle state.
type State uint8

// Driver lifecycle states.
const (
	StateUninitialized State = iota // No resources held
	StateStopped                    // Initialized, hardware halted
	StateRunning                    // Initialized, hardware active
)

// String returns a human-readable state description.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "Uninitialized"
	case StateStopped:
		return "Stopped"
	case StateRunning:
		return "Running"
	default:
		return fmt.Sprintf("Unknown State (%d)", s)
	}
}

// Timing selects the clock edges used to send and sample data.
type Timing uint8

// Bus timings.
const (
	TimingPSendPSample Timing = iota // Send at posedge, sample at posedge (default)
	TimingNSendPSample               // Send at negedge, sample at posedge
	TimingPSendNSample               // Send at posedge, sample at negedge
	TimingNSendNSample               // Send at negedge, sample at negedge
)

var timingNames = [...]string{
	TimingPSendPSample: "psend_psample",
	TimingNSendPSample: "nsend_psample",
	TimingPSendNSample: "psend_nsample",
	TimingNSendNSample: "nsend_nsample",
}

// String returns the configuration name of the timing.
func (t Timing) String() string {
	if int(t) < len(timingNames) {
		return timingNames[t]
	}
	return fmt.Sprintf("timing(%d)", t)
}

// ParseTiming parses a timing configuration name.
func ParseTiming(s string) (Timing, error) {
	for i, name := range timingNames {
		if strings.EqualFold(s, name) {
			return Timing(i), nil
		}
	}
	return 0, fmt.Errorf("unknown timing %q", s)
}

// SendingMode selects how queued send buffers are presented to the host.
type SendingMode uint8

// Sending modes.
const (
	// ModeStream lets one host read drain every queued buffer.
	ModeStream SendingMode = iota
	// ModePacket presents each queued buffer as its own packet.
	ModePacket
)

// String returns the configuration name of the mode.
func (m SendingMode) String() string {
	switch m {
	case ModeStream:
		return "stream"
	case ModePacket:
		return "packet"
	default:
		return fmt.Sprintf("mode(%d)", m)
	}
}

// ParseSendingMode parses a sending mode configuration name.
func ParseSendingMode(s string) (SendingMode, error) {
	switch strings.ToLower(s) {
	case "stream":
		return ModeStream, nil
	case "packet":
		return ModePacket, nil
	default:
		return 0, fmt.Errorf("unknown sending mode %q", s)
	}
}

// CompletionMode selects how DMA completions are detected.
type CompletionMode uint8

// Completion detection modes.
const (
	CompletionInterrupt CompletionMode = iota // Reap on controller interrupt
	CompletionPoll                            // Reap while waiting, on a ticker
)

// String returns the configuration name of the mode.
func (m CompletionMode) String() string {
	switch m {
	case CompletionInterrupt:
		return "interrupt"
	case CompletionPoll:
		return "poll"
	default:
		return fmt.Sprintf("completion(%d)", m)
	}
}

// ParseCompletionMode parses a completion mode configuration name.
func ParseCompletionMode(s string) (CompletionMode, error) {
	switch strings.ToLower(s) {
	case "interrupt":
		return CompletionInterrupt, nil
	case "poll":
		return CompletionPoll, nil
	default:
		return 0, fmt.Errorf("unknown completion mode %q", s)
	}
}

// Flag enables optional controller features.
type Flag uint32

// Feature flags.
const (
	// FlagDAT2Disabled frees the DAT2 pin in 1-bit mode.
	FlagDAT2Disabled Flag = 1 << iota
	// FlagHostIntrDisabled frees the DAT1 pin; the host must poll the
	// interrupt registers instead of watching the interrupt line.
	FlagHostIntrDisabled
	// FlagInternalPullup enables internal pull-ups on the bus pins.
	FlagInternalPullup
	// FlagDefaultSpeed disables high-speed support.
	FlagDefaultSpeed

	// FlagHighSpeed is the default: high-speed support advertised.
	FlagHighSpeed Flag = 0
)

var flagNames = []struct {
	flag Flag
	name string
}{
	{FlagDAT2Disabled, "dat2_disabled"},
	{FlagHostIntrDisabled, "host_intr_disabled"},
	{FlagInternalPullup, "internal_pullup"},
	{FlagDefaultSpeed, "default_speed"},
}

// Has reports whether every bit of f2 is set in f.
func (f Flag) Has(f2 Flag) bool {
	return f&f2 == f2
}

// String returns the flag names joined by "|".
func (f Flag) String() string {
	if f == 0 {
		return "high_speed"
	}
	var names []string
	for _, fn := range flagNames {
		if f.Has(fn.flag) {
			names = append(names, fn.name)
		}
	}
	return strings.Join(names, "|")
}

// ParseFlag parses a single flag name.
func ParseFlag(s string) (Flag, error) {
	if strings.EqualFold(s, "high_speed") {
		return FlagHighSpeed, nil
	}
	for _, fn := range flagNames {
		if strings.EqualFold(s, fn.name) {
			return fn.flag, nil
		}
	}
	return 0, fmt.Errorf("unknown flag %q", s)
}

// HostInt is a mask of slave-to-host general-purpose interrupts.
type HostInt uint8

// Host interrupt bits.
const (
	HostInt0 HostInt = 1 << iota
	HostInt1
	HostInt2
	HostInt3
	HostInt4
	HostInt5
	HostInt6
	HostInt7
)

// RegisterSet is a bitmask of register addresses (bit N = address N).
type RegisterSet uint64

// Register sets.
const (
	// GeneralPurposeRegisters holds every address outside the interrupt vector.
	GeneralPurposeRegisters RegisterSet = ^RegisterSet(0) &^ (0xF << hal.IntVectorFirst)

	// StrictWritableRegisters is the narrower write whitelist: 0-11, 14-15,
	// 18-19, 24-27 and 32-63.
	StrictWritableRegisters RegisterSet = 0x0FFF | 0x3<<14 | 0x3<<18 | 0xF<<24 | 0xFFFFFFFF<<32
)

// Contains reports whether addr is in the set.
func (s RegisterSet) Contains(addr int) bool {
	return addr >= 0 && addr < hal.NumRegisters && s&(1<<uint(addr)) != 0
}

// RegisterRange returns a set containing addresses first..last inclusive.
func RegisterRange(first, last int) RegisterSet {
	var s RegisterSet
	for a := first; a <= last && a < hal.NumRegisters; a++ {
		if a >= 0 {
			s |= 1 << uint(a)
		}
	}
	return s
}
