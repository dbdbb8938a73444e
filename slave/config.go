package slave

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/ardnew/softsdio/pkg"
)

// DefaultPollInterval is the completion polling period used when
// Config.Completion is CompletionPoll and no interval is given.
const DefaultPollInterval = time.Millisecond

// Config controls how the driver and controller are initialized.
type Config struct {
	// Timing selects the bus send/sample edges.
	Timing Timing `yaml:"timing"`
	// SendingMode selects stream or packet presentation of send buffers.
	SendingMode SendingMode `yaml:"sending_mode"`
	// SendQueueSize is the number of transfers that may be queued before
	// Enqueue blocks.
	SendQueueSize int `yaml:"send_queue_size"`
	// RecvBufferSize is the number of bytes the engine writes into each
	// receive buffer. Host and slave agree on it before communicating.
	RecvBufferSize int `yaml:"recv_buffer_size"`
	// RecvBufferCount is the number of receive buffers that may be
	// registered at once.
	RecvBufferCount int `yaml:"recv_buffer_count"`
	// Flags enables optional controller features.
	Flags Flag `yaml:"flags"`
	// Completion selects interrupt or polled completion detection.
	Completion CompletionMode `yaml:"completion"`
	// PollInterval is the reap period in CompletionPoll mode.
	PollInterval time.Duration `yaml:"poll_interval"`
	// WritableRegisters lists the addresses WriteRegister accepts. The
	// interrupt vector is always excluded. Zero means every general-purpose
	// register.
	WritableRegisters RegisterSet `yaml:"writable_registers"`
	// EventQueueSize is the capacity of the host interrupt event channel.
	EventQueueSize int `yaml:"event_queue_size"`
}

// ValidateAndSetDefaults fills zero fields with defaults and checks ranges.
// Sizes beyond the driver limits fail with [pkg.ErrNoMemory]; malformed
// values fail with [pkg.ErrInvalidArgument].
func (c *Config) ValidateAndSetDefaults() error {
	if c.SendQueueSize == 0 {
		c.SendQueueSize = DefaultSendQueueSize
	}
	if c.RecvBufferSize == 0 {
		c.RecvBufferSize = DefaultRecvBufferSize
	}
	if c.RecvBufferCount == 0 {
		c.RecvBufferCount = DefaultRecvBufferCount
	}
	if c.EventQueueSize == 0 {
		c.EventQueueSize = DefaultEventQueueSize
	}
	if c.Completion == CompletionPoll && c.PollInterval == 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.WritableRegisters == 0 {
		c.WritableRegisters = GeneralPurposeRegisters
	}
	c.WritableRegisters &= GeneralPurposeRegisters

	switch {
	case c.SendQueueSize < 0:
		return fmt.Errorf("%w: send_queue_size %d", pkg.ErrInvalidArgument, c.SendQueueSize)
	case c.RecvBufferSize < 0 || c.RecvBufferSize > MaxBufferSize:
		return fmt.Errorf("%w: recv_buffer_size %d (max %d)",
			pkg.ErrInvalidArgument, c.RecvBufferSize, MaxBufferSize)
	case c.RecvBufferCount < 0:
		return fmt.Errorf("%w: recv_buffer_count %d", pkg.ErrInvalidArgument, c.RecvBufferCount)
	case c.EventQueueSize < 0:
		return fmt.Errorf("%w: event_queue_size %d", pkg.ErrInvalidArgument, c.EventQueueSize)
	case c.PollInterval < 0:
		return fmt.Errorf("%w: poll_interval %s", pkg.ErrInvalidArgument, c.PollInterval)
	case c.Timing > TimingNSendNSample:
		return fmt.Errorf("%w: %s", pkg.ErrInvalidArgument, c.Timing)
	case c.SendingMode > ModePacket:
		return fmt.Errorf("%w: %s", pkg.ErrInvalidArgument, c.SendingMode)
	case c.Completion > CompletionPoll:
		return fmt.Errorf("%w: %s", pkg.ErrInvalidArgument, c.Completion)
	case c.SendQueueSize > MaxSendQueueSize:
		return fmt.Errorf("%w: send_queue_size %d (max %d)",
			pkg.ErrNoMemory, c.SendQueueSize, MaxSendQueueSize)
	case c.RecvBufferCount > MaxRecvBuffers:
		return fmt.Errorf("%w: recv_buffer_count %d (max %d)",
			pkg.ErrNoMemory, c.RecvBufferCount, MaxRecvBuffers)
	}
	return nil
}

// ParseConfig decodes a YAML driver configuration and applies defaults.
func ParseConfig(data []byte) (Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("%w: %v", pkg.ErrInvalidArgument, err)
	}
	if err := c.ValidateAndSetDefaults(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// UnmarshalYAML decodes a timing name.
func (t *Timing) UnmarshalYAML(value *yaml.Node) error {
	v, err := ParseTiming(value.Value)
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// MarshalYAML encodes the timing name.
func (t Timing) MarshalYAML() (any, error) {
	return t.String(), nil
}

// UnmarshalYAML decodes a sending mode name.
func (m *SendingMode) UnmarshalYAML(value *yaml.Node) error {
	v, err := ParseSendingMode(value.Value)
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// MarshalYAML encodes the sending mode name.
func (m SendingMode) MarshalYAML() (any, error) {
	return m.String(), nil
}

// UnmarshalYAML decodes a completion mode name.
func (m *CompletionMode) UnmarshalYAML(value *yaml.Node) error {
	v, err := ParseCompletionMode(value.Value)
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// MarshalYAML encodes the completion mode name.
func (m CompletionMode) MarshalYAML() (any, error) {
	return m.String(), nil
}

// UnmarshalYAML decodes a list of flag names, or a single name.
func (f *Flag) UnmarshalYAML(value *yaml.Node) error {
	var names []string
	switch value.Kind {
	case yaml.ScalarNode:
		names = []string{value.Value}
	case yaml.SequenceNode:
		if err := value.Decode(&names); err != nil {
			return err
		}
	default:
		return fmt.Errorf("line %d: flags must be a name or list of names", value.Line)
	}
	var out Flag
	for _, name := range names {
		v, err := ParseFlag(name)
		if err != nil {
			return err
		}
		out |= v
	}
	*f = out
	return nil
}

// UnmarshalYAML decodes a register set.
//
// Accepted forms are the names "general" and "strict", or a list whose
// entries are single addresses or inclusive "first-last" ranges:
//
//	writable_registers: [0-11, 14-15, 32-63]
func (s *RegisterSet) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		switch strings.ToLower(value.Value) {
		case "general":
			*s = GeneralPurposeRegisters
			return nil
		case "strict":
			*s = StrictWritableRegisters
			return nil
		}
		return fmt.Errorf("line %d: unknown register set %q", value.Line, value.Value)
	}
	var entries []string
	if err := value.Decode(&entries); err != nil {
		return err
	}
	var out RegisterSet
	for _, e := range entries {
		first, last, err := parseRegisterRange(e)
		if err != nil {
			return fmt.Errorf("line %d: %w", value.Line, err)
		}
		out |= RegisterRange(first, last)
	}
	*s = out
	return nil
}

func parseRegisterRange(e string) (int, int, error) {
	lo, hi, isRange := strings.Cut(strings.TrimSpace(e), "-")
	first, err := strconv.Atoi(strings.TrimSpace(lo))
	if err != nil {
		return 0, 0, fmt.Errorf("register %q: %w", e, err)
	}
	last := first
	if isRange {
		if last, err = strconv.Atoi(strings.TrimSpace(hi)); err != nil {
			return 0, 0, fmt.Errorf("register %q: %w", e, err)
		}
	}
	if first < 0 || last < first || last >= 64 {
		return 0, 0, fmt.Errorf("register range %q out of bounds", e)
	}
	return first, last, nil
}
