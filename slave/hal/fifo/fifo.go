package fifo

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/ardnew/softsdio/pkg"
	"github.com/ardnew/softsdio/slave/hal"
	"github.com/ardnew/softsdio/slave/hal/sim"
)

// HAL implements hal.SlaveHAL on top of a simulated controller whose bus
// host side is served over named pipes (FIFOs).
// Each HAL creates a unique subdirectory under the bus directory so several
// slaves can share one bus.
type HAL struct {
	*sim.HAL

	// Bus directory (root directory shared with hosts)
	busDir string

	// Slave subdirectory (busDir/slave-{uuid}/)
	slaveDir string
	id       string

	hostToSlave *os.File // Slave reads commands
	slaveToHost *os.File // Slave writes responses
	interrupts  *os.File // Slave writes line assertions

	mutex  sync.Mutex
	cancel context.CancelFunc
	group  *errgroup.Group
}

// Verify interface compliance at compile time.
var _ hal.SlaveHAL = (*HAL)(nil)

// New creates a FIFO-backed controller. The busDir parameter is the root
// directory shared with the host; the slave creates its own slave-{uuid}/
// subdirectory there on Init. Options configure the underlying simulator.
func New(busDir string, opts ...sim.Option) *HAL {
	return &HAL{
		HAL:    sim.New(opts...),
		busDir: busDir,
	}
}

// Init binds the controller, creates the slave directory and FIFOs, and
// starts serving host commands.
func (h *HAL) Init(ctx context.Context, link hal.Link) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if err := h.HAL.Init(ctx, link); err != nil {
		return err
	}
	if err := h.createFIFOs(); err != nil {
		return multierr.Combine(err, h.cleanup(), h.HAL.Deinit())
	}

	serveCtx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(serveCtx)
	g.Go(func() error { return h.serve(gctx) })
	g.Go(func() error { return h.forwardLine(gctx) })
	h.cancel = cancel
	h.group = g

	pkg.LogInfo(pkg.ComponentHAL, "fifo slave HAL initialized",
		"busDir", h.busDir,
		"slaveDir", h.slaveDir,
		"uuid", h.id)
	return nil
}

// Deinit stops serving, removes the slave directory, and unbinds the
// controller.
func (h *HAL) Deinit() error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	var err error
	if h.cancel != nil {
		h.cancel()
		if gerr := h.group.Wait(); gerr != nil && !errors.Is(gerr, context.Canceled) {
			err = multierr.Append(err, gerr)
		}
		h.cancel, h.group = nil, nil
	}
	err = multierr.Append(err, h.cleanup())
	err = multierr.Append(err, h.HAL.Deinit())
	pkg.LogInfo(pkg.ComponentHAL, "fifo slave HAL deinitialized")
	return err
}

// SlaveDir returns the slave subdirectory path.
func (h *HAL) SlaveDir() string {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return h.slaveDir
}

// UUID returns the slave's unique identifier.
func (h *HAL) UUID() string {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return h.id
}

func (h *HAL) createFIFOs() error {
	h.id = uuid.NewString()
	h.slaveDir = filepath.Join(h.busDir, DirPrefix+h.id)

	if err := os.MkdirAll(h.slaveDir, 0o755); err != nil {
		return fmt.Errorf("create slave dir: %w", err)
	}
	for _, name := range []string{FIFOHostToSlave, FIFOSlaveToHost, FIFOInterrupts} {
		path := filepath.Join(h.slaveDir, name)
		os.Remove(path)
		if err := unix.Mkfifo(path, 0o666); err != nil {
			return fmt.Errorf("mkfifo %s: %w", name, err)
		}
	}

	// O_RDWR keeps every FIFO open without waiting for the host.
	var err error
	if h.hostToSlave, err = h.openFIFO(FIFOHostToSlave); err != nil {
		return err
	}
	if h.slaveToHost, err = h.openFIFO(FIFOSlaveToHost); err != nil {
		return err
	}
	if h.interrupts, err = h.openFIFO(FIFOInterrupts); err != nil {
		return err
	}
	return nil
}

func (h *HAL) openFIFO(name string) (*os.File, error) {
	f, err := os.OpenFile(filepath.Join(h.slaveDir, name), os.O_RDWR|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	return f, nil
}

// cleanup closes all FIFOs and removes the slave directory.
func (h *HAL) cleanup() error {
	var err error
	for _, f := range []**os.File{&h.hostToSlave, &h.slaveToHost, &h.interrupts} {
		if *f != nil {
			err = multierr.Append(err, (*f).Close())
			*f = nil
		}
	}
	if h.slaveDir != "" {
		err = multierr.Append(err, os.RemoveAll(h.slaveDir))
		h.slaveDir = ""
	}
	return err
}

// serve answers host commands until ctx is done.
func (h *HAL) serve(ctx context.Context) error {
	for {
		t, payload, err := ReadFrame(ctx, h.hostToSlave)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read command: %w", err)
		}
		resp, data := h.handle(ctx, t, payload)
		if err := WriteFrame(h.slaveToHost, resp, data); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
	}
}

func statusFrame(err error) (MsgType, []byte) {
	return MsgStatus, []byte{byte(pkg.StatusOf(err))}
}

func (h *HAL) handle(ctx context.Context, t MsgType, p []byte) (MsgType, []byte) {
	host := h.Host()
	malformed := fmt.Errorf("%w: malformed command %#02x", pkg.ErrInvalidArgument, byte(t))

	switch t {
	case MsgWrite, MsgRead:
		if len(p) < 2 {
			return statusFrame(malformed)
		}
		wctx := ctx
		if d := DecodeTimeout(p); d > 0 {
			var cancel context.CancelFunc
			wctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
		if t == MsgWrite {
			if err := host.WritePacket(wctx, p[2:]); err != nil {
				return statusFrame(err)
			}
			pkg.LogDebug(pkg.ComponentHAL, "host packet written", "length", len(p)-2)
			return MsgAck, nil
		}
		data, err := host.ReadPacket(wctx)
		if err != nil {
			return statusFrame(err)
		}
		if len(data) > MaxPayload {
			return statusFrame(pkg.ErrBufferTooSmall)
		}
		return MsgData, data

	case MsgRegRead:
		if len(p) != 1 {
			return statusFrame(malformed)
		}
		v, err := host.ReadRegister(int(p[0]))
		if err != nil {
			return statusFrame(err)
		}
		return MsgData, []byte{v}

	case MsgRegWrite:
		if len(p) != 2 {
			return statusFrame(malformed)
		}
		if err := host.WriteRegister(int(p[0]), p[1]); err != nil {
			return statusFrame(err)
		}
		return MsgAck, nil

	case MsgRaise:
		if len(p) != 1 {
			return statusFrame(malformed)
		}
		if err := host.RaiseInterrupt(int(p[0])); err != nil {
			return statusFrame(err)
		}
		return MsgAck, nil

	case MsgClear:
		if len(p) != 1 {
			return statusFrame(malformed)
		}
		host.ClearInterrupts(p[0])
		return MsgAck, nil

	case MsgPending:
		return MsgData, []byte{host.PendingInterrupts()}

	case MsgTokens:
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], uint16(host.Tokens()))
		return MsgData, b[:]

	default:
		pkg.LogWarn(pkg.ComponentHAL, "unknown message type", "type", byte(t))
		return statusFrame(fmt.Errorf("%w: unknown command %#02x", pkg.ErrProtocol, byte(t)))
	}
}

// forwardLine reports interrupt line assertions on the interrupts FIFO.
func (h *HAL) forwardLine(ctx context.Context) error {
	for {
		bits, err := h.Host().WaitLine(ctx)
		switch {
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, pkg.ErrInvalidState):
			pkg.LogDebug(pkg.ComponentHAL, "interrupt line disabled; host must poll")
			return nil
		case err != nil:
			return err
		}
		if err := WriteFrame(h.interrupts, MsgLine, []byte{bits}); err != nil {
			return fmt.Errorf("write interrupt: %w", err)
		}
	}
}
