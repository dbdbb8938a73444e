package fifo

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sys/unix"

	"github.com/ardnew/softsdio/pkg"
	slavefifo "github.com/ardnew/softsdio/slave/hal/fifo"
)

// pollInterval is the bus directory polling interval used by Dial.
const pollInterval = 50 * time.Millisecond

// interruptQueue is the capacity of the Interrupts channel.
const interruptQueue = 16

// Errors.
var (
	ErrNoSlave = errors.New("no slave available")
	ErrClosed  = errors.New("client closed")
)

// Client is the SDIO host side of a FIFO-backed slave.
//
// Commands are issued one at a time; concurrent calls are serialized.
type Client struct {
	dir string

	hostToSlave *os.File // Host writes commands
	slaveToHost *os.File // Host reads responses
	interrupts  *os.File // Host reads line assertions

	mutex sync.Mutex
	stale int // responses owed to abandoned commands

	lines   chan uint8
	closeCh chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
}

// Dial waits for a slave directory to appear under busDir and connects to
// the first one found.
func Dial(ctx context.Context, busDir string) (*Client, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if dir, ok := findSlave(busDir); ok {
			return Open(dir)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w in %s: %w", ErrNoSlave, busDir, pkg.ContextError(ctx))
		case <-ticker.C:
		}
	}
}

func findSlave(busDir string) (string, bool) {
	entries, err := os.ReadDir(busDir)
	if err != nil {
		return "", false
	}
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), slavefifo.DirPrefix) {
			continue
		}
		dir := filepath.Join(busDir, entry.Name())
		if _, err := os.Stat(filepath.Join(dir, slavefifo.FIFOInterrupts)); err == nil {
			return dir, true
		}
	}
	return "", false
}

// Open connects to the slave whose FIFOs live in dir.
func Open(dir string) (*Client, error) {
	c := &Client{
		dir:     dir,
		lines:   make(chan uint8, interruptQueue),
		closeCh: make(chan struct{}),
	}

	var err error
	if c.hostToSlave, err = openFIFO(dir, slavefifo.FIFOHostToSlave, os.O_WRONLY); err != nil {
		return nil, err
	}
	if c.slaveToHost, err = openFIFO(dir, slavefifo.FIFOSlaveToHost, os.O_RDONLY); err != nil {
		return nil, multierr.Append(err, c.closeFiles())
	}
	if c.interrupts, err = openFIFO(dir, slavefifo.FIFOInterrupts, os.O_RDONLY); err != nil {
		return nil, multierr.Append(err, c.closeFiles())
	}

	c.wg.Add(1)
	go c.readInterrupts()

	pkg.LogInfo(pkg.ComponentHAL, "fifo host connected", "slaveDir", dir)
	return c, nil
}

func openFIFO(dir, name string, flag int) (*os.File, error) {
	f, err := os.OpenFile(filepath.Join(dir, name), flag|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	return f, nil
}

// Dir returns the slave directory the client is connected to.
func (c *Client) Dir() string {
	return c.dir
}

// Close disconnects from the slave.
func (c *Client) Close() error {
	c.once.Do(func() {
		close(c.closeCh)
	})
	c.wg.Wait()

	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.closeFiles()
}

func (c *Client) closeFiles() error {
	var err error
	for _, f := range []**os.File{&c.hostToSlave, &c.slaveToHost, &c.interrupts} {
		if *f != nil {
			err = multierr.Append(err, (*f).Close())
			*f = nil
		}
	}
	return err
}

// Interrupts returns a channel of interrupt line assertions. Each value is
// the set of enabled slave-to-host interrupt bits pending at assertion.
func (c *Client) Interrupts() <-chan uint8 {
	return c.lines
}

func (c *Client) readInterrupts() {
	defer c.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-c.closeCh
		cancel()
	}()

	for {
		t, p, err := slavefifo.ReadFrame(ctx, c.interrupts)
		if err != nil {
			if ctx.Err() == nil {
				pkg.LogWarn(pkg.ComponentHAL, "interrupt read failed", "error", err)
			}
			return
		}
		if t != slavefifo.MsgLine || len(p) != 1 {
			pkg.LogWarn(pkg.ComponentHAL, "unexpected interrupt message", "type", byte(t))
			continue
		}
		select {
		case c.lines <- p[0]:
		default:
			pkg.LogWarn(pkg.ComponentHAL, "interrupt dropped", "bits", p[0])
		}
	}
}

// roundTrip sends one command and waits for its response.
func (c *Client) roundTrip(ctx context.Context, t slavefifo.MsgType, payload []byte) ([]byte, error) {
	select {
	case <-c.closeCh:
		return nil, ErrClosed
	default:
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	for c.stale > 0 {
		if _, _, err := slavefifo.ReadFrame(ctx, c.slaveToHost); err != nil {
			return nil, err
		}
		c.stale--
	}

	if err := slavefifo.WriteFrame(c.hostToSlave, t, payload); err != nil {
		return nil, fmt.Errorf("write command: %w", err)
	}
	rt, p, err := slavefifo.ReadFrame(ctx, c.slaveToHost)
	if err != nil {
		c.stale++
		return nil, err
	}

	switch rt {
	case slavefifo.MsgAck, slavefifo.MsgData:
		return p, nil
	case slavefifo.MsgStatus:
		if len(p) != 1 {
			return nil, pkg.ErrProtocol
		}
		return nil, pkg.Status(p[0]).Error()
	default:
		return nil, fmt.Errorf("%w: unexpected response %#02x", pkg.ErrProtocol, byte(rt))
	}
}

func waitBound(ctx context.Context) [2]byte {
	deadline, ok := ctx.Deadline()
	if !ok {
		return slavefifo.EncodeTimeout(0)
	}
	return slavefifo.EncodeTimeout(time.Until(deadline))
}

// WritePacket writes data to the slave as one packet. It waits for the slave
// to load enough receive buffers, up to the deadline of ctx.
func (c *Client) WritePacket(ctx context.Context, data []byte) error {
	if len(data)+2 > slavefifo.MaxPayload {
		return fmt.Errorf("%w: packet of %d bytes", pkg.ErrInvalidArgument, len(data))
	}
	bound := waitBound(ctx)
	payload := make([]byte, 0, 2+len(data))
	payload = append(payload, bound[:]...)
	payload = append(payload, data...)
	_, err := c.roundTrip(ctx, slavefifo.MsgWrite, payload)
	return err
}

// ReadPacket reads the next packet the slave has queued.
func (c *Client) ReadPacket(ctx context.Context) ([]byte, error) {
	bound := waitBound(ctx)
	return c.roundTrip(ctx, slavefifo.MsgRead, bound[:])
}

// ReadRegister reads a shared register.
func (c *Client) ReadRegister(ctx context.Context, addr uint8) (byte, error) {
	p, err := c.roundTrip(ctx, slavefifo.MsgRegRead, []byte{addr})
	if err != nil {
		return 0, err
	}
	if len(p) != 1 {
		return 0, pkg.ErrProtocol
	}
	return p[0], nil
}

// WriteRegister writes a shared register.
func (c *Client) WriteRegister(ctx context.Context, addr, v uint8) error {
	_, err := c.roundTrip(ctx, slavefifo.MsgRegWrite, []byte{addr, v})
	return err
}

// RaiseInterrupt raises general-purpose interrupt bit (0-7) toward the slave.
func (c *Client) RaiseInterrupt(ctx context.Context, bit uint8) error {
	_, err := c.roundTrip(ctx, slavefifo.MsgRaise, []byte{bit})
	return err
}

// ClearInterrupts clears slave-to-host interrupt bits.
func (c *Client) ClearInterrupts(ctx context.Context, mask uint8) error {
	_, err := c.roundTrip(ctx, slavefifo.MsgClear, []byte{mask})
	return err
}

// PendingInterrupts returns the raised slave-to-host interrupt bits.
func (c *Client) PendingInterrupts(ctx context.Context) (uint8, error) {
	p, err := c.roundTrip(ctx, slavefifo.MsgPending, nil)
	if err != nil {
		return 0, err
	}
	if len(p) != 1 {
		return 0, pkg.ErrProtocol
	}
	return p[0], nil
}

// Tokens returns the number of receive buffers the slave has loaded and the
// host has not yet filled.
func (c *Client) Tokens(ctx context.Context) (int, error) {
	p, err := c.roundTrip(ctx, slavefifo.MsgTokens, nil)
	if err != nil {
		return 0, err
	}
	if len(p) != 2 {
		return 0, pkg.ErrProtocol
	}
	return int(binary.LittleEndian.Uint16(p)), nil
}
