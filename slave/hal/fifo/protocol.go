package fifo

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ardnew/softsdio/pkg"
)

// MsgType identifies a protocol message.
type MsgType byte

// Host commands, on the host_to_slave FIFO.
const (
	MsgWrite    MsgType = 0x01 // [timeout_ms(2), data...] write one packet
	MsgRead     MsgType = 0x02 // [timeout_ms(2)] read one packet
	MsgRegRead  MsgType = 0x03 // [addr]
	MsgRegWrite MsgType = 0x04 // [addr, value]
	MsgRaise    MsgType = 0x05 // [bit] raise a host-to-slave interrupt
	MsgClear    MsgType = 0x06 // [mask] clear slave-to-host interrupts
	MsgPending  MsgType = 0x07 // [] read slave-to-host raw interrupts
	MsgTokens   MsgType = 0x08 // [] read the receive token count
)

// Slave responses, on the slave_to_host FIFO.
const (
	MsgAck    MsgType = 0x10 // [] command succeeded
	MsgData   MsgType = 0x11 // [data...] command succeeded with data
	MsgStatus MsgType = 0x12 // [pkg.Status] command failed
)

// MsgLine is written to the interrupts FIFO when the slave asserts the
// interrupt line: [enabled pending bits].
const MsgLine MsgType = 0x20

// HeaderSize is the size of a message header: type (1) + length (2).
const HeaderSize = 3

// MaxPayload is the largest message payload.
const MaxPayload = 0xFFFF

// FIFO file names inside each slave directory.
const (
	FIFOHostToSlave = "host_to_slave"
	FIFOSlaveToHost = "slave_to_host"
	FIFOInterrupts  = "interrupts"
)

// DirPrefix starts the name of every slave directory under the bus directory.
const DirPrefix = "slave-"

// readPoll is the read deadline used to re-check cancellation.
const readPoll = 100 * time.Millisecond

// WriteFrame writes a message [type, len_lo, len_hi, payload...].
func WriteFrame(w io.Writer, t MsgType, payload []byte) error {
	if len(payload) > MaxPayload {
		return fmt.Errorf("%w: payload of %d bytes", pkg.ErrInvalidArgument, len(payload))
	}
	buf := make([]byte, HeaderSize+len(payload))
	buf[0] = byte(t)
	binary.LittleEndian.PutUint16(buf[1:3], uint16(len(payload)))
	copy(buf[HeaderSize:], payload)

	written := 0
	for written < len(buf) {
		n, err := w.Write(buf[written:])
		written += n
		if err != nil {
			return err
		}
	}
	return nil
}

// ReadFrame reads one message from f, waiting until ctx is done.
func ReadFrame(ctx context.Context, f *os.File) (MsgType, []byte, error) {
	var header [HeaderSize]byte
	if err := ReadFull(ctx, f, header[:]); err != nil {
		return 0, nil, err
	}
	n := int(binary.LittleEndian.Uint16(header[1:3]))
	payload := make([]byte, n)
	if n > 0 {
		if err := ReadFull(ctx, f, payload); err != nil {
			return 0, nil, err
		}
	}
	return MsgType(header[0]), payload, nil
}

// ReadFull reads exactly len(buf) bytes from f, retrying on read deadlines
// so that ctx cancellation is observed.
func ReadFull(ctx context.Context, f *os.File, buf []byte) error {
	total := 0
	for total < len(buf) {
		if err := pkg.ContextError(ctx); err != nil {
			return err
		}
		f.SetReadDeadline(time.Now().Add(readPoll))
		n, err := f.Read(buf[total:])
		total += n
		if err != nil {
			if os.IsTimeout(err) {
				continue
			}
			if err == io.EOF {
				// No writer attached yet.
				time.Sleep(readPoll / 10)
				continue
			}
			return err
		}
	}
	return nil
}

// EncodeTimeout encodes a wait bound as the 2-byte millisecond prefix of
// MsgWrite and MsgRead. Zero means wait without bound.
func EncodeTimeout(d time.Duration) [2]byte {
	ms := d.Milliseconds()
	switch {
	case d <= 0:
		ms = 0
	case ms == 0:
		ms = 1
	case ms > 0xFFFF:
		ms = 0xFFFF
	}
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], uint16(ms))
	return b
}

// DecodeTimeout is the inverse of EncodeTimeout.
func DecodeTimeout(b []byte) time.Duration {
	return time.Duration(binary.LittleEndian.Uint16(b)) * time.Millisecond
}
