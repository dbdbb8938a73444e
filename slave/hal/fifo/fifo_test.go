package fifo

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/softsdio/dma"
	"github.com/ardnew/softsdio/pkg"
	"github.com/ardnew/softsdio/slave/hal"
)

type discard struct{}

func (discard) Interrupt(hal.IntrStatus) {}

func testLink(t *testing.T) hal.Link {
	t.Helper()
	recv, err := dma.NewRing(4)
	require.NoError(t, err)
	send, err := dma.NewRing(4)
	require.NoError(t, err)
	return hal.Link{Recv: recv, Send: send, Handler: discard{}, HostIntrLine: true}
}

func TestHAL_Directory(t *testing.T) {
	bus := t.TempDir()
	h := New(bus)
	require.NoError(t, h.Init(context.Background(), testLink(t)))

	dir := h.SlaveDir()
	assert.Equal(t, bus, filepath.Dir(dir))
	assert.True(t, strings.HasPrefix(filepath.Base(dir), DirPrefix))
	assert.Equal(t, DirPrefix+h.UUID(), filepath.Base(dir))

	for _, name := range []string{FIFOHostToSlave, FIFOSlaveToHost, FIFOInterrupts} {
		fi, err := os.Stat(filepath.Join(dir, name))
		require.NoError(t, err, name)
		assert.NotZero(t, fi.Mode()&os.ModeNamedPipe, name)
	}

	require.NoError(t, h.Deinit())
	_, err := os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
	assert.Empty(t, h.SlaveDir())
}

func TestHAL_InitTwice(t *testing.T) {
	h := New(t.TempDir())
	require.NoError(t, h.Init(context.Background(), testLink(t)))
	defer h.Deinit()

	err := h.Init(context.Background(), testLink(t))
	assert.ErrorIs(t, err, pkg.ErrNotFound)
	assert.ErrorIs(t, err, pkg.ErrBusy)
}

func TestHAL_HandleMalformed(t *testing.T) {
	h := New(t.TempDir())
	require.NoError(t, h.Init(context.Background(), testLink(t)))
	defer h.Deinit()

	tests := []struct {
		name    string
		typ     MsgType
		payload []byte
		want    pkg.Status
	}{
		{"short write", MsgWrite, []byte{1}, pkg.StatusInvalidArgument},
		{"register read", MsgRegRead, nil, pkg.StatusInvalidArgument},
		{"vector register", MsgRegRead, []byte{hal.IntVectorFirst}, pkg.StatusInvalidArgument},
		{"register write", MsgRegWrite, []byte{1}, pkg.StatusInvalidArgument},
		{"interrupt bit", MsgRaise, []byte{8}, pkg.StatusInvalidArgument},
		{"unknown", MsgType(0x7F), nil, pkg.StatusError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			typ, p := h.handle(context.Background(), tt.typ, tt.payload)
			require.Equal(t, MsgStatus, typ)
			require.Len(t, p, 1)
			assert.Equal(t, tt.want, pkg.Status(p[0]))
		})
	}
}

func TestHAL_HandleRegisters(t *testing.T) {
	h := New(t.TempDir())
	require.NoError(t, h.Init(context.Background(), testLink(t)))
	defer h.Deinit()

	typ, _ := h.handle(context.Background(), MsgRegWrite, []byte{5, 0x42})
	require.Equal(t, MsgAck, typ)
	typ, p := h.handle(context.Background(), MsgRegRead, []byte{5})
	require.Equal(t, MsgData, typ)
	assert.Equal(t, []byte{0x42}, p)

	typ, p = h.handle(context.Background(), MsgTokens, nil)
	require.Equal(t, MsgData, typ)
	assert.Equal(t, []byte{0, 0}, p)
}
