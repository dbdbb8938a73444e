package slave

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/softsdio/dma"
	"github.com/ardnew/softsdio/pkg"
	"github.com/ardnew/softsdio/slave/hal/sim"
)

// testTimeout bounds waits on asynchronous interrupt delivery.
const testTimeout = 2 * time.Second

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	t.Cleanup(cancel)
	return ctx
}

// expired returns a context whose deadline has already passed: a zero
// timeout.
func expired(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithDeadline(context.Background(), time.Now())
	t.Cleanup(cancel)
	return ctx
}

func newTestDriver(t *testing.T, cfg Config, opts ...Option) (*Driver, *sim.HAL) {
	t.Helper()
	ctrl := sim.New()
	d := NewDriver(ctrl, opts...)
	require.NoError(t, d.Initialize(context.Background(), cfg))
	require.NoError(t, d.Start())
	t.Cleanup(func() {
		d.Stop()
		d.Deinitialize()
	})
	return d, ctrl
}

// loadBuffers registers and loads n receive buffers.
func loadBuffers(t *testing.T, d *Driver, n int) []Handle {
	t.Helper()
	cfg, err := d.Config()
	require.NoError(t, err)
	hs := make([]Handle, n)
	for i := range hs {
		h, err := d.RegisterBuffer(make([]byte, cfg.RecvBufferSize))
		require.NoError(t, err)
		require.NoError(t, d.LoadBuffer(h))
		hs[i] = h
	}
	return hs
}

func TestDriver_Lifecycle(t *testing.T) {
	d := NewDriver(sim.New())
	assert.Equal(t, StateUninitialized, d.State())

	assert.ErrorIs(t, d.Start(), pkg.ErrInvalidState)
	assert.ErrorIs(t, d.Stop(), pkg.ErrInvalidState)
	assert.ErrorIs(t, d.Reset(), pkg.ErrInvalidState)
	assert.ErrorIs(t, d.Deinitialize(), pkg.ErrInvalidState)

	require.NoError(t, d.Initialize(context.Background(), Config{}))
	assert.Equal(t, StateStopped, d.State())
	assert.ErrorIs(t, d.Initialize(context.Background(), Config{}), pkg.ErrInvalidState)

	require.NoError(t, d.Stop(), "stopping a stopped driver is a no-op")
	require.NoError(t, d.Start())
	assert.Equal(t, StateRunning, d.State())
	assert.ErrorIs(t, d.Start(), pkg.ErrInvalidState)
	assert.ErrorIs(t, d.Deinitialize(), pkg.ErrInvalidState)

	require.NoError(t, d.Stop())
	require.NoError(t, d.Deinitialize())
	assert.Equal(t, StateUninitialized, d.State())

	// The controller is free again.
	require.NoError(t, d.Initialize(context.Background(), Config{}))
	require.NoError(t, d.Deinitialize())
}

func TestDriver_InitializeErrors(t *testing.T) {
	tests := []struct {
		name string
		ctrl *sim.HAL
		cfg  Config
		want error
	}{
		{"no interrupt line", sim.New(sim.WithoutInterruptLine()), Config{}, pkg.ErrNotFound},
		{"send queue too deep", sim.New(), Config{SendQueueSize: MaxSendQueueSize + 1}, pkg.ErrNoMemory},
		{"too many buffers", sim.New(), Config{RecvBufferCount: MaxRecvBuffers + 1}, pkg.ErrNoMemory},
		{"negative size", sim.New(), Config{RecvBufferSize: -1}, pkg.ErrInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDriver(tt.ctrl)
			err := d.Initialize(context.Background(), tt.cfg)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, StateUninitialized, d.State())
		})
	}
}

func TestDriver_SecondDriverOnSameController(t *testing.T) {
	ctrl := sim.New()
	first := NewDriver(ctrl)
	require.NoError(t, first.Initialize(context.Background(), Config{}))
	defer first.Deinitialize()

	second := NewDriver(ctrl)
	err := second.Initialize(context.Background(), Config{})
	assert.ErrorIs(t, err, pkg.ErrNotFound)
	assert.ErrorIs(t, err, pkg.ErrBusy)
	assert.Equal(t, StateUninitialized, second.State())
}

func TestDriver_RequiresInitialize(t *testing.T) {
	d := NewDriver(sim.New())
	ctx := context.Background()

	_, err := d.RegisterBuffer(make([]byte, 512))
	assert.ErrorIs(t, err, pkg.ErrInvalidState)
	assert.ErrorIs(t, d.LoadBuffer(Handle{}), pkg.ErrInvalidState)
	_, _, err = d.ReceivePacket(ctx)
	assert.ErrorIs(t, err, pkg.ErrInvalidState)
	assert.ErrorIs(t, d.Enqueue(ctx, []byte{1}, nil), pkg.ErrInvalidState)
	_, err = d.ReclaimFinished(ctx)
	assert.ErrorIs(t, err, pkg.ErrInvalidState)
	_, err = d.ReadRegister(0)
	assert.ErrorIs(t, err, pkg.ErrInvalidState)
	assert.ErrorIs(t, d.WaitInterrupt(ctx, 0), pkg.ErrInvalidState)
	_, err = d.Counters()
	assert.ErrorIs(t, err, pkg.ErrInvalidState)
	assert.Nil(t, d.Events())
}

func TestDriver_RoundTrip(t *testing.T) {
	d, ctrl := newTestDriver(t, Config{})
	hs := loadBuffers(t, d, 4)
	host := ctrl.Host()

	require.NoError(t, host.WritePacket(waitCtx(t), []byte("hello")))

	h, more, err := d.ReceivePacket(waitCtx(t))
	require.NoError(t, err)
	assert.False(t, more)
	assert.Equal(t, hs[0], h)
	assert.Equal(t, BufferIdle, d.BufferState(h))

	data, err := d.GetBuffer(h)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	require.NoError(t, d.Enqueue(waitCtx(t), data, "tag-1"))
	got, err := host.ReadPacket(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))

	tag, err := d.ReclaimFinished(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, "tag-1", tag)
	require.NoError(t, d.LoadBuffer(h))
}

func TestDriver_MultiBufferPacket(t *testing.T) {
	d, ctrl := newTestDriver(t, Config{RecvBufferSize: 512})
	hs := loadBuffers(t, d, 4)

	pkt := make([]byte, 1200)
	for i := range pkt {
		pkt[i] = byte(i)
	}
	require.NoError(t, ctrl.Host().WritePacket(waitCtx(t), pkt))

	want := []struct {
		size int
		more bool
	}{
		{512, true},
		{512, true},
		{176, false},
	}
	var got []byte
	for i, w := range want {
		h, more, err := d.ReceivePacket(waitCtx(t))
		require.NoError(t, err, "segment %d", i)
		assert.Equal(t, w.more, more, "segment %d", i)
		data, err := d.GetBuffer(h)
		require.NoError(t, err)
		assert.Len(t, data, w.size, "segment %d", i)
		got = append(got, data...)
	}
	assert.Equal(t, pkt, got)

	// The fourth buffer was not needed and stays loaded.
	assert.Equal(t, BufferQueued, d.BufferState(hs[3]))
	assert.Equal(t, 1, ctrl.Host().Tokens())
	_, _, err := d.ReceivePacket(expired(t))
	assert.ErrorIs(t, err, pkg.ErrTimeout)
}

func TestDriver_ConcurrentReceivers(t *testing.T) {
	const (
		segments  = 64
		receivers = 8
	)
	d, ctrl := newTestDriver(t, Config{RecvBufferSize: 16, RecvBufferCount: segments})
	hs := loadBuffers(t, d, segments)
	require.NoError(t, ctrl.Host().WritePacket(waitCtx(t), make([]byte, segments*16)))

	var (
		mutex sync.Mutex
		seen  = make(map[Handle]int)
		last  int
	)
	var wg sync.WaitGroup
	for range receivers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
				h, more, err := d.ReceivePacket(ctx)
				cancel()
				if err != nil {
					return
				}
				mutex.Lock()
				seen[h]++
				if !more {
					last++
				}
				mutex.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, segments)
	for _, h := range hs {
		assert.Equal(t, 1, seen[h], "handle %s", h)
	}
	assert.Equal(t, 1, last)
}

func TestDriver_ReceiveSimple(t *testing.T) {
	d, ctrl := newTestDriver(t, Config{RecvBufferSize: 4})
	loadBuffers(t, d, 2)

	require.NoError(t, ctrl.Host().WritePacket(waitCtx(t), []byte("abcdef")))

	_, data, err := d.ReceiveSimple(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, "abcd", string(data))
	_, data, err = d.ReceiveSimple(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, "ef", string(data))
}

func TestDriver_ReceiveTimeout(t *testing.T) {
	d, _ := newTestDriver(t, Config{})
	loadBuffers(t, d, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, _, err := d.ReceivePacket(ctx)
	assert.ErrorIs(t, err, pkg.ErrTimeout)

	ctx, cancel = context.WithCancel(context.Background())
	cancel()
	_, _, err = d.ReceivePacket(ctx)
	assert.ErrorIs(t, err, pkg.ErrCancelled)
}

func TestDriver_SendBackpressure(t *testing.T) {
	d, ctrl := newTestDriver(t, Config{SendQueueSize: 2, SendingMode: ModePacket})

	require.NoError(t, d.Enqueue(expired(t), []byte("a"), 1))
	require.NoError(t, d.Enqueue(expired(t), []byte("b"), 2))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Enqueue(ctx, []byte("c"), 3), pkg.ErrTimeout)

	_, err := ctrl.Host().ReadPacket(waitCtx(t))
	require.NoError(t, err)
	tag, err := d.ReclaimFinished(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, 1, tag)

	// The reclaimed slot is available without waiting.
	require.NoError(t, d.Enqueue(expired(t), []byte("c"), 3))
}

func TestDriver_EnqueueLength(t *testing.T) {
	d, _ := newTestDriver(t, Config{})

	assert.ErrorIs(t, d.Enqueue(expired(t), nil, nil), pkg.ErrInvalidArgument)
	assert.ErrorIs(t, d.Enqueue(expired(t), make([]byte, MaxTransferSize+1), nil), pkg.ErrInvalidArgument)
	assert.NoError(t, d.Enqueue(expired(t), make([]byte, MaxTransferSize), nil))
}

func TestDriver_ReclaimOrder(t *testing.T) {
	d, ctrl := newTestDriver(t, Config{SendQueueSize: 4, SendingMode: ModePacket})

	for i := range 3 {
		require.NoError(t, d.Enqueue(waitCtx(t), []byte{byte(i)}, i))
	}
	for range 3 {
		_, err := ctrl.Host().ReadPacket(waitCtx(t))
		require.NoError(t, err)
	}
	for i := range 3 {
		tag, err := d.ReclaimFinished(waitCtx(t))
		require.NoError(t, err)
		assert.Equal(t, i, tag)
	}
	_, err := d.ReclaimFinished(expired(t))
	assert.ErrorIs(t, err, pkg.ErrTimeout)
}

func TestDriver_StreamMode(t *testing.T) {
	d, ctrl := newTestDriver(t, Config{SendingMode: ModeStream})

	require.NoError(t, d.Enqueue(waitCtx(t), []byte("ab"), "x"))
	require.NoError(t, d.Enqueue(waitCtx(t), []byte("cd"), "y"))

	got, err := ctrl.Host().ReadPacket(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, "abcd", string(got))

	for _, want := range []string{"x", "y"} {
		tag, err := d.ReclaimFinished(waitCtx(t))
		require.NoError(t, err)
		assert.Equal(t, want, tag)
	}
}

func TestDriver_Transmit(t *testing.T) {
	d, ctrl := newTestDriver(t, Config{SendQueueSize: 1})

	read := make(chan []byte, 1)
	go func() {
		data, _ := ctrl.Host().ReadPacket(waitCtx(t))
		read <- data
	}()
	require.NoError(t, d.Transmit(waitCtx(t), []byte("ping")))
	assert.Equal(t, "ping", string(<-read))

	// Transmit completions never reach the finished queue.
	_, err := d.ReclaimFinished(expired(t))
	assert.ErrorIs(t, err, pkg.ErrTimeout)
}

func TestDriver_TransmitTimeoutReleasesSlot(t *testing.T) {
	d, ctrl := newTestDriver(t, Config{SendQueueSize: 1})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Transmit(ctx, []byte("late")), pkg.ErrTimeout)

	// The host eventually reads it and the slot frees.
	got, err := ctrl.Host().ReadPacket(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, "late", string(got))
	require.NoError(t, d.Enqueue(waitCtx(t), []byte("next"), nil))
}

func TestDriver_StopStartRetainsData(t *testing.T) {
	d, ctrl := newTestDriver(t, Config{})
	loadBuffers(t, d, 2)
	require.NoError(t, d.Enqueue(waitCtx(t), []byte("queued"), nil))
	require.NoError(t, ctrl.Host().WritePacket(waitCtx(t), []byte("in")))

	before, err := d.Counters()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), before.RecvLoaded)
	assert.Equal(t, uint64(6), before.SendQueued)

	require.NoError(t, d.Stop())
	assert.ErrorIs(t, ctrl.Host().WritePacket(waitCtx(t), []byte("x")), pkg.ErrNotRunning)
	require.NoError(t, d.Start())

	after, err := d.Counters()
	require.NoError(t, err)
	assert.Equal(t, before, after)

	_, data, err := d.ReceiveSimple(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, "in", string(data))
	assert.Equal(t, 6, ctrl.Host().PendingSendLength())
}

func TestDriver_Reset(t *testing.T) {
	d, ctrl := newTestDriver(t, Config{})
	hs := loadBuffers(t, d, 3)
	require.NoError(t, d.Enqueue(waitCtx(t), []byte("queued"), nil))
	require.NoError(t, ctrl.Host().WritePacket(waitCtx(t), []byte("x")))

	assert.ErrorIs(t, d.Reset(), pkg.ErrInvalidState)

	require.NoError(t, d.Stop())
	require.NoError(t, d.Reset())

	for _, h := range hs {
		assert.Equal(t, BufferIdle, d.BufferState(h))
	}
	_, _, err := d.ReceivePacket(expired(t))
	assert.ErrorIs(t, err, pkg.ErrTimeout)
	_, err = d.ReclaimFinished(expired(t))
	assert.ErrorIs(t, err, pkg.ErrTimeout)

	c, err := d.Counters()
	require.NoError(t, err)
	assert.Equal(t, Counters{}, c)
	assert.Equal(t, 0, ctrl.Host().Tokens())

	// Idle buffers can be loaded again.
	require.NoError(t, d.LoadBuffer(hs[0]))
	require.NoError(t, d.ResetHardware())
}

func TestDriver_ResetKeepsInFlightSlot(t *testing.T) {
	d, _ := newTestDriver(t, Config{SendQueueSize: 2})
	require.NoError(t, d.Stop())
	inst, err := d.active()
	require.NoError(t, err)

	require.NoError(t, d.Enqueue(expired(t), []byte("a"), 1))
	// An Enqueue holding a slot but not yet mounted.
	require.NoError(t, inst.acquireSlot(expired(t)))

	require.NoError(t, d.Reset())
	assert.Len(t, inst.sendSlots, 1)

	require.NoError(t, inst.sendRing.Mount(dma.Descriptor{Buf: []byte("b"), Length: 1, Cookie: &sendItem{tag: 2}}))
	require.NoError(t, d.Enqueue(expired(t), []byte("c"), 3))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Enqueue(ctx, []byte("d"), 4), pkg.ErrTimeout)
}

func TestDriver_ResetDuringEnqueue(t *testing.T) {
	d, _ := newTestDriver(t, Config{SendQueueSize: 4})
	require.NoError(t, d.Stop())
	inst, err := d.active()
	require.NoError(t, err)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
				err := d.Enqueue(ctx, []byte("x"), nil)
				cancel()
				if err != nil && !errors.Is(err, pkg.ErrTimeout) {
					t.Errorf("enqueue: %v", err)
					return
				}
			}
		}()
	}
	for range 200 {
		require.NoError(t, d.Reset())
	}
	close(stop)
	wg.Wait()

	// Every held slot belongs to a mounted transfer.
	assert.Equal(t, inst.sendRing.Len()+len(inst.finished), len(inst.sendSlots))
	require.NoError(t, d.Reset())
	for i := range 4 {
		require.NoError(t, d.Enqueue(expired(t), []byte("y"), i))
	}
}

func TestDriver_DeinitializeWakesWaiters(t *testing.T) {
	ctrl := sim.New()
	d := NewDriver(ctrl)
	require.NoError(t, d.Initialize(context.Background(), Config{}))

	errc := make(chan error, 1)
	go func() {
		_, _, err := d.ReceivePacket(context.Background())
		errc <- err
	}()
	// Give the receiver a moment to block.
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, d.Deinitialize())

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, pkg.ErrInvalidState)
	case <-time.After(testTimeout):
		t.Fatal("receiver not woken")
	}
}

func TestDriver_Metrics(t *testing.T) {
	d, ctrl := newTestDriver(t, Config{RecvBufferSize: 4})
	loadBuffers(t, d, 2)
	require.NoError(t, ctrl.Host().WritePacket(waitCtx(t), []byte("abcdef")))
	for range 2 {
		_, _, err := d.ReceivePacket(waitCtx(t))
		require.NoError(t, err)
	}

	counter := func(name string) int64 {
		return d.Metrics().Get(name).(interface{ Count() int64 }).Count()
	}
	assert.Equal(t, int64(2), counter(MetricRecvLoaded))
	assert.Equal(t, int64(2), counter(MetricRecvBuffers))
	assert.Equal(t, int64(1), counter(MetricRecvPackets))
	assert.Equal(t, int64(6), counter(MetricRecvBytes))
}
