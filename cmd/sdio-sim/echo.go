package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rcrowley/go-metrics"
	"golang.org/x/sync/errgroup"

	"github.com/ardnew/softsdio/pkg"
	"github.com/ardnew/softsdio/slave"
	"github.com/ardnew/softsdio/slave/hal/sim"
)

const (
	// seqRegister holds the low byte of the slave's echo count.
	seqRegister = 0
	// doneBit is raised by the host once it has sent every packet.
	doneBit = 7
	// progressEvery is the packet interval between progress logs.
	progressEvery = 250
)

// result summarizes a loopback run.
type result struct {
	Packets  int
	Bytes    uint64
	Elapsed  time.Duration
	Counters slave.Counters
}

// Rate returns the echoed bytes per second.
func (r result) Rate() uint64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return uint64(float64(r.Bytes) / r.Elapsed.Seconds())
}

// runLoopback echoes random packets between a simulated host and a slave
// driver until cfg.Run.Packets have round-tripped or ctx is done.
func runLoopback(ctx context.Context, cfg Config, r metrics.Registry) (result, error) {
	ctrl := sim.New(sim.WithInterruptLatency(cfg.Run.Latency))
	drv := slave.NewDriver(ctrl, slave.WithMetrics(r))
	if err := drv.Initialize(ctx, cfg.Slave); err != nil {
		return result{}, fmt.Errorf("initialize: %w", err)
	}
	defer drv.Deinitialize()
	if err := drv.Start(); err != nil {
		return result{}, fmt.Errorf("start: %w", err)
	}
	defer drv.Stop()

	seed := cfg.Run.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	pkg.LogInfo(pkg.ComponentSim, "loopback starting",
		"packets", cfg.Run.Packets,
		"sizes", fmt.Sprintf("%d-%d", cfg.Run.MinSize, cfg.Run.MaxSize),
		"buffers", cfg.Run.Buffers,
		"bufferSize", humanize.IBytes(uint64(cfg.Slave.RecvBufferSize)),
		"mode", cfg.Slave.SendingMode,
		"completion", cfg.Slave.Completion,
		"seed", seed)

	var res result
	g, gctx := errgroup.WithContext(ctx)
	echoCtx, stopEcho := context.WithCancel(gctx)
	defer stopEcho()

	g.Go(func() error {
		return echo(echoCtx, drv, cfg.Run.Buffers, cfg.Slave.RecvBufferSize)
	})
	g.Go(func() error {
		// The host signals completion over the interrupt bridge.
		err := drv.WaitInterrupt(gctx, doneBit)
		stopEcho()
		if stopped(gctx, err) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		h := &hostDriver{
			host: ctrl.Host(),
			run:  cfg.Run,
			rng:  rand.New(rand.NewPCG(seed, seed>>1|1)),
		}
		start := time.Now()
		err := h.drive(gctx, &res)
		res.Elapsed = time.Since(start)
		if err != nil {
			return err
		}
		return ctrl.Host().RaiseInterrupt(doneBit)
	})

	if err := g.Wait(); err != nil {
		return res, err
	}
	if c, err := drv.Counters(); err == nil {
		res.Counters = c
	}
	return res, nil
}

// stopped reports whether err ended a loop because ctx is done, as opposed
// to a transfer failure.
func stopped(ctx context.Context, err error) bool {
	return ctx.Err() != nil && (errors.Is(err, pkg.ErrCancelled) || errors.Is(err, pkg.ErrTimeout))
}

// echo is the slave side: it keeps buffers loaded, reassembles each packet,
// stamps the sequence register, and transmits the packet back.
func echo(ctx context.Context, drv *slave.Driver, buffers, size int) error {
	for range buffers {
		h, err := drv.RegisterBuffer(make([]byte, size))
		if err != nil {
			return fmt.Errorf("register buffer: %w", err)
		}
		if err := drv.LoadBuffer(h); err != nil {
			return fmt.Errorf("load buffer: %w", err)
		}
	}

	var seq byte
	packet := make([]byte, 0, slave.MaxTransferSize)
	for {
		packet = packet[:0]
		for {
			h, more, err := drv.ReceivePacket(ctx)
			if err != nil {
				if stopped(ctx, err) {
					return nil
				}
				return fmt.Errorf("receive: %w", err)
			}
			data, err := drv.GetBuffer(h)
			if err != nil {
				return err
			}
			packet = append(packet, data...)
			if err := drv.LoadBuffer(h); err != nil {
				return fmt.Errorf("reload buffer: %w", err)
			}
			if !more {
				break
			}
		}

		seq++
		if err := drv.WriteRegister(seqRegister, seq); err != nil {
			return err
		}
		if err := drv.Transmit(ctx, packet); err != nil {
			if stopped(ctx, err) {
				return nil
			}
			return fmt.Errorf("transmit: %w", err)
		}
		pkg.LogDebug(pkg.ComponentEcho, "packet echoed", "seq", seq, "length", len(packet))
	}
}

// hostDriver is the bus host side of the loopback.
type hostDriver struct {
	host *sim.Host
	run  RunConfig
	rng  *rand.Rand
}

func (h *hostDriver) payload() []byte {
	n := h.run.MinSize + h.rng.IntN(h.run.MaxSize-h.run.MinSize+1)
	p := make([]byte, n)
	for i := range p {
		p[i] = byte(h.rng.Uint32())
	}
	return p
}

func (h *hostDriver) drive(ctx context.Context, res *result) error {
	for i := 0; h.run.Packets == 0 || i < h.run.Packets; i++ {
		n, err := h.roundTrip(ctx, byte(i+1))
		if err != nil {
			if stopped(ctx, err) {
				return nil
			}
			return fmt.Errorf("packet %d: %w", i, err)
		}
		res.Packets++
		res.Bytes += uint64(n)
		if res.Packets%progressEvery == 0 {
			pkg.LogInfo(pkg.ComponentSim, "loopback progress",
				"packets", humanize.Comma(int64(res.Packets)),
				"bytes", humanize.Bytes(res.Bytes))
		}
	}
	return nil
}

// roundTrip writes one random packet and checks the echo and the sequence
// register.
func (h *hostDriver) roundTrip(ctx context.Context, seq byte) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, h.run.Timeout)
	defer cancel()

	out := h.payload()
	if err := h.host.WritePacket(ctx, out); err != nil {
		return 0, fmt.Errorf("write: %w", err)
	}
	in, err := h.host.ReadPacket(ctx)
	if err != nil {
		return 0, fmt.Errorf("read: %w", err)
	}
	if !bytes.Equal(in, out) {
		return 0, fmt.Errorf("%w: echoed %d bytes, sent %d", pkg.ErrProtocol, len(in), len(out))
	}
	v, err := h.host.ReadRegister(seqRegister)
	if err != nil {
		return 0, err
	}
	if v != seq {
		return 0, fmt.Errorf("%w: sequence register %d, want %d", pkg.ErrProtocol, v, seq)
	}
	return len(out), nil
}
