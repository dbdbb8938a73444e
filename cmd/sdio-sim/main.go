// Command sdio-sim runs an SDIO slave driver against a simulated controller
// and bus host in one process.
//
// The simulated host writes random packets into the slave's receive buffers;
// the slave reassembles each packet and queues it back for the host to read.
// Every echo is checked byte for byte.
//
// Usage:
//
//	sdio-sim [options]
//
// Options:
//
//	-config path     YAML configuration file
//	-v               Enable verbose (debug) logging
//	-json            Use JSON log format
//	-packets N       Override run.packets (0 runs until interrupted)
//	-stats addr      Override stats.listen
//	-version         Print the version and exit
//
// A configuration file has slave, log, stats, profile, and run sections:
//
//	slave:
//	  recv_buffer_size: 512
//	  recv_buffer_count: 16
//	  send_queue_size: 4
//	  sending_mode: packet
//	  completion: interrupt
//	log:
//	  level: info
//	stats:
//	  listen: 127.0.0.1:9100
//	  path: /metrics
//	  interval: 5s
//	run:
//	  packets: 10000
//	  max_size: 4092
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rcrowley/go-metrics"
	"golang.org/x/sync/errgroup"

	"github.com/ardnew/softsdio/pkg"
	"github.com/ardnew/softsdio/pkg/prof"
)

// Build is set at link time.
var Build = "dev"

const component = pkg.ComponentSim

func main() {
	configPath := flag.String("config", "", "YAML configuration file")
	verbose := flag.Bool("v", false, "enable verbose (debug) logging")
	jsonLog := flag.Bool("json", false, "use JSON log format")
	packets := flag.Int("packets", -1, "override run.packets (0 runs until interrupted)")
	statsAddr := flag.String("stats", "", "override stats.listen")
	printVersion := flag.Bool("version", false, "print the version and exit")
	flag.Parse()

	if *printVersion {
		fmt.Printf("sdio-sim %s\n", Build)
		return
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		pkg.LogError(component, "failed to load config", "path", *configPath, "error", err)
		os.Exit(1)
	}
	if *packets >= 0 {
		cfg.Run.Packets = *packets
	}
	if *statsAddr != "" {
		cfg.Stats.Listen = *statsAddr
	}
	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *jsonLog {
		cfg.Log.Format = "json"
	}
	if err := cfg.validate(); err != nil {
		pkg.LogError(component, "invalid config", "error", err)
		os.Exit(1)
	}

	if err := setupLogging(cfg.Log); err != nil {
		pkg.LogError(component, "invalid log config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		pkg.LogError(component, "simulation failed", "error", err)
		os.Exit(1)
	}
}

func setupLogging(c LogConfig) error {
	level, err := pkg.ParseLogLevel(c.Level)
	if err != nil {
		return err
	}
	format, err := pkg.ParseLogFormat(c.Format)
	if err != nil {
		return err
	}
	pkg.SetLogFormat(format)
	pkg.SetLogLevel(level)
	return nil
}

func run(ctx context.Context, cfg Config) (err error) {
	session, err := prof.Start(cfg.Profile)
	if err != nil {
		return fmt.Errorf("profile: %w", err)
	}
	defer func() {
		if serr := session.Stop(); serr != nil && err == nil {
			err = fmt.Errorf("profile: %w", serr)
		}
	}()

	registry := metrics.NewRegistry()
	g, gctx := errgroup.WithContext(ctx)
	statsCtx, stopStats := context.WithCancel(gctx)
	defer stopStats()

	if cfg.Stats.Listen != "" {
		stats, err := newStats(cfg.Stats, registry, Build)
		if err != nil {
			return fmt.Errorf("stats: %w", err)
		}
		g.Go(func() error {
			return stats.run(statsCtx)
		})
	}

	var res result
	g.Go(func() error {
		defer stopStats()
		var err error
		res, err = runLoopback(gctx, cfg, registry)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	pkg.LogInfo(component, "loopback complete",
		"packets", humanize.Comma(int64(res.Packets)),
		"bytes", humanize.Bytes(res.Bytes),
		"elapsed", res.Elapsed.Round(time.Millisecond),
		"rate", humanize.Bytes(res.Rate())+"/s",
		"recvLoaded", res.Counters.RecvLoaded,
		"recvBytes", humanize.Bytes(res.Counters.RecvBytes),
		"sendBytes", humanize.Bytes(res.Counters.SendBytes))
	if pkg.GetLogLevel() <= slog.LevelDebug {
		registry.Each(func(name string, m any) {
			if c, ok := m.(metrics.Counter); ok {
				pkg.LogDebug(component, "metric", "name", name, "value", c.Count())
			}
		})
	}
	return nil
}
