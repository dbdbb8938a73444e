package main

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rcrowley/go-metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/softsdio/pkg"
	"github.com/ardnew/softsdio/slave"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sim.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, slave.DefaultRecvBufferSize, cfg.Slave.RecvBufferSize)
	assert.Equal(t, slave.DefaultRecvBufferCount, cfg.Run.Buffers)
	assert.Equal(t, 1000, cfg.Run.Packets)
	assert.Empty(t, cfg.Stats.Listen)
}

func TestLoadConfig_File(t *testing.T) {
	path := writeConfig(t, `
slave:
  recv_buffer_size: 256
  recv_buffer_count: 8
  sending_mode: stream
  completion: poll
  poll_interval: 2ms
log:
  level: debug
  format: json
stats:
  listen: 127.0.0.1:0
  interval: 1s
run:
  packets: 5
  max_size: 2048
  buffers: 8
  timeout: 250ms
  seed: 42
`)
	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 256, cfg.Slave.RecvBufferSize)
	assert.Equal(t, slave.ModeStream, cfg.Slave.SendingMode)
	assert.Equal(t, slave.CompletionPoll, cfg.Slave.Completion)
	assert.Equal(t, 2*time.Millisecond, cfg.Slave.PollInterval)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "/metrics", cfg.Stats.Path, "default kept")
	assert.Equal(t, time.Second, cfg.Stats.Interval)
	assert.Equal(t, 5, cfg.Run.Packets)
	assert.Equal(t, 1, cfg.Run.MinSize, "default kept")
	assert.Equal(t, 250*time.Millisecond, cfg.Run.Timeout)
	assert.Equal(t, uint64(42), cfg.Run.Seed)
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed", "slave: [\n"},
		{"bad mode", "slave:\n  sending_mode: burst\n"},
		{"oversize packet", "run:\n  max_size: 5000\n"},
		{"packet exceeds buffers", "slave:\n  recv_buffer_size: 64\nrun:\n  buffers: 4\n  max_size: 512\n"},
		{"too many buffers", "slave:\n  recv_buffer_count: 4\nrun:\n  buffers: 8\n  max_size: 64\n"},
		{"min over max", "run:\n  min_size: 100\n  max_size: 10\n"},
		{"log level", "log:\n  level: loud\n"},
		{"profile", "profile:\n  profiles: [cpu, wall]\n"},
		{"stats path", "stats:\n  listen: 127.0.0.1:0\n  path: \"\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadConfig(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}

	_, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func loopbackConfig(t *testing.T, mutate func(*Config)) Config {
	t.Helper()
	cfg := defaultConfig()
	cfg.Run.Packets = 40
	cfg.Run.MaxSize = 1200
	cfg.Run.Seed = 7
	if mutate != nil {
		mutate(&cfg)
	}
	require.NoError(t, cfg.validate())
	return cfg
}

func TestRunLoopback(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"packet interrupt", nil},
		{"stream", func(c *Config) { c.Slave.SendingMode = slave.ModeStream }},
		{"poll", func(c *Config) { c.Slave.Completion = slave.CompletionPoll }},
		{"small buffers", func(c *Config) {
			c.Slave.RecvBufferSize = 128
			c.Run.Buffers = 12
		}},
		{"latency", func(c *Config) { c.Run.Latency = 100 * time.Microsecond }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := loopbackConfig(t, tt.mutate)
			r := metrics.NewRegistry()

			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
			defer cancel()
			res, err := runLoopback(ctx, cfg, r)
			require.NoError(t, err)

			assert.Equal(t, cfg.Run.Packets, res.Packets)
			assert.Equal(t, res.Bytes, res.Counters.RecvBytes)
			assert.Equal(t, res.Bytes, res.Counters.SendBytes)
			assert.EqualValues(t, cfg.Run.Packets, metrics.GetOrRegisterCounter(slave.MetricRecvPackets, r).Count())
			assert.EqualValues(t, res.Bytes, metrics.GetOrRegisterCounter(slave.MetricRecvBytes, r).Count())
		})
	}
}

func TestRunLoopback_Cancel(t *testing.T) {
	cfg := loopbackConfig(t, func(c *Config) { c.Run.Packets = 0 })

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	res, err := runLoopback(ctx, cfg, metrics.NewRegistry())
	require.NoError(t, err)
	assert.Positive(t, res.Packets)
}

func TestStatsServer(t *testing.T) {
	r := metrics.NewRegistry()
	metrics.GetOrRegisterCounter(slave.MetricRecvPackets, r).Inc(3)

	s, err := newStats(StatsConfig{
		Listen:    "127.0.0.1:0",
		Path:      "/metrics",
		Namespace: "softsdio",
		Subsystem: "slave",
		Interval:  time.Hour,
	}, r, "test")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.run(ctx) }()

	var body string
	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + s.Addr() + "/metrics")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		b, err := io.ReadAll(resp.Body)
		if err != nil || resp.StatusCode != http.StatusOK {
			return false
		}
		body = string(b)
		return strings.Contains(body, "recv_packets")
	}, 5*time.Second, 20*time.Millisecond)

	assert.Contains(t, body, "softsdio_slave_info")
	assert.Contains(t, body, `version="test"`)
	assert.Contains(t, body, "recv_packets")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("stats server did not stop")
	}
}

func TestRun(t *testing.T) {
	cfg := loopbackConfig(t, func(c *Config) {
		c.Stats.Listen = "127.0.0.1:0"
		c.Stats.Interval = 50 * time.Millisecond
		c.Run.Packets = 10
	})
	require.NoError(t, cfg.validate())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	assert.NoError(t, run(ctx, cfg))
}

func TestSetupLogging(t *testing.T) {
	defer pkg.SetLogLevel(pkg.GetLogLevel())
	assert.NoError(t, setupLogging(LogConfig{Level: "warn", Format: "text"}))
	assert.Error(t, setupLogging(LogConfig{Level: "warn", Format: "xml"}))
}
