package main

import (
	"fmt"
	"os"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/ardnew/softsdio/pkg"
	"github.com/ardnew/softsdio/pkg/prof"
	"github.com/ardnew/softsdio/slave"
)

// Config is the simulator configuration file.
type Config struct {
	Slave   slave.Config `yaml:"slave"`
	Log     LogConfig    `yaml:"log"`
	Stats   StatsConfig  `yaml:"stats"`
	Profile prof.Config  `yaml:"profile"`
	Run     RunConfig    `yaml:"run"`
}

// LogConfig selects the log level and format.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// StatsConfig exports the driver metrics to prometheus. An empty Listen
// disables the endpoint.
type StatsConfig struct {
	Listen    string        `yaml:"listen"`
	Path      string        `yaml:"path"`
	Namespace string        `yaml:"namespace"`
	Subsystem string        `yaml:"subsystem"`
	Interval  time.Duration `yaml:"interval"`
}

// RunConfig shapes the loopback traffic.
type RunConfig struct {
	// Packets is the number of packets the host sends; zero runs until
	// interrupted.
	Packets int `yaml:"packets"`
	// MinSize and MaxSize bound the random packet length.
	MinSize int `yaml:"min_size"`
	MaxSize int `yaml:"max_size"`
	// Buffers is the number of receive buffers the slave keeps loaded.
	Buffers int `yaml:"buffers"`
	// Timeout bounds each host transfer.
	Timeout time.Duration `yaml:"timeout"`
	// Latency delays every controller interrupt.
	Latency time.Duration `yaml:"latency"`
	// Seed seeds the payload generator; zero picks one from the clock.
	Seed uint64 `yaml:"seed"`
}

func defaultConfig() Config {
	return Config{
		Log: LogConfig{Level: "info", Format: "text"},
		Stats: StatsConfig{
			Path:      "/metrics",
			Namespace: "softsdio",
			Subsystem: "slave",
			Interval:  10 * time.Second,
		},
		Run: RunConfig{
			Packets: 1000,
			MinSize: 1,
			MaxSize: 1500,
			Timeout: 5 * time.Second,
		},
	}
}

// loadConfig reads path over the defaults. An empty path yields the defaults.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("%w: %s: %v", pkg.ErrInvalidArgument, path, err)
		}
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if err := c.Slave.ValidateAndSetDefaults(); err != nil {
		return err
	}
	if err := c.Profile.Validate(); err != nil {
		return err
	}
	if _, err := pkg.ParseLogLevel(c.Log.Level); err != nil {
		return err
	}
	if _, err := pkg.ParseLogFormat(c.Log.Format); err != nil {
		return err
	}

	r := &c.Run
	if r.Buffers == 0 {
		r.Buffers = c.Slave.RecvBufferCount
	}
	capacity := r.Buffers * c.Slave.RecvBufferSize
	switch {
	case r.Packets < 0:
		return fmt.Errorf("%w: run.packets %d", pkg.ErrInvalidArgument, r.Packets)
	case r.MinSize < 1 || r.MinSize > r.MaxSize:
		return fmt.Errorf("%w: run.min_size %d, run.max_size %d",
			pkg.ErrInvalidArgument, r.MinSize, r.MaxSize)
	case r.MaxSize > slave.MaxTransferSize:
		return fmt.Errorf("%w: run.max_size %d exceeds transfer limit %d",
			pkg.ErrInvalidArgument, r.MaxSize, slave.MaxTransferSize)
	case r.Buffers < 1 || r.Buffers > c.Slave.RecvBufferCount:
		return fmt.Errorf("%w: run.buffers %d (1-%d)",
			pkg.ErrInvalidArgument, r.Buffers, c.Slave.RecvBufferCount)
	case r.MaxSize > capacity:
		return fmt.Errorf("%w: run.max_size %d exceeds loaded buffer capacity %d",
			pkg.ErrInvalidArgument, r.MaxSize, capacity)
	case r.Timeout <= 0:
		return fmt.Errorf("%w: run.timeout %s", pkg.ErrInvalidArgument, r.Timeout)
	}

	if c.Stats.Listen != "" {
		if c.Stats.Path == "" {
			return fmt.Errorf("%w: stats.path should not be empty", pkg.ErrInvalidArgument)
		}
		if c.Stats.Interval <= 0 {
			return fmt.Errorf("%w: stats.interval %s", pkg.ErrInvalidArgument, c.Stats.Interval)
		}
	}
	return nil
}
