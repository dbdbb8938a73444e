package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"runtime"
	"time"

	mp "github.com/nbrownus/go-metrics-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rcrowley/go-metrics"

	"github.com/ardnew/softsdio/pkg"
	"github.com/ardnew/softsdio/pkg/prof"
)

// statsServer exports a go-metrics registry over HTTP in prometheus format.
type statsServer struct {
	cfg      StatsConfig
	registry metrics.Registry
	provider *mp.PrometheusConfig
	server   *http.Server
	listener net.Listener
}

// newStats binds the stats listener. The driver registry is bridged into a
// private prometheus registry that also carries a static build info gauge.
func newStats(cfg StatsConfig, r metrics.Registry, version string) (*statsServer, error) {
	metrics.RegisterRuntimeMemStats(r)

	pr := prometheus.NewRegistry()
	provider := mp.NewPrometheusProvider(r, cfg.Namespace, cfg.Subsystem, pr, cfg.Interval)

	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: cfg.Namespace,
		Subsystem: cfg.Subsystem,
		Name:      "info",
		Help:      "Version information for the simulator binary",
		ConstLabels: prometheus.Labels{
			"version":   version,
			"goversion": runtime.Version(),
		},
	})
	pr.MustRegister(g)
	g.Set(1)

	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(pr, promhttp.HandlerOpts{
		ErrorLog: slog.NewLogLogger(pkg.With(pkg.ComponentStats).Handler(), slog.LevelError),
	}))
	prof.Register(mux)

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return nil, err
	}
	return &statsServer{
		cfg:      cfg,
		registry: r,
		provider: provider,
		server:   &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		listener: ln,
	}, nil
}

// Addr returns the bound listen address.
func (s *statsServer) Addr() string {
	return s.listener.Addr().String()
}

// run serves until ctx is done, flushing the registry every interval.
func (s *statsServer) run(ctx context.Context) error {
	pkg.LogInfo(pkg.ComponentStats, "prometheus stats listening",
		"addr", s.Addr(),
		"path", s.cfg.Path)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.Serve(s.listener)
	}()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	s.flush()
	for {
		select {
		case <-ticker.C:
			s.flush()
		case err := <-errCh:
			return err
		case <-ctx.Done():
			s.flush()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			err := s.server.Shutdown(shutdownCtx)
			if serveErr := <-errCh; !errors.Is(serveErr, http.ErrServerClosed) && err == nil {
				err = serveErr
			}
			return err
		}
	}
}

func (s *statsServer) flush() {
	metrics.CaptureRuntimeMemStatsOnce(s.registry)
	if err := s.provider.UpdatePrometheusMetricsOnce(); err != nil {
		pkg.LogWarn(pkg.ComponentStats, "metrics flush failed", "error", err)
	}
}
