//go:build profile

package prof

import (
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"path/filepath"
	"runtime"
	rpprof "runtime/pprof"
	"sync"

	"go.uber.org/multierr"
)

// Enabled reports whether the binary was built with the "profile" tag.
const Enabled = true

var (
	activeMutex sync.Mutex
	active      bool
)

// Session is a running profiling session.
type Session struct {
	cfg Config
	cpu *os.File
}

// Start begins a session. Only one session may run at a time.
func Start(cfg Config) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	activeMutex.Lock()
	defer activeMutex.Unlock()
	if active {
		return nil, ErrActive
	}

	if cfg.Dir == "" {
		cfg.Dir = "."
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("profile dir: %w", err)
	}

	s := &Session{cfg: cfg}
	if cfg.has(ProfileCPU) {
		f, err := os.Create(s.path(ProfileCPU))
		if err != nil {
			return nil, err
		}
		if err := rpprof.StartCPUProfile(f); err != nil {
			return nil, multierr.Append(err, f.Close())
		}
		s.cpu = f
	}
	if cfg.has(ProfileBlock) {
		runtime.SetBlockProfileRate(max(cfg.BlockRate, 1))
	}
	if cfg.has(ProfileMutex) {
		runtime.SetMutexProfileFraction(max(cfg.MutexFraction, 1))
	}
	active = true
	return s, nil
}

func (s *Session) path(p Profile) string {
	return filepath.Join(s.cfg.Dir, string(p)+".pprof")
}

// Stop ends the CPU profile and writes every snapshot profile.
func (s *Session) Stop() error {
	activeMutex.Lock()
	defer activeMutex.Unlock()
	if !active {
		return nil
	}
	active = false

	var err error
	if s.cpu != nil {
		rpprof.StopCPUProfile()
		err = multierr.Append(err, s.cpu.Close())
		s.cpu = nil
	}
	for _, p := range s.cfg.Profiles {
		if p == ProfileCPU {
			continue
		}
		err = multierr.Append(err, s.snapshot(p))
	}
	if s.cfg.has(ProfileBlock) {
		runtime.SetBlockProfileRate(0)
	}
	if s.cfg.has(ProfileMutex) {
		runtime.SetMutexProfileFraction(0)
	}
	return err
}

func (s *Session) snapshot(p Profile) (err error) {
	profile := rpprof.Lookup(string(p))
	if profile == nil {
		return fmt.Errorf("%w: %s", ErrInvalidProfile, p)
	}
	f, err := os.Create(s.path(p))
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, f.Close()) }()
	return profile.WriteTo(f, 0)
}

// Register mounts the /debug/pprof/ handlers on mux.
func Register(mux *http.ServeMux) {
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
}
