package prof

import (
	"errors"
	"fmt"
	"strings"
)

// Errors.
var (
	// ErrActive indicates a profiling session is already running.
	ErrActive = errors.New("profiling session already active")

	// ErrInvalidProfile indicates an unknown profile name.
	ErrInvalidProfile = errors.New("invalid profile")
)

// Profile names a pprof profile.
type Profile string

// Profiles a session can capture.
const (
	ProfileCPU       Profile = "cpu"
	ProfileHeap      Profile = "heap"
	ProfileAllocs    Profile = "allocs"
	ProfileGoroutine Profile = "goroutine"
	ProfileBlock     Profile = "block"
	ProfileMutex     Profile = "mutex"
)

// ParseProfile parses a profile name.
func ParseProfile(s string) (Profile, error) {
	switch p := Profile(strings.ToLower(strings.TrimSpace(s))); p {
	case ProfileCPU, ProfileHeap, ProfileAllocs, ProfileGoroutine, ProfileBlock, ProfileMutex:
		return p, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidProfile, s)
}

// Config selects what a session captures.
type Config struct {
	// Dir receives one <profile>.pprof file per profile.
	Dir string `yaml:"dir"`
	// Profiles lists the profiles to capture. The CPU profile runs for the
	// whole session; the others are snapshots taken at Stop.
	Profiles []Profile `yaml:"profiles"`
	// BlockRate is passed to runtime.SetBlockProfileRate when the block
	// profile is selected. Zero means 1.
	BlockRate int `yaml:"block_rate"`
	// MutexFraction is passed to runtime.SetMutexProfileFraction when the
	// mutex profile is selected. Zero means 1.
	MutexFraction int `yaml:"mutex_fraction"`
}

// Validate checks the profile names.
func (c Config) Validate() error {
	for _, p := range c.Profiles {
		if _, err := ParseProfile(string(p)); err != nil {
			return err
		}
	}
	return nil
}

func (c Config) has(p Profile) bool {
	for _, q := range c.Profiles {
		if q == p {
			return true
		}
	}
	return false
}
