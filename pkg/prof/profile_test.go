package prof

import (
	"errors"
	"testing"
)

func TestParseProfile(t *testing.T) {
	tests := []struct {
		in      string
		want    Profile
		wantErr bool
	}{
		{"cpu", ProfileCPU, false},
		{" Heap ", ProfileHeap, false},
		{"MUTEX", ProfileMutex, false},
		{"threadcreate", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParseProfile(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseProfile(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseProfile(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{Profiles: []Profile{ProfileCPU, "bogus"}}
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidProfile) {
		t.Errorf("Validate() error = %v, want %v", err, ErrInvalidProfile)
	}
	if _, err := Start(cfg); !errors.Is(err, ErrInvalidProfile) {
		t.Errorf("Start() error = %v, want %v", err, ErrInvalidProfile)
	}
}
