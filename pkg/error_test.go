package pkg

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestStatus_String(t *testing.T) {
	tests := []struct {
		status Status
		want   string
	}{
		{StatusOK, "ok"},
		{StatusInvalidArgument, "invalid argument"},
		{StatusInvalidState, "invalid state"},
		{StatusTimeout, "timeout"},
		{StatusCancelled, "cancelled"},
		{StatusNoMemory, "no memory"},
		{StatusNotFound, "not found"},
		{StatusNotRunning, "not running"},
		{Status(99), "error"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.status.String(); got != tt.want {
				t.Errorf("Status.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStatus_RoundTrip(t *testing.T) {
	tests := []struct {
		err  error
		want Status
	}{
		{nil, StatusOK},
		{ErrInvalidArgument, StatusInvalidArgument},
		{fmt.Errorf("load: %w", ErrInvalidArgument), StatusInvalidArgument},
		{ErrInvalidState, StatusInvalidState},
		{ErrTimeout, StatusTimeout},
		{ErrCancelled, StatusCancelled},
		{ErrNoMemory, StatusNoMemory},
		{ErrNotFound, StatusNotFound},
		{ErrNotRunning, StatusNotRunning},
		{errors.New("other"), StatusError},
	}

	for _, tt := range tests {
		t.Run(tt.want.String(), func(t *testing.T) {
			got := StatusOf(tt.err)
			if got != tt.want {
				t.Fatalf("StatusOf(%v) = %v, want %v", tt.err, got, tt.want)
			}
			back := got.Error()
			if tt.err == nil {
				if back != nil {
					t.Errorf("Status.Error() = %v, want nil", back)
				}
				return
			}
			if got != StatusError && !errors.Is(tt.err, back) {
				t.Errorf("Status.Error() = %v, not matched by %v", back, tt.err)
			}
		})
	}
}

func TestContextError(t *testing.T) {
	if err := ContextError(context.Background()); err != nil {
		t.Errorf("ContextError(live) = %v, want nil", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 0)
	defer cancel()
	<-ctx.Done()
	if err := ContextError(ctx); !errors.Is(err, ErrTimeout) {
		t.Errorf("ContextError(deadline) = %v, want %v", err, ErrTimeout)
	}

	ctx, cancel = context.WithCancel(context.Background())
	cancel()
	if err := ContextError(ctx); !errors.Is(err, ErrCancelled) {
		t.Errorf("ContextError(cancel) = %v, want %v", err, ErrCancelled)
	}

	ctx, cancel = context.WithTimeout(context.Background(), time.Hour)
	defer cancel()
	if err := ContextError(ctx); err != nil {
		t.Errorf("ContextError(pending) = %v, want nil", err)
	}
}

func TestSentinelErrors(t *testing.T) {
	// Verify all sentinel errors are distinct
	errs := []error{
		ErrInvalidArgument,
		ErrInvalidState,
		ErrTimeout,
		ErrCancelled,
		ErrNoMemory,
		ErrNotFound,
		ErrNotRunning,
		ErrBusy,
		ErrRingFull,
		ErrProtocol,
		ErrBufferTooSmall,
	}

	for i, err1 := range errs {
		if err1 == nil {
			t.Errorf("error %d is nil", i)
			continue
		}
		for j, err2 := range errs {
			if i != j && errors.Is(err1, err2) {
				t.Errorf("error %d and %d are equal", i, j)
			}
		}
	}
}
