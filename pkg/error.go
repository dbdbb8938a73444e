package pkg

import (
	"context"
	"errors"
)

// Driver errors.
var (
	// ErrInvalidArgument indicates malformed or out-of-domain input, including
	// a handle that is not in the state the operation expects.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInvalidState indicates the driver lifecycle does not permit the operation.
	ErrInvalidState = errors.New("invalid driver state")

	// ErrTimeout indicates a bounded wait elapsed with no event.
	ErrTimeout = errors.New("operation timed out")

	// ErrCancelled indicates the wait was abandoned by its context.
	ErrCancelled = errors.New("operation cancelled")

	// ErrNoMemory indicates a descriptor pool or queue could not be allocated.
	ErrNoMemory = errors.New("insufficient memory")

	// ErrNotFound indicates no free interrupt line was available.
	ErrNotFound = errors.New("no free interrupt")

	// ErrNotRunning indicates the hardware is stopped.
	ErrNotRunning = errors.New("not running")

	// ErrBusy indicates the hardware is already bound to a driver. It is
	// reported together with ErrNotFound, since the bound driver holds the
	// interrupt line.
	ErrBusy = errors.New("resource busy")

	// ErrRingFull indicates every descriptor in a DMA ring is mounted.
	ErrRingFull = errors.New("descriptor ring full")

	// ErrProtocol indicates a malformed transport message.
	ErrProtocol = errors.New("protocol error")

	// ErrBufferTooSmall indicates the provided buffer is too small.
	ErrBufferTooSmall = errors.New("buffer too small")
)

// Status is a compact result code for reporting driver errors across a
// transport that cannot carry Go error values.
type Status uint8

// Status values.
const (
	StatusOK Status = iota
	StatusInvalidArgument
	StatusInvalidState
	StatusTimeout
	StatusCancelled
	StatusNoMemory
	StatusNotFound
	StatusNotRunning
	StatusError
)

// String returns a string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusInvalidArgument:
		return "invalid argument"
	case StatusInvalidState:
		return "invalid state"
	case StatusTimeout:
		return "timeout"
	case StatusCancelled:
		return "cancelled"
	case StatusNoMemory:
		return "no memory"
	case StatusNotFound:
		return "not found"
	case StatusNotRunning:
		return "not running"
	default:
		return "error"
	}
}

// Error returns the sentinel error corresponding to the status.
func (s Status) Error() error {
	switch s {
	case StatusOK:
		return nil
	case StatusInvalidArgument:
		return ErrInvalidArgument
	case StatusInvalidState:
		return ErrInvalidState
	case StatusTimeout:
		return ErrTimeout
	case StatusCancelled:
		return ErrCancelled
	case StatusNoMemory:
		return ErrNoMemory
	case StatusNotFound:
		return ErrNotFound
	case StatusNotRunning:
		return ErrNotRunning
	default:
		return ErrProtocol
	}
}

// StatusOf classifies err into a Status.
func StatusOf(err error) Status {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, ErrInvalidArgument):
		return StatusInvalidArgument
	case errors.Is(err, ErrInvalidState):
		return StatusInvalidState
	case errors.Is(err, ErrTimeout):
		return StatusTimeout
	case errors.Is(err, ErrCancelled):
		return StatusCancelled
	case errors.Is(err, ErrNoMemory):
		return StatusNoMemory
	case errors.Is(err, ErrNotFound):
		return StatusNotFound
	case errors.Is(err, ErrNotRunning):
		return StatusNotRunning
	default:
		return StatusError
	}
}

// ContextError converts the error of a finished context into the driver
// taxonomy: an expired deadline becomes [ErrTimeout], anything else
// [ErrCancelled]. It returns nil if ctx is not done.
func ContextError(ctx context.Context) error {
	switch err := ctx.Err(); {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return ErrTimeout
	default:
		return ErrCancelled
	}
}
