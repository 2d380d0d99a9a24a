package core

import (
	"errors"
	"fmt"
)

// Kernel service errors. Callers match them with errors.Is; the kernel wraps
// them with the object name and operation.
var (
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrInvalidPriority    = fmt.Errorf("%w: priority out of range", ErrInvalidArgument)
	ErrStackTooSmall      = fmt.Errorf("%w: stack too small", ErrInvalidArgument)
	ErrInsufficientMemory = errors.New("insufficient memory")
	ErrInvalidRelease     = errors.New("block not allocated from this pool")
	ErrNotAvailable       = errors.New("not available")
	ErrNotOwner           = errors.New("caller does not own mutex")
	ErrTimeout            = errors.New("wait timed out")
	ErrPoolInvalid        = errors.New("invalid byte pool")

	// ErrInvalidCaller is returned when a service that needs a calling thread
	// is invoked from outside a running kernel thread.
	ErrInvalidCaller = errors.New("caller is not the running thread")
	ErrInvalidState  = errors.New("invalid object state")
	ErrDeleted       = errors.New("object deleted while waiting")
	ErrKernelStopped = errors.New("kernel stopped")
)
