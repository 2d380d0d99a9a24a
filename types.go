package rtkernel

import "github.com/Swind/go-rtkernel/core"

// Re-export commonly used types from core package for convenience.
// This allows users to import only the rtkernel package for most use cases.

// Kernel is one scheduling domain: a logical core, its threads and its tick counter
type Kernel = core.Kernel

// Config holds kernel limits and handlers
type Config = core.Config

// Thread is a kernel thread control block
type Thread = core.Thread

// ThreadSpec describes a thread to create
type ThreadSpec = core.ThreadSpec

// ThreadOption adjusts optional thread attributes
type ThreadOption = core.ThreadOption

// Entry is a thread entry function
type Entry = core.Entry

// Priority orders threads; a lower value is more urgent
type Priority = core.Priority

// Wait is a wait option in ticks
type Wait = core.Wait

// ThreadState is the scheduling state of a thread
type ThreadState = core.ThreadState

// Mutex is a recursive mutex
type Mutex = core.Mutex

// InheritPolicy selects priority inheritance for a mutex
type InheritPolicy = core.InheritPolicy

// Pool is a byte pool
type Pool = core.Pool

// Block is a live byte pool allocation
type Block = core.Block

// Logger, Metrics and PanicHandler are the kernel hooks
type (
	Logger       = core.Logger
	Metrics      = core.Metrics
	PanicHandler = core.PanicHandler
)

// Wait options
const (
	NoWait      Wait = core.NoWait
	WaitForever Wait = core.WaitForever
)

// Mutex policies
const (
	NoInherit InheritPolicy = core.NoInherit
	Inherit   InheritPolicy = core.Inherit
)

// Thread states
const (
	StateReady            = core.StateReady
	StateRunning          = core.StateRunning
	StateSleeping         = core.StateSleeping
	StateSuspendedOnMutex = core.StateSuspendedOnMutex
	StateSuspendedOnPool  = core.StateSuspendedOnPool
	StateSuspended        = core.StateSuspended
	StateTerminated       = core.StateTerminated
)

// Kernel service errors, matched with errors.Is
var (
	ErrInvalidArgument    = core.ErrInvalidArgument
	ErrInvalidPriority    = core.ErrInvalidPriority
	ErrStackTooSmall      = core.ErrStackTooSmall
	ErrInsufficientMemory = core.ErrInsufficientMemory
	ErrInvalidRelease     = core.ErrInvalidRelease
	ErrNotAvailable       = core.ErrNotAvailable
	ErrNotOwner           = core.ErrNotOwner
	ErrTimeout            = core.ErrTimeout
	ErrPoolInvalid        = core.ErrPoolInvalid
	ErrInvalidCaller      = core.ErrInvalidCaller
	ErrInvalidState       = core.ErrInvalidState
	ErrDeleted            = core.ErrDeleted
	ErrKernelStopped      = core.ErrKernelStopped
)

// NewKernel creates a kernel; a nil cfg uses the defaults.
func NewKernel(cfg *Config) *Kernel {
	return core.New(cfg)
}

// WithPreemptThreshold lets only threads more urgent than p preempt the thread
var WithPreemptThreshold = core.WithPreemptThreshold

// CurrentThread retrieves the calling thread from context
var CurrentThread = core.CurrentThread
