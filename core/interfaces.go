package core

import (
	"context"
	"fmt"
)

// =============================================================================
// PanicHandler: Interface for handling thread panics
// =============================================================================

// PanicHandler is called when a thread entry function panics.
// The panicking thread is terminated and the kernel keeps scheduling the others.
//
// Implementations must not block: the handler runs on the panicking thread
// before the next thread is dispatched.
type PanicHandler interface {
	// HandlePanic is called when a thread panics.
	//
	// Parameters:
	// - ctx: The context of the panicked thread
	// - kernelID: The ID of the kernel that owns the thread
	// - threadName: The name of the thread
	// - panicInfo: The panic value recovered from the entry function
	// - stackTrace: The stack trace at the time of panic
	HandlePanic(ctx context.Context, kernelID string, threadName string, panicInfo any, stackTrace []byte)
}

// DefaultPanicHandler provides a basic panic handler that logs to stdout.
type DefaultPanicHandler struct{}

// HandlePanic prints panic information to stdout.
func (h *DefaultPanicHandler) HandlePanic(ctx context.Context, kernelID string, threadName string, panicInfo any, stackTrace []byte) {
	fmt.Printf("[Kernel %s / thread %s] Panic: %v\nStack trace:\n%s",
		kernelID, threadName, panicInfo, stackTrace)
}

// =============================================================================
// Metrics: Interface for observability and monitoring
// =============================================================================

// Metrics defines the interface for collecting kernel metrics.
// Implementations can send metrics to monitoring systems (Prometheus, StatsD, etc.).
//
// Methods may be called with the kernel lock held, so they must be non-blocking
// and must not call back into the kernel.
type Metrics interface {
	// RecordContextSwitch records that the core moved from one thread to another.
	// An empty name stands for the idle core.
	RecordContextSwitch(kernelID string, from string, to string)

	// RecordWaitTimeout records a bounded wait that expired on the named object.
	RecordWaitTimeout(kernelID string, object string)

	// RecordMutexContention records a Get that found the mutex owned by another thread.
	RecordMutexContention(kernelID string, mutex string)

	// RecordAllocation records an allocation attempt of size bytes from a byte pool.
	RecordAllocation(kernelID string, pool string, size int, ok bool)

	// RecordThreadPanic records that a thread entry function panicked.
	RecordThreadPanic(kernelID string, thread string, panicInfo any)
}

// NilMetrics provides a no-op metrics implementation that does nothing.
// This is the default when no metrics interface is provided.
type NilMetrics struct{}

func (m *NilMetrics) RecordContextSwitch(kernelID string, from string, to string)      {}
func (m *NilMetrics) RecordWaitTimeout(kernelID string, object string)                 {}
func (m *NilMetrics) RecordMutexContention(kernelID string, mutex string)              {}
func (m *NilMetrics) RecordAllocation(kernelID string, pool string, size int, ok bool) {}
func (m *NilMetrics) RecordThreadPanic(kernelID string, thread string, panicInfo any)  {}

// =============================================================================
// Config: Configuration for Kernel
// =============================================================================

const (
	// DefaultMaxPriorities matches the usual 32 priority levels of small RTOS ports.
	DefaultMaxPriorities Priority = 32

	// DefaultMinStackSize is the smallest stack region a thread may be created with.
	DefaultMinStackSize = 200

	defaultSwitchHistory = 100
)

// Config holds configuration options for Kernel.
// All handlers are optional; if not provided, default implementations will be used.
type Config struct {
	// MaxPriorities bounds thread priorities to [0, MaxPriorities). 0 selects DefaultMaxPriorities.
	MaxPriorities Priority

	// MinStackSize is the minimum stack length accepted by CreateThread. 0 selects DefaultMinStackSize.
	MinStackSize int

	// SwitchHistory is how many context switches RecentSwitches can report. 0 selects 100.
	SwitchHistory int

	// Logger receives kernel lifecycle events. Defaults to NoOpLogger.
	Logger Logger

	// Metrics is called to record kernel metrics. Defaults to NilMetrics.
	Metrics Metrics

	// PanicHandler is called when a thread panics. Defaults to DefaultPanicHandler.
	PanicHandler PanicHandler
}

// DefaultConfig returns a config with default limits and handlers.
func DefaultConfig() *Config {
	return &Config{
		MaxPriorities: DefaultMaxPriorities,
		MinStackSize:  DefaultMinStackSize,
		SwitchHistory: defaultSwitchHistory,
		Logger:        NewNoOpLogger(),
		Metrics:       &NilMetrics{},
		PanicHandler:  &DefaultPanicHandler{},
	}
}

// withDefaults returns a copy of c with every unset field filled in.
func (c *Config) withDefaults() Config {
	var out Config
	if c != nil {
		out = *c
	}
	if out.MaxPriorities == 0 {
		out.MaxPriorities = DefaultMaxPriorities
	}
	if out.MinStackSize <= 0 {
		out.MinStackSize = DefaultMinStackSize
	}
	if out.SwitchHistory <= 0 {
		out.SwitchHistory = defaultSwitchHistory
	}
	if out.Logger == nil {
		out.Logger = NewNoOpLogger()
	}
	if out.Metrics == nil {
		out.Metrics = &NilMetrics{}
	}
	if out.PanicHandler == nil {
		out.PanicHandler = &DefaultPanicHandler{}
	}
	return out
}
