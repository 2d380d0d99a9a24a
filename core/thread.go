package core

import (
	"container/list"
	"context"
	"math"
)

// Priority orders threads; a lower value is more urgent.
type Priority uint32

// Wait selects how long a blocking service may suspend the caller, in ticks.
type Wait uint32

const (
	// NoWait fails immediately instead of suspending.
	NoWait Wait = 0
	// WaitForever suspends until the request is satisfied.
	WaitForever Wait = math.MaxUint32
)

// ThreadState is the scheduling state of a thread.
type ThreadState int

const (
	StateReady ThreadState = iota
	StateRunning
	StateSleeping
	StateSuspendedOnMutex
	StateSuspendedOnPool
	// StateSuspended is a thread created without auto start, waiting for Resume.
	StateSuspended
	StateTerminated
)

func (s ThreadState) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateSleeping:
		return "sleeping"
	case StateSuspendedOnMutex:
		return "suspended_on_mutex"
	case StateSuspendedOnPool:
		return "suspended_on_pool"
	case StateSuspended:
		return "suspended"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Entry is a thread entry function. ctx identifies the thread to kernel
// services and is canceled when the kernel shuts down.
type Entry func(ctx context.Context, input uint64)

// ThreadSpec describes a thread to create.
type ThreadSpec struct {
	Name  string
	Entry Entry
	Input uint64
	// Stack is the thread's stack region, usually a block from a byte pool.
	// The thread owns it until deleted; the kernel never frees it.
	Stack     []byte
	Priority  Priority
	TimeSlice uint32 // ticks; 0 disables time slicing
	AutoStart bool
}

// ThreadOption adjusts optional thread attributes.
type ThreadOption func(*threadOptions)

type threadOptions struct {
	threshold    Priority
	hasThreshold bool
}

// WithPreemptThreshold lets only threads more urgent than p preempt the
// thread. p must not be less urgent than the thread priority.
func WithPreemptThreshold(p Priority) ThreadOption {
	return func(o *threadOptions) {
		o.threshold = p
		o.hasThreshold = true
	}
}

// Thread is a kernel thread control block.
// All fields are guarded by the owning kernel's lock.
type Thread struct {
	k     *Kernel
	name  string
	entry Entry
	input uint64
	stack []byte
	ctx   context.Context

	basePriority Priority
	priority     Priority // effective, raised by priority inheritance
	threshold    Priority
	timeSlice    uint32
	sliceLeft    uint32
	sliceExpired bool

	state            ThreadState
	runCount         uint64
	pendingTerminate bool

	readyElem *list.Element

	// wait bookkeeping
	waitSeq   uint64
	waitIndex int
	waitMutex *Mutex
	waitPool  *Pool
	waitSize  int
	waitBlock *Block
	waitErr   error
	timer     *timerEntry

	owned []*Mutex

	wake   chan struct{}
	kill   chan struct{}
	killed bool
}

// Name returns the thread name.
func (t *Thread) Name() string { return t.name }

// Kernel returns the kernel that owns the thread.
func (t *Thread) Kernel() *Kernel { return t.k }

// State returns the current scheduling state.
func (t *Thread) State() ThreadState {
	t.k.mu.Lock()
	defer t.k.mu.Unlock()
	return t.state
}

// Priority returns the effective priority, including any inherited boost.
func (t *Thread) Priority() Priority {
	t.k.mu.Lock()
	defer t.k.mu.Unlock()
	return t.priority
}

// BasePriority returns the priority the thread was created with.
func (t *Thread) BasePriority() Priority {
	t.k.mu.Lock()
	defer t.k.mu.Unlock()
	return t.basePriority
}

// RunCount returns how many times the thread has been dispatched.
func (t *Thread) RunCount() uint64 {
	t.k.mu.Lock()
	defer t.k.mu.Unlock()
	return t.runCount
}

// Info returns a snapshot of the thread control block.
func (t *Thread) Info() ThreadInfo {
	t.k.mu.Lock()
	defer t.k.mu.Unlock()
	owned := make([]string, 0, len(t.owned))
	for _, m := range t.owned {
		owned = append(owned, m.name)
	}
	return ThreadInfo{
		Name:              t.name,
		State:             t.state,
		Priority:          t.basePriority,
		EffectivePriority: t.priority,
		PreemptThreshold:  t.threshold,
		TimeSlice:         t.timeSlice,
		RunCount:          t.runCount,
		StackSize:         len(t.stack),
		OwnedMutexes:      owned,
	}
}

// preemptLimit is the priority a ready thread must beat to preempt t.
func (t *Thread) preemptLimit() Priority {
	return min(t.threshold, t.priority)
}

// =============================================================================
// Context Helper
// =============================================================================
type threadKeyType struct{}

var threadKey threadKeyType

// CurrentThread returns the thread a context belongs to, or nil outside a thread.
func CurrentThread(ctx context.Context) *Thread {
	if ctx == nil {
		return nil
	}
	if v := ctx.Value(threadKey); v != nil {
		return v.(*Thread)
	}
	return nil
}
