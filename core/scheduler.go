package core

import (
	"context"
	"fmt"
	"runtime"
	"slices"
)

// CreateThread creates a thread bound to spec.Entry. With AutoStart the thread
// is ready at once, otherwise it waits in StateSuspended for Resume. When the
// calling thread creates a more urgent thread it is preempted on return.
func (k *Kernel) CreateThread(ctx context.Context, spec ThreadSpec, opts ...ThreadOption) (*Thread, error) {
	if spec.Entry == nil {
		return nil, fmt.Errorf("create thread %q: nil entry: %w", spec.Name, ErrInvalidArgument)
	}
	if spec.Priority >= k.cfg.MaxPriorities {
		return nil, fmt.Errorf("create thread %q: priority %d of %d: %w", spec.Name, spec.Priority, k.cfg.MaxPriorities, ErrInvalidPriority)
	}
	if len(spec.Stack) < k.cfg.MinStackSize {
		return nil, fmt.Errorf("create thread %q: %d bytes, need %d: %w", spec.Name, len(spec.Stack), k.cfg.MinStackSize, ErrStackTooSmall)
	}

	var o threadOptions
	for _, opt := range opts {
		opt(&o)
	}
	threshold := spec.Priority
	if o.hasThreshold {
		if o.threshold > spec.Priority {
			return nil, fmt.Errorf("create thread %q: preempt threshold %d less urgent than priority %d: %w", spec.Name, o.threshold, spec.Priority, ErrInvalidArgument)
		}
		threshold = o.threshold
	}

	t := &Thread{
		k:            k,
		name:         spec.Name,
		entry:        spec.Entry,
		input:        spec.Input,
		stack:        spec.Stack,
		basePriority: spec.Priority,
		priority:     spec.Priority,
		threshold:    threshold,
		timeSlice:    spec.TimeSlice,
		sliceLeft:    spec.TimeSlice,
		waitIndex:    -1,
		wake:         make(chan struct{}, 1),
		kill:         make(chan struct{}),
	}

	caller := k.enter(ctx)
	if k.stopped {
		k.mu.Unlock()
		return nil, fmt.Errorf("create thread %q: %w", spec.Name, ErrKernelStopped)
	}
	t.ctx = context.WithValue(k.ctx, threadKey, t)
	k.threads = append(k.threads, t)
	k.wg.Add(1)
	go k.threadMain(t)

	if spec.AutoStart {
		k.makeReadyLocked(t)
	} else {
		t.state = StateSuspended
	}
	k.logger.Debug("thread created",
		F("kernel", k.id),
		F("thread", t.name),
		F("priority", t.basePriority),
		F("threshold", t.threshold),
		F("time_slice", t.timeSlice),
		F("auto_start", spec.AutoStart))
	k.leave(caller)
	return t, nil
}

// Sleep suspends the calling thread for exactly ticks ticks. Sleep(0) yields
// to ready threads of equal or higher priority.
func (k *Kernel) Sleep(ctx context.Context, ticks uint32) error {
	t := k.enter(ctx)
	if !k.running(t) {
		k.mu.Unlock()
		return fmt.Errorf("sleep: %w", ErrInvalidCaller)
	}
	if ticks == 0 {
		k.yieldLocked(t)
		return nil
	}
	return k.suspendLocked(t, StateSleeping, Wait(ticks), SwitchSleep)
}

// Relinquish yields the core to ready threads of equal or higher priority.
func (k *Kernel) Relinquish(ctx context.Context) error {
	t := k.enter(ctx)
	if !k.running(t) {
		k.mu.Unlock()
		return fmt.Errorf("relinquish: %w", ErrInvalidCaller)
	}
	k.yieldLocked(t)
	return nil
}

func (k *Kernel) yieldLocked(t *Thread) {
	if p, ok := k.ready.highest(); ok && p <= t.priority {
		k.requeueLocked(t)
		k.switchLocked(t, SwitchYield)
		return
	}
	k.leave(t)
}

// Resume readies a thread created without auto start.
func (k *Kernel) Resume(ctx context.Context, t *Thread) error {
	caller := k.enter(ctx)
	if t == nil || t.k != k {
		k.mu.Unlock()
		return fmt.Errorf("resume: foreign thread: %w", ErrInvalidArgument)
	}
	if t.state != StateSuspended {
		state := t.state
		k.mu.Unlock()
		return fmt.Errorf("resume %q: thread is %s: %w", t.name, state, ErrInvalidState)
	}
	k.makeReadyLocked(t)
	k.leave(caller)
	return nil
}

// Terminate stops t. Mutexes it owns are released to their next waiters and it
// leaves any wait queue. A thread terminating itself does not return. The
// running thread terminated from outside finishes at its next kernel call.
func (k *Kernel) Terminate(ctx context.Context, t *Thread) error {
	caller := k.enter(ctx)
	if t == nil || t.k != k {
		k.mu.Unlock()
		return fmt.Errorf("terminate: foreign thread: %w", ErrInvalidArgument)
	}
	if t.state == StateTerminated {
		k.leave(caller)
		return nil
	}
	if t == k.current {
		if caller != t {
			t.pendingTerminate = true
			k.mu.Unlock()
			return nil
		}
		k.terminateLocked(t)
		k.logger.Debug("thread terminated", F("kernel", k.id), F("thread", t.name))
		k.dispatchLocked(t, SwitchTerminate)
		k.mu.Unlock()
		runtime.Goexit()
	}
	k.terminateLocked(t)
	k.logger.Debug("thread terminated", F("kernel", k.id), F("thread", t.name))
	k.leave(caller)
	return nil
}

// DeleteThread forgets a terminated thread. Its stack is not released; the
// caller returns it to the pool it came from.
func (k *Kernel) DeleteThread(t *Thread) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if t == nil || t.k != k {
		return fmt.Errorf("delete thread: foreign thread: %w", ErrInvalidArgument)
	}
	if t.state != StateTerminated {
		return fmt.Errorf("delete thread %q: thread is %s: %w", t.name, t.state, ErrInvalidState)
	}
	i := slices.Index(k.threads, t)
	if i < 0 {
		return fmt.Errorf("delete thread %q: already deleted: %w", t.name, ErrInvalidState)
	}
	k.threads = slices.Delete(k.threads, i, i+1)
	return nil
}
