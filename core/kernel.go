package core

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kernel is one independent scheduling domain: a single logical core, its
// threads, and the tick counter that drives sleeps and timeouts.
//
// Every control structure is guarded by mu; holding it is the equivalent of
// running with preemption disabled. Each thread runs on its own goroutine, but
// only the dispatched thread is ever released from park, so exactly one thread
// executes user code at a time.
type Kernel struct {
	id           string
	cfg          Config
	logger       Logger
	metrics      Metrics
	panicHandler PanicHandler

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	wg     sync.WaitGroup

	started bool
	stopped bool
	ticks   uint64
	current *Thread
	ready   *readyQueue
	timers  timerList
	threads []*Thread

	switches   uint64
	history    switchHistory
	idle       chan struct{}
	idleClosed bool
}

// New creates a kernel. Objects may be created right away; threads start
// running once Start is called.
func New(cfg *Config) *Kernel {
	c := cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	k := &Kernel{
		id:           uuid.NewString(),
		cfg:          c,
		logger:       c.Logger,
		metrics:      c.Metrics,
		panicHandler: c.PanicHandler,
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
		ready:        newReadyQueue(c.MaxPriorities),
		history:      newSwitchHistory(c.SwitchHistory),
		idle:         make(chan struct{}),
	}
	close(k.idle)
	k.idleClosed = true
	return k
}

// ID returns the kernel instance ID.
func (k *Kernel) ID() string { return k.id }

// MaxPriorities returns the number of priority levels.
func (k *Kernel) MaxPriorities() Priority { return k.cfg.MaxPriorities }

// Start ends the system-definition phase and dispatches the most urgent ready thread.
func (k *Kernel) Start() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.stopped {
		return fmt.Errorf("start: %w", ErrKernelStopped)
	}
	if k.started {
		return fmt.Errorf("start: already started: %w", ErrInvalidState)
	}
	k.started = true
	k.logger.Info("kernel started", F("kernel", k.id), F("threads", len(k.threads)))
	k.dispatchLocked(nil, SwitchStart)
	return nil
}

// Tick advances the kernel clock by one tick. It is the entry point for the
// external tick source: expired sleeps and waits become ready and the running
// thread's time slice is charged. A due preemption takes effect at the running
// thread's next kernel call; an idle core dispatches immediately.
func (k *Kernel) Tick() {
	k.mu.Lock()
	if k.stopped {
		k.mu.Unlock()
		return
	}
	k.ticks++
	for _, t := range k.timers.expired(k.ticks) {
		k.expireLocked(t)
	}
	if cur := k.current; cur != nil && cur.timeSlice > 0 {
		if cur.sliceLeft > 0 {
			cur.sliceLeft--
		}
		if cur.sliceLeft == 0 {
			cur.sliceExpired = true
		}
	}
	k.leave(nil)
}

// Ticks returns the number of ticks since the kernel was created.
func (k *Kernel) Ticks() uint64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.ticks
}

// StartTicker drives Tick from a wall-clock ticker until ctx is done or the
// kernel shuts down.
func (k *Kernel) StartTicker(ctx context.Context, period time.Duration) error {
	if period <= 0 {
		return fmt.Errorf("start ticker: period %v: %w", period, ErrInvalidArgument)
	}
	k.mu.Lock()
	if k.stopped {
		k.mu.Unlock()
		return fmt.Errorf("start ticker: %w", ErrKernelStopped)
	}
	k.wg.Add(1)
	k.mu.Unlock()

	go func() {
		defer k.wg.Done()
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-k.done:
				return
			case <-ticker.C:
				k.Tick()
			}
		}
	}()
	return nil
}

// WaitIdle blocks until no thread is running, i.e. every thread is blocked,
// sleeping, suspended or terminated.
func (k *Kernel) WaitIdle(ctx context.Context) error {
	k.mu.Lock()
	if k.stopped {
		k.mu.Unlock()
		return fmt.Errorf("wait idle: %w", ErrKernelStopped)
	}
	idle := k.idle
	k.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-k.done:
		return fmt.Errorf("wait idle: %w", ErrKernelStopped)
	case <-ctx.Done():
		return fmt.Errorf("wait idle: %w", ctx.Err())
	}
}

// Shutdown stops the kernel. Parked threads exit immediately; the running
// thread exits at its next kernel call. Shutdown waits for all thread
// goroutines until ctx is done.
func (k *Kernel) Shutdown(ctx context.Context) error {
	k.mu.Lock()
	if !k.stopped {
		k.stopped = true
		close(k.done)
		k.cancel()
		k.logger.Info("kernel stopping", F("kernel", k.id), F("ticks", k.ticks))
	}
	k.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		k.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("kernel shutdown: %w", ctx.Err())
	}
}

// Running returns the dispatched thread, or nil when the core is idle.
func (k *Kernel) Running() *Thread {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.current
}

// Threads returns every thread that has not been deleted, in creation order.
func (k *Kernel) Threads() []*Thread {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := make([]*Thread, len(k.threads))
	copy(out, k.threads)
	return out
}

// RecentSwitches returns up to limit context switches, newest first.
func (k *Kernel) RecentSwitches(limit int) []SwitchRecord {
	return k.history.Recent(limit)
}

// Stats returns a snapshot of the kernel state.
func (k *Kernel) Stats() KernelStats {
	k.mu.Lock()
	defer k.mu.Unlock()
	st := KernelStats{
		ID:              k.id,
		Ticks:           k.ticks,
		Threads:         len(k.threads),
		ContextSwitches: k.switches,
		Started:         k.started,
		Stopped:         k.stopped,
	}
	for _, t := range k.threads {
		switch t.state {
		case StateReady:
			st.Ready++
		case StateRunning:
			st.Running = t.name
		case StateTerminated:
			st.Terminated++
		default:
			st.Suspended++
		}
	}
	return st
}

// =============================================================================
// Dispatch protocol
// =============================================================================

// enter takes the kernel lock on behalf of ctx and returns the calling
// thread, or nil when ctx does not belong to a thread of this kernel. The
// running thread never returns from enter once the kernel is stopped or the
// thread was terminated from outside.
func (k *Kernel) enter(ctx context.Context) *Thread {
	k.mu.Lock()
	t := CurrentThread(ctx)
	if t == nil || t.k != k {
		return nil
	}
	if t == k.current && (k.stopped || t.pendingTerminate) {
		if !k.stopped {
			k.terminateLocked(t)
			k.dispatchLocked(t, SwitchTerminate)
		}
		k.mu.Unlock()
		runtime.Goexit()
	}
	return t
}

// running reports whether t is the dispatched thread.
func (k *Kernel) running(t *Thread) bool {
	return t != nil && t == k.current
}

// leave releases the kernel lock at the end of a service call. It is the
// preemption point: a running caller that must give way is requeued and
// parked until dispatched again. An idle core picks up ready work.
func (k *Kernel) leave(t *Thread) {
	if k.running(t) && !k.stopped {
		if reason, due := k.preemptionDueLocked(t); due {
			if reason == SwitchPreempt {
				t.state = StateReady
				k.ready.pushFront(t)
			} else {
				k.requeueLocked(t)
			}
			k.switchLocked(t, reason)
			return
		}
	}
	if k.current == nil {
		k.dispatchLocked(nil, SwitchIdle)
	}
	k.mu.Unlock()
}

func (k *Kernel) preemptionDueLocked(t *Thread) (SwitchReason, bool) {
	if p, ok := k.ready.highest(); ok && p < t.preemptLimit() {
		return SwitchPreempt, true
	}
	if t.sliceExpired {
		t.sliceExpired = false
		t.sliceLeft = t.timeSlice
		if k.ready.hasAt(t.priority) {
			return SwitchTimeSlice, true
		}
	}
	return "", false
}

// switchLocked gives the core away from t, whose state the caller has
// already changed, then releases the lock and parks t.
func (k *Kernel) switchLocked(t *Thread, reason SwitchReason) {
	if k.current == t {
		k.current = nil
	}
	k.dispatchLocked(t, reason)
	k.mu.Unlock()
	k.park(t)
}

// dispatchLocked hands the core to the most urgent ready thread.
func (k *Kernel) dispatchLocked(from *Thread, reason SwitchReason) {
	if from != nil && k.current == from {
		k.current = nil
	}
	if k.current != nil {
		return
	}
	var fromName string
	if from != nil {
		fromName = from.name
	}
	if !k.started || k.stopped {
		k.setIdleLocked(true)
		return
	}

	next := k.ready.peek()
	if next == nil {
		if from != nil {
			k.recordSwitchLocked(fromName, "", reason)
		}
		k.setIdleLocked(true)
		return
	}

	k.ready.remove(next)
	next.state = StateRunning
	next.runCount++
	k.current = next
	k.setIdleLocked(false)
	if next != from {
		k.recordSwitchLocked(fromName, next.name, reason)
	}
	next.wake <- struct{}{}
}

func (k *Kernel) recordSwitchLocked(from, to string, reason SwitchReason) {
	k.switches++
	k.history.Add(SwitchRecord{
		Seq:    k.switches,
		Tick:   k.ticks,
		From:   from,
		To:     to,
		Reason: reason,
	})
	k.metrics.RecordContextSwitch(k.id, from, to)
}

func (k *Kernel) setIdleLocked(idle bool) {
	switch {
	case idle && !k.idleClosed:
		close(k.idle)
		k.idleClosed = true
	case !idle && k.idleClosed:
		k.idle = make(chan struct{})
		k.idleClosed = false
	}
}

// park blocks t's goroutine until t is dispatched. A terminated thread or a
// stopped kernel ends the goroutine instead.
func (k *Kernel) park(t *Thread) {
	select {
	case <-t.wake:
	case <-t.kill:
		runtime.Goexit()
	case <-k.done:
		runtime.Goexit()
	}
}

// requeueLocked puts t at the tail of its priority level with a fresh slice.
func (k *Kernel) requeueLocked(t *Thread) {
	t.state = StateReady
	t.sliceLeft = t.timeSlice
	t.sliceExpired = false
	k.ready.pushBack(t)
}

// makeReadyLocked moves a suspended thread to the tail of its priority level.
func (k *Kernel) makeReadyLocked(t *Thread) {
	k.timers.disarm(t)
	k.requeueLocked(t)
}

// suspendLocked blocks the running thread t in state until another service,
// a timeout or a deletion readies it again. It returns the wait result.
// A sleep always arms its deadline, even for math.MaxUint32 ticks.
func (k *Kernel) suspendLocked(t *Thread, state ThreadState, wait Wait, reason SwitchReason) error {
	t.state = state
	t.waitErr = nil
	t.sliceLeft = t.timeSlice
	t.sliceExpired = false
	if wait != WaitForever || state == StateSleeping {
		k.timers.arm(t, k.ticks, uint64(wait))
	}
	k.switchLocked(t, reason)
	err := t.waitErr
	t.waitErr = nil
	return err
}

// expireLocked handles a deadline reached by a sleeping or waiting thread.
func (k *Kernel) expireLocked(t *Thread) {
	var pool *Pool
	switch t.state {
	case StateSleeping:
		t.waitErr = nil
	case StateSuspendedOnMutex:
		m := t.waitMutex
		m.waiters.Remove(t)
		t.waitMutex = nil
		t.waitErr = ErrTimeout
		k.metrics.RecordWaitTimeout(k.id, m.name)
		k.logger.Debug("mutex wait timed out", F("kernel", k.id), F("thread", t.name), F("mutex", m.name))
	case StateSuspendedOnPool:
		pool = t.waitPool
		pool.waiters.Remove(t)
		t.waitPool = nil
		t.waitErr = ErrTimeout
		k.metrics.RecordWaitTimeout(k.id, pool.name)
		k.logger.Debug("pool wait timed out", F("kernel", k.id), F("thread", t.name), F("pool", pool.name))
	default:
		return
	}
	k.makeReadyLocked(t)
	if pool != nil {
		pool.serveWaitersLocked()
	}
}

// terminateLocked removes t from every kernel structure, releases the
// mutexes it owns and marks it terminated. The caller dispatches if t was running.
func (k *Kernel) terminateLocked(t *Thread) {
	var pool *Pool
	switch t.state {
	case StateReady:
		k.ready.remove(t)
	case StateSuspendedOnMutex:
		t.waitMutex.waiters.Remove(t)
		t.waitMutex = nil
	case StateSuspendedOnPool:
		pool = t.waitPool
		pool.waiters.Remove(t)
		t.waitPool = nil
	}
	k.timers.disarm(t)
	for len(t.owned) > 0 {
		k.releaseOwnershipLocked(t.owned[len(t.owned)-1])
	}
	t.state = StateTerminated
	t.pendingTerminate = false
	if k.current == t {
		k.current = nil
	}
	if !t.killed {
		t.killed = true
		close(t.kill)
	}
	if pool != nil {
		pool.serveWaitersLocked()
	}
}

// threadMain is the goroutine behind a thread.
func (k *Kernel) threadMain(t *Thread) {
	defer k.wg.Done()
	k.park(t)
	k.runEntry(t)

	k.mu.Lock()
	if t.state != StateTerminated {
		k.terminateLocked(t)
	}
	k.logger.Debug("thread completed", F("kernel", k.id), F("thread", t.name))
	k.dispatchLocked(t, SwitchTerminate)
	k.mu.Unlock()
}

func (k *Kernel) runEntry(t *Thread) {
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			k.metrics.RecordThreadPanic(k.id, t.name, r)
			k.logger.Error("thread panicked", F("kernel", k.id), F("thread", t.name), F("panic", r))
			k.panicHandler.HandlePanic(t.ctx, k.id, t.name, r, stack)
		}
	}()
	t.entry(t.ctx, t.input)
}
