package core

import (
	"context"
	"fmt"
	"slices"
)

// InheritPolicy selects whether a mutex lends waiter priority to its owner.
type InheritPolicy int

const (
	// NoInherit serves waiters in arrival order and never boosts the owner.
	NoInherit InheritPolicy = iota
	// Inherit serves the most urgent waiter first (FIFO among equals) and
	// raises the owner to the most urgent waiter until it fully releases.
	Inherit
)

func (p InheritPolicy) String() string {
	switch p {
	case NoInherit:
		return "no_inherit"
	case Inherit:
		return "inherit"
	default:
		return "unknown"
	}
}

// Mutex is a recursive mutual-exclusion object owned by at most one thread.
// The owner may Get it again without blocking and must Put it as many times.
type Mutex struct {
	k       *Kernel
	name    string
	policy  InheritPolicy
	owner   *Thread
	depth   int
	waiters waitQueue
	deleted bool
}

// CreateMutex creates an unowned mutex.
func (k *Kernel) CreateMutex(name string, policy InheritPolicy) (*Mutex, error) {
	var waiters waitQueue
	switch policy {
	case NoInherit:
		waiters = NewFIFOWaitQueue()
	case Inherit:
		waiters = NewPriorityWaitQueue()
	default:
		return nil, fmt.Errorf("create mutex %q: policy %d: %w", name, policy, ErrInvalidArgument)
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if k.stopped {
		return nil, fmt.Errorf("create mutex %q: %w", name, ErrKernelStopped)
	}
	return &Mutex{k: k, name: name, policy: policy, waiters: waiters}, nil
}

// Name returns the mutex name.
func (m *Mutex) Name() string { return m.name }

// Policy returns the inheritance policy.
func (m *Mutex) Policy() InheritPolicy { return m.policy }

// Owner returns the owning thread, or nil when the mutex is free.
func (m *Mutex) Owner() *Thread {
	m.k.mu.Lock()
	defer m.k.mu.Unlock()
	return m.owner
}

// Depth returns the recursion depth; 0 means unowned.
func (m *Mutex) Depth() int {
	m.k.mu.Lock()
	defer m.k.mu.Unlock()
	return m.depth
}

// Info returns a snapshot of the mutex.
func (m *Mutex) Info() MutexInfo {
	m.k.mu.Lock()
	defer m.k.mu.Unlock()
	info := MutexInfo{Name: m.name, Policy: m.policy, Depth: m.depth}
	if m.owner != nil {
		info.Owner = m.owner.name
	}
	for _, t := range m.waiters.Threads() {
		info.Waiters = append(info.Waiters, t.name)
	}
	return info
}

// Get acquires the mutex for the calling thread.
//
// A free mutex is taken with depth 1; the owner re-acquiring it only bumps
// the depth. When another thread owns it, NoWait fails with ErrNotAvailable
// and leaves the mutex untouched; otherwise the caller suspends until it is
// handed ownership or the wait expires with ErrTimeout.
func (m *Mutex) Get(ctx context.Context, wait Wait) error {
	k := m.k
	t := k.enter(ctx)
	if !k.running(t) {
		k.mu.Unlock()
		return fmt.Errorf("mutex %q get: %w", m.name, ErrInvalidCaller)
	}
	if m.deleted {
		k.leave(t)
		return fmt.Errorf("mutex %q get: %w", m.name, ErrDeleted)
	}

	switch m.owner {
	case nil:
		m.owner = t
		m.depth = 1
		t.owned = append(t.owned, m)
		k.leave(t)
		return nil
	case t:
		m.depth++
		k.leave(t)
		return nil
	}

	k.metrics.RecordMutexContention(k.id, m.name)
	if wait == NoWait {
		k.leave(t)
		return fmt.Errorf("mutex %q get: owned by %q: %w", m.name, m.owner.name, ErrNotAvailable)
	}

	t.waitMutex = m
	m.waiters.Push(t)
	if m.policy == Inherit && t.priority < m.owner.priority {
		k.setPriorityLocked(m.owner, t.priority)
	}
	if err := k.suspendLocked(t, StateSuspendedOnMutex, wait, SwitchBlock); err != nil {
		return fmt.Errorf("mutex %q get: %w", m.name, err)
	}
	return nil
}

// Put releases one level of ownership. At depth zero the owner's inherited
// priority is dropped and the mutex passes to the next waiter, which becomes
// ready; the caller is preempted if that waiter is more urgent.
func (m *Mutex) Put(ctx context.Context) error {
	k := m.k
	t := k.enter(ctx)
	if !k.running(t) {
		k.mu.Unlock()
		return fmt.Errorf("mutex %q put: %w", m.name, ErrInvalidCaller)
	}
	if m.deleted {
		k.leave(t)
		return fmt.Errorf("mutex %q put: %w", m.name, ErrDeleted)
	}
	if m.owner != t {
		k.leave(t)
		return fmt.Errorf("mutex %q put by %q: %w", m.name, t.name, ErrNotOwner)
	}

	m.depth--
	if m.depth == 0 {
		k.releaseOwnershipLocked(m)
	}
	k.leave(t)
	return nil
}

// Prioritize moves the most urgent waiter to the head of the queue, so the
// next full release of a NoInherit mutex serves it first.
func (m *Mutex) Prioritize(ctx context.Context) error {
	k := m.k
	caller := k.enter(ctx)
	if m.deleted {
		k.leave(caller)
		return fmt.Errorf("mutex %q prioritize: %w", m.name, ErrInvalidState)
	}
	m.waiters.Prioritize()
	k.leave(caller)
	return nil
}

// Delete removes the mutex. Waiters resume with ErrDeleted and the owner
// loses ownership along with any inherited priority.
func (m *Mutex) Delete(ctx context.Context) error {
	k := m.k
	caller := k.enter(ctx)
	if m.deleted {
		k.leave(caller)
		return fmt.Errorf("mutex %q delete: %w", m.name, ErrInvalidState)
	}
	m.deleted = true
	for _, w := range m.waiters.Threads() {
		m.waiters.Remove(w)
		w.waitMutex = nil
		w.waitErr = ErrDeleted
		k.makeReadyLocked(w)
	}
	if old := m.owner; old != nil {
		old.owned = slices.DeleteFunc(old.owned, func(x *Mutex) bool { return x == m })
		m.owner = nil
		m.depth = 0
		k.restorePriorityLocked(old)
	}
	k.logger.Debug("mutex deleted", F("kernel", k.id), F("mutex", m.name))
	k.leave(caller)
	return nil
}

// releaseOwnershipLocked fully releases m from its owner and hands it to the
// next waiter with depth 1.
func (k *Kernel) releaseOwnershipLocked(m *Mutex) {
	old := m.owner
	if old == nil {
		return
	}
	old.owned = slices.DeleteFunc(old.owned, func(x *Mutex) bool { return x == m })
	m.owner = nil
	m.depth = 0

	if next := m.waiters.Pop(); next != nil {
		next.waitMutex = nil
		next.waitErr = nil
		m.owner = next
		m.depth = 1
		next.owned = append(next.owned, m)
		k.makeReadyLocked(next)
		if m.policy == Inherit {
			if hp, ok := m.waiters.HighestPriority(); ok && hp < next.priority {
				k.setPriorityLocked(next, hp)
			}
		}
	}
	k.restorePriorityLocked(old)
}

// restorePriorityLocked drops t to its base priority, or to the most urgent
// waiter of an Inherit mutex it still owns.
func (k *Kernel) restorePriorityLocked(t *Thread) {
	p := t.basePriority
	for _, m := range t.owned {
		if m.policy != Inherit {
			continue
		}
		if hp, ok := m.waiters.HighestPriority(); ok && hp < p {
			p = hp
		}
	}
	k.setPriorityLocked(t, p)
}

// setPriorityLocked changes t's effective priority and repositions it in the
// structure that orders it. A boost propagates to the owner of the Inherit
// mutex t is waiting on.
func (k *Kernel) setPriorityLocked(t *Thread, p Priority) {
	if t.priority == p {
		return
	}
	switch {
	case t.readyElem != nil:
		k.ready.remove(t)
		t.priority = p
		k.ready.pushBack(t)
	case t.waitMutex != nil:
		t.priority = p
		m := t.waitMutex
		m.waiters.Fix(t)
		if m.policy == Inherit && m.owner != nil && p < m.owner.priority {
			k.setPriorityLocked(m.owner, p)
		}
	default:
		t.priority = p
	}
}
