package core

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMutex_RecursiveCounting verifies ownership follows the get/put balance
// Given: A thread that gets a mutex three times and puts it three times
// When: Ownership is sampled after every call
// Then: The mutex stays owned until the final put and depth tracks the balance
func TestMutex_RecursiveCounting(t *testing.T) {
	// Arrange
	k := newTestKernel(t, nil)
	m, err := k.CreateMutex("rec", NoInherit)
	require.NoError(t, err)
	rec := &recorder{}
	sample := func(ctx context.Context) {
		owner := "none"
		if o := m.Owner(); o != nil {
			owner = o.Name()
		}
		rec.add(fmt.Sprintf("%s/%d", owner, m.Depth()))
	}
	spawn(t, k, "T", 8, func(ctx context.Context, _ uint64) {
		for range 3 {
			_ = m.Get(ctx, WaitForever)
			sample(ctx)
		}
		for range 3 {
			_ = m.Put(ctx)
			sample(ctx)
		}
	})

	// Act
	require.NoError(t, k.Start())
	waitIdle(t, k)

	// Assert
	want := []string{"T/1", "T/2", "T/3", "T/2", "T/1", "none/0"}
	if diff := cmp.Diff(want, rec.get()); diff != "" {
		t.Fatalf("ownership samples mismatch (-want +got):\n%s", diff)
	}
}

// TestMutex_NoWaitAndNotOwnerLeaveStateUnchanged verifies failed calls do not mutate
// Given: Thread O owning a mutex at depth 2 while sleeping
// When: Thread W calls Get with NoWait and then Put
// Then: W gets ErrNotAvailable and ErrNotOwner and the mutex snapshot is identical
func TestMutex_NoWaitAndNotOwnerLeaveStateUnchanged(t *testing.T) {
	// Arrange
	k := newTestKernel(t, nil)
	m, err := k.CreateMutex("guarded", NoInherit)
	require.NoError(t, err)
	spawn(t, k, "O", 5, func(ctx context.Context, _ uint64) {
		_ = m.Get(ctx, WaitForever)
		_ = m.Get(ctx, WaitForever)
		_ = k.Sleep(ctx, 10)
		_ = m.Put(ctx)
		_ = m.Put(ctx)
	})
	var before, afterGet, afterPut MutexInfo
	var getErr, putErr error
	spawn(t, k, "W", 6, func(ctx context.Context, _ uint64) {
		before = m.Info()
		getErr = m.Get(ctx, NoWait)
		afterGet = m.Info()
		putErr = m.Put(ctx)
		afterPut = m.Info()
	})

	// Act
	require.NoError(t, k.Start())
	waitIdle(t, k)

	// Assert
	assert.ErrorIs(t, getErr, ErrNotAvailable)
	assert.ErrorIs(t, putErr, ErrNotOwner)
	assert.Equal(t, MutexInfo{Name: "guarded", Policy: NoInherit, Owner: "O", Depth: 2}, before)
	assert.Empty(t, cmp.Diff(before, afterGet))
	assert.Empty(t, cmp.Diff(before, afterPut))

	tickIdle(t, k, 10)
	assert.Zero(t, m.Depth())
}

// TestMutex_TimeoutDoesNotGrantOwnership verifies a bounded wait expires cleanly
// Given: Thread O owning a mutex for 5 ticks and thread W waiting 2 ticks for it
// When: The kernel is ticked past W's deadline
// Then: W gets ErrTimeout, O keeps ownership and the waiter queue is empty
func TestMutex_TimeoutDoesNotGrantOwnership(t *testing.T) {
	for _, policy := range []InheritPolicy{NoInherit, Inherit} {
		t.Run(policy.String(), func(t *testing.T) {
			// Arrange
			k := newTestKernel(t, nil)
			m, err := k.CreateMutex("slow", policy)
			require.NoError(t, err)
			spawn(t, k, "O", 10, func(ctx context.Context, _ uint64) {
				_ = m.Get(ctx, WaitForever)
				_ = k.Sleep(ctx, 5)
				_ = m.Put(ctx)
			})
			var waitErr error
			var ownerAfter string
			spawn(t, k, "W", 12, func(ctx context.Context, _ uint64) {
				waitErr = m.Get(ctx, 2)
				ownerAfter = m.Owner().Name()
			})
			require.NoError(t, k.Start())
			waitIdle(t, k)

			// Act
			tickIdle(t, k, 2)

			// Assert
			assert.ErrorIs(t, waitErr, ErrTimeout)
			assert.Equal(t, "O", ownerAfter)
			assert.Empty(t, m.Info().Waiters)

			tickIdle(t, k, 3)
			assert.Nil(t, m.Owner())
		})
	}
}

// TestMutex_InheritanceRestoredAtDepthZero verifies priority inheritance timing
// Given: Low thread L (20) owning an Inherit mutex and high thread H (5) blocking on it
// When: L gets the mutex a second time and puts it twice
// Then: L runs at priority 5 until the final put, H takes over and L drops back to 20
func TestMutex_InheritanceRestoredAtDepthZero(t *testing.T) {
	// Arrange
	k := newTestKernel(t, nil)
	m, err := k.CreateMutex("pi", Inherit)
	require.NoError(t, err)
	rec := &recorder{}
	h, err := k.CreateThread(context.Background(), ThreadSpec{Name: "H", Stack: testStack(), Priority: 5,
		Entry: func(ctx context.Context, _ uint64) {
			if m.Get(ctx, WaitForever) == nil {
				rec.add("H:owner")
				_ = m.Put(ctx)
			}
		}})
	require.NoError(t, err)
	spawn(t, k, "L", 20, func(ctx context.Context, _ uint64) {
		self := CurrentThread(ctx)
		_ = m.Get(ctx, WaitForever)
		_ = k.Resume(ctx, h)
		rec.add(fmt.Sprintf("L:boosted=%d", self.Priority()))
		_ = m.Get(ctx, WaitForever)
		_ = m.Put(ctx)
		rec.add(fmt.Sprintf("L:depth1=%d", self.Priority()))
		_ = m.Put(ctx)
		rec.add(fmt.Sprintf("L:released=%d", self.Priority()))
	})

	// Act
	require.NoError(t, k.Start())
	waitIdle(t, k)

	// Assert
	want := []string{"L:boosted=5", "L:depth1=5", "H:owner", "L:released=20"}
	assert.Equal(t, want, rec.get())
}

// TestMutex_InheritServesMostUrgentWaiter verifies priority-ordered hand-off
// Given: An Inherit mutex owned by O and waiters W10 then W5 queued in that order
// When: O releases the mutex
// Then: W5 is served first despite arriving later
func TestMutex_InheritServesMostUrgentWaiter(t *testing.T) {
	// Arrange
	k := newTestKernel(t, nil)
	m, err := k.CreateMutex("pi", Inherit)
	require.NoError(t, err)
	rec := &recorder{}
	o := spawn(t, k, "O", 1, func(ctx context.Context, _ uint64) {
		_ = m.Get(ctx, WaitForever)
		_ = k.Sleep(ctx, 3)
		_ = m.Put(ctx)
	})
	waiter := func(name string, delay uint32) Entry {
		return func(ctx context.Context, _ uint64) {
			if delay > 0 {
				_ = k.Sleep(ctx, delay)
			}
			if m.Get(ctx, WaitForever) == nil {
				rec.add(name)
				_ = m.Put(ctx)
			}
		}
	}
	spawn(t, k, "W5", 5, waiter("W5", 1))
	spawn(t, k, "W10", 10, waiter("W10", 0))
	require.NoError(t, k.Start())
	waitIdle(t, k)
	tickIdle(t, k, 1)
	require.Equal(t, []string{"W5", "W10"}, m.Info().Waiters)

	// Act
	tickIdle(t, k, 2)

	// Assert
	assert.Equal(t, []string{"W5", "W10"}, rec.get())
	assert.Equal(t, StateTerminated, o.State())
}

// TestMutex_InheritanceChains verifies a boost follows the chain of owners
// Given: C (30) owns mutex m1, B (20) owns m2 and waits on m1, A (5) waits on m2
// When: A blocks
// Then: Both B and C run at priority 5 until they release
func TestMutex_InheritanceChains(t *testing.T) {
	// Arrange
	k := newTestKernel(t, nil)
	m1, err := k.CreateMutex("m1", Inherit)
	require.NoError(t, err)
	m2, err := k.CreateMutex("m2", Inherit)
	require.NoError(t, err)
	c := spawn(t, k, "C", 30, func(ctx context.Context, _ uint64) {
		_ = m1.Get(ctx, WaitForever)
		_ = k.Sleep(ctx, 5)
		_ = m1.Put(ctx)
	})
	b := spawn(t, k, "B", 20, func(ctx context.Context, _ uint64) {
		_ = k.Sleep(ctx, 1)
		_ = m2.Get(ctx, WaitForever)
		_ = m1.Get(ctx, WaitForever)
		_ = m1.Put(ctx)
		_ = m2.Put(ctx)
	})
	spawn(t, k, "A", 5, func(ctx context.Context, _ uint64) {
		_ = k.Sleep(ctx, 2)
		_ = m2.Get(ctx, WaitForever)
		_ = m2.Put(ctx)
	})
	require.NoError(t, k.Start())
	waitIdle(t, k)

	// Act
	tickIdle(t, k, 2)

	// Assert
	assert.Equal(t, Priority(5), b.Info().EffectivePriority)
	assert.Equal(t, Priority(5), c.Info().EffectivePriority)

	tickIdle(t, k, 3)
	assert.Equal(t, Priority(30), c.Info().EffectivePriority)
	assert.Equal(t, Priority(20), b.Info().EffectivePriority)
	assert.Nil(t, m1.Owner())
	assert.Nil(t, m2.Owner())
}

// TestMutex_PrioritizeNoInherit verifies Prioritize reorders a FIFO queue
// Given: A NoInherit mutex with waiters W10 then W5
// When: Prioritize is called before the owner releases
// Then: W5 is served before W10
func TestMutex_PrioritizeNoInherit(t *testing.T) {
	// Arrange
	k := newTestKernel(t, nil)
	m, err := k.CreateMutex("fifo", NoInherit)
	require.NoError(t, err)
	rec := &recorder{}
	spawn(t, k, "O", 1, func(ctx context.Context, _ uint64) {
		_ = m.Get(ctx, WaitForever)
		_ = k.Sleep(ctx, 3)
		_ = m.Put(ctx)
	})
	waiter := func(name string, delay uint32) Entry {
		return func(ctx context.Context, _ uint64) {
			if delay > 0 {
				_ = k.Sleep(ctx, delay)
			}
			if m.Get(ctx, WaitForever) == nil {
				rec.add(name)
				_ = m.Put(ctx)
			}
		}
	}
	spawn(t, k, "W5", 5, waiter("W5", 1))
	spawn(t, k, "W10", 10, waiter("W10", 0))
	require.NoError(t, k.Start())
	waitIdle(t, k)
	tickIdle(t, k, 1)
	require.Equal(t, []string{"W10", "W5"}, m.Info().Waiters)

	// Act
	require.NoError(t, m.Prioritize(context.Background()))
	tickIdle(t, k, 2)

	// Assert
	assert.Equal(t, []string{"W5", "W10"}, rec.get())
}

// TestMutex_TerminateReleasesOwnership verifies a terminated owner hands the mutex on
// Given: Thread O owning a mutex while sleeping and thread W waiting forever on it
// When: O is terminated from outside the kernel
// Then: W becomes owner and the mutex is free once W finishes
func TestMutex_TerminateReleasesOwnership(t *testing.T) {
	// Arrange
	k := newTestKernel(t, nil)
	m, err := k.CreateMutex("m", Inherit)
	require.NoError(t, err)
	o := spawn(t, k, "O", 10, func(ctx context.Context, _ uint64) {
		_ = m.Get(ctx, WaitForever)
		_ = m.Get(ctx, WaitForever)
		_ = k.Sleep(ctx, 1000)
	})
	var waitErr error = errors.New("not run")
	var ownerSeen string
	spawn(t, k, "W", 12, func(ctx context.Context, _ uint64) {
		waitErr = m.Get(ctx, WaitForever)
		ownerSeen = m.Owner().Name()
	})
	require.NoError(t, k.Start())
	waitIdle(t, k)

	// Act
	require.NoError(t, k.Terminate(context.Background(), o))
	waitIdle(t, k)

	// Assert
	assert.NoError(t, waitErr)
	assert.Equal(t, "W", ownerSeen)
	assert.Nil(t, m.Owner())
	assert.Zero(t, m.Depth())
	assert.Empty(t, o.Info().OwnedMutexes)
}

// TestMutex_DeleteResumesWaiters verifies deletion wakes waiters with ErrDeleted
// Given: Thread O owning a mutex and thread W waiting forever on it
// When: The mutex is deleted from outside the kernel
// Then: W resumes with ErrDeleted and O's later Put fails the same way
func TestMutex_DeleteResumesWaiters(t *testing.T) {
	// Arrange
	k := newTestKernel(t, nil)
	m, err := k.CreateMutex("doomed", NoInherit)
	require.NoError(t, err)
	var putErr, waitErr error
	var done atomic.Bool
	spawn(t, k, "O", 10, func(ctx context.Context, _ uint64) {
		_ = m.Get(ctx, WaitForever)
		_ = k.Sleep(ctx, 1)
		putErr = m.Put(ctx)
		done.Store(true)
	})
	spawn(t, k, "W", 12, func(ctx context.Context, _ uint64) {
		waitErr = m.Get(ctx, WaitForever)
	})
	require.NoError(t, k.Start())
	waitIdle(t, k)

	// Act
	require.NoError(t, m.Delete(context.Background()))
	waitIdle(t, k)
	tickIdle(t, k, 1)

	// Assert
	assert.ErrorIs(t, waitErr, ErrDeleted)
	assert.True(t, done.Load())
	assert.ErrorIs(t, putErr, ErrDeleted)
	assert.ErrorIs(t, m.Delete(context.Background()), ErrInvalidState)
}
