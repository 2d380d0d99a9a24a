package main

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/Swind/go-rtkernel/core"
)

const (
	demoStackSize    = 400
	demoBytePoolSize = 1024
	demoQueueSize    = 10
	demoPriority     = 8
	demoHoldTicks    = 2
)

// demoCounters mirrors the per-thread counters of the demo loop.
type demoCounters struct {
	loops    atomic.Uint64
	acquired atomic.Uint64
	released atomic.Uint64
}

// demo holds the objects created by the system definition.
type demo struct {
	pool    *core.Pool
	mutex   *core.Mutex
	threads [2]*core.Thread
	counts  [2]demoCounters
}

// define creates the demo system: a byte pool, two thread stacks carved
// from it, a scratch buffer that is released again, and the shared mutex.
func (d *demo) define(k *core.Kernel) error {
	bg := context.Background()

	pool, err := k.CreatePool("byte pool 0", demoBytePoolSize)
	if err != nil {
		return err
	}
	d.pool = pool

	for i := range d.threads {
		stack, err := pool.Allocate(bg, demoStackSize, core.NoWait)
		if err != nil {
			return fmt.Errorf("allocate stack %d: %w", i+1, err)
		}
		th, err := k.CreateThread(bg, core.ThreadSpec{
			Name:      fmt.Sprintf("thread %d", i+1),
			Entry:     d.entry(k),
			Input:     uint64(i + 1),
			Stack:     stack.Bytes(),
			Priority:  demoPriority,
			AutoStart: true,
		}, core.WithPreemptThreshold(demoPriority))
		if err != nil {
			return err
		}
		d.threads[i] = th
	}

	scratch, err := pool.Allocate(bg, demoQueueSize*8, core.NoWait)
	if err != nil {
		return fmt.Errorf("allocate queue area: %w", err)
	}

	mutex, err := k.CreateMutex("mutex 0", core.NoInherit)
	if err != nil {
		return err
	}
	d.mutex = mutex

	return pool.Release(bg, scratch)
}

// entry is shared by both threads; they compete for the mutex, taking it
// twice and holding it across a sleep.
func (d *demo) entry(k *core.Kernel) core.Entry {
	return func(ctx context.Context, input uint64) {
		c := &d.counts[input-1]
		for {
			c.loops.Add(1)

			if err := d.mutex.Get(ctx, core.WaitForever); err != nil {
				return
			}
			if err := d.mutex.Get(ctx, core.WaitForever); err != nil {
				return
			}
			c.acquired.Add(1)

			if err := k.Sleep(ctx, demoHoldTicks); err != nil {
				return
			}

			if err := d.mutex.Put(ctx); err != nil {
				return
			}
			c.released.Add(1)
			if err := d.mutex.Put(ctx); err != nil {
				return
			}
		}
	}
}

// report is a point-in-time view of the demo counters.
type report struct {
	Tick      uint64
	Loops     [2]uint64
	Acquired  [2]uint64
	Owner     string
	Available int
}

func (d *demo) report(k *core.Kernel) report {
	r := report{Tick: k.Ticks(), Available: d.pool.Available()}
	for i := range d.counts {
		r.Loops[i] = d.counts[i].loops.Load()
		r.Acquired[i] = d.counts[i].acquired.Load()
	}
	if o := d.mutex.Owner(); o != nil {
		r.Owner = o.Name()
	}
	return r
}

func (r report) String() string {
	owner := r.Owner
	if owner == "" {
		owner = "-"
	}
	return fmt.Sprintf("tick=%d thread_1=%d thread_2=%d owner=%q pool_available=%d",
		r.Tick, r.Loops[0], r.Loops[1], owner, r.Available)
}
