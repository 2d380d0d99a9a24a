package core

import (
	"context"
	"fmt"
	"slices"
	"sort"
)

const (
	// BlockOverhead is the per-block bookkeeping charge, two 32-bit words.
	BlockOverhead = 8

	blockAlign = 8
	// minBlock is the smallest extent worth splitting off as a free block.
	minBlock = BlockOverhead + blockAlign
)

// extent is a run of arena bytes, header included.
type extent struct {
	off  int
	size int
}

// Block is a live allocation from a byte pool.
type Block struct {
	pool *Pool
	off  int
	size int // bytes charged to the pool, overhead included
	data []byte
}

// Bytes returns the usable memory of the block.
func (b *Block) Bytes() []byte { return b.data }

// Len returns the usable length of the block.
func (b *Block) Len() int { return len(b.data) }

// Pool returns the pool the block was carved from.
func (b *Block) Pool() *Pool { return b.pool }

// Pool is a byte pool: variable-length blocks carved first-fit, in address
// order, from a fixed arena, and coalesced with free neighbours on release.
type Pool struct {
	k         *Kernel
	name      string
	arena     []byte
	free      []extent // address order, never adjacent
	used      map[int]*Block
	available int
	waiters   *FIFOWaitQueue
	deleted   bool
}

// CreatePool creates a pool over a fresh arena of capacity bytes.
func (k *Kernel) CreatePool(name string, capacity int) (*Pool, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("create pool %q: capacity %d: %w", name, capacity, ErrPoolInvalid)
	}
	return k.CreatePoolFromBuffer(name, make([]byte, capacity))
}

// CreatePoolFromBuffer creates a pool over caller-provided memory. The
// usable capacity is len(buf) rounded down to the block alignment.
func (k *Kernel) CreatePoolFromBuffer(name string, buf []byte) (*Pool, error) {
	capacity := len(buf) &^ (blockAlign - 1)
	if buf == nil || capacity < minBlock {
		return nil, fmt.Errorf("create pool %q: %d bytes: %w", name, len(buf), ErrPoolInvalid)
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if k.stopped {
		return nil, fmt.Errorf("create pool %q: %w", name, ErrKernelStopped)
	}
	p := &Pool{
		k:         k,
		name:      name,
		arena:     buf[:capacity:capacity],
		free:      []extent{{off: 0, size: capacity}},
		used:      make(map[int]*Block),
		available: capacity,
		waiters:   NewFIFOWaitQueue(),
	}
	k.logger.Debug("pool created", F("kernel", k.id), F("pool", name), F("capacity", capacity))
	return p, nil
}

// Name returns the pool name.
func (p *Pool) Name() string { return p.name }

// Capacity returns the arena size in bytes.
func (p *Pool) Capacity() int { return len(p.arena) }

// Available returns the free bytes, block overhead included.
func (p *Pool) Available() int {
	p.k.mu.Lock()
	defer p.k.mu.Unlock()
	return p.available
}

// Stats returns a snapshot of the pool.
func (p *Pool) Stats() PoolStats {
	p.k.mu.Lock()
	defer p.k.mu.Unlock()
	return PoolStats{
		Name:      p.name,
		Capacity:  len(p.arena),
		Available: p.available,
		Fragments: len(p.free),
		Allocated: len(p.used),
		Waiters:   p.waiters.Len(),
	}
}

// Allocate carves a block of at least size bytes. Each block costs size
// rounded up to 8 bytes plus BlockOverhead. With NoWait an unsatisfiable
// request fails with ErrInsufficientMemory; otherwise the calling thread
// suspends in FIFO order until a release makes room or the wait expires with
// ErrTimeout. A request larger than the whole pool fails immediately.
func (p *Pool) Allocate(ctx context.Context, size int, wait Wait) (*Block, error) {
	if size <= 0 {
		return nil, fmt.Errorf("pool %q allocate %d: %w", p.name, size, ErrInvalidArgument)
	}
	k := p.k
	t := k.enter(ctx)
	if p.deleted {
		k.leave(t)
		return nil, fmt.Errorf("pool %q allocate: %w", p.name, ErrPoolInvalid)
	}

	// A size that cannot fit the arena never reaches blockCost, which would overflow.
	if size > len(p.arena)-BlockOverhead {
		k.metrics.RecordAllocation(k.id, p.name, size, false)
		k.leave(t)
		return nil, fmt.Errorf("pool %q allocate %d: capacity %d: %w", p.name, size, len(p.arena), ErrInsufficientMemory)
	}

	if b := p.carveLocked(size); b != nil {
		k.metrics.RecordAllocation(k.id, p.name, size, true)
		k.leave(t)
		return b, nil
	}

	if wait == NoWait || blockCost(size) > len(p.arena) {
		k.metrics.RecordAllocation(k.id, p.name, size, false)
		k.leave(t)
		return nil, fmt.Errorf("pool %q allocate %d: %d available: %w", p.name, size, p.available, ErrInsufficientMemory)
	}
	if !k.running(t) {
		k.mu.Unlock()
		return nil, fmt.Errorf("pool %q allocate: %w", p.name, ErrInvalidCaller)
	}

	t.waitPool = p
	t.waitSize = size
	t.waitBlock = nil
	p.waiters.Push(t)
	err := k.suspendLocked(t, StateSuspendedOnPool, wait, SwitchBlock)
	b := t.waitBlock
	t.waitBlock = nil
	if err != nil {
		k.mu.Lock()
		k.metrics.RecordAllocation(k.id, p.name, size, false)
		k.mu.Unlock()
		return nil, fmt.Errorf("pool %q allocate %d: %w", p.name, size, err)
	}
	return b, nil
}

// Release returns a block to the pool, merges it with free neighbours and
// then serves suspended allocations in FIFO order, stopping at the first that
// still does not fit.
func (p *Pool) Release(ctx context.Context, b *Block) error {
	k := p.k
	t := k.enter(ctx)
	if p.deleted {
		k.leave(t)
		return fmt.Errorf("pool %q release: %w", p.name, ErrPoolInvalid)
	}
	if b == nil || b.pool != p || p.used[b.off] != b {
		k.leave(t)
		return fmt.Errorf("pool %q release: %w", p.name, ErrInvalidRelease)
	}

	delete(p.used, b.off)
	p.available += b.size
	p.insertFreeLocked(extent{off: b.off, size: b.size})
	p.serveWaitersLocked()
	k.leave(t)
	return nil
}

// Prioritize moves the most urgent suspended allocation to the head of the queue.
func (p *Pool) Prioritize(ctx context.Context) error {
	k := p.k
	t := k.enter(ctx)
	if p.deleted {
		k.leave(t)
		return fmt.Errorf("pool %q prioritize: %w", p.name, ErrPoolInvalid)
	}
	p.waiters.Prioritize()
	k.leave(t)
	return nil
}

// Delete removes the pool. Suspended allocations resume with ErrDeleted and
// outstanding blocks can no longer be released.
func (p *Pool) Delete(ctx context.Context) error {
	k := p.k
	t := k.enter(ctx)
	if p.deleted {
		k.leave(t)
		return fmt.Errorf("pool %q delete: %w", p.name, ErrPoolInvalid)
	}
	p.deleted = true
	for w := p.waiters.Pop(); w != nil; w = p.waiters.Pop() {
		w.waitPool = nil
		w.waitErr = ErrDeleted
		k.makeReadyLocked(w)
	}
	p.free = nil
	p.used = nil
	p.available = 0
	k.logger.Debug("pool deleted", F("kernel", k.id), F("pool", p.name))
	k.leave(t)
	return nil
}

func blockCost(size int) int {
	return (size+blockAlign-1)&^(blockAlign-1) + BlockOverhead
}

// carveLocked takes the first free extent that fits. The remainder stays free
// when it can hold a minimal block; otherwise the whole extent is handed out.
func (p *Pool) carveLocked(size int) *Block {
	need := blockCost(size)
	for i, e := range p.free {
		if e.size < need {
			continue
		}
		take := need
		if e.size-need < minBlock {
			take = e.size
		}
		if take == e.size {
			p.free = slices.Delete(p.free, i, i+1)
		} else {
			p.free[i] = extent{off: e.off + take, size: e.size - take}
		}
		p.available -= take

		start := e.off + BlockOverhead
		b := &Block{
			pool: p,
			off:  e.off,
			size: take,
			data: p.arena[start : start+size : start+size],
		}
		p.used[e.off] = b
		return b
	}
	return nil
}

// insertFreeLocked adds e to the free list, merging it with both neighbours
// when they are address-contiguous.
func (p *Pool) insertFreeLocked(e extent) {
	i := sort.Search(len(p.free), func(i int) bool { return p.free[i].off > e.off })

	if i < len(p.free) && e.off+e.size == p.free[i].off {
		e.size += p.free[i].size
		p.free = slices.Delete(p.free, i, i+1)
	}
	if i > 0 && p.free[i-1].off+p.free[i-1].size == e.off {
		p.free[i-1].size += e.size
		return
	}
	p.free = slices.Insert(p.free, i, e)
}

func (p *Pool) serveWaitersLocked() {
	k := p.k
	for {
		w := p.waiters.Peek()
		if w == nil {
			return
		}
		b := p.carveLocked(w.waitSize)
		if b == nil {
			return
		}
		p.waiters.Pop()
		w.waitPool = nil
		w.waitBlock = b
		w.waitErr = nil
		k.metrics.RecordAllocation(k.id, p.name, w.waitSize, true)
		k.makeReadyLocked(w)
	}
}
