package core

import (
	"cmp"
	"container/heap"
	"slices"
)

const (
	defaultQueueCap     = 4
	compactMinCap       = 64 // Don't compact if capacity is less than this
	compactShrinkFactor = 4  // Trigger compaction when len < cap/4
)

// waitQueue orders the threads suspended on one kernel object.
// Callers hold the kernel lock.
type waitQueue interface {
	Push(t *Thread)
	Pop() *Thread
	Peek() *Thread
	Remove(t *Thread) bool
	// Fix restores ordering after t's effective priority changed.
	Fix(t *Thread)
	HighestPriority() (Priority, bool)
	// Prioritize moves the most urgent waiter to the head of the queue.
	Prioritize()
	Len() int
	// Threads returns the waiters in service order.
	Threads() []*Thread
}

// =============================================================================
// FIFOWaitQueue: waiters are served in arrival order
// =============================================================================

type FIFOWaitQueue struct {
	threads []*Thread
}

func NewFIFOWaitQueue() *FIFOWaitQueue {
	return &FIFOWaitQueue{threads: make([]*Thread, 0, defaultQueueCap)}
}

func (q *FIFOWaitQueue) Push(t *Thread) {
	q.threads = append(q.threads, t)
}

func (q *FIFOWaitQueue) Pop() *Thread {
	if len(q.threads) == 0 {
		return nil
	}
	t := q.threads[0]
	// Zero out the element in the underlying array to prevent memory leak
	q.threads[0] = nil
	q.threads = q.threads[1:]
	q.maybeCompact()
	return t
}

func (q *FIFOWaitQueue) Peek() *Thread {
	if len(q.threads) == 0 {
		return nil
	}
	return q.threads[0]
}

func (q *FIFOWaitQueue) Remove(t *Thread) bool {
	i := slices.Index(q.threads, t)
	if i < 0 {
		return false
	}
	q.threads = slices.Delete(q.threads, i, i+1)
	return true
}

func (q *FIFOWaitQueue) Fix(t *Thread) {}

func (q *FIFOWaitQueue) HighestPriority() (Priority, bool) {
	i := q.highestIndex()
	if i < 0 {
		return 0, false
	}
	return q.threads[i].priority, true
}

// highestIndex returns the first most urgent waiter, so equal priorities keep arrival order.
func (q *FIFOWaitQueue) highestIndex() int {
	best := -1
	for i, t := range q.threads {
		if best < 0 || t.priority < q.threads[best].priority {
			best = i
		}
	}
	return best
}

func (q *FIFOWaitQueue) Prioritize() {
	i := q.highestIndex()
	if i <= 0 {
		return
	}
	t := q.threads[i]
	copy(q.threads[1:i+1], q.threads[:i])
	q.threads[0] = t
}

func (q *FIFOWaitQueue) Len() int { return len(q.threads) }

func (q *FIFOWaitQueue) Threads() []*Thread {
	return slices.Clone(q.threads)
}

func (q *FIFOWaitQueue) maybeCompact() {
	n := len(q.threads)
	c := cap(q.threads)

	if c < compactMinCap {
		return
	}
	if n == 0 {
		q.threads = make([]*Thread, 0, defaultQueueCap)
		return
	}
	if n*compactShrinkFactor >= c {
		return
	}

	newSlice := make([]*Thread, n, max(c/2, defaultQueueCap, n))
	copy(newSlice, q.threads)
	q.threads = newSlice
}

// =============================================================================
// PriorityWaitQueue: Min-Heap by priority with Stability (FIFO for same priority)
// =============================================================================

// waitHeap implements heap.Interface
type waitHeap []*Thread

func (h waitHeap) Len() int { return len(h) }

// Less implements priority logic: most urgent first, then earliest arrival (FIFO)
func (h waitHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].waitSeq < h[j].waitSeq
}

func (h waitHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].waitIndex = i
	h[j].waitIndex = j
}

func (h *waitHeap) Push(x any) {
	t := x.(*Thread)
	t.waitIndex = len(*h)
	*h = append(*h, t)
}

func (h *waitHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil // Avoid memory leak
	t.waitIndex = -1
	*h = old[0 : n-1]
	return t
}

type PriorityWaitQueue struct {
	h            waitHeap
	nextSequence uint64
}

func NewPriorityWaitQueue() *PriorityWaitQueue {
	return &PriorityWaitQueue{h: make(waitHeap, 0, defaultQueueCap)}
}

func (q *PriorityWaitQueue) Push(t *Thread) {
	t.waitSeq = q.nextSequence
	q.nextSequence++
	heap.Push(&q.h, t)
}

func (q *PriorityWaitQueue) Pop() *Thread {
	if len(q.h) == 0 {
		return nil
	}
	return heap.Pop(&q.h).(*Thread)
}

func (q *PriorityWaitQueue) Peek() *Thread {
	if len(q.h) == 0 {
		return nil
	}
	// 0 is the most urgent waiter because Less puts the lowest priority value at the top
	return q.h[0]
}

func (q *PriorityWaitQueue) Remove(t *Thread) bool {
	i := t.waitIndex
	if i < 0 || i >= len(q.h) || q.h[i] != t {
		return false
	}
	heap.Remove(&q.h, i)
	return true
}

func (q *PriorityWaitQueue) Fix(t *Thread) {
	i := t.waitIndex
	if i < 0 || i >= len(q.h) || q.h[i] != t {
		return
	}
	heap.Fix(&q.h, i)
}

func (q *PriorityWaitQueue) HighestPriority() (Priority, bool) {
	if len(q.h) == 0 {
		return 0, false
	}
	return q.h[0].priority, true
}

// Prioritize is a no-op: the heap already serves the most urgent waiter first.
func (q *PriorityWaitQueue) Prioritize() {}

func (q *PriorityWaitQueue) Len() int { return len(q.h) }

func (q *PriorityWaitQueue) Threads() []*Thread {
	out := slices.Clone([]*Thread(q.h))
	slices.SortFunc(out, func(a, b *Thread) int {
		if c := cmp.Compare(a.priority, b.priority); c != 0 {
			return c
		}
		return cmp.Compare(a.waitSeq, b.waitSeq)
	})
	return out
}
