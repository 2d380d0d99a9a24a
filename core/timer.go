package core

import "container/heap"

// timerEntry is a pending tick deadline for a suspended thread.
type timerEntry struct {
	deadline uint64
	seq      uint64
	thread   *Thread
	index    int // for heap interface
}

// timerHeap implements heap.Interface, earliest deadline first and FIFO among equal deadlines.
type timerHeap []*timerEntry

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	if h[i].deadline != h[j].deadline {
		return h[i].deadline < h[j].deadline
	}
	return h[i].seq < h[j].seq
}
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	n := len(*h)
	item := x.(*timerEntry)
	item.index = n
	*h = append(*h, item)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil // avoid memory leak
	item.index = -1
	*h = old[0 : n-1]
	return item
}

func (h *timerHeap) Peek() *timerEntry {
	if len(*h) == 0 {
		return nil
	}
	return (*h)[0]
}

// timerList tracks sleep and wait deadlines in ticks. Callers hold the kernel lock.
type timerList struct {
	pq      timerHeap
	nextSeq uint64
}

// arm schedules t to expire ticks after now.
func (tl *timerList) arm(t *Thread, now uint64, ticks uint64) {
	tl.disarm(t)
	e := &timerEntry{deadline: now + ticks, seq: tl.nextSeq, thread: t}
	tl.nextSeq++
	heap.Push(&tl.pq, e)
	t.timer = e
}

// disarm cancels t's pending deadline, if any.
func (tl *timerList) disarm(t *Thread) {
	e := t.timer
	if e == nil {
		return
	}
	t.timer = nil
	if e.index >= 0 && e.index < len(tl.pq) && tl.pq[e.index] == e {
		heap.Remove(&tl.pq, e.index)
	}
}

// expired pops every thread whose deadline is at or before now, in deadline order.
func (tl *timerList) expired(now uint64) []*Thread {
	var out []*Thread
	for {
		e := tl.pq.Peek()
		if e == nil || e.deadline > now {
			return out
		}
		heap.Pop(&tl.pq)
		e.thread.timer = nil
		out = append(out, e.thread)
	}
}

func (tl *timerList) len() int { return len(tl.pq) }
