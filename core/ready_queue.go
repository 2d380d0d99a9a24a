package core

import (
	"container/list"
	"math/bits"
)

// readyQueue keeps one FIFO list per priority level plus a bitmap of
// non-empty levels, so insert, remove and highest lookup are O(1) per word.
type readyQueue struct {
	levels []*list.List
	bitmap []uint64
	count  int
}

func newReadyQueue(levels Priority) *readyQueue {
	return &readyQueue{
		levels: make([]*list.List, levels),
		bitmap: make([]uint64, (int(levels)+63)/64),
	}
}

func (q *readyQueue) level(p Priority) *list.List {
	l := q.levels[p]
	if l == nil {
		l = list.New()
		q.levels[p] = l
	}
	return l
}

func (q *readyQueue) pushBack(t *Thread) {
	t.readyElem = q.level(t.priority).PushBack(t)
	q.mark(t.priority)
}

// pushFront is used for preempted threads, which resume before their peers.
func (q *readyQueue) pushFront(t *Thread) {
	t.readyElem = q.level(t.priority).PushFront(t)
	q.mark(t.priority)
}

func (q *readyQueue) remove(t *Thread) bool {
	if t.readyElem == nil {
		return false
	}
	l := q.levels[t.priority]
	l.Remove(t.readyElem)
	t.readyElem = nil
	q.count--
	if l.Len() == 0 {
		q.bitmap[t.priority/64] &^= 1 << (t.priority % 64)
	}
	return true
}

func (q *readyQueue) mark(p Priority) {
	q.count++
	q.bitmap[p/64] |= 1 << (p % 64)
}

// highest returns the most urgent non-empty priority level.
func (q *readyQueue) highest() (Priority, bool) {
	for i, w := range q.bitmap {
		if w != 0 {
			return Priority(i*64 + bits.TrailingZeros64(w)), true
		}
	}
	return 0, false
}

// peek returns the thread that would be dispatched next.
func (q *readyQueue) peek() *Thread {
	p, ok := q.highest()
	if !ok {
		return nil
	}
	return q.levels[p].Front().Value.(*Thread)
}

func (q *readyQueue) hasAt(p Priority) bool {
	return q.bitmap[p/64]&(1<<(p%64)) != 0
}

func (q *readyQueue) len() int { return q.count }
