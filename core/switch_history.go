package core

import "sync"

// SwitchReason says why the running thread gave up the core.
type SwitchReason string

const (
	SwitchStart     SwitchReason = "start"
	SwitchIdle      SwitchReason = "idle"
	SwitchSleep     SwitchReason = "sleep"
	SwitchBlock     SwitchReason = "block"
	SwitchPreempt   SwitchReason = "preempt"
	SwitchTimeSlice SwitchReason = "time_slice"
	SwitchYield     SwitchReason = "yield"
	SwitchTerminate SwitchReason = "terminate"
)

type switchHistory struct {
	mu    sync.Mutex
	items []SwitchRecord
	head  int
	count int
}

func newSwitchHistory(capacity int) switchHistory {
	if capacity < 1 {
		capacity = defaultSwitchHistory
	}
	return switchHistory{items: make([]SwitchRecord, capacity)}
}

func (h *switchHistory) Add(record SwitchRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.items) == 0 {
		return
	}

	h.items[h.head] = record
	h.head = (h.head + 1) % len(h.items)
	if h.count < len(h.items) {
		h.count++
	}
}

// Recent returns up to limit records, newest first.
func (h *switchHistory) Recent(limit int) []SwitchRecord {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.count == 0 {
		return nil
	}

	if limit <= 0 || limit > h.count {
		limit = h.count
	}

	out := make([]SwitchRecord, 0, limit)
	for i := range limit {
		idx := (h.head - 1 - i + len(h.items)) % len(h.items)
		out = append(out, h.items[idx])
	}
	return out
}

func (h *switchHistory) Last() (SwitchRecord, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.count == 0 {
		return SwitchRecord{}, false
	}

	idx := (h.head - 1 + len(h.items)) % len(h.items)
	return h.items[idx], true
}
