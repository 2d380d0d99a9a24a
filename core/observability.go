package core

// SwitchRecord captures one context switch.
type SwitchRecord struct {
	Seq    uint64
	Tick   uint64
	From   string // empty when the core was idle
	To     string // empty when the core goes idle
	Reason SwitchReason
}

// KernelStats represents runtime observability state for a kernel.
type KernelStats struct {
	ID              string
	Ticks           uint64
	Threads         int
	Ready           int
	Suspended       int
	Terminated      int
	Running         string
	ContextSwitches uint64
	Started         bool
	Stopped         bool
}

// PoolStats represents runtime observability state for a byte pool.
type PoolStats struct {
	Name      string
	Capacity  int
	Available int
	Fragments int
	Allocated int
	Waiters   int
}

// MutexInfo is a snapshot of a mutex.
type MutexInfo struct {
	Name    string
	Policy  InheritPolicy
	Owner   string
	Depth   int
	Waiters []string
}

// ThreadInfo is a snapshot of a thread control block.
type ThreadInfo struct {
	Name              string
	State             ThreadState
	Priority          Priority
	EffectivePriority Priority
	PreemptThreshold  Priority
	TimeSlice         uint32
	RunCount          uint64
	StackSize         int
	OwnedMutexes      []string
}
