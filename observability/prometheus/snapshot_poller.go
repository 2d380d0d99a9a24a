package prometheus

import (
	"context"
	"sync"
	"time"

	"github.com/Swind/go-rtkernel/core"
	prom "github.com/prometheus/client_golang/prometheus"
)

// KernelSnapshotProvider provides current kernel stats snapshots.
type KernelSnapshotProvider interface {
	Stats() core.KernelStats
}

// PoolSnapshotProvider provides current byte pool stats snapshots.
type PoolSnapshotProvider interface {
	Stats() core.PoolStats
}

// SnapshotPoller periodically exports kernel/pool Stats() snapshots into Prometheus gauges.
type SnapshotPoller struct {
	interval time.Duration

	kernelsMu sync.RWMutex
	kernels   map[string]KernelSnapshotProvider

	poolsMu sync.RWMutex
	pools   map[string]PoolSnapshotProvider

	kernelTicks    *prom.GaugeVec
	kernelThreads  *prom.GaugeVec
	kernelSwitches *prom.GaugeVec
	kernelStopped  *prom.GaugeVec

	poolCapacity  *prom.GaugeVec
	poolAvailable *prom.GaugeVec
	poolFragments *prom.GaugeVec
	poolAllocated *prom.GaugeVec
	poolWaiters   *prom.GaugeVec

	stateMu sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSnapshotPoller creates a snapshot poller and registers its collectors.
func NewSnapshotPoller(reg prom.Registerer, interval time.Duration) (*SnapshotPoller, error) {
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	if interval <= 0 {
		interval = time.Second
	}

	kernelTicks := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "rtkernel",
		Name:      "kernel_ticks",
		Help:      "Ticks elapsed per kernel.",
	}, []string{"kernel"})
	kernelThreads := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "rtkernel",
		Name:      "kernel_threads",
		Help:      "Threads per kernel by scheduling state.",
	}, []string{"kernel", "state"})
	kernelSwitches := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "rtkernel",
		Name:      "kernel_context_switches",
		Help:      "Context switch count snapshot per kernel.",
	}, []string{"kernel"})
	kernelStopped := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "rtkernel",
		Name:      "kernel_stopped",
		Help:      "Kernel stopped state (1=stopped, 0=running).",
	}, []string{"kernel"})

	poolCapacity := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "rtkernel",
		Name:      "pool_capacity_bytes",
		Help:      "Arena size per byte pool.",
	}, []string{"pool"})
	poolAvailable := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "rtkernel",
		Name:      "pool_available_bytes",
		Help:      "Free bytes per byte pool.",
	}, []string{"pool"})
	poolFragments := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "rtkernel",
		Name:      "pool_fragments",
		Help:      "Free extents per byte pool.",
	}, []string{"pool"})
	poolAllocated := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "rtkernel",
		Name:      "pool_allocated_blocks",
		Help:      "Live blocks per byte pool.",
	}, []string{"pool"})
	poolWaiters := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "rtkernel",
		Name:      "pool_waiters",
		Help:      "Threads suspended on allocation per byte pool.",
	}, []string{"pool"})

	var err error
	if kernelTicks, err = registerCollector(reg, kernelTicks); err != nil {
		return nil, err
	}
	if kernelThreads, err = registerCollector(reg, kernelThreads); err != nil {
		return nil, err
	}
	if kernelSwitches, err = registerCollector(reg, kernelSwitches); err != nil {
		return nil, err
	}
	if kernelStopped, err = registerCollector(reg, kernelStopped); err != nil {
		return nil, err
	}
	if poolCapacity, err = registerCollector(reg, poolCapacity); err != nil {
		return nil, err
	}
	if poolAvailable, err = registerCollector(reg, poolAvailable); err != nil {
		return nil, err
	}
	if poolFragments, err = registerCollector(reg, poolFragments); err != nil {
		return nil, err
	}
	if poolAllocated, err = registerCollector(reg, poolAllocated); err != nil {
		return nil, err
	}
	if poolWaiters, err = registerCollector(reg, poolWaiters); err != nil {
		return nil, err
	}

	return &SnapshotPoller{
		interval:       interval,
		kernels:        make(map[string]KernelSnapshotProvider),
		pools:          make(map[string]PoolSnapshotProvider),
		kernelTicks:    kernelTicks,
		kernelThreads:  kernelThreads,
		kernelSwitches: kernelSwitches,
		kernelStopped:  kernelStopped,
		poolCapacity:   poolCapacity,
		poolAvailable:  poolAvailable,
		poolFragments:  poolFragments,
		poolAllocated:  poolAllocated,
		poolWaiters:    poolWaiters,
	}, nil
}

// AddKernel adds or replaces a kernel snapshot provider by name.
func (p *SnapshotPoller) AddKernel(name string, provider KernelSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "kernel")
	p.kernelsMu.Lock()
	p.kernels[name] = provider
	p.kernelsMu.Unlock()
}

// AddPool adds or replaces a pool snapshot provider by name.
func (p *SnapshotPoller) AddPool(name string, provider PoolSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "pool")
	p.poolsMu.Lock()
	p.pools[name] = provider
	p.poolsMu.Unlock()
}

// Start begins periodic polling; repeated calls are no-ops.
func (p *SnapshotPoller) Start(ctx context.Context) {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if p.running {
		p.stateMu.Unlock()
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true
	p.stateMu.Unlock()

	go p.loop(pollCtx)
}

// Stop stops periodic polling; repeated calls are safe.
func (p *SnapshotPoller) Stop() {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if !p.running {
		p.stateMu.Unlock()
		return
	}
	cancel := p.cancel
	done := p.done
	p.stateMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	p.stateMu.Lock()
	p.running = false
	p.cancel = nil
	p.done = nil
	p.stateMu.Unlock()
}

// CollectOnce exports one snapshot of every registered provider.
func (p *SnapshotPoller) CollectOnce() {
	if p == nil {
		return
	}
	p.collectOnce()
}

func (p *SnapshotPoller) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.collectOnce()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.collectOnce()
		}
	}
}

func (p *SnapshotPoller) collectOnce() {
	p.kernelsMu.RLock()
	for name, provider := range p.kernels {
		stats := provider.Stats()
		running := 0
		if stats.Running != "" {
			running = 1
		}
		p.kernelTicks.WithLabelValues(name).Set(float64(stats.Ticks))
		p.kernelThreads.WithLabelValues(name, "ready").Set(float64(stats.Ready))
		p.kernelThreads.WithLabelValues(name, "running").Set(float64(running))
		p.kernelThreads.WithLabelValues(name, "suspended").Set(float64(stats.Suspended))
		p.kernelThreads.WithLabelValues(name, "terminated").Set(float64(stats.Terminated))
		p.kernelSwitches.WithLabelValues(name).Set(float64(stats.ContextSwitches))
		if stats.Stopped {
			p.kernelStopped.WithLabelValues(name).Set(1)
		} else {
			p.kernelStopped.WithLabelValues(name).Set(0)
		}
	}
	p.kernelsMu.RUnlock()

	p.poolsMu.RLock()
	for name, provider := range p.pools {
		stats := provider.Stats()
		p.poolCapacity.WithLabelValues(name).Set(float64(stats.Capacity))
		p.poolAvailable.WithLabelValues(name).Set(float64(stats.Available))
		p.poolFragments.WithLabelValues(name).Set(float64(stats.Fragments))
		p.poolAllocated.WithLabelValues(name).Set(float64(stats.Allocated))
		p.poolWaiters.WithLabelValues(name).Set(float64(stats.Waiters))
	}
	p.poolsMu.RUnlock()
}
