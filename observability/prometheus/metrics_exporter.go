package prometheus

import (
	"errors"
	"fmt"

	"github.com/Swind/go-rtkernel/core"
	prom "github.com/prometheus/client_golang/prometheus"
)

// ExporterOptions controls collector configuration.
type ExporterOptions struct {
	// SizeBuckets are the allocation size histogram buckets, in bytes.
	SizeBuckets []float64
}

// DefaultSizeBuckets covers stacks and buffers from 16 bytes to 64 KiB.
var DefaultSizeBuckets = prom.ExponentialBuckets(16, 4, 7)

// MetricsExporter adapts core.Metrics to Prometheus collectors.
type MetricsExporter struct {
	contextSwitchTotal   *prom.CounterVec
	waitTimeoutTotal     *prom.CounterVec
	mutexContentionTotal *prom.CounterVec
	allocationTotal      *prom.CounterVec
	allocationSizeBytes  *prom.HistogramVec
	threadPanicTotal     *prom.CounterVec
}

var _ core.Metrics = (*MetricsExporter)(nil)

// NewMetricsExporter creates and registers Prometheus collectors for core.Metrics.
func NewMetricsExporter(namespace string, reg prom.Registerer, opts ExporterOptions) (*MetricsExporter, error) {
	if namespace == "" {
		namespace = "rtkernel"
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	buckets := opts.SizeBuckets
	if len(buckets) == 0 {
		buckets = DefaultSizeBuckets
	}

	switchVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "context_switch_total",
		Help:      "Total number of context switches, by thread switched in.",
	}, []string{"kernel", "thread"})
	timeoutVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "wait_timeout_total",
		Help:      "Total number of bounded waits that expired.",
	}, []string{"kernel", "object"})
	contentionVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "mutex_contention_total",
		Help:      "Total number of mutex gets that found the mutex owned by another thread.",
	}, []string{"kernel", "mutex"})
	allocVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "pool_allocation_total",
		Help:      "Total number of byte pool allocation attempts.",
	}, []string{"kernel", "pool", "result"})
	sizeVec := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "pool_allocation_size_bytes",
		Help:      "Requested byte pool allocation sizes.",
		Buckets:   buckets,
	}, []string{"kernel", "pool"})
	panicVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "thread_panic_total",
		Help:      "Total number of thread entry panics.",
	}, []string{"kernel", "thread"})

	var err error
	if switchVec, err = registerCollector(reg, switchVec); err != nil {
		return nil, err
	}
	if timeoutVec, err = registerCollector(reg, timeoutVec); err != nil {
		return nil, err
	}
	if contentionVec, err = registerCollector(reg, contentionVec); err != nil {
		return nil, err
	}
	if allocVec, err = registerCollector(reg, allocVec); err != nil {
		return nil, err
	}
	if sizeVec, err = registerCollector(reg, sizeVec); err != nil {
		return nil, err
	}
	if panicVec, err = registerCollector(reg, panicVec); err != nil {
		return nil, err
	}

	return &MetricsExporter{
		contextSwitchTotal:   switchVec,
		waitTimeoutTotal:     timeoutVec,
		mutexContentionTotal: contentionVec,
		allocationTotal:      allocVec,
		allocationSizeBytes:  sizeVec,
		threadPanicTotal:     panicVec,
	}, nil
}

// RecordContextSwitch records a context switch. Switching to the idle core is
// labelled "idle".
func (m *MetricsExporter) RecordContextSwitch(kernelID string, from string, to string) {
	if m == nil {
		return
	}
	m.contextSwitchTotal.WithLabelValues(normalizeLabel(kernelID, "unknown"), normalizeLabel(to, "idle")).Inc()
}

// RecordWaitTimeout records an expired wait.
func (m *MetricsExporter) RecordWaitTimeout(kernelID string, object string) {
	if m == nil {
		return
	}
	m.waitTimeoutTotal.WithLabelValues(normalizeLabel(kernelID, "unknown"), normalizeLabel(object, "unknown")).Inc()
}

// RecordMutexContention records a contended mutex get.
func (m *MetricsExporter) RecordMutexContention(kernelID string, mutex string) {
	if m == nil {
		return
	}
	m.mutexContentionTotal.WithLabelValues(normalizeLabel(kernelID, "unknown"), normalizeLabel(mutex, "unknown")).Inc()
}

// RecordAllocation records an allocation attempt and its requested size.
func (m *MetricsExporter) RecordAllocation(kernelID string, pool string, size int, ok bool) {
	if m == nil {
		return
	}
	kernelID = normalizeLabel(kernelID, "unknown")
	pool = normalizeLabel(pool, "unknown")
	m.allocationTotal.WithLabelValues(kernelID, pool, resultLabel(ok)).Inc()
	m.allocationSizeBytes.WithLabelValues(kernelID, pool).Observe(float64(size))
}

// RecordThreadPanic records thread panic events.
func (m *MetricsExporter) RecordThreadPanic(kernelID string, thread string, panicInfo any) {
	if m == nil {
		return
	}
	m.threadPanicTotal.WithLabelValues(normalizeLabel(kernelID, "unknown"), normalizeLabel(thread, "unknown")).Inc()
}

func normalizeLabel(v string, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func resultLabel(ok bool) string {
	if ok {
		return "ok"
	}
	return "failed"
}

func registerCollector[T prom.Collector](reg prom.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	var alreadyRegisteredErr prom.AlreadyRegisteredError
	if errors.As(err, &alreadyRegisteredErr) {
		existing, ok := alreadyRegisteredErr.ExistingCollector.(T)
		if !ok {
			return collector, fmt.Errorf("collector type mismatch for %T", collector)
		}
		return existing, nil
	}

	return collector, err
}
