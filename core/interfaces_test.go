package core

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Metrics
// =============================================================================

// recordingMetrics counts every Metrics call.
type recordingMetrics struct {
	mu          sync.Mutex
	switches    []string
	timeouts    []string
	contentions []string
	allocOK     int
	allocFailed int
	panics      []string
}

func (m *recordingMetrics) RecordContextSwitch(_ string, from string, to string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.switches = append(m.switches, from+"->"+to)
}

func (m *recordingMetrics) RecordWaitTimeout(_ string, object string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timeouts = append(m.timeouts, object)
}

func (m *recordingMetrics) RecordMutexContention(_ string, mutex string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contentions = append(m.contentions, mutex)
}

func (m *recordingMetrics) RecordAllocation(_ string, _ string, _ int, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ok {
		m.allocOK++
	} else {
		m.allocFailed++
	}
}

func (m *recordingMetrics) RecordThreadPanic(_ string, thread string, _ any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.panics = append(m.panics, thread)
}

// TestMetrics_KernelEvents verifies the kernel reports through the Metrics hooks
// Given: A kernel with a recording Metrics implementation
// When: Threads contend on a mutex, time out on a pool, and one panics
// Then: Switches, contention, timeouts, allocations and panics are recorded
func TestMetrics_KernelEvents(t *testing.T) {
	// Arrange
	metrics := &recordingMetrics{}
	k := newTestKernel(t, &Config{Metrics: metrics, PanicHandler: &capturePanicHandler{}})
	bg := context.Background()
	m, err := k.CreateMutex("shared", NoInherit)
	require.NoError(t, err)
	p, err := k.CreatePool("heap", 256)
	require.NoError(t, err)
	_, err = p.Allocate(bg, 200, NoWait)
	require.NoError(t, err)

	spawn(t, k, "owner", 1, func(ctx context.Context, _ uint64) {
		_ = m.Get(ctx, WaitForever)
		_ = k.Sleep(ctx, 2)
		_ = m.Put(ctx)
	})
	spawn(t, k, "contender", 2, func(ctx context.Context, _ uint64) {
		_ = m.Get(ctx, NoWait)
		_, _ = p.Allocate(ctx, 100, 1)
	})
	spawn(t, k, "crasher", 3, func(context.Context, uint64) { panic("crash") })

	// Act
	require.NoError(t, k.Start())
	waitIdle(t, k)
	tickIdle(t, k, 2)

	// Assert
	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	assert.Equal(t, []string{"shared"}, metrics.contentions)
	assert.Equal(t, []string{"heap"}, metrics.timeouts)
	assert.Equal(t, 1, metrics.allocOK)
	assert.Equal(t, 1, metrics.allocFailed)
	assert.Equal(t, []string{"crasher"}, metrics.panics)
	require.NotEmpty(t, metrics.switches)
	assert.Equal(t, "->owner", metrics.switches[0])
}

// TestConfig_WithDefaults verifies unset fields are filled in
// Given: A nil config and a partially set config
// When: Defaults are applied
// Then: Every field has a usable value and set fields are kept
func TestConfig_WithDefaults(t *testing.T) {
	// Arrange
	var nilCfg *Config
	partial := &Config{MaxPriorities: 8, Metrics: &recordingMetrics{}}

	// Act
	a := nilCfg.withDefaults()
	b := partial.withDefaults()

	// Assert
	assert.Equal(t, DefaultMaxPriorities, a.MaxPriorities)
	assert.Equal(t, DefaultMinStackSize, a.MinStackSize)
	assert.IsType(t, &NoOpLogger{}, a.Logger)
	assert.IsType(t, &NilMetrics{}, a.Metrics)
	assert.IsType(t, &DefaultPanicHandler{}, a.PanicHandler)
	assert.Equal(t, Priority(8), b.MaxPriorities)
	assert.Same(t, partial.Metrics, b.Metrics)
	assert.Equal(t, Priority(8), New(partial).MaxPriorities())
}
