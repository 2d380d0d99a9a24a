package rtkernel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Swind/go-rtkernel/core"
)

// System is a kernel together with its wall-clock tick source.
// Objects are created in the definition phase, before Start.
type System struct {
	kernel    *core.Kernel
	period    time.Duration
	cancel    context.CancelFunc
	running   bool
	runningMu sync.RWMutex
}

// NewSystem creates a system ticking every period. A period of zero leaves
// ticking to the caller through Kernel().Tick.
func NewSystem(cfg *Config, period time.Duration) *System {
	return &System{
		kernel: core.New(cfg),
		period: period,
	}
}

// Boot defines and starts a system in one call.
func Boot(ctx context.Context, cfg *Config, period time.Duration, define func(k *Kernel) error) (*System, error) {
	s := NewSystem(cfg, period)
	if err := s.Define(define); err != nil {
		s.Stop()
		return nil, err
	}
	if err := s.Start(ctx); err != nil {
		s.Stop()
		return nil, err
	}
	return s, nil
}

// ID returns the kernel ID.
func (s *System) ID() string {
	return s.kernel.ID()
}

// Kernel returns the underlying kernel.
func (s *System) Kernel() *Kernel {
	return s.kernel
}

// Define runs the system-definition routine. It may be called several
// times, but only before Start. A concurrent Start waits for define to
// return; define must not call back into the System.
func (s *System) Define(define func(k *Kernel) error) error {
	s.runningMu.Lock()
	defer s.runningMu.Unlock()
	if s.running {
		return fmt.Errorf("define: system already started: %w", core.ErrInvalidState)
	}
	if define == nil {
		return nil
	}
	if err := define(s.kernel); err != nil {
		return fmt.Errorf("define system: %w", err)
	}
	return nil
}

// Start starts the kernel and the tick source.
func (s *System) Start(ctx context.Context) error {
	s.runningMu.Lock()
	defer s.runningMu.Unlock()

	if s.running {
		return nil // Already running
	}
	if err := s.kernel.Start(); err != nil {
		return err
	}

	tickCtx, cancel := context.WithCancel(ctx)
	if s.period > 0 {
		if err := s.kernel.StartTicker(tickCtx, s.period); err != nil {
			cancel()
			return err
		}
	}
	s.cancel = cancel
	s.running = true
	return nil
}

// IsRunning returns whether the system has been started and not stopped.
func (s *System) IsRunning() bool {
	s.runningMu.RLock()
	defer s.runningMu.RUnlock()
	return s.running
}

// Stop stops the tick source and shuts the kernel down.
func (s *System) Stop() {
	s.runningMu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.running = false
	s.runningMu.Unlock()

	// Parked threads exit immediately; only a thread stuck outside the
	// kernel can hold this up.
	_ = s.kernel.Shutdown(context.Background())
}

// StopGraceful waits up to timeout for every thread to terminate and then
// stops the system. On timeout the system is stopped anyway and an error is returned.
func (s *System) StopGraceful(timeout time.Duration) error {
	if !s.IsRunning() {
		s.Stop()
		return nil
	}

	deadline := time.After(timeout)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		st := s.kernel.Stats()
		if st.Terminated == st.Threads {
			s.Stop()
			return nil
		}
		select {
		case <-deadline:
			s.Stop()
			return fmt.Errorf("stop graceful timeout after %v, %d of %d threads still live", timeout, st.Threads-st.Terminated, st.Threads)
		case <-ticker.C:
		}
	}
}
