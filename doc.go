// Package rtkernel provides a small real-time kernel for Go: a priority
// scheduler with time slicing and preemption thresholds, recursive mutexes
// with optional priority inheritance, and first-fit byte pools.
//
// Every kernel thread is a goroutine, but only the dispatched thread runs at
// any instant. Threads give up the core at well-defined points: kernel calls,
// blocking waits, sleeps and termination. An external tick source drives
// sleeps, timeouts and time slices through Kernel.Tick.
//
// # Quick Start
//
// Define the system, then start the kernel and its tick source:
//
//	sys := rtkernel.NewSystem(nil, 10*time.Millisecond)
//	err := sys.Define(func(k *rtkernel.Kernel) error {
//		pool, err := k.CreatePool("system", 16*1024)
//		if err != nil {
//			return err
//		}
//		stack, err := pool.Allocate(context.Background(), 1024, rtkernel.NoWait)
//		if err != nil {
//			return err
//		}
//		_, err = k.CreateThread(context.Background(), rtkernel.ThreadSpec{
//			Name:      "worker",
//			Entry:     worker,
//			Stack:     stack.Bytes(),
//			Priority:  8,
//			AutoStart: true,
//		})
//		return err
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	sys.Start(context.Background())
//	defer sys.Stop()
//
// # Key Concepts
//
// Priority: lower values are more urgent. The most urgent ready thread always
// runs; equal priorities rotate FIFO, by time slice or by voluntary yields.
//
// Context: thread entries receive a context that identifies the thread to
// kernel services. Pass it to Sleep, Mutex.Get, Mutex.Put and Pool.Allocate.
//
// Wait: blocking services take NoWait, WaitForever or a timeout in ticks.
//
// # Thread Safety
//
// All kernel objects may be used from any goroutine. Services that suspend the
// caller require the context of the running thread.
package rtkernel
