package rtkernel_test

import (
	"context"
	"errors"
	"fmt"

	rtkernel "github.com/Swind/go-rtkernel"
)

// Example runs two equal-priority threads that share a recursive mutex,
// driving the tick source by hand.
func Example() {
	bg := context.Background()
	k := rtkernel.NewKernel(nil)
	defer k.Shutdown(bg)

	pool, _ := k.CreatePool("system", 4096)
	m, _ := k.CreateMutex("demo", rtkernel.NoInherit)

	entry := func(ctx context.Context, _ uint64) {
		for range 2 {
			_ = m.Get(ctx, rtkernel.WaitForever)
			_ = m.Get(ctx, rtkernel.WaitForever)
			fmt.Printf("%s owns %s at tick %d\n", rtkernel.CurrentThread(ctx).Name(), m.Name(), k.Ticks())
			_ = k.Sleep(ctx, 2)
			_ = m.Put(ctx)
			_ = m.Put(ctx)
		}
	}
	for i := range 2 {
		stack, _ := pool.Allocate(bg, 512, rtkernel.NoWait)
		_, _ = k.CreateThread(bg, rtkernel.ThreadSpec{
			Name:      fmt.Sprintf("thread_%d", i),
			Entry:     entry,
			Input:     uint64(i),
			Stack:     stack.Bytes(),
			Priority:  8,
			AutoStart: true,
		})
	}

	_ = k.Start()
	for range 8 {
		_ = k.WaitIdle(bg)
		k.Tick()
	}
	_ = k.WaitIdle(bg)

	// Output:
	// thread_0 owns demo at tick 0
	// thread_1 owns demo at tick 2
	// thread_0 owns demo at tick 4
	// thread_1 owns demo at tick 6
}

// ExamplePool_Allocate demonstrates NoWait allocation failure and recovery.
func ExamplePool_Allocate() {
	bg := context.Background()
	k := rtkernel.NewKernel(nil)
	defer k.Shutdown(bg)

	pool, _ := k.CreatePool("buffers", 1024)
	first, _ := pool.Allocate(bg, 400, rtkernel.NoWait)
	_, _ = pool.Allocate(bg, 400, rtkernel.NoWait)

	_, err := pool.Allocate(bg, 400, rtkernel.NoWait)
	fmt.Println(errors.Is(err, rtkernel.ErrInsufficientMemory))

	_ = pool.Release(bg, first)
	_, err = pool.Allocate(bg, 400, rtkernel.NoWait)
	fmt.Println(err == nil, pool.Available())

	// Output:
	// true
	// true 208
}

// ExampleMutex_Get shows that a recursive mutex stays owned until every Get is matched.
func ExampleMutex_Get() {
	bg := context.Background()
	k := rtkernel.NewKernel(nil)
	defer k.Shutdown(bg)

	m, _ := k.CreateMutex("recursive", rtkernel.Inherit)
	_, _ = k.CreateThread(bg, rtkernel.ThreadSpec{
		Name: "owner",
		Entry: func(ctx context.Context, _ uint64) {
			_ = m.Get(ctx, rtkernel.WaitForever)
			_ = m.Get(ctx, rtkernel.WaitForever)
			_ = m.Put(ctx)
			fmt.Println("after one put:", m.Owner().Name(), m.Depth())
			_ = m.Put(ctx)
			fmt.Println("after two puts:", m.Owner() == nil, m.Depth())
		},
		Stack:     make([]byte, 256),
		Priority:  1,
		AutoStart: true,
	})
	_ = k.Start()
	_ = k.WaitIdle(bg)

	// Output:
	// after one put: owner 1
	// after two puts: true 0
}
