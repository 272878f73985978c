// Package stockpile provides recycling pools for objects that are expensive
// to construct, designed for frame-driven programs where a stall on the hot
// path is worse than a little extra memory.
//
// A pool hands out idle instances when it has them and builds one
// synchronously when it does not. Whenever more than half of its target is
// on loan the target doubles, and the shortfall is rebuilt in the background
// a bounded chunk per tick so no single frame pays for a whole burst.
//
// # Architecture
//
// Stockpile is built from small single-goroutine pieces advanced by a tick
// driver:
//
// 1. Pools (pkg/pool): Pool[T] owns a free list and a target reserve.
// Acquire, Release and Tick are the whole protocol. Optional hooks attach
// instances to an owner context and detach them again, immediately on
// release or deferred to the next ticks.
//
// 2. Task processing (pkg/tasks): a Processor runs deferred work once per
// tick. Keyed tasks run at most once until they execute, unkeyed tasks run
// in FIFO order, and other goroutines hand work over through a lock-free
// queue (pkg/lockfree).
//
// 3. Driving (pkg/driver): the Driver calls each registered Tickable once
// per tick, in registration order, on its own goroutine.
//
// # Quick Start
//
//	bullets, _ := pool.New(pool.Fresh(NewBullet), pool.Options{Name: "bullets"})
//	defer bullets.Close()
//
//	d := driver.New(driver.DefaultConfig(), logger, nil)
//	_ = d.Register("bullets", pool.NewRefiller(bullets, 2))
//
//	b, _ := bullets.Acquire(ctx)
//	// ... use b on the driver goroutine ...
//	bullets.Release(b)
//
// # Key Packages
//
//	pkg/pool            - Recycling pool, index provider and refiller
//	pkg/tasks           - Deferred task processor and per-tick coalescer
//	pkg/driver          - Tick loop
//	pkg/lockfree        - Bounded multi-producer queue for cross-goroutine hand-off
//	pkg/config          - YAML configuration with STOCKPILE_ environment overrides
//	pkg/stockpileerrors - Typed errors
//	pkg/logger          - Structured logging
//	pkg/metrics         - Prometheus collectors
//	pkg/observability   - OpenTelemetry tracing
//	internal/simulate   - Synthetic workload behind the CLI
//
// # Debug Builds
//
// Building with -tags debug makes pools track which instances are idle and
// panic on a double release or a release with nothing on loan.
//
// # Command Line
//
//	stockpile simulate --ticks 600 --chunk 4
//	stockpile simulate --json --metrics-addr :9090
//	stockpile config --config stockpile.yaml
package stockpile
