// Package pool implements a recycling pool for expensively-constructed
// instances whose reserve is refilled in bounded chunks by an external tick.
//
// # Architecture
//
// A Pool[T] lends out idle instances and takes them back. It never fails an
// acquire for lack of instances: when the free list is empty it builds one
// synchronously through its Factory. Sustained pressure (more than half of
// the target reserve on loan) doubles the target and schedules a refill,
// which the driver then works off a chunk at a time by calling Tick.
//
// Core Types:
//
//   - Pool[T]: the recycling pool
//   - Factory[T]: how instances are built (FactoryFunc, Fresh, Blueprint)
//   - Provider[T]: index-addressed lazy acquisition on top of a pool
//   - Refiller[T]: adapts a pool to the tick driver
//
// # Ownership
//
// Idle instances belong to the pool, instances on loan belong to the caller
// until Release. The pool never resets an instance; the Setup hook runs once
// per instance, at construction. Releasing an instance twice is a caller bug:
// builds with the debug tag panic, other builds leave a duplicate in the free
// list.
//
// # Attachment
//
// Attach and Detach hooks model an owner context such as a display tree.
// Attach runs when an instance enters the context, Detach when it leaves.
// DetachPolicy decides when released instances leave it:
//
//   - DetachNever: never, instances stay attached for life
//   - DetachOnRelease: inside Release
//   - DetachDeferred: during the next Tick, bounded by the chunk size
//
// # Concurrency
//
// A Pool is owned by one goroutine, the one that also drives Tick. It takes
// no locks. Work from other goroutines should be handed to that goroutine,
// for example through tasks.Processor.Submit.
//
// # Usage
//
//	p, err := pool.New(pool.Fresh(NewExplosion), pool.Options{Name: "explosions"},
//	    pool.OnDestroy(func(e *Explosion) error { return e.Free() }))
//	if err != nil {
//	    return err
//	}
//	defer p.Close()
//
//	e, err := p.Acquire(ctx)
//	...
//	p.Release(e)
//
//	// once per frame
//	if _, err := p.Tick(ctx, 2); err != nil {
//	    return err
//	}
package pool
