package pool

import "context"

// Refiller drives a pool's refill from a tick driver, building at most Chunk
// instances per tick.
type Refiller[T any] struct {
	Pool  *Pool[T]
	Chunk int
}

// NewRefiller returns a Refiller for p.
func NewRefiller[T any](p *Pool[T], chunk int) *Refiller[T] {
	return &Refiller[T]{Pool: p, Chunk: chunk}
}

// Name identifies the refiller in driver logs and metrics.
func (r *Refiller[T]) Name() string {
	return "pool/" + r.Pool.Name()
}

// Tick runs one bounded refill step.
func (r *Refiller[T]) Tick(ctx context.Context) error {
	_, err := r.Pool.Tick(ctx, r.Chunk)
	return err
}
