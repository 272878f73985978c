package pool

import (
	"context"

	"github.com/ajitpratap0/stockpile/pkg/stockpileerrors"
)

// Provider hands out pooled instances by index. Get(i) acquires lazily, so
// the first request for an index pulls every missing index up to it from
// the pool. Truncate gives the tail back.
//
// A typical use is a fixed set of markers redrawn every frame: call Get for
// as many as the frame needs, then Truncate to that count.
type Provider[T any] struct {
	pool  *Pool[T]
	items []T
}

// NewProvider returns an empty provider backed by p.
func NewProvider[T any](p *Pool[T]) *Provider[T] {
	return &Provider[T]{pool: p}
}

// Get returns the instance at index, acquiring instances for every missing
// index up to and including it.
func (pr *Provider[T]) Get(ctx context.Context, index int) (T, error) {
	var zero T
	if index < 0 {
		return zero, stockpileerrors.New(stockpileerrors.ErrorTypeValidation, "index must not be negative").
			WithDetail("index", index)
	}
	for len(pr.items) <= index {
		v, err := pr.pool.Acquire(ctx)
		if err != nil {
			return zero, err
		}
		pr.items = append(pr.items, v)
	}
	return pr.items[index], nil
}

// Len returns the number of instances currently held.
func (pr *Provider[T]) Len() int {
	return len(pr.items)
}

// Truncate releases held instances, last first, until at most n remain.
func (pr *Provider[T]) Truncate(n int) {
	if n < 0 {
		n = 0
	}
	for len(pr.items) > n {
		last := len(pr.items) - 1
		pr.pool.Release(pr.items[last])
		var zero T
		pr.items[last] = zero
		pr.items = pr.items[:last]
	}
}

// Reset releases every held instance.
func (pr *Provider[T]) Reset() {
	pr.Truncate(0)
}
