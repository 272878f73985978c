//go:build !debug

package pool

type debugState[T any] struct{}

func newDebugState[T any]() *debugState[T] { return nil }

func (d *debugState[T]) acquired(T) {}

func (d *debugState[T]) idled(T) {}

func (d *debugState[T]) released(T, int) {}
