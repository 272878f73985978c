//go:build debug

package pool

import (
	"fmt"
	"reflect"
)

// debugState tracks which instances sit in the free list so protocol
// violations panic instead of corrupting the pool.
type debugState[T any] struct {
	idle map[any]struct{}
}

func newDebugState[T any]() *debugState[T] {
	return &debugState[T]{idle: make(map[any]struct{})}
}

func (d *debugState[T]) acquired(v T) {
	if key, ok := identity(v); ok {
		delete(d.idle, key)
	}
}

func (d *debugState[T]) idled(v T) {
	if key, ok := identity(v); ok {
		d.idle[key] = struct{}{}
	}
}

func (d *debugState[T]) released(v T, outstanding int) {
	if outstanding <= 0 {
		panic(fmt.Sprintf("pool: release of %T with no instance on loan", v))
	}
	key, ok := identity(v)
	if !ok {
		return
	}
	if _, dup := d.idle[key]; dup {
		panic(fmt.Sprintf("pool: %T released twice without an acquire in between", v))
	}
	d.idle[key] = struct{}{}
}

// identity returns a map key that is the same for every copy of v and
// differs between distinct instances. Only pointer shaped values have such
// an identity; pointers to zero-size types may share an address and value
// types cannot tell equal instances apart, so neither is tracked.
func identity(v any) (any, bool) {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() {
		return nil, false
	}
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() || rv.Type().Elem().Size() == 0 {
			return nil, false
		}
		return rv.Pointer(), true
	case reflect.Map, reflect.Chan, reflect.UnsafePointer:
		if rv.IsNil() {
			return nil, false
		}
		return rv.Pointer(), true
	}
	return nil, false
}
