package pool

import (
	"strings"

	"go.uber.org/zap"

	"github.com/ajitpratap0/stockpile/pkg/metrics"
	"github.com/ajitpratap0/stockpile/pkg/stockpileerrors"
)

// DefaultInitialTarget is the target reserve used when Options leaves it zero.
const DefaultInitialTarget = 10

// DetachPolicy decides when a released instance leaves its owner context.
type DetachPolicy int

const (
	// DetachNever keeps instances attached for their whole life.
	DetachNever DetachPolicy = iota
	// DetachOnRelease detaches inside Release.
	DetachOnRelease
	// DetachDeferred detaches idle instances during Tick, at most chunk per call.
	DetachDeferred
)

// String returns the name used in configuration files.
func (d DetachPolicy) String() string {
	switch d {
	case DetachNever:
		return "never"
	case DetachOnRelease:
		return "on_release"
	case DetachDeferred:
		return "deferred"
	default:
		return "unknown"
	}
}

// ParseDetachPolicy parses "never", "on_release" or "deferred". The empty
// string means DetachNever.
func ParseDetachPolicy(s string) (DetachPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "never":
		return DetachNever, nil
	case "on_release", "eager":
		return DetachOnRelease, nil
	case "deferred", "lazy":
		return DetachDeferred, nil
	}
	return DetachNever, stockpileerrors.Newf(stockpileerrors.ErrorTypeValidation, "unknown detach policy %q", s)
}

// Options configures a Pool. The zero value is usable.
type Options struct {
	// Name labels logs, spans and metrics.
	Name string
	// InitialTarget is the starting reserve; 0 means DefaultInitialTarget.
	InitialTarget int
	// DetachPolicy applies only when an Attach or Detach hook is set.
	DetachPolicy DetachPolicy
	// SkipWarmup disables the refill scheduled by New. The reserve then
	// starts filling only after the first growth.
	SkipWarmup bool
	Logger     *zap.Logger
	Metrics    *metrics.PoolInstruments
}

func (o Options) validate() error {
	if o.InitialTarget < 0 {
		return stockpileerrors.New(stockpileerrors.ErrorTypeValidation, "initial target must not be negative").
			WithDetail("initial_target", o.InitialTarget)
	}
	switch o.DetachPolicy {
	case DetachNever, DetachOnRelease, DetachDeferred:
	default:
		return stockpileerrors.New(stockpileerrors.ErrorTypeValidation, "unknown detach policy").
			WithDetail("policy", int(o.DetachPolicy))
	}
	return nil
}

// Hook customizes how a Pool[T] treats its instances.
type Hook[T any] func(*hooks[T])

type hooks[T any] struct {
	setup   func(T)
	attach  func(T)
	detach  func(T)
	destroy func(T) error
}

// OnSetup runs fn once on every newly constructed instance, before it is
// attached or handed out. It is the pool's only initialization step; reused
// instances are returned as they were released.
func OnSetup[T any](fn func(T)) Hook[T] {
	return func(h *hooks[T]) { h.setup = fn }
}

// OnAttach runs fn when an instance enters the owner context.
func OnAttach[T any](fn func(T)) Hook[T] {
	return func(h *hooks[T]) { h.attach = fn }
}

// OnDetach runs fn when an instance leaves the owner context.
func OnDetach[T any](fn func(T)) Hook[T] {
	return func(h *hooks[T]) { h.detach = fn }
}

// OnDestroy runs fn for every idle instance when the pool closes, and for
// instances released after Close.
func OnDestroy[T any](fn func(T) error) Hook[T] {
	return func(h *hooks[T]) { h.destroy = fn }
}
