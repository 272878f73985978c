package pool

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ajitpratap0/stockpile/pkg/logger"
	"github.com/ajitpratap0/stockpile/pkg/metrics"
	"github.com/ajitpratap0/stockpile/pkg/observability"
	"github.com/ajitpratap0/stockpile/pkg/stockpileerrors"
)

// Stats is a snapshot of a pool's counters.
type Stats struct {
	Name            string `json:"name" yaml:"name"`
	Idle            int    `json:"idle" yaml:"idle"`
	Outstanding     int    `json:"outstanding" yaml:"outstanding"`
	Target          int    `json:"target" yaml:"target"`
	RefillRemaining int    `json:"refill_remaining" yaml:"refill_remaining"`
	Constructed     int    `json:"constructed" yaml:"constructed"`
	Hits            int    `json:"hits" yaml:"hits"`
	Misses          int    `json:"misses" yaml:"misses"`
	Growths         int    `json:"growths" yaml:"growths"`
	Closed          bool   `json:"closed" yaml:"closed"`
}

type slot[T any] struct {
	value    T
	attached bool
}

// Pool is a recycling pool of T with a self-adjusting target reserve.
//
// Acquire always yields an instance: from the free list when one is idle,
// otherwise by calling the factory synchronously. When more than half of the
// target is on loan the target doubles and the missing reserve is scheduled
// for construction by Tick.
//
// A Pool is not safe for concurrent use. It belongs to the goroutine that
// calls Tick.
type Pool[T any] struct {
	name    string
	factory Factory[T]
	hooks   hooks[T]
	policy  DetachPolicy
	logger  *zap.Logger
	metrics *metrics.PoolInstruments
	debug   *debugState[T]

	free            []slot[T]
	pendingDetach   int
	outstanding     int
	target          int
	refillRemaining int

	constructed int
	hits        int
	misses      int
	growths     int
	closed      bool
}

// New creates a pool that builds instances with factory. Unless
// opts.SkipWarmup is set, a refill of the full initial target is scheduled,
// so the reserve fills as soon as the driver starts ticking. New itself
// constructs nothing.
func New[T any](factory Factory[T], opts Options, hs ...Hook[T]) (*Pool[T], error) {
	if factory == nil {
		return nil, stockpileerrors.New(stockpileerrors.ErrorTypeValidation, "factory is required")
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}

	target := opts.InitialTarget
	if target == 0 {
		target = DefaultInitialTarget
	}

	p := &Pool[T]{
		name:    opts.Name,
		factory: factory,
		policy:  opts.DetachPolicy,
		logger:  logger.OrNop(opts.Logger).With(zap.String("pool", opts.Name)),
		metrics: opts.Metrics,
		debug:   newDebugState[T](),
		target:  target,
	}
	for _, h := range hs {
		if h != nil {
			h(&p.hooks)
		}
	}

	if !opts.SkipWarmup {
		p.scheduleRefill()
	}
	p.syncMetrics()

	p.logger.Debug("pool created",
		zap.Int("target", p.target),
		zap.Int("refill_remaining", p.refillRemaining),
		zap.Stringer("detach_policy", p.policy))
	return p, nil
}

// Name returns the pool name.
func (p *Pool[T]) Name() string {
	return p.name
}

// Acquire returns an idle instance, or constructs one synchronously when the
// free list is empty. It fails only when the pool is closed or the factory
// fails; a factory failure leaves the counters untouched.
func (p *Pool[T]) Acquire(ctx context.Context) (T, error) {
	v, _, err := p.AcquireFresh(ctx)
	return v, err
}

// AcquireFresh is Acquire that also reports whether the instance was built
// by this call rather than taken from the free list.
func (p *Pool[T]) AcquireFresh(ctx context.Context) (T, bool, error) {
	var zero T
	if p.closed {
		return zero, false, p.closedError("acquire")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var v T
	created := false
	if n := len(p.free); n > 0 {
		s := p.free[n-1]
		p.free[n-1] = slot[T]{}
		p.free = p.free[:n-1]
		if !s.attached {
			p.attachValue(s.value)
		} else if p.policy == DetachDeferred && p.detachable() {
			// handed out before the deferred detach reached it
			p.pendingDetach--
		}
		v = s.value
		p.hits++
		p.metrics.Hit()
	} else {
		built, err := p.constructTraced(ctx)
		if err != nil {
			return zero, false, err
		}
		v = built
		created = true
		p.misses++
		p.metrics.Miss()
	}

	p.debug.acquired(v)
	p.outstanding++
	if p.outstanding > p.target/2 {
		p.grow()
	}
	p.syncMetrics()
	return v, created, nil
}

// TryAcquire returns an idle instance without ever constructing one. The
// boolean is false when the free list is empty or the pool is closed.
// Pressure is accounted exactly as in Acquire.
func (p *Pool[T]) TryAcquire() (T, bool) {
	var zero T
	if p.closed || len(p.free) == 0 {
		return zero, false
	}
	v, err := p.Acquire(context.Background())
	if err != nil {
		return zero, false
	}
	return v, true
}

// Release returns an instance previously obtained from Acquire. The instance
// is not reset. After Close the instance is destroyed instead of kept.
//
// Releasing the same instance twice without an intervening Acquire is a
// caller bug. Builds with the debug tag panic on it, as they do on a release
// with nothing on loan.
func (p *Pool[T]) Release(v T) {
	p.debug.released(v, p.outstanding)
	p.outstanding--

	if p.closed {
		p.destroyValue(v)
		return
	}

	s := slot[T]{value: v, attached: true}
	switch p.policy {
	case DetachOnRelease:
		p.detachValue(v)
		s.attached = false
	case DetachDeferred:
		if p.detachable() {
			p.pendingDetach++
		}
	}
	p.free = append(p.free, s)
	p.syncMetrics()
}

// Tick builds at most chunk instances toward the target reserve. It stops
// early once the free list reaches the target or the scheduled refill is
// done, and returns the number of instances built.
//
// With DetachDeferred, Tick also detaches up to chunk idle instances that
// are still attached.
//
// A chunk of zero or less does nothing. A factory error stops the tick.
// Instances built before it stay in the free list and the rest of the refill
// is retried on the next tick. A ctx
// that is already done when Tick starts builds nothing; the factory still
// sees ctx and may fail with its error.
func (p *Pool[T]) Tick(ctx context.Context, chunk int) (int, error) {
	if p.closed {
		return 0, p.closedError("tick")
	}
	if chunk <= 0 {
		return 0, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := observability.Tracer().Start(ctx, "pool.tick", trace.WithAttributes(
		attribute.String("pool.name", p.name),
		attribute.Int("pool.chunk", chunk),
	))
	defer span.End()

	detached := 0
	if p.policy == DetachDeferred && p.pendingDetach > 0 {
		detached = p.detachIdle(chunk)
	}

	built := 0
	var err error
	if p.refillRemaining > 0 && len(p.free) < p.target {
		// cancellation is checked once; a started chunk runs to completion
		err = ctx.Err()
	}
	for err == nil && built < chunk && p.refillRemaining > 0 && len(p.free) < p.target {
		var v T
		if v, err = p.construct(ctx, p.policy == DetachNever); err != nil {
			break
		}
		p.debug.idled(v)
		p.free = append(p.free, slot[T]{value: v, attached: p.policy == DetachNever || !p.detachable()})
		p.refillRemaining--
		built++
	}
	if err == nil && len(p.free) >= p.target {
		// reserve satisfied by releases, nothing left to build
		p.refillRemaining = 0
	}

	p.metrics.Refilled(built)
	p.syncMetrics()

	span.SetAttributes(
		attribute.Int("pool.built", built),
		attribute.Int("pool.detached", detached),
		attribute.Int("pool.refill_remaining", p.refillRemaining),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.WithContext(ctx, p.logger).Warn("refill interrupted",
			zap.Int("built", built),
			zap.Int("refill_remaining", p.refillRemaining),
			zap.Error(err))
		return built, err
	}

	if built > 0 || detached > 0 {
		logger.WithContext(ctx, p.logger).Debug("pool ticked",
			zap.Int("built", built),
			zap.Int("detached", detached),
			zap.Int("idle", len(p.free)),
			zap.Int("refill_remaining", p.refillRemaining))
	}
	return built, nil
}

// Close destroys every idle instance and rejects further Acquire and Tick
// calls. Instances still on loan are destroyed when they are released.
// Closing twice is a no-op.
func (p *Pool[T]) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true

	var errs []error
	for i := len(p.free) - 1; i >= 0; i-- {
		if err := p.destroy(p.free[i].value); err != nil {
			errs = append(errs, err)
		}
		p.free[i] = slot[T]{}
	}
	p.free = nil
	p.pendingDetach = 0
	p.refillRemaining = 0
	p.syncMetrics()

	p.logger.Debug("pool closed",
		zap.Int("outstanding", p.outstanding),
		zap.Int("destroy_errors", len(errs)))

	if err := errors.Join(errs...); err != nil {
		return stockpileerrors.Wrap(err, stockpileerrors.ErrorTypeInternal, "destroy idle instances").
			WithDetail("pool", p.name)
	}
	return nil
}

// Stats returns a snapshot of the pool counters.
func (p *Pool[T]) Stats() Stats {
	return Stats{
		Name:            p.name,
		Idle:            len(p.free),
		Outstanding:     p.outstanding,
		Target:          p.target,
		RefillRemaining: p.refillRemaining,
		Constructed:     p.constructed,
		Hits:            p.hits,
		Misses:          p.misses,
		Growths:         p.growths,
		Closed:          p.closed,
	}
}

// grow doubles the target and schedules the refill for the new deficit.
func (p *Pool[T]) grow() {
	p.target *= 2
	p.growths++
	p.metrics.Grew()
	p.scheduleRefill()

	p.logger.Debug("pool target grew",
		zap.Int("target", p.target),
		zap.Int("outstanding", p.outstanding),
		zap.Int("idle", len(p.free)),
		zap.Int("refill_remaining", p.refillRemaining))
}

// scheduleRefill sets the refill to the current deficit. Calling it again
// before the refill drains replaces the remainder, it never adds to it.
func (p *Pool[T]) scheduleRefill() {
	deficit := p.target - len(p.free) - p.outstanding
	if deficit < 0 {
		deficit = 0
	}
	p.refillRemaining = deficit
}

func (p *Pool[T]) constructTraced(ctx context.Context) (T, error) {
	ctx, span := observability.Tracer().Start(ctx, "pool.construct", trace.WithAttributes(
		attribute.String("pool.name", p.name),
	))
	defer span.End()

	v, err := p.construct(ctx, true)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return v, err
}

// construct builds one instance, runs the setup hook and attaches it when
// asked to.
func (p *Pool[T]) construct(ctx context.Context, attach bool) (T, error) {
	v, err := p.factory.New(ctx)
	if err != nil {
		p.metrics.FactoryFailed()
		var zero T
		return zero, stockpileerrors.Wrap(err, stockpileerrors.ErrorTypeFactory, "construct instance").
			WithDetail("pool", p.name)
	}
	p.constructed++
	if p.hooks.setup != nil {
		p.hooks.setup(v)
	}
	if attach {
		p.attachValue(v)
	}
	return v, nil
}

func (p *Pool[T]) detachable() bool {
	return p.hooks.detach != nil || p.hooks.attach != nil
}

func (p *Pool[T]) attachValue(v T) {
	if p.hooks.attach != nil {
		p.hooks.attach(v)
	}
}

func (p *Pool[T]) detachValue(v T) {
	if p.hooks.detach != nil {
		p.hooks.detach(v)
	}
}

// detachIdle detaches up to limit idle instances, oldest first.
func (p *Pool[T]) detachIdle(limit int) int {
	n := 0
	for i := range p.free {
		if n >= limit || p.pendingDetach == 0 {
			break
		}
		if !p.free[i].attached {
			continue
		}
		p.detachValue(p.free[i].value)
		p.free[i].attached = false
		p.pendingDetach--
		n++
	}
	return n
}

func (p *Pool[T]) destroy(v T) error {
	if p.hooks.destroy == nil {
		return nil
	}
	return p.hooks.destroy(v)
}

func (p *Pool[T]) destroyValue(v T) {
	if err := p.destroy(v); err != nil {
		p.logger.Warn("destroy released instance", zap.Error(err))
	}
}

func (p *Pool[T]) closedError(op string) error {
	return stockpileerrors.New(stockpileerrors.ErrorTypeClosed, "pool is closed").
		WithDetail("pool", p.name).
		WithDetail("op", op)
}

func (p *Pool[T]) syncMetrics() {
	p.metrics.SetState(len(p.free), p.outstanding, p.target, p.refillRemaining)
}
