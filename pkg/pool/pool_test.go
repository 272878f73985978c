package pool

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zapcore"

	"github.com/ajitpratap0/stockpile/pkg/metrics"
	"github.com/ajitpratap0/stockpile/pkg/stockpileerrors"
	"github.com/ajitpratap0/stockpile/pkg/testutil"
)

type widget struct {
	id       int
	setups   int
	attached bool
}

// countingFactory builds numbered widgets and fails while failErr is set.
type countingFactory struct {
	built   int
	failErr error
}

func (f *countingFactory) New(context.Context) (*widget, error) {
	if f.failErr != nil {
		return nil, f.failErr
	}
	f.built++
	return &widget{id: f.built}, nil
}

func newTestPool(t *testing.T, opts Options, hs ...Hook[*widget]) (*Pool[*widget], *countingFactory) {
	t.Helper()
	f := &countingFactory{}
	if opts.Logger == nil {
		opts.Logger = testutil.TestLogger(t)
	}
	p, err := New[*widget](f, opts, hs...)
	require.NoError(t, err)
	return p, f
}

func TestNewDefaults(t *testing.T) {
	p, f := newTestPool(t, Options{Name: "widgets"})

	stats := p.Stats()
	assert.Equal(t, "widgets", stats.Name)
	assert.Equal(t, DefaultInitialTarget, stats.Target)
	assert.Equal(t, DefaultInitialTarget, stats.RefillRemaining)
	assert.Zero(t, stats.Idle)
	assert.Zero(t, stats.Outstanding)
	assert.Zero(t, f.built, "New must not construct")
}

func TestNewSkipWarmup(t *testing.T) {
	p, _ := newTestPool(t, Options{InitialTarget: 4, SkipWarmup: true})
	assert.Zero(t, p.Stats().RefillRemaining)
	assert.Equal(t, 4, p.Stats().Target)
}

func TestNewValidation(t *testing.T) {
	_, err := New[*widget](nil, Options{})
	assert.True(t, stockpileerrors.IsType(err, stockpileerrors.ErrorTypeValidation))

	_, err = New[*widget](&countingFactory{}, Options{InitialTarget: -1})
	assert.True(t, stockpileerrors.IsType(err, stockpileerrors.ErrorTypeValidation))

	_, err = New[*widget](&countingFactory{}, Options{DetachPolicy: DetachPolicy(9)})
	assert.True(t, stockpileerrors.IsType(err, stockpileerrors.ErrorTypeValidation))
}

func TestAcquireFromEmptyConstructs(t *testing.T) {
	ctx := testutil.TestContext(t)
	p, f := newTestPool(t, Options{InitialTarget: 10})

	w, err := p.Acquire(ctx)
	require.NoError(t, err)
	require.NotNil(t, w)

	stats := p.Stats()
	assert.Equal(t, 1, f.built)
	assert.Equal(t, 1, stats.Outstanding)
	assert.Zero(t, stats.Idle)
	assert.Equal(t, 1, stats.Misses)
	assert.Equal(t, 10, stats.Target)
}

func TestReleaseReturnsToFreeList(t *testing.T) {
	ctx := testutil.TestContext(t)
	p, _ := newTestPool(t, Options{InitialTarget: 10})

	w, err := p.Acquire(ctx)
	require.NoError(t, err)
	p.Release(w)

	stats := p.Stats()
	assert.Equal(t, 1, stats.Idle)
	assert.Zero(t, stats.Outstanding)

	again, err := p.Acquire(ctx)
	require.NoError(t, err)
	assert.Same(t, w, again)
	assert.Equal(t, 1, p.Stats().Hits)
}

func TestGrowthAfterHalfTargetOnLoan(t *testing.T) {
	ctx := testutil.TestContext(t)
	p, _ := newTestPool(t, Options{InitialTarget: 10})

	for i := 0; i < 5; i++ {
		_, err := p.Acquire(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, 10, p.Stats().Target, "five on loan is not more than half")

	_, err := p.Acquire(ctx)
	require.NoError(t, err)

	stats := p.Stats()
	assert.Equal(t, 20, stats.Target)
	assert.Equal(t, 14, stats.RefillRemaining)
	assert.Equal(t, 1, stats.Growths)
}

func TestTickBuildsInChunks(t *testing.T) {
	ctx := testutil.TestContext(t)
	p, f := newTestPool(t, Options{InitialTarget: 10})

	for i := 0; i < 6; i++ {
		_, err := p.Acquire(ctx)
		require.NoError(t, err)
	}
	require.Equal(t, 14, p.Stats().RefillRemaining)

	ticks := 0
	for p.Stats().RefillRemaining > 0 {
		before := p.Stats()
		built, err := p.Tick(ctx, 2)
		require.NoError(t, err)
		after := p.Stats()

		assert.LessOrEqual(t, built, 2)
		assert.Equal(t, before.RefillRemaining-built, after.RefillRemaining)
		assert.Equal(t, before.Idle+built, after.Idle)
		ticks++
		require.LessOrEqual(t, ticks, 7)
	}

	assert.Equal(t, 7, ticks)
	assert.Equal(t, 14, p.Stats().Idle)
	assert.Equal(t, 20, f.built)

	built, err := p.Tick(ctx, 2)
	require.NoError(t, err)
	assert.Zero(t, built)
}

func TestTickStopsAtTarget(t *testing.T) {
	ctx := testutil.TestContext(t)
	p, _ := newTestPool(t, Options{InitialTarget: 4})

	// Fill most of the reserve through releases instead of the refill.
	held := make([]*widget, 0, 3)
	for i := 0; i < 3; i++ {
		w, err := p.Acquire(ctx)
		require.NoError(t, err)
		held = append(held, w)
	}
	// 3 > 4/2, target is now 8 with a deficit of 5.
	require.Equal(t, 8, p.Stats().Target)
	require.Equal(t, 5, p.Stats().RefillRemaining)

	for _, w := range held {
		p.Release(w)
	}

	built, err := p.Tick(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 5, built)
	assert.Equal(t, 8, p.Stats().Idle)
	assert.Zero(t, p.Stats().RefillRemaining)
}

func TestTickClearsRefillOnceReserveIsFull(t *testing.T) {
	ctx := testutil.TestContext(t)
	p, f := newTestPool(t, Options{InitialTarget: 4, SkipWarmup: true})

	var held []*widget
	for i := 0; i < 4; i++ {
		w, err := p.Acquire(ctx)
		require.NoError(t, err)
		held = append(held, w)
	}
	// The third acquire doubled the target; the fourth was an extra miss.
	require.Equal(t, 8, p.Stats().Target)
	require.Equal(t, 5, p.Stats().RefillRemaining)

	for _, w := range held {
		p.Release(w)
	}
	for i := 0; i < 4; i++ {
		built, err := p.Tick(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, 1, built)
	}

	assert.Equal(t, 8, p.Stats().Idle)
	assert.Zero(t, p.Stats().RefillRemaining)
	assert.Equal(t, 8, f.built)
}

func TestTickWithNonPositiveChunkBuildsNothing(t *testing.T) {
	p, f := newTestPool(t, Options{})
	for _, chunk := range []int{0, -3} {
		built, err := p.Tick(context.Background(), chunk)
		require.NoError(t, err)
		assert.Zero(t, built)
	}
	assert.Zero(t, f.built)
	assert.Equal(t, DefaultInitialTarget, p.Stats().RefillRemaining)
}

func TestAcquireFreshReportsConstruction(t *testing.T) {
	ctx := testutil.TestContext(t)
	p, f := newTestPool(t, Options{InitialTarget: 4, SkipWarmup: true})

	w, created, err := p.AcquireFresh(ctx)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, 1, f.built)

	p.Release(w)
	again, created, err := p.AcquireFresh(ctx)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Same(t, w, again)
	assert.Equal(t, 1, f.built)

	require.NoError(t, p.Close())
	_, created, err = p.AcquireFresh(ctx)
	assert.True(t, stockpileerrors.IsType(err, stockpileerrors.ErrorTypeClosed))
	assert.False(t, created)
}

func TestTickHonoursCancelledContext(t *testing.T) {
	p, f := newTestPool(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	built, err := p.Tick(ctx, 5)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, built)
	assert.Zero(t, f.built)
	assert.Equal(t, DefaultInitialTarget, p.Stats().RefillRemaining)
}

func TestNoDoubleIssue(t *testing.T) {
	ctx := testutil.TestContext(t)
	p, _ := newTestPool(t, Options{InitialTarget: 8})
	for p.Stats().RefillRemaining > 0 {
		_, err := p.Tick(ctx, 3)
		require.NoError(t, err)
	}

	seen := make(map[*widget]bool)
	for i := 0; i < 40; i++ {
		w, err := p.Acquire(ctx)
		require.NoError(t, err)
		require.False(t, seen[w], "instance issued twice while on loan")
		seen[w] = true
	}
}

func TestConservationAndMonotonicTarget(t *testing.T) {
	ctx := testutil.TestContext(t)
	p, f := newTestPool(t, Options{InitialTarget: 4})
	rng := rand.New(rand.NewSource(7))

	var held []*widget
	lastTarget := p.Stats().Target
	for step := 0; step < 2000; step++ {
		switch op := rng.Intn(3); {
		case op == 0 || len(held) == 0:
			w, err := p.Acquire(ctx)
			require.NoError(t, err)
			held = append(held, w)
		case op == 1:
			i := rng.Intn(len(held))
			p.Release(held[i])
			held = append(held[:i], held[i+1:]...)
		default:
			built, err := p.Tick(ctx, 1+rng.Intn(3))
			require.NoError(t, err)
			require.LessOrEqual(t, built, 3)
		}

		stats := p.Stats()
		require.Equal(t, f.built, stats.Idle+stats.Outstanding, "step %d", step)
		require.Equal(t, f.built, stats.Constructed)
		require.Equal(t, len(held), stats.Outstanding)
		require.GreaterOrEqual(t, stats.Target, lastTarget)
		require.GreaterOrEqual(t, stats.RefillRemaining, 0)
		lastTarget = stats.Target
	}
}

func TestRefillConvergence(t *testing.T) {
	for _, chunk := range []int{1, 2, 3, 7, 50} {
		ctx := testutil.TestContext(t)
		p, _ := newTestPool(t, Options{InitialTarget: 13})
		n := p.Stats().RefillRemaining
		limit := (n + chunk - 1) / chunk

		calls := 0
		for p.Stats().RefillRemaining > 0 {
			_, err := p.Tick(ctx, chunk)
			require.NoError(t, err)
			calls++
			require.LessOrEqual(t, calls, limit, "chunk %d", chunk)
		}
	}
}

func TestFactoryErrorOnAcquire(t *testing.T) {
	ctx := testutil.TestContext(t)
	p, f := newTestPool(t, Options{Name: "widgets"})
	boom := errors.New("out of textures")
	f.failErr = boom

	w, err := p.Acquire(ctx)
	require.Error(t, err)
	assert.Nil(t, w)
	assert.ErrorIs(t, err, boom)
	assert.True(t, stockpileerrors.IsType(err, stockpileerrors.ErrorTypeFactory))

	var spErr *stockpileerrors.Error
	require.True(t, errors.As(err, &spErr))
	assert.Equal(t, "widgets", spErr.Details["pool"])

	stats := p.Stats()
	assert.Zero(t, stats.Outstanding)
	assert.Zero(t, stats.Constructed)
	assert.Zero(t, stats.Misses)
}

func TestFactoryErrorDuringTick(t *testing.T) {
	ctx := testutil.TestContext(t)
	p, f := newTestPool(t, Options{InitialTarget: 6})

	built, err := p.Tick(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, 2, built)

	f.failErr = errors.New("device lost")
	built, err = p.Tick(ctx, 2)
	assert.Zero(t, built)
	assert.True(t, stockpileerrors.IsType(err, stockpileerrors.ErrorTypeFactory))
	assert.Equal(t, 4, p.Stats().RefillRemaining)

	f.failErr = nil
	for p.Stats().RefillRemaining > 0 {
		_, err := p.Tick(ctx, 2)
		require.NoError(t, err)
	}
	assert.Equal(t, 6, p.Stats().Idle)
}

func TestSetupRunsOncePerInstance(t *testing.T) {
	ctx := testutil.TestContext(t)
	p, _ := newTestPool(t, Options{InitialTarget: 2},
		OnSetup(func(w *widget) { w.setups++ }))

	_, err := p.Tick(ctx, 2)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		w, err := p.Acquire(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, w.setups)
		p.Release(w)
	}
}

func TestTryAcquire(t *testing.T) {
	ctx := testutil.TestContext(t)
	p, f := newTestPool(t, Options{InitialTarget: 4})

	_, ok := p.TryAcquire()
	assert.False(t, ok)
	assert.Zero(t, f.built)

	_, err := p.Tick(ctx, 1)
	require.NoError(t, err)

	w, ok := p.TryAcquire()
	require.True(t, ok)
	assert.NotNil(t, w)
	assert.Equal(t, 1, p.Stats().Outstanding)
}

func attachHooks(events *[]string) []Hook[*widget] {
	return []Hook[*widget]{
		OnAttach(func(w *widget) {
			w.attached = true
			*events = append(*events, "attach")
		}),
		OnDetach(func(w *widget) {
			w.attached = false
			*events = append(*events, "detach")
		}),
	}
}

func TestDetachNever(t *testing.T) {
	ctx := testutil.TestContext(t)
	var events []string
	p, _ := newTestPool(t, Options{InitialTarget: 2}, attachHooks(&events)...)

	_, err := p.Tick(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"attach"}, events, "refill attaches at construction")

	w, err := p.Acquire(ctx)
	require.NoError(t, err)
	p.Release(w)
	_, err = p.Tick(ctx, 5)
	require.NoError(t, err)

	assert.True(t, w.attached)
	assert.NotContains(t, events, "detach")
}

func TestDetachOnRelease(t *testing.T) {
	ctx := testutil.TestContext(t)
	var events []string
	p, _ := newTestPool(t, Options{InitialTarget: 4, DetachPolicy: DetachOnRelease}, attachHooks(&events)...)

	_, err := p.Tick(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, events, "idle instances are not attached")

	w, err := p.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, w.attached)

	p.Release(w)
	assert.False(t, w.attached)
	assert.Equal(t, []string{"attach", "detach"}, events)
}

func TestDetachDeferred(t *testing.T) {
	ctx := testutil.TestContext(t)
	var events []string
	p, _ := newTestPool(t, Options{InitialTarget: 20, DetachPolicy: DetachDeferred, SkipWarmup: true},
		attachHooks(&events)...)

	var held []*widget
	for i := 0; i < 3; i++ {
		w, err := p.Acquire(ctx)
		require.NoError(t, err)
		assert.True(t, w.attached)
		held = append(held, w)
	}
	for _, w := range held {
		p.Release(w)
		assert.True(t, w.attached, "release must not detach")
	}

	_, err := p.Tick(ctx, 2)
	require.NoError(t, err)
	detached := 0
	for _, w := range held {
		if !w.attached {
			detached++
		}
	}
	assert.Equal(t, 2, detached, "detach is bounded by chunk")

	_, err = p.Tick(ctx, 2)
	require.NoError(t, err)
	for _, w := range held {
		assert.False(t, w.attached)
	}

	w, err := p.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, w.attached, "reuse reattaches")
}

func TestDetachDeferredSkipsReacquired(t *testing.T) {
	ctx := testutil.TestContext(t)
	var events []string
	p, _ := newTestPool(t, Options{InitialTarget: 20, DetachPolicy: DetachDeferred, SkipWarmup: true},
		attachHooks(&events)...)

	w, err := p.Acquire(ctx)
	require.NoError(t, err)
	p.Release(w)
	again, err := p.Acquire(ctx)
	require.NoError(t, err)
	require.Same(t, w, again)

	_, err = p.Tick(ctx, 5)
	require.NoError(t, err)
	assert.True(t, w.attached, "instance on loan must stay attached")
	assert.Equal(t, []string{"attach"}, events)
}

func TestClose(t *testing.T) {
	ctx := testutil.TestContext(t)
	var destroyed []int
	p, _ := newTestPool(t, Options{InitialTarget: 4},
		OnDestroy(func(w *widget) error {
			destroyed = append(destroyed, w.id)
			return nil
		}))

	_, err := p.Tick(ctx, 3)
	require.NoError(t, err)
	loaned, err := p.Acquire(ctx)
	require.NoError(t, err)

	require.NoError(t, p.Close())
	assert.Len(t, destroyed, 2)
	assert.True(t, p.Stats().Closed)
	assert.Zero(t, p.Stats().Idle)

	_, err = p.Acquire(ctx)
	assert.True(t, stockpileerrors.IsType(err, stockpileerrors.ErrorTypeClosed))
	_, err = p.Tick(ctx, 1)
	assert.True(t, stockpileerrors.IsType(err, stockpileerrors.ErrorTypeClosed))

	p.Release(loaned)
	assert.Len(t, destroyed, 3)
	assert.Zero(t, p.Stats().Outstanding)

	assert.NoError(t, p.Close())
}

func TestCloseJoinsDestroyErrors(t *testing.T) {
	ctx := testutil.TestContext(t)
	leak := errors.New("leaked handle")
	p, _ := newTestPool(t, Options{InitialTarget: 2},
		OnDestroy(func(*widget) error { return leak }))

	_, err := p.Tick(ctx, 2)
	require.NoError(t, err)

	err = p.Close()
	require.Error(t, err)
	assert.ErrorIs(t, err, leak)
	assert.True(t, stockpileerrors.IsType(err, stockpileerrors.ErrorTypeInternal))
}

func TestPoolMetrics(t *testing.T) {
	ctx := testutil.TestContext(t)
	reg := prometheus.NewRegistry()
	collector := metrics.NewPoolCollector(reg, "test")
	p, _ := newTestPool(t, Options{Name: "widgets", InitialTarget: 10, Metrics: collector.ForPool("widgets")})

	for i := 0; i < 6; i++ {
		_, err := p.Acquire(ctx)
		require.NoError(t, err)
	}
	_, err := p.Tick(ctx, 2)
	require.NoError(t, err)

	expected := `
# HELP test_pool_idle_instances Instances currently in the free list
# TYPE test_pool_idle_instances gauge
test_pool_idle_instances{pool="widgets"} 2
# HELP test_pool_refill_remaining Instances still to be built by the driver
# TYPE test_pool_refill_remaining gauge
test_pool_refill_remaining{pool="widgets"} 12
# HELP test_pool_target_size Desired idle reserve
# TYPE test_pool_target_size gauge
test_pool_target_size{pool="widgets"} 20
`
	require.NoError(t, promtest.GatherAndCompare(reg, strings.NewReader(expected),
		"test_pool_idle_instances", "test_pool_refill_remaining", "test_pool_target_size"))
	assert.Equal(t, 2, promtest.CollectAndCount(reg, "test_pool_acquires_total"))
}

func TestGrowthIsLogged(t *testing.T) {
	ctx := testutil.TestContext(t)
	log, logs := testutil.ObservedLogger(zapcore.DebugLevel)
	p, _ := newTestPool(t, Options{Name: "widgets", InitialTarget: 2, Logger: log})

	_, err := p.Acquire(ctx)
	require.NoError(t, err)
	_, err = p.Acquire(ctx)
	require.NoError(t, err)

	grew := logs.FilterMessage("pool target grew")
	require.Equal(t, 1, grew.Len())
	fields := grew.All()[0].ContextMap()
	assert.Equal(t, "widgets", fields["pool"])
	assert.Equal(t, int64(4), fields["target"])
}

func TestTickSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx := testutil.TestContext(t)
	p, _ := newTestPool(t, Options{Name: "widgets", InitialTarget: 2})
	_, err := p.Acquire(ctx)
	require.NoError(t, err)
	_, err = p.Tick(ctx, 1)
	require.NoError(t, err)

	names := make([]string, 0)
	for _, s := range recorder.Ended() {
		names = append(names, s.Name())
	}
	assert.Contains(t, names, "pool.construct")
	assert.Contains(t, names, "pool.tick")
	for _, s := range recorder.Ended() {
		assert.Equal(t, "github.com/ajitpratap0/stockpile", s.InstrumentationScope().Name)
	}
}

func TestParseDetachPolicy(t *testing.T) {
	tests := []struct {
		in   string
		want DetachPolicy
		ok   bool
	}{
		{"", DetachNever, true},
		{"never", DetachNever, true},
		{"on_release", DetachOnRelease, true},
		{"Eager", DetachOnRelease, true},
		{"deferred", DetachDeferred, true},
		{"lazy", DetachDeferred, true},
		{"sometimes", DetachNever, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDetachPolicy(tt.in)
			if !tt.ok {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			if tt.in == tt.want.String() {
				assert.Equal(t, tt.in, got.String())
			}
		})
	}
}
