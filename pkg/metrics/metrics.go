// Package metrics exposes Prometheus instruments for stockpile pools and the
// tick driver.
//
// # Overview
//
// Collectors are created against a caller-supplied prometheus.Registerer so
// several independent sets can coexist (tests, multiple drivers in one
// process). Every method is nil-safe: a component built without metrics
// holds a nil *PoolInstruments or *DriverCollector and pays nothing.
//
// # Basic Usage
//
//	reg := prometheus.NewRegistry()
//	pools := metrics.NewPoolCollector(reg, "stockpile")
//	p, _ := pool.New(factory, pool.Options{
//	    Name:    "bullets",
//	    Metrics: pools.ForPool("bullets"),
//	})
//
// # Metric Types
//
// Gauges mirror the pool state after every operation (idle, outstanding,
// target, refill remaining). Counters accumulate construction and reuse
// events. The driver records a histogram of tick durations.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PoolCollector owns the pool metric vectors. All pools sharing a collector
// are told apart by the "pool" label.
type PoolCollector struct {
	idle            *prometheus.GaugeVec
	outstanding     *prometheus.GaugeVec
	target          *prometheus.GaugeVec
	refillRemaining *prometheus.GaugeVec
	constructed     *prometheus.CounterVec
	acquires        *prometheus.CounterVec
	growths         *prometheus.CounterVec
	factoryErrors   *prometheus.CounterVec
}

// NewPoolCollector creates and registers the pool vectors. A nil reg uses
// prometheus.DefaultRegisterer.
func NewPoolCollector(reg prometheus.Registerer, namespace string) *PoolCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PoolCollector{
		idle: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "pool",
				Name:      "idle_instances",
				Help:      "Instances currently in the free list",
			},
			[]string{"pool"},
		),
		outstanding: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "pool",
				Name:      "outstanding_instances",
				Help:      "Instances currently on loan",
			},
			[]string{"pool"},
		),
		target: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "pool",
				Name:      "target_size",
				Help:      "Desired idle reserve",
			},
			[]string{"pool"},
		),
		refillRemaining: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "pool",
				Name:      "refill_remaining",
				Help:      "Instances still to be built by the driver",
			},
			[]string{"pool"},
		),
		constructed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pool",
				Name:      "constructed_total",
				Help:      "Instances built, labelled by path (refill or fallback)",
			},
			[]string{"pool", "path"},
		),
		acquires: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pool",
				Name:      "acquires_total",
				Help:      "Acquire calls, labelled by result (hit or miss)",
			},
			[]string{"pool", "result"},
		),
		growths: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pool",
				Name:      "growths_total",
				Help:      "Times the target size was doubled",
			},
			[]string{"pool"},
		),
		factoryErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pool",
				Name:      "factory_errors_total",
				Help:      "Factory failures surfaced to callers",
			},
			[]string{"pool"},
		),
	}
}

// ForPool returns the instruments curried for one pool name.
func (c *PoolCollector) ForPool(name string) *PoolInstruments {
	if c == nil {
		return nil
	}
	labels := prometheus.Labels{"pool": name}
	return &PoolInstruments{
		idle:              c.idle.With(labels),
		outstanding:       c.outstanding.With(labels),
		target:            c.target.With(labels),
		refillRemaining:   c.refillRemaining.With(labels),
		constructRefill:   c.constructed.WithLabelValues(name, "refill"),
		constructFallback: c.constructed.WithLabelValues(name, "fallback"),
		hits:              c.acquires.WithLabelValues(name, "hit"),
		misses:            c.acquires.WithLabelValues(name, "miss"),
		growths:           c.growths.With(labels),
		factoryErrors:     c.factoryErrors.With(labels),
	}
}

// PoolInstruments are the metrics of a single pool.
type PoolInstruments struct {
	idle              prometheus.Gauge
	outstanding       prometheus.Gauge
	target            prometheus.Gauge
	refillRemaining   prometheus.Gauge
	constructRefill   prometheus.Counter
	constructFallback prometheus.Counter
	hits              prometheus.Counter
	misses            prometheus.Counter
	growths           prometheus.Counter
	factoryErrors     prometheus.Counter
}

// SetState mirrors the pool's counters into the gauges.
func (p *PoolInstruments) SetState(idle, outstanding, target, refillRemaining int) {
	if p == nil {
		return
	}
	p.idle.Set(float64(idle))
	p.outstanding.Set(float64(outstanding))
	p.target.Set(float64(target))
	p.refillRemaining.Set(float64(refillRemaining))
}

// Hit records an acquire served from the free list.
func (p *PoolInstruments) Hit() {
	if p == nil {
		return
	}
	p.hits.Inc()
}

// Miss records an acquire that had to construct synchronously.
func (p *PoolInstruments) Miss() {
	if p == nil {
		return
	}
	p.misses.Inc()
	p.constructFallback.Inc()
}

// Refilled records n instances built by a tick.
func (p *PoolInstruments) Refilled(n int) {
	if p == nil || n <= 0 {
		return
	}
	p.constructRefill.Add(float64(n))
}

// Grew records a doubling of the target size.
func (p *PoolInstruments) Grew() {
	if p == nil {
		return
	}
	p.growths.Inc()
}

// FactoryFailed records a factory error.
func (p *PoolInstruments) FactoryFailed() {
	if p == nil {
		return
	}
	p.factoryErrors.Inc()
}

// DriverCollector tracks tick timing and failures per registered tickable.
type DriverCollector struct {
	tickDuration *prometheus.HistogramVec
	tickErrors   *prometheus.CounterVec
	ticks        prometheus.Counter
}

// NewDriverCollector creates and registers the driver instruments. A nil
// reg uses prometheus.DefaultRegisterer.
func NewDriverCollector(reg prometheus.Registerer, namespace string) *DriverCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &DriverCollector{
		tickDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "driver",
				Name:      "tick_duration_seconds",
				Help:      "Time spent in one tickable per tick",
				Buckets: []float64{
					1e-6, // 1μs - idle tickables
					1e-5,
					1e-4,
					1e-3, // 1ms - a few cheap constructions
					5e-3,
					1.6e-2, // one 60Hz frame
					5e-2,
					1e-1,
				},
			},
			[]string{"tickable"},
		),
		tickErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "driver",
				Name:      "tick_errors_total",
				Help:      "Errors returned by tickables",
			},
			[]string{"tickable"},
		),
		ticks: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "driver",
				Name:      "ticks_total",
				Help:      "Completed driver ticks",
			},
		),
	}
}

// ObserveTick records how long one tickable took and whether it failed.
func (d *DriverCollector) ObserveTick(tickable string, took time.Duration, err error) {
	if d == nil {
		return
	}
	d.tickDuration.WithLabelValues(tickable).Observe(took.Seconds())
	if err != nil {
		d.tickErrors.WithLabelValues(tickable).Inc()
	}
}

// TickDone counts a completed driver tick.
func (d *DriverCollector) TickDone() {
	if d == nil {
		return
	}
	d.ticks.Inc()
}

// Timer provides a simple timing mechanism for measuring operation durations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer and starts timing immediately.
func NewTimer() Timer {
	return Timer{start: time.Now()}
}

// Stop returns the elapsed duration since creation. It can be called more
// than once.
func (t Timer) Stop() time.Duration {
	return time.Since(t.start)
}
