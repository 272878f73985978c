// Package driver provides the periodic caller that advances pools and task
// processors. It plays the part of a game engine's frame loop: every tick it
// calls each registered Tickable once, in registration order, on a single
// goroutine.
//
// # Basic Usage
//
//	d := driver.New(driver.DefaultConfig(), logger, nil)
//	_ = d.Register("tasks", processor)
//	_ = d.Register("bullets", pool.NewRefiller(bullets, 2))
//
//	// blocks until ctx is cancelled or MaxTicks is reached
//	err := d.Run(ctx)
//
// Tests and tools that need exact control call Step instead of Run.
package driver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ajitpratap0/stockpile/pkg/logger"
	"github.com/ajitpratap0/stockpile/pkg/metrics"
	"github.com/ajitpratap0/stockpile/pkg/observability"
	"github.com/ajitpratap0/stockpile/pkg/stockpileerrors"
)

// Tickable is advanced once per driver tick.
type Tickable interface {
	Tick(ctx context.Context) error
}

// TickFunc adapts a function to Tickable.
type TickFunc func(ctx context.Context) error

// Tick calls f(ctx).
func (f TickFunc) Tick(ctx context.Context) error {
	return f(ctx)
}

// Config controls the tick loop.
type Config struct {
	// Interval between ticks. Zero steps as fast as possible and requires
	// MaxTicks.
	Interval time.Duration `yaml:"interval" mapstructure:"interval"`
	// MaxTicks stops Run after that many ticks of the current run. Zero
	// means no limit.
	MaxTicks uint64 `yaml:"max_ticks" mapstructure:"max_ticks"`
	// StopOnError makes the first tickable error end the current tick and Run.
	StopOnError bool `yaml:"stop_on_error" mapstructure:"stop_on_error"`
}

// DefaultConfig ticks at roughly 60Hz until cancelled.
func DefaultConfig() *Config {
	return &Config{
		Interval: 16 * time.Millisecond,
	}
}

// Validate checks the configuration
func (c *Config) Validate() error {
	if c.Interval < 0 {
		return stockpileerrors.New(stockpileerrors.ErrorTypeValidation, "interval must not be negative").
			WithDetail("interval", c.Interval.String())
	}
	if c.Interval == 0 && c.MaxTicks == 0 {
		return stockpileerrors.New(stockpileerrors.ErrorTypeValidation, "a zero interval requires max_ticks")
	}
	return nil
}

type entry struct {
	name     string
	tickable Tickable
}

// Driver calls its tickables once per tick. It is not safe for concurrent
// use; Run and Step must be called from the goroutine that owns the pools.
type Driver struct {
	cfg     Config
	entries []entry
	ticks   uint64
	failed  uint64

	logger  *zap.Logger
	metrics *metrics.DriverCollector
}

// New creates a driver. A nil config uses DefaultConfig; logger and
// collector may be nil.
func New(cfg *Config, log *zap.Logger, collector *metrics.DriverCollector) *Driver {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Driver{
		cfg:     *cfg,
		logger:  logger.OrNop(log),
		metrics: collector,
	}
}

// Register appends t to the tick order under name. Names must be unique.
func (d *Driver) Register(name string, t Tickable) error {
	if name == "" {
		return stockpileerrors.New(stockpileerrors.ErrorTypeValidation, "tickable name is required")
	}
	if t == nil {
		return stockpileerrors.New(stockpileerrors.ErrorTypeValidation, "tickable is nil").
			WithDetail("name", name)
	}
	for _, e := range d.entries {
		if e.name == name {
			return stockpileerrors.New(stockpileerrors.ErrorTypeValidation, "tickable already registered").
				WithDetail("name", name)
		}
	}
	d.entries = append(d.entries, entry{name: name, tickable: t})
	return nil
}

// Ticks returns the number of ticks run so far.
func (d *Driver) Ticks() uint64 {
	return d.ticks
}

// Failures returns the number of tickable errors seen so far.
func (d *Driver) Failures() uint64 {
	return d.failed
}

// Step runs one tick: every tickable once, in registration order. Errors are
// logged and joined; unless StopOnError is set the remaining tickables still
// run.
func (d *Driver) Step(ctx context.Context) error {
	d.ticks++
	ctx = logger.ContextWithTick(ctx, d.ticks)
	ctx, span := observability.Tracer().Start(ctx, "driver.tick", trace.WithAttributes(
		attribute.Int64("driver.tick", int64(d.ticks)),
	))
	defer span.End()

	var errs []error
	for _, e := range d.entries {
		timer := metrics.NewTimer()
		err := e.tickable.Tick(ctx)
		d.metrics.ObserveTick(e.name, timer.Stop(), err)
		if err == nil {
			continue
		}

		d.failed++
		logger.WithContext(ctx, d.logger).Error("tick failed",
			zap.String("tickable", e.name),
			zap.Error(err))
		errs = append(errs, fmt.Errorf("%s: %w", e.name, err))
		if d.cfg.StopOnError {
			break
		}
	}

	d.metrics.TickDone()
	err := errors.Join(errs...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// Run steps until ctx is cancelled or MaxTicks ticks have run, and returns
// nil in both cases. With StopOnError it returns the first failing tick's
// error instead.
func (d *Driver) Run(ctx context.Context) error {
	if err := d.cfg.Validate(); err != nil {
		return err
	}

	start := time.Now()
	startTicks := d.ticks
	d.logger.Info("driver started",
		zap.Duration("interval", d.cfg.Interval),
		zap.Uint64("max_ticks", d.cfg.MaxTicks),
		zap.Int("tickables", len(d.entries)))

	err := d.loop(ctx)

	d.logger.Info("driver stopped",
		zap.Uint64("ticks", d.ticks-startTicks),
		zap.Uint64("failures", d.failed),
		zap.Duration("duration", time.Since(start)),
		zap.Error(err))
	return err
}

func (d *Driver) loop(ctx context.Context) error {
	stopAt := d.ticks + d.cfg.MaxTicks
	var tickC <-chan time.Time
	if d.cfg.Interval > 0 {
		ticker := time.NewTicker(d.cfg.Interval)
		defer ticker.Stop()
		tickC = ticker.C
	}

	for {
		if d.cfg.MaxTicks > 0 && d.ticks >= stopAt {
			return nil
		}

		if tickC != nil {
			select {
			case <-ctx.Done():
				return nil
			case <-tickC:
			}
		} else if ctx.Err() != nil {
			return nil
		}

		if err := d.Step(ctx); err != nil && d.cfg.StopOnError {
			return err
		}
	}
}
