package simulate

import (
	"context"
	"errors"
	"math/rand"

	"go.uber.org/zap"

	"github.com/ajitpratap0/stockpile/pkg/config"
	"github.com/ajitpratap0/stockpile/pkg/logger"
	"github.com/ajitpratap0/stockpile/pkg/pool"
	"github.com/ajitpratap0/stockpile/pkg/tasks"
)

// GeneratorStats counts what the generator has done so far.
type GeneratorStats struct {
	Spawned  uint64 `json:"spawned" yaml:"spawned"`
	Expired  uint64 `json:"expired" yaml:"expired"`
	Requests uint64 `json:"requests" yaml:"requests"`
	Failed   uint64 `json:"failed" yaml:"failed"`
	Live     int    `json:"live" yaml:"live"`
}

// Generator is the synthetic workload. Each tick it ages the live sprites,
// releases the expired ones back to the pool and acquires new ones at a
// seeded random rate with periodic bursts. It must be ticked by the same
// driver that ticks the pool and the processor.
type Generator struct {
	pool    *pool.Pool[*Sprite]
	proc    *tasks.Processor
	summary *tasks.Coalescer
	cfg     config.SimulationConfig
	rng     *rand.Rand
	logger  *zap.Logger

	live  []*Sprite
	ticks int
	stats GeneratorStats
}

// NewGenerator wires a generator to p. Summaries are scheduled on proc.
func NewGenerator(p *pool.Pool[*Sprite], proc *tasks.Processor, cfg config.SimulationConfig, log *zap.Logger) *Generator {
	g := &Generator{
		pool:   p,
		proc:   proc,
		cfg:    cfg,
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		logger: logger.OrNop(log).With(zap.String("generator", p.Name())),
	}
	g.summary = tasks.NewCoalescer(proc, g.logSummary, nil)
	return g
}

// Name identifies the generator in driver logs and metrics.
func (g *Generator) Name() string {
	return "simulate/" + g.pool.Name()
}

// Tick advances the workload by one frame.
func (g *Generator) Tick(ctx context.Context) error {
	g.ticks++
	changed := g.expire() > 0

	n := g.spawnCount()
	var errs []error
	for i := 0; i < n; i++ {
		if err := g.Spawn(ctx); err != nil {
			errs = append(errs, err)
			continue
		}
		changed = true
	}
	if changed {
		g.summary.Trigger()
	}
	return errors.Join(errs...)
}

// Spawn acquires one sprite and gives it a random lifetime.
func (g *Generator) Spawn(ctx context.Context) error {
	s, err := g.pool.Acquire(ctx)
	if err != nil {
		g.stats.Failed++
		return err
	}
	s.Age = 0
	s.Lifetime = g.cfg.MinLifetime
	if spread := g.cfg.MaxLifetime - g.cfg.MinLifetime; spread > 0 {
		s.Lifetime += g.rng.Intn(spread + 1)
	}
	g.live = append(g.live, s)
	g.stats.Spawned++
	return nil
}

// Request returns a task that spawns one sprite when the processor runs it.
// Producers hand these over with Processor.Submit.
func (g *Generator) Request() tasks.Task {
	return func(ctx context.Context) error {
		g.stats.Requests++
		return g.Spawn(ctx)
	}
}

// Live returns the number of sprites currently on loan.
func (g *Generator) Live() int {
	return len(g.live)
}

// Stats returns a snapshot of the generator counters.
func (g *Generator) Stats() GeneratorStats {
	s := g.stats
	s.Live = len(g.live)
	return s
}

// Close releases every live sprite back to the pool.
func (g *Generator) Close() {
	for i, s := range g.live {
		g.pool.Release(s)
		g.live[i] = nil
	}
	g.live = g.live[:0]
}

func (g *Generator) expire() int {
	kept := g.live[:0]
	expired := 0
	for _, s := range g.live {
		s.Age++
		if s.Expired() {
			g.pool.Release(s)
			expired++
			continue
		}
		kept = append(kept, s)
	}
	for i := len(kept); i < len(g.live); i++ {
		g.live[i] = nil
	}
	g.live = kept
	g.stats.Expired += uint64(expired)
	return expired
}

func (g *Generator) spawnCount() int {
	n := 0
	if g.cfg.SpawnRate > 0 {
		n = g.rng.Intn(2*g.cfg.SpawnRate + 1)
	}
	if g.cfg.BurstEvery > 0 && g.ticks%g.cfg.BurstEvery == 0 {
		n += g.cfg.BurstSize
	}
	return n
}

func (g *Generator) logSummary(context.Context) error {
	st := g.pool.Stats()
	g.logger.Debug("workload changed",
		zap.Int("tick", g.ticks),
		zap.Int("live", len(g.live)),
		zap.Int("idle", st.Idle),
		zap.Int("target", st.Target),
		zap.Int("refill_remaining", st.RefillRemaining))
	return nil
}
