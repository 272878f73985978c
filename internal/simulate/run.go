// Package simulate drives a recycling pool of synthetic heavy sprites with a
// seeded workload so pool behaviour can be observed from the command line.
package simulate

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/ajitpratap0/stockpile/pkg/config"
	"github.com/ajitpratap0/stockpile/pkg/driver"
	"github.com/ajitpratap0/stockpile/pkg/logger"
	"github.com/ajitpratap0/stockpile/pkg/metrics"
	"github.com/ajitpratap0/stockpile/pkg/pool"
	"github.com/ajitpratap0/stockpile/pkg/tasks"
)

// Env carries the process-wide services a run reports to. Both fields may
// be nil.
type Env struct {
	Logger     *zap.Logger
	Registerer prometheus.Registerer
}

// Report summarizes a finished run.
type Report struct {
	RunID     string         `json:"run_id" yaml:"run_id"`
	Pool      pool.Stats     `json:"pool" yaml:"pool"`
	Workload  GeneratorStats `json:"workload" yaml:"workload"`
	Producers ProducerStats  `json:"producers" yaml:"producers"`
	Ticks     uint64         `json:"ticks" yaml:"ticks"`
	Failures  uint64         `json:"failures" yaml:"failures"`
	Dropped   uint64         `json:"dropped" yaml:"dropped"`
	Elapsed   time.Duration  `json:"elapsed" yaml:"elapsed"`
	Resources ResourceUsage  `json:"resources" yaml:"resources"`
}

// Run builds the pool, processor, generator and driver described by cfg,
// runs the driver until it stops and returns the final counters. Stats are
// taken after live sprites are returned and before the pool is closed.
func Run(ctx context.Context, cfg *config.Config, env Env) (*Report, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	runID := uuid.NewString()
	log := logger.OrNop(env.Logger).With(zap.String("run_id", runID))
	sim := cfg.Simulation

	var factory *SpriteFactory
	if cfg.Pool.Blueprint != "" {
		var err error
		factory, err = NewSpriteFactoryFromFile(cfg.Pool.Blueprint, sim.BuildCost, sim.PayloadSize)
		if err != nil {
			return nil, err
		}
	} else {
		factory = NewSpriteFactory(sim.BuildCost, sim.PayloadSize, nil)
	}

	opts, err := cfg.Pool.Options()
	if err != nil {
		return nil, err
	}
	opts.Logger = log
	var driverMetrics *metrics.DriverCollector
	if env.Registerer != nil {
		opts.Metrics = metrics.NewPoolCollector(env.Registerer, cfg.Metrics.Namespace).ForPool(opts.Name)
		driverMetrics = metrics.NewDriverCollector(env.Registerer, cfg.Metrics.Namespace)
	}

	sprites, err := pool.New[*Sprite](factory, opts,
		pool.OnAttach(func(s *Sprite) { s.Visible = true }),
		pool.OnDetach(func(s *Sprite) { s.Visible = false }),
		pool.OnDestroy(func(s *Sprite) error {
			s.Payload = nil
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}

	proc := tasks.NewProcessor(tasks.Options{
		Name:            opts.Name,
		HandoffCapacity: cfg.Tasks.HandoffCapacity,
		Logger:          log,
	})
	gen := NewGenerator(sprites, proc, sim, log)
	refiller := pool.NewRefiller(sprites, cfg.Pool.ChunkSize)

	d := driver.New(&cfg.Driver, log, driverMetrics)
	for _, t := range []interface {
		driver.Tickable
		Name() string
	}{gen, proc, refiller} {
		if err := d.Register(t.Name(), t); err != nil {
			return nil, err
		}
	}

	started := time.Now()
	monitor := newResourceMonitor()
	producerCtx, stopProducers := context.WithCancel(ctx)
	producers := StartProducers(producerCtx, sim.Producers, sim.ProducerInterval, proc, gen, log)

	runErr := d.Run(ctx)

	stopProducers()
	producerStats := producers.Wait()
	proc.Stop()
	gen.Close()

	report := &Report{
		RunID:     runID,
		Pool:      sprites.Stats(),
		Workload:  gen.Stats(),
		Producers: producerStats,
		Ticks:     d.Ticks(),
		Failures:  d.Failures(),
		Dropped:   proc.Dropped(),
		Elapsed:   time.Since(started),
		Resources: monitor.usage(),
	}
	if err := sprites.Close(); err != nil {
		log.Warn("pool close failed", zap.Error(err))
	}
	log.Info("simulation finished",
		zap.Uint64("ticks", report.Ticks),
		zap.Int("constructed", report.Pool.Constructed),
		zap.Int("target", report.Pool.Target),
		zap.Duration("elapsed", report.Elapsed))
	return report, runErr
}
