package simulate

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sourcegraph/conc"
	"go.uber.org/zap"

	"github.com/ajitpratap0/stockpile/pkg/logger"
	"github.com/ajitpratap0/stockpile/pkg/stockpileerrors"
	"github.com/ajitpratap0/stockpile/pkg/tasks"
)

// maxSubmitRetries bounds how often a producer retries one request against a
// full hand-off queue before giving it up.
const maxSubmitRetries = 5

// ProducerStats counts hand-offs made by the producer goroutines.
type ProducerStats struct {
	Submitted uint64 `json:"submitted" yaml:"submitted"`
	Retries   uint64 `json:"retries" yaml:"retries"`
	Abandoned uint64 `json:"abandoned" yaml:"abandoned"`
}

// Producers are goroutines outside the driver that ask for sprites by
// submitting spawn tasks to the processor.
type Producers struct {
	proc     *tasks.Processor
	gen      *Generator
	interval time.Duration
	logger   *zap.Logger

	wg        conc.WaitGroup
	submitted atomic.Uint64
	retries   atomic.Uint64
	abandoned atomic.Uint64
}

// StartProducers launches n producers, each submitting one request per
// interval until ctx is done or the processor stops.
func StartProducers(ctx context.Context, n int, interval time.Duration, proc *tasks.Processor, gen *Generator, log *zap.Logger) *Producers {
	p := &Producers{
		proc:     proc,
		gen:      gen,
		interval: interval,
		logger:   logger.OrNop(log),
	}
	for i := 0; i < n; i++ {
		id := i
		p.wg.Go(func() { p.run(ctx, id) })
	}
	return p
}

// Wait blocks until every producer has returned.
func (p *Producers) Wait() ProducerStats {
	p.wg.Wait()
	return p.Stats()
}

// Stats returns the current counters.
func (p *Producers) Stats() ProducerStats {
	return ProducerStats{
		Submitted: p.submitted.Load(),
		Retries:   p.retries.Load(),
		Abandoned: p.abandoned.Load(),
	}
}

func (p *Producers) run(ctx context.Context, id int) {
	log := p.logger.With(zap.Int("producer", id))
	log.Debug("producer started")
	defer log.Debug("producer stopped")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	backoffCfg := backoff.NewExponentialBackOff()
	backoffCfg.InitialInterval = p.interval / 4
	backoffCfg.MaxInterval = p.interval * 4

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if !p.submit(ctx, backoffCfg, log) {
			return
		}
	}
}

// submit hands one request over, retrying while the queue is full. It
// returns false once the producer should stop.
func (p *Producers) submit(ctx context.Context, backoffCfg *backoff.ExponentialBackOff, log *zap.Logger) bool {
	backoffCfg.Reset()
	for attempt := 0; ; attempt++ {
		err := p.proc.Submit(p.gen.Request())
		switch {
		case err == nil:
			p.submitted.Add(1)
			return true
		case !stockpileerrors.IsType(err, stockpileerrors.ErrorTypeQueueFull):
			log.Debug("submit rejected", zap.Error(err))
			return false
		case attempt >= maxSubmitRetries:
			p.abandoned.Add(1)
			log.Warn("request abandoned", zap.Int("attempts", attempt+1))
			return true
		}

		p.retries.Add(1)
		sleep := backoffCfg.NextBackOff()
		if sleep == backoff.Stop {
			sleep = backoffCfg.MaxInterval
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(sleep):
		}
	}
}
