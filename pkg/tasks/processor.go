// Package tasks runs deferred work on the driver goroutine: keyed tasks at
// most once until they run, unkeyed tasks in FIFO order, and tasks handed
// over from other goroutines through a lock-free queue.
package tasks

import (
	"context"
	"errors"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/ajitpratap0/stockpile/pkg/lockfree"
	"github.com/ajitpratap0/stockpile/pkg/logger"
	"github.com/ajitpratap0/stockpile/pkg/stockpileerrors"
)

// DefaultHandoffCapacity bounds the Submit queue when Options leaves it zero.
const DefaultHandoffCapacity = 1024

// Task is a unit of deferred work.
type Task func(ctx context.Context) error

// Options configures a Processor.
type Options struct {
	Name            string
	HandoffCapacity int
	Logger          *zap.Logger
}

// Processor queues tasks and runs them on the next Process call.
//
// Push, PushKeyed, Process, Tick and Stop belong to the driver goroutine.
// Submit is the only method safe to call from other goroutines.
type Processor struct {
	name   string
	logger *zap.Logger

	keyed map[string]Task
	order []string
	fifo  []Task

	handoff *lockfree.Queue[Task]
	dropped lockfree.AtomicCounter
	stopped atomic.Bool
}

// NewProcessor creates an empty processor.
func NewProcessor(opts Options) *Processor {
	capacity := opts.HandoffCapacity
	if capacity <= 0 {
		capacity = DefaultHandoffCapacity
	}
	return &Processor{
		name:    opts.Name,
		logger:  logger.OrNop(opts.Logger).With(zap.String("processor", opts.Name)),
		keyed:   make(map[string]Task),
		handoff: lockfree.NewQueue[Task](capacity),
	}
}

// Name identifies the processor in driver logs and metrics.
func (p *Processor) Name() string {
	return "tasks/" + p.name
}

// Push queues task to run on the next Process, after every task queued
// before it.
func (p *Processor) Push(task Task) {
	if task == nil || p.stopped.Load() {
		return
	}
	p.fifo = append(p.fifo, task)
}

// PushKeyed queues task under key. While a task for key is pending, further
// pushes for the same key are ignored and PushKeyed returns false. An empty
// key behaves like Push.
func (p *Processor) PushKeyed(key string, task Task) bool {
	if task == nil || p.stopped.Load() {
		return false
	}
	if key == "" {
		p.Push(task)
		return true
	}
	if _, pending := p.keyed[key]; pending {
		return false
	}
	p.keyed[key] = task
	p.order = append(p.order, key)
	return true
}

// Submit hands task over from any goroutine. It is queued behind the
// unkeyed tasks already pushed at the start of the next Process. Submit
// never blocks: a full hand-off queue returns a queue_full error.
func (p *Processor) Submit(task Task) error {
	if task == nil {
		return stockpileerrors.New(stockpileerrors.ErrorTypeValidation, "task is required")
	}
	if p.stopped.Load() {
		return stockpileerrors.New(stockpileerrors.ErrorTypeClosed, "processor is stopped").
			WithDetail("processor", p.name)
	}
	if !p.handoff.Enqueue(task) {
		p.dropped.Increment()
		return stockpileerrors.New(stockpileerrors.ErrorTypeQueueFull, "hand-off queue is full").
			WithDetail("processor", p.name).
			WithDetail("capacity", p.handoff.Cap())
	}
	return nil
}

// Process runs the tasks that were pending when it started: keyed tasks in
// registration order, then unkeyed tasks in FIFO order. Tasks queued while
// it runs wait for the next call. Every task runs even if an earlier one
// fails; the errors are joined.
func (p *Processor) Process(ctx context.Context) (int, error) {
	if p.stopped.Load() {
		return 0, nil
	}
	p.drainHandoff()

	keys := p.order
	p.order = nil
	unkeyed := len(p.fifo)

	ran := 0
	var errs []error
	for _, key := range keys {
		if p.stopped.Load() {
			break
		}
		task := p.keyed[key]
		// The key stays registered while its task runs.
		err := task(ctx)
		delete(p.keyed, key)
		ran++
		if err != nil {
			p.logger.Warn("task failed", zap.String("key", key), zap.Error(err))
			errs = append(errs, err)
		}
	}

	for i := 0; i < unkeyed; i++ {
		if p.stopped.Load() {
			break
		}
		task := p.fifo[0]
		p.fifo[0] = nil
		p.fifo = p.fifo[1:]
		ran++
		if err := task(ctx); err != nil {
			p.logger.Warn("task failed", zap.Error(err))
			errs = append(errs, err)
		}
	}

	return ran, errors.Join(errs...)
}

// Tick runs Process for the driver.
func (p *Processor) Tick(ctx context.Context) error {
	_, err := p.Process(ctx)
	return err
}

// Pending returns the number of tasks waiting, including submitted ones not
// yet drained.
func (p *Processor) Pending() int {
	return len(p.order) + len(p.fifo) + p.handoff.Len()
}

// Dropped returns how many submissions were rejected because the hand-off
// queue was full.
func (p *Processor) Dropped() uint64 {
	return p.dropped.Get()
}

// Stop drops all pending work. Later pushes are ignored and Submit returns a
// closed error.
func (p *Processor) Stop() {
	if p.stopped.Swap(true) {
		return
	}
	dropped := len(p.order) + len(p.fifo)
	p.keyed = make(map[string]Task)
	p.order = nil
	p.fifo = nil
	for {
		if _, ok := p.handoff.Dequeue(); !ok {
			break
		}
		dropped++
	}
	p.logger.Debug("processor stopped", zap.Int("dropped", dropped))
}

func (p *Processor) drainHandoff() {
	for {
		task, ok := p.handoff.Dequeue()
		if !ok {
			return
		}
		p.fifo = append(p.fifo, task)
	}
}
