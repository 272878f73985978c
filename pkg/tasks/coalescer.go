package tasks

import "context"

// Coalescer runs a task at most once per tick no matter how often it is
// triggered in between.
type Coalescer struct {
	proc      *Processor
	task      Task
	after     func()
	triggered bool
}

// NewCoalescer returns a coalescer that schedules task on proc. after, if
// not nil, is called once the task has run.
func NewCoalescer(proc *Processor, task Task, after func()) *Coalescer {
	return &Coalescer{proc: proc, task: task, after: after}
}

// SetTask replaces the task run by later triggers.
func (c *Coalescer) SetTask(task Task) {
	c.task = task
}

// Trigger schedules the task for the next tick. It returns false when a run
// is already scheduled or the processor is stopped.
func (c *Coalescer) Trigger() bool {
	if c.triggered || c.proc.stopped.Load() {
		return false
	}
	c.triggered = true
	c.proc.Push(c.run)
	return true
}

// Pending reports whether a run is scheduled.
func (c *Coalescer) Pending() bool {
	return c.triggered
}

func (c *Coalescer) run(ctx context.Context) error {
	var err error
	if c.task != nil {
		err = c.task(ctx)
	}
	c.triggered = false
	if c.after != nil {
		c.after()
	}
	return err
}
