package agent

import (
	"context"
	"fmt"
	"log"
	"runtime/debug"
	"time"

	"github.com/sevir/vigia/pkg/models"
)

const (
	defaultTotalSteps     = 20
	defaultDequeueTimeout = time.Second
	defaultIdleInterval   = 500 * time.Millisecond
	defaultStepPause      = 100 * time.Millisecond
)

// Executor runs one step of a task. Implementations must honour ctx.
type Executor interface {
	Execute(ctx context.Context, spec models.TaskSpec, step, total int) (string, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, spec models.TaskSpec, step, total int) (string, error)

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, spec models.TaskSpec, step, total int) (string, error) {
	return f(ctx, spec, step, total)
}

// Options controls worker pacing.
type Options struct {
	// TotalSteps is how many steps every task is split into.
	TotalSteps int
	// DequeueTimeout bounds each wait on the queue. A timeout produces an
	// idle heartbeat.
	DequeueTimeout time.Duration
	// IdleInterval is the pause after an idle heartbeat.
	IdleInterval time.Duration
	// StepPause is the pause after each successful step.
	StepPause time.Duration
}

// DefaultOptions returns the standard pacing: 20 steps, 1s queue wait, 500ms
// idle pause and 100ms between steps.
func DefaultOptions() Options {
	return Options{
		TotalSteps:     defaultTotalSteps,
		DequeueTimeout: defaultDequeueTimeout,
		IdleInterval:   defaultIdleInterval,
		StepPause:      defaultStepPause,
	}
}

func (o Options) withDefaults() Options {
	if o.TotalSteps <= 0 {
		o.TotalSteps = defaultTotalSteps
	}
	if o.DequeueTimeout <= 0 {
		o.DequeueTimeout = defaultDequeueTimeout
	}
	if o.IdleInterval < 0 {
		o.IdleInterval = 0
	}
	if o.StepPause < 0 {
		o.StepPause = 0
	}
	return o
}

// Outcome is how a task ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

// Result describes a finished task.
type Result struct {
	Agent    string
	Task     models.TaskSpec
	Outcome  Outcome
	Steps    int
	Err      error
	Duration time.Duration
}

// TaskError is a failure raised by a task step. It never leaves the worker
// except through Result.
type TaskError struct {
	Agent    string
	TaskID   string
	TaskType string
	Step     int
	Err      error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("agent %s: task %s (%s) failed at step %d: %v", e.Agent, e.TaskID, e.TaskType, e.Step, e.Err)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

// Worker is the background loop of a single agent run.
type Worker struct {
	state    *State
	gen      uint64
	ctx      context.Context
	exec     Executor
	opts     Options
	onFinish func(Result)
	done     chan struct{}
}

func newWorker(s *State, gen uint64, ctx context.Context, exec Executor, opts Options, onFinish func(Result)) *Worker {
	return &Worker{
		state:    s,
		gen:      gen,
		ctx:      ctx,
		exec:     exec,
		opts:     opts.withDefaults(),
		onFinish: onFinish,
		done:     make(chan struct{}),
	}
}

// Done is closed when Run returns.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Run drains the agent's queue until the run is stopped. Between tasks it
// records an idle heartbeat every time the queue wait times out.
func (w *Worker) Run() {
	defer close(w.done)

	q := w.state.Queue()
	for w.active() {
		task, ok := q.DequeueWait(w.ctx, w.opts.DequeueTimeout)
		if !ok {
			w.state.heartbeat(w.gen)
			w.sleep(w.opts.IdleInterval)
			continue
		}
		w.execute(task)
	}
}

func (w *Worker) active() bool {
	return w.ctx.Err() == nil && w.state.active(w.gen)
}

func (w *Worker) execute(task models.TaskSpec) {
	started := time.Now()
	total := w.opts.TotalSteps
	w.state.beginTask(w.gen, task)

	for step := 1; step <= total; step++ {
		if !w.active() {
			w.finish(task, OutcomeCancelled, step-1, nil, started)
			return
		}

		out, err := w.runStep(task, step, total)
		if err != nil {
			if w.ctx.Err() != nil {
				w.finish(task, OutcomeCancelled, step-1, nil, started)
				return
			}
			w.finish(task, OutcomeFailed, step-1, &TaskError{
				Agent:    w.state.Name(),
				TaskID:   task.ID,
				TaskType: task.Type,
				Step:     step,
				Err:      err,
			}, started)
			return
		}

		w.state.stepDone(w.gen, float64(step)/float64(total), out)
		w.sleep(w.opts.StepPause)
	}

	w.finish(task, OutcomeCompleted, total, nil, started)
}

// runStep converts a panicking step into an error.
func (w *Worker) runStep(task models.TaskSpec, step, total int) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("agent_event=step_panic agent=%s task_id=%s step=%d panic=%v\n%s",
				w.state.Name(), task.ID, step, r, debug.Stack())
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return w.exec.Execute(w.ctx, task, step, total)
}

func (w *Worker) finish(task models.TaskSpec, outcome Outcome, steps int, err error, started time.Time) {
	var msg string
	switch outcome {
	case OutcomeCompleted:
		msg = MsgCompleted
	case OutcomeFailed:
		msg = MsgFailed + stepError(err).Error()
	default:
		msg = MsgCancelled + task.Type
	}
	w.state.finishTask(w.gen, msg)

	if w.onFinish != nil {
		w.onFinish(Result{
			Agent:    w.state.Name(),
			Task:     task,
			Outcome:  outcome,
			Steps:    steps,
			Err:      err,
			Duration: time.Since(started),
		})
	}
}

func stepError(err error) error {
	if te, ok := err.(*TaskError); ok {
		return te.Err
	}
	return err
}

func (w *Worker) sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-w.ctx.Done():
	}
}
