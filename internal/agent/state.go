// Package agent holds per-agent state and the background worker that drains
// an agent's task queue.
package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sevir/vigia/internal/clock"
	"github.com/sevir/vigia/internal/queue"
	"github.com/sevir/vigia/pkg/models"
)

// Log messages written to an agent's activity log.
const (
	MsgStarted   = "Agent started"
	MsgStopped   = "Agent stopped"
	MsgQueued    = "Task queued: "
	MsgCompleted = "Task completed successfully"
	MsgFailed    = "Task failed: "
	MsgCancelled = "Task cancelled: "
)

// State is the mutable record of one agent. The worker and the control layer
// share it; every field is guarded by mu. The queue has its own lock so a
// worker parked in DequeueWait never holds mu.
type State struct {
	name  string
	queue *queue.Queue
	clock clock.Clock

	mu            sync.RWMutex
	status        models.AgentStatus
	logs          []string
	lastHeartbeat time.Time
	hasHeartbeat  bool
	progress      float64
	busy          bool
	current       *models.CurrentTask
	lastOutput    string
	// pending counts tasks queued or in flight. It covers the gap between a
	// dequeue and beginTask, where neither the queue nor busy shows the task.
	pending int

	// generation identifies the current run. Workers from older runs are
	// ignored when they try to write.
	generation uint64
	cancel     context.CancelFunc
}

// NewState creates an idle agent record.
func NewState(name string, q *queue.Queue, clk clock.Clock) *State {
	if q == nil {
		q = queue.New()
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &State{
		name:   name,
		queue:  q,
		clock:  clk,
		status: models.AgentStatusIdle,
	}
}

// Name returns the agent name.
func (s *State) Name() string {
	return s.name
}

// Queue returns the agent's task queue.
func (s *State) Queue() *queue.Queue {
	return s.queue
}

// Status returns the current lifecycle status.
func (s *State) Status() models.AgentStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Start marks the agent running and returns a worker bound to a new run
// derived from parent. It returns false, and no worker, when the agent is
// already running. The caller is expected to call Run on the worker.
func (s *State) Start(parent context.Context, exec Executor, opts Options, onFinish func(Result)) (*Worker, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == models.AgentStatusRunning {
		return nil, false
	}

	ctx, cancel := context.WithCancel(parent)
	s.generation++
	s.status = models.AgentStatusRunning
	s.cancel = cancel
	// A worker left over from the previous run can no longer reset these.
	s.busy = false
	s.current = nil
	s.progress = 0
	s.appendLogLocked(MsgStarted)

	return newWorker(s, s.generation, ctx, exec, opts, onFinish), true
}

// Stop marks a running agent stopped, cancels its run and drops every pending
// task, logging each one as cancelled. The worker winds down on its own at its
// next check. It returns false when the agent was not running.
func (s *State) Stop() ([]models.TaskSpec, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != models.AgentStatusRunning {
		return nil, false
	}

	s.status = models.AgentStatusStopped
	s.appendLogLocked(MsgStopped)
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}

	dropped := s.queue.Drain()
	s.pending -= len(dropped)
	for _, t := range dropped {
		s.appendLogLocked(MsgCancelled + t.Type)
	}
	return dropped, true
}

// Enqueue queues a task and records it in the log.
func (s *State) Enqueue(task models.TaskSpec) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.queue.Enqueue(task)
	s.pending++
	s.appendLogLocked(MsgQueued + task.Type)
}

// AppendLog adds a timestamped entry to the activity log.
func (s *State) AppendLog(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendLogLocked(msg)
}

func (s *State) appendLogLocked(msg string) {
	s.logs = append(s.logs, fmt.Sprintf("[%s] %s", clock.Stamp(s.clock.Now()), msg))
}

// Logs returns the most recent limit log entries, or all of them when limit
// is not positive.
func (s *State) Logs(limit int) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return tail(s.logs, limit)
}

// Snapshot returns a copy of the agent's state with the last logTail log
// entries.
func (s *State) Snapshot(logTail int) models.AgentSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := models.AgentSnapshot{
		Name:       s.name,
		Status:     s.status,
		Logs:       tail(s.logs, logTail),
		Progress:   s.progress,
		QueueSize:  s.queue.Len(),
		Pending:    s.pending,
		Busy:       s.busy,
		LastOutput: s.lastOutput,
	}
	if s.hasHeartbeat {
		hb := s.lastHeartbeat
		snap.LastHeartbeat = &hb
	}
	if s.current != nil {
		cur := *s.current
		snap.CurrentTask = &cur
	}
	return snap
}

func tail(logs []string, limit int) []string {
	start := 0
	if limit > 0 && len(logs) > limit {
		start = len(logs) - limit
	}
	out := make([]string, len(logs)-start)
	copy(out, logs[start:])
	return out
}

// The methods below are called by the worker. Each takes the worker's run
// generation and does nothing if a newer run has started since.

func (s *State) active(gen uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation == gen && s.status == models.AgentStatusRunning
}

func (s *State) heartbeat(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen || s.status != models.AgentStatusRunning {
		return
	}
	s.beatLocked()
}

// beatLocked never moves the heartbeat backwards.
func (s *State) beatLocked() {
	now := s.clock.Now()
	if s.hasHeartbeat {
		now = clock.Later(s.lastHeartbeat, now)
	}
	s.lastHeartbeat = now
	s.hasHeartbeat = true
}

func (s *State) beginTask(gen uint64, task models.TaskSpec) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen {
		return
	}
	s.busy = true
	s.progress = 0
	s.current = &models.CurrentTask{ID: task.ID, Type: task.Type}
}

func (s *State) stepDone(gen uint64, progress float64, output string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen {
		return
	}
	s.progress = clamp(progress)
	s.lastOutput = output
	if s.status == models.AgentStatusRunning {
		s.beatLocked()
	}
}

// finishTask always records the outcome; the progress reset only applies to
// the current run.
func (s *State) finishTask(gen uint64, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendLogLocked(msg)
	if s.pending > 0 {
		s.pending--
	}
	if s.generation != gen {
		return
	}
	s.progress = 0
	s.busy = false
	s.current = nil
}

func clamp(p float64) float64 {
	return min(max(p, 0), 1)
}
