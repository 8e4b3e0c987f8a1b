// Package registry owns the fixed set of agents and exposes the control
// operations used by the dashboard.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sevir/vigia/internal/agent"
	"github.com/sevir/vigia/internal/clock"
	"github.com/sevir/vigia/internal/queue"
	"github.com/sevir/vigia/internal/tasks"
	"github.com/sevir/vigia/pkg/models"
)

// DefaultAgents is the agent set used when none is configured.
var DefaultAgents = []string{"Listener", "Planner", "Executor"}

// DefaultLogTail is how many log entries a snapshot carries.
const DefaultLogTail = 10

var (
	// ErrAgentNotFound indicates the named agent is not part of the set.
	ErrAgentNotFound = errors.New("agent not found")
	// ErrInvalidSubmission indicates a task with no content or no type.
	ErrInvalidSubmission = errors.New("invalid submission: task type and content are required")
	// ErrClosed indicates the registry has been shut down.
	ErrClosed = errors.New("registry is shut down")
)

// Config holds registry configuration.
type Config struct {
	Agents  []string
	Worker  agent.Options
	LogTail int
	Catalog *tasks.Catalog
	Clock   clock.Clock
}

// Registry coordinates the agents and their workers.
type Registry struct {
	agents  map[string]*agent.State
	order   []string
	catalog *tasks.Catalog
	opts    agent.Options
	logTail int

	mu        sync.Mutex
	completed int
	failed    int
	cancelled int

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Registry with one idle agent per configured name.
func New(cfg Config) (*Registry, error) {
	names := cfg.Agents
	if len(names) == 0 {
		names = DefaultAgents
	}
	if cfg.LogTail <= 0 {
		cfg.LogTail = DefaultLogTail
	}
	if cfg.Catalog == nil {
		cfg.Catalog = tasks.NewCatalog(tasks.Options{WorkDelay: tasks.DefaultWorkDelay})
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}

	ctx, cancel := context.WithCancel(context.Background())

	r := &Registry{
		agents:  make(map[string]*agent.State, len(names)),
		catalog: cfg.Catalog,
		opts:    cfg.Worker,
		logTail: cfg.LogTail,
		ctx:     ctx,
		cancel:  cancel,
	}

	for _, raw := range names {
		name := strings.TrimSpace(raw)
		if name == "" {
			cancel()
			return nil, fmt.Errorf("agent name must not be empty")
		}
		if _, dup := r.agents[name]; dup {
			cancel()
			return nil, fmt.Errorf("duplicate agent name: %s", name)
		}
		r.agents[name] = agent.NewState(name, queue.New(), cfg.Clock)
		r.order = append(r.order, name)
	}

	return r, nil
}

func (r *Registry) get(name string) (*agent.State, error) {
	st, ok := r.agents[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, name)
	}
	return st, nil
}

// Agents returns the agent names in configured order.
func (r *Registry) Agents() []string {
	return append([]string(nil), r.order...)
}

// TaskTypes returns the task types the catalog knows about.
func (r *Registry) TaskTypes() []string {
	return r.catalog.Types()
}

// Start launches the agent's worker. Starting a running agent is a no-op.
func (r *Registry) Start(name string) error {
	st, err := r.get(name)
	if err != nil {
		return err
	}
	if r.ctx.Err() != nil {
		return ErrClosed
	}

	w, ok := st.Start(r.ctx, r.catalog, r.opts, r.onTaskFinished)
	if !ok {
		return nil
	}
	logAgentEvent("started", name, st.Queue().Len())

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		w.Run()
		logAgentEvent("worker_exited", name, st.Queue().Len())
	}()
	return nil
}

// Stop asks a running agent to stop. The worker exits at its next check;
// pending tasks are dropped and logged as cancelled. Stopping an agent that
// is not running is a no-op.
func (r *Registry) Stop(name string) error {
	st, err := r.get(name)
	if err != nil {
		return err
	}

	dropped, ok := st.Stop()
	if !ok {
		return nil
	}
	logAgentEvent("stopped", name, len(dropped))

	for _, t := range dropped {
		logTaskDropped(name, t)
	}
	if len(dropped) > 0 {
		r.mu.Lock()
		r.cancelled += len(dropped)
		r.mu.Unlock()
	}
	return nil
}

// Submit queues a task on the agent. Empty content or a blank task type is
// rejected with ErrInvalidSubmission and leaves the agent untouched.
func (r *Registry) Submit(name, taskType string, content models.Content) (*models.TaskSpec, error) {
	st, err := r.get(name)
	if err != nil {
		return nil, err
	}

	taskType = strings.TrimSpace(taskType)
	if taskType == "" || content.IsEmpty() {
		return nil, ErrInvalidSubmission
	}

	task := models.TaskSpec{
		ID:          generateID(),
		Type:        taskType,
		Content:     content,
		SubmittedAt: time.Now(),
	}
	st.Enqueue(task)
	logTaskQueued(name, &task)

	return &task, nil
}

// Snapshot returns an immutable view of one agent.
func (r *Registry) Snapshot(name string) (models.AgentSnapshot, error) {
	st, err := r.get(name)
	if err != nil {
		return models.AgentSnapshot{}, err
	}
	return st.Snapshot(r.logTail), nil
}

// Snapshots returns a view of every agent in configured order.
func (r *Registry) Snapshots() []models.AgentSnapshot {
	out := make([]models.AgentSnapshot, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.agents[name].Snapshot(r.logTail))
	}
	return out
}

// Logs returns the agent's last limit log entries, or the full history when
// limit is not positive.
func (r *Registry) Logs(name string, limit int) ([]string, error) {
	st, err := r.get(name)
	if err != nil {
		return nil, err
	}
	return st.Logs(limit), nil
}

// WaitIdle blocks until the agent has nothing queued and nothing in flight,
// or ctx ends. The latest snapshot is returned in both cases.
func (r *Registry) WaitIdle(ctx context.Context, name string) (models.AgentSnapshot, error) {
	st, err := r.get(name)
	if err != nil {
		return models.AgentSnapshot{}, err
	}

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		snap := st.Snapshot(r.logTail)
		if snap.IsIdle() {
			return snap, nil
		}
		select {
		case <-ctx.Done():
			return snap, fmt.Errorf("timeout waiting for agent %s: %w", name, ctx.Err())
		case <-ticker.C:
		}
	}
}

// TaskCounters holds totals of finished tasks.
type TaskCounters struct {
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

// Stats holds registry statistics.
type Stats struct {
	models.Stats
	Tasks TaskCounters `json:"tasks"`
}

// GetStats returns registry statistics.
func (r *Registry) GetStats() Stats {
	var stats Stats
	for _, snap := range r.Snapshots() {
		stats.Agents++
		switch snap.Status {
		case models.AgentStatusIdle:
			stats.Idle++
		case models.AgentStatusRunning:
			stats.Running++
		case models.AgentStatusStopped:
			stats.Stopped++
		}
		if snap.Busy {
			stats.Busy++
		}
		stats.Queued += snap.QueueSize
	}

	r.mu.Lock()
	stats.Tasks = TaskCounters{Completed: r.completed, Failed: r.failed, Cancelled: r.cancelled}
	r.mu.Unlock()
	return stats
}

// Shutdown stops every agent and waits for the workers to exit.
func (r *Registry) Shutdown() error {
	for _, name := range r.order {
		if err := r.Stop(name); err != nil {
			return err
		}
	}
	r.cancel()
	r.wg.Wait()
	return nil
}

func (r *Registry) onTaskFinished(res agent.Result) {
	r.mu.Lock()
	switch res.Outcome {
	case agent.OutcomeCompleted:
		r.completed++
	case agent.OutcomeFailed:
		r.failed++
	case agent.OutcomeCancelled:
		r.cancelled++
	}
	r.mu.Unlock()

	logTaskFinished(res)
}

func generateID() string {
	return fmt.Sprintf("task-%s", uuid.New().String()[:8])
}

func logAgentEvent(event, name string, queued int) {
	log.Printf("agent_event=%s agent=%s queued=%d", event, name, queued)
}

func logTaskQueued(name string, task *models.TaskSpec) {
	log.Printf(
		"task_event=queued agent=%s task_id=%s task_type=%q binary=%t content_len=%d preview=%q",
		name,
		task.ID,
		task.Type,
		task.Content.IsBinary(),
		task.Content.Len(),
		truncateForLog(task.Content.Preview(models.DefaultPreviewBytes), 80),
	)
}

func logTaskDropped(name string, task models.TaskSpec) {
	log.Printf("task_event=dropped agent=%s task_id=%s task_type=%q reason=agent_stopped", name, task.ID, task.Type)
}

func logTaskFinished(res agent.Result) {
	errText := ""
	if res.Err != nil {
		errText = res.Err.Error()
	}
	log.Printf(
		"task_event=finished agent=%s task_id=%s task_type=%q outcome=%s steps=%d duration=%q error=%q",
		res.Agent,
		res.Task.ID,
		res.Task.Type,
		res.Outcome,
		res.Steps,
		res.Duration.Round(time.Millisecond).String(),
		errText,
	)
}

func truncateForLog(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
