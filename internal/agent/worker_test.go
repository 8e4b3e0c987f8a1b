package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sevir/vigia/pkg/models"
)

func fastOptions() Options {
	return Options{
		TotalSteps:     5,
		DequeueTimeout: 20 * time.Millisecond,
		IdleInterval:   5 * time.Millisecond,
		StepPause:      time.Millisecond,
	}
}

func nopExecutor() Executor {
	return ExecutorFunc(func(ctx context.Context, spec models.TaskSpec, step, total int) (string, error) {
		return fmt.Sprintf("%s step %d/%d", spec.Type, step, total), nil
	})
}

type resultLog struct {
	mu      sync.Mutex
	results []Result
}

func (r *resultLog) add(res Result) {
	r.mu.Lock()
	r.results = append(r.results, res)
	r.mu.Unlock()
}

func (r *resultLog) snapshot() []Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Result(nil), r.results...)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func startWorker(t *testing.T, s *State, exec Executor, results *resultLog) *Worker {
	t.Helper()
	w, ok := s.Start(context.Background(), exec, fastOptions(), results.add)
	if !ok {
		t.Fatal("Expected start to succeed")
	}
	go w.Run()
	t.Cleanup(func() {
		s.Stop()
		<-w.Done()
	})
	return w
}

func TestWorkerCompletesTask(t *testing.T) {
	s := NewState("Planner", nil, nil)
	results := &resultLog{}
	startWorker(t, s, nopExecutor(), results)

	s.Enqueue(models.TaskSpec{ID: "task-1", Type: "Summarize", Content: models.TextContent("hello world")})

	waitFor(t, 2*time.Second, func() bool { return len(results.snapshot()) == 1 })

	res := results.snapshot()[0]
	if res.Outcome != OutcomeCompleted {
		t.Fatalf("Expected completed, got %s (%v)", res.Outcome, res.Err)
	}
	if res.Steps != 5 {
		t.Errorf("Expected 5 steps, got %d", res.Steps)
	}

	snap := s.Snapshot(10)
	if snap.Progress != 0 {
		t.Errorf("Expected progress reset to 0, got %v", snap.Progress)
	}
	if snap.Busy || snap.CurrentTask != nil {
		t.Error("Expected worker to be idle after the task")
	}
	if snap.LastOutput != "Summarize step 5/5" {
		t.Errorf("Unexpected last output %q", snap.LastOutput)
	}
	if !strings.HasSuffix(snap.Logs[len(snap.Logs)-1], MsgCompleted) {
		t.Errorf("Expected completion log entry, got %v", snap.Logs)
	}
}

func TestWorkerFailureDoesNotStopLoop(t *testing.T) {
	s := NewState("Executor", nil, nil)
	results := &resultLog{}
	boom := errors.New("dictionary unavailable")

	exec := ExecutorFunc(func(ctx context.Context, spec models.TaskSpec, step, total int) (string, error) {
		if spec.ID == "task-bad" && step == 3 {
			return "", boom
		}
		return "ok", nil
	})
	startWorker(t, s, exec, results)

	s.Enqueue(models.TaskSpec{ID: "task-bad", Type: "Spellcheck Text"})
	s.Enqueue(models.TaskSpec{ID: "task-good", Type: "Spellcheck Text"})

	waitFor(t, 2*time.Second, func() bool { return len(results.snapshot()) == 2 })

	got := results.snapshot()
	if got[0].Outcome != OutcomeFailed || got[0].Task.ID != "task-bad" {
		t.Fatalf("Expected first task to fail, got %+v", got[0])
	}
	if got[0].Steps != 2 {
		t.Errorf("Expected 2 completed steps before the failure, got %d", got[0].Steps)
	}
	var te *TaskError
	if !errors.As(got[0].Err, &te) || te.Step != 3 || !errors.Is(got[0].Err, boom) {
		t.Errorf("Expected TaskError at step 3 wrapping boom, got %v", got[0].Err)
	}
	if got[1].Outcome != OutcomeCompleted {
		t.Errorf("Expected second task to complete, got %s", got[1].Outcome)
	}

	logs := s.Logs(0)
	if n := countLogs(logs, MsgFailed+"dictionary unavailable"); n != 1 {
		t.Errorf("Expected one failure entry, got %v", logs)
	}
	if s.Snapshot(0).Progress != 0 {
		t.Error("Expected progress reset after failure")
	}
	if s.Status() != models.AgentStatusRunning {
		t.Errorf("Expected agent to keep running, got %s", s.Status())
	}
}

func TestWorkerRecoversPanics(t *testing.T) {
	s := NewState("Listener", nil, nil)
	results := &resultLog{}
	exec := ExecutorFunc(func(ctx context.Context, spec models.TaskSpec, step, total int) (string, error) {
		panic("bad payload")
	})
	startWorker(t, s, exec, results)

	s.Enqueue(models.TaskSpec{ID: "task-panic", Type: "Translate Text"})

	waitFor(t, 2*time.Second, func() bool { return len(results.snapshot()) == 1 })

	if res := results.snapshot()[0]; res.Outcome != OutcomeFailed {
		t.Fatalf("Expected failure, got %s", res.Outcome)
	}
	if n := countLogs(s.Logs(0), MsgFailed+"panic: bad payload"); n != 1 {
		t.Errorf("Expected panic to be logged as failure, got %v", s.Logs(0))
	}
}

func TestWorkerIdleHeartbeat(t *testing.T) {
	s := NewState("Listener", nil, nil)
	startWorker(t, s, nopExecutor(), &resultLog{})

	waitFor(t, 2*time.Second, func() bool { return s.Snapshot(0).LastHeartbeat != nil })

	first := *s.Snapshot(0).LastHeartbeat
	waitFor(t, 2*time.Second, func() bool { return s.Snapshot(0).LastHeartbeat.After(first) })
}

func TestWorkerStopsMidTask(t *testing.T) {
	s := NewState("Planner", nil, nil)
	results := &resultLog{}
	started := make(chan struct{})
	var once sync.Once

	exec := ExecutorFunc(func(ctx context.Context, spec models.TaskSpec, step, total int) (string, error) {
		once.Do(func() { close(started) })
		select {
		case <-time.After(20 * time.Millisecond):
			return "ok", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	})

	w, _ := s.Start(context.Background(), exec, Options{TotalSteps: 100, DequeueTimeout: 20 * time.Millisecond}, results.add)
	go w.Run()

	s.Enqueue(models.TaskSpec{ID: "task-long", Type: "Translate Document"})
	<-started
	s.Stop()

	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Expected worker to exit after stop")
	}

	got := results.snapshot()
	if len(got) != 1 || got[0].Outcome != OutcomeCancelled {
		t.Fatalf("Expected one cancelled result, got %+v", got)
	}
	snap := s.Snapshot(0)
	if snap.Progress != 0 || snap.Busy {
		t.Errorf("Expected clean state after cancellation, got %+v", snap)
	}
	if n := countLogs(snap.Logs, MsgCancelled+"Translate Document"); n != 1 {
		t.Errorf("Expected one cancelled entry, got %v", snap.Logs)
	}
}

func TestWorkerProgressStaysInRange(t *testing.T) {
	s := NewState("Executor", nil, nil)
	results := &resultLog{}
	startWorker(t, s, nopExecutor(), results)

	for i := 0; i < 3; i++ {
		s.Enqueue(models.TaskSpec{ID: fmt.Sprintf("task-%d", i), Type: "Summarize Text"})
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(results.snapshot()) < 3 {
		if time.Now().After(deadline) {
			t.Fatal("Timed out waiting for tasks")
		}
		if p := s.Snapshot(0).Progress; p < 0 || p > 1 {
			t.Fatalf("Progress out of range: %v", p)
		}
		time.Sleep(time.Millisecond)
	}

	for i, res := range results.snapshot() {
		if want := fmt.Sprintf("task-%d", i); res.Task.ID != want {
			t.Errorf("Expected %s at position %d, got %s", want, i, res.Task.ID)
		}
	}
	if s.Snapshot(0).Progress != 0 {
		t.Error("Expected progress back at 0")
	}
}
