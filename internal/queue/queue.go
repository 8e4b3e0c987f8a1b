// Package queue provides the per-agent FIFO mailbox of pending tasks.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/sevir/vigia/pkg/models"
)

// Queue is an unbounded FIFO of tasks. Enqueue never blocks; consumers wait
// on DequeueWait with a deadline so they can do idle bookkeeping.
type Queue struct {
	mu    sync.Mutex
	items []models.TaskSpec
	wake  chan struct{}
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{
		wake: make(chan struct{}, 1),
	}
}

// Enqueue appends a task to the tail.
func (q *Queue) Enqueue(task models.TaskSpec) {
	q.mu.Lock()
	q.items = append(q.items, task)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// DequeueWait removes and returns the head task. If the queue stays empty for
// timeout, or ctx is cancelled first, it returns false.
func (q *Queue) DequeueWait(ctx context.Context, timeout time.Duration) (models.TaskSpec, bool) {
	if ctx.Err() != nil {
		return models.TaskSpec{}, false
	}
	if task, ok := q.tryDequeue(); ok {
		return task, true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-q.wake:
			if task, ok := q.tryDequeue(); ok {
				return task, true
			}
		case <-timer.C:
			return q.tryDequeue()
		case <-ctx.Done():
			return models.TaskSpec{}, false
		}
	}
}

func (q *Queue) tryDequeue() (models.TaskSpec, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return models.TaskSpec{}, false
	}

	task := q.items[0]
	q.items[0] = models.TaskSpec{}
	q.items = q.items[1:]

	// Another consumer may be parked on the wake channel.
	if len(q.items) > 0 {
		select {
		case q.wake <- struct{}{}:
		default:
		}
	}
	return task, true
}

// Len returns the number of pending tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Drain removes and returns every pending task in FIFO order.
func (q *Queue) Drain() []models.TaskSpec {
	q.mu.Lock()
	defer q.mu.Unlock()

	drained := q.items
	q.items = nil
	return drained
}
