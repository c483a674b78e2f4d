// Package queue provides the priority-ordered, deduplicating task queue.
package queue

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/nao1215/crawlkit/internal/task"
)

// Queue orders tasks by priority (lower first) and, within equal priority,
// by insertion order. It remembers every identity it has admitted and
// rejects repeats unless the task bypasses deduplication.
type Queue struct {
	mu      sync.Mutex
	items   taskHeap
	seq     uint64
	history map[string]struct{}

	// notify is closed and replaced whenever a task is pushed so that
	// waiting Dequeue calls wake up.
	notify chan struct{}

	onDuplicate func(*task.Task)
}

// Option configures a Queue.
type Option func(*Queue)

// WithDuplicateHook registers a callback run for every rejected duplicate.
func WithDuplicateHook(fn func(*task.Task)) Option {
	return func(q *Queue) {
		q.onDuplicate = fn
	}
}

// New creates an empty queue.
func New(opts ...Option) *Queue {
	q := &Queue{
		history: make(map[string]struct{}),
		notify:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue admits a task. It returns false when the task's identity is
// already in the dedup history and the task does not bypass it.
func (q *Queue) Enqueue(t *task.Task) bool {
	id := t.ID()

	q.mu.Lock()
	if _, seen := q.history[id]; seen && !t.NoDedup {
		q.mu.Unlock()
		if q.onDuplicate != nil {
			q.onDuplicate(t)
		}
		return false
	}
	q.history[id] = struct{}{}
	q.seq++
	heap.Push(&q.items, &entry{task: t, seq: q.seq})
	close(q.notify)
	q.notify = make(chan struct{})
	q.mu.Unlock()

	return true
}

// Dequeue removes the next task. When the queue is empty it waits up to
// timeout for a task to arrive; it returns false if none did or ctx ended.
// Nothing is removed once ctx is done.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*task.Task, bool) {
	var timer *time.Timer
	for {
		if ctx.Err() != nil {
			return nil, false
		}
		q.mu.Lock()
		if q.items.Len() > 0 {
			e := heap.Pop(&q.items).(*entry) //nolint:forcetypeassert // heap only holds *entry
			q.mu.Unlock()
			return e.task, true
		}
		wait := q.notify
		q.mu.Unlock()

		if timeout <= 0 {
			return nil, false
		}
		if timer == nil {
			timer = time.NewTimer(timeout)
			defer timer.Stop()
		}

		select {
		case <-wait:
		case <-timer.C:
			return nil, false
		case <-ctx.Done():
			return nil, false
		}
	}
}

// Len returns the number of queued tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// Seen reports whether an identity is in the dedup history.
func (q *Queue) Seen(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.history[id]
	return ok
}

// HistorySize returns the number of distinct identities admitted so far.
func (q *Queue) HistorySize() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.history)
}

type entry struct {
	task *task.Task
	seq  uint64
}

type taskHeap []*entry

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].task.Priority != h[j].task.Priority {
		return h[i].task.Priority < h[j].task.Priority
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) {
	*h = append(*h, x.(*entry)) //nolint:forcetypeassert // heap only holds *entry
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}
