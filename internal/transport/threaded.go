package transport

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// Threaded runs jobs on a fixed set of workers.
type Threaded struct {
	settings Settings
	logger   *slog.Logger
	workers  int

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
	jobs   chan *Job
	closed atomic.Bool
	once   sync.Once

	// active counts jobs handed to workers whose completion is not yet sent.
	active sync.WaitGroup

	done completions
}

// NewThreaded creates a transport with workers goroutines.
func NewThreaded(settings Settings, workers int, logger *slog.Logger) *Threaded {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := &Threaded{
		settings: settings,
		logger:   logger,
		workers:  workers,
		ctx:      ctx,
		cancel:   cancel,
		group:    &errgroup.Group{},
		jobs:     make(chan *Job, workers),
		done:     newCompletions(workers),
	}
	for i := range workers {
		t.group.Go(func() error {
			t.work(i)
			return nil
		})
	}
	return t
}

func (t *Threaded) work(id int) {
	for job := range t.jobs {
		c := perform(t.ctx, t.settings, job)
		t.done.ch <- c
		t.active.Done()
	}
	t.logger.Debug("transport worker stopped", "worker", id)
}

// Name implements Transport.
func (t *Threaded) Name() string { return NameThreaded }

// Workers returns the size of the worker set.
func (t *Threaded) Workers() int { return t.workers }

// Submit implements Transport. It blocks only when more jobs are submitted
// than there are workers and queued job buffers.
func (t *Threaded) Submit(job *Job) error {
	if t.closed.Load() {
		return ErrClosed
	}
	if err := job.validate(); err != nil {
		return err
	}
	t.active.Add(1)
	select {
	case t.jobs <- job:
		return nil
	case <-t.ctx.Done():
		t.active.Done()
		return ErrClosed
	}
}

// Poll implements Transport.
func (t *Threaded) Poll(ctx context.Context, timeout time.Duration) bool {
	return t.done.poll(ctx, timeout)
}

// Drain implements Transport.
func (t *Threaded) Drain() []*Completion {
	return t.done.drain()
}

// Close implements Transport. Running transfers are cancelled and their
// completions discarded.
func (t *Threaded) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	t.cancel()
	t.once.Do(func() { close(t.jobs) })
	waitDiscarding(&t.active, t.done.ch)
	return t.group.Wait()
}
