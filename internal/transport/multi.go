package transport

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Multi runs each job on its own goroutine. The goroutines and the
// completion channel together multiplex any number of transfers.
type Multi struct {
	settings Settings
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool

	done completions
}

// NewMulti creates a goroutine-per-job transport.
func NewMulti(settings Settings, capacity int, logger *slog.Logger) *Multi {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Multi{
		settings: settings,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		done:     newCompletions(capacity),
	}
}

// Name implements Transport.
func (m *Multi) Name() string { return NameMulti }

// Submit implements Transport.
func (m *Multi) Submit(job *Job) error {
	if m.closed.Load() {
		return ErrClosed
	}
	if err := job.validate(); err != nil {
		return err
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.done.ch <- perform(m.ctx, m.settings, job)
	}()
	return nil
}

// Poll implements Transport.
func (m *Multi) Poll(ctx context.Context, timeout time.Duration) bool {
	return m.done.poll(ctx, timeout)
}

// Drain implements Transport.
func (m *Multi) Drain() []*Completion {
	return m.done.drain()
}

// Close implements Transport. Running transfers are cancelled and their
// completions discarded.
func (m *Multi) Close() error {
	if m.closed.Swap(true) {
		return nil
	}
	m.cancel()
	waitDiscarding(&m.wg, m.done.ch)
	m.logger.Debug("transport closed", "transport", NameMulti)
	return nil
}

// waitDiscarding waits for wg while emptying ch so senders never block.
func waitDiscarding(wg *sync.WaitGroup, ch chan *Completion) {
	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()
	for {
		select {
		case <-ch:
		case <-finished:
			return
		}
	}
}
