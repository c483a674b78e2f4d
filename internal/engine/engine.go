// Package engine drives a crawl: it owns the task queue, the slot pool,
// the transport and the handler router, and runs the scheduling loop that
// binds them together.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/nao1215/crawlkit/internal/cache"
	"github.com/nao1215/crawlkit/internal/fetch"
	"github.com/nao1215/crawlkit/internal/pool"
	"github.com/nao1215/crawlkit/internal/proxy"
	"github.com/nao1215/crawlkit/internal/queue"
	"github.com/nao1215/crawlkit/internal/retry"
	"github.com/nao1215/crawlkit/internal/router"
	"github.com/nao1215/crawlkit/internal/stats"
	"github.com/nao1215/crawlkit/internal/task"
	"github.com/nao1215/crawlkit/internal/transport"
)

// TaskHandler receives the result of a task and yields follow-up items.
type TaskHandler = router.TaskHandler[*Context]

// DataHandler receives a data item yielded by a task handler.
type DataHandler = router.DataHandler[*Context]

// Engine is a bounded-concurrency crawl engine.
type Engine struct {
	opts      Options
	queue     *queue.Queue
	pool      *pool.Pool
	transport transport.Transport
	cache     *cache.Gateway
	stats     *stats.Stats
	router    *router.Router[*Context]
	proxies   proxy.Source
	sites     SiteResolver
	logger    *slog.Logger
	scheduler *Scheduler
	ctx       *Context

	base   *Options
	tweaks []func(*Options)

	running atomic.Bool
	stopped atomic.Bool

	mu        sync.Mutex
	collected map[string][]any
}

// New creates an engine with the given handlers. Every declared task name
// must have a handler.
func New(tasks map[string]TaskHandler, data map[string]DataHandler, opts ...Option) (*Engine, error) {
	e := &Engine{
		opts:      DefaultOptions(),
		collected: make(map[string][]any),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.base != nil {
		e.opts = *e.base
	}
	for _, fn := range e.tweaks {
		fn(&e.opts)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.stats == nil {
		e.stats = stats.New()
	}
	if e.opts.Concurrency < 1 {
		return nil, fmt.Errorf("%w: concurrency must be at least 1, got %d", ErrInvalidOptions, e.opts.Concurrency)
	}
	if e.opts.PriorityMode != PriorityConst && e.opts.PriorityMode != PriorityRandom {
		return nil, fmt.Errorf("%w: unknown priority mode %q", ErrInvalidOptions, e.opts.PriorityMode)
	}
	if e.opts.QueuePoll <= 0 {
		e.opts.QueuePoll = DefaultQueuePoll
	}
	if e.opts.TransportPoll <= 0 {
		e.opts.TransportPoll = DefaultTransportPoll
	}
	e.opts.Transfer.RedirectLimit = e.opts.Policy.RedirectLimit

	r, err := router.New(tasks, data, e.opts.Declared,
		router.WithStats(e.stats),
		router.WithLogger(e.logger),
		router.WithCollector(e.collect),
	)
	if err != nil {
		return nil, err
	}
	e.router = r

	e.queue = queue.New(queue.WithDuplicateHook(func(t *task.Task) {
		e.stats.Inc("duplicate")
		e.logger.Debug("duplicate task", "task", t.Name, "url", t.URL)
	}))

	p, err := pool.New(e.opts.Concurrency, transport.NewClientFactory(e.opts.Transfer),
		pool.WithMaxUses(e.opts.SlotMaxUses),
		pool.WithRecycleHook(func(s *pool.Slot) {
			e.stats.Inc("pool-recycle")
			e.logger.Debug("slot recycled", "slot", s.ID(), "generation", s.Generation())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidOptions, err)
	}
	e.pool = p

	if e.transport == nil {
		tr, err := transport.New(e.opts.Transport, e.opts.Transfer, e.opts.Concurrency, e.logger)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("%w: %w", ErrInvalidOptions, err)
		}
		e.transport = tr
	}

	e.scheduler = &Scheduler{
		queue:         e.queue,
		pool:          e.pool,
		transport:     e.transport,
		cache:         e.cache,
		stats:         e.stats,
		policy:        e.opts.Policy,
		proxies:       e.proxies,
		sites:         e.sites,
		logger:        e.logger,
		stopped:       e.stopped.Load,
		queuePoll:     e.opts.QueuePoll,
		transportPoll: e.opts.TransportPoll,
		inflight:      make(map[*transport.Job]dispatch),
	}
	e.ctx = &Context{engine: e}
	return e, nil
}

// AddTask creates a task and enqueues it.
func (e *Engine) AddTask(name, rawURL string, opts ...task.Option) (bool, error) {
	t, err := task.New(name, rawURL, opts...)
	if err != nil {
		return false, err
	}
	return e.Add(t)
}

// Add validates a task and enqueues it. It reports false when the task
// was dropped as a duplicate.
func (e *Engine) Add(t *task.Task) (bool, error) {
	if t == nil {
		return false, task.ErrMalformedTask
	}
	if err := t.Validate(); err != nil {
		return false, err
	}
	if err := e.router.CheckTask(t); err != nil {
		return false, err
	}
	if e.opts.PriorityMode == PriorityRandom && !t.HasExplicitPriority() {
		t.SetPriority(RandomPriorityMin + rand.IntN(RandomPriorityMax-RandomPriorityMin+1)) //nolint:gosec // scheduling order only
	}
	return e.queue.Enqueue(t), nil
}

// Run processes tasks until the queue is empty and nothing is in flight,
// Stop is called, or ctx is cancelled. Transfers already in flight are
// finished and delivered before Run returns.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer e.running.Store(false)
	e.stopped.Store(false)
	e.ctx.ctx = ctx

	e.logger.Info("crawl started", "queued", e.queue.Len(), "concurrency", e.opts.Concurrency,
		"transport", e.transport.Name())

	for !e.stopped.Load() && ctx.Err() == nil {
		idle, err := e.scheduler.Step(ctx, e.deliver)
		if err != nil {
			e.logger.Error("crawl aborted", "error", err)
			return err
		}
		if idle {
			break
		}
	}

	if err := e.scheduler.Finish(ctx, e.deliver); err != nil {
		e.logger.Error("crawl aborted", "error", err)
		return err
	}

	e.logger.Info("crawl finished", "left", e.queue.Len(),
		"tasks", e.stats.Get("task"), "stopped", e.stopped.Load())
	return nil
}

// Stop makes Run return after the in-flight transfers are delivered.
func (e *Engine) Stop() {
	e.stopped.Store(true)
}

// Running reports whether Run is executing.
func (e *Engine) Running() bool {
	return e.running.Load()
}

// Close releases the transport, the pool and the cache.
func (e *Engine) Close() error {
	err := e.transport.Close()
	e.pool.Close()
	if e.cache != nil {
		err = errors.Join(err, e.cache.Close())
	}
	return err
}

// Stats returns the run statistics.
func (e *Engine) Stats() *stats.Stats {
	return e.stats
}

// QueueLen returns the number of queued tasks.
func (e *Engine) QueueLen() int {
	return e.queue.Len()
}

// Collected returns the items the default collector stored under name.
func (e *Engine) Collected(name string) []any {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.collected[name])
}

// CollectedNames returns the names the default collector has items for.
func (e *Engine) CollectedNames() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	names := make([]string, 0, len(e.collected))
	for name := range e.collected {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (e *Engine) collect(name string, item any) {
	e.mu.Lock()
	e.collected[name] = append(e.collected[name], item)
	e.mu.Unlock()
}

// deliver hands a result to the router. Failed transfers are retried from
// the backup snapshot while the network limit allows, otherwise dropped
// and passed to the fallback handler. Misuse raised while routing is
// returned as ErrMisuse.
func (e *Engine) deliver(res *fetch.Result) error {
	if res.OK {
		if _, err := e.router.Route(e.ctx, res, sink{e}); err != nil {
			return fmt.Errorf("%w: %w", ErrMisuse, err)
		}
		return nil
	}

	t := res.Task
	e.stats.Inc("network-error-" + res.Tag.String())
	e.logger.Debug("transfer failed", "task", t.Name, "url", t.URL, "tag", res.Tag.String(),
		"try", t.NetworkTryCount, "error", res.Err)

	if e.opts.Policy.ShouldRetry(t) {
		again := t.Clone()
		again.Request = res.Backup.Clone()
		again.NoDedup = true
		e.stats.Inc("retry")
		e.queue.Enqueue(again)
		return nil
	}

	e.stats.Inc(string(retry.ReasonNetworkTryLimit))
	e.stats.Collect(stats.CollectionRejected, string(retry.ReasonNetworkTryLimit)+" "+t.Name+" "+t.URL)
	e.stats.Collect(stats.CollectionNetworkFailed, t.URL+" "+res.Tag.String())
	e.logger.Warn("task failed", "task", t.Name, "url", t.URL, "tag", res.Tag.String(), "tries", t.NetworkTryCount)
	if _, err := e.router.RouteFailure(e.ctx, res, sink{e}); err != nil {
		return fmt.Errorf("%w: %w", ErrMisuse, err)
	}
	return nil
}

type sink struct {
	e *Engine
}

func (s sink) Enqueue(t *task.Task) (bool, error) {
	return s.e.Add(t)
}
