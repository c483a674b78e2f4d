package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/nao1215/crawlkit/internal/cache"
	"github.com/nao1215/crawlkit/internal/fetch"
	"github.com/nao1215/crawlkit/internal/pool"
	"github.com/nao1215/crawlkit/internal/proxy"
	"github.com/nao1215/crawlkit/internal/queue"
	"github.com/nao1215/crawlkit/internal/retry"
	"github.com/nao1215/crawlkit/internal/stats"
	"github.com/nao1215/crawlkit/internal/task"
	"github.com/nao1215/crawlkit/internal/transport"
)

// Scheduler is the network control loop. Each Step fills free slots from
// the queue, waits briefly for transfers and hands finished ones on.
// It is driven by a single goroutine.
type Scheduler struct {
	queue     *queue.Queue
	pool      *pool.Pool
	transport transport.Transport
	cache     *cache.Gateway
	stats     *stats.Stats
	policy    retry.Policy
	proxies   proxy.Source
	sites     SiteResolver
	logger    *slog.Logger

	// stopped is checked before every dequeue.
	stopped func() bool

	queuePoll     time.Duration
	transportPoll time.Duration

	inflight map[*transport.Job]dispatch
}

type dispatch struct {
	backup  *task.Request
	started time.Time
}

// Step runs one scheduling round. It reports idle when the queue is empty
// and no transfer is in flight. Errors are always ErrMisuse. No task is
// dequeued once ctx is done or stopped reports true.
func (s *Scheduler) Step(ctx context.Context, deliver func(*fetch.Result) error) (bool, error) {
	for s.pool.Free() > 0 {
		if ctx.Err() != nil || (s.stopped != nil && s.stopped()) {
			break
		}
		t, ok := s.queue.Dequeue(ctx, s.queuePoll)
		if !ok {
			if s.pool.Idle() {
				s.gauges()
				return true, nil
			}
			break
		}
		if err := s.dispatch(ctx, t, deliver); err != nil {
			return false, err
		}
	}
	s.gauges()

	if s.pool.InFlight() == 0 {
		return false, nil
	}
	if s.transport.Poll(ctx, s.transportPoll) {
		if err := s.drain(ctx, deliver); err != nil {
			return false, err
		}
	}
	return false, nil
}

// Finish waits for every in-flight transfer and delivers it. It ignores
// cancellation of ctx: transfers end on their own timeouts.
func (s *Scheduler) Finish(ctx context.Context, deliver func(*fetch.Result) error) error {
	ctx = context.WithoutCancel(ctx)
	for s.pool.InFlight() > 0 {
		if s.transport.Poll(ctx, s.transportPoll) {
			if err := s.drain(ctx, deliver); err != nil {
				return err
			}
		}
	}
	s.gauges()
	return nil
}

func (s *Scheduler) dispatch(ctx context.Context, t *task.Task, deliver func(*fetch.Result) error) error {
	if reason, ok := s.policy.Admit(t); !ok {
		s.reject(t, reason)
		return nil
	}

	if s.cache != nil && cache.Applies(t) && !t.RefreshCache {
		if res, hit := s.cache.Lookup(context.WithoutCancel(ctx), t); hit {
			s.stats.Inc("cache-hit")
			deliver(res)
			return nil
		}
		s.stats.Inc("cache-miss")
	}

	slot, ok := s.pool.Acquire()
	if !ok {
		return fmt.Errorf("%w: no free slot after Free() > 0", ErrMisuse)
	}

	t.NetworkTryCount++
	backup := t.Snapshot()
	job := &transport.Job{
		Task:    t,
		Slot:    slot,
		Request: backup.Clone(),
		State:   &retry.State{},
	}
	if s.proxies != nil {
		if p, ok := s.proxies.Next(ctx); ok {
			job.Proxy = p
		}
	}
	if s.sites != nil {
		if u, err := url.Parse(job.Request.URL); err == nil {
			if site, ok := s.sites(u.Hostname()); ok {
				job.Header = site.Header
				job.Cookie = site.Cookie
			}
		}
	}

	s.inflight[job] = dispatch{backup: backup, started: time.Now()}
	if err := s.transport.Submit(job); err != nil {
		delete(s.inflight, job)
		if relErr := s.pool.Release(slot); relErr != nil {
			return fmt.Errorf("%w: release after failed submit: %w", ErrMisuse, relErr)
		}
		return fmt.Errorf("%w: submit %s: %w", ErrMisuse, t.URL, err)
	}

	s.logger.Debug("dispatched", "task", t.Name, "url", t.URL, "try", t.NetworkTryCount, "slot", slot.ID())
	return nil
}

func (s *Scheduler) drain(ctx context.Context, deliver func(*fetch.Result) error) error {
	for _, c := range s.transport.Drain() {
		d, ok := s.inflight[c.Job]
		if !ok {
			return fmt.Errorf("%w: completion for unknown job", ErrMisuse)
		}
		delete(s.inflight, c.Job)

		if err := s.pool.Release(c.Job.Slot); err != nil {
			return fmt.Errorf("%w: %w", ErrMisuse, err)
		}
		s.stats.Observe("fetch", time.Since(d.started))

		res := &fetch.Result{
			Task:   c.Job.Task,
			Backup: d.backup,
			State:  c.Job.State,
		}
		if c.Err != nil {
			res.Err = c.Err
			res.Tag = retry.Classify(c.Err)
		} else {
			res.OK = true
			res.Response = c.Response
		}

		if s.cache != nil {
			s.cache.WriteThrough(context.WithoutCancel(ctx), res)
		}
		if err := deliver(res); err != nil {
			return err
		}
	}

	if err := s.pool.Check(); err != nil {
		return fmt.Errorf("%w: %w", ErrMisuse, err)
	}
	if len(s.inflight) != s.pool.InFlight() {
		return fmt.Errorf("%w: %d tracked transfers but %d slots in flight", ErrMisuse, len(s.inflight), s.pool.InFlight())
	}
	return nil
}

func (s *Scheduler) reject(t *task.Task, reason retry.Reason) {
	s.stats.Inc(string(reason))
	s.stats.Collect(stats.CollectionRejected, string(reason)+" "+t.Name+" "+t.URL)
	s.logger.Warn("task dropped", "task", t.Name, "url", t.URL, "reason", string(reason),
		"network_try", t.NetworkTryCount, "task_try", t.TaskTryCount)
}

func (s *Scheduler) gauges() {
	s.stats.SetGauge("queue", float64(s.queue.Len()))
	s.stats.SetGauge("in-flight", float64(s.pool.InFlight()))
}
