// Package transport performs HTTP transfers on behalf of the scheduler.
//
// A Transport accepts jobs with Submit, reports progress through Poll and
// hands back finished transfers through Drain. Two strategies exist:
//
//   - multi runs every job on its own goroutine.
//   - threaded runs jobs on a fixed set of workers.
//
// Both execute the same transfer logic, so the scheduler behaves the same
// whichever is configured.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nao1215/crawlkit/internal/fetch"
	"github.com/nao1215/crawlkit/internal/pool"
	"github.com/nao1215/crawlkit/internal/proxy"
	"github.com/nao1215/crawlkit/internal/retry"
	"github.com/nao1215/crawlkit/internal/task"
)

// Strategy names.
const (
	NameMulti    = "multi"
	NameThreaded = "threaded"
)

// Defaults for Settings.
const (
	DefaultTimeout        = 30 * time.Second
	DefaultConnectTimeout = 10 * time.Second
	DefaultMaxBodySize    = 5 * 1024 * 1024 // 5MB
	DefaultUserAgent      = "crawlkit/1.0"
)

var (
	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("transport: closed")

	// ErrUnknownStrategy is returned by New for an unsupported name.
	ErrUnknownStrategy = errors.New("transport: unknown strategy")

	// ErrInvalidJob is returned by Submit for a job without task, slot or request.
	ErrInvalidJob = errors.New("transport: job needs a task, a slot and a request")
)

// Settings are the per-attempt transfer parameters.
type Settings struct {
	// Timeout bounds one whole attempt, redirects and body included.
	Timeout time.Duration

	// ConnectTimeout bounds TCP connect and TLS handshake.
	ConnectTimeout time.Duration

	// MaxBodySize caps the bytes read from a response body.
	MaxBodySize int64

	// UserAgent is sent when the request does not set one.
	UserAgent string

	// RedirectLimit bounds the redirects followed in one attempt.
	RedirectLimit int

	// InsecureSkipVerify disables TLS certificate verification.
	InsecureSkipVerify bool
}

// DefaultSettings returns the default transfer parameters.
func DefaultSettings() Settings {
	return Settings{
		Timeout:        DefaultTimeout,
		ConnectTimeout: DefaultConnectTimeout,
		MaxBodySize:    DefaultMaxBodySize,
		UserAgent:      DefaultUserAgent,
		RedirectLimit:  retry.DefaultRedirectLimit,
	}
}

// Job is one transfer bound to a slot.
type Job struct {
	// Task is the task being fetched.
	Task *task.Task

	// Slot owns the client that performs the transfer.
	Slot *pool.Slot

	// Request is the snapshot to send.
	Request *task.Request

	// State collects redirect counters during the attempt.
	State *retry.State

	// Proxy routes the transfer, or nil for a direct connection.
	Proxy *proxy.Proxy

	// Header is added to the request for names the request does not set.
	Header http.Header

	// Cookie is sent as the Cookie header when non-empty.
	Cookie string
}

func (j *Job) validate() error {
	if j == nil || j.Task == nil || j.Slot == nil || j.Request == nil {
		return ErrInvalidJob
	}
	return nil
}

// Completion is a finished transfer.
type Completion struct {
	// Job is the submitted job.
	Job *Job

	// Response is set when a response was received.
	Response *fetch.Response

	// Err is the transfer error, if any.
	Err error
}

// Transport is a transfer strategy.
type Transport interface {
	// Submit starts a job. It does not wait for the transfer.
	Submit(job *Job) error

	// Poll waits up to timeout for at least one completion. It reports
	// whether completions are ready to drain.
	Poll(ctx context.Context, timeout time.Duration) bool

	// Drain returns every ready completion in completion order.
	Drain() []*Completion

	// Close stops accepting jobs and waits for running transfers.
	Close() error

	// Name returns the strategy name.
	Name() string
}

// New creates the named transport. capacity is the number of concurrent
// transfers the caller will submit at most.
func New(name string, settings Settings, capacity int, logger *slog.Logger) (Transport, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch name {
	case NameMulti, "":
		return NewMulti(settings, capacity, logger), nil
	case NameThreaded:
		return NewThreaded(settings, capacity, logger), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownStrategy, name)
	}
}

// completions buffers finished transfers between Poll and Drain.
type completions struct {
	ch      chan *Completion
	pending []*Completion
}

func newCompletions(capacity int) completions {
	if capacity < 1 {
		capacity = 1
	}
	return completions{ch: make(chan *Completion, capacity)}
}

func (c *completions) poll(ctx context.Context, timeout time.Duration) bool {
	c.collect()
	if len(c.pending) > 0 {
		return true
	}
	if timeout <= 0 {
		return false
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case comp := <-c.ch:
		c.pending = append(c.pending, comp)
		c.collect()
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

func (c *completions) collect() {
	for {
		select {
		case comp := <-c.ch:
			c.pending = append(c.pending, comp)
		default:
			return
		}
	}
}

func (c *completions) drain() []*Completion {
	c.collect()
	out := c.pending
	c.pending = nil
	return out
}
