// Package router dispatches fetch results and data items to named handlers.
//
// The handler table is built and checked once, before any task runs. At
// run time the router calls the handler for a result, ranges over the
// items it yields and forwards each one before pulling the next. Errors
// and panics raised by handler code are contained here: they are logged,
// counted by kind and the crawl goes on. Misuse is not contained: a task
// naming no registered handler, a malformed yielded item or a rejection by
// the sink stops routing and is returned to the caller.
package router

import (
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"reflect"
	"slices"
	"time"

	"github.com/nao1215/crawlkit/internal/fetch"
	"github.com/nao1215/crawlkit/internal/stats"
	"github.com/nao1215/crawlkit/internal/task"
)

var (
	// ErrNoHandler is returned when a task or fallback names an unknown handler.
	ErrNoHandler = errors.New("no handler registered")

	// ErrUnsupportedItem is returned when a handler yields something other
	// than a *task.Task or a *task.Data.
	ErrUnsupportedItem = errors.New("unsupported item type")
)

// KindPanic is the error kind recorded for recovered panics.
const KindPanic = "panic"

// TaskHandler processes a fetch result. It may yield follow-up tasks and
// data items; a nil sequence yields nothing.
type TaskHandler[C any] func(c C, res *fetch.Result) (iter.Seq[task.Item], error)

// DataHandler processes one data item.
type DataHandler[C any] func(c C, item any) error

// Sink receives tasks yielded by handlers.
type Sink interface {
	// Enqueue admits a task and reports whether it was accepted.
	Enqueue(t *task.Task) (bool, error)
}

// Collector receives data items that have no registered handler.
type Collector func(name string, item any)

// Router is the handler table.
type Router[C any] struct {
	tasks     map[string]TaskHandler[C]
	data      map[string]DataHandler[C]
	collector Collector
	stats     *stats.Stats
	logger    *slog.Logger
}

// Option configures a Router.
type Option func(*options)

type options struct {
	collector Collector
	stats     *stats.Stats
	logger    *slog.Logger
}

// WithCollector sets the default sink for unhandled data items.
func WithCollector(fn Collector) Option {
	return func(o *options) {
		o.collector = fn
	}
}

// WithStats records counters into s.
func WithStats(s *stats.Stats) Option {
	return func(o *options) {
		o.stats = s
	}
}

// WithLogger sets the router logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// New builds a router. Every name in declared must have a task handler.
func New[C any](tasks map[string]TaskHandler[C], data map[string]DataHandler[C], declared []string, opts ...Option) (*Router[C], error) {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.stats == nil {
		o.stats = stats.New()
	}

	r := &Router[C]{
		tasks:     make(map[string]TaskHandler[C], len(tasks)),
		data:      make(map[string]DataHandler[C], len(data)),
		collector: o.collector,
		stats:     o.stats,
		logger:    o.logger,
	}
	for name, h := range tasks {
		if h != nil {
			r.tasks[name] = h
		}
	}
	for name, h := range data {
		if h != nil {
			r.data[name] = h
		}
	}

	var missing []string
	for _, name := range declared {
		if _, ok := r.tasks[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return nil, fmt.Errorf("%w: task handler for %v", ErrNoHandler, missing)
	}
	return r, nil
}

// Names returns the registered task handler names.
func (r *Router[C]) Names() []string {
	names := make([]string, 0, len(r.tasks))
	for name := range r.tasks {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// CheckTask verifies that t and its fallback can be routed.
func (r *Router[C]) CheckTask(t *task.Task) error {
	if _, ok := r.tasks[t.Name]; !ok {
		return fmt.Errorf("%w: task %q", ErrNoHandler, t.Name)
	}
	if t.Fallback != "" {
		if _, ok := r.tasks[t.Fallback]; !ok {
			return fmt.Errorf("%w: fallback %q of task %q", ErrNoHandler, t.Fallback, t.Name)
		}
	}
	return nil
}

// Route passes a result to the task's handler and forwards every yielded
// item. It reports the number of items forwarded. The error is non-nil
// only for misuse; handler failures are recorded and swallowed.
func (r *Router[C]) Route(c C, res *fetch.Result, sink Sink) (int, error) {
	h, ok := r.tasks[res.Task.Name]
	if !ok {
		// CheckTask runs on admission, so this only happens for tasks
		// built by hand and pushed past the engine.
		return 0, fmt.Errorf("%w: task %q", ErrNoHandler, res.Task.Name)
	}
	r.stats.Inc("task")
	r.stats.Inc("task-" + res.Task.Name)
	return r.run(c, h, res, sink)
}

// RouteFailure passes a dropped result to the task's fallback handler.
// It reports false when the task has no fallback.
func (r *Router[C]) RouteFailure(c C, res *fetch.Result, sink Sink) (bool, error) {
	if res.Task.Fallback == "" {
		return false, nil
	}
	h, ok := r.tasks[res.Task.Fallback]
	if !ok {
		return false, fmt.Errorf("%w: fallback %q of task %q", ErrNoHandler, res.Task.Fallback, res.Task.Name)
	}
	r.stats.Inc("fallback-" + res.Task.Fallback)
	if _, err := r.run(c, h, res, sink); err != nil {
		return true, err
	}
	return true, nil
}

// RouteData dispatches a data item to its handler, or to the collector
// when none is registered.
func (r *Router[C]) RouteData(c C, d *task.Data) {
	r.stats.Inc("data-" + d.Name)

	h, ok := r.data[d.Name]
	if !ok {
		if r.collector != nil {
			r.collector(d.Name, d.Item)
		}
		return
	}

	defer func() {
		if p := recover(); p != nil {
			r.record("data "+d.Name, KindPanic, fmt.Sprint(p))
		}
	}()
	if err := h(c, d.Item); err != nil {
		r.record("data "+d.Name, ErrorKind(err), err.Error())
	}
}

func (r *Router[C]) run(c C, h TaskHandler[C], res *fetch.Result, sink Sink) (forwarded int, err error) {
	started := time.Now()
	defer func() {
		r.stats.Observe("handler", time.Since(started))
		if p := recover(); p != nil {
			r.record(describe(res.Task), KindPanic, fmt.Sprint(p))
		}
	}()

	seq, herr := h(c, res)
	if herr != nil {
		r.fail(res.Task, herr)
		return 0, nil
	}
	if seq == nil {
		return 0, nil
	}

	for item := range seq {
		if err := r.forward(c, item, sink); err != nil {
			return forwarded, fmt.Errorf("%s: %w", describe(res.Task), err)
		}
		forwarded++
	}
	return forwarded, nil
}

func (r *Router[C]) forward(c C, item task.Item, sink Sink) error {
	switch it := item.(type) {
	case *task.Task:
		if it == nil {
			return task.ErrMalformedTask
		}
		_, err := sink.Enqueue(it)
		return err
	case *task.Data:
		if it == nil || it.Name == "" {
			return task.ErrEmptyName
		}
		r.RouteData(c, it)
		return nil
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedItem, item)
	}
}

func (r *Router[C]) fail(t *task.Task, err error) {
	r.record(describe(t), ErrorKind(err), err.Error())
}

func (r *Router[C]) record(where, kind, msg string) {
	r.stats.Inc("error-" + kind)
	r.stats.Collect(stats.CollectionFatal, where+": "+kind+": "+msg)
	r.logger.Error("handler failed", "where", where, "kind", kind, "error", msg)
}

func describe(t *task.Task) string {
	return "task " + t.Name + " " + t.URL
}

// ErrorKind names an error by its dynamic type with pointers stripped,
// e.g. "errorString" for errors.New values. Wrapped errors are named
// after their outermost type.
func ErrorKind(err error) string {
	typ := reflect.TypeOf(err)
	for typ != nil && typ.Kind() == reflect.Pointer {
		typ = typ.Elem()
	}
	if typ == nil || typ.Name() == "" {
		return "error"
	}
	return typ.Name()
}

// Items adapts a fixed list to the sequence type handlers return.
func Items(items ...task.Item) iter.Seq[task.Item] {
	return func(yield func(task.Item) bool) {
		for _, it := range items {
			if !yield(it) {
				return
			}
		}
	}
}
