package engine

import (
	"context"
	"log/slog"

	"github.com/nao1215/crawlkit/internal/cache"
	"github.com/nao1215/crawlkit/internal/stats"
	"github.com/nao1215/crawlkit/internal/task"
)

// Context is handed to every handler. It is the only way handler code
// reaches the engine.
type Context struct {
	engine *Engine
	ctx    context.Context
}

// Context returns the context of the current Run.
func (c *Context) Context() context.Context {
	if c.ctx == nil {
		return context.Background()
	}
	return c.ctx
}

// AddTask creates and enqueues a task.
func (c *Context) AddTask(name, rawURL string, opts ...task.Option) (bool, error) {
	return c.engine.AddTask(name, rawURL, opts...)
}

// Add enqueues a task.
func (c *Context) Add(t *task.Task) (bool, error) {
	return c.engine.Add(t)
}

// Retry re-submits t as a new logical try. Its TaskTryCount grows by one
// and dedup is bypassed; the scheduler drops it once TaskTryLimit is passed.
func (c *Context) Retry(t *task.Task) (bool, error) {
	c.engine.stats.Inc("task-retry")
	return c.engine.Add(t.Resubmit())
}

// Stats returns the run statistics.
func (c *Context) Stats() *stats.Stats {
	return c.engine.stats
}

// Cache returns the cache gateway, or nil when caching is off.
func (c *Context) Cache() *cache.Gateway {
	return c.engine.cache
}

// Logger returns the engine logger.
func (c *Context) Logger() *slog.Logger {
	return c.engine.logger
}

// Config returns the engine settings.
func (c *Context) Config() Options {
	return c.engine.opts
}

// Collect stores an item in the default collector under name.
func (c *Context) Collect(name string, item any) {
	c.engine.collect(name, item)
}

// Stop asks the engine to finish after the in-flight transfers.
func (c *Context) Stop() {
	c.engine.Stop()
}
