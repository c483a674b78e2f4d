package engine

import (
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/nao1215/crawlkit/internal/cache"
	"github.com/nao1215/crawlkit/internal/pool"
	"github.com/nao1215/crawlkit/internal/proxy"
	"github.com/nao1215/crawlkit/internal/retry"
	"github.com/nao1215/crawlkit/internal/stats"
	"github.com/nao1215/crawlkit/internal/transport"
)

// Priority modes for tasks created without an explicit priority.
const (
	PriorityConst  = "const"
	PriorityRandom = "random"
)

// Range of priorities drawn in random priority mode, inclusive.
const (
	RandomPriorityMin = 50
	RandomPriorityMax = 100
)

// Default engine settings.
const (
	DefaultConcurrency   = 10
	DefaultQueuePoll     = 100 * time.Millisecond
	DefaultTransportPoll = 500 * time.Millisecond
)

// Options holds the engine settings handlers can read through Context.Config.
type Options struct {
	// Concurrency is the number of pool slots, the hard limit of
	// simultaneous transfers.
	Concurrency int

	// Policy holds the retry ceilings.
	Policy retry.Policy

	// SlotMaxUses is the number of transfers before a slot is rebuilt.
	SlotMaxUses int

	// QueuePoll bounds each wait for a queued task.
	QueuePoll time.Duration

	// TransportPoll bounds each wait for completed transfers.
	TransportPoll time.Duration

	// Transport selects the transfer strategy (multi or threaded).
	Transport string

	// Transfer holds per-attempt transfer settings.
	Transfer transport.Settings

	// PriorityMode is const or random.
	PriorityMode string

	// Declared lists task names that must have a handler.
	Declared []string
}

// DefaultOptions returns the default engine settings.
func DefaultOptions() Options {
	return Options{
		Concurrency:   DefaultConcurrency,
		Policy:        retry.DefaultPolicy(),
		SlotMaxUses:   pool.DefaultMaxUses,
		QueuePoll:     DefaultQueuePoll,
		TransportPoll: DefaultTransportPoll,
		Transport:     transport.NameMulti,
		Transfer:      transport.DefaultSettings(),
		PriorityMode:  PriorityConst,
	}
}

// Site holds per-host request additions.
type Site struct {
	// Header is added to requests for names they do not set.
	Header http.Header

	// Cookie is sent with every request to the host.
	Cookie string
}

// SiteResolver returns the additions for a host.
type SiteResolver func(host string) (Site, bool)

// Option configures an Engine.
type Option func(*Engine)

// WithOptions replaces the default engine settings. The setting options
// below (WithConcurrency, WithPolicy, ...) apply on top of it regardless of
// their position in the option list.
func WithOptions(o Options) Option {
	return func(e *Engine) {
		e.base = &o
	}
}

func tweak(fn func(*Options)) Option {
	return func(e *Engine) {
		e.tweaks = append(e.tweaks, fn)
	}
}

// WithConcurrency sets the number of pool slots.
func WithConcurrency(n int) Option {
	return tweak(func(o *Options) {
		o.Concurrency = n
	})
}

// WithPolicy sets the retry ceilings. The redirect limit is also applied
// to transfers.
func WithPolicy(p retry.Policy) Option {
	return tweak(func(o *Options) {
		o.Policy = p
	})
}

// WithTransferSettings sets the per-attempt transfer parameters.
func WithTransferSettings(s transport.Settings) Option {
	return tweak(func(o *Options) {
		o.Transfer = s
	})
}

// WithTransport injects a transport instead of building one by name.
func WithTransport(tr transport.Transport) Option {
	return func(e *Engine) {
		e.transport = tr
	}
}

// WithCache enables the cache gateway.
func WithCache(g *cache.Gateway) Option {
	return func(e *Engine) {
		e.cache = g
	}
}

// WithStats records into s instead of a private Stats.
func WithStats(s *stats.Stats) Option {
	return func(e *Engine) {
		e.stats = s
	}
}

// WithProxySource routes transfers through proxies from src.
func WithProxySource(src proxy.Source) Option {
	return func(e *Engine) {
		e.proxies = src
	}
}

// WithSiteResolver adds per-host headers and cookies to requests.
func WithSiteResolver(fn SiteResolver) Option {
	return func(e *Engine) {
		e.sites = fn
	}
}

// WithPriorityMode sets const or random priorities for tasks without one.
func WithPriorityMode(mode string) Option {
	return tweak(func(o *Options) {
		o.PriorityMode = mode
	})
}

// WithDeclared lists task names that must have a handler.
func WithDeclared(names ...string) Option {
	return tweak(func(o *Options) {
		o.Declared = append(slices.Clip(o.Declared), names...)
	})
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}
