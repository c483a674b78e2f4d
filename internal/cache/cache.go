// Package cache stores fetched responses so that repeated GET-like
// requests can be answered without network I/O.
//
// The Gateway sits between the scheduler and a Backend. Backends are
// plain key/value stores of JSON-encoded entries: MemoryBackend,
// SQLiteBackend, BadgerBackend and PostgresBackend.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nao1215/crawlkit/internal/fetch"
	"github.com/nao1215/crawlkit/internal/task"
)

var (
	// ErrNotFound is returned by a backend when a key is absent.
	ErrNotFound = errors.New("cache: entry not found")

	// ErrClosed is returned when a backend is used after Close.
	ErrClosed = errors.New("cache: backend closed")

	// ErrUnknownBackend is returned by Open for an unsupported backend name.
	ErrUnknownBackend = errors.New("cache: unknown backend")
)

// Entry is one cached response.
type Entry struct {
	// StatusCode of the cached response.
	StatusCode int `json:"status_code"`

	// Header of the cached response.
	Header http.Header `json:"header,omitempty"`

	// Body of the cached response.
	Body []byte `json:"body"`

	// URL is the final URL after redirects.
	URL string `json:"url"`

	// StoredAt is when the entry was written.
	StoredAt time.Time `json:"stored_at"`
}

// Response converts the entry back into a fetch response.
func (e *Entry) Response() *fetch.Response {
	return &fetch.Response{
		StatusCode: e.StatusCode,
		Header:     e.Header.Clone(),
		Body:       e.Body,
		URL:        e.URL,
	}
}

// EntryFromResponse builds an entry from a completed transfer.
func EntryFromResponse(resp *fetch.Response, now time.Time) *Entry {
	return &Entry{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       resp.Body,
		URL:        resp.URL,
		StoredAt:   now,
	}
}

func encodeEntry(e *Entry) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to encode cache entry: %w", err)
	}
	return data, nil
}

func decodeEntry(data []byte) (*Entry, error) {
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to decode cache entry: %w", err)
	}
	return &e, nil
}

// Backend is a key/value store for cache entries.
// Implementations must be safe for concurrent use.
type Backend interface {
	// GetItem returns the entry for key, or ErrNotFound.
	GetItem(ctx context.Context, key string) (*Entry, error)

	// SetItem stores an entry, replacing any previous one.
	SetItem(ctx context.Context, key string, e *Entry) error

	// RemoveItem deletes an entry. Removing a missing key is not an error.
	RemoveItem(ctx context.Context, key string) error

	// HasItem reports whether key is present.
	HasItem(ctx context.Context, key string) (bool, error)

	// Clear removes every entry.
	Clear(ctx context.Context) error

	// Size returns the number of entries.
	Size(ctx context.Context) (int, error)

	// Close releases the backend's resources.
	Close() error
}

// Gateway applies cache policy on top of a Backend.
type Gateway struct {
	backend Backend
	ttl     time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithTTL expires entries older than ttl. Zero keeps entries forever.
func WithTTL(ttl time.Duration) Option {
	return func(g *Gateway) {
		g.ttl = ttl
	}
}

// WithLogger sets the gateway logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) {
		g.now = now
	}
}

// NewGateway wraps a backend.
func NewGateway(backend Backend, opts ...Option) *Gateway {
	g := &Gateway{
		backend: backend,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Key returns the cache key of a request: its normalized URL, prefixed
// with the method for anything other than GET.
func Key(req *task.Request) string {
	key := task.NormalizeURL(req.URL)
	if m := req.EffectiveMethod(); m != http.MethodGet {
		key = m + " " + key
	}
	return key
}

// Applies reports whether the cache is consulted for t at all.
func Applies(t *task.Task) bool {
	return !t.DisableCache && t.Idempotent()
}

// Get returns the entry stored under key. Expired entries are removed and
// reported as ErrNotFound.
func (g *Gateway) Get(ctx context.Context, key string) (*Entry, error) {
	e, err := g.backend.GetItem(ctx, key)
	if err != nil {
		return nil, err
	}
	if g.expired(e) {
		if err := g.backend.RemoveItem(ctx, key); err != nil {
			g.logger.Warn("failed to remove expired cache entry", "key", key, "error", err)
		}
		return nil, ErrNotFound
	}
	return e, nil
}

// Store writes an entry under key.
func (g *Gateway) Store(ctx context.Context, key string, e *Entry) error {
	return g.backend.SetItem(ctx, key, e)
}

// Has reports whether a live entry exists under key.
func (g *Gateway) Has(ctx context.Context, key string) (bool, error) {
	if g.ttl <= 0 {
		return g.backend.HasItem(ctx, key)
	}
	_, err := g.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Remove deletes the entry under key.
func (g *Gateway) Remove(ctx context.Context, key string) error {
	return g.backend.RemoveItem(ctx, key)
}

// Clear empties the cache.
func (g *Gateway) Clear(ctx context.Context) error {
	return g.backend.Clear(ctx)
}

// Size returns the number of stored entries, expired ones included.
func (g *Gateway) Size(ctx context.Context) (int, error) {
	return g.backend.Size(ctx)
}

// Close closes the backend.
func (g *Gateway) Close() error {
	return g.backend.Close()
}

// Lookup returns a cache-hit result for t, or false on a miss. Tasks that
// bypass the cache always miss. Backend errors are logged and treated as
// misses.
func (g *Gateway) Lookup(ctx context.Context, t *task.Task) (*fetch.Result, bool) {
	if !Applies(t) || t.RefreshCache {
		return nil, false
	}

	req := t.Snapshot()
	e, err := g.Get(ctx, Key(req))
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			g.logger.Warn("cache lookup failed", "task", t.Name, "url", t.URL, "error", err)
		}
		return nil, false
	}

	return &fetch.Result{
		OK:        true,
		Response:  e.Response(),
		Task:      t,
		FromCache: true,
		Backup:    req,
	}, true
}

// WriteThrough stores a successful network result. It reports whether
// anything was written.
func (g *Gateway) WriteThrough(ctx context.Context, res *fetch.Result) bool {
	if !res.Cacheable() {
		return false
	}

	key := Key(res.Task.Snapshot())
	if err := g.Store(ctx, key, EntryFromResponse(res.Response, g.now())); err != nil {
		g.logger.Warn("cache write failed", "task", res.Task.Name, "url", res.Task.URL, "error", err)
		return false
	}
	return true
}

func (g *Gateway) expired(e *Entry) bool {
	return g.ttl > 0 && g.now().Sub(e.StoredAt) > g.ttl
}
