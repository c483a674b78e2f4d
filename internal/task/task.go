package task

import (
	"errors"
	"maps"
	"net/http"
	"strings"
	"time"
)

// DefaultPriority is assigned to tasks created without an explicit priority.
const DefaultPriority = 100

// ErrMalformedTask is returned when a task has neither a URL nor a bound request.
var ErrMalformedTask = errors.New("malformed task: either url or request is required")

// ErrEmptyName is returned when a task or data item has no handler name.
var ErrEmptyName = errors.New("malformed task: name is required")

// Item is anything a handler may emit: a *Task or a *Data.
type Item interface {
	itemName() string
}

// Request is a serialisable snapshot of what should be sent for a task.
// Retries are built from a copy of this snapshot, never from a live request.
type Request struct {
	// Method is the HTTP method. Empty means GET.
	Method string `json:"method,omitempty"`

	// URL is the absolute target URL.
	URL string `json:"url"`

	// Header holds request headers.
	Header http.Header `json:"header,omitempty"`

	// Body is the request payload for non-idempotent requests.
	Body []byte `json:"body,omitempty"`

	// Timeout overrides the engine's per-attempt timeout when positive.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// EffectiveMethod returns the request method, defaulting to GET.
func (r *Request) EffectiveMethod() string {
	if r.Method == "" {
		return http.MethodGet
	}
	return strings.ToUpper(r.Method)
}

// Idempotent reports whether the request can be served from a cache.
func (r *Request) Idempotent() bool {
	m := r.EffectiveMethod()
	return (m == http.MethodGet || m == http.MethodHead) && len(r.Body) == 0
}

// Clone returns a deep copy of the request.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	c := *r
	if r.Header != nil {
		c.Header = r.Header.Clone()
	}
	if r.Body != nil {
		c.Body = append([]byte(nil), r.Body...)
	}
	return &c
}

// Task is a unit of crawl work bound to a URL and a named handler.
type Task struct {
	// Name selects the handler that receives the fetch result.
	Name string `json:"name"`

	// URL is the target URL. It mirrors Request.URL when a request is bound.
	URL string `json:"url"`

	// Request is the pre-bound request snapshot. Nil means a plain GET of URL.
	Request *Request `json:"request,omitempty"`

	// Priority orders the queue: lower values dequeue first.
	Priority int `json:"priority"`

	// NetworkTryCount counts actual dispatches of this task.
	NetworkTryCount int `json:"network_try_count"`

	// TaskTryCount counts logical submissions triggered by handler code.
	// A fresh task starts at 1.
	TaskTryCount int `json:"task_try_count"`

	// Depth is the link distance from the seed that produced this task.
	Depth int `json:"depth"`

	// Meta carries opaque handler data along with the task.
	Meta map[string]any `json:"meta,omitempty"`

	// Fallback names a handler invoked when the task is finally dropped
	// after exhausting its network retries.
	Fallback string `json:"fallback,omitempty"`

	// NoDedup admits the task even if its identity was seen before.
	NoDedup bool `json:"no_dedup,omitempty"`

	// RefreshCache skips the cache lookup but still writes the result through.
	RefreshCache bool `json:"refresh_cache,omitempty"`

	// DisableCache keeps the task away from the cache entirely.
	DisableCache bool `json:"disable_cache,omitempty"`

	// priorityExplicit records whether Priority was set by the caller.
	priorityExplicit bool

	id string
}

func (t *Task) itemName() string { return t.Name }

// Option configures a Task during construction.
type Option func(*Task)

// WithPriority sets an explicit priority.
func WithPriority(p int) Option {
	return func(t *Task) {
		t.Priority = p
		t.priorityExplicit = true
	}
}

// WithMeta merges key/value pairs into the task's meta fields.
func WithMeta(meta map[string]any) Option {
	return func(t *Task) {
		if t.Meta == nil {
			t.Meta = make(map[string]any, len(meta))
		}
		maps.Copy(t.Meta, meta)
	}
}

// WithRequest binds a request snapshot. Its URL wins over the positional one.
func WithRequest(r *Request) Option {
	return func(t *Task) {
		t.Request = r.Clone()
	}
}

// WithFallback names a handler for tasks dropped after network failures.
func WithFallback(name string) Option {
	return func(t *Task) {
		t.Fallback = name
	}
}

// WithoutDedup bypasses the dedup history for this task.
func WithoutDedup() Option {
	return func(t *Task) {
		t.NoDedup = true
	}
}

// WithRefreshCache forces a network fetch even when a cached copy exists.
func WithRefreshCache() Option {
	return func(t *Task) {
		t.RefreshCache = true
	}
}

// WithDisableCache keeps the task away from the cache.
func WithDisableCache() Option {
	return func(t *Task) {
		t.DisableCache = true
	}
}

// WithDepth sets the link depth.
func WithDepth(d int) Option {
	return func(t *Task) {
		t.Depth = d
	}
}

// New creates a task. Either rawURL or a WithRequest option must supply a URL.
func New(name, rawURL string, opts ...Option) (*Task, error) {
	t := &Task{
		Name:         name,
		URL:          rawURL,
		Priority:     DefaultPriority,
		TaskTryCount: 1,
	}
	for _, opt := range opts {
		opt(t)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if t.Request != nil {
		if t.Request.URL == "" {
			t.Request.URL = t.URL
		}
		t.URL = t.Request.URL
	}
	return t, nil
}

// Validate reports structural problems that make the task unusable.
func (t *Task) Validate() error {
	if t == nil {
		return ErrMalformedTask
	}
	if strings.TrimSpace(t.Name) == "" {
		return ErrEmptyName
	}
	if t.URL == "" && (t.Request == nil || t.Request.URL == "") {
		return ErrMalformedTask
	}
	return nil
}

// HasExplicitPriority reports whether the priority was chosen by the caller.
func (t *Task) HasExplicitPriority() bool {
	return t.priorityExplicit
}

// SetPriority assigns a priority chosen by the engine.
func (t *Task) SetPriority(p int) {
	t.Priority = p
}

// Snapshot returns the request to send for this task. A task without a
// bound request yields a plain GET.
func (t *Task) Snapshot() *Request {
	if t.Request != nil {
		return t.Request.Clone()
	}
	return &Request{Method: http.MethodGet, URL: t.URL}
}

// Idempotent reports whether the task's request is GET-equivalent.
func (t *Task) Idempotent() bool {
	return t.Snapshot().Idempotent()
}

// ID returns the task identity. It is computed once and cached.
func (t *Task) ID() string {
	if t.id == "" {
		t.id = Identity(t.Name, t.Snapshot())
	}
	return t.id
}

// Clone returns a deep copy of the task carrying the same identity.
func (t *Task) Clone() *Task {
	c := *t
	c.Request = t.Request.Clone()
	if t.Meta != nil {
		c.Meta = maps.Clone(t.Meta)
	}
	return &c
}

// Resubmit returns a copy for a logical re-submission: TaskTryCount is
// incremented, NetworkTryCount is reset, and dedup is bypassed.
func (t *Task) Resubmit() *Task {
	c := t.Clone()
	c.TaskTryCount++
	c.NetworkTryCount = 0
	c.NoDedup = true
	return c
}

// Data is a named payload emitted by a handler for out-of-band processing.
type Data struct {
	// Name selects the data handler.
	Name string

	// Item is the opaque payload.
	Item any
}

func (d *Data) itemName() string { return d.Name }

// NewData creates a data item.
func NewData(name string, item any) (*Data, error) {
	if strings.TrimSpace(name) == "" {
		return nil, ErrEmptyName
	}
	return &Data{Name: name, Item: item}, nil
}
