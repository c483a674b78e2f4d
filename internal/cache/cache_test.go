package cache

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/nao1215/crawlkit/internal/fetch"
	"github.com/nao1215/crawlkit/internal/task"
)

// backendSuite runs the shared Backend contract against b.
func backendSuite(t *testing.T, b Backend) {
	t.Helper()
	ctx := context.Background()

	if _, err := b.GetItem(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	e := &Entry{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": {"text/html"}},
		Body:       []byte("<html></html>"),
		URL:        "http://example.com/",
		StoredAt:   time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	if err := b.SetItem(ctx, "k1", e); err != nil {
		t.Fatalf("SetItem failed: %v", err)
	}
	if err := b.SetItem(ctx, "k2", e); err != nil {
		t.Fatalf("SetItem failed: %v", err)
	}

	got, err := b.GetItem(ctx, "k1")
	if err != nil {
		t.Fatalf("GetItem failed: %v", err)
	}
	if got.StatusCode != e.StatusCode || string(got.Body) != string(e.Body) || got.URL != e.URL {
		t.Errorf("unexpected entry: %+v", got)
	}
	if got.Header.Get("Content-Type") != "text/html" {
		t.Errorf("expected header round trip, got %v", got.Header)
	}
	if !got.StoredAt.Equal(e.StoredAt) {
		t.Errorf("expected stored_at %v, got %v", e.StoredAt, got.StoredAt)
	}

	has, err := b.HasItem(ctx, "k1")
	if err != nil || !has {
		t.Errorf("expected HasItem true, got %v/%v", has, err)
	}
	if n, err := b.Size(ctx); err != nil || n != 2 {
		t.Errorf("expected size 2, got %d/%v", n, err)
	}

	if err := b.RemoveItem(ctx, "k1"); err != nil {
		t.Fatalf("RemoveItem failed: %v", err)
	}
	if err := b.RemoveItem(ctx, "k1"); err != nil {
		t.Errorf("removing a missing key must not fail: %v", err)
	}
	if has, _ := b.HasItem(ctx, "k1"); has { //nolint:errcheck // checked above
		t.Error("expected k1 to be gone")
	}

	if err := b.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if n, _ := b.Size(ctx); n != 0 { //nolint:errcheck // checked above
		t.Errorf("expected empty cache, got %d", n)
	}
}

func TestMemoryBackend(t *testing.T) {
	t.Parallel()

	b := NewMemoryBackend()
	backendSuite(t, b)

	if err := b.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := b.GetItem(context.Background(), "k"); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestSQLiteBackend(t *testing.T) {
	t.Parallel()

	b, err := OpenSQLite(t.TempDir())
	if err != nil {
		t.Fatalf("failed to open sqlite cache: %v", err)
	}
	defer b.Close()

	backendSuite(t, b)
}

func TestBadgerBackend(t *testing.T) {
	t.Parallel()

	t.Run("in memory", func(t *testing.T) {
		t.Parallel()

		b, err := OpenBadger("")
		if err != nil {
			t.Fatalf("failed to open badger cache: %v", err)
		}
		defer b.Close()

		backendSuite(t, b)
	})

	t.Run("on disk", func(t *testing.T) {
		t.Parallel()

		b, err := OpenBadger(t.TempDir())
		if err != nil {
			t.Fatalf("failed to open badger cache: %v", err)
		}
		defer b.Close()

		backendSuite(t, b)
	})
}

func TestOpen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	b, err := Open(ctx, BackendNone, "", "", nil)
	if err != nil || b != nil {
		t.Errorf("expected nil backend for none, got %v/%v", b, err)
	}

	b, err = Open(ctx, BackendMemory, "", "", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := b.(*MemoryBackend); !ok {
		t.Errorf("expected *MemoryBackend, got %T", b)
	}

	if _, err := Open(ctx, "redis", "", "", nil); !errors.Is(err, ErrUnknownBackend) {
		t.Errorf("expected ErrUnknownBackend, got %v", err)
	}
}

func TestKey(t *testing.T) {
	t.Parallel()

	get := &task.Request{URL: "HTTP://Example.com:80/a?b=2&a=1#frag"}
	if got := Key(get); got != "http://example.com/a?a=1&b=2" {
		t.Errorf("unexpected key %q", got)
	}
	head := &task.Request{Method: http.MethodHead, URL: "http://example.com/a"}
	if got := Key(head); got != "HEAD http://example.com/a" {
		t.Errorf("unexpected HEAD key %q", got)
	}
}

func newResult(t *testing.T, tk *task.Task, status int) *fetch.Result {
	t.Helper()
	return &fetch.Result{
		OK: true,
		Response: &fetch.Response{
			StatusCode: status,
			Header:     http.Header{"Content-Type": {"text/html"}},
			Body:       []byte("body"),
			URL:        tk.URL,
		},
		Task: tk,
	}
}

func TestGateway_LookupAndWriteThrough(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	g := NewGateway(NewMemoryBackend())

	tk, err := task.New("page", "http://example.com/")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, hit := g.Lookup(ctx, tk); hit {
		t.Fatal("expected a miss on an empty cache")
	}

	if !g.WriteThrough(ctx, newResult(t, tk, http.StatusOK)) {
		t.Fatal("expected a 200 result to be written")
	}
	if g.WriteThrough(ctx, newResult(t, tk, http.StatusNotFound)) {
		t.Error("non-2xx results must not be written")
	}

	res, hit := g.Lookup(ctx, tk)
	if !hit {
		t.Fatal("expected a hit")
	}
	if !res.FromCache || !res.OK || string(res.Response.Body) != "body" {
		t.Errorf("unexpected cached result: %+v", res)
	}
	if res.Cacheable() {
		t.Error("cache hits must not be written back")
	}

	if n, _ := g.Size(ctx); n != 1 { //nolint:errcheck // memory backend
		t.Errorf("expected size 1, got %d", n)
	}
}

func TestGateway_Bypass(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	g := NewGateway(NewMemoryBackend())

	seed, _ := task.New("page", "http://example.com/") //nolint:errcheck // valid task
	g.WriteThrough(ctx, newResult(t, seed, http.StatusOK))

	tests := []struct {
		name string
		opts []task.Option
	}{
		{name: "refresh", opts: []task.Option{task.WithRefreshCache()}},
		{name: "disabled", opts: []task.Option{task.WithDisableCache()}},
		{name: "post", opts: []task.Option{task.WithRequest(&task.Request{Method: http.MethodPost, Body: []byte("x")})}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			tk, err := task.New("page", "http://example.com/", tt.opts...)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if _, hit := g.Lookup(ctx, tk); hit {
				t.Error("expected the cache to be bypassed")
			}
		})
	}
}

func TestGateway_TTL(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	g := NewGateway(NewMemoryBackend(), WithTTL(time.Hour), WithClock(func() time.Time { return now }))

	tk, _ := task.New("page", "http://example.com/") //nolint:errcheck // valid task
	g.WriteThrough(ctx, newResult(t, tk, http.StatusOK))

	key := Key(tk.Snapshot())
	if has, err := g.Has(ctx, key); err != nil || !has {
		t.Fatalf("expected a fresh entry, got %v/%v", has, err)
	}

	now = now.Add(2 * time.Hour)
	if _, hit := g.Lookup(ctx, tk); hit {
		t.Error("expired entries must miss")
	}
	if n, _ := g.Size(ctx); n != 0 { //nolint:errcheck // memory backend
		t.Errorf("expected expired entry to be removed, size=%d", n)
	}
}
