package router

import (
	"errors"
	"io"
	"iter"
	"log/slog"
	"strings"
	"testing"

	"github.com/nao1215/crawlkit/internal/fetch"
	"github.com/nao1215/crawlkit/internal/stats"
	"github.com/nao1215/crawlkit/internal/task"
)

type testCtx struct{}

type recordingSink struct {
	tasks []*task.Task
	err   error
}

func (s *recordingSink) Enqueue(t *task.Task) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	s.tasks = append(s.tasks, t)
	return true, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mustTask(t *testing.T, name, url string, opts ...task.Option) *task.Task {
	t.Helper()
	tk, err := task.New(name, url, opts...)
	if err != nil {
		t.Fatalf("failed to create task: %v", err)
	}
	return tk
}

func okResult(tk *task.Task) *fetch.Result {
	return &fetch.Result{OK: true, Task: tk, Response: &fetch.Response{StatusCode: 200}}
}

func TestNew_MissingHandler(t *testing.T) {
	t.Parallel()

	tasks := map[string]TaskHandler[testCtx]{
		"page": func(testCtx, *fetch.Result) (iter.Seq[task.Item], error) { return nil, nil },
	}
	if _, err := New(tasks, nil, []string{"page", "detail"}); !errors.Is(err, ErrNoHandler) {
		t.Fatalf("expected ErrNoHandler, got %v", err)
	}

	r, err := New(tasks, nil, []string{"page"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if names := r.Names(); len(names) != 1 || names[0] != "page" {
		t.Errorf("unexpected names %v", names)
	}
}

func TestRouter_CheckTask(t *testing.T) {
	t.Parallel()

	tasks := map[string]TaskHandler[testCtx]{
		"page": func(testCtx, *fetch.Result) (iter.Seq[task.Item], error) { return nil, nil },
	}
	r, err := New(tasks, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := r.CheckTask(mustTask(t, "page", "http://a/")); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := r.CheckTask(mustTask(t, "other", "http://a/")); !errors.Is(err, ErrNoHandler) {
		t.Errorf("expected ErrNoHandler, got %v", err)
	}
	if err := r.CheckTask(mustTask(t, "page", "http://a/", task.WithFallback("gone"))); !errors.Is(err, ErrNoHandler) {
		t.Errorf("expected ErrNoHandler for fallback, got %v", err)
	}
}

func TestRouter_RoutesLazilyInOrder(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	var observed []int

	tasks := map[string]TaskHandler[testCtx]{
		"page": func(_ testCtx, _ *fetch.Result) (iter.Seq[task.Item], error) {
			return func(yield func(task.Item) bool) {
				for i := range 3 {
					// Everything yielded so far must already be routed.
					observed = append(observed, len(sink.tasks))
					child, _ := task.New("page", "http://a/"+string(rune('a'+i))) //nolint:errcheck // valid task
					if !yield(child) {
						return
					}
				}
			}, nil
		},
	}
	st := stats.New()
	r, err := New(tasks, nil, nil, WithStats(st), WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	n, err := r.Route(testCtx{}, okResult(mustTask(t, "page", "http://a/")), sink)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 3 || len(sink.tasks) != 3 {
		t.Fatalf("expected 3 forwarded tasks, got %d/%d", n, len(sink.tasks))
	}
	for i, v := range observed {
		if v != i {
			t.Errorf("item %d pulled before item %d was routed", i, v)
		}
	}
	if st.Get("task") != 1 || st.Get("task-page") != 1 {
		t.Errorf("unexpected task counters: %v", st.Snapshot().Counters)
	}
}

type parseError struct{ msg string }

func (e *parseError) Error() string { return e.msg }

func TestRouter_HandlerFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		handler  TaskHandler[testCtx]
		kind     string
		forwards int
	}{
		{
			name: "returned error",
			handler: func(testCtx, *fetch.Result) (iter.Seq[task.Item], error) {
				return nil, &parseError{msg: "bad markup"}
			},
			kind: "parseError",
		},
		{
			name: "panic in handler",
			handler: func(testCtx, *fetch.Result) (iter.Seq[task.Item], error) {
				panic("boom")
			},
			kind: KindPanic,
		},
		{
			name: "panic inside sequence",
			handler: func(testCtx, *fetch.Result) (iter.Seq[task.Item], error) {
				return func(yield func(task.Item) bool) {
					child, _ := task.New("page", "http://a/child") //nolint:errcheck // valid task
					if !yield(child) {
						return
					}
					panic("late boom")
				}, nil
			},
			kind:     KindPanic,
			forwards: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			st := stats.New()
			sink := &recordingSink{}
			r, err := New(map[string]TaskHandler[testCtx]{"page": tt.handler}, nil, nil,
				WithStats(st), WithLogger(quietLogger()))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if _, err := r.Route(testCtx{}, okResult(mustTask(t, "page", "http://a/")), sink); err != nil {
				t.Fatalf("handler failures must not be returned, got %v", err)
			}

			if st.Get("error-"+tt.kind) != 1 {
				t.Errorf("expected error-%s=1, got %v", tt.kind, st.Snapshot().Counters)
			}
			fatal := st.Collection(stats.CollectionFatal)
			if len(fatal) != 1 || !strings.Contains(fatal[0], "http://a/") {
				t.Errorf("unexpected fatal collection %v", fatal)
			}
			if len(sink.tasks) != tt.forwards {
				t.Errorf("expected %d forwarded tasks, got %d", tt.forwards, len(sink.tasks))
			}
		})
	}
}

func TestRouter_MisuseIsReturned(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		items []task.Item
		sink  *recordingSink
		want  error
	}{
		{
			name:  "sink rejects task",
			items: []task.Item{&task.Task{Name: "ghost", URL: "http://a/x"}},
			sink:  &recordingSink{err: ErrNoHandler},
			want:  ErrNoHandler,
		},
		{
			name:  "nil task",
			items: []task.Item{(*task.Task)(nil)},
			sink:  &recordingSink{},
			want:  task.ErrMalformedTask,
		},
		{
			name:  "unnamed data",
			items: []task.Item{&task.Data{Item: 1}},
			sink:  &recordingSink{},
			want:  task.ErrEmptyName,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			pulled := 0
			tasks := map[string]TaskHandler[testCtx]{
				"page": func(testCtx, *fetch.Result) (iter.Seq[task.Item], error) {
					return func(yield func(task.Item) bool) {
						for _, it := range append(tt.items, tt.items...) {
							pulled++
							if !yield(it) {
								return
							}
						}
					}, nil
				},
			}
			st := stats.New()
			r, _ := New(tasks, nil, nil, WithStats(st), WithLogger(quietLogger())) //nolint:errcheck // no declared names

			_, err := r.Route(testCtx{}, okResult(mustTask(t, "page", "http://a/")), tt.sink)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if pulled != 1 {
				t.Errorf("expected the sequence to stop after the first item, pulled %d", pulled)
			}
			if fatal := st.Collection(stats.CollectionFatal); len(fatal) != 0 {
				t.Errorf("misuse must not be recorded as a handler failure, got %v", fatal)
			}
		})
	}
}

func TestRouter_RouteUnknownTask(t *testing.T) {
	t.Parallel()

	r, _ := New(map[string]TaskHandler[testCtx]{}, nil, nil, WithLogger(quietLogger())) //nolint:errcheck // no declared names
	if _, err := r.Route(testCtx{}, okResult(&task.Task{Name: "ghost", URL: "http://a/"}), &recordingSink{}); !errors.Is(err, ErrNoHandler) {
		t.Errorf("expected ErrNoHandler, got %v", err)
	}
	gone := &fetch.Result{Task: &task.Task{Name: "ghost", URL: "http://a/", Fallback: "gone"}}
	if _, err := r.RouteFailure(testCtx{}, gone, &recordingSink{}); !errors.Is(err, ErrNoHandler) {
		t.Errorf("expected ErrNoHandler for fallback, got %v", err)
	}
}

func TestRouter_Data(t *testing.T) {
	t.Parallel()

	var handled []any
	collected := map[string][]any{}

	data := map[string]DataHandler[testCtx]{
		"price": func(_ testCtx, item any) error {
			handled = append(handled, item)
			return nil
		},
		"broken": func(testCtx, any) error {
			return errors.New("cannot store")
		},
	}
	tasks := map[string]TaskHandler[testCtx]{
		"page": func(testCtx, *fetch.Result) (iter.Seq[task.Item], error) {
			a, _ := task.NewData("price", 10)     //nolint:errcheck // valid name
			b, _ := task.NewData("title", "home") //nolint:errcheck // valid name
			c, _ := task.NewData("broken", nil)   //nolint:errcheck // valid name
			return Items(a, b, c), nil
		},
	}

	st := stats.New()
	r, err := New(tasks, data, nil,
		WithStats(st),
		WithLogger(quietLogger()),
		WithCollector(func(name string, item any) { collected[name] = append(collected[name], item) }),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	n, err := r.Route(testCtx{}, okResult(mustTask(t, "page", "http://a/")), &recordingSink{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 forwarded items, got %d", n)
	}
	if len(handled) != 1 || handled[0] != 10 {
		t.Errorf("unexpected handled items %v", handled)
	}
	if len(collected["title"]) != 1 {
		t.Errorf("expected title to reach the collector, got %v", collected)
	}
	for _, key := range []string{"data-price", "data-title", "data-broken", "error-errorString"} {
		if st.Get(key) != 1 {
			t.Errorf("expected %s=1, got %d", key, st.Get(key))
		}
	}
}

func TestRouter_RouteFailure(t *testing.T) {
	t.Parallel()

	var fallbackSaw *fetch.Result
	tasks := map[string]TaskHandler[testCtx]{
		"page": func(testCtx, *fetch.Result) (iter.Seq[task.Item], error) { return nil, nil },
		"dead": func(_ testCtx, res *fetch.Result) (iter.Seq[task.Item], error) {
			fallbackSaw = res
			return nil, nil
		},
	}
	st := stats.New()
	r, err := New(tasks, nil, nil, WithStats(st))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	plain := &fetch.Result{Task: mustTask(t, "page", "http://a/")}
	if ran, err := r.RouteFailure(testCtx{}, plain, &recordingSink{}); ran || err != nil {
		t.Errorf("tasks without fallback must not be routed, got %v %v", ran, err)
	}

	withFallback := &fetch.Result{Task: mustTask(t, "page", "http://a/", task.WithFallback("dead"))}
	if ran, err := r.RouteFailure(testCtx{}, withFallback, &recordingSink{}); !ran || err != nil {
		t.Fatalf("expected the fallback to run, got %v %v", ran, err)
	}
	if fallbackSaw != withFallback {
		t.Error("fallback did not receive the failed result")
	}
	if st.Get("fallback-dead") != 1 {
		t.Errorf("expected fallback-dead=1, got %d", st.Get("fallback-dead"))
	}
}

func TestErrorKind(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "errors.New", err: errors.New("x"), want: "errorString"},
		{name: "custom pointer", err: &parseError{}, want: "parseError"},
		{name: "wrapped", err: errors.Join(errors.New("x")), want: "joinError"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := ErrorKind(tt.err); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestItems_StopsEarly(t *testing.T) {
	t.Parallel()

	a, _ := task.NewData("a", 1) //nolint:errcheck // valid name
	b, _ := task.NewData("b", 2) //nolint:errcheck // valid name

	count := 0
	for range Items(a, b) {
		count++
		break
	}
	if count != 1 {
		t.Errorf("expected early stop, got %d", count)
	}
}
