package stats

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestStats_Counters(t *testing.T) {
	t.Parallel()

	s := New()
	s.Inc("task")
	s.Inc("task")
	s.Add("task-page", 5)

	if s.Get("task") != 2 {
		t.Errorf("expected task=2, got %d", s.Get("task"))
	}
	if s.Get("task-page") != 5 {
		t.Errorf("expected task-page=5, got %d", s.Get("task-page"))
	}
	if s.Get("missing") != 0 {
		t.Error("missing counter must read as zero")
	}
}

func TestStats_Collections(t *testing.T) {
	t.Parallel()

	s := New(WithCollectionLimit(2))
	s.Collect(CollectionRejected, "a")
	s.Collect(CollectionRejected, "b")
	s.Collect(CollectionRejected, "c")

	got := s.Collection(CollectionRejected)
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("unexpected collection: %v", got)
	}
	if s.Get(CollectionRejected+"-overflow") != 1 {
		t.Error("expected overflow counter")
	}

	got[0] = "mutated"
	if s.Collection(CollectionRejected)[0] != "a" {
		t.Error("collection must be returned as a copy")
	}
}

func TestStats_Snapshot(t *testing.T) {
	t.Parallel()

	s := New()
	s.Inc("b")
	s.Inc("a")
	s.Observe("fetch", 10*time.Millisecond)
	s.Observe("fetch", 5*time.Millisecond)
	s.Collect(CollectionFatal, "boom")

	sn := s.Snapshot()
	s.Inc("a")

	if sn.Counters["a"] != 1 {
		t.Error("snapshot must not change after later writes")
	}
	if sn.Timers["fetch"] != 15*time.Millisecond {
		t.Errorf("expected 15ms, got %v", sn.Timers["fetch"])
	}
	if keys := sn.SortedKeys(); strings.Join(keys, ",") != "a,b" {
		t.Errorf("unexpected key order %v", keys)
	}
	if len(sn.Collections[CollectionFatal]) != 1 {
		t.Error("expected fatal collection in snapshot")
	}
}

func TestStats_PrometheusMirror(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	s := New(WithRegisterer(reg))
	s.Inc("task")
	s.Add("task", 2)
	s.Observe("fetch", time.Second)
	s.SetGauge("queue", 7)

	if got := testutil.ToFloat64(s.metrics.events.WithLabelValues("task")); got != 3 {
		t.Errorf("expected mirrored counter 3, got %v", got)
	}
	if got := testutil.ToFloat64(s.metrics.gauges.WithLabelValues("queue")); got != 7 {
		t.Errorf("expected gauge 7, got %v", got)
	}
	if n := testutil.CollectAndCount(s.metrics.durations); n != 1 {
		t.Errorf("expected 1 histogram series, got %d", n)
	}
}

func TestStats_OverflowMirrored(t *testing.T) {
	t.Parallel()

	s := New(WithRegisterer(prometheus.NewRegistry()), WithCollectionLimit(1))
	s.Collect(CollectionFatal, "a")
	s.Collect(CollectionFatal, "b")
	s.Collect(CollectionFatal, "c")

	key := CollectionFatal + "-overflow"
	if s.Get(key) != 2 {
		t.Errorf("expected %s=2, got %d", key, s.Get(key))
	}
	if got := testutil.ToFloat64(s.metrics.events.WithLabelValues(key)); got != 2 {
		t.Errorf("expected mirrored overflow counter 2, got %v", got)
	}
}
