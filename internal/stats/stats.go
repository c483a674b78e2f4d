// Package stats records what happened during a crawl run.
//
// Stats holds string-keyed counters (task, task-<name>,
// network-error-<tag>, duplicate, error-<kind>, ...), named string
// collections (rejected, fatal, network-failed) and duration timers.
// External reporting reads a Snapshot; only the engine writes.
//
// When a Prometheus registerer is supplied, every counter increment and
// timer observation is mirrored into it.
package stats

import (
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Well-known collection names.
const (
	CollectionRejected      = "rejected"
	CollectionFatal         = "fatal"
	CollectionNetworkFailed = "network-failed"
)

// DefaultCollectionLimit caps the entries kept per collection.
const DefaultCollectionLimit = 10000

// Stats is the run's counter, collection and timer registry.
type Stats struct {
	mu          sync.RWMutex
	counters    map[string]int64
	collections map[string][]string
	timers      map[string]time.Duration
	started     time.Time
	limit       int
	metrics     *metrics
}

// Option configures Stats.
type Option func(*Stats)

// WithRegisterer mirrors counters and timers into a Prometheus registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(s *Stats) {
		if reg != nil {
			s.metrics = newMetrics(reg)
		}
	}
}

// WithCollectionLimit caps the number of entries kept per collection.
func WithCollectionLimit(n int) Option {
	return func(s *Stats) {
		s.limit = n
	}
}

// New creates an empty Stats.
func New(opts ...Option) *Stats {
	s := &Stats{
		counters:    make(map[string]int64),
		collections: make(map[string][]string),
		timers:      make(map[string]time.Duration),
		started:     time.Now(),
		limit:       DefaultCollectionLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Inc increments a counter by one.
func (s *Stats) Inc(key string) {
	s.Add(key, 1)
}

// Add increments a counter by n.
func (s *Stats) Add(key string, n int64) {
	s.mu.Lock()
	s.counters[key] += n
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.events.WithLabelValues(key).Add(float64(n))
	}
}

// Get returns a counter value.
func (s *Stats) Get(key string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counters[key]
}

// Collect appends a value to a named collection. Values past the
// collection limit are counted under "<name>-overflow" instead.
func (s *Stats) Collect(name, value string) {
	s.mu.Lock()
	if s.limit > 0 && len(s.collections[name]) >= s.limit {
		s.mu.Unlock()
		s.Inc(name + "-overflow")
		return
	}
	s.collections[name] = append(s.collections[name], value)
	s.mu.Unlock()
}

// Collection returns a copy of a named collection.
func (s *Stats) Collection(name string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.collections[name])
}

// Observe adds a duration to a named timer.
func (s *Stats) Observe(name string, d time.Duration) {
	s.mu.Lock()
	s.timers[name] += d
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.durations.WithLabelValues(name).Observe(d.Seconds())
	}
}

// Timer returns the accumulated duration of a timer.
func (s *Stats) Timer(name string) time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.timers[name]
}

// SetGauge records an instantaneous value. It only reaches Prometheus.
func (s *Stats) SetGauge(name string, v float64) {
	if s.metrics != nil {
		s.metrics.gauges.WithLabelValues(name).Set(v)
	}
}

// Snapshot is a read-only copy of Stats at one instant.
type Snapshot struct {
	Started     time.Time                `json:"started"`
	Elapsed     time.Duration            `json:"elapsed"`
	Counters    map[string]int64         `json:"counters"`
	Collections map[string][]string      `json:"collections"`
	Timers      map[string]time.Duration `json:"timers"`
}

// Snapshot returns a copy of all counters, collections and timers.
func (s *Stats) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cols := make(map[string][]string, len(s.collections))
	for k, v := range s.collections {
		cols[k] = slices.Clone(v)
	}
	return &Snapshot{
		Started:     s.started,
		Elapsed:     time.Since(s.started),
		Counters:    maps.Clone(s.counters),
		Collections: cols,
		Timers:      maps.Clone(s.timers),
	}
}

// SortedKeys returns the counter keys in lexical order.
func (sn *Snapshot) SortedKeys() []string {
	return slices.Sorted(maps.Keys(sn.Counters))
}

type metrics struct {
	events    *prometheus.CounterVec
	durations *prometheus.HistogramVec
	gauges    *prometheus.GaugeVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	return &metrics{
		events: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawlkit_events_total",
				Help: "Crawl events by stats key",
			},
			[]string{"key"},
		),
		durations: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "crawlkit_duration_seconds",
				Help: "Duration of fetches and handler runs in seconds",
				Buckets: []float64{
					0.01, // 10ms - cache hits, local servers
					0.05,
					0.1,
					0.5,
					1,
					5,
					10,
					30, // default per-attempt timeout
				},
			},
			[]string{"timer"},
		),
		gauges: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "crawlkit_state",
				Help: "Instantaneous engine state (queue size, slots in flight)",
			},
			[]string{"name"},
		),
	}
}
