package report

import (
	"cmp"
	"maps"
	"slices"
	"strconv"
	"time"

	"github.com/nao1215/crawlkit/internal/model"
	"github.com/nao1215/crawlkit/internal/stats"
)

// maxListed caps the entries of each collection shown in a report.
const maxListed = 20

// Summary is the data behind every report format: the run, the final
// stats snapshot and the stored pages, reduced to what a reader wants.
type Summary struct {
	Version    string           `json:"version,omitempty"`
	RunID      string           `json:"run_id,omitempty"`
	Status     string           `json:"status"`
	Seeds      []string         `json:"seeds"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	Duration   time.Duration    `json:"duration"`
	Pages      int              `json:"pages"`
	Failed     int              `json:"failed"`
	FromCache  int              `json:"from_cache"`
	Bytes      int64            `json:"bytes"`
	StatusCode map[string]int   `json:"status_codes,omitempty"`
	Hosts      []HostCount      `json:"hosts,omitempty"`
	Counters   map[string]int64 `json:"counters"`
	// Collections holds at most maxListed entries per collection;
	// CollectionSizes has the full sizes.
	Collections     map[string][]string      `json:"collections,omitempty"`
	CollectionSizes map[string]int           `json:"collection_sizes,omitempty"`
	Timers          map[string]time.Duration `json:"timers,omitempty"`
}

// HostCount is the number of pages crawled on one host.
type HostCount struct {
	Host  string `json:"host"`
	Pages int    `json:"pages"`
}

// NewSummary builds a Summary. run and snapshot may be nil.
func NewSummary(run *model.Run, snapshot *stats.Snapshot, pages []*model.Page) *Summary {
	s := &Summary{
		Counters:   map[string]int64{},
		StatusCode: map[string]int{},
	}

	if run != nil {
		s.RunID = run.ID
		s.Status = run.Status
		s.Seeds = run.Seeds
		s.StartedAt = run.StartedAt
		s.FinishedAt = run.FinishedAt
		s.Duration = run.Duration()
		if run.Counters != nil {
			s.Counters = maps.Clone(run.Counters)
		}
	}

	if snapshot != nil {
		s.Counters = maps.Clone(snapshot.Counters)
		s.Timers = maps.Clone(snapshot.Timers)
		s.Collections = make(map[string][]string, len(snapshot.Collections))
		s.CollectionSizes = make(map[string]int, len(snapshot.Collections))
		for name, values := range snapshot.Collections {
			s.CollectionSizes[name] = len(values)
			s.Collections[name] = slices.Clone(values[:min(len(values), maxListed)])
		}
		if s.Duration == 0 {
			s.Duration = snapshot.Elapsed
		}
		if s.StartedAt.IsZero() {
			s.StartedAt = snapshot.Started
		}
	}

	hosts := map[string]int{}
	for _, p := range pages {
		s.Pages++
		if p.Failed() {
			s.Failed++
			continue
		}
		if p.FromCache {
			s.FromCache++
		}
		s.Bytes += int64(p.Size)
		s.StatusCode[strconv.Itoa(p.StatusCode)]++
		hosts[p.Host]++
	}
	for host, n := range hosts {
		s.Hosts = append(s.Hosts, HostCount{Host: host, Pages: n})
	}
	slices.SortFunc(s.Hosts, func(a, b HostCount) int {
		if c := cmp.Compare(b.Pages, a.Pages); c != 0 {
			return c
		}
		return cmp.Compare(a.Host, b.Host)
	})

	return s
}

// CounterKeys returns the counter keys in lexical order.
func (s *Summary) CounterKeys() []string {
	return slices.Sorted(maps.Keys(s.Counters))
}

// CollectionNames returns the collection names in lexical order.
func (s *Summary) CollectionNames() []string {
	return slices.Sorted(maps.Keys(s.Collections))
}

// StatusCodes returns the status code keys in lexical order.
func (s *Summary) StatusCodes() []string {
	return slices.Sorted(maps.Keys(s.StatusCode))
}

// Succeeded returns the number of pages fetched without a network failure.
func (s *Summary) Succeeded() int {
	return s.Pages - s.Failed
}
