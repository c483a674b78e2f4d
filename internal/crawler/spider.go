package crawler

import (
	"context"
	"iter"
	"log/slog"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/nao1215/crawlkit/internal/engine"
	"github.com/nao1215/crawlkit/internal/fetch"
	"github.com/nao1215/crawlkit/internal/model"
	"github.com/nao1215/crawlkit/internal/task"
)

// Default handler names registered by the spider.
const (
	// TaskPage fetches a page and follows its same-host links.
	TaskPage = "page"

	// TaskFailed receives pages whose network retries are exhausted.
	TaskFailed = TaskPage + FailedSuffix

	// FailedSuffix turns a page task name into its fallback name.
	FailedSuffix = "-failed"

	// DataPage carries a model.Page to the store.
	DataPage = "page"
)

// Default limits.
const (
	DefaultMaxDepth = 5
	DefaultMaxPages = 100
)

// PageStore persists crawled pages.
type PageStore interface {
	SavePage(ctx context.Context, page *model.Page) error
}

// Adder enqueues tasks. Both engine.Engine and engine.Context implement it.
type Adder interface {
	AddTask(name, rawURL string, opts ...task.Option) (bool, error)
}

// Rules override the crawl limits for one host.
type Rules struct {
	// Depth replaces the spider's max depth when positive.
	Depth int

	// IgnorePatterns replace the spider's ignore patterns when set.
	IgnorePatterns []string

	// FollowPatterns replace the spider's follow patterns when set.
	FollowPatterns []string
}

// RulesFunc returns the rules for a host.
type RulesFunc func(host string) (Rules, bool)

// Spider is a link-following handler set for the engine. Each fetched page
// is turned into a model.Page and handed to the store; same-host links
// within the depth limit become new tasks.
//
// Spider state is only touched from handlers, which the engine runs on its
// scheduling goroutine.
type Spider struct {
	taskName       string
	maxDepth       int
	maxPages       int
	ignorePatterns []string
	followPatterns []string
	rules          RulesFunc
	store          PageStore
	retryServer    bool
	logger         *slog.Logger

	pages  int
	failed int
	saved  int
}

// SpiderOption configures a Spider.
type SpiderOption func(*Spider)

// WithTaskName registers the page handler under name and its fallback
// under name+"-failed". Empty keeps TaskPage.
func WithTaskName(name string) SpiderOption {
	return func(s *Spider) {
		if name != "" {
			s.taskName = name
		}
	}
}

// WithMaxDepth sets the maximum crawl depth.
// 0 = only the seed pages, 1 = seeds plus linked pages, etc.
func WithMaxDepth(depth int) SpiderOption {
	return func(s *Spider) {
		s.maxDepth = depth
	}
}

// WithMaxPages sets the maximum number of pages to process. Zero means no
// limit. The engine is stopped once the limit is reached.
func WithMaxPages(maxPages int) SpiderOption {
	return func(s *Spider) {
		s.maxPages = maxPages
	}
}

// WithIgnorePatterns sets URL path patterns to skip (glob syntax, e.g.
// "/admin/*", "*.pdf").
func WithIgnorePatterns(patterns []string) SpiderOption {
	return func(s *Spider) {
		s.ignorePatterns = patterns
	}
}

// WithFollowPatterns restricts crawling to URL paths matching at least
// one pattern. Empty means all paths not ignored.
func WithFollowPatterns(patterns []string) SpiderOption {
	return func(s *Spider) {
		s.followPatterns = patterns
	}
}

// WithRules sets per-host overrides.
func WithRules(fn RulesFunc) SpiderOption {
	return func(s *Spider) {
		s.rules = fn
	}
}

// WithStore sets where pages are saved. Without a store pages go to the
// engine's default collector.
func WithStore(store PageStore) SpiderOption {
	return func(s *Spider) {
		s.store = store
	}
}

// WithRetryServerErrors re-submits pages answered with 5xx while the task
// try limit allows.
func WithRetryServerErrors(enabled bool) SpiderOption {
	return func(s *Spider) {
		s.retryServer = enabled
	}
}

// WithLogger sets the spider logger.
func WithLogger(logger *slog.Logger) SpiderOption {
	return func(s *Spider) {
		s.logger = logger
	}
}

// NewSpider creates a spider.
func NewSpider(opts ...SpiderOption) *Spider {
	s := &Spider{
		taskName:    TaskPage,
		maxDepth:    DefaultMaxDepth,
		maxPages:    DefaultMaxPages,
		retryServer: true,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TaskName returns the name page tasks are submitted as.
func (s *Spider) TaskName() string {
	return s.taskName
}

// TaskHandlers returns the task handlers to register with the engine.
func (s *Spider) TaskHandlers() map[string]engine.TaskHandler {
	return map[string]engine.TaskHandler{
		s.taskName:                s.HandlePage,
		s.taskName + FailedSuffix: s.HandleFailure,
	}
}

// DataHandlers returns the data handlers to register with the engine.
func (s *Spider) DataHandlers() map[string]engine.DataHandler {
	return map[string]engine.DataHandler{
		DataPage: s.SavePage,
	}
}

// TaskOptions returns the options every spider task carries.
func (s *Spider) TaskOptions() []task.Option {
	return []task.Option{task.WithFallback(s.taskName + FailedSuffix)}
}

// Seed adds a start URL. URLs without an HTTP scheme get http://.
func (s *Spider) Seed(a Adder, rawURL string) (bool, error) {
	return a.AddTask(s.taskName, SeedURL(rawURL), s.TaskOptions()...)
}

// SeedURL adds http:// to URLs without an HTTP(S) scheme.
func SeedURL(rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)
	lower := strings.ToLower(rawURL)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return rawURL
	}
	return "http://" + rawURL
}

// HandlePage turns a fetch result into a page and yields same-host links.
func (s *Spider) HandlePage(c *engine.Context, res *fetch.Result) (iter.Seq[task.Item], error) {
	if s.maxPages > 0 && s.pages >= s.maxPages {
		c.Stats().Inc("page-over-limit")
		return nil, nil
	}

	t := res.Task
	resp := res.Response
	if s.retryServer && !res.FromCache && resp.StatusCode >= 500 &&
		t.TaskTryCount < c.Config().Policy.TaskTryLimit {
		s.logger.Debug("server error, retrying", "url", t.URL, "status", resp.StatusCode, "try", t.TaskTryCount)
		_, err := c.Retry(t)
		return nil, err
	}

	page := &model.Page{
		URL:         t.URL,
		FinalURL:    resp.URL,
		Host:        hostOf(t.URL),
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Depth:       t.Depth,
		Size:        len(resp.Body),
		FromCache:   res.FromCache,
		Truncated:   resp.Truncated,
		Headers:     resp.Header,
		FetchedAt:   time.Now(),
		Raw:         resp.Body,
	}
	page.TruncateRaw()
	page.ComputeHash()

	var links []string
	if resp.IsHTML() {
		base := resp.URL
		if base == "" {
			base = t.URL
		}
		parser, err := NewParser(base)
		if err != nil {
			return nil, err
		}
		parsed, err := parser.Parse(strings.NewReader(resp.Text()))
		if err != nil {
			return nil, err
		}
		page.Title = parsed.Title
		page.Links = len(parsed.InternalLinks)
		if !parsed.NoFollow {
			links = parsed.InternalLinks
		}
	}

	s.pages++
	if s.maxPages > 0 && s.pages >= s.maxPages {
		s.logger.Info("page limit reached", "pages", s.pages)
		c.Stop()
	}

	rules := s.rulesFor(page.Host)
	follow := t.Depth < rules.Depth
	item, err := task.NewData(DataPage, page)
	if err != nil {
		return nil, err
	}

	return func(yield func(task.Item) bool) {
		if !yield(item) {
			return
		}
		if !follow {
			return
		}
		for _, link := range links {
			if !shouldCrawl(link, rules) {
				continue
			}
			opts := append(s.TaskOptions(), task.WithDepth(t.Depth+1))
			child, err := task.New(s.taskName, link, opts...)
			if err != nil {
				continue
			}
			if !yield(child) {
				return
			}
		}
	}, nil
}

// HandleFailure records a page whose transfers all failed.
func (s *Spider) HandleFailure(_ *engine.Context, res *fetch.Result) (iter.Seq[task.Item], error) {
	t := res.Task
	page := &model.Page{
		URL:       t.URL,
		Host:      hostOf(t.URL),
		Depth:     t.Depth,
		Tag:       res.Tag.String(),
		FetchedAt: time.Now(),
	}
	if res.Err != nil {
		page.Error = res.Err.Error()
	}
	s.failed++

	item, err := task.NewData(DataPage, page)
	if err != nil {
		return nil, err
	}
	return func(yield func(task.Item) bool) {
		yield(item)
	}, nil
}

// SavePage stores a page yielded by the task handlers.
func (s *Spider) SavePage(c *engine.Context, item any) error {
	page, ok := item.(*model.Page)
	if !ok {
		return ErrUnexpectedItem
	}
	if s.store == nil {
		c.Collect(DataPage, page)
		s.saved++
		return nil
	}
	if err := s.store.SavePage(c.Context(), page); err != nil {
		return err
	}
	s.saved++
	return nil
}

// Stats returns current crawl statistics.
func (s *Spider) Stats() SpiderStats {
	return SpiderStats{
		PagesVisited: s.pages,
		PagesFailed:  s.failed,
		PagesSaved:   s.saved,
	}
}

// SpiderStats contains crawl statistics.
type SpiderStats struct {
	// PagesVisited is the number of pages processed.
	PagesVisited int

	// PagesFailed is the number of pages that could not be fetched.
	PagesFailed int

	// PagesSaved is the number of pages handed to the store.
	PagesSaved int
}

func (s *Spider) rulesFor(host string) Rules {
	r := Rules{
		Depth:          s.maxDepth,
		IgnorePatterns: s.ignorePatterns,
		FollowPatterns: s.followPatterns,
	}
	if s.rules == nil {
		return r
	}
	site, ok := s.rules(host)
	if !ok {
		return r
	}
	if site.Depth > 0 {
		r.Depth = site.Depth
	}
	if len(site.IgnorePatterns) > 0 {
		r.IgnorePatterns = site.IgnorePatterns
	}
	if len(site.FollowPatterns) > 0 {
		r.FollowPatterns = site.FollowPatterns
	}
	return r
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// shouldCrawl checks a URL against the ignore and follow patterns.
// Ignore patterns win; with follow patterns set, one of them must match.
func shouldCrawl(targetURL string, r Rules) bool {
	u, err := url.Parse(targetURL)
	if err != nil {
		return false
	}

	path := u.Path
	if path == "" {
		path = "/"
	}

	for _, pattern := range r.IgnorePatterns {
		if matchPattern(pattern, path) {
			return false
		}
	}

	if len(r.FollowPatterns) > 0 {
		for _, pattern := range r.FollowPatterns {
			if matchPattern(pattern, path) {
				return true
			}
		}
		return false
	}
	return true
}

// matchPattern checks if a path matches a glob pattern.
//
// Examples:
//   - "/admin/*" matches "/admin/dashboard", "/admin/users"
//   - "*.pdf" matches "/docs/file.pdf"
//   - "/api/v?" matches "/api/v1", "/api/v2"
func matchPattern(pattern, path string) bool {
	if strings.HasSuffix(pattern, "/*") {
		prefix := strings.TrimSuffix(pattern, "/*")
		if strings.HasPrefix(path, prefix+"/") || path == prefix {
			return true
		}
	}

	if strings.HasPrefix(pattern, "*.") {
		if strings.HasSuffix(path, strings.TrimPrefix(pattern, "*")) {
			return true
		}
	}

	matched, err := filepath.Match(pattern, path)
	if err != nil {
		return false
	}
	if matched {
		return true
	}

	// Patterns without a slash also match the last path segment.
	if strings.Contains(pattern, "*") && !strings.Contains(pattern, "/") {
		matched, err := filepath.Match(pattern, filepath.Base(path))
		if err == nil && matched {
			return true
		}
	}
	return false
}
