package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nao1215/crawlkit/internal/cache"
	"github.com/nao1215/crawlkit/internal/config"
	"github.com/nao1215/crawlkit/internal/crawler"
	"github.com/nao1215/crawlkit/internal/database"
	"github.com/nao1215/crawlkit/internal/engine"
	crawllog "github.com/nao1215/crawlkit/internal/log"
	"github.com/nao1215/crawlkit/internal/model"
	"github.com/nao1215/crawlkit/internal/proxy"
	"github.com/nao1215/crawlkit/internal/report"
	"github.com/nao1215/crawlkit/internal/retry"
	"github.com/nao1215/crawlkit/internal/server"
	"github.com/nao1215/crawlkit/internal/stats"
	"github.com/nao1215/crawlkit/internal/task"
	"github.com/nao1215/crawlkit/internal/transport"
)

// NewCrawlCmd creates the crawl command.
func NewCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl [url...]",
		Short: "Crawl web sites starting from the given URLs",
		Long: `Crawl fetches the given URLs and follows same-host links up to the
configured depth, through a pool of at most --concurrency connections.

Failed transfers are retried up to network_try_limit times. Responses are
cached (sqlite by default) so repeated runs do not refetch pages. Pages and
the run summary are stored in the XDG data directory unless --no-save is set.

Examples:
  # Crawl one site
  crawlkit crawl https://example.com

  # Crawl the URLs of a file, stopping after 500 seeds
  crawlkit crawl --seeds urls.txt --limit 500

  # Route traffic through a proxy list and expose metrics
  crawlkit crawl --proxy-list proxies.txt --listen 127.0.0.1:9090 https://example.com

  # Crawl through an embedded Tor daemon and write a Markdown report
  crawlkit crawl --tor --markdown -o report.md http://example.onion

Settings are read from .crawlkit.yaml (see "crawlkit init"), then CRAWLKIT_*
environment variables, then flags.`,
		Args: cobra.ArbitraryArgs,
		RunE: runCrawlCmd,
	}

	// Seeds
	cmd.Flags().StringP("seeds", "s", "", "File with one start URL per line")
	cmd.Flags().String("name", config.DefaultTaskName, "Task name seeds are submitted as")
	cmd.Flags().Int("limit", 0, "Stop reading the seed file after this many tasks (0 = unlimited)")

	// Crawl behavior
	cmd.Flags().IntP("concurrency", "n", config.DefaultConcurrency, "Maximum simultaneous transfers")
	cmd.Flags().IntP("depth", "d", config.DefaultCrawlDepth, "Maximum crawl recursion depth")
	cmd.Flags().IntP("max-pages", "p", config.DefaultMaxPages, "Maximum number of pages to crawl (0 = unlimited)")
	cmd.Flags().DurationP("timeout", "t", config.DefaultTimeout, "Timeout for each transfer")
	cmd.Flags().String("transport", config.DefaultTransport, "Transfer strategy: multi or threaded")
	cmd.Flags().String("priority-mode", config.DefaultPriorityMode, "Priority of tasks without one: const or random")

	// Cache
	cmd.Flags().String("cache", config.DefaultCache, "Cache backend: sqlite, badger, memory, postgres or none")
	cmd.Flags().String("cache-dsn", "", "PostgreSQL connection string for --cache postgres")

	// Proxies
	cmd.Flags().String("proxy-list", "", "File with one proxy per line ([type://][user:pass@]host:port)")
	cmd.Flags().Bool("tor", false, "Route traffic through an embedded Tor daemon")
	cmd.Flags().DurationP("tor-timeout", "T", config.DefaultTorStartupTimeout, "Timeout for embedded Tor startup")

	// Storage and status
	cmd.Flags().String("db-dir", "", "Directory of the page store (default: XDG data directory)")
	cmd.Flags().Bool("no-save", false, "Do not store pages and the run in the database")
	cmd.Flags().StringP("listen", "l", "", "Serve /metrics, /stats and /healthz on this address")

	// Configuration file
	cmd.Flags().StringP("config", "c", "",
		"Configuration file path (default: .crawlkit.yaml in current directory or XDG config directory)")

	// Report
	cmd.Flags().BoolP("json", "j", false, "Output JSON report (mutually exclusive with --markdown)")
	cmd.Flags().BoolP("markdown", "m", false, "Output Markdown report (mutually exclusive with --json)")
	cmd.Flags().StringP("output", "o", "", "Write report to specified file path (creates directories if needed)")

	return cmd
}

func runCrawlCmd(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(cmd, args)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	logger := crawllog.NewSecureLogger(cmd.ErrOrStderr(), cfg.Verbose)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			logger.Warn("received shutdown signal, finishing in-flight transfers...")
			cancel()
		case <-ctx.Done():
		}
	}()

	return runCrawl(ctx, cfg, logger, cmd.OutOrStdout())
}

// getVerboseFlag retrieves the verbose flag from the command or its parent.
func getVerboseFlag(cmd *cobra.Command) bool {
	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		verbose, err = cmd.Root().PersistentFlags().GetBool("verbose")
		if err != nil {
			return false
		}
	}
	return verbose
}

// buildConfig loads the configuration file and applies the flags that were
// set explicitly on top of it.
func buildConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	changed := flags.Changed

	stringFlags := map[string]*string{
		"seeds":         &cfg.SeedFile,
		"name":          &cfg.TaskName,
		"transport":     &cfg.Transport,
		"priority-mode": &cfg.PriorityMode,
		"cache":         &cfg.Cache,
		"cache-dsn":     &cfg.CacheDSN,
		"proxy-list":    &cfg.ProxyList,
		"db-dir":        &cfg.DBDir,
		"listen":        &cfg.Listen,
		"output":        &cfg.ReportFile,
	}
	for name, dst := range stringFlags {
		if !changed(name) {
			continue
		}
		if *dst, err = flags.GetString(name); err != nil {
			return nil, err
		}
	}

	intFlags := map[string]*int{
		"limit":       &cfg.SeedLimit,
		"concurrency": &cfg.Concurrency,
		"depth":       &cfg.CrawlDepth,
		"max-pages":   &cfg.MaxPages,
	}
	for name, dst := range intFlags {
		if !changed(name) {
			continue
		}
		if *dst, err = flags.GetInt(name); err != nil {
			return nil, err
		}
	}

	durationFlags := map[string]*time.Duration{
		"timeout":     &cfg.Timeout,
		"tor-timeout": &cfg.TorStartupTimeout,
	}
	for name, dst := range durationFlags {
		if !changed(name) {
			continue
		}
		if *dst, err = flags.GetDuration(name); err != nil {
			return nil, err
		}
	}

	boolFlags := map[string]*bool{
		"tor":      &cfg.Tor,
		"json":     &cfg.JSONReport,
		"markdown": &cfg.MarkdownReport,
	}
	for name, dst := range boolFlags {
		if !changed(name) {
			continue
		}
		if *dst, err = flags.GetBool(name); err != nil {
			return nil, err
		}
	}

	if changed("no-save") {
		noSave, err := flags.GetBool("no-save")
		if err != nil {
			return nil, err
		}
		cfg.SaveToDB = !noSave
	}
	if getVerboseFlag(cmd) {
		cfg.Verbose = true
	}

	cfg.Seeds = args
	return cfg, nil
}

// engineOptions maps the configuration to engine settings.
func engineOptions(cfg *config.Config) engine.Options {
	return engine.Options{
		Concurrency: cfg.Concurrency,
		Policy: retry.Policy{
			NetworkTryLimit: cfg.NetworkTryLimit,
			TaskTryLimit:    cfg.TaskTryLimit,
			RedirectLimit:   cfg.RedirectLimit,
		},
		SlotMaxUses:   cfg.SlotMaxUses,
		QueuePoll:     cfg.QueuePoll,
		TransportPoll: cfg.TransportPoll,
		Transport:     cfg.Transport,
		Transfer: transport.Settings{
			Timeout:            cfg.Timeout,
			ConnectTimeout:     cfg.ConnectTimeout,
			MaxBodySize:        int64(cfg.MaxBodySize),
			UserAgent:          cfg.UserAgent,
			RedirectLimit:      cfg.RedirectLimit,
			InsecureSkipVerify: cfg.InsecureSkipVerify,
		},
		PriorityMode: cfg.PriorityMode,
		Declared:     []string{cfg.TaskName},
	}
}

// siteResolver returns the per-host headers and cookie from the configuration.
func siteResolver(cfg *config.Config) engine.SiteResolver {
	return func(host string) (engine.Site, bool) {
		sc, ok := cfg.GetSiteConfig(host)
		if !ok || (sc.Cookie == "" && len(sc.Headers) == 0) {
			return engine.Site{}, false
		}
		return engine.Site{Header: sc.HTTPHeader(), Cookie: sc.Cookie}, true
	}
}

// siteRules returns the per-host crawl limits from the configuration.
func siteRules(cfg *config.Config) crawler.RulesFunc {
	return func(host string) (crawler.Rules, bool) {
		sc, ok := cfg.GetSiteConfig(host)
		if !ok {
			return crawler.Rules{}, false
		}
		return crawler.Rules{
			Depth:          sc.Depth,
			IgnorePatterns: sc.IgnorePatterns,
			FollowPatterns: sc.FollowPatterns,
		}, true
	}
}

// openProxySource starts the configured proxy source. The returned stop
// function is never nil.
func openProxySource(ctx context.Context, cfg *config.Config, logger *slog.Logger) (proxy.Source, func(), error) {
	switch {
	case cfg.Tor:
		fmt.Fprintln(os.Stderr, "Starting embedded Tor daemon...")
		fmt.Fprintf(os.Stderr, "This may take 1-3 minutes while Tor bootstraps and connects to the network.\n\n")

		src := proxy.NewTorSource(proxy.WithTorStartupTimeout(cfg.TorStartupTimeout))
		if err := src.Start(ctx); err != nil {
			return nil, func() {}, fmt.Errorf("failed to start embedded Tor: %w", err)
		}
		if p, ok := src.Next(ctx); ok {
			logger.Info("embedded Tor daemon started", "socks", p.Addr())
		}
		return src, func() {
			logger.Info("stopping embedded Tor daemon...")
			if err := src.Stop(); err != nil {
				logger.Error("failed to stop embedded Tor", "error", err)
			}
		}, nil

	case cfg.ProxyList != "":
		var opts []proxy.ListOption
		if cfg.ProxyRandom {
			opts = append(opts, proxy.WithRandomOrder())
		}
		src, err := proxy.LoadListSource(cfg.ProxyList, opts...)
		if err != nil {
			return nil, func() {}, err
		}
		logger.Info("proxy list loaded", "file", cfg.ProxyList, "proxies", src.Len())
		return src, func() {}, nil

	default:
		return nil, func() {}, nil
	}
}

// openCache opens the configured cache backend. A nil gateway means caching
// is disabled.
func openCache(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*cache.Gateway, error) {
	backend, err := cache.Open(ctx, cfg.Cache, cfg.ResolvedCacheDir(), cfg.CacheDSN, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s cache: %w", cfg.Cache, err)
	}
	if backend == nil {
		return nil, nil
	}
	return cache.NewGateway(backend, cache.WithTTL(cfg.CacheTTL), cache.WithLogger(logger)), nil
}

// runCrawl executes a crawl and writes the report.
func runCrawl(ctx context.Context, cfg *config.Config, logger *slog.Logger, out io.Writer) error {
	logger.Info("starting crawl",
		"seeds", len(cfg.Seeds),
		"seedFile", cfg.SeedFile,
		"concurrency", cfg.Concurrency,
		"transport", cfg.Transport,
		"cache", cfg.Cache,
	)

	var store *database.Store
	if cfg.SaveToDB {
		var err error
		store, err = database.Open(cfg.ResolvedDBDir(), database.DefaultOptions())
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer store.Close()
		logger.Info("database opened", "path", store.Path())
	}

	gateway, err := openCache(ctx, cfg, logger)
	if err != nil {
		return err
	}

	source, stopProxies, err := openProxySource(ctx, cfg, logger)
	if err != nil {
		if gateway != nil {
			_ = gateway.Close() //nolint:errcheck // best effort cleanup
		}
		return err
	}
	defer stopProxies()

	registry := prometheus.NewRegistry()
	st := stats.New(stats.WithRegisterer(registry))

	spiderOpts := []crawler.SpiderOption{
		crawler.WithTaskName(cfg.TaskName),
		crawler.WithMaxDepth(cfg.CrawlDepth),
		crawler.WithMaxPages(cfg.MaxPages),
		crawler.WithIgnorePatterns(cfg.Defaults.IgnorePatterns),
		crawler.WithFollowPatterns(cfg.Defaults.FollowPatterns),
		crawler.WithRules(siteRules(cfg)),
		crawler.WithLogger(logger),
	}
	if store != nil {
		spiderOpts = append(spiderOpts, crawler.WithStore(store))
	}
	spider := crawler.NewSpider(spiderOpts...)

	engineOpts := []engine.Option{
		engine.WithOptions(engineOptions(cfg)),
		engine.WithStats(st),
		engine.WithSiteResolver(siteResolver(cfg)),
		engine.WithLogger(logger),
	}
	if gateway != nil {
		engineOpts = append(engineOpts, engine.WithCache(gateway))
	}
	if source != nil {
		engineOpts = append(engineOpts, engine.WithProxySource(source))
	}
	eng, err := engine.New(spider.TaskHandlers(), spider.DataHandlers(), engineOpts...)
	if err != nil {
		if gateway != nil {
			_ = gateway.Close() //nolint:errcheck // best effort cleanup
		}
		return fmt.Errorf("failed to create engine: %w", err)
	}
	defer func() {
		if err := eng.Close(); err != nil {
			logger.Error("failed to close engine", "error", err)
		}
	}()

	seeds, err := addSeeds(eng, cfg, spider.TaskOptions(), logger)
	if err != nil {
		return err
	}

	run, err := beginRun(ctx, store, seeds)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "Crawling %d seed(s) with %d connection(s)...\n", eng.QueueLen(), cfg.Concurrency)
	runErr := runEngine(ctx, cfg, eng, registry, logger)

	status := model.RunCompleted
	switch {
	case runErr != nil:
		status = model.RunAborted
	case ctx.Err() != nil || eng.QueueLen() > 0:
		status = model.RunStopped
	}

	snapshot := st.Snapshot()
	pages, err := finishRun(store, eng, run, status, snapshot.Counters)
	if err != nil {
		logger.Error("failed to record run", "run", run.ID, "error", err)
	}
	fmt.Fprintf(os.Stderr, "Crawl %s in %s\n\n", status, run.Duration().Round(time.Millisecond))

	summary := report.NewSummary(run, snapshot, pages)
	if err := outputReport(cfg, summary, out); err != nil {
		return errors.Join(runErr, fmt.Errorf("failed to write report: %w", err))
	}
	return runErr
}

// addSeeds submits the command line URLs and the seed file. It returns the
// seeds recorded with the run.
func addSeeds(eng *engine.Engine, cfg *config.Config, opts []task.Option, logger *slog.Logger) ([]string, error) {
	seeds := make([]string, 0, len(cfg.Seeds)+1)
	for _, raw := range cfg.Seeds {
		u := crawler.SeedURL(raw)
		if _, err := eng.AddTask(cfg.TaskName, u, opts...); err != nil {
			return nil, fmt.Errorf("invalid seed %q: %w", raw, err)
		}
		seeds = append(seeds, u)
	}
	if cfg.SeedFile != "" {
		n, err := eng.LoadTasks(cfg.SeedFile, cfg.TaskName, cfg.SeedLimit, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to load seeds from %s: %w", cfg.SeedFile, err)
		}
		seeds = append(seeds, cfg.SeedFile)
		logger.Info("seed file loaded", "file", cfg.SeedFile, "tasks", n)
	}
	return seeds, nil
}

// beginRun starts a run in the store, or an unrecorded one without a store.
func beginRun(ctx context.Context, store *database.Store, seeds []string) (*model.Run, error) {
	if store == nil {
		return &model.Run{ID: uuid.NewString(), StartedAt: time.Now().UTC(), Seeds: seeds}, nil
	}
	run, err := store.BeginRun(ctx, seeds)
	if err != nil {
		return nil, fmt.Errorf("failed to record run: %w", err)
	}
	return run, nil
}

// runEngine runs the engine and, when configured, the status server until
// the engine returns.
func runEngine(ctx context.Context, cfg *config.Config, eng *engine.Engine, registry *prometheus.Registry, logger *slog.Logger) error {
	g, gctx := errgroup.WithContext(ctx)
	serverCtx, stopServer := context.WithCancel(gctx)
	defer stopServer()

	g.Go(func() error {
		defer stopServer()
		return eng.Run(gctx)
	})
	if cfg.Listen != "" {
		srv := server.New(cfg.Listen, eng, server.WithGatherer(registry), server.WithLogger(logger))
		g.Go(func() error {
			return srv.Start(serverCtx)
		})
	}
	return g.Wait()
}

// finishRun records the end of the run and returns its pages.
func finishRun(store *database.Store, eng *engine.Engine, run *model.Run, status string, counters map[string]int64) ([]*model.Page, error) {
	// The crawl context may be cancelled already.
	ctx := context.Background()

	if store == nil {
		run.FinishedAt = time.Now().UTC()
		run.Status = status
		run.Counters = counters
		items := eng.Collected(crawler.DataPage)
		pages := make([]*model.Page, 0, len(items))
		for _, item := range items {
			if p, ok := item.(*model.Page); ok {
				pages = append(pages, p)
				run.Pages++
				if p.Failed() {
					run.Failed++
				}
			}
		}
		return pages, nil
	}

	if err := store.FinishRun(ctx, run, status, counters); err != nil {
		return nil, err
	}
	return store.ListPages(ctx, run.ID)
}

// outputReport writes the summary in the requested format to the report file
// or out.
func outputReport(cfg *config.Config, summary *report.Summary, out io.Writer) error {
	if cfg.ReportFile != "" {
		dir := filepath.Dir(cfg.ReportFile)
		if dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0750); err != nil {
				return fmt.Errorf("failed to create output directory: %w", err)
			}
		}

		// Reports can contain URLs with session parameters.
		f, err := os.OpenFile(cfg.ReportFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		out = f
	}

	_, err := report.New(out, cfg.JSONReport, cfg.MarkdownReport, getVersion()).Write(summary)
	return err
}
