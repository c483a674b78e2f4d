package config

import (
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
)

// Default configuration values.
const (
	// AppName is the application name used for XDG directory paths.
	AppName = "crawlkit"

	// DefaultConcurrency is the number of connection slots and therefore the
	// upper bound on transfers in flight.
	DefaultConcurrency = 10

	// DefaultNetworkTryLimit is how many times a transient network failure
	// is retried before the task is dropped.
	DefaultNetworkTryLimit = 5

	// DefaultTaskTryLimit bounds handler-driven re-submissions.
	DefaultTaskTryLimit = 5

	// DefaultRedirectLimit bounds redirects followed in one attempt.
	DefaultRedirectLimit = 10

	// DefaultSlotMaxUses is how many transfers a slot performs before its
	// client is recycled.
	DefaultSlotMaxUses = 100

	// DefaultQueuePoll is the bounded wait on an empty task queue.
	DefaultQueuePoll = 100 * time.Millisecond

	// DefaultTransportPoll is the bounded wait for transfer completions.
	DefaultTransportPoll = 500 * time.Millisecond

	// DefaultTimeout bounds one whole attempt, redirects and body included.
	DefaultTimeout = 30 * time.Second

	// DefaultConnectTimeout bounds TCP connect and TLS handshake.
	DefaultConnectTimeout = 10 * time.Second

	// DefaultMaxBodySize limits the response body bytes read per attempt.
	// 5MB is enough for HTML pages and keeps memory bounded.
	DefaultMaxBodySize ByteSize = 5 * 1024 * 1024

	// DefaultTransport is the transfer strategy.
	DefaultTransport = "multi"

	// DefaultPriorityMode assigns DefaultPriority to tasks without one.
	DefaultPriorityMode = "const"

	// DefaultCache is the cache backend used by the CLI.
	DefaultCache = "sqlite"

	// DefaultUserAgent identifies crawlkit in HTTP requests.
	DefaultUserAgent = "crawlkit/1.0"

	// DefaultCrawlDepth is how many links away from a seed the crawler goes.
	DefaultCrawlDepth = 5

	// DefaultMaxPages stops the crawl after this many pages.
	DefaultMaxPages = 100

	// DefaultTorStartupTimeout is the maximum time to wait for the embedded
	// Tor daemon to bootstrap.
	DefaultTorStartupTimeout = 3 * time.Minute

	// DefaultTaskName is the handler seeds are submitted to.
	DefaultTaskName = "page"
)

// Config holds all configuration options for crawlkit.
// It is populated from the config file, CRAWLKIT_* environment variables and
// CLI flags, in increasing order of precedence, and passed down explicitly.
type Config struct {
	// Concurrency is the connection pool capacity.
	Concurrency int `mapstructure:"concurrency" validate:"gt=0" yaml:"concurrency"`

	// NetworkTryLimit is the number of retries for transient network errors.
	// Zero drops a task on its first failure.
	NetworkTryLimit int `mapstructure:"network_try_limit" validate:"gte=0" yaml:"network_try_limit"`

	// TaskTryLimit bounds handler re-submissions of one task.
	TaskTryLimit int `mapstructure:"task_try_limit" validate:"gte=0" yaml:"task_try_limit"`

	// RedirectLimit bounds redirects followed in one attempt.
	RedirectLimit int `mapstructure:"redirect_limit" validate:"gte=0" yaml:"redirect_limit"`

	// SlotMaxUses recycles a slot's client after this many transfers.
	// Zero never recycles.
	SlotMaxUses int `mapstructure:"slot_max_uses" validate:"gte=0" yaml:"slot_max_uses"`

	// QueuePoll is the bounded wait on an empty queue.
	QueuePoll time.Duration `mapstructure:"queue_poll" validate:"gt=0" yaml:"queue_poll"`

	// TransportPoll is the bounded wait for completions.
	TransportPoll time.Duration `mapstructure:"transport_poll" validate:"gt=0" yaml:"transport_poll"`

	// Timeout bounds one attempt.
	Timeout time.Duration `mapstructure:"timeout" validate:"gt=0" yaml:"timeout"`

	// ConnectTimeout bounds connect and TLS handshake.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" validate:"gt=0" yaml:"connect_timeout"`

	// MaxBodySize caps the body bytes read. Accepts "5MB", "512KiB" or bytes.
	MaxBodySize ByteSize `mapstructure:"max_body_size" validate:"gte=0" yaml:"max_body_size"`

	// UserAgent is sent when a request does not set its own.
	UserAgent string `mapstructure:"user_agent" yaml:"user_agent"`

	// InsecureSkipVerify disables TLS certificate checks.
	InsecureSkipVerify bool `mapstructure:"insecure_skip_verify" yaml:"insecure_skip_verify"`

	// Transport selects the transfer strategy.
	Transport string `mapstructure:"transport" validate:"oneof=multi threaded" yaml:"transport"`

	// PriorityMode is "const" or "random" (50-100) for tasks without a priority.
	PriorityMode string `mapstructure:"priority_mode" validate:"oneof=const random" yaml:"priority_mode"`

	// Cache is the cache backend.
	Cache string `mapstructure:"cache" validate:"oneof=sqlite badger memory postgres none" yaml:"cache"`

	// CacheDSN is the PostgreSQL connection string for the postgres cache.
	CacheDSN string `mapstructure:"cache_dsn" yaml:"cache_dsn,omitempty"`

	// CacheDir holds the file-based cache backends.
	// Defaults to the XDG cache directory.
	CacheDir string `mapstructure:"cache_dir" yaml:"cache_dir,omitempty"`

	// CacheTTL expires cached responses. Zero keeps them forever.
	CacheTTL time.Duration `mapstructure:"cache_ttl" validate:"gte=0" yaml:"cache_ttl,omitempty"`

	// TaskName is the handler seeds are submitted to.
	TaskName string `mapstructure:"task_name" validate:"required" yaml:"task_name"`

	// CrawlDepth is the maximum link depth from a seed.
	// Depth 0 means only fetch the seeds.
	CrawlDepth int `mapstructure:"depth" validate:"gte=0" yaml:"depth"`

	// MaxPages stops the crawl after this many pages. Zero is unlimited.
	MaxPages int `mapstructure:"max_pages" validate:"gte=0" yaml:"max_pages"`

	// SeedLimit stops reading the seed file after this many accepted tasks.
	// Zero is unlimited.
	SeedLimit int `mapstructure:"seed_limit" validate:"gte=0" yaml:"seed_limit,omitempty"`

	// ProxyList is a file with one proxy per line.
	ProxyList string `mapstructure:"proxy_list" yaml:"proxy_list,omitempty"`

	// ProxyRandom picks proxies at random instead of round-robin.
	ProxyRandom bool `mapstructure:"proxy_random" yaml:"proxy_random,omitempty"`

	// Tor routes all transfers through an embedded Tor daemon.
	Tor bool `mapstructure:"tor" yaml:"tor,omitempty"`

	// TorStartupTimeout bounds the Tor bootstrap.
	TorStartupTimeout time.Duration `mapstructure:"tor_startup_timeout" validate:"gte=0" yaml:"tor_startup_timeout,omitempty"`

	// Listen is the status server address. Empty disables the server.
	Listen string `mapstructure:"listen" validate:"omitempty,hostname_port" yaml:"listen,omitempty"`

	// DBDir is the directory of the page store and run history.
	// Defaults to the XDG data directory.
	DBDir string `mapstructure:"db_dir" yaml:"db_dir,omitempty"`

	// SaveToDB stores pages and the run in the database.
	SaveToDB bool `mapstructure:"save_to_db" yaml:"save_to_db"`

	// Verbose enables debug logging.
	Verbose bool `mapstructure:"verbose" yaml:"verbose,omitempty"`

	// JSONReport writes the final report as JSON.
	// Mutually exclusive with MarkdownReport.
	JSONReport bool `mapstructure:"json" yaml:"json,omitempty"`

	// MarkdownReport writes the final report as Markdown.
	MarkdownReport bool `mapstructure:"markdown" yaml:"markdown,omitempty"`

	// ReportFile is the report destination. Empty means stdout.
	ReportFile string `mapstructure:"report_file" yaml:"report_file,omitempty"`

	// Defaults apply to every site unless overridden in Sites.
	Defaults SiteConfig `mapstructure:"defaults" yaml:"defaults,omitempty"`

	// Sites maps host names to site-specific settings.
	Sites map[string]SiteConfig `mapstructure:"sites" validate:"dive" yaml:"sites,omitempty"`

	// Seeds are the start URLs given on the command line.
	Seeds []string `mapstructure:"-" yaml:"-"`

	// SeedFile is a file with one start URL per line.
	SeedFile string `mapstructure:"-" yaml:"-"`

	// ConfigFilePath is the file the configuration was loaded from.
	ConfigFilePath string `mapstructure:"-" yaml:"-"`
}

// NewConfig creates a new Config with default values.
func NewConfig() *Config {
	return &Config{
		Concurrency:       DefaultConcurrency,
		NetworkTryLimit:   DefaultNetworkTryLimit,
		TaskTryLimit:      DefaultTaskTryLimit,
		RedirectLimit:     DefaultRedirectLimit,
		SlotMaxUses:       DefaultSlotMaxUses,
		QueuePoll:         DefaultQueuePoll,
		TransportPoll:     DefaultTransportPoll,
		Timeout:           DefaultTimeout,
		ConnectTimeout:    DefaultConnectTimeout,
		MaxBodySize:       DefaultMaxBodySize,
		UserAgent:         DefaultUserAgent,
		Transport:         DefaultTransport,
		PriorityMode:      DefaultPriorityMode,
		Cache:             DefaultCache,
		TaskName:          DefaultTaskName,
		CrawlDepth:        DefaultCrawlDepth,
		MaxPages:          DefaultMaxPages,
		TorStartupTimeout: DefaultTorStartupTimeout,
		SaveToDB:          true,
		Sites:             make(map[string]SiteConfig),
	}
}

// XDGDataDir returns the XDG data directory for crawlkit.
// On Linux: ~/.local/share/crawlkit
func XDGDataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// XDGConfigDir returns the XDG config directory for crawlkit.
// On Linux: ~/.config/crawlkit
func XDGConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// XDGCacheDir returns the XDG cache directory for crawlkit.
// On Linux: ~/.cache/crawlkit
func XDGCacheDir() string {
	return filepath.Join(xdg.CacheHome, AppName)
}

// ResolvedCacheDir returns CacheDir or the XDG cache directory.
func (c *Config) ResolvedCacheDir() string {
	if c.CacheDir != "" {
		return c.CacheDir
	}
	return XDGCacheDir()
}

// ResolvedDBDir returns DBDir or the XDG data directory.
func (c *Config) ResolvedDBDir() string {
	if c.DBDir != "" {
		return c.DBDir
	}
	return XDGDataDir()
}
