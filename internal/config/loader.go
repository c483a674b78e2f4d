package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// DefaultConfigFile is the configuration file name searched in the current
// directory.
const DefaultConfigFile = ".crawlkit.yaml"

// EnvPrefix is the prefix of environment variables overriding the file,
// e.g. CRAWLKIT_CONCURRENCY=20.
const EnvPrefix = "CRAWLKIT"

// keyDelimiter replaces viper's "." so host names work as map keys.
const keyDelimiter = "::"

// ErrConfigNotFound is returned when an explicitly given configuration file
// does not exist.
var ErrConfigNotFound = errors.New("configuration file not found")

// Load reads the configuration.
//
// Precedence (highest to lowest):
//  1. Environment variables (CRAWLKIT_*)
//  2. Configuration file
//  3. Default values
//
// An empty path searches FindConfigFile's locations; finding nothing is not
// an error. Seeds are not checked here; call Validate before crawling.
func Load(path string) (*Config, error) {
	found := FindConfigFile(path)
	if path != "" && found == "" {
		return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
	}

	v := viper.NewWithOptions(viper.KeyDelimiter(keyDelimiter))
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(keyDelimiter, "_"))
	v.AutomaticEnv()
	setDefaults(v, NewConfig())

	if found != "" {
		v.SetConfigFile(found)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := NewConfig()
	if err := v.Unmarshal(cfg, viper.DecodeHook(decodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.Sites == nil {
		cfg.Sites = make(map[string]SiteConfig)
	}
	normalizeSites(cfg)
	cfg.ConfigFilePath = found

	if err := cfg.ValidateSettings(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// FindConfigFile searches for the configuration file in the following order:
//  1. If configPath is specified, use it directly
//  2. .crawlkit.yaml in the current directory
//  3. config.yaml in the XDG config directory
//
// Returns the path to the configuration file if found, or empty string if not found.
func FindConfigFile(configPath string) string {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}
		return ""
	}

	if cwd, err := os.Getwd(); err == nil {
		cwdConfig := filepath.Join(cwd, DefaultConfigFile)
		if _, err := os.Stat(cwdConfig); err == nil {
			return cwdConfig
		}
	}

	xdgConfig := filepath.Join(XDGConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig
	}
	return ""
}

// setDefaults registers every scalar key so AutomaticEnv can override it
// even when no file mentions the key.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("concurrency", d.Concurrency)
	v.SetDefault("network_try_limit", d.NetworkTryLimit)
	v.SetDefault("task_try_limit", d.TaskTryLimit)
	v.SetDefault("redirect_limit", d.RedirectLimit)
	v.SetDefault("slot_max_uses", d.SlotMaxUses)
	v.SetDefault("queue_poll", d.QueuePoll)
	v.SetDefault("transport_poll", d.TransportPoll)
	v.SetDefault("timeout", d.Timeout)
	v.SetDefault("connect_timeout", d.ConnectTimeout)
	v.SetDefault("max_body_size", int64(d.MaxBodySize))
	v.SetDefault("user_agent", d.UserAgent)
	v.SetDefault("insecure_skip_verify", d.InsecureSkipVerify)
	v.SetDefault("transport", d.Transport)
	v.SetDefault("priority_mode", d.PriorityMode)
	v.SetDefault("cache", d.Cache)
	v.SetDefault("cache_dsn", d.CacheDSN)
	v.SetDefault("cache_dir", d.CacheDir)
	v.SetDefault("cache_ttl", d.CacheTTL)
	v.SetDefault("task_name", d.TaskName)
	v.SetDefault("depth", d.CrawlDepth)
	v.SetDefault("max_pages", d.MaxPages)
	v.SetDefault("seed_limit", d.SeedLimit)
	v.SetDefault("proxy_list", d.ProxyList)
	v.SetDefault("proxy_random", d.ProxyRandom)
	v.SetDefault("tor", d.Tor)
	v.SetDefault("tor_startup_timeout", d.TorStartupTimeout)
	v.SetDefault("listen", d.Listen)
	v.SetDefault("db_dir", d.DBDir)
	v.SetDefault("save_to_db", d.SaveToDB)
	v.SetDefault("verbose", d.Verbose)
	v.SetDefault("json", d.JSONReport)
	v.SetDefault("markdown", d.MarkdownReport)
	v.SetDefault("report_file", d.ReportFile)
}

func decodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		byteSizeDecodeHook(),
	)
}

// normalizeSites lowercases host keys so lookups by URL host match.
func normalizeSites(cfg *Config) {
	sites := make(map[string]SiteConfig, len(cfg.Sites))
	for host, site := range cfg.Sites {
		sites[strings.ToLower(host)] = site
	}
	cfg.Sites = sites
}
