package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// TestNewConfig documents the defaults; a failure here means a default
// changed and the template and README need the same change.
func TestNewConfig(t *testing.T) {
	t.Parallel()

	cfg := NewConfig()

	tests := []struct {
		name string
		got  any
		want any
	}{
		{name: "concurrency", got: cfg.Concurrency, want: 10},
		{name: "network try limit", got: cfg.NetworkTryLimit, want: 5},
		{name: "task try limit", got: cfg.TaskTryLimit, want: 5},
		{name: "redirect limit", got: cfg.RedirectLimit, want: 10},
		{name: "slot max uses", got: cfg.SlotMaxUses, want: 100},
		{name: "queue poll", got: cfg.QueuePoll, want: 100 * time.Millisecond},
		{name: "transport poll", got: cfg.TransportPoll, want: 500 * time.Millisecond},
		{name: "timeout", got: cfg.Timeout, want: 30 * time.Second},
		{name: "connect timeout", got: cfg.ConnectTimeout, want: 10 * time.Second},
		{name: "max body size", got: cfg.MaxBodySize, want: ByteSize(5 * 1024 * 1024)},
		{name: "transport", got: cfg.Transport, want: "multi"},
		{name: "priority mode", got: cfg.PriorityMode, want: "const"},
		{name: "cache", got: cfg.Cache, want: "sqlite"},
		{name: "user agent", got: cfg.UserAgent, want: "crawlkit/1.0"},
		{name: "task name", got: cfg.TaskName, want: "page"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if tt.got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, tt.got)
			}
		})
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	// validConfig returns a minimal valid configuration.
	validConfig := func() *Config {
		cfg := NewConfig()
		cfg.Seeds = []string{"http://example.com/"}
		return cfg
	}

	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr error
	}{
		{name: "valid config", modify: func(*Config) {}},
		{name: "seed file instead of seeds", modify: func(c *Config) {
			c.Seeds = nil
			c.SeedFile = "seeds.txt"
		}},
		{name: "no target", modify: func(c *Config) { c.Seeds = nil }, wantErr: ErrNoTarget},
		{name: "zero concurrency", modify: func(c *Config) { c.Concurrency = 0 }, wantErr: ErrInvalidConcurrency},
		{name: "negative network try limit", modify: func(c *Config) { c.NetworkTryLimit = -1 }, wantErr: ErrInvalidTryLimit},
		{name: "zero network try limit is allowed", modify: func(c *Config) { c.NetworkTryLimit = 0 }},
		{name: "negative redirect limit", modify: func(c *Config) { c.RedirectLimit = -1 }, wantErr: ErrInvalidTryLimit},
		{name: "zero timeout", modify: func(c *Config) { c.Timeout = 0 }, wantErr: ErrInvalidTimeout},
		{name: "zero queue poll", modify: func(c *Config) { c.QueuePoll = 0 }, wantErr: ErrInvalidTimeout},
		{name: "negative max body size", modify: func(c *Config) { c.MaxBodySize = -1 }, wantErr: ErrInvalidMaxBodySize},
		{name: "unknown transport", modify: func(c *Config) { c.Transport = "curl" }, wantErr: ErrInvalidTransport},
		{name: "unknown priority mode", modify: func(c *Config) { c.PriorityMode = "fifo" }, wantErr: ErrInvalidPriorityMode},
		{name: "unknown cache", modify: func(c *Config) { c.Cache = "redis" }, wantErr: ErrInvalidCache},
		{name: "postgres without dsn", modify: func(c *Config) { c.Cache = "postgres" }, wantErr: ErrMissingCacheDSN},
		{name: "postgres with dsn", modify: func(c *Config) {
			c.Cache = "postgres"
			c.CacheDSN = "postgres://localhost/crawlkit"
		}},
		{name: "negative depth", modify: func(c *Config) { c.CrawlDepth = -1 }, wantErr: ErrInvalidCrawlLimit},
		{name: "negative site depth", modify: func(c *Config) {
			c.Sites["example.com"] = SiteConfig{Depth: -1}
		}, wantErr: ErrInvalidCrawlLimit},
		{name: "bad listen address", modify: func(c *Config) { c.Listen = "nine thousand" }, wantErr: ErrInvalidListen},
		{name: "listen port only", modify: func(c *Config) { c.Listen = ":9090" }},
		{name: "json and markdown", modify: func(c *Config) {
			c.JSONReport = true
			c.MarkdownReport = true
		}, wantErr: ErrConflictingReportFormats},
		{name: "tor and proxy list", modify: func(c *Config) {
			c.Tor = true
			c.ProxyList = "proxies.txt"
		}, wantErr: ErrConflictingProxies},
		{name: "empty task name", modify: func(c *Config) { c.TaskName = "" }, wantErr: ErrInvalidConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := validConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("expected no error, got %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestXDGDirs(t *testing.T) {
	t.Parallel()

	for name, dir := range map[string]string{
		"data":   XDGDataDir(),
		"config": XDGConfigDir(),
		"cache":  XDGCacheDir(),
	} {
		if filepath.Base(dir) != AppName {
			t.Errorf("%s dir %q does not end with %q", name, dir, AppName)
		}
	}

	cfg := NewConfig()
	if cfg.ResolvedCacheDir() != XDGCacheDir() || cfg.ResolvedDBDir() != XDGDataDir() {
		t.Error("expected XDG fallbacks for empty dirs")
	}
	cfg.CacheDir = "/tmp/c"
	cfg.DBDir = "/tmp/d"
	if cfg.ResolvedCacheDir() != "/tmp/c" || cfg.ResolvedDBDir() != "/tmp/d" {
		t.Error("expected explicit dirs to win")
	}
}

func TestGetSiteConfig(t *testing.T) {
	t.Parallel()

	cfg := NewConfig()
	cfg.Defaults = SiteConfig{
		Headers:        map[string]string{"Accept-Language": "en"},
		IgnorePatterns: []string{"/logout"},
	}
	cfg.Sites["example.com"] = SiteConfig{
		Cookie:  "session=abc",
		Depth:   2,
		Headers: map[string]string{"X-Token": "t"},
	}

	t.Run("site merged over defaults", func(t *testing.T) {
		t.Parallel()

		site, ok := cfg.GetSiteConfig("Example.COM")
		if !ok {
			t.Fatal("expected site config")
		}
		if site.Cookie != "session=abc" || site.Depth != 2 {
			t.Errorf("unexpected site %+v", site)
		}
		if site.Headers["Accept-Language"] != "en" || site.Headers["X-Token"] != "t" {
			t.Errorf("headers not merged: %v", site.Headers)
		}
		if len(site.IgnorePatterns) != 1 {
			t.Errorf("expected default ignore patterns, got %v", site.IgnorePatterns)
		}
	})

	t.Run("defaults are not modified", func(t *testing.T) {
		t.Parallel()

		_, _ = cfg.GetSiteConfig("example.com")
		if _, ok := cfg.Defaults.Headers["X-Token"]; ok {
			t.Error("site headers leaked into defaults")
		}
	})

	t.Run("unknown host gets defaults", func(t *testing.T) {
		t.Parallel()

		site, ok := cfg.GetSiteConfig("other.org")
		if !ok || site.Cookie != "" || site.Headers["Accept-Language"] != "en" {
			t.Errorf("unexpected site %+v", site)
		}
	})

	t.Run("nothing configured", func(t *testing.T) {
		t.Parallel()

		if _, ok := NewConfig().GetSiteConfig("example.com"); ok {
			t.Error("expected no site config")
		}
	})

	t.Run("canonical header", func(t *testing.T) {
		t.Parallel()

		h := SiteConfig{Headers: map[string]string{"x-token": "t"}}.HTTPHeader()
		if h.Get("X-Token") != "t" {
			t.Errorf("unexpected header %v", h)
		}
		if (SiteConfig{}).HTTPHeader() != nil {
			t.Error("expected nil header for empty site")
		}
	})
}

func TestLoad(t *testing.T) {
	t.Parallel()

	writeConfig := func(t *testing.T, content string) string {
		t.Helper()
		path := filepath.Join(t.TempDir(), "config.yaml")
		if err := os.WriteFile(path, []byte(content), 0600); err != nil {
			t.Fatalf("failed to write config: %v", err)
		}
		return path
	}

	t.Run("file overrides defaults", func(t *testing.T) {
		t.Parallel()

		path := writeConfig(t, `
concurrency: 4
timeout: 5s
max_body_size: 1MiB
transport: threaded
sites:
  Docs.Example.com:
    depth: 1
    ignorePatterns: ["*.pdf"]
    headers:
      X-Token: secret
`)
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("failed to load: %v", err)
		}
		if cfg.Concurrency != 4 || cfg.Timeout != 5*time.Second || cfg.Transport != "threaded" {
			t.Errorf("unexpected config %+v", cfg)
		}
		if cfg.MaxBodySize != 1024*1024 {
			t.Errorf("expected 1MiB, got %d", cfg.MaxBodySize)
		}
		if cfg.NetworkTryLimit != DefaultNetworkTryLimit {
			t.Errorf("expected default network try limit, got %d", cfg.NetworkTryLimit)
		}
		site, ok := cfg.GetSiteConfig("docs.example.com")
		if !ok || site.Depth != 1 || len(site.IgnorePatterns) != 1 {
			t.Errorf("unexpected site %+v", site)
		}
		if site.HTTPHeader().Get("X-Token") != "secret" {
			t.Errorf("unexpected headers %v", site.Headers)
		}
		if cfg.ConfigFilePath != path {
			t.Errorf("expected ConfigFilePath %q, got %q", path, cfg.ConfigFilePath)
		}
	})

	t.Run("invalid value", func(t *testing.T) {
		t.Parallel()

		path := writeConfig(t, "transport: curl\n")
		if _, err := Load(path); !errors.Is(err, ErrInvalidTransport) {
			t.Errorf("expected ErrInvalidTransport, got %v", err)
		}
	})

	t.Run("broken yaml", func(t *testing.T) {
		t.Parallel()

		path := writeConfig(t, "concurrency: [\n")
		if _, err := Load(path); err == nil {
			t.Error("expected error for broken yaml")
		}
	})

	t.Run("missing explicit file", func(t *testing.T) {
		t.Parallel()

		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		if !errors.Is(err, ErrConfigNotFound) {
			t.Errorf("expected ErrConfigNotFound, got %v", err)
		}
	})
}

//nolint:paralleltest // t.Setenv cannot be used with t.Parallel
func TestLoad_Env(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("concurrency: 4\n"), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	t.Setenv("CRAWLKIT_CONCURRENCY", "7")
	t.Setenv("CRAWLKIT_CACHE", "memory")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load: %v", err)
	}
	if cfg.Concurrency != 7 {
		t.Errorf("expected env to win with 7, got %d", cfg.Concurrency)
	}
	if cfg.Cache != "memory" {
		t.Errorf("expected cache from env, got %q", cfg.Cache)
	}
}

func TestTemplate(t *testing.T) {
	t.Parallel()

	t.Run("template parses", func(t *testing.T) {
		t.Parallel()

		cfg, err := ParseYAML(Template())
		if err != nil {
			t.Fatalf("template does not parse: %v", err)
		}
		if cfg.Concurrency != DefaultConcurrency || cfg.MaxBodySize != DefaultMaxBodySize {
			t.Errorf("template drifted from defaults: %+v", cfg)
		}
		if _, ok := cfg.Sites["example.com"]; !ok {
			t.Error("expected example site in template")
		}
	})

	t.Run("write and refuse overwrite", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "nested", DefaultConfigFile)
		if err := WriteTemplate(path, false); err != nil {
			t.Fatalf("failed to write template: %v", err)
		}
		if err := WriteTemplate(path, false); !errors.Is(err, ErrConfigExists) {
			t.Errorf("expected ErrConfigExists, got %v", err)
		}
		if err := WriteTemplate(path, true); err != nil {
			t.Errorf("expected forced overwrite, got %v", err)
		}

		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("written template does not load: %v", err)
		}
		if cfg.Transport != DefaultTransport {
			t.Errorf("unexpected transport %q", cfg.Transport)
		}
	})
}

func TestByteSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input   string
		want    ByteSize
		wantErr bool
	}{
		{input: "5MiB", want: 5 * 1024 * 1024},
		{input: "1kB", want: 1000},
		{input: "2048", want: 2048},
		{input: "lots", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()

			got, err := ParseByteSize(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("unexpected error %v", err)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("expected %d, got %d", tt.want, got)
			}
		})
	}

	if s := ByteSize(5 * 1024 * 1024).String(); !strings.Contains(s, "MiB") {
		t.Errorf("unexpected string %q", s)
	}
}
