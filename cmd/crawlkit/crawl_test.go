package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/nao1215/crawlkit/internal/config"
	"github.com/nao1215/crawlkit/internal/model"
	"github.com/nao1215/crawlkit/internal/report"
)

// fastConfig writes a config file with short poll intervals and the memory cache.
func fastConfig(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "crawl.yaml")
	content := `concurrency: 2
queue_poll: 5ms
transport_poll: 5ms
cache: memory
depth: 2
sites:
  127.0.0.1:
    headers:
      X-Crawl-Test: "yes"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

// newSite serves three pages: / links to /a and /missing.
func newSite(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("X-Crawl-Test") != "yes" {
			http.Error(w, "missing site header", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, `<html><head><title>Home</title></head><body>
<a href="/a">A</a> <a href="/missing">Missing</a></body></html>`)
	})
	mux.HandleFunc("/a", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><head><title>A</title></head><body><a href="/">home</a></body></html>`)
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestNewCrawlCmd(t *testing.T) {
	t.Parallel()

	cmd := NewCrawlCmd()
	tests := []struct {
		name      string
		shorthand string
		def       string
	}{
		{name: "seeds", shorthand: "s", def: ""},
		{name: "name", def: config.DefaultTaskName},
		{name: "limit", def: "0"},
		{name: "concurrency", shorthand: "n", def: "10"},
		{name: "depth", shorthand: "d", def: "5"},
		{name: "max-pages", shorthand: "p", def: "100"},
		{name: "transport", def: "multi"},
		{name: "cache", def: "sqlite"},
		{name: "cache-dsn", def: ""},
		{name: "proxy-list", def: ""},
		{name: "tor", def: "false"},
		{name: "listen", shorthand: "l", def: ""},
		{name: "json", shorthand: "j", def: "false"},
		{name: "markdown", shorthand: "m", def: "false"},
		{name: "output", shorthand: "o", def: ""},
		{name: "config", shorthand: "c", def: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			flag := cmd.Flags().Lookup(tt.name)
			if flag == nil {
				t.Fatalf("expected --%s flag", tt.name)
			}
			if flag.Shorthand != tt.shorthand {
				t.Errorf("expected shorthand %q, got %q", tt.shorthand, flag.Shorthand)
			}
			if flag.DefValue != tt.def {
				t.Errorf("expected default %q, got %q", tt.def, flag.DefValue)
			}
		})
	}
}

func TestBuildConfig(t *testing.T) {
	t.Parallel()

	t.Run("flags override the file", func(t *testing.T) {
		t.Parallel()

		cmd := NewCrawlCmd()
		err := cmd.ParseFlags([]string{
			"-c", fastConfig(t),
			"-n", "7",
			"--cache", "none",
			"--max-pages", "0",
			"--timeout", "3s",
			"--no-save",
			"--json",
		})
		if err != nil {
			t.Fatalf("failed to parse flags: %v", err)
		}

		cfg, err := buildConfig(cmd, []string{"example.com"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.Concurrency != 7 || cfg.Cache != "none" || cfg.MaxPages != 0 {
			t.Errorf("flags not applied: %+v", cfg)
		}
		if cfg.Timeout != 3*time.Second || cfg.SaveToDB || !cfg.JSONReport {
			t.Errorf("flags not applied: %+v", cfg)
		}
		if cfg.QueuePoll != 5*time.Millisecond || cfg.CrawlDepth != 2 {
			t.Errorf("file values lost: %+v", cfg)
		}
		if len(cfg.Seeds) != 1 || cfg.Seeds[0] != "example.com" {
			t.Errorf("unexpected seeds %v", cfg.Seeds)
		}
	})

	t.Run("unset flags keep the file", func(t *testing.T) {
		t.Parallel()

		cmd := NewCrawlCmd()
		if err := cmd.ParseFlags([]string{"-c", fastConfig(t)}); err != nil {
			t.Fatalf("failed to parse flags: %v", err)
		}
		cfg, err := buildConfig(cmd, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.Concurrency != 2 || cfg.Cache != "memory" || !cfg.SaveToDB {
			t.Errorf("expected file values, got %+v", cfg)
		}
	})

	t.Run("missing config file", func(t *testing.T) {
		t.Parallel()

		cmd := NewCrawlCmd()
		if err := cmd.ParseFlags([]string{"-c", filepath.Join(t.TempDir(), "nope.yaml")}); err != nil {
			t.Fatalf("failed to parse flags: %v", err)
		}
		if _, err := buildConfig(cmd, nil); !errors.Is(err, config.ErrConfigNotFound) {
			t.Errorf("expected ErrConfigNotFound, got %v", err)
		}
	})
}

func TestSiteResolverAndRules(t *testing.T) {
	t.Parallel()

	cfg := config.NewConfig()
	cfg.Defaults.Headers = map[string]string{"accept-language": "en"}
	cfg.Sites["example.com"] = config.SiteConfig{
		Cookie:         "sid=1",
		Depth:          1,
		IgnorePatterns: []string{"/admin/*"},
	}

	resolve := siteResolver(cfg)
	site, ok := resolve("EXAMPLE.com")
	if !ok {
		t.Fatal("expected site additions")
	}
	if site.Cookie != "sid=1" || site.Header.Get("Accept-Language") != "en" {
		t.Errorf("unexpected site %+v", site)
	}
	if _, ok := resolve("other.org"); !ok {
		t.Error("expected default headers for any host")
	}

	rules := siteRules(cfg)
	r, ok := rules("example.com")
	if !ok || r.Depth != 1 || len(r.IgnorePatterns) != 1 {
		t.Errorf("unexpected rules %+v", r)
	}

	empty := config.NewConfig()
	if _, ok := siteResolver(empty)("example.com"); ok {
		t.Error("expected no additions without site config")
	}
	if _, ok := siteRules(empty)("example.com"); ok {
		t.Error("expected no rules without site config")
	}
}

func TestEngineOptions(t *testing.T) {
	t.Parallel()

	cfg := config.NewConfig()
	cfg.Concurrency = 3
	cfg.NetworkTryLimit = 2
	cfg.MaxBodySize = 1024
	cfg.TaskName = "custom"

	o := engineOptions(cfg)
	if o.Concurrency != 3 || o.Policy.NetworkTryLimit != 2 || o.Transfer.MaxBodySize != 1024 {
		t.Errorf("unexpected options %+v", o)
	}
	if len(o.Declared) != 1 || o.Declared[0] != "custom" {
		t.Errorf("expected the seed task to be declared, got %v", o.Declared)
	}
}

func TestCrawlCmd(t *testing.T) {
	t.Parallel()

	t.Run("crawls and records the run", func(t *testing.T) {
		t.Parallel()

		site := newSite(t)
		dbDir := t.TempDir()
		out, err := execute(t, "crawl", "-c", fastConfig(t), "--db-dir", dbDir, "--json", site.URL+"/")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		var summary report.Summary
		if err := json.Unmarshal([]byte(out), &summary); err != nil {
			t.Fatalf("invalid JSON report %q: %v", out, err)
		}
		if summary.Status != model.RunCompleted {
			t.Errorf("expected completed, got %q", summary.Status)
		}
		if summary.Pages != 3 || summary.Failed != 0 {
			t.Errorf("expected 3 stored pages, got %d (%d failed)", summary.Pages, summary.Failed)
		}
		if summary.StatusCode["200"] != 2 || summary.StatusCode["404"] != 1 {
			t.Errorf("unexpected status codes %v", summary.StatusCode)
		}
		if summary.RunID == "" || summary.Version == "" {
			t.Errorf("expected run id and version, got %q %q", summary.RunID, summary.Version)
		}
		if _, err := os.Stat(filepath.Join(dbDir, "crawlkit.db")); err != nil {
			t.Errorf("expected database file: %v", err)
		}
	})

	t.Run("without saving", func(t *testing.T) {
		t.Parallel()

		site := newSite(t)
		dbDir := t.TempDir()
		out, err := execute(t, "crawl", "-c", fastConfig(t), "--db-dir", dbDir, "--no-save",
			"--depth", "0", "--json", site.URL+"/")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		var summary report.Summary
		if err := json.Unmarshal([]byte(out), &summary); err != nil {
			t.Fatalf("invalid JSON report %q: %v", out, err)
		}
		if summary.Pages != 1 {
			t.Errorf("expected only the seed page, got %d", summary.Pages)
		}
		if _, err := os.Stat(filepath.Join(dbDir, "crawlkit.db")); !os.IsNotExist(err) {
			t.Error("expected no database file")
		}
	})

	t.Run("seed file with limit", func(t *testing.T) {
		t.Parallel()

		site := newSite(t)
		seeds := filepath.Join(t.TempDir(), "seeds.txt")
		content := "# seeds\n" + site.URL + "/a\n\n" + site.URL + "/\n"
		if err := os.WriteFile(seeds, []byte(content), 0600); err != nil {
			t.Fatal(err)
		}

		out, err := execute(t, "crawl", "-c", fastConfig(t), "--no-save", "--depth", "0",
			"--seeds", seeds, "--limit", "1", "--json")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		var summary report.Summary
		if err := json.Unmarshal([]byte(out), &summary); err != nil {
			t.Fatalf("invalid JSON report %q: %v", out, err)
		}
		if summary.Pages != 1 {
			t.Errorf("expected the limit to stop after one seed, got %d pages", summary.Pages)
		}
	})

	t.Run("markdown report to file", func(t *testing.T) {
		t.Parallel()

		site := newSite(t)
		reportPath := filepath.Join(t.TempDir(), "reports", "crawl.md")
		out, err := execute(t, "crawl", "-c", fastConfig(t), "--no-save", "--markdown",
			"-o", reportPath, site.URL+"/")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if out != "" {
			t.Errorf("expected nothing on stdout, got %q", out)
		}

		content, err := os.ReadFile(reportPath) //nolint:gosec // test file
		if err != nil {
			t.Fatalf("expected report file: %v", err)
		}
		if !strings.Contains(string(content), "# Crawl Report") {
			t.Errorf("unexpected report:\n%s", content)
		}
		if runtime.GOOS != "windows" {
			info, err := os.Stat(reportPath)
			if err != nil {
				t.Fatal(err)
			}
			if perm := info.Mode().Perm(); perm != 0600 {
				t.Errorf("expected 0600 report, got %o", perm)
			}
		}
	})

	t.Run("unreachable seed is recorded as failed", func(t *testing.T) {
		t.Parallel()

		site := newSite(t)
		addr := site.URL
		site.Close()

		cfgPath := fastConfig(t)
		f, err := os.OpenFile(cfgPath, os.O_APPEND|os.O_WRONLY, 0600) //nolint:gosec // test file
		if err != nil {
			t.Fatal(err)
		}
		if _, err := f.WriteString("network_try_limit: 1\n"); err != nil {
			t.Fatal(err)
		}
		_ = f.Close()

		out, err := execute(t, "crawl", "-c", cfgPath, "--no-save", "--json", addr+"/")
		if err != nil {
			t.Fatalf("transport failures must not fail the command: %v", err)
		}
		var summary report.Summary
		if err := json.Unmarshal([]byte(out), &summary); err != nil {
			t.Fatalf("invalid JSON report %q: %v", out, err)
		}
		if summary.Pages != 1 || summary.Failed != 1 {
			t.Errorf("expected one failed page, got %d/%d", summary.Failed, summary.Pages)
		}
	})

	t.Run("no target", func(t *testing.T) {
		t.Parallel()

		_, err := execute(t, "crawl", "-c", fastConfig(t), "--no-save")
		if !errors.Is(err, config.ErrNoTarget) {
			t.Errorf("expected ErrNoTarget, got %v", err)
		}
	})

	t.Run("conflicting report formats", func(t *testing.T) {
		t.Parallel()

		_, err := execute(t, "crawl", "-c", fastConfig(t), "--json", "--markdown", "example.com")
		if !errors.Is(err, config.ErrConflictingReportFormats) {
			t.Errorf("expected ErrConflictingReportFormats, got %v", err)
		}
	})

	for _, name := range []string{"listing", "page-failed"} {
		t.Run("task name "+name, func(t *testing.T) {
			t.Parallel()

			site := newSite(t)
			out, err := execute(t, "crawl", "-c", fastConfig(t), "--db-dir", t.TempDir(), "--name", name,
				"--json", site.URL+"/")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			var summary report.Summary
			if err := json.Unmarshal([]byte(out), &summary); err != nil {
				t.Fatalf("invalid JSON report %q: %v", out, err)
			}
			if summary.Pages != 3 || summary.Failed != 0 {
				t.Errorf("expected 3 fetched pages, got %d (%d failed)", summary.Pages, summary.Failed)
			}
			if summary.Counters["task-"+name] != 3 {
				t.Errorf("expected task-%s=3, got %v", name, summary.Counters)
			}
		})
	}
}
