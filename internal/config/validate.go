package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// fieldErrors maps struct fields to the sentinel reported for them.
var fieldErrors = map[string]error{
	"Concurrency":       ErrInvalidConcurrency,
	"NetworkTryLimit":   ErrInvalidTryLimit,
	"TaskTryLimit":      ErrInvalidTryLimit,
	"RedirectLimit":     ErrInvalidTryLimit,
	"SlotMaxUses":       ErrInvalidTryLimit,
	"QueuePoll":         ErrInvalidTimeout,
	"TransportPoll":     ErrInvalidTimeout,
	"Timeout":           ErrInvalidTimeout,
	"ConnectTimeout":    ErrInvalidTimeout,
	"CacheTTL":          ErrInvalidTimeout,
	"TorStartupTimeout": ErrInvalidTimeout,
	"MaxBodySize":       ErrInvalidMaxBodySize,
	"Transport":         ErrInvalidTransport,
	"PriorityMode":      ErrInvalidPriorityMode,
	"Cache":             ErrInvalidCache,
	"CrawlDepth":        ErrInvalidCrawlLimit,
	"MaxPages":          ErrInvalidCrawlLimit,
	"SeedLimit":         ErrInvalidCrawlLimit,
	"Depth":             ErrInvalidCrawlLimit,
	"Listen":            ErrInvalidListen,
}

// ValidateSettings checks the settings without requiring seeds.
// Commands that do not crawl use it directly.
func (c *Config) ValidateSettings() error {
	if err := structValidator().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) || len(verrs) == 0 {
			return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
		// Report the first failure; fixing it often makes others irrelevant.
		fe := verrs[0]
		if sentinel, ok := fieldErrors[fe.StructField()]; ok {
			return fmt.Errorf("%w (%s=%v)", sentinel, fe.Namespace(), fe.Value())
		}
		return fmt.Errorf("%w: %s failed %q", ErrInvalidConfig, fe.Namespace(), fe.Tag())
	}

	if c.JSONReport && c.MarkdownReport {
		return ErrConflictingReportFormats
	}
	if c.Cache == "postgres" && c.CacheDSN == "" {
		return ErrMissingCacheDSN
	}
	if c.Tor && c.ProxyList != "" {
		return ErrConflictingProxies
	}
	return nil
}

// Validate checks if the configuration is valid for a crawl.
// It returns the first problem found as one of the package sentinels.
func (c *Config) Validate() error {
	if len(c.Seeds) == 0 && c.SeedFile == "" {
		return ErrNoTarget
	}
	return c.ValidateSettings()
}
