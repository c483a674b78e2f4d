package config

import "errors"

// Configuration validation errors.
// These are returned by Config.Validate so callers can use errors.Is.
var (
	// ErrNoTarget is returned when neither seed URLs nor a seed file is given.
	ErrNoTarget = errors.New("no target specified: provide a URL or use --seeds")

	// ErrInvalidConcurrency is returned when the pool capacity is not positive.
	ErrInvalidConcurrency = errors.New("invalid concurrency: must be positive")

	// ErrInvalidTryLimit is returned when a retry or redirect limit is negative.
	ErrInvalidTryLimit = errors.New("invalid try limit: must be non-negative")

	// ErrInvalidTimeout is returned when a timeout or poll interval is not positive.
	ErrInvalidTimeout = errors.New("invalid timeout: must be positive")

	// ErrInvalidMaxBodySize is returned when the max body size is negative.
	ErrInvalidMaxBodySize = errors.New("invalid max body size: must be non-negative")

	// ErrInvalidTransport is returned for an unknown transfer strategy.
	ErrInvalidTransport = errors.New("invalid transport: must be multi or threaded")

	// ErrInvalidPriorityMode is returned for an unknown priority mode.
	ErrInvalidPriorityMode = errors.New("invalid priority mode: must be const or random")

	// ErrInvalidCache is returned for an unknown cache backend.
	ErrInvalidCache = errors.New("invalid cache: must be sqlite, badger, memory, postgres or none")

	// ErrMissingCacheDSN is returned when the postgres cache has no DSN.
	ErrMissingCacheDSN = errors.New("postgres cache requires --cache-dsn")

	// ErrInvalidCrawlLimit is returned when depth, page or seed limits are negative.
	ErrInvalidCrawlLimit = errors.New("invalid crawl limit: must be non-negative")

	// ErrInvalidListen is returned when the status server address is not host:port.
	ErrInvalidListen = errors.New("invalid listen address: must be host:port")

	// ErrConflictingReportFormats is returned when both --json and --markdown
	// are specified.
	ErrConflictingReportFormats = errors.New("conflicting report formats: --json and --markdown cannot be used together")

	// ErrConflictingProxies is returned when --tor and --proxy-list are both set.
	ErrConflictingProxies = errors.New("conflicting proxies: --tor and --proxy-list cannot be used together")

	// ErrInvalidConfig is returned for any other invalid field.
	ErrInvalidConfig = errors.New("invalid configuration")
)
