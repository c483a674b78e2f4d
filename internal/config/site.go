package config

import (
	"net/http"
	"strings"
)

// SiteConfig holds site-specific configuration for a single host.
// This allows customizing request headers and crawl limits per site.
type SiteConfig struct {
	// Cookie is an HTTP cookie to use when crawling this site.
	// Format: "name=value" or "name1=value1; name2=value2"
	Cookie string `mapstructure:"cookie" yaml:"cookie,omitempty"`

	// Headers are custom HTTP headers to include in requests to this site.
	Headers map[string]string `mapstructure:"headers" yaml:"headers,omitempty"`

	// Depth overrides the global crawl depth for this site.
	// If zero, the global CrawlDepth is used.
	Depth int `mapstructure:"depth" validate:"gte=0" yaml:"depth,omitempty"`

	// IgnorePatterns are URL path patterns to skip (glob syntax).
	IgnorePatterns []string `mapstructure:"ignorePatterns" yaml:"ignorePatterns,omitempty"`

	// FollowPatterns restrict crawling to matching URL paths.
	FollowPatterns []string `mapstructure:"followPatterns" yaml:"followPatterns,omitempty"`
}

// IsZero reports whether the site configuration sets nothing.
func (s SiteConfig) IsZero() bool {
	return s.Cookie == "" && len(s.Headers) == 0 && s.Depth == 0 &&
		len(s.IgnorePatterns) == 0 && len(s.FollowPatterns) == 0
}

// HTTPHeader returns Headers as an http.Header with canonical keys.
func (s SiteConfig) HTTPHeader() http.Header {
	if len(s.Headers) == 0 {
		return nil
	}
	h := make(http.Header, len(s.Headers))
	for k, v := range s.Headers {
		h.Set(k, v)
	}
	return h
}

// GetSiteConfig returns the configuration for a host merged over Defaults.
// The bool is false when neither Defaults nor a site entry set anything.
func (c *Config) GetSiteConfig(host string) (SiteConfig, bool) {
	result := c.Defaults
	if len(c.Defaults.Headers) > 0 {
		result.Headers = make(map[string]string, len(c.Defaults.Headers))
		for k, v := range c.Defaults.Headers {
			result.Headers[k] = v
		}
	}

	if site, ok := c.Sites[strings.ToLower(host)]; ok {
		if site.Cookie != "" {
			result.Cookie = site.Cookie
		}
		if site.Depth != 0 {
			result.Depth = site.Depth
		}
		if len(site.Headers) > 0 {
			if result.Headers == nil {
				result.Headers = make(map[string]string)
			}
			for k, v := range site.Headers {
				result.Headers[k] = v
			}
		}
		if len(site.IgnorePatterns) > 0 {
			result.IgnorePatterns = site.IgnorePatterns
		}
		if len(site.FollowPatterns) > 0 {
			result.FollowPatterns = site.FollowPatterns
		}
	}

	return result, !result.IsZero()
}
