package model

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// MaxRawSize is the maximum size of raw page content kept in memory.
const MaxRawSize = 5 * 1024 * 1024 // 5 MB

// Page is a crawled URL. Failed pages carry Error and Tag instead of a
// status code.
type Page struct {
	// URL is the URL the task asked for.
	URL string `json:"url"`

	// FinalURL is the URL after redirects.
	FinalURL string `json:"final_url,omitempty"`

	// Host is the host part of URL, used for grouping.
	Host string `json:"host"`

	// StatusCode is the HTTP response status code.
	StatusCode int `json:"status_code,omitempty"`

	// ContentType is the Content-Type header of the response.
	ContentType string `json:"content_type,omitempty"`

	// Title is taken from the <title> element of HTML pages.
	Title string `json:"title,omitempty"`

	// Depth is the link distance from the seed.
	Depth int `json:"depth"`

	// Size is the number of body bytes read.
	Size int `json:"size"`

	// Links is the number of same-host links found on the page.
	Links int `json:"links"`

	// Hash is the SHA-256 hash of the body.
	Hash string `json:"hash,omitempty"`

	// FromCache marks pages served from the response cache.
	FromCache bool `json:"from_cache,omitempty"`

	// Truncated marks bodies cut at the size limit.
	Truncated bool `json:"truncated,omitempty"`

	// Error is the final transport error of a failed page.
	Error string `json:"error,omitempty"`

	// Tag classifies Error.
	Tag string `json:"tag,omitempty"`

	// Headers holds the response headers.
	Headers map[string][]string `json:"headers,omitempty"`

	// FetchedAt is when the page was processed.
	FetchedAt time.Time `json:"fetched_at"`

	// Raw holds the body. It is not serialised.
	Raw []byte `json:"-"`
}

// ComputeHash sets Hash from Raw. Empty content gives an empty hash.
func (p *Page) ComputeHash() {
	if len(p.Raw) == 0 {
		p.Hash = ""
		return
	}

	hash := sha256.Sum256(p.Raw)
	p.Hash = hex.EncodeToString(hash[:])
}

// GetHeader returns the first value of the named header.
func (p *Page) GetHeader(name string) string {
	if values, ok := p.Headers[name]; ok && len(values) > 0 {
		return values[0]
	}
	return ""
}

// IsHTML reports whether the content type is HTML.
func (p *Page) IsHTML() bool {
	ct := strings.ToLower(p.ContentType)
	return strings.HasPrefix(ct, "text/html") || strings.HasPrefix(ct, "application/xhtml+xml")
}

// Failed reports whether the page could not be fetched at all.
func (p *Page) Failed() bool {
	return p.Error != ""
}

// TruncateRaw caps Raw at MaxRawSize.
func (p *Page) TruncateRaw() {
	if len(p.Raw) > MaxRawSize {
		p.Raw = p.Raw[:MaxRawSize]
	}
}
