package fetch

import (
	"bytes"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"golang.org/x/text/encoding/htmlindex"

	"github.com/nao1215/crawlkit/internal/retry"
	"github.com/nao1215/crawlkit/internal/task"
)

// Response is the outcome of a completed transfer.
type Response struct {
	// StatusCode is the HTTP status code of the final response.
	StatusCode int `json:"status_code"`

	// Header contains the final response headers.
	Header http.Header `json:"header"`

	// Body is the response body, capped at the engine's MaxBodySize.
	Body []byte `json:"body"`

	// URL is the final URL after redirects.
	URL string `json:"url"`

	// Truncated is set when the body was cut at the size limit.
	Truncated bool `json:"truncated,omitempty"`

	// Elapsed is the wall time of the attempt.
	Elapsed time.Duration `json:"elapsed"`
}

// ContentType returns the media type without parameters.
func (r *Response) ContentType() string {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return ""
	}
	return mt
}

// IsHTML reports whether the body is an HTML document.
func (r *Response) IsHTML() bool {
	ct := r.ContentType()
	return ct == "text/html" || ct == "application/xhtml+xml"
}

// Success reports whether the status is 2xx.
func (r *Response) Success() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Charset returns the charset declared in Content-Type, or "" if none.
func (r *Response) Charset() string {
	_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return ""
	}
	return strings.ToLower(params["charset"])
}

// Text decodes the body to UTF-8 using the declared charset.
// Unknown or missing charsets return the body unchanged.
func (r *Response) Text() string {
	cs := r.Charset()
	if cs == "" || cs == "utf-8" || cs == "utf8" {
		return string(r.Body)
	}
	enc, err := htmlindex.Get(cs)
	if err != nil {
		return string(r.Body)
	}
	decoded, err := io.ReadAll(enc.NewDecoder().Reader(bytes.NewReader(r.Body)))
	if err != nil {
		return string(r.Body)
	}
	return string(decoded)
}

// Result is what the scheduler yields for every task it processes:
// a completed transfer, a classified failure, or a cache hit.
type Result struct {
	// OK is true when a response was obtained, whatever its status code.
	OK bool

	// Response is set when OK is true.
	Response *Response

	// Err is the transport error when OK is false.
	Err error

	// Tag classifies Err.
	Tag retry.Tag

	// Task is the task that produced this result.
	Task *task.Task

	// FromCache marks a result synthesised from the cache without network I/O.
	FromCache bool

	// Backup is a copy of the request snapshot taken before dispatch.
	// Retries start again from it.
	Backup *task.Request

	// State holds the protocol counters of the attempt.
	State *retry.State
}

// Cacheable reports whether the result may be written to a cache.
func (r *Result) Cacheable() bool {
	return r.OK && !r.FromCache && r.Response != nil && r.Response.Success() &&
		!r.Response.Truncated && r.Task != nil && r.Task.Idempotent() && !r.Task.DisableCache
}
