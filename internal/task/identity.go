package task

import (
	"encoding/hex"
	"net"
	"net/url"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// NormalizeURL normalizes a URL for deduplication and cache keys.
//
// The same resource can be spelled many ways; the following differences
// are removed:
//   - scheme and host case
//   - the fragment
//   - default ports (80 for http, 443 for https)
//   - an empty path ("" and "/" are the same)
//   - query parameter order
//
// Unparseable input is returned unchanged.
func NormalizeURL(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return rawURL
	}

	u.Fragment = ""
	u.RawFragment = ""
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if host, port, err := net.SplitHostPort(u.Host); err == nil {
		if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
			u.Host = host
		}
	}

	if u.Path == "" && u.Host != "" {
		u.Path = "/"
	}

	if u.RawQuery != "" {
		// Encode sorts by key; values keep their relative order.
		u.RawQuery = u.Query().Encode()
	}

	return u.String()
}

// Identity returns the dedup identity of a request addressed to a handler.
// GET-equivalent requests are identified by name and normalized URL only;
// other requests also include the method and body.
func Identity(name string, req *Request) string {
	h, _ := blake2b.New256(nil) //nolint:errcheck // New256 only fails for oversized keys
	h.Write([]byte(name))
	h.Write([]byte{0})
	h.Write([]byte(NormalizeURL(req.URL)))
	if !req.Idempotent() {
		h.Write([]byte{0})
		h.Write([]byte(req.EffectiveMethod()))
		h.Write([]byte{0})
		h.Write(req.Body)
	}
	return hex.EncodeToString(h.Sum(nil))
}
