package proxy

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"strings"
	"sync"
)

// ListSource rotates through a fixed list of proxies.
type ListSource struct {
	mu      sync.Mutex
	proxies []*Proxy
	next    int
	random  bool
}

// ListOption configures a ListSource.
type ListOption func(*ListSource)

// WithRandomOrder picks a random proxy for each request instead of
// rotating in order.
func WithRandomOrder() ListOption {
	return func(s *ListSource) {
		s.random = true
	}
}

// NewListSource creates a source over proxies.
func NewListSource(proxies []*Proxy, opts ...ListOption) (*ListSource, error) {
	if len(proxies) == 0 {
		return nil, ErrEmptySource
	}
	s := &ListSource{proxies: proxies}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ReadList parses one proxy per line. Blank lines and lines starting
// with # are skipped.
func ReadList(r io.Reader) ([]*Proxy, error) {
	var proxies []*Proxy
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		p, err := Parse(text)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		proxies = append(proxies, p)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read proxy list: %w", err)
	}
	return proxies, nil
}

// LoadListSource reads a proxy list file.
func LoadListSource(path string, opts ...ListOption) (*ListSource, error) {
	f, err := os.Open(path) //nolint:gosec // path comes from the user's own flags
	if err != nil {
		return nil, fmt.Errorf("failed to open proxy list: %w", err)
	}
	defer f.Close()

	proxies, err := ReadList(f)
	if err != nil {
		return nil, err
	}
	return NewListSource(proxies, opts...)
}

// Next implements Source.
func (s *ListSource) Next(context.Context) (*Proxy, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.random {
		return s.proxies[rand.IntN(len(s.proxies))], true //nolint:gosec // proxy choice is not security sensitive
	}
	p := s.proxies[s.next]
	s.next = (s.next + 1) % len(s.proxies)
	return p, true
}

// Len returns the number of proxies.
func (s *ListSource) Len() int {
	return len(s.proxies)
}
