package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"github.com/nao1215/crawlkit/internal/fetch"
	"github.com/nao1215/crawlkit/internal/pool"
	"github.com/nao1215/crawlkit/internal/proxy"
	"github.com/nao1215/crawlkit/internal/retry"
)

type proxyKey struct{}

func withProxy(ctx context.Context, p *proxy.Proxy) context.Context {
	if p == nil {
		return ctx
	}
	return context.WithValue(ctx, proxyKey{}, p)
}

func proxyFrom(ctx context.Context) (*proxy.Proxy, bool) {
	p, ok := ctx.Value(proxyKey{}).(*proxy.Proxy)
	return p, ok && p != nil
}

// NewClientFactory returns the pool factory for slot clients. Each client
// has its own connection pool, cookie jar, redirect policy and proxy
// routing driven by the request context.
func NewClientFactory(s Settings) pool.Factory {
	return func() *http.Client {
		dialer := &net.Dialer{
			Timeout:   s.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}

		tr := &http.Transport{
			Proxy: func(req *http.Request) (*url.URL, error) {
				if p, ok := proxyFrom(req.Context()); ok && !p.IsSOCKS() {
					return p.URL(), nil
				}
				return nil, nil
			},
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				if p, ok := proxyFrom(ctx); ok && p.IsSOCKS() {
					d, err := p.SOCKS5Dialer(dialer)
					if err != nil {
						return nil, err
					}
					return d.DialContext(ctx, network, addr)
				}
				return dialer.DialContext(ctx, network, addr)
			},
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: s.InsecureSkipVerify, //nolint:gosec // opt-in through configuration
			},
			TLSHandshakeTimeout: s.ConnectTimeout,
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 2,
			IdleConnTimeout:     90 * time.Second,
			ForceAttemptHTTP2:   true,
		}

		jar, _ := cookiejar.New(nil) //nolint:errcheck // cookiejar.New only fails with invalid options

		return &http.Client{
			Transport:     tr,
			Jar:           jar,
			CheckRedirect: checkRedirect(s.RedirectLimit),
		}
	}
}

// checkRedirect counts hops in the attempt's retry.State and fails the
// transfer with retry.ErrRedirectLimitExceeded once the chain is too long.
func checkRedirect(limit int) func(*http.Request, []*http.Request) error {
	return func(req *http.Request, via []*http.Request) error {
		st, ok := retry.StateFrom(req.Context())
		if !ok {
			if len(via) > limit {
				return retry.ErrRedirectLimitExceeded
			}
			return nil
		}
		if !st.RecordRedirect(req.URL.String(), limit) {
			return retry.ErrRedirectLimitExceeded
		}
		return nil
	}
}

// perform executes one job on its slot's client.
func perform(ctx context.Context, s Settings, job *Job) *Completion {
	resp, err := doRequest(ctx, s, job)
	return &Completion{Job: job, Response: resp, Err: err}
}

func doRequest(ctx context.Context, s Settings, job *Job) (*fetch.Response, error) {
	timeout := s.Timeout
	if job.Request.Timeout > 0 {
		timeout = job.Request.Timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if job.State != nil {
		ctx = retry.WithState(ctx, job.State)
	}
	ctx = withProxy(ctx, job.Proxy)

	var body io.Reader
	if len(job.Request.Body) > 0 {
		body = bytes.NewReader(job.Request.Body)
	}
	req, err := http.NewRequestWithContext(ctx, job.Request.EffectiveMethod(), job.Request.URL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	for k, vs := range job.Request.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	for k, vs := range job.Header {
		if req.Header.Get(k) == "" {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
	}
	if job.Cookie != "" && req.Header.Get("Cookie") == "" {
		req.Header.Set("Cookie", job.Cookie)
	}
	if req.Header.Get("User-Agent") == "" && s.UserAgent != "" {
		req.Header.Set("User-Agent", s.UserAgent)
	}
	if job.Proxy != nil && job.Proxy.IsSOCKS() {
		// The idle pool is keyed without the SOCKS dialer, so tunnels are not kept.
		req.Close = true
	}

	started := time.Now()
	resp, err := job.Slot.Client().Do(req)
	if err != nil {
		if resp != nil {
			_ = resp.Body.Close()
		}
		return nil, err
	}
	defer resp.Body.Close()

	data, truncated, err := readBody(resp.Body, s.MaxBodySize)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return &fetch.Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
		URL:        resp.Request.URL.String(),
		Truncated:  truncated,
		Elapsed:    time.Since(started),
	}, nil
}

// readBody reads at most limit bytes. A non-positive limit reads everything.
func readBody(r io.Reader, limit int64) ([]byte, bool, error) {
	if limit <= 0 {
		data, err := io.ReadAll(r)
		return data, false, err
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, false, err
	}
	if int64(len(data)) > limit {
		return data[:limit], true, nil
	}
	return data, false, nil
}
