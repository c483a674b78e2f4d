package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	xproxy "golang.org/x/net/proxy"
)

// Proxy types.
const (
	TypeHTTP   = "http"
	TypeHTTPS  = "https"
	TypeSOCKS5 = "socks5"
)

var (
	// ErrInvalidProxy is returned when a proxy line cannot be parsed.
	ErrInvalidProxy = errors.New("invalid proxy: expected [type://][user:pass@]host:port")

	// ErrUnsupportedType is returned for a proxy scheme other than http,
	// https or socks5.
	ErrUnsupportedType = errors.New("unsupported proxy type")

	// ErrEmptySource is returned when a proxy list contains no entries.
	ErrEmptySource = errors.New("proxy list is empty")

	// ErrTorNotRunning is returned when the embedded Tor daemon has not been started.
	ErrTorNotRunning = errors.New("embedded Tor daemon is not running")
)

// Proxy describes one upstream proxy.
type Proxy struct {
	// Type is http, https or socks5.
	Type string `json:"type"`

	// Host is the proxy host name or address.
	Host string `json:"host"`

	// Port is the proxy port.
	Port int `json:"port"`

	// User and Password are optional credentials.
	User     string `json:"user,omitempty"`
	Password string `json:"-"`
}

// Parse reads a proxy in the form [type://][user:pass@]host:port.
// A missing type means http.
func Parse(s string) (*Proxy, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrInvalidProxy
	}
	if !strings.Contains(s, "://") {
		s = TypeHTTP + "://" + s
	}

	u, err := url.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidProxy, err.Error())
	}

	typ := strings.ToLower(u.Scheme)
	if typ == "socks5h" {
		typ = TypeSOCKS5
	}
	switch typ {
	case TypeHTTP, TypeHTTPS, TypeSOCKS5:
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, u.Scheme)
	}

	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil || host == "" {
		return nil, ErrInvalidProxy
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return nil, ErrInvalidProxy
	}

	p := &Proxy{Type: typ, Host: host, Port: port}
	if u.User != nil {
		p.User = u.User.Username()
		p.Password, _ = u.User.Password()
	}
	return p, nil
}

// Addr returns host:port.
func (p *Proxy) Addr() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// URL returns the proxy as a URL, credentials included.
func (p *Proxy) URL() *url.URL {
	u := &url.URL{Scheme: p.Type, Host: p.Addr()}
	if p.User != "" {
		u.User = url.UserPassword(p.User, p.Password)
	}
	return u
}

// String returns the proxy without its password.
func (p *Proxy) String() string {
	if p.User != "" {
		return p.Type + "://" + p.User + "@" + p.Addr()
	}
	return p.Type + "://" + p.Addr()
}

// IsSOCKS reports whether the proxy speaks SOCKS5.
func (p *Proxy) IsSOCKS() bool {
	return p.Type == TypeSOCKS5
}

// ContextDialer dials network connections.
type ContextDialer interface {
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
}

// SOCKS5Dialer returns a dialer that tunnels through the SOCKS5 proxy,
// connecting to the proxy itself with forward.
func (p *Proxy) SOCKS5Dialer(forward ContextDialer) (ContextDialer, error) {
	if !p.IsSOCKS() {
		return nil, fmt.Errorf("%w: %s is not socks5", ErrUnsupportedType, p.Type)
	}

	var auth *xproxy.Auth
	if p.User != "" {
		auth = &xproxy.Auth{User: p.User, Password: p.Password}
	}

	var fwd xproxy.Dialer = xproxy.Direct
	if forward != nil {
		fwd = contextDialerAdapter{forward}
	}

	d, err := xproxy.SOCKS5("tcp", p.Addr(), auth, fwd)
	if err != nil {
		return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
	}
	cd, ok := d.(xproxy.ContextDialer)
	if !ok {
		return nil, fmt.Errorf("SOCKS5 dialer for %s does not support contexts", p.Addr())
	}
	return cd, nil
}

// contextDialerAdapter lets a ContextDialer act as the forward dialer of
// x/net/proxy, which also needs a plain Dial.
type contextDialerAdapter struct {
	ContextDialer
}

func (a contextDialerAdapter) Dial(network, addr string) (net.Conn, error) {
	return a.DialContext(context.Background(), network, addr)
}

// Source hands out the proxy to use for the next request.
type Source interface {
	// Next returns a proxy, or false when requests should go direct.
	Next(ctx context.Context) (*Proxy, bool)
}

// Direct is a Source that never returns a proxy.
type Direct struct{}

// Next implements Source.
func (Direct) Next(context.Context) (*Proxy, bool) {
	return nil, false
}
