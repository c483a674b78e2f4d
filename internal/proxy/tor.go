package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/nao1215/tornago"
)

// DefaultTorStartupTimeout bounds how long Start waits for Tor to bootstrap.
const DefaultTorStartupTimeout = 3 * time.Minute

// TorSource routes every request through an embedded Tor daemon.
//
// Starting the daemon takes one to three minutes: Tor has to fetch
// directory information and build circuits before its SOCKS port works.
type TorSource struct {
	mu             sync.Mutex
	process        *tornago.TorProcess
	proxy          *Proxy
	startupTimeout time.Duration
}

// TorOption configures a TorSource.
type TorOption func(*TorSource)

// WithTorStartupTimeout sets the bootstrap timeout.
func WithTorStartupTimeout(timeout time.Duration) TorOption {
	return func(t *TorSource) {
		t.startupTimeout = timeout
	}
}

// NewTorSource creates a source. Call Start before using it.
func NewTorSource(opts ...TorOption) *TorSource {
	t := &TorSource{startupTimeout: DefaultTorStartupTimeout}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start launches the daemon on OS-assigned ports and waits for bootstrap.
func (t *TorSource) Start(ctx context.Context) error {
	launchCfg, err := tornago.NewTorLaunchConfig(
		tornago.WithTorSocksAddr(":0"),
		tornago.WithTorControlAddr(":0"),
		tornago.WithTorStartupTimeout(t.startupTimeout),
	)
	if err != nil {
		return fmt.Errorf("failed to create Tor launch config: %w", err)
	}

	process, err := tornago.StartTorDaemon(launchCfg)
	if err != nil {
		return fmt.Errorf("failed to start embedded Tor daemon: %w", err)
	}

	select {
	case <-ctx.Done():
		_ = process.Stop() //nolint:errcheck // best effort cleanup
		return ctx.Err()
	default:
	}

	p, err := socksProxy(process.SocksAddr())
	if err != nil {
		_ = process.Stop() //nolint:errcheck // best effort cleanup
		return err
	}

	t.mu.Lock()
	t.process = process
	t.proxy = p
	t.mu.Unlock()
	return nil
}

// Stop shuts the daemon down. It is safe to call on a stopped source.
func (t *TorSource) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.process == nil {
		return nil
	}
	err := t.process.Stop()
	t.process = nil
	t.proxy = nil
	return err
}

// Running reports whether the daemon is up.
func (t *TorSource) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.process != nil
}

// Next implements Source. It returns false until Start has succeeded.
func (t *TorSource) Next(context.Context) (*Proxy, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.proxy == nil {
		return nil, false
	}
	return t.proxy, true
}

func socksProxy(addr string) (*Proxy, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidProxy, addr)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidProxy, addr)
	}
	if host == "" {
		host = "127.0.0.1"
	}
	return &Proxy{Type: TypeSOCKS5, Host: host, Port: port}, nil
}

// SOCKS5 protocol constants used by CheckSOCKS5.
const (
	socks5Version      = 0x05
	socks5AuthNone     = 0x00
	socks5AuthPassword = 0x02
	socks5AuthNoAccept = 0xFF
)

var (
	// ErrNotSOCKS5 is returned when the peer does not answer the SOCKS5 greeting.
	ErrNotSOCKS5 = errors.New("proxy does not speak SOCKS5")

	// ErrProxyUnreachable is returned when no TCP connection can be made.
	ErrProxyUnreachable = errors.New("cannot connect to proxy")
)

// CheckSOCKS5 performs the SOCKS5 greeting against p and verifies the
// proxy accepts one of the authentication methods we can offer.
func CheckSOCKS5(ctx context.Context, p *Proxy, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", p.Addr())
	if err != nil {
		return fmt.Errorf("%w: %s", ErrProxyUnreachable, err.Error())
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return fmt.Errorf("%w: %s", ErrProxyUnreachable, err.Error())
	}

	greeting := []byte{socks5Version, 0x01, socks5AuthNone}
	if p.User != "" {
		greeting = []byte{socks5Version, 0x02, socks5AuthNone, socks5AuthPassword}
	}
	if _, err := conn.Write(greeting); err != nil {
		return fmt.Errorf("%w: %s", ErrProxyUnreachable, err.Error())
	}

	resp := make([]byte, 2)
	if _, err := io.ReadFull(conn, resp); err != nil {
		return ErrNotSOCKS5
	}
	if resp[0] != socks5Version || resp[1] == socks5AuthNoAccept {
		return ErrNotSOCKS5
	}
	if resp[1] != socks5AuthNone && resp[1] != socks5AuthPassword {
		return ErrNotSOCKS5
	}
	return nil
}
