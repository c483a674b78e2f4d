package retry

import (
	"context"
	"errors"
	"net"
	"net/url"
	"os"
	"syscall"

	"github.com/nao1215/crawlkit/internal/task"
)

// Default limits.
const (
	// DefaultNetworkTryLimit is the number of automatic transport-level retries.
	DefaultNetworkTryLimit = 5

	// DefaultTaskTryLimit is the number of handler-triggered re-submissions.
	DefaultTaskTryLimit = 5

	// DefaultRedirectLimit bounds the length of one redirect chain.
	DefaultRedirectLimit = 10
)

// ErrRedirectLimitExceeded is returned by the transport when a redirect
// chain is longer than the configured limit.
var ErrRedirectLimitExceeded = errors.New("redirect limit exceeded")

// Tag classifies a failed transfer.
type Tag string

// Failure tags. Every transient transport failure maps to exactly one tag.
const (
	TagNone          Tag = ""
	TagConnect       Tag = "connect-failure"
	TagTimeout       Tag = "timeout"
	TagDNS           Tag = "dns-failure"
	TagRedirectLimit Tag = "redirect-limit-exceeded"
	TagGeneric       Tag = "generic-transport-error"
)

// String returns the tag text used in counter keys.
func (t Tag) String() string {
	return string(t)
}

// Classify maps a transport error to a failure tag.
// A nil error yields TagNone.
func Classify(err error) Tag {
	if err == nil {
		return TagNone
	}

	if errors.Is(err, ErrRedirectLimitExceeded) {
		return TagRedirectLimit
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return TagTimeout
		}
		return TagDNS
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return TagTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return TagTimeout
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return TagConnect
	}
	// ECONNRESET is left out: outside of dial it is a mid-transfer failure.
	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EHOSTUNREACH) || errors.Is(err, syscall.ENETUNREACH) {
		return TagConnect
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return TagTimeout
	}

	return TagGeneric
}

// Reason explains why a task was dropped.
type Reason string

// Drop reasons. They double as counter keys.
const (
	ReasonNetworkTryLimit Reason = "network-try-limit"
	ReasonTaskTryLimit    Reason = "task-try-limit"
)

// Policy holds the retry ceilings.
type Policy struct {
	// NetworkTryLimit bounds automatic retries after transient failures.
	NetworkTryLimit int

	// TaskTryLimit bounds re-submissions triggered by handlers.
	TaskTryLimit int

	// RedirectLimit bounds the redirects followed within one attempt.
	RedirectLimit int
}

// DefaultPolicy returns the default ceilings.
func DefaultPolicy() Policy {
	return Policy{
		NetworkTryLimit: DefaultNetworkTryLimit,
		TaskTryLimit:    DefaultTaskTryLimit,
		RedirectLimit:   DefaultRedirectLimit,
	}
}

// Admit checks a task before dispatch. It returns false with a reason when
// either counter has passed its limit.
func (p Policy) Admit(t *task.Task) (Reason, bool) {
	if t.NetworkTryCount > p.NetworkTryLimit {
		return ReasonNetworkTryLimit, false
	}
	if t.TaskTryCount > p.TaskTryLimit {
		return ReasonTaskTryLimit, false
	}
	return "", true
}

// ShouldRetry reports whether a task that just failed with a transient
// error may be dispatched again. The attempt that reaches
// NetworkTryLimit+1 is the last one.
func (p Policy) ShouldRetry(t *task.Task) bool {
	return t.NetworkTryCount <= p.NetworkTryLimit
}

// State tracks protocol-level counters for one attempt.
type State struct {
	// Redirects is the number of redirects followed so far.
	Redirects int `json:"redirects"`

	// Chain lists the URLs visited by redirects, in order.
	Chain []string `json:"chain,omitempty"`
}

// RecordRedirect adds a hop and reports whether the chain is still within limit.
func (s *State) RecordRedirect(to string, limit int) bool {
	s.Redirects++
	s.Chain = append(s.Chain, to)
	return s.Redirects <= limit
}

type stateKey struct{}

// WithState attaches an attempt state to a context.
func WithState(ctx context.Context, s *State) context.Context {
	return context.WithValue(ctx, stateKey{}, s)
}

// StateFrom returns the attempt state stored in ctx, if any.
func StateFrom(ctx context.Context) (*State, bool) {
	s, ok := ctx.Value(stateKey{}).(*State)
	return s, ok
}
