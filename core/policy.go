package core

import (
	"net"
	"net/http"
	"time"

	"learn.hostlimit/types"
)

const (
	// DefaultLimit is the number of allowed requests before a host is blocked.
	DefaultLimit = 1000
	// DefaultTimeout is how long a capped host stays blocked.
	DefaultTimeout = time.Hour
)

// HostFunc extracts the host a request is counted against.
type HostFunc func(r *http.Request) string

// HostPredicate reports a property of a host.
type HostPredicate func(host string) bool

// SkipFunc decides whether a request bypasses the admission check.
type SkipFunc func(r *http.Request) types.SkipResult

// RemoteHost returns the host part of r.RemoteAddr.
func RemoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func never(string) bool { return false }

func execute(*http.Request) types.SkipResult { return types.ExecuteRateLimit }

// Policy is the immutable configuration of an Engine. Create one with a Builder.
type Policy struct {
	storage              types.Storage
	limit                int
	timeout              time.Duration
	host                 HostFunc
	alwaysAllow          HostPredicate
	alwaysBlock          HostPredicate
	skip                 SkipFunc
	sendRetryAfterHeader bool
	ignoreCORSCheck      bool
	exactCounting        bool
}

// Storage returns the storage holding the request information.
func (p *Policy) Storage() types.Storage { return p.storage }

// Limit returns the number of requests allowed before a host is blocked.
func (p *Policy) Limit() int { return p.limit }

// Timeout returns the cool-down after the last allowed request of a capped host.
func (p *Policy) Timeout() time.Duration { return p.timeout }

// Host extracts the host of r.
func (p *Policy) Host(r *http.Request) string { return p.host(r) }

// AlwaysAllow reports whether host bypasses the limit.
func (p *Policy) AlwaysAllow(host string) bool { return p.alwaysAllow(host) }

// AlwaysBlock reports whether host is rejected regardless of its history.
func (p *Policy) AlwaysBlock(host string) bool { return p.alwaysBlock(host) }

// Skip decides whether r bypasses the admission check.
func (p *Policy) Skip(r *http.Request) types.SkipResult { return p.skip(r) }

// SendRetryAfterHeader reports whether blocked responses carry a Retry-After header.
func (p *Policy) SendRetryAfterHeader() bool { return p.sendRetryAfterHeader }

// IgnoreCORSCheck reports whether the middleware may be installed without a CORS layer.
func (p *Policy) IgnoreCORSCheck() bool { return p.ignoreCORSCheck }

// ExactCounting reports whether decisions go through the storage's Updater.
func (p *Policy) ExactCounting() bool { return p.exactCounting }

// Builder collects the settings of a Policy. A Builder is not safe for
// concurrent use; the Policy it builds is.
type Builder struct {
	p Policy
}

// NewBuilder returns a Builder with the default settings: a limit of 1000
// requests, a timeout of one hour, the remote address as host, no always
// allowed or blocked hosts, no skipped requests and the Retry-After header
// enabled.
func NewBuilder(storage types.Storage) *Builder {
	return &Builder{p: Policy{
		storage:              storage,
		limit:                DefaultLimit,
		timeout:              DefaultTimeout,
		host:                 RemoteHost,
		alwaysAllow:          never,
		alwaysBlock:          never,
		skip:                 execute,
		sendRetryAfterHeader: true,
	}}
}

// Limit sets the number of allowed requests until a host is blocked.
func (b *Builder) Limit(limit int) *Builder {
	b.p.limit = limit
	return b
}

// Timeout sets the duration until a blocked host is allowed again.
func (b *Builder) Timeout(timeout time.Duration) *Builder {
	b.p.timeout = timeout
	return b
}

// Host overrides how the host of a request is found. nil restores the default.
func (b *Builder) Host(fn HostFunc) *Builder {
	if fn == nil {
		fn = RemoteHost
	}
	b.p.host = fn
	return b
}

// AlwaysAllow sets the hosts that are never limited. nil restores the default.
func (b *Builder) AlwaysAllow(fn HostPredicate) *Builder {
	if fn == nil {
		fn = never
	}
	b.p.alwaysAllow = fn
	return b
}

// AlwaysBlock sets the hosts that are always rejected. nil restores the default.
func (b *Builder) AlwaysBlock(fn HostPredicate) *Builder {
	if fn == nil {
		fn = never
	}
	b.p.alwaysBlock = fn
	return b
}

// Skip sets the predicate that lets requests bypass the check. nil restores the default.
func (b *Builder) Skip(fn SkipFunc) *Builder {
	if fn == nil {
		fn = execute
	}
	b.p.skip = fn
	return b
}

// SendRetryAfterHeader toggles the Retry-After header on blocked responses.
func (b *Builder) SendRetryAfterHeader(send bool) *Builder {
	b.p.sendRetryAfterHeader = send
	return b
}

// IgnoreCORSCheck disables the check for an upstream CORS layer.
func (b *Builder) IgnoreCORSCheck(ignore bool) *Builder {
	b.p.ignoreCORSCheck = ignore
	return b
}

// ExactCounting makes the engine read and write a host's record in one atomic
// step. The storage must implement types.Updater.
func (b *Builder) ExactCounting(exact bool) *Builder {
	b.p.exactCounting = exact
	return b
}

// Build validates the settings and returns an immutable copy of them.
func (b *Builder) Build() (*Policy, error) {
	if b.p.storage == nil {
		return nil, types.ErrMissingStorage
	}
	if b.p.limit <= 0 {
		return nil, types.ErrInvalidLimit
	}
	if b.p.timeout <= 0 {
		return nil, types.ErrInvalidTimeout
	}
	if b.p.exactCounting {
		if _, ok := b.p.storage.(types.Updater); !ok {
			return nil, types.ErrAtomicUnsupported
		}
	}
	p := b.p
	return &p, nil
}
