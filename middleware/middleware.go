package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"learn.hostlimit/core"
	"learn.hostlimit/metrics"
	"learn.hostlimit/types"
)

// RateLimitMiddleware rejects requests of hosts that exceeded their limit.
type RateLimitMiddleware struct {
	engine     *core.Engine
	metrics    *metrics.RateLimitMetrics
	limiterKey string
}

type options struct {
	corsInstalled bool
}

// Option configures NewRateLimitMiddleware.
type Option func(*options)

// WithCORSInstalled declares that a CORS handler runs before the rate limiter,
// so preflight requests are answered before they are counted.
func WithCORSInstalled() Option {
	return func(o *options) {
		o.corsInstalled = true
	}
}

// NewRateLimitMiddleware creates a new RateLimitMiddleware. Unless the policy
// ignores the CORS check, WithCORSInstalled must be given; otherwise
// types.ErrCORSNotInstalled is returned. A nil m records into a private
// registry.
func NewRateLimitMiddleware(engine *core.Engine, m *metrics.RateLimitMetrics, limiterKey string, opts ...Option) (*RateLimitMiddleware, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if !o.corsInstalled && !engine.Policy().IgnoreCORSCheck() {
		log.Error().Str("limiter_key", limiterKey).Msg("Middleware: CORS is not installed before the rate limiter")
		return nil, types.ErrCORSNotInstalled
	}
	if m == nil {
		m = metrics.NewRateLimitMetrics(prometheus.NewRegistry(), limiterKey)
	}
	return &RateLimitMiddleware{
		engine:     engine,
		metrics:    m,
		limiterKey: limiterKey,
	}, nil
}

// Handler wraps next with the admission check. It fits chi's Use.
func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		policy := m.engine.Policy()
		if policy.Skip(r) == types.SkipRateLimit {
			m.metrics.RecordSkip()
			next.ServeHTTP(w, r)
			return
		}

		host := policy.Host(r)
		verdict, err := m.engine.IsAllowed(r.Context(), host)
		if err != nil {
			log.Error().Err(err).Str("limiter_key", m.limiterKey).Str("host", host).Msg("Middleware: Error checking rate limit")
			m.metrics.RecordError()
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}

		if verdict.Allowed {
			m.metrics.RecordRequest(true)
			next.ServeHTTP(w, r)
			return
		}

		m.metrics.RecordBlock(verdict.RetryAfter.Seconds())
		if policy.SendRetryAfterHeader() {
			w.Header().Set("Retry-After", strconv.FormatInt(RetryAfterSeconds(verdict.RetryAfter), 10))
		}
		log.Debug().Str("limiter_key", m.limiterKey).Str("host", host).Dur("retry_after", verdict.RetryAfter).Msg("Middleware: Request rate limited")
		http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
	})
}

// Handle wraps an http.HandlerFunc with rate limiting logic.
func (m *RateLimitMiddleware) Handle(next http.HandlerFunc) http.HandlerFunc {
	return m.Handler(next).ServeHTTP
}

// RetryAfterSeconds rounds d up to whole seconds, so a client waiting that
// long is never early. This differs from truncating to whole seconds, which
// reports 1 for 1.5s and 0 for anything under a second.
func RetryAfterSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64((d + time.Second - 1) / time.Second)
}
