package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels of hostlimit_requests_total.
const (
	OutcomeAllowed = "allowed"
	OutcomeBlocked = "blocked"
	OutcomeSkipped = "skipped"
	OutcomeError   = "error"
)

// RateLimitMetrics counts the admission outcomes of one limiter.
type RateLimitMetrics struct {
	limiterKey    string
	requests      *prometheus.CounterVec
	storageErrors *prometheus.CounterVec
	retryAfter    *prometheus.HistogramVec
}

// Collectors are registered once per registry and shared by every limiter
// recording into it.
type collectors struct {
	requests      *prometheus.CounterVec
	storageErrors *prometheus.CounterVec
	retryAfter    *prometheus.HistogramVec
}

var (
	mu         sync.Mutex
	registered = make(map[prometheus.Registerer]*collectors)
)

// NewRateLimitMetrics returns the metrics of the limiter limiterKey, registered with reg.
// Passing nil uses prometheus.DefaultRegisterer.
func NewRateLimitMetrics(reg prometheus.Registerer, limiterKey string) *RateLimitMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := collectorsFor(reg)
	return &RateLimitMetrics{
		limiterKey:    limiterKey,
		requests:      c.requests,
		storageErrors: c.storageErrors,
		retryAfter:    c.retryAfter,
	}
}

func collectorsFor(reg prometheus.Registerer) *collectors {
	mu.Lock()
	defer mu.Unlock()
	if c, ok := registered[reg]; ok {
		return c
	}
	factory := promauto.With(reg)
	c := &collectors{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hostlimit",
			Name:      "requests_total",
			Help:      "Admission checks by limiter and outcome.",
		}, []string{"limiter", "outcome"}),
		storageErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hostlimit",
			Name:      "storage_errors_total",
			Help:      "Admission checks that failed because of the storage.",
		}, []string{"limiter"}),
		retryAfter: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "hostlimit",
			Name:      "retry_after_seconds",
			Help:      "Remaining block duration handed to rejected hosts.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}, []string{"limiter"}),
	}
	registered[reg] = c
	return c
}

// RecordRequest counts an allowed or blocked request.
func (r *RateLimitMetrics) RecordRequest(allowed bool) {
	outcome := OutcomeBlocked
	if allowed {
		outcome = OutcomeAllowed
	}
	r.requests.WithLabelValues(r.limiterKey, outcome).Inc()
}

// RecordBlock counts a blocked request and the retry after it was given.
func (r *RateLimitMetrics) RecordBlock(retryAfterSeconds float64) {
	r.RecordRequest(false)
	r.retryAfter.WithLabelValues(r.limiterKey).Observe(retryAfterSeconds)
}

// RecordSkip counts a request that bypassed the check.
func (r *RateLimitMetrics) RecordSkip() {
	r.requests.WithLabelValues(r.limiterKey, OutcomeSkipped).Inc()
}

// RecordError counts a check that failed in the storage.
func (r *RateLimitMetrics) RecordError() {
	r.requests.WithLabelValues(r.limiterKey, OutcomeError).Inc()
	r.storageErrors.WithLabelValues(r.limiterKey).Inc()
}

// Requests returns the counter of the given outcome for this limiter.
func (r *RateLimitMetrics) Requests(outcome string) prometheus.Counter {
	return r.requests.WithLabelValues(r.limiterKey, outcome)
}
