// Package types defines common types and interfaces used throughout the rate limiter.
package types

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/go-redis/redis/v8"
)

var (
	// ErrMissingStorage is returned when a policy is built without a storage.
	ErrMissingStorage = errors.New("hostlimit: storage is required")
	// ErrInvalidLimit is returned when a policy limit is not positive.
	ErrInvalidLimit = errors.New("hostlimit: limit must be greater than zero")
	// ErrInvalidTimeout is returned when a policy timeout is not positive.
	ErrInvalidTimeout = errors.New("hostlimit: timeout must be greater than zero")
	// ErrAtomicUnsupported is returned when exact counting is requested for a
	// storage that does not implement Updater.
	ErrAtomicUnsupported = errors.New("hostlimit: storage does not support atomic updates")
	// ErrCORSNotInstalled is returned when the middleware is installed without a
	// CORS layer in front of it and the check is not disabled.
	ErrCORSNotInstalled = errors.New("hostlimit: install CORS before the rate limiter to avoid limiting CORS requests, or disable the check with IgnoreCORSCheck")
)

// Requested is the stored state of a host.
type Requested struct {
	// Trial counts the allowed requests of the current window, starting at 1.
	Trial int
	// LastRequest is the time of the last allowed request.
	LastRequest time.Time
}

// Storage persists the request information of every host.
// Implementations must be safe for concurrent use.
type Storage interface {
	// Get returns the stored information for host, or nil and no error if there is none.
	Get(ctx context.Context, host string) (*Requested, error)
	// Set creates or overwrites the information for host.
	Set(ctx context.Context, host string, trial int, lastRequest time.Time) error
	// Remove deletes the information for host. Removing an absent host is not an error.
	Remove(ctx context.Context, host string) error
	// Now returns the current time as understood by this storage.
	Now() time.Time
}

// MutationOp tells an Updater what to do with the record of a host.
type MutationOp int

const (
	// Keep leaves the record untouched.
	Keep MutationOp = iota
	// Put writes Trial and LastRequest.
	Put
	// Delete removes the record.
	Delete
)

// Mutation is the outcome of an UpdateFunc.
type Mutation struct {
	Op          MutationOp
	Trial       int
	LastRequest time.Time
}

// UpdateFunc computes the mutation for a host from its previous record.
// It may be called more than once if the storage retries on conflicts.
type UpdateFunc func(previous *Requested, now time.Time) Mutation

// Updater is implemented by storages that can read and modify the record of
// a host atomically.
type Updater interface {
	Update(ctx context.Context, host string, fn UpdateFunc) error
}

// Verdict is the result of one admission check.
type Verdict struct {
	// Allowed is true if the request may proceed.
	Allowed bool
	// RetryAfter is the remaining block duration. It is zero for allowed requests.
	RetryAfter time.Duration
}

// Allow returns an allowing verdict.
func Allow() Verdict {
	return Verdict{Allowed: true}
}

// Block returns a blocking verdict with the given retry after duration.
func Block(retryAfter time.Duration) Verdict {
	return Verdict{RetryAfter: retryAfter}
}

// Blocked reports whether the request was rejected.
func (v Verdict) Blocked() bool {
	return !v.Allowed
}

// SkipResult decides if a request is checked at all.
type SkipResult int

const (
	// ExecuteRateLimit runs the admission check.
	ExecuteRateLimit SkipResult = iota
	// SkipRateLimit lets the request through without touching the storage.
	SkipRateLimit
)

func (s SkipResult) String() string {
	if s == SkipRateLimit {
		return "skip"
	}
	return "execute"
}

// BackendClients holds initialized backend client instances.
type BackendClients struct {
	// RedisClient is the Redis client instance.
	RedisClient *redis.Client
	// MemcacheClient is the Memcache client instance.
	MemcacheClient *memcache.Client
	// DB is the database handle of the sql backend.
	DB *sql.DB
}
