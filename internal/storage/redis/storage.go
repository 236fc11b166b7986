// Package redisstorage keeps host request information in Redis hashes.
package redisstorage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"learn.hostlimit/internal/clock"
	"learn.hostlimit/types"
)

const (
	fieldTrial       = "trial"
	fieldLastRequest = "last_request"
)

// DefaultMaxRetries bounds the retries of Update after a concurrent change.
const DefaultMaxRetries = 10

// ErrTooManyConflicts is returned by Update when other writers kept changing
// the host's hash.
var ErrTooManyConflicts = errors.New("redis: too many concurrent modifications")

// Storage stores one hash per host under "<keyPrefix>:<host>" with the fields
// trial and last_request (epoch milliseconds).
type Storage struct {
	client     *redis.Client
	keyPrefix  string
	ttl        time.Duration
	maxRetries int
	nowFunc    func() time.Time
}

// NewStorageOption is a function type for setting options on a Storage.
type NewStorageOption func(*Storage)

// WithClock sets a custom clock (nowFunc) for the Storage.
func WithClock(nowFunc func() time.Time) NewStorageOption {
	return func(s *Storage) {
		s.nowFunc = nowFunc
	}
}

// WithTTL lets Redis expire idle hosts after ttl. A host that expires loses
// its count, so ttl should be well above the limiter timeout. Zero disables
// expiry.
func WithTTL(ttl time.Duration) NewStorageOption {
	return func(s *Storage) {
		s.ttl = ttl
	}
}

// WithMaxRetries sets how often Update retries after a conflict.
func WithMaxRetries(n int) NewStorageOption {
	return func(s *Storage) {
		s.maxRetries = n
	}
}

// NewStorage creates a Redis-backed storage.
func NewStorage(client *redis.Client, keyPrefix string, opts ...NewStorageOption) *Storage {
	s := &Storage{
		client:     client,
		keyPrefix:  keyPrefix,
		maxRetries: DefaultMaxRetries,
		nowFunc:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	// Times are stored as milliseconds.
	s.nowFunc = clock.Millis(s.nowFunc)
	log.Info().Str("backend", "Redis").Str("key_prefix", keyPrefix).Dur("ttl", s.ttl).Msg("Storage: Initialized")
	return s
}

func (s *Storage) key(host string) string {
	return s.keyPrefix + ":" + host
}

// Get implements types.Storage.
func (s *Storage) Get(ctx context.Context, host string) (*types.Requested, error) {
	_, r, err := s.fetch(ctx, s.key(host))
	return r, err
}

// fetch returns the raw hash and its decoded record, or nil for an absent
// host.
func (s *Storage) fetch(ctx context.Context, redisKey string) (map[string]string, *types.Requested, error) {
	values, err := s.client.HGetAll(ctx, redisKey).Result()
	if err != nil {
		log.Error().Err(err).Str("backend", "Redis").Str("redis_key", redisKey).Msg("Storage: Get failed")
		return nil, nil, fmt.Errorf("redis get %s: %w", redisKey, err)
	}
	if len(values) == 0 {
		return values, nil, nil
	}

	trial, err := strconv.Atoi(values[fieldTrial])
	if err != nil {
		return nil, nil, fmt.Errorf("redis get %s: invalid %s: %w", redisKey, fieldTrial, err)
	}
	millis, err := strconv.ParseInt(values[fieldLastRequest], 10, 64)
	if err != nil {
		return nil, nil, fmt.Errorf("redis get %s: invalid %s: %w", redisKey, fieldLastRequest, err)
	}
	return values, &types.Requested{Trial: trial, LastRequest: time.UnixMilli(millis)}, nil
}

// Set implements types.Storage. With a TTL the write and the expiry go out
// in one MULTI/EXEC, so a record never lands without its expiry.
func (s *Storage) Set(ctx context.Context, host string, trial int, lastRequest time.Time) error {
	redisKey := s.key(host)
	var err error
	if s.ttl > 0 {
		_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, redisKey, fieldTrial, trial, fieldLastRequest, lastRequest.UnixMilli())
			pipe.Expire(ctx, redisKey, s.ttl)
			return nil
		})
	} else {
		err = s.client.HSet(ctx, redisKey, fieldTrial, trial, fieldLastRequest, lastRequest.UnixMilli()).Err()
	}
	if err != nil {
		log.Error().Err(err).Str("backend", "Redis").Str("redis_key", redisKey).Msg("Storage: Set failed")
		return fmt.Errorf("redis set %s: %w", redisKey, err)
	}
	return nil
}

// Remove implements types.Storage.
func (s *Storage) Remove(ctx context.Context, host string) error {
	redisKey := s.key(host)
	if err := s.client.Del(ctx, redisKey).Err(); err != nil {
		log.Error().Err(err).Str("backend", "Redis").Str("redis_key", redisKey).Msg("Storage: Remove failed")
		return fmt.Errorf("redis remove %s: %w", redisKey, err)
	}
	return nil
}

// Now implements types.Storage. The result has millisecond precision.
func (s *Storage) Now() time.Time {
	return s.nowFunc()
}

// Update implements types.Updater. It reads the hash, lets fn decide, and
// applies the result with compareAndSetScript, which refuses the write if the
// hash changed since the read. Refused writes are retried.
func (s *Storage) Update(ctx context.Context, host string, fn types.UpdateFunc) error {
	redisKey := s.key(host)
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		values, previous, err := s.fetch(ctx, redisKey)
		if err != nil {
			return err
		}

		m := fn(previous, s.Now())
		args := []interface{}{values[fieldTrial], values[fieldLastRequest]}
		switch m.Op {
		case types.Keep:
			return nil
		case types.Delete:
			args = append(args, opDelete, "", "", "0")
		default:
			args = append(args, opPut,
				strconv.Itoa(m.Trial),
				strconv.FormatInt(m.LastRequest.UnixMilli(), 10),
				strconv.FormatInt(s.ttl.Milliseconds(), 10))
		}

		applied, err := compareAndSetScript.Run(ctx, s.client, []string{redisKey}, args...).Int64()
		if err != nil {
			log.Error().Err(err).Str("backend", "Redis").Str("redis_key", redisKey).Msg("Storage: Update failed")
			return fmt.Errorf("redis update %s: %w", redisKey, err)
		}
		if applied == 1 {
			return nil
		}
		log.Debug().Str("backend", "Redis").Str("redis_key", redisKey).Int("attempt", attempt).Msg("Storage: Update conflict, retrying")
	}
	return fmt.Errorf("redis update %s: %w", redisKey, ErrTooManyConflicts)
}

var (
	_ types.Storage = (*Storage)(nil)
	_ types.Updater = (*Storage)(nil)
)
