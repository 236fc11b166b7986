// Package mcstorage provides a Memcache implementation of the host request storage.
package mcstorage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/rs/zerolog/log"

	"learn.hostlimit/internal/clock"
	"learn.hostlimit/internal/memcacheiface"
	"learn.hostlimit/types"
)

// DefaultMaxRetries bounds the compare-and-swap attempts of one Update.
const DefaultMaxRetries = 10

// ErrTooManyConflicts is returned when Update loses every compare-and-swap race.
var ErrTooManyConflicts = errors.New("memcache: too many concurrent modifications")

// tombstone replaces a record that Update deletes. It keeps the item, and
// with it the CAS version, so a concurrent writer cannot be overwritten.
var tombstone = []byte("{}")

// record is the JSON value stored per host.
type record struct {
	Trial       int   `json:"trial"`
	LastRequest int64 `json:"last_request"`
}

type Storage struct {
	client     memcacheiface.Client
	keyPrefix  string
	expiration int32
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

// WithTTL sets the item expiration. Memcache counts it in whole seconds;
// anything below one second but above zero becomes one second.
func WithTTL(ttl time.Duration) NewStorageOption {
	return func(s *Storage) {
		seconds := int32(ttl / time.Second)
		if ttl > 0 && seconds < 1 {
			seconds = 1
		}
		s.expiration = seconds
	}
}

// WithMaxRetries sets how often Update retries after a conflict.
func WithMaxRetries(n int) NewStorageOption {
	return func(s *Storage) {
		s.maxRetries = n
	}
}

func NewStorage(client memcacheiface.Client, keyPrefix string, opts ...NewStorageOption) *Storage {
	s := &Storage{
		client:     client,
		keyPrefix:  keyPrefix,
		maxRetries: DefaultMaxRetries,
		nowFunc:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.nowFunc = clock.Millis(s.nowFunc)
	log.Info().Str("backend", "Memcache").Str("key_prefix", keyPrefix).Int32("expiration_seconds", s.expiration).Msg("Storage: Initialized")
	return s
}

func (s *Storage) key(host string) string {
	return fmt.Sprintf("%s:%s", s.keyPrefix, host)
}

// fetch returns the item and its decoded record, or nil for both on a miss.
// A tombstone yields the item with a nil record.
func (s *Storage) fetch(memcacheKey string) (*memcache.Item, *types.Requested, error) {
	item, err := s.client.Get(memcacheKey)
	if errors.Is(err, memcache.ErrCacheMiss) {
		return nil, nil, nil
	}
	if err != nil {
		log.Error().Err(err).Str("backend", "Memcache").Str("memcache_key", memcacheKey).Msg("Storage: Get failed")
		return nil, nil, fmt.Errorf("memcache get %s: %w", memcacheKey, err)
	}
	if bytes.Equal(item.Value, tombstone) {
		return item, nil, nil
	}
	var r record
	if err := json.Unmarshal(item.Value, &r); err != nil {
		return nil, nil, fmt.Errorf("memcache get %s: unmarshal: %w", memcacheKey, err)
	}
	return item, &types.Requested{Trial: r.Trial, LastRequest: time.UnixMilli(r.LastRequest)}, nil
}

func (s *Storage) encode(trial int, lastRequest time.Time) ([]byte, error) {
	value, err := json.Marshal(record{Trial: trial, LastRequest: lastRequest.UnixMilli()})
	if err != nil {
		return nil, fmt.Errorf("json marshal failed: %w", err)
	}
	return value, nil
}

// Get implements types.Storage.
func (s *Storage) Get(ctx context.Context, host string) (*types.Requested, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	_, r, err := s.fetch(s.key(host))
	return r, err
}

// Set implements types.Storage.
func (s *Storage) Set(ctx context.Context, host string, trial int, lastRequest time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	memcacheKey := s.key(host)
	value, err := s.encode(trial, lastRequest)
	if err != nil {
		return err
	}
	if err := s.client.Set(&memcache.Item{Key: memcacheKey, Value: value, Expiration: s.expiration}); err != nil {
		log.Error().Err(err).Str("backend", "Memcache").Str("memcache_key", memcacheKey).Msg("Storage: Set failed")
		return fmt.Errorf("memcache set %s: %w", memcacheKey, err)
	}
	return nil
}

// Remove implements types.Storage.
func (s *Storage) Remove(ctx context.Context, host string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.delete(s.key(host))
}

func (s *Storage) delete(memcacheKey string) error {
	err := s.client.Delete(memcacheKey)
	if err != nil && !errors.Is(err, memcache.ErrCacheMiss) {
		log.Error().Err(err).Str("backend", "Memcache").Str("memcache_key", memcacheKey).Msg("Storage: Remove failed")
		return fmt.Errorf("memcache delete %s: %w", memcacheKey, err)
	}
	return nil
}

// Now implements types.Storage. The result has millisecond precision.
func (s *Storage) Now() time.Time {
	return s.nowFunc()
}

// Update implements types.Updater with Add for new hosts and CompareAndSwap
// for existing ones, retrying when another writer got in between. A delete
// swaps in a tombstone rather than removing the item.
func (s *Storage) Update(ctx context.Context, host string, fn types.UpdateFunc) error {
	memcacheKey := s.key(host)
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		item, previous, err := s.fetch(memcacheKey)
		if err != nil {
			return err
		}

		m := fn(previous, s.Now())
		var value []byte
		switch m.Op {
		case types.Keep:
			return nil
		case types.Delete:
			if item == nil {
				return nil
			}
			value = tombstone
		default:
			if value, err = s.encode(m.Trial, m.LastRequest); err != nil {
				return err
			}
		}
		if item == nil {
			err = s.client.Add(&memcache.Item{Key: memcacheKey, Value: value, Expiration: s.expiration})
		} else {
			item.Value = value
			item.Expiration = s.expiration
			err = s.client.CompareAndSwap(item)
		}
		switch {
		case err == nil:
			return nil
		case errors.Is(err, memcache.ErrNotStored), errors.Is(err, memcache.ErrCASConflict):
			log.Debug().Str("backend", "Memcache").Str("memcache_key", memcacheKey).Int("attempt", attempt).Msg("Storage: Update conflict, retrying")
			continue
		default:
			log.Error().Err(err).Str("backend", "Memcache").Str("memcache_key", memcacheKey).Msg("Storage: Update failed")
			return fmt.Errorf("memcache update %s: %w", memcacheKey, err)
		}
	}
	return fmt.Errorf("memcache update %s: %w", memcacheKey, ErrTooManyConflicts)
}

var (
	_ types.Storage = (*Storage)(nil)
	_ types.Updater = (*Storage)(nil)
)
