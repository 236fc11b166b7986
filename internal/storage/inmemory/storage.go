// Package inmemory provides a process-local storage for host request information.
package inmemory

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"learn.hostlimit/types"
)

// Storage keeps the request information of every host in a map. Nothing
// survives a restart.
type Storage struct {
	mu      sync.Mutex
	records map[string]types.Requested
	nowFunc func() time.Time
}

// NewStorageOption is a function type for setting options on a Storage.
type NewStorageOption func(*Storage)

// WithClock sets a custom clock (nowFunc) for the Storage.
func WithClock(nowFunc func() time.Time) NewStorageOption {
	return func(s *Storage) {
		s.nowFunc = nowFunc
	}
}

// NewStorage creates an empty in-memory storage.
func NewStorage(opts ...NewStorageOption) *Storage {
	s := &Storage{
		records: make(map[string]types.Requested),
		nowFunc: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	log.Info().Str("backend", "InMemory").Msg("Storage: Initialized")
	return s
}

// Get implements types.Storage.
func (s *Storage) Get(ctx context.Context, host string) (*types.Requested, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[host]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

// Set implements types.Storage.
func (s *Storage) Set(ctx context.Context, host string, trial int, lastRequest time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.records[host] = types.Requested{Trial: trial, LastRequest: lastRequest}
	s.mu.Unlock()
	return nil
}

// Remove implements types.Storage.
func (s *Storage) Remove(ctx context.Context, host string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.records, host)
	s.mu.Unlock()
	return nil
}

// Now implements types.Storage.
func (s *Storage) Now() time.Time {
	return s.nowFunc()
}

// Update implements types.Updater. fn runs while the storage is locked.
func (s *Storage) Update(ctx context.Context, host string, fn types.UpdateFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var previous *types.Requested
	if r, ok := s.records[host]; ok {
		previous = &r
	}
	m := fn(previous, s.nowFunc())
	switch m.Op {
	case types.Put:
		s.records[host] = types.Requested{Trial: m.Trial, LastRequest: m.LastRequest}
	case types.Delete:
		delete(s.records, host)
	}
	return nil
}

// Len returns the number of stored hosts.
func (s *Storage) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

var (
	_ types.Storage = (*Storage)(nil)
	_ types.Updater = (*Storage)(nil)
)
