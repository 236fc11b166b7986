// Package sqlstorage keeps host request information in a relational table.
//
// The statements use "?" placeholders and "INSERT ... ON CONFLICT" upserts, as
// understood by SQLite. Several limiters can share one table; rows are keyed
// by (limiter, host).
package sqlstorage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"learn.hostlimit/internal/clock"
	"learn.hostlimit/types"
)

const (
	// DefaultTable is the table used unless WithTable says otherwise.
	DefaultTable = "hostlimit_requests"
	// DefaultBusyTimeout is how long a SQLite connection waits for a lock.
	DefaultBusyTimeout = 5 * time.Second
)

var validTable = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Storage is a database/sql backed storage.
type Storage struct {
	db      *sql.DB
	limiter string
	table   string
	nowFunc func() time.Time

	createStmt string
	selectStmt string
	upsertStmt string
	deleteStmt string
}

// NewStorageOption is a function type for setting options on a Storage.
type NewStorageOption func(*Storage)

// WithClock sets a custom clock (nowFunc) for the Storage.
func WithClock(nowFunc func() time.Time) NewStorageOption {
	return func(s *Storage) {
		s.nowFunc = nowFunc
	}
}

// WithTable sets the table name.
func WithTable(table string) NewStorageOption {
	return func(s *Storage) {
		s.table = table
	}
}

// NewStorage creates a storage for the rows of limiter in db.
func NewStorage(db *sql.DB, limiter string, opts ...NewStorageOption) (*Storage, error) {
	s := &Storage{
		db:      db,
		limiter: limiter,
		table:   DefaultTable,
		nowFunc: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if !validTable.MatchString(s.table) {
		return nil, fmt.Errorf("invalid table name %q", s.table)
	}
	s.nowFunc = clock.Millis(s.nowFunc)

	s.createStmt = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	limiter TEXT NOT NULL,
	host TEXT NOT NULL,
	trials INTEGER NOT NULL,
	last_request BIGINT NOT NULL,
	PRIMARY KEY (limiter, host)
)`, s.table)
	s.selectStmt = fmt.Sprintf("SELECT trials, last_request FROM %s WHERE limiter = ? AND host = ?", s.table)
	s.upsertStmt = fmt.Sprintf("INSERT INTO %s (limiter, host, trials, last_request) VALUES (?, ?, ?, ?) "+
		"ON CONFLICT (limiter, host) DO UPDATE SET trials = excluded.trials, last_request = excluded.last_request", s.table)
	s.deleteStmt = fmt.Sprintf("DELETE FROM %s WHERE limiter = ? AND host = ?", s.table)

	log.Info().Str("backend", "SQL").Str("limiter_key", limiter).Str("table", s.table).Msg("Storage: Initialized")
	return s, nil
}

// EnsureSchema creates the table if it does not exist yet.
func (s *Storage) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, s.createStmt); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Storage) get(ctx context.Context, q queryer, host string) (*types.Requested, error) {
	var (
		trials int
		millis int64
	)
	err := q.QueryRowContext(ctx, s.selectStmt, s.limiter, host).Scan(&trials, &millis)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		log.Error().Err(err).Str("backend", "SQL").Str("limiter_key", s.limiter).Str("host", host).Msg("Storage: Get failed")
		return nil, fmt.Errorf("sql get %s/%s: %w", s.limiter, host, err)
	}
	return &types.Requested{Trial: trials, LastRequest: time.UnixMilli(millis)}, nil
}

func (s *Storage) set(ctx context.Context, q queryer, host string, trial int, lastRequest time.Time) error {
	if _, err := q.ExecContext(ctx, s.upsertStmt, s.limiter, host, trial, lastRequest.UnixMilli()); err != nil {
		log.Error().Err(err).Str("backend", "SQL").Str("limiter_key", s.limiter).Str("host", host).Msg("Storage: Set failed")
		return fmt.Errorf("sql set %s/%s: %w", s.limiter, host, err)
	}
	return nil
}

func (s *Storage) remove(ctx context.Context, q queryer, host string) error {
	if _, err := q.ExecContext(ctx, s.deleteStmt, s.limiter, host); err != nil {
		log.Error().Err(err).Str("backend", "SQL").Str("limiter_key", s.limiter).Str("host", host).Msg("Storage: Remove failed")
		return fmt.Errorf("sql remove %s/%s: %w", s.limiter, host, err)
	}
	return nil
}

// Get implements types.Storage.
func (s *Storage) Get(ctx context.Context, host string) (*types.Requested, error) {
	return s.get(ctx, s.db, host)
}

// Set implements types.Storage.
func (s *Storage) Set(ctx context.Context, host string, trial int, lastRequest time.Time) error {
	return s.set(ctx, s.db, host, trial, lastRequest)
}

// Remove implements types.Storage.
func (s *Storage) Remove(ctx context.Context, host string) error {
	return s.remove(ctx, s.db, host)
}

// Now implements types.Storage. The result has millisecond precision.
func (s *Storage) Now() time.Time {
	return s.nowFunc()
}

// Update implements types.Updater by running the read and the write in one
// transaction. With a DSN from SQLiteDSN the transaction takes the write lock
// when it begins, so concurrent updates of a file database queue on the busy
// timeout instead of failing with SQLITE_BUSY.
func (s *Storage) Update(ctx context.Context, host string, fn types.UpdateFunc) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sql update %s/%s: begin: %w", s.limiter, host, err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				log.Error().Err(rbErr).Str("backend", "SQL").Str("limiter_key", s.limiter).Str("host", host).Msg("Storage: Rollback failed")
			}
		}
	}()

	previous, err := s.get(ctx, tx, host)
	if err != nil {
		return err
	}
	m := fn(previous, s.Now())
	switch m.Op {
	case types.Put:
		err = s.set(ctx, tx, host, m.Trial, m.LastRequest)
	case types.Delete:
		err = s.remove(ctx, tx, host)
	}
	if err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("sql update %s/%s: commit: %w", s.limiter, host, err)
	}
	return nil
}

// SQLiteDSN adds the connection parameters the storage relies on to a
// modernc.org/sqlite data source name: a busy timeout, transactions that
// begin with BEGIN IMMEDIATE and, for file databases, WAL journaling.
func SQLiteDSN(dsn string, busyTimeout time.Duration) string {
	params := []string{
		fmt.Sprintf("_pragma=busy_timeout(%d)", busyTimeout.Milliseconds()),
		"_txlock=immediate",
	}
	if !strings.Contains(dsn, ":memory:") && !strings.Contains(dsn, "mode=memory") {
		params = append(params, "_pragma=journal_mode(WAL)")
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(params, "&")
}

var (
	_ types.Storage = (*Storage)(nil)
	_ types.Updater = (*Storage)(nil)
)
