package factory

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"learn.hostlimit/config"
	sqlstorage "learn.hostlimit/internal/storage/sql"
	"learn.hostlimit/types"
)

const schemaTimeout = 5 * time.Second

// SQLFactory creates database backed storages and makes sure their table
// exists.
type SQLFactory struct{}

func NewSQLFactory() *SQLFactory {
	return &SQLFactory{}
}

func (*SQLFactory) CreateStorage(cfg config.LimiterConfig, clients types.BackendClients) (types.Storage, error) {
	if clients.DB == nil {
		return nil, missingClient(cfg, "database handle")
	}
	var opts []sqlstorage.NewStorageOption
	if cfg.SQLParams != nil && cfg.SQLParams.Table != "" {
		opts = append(opts, sqlstorage.WithTable(cfg.SQLParams.Table))
	}
	s, err := sqlstorage.NewStorage(clients.DB, cfg.Key, opts...)
	if err != nil {
		return nil, fmt.Errorf("limiter '%s': %w", cfg.Key, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), schemaTimeout)
	defer cancel()
	if err := s.EnsureSchema(ctx); err != nil {
		log.Error().Err(err).Str("limiter_key", cfg.Key).Msg("Factory(SQL): Creating schema failed")
		return nil, fmt.Errorf("limiter '%s': %w", cfg.Key, err)
	}
	log.Info().Str("limiter_key", cfg.Key).Msg("Factory(SQL): Creating storage")
	return s, nil
}
