// Package factory creates the storage of a limiter from its configuration.
package factory

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"learn.hostlimit/config"
	"learn.hostlimit/types"
)

// StorageFactory creates the storage of one backend type.
type StorageFactory interface {
	CreateStorage(cfg config.LimiterConfig, clients types.BackendClients) (types.Storage, error)
}

// ForBackend returns the factory for backend.
func ForBackend(backend config.BackendType) (StorageFactory, error) {
	switch backend {
	case config.InMemory:
		return NewInMemoryFactory(), nil
	case config.Redis:
		return NewRedisFactory(), nil
	case config.Memcache:
		return NewMemcacheFactory(), nil
	case config.SQL:
		return NewSQLFactory(), nil
	default:
		err := fmt.Errorf("unsupported backend type '%s'", backend)
		log.Error().Err(err).Msg("Factory: Lookup failed")
		return nil, err
	}
}

// CreateStorage creates the storage cfg asks for.
func CreateStorage(cfg config.LimiterConfig, clients types.BackendClients) (types.Storage, error) {
	f, err := ForBackend(cfg.Backend)
	if err != nil {
		return nil, fmt.Errorf("limiter '%s': %w", cfg.Key, err)
	}
	return f.CreateStorage(cfg, clients)
}

func missingClient(cfg config.LimiterConfig, client string) error {
	err := fmt.Errorf("%s is required but not provided for %s backend for key '%s'", client, cfg.Backend, cfg.Key)
	log.Error().Err(err).Str("limiter_key", cfg.Key).Msg("Factory: Creation failed")
	return err
}
