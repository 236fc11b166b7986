package factory

import (
	"github.com/rs/zerolog/log"

	"learn.hostlimit/config"
	"learn.hostlimit/internal/storage/inmemory"
	"learn.hostlimit/types"
)

// InMemoryFactory creates process-local storages.
type InMemoryFactory struct{}

func NewInMemoryFactory() *InMemoryFactory {
	return &InMemoryFactory{}
}

// CreateStorage returns a fresh in-memory storage; clients are not used.
func (*InMemoryFactory) CreateStorage(cfg config.LimiterConfig, _ types.BackendClients) (types.Storage, error) {
	log.Info().Str("limiter_key", cfg.Key).Msg("Factory(InMemory): Creating storage")
	return inmemory.NewStorage(), nil
}
