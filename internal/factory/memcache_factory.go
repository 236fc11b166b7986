package factory

import (
	"github.com/rs/zerolog/log"

	"learn.hostlimit/config"
	mcstorage "learn.hostlimit/internal/storage/memcache"
	"learn.hostlimit/types"
)

// MemcacheFactory creates Memcache backed storages.
type MemcacheFactory struct{}

func NewMemcacheFactory() *MemcacheFactory {
	return &MemcacheFactory{}
}

func (*MemcacheFactory) CreateStorage(cfg config.LimiterConfig, clients types.BackendClients) (types.Storage, error) {
	if clients.MemcacheClient == nil {
		return nil, missingClient(cfg, "memcache client")
	}
	var opts []mcstorage.NewStorageOption
	if cfg.MemcacheParams != nil && cfg.MemcacheParams.TTL > 0 {
		opts = append(opts, mcstorage.WithTTL(cfg.MemcacheParams.TTL))
	}
	log.Info().Str("limiter_key", cfg.Key).Msg("Factory(Memcache): Creating storage")
	return mcstorage.NewStorage(clients.MemcacheClient, KeyPrefix+cfg.Key, opts...), nil
}
