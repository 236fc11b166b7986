package factory

import (
	"github.com/rs/zerolog/log"

	"learn.hostlimit/config"
	redisstorage "learn.hostlimit/internal/storage/redis"
	"learn.hostlimit/types"
)

// KeyPrefix is prepended to the limiter key of shared backends.
const KeyPrefix = "hostlimit:"

// RedisFactory creates Redis backed storages.
type RedisFactory struct{}

func NewRedisFactory() *RedisFactory {
	return &RedisFactory{}
}

func (*RedisFactory) CreateStorage(cfg config.LimiterConfig, clients types.BackendClients) (types.Storage, error) {
	if clients.RedisClient == nil {
		return nil, missingClient(cfg, "redis client")
	}
	var opts []redisstorage.NewStorageOption
	if cfg.RedisParams != nil && cfg.RedisParams.TTL > 0 {
		opts = append(opts, redisstorage.WithTTL(cfg.RedisParams.TTL))
	}
	log.Info().Str("limiter_key", cfg.Key).Msg("Factory(Redis): Creating storage")
	return redisstorage.NewStorage(clients.RedisClient, KeyPrefix+cfg.Key, opts...), nil
}
