package internal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v2"

	"learn.hostlimit/config"
	sqlstorage "learn.hostlimit/internal/storage/sql"
)

const connectTimeout = 5 * time.Second

// ConfigFile represents the top-level structure of the configuration file.
type ConfigFile struct {
	Limiters []config.LimiterConfig `yaml:"limiters"`
}

// LoadConfig reads and unmarshals the YAML config. It expects a list of
// limiters under the 'limiters' key.
func LoadConfig(path string) (*ConfigFile, error) {
	log.Info().Str("config_path", path).Msg("Loading configuration")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}
	var cfg ConfigFile
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config file %s: %w", path, err)
	}
	log.Info().Str("config_path", path).Int("limiters", len(cfg.Limiters)).Msg("Configuration loaded")
	return &cfg, nil
}

// InitRedisClient initializes and pings a Redis client based on config.
func InitRedisClient(cfg *config.LimiterConfig) (*redis.Client, error) {
	if cfg.RedisParams == nil {
		return nil, fmt.Errorf("redis backend selected but redis_params are missing in config")
	}
	log.Info().Str("address", cfg.RedisParams.Address).Int("db", cfg.RedisParams.DB).Msg("Initializing Redis client")
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisParams.Address,
		Password: cfg.RedisParams.Password,
		DB:       cfg.RedisParams.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		log.Error().Err(err).Str("address", cfg.RedisParams.Address).Msg("Redis ping failed")
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.RedisParams.Address, err)
	}
	log.Info().Msg("Connected to Redis successfully")
	return client, nil
}

// InitMemcacheClient initializes and pings a Memcache client based on config.
func InitMemcacheClient(cfg *config.LimiterConfig) (*memcache.Client, error) {
	if cfg.MemcacheParams == nil || len(cfg.MemcacheParams.Addresses) == 0 {
		return nil, fmt.Errorf("memcache backend selected but memcache_params are missing in config")
	}
	log.Info().Strs("addresses", cfg.MemcacheParams.Addresses).Msg("Initializing Memcache client")
	client := memcache.New(cfg.MemcacheParams.Addresses...)
	client.Timeout = connectTimeout
	if err := client.Ping(); err != nil {
		log.Error().Err(err).Strs("addresses", cfg.MemcacheParams.Addresses).Msg("Memcache ping failed")
		client.Close()
		return nil, fmt.Errorf("failed to connect to Memcache at %v: %w", cfg.MemcacheParams.Addresses, err)
	}
	log.Info().Msg("Connected to Memcache successfully")
	return client, nil
}

// InitSQLDB opens and pings the database of the sql backend. The driver must
// be registered by the binary, e.g. with a blank import of modernc.org/sqlite.
func InitSQLDB(cfg *config.LimiterConfig) (*sql.DB, error) {
	if cfg.SQLParams == nil {
		return nil, fmt.Errorf("sql backend selected but sql_params are missing in config")
	}
	log.Info().Str("driver", cfg.SQLParams.Driver).Msg("Initializing database")
	dsn := cfg.SQLParams.DSN
	if cfg.SQLParams.Driver == "sqlite" {
		dsn = sqlstorage.SQLiteDSN(dsn, sqlstorage.DefaultBusyTimeout)
	}
	db, err := sql.Open(cfg.SQLParams.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", cfg.SQLParams.Driver, err)
	}
	if cfg.SQLParams.DSN == ":memory:" {
		// Every connection would see its own empty database.
		db.SetMaxOpenConns(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		log.Error().Err(err).Str("driver", cfg.SQLParams.Driver).Msg("Database ping failed")
		db.Close()
		return nil, fmt.Errorf("failed to connect to %s database: %w", cfg.SQLParams.Driver, err)
	}
	log.Info().Msg("Connected to database successfully")
	return db, nil
}
