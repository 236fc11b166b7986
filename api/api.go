// Package api builds named host limiters from a configuration file.
package api

import (
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"

	apiinternal "learn.hostlimit/api/internal"
	"learn.hostlimit/config"
	"learn.hostlimit/core"
	"learn.hostlimit/types"
)

// clientCloser holds backend clients and implements io.Closer.
type clientCloser struct {
	clients types.BackendClients
}

// Close shuts down all initialized backend clients.
func (c *clientCloser) Close() error {
	log.Info().Msg("API: Starting backend client shutdown")
	var errs []error

	if c.clients.RedisClient != nil {
		if err := c.clients.RedisClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close Redis client: %w", err))
		}
	}
	if c.clients.MemcacheClient != nil {
		if err := c.clients.MemcacheClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close Memcache client: %w", err))
		}
	}
	if c.clients.DB != nil {
		if err := c.clients.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		log.Error().Err(err).Msg("API: Errors during backend client shutdown")
		return err
	}
	log.Info().Msg("API: Backend client shutdown complete")
	return nil
}

// NewLimitersFromConfigPath loads config, initializes any needed backend
// clients, and returns the engines and configs keyed by limiter key, plus an
// io.Closer for the backend clients.
//
// Limiters that share a backend type share its client, which is built from
// the first limiter using that backend.
func NewLimitersFromConfigPath(configPath string) (map[string]*core.Engine, map[string]config.LimiterConfig, io.Closer, error) {
	log.Info().Str("config_path", configPath).Msg("API: Starting initialization of host limiters")
	cfgFile, err := apiinternal.LoadConfig(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("error loading configuration: %w", err)
	}
	if len(cfgFile.Limiters) == 0 {
		return nil, nil, nil, fmt.Errorf("no limiter configurations found in %s", configPath)
	}
	for _, cfg := range cfgFile.Limiters {
		if err := cfg.Validate(); err != nil {
			return nil, nil, nil, err
		}
	}

	closer := &clientCloser{}
	if err := initClients(cfgFile.Limiters, &closer.clients); err != nil {
		closer.Close()
		return nil, nil, nil, err
	}

	engines := make(map[string]*core.Engine, len(cfgFile.Limiters))
	configs := make(map[string]config.LimiterConfig, len(cfgFile.Limiters))
	for _, cfg := range cfgFile.Limiters {
		if _, dup := engines[cfg.Key]; dup {
			closer.Close()
			return nil, nil, nil, fmt.Errorf("duplicate limiter key '%s'", cfg.Key)
		}
		engine, err := NewEngine(cfg, closer.clients)
		if err != nil {
			closer.Close()
			return nil, nil, nil, fmt.Errorf("limiter '%s': failed to create instance: %w", cfg.Key, err)
		}
		engines[cfg.Key] = engine
		configs[cfg.Key] = cfg
		log.Info().Str("limiter_key", cfg.Key).Str("backend", string(cfg.Backend)).Msg("API: Limiter created")
	}

	log.Info().Int("limiters", len(engines)).Msg("API: All host limiters initialized")
	return engines, configs, closer, nil
}

func initClients(cfgs []config.LimiterConfig, clients *types.BackendClients) error {
	var err error
	for i := range cfgs {
		cfg := &cfgs[i]
		switch cfg.Backend {
		case config.Redis:
			if clients.RedisClient == nil {
				if clients.RedisClient, err = apiinternal.InitRedisClient(cfg); err != nil {
					return err
				}
			}
		case config.Memcache:
			if clients.MemcacheClient == nil {
				if clients.MemcacheClient, err = apiinternal.InitMemcacheClient(cfg); err != nil {
					return err
				}
			}
		case config.SQL:
			if clients.DB == nil {
				if clients.DB, err = apiinternal.InitSQLDB(cfg); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
