// Package config holds the file configuration of named host limiters.
package config

import (
	"errors"
	"fmt"
	"time"
)

// BackendType represents the storage backend.
type BackendType string

const (
	InMemory BackendType = "in_memory"
	Redis    BackendType = "redis"
	Memcache BackendType = "memcache"
	SQL      BackendType = "sql"
)

// LimiterConfig holds the configuration for a single host limiter instance.
// Zero values of Limit and Timeout fall back to the engine defaults.
type LimiterConfig struct {
	Key     string        `yaml:"key"`
	Backend BackendType   `yaml:"backend"`
	Limit   int           `yaml:"limit,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty"`

	AlwaysAllow []string `yaml:"always_allow,omitempty"`
	AlwaysBlock []string `yaml:"always_block,omitempty"`
	SkipPaths   []string `yaml:"skip_paths,omitempty"`
	OnlyPaths   []string `yaml:"only_paths,omitempty"`

	SendRetryAfterHeader  *bool `yaml:"send_retry_after_header,omitempty"`
	IgnoreCORSCheck       bool  `yaml:"ignore_cors_check,omitempty"`
	ExactCounting         bool  `yaml:"exact_counting,omitempty"`
	TrustForwardedHeaders bool  `yaml:"trust_forwarded_headers,omitempty"`

	RedisParams    *RedisBackendConfig    `yaml:"redis_params,omitempty"`
	MemcacheParams *MemcacheBackendConfig `yaml:"memcache_params,omitempty"`
	SQLParams      *SQLBackendConfig      `yaml:"sql_params,omitempty"`
}

// RedisBackendConfig holds parameters for the Redis backend.
type RedisBackendConfig struct {
	Address  string        `yaml:"address"`
	Password string        `yaml:"password,omitempty"`
	DB       int           `yaml:"db,omitempty"`
	TTL      time.Duration `yaml:"ttl,omitempty"`
}

// MemcacheBackendConfig holds parameters for the Memcache backend.
type MemcacheBackendConfig struct {
	Addresses []string      `yaml:"addresses"`
	TTL       time.Duration `yaml:"ttl,omitempty"`
}

// SQLBackendConfig holds parameters for the relational backend.
type SQLBackendConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
	Table  string `yaml:"table,omitempty"`
}

// RetryAfterHeader reports whether blocked responses carry Retry-After.
func (c LimiterConfig) RetryAfterHeader() bool {
	return c.SendRetryAfterHeader == nil || *c.SendRetryAfterHeader
}

// Validate checks the fields a limiter cannot be built without.
func (c LimiterConfig) Validate() error {
	if c.Key == "" {
		return errors.New("limiter configuration missing 'key' field")
	}
	if c.Limit < 0 {
		return fmt.Errorf("limiter '%s': limit must not be negative, got %d", c.Key, c.Limit)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("limiter '%s': timeout must not be negative, got %s", c.Key, c.Timeout)
	}
	if len(c.SkipPaths) > 0 && len(c.OnlyPaths) > 0 {
		return fmt.Errorf("limiter '%s': skip_paths and only_paths are mutually exclusive", c.Key)
	}
	switch c.Backend {
	case InMemory:
	case Redis:
		if c.RedisParams == nil || c.RedisParams.Address == "" {
			return fmt.Errorf("limiter '%s': redis backend selected but redis_params.address is missing", c.Key)
		}
	case Memcache:
		if c.MemcacheParams == nil || len(c.MemcacheParams.Addresses) == 0 {
			return fmt.Errorf("limiter '%s': memcache backend selected but memcache_params.addresses is missing", c.Key)
		}
	case SQL:
		if c.SQLParams == nil || c.SQLParams.Driver == "" || c.SQLParams.DSN == "" {
			return fmt.Errorf("limiter '%s': sql backend selected but sql_params.driver or sql_params.dsn is missing", c.Key)
		}
	default:
		return fmt.Errorf("limiter '%s': unsupported backend type '%s'", c.Key, c.Backend)
	}
	return nil
}
