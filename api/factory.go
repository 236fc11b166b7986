package api

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"learn.hostlimit/config"
	"learn.hostlimit/core"
	"learn.hostlimit/internal/factory"
	"learn.hostlimit/middleware"
	"learn.hostlimit/types"
)

// NewEngine creates the storage cfg asks for and an engine deciding with the
// policy cfg describes.
func NewEngine(cfg config.LimiterConfig, clients types.BackendClients) (*core.Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	storage, err := factory.CreateStorage(cfg, clients)
	if err != nil {
		return nil, err
	}
	policy, err := NewPolicy(cfg, storage)
	if err != nil {
		return nil, fmt.Errorf("limiter '%s': %w", cfg.Key, err)
	}
	return core.NewEngine(policy), nil
}

// NewPolicy translates cfg into a policy over storage.
func NewPolicy(cfg config.LimiterConfig, storage types.Storage) (*core.Policy, error) {
	b := core.NewBuilder(storage).
		SendRetryAfterHeader(cfg.RetryAfterHeader()).
		IgnoreCORSCheck(cfg.IgnoreCORSCheck).
		ExactCounting(cfg.ExactCounting)
	if cfg.Limit != 0 {
		b.Limit(cfg.Limit)
	}
	if cfg.Timeout != 0 {
		b.Timeout(cfg.Timeout)
	}
	if len(cfg.AlwaysAllow) > 0 {
		b.AlwaysAllow(hostSet(cfg.AlwaysAllow))
	}
	if len(cfg.AlwaysBlock) > 0 {
		b.AlwaysBlock(hostSet(cfg.AlwaysBlock))
	}
	switch {
	case len(cfg.OnlyPaths) > 0:
		b.Skip(middleware.OnlyPaths(cfg.OnlyPaths...))
	case len(cfg.SkipPaths) > 0:
		b.Skip(middleware.SkipPaths(cfg.SkipPaths...))
	}
	if cfg.TrustForwardedHeaders {
		b.Host(middleware.ClientIP)
	}
	policy, err := b.Build()
	if err != nil {
		log.Error().Err(err).Str("limiter_key", cfg.Key).Msg("API: Invalid limiter policy")
		return nil, err
	}
	return policy, nil
}

func hostSet(hosts []string) core.HostPredicate {
	set := make(map[string]struct{}, len(hosts))
	for _, h := range hosts {
		set[h] = struct{}{}
	}
	return func(host string) bool {
		_, ok := set[host]
		return ok
	}
}
