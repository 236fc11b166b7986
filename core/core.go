// Package core implements the admission decision for a host.
package core

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"learn.hostlimit/types"
)

// Engine decides whether a host may proceed. It keeps no state of its own;
// everything lives in the policy's storage, so one Engine can serve any number
// of concurrent requests.
type Engine struct {
	policy *Policy
}

// NewEngine returns an Engine deciding with policy.
func NewEngine(policy *Policy) *Engine {
	log.Info().Int("limit", policy.limit).Dur("timeout", policy.timeout).Bool("exact_counting", policy.exactCounting).Msg("Engine: Initialized")
	return &Engine{policy: policy}
}

// Policy returns the policy of the engine.
func (e *Engine) Policy() *Policy {
	return e.policy
}

// IsAllowed checks if host may perform a request.
//
// Always allowed hosts pass without touching the storage and always blocked
// hosts are rejected for the full timeout. Otherwise the first limit requests
// are allowed. Further requests are blocked until timeout has passed since the
// last allowed one; blocked requests do not move that point. The first request
// after the timeout clears the record and is allowed.
//
// Storage errors are returned unchanged. Writes that completed before an error
// or a cancellation are not rolled back.
func (e *Engine) IsAllowed(ctx context.Context, host string) (types.Verdict, error) {
	p := e.policy
	if p.alwaysAllow(host) {
		return types.Allow(), nil
	}
	if p.alwaysBlock(host) {
		return types.Block(p.timeout), nil
	}
	if err := ctx.Err(); err != nil {
		return types.Verdict{}, err
	}

	if p.exactCounting {
		return e.update(ctx, host)
	}

	previous, err := p.storage.Get(ctx, host)
	if err != nil {
		return types.Verdict{}, err
	}
	mutation, verdict := p.decide(previous, p.storage.Now())
	switch mutation.Op {
	case types.Put:
		err = p.storage.Set(ctx, host, mutation.Trial, mutation.LastRequest)
	case types.Delete:
		err = p.storage.Remove(ctx, host)
	}
	if err != nil {
		return types.Verdict{}, err
	}
	e.trace(host, previous, verdict)
	return verdict, nil
}

func (e *Engine) update(ctx context.Context, host string) (types.Verdict, error) {
	var (
		verdict  types.Verdict
		previous *types.Requested
	)
	err := e.policy.storage.(types.Updater).Update(ctx, host, func(prev *types.Requested, now time.Time) types.Mutation {
		var m types.Mutation
		m, verdict = e.policy.decide(prev, now)
		previous = prev
		return m
	})
	if err != nil {
		return types.Verdict{}, err
	}
	e.trace(host, previous, verdict)
	return verdict, nil
}

// decide computes the storage mutation and the verdict for a host whose
// stored record is previous.
func (p *Policy) decide(previous *types.Requested, now time.Time) (types.Mutation, types.Verdict) {
	if previous == nil {
		return types.Mutation{Op: types.Put, Trial: 1, LastRequest: now}, types.Allow()
	}
	if previous.Trial < p.limit {
		return types.Mutation{Op: types.Put, Trial: previous.Trial + 1, LastRequest: now}, types.Allow()
	}
	allowedAfter := previous.LastRequest.Add(p.timeout)
	if !now.Before(allowedAfter) {
		return types.Mutation{Op: types.Delete}, types.Allow()
	}
	retryAfter := allowedAfter.Sub(now)
	// A record written by a clock ahead of ours must not block longer than timeout.
	if retryAfter > p.timeout {
		retryAfter = p.timeout
	}
	return types.Mutation{Op: types.Keep}, types.Block(retryAfter)
}

func (e *Engine) trace(host string, previous *types.Requested, verdict types.Verdict) {
	ev := log.Debug().Str("host", host).Bool("allowed", verdict.Allowed)
	if previous != nil {
		ev = ev.Int("previous_trial", previous.Trial)
	}
	if verdict.Blocked() {
		ev = ev.Dur("retry_after", verdict.RetryAfter)
	}
	ev.Msg("Engine: Decision")
}
