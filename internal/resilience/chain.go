package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllBackendsFailed is returned when every entry in a [Chain] failed or
// sat behind an open breaker.
var ErrAllBackendsFailed = errors.New("resilience: all backends failed")

type chainEntry[T any] struct {
	name    string
	backend T
	breaker *Breaker
}

// Chain is an ordered list of interchangeable backends, each behind its own
// [Breaker]. Calls go to the first entry whose breaker admits them; on
// failure the next entry is tried. Entries must all be added before the
// chain is used; Add is not safe concurrently with Try.
type Chain[T any] struct {
	entries    []chainEntry[T]
	breakerCfg BreakerConfig
}

// NewChain creates an empty chain whose per-backend breakers use cfg.
func NewChain[T any](cfg BreakerConfig) *Chain[T] {
	return &Chain[T]{breakerCfg: cfg}
}

// Add appends a backend. Backends are tried in insertion order.
func (c *Chain[T]) Add(name string, backend T) {
	cfg := c.breakerCfg
	cfg.Name = name
	c.entries = append(c.entries, chainEntry[T]{
		name:    name,
		backend: backend,
		breaker: NewBreaker(cfg),
	})
}

// Len reports the number of registered backends.
func (c *Chain[T]) Len() int { return len(c.entries) }

// Primary returns the first registered backend. It panics on an empty chain.
func (c *Chain[T]) Primary() T { return c.entries[0].backend }

// Try runs fn against each backend in order until one succeeds.
// Open-breaker entries are skipped. Context errors abort the walk
// immediately: a cancelled turn must not fall through to a second backend.
// When every entry fails the last error is wrapped in
// [ErrAllBackendsFailed]. It is a package-level function because Go methods
// cannot introduce the result type parameter.
func Try[T, R any](ctx context.Context, c *Chain[T], fn func(T) (R, error)) (R, error) {
	var (
		zero    R
		lastErr error
	)
	for i := range c.entries {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		e := &c.entries[i]
		var result R
		err := e.breaker.Do(func() error {
			var innerErr error
			result, innerErr = fn(e.backend)
			return innerErr
		})
		if err == nil {
			return result, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return zero, err
		}
		if errors.Is(err, ErrBreakerOpen) {
			slog.Debug("skipping backend, breaker open", "backend", e.name)
		} else {
			slog.Warn("backend failed, trying next", "backend", e.name, "error", err)
		}
		lastErr = err
	}
	return zero, fmt.Errorf("%w: %v", ErrAllBackendsFailed, lastErr)
}
