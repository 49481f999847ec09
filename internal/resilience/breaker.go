// Package resilience guards the remote pipeline stages against flapping
// services. A three-state [Breaker] trips after consecutive failures and
// probes recovery after a cooldown; [Chain] composes multiple backends of one
// client type behind per-backend breakers so a dead primary is bypassed.
//
// Context cancellation is never counted as a backend failure: a player
// walking away from a conversation must not trip a breaker.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrBreakerOpen is returned by [Breaker.Do] while the breaker is open and
// the cooldown has not yet elapsed.
var ErrBreakerOpen = errors.New("resilience: breaker open")

// BreakerState is the operating mode of a [Breaker].
type BreakerState int

const (
	// BreakerClosed forwards every call.
	BreakerClosed BreakerState = iota

	// BreakerOpen rejects calls with [ErrBreakerOpen] until the cooldown
	// elapses.
	BreakerOpen

	// BreakerHalfOpen lets a limited number of probe calls through; success
	// closes the breaker, any failure re-opens it.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a [Breaker]. Zero fields take defaults.
type BreakerConfig struct {
	// Name labels the breaker in log output.
	Name string

	// TripAfter is the consecutive-failure count that opens the breaker.
	// Default 3 (conversation turns are expensive; give up early).
	TripAfter int

	// Cooldown is how long the breaker stays open before probing.
	// Default 15s.
	Cooldown time.Duration

	// ProbeQuota is how many probe calls the half-open state admits.
	// Default 1.
	ProbeQuota int
}

// Breaker is a three-state circuit breaker.
type Breaker struct {
	name       string
	tripAfter  int
	cooldown   time.Duration
	probeQuota int

	mu         sync.Mutex
	state      BreakerState
	fails      int
	openedAt   time.Time
	probes     int
	probeFails int
}

// NewBreaker creates a [Breaker] from cfg, filling defaults for zero fields.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.TripAfter <= 0 {
		cfg.TripAfter = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 15 * time.Second
	}
	if cfg.ProbeQuota <= 0 {
		cfg.ProbeQuota = 1
	}
	return &Breaker{
		name:       cfg.Name,
		tripAfter:  cfg.TripAfter,
		cooldown:   cfg.Cooldown,
		probeQuota: cfg.ProbeQuota,
	}
}

// Do runs fn if the breaker admits the call. Open breakers reject with
// [ErrBreakerOpen]. Errors matching context.Canceled or
// context.DeadlineExceeded pass through without touching the failure count.
func (b *Breaker) Do(fn func() error) error {
	b.mu.Lock()
	switch b.state {
	case BreakerOpen:
		if time.Since(b.openedAt) < b.cooldown {
			b.mu.Unlock()
			return ErrBreakerOpen
		}
		b.state = BreakerHalfOpen
		b.probes = 0
		b.probeFails = 0
		slog.Info("breaker probing", "name", b.name)

	case BreakerHalfOpen:
		if b.probes >= b.probeQuota {
			b.mu.Unlock()
			return ErrBreakerOpen
		}
	}
	probing := b.state == BreakerHalfOpen
	if probing {
		b.probes++
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	switch {
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		// Caller gave up; says nothing about backend health.
	case err != nil:
		b.fail(probing)
	default:
		b.succeed(probing)
	}
	return err
}

// fail updates the counters after a failed call. Caller holds b.mu.
func (b *Breaker) fail(probing bool) {
	b.openedAt = time.Now()
	if probing {
		b.probeFails++
		b.state = BreakerOpen
		b.fails = b.tripAfter
		slog.Warn("breaker re-opened after failed probe", "name", b.name)
		return
	}
	b.fails++
	if b.fails >= b.tripAfter {
		b.state = BreakerOpen
		slog.Warn("breaker opened", "name", b.name, "consecutive_failures", b.fails)
	}
}

// succeed updates the counters after a successful call. Caller holds b.mu.
func (b *Breaker) succeed(probing bool) {
	if probing {
		if b.probes-b.probeFails >= b.probeQuota {
			b.state = BreakerClosed
			b.fails = 0
			b.probes = 0
			b.probeFails = 0
			slog.Info("breaker closed after successful probe", "name", b.name)
		}
		return
	}
	b.fails = 0
}

// State reports the breaker's mode. An open breaker whose cooldown has
// elapsed reports half-open; the transition itself happens on the next Do.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerOpen && time.Since(b.openedAt) >= b.cooldown {
		return BreakerHalfOpen
	}
	return b.state
}

// Reset forces the breaker closed and clears all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerClosed
	b.fails = 0
	b.probes = 0
	b.probeFails = 0
}
