package provider

import (
	"sync"
	"time"
)

// ─── Circuit Breaker ────────────────────────────────────────

// BreakerState is the current position of a circuit breaker.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// BreakerConfig tunes one breaker instance.
type BreakerConfig struct {
	Failures int           // consecutive failures within Window before opening
	Window   time.Duration // failure-counting window
	Cooldown time.Duration // open → half_open delay
}

// DefaultBreakerConfig returns the defaults: 5 failures / 60s window / 30s cooldown.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{Failures: 5, Window: 60 * time.Second, Cooldown: 30 * time.Second}
}

// Breaker is a per-adapter circuit breaker.
//
// Transitions:
//
//	closed    → open       after cfg.Failures consecutive failures within cfg.Window
//	open      → half_open  once cfg.Cooldown elapses
//	half_open → closed     on the next success
//	half_open → open       on any failure
//
// Rate-limit failures additionally stamp a blocked-until deadline that
// short-circuits all calls regardless of state.
//
// All methods are safe for concurrent use; the critical section is short.
type Breaker struct {
	mu sync.Mutex

	cfg BreakerConfig
	now func() time.Time // injectable clock for tests

	state        BreakerState
	failures     int
	firstFailure time.Time // start of the current failure window
	openedAt     time.Time
	blockedUntil time.Time
}

// NewBreaker creates a closed breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.Failures <= 0 {
		cfg = DefaultBreakerConfig()
	}
	return &Breaker{cfg: cfg, now: time.Now, state: BreakerClosed}
}

// Allow reports whether a call may proceed. A true result from an open
// breaker whose cooldown elapsed moves it to half_open.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()

	if now.Before(b.blockedUntil) {
		return false
	}

	switch b.state {
	case BreakerClosed, BreakerHalfOpen:
		return true
	case BreakerOpen:
		if now.Sub(b.openedAt) >= b.cfg.Cooldown {
			b.state = BreakerHalfOpen
			return true
		}
		return false
	}
	return true
}

// RecordSuccess resets the failure count and closes a half-open breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.state = BreakerClosed
}

// RecordFailure counts one failure. retryAfter > 0 (a rate-limit response)
// stamps the blocked-until deadline.
func (b *Breaker) RecordFailure(retryAfter time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()

	if retryAfter > 0 {
		b.blockedUntil = now.Add(retryAfter)
	}

	if b.state == BreakerHalfOpen {
		b.trip(now)
		return
	}

	// Consecutive-failure window: restart the count when the window lapsed.
	if b.failures == 0 || now.Sub(b.firstFailure) > b.cfg.Window {
		b.failures = 0
		b.firstFailure = now
	}
	b.failures++

	if b.failures >= b.cfg.Failures {
		b.trip(now)
	}
}

// State returns the current state, promoting open → half_open when the
// cooldown has elapsed.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerOpen && b.now().Sub(b.openedAt) >= b.cfg.Cooldown {
		b.state = BreakerHalfOpen
	}
	return b.state
}

// BlockedUntil returns the rate-limit deadline (zero when not blocked).
func (b *Breaker) BlockedUntil() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.blockedUntil
}

func (b *Breaker) trip(now time.Time) {
	b.state = BreakerOpen
	b.openedAt = now
	b.failures = 0
}
