package provider

import (
	"context"
	"errors"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/AdarBahar/MyTrip-sub004/internal/model"
)

// ─── Selection Mode ─────────────────────────────────────────

// Mode selects which network adapters serve single-route calls.
type Mode string

const (
	ModeCloud                     Mode = "cloud"
	ModeSelfHost                  Mode = "selfhost"
	ModeCloudWithSelfHostFallback Mode = "cloud_with_selfhost_fallback"
)

// FallbackWarning is appended whenever a result came from the haversine
// adapter instead of a road-network provider.
const FallbackWarning = "fallback=haversine"

// ─── Retry Policy ───────────────────────────────────────────

// BackoffConfig tunes the retry policy for retryable provider failures.
type BackoffConfig struct {
	Base        time.Duration // first retry delay
	Factor      float64       // exponential growth factor
	Jitter      float64       // ± fraction applied to each delay
	MaxAttempts int           // attempts per adapter, including the first
	CapTotal    time.Duration // ceiling on cumulative wait per adapter
}

// DefaultBackoffConfig returns base 500 ms, factor 2, jitter ±20%,
// 3 attempts, 10 s total cap.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Base:        500 * time.Millisecond,
		Factor:      2,
		Jitter:      0.2,
		MaxAttempts: 3,
		CapTotal:    10 * time.Second,
	}
}

// ─── Orchestrator ───────────────────────────────────────────

// Orchestrator selects an adapter per call, enforces the circuit breaker
// and backoff policy, de-duplicates identical in-flight matrix calls, and
// substitutes the haversine adapter when every network adapter is
// unavailable. It is the single Provider implementation the rest of the
// engine sees.
type Orchestrator struct {
	mode           Mode
	useCloudMatrix bool

	cloud    Provider
	selfhost Provider
	fallback *HaversineProvider

	breakers map[string]*Breaker
	cache    *MatrixCache
	backoff  BackoffConfig

	// sleep is injectable so tests don't wait out real backoff delays.
	sleep func(ctx context.Context, d time.Duration) error

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewOrchestrator wires the adapters. cloud or selfhost may be nil when the
// mode does not use them.
func NewOrchestrator(mode Mode, useCloudMatrix bool, cloud, selfhost Provider, breakerCfg BreakerConfig, backoffCfg BackoffConfig, cacheCfg MatrixCacheConfig) *Orchestrator {
	if backoffCfg.MaxAttempts <= 0 {
		backoffCfg = DefaultBackoffConfig()
	}

	o := &Orchestrator{
		mode:           mode,
		useCloudMatrix: useCloudMatrix,
		cloud:          cloud,
		selfhost:       selfhost,
		fallback:       NewHaversineProvider(),
		breakers:       make(map[string]*Breaker),
		cache:          NewMatrixCache(cacheCfg),
		backoff:        backoffCfg,
		sleep:          sleepContext,
		rng:            rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	for _, p := range []Provider{cloud, selfhost} {
		if p != nil {
			o.breakers[p.Name()] = NewBreaker(breakerCfg)
		}
	}

	return o
}

// Name implements Provider.
func (o *Orchestrator) Name() string { return "orchestrator" }

// Breaker exposes the breaker for an adapter name (nil when not configured).
func (o *Orchestrator) Breaker(name string) *Breaker { return o.breakers[name] }

// ComputeRoute tries the configured network adapters in order, then falls
// back to haversine with a warning.
func (o *Orchestrator) ComputeRoute(ctx context.Context, points []model.Location, profile model.Profile, opts model.RouteOptions) (*RouteResult, error) {
	for _, p := range o.routeChain() {
		result, err := o.callRoute(ctx, p, points, profile, opts)
		if err == nil {
			result.Provider = p.Name()
			return result, nil
		}

		var perr *Error
		if errors.As(err, &perr) && perr.Kind == KindUpstream4xx {
			// The request itself is invalid; no adapter or estimate fixes it.
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Printf("[provider] %s route failed, trying next: %v", p.Name(), err)
	}

	result, _ := o.fallback.ComputeRoute(ctx, points, profile, opts)
	result.Provider = HaversineName
	result.Warnings = append(result.Warnings, FallbackWarning)
	return result, nil
}

// ComputeMatrix serves matrices through the fingerprinted single-flight
// cache. Network results are cached; haversine fallbacks are not, so a
// recovered provider is used again as soon as it answers.
func (o *Orchestrator) ComputeMatrix(ctx context.Context, points []model.Location, profile model.Profile, objective model.Objective) (*Matrix, []string, error) {
	key := Fingerprint(points, profile, objective)

	matrix, err := o.cache.GetOrCompute(key, func() (*Matrix, error) {
		return o.computeMatrixNetwork(ctx, points, profile, objective)
	})
	if err == nil {
		return matrix, nil, nil
	}

	var perr *Error
	if errors.As(err, &perr) && perr.Kind == KindUpstream4xx {
		return nil, nil, err
	}
	if ctx.Err() != nil {
		return nil, nil, ctx.Err()
	}

	log.Printf("[provider] matrix fell back to haversine: %v", err)
	matrix, _ = o.fallback.ComputeMatrix(ctx, points, profile, objective)
	return matrix, []string{FallbackWarning}, nil
}

// ─── Internals ──────────────────────────────────────────────

// routeChain returns the network adapters for single-route calls, in
// preference order.
func (o *Orchestrator) routeChain() []Provider {
	var chain []Provider
	switch o.mode {
	case ModeCloud:
		chain = []Provider{o.cloud}
	case ModeSelfHost:
		chain = []Provider{o.selfhost}
	case ModeCloudWithSelfHostFallback:
		chain = []Provider{o.cloud, o.selfhost}
	}

	out := chain[:0]
	for _, p := range chain {
		if p != nil {
			out = append(out, p)
		}
	}
	return out
}

// matrixChain steers matrix calls to cloud when use_cloud_matrix is set, so
// operators can pair a local self-host for routes with a cloud matrix API.
func (o *Orchestrator) matrixChain() []Provider {
	if o.useCloudMatrix && o.cloud != nil {
		return []Provider{o.cloud}
	}
	return o.routeChain()
}

func (o *Orchestrator) computeMatrixNetwork(ctx context.Context, points []model.Location, profile model.Profile, objective model.Objective) (*Matrix, error) {
	var lastErr error = &Error{Kind: KindNetwork, Message: "no network adapter configured"}

	for _, p := range o.matrixChain() {
		m, err := o.callMatrix(ctx, p, points, profile, objective)
		if err == nil {
			return m, nil
		}

		var perr *Error
		if errors.As(err, &perr) && perr.Kind == KindUpstream4xx {
			return nil, err
		}
		lastErr = err
	}

	return nil, lastErr
}

// callRoute runs one adapter with breaker + retry policy.
func (o *Orchestrator) callRoute(ctx context.Context, p Provider, points []model.Location, profile model.Profile, opts model.RouteOptions) (*RouteResult, error) {
	var result *RouteResult
	err := o.attempt(ctx, p, func() error {
		var err error
		result, err = p.ComputeRoute(ctx, points, profile, opts)
		return err
	})
	return result, err
}

func (o *Orchestrator) callMatrix(ctx context.Context, p Provider, points []model.Location, profile model.Profile, objective model.Objective) (*Matrix, error) {
	var m *Matrix
	err := o.attempt(ctx, p, func() error {
		var err error
		m, err = p.ComputeMatrix(ctx, points, profile, objective)
		return err
	})
	return m, err
}

// attempt applies the breaker and the exponential-backoff retry policy to
// one adapter call.
func (o *Orchestrator) attempt(ctx context.Context, p Provider, call func() error) error {
	breaker := o.breakers[p.Name()]

	var waited time.Duration
	var lastErr error

	for i := 0; i < o.backoff.MaxAttempts; i++ {
		if breaker != nil && !breaker.Allow() {
			return &Error{Kind: KindNetwork, Provider: p.Name(), Message: "circuit breaker open"}
		}

		err := call()
		if err == nil {
			if breaker != nil {
				breaker.RecordSuccess()
			}
			return nil
		}
		lastErr = err

		var perr *Error
		if !errors.As(err, &perr) {
			return err
		}

		if breaker != nil {
			breaker.RecordFailure(perr.RetryAfter)
		}
		if !perr.Retryable() {
			return err
		}

		delay := o.delay(i)
		if waited+delay > o.backoff.CapTotal {
			break
		}
		waited += delay

		if err := o.sleep(ctx, delay); err != nil {
			return err
		}
	}

	return lastErr
}

// delay computes attempt i's backoff with ± jitter.
func (o *Orchestrator) delay(attempt int) time.Duration {
	d := float64(o.backoff.Base)
	for i := 0; i < attempt; i++ {
		d *= o.backoff.Factor
	}

	o.rngMu.Lock()
	jitter := 1 + o.backoff.Jitter*(2*o.rng.Float64()-1)
	o.rngMu.Unlock()

	return time.Duration(d * jitter)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
