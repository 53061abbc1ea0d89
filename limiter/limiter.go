/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package limiter implements multi-tier rate limiting on top of a shared counter store.
//
// A Limiter enforces all rate tiers of one bucket with a single atomic store
// round trip per attempt. A Registry holds the process-wide, built-once mapping
// from bucket names to limiters.
package limiter

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/vasayxtx/go-glob"

	"github.com/acronis/go-ratebucket/ratespec"
	"github.com/acronis/go-ratebucket/store"
)

// DefaultMaxJitter is the default upper bound of the random addition to every
// blocking-retry sleep. Jitter desynchronizes retry storms across processes
// racing for the same freed capacity.
const DefaultMaxJitter = time.Millisecond * 100

// Opts represents options for creating a Limiter.
type Opts struct {
	// MaxWait bounds the total time a blocking acquisition may spend waiting.
	// Zero means no bound: the call retries until admitted, the store fails,
	// or the context is canceled.
	MaxWait time.Duration

	// MaxJitter is the upper bound of the random addition to each retry sleep.
	// DefaultMaxJitter is used when zero.
	MaxJitter time.Duration

	// ExcludedItems is a list of glob patterns; acquisitions for matching item
	// keys bypass limiting and are always admitted.
	ExcludedItems []string

	// IncludedItems is a list of glob patterns; when non-empty, only matching
	// item keys are limited and all other items bypass limiting.
	// Cannot be combined with ExcludedItems.
	IncludedItems []string

	// Metrics is an optional collector of acquisition metrics.
	Metrics *MetricsCollector

	// Now and Sleep override the time source and are intended for tests.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// Limiter admits requests for a single bucket, enforcing all of its rate tiers
// atomically through the shared store.
type Limiter struct {
	spec       ratespec.BucketSpec
	store      store.Store
	maxWait    time.Duration
	maxJitter  time.Duration
	bypassItem func(item string) bool
	metrics    *MetricsCollector
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error

	randMu sync.Mutex
	rand   *rand.Rand
}

// New creates a Limiter for the given validated bucket specification.
func New(spec ratespec.BucketSpec, st store.Store, opts Opts) (*Limiter, error) {
	if len(spec.Tiers) == 0 {
		return nil, &ratespec.InvalidRateSpecError{Spec: spec.Name, Reason: "bucket should have at least one rate tier"}
	}
	if opts.MaxWait < 0 {
		return nil, &ratespec.InvalidRateSpecError{Spec: spec.Name, Reason: "max wait should not be negative"}
	}
	if opts.MaxJitter < 0 {
		return nil, &ratespec.InvalidRateSpecError{Spec: spec.Name, Reason: "max jitter should not be negative"}
	}
	bypassItem, err := makeItemFilter(opts.ExcludedItems, opts.IncludedItems)
	if err != nil {
		return nil, err
	}
	maxJitter := opts.MaxJitter
	if maxJitter == 0 {
		maxJitter = DefaultMaxJitter
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	return &Limiter{
		spec:       spec,
		store:      st,
		maxWait:    opts.MaxWait,
		maxJitter:  maxJitter,
		bypassItem: bypassItem,
		metrics:    opts.Metrics,
		now:        now,
		sleep:      sleep,
		rand:       rand.New(rand.NewSource(time.Now().UnixNano())), // nolint:gosec // Math rand is fine for jitter.
	}, nil
}

// BucketName returns the name of the bucket the limiter serves.
func (l *Limiter) BucketName() string {
	return l.spec.Name
}

// Acquire consumes one unit of capacity against all tiers of the bucket for the
// given item key (empty means the bucket-wide shared counter).
//
// Non-blocking mode returns false immediately when any tier denies; no state is
// committed in that case. Blocking mode sleeps for the store's retry estimate
// plus a random jitter and tries again, without holding any lock while asleep,
// until admission, store failure, context cancellation, or the MaxWait bound.
// A store failure is returned as *store.UnavailableError without further retries.
func (l *Limiter) Acquire(ctx context.Context, item string, blocking bool) (bool, error) {
	if l.bypassItem != nil && l.bypassItem(item) {
		return true, nil
	}

	var deadline time.Time
	if blocking && l.maxWait > 0 {
		deadline = l.now().Add(l.maxWait)
	}
	waitStart := l.now()

	for {
		res, err := l.store.Evaluate(ctx, l.tierKeys(item), l.now(), true)
		if err != nil {
			l.metrics.reportStoreError(l.spec.Name)
			return false, err
		}
		if res.Admitted {
			l.metrics.reportAdmitted(l.spec.Name, l.now().Sub(waitStart))
			return true, nil
		}
		if !blocking {
			l.metrics.reportDenied(l.spec.Name)
			return false, nil
		}

		wait := res.RetryAfter + l.jitter()
		if !deadline.IsZero() && l.now().Add(wait).After(deadline) {
			l.metrics.reportDenied(l.spec.Name)
			return false, nil
		}
		if err := l.sleep(ctx, wait); err != nil {
			return false, err
		}
	}
}

// tierKeys builds the ordered per-tier counter keys for one acquisition attempt.
func (l *Limiter) tierKeys(item string) []store.TierKey {
	keys := make([]store.TierKey, len(l.spec.Tiers))
	for i, rate := range l.spec.Tiers {
		keys[i] = store.TierKey{
			Key:    store.CounterKey{Bucket: l.spec.Name, Tier: i, Item: item},
			Limit:  rate.Limit,
			Window: rate.Window,
		}
	}
	return keys
}

func (l *Limiter) jitter() time.Duration {
	l.randMu.Lock()
	defer l.randMu.Unlock()
	return time.Duration(l.rand.Int63n(int64(l.maxJitter)))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func makeItemFilter(excluded, included []string) (func(item string) bool, error) {
	if len(excluded) != 0 && len(included) != 0 {
		return nil, &ratespec.InvalidRateSpecError{
			Spec: "", Reason: "excluded and included item lists cannot be used together"}
	}
	compile := func(patterns []string) []func(s string) bool {
		compiled := make([]func(s string) bool, 0, len(patterns))
		for _, p := range patterns {
			compiled = append(compiled, glob.Compile(p))
		}
		return compiled
	}
	matchAny := func(compiled []func(s string) bool, item string) bool {
		for i := range compiled {
			if compiled[i](item) {
				return true
			}
		}
		return false
	}
	if len(excluded) != 0 {
		compiled := compile(excluded)
		return func(item string) bool { return matchAny(compiled, item) }, nil
	}
	if len(included) != 0 {
		compiled := compile(included)
		return func(item string) bool { return !matchAny(compiled, item) }, nil
	}
	return nil, nil
}
