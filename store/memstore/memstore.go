/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package memstore provides an in-process implementation of the store contract.
//
// It keeps a sliding-window log of admission timestamps per counter key and
// guards the whole evaluate-and-commit step with a single mutex, which gives the
// same all-or-nothing multi-tier semantics as a transactional shared store.
// It is suitable for single-process deployments and tests.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/acronis/go-ratebucket/store"
)

// Store is an in-memory admission counter store.
type Store struct {
	mu   sync.Mutex
	logs map[store.CounterKey][]time.Time
}

var _ store.Store = (*Store)(nil)

// New creates a new in-memory store.
func New() *Store {
	return &Store{logs: make(map[store.CounterKey][]time.Time)}
}

// Evaluate implements store.Store.
func (s *Store) Evaluate(_ context.Context, tiers []store.TierKey, now time.Time, commit bool) (store.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := store.Result{Admitted: true, Tiers: make([]store.TierResult, len(tiers))}
	for i, tier := range tiers {
		log := s.pruneLocked(tier.Key, now, tier.Window)
		if len(log) < tier.Limit {
			res.Tiers[i] = store.TierResult{Admitted: true}
			continue
		}
		// The request may be admitted once enough of the oldest admissions
		// have left the window; for one more unit that is the entry at
		// position len(log)-limit.
		retryAfter := log[len(log)-tier.Limit].Add(tier.Window).Sub(now)
		res.Tiers[i] = store.TierResult{Admitted: false, RetryAfter: retryAfter}
		res.Admitted = false
		if retryAfter > res.RetryAfter {
			res.RetryAfter = retryAfter
		}
	}

	if res.Admitted && commit {
		for _, tier := range tiers {
			s.commitLocked(tier.Key, now)
		}
	}
	return res, nil
}

// commitLocked records the admission keeping the log sorted: callers take now
// before the mutex, so a slower goroutine may commit an older timestamp after
// a newer one. The caller must hold the mutex.
func (s *Store) commitLocked(key store.CounterKey, now time.Time) {
	log := s.logs[key]
	i := len(log)
	for i > 0 && log[i-1].After(now) {
		i--
	}
	log = append(log, time.Time{})
	copy(log[i+1:], log[i:])
	log[i] = now
	s.logs[key] = log
}

// pruneLocked drops log entries that have left the rolling window and
// returns the remaining log. The caller must hold the mutex.
func (s *Store) pruneLocked(key store.CounterKey, now time.Time, window time.Duration) []time.Time {
	log := s.logs[key]
	cutoff := now.Add(-window)
	i := 0
	for i < len(log) && !log[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return log
	}
	if i == len(log) {
		delete(s.logs, key)
		return nil
	}
	log = log[i:]
	s.logs[key] = log
	return log
}

// DeleteExpired removes counters whose every admission is older than the given window.
// The per-key tier window is unknown at this level, so maxWindow should be the
// largest window among all registered buckets.
func (s *Store) DeleteExpired(now time.Time, maxWindow time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := now.Add(-maxWindow)
	for key, log := range s.logs {
		if len(log) == 0 || !log[len(log)-1].After(cutoff) {
			delete(s.logs, key)
		}
	}
}

// RunCleanup periodically removes stale counters until the context is canceled.
func (s *Store) RunCleanup(ctx context.Context, interval, maxWindow time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.DeleteExpired(time.Now(), maxWindow)
		case <-ctx.Done():
			return
		}
	}
}

// AdmissionLog returns a copy of the admission timestamps currently recorded
// for the key. It is intended for tests that replay admission history.
func (s *Store) AdmissionLog(key store.CounterKey) []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	log := s.logs[key]
	out := make([]time.Time, len(log))
	copy(out, log)
	return out
}
