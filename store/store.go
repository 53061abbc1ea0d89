/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package store defines the contract for shared, cross-process admission counter stores.
//
// A store exposes a single primitive, Evaluate, which checks every rate tier of one
// request against the same instant and, only if every tier admits, records the
// admission in all tiers atomically. Concurrent evaluators never observe a state
// where some tiers of a request are committed and others are not.
package store

import (
	"context"
	"fmt"
	"time"
)

// CounterKey identifies a single admission counter:
// one rate tier of one bucket, optionally partitioned by an item key.
// An empty Item means all callers of the bucket share the counter.
type CounterKey struct {
	Bucket string
	Tier   int
	Item   string
}

// String returns a stable textual form of the key.
// Implements fmt.Stringer interface.
func (k CounterKey) String() string {
	return fmt.Sprintf("%s/%s#%d", k.Bucket, k.Item, k.Tier)
}

// TierKey couples a counter key with the tier's rate constraint.
type TierKey struct {
	Key    CounterKey
	Limit  int
	Window time.Duration
}

// TierResult is the per-tier outcome of an evaluation.
// RetryAfter is meaningful only when Admitted is false and estimates how long
// the caller must wait until this tier may admit one more unit.
type TierResult struct {
	Admitted   bool
	RetryAfter time.Duration
}

// Result is the outcome of an atomic multi-tier evaluation.
// Admitted is true only if every tier admitted; in that case (and only if the
// evaluation was committing) the admission has already been recorded in all tiers.
// RetryAfter is the maximum of the denied tiers' retry estimates.
type Result struct {
	Admitted   bool
	RetryAfter time.Duration
	Tiers      []TierResult
}

// Store is the shared counter store abstraction.
//
// Evaluate checks all given tiers against the same now and, if and only if every
// tier would admit one more unit, records the admission in every tier's log when
// commit is true. Either all tiers' state changes together or none does.
// When the store cannot be reached or the transaction cannot be completed,
// Evaluate returns *UnavailableError; it never retries on its own.
type Store interface {
	Evaluate(ctx context.Context, tiers []TierKey, now time.Time, commit bool) (Result, error)
}

// UnavailableError is returned when the shared store is unreachable or the
// evaluation transaction cannot be completed. The condition is transient and
// is propagated to the caller instead of being retried by the store.
type UnavailableError struct {
	Err error
}

// Error implements the error interface.
func (e *UnavailableError) Error() string {
	return fmt.Sprintf("rate limit store unavailable: %v", e.Err)
}

// Unwrap returns the underlying cause.
func (e *UnavailableError) Unwrap() error {
	return e.Err
}
