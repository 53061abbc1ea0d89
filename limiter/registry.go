/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package limiter

import (
	"context"
	"fmt"
	"sort"

	"github.com/acronis/go-ratebucket/ratespec"
	"github.com/acronis/go-ratebucket/store"
)

// BucketNotFoundError is returned when an acquisition names a bucket that was
// not registered at startup.
type BucketNotFoundError struct {
	Name string
}

// Error implements the error interface.
func (e *BucketNotFoundError) Error() string {
	return fmt.Sprintf("bucket %q is not registered", e.Name)
}

// BucketDef couples a bucket specification with its per-bucket limiter options.
type BucketDef struct {
	Spec ratespec.BucketSpec

	// ExcludedItems and IncludedItems are glob patterns of item keys that
	// bypass limiting (see Opts).
	ExcludedItems []string
	IncludedItems []string
}

// Registry is a process-wide, built-once mapping from bucket names to limiters.
// After construction it is immutable, so concurrent resolution needs no locking.
type Registry struct {
	limiters map[string]*Limiter
	names    []string
}

// NewRegistry builds a frozen registry from the given bucket definitions.
// Definition order is irrelevant; duplicate bucket names are an error.
// Options (except the item filters, which are per-bucket) apply to every limiter.
func NewRegistry(defs []BucketDef, st store.Store, opts Opts) (*Registry, error) {
	limiters := make(map[string]*Limiter, len(defs))
	names := make([]string, 0, len(defs))
	for _, def := range defs {
		if _, ok := limiters[def.Spec.Name]; ok {
			return nil, fmt.Errorf("bucket %q is defined more than once", def.Spec.Name)
		}
		bucketOpts := opts
		bucketOpts.ExcludedItems = def.ExcludedItems
		bucketOpts.IncludedItems = def.IncludedItems
		lim, err := New(def.Spec, st, bucketOpts)
		if err != nil {
			return nil, fmt.Errorf("create limiter for bucket %q: %w", def.Spec.Name, err)
		}
		limiters[def.Spec.Name] = lim
		names = append(names, def.Spec.Name)
	}
	sort.Strings(names)
	return &Registry{limiters: limiters, names: names}, nil
}

// Resolve returns the limiter for the named bucket
// or *BucketNotFoundError if the bucket was not registered.
func (r *Registry) Resolve(name string) (*Limiter, error) {
	lim, ok := r.limiters[name]
	if !ok {
		return nil, &BucketNotFoundError{Name: name}
	}
	return lim, nil
}

// Acquire resolves the named bucket and acquires one permit from it.
// It fails with *BucketNotFoundError for unregistered buckets; a denial is not an error.
func (r *Registry) Acquire(ctx context.Context, bucketName, item string, blocking bool) (bool, error) {
	lim, err := r.Resolve(bucketName)
	if err != nil {
		return false, err
	}
	return lim.Acquire(ctx, item, blocking)
}

// BucketNames returns the sorted names of all registered buckets.
func (r *Registry) BucketNames() []string {
	names := make([]string, len(r.names))
	copy(names, r.names)
	return names
}
