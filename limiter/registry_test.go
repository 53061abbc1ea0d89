/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package limiter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-ratebucket/store/memstore"
)

func TestRegistryResolve(t *testing.T) {
	defs := []BucketDef{
		{Spec: mustParseSpec(t, "api", "2/5s:15/m")},
		{Spec: mustParseSpec(t, "export", "1/m:100/4h"), ExcludedItems: []string{"admin-*"}},
	}
	reg, err := NewRegistry(defs, memstore.New(), Opts{})
	require.NoError(t, err)

	lim, err := reg.Resolve("api")
	require.NoError(t, err)
	require.Equal(t, "api", lim.BucketName())

	_, err = reg.Resolve("unknown")
	require.Error(t, err)
	var notFoundErr *BucketNotFoundError
	require.ErrorAs(t, err, &notFoundErr)
	require.Equal(t, "unknown", notFoundErr.Name)

	require.Equal(t, []string{"api", "export"}, reg.BucketNames())
}

func TestRegistryDuplicateBucket(t *testing.T) {
	defs := []BucketDef{
		{Spec: mustParseSpec(t, "api", "2/5s")},
		{Spec: mustParseSpec(t, "api", "10/m")},
	}
	_, err := NewRegistry(defs, memstore.New(), Opts{})
	require.Error(t, err)
}

func TestRegistryAcquire(t *testing.T) {
	frozen := time.Unix(1000, 0)
	defs := []BucketDef{{Spec: mustParseSpec(t, "api", "1/m")}}
	reg, err := NewRegistry(defs, memstore.New(), Opts{
		Now: func() time.Time { return frozen },
	})
	require.NoError(t, err)

	ctx := context.Background()
	acquired, err := reg.Acquire(ctx, "api", "", false)
	require.NoError(t, err)
	require.True(t, acquired)

	acquired, err = reg.Acquire(ctx, "api", "", false)
	require.NoError(t, err)
	require.False(t, acquired)

	_, err = reg.Acquire(ctx, "missing", "", false)
	var notFoundErr *BucketNotFoundError
	require.ErrorAs(t, err, &notFoundErr)
}
