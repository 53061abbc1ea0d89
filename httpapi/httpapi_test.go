/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-ratebucket/limiter"
	"github.com/acronis/go-ratebucket/log"
	"github.com/acronis/go-ratebucket/ratespec"
	"github.com/acronis/go-ratebucket/store"
	"github.com/acronis/go-ratebucket/store/memstore"
)

type failingStore struct {
	err error
}

func (s failingStore) Evaluate(
	_ context.Context, _ []store.TierKey, _ time.Time, _ bool,
) (store.Result, error) {
	return store.Result{}, s.err
}

func newTestRegistry(t *testing.T, st store.Store) *limiter.Registry {
	t.Helper()
	spec, err := ratespec.ParseBucketSpec("api", "1/m")
	require.NoError(t, err)
	frozen := time.Unix(1000, 0)
	reg, err := limiter.NewRegistry([]limiter.BucketDef{{Spec: spec}}, st, limiter.Opts{
		Now: func() time.Time { return frozen },
	})
	require.NoError(t, err)
	return reg
}

func doAcquire(t *testing.T, router http.Handler, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reqBody *bytes.Reader
	if body != "" {
		reqBody = bytes.NewReader([]byte(body))
	} else {
		reqBody = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(http.MethodPost, target, reqBody)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeAcquireResponse(t *testing.T, rec *httptest.ResponseRecorder) AcquireResponse {
	t.Helper()
	var resp AcquireResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func decodeErrorResponse(t *testing.T, rec *httptest.ResponseRecorder) *Error {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.NotNil(t, resp.Err)
	return resp.Err
}

func TestGenericAcquire(t *testing.T) {
	router := NewRouter(newTestRegistry(t, memstore.New()), log.NewDisabledLogger(), Opts{})

	rec := doAcquire(t, router, "/v1/acquire", `{"bucket":"api","blocking":false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, decodeAcquireResponse(t, rec).Acquired)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	// Capacity is exhausted: a denial is an ordinary 200 response.
	rec = doAcquire(t, router, "/v1/acquire", `{"bucket":"api","blocking":false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.False(t, decodeAcquireResponse(t, rec).Acquired)
}

func TestGenericAcquireItemPartitioning(t *testing.T) {
	router := NewRouter(newTestRegistry(t, memstore.New()), log.NewDisabledLogger(), Opts{})

	for _, item := range []string{"tenant-a", "tenant-b"} {
		rec := doAcquire(t, router, "/v1/acquire",
			`{"bucket":"api","item":"`+item+`","blocking":false}`)
		require.Equal(t, http.StatusOK, rec.Code)
		require.True(t, decodeAcquireResponse(t, rec).Acquired)
	}

	rec := doAcquire(t, router, "/v1/acquire", `{"bucket":"api","item":"tenant-a","blocking":false}`)
	require.False(t, decodeAcquireResponse(t, rec).Acquired)
}

func TestBucketAcquire(t *testing.T) {
	router := NewRouter(newTestRegistry(t, memstore.New()), log.NewDisabledLogger(), Opts{})

	// The per-bucket route works with an empty body; blocking defaults to
	// true but the first acquisition is admitted immediately.
	rec := doAcquire(t, router, "/v1/buckets/api/acquire", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, decodeAcquireResponse(t, rec).Acquired)

	rec = doAcquire(t, router, "/v1/buckets/api/acquire", `{"blocking":false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.False(t, decodeAcquireResponse(t, rec).Acquired)
}

func TestAcquireBucketNotFound(t *testing.T) {
	router := NewRouter(newTestRegistry(t, memstore.New()), log.NewDisabledLogger(), Opts{})

	for _, target := range []string{"/v1/acquire", "/v1/buckets/unknown/acquire"} {
		rec := doAcquire(t, router, target, `{"bucket":"unknown","blocking":false}`)
		require.Equal(t, http.StatusNotFound, rec.Code)
		apiErr := decodeErrorResponse(t, rec)
		require.Equal(t, ErrorDomain, apiErr.Domain)
		require.Equal(t, ErrCodeBucketNotFound, apiErr.Code)
	}
}

func TestAcquireStoreUnavailable(t *testing.T) {
	st := failingStore{err: &store.UnavailableError{Err: errors.New("connection refused")}}
	router := NewRouter(newTestRegistry(t, st), log.NewDisabledLogger(), Opts{})

	rec := doAcquire(t, router, "/v1/acquire", `{"bucket":"api","blocking":false}`)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, ErrCodeStoreUnavailable, decodeErrorResponse(t, rec).Code)
}

func TestAcquireMalformedBody(t *testing.T) {
	router := NewRouter(newTestRegistry(t, memstore.New()), log.NewDisabledLogger(), Opts{})

	rec := doAcquire(t, router, "/v1/acquire", `{"bucket":`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, ErrCodeMalformedRequest, decodeErrorResponse(t, rec).Code)

	// Oversized bodies are rejected the same way.
	rec = doAcquire(t, router, "/v1/acquire",
		`{"bucket":"api","item":"`+strings.Repeat("x", maxRequestBodySize)+`"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthz(t *testing.T) {
	reg := newTestRegistry(t, memstore.New())

	router := NewRouter(reg, log.NewDisabledLogger(), Opts{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	router = NewRouter(reg, log.NewDisabledLogger(), Opts{
		HealthCheck: func(r *http.Request) error { return errors.New("store down") },
	})
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := newTestRegistry(t, memstore.New())
	metricsHandler := http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
	})

	router := NewRouter(reg, log.NewDisabledLogger(), Opts{MetricsHandler: metricsHandler})
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	// Without a handler the endpoint is not mounted at all.
	router = NewRouter(reg, log.NewDisabledLogger(), Opts{})
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}
