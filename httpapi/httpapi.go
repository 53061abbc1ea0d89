/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package httpapi exposes the limiter registry as a small JSON-over-HTTP API.
//
// The API shells the single limiter operation: acquire a permit for a named
// bucket and an optional item key, either blocking or not. A denial is an
// ordinary response, not an error; only unknown buckets and store failures
// are reported as errors.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/acronis/go-ratebucket/limiter"
	"github.com/acronis/go-ratebucket/log"
	"github.com/acronis/go-ratebucket/store"
)

// ErrorDomain is the domain used in API error responses.
const ErrorDomain = "RateBucketService"

// API error codes.
const (
	ErrCodeInternal         = "internalError"
	ErrCodeBucketNotFound   = "bucketNotFound"
	ErrCodeStoreUnavailable = "storeUnavailable"
	ErrCodeMalformedRequest = "malformedRequest"
)

// Error represents an error details in the response body.
type Error struct {
	Domain  string `json:"domain"`
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

type errorResponse struct {
	Err *Error `json:"error"`
}

// AcquireRequest is the body of the generic acquire operation.
type AcquireRequest struct {
	Bucket   string `json:"bucket"`
	Item     string `json:"item"`
	Blocking *bool  `json:"blocking"`
}

// AcquireResponse reports whether the permit was granted.
type AcquireResponse struct {
	Acquired bool `json:"acquired"`
}

// Opts represents options for creating the API router.
type Opts struct {
	// MetricsHandler, when set, is mounted at /metrics.
	MetricsHandler http.Handler

	// HealthCheck, when set, is called by /healthz; a non-nil error makes the
	// endpoint report 503.
	HealthCheck func(r *http.Request) error
}

// NewRouter builds the API router for the given registry:
//
//	POST /v1/acquire                             generic operation, bucket in the body
//	POST /v1/buckets/{bucketName}/acquire        per-bucket operation
//	GET  /healthz, GET /metrics
//
// Bucket dispatch is data-driven through the registry's frozen table; routes
// carry the bucket name as a parameter, so no per-bucket closures are built.
func NewRouter(registry *limiter.Registry, logger log.FieldLogger, opts Opts) chi.Router {
	router := chi.NewRouter()
	router.Use(RequestID())
	router.Use(Logging(logger))
	router.Use(Recovery())

	router.Get("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		if opts.HealthCheck != nil {
			if err := opts.HealthCheck(r); err != nil {
				respondError(rw, http.StatusServiceUnavailable,
					&Error{Domain: ErrorDomain, Code: ErrCodeStoreUnavailable, Message: "Service is not ready."},
					GetLoggerFromContext(r.Context()))
				return
			}
		}
		respondJSON(rw, http.StatusOK, map[string]string{"status": "ok"}, GetLoggerFromContext(r.Context()))
	})
	if opts.MetricsHandler != nil {
		router.Method(http.MethodGet, "/metrics", opts.MetricsHandler)
	}

	h := &acquireHandler{registry: registry}
	router.Post("/v1/acquire", h.handleGenericAcquire)
	router.Post("/v1/buckets/{bucketName}/acquire", h.handleBucketAcquire)
	return router
}

type acquireHandler struct {
	registry *limiter.Registry
}

func (h *acquireHandler) handleGenericAcquire(rw http.ResponseWriter, r *http.Request) {
	req, ok := decodeAcquireRequest(rw, r)
	if !ok {
		return
	}
	h.acquire(rw, r, req.Bucket, req)
}

func (h *acquireHandler) handleBucketAcquire(rw http.ResponseWriter, r *http.Request) {
	req, ok := decodeAcquireRequest(rw, r)
	if !ok {
		return
	}
	h.acquire(rw, r, chi.URLParam(r, "bucketName"), req)
}

func (h *acquireHandler) acquire(rw http.ResponseWriter, r *http.Request, bucketName string, req *AcquireRequest) {
	logger := GetLoggerFromContext(r.Context())

	blocking := true
	if req.Blocking != nil {
		blocking = *req.Blocking
	}

	acquired, err := h.registry.Acquire(r.Context(), bucketName, req.Item, blocking)
	if err != nil {
		var notFoundErr *limiter.BucketNotFoundError
		var unavailableErr *store.UnavailableError
		switch {
		case errors.As(err, &notFoundErr):
			respondError(rw, http.StatusNotFound,
				&Error{Domain: ErrorDomain, Code: ErrCodeBucketNotFound, Message: notFoundErr.Error()}, logger)
		case errors.As(err, &unavailableErr):
			logger.Error("rate limit store unavailable", log.String("bucket", bucketName), log.Error(err))
			respondError(rw, http.StatusServiceUnavailable,
				&Error{Domain: ErrorDomain, Code: ErrCodeStoreUnavailable, Message: "Shared store is unavailable."}, logger)
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			// Client went away while the acquisition was blocked, nothing to respond to.
		default:
			logger.Error("acquire failed", log.String("bucket", bucketName), log.Error(err))
			respondError(rw, http.StatusInternalServerError,
				&Error{Domain: ErrorDomain, Code: ErrCodeInternal, Message: "Internal error."}, logger)
		}
		return
	}

	respondJSON(rw, http.StatusOK, AcquireResponse{Acquired: acquired}, logger)
}

const maxRequestBodySize = 1024 * 16

func decodeAcquireRequest(rw http.ResponseWriter, r *http.Request) (*AcquireRequest, bool) {
	logger := GetLoggerFromContext(r.Context())
	var req AcquireRequest
	if r.Body != nil && r.ContentLength != 0 {
		decoder := json.NewDecoder(http.MaxBytesReader(rw, r.Body, maxRequestBodySize))
		if err := decoder.Decode(&req); err != nil {
			respondError(rw, http.StatusBadRequest,
				&Error{Domain: ErrorDomain, Code: ErrCodeMalformedRequest, Message: "Request body must be valid JSON."}, logger)
			return nil, false
		}
	}
	return &req, true
}

func respondJSON(rw http.ResponseWriter, statusCode int, respData interface{}, logger log.FieldLogger) {
	rw.Header().Set("Content-Type", "application/json; charset=utf-8")
	rw.WriteHeader(statusCode)
	if err := json.NewEncoder(rw).Encode(respData); err != nil && logger != nil {
		logger.Error("error while encoding response body", log.Error(err))
	}
}

func respondError(rw http.ResponseWriter, statusCode int, apiErr *Error, logger log.FieldLogger) {
	respondJSON(rw, statusCode, errorResponse{Err: apiErr}, logger)
}
