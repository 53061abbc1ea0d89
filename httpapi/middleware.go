/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/rs/xid"

	"github.com/acronis/go-ratebucket/log"
)

const headerRequestID = "X-Request-ID"

type ctxKey int

const (
	ctxKeyRequestID ctxKey = iota
	ctxKeyLogger
)

// RequestID is a middleware that reads the X-Request-ID request header and
// generates a new id if it is empty. The id is put into the request's context
// and returned in the response header.
func RequestID() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get(headerRequestID)
			if requestID == "" {
				requestID = xid.New().String()
			}
			rw.Header().Set(headerRequestID, requestID)
			ctx := context.WithValue(r.Context(), ctxKeyRequestID, requestID)
			next.ServeHTTP(rw, r.WithContext(ctx))
		})
	}
}

// GetRequestIDFromContext extracts the request id from the context.
func GetRequestIDFromContext(ctx context.Context) string {
	requestID, _ := ctx.Value(ctxKeyRequestID).(string)
	return requestID
}

// GetLoggerFromContext extracts the request-scoped logger from the context.
// A disabled logger is returned when the Logging middleware was not applied.
func GetLoggerFromContext(ctx context.Context) log.FieldLogger {
	if logger, ok := ctx.Value(ctxKeyLogger).(log.FieldLogger); ok {
		return logger
	}
	return log.NewDisabledLogger()
}

// Logging is a middleware that logs info about HTTP request and response and
// puts a logger with the request id bound into the request's context.
func Logging(logger log.FieldLogger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			startTime := time.Now()
			reqLogger := logger.With(log.String("request_id", GetRequestIDFromContext(r.Context())))
			ctx := context.WithValue(r.Context(), ctxKeyLogger, reqLogger)

			wrw := &statusResponseWriter{ResponseWriter: rw}
			next.ServeHTTP(wrw, r.WithContext(ctx))

			reqLogger.Info("response completed",
				log.String("method", r.Method),
				log.String("uri", r.RequestURI),
				log.String("remote_addr", r.RemoteAddr),
				log.Int("status_code", wrw.status()),
				log.Duration("duration", time.Since(startTime)),
			)
		})
	}
}

// recoveryStackSize is the size of the stack part that is logged on panic.
const recoveryStackSize = 8192

// Recovery is a middleware that recovers from panics, logs the panic value and
// a stacktrace with the request-scoped logger and responds with 500 HTTP
// status code and error in body.
func Recovery() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			defer func() {
				if p := recover(); p != nil {
					if p == http.ErrAbortHandler {
						// The sentinel panic for aborting a handler, net/http
						// handles it on its own.
						panic(p)
					}
					logger := GetLoggerFromContext(r.Context())
					stack := make([]byte, recoveryStackSize)
					stack = stack[:runtime.Stack(stack, false)]
					logger.Error(fmt.Sprintf("panic: %+v", p), log.Bytes("stack", stack))
					respondError(rw, http.StatusInternalServerError,
						&Error{Domain: ErrorDomain, Code: ErrCodeInternal, Message: "Internal error."}, logger)
				}
			}()
			next.ServeHTTP(rw, r)
		})
	}
}

type statusResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusResponseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusResponseWriter) Write(b []byte) (int, error) {
	if w.statusCode == 0 {
		w.statusCode = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

func (w *statusResponseWriter) status() int {
	if w.statusCode == 0 {
		return http.StatusOK
	}
	return w.statusCode
}
