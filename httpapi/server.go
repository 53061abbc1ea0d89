/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/acronis/go-ratebucket/log"
)

// ServerOpts represents options for creating Server.
type ServerOpts struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Server wraps http.Server with graceful shutdown for the API.
type Server struct {
	httpServer      *http.Server
	logger          log.FieldLogger
	shutdownTimeout time.Duration
}

// NewServer creates a new Server serving the given handler.
func NewServer(handler http.Handler, logger log.FieldLogger, opts ServerOpts) *Server {
	shutdownTimeout := opts.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = time.Second * 5
	}
	return &Server{
		httpServer: &http.Server{
			Addr:         opts.Address,
			Handler:      handler,
			ReadTimeout:  opts.ReadTimeout,
			WriteTimeout: opts.WriteTimeout,
		},
		logger:          logger,
		shutdownTimeout: shutdownTimeout,
	}
}

// Start begins serving and blocks until the server stops.
// A listen failure is reported to the fatalErr channel.
func (s *Server) Start(fatalErr chan<- error) {
	s.logger.Info("starting HTTP server", log.String("address", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		fatalErr <- fmt.Errorf("listen and serve: %w", err)
	}
}

// Stop halts the server. A graceful stop waits for in-flight requests up to the
// configured shutdown timeout.
func (s *Server) Stop(gracefully bool) error {
	if !gracefully {
		return s.httpServer.Close()
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	s.logger.Info("stopping HTTP server gracefully")
	return s.httpServer.Shutdown(ctx)
}
