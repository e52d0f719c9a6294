// Package api is the HTTP surface of the engine: campaign trigger and
// lifecycle controls, reporting, the monitoring dashboard, and the
// provider webhook endpoints.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/eventstreamhq/engine/internal/pkg/logger"
)

// Server wraps the router in an http.Server with sane timeouts.
type Server struct {
	handler http.Handler
	server  *http.Server
}

// NewServer creates a Server around an assembled router.
func NewServer(handler http.Handler) *Server {
	return &Server{handler: handler}
}

// ListenAndServe starts the HTTP server on addr.
func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	logger.Info("http server listening", "addr", addr)
	return s.server.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
