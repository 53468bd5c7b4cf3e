// Package observability provides the HTTP server and gRPC interceptors.
package observability

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// Server wraps the service HTTP server: control API, player websocket,
// health and metrics.
type Server struct {
	server *http.Server
	addr   string
}

// NewServer creates an HTTP server for handler.
func NewServer(addr string, handler http.Handler) *Server {
	return &Server{
		addr: addr,
		server: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
			// No WriteTimeout: the player websocket is long-lived.
			IdleTimeout: 60 * time.Second,
		},
	}
}

// Serve blocks until the server stops. A graceful Shutdown is not an error.
func (s *Server) Serve() error {
	log.Info().Str("addr", s.addr).Msg("Starting HTTP server")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("HTTP server error")
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}
