package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/ternarybob/waypoint/internal/app"
)

const (
	readTimeout = 15 * time.Second
	// Acquire waits on the device and at most one prompt
	writeTimeout = 30 * time.Second
	idleTimeout  = 60 * time.Second
)

// Server exposes the harness routes and the state feed
type Server struct {
	app    *app.App
	addr   string
	router *http.ServeMux
	server *http.Server
}

func New(application *app.App) *Server {
	cfg := application.Config.Server
	s := &Server{
		app:  application,
		addr: net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
	}
	s.router = s.setupRoutes()
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.withConditionalMiddleware(s.router),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}
	return s
}

// Addr is the host:port the server listens on
func (s *Server) Addr() string {
	return s.addr
}

// Start blocks until the server stops; a graceful Shutdown returns nil
func (s *Server) Start() error {
	s.app.Logger.Info().
		Str("address", s.addr).
		Str("state_feed", fmt.Sprintf("ws://%s/ws", s.addr)).
		Msg("HTTP server starting")

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.app.Logger.Info().Msg("Shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.app.Logger.Info().Msg("HTTP server stopped")
	return nil
}
