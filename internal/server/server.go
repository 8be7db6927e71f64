// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aisle Contributors

// Package server exposes the shopping assistant over HTTP: a streaming chat
// endpoint plus health, readiness, and catalog administration.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/aisle-dev/aisle/internal/agent"
	"github.com/aisle-dev/aisle/internal/catalog"
	aisleerr "github.com/aisle-dev/aisle/pkg/errors"
)

// Config holds HTTP server configuration.
type Config struct {
	ListenAddr  string
	CORSOrigins []string
	ReadTimeout time.Duration
}

// Deps are the services the server fronts.
type Deps struct {
	Loop    *agent.Loop
	Catalog *catalog.Store
	Logger  *slog.Logger
}

// Server wraps a chi router with a huma API and the HTTP listener.
type Server struct {
	router chi.Router
	api    huma.API
	cfg    Config
	deps   Deps
}

// New creates a Server with routing, middleware, and all operations
// registered.
func New(cfg Config, deps Deps) (*Server, error) {
	if cfg.ListenAddr == "" {
		return nil, aisleerr.New(aisleerr.CodeServerStartFailure, "listen address is required")
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(corsMiddleware(cfg.CORSOrigins))

	humaConfig := huma.DefaultConfig("Aisle", "0.1.0")
	humaConfig.Info.Description = "AI shopping assistant API"
	api := humachi.New(r, humaConfig)

	srv := &Server{
		router: r,
		api:    api,
		cfg:    cfg,
		deps:   deps,
	}
	srv.registerRoutes()

	return srv, nil
}

// Handler returns the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start runs the HTTP server and blocks until the context is cancelled, then
// performs graceful shutdown. WriteTimeout stays unset: chat responses are
// long-lived SSE streams.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return aisleerr.Wrapf(err, aisleerr.CodeServerStartFailure, "listening on %s", s.cfg.ListenAddr)
	}

	srv := &http.Server{
		Handler:     s.router,
		ReadTimeout: s.cfg.ReadTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	s.deps.Logger.Info("server listening", "addr", ln.Addr().String())
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return aisleerr.Wrap(err, aisleerr.CodeServerStartFailure, "shutting down")
	}

	return <-errCh
}

func corsMiddleware(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173"}
	}

	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-User-ID"},
		ExposedHeaders:   []string{"X-Conversation-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	})
}
