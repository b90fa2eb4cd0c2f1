// Package server sets up the HTTP server, router, and all route definitions.
//
// SERVER ARCHITECTURE:
// This package is the "wiring" layer. It connects handlers, middleware, and
// routes, and decides how the server starts and stops.
//
// DEPENDENCY INJECTION FLOW:
// main.go loads config.Config and a logger, then
//
//	Server.New() creates: sqlstore.Store → AuthService → AuthHandler
//	                      TokenService, PasswordService, OAuth providers ↗
//
// This is the "composition root" pattern: all dependencies are wired in one
// place (New/setupRoutes), rather than scattered across the codebase.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/docx/internal/auth"
	"github.com/sakif/docx/internal/config"
	"github.com/sakif/docx/internal/handler"
	"github.com/sakif/docx/internal/middleware"
	"github.com/sakif/docx/internal/model"
	"github.com/sakif/docx/internal/repository/sqlstore"
	"github.com/sakif/docx/internal/service"
)

const shutdownTimeout = 30 * time.Second

// Server represents the HTTP server and all its dependencies.
//
// RESOURCE MANAGEMENT:
// The Server owns the store's connection pool. Start closes it after the
// HTTP server has drained, so in-flight requests never see a closed pool.
type Server struct {
	router *chi.Mux
	config config.Config
	logger *slog.Logger
	store  *sqlstore.Store
	tokens *auth.TokenService // nil when no usable session secret is configured
}

// New opens the store and wires every dependency.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Server, error) {
	store, err := sqlstore.Open(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		store:  store,
	}

	// A bad secret degrades the server instead of stopping it: every login
	// fails and every session reads as absent until it is fixed.
	if cfg.SessionSecretUsable() {
		s.tokens, err = auth.NewTokenService(cfg.SessionSecret)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("creating token service: %w", err)
		}
	} else {
		logger.Warn("SESSION_JWT_SECRET missing or shorter than 16 characters; authentication is disabled")
	}

	s.setupRoutes()
	return s, nil
}

// providers builds an adapter for every provider with credentials.
func (s *Server) providers() service.Providers {
	providers := service.Providers{}

	add := func(name model.AuthService, env config.ProviderEnv, build func(auth.ProviderConfig) auth.Exchanger) {
		if !env.Enabled() {
			s.logger.Warn("OAuth provider not configured", slog.String("provider", string(name)))
			return
		}
		providers[name] = build(auth.ProviderConfig{
			ClientID:     env.ClientID,
			ClientSecret: env.ClientSecret,
			RedirectURL:  env.RedirectURI,
		})
	}

	add(model.AuthGitHub, s.config.GitHub, func(c auth.ProviderConfig) auth.Exchanger { return auth.NewGitHubProvider(c) })
	add(model.AuthDiscord, s.config.Discord, func(c auth.ProviderConfig) auth.Exchanger { return auth.NewDiscordProvider(c) })
	add(model.AuthGoogle, s.config.Google, func(c auth.ProviderConfig) auth.Exchanger { return auth.NewGoogleProvider(c) })

	return providers
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE (mounted at / and again under /api/v1):
// GET    /auth/redirect?service=   → 307 to the provider consent page
// GET    /auth/callback            → finish any login/registration flow
// POST   /auth/callback            → finish a native flow from JSON
// GET    /users/me/session         → current session or "none"
// GET    /users/me                 → current user (401 without session)
// GET    /logout                   → clear the session cookie
// GET    /healthz                  → storage liveness
//
// MIDDLEWARE ORDER MATTERS:
// 1. RequestID: assigns a unique ID to each request (for tracing)
// 2. RealIP: extracts the real client IP from proxy headers
// 3. Logger: logs each request with its request ID
// 4. Recoverer: catches panics and returns 500 instead of crashing
func (s *Server) setupRoutes() {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer)

	authService := service.NewAuthService(
		s.store,
		s.tokens,
		auth.NewPasswordService(),
		s.providers(),
		s.logger,
	)
	authHandler := handler.NewAuthHandler(authService, s.config.PublicHostname, s.config.Production(), s.logger)

	routes := func(r chi.Router) {
		r.Get("/auth/redirect", authHandler.HandleRedirect)
		r.Get("/auth/callback", authHandler.HandleCallback)
		r.Post("/auth/callback", authHandler.HandleCallbackJSON)
		r.Get("/users/me/session", authHandler.HandleSession)
		r.With(auth.RequireAuth(s.tokens)).Get("/users/me", authHandler.HandleMe)
		r.Get("/logout", authHandler.HandleLogout)
		r.Get("/healthz", authHandler.HandleHealth)
	}

	routes(s.router)
	s.router.Route("/api/v1", routes)
}

// Handler exposes the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close releases the store. Start calls it on the way out.
func (s *Server) Close() error {
	return s.store.Close()
}

// Start starts the HTTP server and handles graceful shutdown.
//
// GRACEFUL SHUTDOWN:
// 1. Stop accepting new HTTP connections
// 2. Wait for in-flight requests to finish (30s timeout)
// 3. Close the store (flushes the SQLite WAL, returns Postgres connections)
func (s *Server) Start() error {
	defer s.Close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("publicHost", s.config.PublicHostname),
			slog.String("database", string(s.store.Dialect())),
			slog.String("environment", s.config.Environment),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
