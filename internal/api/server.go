// Copyright (c) 2026 Castellan. All rights reserved.
// Author: ops@castellan.dev

/*
Package api wires together the HTTP router, middleware chain, and all
domain handlers into a runnable [http.Server].

Architecture:

  - This package is the topmost Presentation layer boundary.
  - It acts as the central composition root for the HTTP transport framework (chi router).
  - Only this package and cmd/api are allowed to import net/http server primitives.
*/
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/castellan/castellan/internal/auth"
	"github.com/castellan/castellan/internal/core/audit"
	"github.com/castellan/castellan/internal/core/permission"
	"github.com/castellan/castellan/internal/core/role"
	"github.com/castellan/castellan/internal/core/sysconfig"
	"github.com/castellan/castellan/internal/core/user"
	"github.com/castellan/castellan/internal/platform/config"
	"github.com/castellan/castellan/internal/platform/constants"
	"github.com/castellan/castellan/internal/platform/metrics"
	"github.com/castellan/castellan/internal/platform/middleware"
)

// # Server Definitions

// Server wraps the chi router and the [http.Server].
//
// It is constructed once in main.go with all dependencies injected.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	log        *slog.Logger
}

// # Handler Registry

// Handlers groups all domain-specific HTTP handler sets.
//
// # Usage
//
// New domains add a field here; no other change to server.go is required.
type Handlers struct {
	// Liveness is the /health handler. Always returns 200 if the process is alive.
	Liveness http.HandlerFunc

	// Readiness is the /ready handler. Returns 200 when all deps are healthy.
	Readiness http.HandlerFunc

	// Auth handles session routes (login, refresh, logout).
	Auth *auth.Handler

	// User manages console accounts and their role bindings.
	User *user.Handler

	// Role manages roles and their permission grants.
	Role *role.Handler

	// Permission manages the permission catalogue.
	Permission *permission.Handler

	// Audit exposes the operation log.
	Audit *audit.Handler

	// SysConfig exposes the runtime settings singleton.
	SysConfig *sysconfig.Handler
}

// Middlewares groups the cross-cutting dependencies the chain needs beyond
// the config: token verification, epoch matching, HTTPS policy, and the
// audit sink.
type Middlewares struct {
	Verifier    middleware.TokenVerifier
	TokenEpochs middleware.TokenEpochSource
	HTTPSPolicy middleware.HTTPSPolicy
	Audit       *audit.Recorder
}

// # Server Initialization

// NewServer constructs the chi router with the full middleware chain and
// registers all route groups.
func NewServer(context context.Context, cfg *config.Config, log *slog.Logger, mw Middlewares, h Handlers) *Server {
	r := chi.NewRouter()

	// # Middleware Chain
	// Global middleware applied in order of execution.
	r.Use(middleware.RequestID())
	r.Use(metrics.Instrument(routePattern))
	r.Use(middleware.StructuredLogger(log))
	r.Use(chimw.Timeout(constants.GlobalRequestTimeout))
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.ForceHTTPS(cfg, mw.HTTPSPolicy))
	r.Use(middleware.RateLimit(context))
	r.Use(middleware.PanicRecovery(log))
	r.Use(middleware.Authenticate(mw.Verifier, mw.TokenEpochs))
	r.Use(middleware.CORS(cfg))
	r.Use(chimw.CleanPath)

	// # Infrastructure Endpoints
	// Unauthenticated probes and the metrics scrape target.
	r.Get("/health", h.Liveness)
	r.Get("/ready", h.Readiness)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	// # Application API
	// Domain-specific route groups mounted under versioned prefix. Every
	// mutation inside the group lands in the audit log.
	r.Route("/api/v1", func(api chi.Router) {
		api.Use(audit.Middleware(mw.Audit))

		api.Route("/auth", h.Auth.RegisterRoutes)
		api.Route("/users", h.User.RegisterRoutes)
		api.Route("/roles", h.Role.RegisterRoutes)
		api.Route("/permissions", h.Permission.RegisterRoutes)
		api.Route("/logs", h.Audit.RegisterRoutes)
		api.Route("/system/config", h.SysConfig.RegisterRoutes)
	})

	return &Server{
		router: r,
		log:    log,
		httpServer: &http.Server{
			Addr:              ":" + cfg.ServerPort,
			Handler:           r,
			ReadTimeout:       constants.DefaultReadTimeout,
			WriteTimeout:      constants.DefaultWriteTimeout,
			IdleTimeout:       constants.DefaultIdleTimeout,
			ReadHeaderTimeout: constants.DefaultReadHeaderTimeout,
		},
	}
}

// routePattern resolves the matched chi pattern so metric labels stay low
// cardinality.
func routePattern(request *http.Request) string {
	if routeContext := chi.RouteContext(request.Context()); routeContext != nil {
		if pattern := routeContext.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

// # Server Lifecycle

// ListenAndServe starts the HTTP server.
//
// It blocks until the server is closed or an error occurs.
func (s *Server) ListenAndServe() error {
	s.log.Info("server starting", slog.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server, waiting for in-flight requests.
func (s *Server) Shutdown(timeout time.Duration) error {
	context, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.httpServer.Shutdown(context)
}
