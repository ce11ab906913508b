// Copyright (c) 2026 Castellan. All rights reserved.
// Author: ops@castellan.dev

// Command api is the entry point for the Castellan admin-console API server.
//
// # Startup Sequence
//
//  1. Initialize structured logger.
//  2. Load configuration from environment variables.
//  3. Connect to PostgreSQL (pgxpool).
//  4. Connect to Redis.
//  5. Run database migrations (idempotent).
//  6. Wire HTTP handlers.
//  7. Start HTTP server with graceful shutdown.
//
// No business logic lives here. All wiring is explicit constructor injection.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/castellan/castellan/internal/api"
	"github.com/castellan/castellan/internal/auth"
	"github.com/castellan/castellan/internal/core/audit"
	"github.com/castellan/castellan/internal/core/permission"
	"github.com/castellan/castellan/internal/core/rbac"
	"github.com/castellan/castellan/internal/core/role"
	"github.com/castellan/castellan/internal/core/sysconfig"
	"github.com/castellan/castellan/internal/core/user"
	"github.com/castellan/castellan/internal/platform/config"
	"github.com/castellan/castellan/internal/platform/constants"
	"github.com/castellan/castellan/internal/platform/middleware"
	"github.com/castellan/castellan/internal/platform/migration"
	pgstore "github.com/castellan/castellan/internal/platform/postgres"
	redisstore "github.com/castellan/castellan/internal/platform/redis"
	"github.com/castellan/castellan/internal/platform/sec"
	"github.com/castellan/castellan/internal/platform/vcache"
)

func main() {
	// ── 1. Logger ──────────────────────────────────────────────────────────
	// Initialize first so that subsequent startup errors are structured JSON.
	rawLog := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	// Add global context to all log entries.
	log := rawLog.With(slog.String("app", "castellan"))
	slog.SetDefault(log)

	log.Info("[Castellan] service_initializing")

	// ── 2. Configuration ──────────────────────────────────────────────────
	cfg, err := config.Load()
	must(log, err, "load configuration")

	if cfg.Debug {
		debugLog := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
		log = debugLog.With(slog.String("app", "castellan"))
		slog.SetDefault(log)
		log.Debug("debug_logging_enabled")
	}

	log.Info("configuration_loaded",
		slog.String("environment", cfg.Environment),
		slog.String("port", cfg.ServerPort),
	)

	// Root context for startup. Use a 30s deadline so misconfiguration is
	// caught quickly rather than hanging indefinitely.
	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startupCancel()

	// Root context for the server lifetime. Cancelled on shutdown so
	// background goroutines (rate limiter cleanup) exit cleanly.
	serverCtx, serverCancel := context.WithCancel(context.Background())
	defer serverCancel()

	// ── 3. PostgreSQL ─────────────────────────────────────────────────────
	pool, err := pgstore.NewPool(startupCtx, cfg.DatabaseURL, log)
	must(log, err, "connect to postgres")
	defer func() {
		log.Info("closing postgres pool")
		pool.Close()
	}()

	// ── 4. Redis ──────────────────────────────────────────────────────────
	rdb, err := redisstore.NewClient(startupCtx, cfg.RedisURL, log)
	must(log, err, "connect to redis")
	defer func() {
		log.Info("closing redis client")
		if cerr := rdb.Close(); cerr != nil {
			log.Error("redis close error", slog.Any("error", cerr))
		}
	}()

	// ── 5. Migrations ─────────────────────────────────────────────────────
	must(log, migration.RunUp(cfg.DatabaseURL, cfg.MigrationPath, log), "run migrations")

	// ── 6. Token Service ──────────────────────────────────────────────────
	tokens, err := sec.NewTokenService(
		cfg.JWTSecret,
		constants.AuthIssuer,
		time.Duration(cfg.AccessTokenTTLSeconds)*time.Second,
		time.Duration(cfg.RefreshTokenTTLSeconds)*time.Second,
	)
	must(log, err, "initialize jwt service")

	// ── 7. Health handlers (wired with real dependency checkers) ──────────
	liveness, readiness := api.NewHealthHandlers(api.HealthDependencies{
		CheckDatabase: func() error {
			return pgstore.Ping(context.Background(), pool)
		},
		CheckCache: func() error {
			return redisstore.Ping(context.Background(), rdb)
		},
	}, log)

	// ── 8. Domain Wiring ──────────────────────────────────────────────────
	versions := vcache.New(rdb)

	// Permission resolution and the epoch-keyed cache.
	bindings := rbac.NewPostgresBindingSource(pool)
	resolver := rbac.NewResolver(bindings)
	permCache := rbac.NewCache(versions, resolver, log)

	// Runtime settings singleton. Also serves the password and lockout
	// policies and the HTTPS toggle.
	sysconfigRepo := sysconfig.NewPostgresRepository(pool)
	sysconfigService := sysconfig.NewService(sysconfigRepo, cfg, log)

	permissionRepo := permission.NewPostgresRepository(pool)
	permissionService := permission.NewService(permissionRepo, permCache, log)

	roleRepo := role.NewPostgresRepository(pool)
	roleService := role.NewService(roleRepo, permissionRepo, permCache, log)

	userRepo := user.NewPostgresRepository(pool)
	userService := user.NewService(userRepo, roleRepo, permCache, sysconfigService, log)

	// Session core: per-user token epochs plus the login/refresh/logout flow.
	tokenEpochs := auth.NewRedisTokenEpochStore(versions)
	authService := auth.NewService(userRepo, tokenEpochs, tokens, sysconfigService, permCache, log)

	auditStore := audit.NewPostgresStore(pool)
	auditRecorder := audit.NewRecorder(auditStore, log)

	guard := middleware.NewGuard(userService, permCache)

	handlers := api.Handlers{
		Liveness:   liveness,
		Readiness:  readiness,
		Auth:       auth.NewHandler(authService),
		User:       user.NewHandler(userService, guard),
		Role:       role.NewHandler(roleService, guard),
		Permission: permission.NewHandler(permissionService, guard),
		Audit:      audit.NewHandler(auditStore, guard),
		SysConfig:  sysconfig.NewHandler(sysconfigService, guard),
	}

	middlewares := api.Middlewares{
		Verifier:    tokens,
		TokenEpochs: tokenEpochs,
		HTTPSPolicy: sysconfigService,
		Audit:       auditRecorder,
	}

	// ── 9. HTTP Server ────────────────────────────────────────────────────
	server := api.NewServer(serverCtx, cfg, log, middlewares, handlers)

	// ── 10. Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)

	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Block until OS signal or server error.
	select {
	case sig := <-quit:
		log.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-serverErr:
		log.Error("server startup error", slog.Any("error", err))
	}

	// Give in-flight requests enough time to complete.
	shutdownTimeout := constants.ShutdownTimeout
	log.Info("shutting down server", slog.Duration("timeout", shutdownTimeout))

	if err := server.Shutdown(shutdownTimeout); err != nil {
		log.Error("shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	log.Info("server stopped cleanly")
}

// must logs a structured fatal error and terminates the process if err is non-nil.
//
// It is intentionally limited to startup wiring. After startup, all errors
// must be returned and handled explicitly (never panic).
func must(log *slog.Logger, err error, context string) {
	if err != nil {
		log.Error("startup failure",
			slog.String("context", context),
			slog.Any("error", err),
		)
		os.Exit(1)
	}
}
