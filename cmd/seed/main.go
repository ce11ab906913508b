// Copyright (c) 2026 Castellan. All rights reserved.
// Author: ops@castellan.dev

// Command seed bootstraps the builtin RBAC catalogue and the first
// administrator account.
//
// It is idempotent: every write is a conditional insert settled on the
// unique indexes, so re-running it against a populated database creates
// nothing and touches nothing. After seeding, the global permission epoch
// is bumped so any cached permission sets from a previous run are dropped.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/castellan/castellan/internal/core/rbac"
	"github.com/castellan/castellan/internal/platform/config"
	"github.com/castellan/castellan/internal/platform/migration"
	pgstore "github.com/castellan/castellan/internal/platform/postgres"
	redisstore "github.com/castellan/castellan/internal/platform/redis"
	"github.com/castellan/castellan/internal/platform/sec"
	"github.com/castellan/castellan/internal/platform/vcache"
	"github.com/castellan/castellan/pkg/uuid"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})).With(slog.String("app", "castellan-seed"))

	cfg, err := config.Load()
	must(log, err, "load configuration")

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	pool, err := pgstore.NewPool(ctx, cfg.DatabaseURL, log)
	must(log, err, "connect to postgres")
	defer pool.Close()

	rdb, err := redisstore.NewClient(ctx, cfg.RedisURL, log)
	must(log, err, "connect to redis")
	defer func() { _ = rdb.Close() }()

	must(log, migration.RunUp(cfg.DatabaseURL, cfg.MigrationPath, log), "run migrations")

	seeder := &seeder{pool: pool, log: log}

	// ── 1. Permissions ────────────────────────────────────────────────────
	permissionIDs := map[string]string{}
	permissionsCreated := 0
	for _, definition := range rbac.BuiltinPermissions() {
		id, created, err := seeder.ensure(ctx, "rbac.permission", definition)
		must(log, err, "seed permission "+definition.Code)
		permissionIDs[definition.Code] = id
		if created {
			permissionsCreated++
		}
	}

	// ── 2. Roles ──────────────────────────────────────────────────────────
	roleIDs := map[string]string{}
	rolesCreated := 0
	for _, definition := range rbac.BuiltinRoles() {
		id, created, err := seeder.ensure(ctx, "rbac.role", definition)
		must(log, err, "seed role "+definition.Code)
		roleIDs[definition.Code] = id
		if created {
			rolesCreated++
		}
	}

	// ── 3. Role-Permission Grants ─────────────────────────────────────────
	grantsCreated := 0
	for roleCode, permissionCodes := range rbac.RolePermissionMap() {
		roleID, ok := roleIDs[roleCode]
		if !ok {
			continue
		}
		for _, permissionCode := range permissionCodes {
			permissionID, ok := permissionIDs[permissionCode]
			if !ok {
				continue
			}
			created, err := seeder.ensureGrant(ctx, roleID, permissionID)
			must(log, err, "seed grant "+roleCode+" -> "+permissionCode)
			if created {
				grantsCreated++
			}
		}
	}

	// ── 4. Administrator Account ──────────────────────────────────────────
	adminID, adminCreated, err := seeder.ensureAdmin(ctx, cfg)
	must(log, err, "seed administrator account")

	bound, err := seeder.ensureUserRole(ctx, adminID, roleIDs[rbac.SuperAdminRoleCode])
	must(log, err, "bind administrator role")

	// ── 5. Permission Epoch ───────────────────────────────────────────────
	// Invalidate any cached permission sets built against earlier data.
	permCache := rbac.NewCache(vcache.New(rdb), rbac.NewResolver(rbac.NewPostgresBindingSource(pool)), log)
	if _, err := permCache.BumpEpoch(ctx); err != nil {
		log.Warn("permission_epoch_bump_failed", slog.Any("error", err))
	}

	log.Info("seed_complete",
		slog.Int("permissions_created", permissionsCreated),
		slog.Int("roles_created", rolesCreated),
		slog.Int("grants_created", grantsCreated),
		slog.Bool("admin_created", adminCreated),
		slog.Bool("admin_role_bound", bound),
	)
}

type seeder struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// ensure inserts a catalogue row (permission or role) if no alive row with
// the same code exists, and returns the row's id either way.
func (s *seeder) ensure(ctx context.Context, table string, definition rbac.Definition) (id string, created bool, err error) {
	insertQuery := `
		INSERT INTO ` + table + ` (id, code, name, description, isactive, version, createdat, updatedat)
		VALUES ($1, $2, $3, $4, TRUE, 0, NOW(), NOW())
		ON CONFLICT (code) WHERE isdeleted = FALSE DO NOTHING`

	selectQuery := `SELECT id FROM ` + table + ` WHERE code = $1 AND isdeleted = FALSE`

	tag, err := s.pool.Exec(ctx, insertQuery, uuid.New(), definition.Code, definition.Name, definition.Description)
	if err != nil {
		return "", false, err
	}

	if err := s.pool.QueryRow(ctx, selectQuery, definition.Code).Scan(&id); err != nil {
		return "", false, err
	}
	return id, tag.RowsAffected() == 1, nil
}

func (s *seeder) ensureGrant(ctx context.Context, roleID, permissionID string) (bool, error) {
	const query = `
		INSERT INTO rbac.rolegrant (id, roleid, permissionid, isactive, version, createdat, updatedat)
		VALUES ($1, $2, $3, TRUE, 0, NOW(), NOW())
		ON CONFLICT (roleid, permissionid, isdeleted) DO NOTHING`

	tag, err := s.pool.Exec(ctx, query, uuid.New(), roleID, permissionID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *seeder) ensureAdmin(ctx context.Context, cfg *config.Config) (id string, created bool, err error) {
	const insertQuery = `
		INSERT INTO rbac.account (id, username, phone, email, passwordhash, isactive, failedattempts, version, createdat, updatedat)
		VALUES ($1, $2, $3, $4, $5, TRUE, 0, 0, NOW(), NOW())
		ON CONFLICT (username) WHERE isdeleted = FALSE DO NOTHING`

	const selectQuery = `SELECT id FROM rbac.account WHERE username = $1 AND isdeleted = FALSE`

	hash, err := sec.HashPassword(cfg.AdminPassword)
	if err != nil {
		return "", false, err
	}

	tag, err := s.pool.Exec(ctx, insertQuery, uuid.New(), cfg.AdminUsername, cfg.AdminPhone, cfg.AdminEmail, hash)
	if err != nil {
		return "", false, err
	}

	if err := s.pool.QueryRow(ctx, selectQuery, cfg.AdminUsername).Scan(&id); err != nil {
		return "", false, err
	}
	return id, tag.RowsAffected() == 1, nil
}

func (s *seeder) ensureUserRole(ctx context.Context, userID, roleID string) (bool, error) {
	if roleID == "" {
		return false, nil
	}

	const query = `
		INSERT INTO rbac.userrole (id, userid, roleid, isactive, version, createdat, updatedat)
		VALUES ($1, $2, $3, TRUE, 0, NOW(), NOW())
		ON CONFLICT (userid, roleid, isdeleted) DO NOTHING`

	tag, err := s.pool.Exec(ctx, query, uuid.New(), userID, roleID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// must logs a structured fatal error and terminates the process if err is non-nil.
func must(log *slog.Logger, err error, context string) {
	if err != nil {
		log.Error("seed failure",
			slog.String("context", context),
			slog.Any("error", err),
		)
		os.Exit(1)
	}
}
