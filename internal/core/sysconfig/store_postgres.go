// Copyright (c) 2026 Castellan. All rights reserved.
// Author: ops@castellan.dev

package sysconfig

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/castellan/castellan/internal/platform/dberr"
	"github.com/castellan/castellan/internal/platform/optimistic"
)

const singletonID = 1

type Repository interface {
	GetSingleton(context context.Context) (*SystemConfig, error)
	UpdateWithVersion(context context.Context, expectedVersion int64, patch *optimistic.Patch) (int64, error)
}

type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const selectColumns = `id, projectname, projectdescription, projecturl, defaultpagesize,
	passwordminlength, passwordrequireuppercase, passwordrequirelowercase,
	passwordrequiredigits, passwordrequirespecial, passwordexpiredays,
	loginmaxfailedattempts, loginlockminutes, sessiontimeouthours, forcehttps,
	version, createdat, updatedat`

// GetSingleton reads the settings row, creating the default one on first
// access. The insert races benignly: ON CONFLICT DO NOTHING and re-read.
func (repository *PostgresRepository) GetSingleton(context context.Context) (*SystemConfig, error) {
	entity, err := repository.read(context)
	if err == nil {
		return entity, nil
	}
	if err != dberr.ErrNotFound {
		return nil, err
	}

	const insertQuery = `
		INSERT INTO rbac.systemconfig (id, version, createdat, updatedat)
		VALUES ($1, 0, NOW(), NOW())
		ON CONFLICT (id) DO NOTHING`

	if _, err := repository.pool.Exec(context, insertQuery, singletonID); err != nil {
		return nil, dberr.Wrap(err, "create_system_config")
	}

	return repository.read(context)
}

func (repository *PostgresRepository) read(context context.Context) (*SystemConfig, error) {
	const query = `SELECT ` + selectColumns + ` FROM rbac.systemconfig WHERE id = $1`

	entity := &SystemConfig{}
	err := repository.pool.QueryRow(context, query, singletonID).Scan(
		&entity.ID, &entity.ProjectName, &entity.ProjectDescription, &entity.ProjectURL,
		&entity.DefaultPageSize,
		&entity.PasswordMinLength, &entity.PasswordRequireUppercase, &entity.PasswordRequireLowercase,
		&entity.PasswordRequireDigits, &entity.PasswordRequireSpecial, &entity.PasswordExpireDays,
		&entity.LoginMaxFailedAttempts, &entity.LoginLockMinutes, &entity.SessionTimeoutHours,
		&entity.ForceHTTPS, &entity.Version, &entity.CreatedAt, &entity.UpdatedAt,
	)
	if err != nil {
		return nil, dberr.Wrap(err, "get_system_config")
	}

	return entity, nil
}

// UpdateWithVersion applies a version-checked partial update to the
// singleton. The systemconfig table has no soft-delete columns, so the
// guarded UPDATE is built inline instead of through the optimistic helpers.
func (repository *PostgresRepository) UpdateWithVersion(context context.Context, expectedVersion int64, patch *optimistic.Patch) (int64, error) {
	sql, args := optimistic.SingletonUpdateSQL("rbac.systemconfig", patch, singletonID, expectedVersion)

	cmd, err := repository.pool.Exec(context, sql, args...)
	if err != nil {
		return 0, dberr.Wrap(err, "update_system_config")
	}

	return cmd.RowsAffected(), nil
}
