// Copyright (c) 2026 Castellan. All rights reserved.
// Author: ops@castellan.dev

package permission

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/castellan/castellan/internal/platform/dberr"
	"github.com/castellan/castellan/internal/platform/optimistic"
)

const tableName = "rbac.permission"

type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const selectColumns = `id, code, name, description, isactive, version, createdat, updatedat, isdeleted, deletedat`

func (repository *PostgresRepository) List(context context.Context, filter Filter, limit, offset int) ([]*Permission, int, error) {
	query := `SELECT ` + selectColumns + ` FROM rbac.permission WHERE 1=1`
	countQuery := `SELECT count(*) FROM rbac.permission WHERE 1=1`

	args := []any{}

	if !filter.IncludeAll {
		query += ` AND isdeleted = FALSE AND isactive = TRUE`
		countQuery += ` AND isdeleted = FALSE AND isactive = TRUE`
	}

	if filter.Query != "" {
		searchTerm := "%" + filter.Query + "%"
		args = append(args, searchTerm)
		clause := fmt.Sprintf(` AND (code ILIKE $%d OR name ILIKE $%d)`, len(args), len(args))
		query += clause
		countQuery += clause
	}

	var total int
	if err := repository.pool.QueryRow(context, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, dberr.Wrap(err, "count_permissions")
	}

	query += fmt.Sprintf(` ORDER BY code ASC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := repository.pool.Query(context, query, args...)
	if err != nil {
		return nil, 0, dberr.Wrap(err, "list_permissions")
	}
	defer rows.Close()

	var permissions []*Permission
	for rows.Next() {
		entity := &Permission{}
		if err := rows.Scan(
			&entity.ID, &entity.Code, &entity.Name, &entity.Description,
			&entity.IsActive, &entity.Version, &entity.CreatedAt, &entity.UpdatedAt,
			&entity.IsDeleted, &entity.DeletedAt,
		); err != nil {
			return nil, 0, dberr.Wrap(err, "scan_permission")
		}
		permissions = append(permissions, entity)
	}

	return permissions, total, nil
}

func (repository *PostgresRepository) Get(context context.Context, id string) (*Permission, error) {
	const query = `
		SELECT ` + selectColumns + `
		FROM rbac.permission
		WHERE id = $1 AND isdeleted = FALSE`

	entity := &Permission{}
	err := repository.pool.QueryRow(context, query, id).Scan(
		&entity.ID, &entity.Code, &entity.Name, &entity.Description,
		&entity.IsActive, &entity.Version, &entity.CreatedAt, &entity.UpdatedAt,
		&entity.IsDeleted, &entity.DeletedAt,
	)
	if err != nil {
		return nil, dberr.Wrap(err, "get_permission")
	}

	return entity, nil
}

func (repository *PostgresRepository) Create(context context.Context, entity *Permission) error {
	const query = `
		INSERT INTO rbac.permission (id, code, name, description, isactive, version, createdat, updatedat)
		VALUES ($1, $2, $3, $4, TRUE, 0, NOW(), NOW())
		RETURNING isactive, version, createdat, updatedat`

	err := repository.pool.QueryRow(context, query,
		entity.ID, entity.Code, entity.Name, entity.Description,
	).Scan(&entity.IsActive, &entity.Version, &entity.CreatedAt, &entity.UpdatedAt)

	return dberr.Wrap(err, "create_permission")
}

func (repository *PostgresRepository) UpdateWithVersion(context context.Context, id string, expectedVersion int64, patch *optimistic.Patch) (int64, error) {
	sql, args := optimistic.UpdateSQL(tableName, patch, id, expectedVersion)

	cmd, err := repository.pool.Exec(context, sql, args...)
	if err != nil {
		return 0, dberr.Wrap(err, "update_permission")
	}

	return cmd.RowsAffected(), nil
}

func (repository *PostgresRepository) SoftDeleteMany(context context.Context, ids []string) (int64, error) {
	sql, args := optimistic.BulkSoftDeleteSQL(tableName, ids)

	cmd, err := repository.pool.Exec(context, sql, args...)
	if err != nil {
		return 0, dberr.Wrap(err, "soft_delete_permissions")
	}

	return cmd.RowsAffected(), nil
}

func (repository *PostgresRepository) DisableMany(context context.Context, ids []string) (int64, error) {
	sql, args := optimistic.BulkDisableSQL(tableName, ids)

	cmd, err := repository.pool.Exec(context, sql, args...)
	if err != nil {
		return 0, dberr.Wrap(err, "disable_permissions")
	}

	return cmd.RowsAffected(), nil
}

// AliveIDs returns the subset of ids referring to alive permissions. Used by
// binding operations to reject unknown or deleted targets with a precise
// error instead of silently skipping them.
func (repository *PostgresRepository) AliveIDs(context context.Context, ids []string) ([]string, error) {
	const query = `
		SELECT id FROM rbac.permission
		WHERE id = ANY($1) AND isdeleted = FALSE AND isactive = TRUE`

	rows, err := repository.pool.Query(context, query, ids)
	if err != nil {
		return nil, dberr.Wrap(err, "alive_permission_ids")
	}
	defer rows.Close()

	var alive []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, dberr.Wrap(err, "scan_permission_id")
		}
		alive = append(alive, id)
	}

	return alive, nil
}

func (repository *PostgresRepository) HardDelete(context context.Context, id string) (int64, error) {
	sql, args := optimistic.HardDeleteSQL(tableName, id)

	cmd, err := repository.pool.Exec(context, sql, args...)
	if err != nil {
		return 0, dberr.Wrap(err, "hard_delete_permission")
	}

	return cmd.RowsAffected(), nil
}
