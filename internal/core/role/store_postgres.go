// Copyright (c) 2026 Castellan. All rights reserved.
// Author: ops@castellan.dev

package role

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/castellan/castellan/internal/core/rbac"
	"github.com/castellan/castellan/internal/platform/dberr"
	"github.com/castellan/castellan/internal/platform/optimistic"
	"github.com/castellan/castellan/pkg/uuid"
)

const tableName = "rbac.role"

type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const selectColumns = `id, code, name, description, isactive, version, createdat, updatedat, isdeleted, deletedat`

func (repository *PostgresRepository) List(context context.Context, filter Filter, limit, offset int) ([]*Role, int, error) {
	query := `SELECT ` + selectColumns + ` FROM rbac.role WHERE 1=1`
	countQuery := `SELECT count(*) FROM rbac.role WHERE 1=1`

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
		return nil, 0, dberr.Wrap(err, "count_roles")
	}

	query += fmt.Sprintf(` ORDER BY code ASC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := repository.pool.Query(context, query, args...)
	if err != nil {
		return nil, 0, dberr.Wrap(err, "list_roles")
	}
	defer rows.Close()

	var roles []*Role
	for rows.Next() {
		entity := &Role{}
		if err := rows.Scan(
			&entity.ID, &entity.Code, &entity.Name, &entity.Description,
			&entity.IsActive, &entity.Version, &entity.CreatedAt, &entity.UpdatedAt,
			&entity.IsDeleted, &entity.DeletedAt,
		); err != nil {
			return nil, 0, dberr.Wrap(err, "scan_role")
		}
		roles = append(roles, entity)
	}

	return roles, total, nil
}

func (repository *PostgresRepository) Get(context context.Context, id string) (*Role, error) {
	const query = `
		SELECT ` + selectColumns + `
		FROM rbac.role
		WHERE id = $1 AND isdeleted = FALSE`

	return repository.scanOne(context, query, id)
}

func (repository *PostgresRepository) GetByCode(context context.Context, code string) (*Role, error) {
	const query = `
		SELECT ` + selectColumns + `
		FROM rbac.role
		WHERE code = $1 AND isdeleted = FALSE`

	return repository.scanOne(context, query, code)
}

func (repository *PostgresRepository) scanOne(context context.Context, query string, arg any) (*Role, error) {
	entity := &Role{}
	err := repository.pool.QueryRow(context, query, arg).Scan(
		&entity.ID, &entity.Code, &entity.Name, &entity.Description,
		&entity.IsActive, &entity.Version, &entity.CreatedAt, &entity.UpdatedAt,
		&entity.IsDeleted, &entity.DeletedAt,
	)
	if err != nil {
		return nil, dberr.Wrap(err, "get_role")
	}

	return entity, nil
}

func (repository *PostgresRepository) Create(context context.Context, entity *Role) error {
	const query = `
		INSERT INTO rbac.role (id, code, name, description, isactive, version, createdat, updatedat)
		VALUES ($1, $2, $3, $4, TRUE, 0, NOW(), NOW())
		RETURNING isactive, version, createdat, updatedat`

	err := repository.pool.QueryRow(context, query,
		entity.ID, entity.Code, entity.Name, entity.Description,
	).Scan(&entity.IsActive, &entity.Version, &entity.CreatedAt, &entity.UpdatedAt)

	return dberr.Wrap(err, "create_role")
}

func (repository *PostgresRepository) UpdateWithVersion(context context.Context, id string, expectedVersion int64, patch *optimistic.Patch) (int64, error) {
	sql, args := optimistic.UpdateSQL(tableName, patch, id, expectedVersion)

	cmd, err := repository.pool.Exec(context, sql, args...)
	if err != nil {
		return 0, dberr.Wrap(err, "update_role")
	}

	return cmd.RowsAffected(), nil
}

func (repository *PostgresRepository) SoftDeleteMany(context context.Context, ids []string) (int64, error) {
	sql, args := optimistic.BulkSoftDeleteSQL(tableName, ids)

	cmd, err := repository.pool.Exec(context, sql, args...)
	if err != nil {
		return 0, dberr.Wrap(err, "soft_delete_roles")
	}

	return cmd.RowsAffected(), nil
}

func (repository *PostgresRepository) DisableMany(context context.Context, ids []string) (int64, error) {
	sql, args := optimistic.BulkDisableSQL(tableName, ids)

	cmd, err := repository.pool.Exec(context, sql, args...)
	if err != nil {
		return 0, dberr.Wrap(err, "disable_roles")
	}

	return cmd.RowsAffected(), nil
}

func (repository *PostgresRepository) HardDelete(context context.Context, id string) (int64, error) {
	sql, args := optimistic.HardDeleteSQL(tableName, id)

	cmd, err := repository.pool.Exec(context, sql, args...)
	if err != nil {
		return 0, dberr.Wrap(err, "hard_delete_role")
	}

	return cmd.RowsAffected(), nil
}

func (repository *PostgresRepository) AliveIDs(context context.Context, ids []string) ([]string, error) {
	const query = `
		SELECT id FROM rbac.role
		WHERE id = ANY($1) AND isdeleted = FALSE AND isactive = TRUE`

	rows, err := repository.pool.Query(context, query, ids)
	if err != nil {
		return nil, dberr.Wrap(err, "alive_role_ids")
	}
	defer rows.Close()

	var alive []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, dberr.Wrap(err, "scan_role_id")
		}
		alive = append(alive, id)
	}

	return alive, nil
}

// # Grant Bindings

/*
BindPermissions applies the Cartesian product of roleIDs × permissionIDs as
grant rows, inside a single transaction.

Description: Each pair is settled by a restore-then-insert sequence:
 1. A guarded UPDATE revives a soft-deleted pair if one exists (restored).
 2. Otherwise an INSERT with ON CONFLICT DO NOTHING either creates the
    pair (added) or collides with the alive row (existed).

Both statements are conditional writes; no pair is ever read first, so
concurrent binds of the same pair settle on the unique index instead of
racing.

Parameters:
  - context: context.Context
  - roleIDs: []string
  - permissionIDs: []string

Returns:
  - rbac.BindResult: Per-pair outcome counts {added, restored, existed}
  - error: Transaction failure
*/
func (repository *PostgresRepository) BindPermissions(context context.Context, roleIDs, permissionIDs []string) (rbac.BindResult, error) {
	const restoreQuery = `
		UPDATE rbac.rolegrant
		SET isdeleted = FALSE, deletedat = NULL, updatedat = NOW()
		WHERE roleid = $1 AND permissionid = $2 AND isdeleted = TRUE`

	const insertQuery = `
		INSERT INTO rbac.rolegrant (id, roleid, permissionid, isactive, version, createdat, updatedat)
		VALUES ($1, $2, $3, TRUE, 0, NOW(), NOW())
		ON CONFLICT (roleid, permissionid, isdeleted) DO NOTHING`

	var result rbac.BindResult

	transaction, err := repository.pool.Begin(context)
	if err != nil {
		return result, dberr.Wrap(err, "bind_permissions_begin")
	}
	defer func() { _ = transaction.Rollback(context) }()

	for _, roleID := range roleIDs {
		for _, permissionID := range permissionIDs {
			restored, err := transaction.Exec(context, restoreQuery, roleID, permissionID)
			if err != nil {
				return rbac.BindResult{}, dberr.Wrap(err, "bind_permissions_restore")
			}
			if restored.RowsAffected() == 1 {
				result.Restored++
				continue
			}

			inserted, err := transaction.Exec(context, insertQuery, uuid.New(), roleID, permissionID)
			if err != nil {
				return rbac.BindResult{}, dberr.Wrap(err, "bind_permissions_insert")
			}
			if inserted.RowsAffected() == 1 {
				result.Added++
			} else {
				result.Existed++
			}
		}
	}

	if err := transaction.Commit(context); err != nil {
		return rbac.BindResult{}, dberr.Wrap(err, "bind_permissions_commit")
	}

	return result, nil
}

// UnbindPermissions soft-deletes every alive grant in the product of the two
// ID lists. Already-removed pairs affect zero rows and are not an error.
func (repository *PostgresRepository) UnbindPermissions(context context.Context, roleIDs, permissionIDs []string) (rbac.UnbindResult, error) {
	const query = `
		UPDATE rbac.rolegrant
		SET isdeleted = TRUE, deletedat = NOW(), updatedat = NOW()
		WHERE roleid = ANY($1) AND permissionid = ANY($2) AND isdeleted = FALSE`

	cmd, err := repository.pool.Exec(context, query, roleIDs, permissionIDs)
	if err != nil {
		return rbac.UnbindResult{}, dberr.Wrap(err, "unbind_permissions")
	}

	return rbac.UnbindResult{Removed: int(cmd.RowsAffected())}, nil
}

func (repository *PostgresRepository) PermissionIDsOfRole(context context.Context, roleID string) ([]string, error) {
	const query = `
		SELECT permissionid FROM rbac.rolegrant
		WHERE roleid = $1 AND isdeleted = FALSE`

	rows, err := repository.pool.Query(context, query, roleID)
	if err != nil {
		return nil, dberr.Wrap(err, "permission_ids_of_role")
	}
	defer rows.Close()

	var permissionIDs []string
	for rows.Next() {
		var permissionID string
		if err := rows.Scan(&permissionID); err != nil {
			return nil, dberr.Wrap(err, "scan_grant")
		}
		permissionIDs = append(permissionIDs, permissionID)
	}

	return permissionIDs, nil
}
