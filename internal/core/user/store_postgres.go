// Copyright (c) 2026 Castellan. All rights reserved.
// Author: ops@castellan.dev

package user

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/castellan/castellan/internal/core/rbac"
	"github.com/castellan/castellan/internal/platform/dberr"
	"github.com/castellan/castellan/internal/platform/optimistic"
	"github.com/castellan/castellan/pkg/uuid"
)

const tableName = "rbac.account"

type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const selectColumns = `id, username, phone, email, passwordhash, isactive, failedattempts,
	lockeduntil, lastloginat, version, createdat, updatedat, isdeleted, deletedat`

func (repository *PostgresRepository) List(context context.Context, filter Filter, limit, offset int) ([]*User, int, error) {
	query := `SELECT ` + selectColumns + ` FROM rbac.account WHERE 1=1`
	countQuery := `SELECT count(*) FROM rbac.account WHERE 1=1`

	args := []any{}

	if !filter.IncludeAll {
		query += ` AND isdeleted = FALSE AND isactive = TRUE`
		countQuery += ` AND isdeleted = FALSE AND isactive = TRUE`
	}

	if filter.Query != "" {
		searchTerm := "%" + filter.Query + "%"
		args = append(args, searchTerm)
		clause := fmt.Sprintf(` AND (username ILIKE $%d OR phone ILIKE $%d)`, len(args), len(args))
		query += clause
		countQuery += clause
	}

	var total int
	if err := repository.pool.QueryRow(context, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, dberr.Wrap(err, "count_users")
	}

	query += fmt.Sprintf(` ORDER BY createdat DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := repository.pool.Query(context, query, args...)
	if err != nil {
		return nil, 0, dberr.Wrap(err, "list_users")
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		entity := &User{}
		if err := rows.Scan(
			&entity.ID, &entity.Username, &entity.Phone, &entity.Email,
			&entity.PasswordHash, &entity.IsActive, &entity.FailedAttempts,
			&entity.LockedUntil, &entity.LastLoginAt, &entity.Version,
			&entity.CreatedAt, &entity.UpdatedAt, &entity.IsDeleted, &entity.DeletedAt,
		); err != nil {
			return nil, 0, dberr.Wrap(err, "scan_user")
		}
		users = append(users, entity)
	}

	return users, total, nil
}

func (repository *PostgresRepository) Get(context context.Context, id string) (*User, error) {
	const query = `
		SELECT ` + selectColumns + `
		FROM rbac.account
		WHERE id = $1 AND isdeleted = FALSE`

	return repository.scanOne(context, query, id)
}

func (repository *PostgresRepository) GetByUsername(context context.Context, username string) (*User, error) {
	const query = `
		SELECT ` + selectColumns + `
		FROM rbac.account
		WHERE username = $1 AND isdeleted = FALSE`

	return repository.scanOne(context, query, username)
}

func (repository *PostgresRepository) GetByPhone(context context.Context, phone string) (*User, error) {
	const query = `
		SELECT ` + selectColumns + `
		FROM rbac.account
		WHERE phone = $1 AND isdeleted = FALSE`

	return repository.scanOne(context, query, phone)
}

func (repository *PostgresRepository) scanOne(context context.Context, query string, arg any) (*User, error) {
	entity := &User{}
	err := repository.pool.QueryRow(context, query, arg).Scan(
		&entity.ID, &entity.Username, &entity.Phone, &entity.Email,
		&entity.PasswordHash, &entity.IsActive, &entity.FailedAttempts,
		&entity.LockedUntil, &entity.LastLoginAt, &entity.Version,
		&entity.CreatedAt, &entity.UpdatedAt, &entity.IsDeleted, &entity.DeletedAt,
	)
	if err != nil {
		return nil, dberr.Wrap(err, "get_user")
	}

	return entity, nil
}

func (repository *PostgresRepository) Create(context context.Context, entity *User) error {
	const query = `
		INSERT INTO rbac.account (id, username, phone, email, passwordhash, isactive, failedattempts, version, createdat, updatedat)
		VALUES ($1, $2, $3, $4, $5, TRUE, 0, 0, NOW(), NOW())
		RETURNING isactive, failedattempts, version, createdat, updatedat`

	err := repository.pool.QueryRow(context, query,
		entity.ID, entity.Username, entity.Phone, entity.Email, entity.PasswordHash,
	).Scan(&entity.IsActive, &entity.FailedAttempts, &entity.Version, &entity.CreatedAt, &entity.UpdatedAt)

	return dberr.Wrap(err, "create_user")
}

func (repository *PostgresRepository) UpdateWithVersion(context context.Context, id string, expectedVersion int64, patch *optimistic.Patch) (int64, error) {
	sql, args := optimistic.UpdateSQL(tableName, patch, id, expectedVersion)

	cmd, err := repository.pool.Exec(context, sql, args...)
	if err != nil {
		return 0, dberr.Wrap(err, "update_user")
	}

	return cmd.RowsAffected(), nil
}

func (repository *PostgresRepository) SoftDeleteMany(context context.Context, ids []string) (int64, error) {
	sql, args := optimistic.BulkSoftDeleteSQL(tableName, ids)

	cmd, err := repository.pool.Exec(context, sql, args...)
	if err != nil {
		return 0, dberr.Wrap(err, "soft_delete_users")
	}

	return cmd.RowsAffected(), nil
}

func (repository *PostgresRepository) DisableMany(context context.Context, ids []string) (int64, error) {
	sql, args := optimistic.BulkDisableSQL(tableName, ids)

	cmd, err := repository.pool.Exec(context, sql, args...)
	if err != nil {
		return 0, dberr.Wrap(err, "disable_users")
	}

	return cmd.RowsAffected(), nil
}

func (repository *PostgresRepository) HardDelete(context context.Context, id string) (int64, error) {
	sql, args := optimistic.HardDeleteSQL(tableName, id)

	cmd, err := repository.pool.Exec(context, sql, args...)
	if err != nil {
		return 0, dberr.Wrap(err, "hard_delete_user")
	}

	return cmd.RowsAffected(), nil
}

func (repository *PostgresRepository) AliveIDs(context context.Context, ids []string) ([]string, error) {
	const query = `
		SELECT id FROM rbac.account
		WHERE id = ANY($1) AND isdeleted = FALSE AND isactive = TRUE`

	rows, err := repository.pool.Query(context, query, ids)
	if err != nil {
		return nil, dberr.Wrap(err, "alive_user_ids")
	}
	defer rows.Close()

	var alive []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, dberr.Wrap(err, "scan_user_id")
		}
		alive = append(alive, id)
	}

	return alive, nil
}

// # Credentials and Lockout

// SetPasswordHash replaces the stored hash without a version check.
// Password changes run their own precondition (old-password verify or an
// explicit admin permission), so a concurrent profile edit must not make
// them spuriously fail.
func (repository *PostgresRepository) SetPasswordHash(context context.Context, id, passwordHash string) (int64, error) {
	const query = `
		UPDATE rbac.account
		SET passwordhash = $2, updatedat = NOW()
		WHERE id = $1 AND isdeleted = FALSE`

	cmd, err := repository.pool.Exec(context, query, id, passwordHash)
	if err != nil {
		return 0, dberr.Wrap(err, "set_password_hash")
	}

	return cmd.RowsAffected(), nil
}

// RecordLoginFailure increments the failure counter. When the attempt
// crossed the lockout threshold the caller passes the deadline, which
// stamps lockeduntil and resets the counter so an expired lock starts a
// fresh window instead of re-locking on the first miss.
func (repository *PostgresRepository) RecordLoginFailure(context context.Context, id string, lockedUntil *time.Time) error {
	const query = `
		UPDATE rbac.account
		SET failedattempts = CASE WHEN $2::timestamptz IS NULL THEN failedattempts + 1 ELSE 0 END,
		    lockeduntil = COALESCE($2, lockeduntil),
		    updatedat = NOW()
		WHERE id = $1 AND isdeleted = FALSE`

	_, err := repository.pool.Exec(context, query, id, lockedUntil)
	return dberr.Wrap(err, "record_login_failure")
}

// MarkLoginSuccess resets the lockout state and stamps the login time.
func (repository *PostgresRepository) MarkLoginSuccess(context context.Context, id string, at time.Time) error {
	const query = `
		UPDATE rbac.account
		SET failedattempts = 0, lockeduntil = NULL, lastloginat = $2, updatedat = NOW()
		WHERE id = $1 AND isdeleted = FALSE`

	_, err := repository.pool.Exec(context, query, id, at)
	return dberr.Wrap(err, "mark_login_success")
}

// Unlock clears a lockout ahead of its deadline (user:unlock).
func (repository *PostgresRepository) Unlock(context context.Context, id string) (int64, error) {
	const query = `
		UPDATE rbac.account
		SET failedattempts = 0, lockeduntil = NULL, updatedat = NOW()
		WHERE id = $1 AND isdeleted = FALSE`

	cmd, err := repository.pool.Exec(context, query, id)
	if err != nil {
		return 0, dberr.Wrap(err, "unlock_user")
	}

	return cmd.RowsAffected(), nil
}

// # Role Bindings

/*
BindRoles applies the Cartesian product of userIDs × roleIDs as membership
rows, inside a single transaction.

Description: Each pair is settled by a restore-then-insert sequence:
 1. A guarded UPDATE revives a soft-deleted pair if one exists (restored).
 2. Otherwise an INSERT with ON CONFLICT DO NOTHING either creates the
    pair (added) or collides with the alive row (existed).

Both statements are conditional writes; no pair is ever read first, so
concurrent binds of the same pair settle on the unique index instead of
racing.

Parameters:
  - context: context.Context
  - userIDs: []string
  - roleIDs: []string

Returns:
  - rbac.BindResult: Per-pair outcome counts {added, restored, existed}
  - error: Transaction failure
*/
func (repository *PostgresRepository) BindRoles(context context.Context, userIDs, roleIDs []string) (rbac.BindResult, error) {
	const restoreQuery = `
		UPDATE rbac.userrole
		SET isdeleted = FALSE, deletedat = NULL, updatedat = NOW()
		WHERE userid = $1 AND roleid = $2 AND isdeleted = TRUE`

	const insertQuery = `
		INSERT INTO rbac.userrole (id, userid, roleid, isactive, version, createdat, updatedat)
		VALUES ($1, $2, $3, TRUE, 0, NOW(), NOW())
		ON CONFLICT (userid, roleid, isdeleted) DO NOTHING`

	var result rbac.BindResult

	transaction, err := repository.pool.Begin(context)
	if err != nil {
		return result, dberr.Wrap(err, "bind_roles_begin")
	}
	defer func() { _ = transaction.Rollback(context) }()

	for _, userID := range userIDs {
		for _, roleID := range roleIDs {
			restored, err := transaction.Exec(context, restoreQuery, userID, roleID)
			if err != nil {
				return rbac.BindResult{}, dberr.Wrap(err, "bind_roles_restore")
			}
			if restored.RowsAffected() == 1 {
				result.Restored++
				continue
			}

			inserted, err := transaction.Exec(context, insertQuery, uuid.New(), userID, roleID)
			if err != nil {
				return rbac.BindResult{}, dberr.Wrap(err, "bind_roles_insert")
			}
			if inserted.RowsAffected() == 1 {
				result.Added++
			} else {
				result.Existed++
			}
		}
	}

	if err := transaction.Commit(context); err != nil {
		return rbac.BindResult{}, dberr.Wrap(err, "bind_roles_commit")
	}

	return result, nil
}

// UnbindRoles soft-deletes every alive membership in the product of the two
// ID lists. Already-removed pairs affect zero rows and are not an error.
func (repository *PostgresRepository) UnbindRoles(context context.Context, userIDs, roleIDs []string) (rbac.UnbindResult, error) {
	const query = `
		UPDATE rbac.userrole
		SET isdeleted = TRUE, deletedat = NOW(), updatedat = NOW()
		WHERE userid = ANY($1) AND roleid = ANY($2) AND isdeleted = FALSE`

	cmd, err := repository.pool.Exec(context, query, userIDs, roleIDs)
	if err != nil {
		return rbac.UnbindResult{}, dberr.Wrap(err, "unbind_roles")
	}

	return rbac.UnbindResult{Removed: int(cmd.RowsAffected())}, nil
}

func (repository *PostgresRepository) RoleIDsOfUser(context context.Context, userID string) ([]string, error) {
	const query = `
		SELECT roleid FROM rbac.userrole
		WHERE userid = $1 AND isdeleted = FALSE`

	rows, err := repository.pool.Query(context, query, userID)
	if err != nil {
		return nil, dberr.Wrap(err, "role_ids_of_user")
	}
	defer rows.Close()

	var roleIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, dberr.Wrap(err, "scan_role_id")
		}
		roleIDs = append(roleIDs, id)
	}

	return roleIDs, nil
}
