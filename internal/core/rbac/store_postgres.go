// Copyright (c) 2026 Castellan. All rights reserved.
// Author: ops@castellan.dev

package rbac

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/castellan/castellan/internal/platform/dberr"
)

// PostgresBindingSource implements [BindingSource] over the persisted RBAC
// graph. Every query is alive-only: soft-deleted or disabled rows at any
// level of the chain (binding, role, permission) do not contribute codes.
type PostgresBindingSource struct {
	pool *pgxpool.Pool
}

func NewPostgresBindingSource(pool *pgxpool.Pool) *PostgresBindingSource {
	return &PostgresBindingSource{pool: pool}
}

func (source *PostgresBindingSource) RoleIDsOfUser(context context.Context, userID string) ([]string, error) {
	const query = `
		SELECT ur.roleid
		FROM rbac.userrole ur
		JOIN rbac.role r ON r.id = ur.roleid
		WHERE ur.userid = $1
		  AND ur.isdeleted = FALSE
		  AND r.isdeleted = FALSE AND r.isactive = TRUE`

	rows, err := source.pool.Query(context, query, userID)
	if err != nil {
		return nil, dberr.Wrap(err, "role_ids_of_user")
	}
	defer rows.Close()

	var roleIDs []string
	for rows.Next() {
		var roleID string
		if err := rows.Scan(&roleID); err != nil {
			return nil, dberr.Wrap(err, "scan_role_id")
		}
		roleIDs = append(roleIDs, roleID)
	}

	return roleIDs, nil
}

func (source *PostgresBindingSource) RoleCodesByIDs(context context.Context, roleIDs []string) ([]string, error) {
	const query = `
		SELECT code
		FROM rbac.role
		WHERE id = ANY($1) AND isdeleted = FALSE AND isactive = TRUE`

	rows, err := source.pool.Query(context, query, roleIDs)
	if err != nil {
		return nil, dberr.Wrap(err, "role_codes_by_ids")
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, dberr.Wrap(err, "scan_role_code")
		}
		codes = append(codes, code)
	}

	return codes, nil
}

func (source *PostgresBindingSource) PermissionCodesOfRoles(context context.Context, roleIDs []string) ([]string, error) {
	const query = `
		SELECT DISTINCT p.code
		FROM rbac.rolegrant rg
		JOIN rbac.permission p ON p.id = rg.permissionid
		WHERE rg.roleid = ANY($1)
		  AND rg.isdeleted = FALSE
		  AND p.isdeleted = FALSE AND p.isactive = TRUE`

	rows, err := source.pool.Query(context, query, roleIDs)
	if err != nil {
		return nil, dberr.Wrap(err, "permission_codes_of_roles")
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, dberr.Wrap(err, "scan_permission_code")
		}
		codes = append(codes, code)
	}

	return codes, nil
}
