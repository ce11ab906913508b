// Copyright (c) 2026 Castellan. All rights reserved.
// Author: ops@castellan.dev

package role

import (
	"context"

	"github.com/castellan/castellan/internal/core/rbac"
	"github.com/castellan/castellan/internal/platform/optimistic"
)

type Repository interface {
	List(context context.Context, filter Filter, limit, offset int) ([]*Role, int, error)
	Get(context context.Context, id string) (*Role, error)
	GetByCode(context context.Context, code string) (*Role, error)
	Create(context context.Context, role *Role) error
	UpdateWithVersion(context context.Context, id string, expectedVersion int64, patch *optimistic.Patch) (int64, error)
	SoftDeleteMany(context context.Context, ids []string) (int64, error)
	DisableMany(context context.Context, ids []string) (int64, error)
	HardDelete(context context.Context, id string) (int64, error)
	AliveIDs(context context.Context, ids []string) ([]string, error)

	// Grant bindings (role → permission). Bind applies the Cartesian
	// product of the two ID lists in one transaction.
	BindPermissions(context context.Context, roleIDs, permissionIDs []string) (rbac.BindResult, error)
	UnbindPermissions(context context.Context, roleIDs, permissionIDs []string) (rbac.UnbindResult, error)
	PermissionIDsOfRole(context context.Context, roleID string) ([]string, error)
}

// PermissionVerifier confirms permission IDs refer to alive permissions
// before a bind. Implemented by the permission package's repository.
type PermissionVerifier interface {
	AliveIDs(context context.Context, ids []string) ([]string, error)
}
