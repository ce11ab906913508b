// Copyright (c) 2026 Castellan. All rights reserved.
// Author: ops@castellan.dev

package user

import (
	"context"
	"time"

	"github.com/castellan/castellan/internal/core/rbac"
	"github.com/castellan/castellan/internal/platform/optimistic"
)

type Repository interface {
	List(context context.Context, filter Filter, limit, offset int) ([]*User, int, error)
	Get(context context.Context, id string) (*User, error)
	GetByUsername(context context.Context, username string) (*User, error)
	GetByPhone(context context.Context, phone string) (*User, error)
	Create(context context.Context, user *User) error
	UpdateWithVersion(context context.Context, id string, expectedVersion int64, patch *optimistic.Patch) (int64, error)
	SoftDeleteMany(context context.Context, ids []string) (int64, error)
	DisableMany(context context.Context, ids []string) (int64, error)
	HardDelete(context context.Context, id string) (int64, error)
	AliveIDs(context context.Context, ids []string) ([]string, error)

	// Credential and lockout bookkeeping, consumed by the auth service.
	SetPasswordHash(context context.Context, id, passwordHash string) (int64, error)
	RecordLoginFailure(context context.Context, id string, lockedUntil *time.Time) error
	MarkLoginSuccess(context context.Context, id string, at time.Time) error
	Unlock(context context.Context, id string) (int64, error)

	// Role bindings (user → role). Bind applies the Cartesian product of
	// the two ID lists in one transaction.
	BindRoles(context context.Context, userIDs, roleIDs []string) (rbac.BindResult, error)
	UnbindRoles(context context.Context, userIDs, roleIDs []string) (rbac.UnbindResult, error)
	RoleIDsOfUser(context context.Context, userID string) ([]string, error)
}

// RoleVerifier confirms role IDs refer to alive roles before a bind.
// Implemented by the role package's repository.
type RoleVerifier interface {
	AliveIDs(context context.Context, ids []string) ([]string, error)
}
