// Copyright (c) 2026 Castellan. All rights reserved.
// Author: ops@castellan.dev

package permission

import (
	"context"

	"github.com/castellan/castellan/internal/platform/optimistic"
)

type Repository interface {
	List(context context.Context, filter Filter, limit, offset int) ([]*Permission, int, error)
	Get(context context.Context, id string) (*Permission, error)
	Create(context context.Context, permission *Permission) error
	UpdateWithVersion(context context.Context, id string, expectedVersion int64, patch *optimistic.Patch) (int64, error)
	SoftDeleteMany(context context.Context, ids []string) (int64, error)
	DisableMany(context context.Context, ids []string) (int64, error)
	HardDelete(context context.Context, id string) (int64, error)
	AliveIDs(context context.Context, ids []string) ([]string, error)
}
