// Copyright (c) 2026 Castellan. All rights reserved.
// Author: ops@castellan.dev

package role

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/castellan/castellan/internal/core/rbac"
	"github.com/castellan/castellan/internal/platform/apperr"
	"github.com/castellan/castellan/internal/platform/optimistic"
	"github.com/castellan/castellan/internal/platform/validate"
	"github.com/castellan/castellan/pkg/slice"
	"github.com/castellan/castellan/pkg/uuid"
)

// EpochBumper advances the global permission epoch after a mutation commits.
type EpochBumper interface {
	BumpEpoch(ctx context.Context) (int64, error)
}

type Service struct {
	repo        Repository
	permissions PermissionVerifier
	epochs      EpochBumper
	logger      *slog.Logger
}

func NewService(repo Repository, permissions PermissionVerifier, epochs EpochBumper, logger *slog.Logger) *Service {
	return &Service{
		repo:        repo,
		permissions: permissions,
		epochs:      epochs,
		logger:      logger,
	}
}

func (service *Service) List(context context.Context, filter Filter, limit, offset int) ([]*Role, int, error) {
	return service.repo.List(context, filter, limit, offset)
}

func (service *Service) Get(context context.Context, id string) (*Role, error) {
	return service.repo.Get(context, id)
}

func (service *Service) Create(context context.Context, entity *Role) error {
	validator := &validate.Validator{}

	validator.Required(FieldCode, entity.Code).
		MinLen(FieldCode, entity.Code, 2).
		MaxLen(FieldCode, entity.Code, 64).
		RoleCode(FieldCode, entity.Code)
	validator.Required(FieldName, entity.Name).
		MinLen(FieldName, entity.Name, 2).
		MaxLen(FieldName, entity.Name, 64)
	if entity.Description != nil {
		validator.MaxLen(FieldDescription, *entity.Description, 255)
	}

	if err := validator.Err(); err != nil {
		return err
	}

	entity.ID = uuid.New()
	if err := service.repo.Create(context, entity); err != nil {
		return err
	}

	if err := service.bumpEpoch(context, "role_created"); err != nil {
		return err
	}
	service.logger.Info("role_created",
		slog.String("role_id", entity.ID),
		slog.String("code", entity.Code),
	)
	return nil
}

// Update applies a version-checked partial update; zero affected rows is a
// Conflict (stale version or vanished row).
func (service *Service) Update(context context.Context, id string, expectedVersion int64, input UpdateInput) error {
	validator := &validate.Validator{}

	patch := optimistic.NewPatch()
	if input.Name != nil {
		validator.MinLen(FieldName, *input.Name, 2).MaxLen(FieldName, *input.Name, 64)
		patch.Set("name", *input.Name)
	}
	if input.Description != nil {
		validator.MaxLen(FieldDescription, *input.Description, 255)
		patch.Set("description", *input.Description)
	}
	if input.IsActive != nil {
		patch.Set("isactive", *input.IsActive)
	}

	if err := validator.Err(); err != nil {
		return err
	}
	if patch.Empty() {
		return validate.RequiredError("patch", "At least one field must be provided")
	}

	affected, err := service.repo.UpdateWithVersion(context, id, expectedVersion, patch)
	if err != nil {
		return err
	}
	if affected == 0 {
		return apperr.Conflict("Role was modified concurrently or no longer exists")
	}

	if err := service.bumpEpoch(context, "role_updated"); err != nil {
		return err
	}
	service.logger.Info("role_updated", slog.String("role_id", id))
	return nil
}

func (service *Service) SoftDelete(context context.Context, id string) error {
	return service.BulkSoftDelete(context, []string{id})
}

func (service *Service) BulkSoftDelete(context context.Context, ids []string) error {
	if len(ids) == 0 {
		return validate.RequiredError(FieldIDs, "At least one ID is required")
	}

	affected, err := service.repo.SoftDeleteMany(context, ids)
	if err != nil {
		return err
	}
	if affected == 0 {
		return apperr.NotFound("Role")
	}

	if err := service.bumpEpoch(context, "role_deleted"); err != nil {
		return err
	}
	service.logger.Warn("roles_soft_deleted", slog.Int64("affected", affected))
	return nil
}

func (service *Service) Disable(context context.Context, ids []string) error {
	if len(ids) == 0 {
		return validate.RequiredError(FieldIDs, "At least one ID is required")
	}

	affected, err := service.repo.DisableMany(context, ids)
	if err != nil {
		return err
	}
	if affected == 0 {
		return apperr.NotFound("Role")
	}

	if err := service.bumpEpoch(context, "role_disabled"); err != nil {
		return err
	}
	service.logger.Warn("roles_disabled", slog.Int64("affected", affected))
	return nil
}

func (service *Service) HardDelete(context context.Context, id string) error {
	affected, err := service.repo.HardDelete(context, id)
	if err != nil {
		return err
	}
	if affected == 0 {
		return apperr.NotFound("Role")
	}

	if err := service.bumpEpoch(context, "role_hard_deleted"); err != nil {
		return err
	}
	service.logger.Warn("role_hard_deleted", slog.String("role_id", id))
	return nil
}

// # Grant Bindings

/*
BindPermissions grants permissions to roles over the product of the two ID
lists.

Description: Every referenced role and permission must be alive; unknown
IDs fail the whole call with the offending IDs named, rather than silently
binding a subset. On success the epoch is bumped once for the batch, and
only when at least one pair was actually added or restored.

Parameters:
  - context: context.Context
  - roleIDs: []string
  - permissionIDs: []string

Returns:
  - rbac.BindResult: {added, restored, existed} counts
  - error: Validation or store failure
*/
func (service *Service) BindPermissions(context context.Context, roleIDs, permissionIDs []string) (rbac.BindResult, error) {
	if err := service.verifyBindTargets(context, roleIDs, permissionIDs); err != nil {
		return rbac.BindResult{}, err
	}

	result, err := service.repo.BindPermissions(context, roleIDs, permissionIDs)
	if err != nil {
		return rbac.BindResult{}, err
	}

	if result.Changed() {
		if err := service.bumpEpoch(context, "permissions_bound"); err != nil {
			return result, err
		}
	}

	service.logger.Info("role_permissions_bound",
		slog.Int("roles", len(roleIDs)),
		slog.Int("permissions", len(permissionIDs)),
		slog.Int("added", result.Added),
		slog.Int("restored", result.Restored),
		slog.Int("existed", result.Existed),
	)
	return result, nil
}

// UnbindPermissions removes grants over the product of the two ID lists.
// Unknown IDs are not validated here: unbinding a non-binding is a no-op.
func (service *Service) UnbindPermissions(context context.Context, roleIDs, permissionIDs []string) (rbac.UnbindResult, error) {
	validator := &validate.Validator{}
	validator.Custom(FieldRoleIDs, len(roleIDs) == 0, "At least one role ID is required")
	validator.Custom(FieldPermissionIDs, len(permissionIDs) == 0, "At least one permission ID is required")
	if err := validator.Err(); err != nil {
		return rbac.UnbindResult{}, err
	}

	result, err := service.repo.UnbindPermissions(context, roleIDs, permissionIDs)
	if err != nil {
		return rbac.UnbindResult{}, err
	}

	if result.Changed() {
		if err := service.bumpEpoch(context, "permissions_unbound"); err != nil {
			return result, err
		}
	}

	service.logger.Info("role_permissions_unbound",
		slog.Int("roles", len(roleIDs)),
		slog.Int("removed", result.Removed),
	)
	return result, nil
}

// PermissionIDsOfRole lists the alive permission IDs granted to a role.
func (service *Service) PermissionIDsOfRole(context context.Context, roleID string) ([]string, error) {
	if _, err := service.repo.Get(context, roleID); err != nil {
		return nil, err
	}
	return service.repo.PermissionIDsOfRole(context, roleID)
}

// verifyBindTargets rejects a bind whose role or permission IDs do not all
// refer to alive rows, naming the offenders.
func (service *Service) verifyBindTargets(context context.Context, roleIDs, permissionIDs []string) error {
	validator := &validate.Validator{}
	validator.Custom(FieldRoleIDs, len(roleIDs) == 0, "At least one role ID is required")
	validator.Custom(FieldPermissionIDs, len(permissionIDs) == 0, "At least one permission ID is required")
	if err := validator.Err(); err != nil {
		return err
	}

	aliveRoles, err := service.repo.AliveIDs(context, roleIDs)
	if err != nil {
		return err
	}
	if missing := missingIDs(roleIDs, aliveRoles); len(missing) > 0 {
		return apperr.NotFoundWith(fmt.Sprintf("Unknown role IDs: %s", strings.Join(missing, ", ")))
	}

	alivePermissions, err := service.permissions.AliveIDs(context, permissionIDs)
	if err != nil {
		return err
	}
	if missing := missingIDs(permissionIDs, alivePermissions); len(missing) > 0 {
		return apperr.NotFoundWith(fmt.Sprintf("Unknown permission IDs: %s", strings.Join(missing, ", ")))
	}

	return nil
}

func missingIDs(requested, alive []string) []string {
	aliveSet := make(map[string]struct{}, len(alive))
	for _, id := range alive {
		aliveSet[id] = struct{}{}
	}

	return slice.Filter(requested, func(id string) bool {
		_, ok := aliveSet[id]
		return !ok
	})
}

// bumpEpoch advances the global permission epoch after a committed mutation.
// The row change is already durable; a failed bump means cached permission
// sets keep serving the old bindings until their TTL, so the failure is
// surfaced to the caller instead of swallowed.
func (service *Service) bumpEpoch(context context.Context, reason string) error {
	if _, err := service.epochs.BumpEpoch(context); err != nil {
		service.logger.Error("permission_epoch_bump_failed",
			slog.String("reason", reason),
			slog.Any("error", err),
		)
		return apperr.Unavailable("Permission cache could not be invalidated", err)
	}
	return nil
}
