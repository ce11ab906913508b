// Copyright (c) 2026 Castellan. All rights reserved.
// Author: ops@castellan.dev

package permission

import (
	"context"
	"log/slog"

	"github.com/castellan/castellan/internal/platform/apperr"
	"github.com/castellan/castellan/internal/platform/optimistic"
	"github.com/castellan/castellan/internal/platform/validate"
	"github.com/castellan/castellan/pkg/uuid"
)

// EpochBumper advances the global permission epoch after a mutation commits.
// Implemented by the rbac permission cache.
type EpochBumper interface {
	BumpEpoch(ctx context.Context) (int64, error)
}

type Service struct {
	repo   Repository
	epochs EpochBumper
	logger *slog.Logger
}

func NewService(repo Repository, epochs EpochBumper, logger *slog.Logger) *Service {
	return &Service{
		repo:   repo,
		epochs: epochs,
		logger: logger,
	}
}

func (service *Service) List(context context.Context, filter Filter, limit, offset int) ([]*Permission, int, error) {
	return service.repo.List(context, filter, limit, offset)
}

func (service *Service) Get(context context.Context, id string) (*Permission, error) {
	return service.repo.Get(context, id)
}

func (service *Service) Create(context context.Context, entity *Permission) error {
	validator := &validate.Validator{}

	validator.Required(FieldCode, entity.Code).
		MinLen(FieldCode, entity.Code, 2).
		MaxLen(FieldCode, entity.Code, 64).
		PermissionCode(FieldCode, entity.Code)
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

	if err := service.bumpEpoch(context, "permission_created"); err != nil {
		return err
	}
	service.logger.Info("permission_created",
		slog.String("permission_id", entity.ID),
		slog.String("code", entity.Code),
	)
	return nil
}

// Update applies a version-checked partial update. A zero affected count is
// surfaced as Conflict: either a concurrent writer advanced the version
// first, or the row is gone. Callers retry with fresh state.
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
		return apperr.Conflict("Permission was modified concurrently or no longer exists")
	}

	if err := service.bumpEpoch(context, "permission_updated"); err != nil {
		return err
	}
	service.logger.Info("permission_updated", slog.String("permission_id", id))
	return nil
}

func (service *Service) SoftDelete(context context.Context, id string) error {
	return service.BulkSoftDelete(context, []string{id})
}

// BulkSoftDelete soft-deletes the given permissions. The epoch is bumped
// once for the whole batch, and only when at least one row changed.
func (service *Service) BulkSoftDelete(context context.Context, ids []string) error {
	if len(ids) == 0 {
		return validate.RequiredError(FieldIDs, "At least one ID is required")
	}

	affected, err := service.repo.SoftDeleteMany(context, ids)
	if err != nil {
		return err
	}
	if affected == 0 {
		return apperr.NotFound("Permission")
	}

	if err := service.bumpEpoch(context, "permission_deleted"); err != nil {
		return err
	}
	service.logger.Warn("permissions_soft_deleted", slog.Int64("affected", affected))
	return nil
}

// Disable deactivates the given permissions without deleting them. Disabled
// permissions stop resolving for every role that grants them.
func (service *Service) Disable(context context.Context, ids []string) error {
	if len(ids) == 0 {
		return validate.RequiredError(FieldIDs, "At least one ID is required")
	}

	affected, err := service.repo.DisableMany(context, ids)
	if err != nil {
		return err
	}
	if affected == 0 {
		return apperr.NotFound("Permission")
	}

	if err := service.bumpEpoch(context, "permission_disabled"); err != nil {
		return err
	}
	service.logger.Warn("permissions_disabled", slog.Int64("affected", affected))
	return nil
}

func (service *Service) HardDelete(context context.Context, id string) error {
	affected, err := service.repo.HardDelete(context, id)
	if err != nil {
		return err
	}
	if affected == 0 {
		return apperr.NotFound("Permission")
	}

	if err := service.bumpEpoch(context, "permission_hard_deleted"); err != nil {
		return err
	}
	service.logger.Warn("permission_hard_deleted", slog.String("permission_id", id))
	return nil
}

// bumpEpoch invalidates the permission cache after a committed write. The
// row change is already durable; a failed bump means cached permission sets
// keep serving the old state until their TTL, so the failure is surfaced
// to the caller instead of swallowed.
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
