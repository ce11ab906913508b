// Copyright (c) 2026 Castellan. All rights reserved.
// Author: ops@castellan.dev

package user

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/castellan/castellan/internal/core/rbac"
	"github.com/castellan/castellan/internal/platform/apperr"
	"github.com/castellan/castellan/internal/platform/optimistic"
	"github.com/castellan/castellan/internal/platform/sec"
	"github.com/castellan/castellan/internal/platform/validate"
	"github.com/castellan/castellan/pkg/slice"
	"github.com/castellan/castellan/pkg/uuid"
)

// EpochBumper advances the global permission epoch after a binding mutation
// commits. Implemented by the rbac permission cache.
type EpochBumper interface {
	BumpEpoch(ctx context.Context) (int64, error)
}

// PolicySource supplies the active password policy. Implemented by the
// sysconfig service so administrators can tune the rules at runtime.
type PolicySource interface {
	PasswordPolicy(ctx context.Context) sec.PasswordPolicy
}

type Service struct {
	repo     Repository
	roles    RoleVerifier
	epochs   EpochBumper
	policies PolicySource
	logger   *slog.Logger
}

func NewService(repo Repository, roles RoleVerifier, epochs EpochBumper, policies PolicySource, logger *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		roles:    roles,
		epochs:   epochs,
		policies: policies,
		logger:   logger,
	}
}

func (service *Service) List(context context.Context, filter Filter, limit, offset int) ([]*User, int, error) {
	return service.repo.List(context, filter, limit, offset)
}

func (service *Service) Get(context context.Context, id string) (*User, error) {
	return service.repo.Get(context, id)
}

// Create hashes the password and inserts the account. Profile mutations do
// not touch the permission epoch: a fresh account has no bindings, so no
// cached permission set can be stale.
func (service *Service) Create(context context.Context, input CreateInput) (*User, error) {
	validator := &validate.Validator{}

	validator.Required(FieldUsername, input.Username).
		MinLen(FieldUsername, input.Username, 3).
		MaxLen(FieldUsername, input.Username, 64)
	validator.Required(FieldPhone, input.Phone).
		Phone(FieldPhone, input.Phone)
	if input.Email != nil {
		validator.Email(FieldEmail, *input.Email)
	}
	service.validatePassword(context, validator, FieldPassword, input.Password)

	if err := validator.Err(); err != nil {
		return nil, err
	}

	passwordHash, err := sec.HashPassword(input.Password)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("hash_password_failed: %w", err))
	}

	entity := &User{
		ID:           uuid.New(),
		Username:     input.Username,
		Phone:        input.Phone,
		Email:        input.Email,
		PasswordHash: passwordHash,
	}
	if err := service.repo.Create(context, entity); err != nil {
		return nil, err
	}

	service.logger.Info("user_created",
		slog.String("user_id", entity.ID),
		slog.String("username", entity.Username),
	)
	return entity, nil
}

// Update applies a version-checked partial update. A zero affected count is
// surfaced as Conflict: either a concurrent writer advanced the version
// first, or the row is gone.
func (service *Service) Update(context context.Context, id string, expectedVersion int64, input UpdateInput) error {
	validator := &validate.Validator{}

	patch := optimistic.NewPatch()
	if input.Username != nil {
		validator.MinLen(FieldUsername, *input.Username, 3).MaxLen(FieldUsername, *input.Username, 64)
		patch.Set("username", *input.Username)
	}
	if input.Phone != nil {
		validator.Phone(FieldPhone, *input.Phone)
		patch.Set("phone", *input.Phone)
	}
	if input.Email != nil {
		validator.Email(FieldEmail, *input.Email)
		patch.Set("email", *input.Email)
	}
	if input.Password != nil {
		service.validatePassword(context, validator, FieldPassword, *input.Password)
	}
	if input.IsActive != nil {
		patch.Set("isactive", *input.IsActive)
	}

	if err := validator.Err(); err != nil {
		return err
	}

	if input.Password != nil {
		passwordHash, err := sec.HashPassword(*input.Password)
		if err != nil {
			return apperr.Internal(fmt.Errorf("hash_password_failed: %w", err))
		}
		patch.Set("passwordhash", passwordHash)
	}

	if patch.Empty() {
		return validate.RequiredError("patch", "At least one field must be provided")
	}

	affected, err := service.repo.UpdateWithVersion(context, id, expectedVersion, patch)
	if err != nil {
		return err
	}
	if affected == 0 {
		return apperr.Conflict("User was modified concurrently or no longer exists")
	}

	service.logger.Info("user_updated", slog.String("user_id", id))
	return nil
}

func (service *Service) SoftDelete(context context.Context, id string) error {
	return service.BulkSoftDelete(context, []string{id})
}

func (service *Service) BulkSoftDelete(context context.Context, ids []string) error {
	validator := &validate.Validator{}
	validator.Custom(FieldIDs, len(ids) == 0, "At least one ID is required")
	if err := validator.Err(); err != nil {
		return err
	}

	affected, err := service.repo.SoftDeleteMany(context, ids)
	if err != nil {
		return err
	}
	if affected == 0 {
		return apperr.NotFound("User")
	}

	service.logger.Info("users_soft_deleted", slog.Int64("affected", affected))
	return nil
}

func (service *Service) Disable(context context.Context, ids []string) error {
	validator := &validate.Validator{}
	validator.Custom(FieldIDs, len(ids) == 0, "At least one ID is required")
	if err := validator.Err(); err != nil {
		return err
	}

	affected, err := service.repo.DisableMany(context, ids)
	if err != nil {
		return err
	}

	service.logger.Info("users_disabled", slog.Int64("affected", affected))
	return nil
}

func (service *Service) HardDelete(context context.Context, id string) error {
	affected, err := service.repo.HardDelete(context, id)
	if err != nil {
		return err
	}
	if affected == 0 {
		return apperr.NotFound("User")
	}

	service.logger.Info("user_hard_deleted", slog.String("user_id", id))
	return nil
}

// Unlock clears the lockout counters ahead of the deadline.
func (service *Service) Unlock(context context.Context, id string) error {
	affected, err := service.repo.Unlock(context, id)
	if err != nil {
		return err
	}
	if affected == 0 {
		return apperr.NotFound("User")
	}

	service.logger.Info("user_unlocked", slog.String("user_id", id))
	return nil
}

// # Password Changes

// SelfChangePassword verifies the caller's current password before setting
// the new one. Existing sessions stay valid; only logout revokes tokens.
func (service *Service) SelfChangePassword(context context.Context, userID, oldPassword, newPassword string) error {
	validator := &validate.Validator{}
	validator.Required(FieldOldPassword, oldPassword)
	service.validatePassword(context, validator, FieldNewPassword, newPassword)
	if err := validator.Err(); err != nil {
		return err
	}

	entity, err := service.repo.Get(context, userID)
	if err != nil {
		return err
	}
	if !sec.CheckPasswordHash(oldPassword, entity.PasswordHash) {
		return apperr.Unauthorized("Current password is incorrect")
	}

	return service.setPassword(context, userID, newPassword, "self")
}

// AdminChangePassword sets a user's password without knowing the old one.
// Gated by user:update at the handler.
func (service *Service) AdminChangePassword(context context.Context, userID, newPassword string) error {
	validator := &validate.Validator{}
	service.validatePassword(context, validator, FieldNewPassword, newPassword)
	if err := validator.Err(); err != nil {
		return err
	}

	return service.setPassword(context, userID, newPassword, "admin")
}

func (service *Service) setPassword(context context.Context, userID, newPassword, actor string) error {
	passwordHash, err := sec.HashPassword(newPassword)
	if err != nil {
		return apperr.Internal(fmt.Errorf("hash_password_failed: %w", err))
	}

	affected, err := service.repo.SetPasswordHash(context, userID, passwordHash)
	if err != nil {
		return err
	}
	if affected == 0 {
		return apperr.NotFound("User")
	}

	service.logger.Info("user_password_changed",
		slog.String("user_id", userID),
		slog.String("changed_by", actor),
	)
	return nil
}

// # Role Bindings

/*
BindRoles grants every role in roleIDs to every user in userIDs.

Description: Targets are verified alive first, then the store settles each
pair with restore semantics. The permission epoch is bumped once for the
whole batch, and only when at least one pair actually changed: re-binding
an existing membership must not invalidate every user's cached set.

Parameters:
  - context: context.Context
  - userIDs: []string
  - roleIDs: []string

Returns:
  - rbac.BindResult: {added, restored, existed} counts
  - error: Validation or store failure
*/
func (service *Service) BindRoles(context context.Context, userIDs, roleIDs []string) (rbac.BindResult, error) {
	if err := service.verifyBindTargets(context, userIDs, roleIDs); err != nil {
		return rbac.BindResult{}, err
	}

	result, err := service.repo.BindRoles(context, userIDs, roleIDs)
	if err != nil {
		return rbac.BindResult{}, err
	}

	if result.Changed() {
		if err := service.bumpEpoch(context, "roles_bound"); err != nil {
			return result, err
		}
	}

	service.logger.Info("user_roles_bound",
		slog.Int("users", len(userIDs)),
		slog.Int("roles", len(roleIDs)),
		slog.Int("added", result.Added),
		slog.Int("restored", result.Restored),
		slog.Int("existed", result.Existed),
	)
	return result, nil
}

// UnbindRoles removes memberships over the product of the two ID lists.
// Unknown IDs are not validated here: unbinding a non-binding is a no-op.
func (service *Service) UnbindRoles(context context.Context, userIDs, roleIDs []string) (rbac.UnbindResult, error) {
	validator := &validate.Validator{}
	validator.Custom(FieldUserIDs, len(userIDs) == 0, "At least one user ID is required")
	validator.Custom(FieldRoleIDs, len(roleIDs) == 0, "At least one role ID is required")
	if err := validator.Err(); err != nil {
		return rbac.UnbindResult{}, err
	}

	result, err := service.repo.UnbindRoles(context, userIDs, roleIDs)
	if err != nil {
		return rbac.UnbindResult{}, err
	}

	if result.Changed() {
		if err := service.bumpEpoch(context, "roles_unbound"); err != nil {
			return result, err
		}
	}

	service.logger.Info("user_roles_unbound",
		slog.Int("users", len(userIDs)),
		slog.Int("removed", result.Removed),
	)
	return result, nil
}

// RoleIDsOfUser lists the alive role IDs bound to a user.
func (service *Service) RoleIDsOfUser(context context.Context, userID string) ([]string, error) {
	if _, err := service.repo.Get(context, userID); err != nil {
		return nil, err
	}
	return service.repo.RoleIDsOfUser(context, userID)
}

// IsAlive reports whether the account exists, is active, and is not
// soft-deleted. Consumed by the authorization middleware on every
// permission-gated request.
func (service *Service) IsAlive(context context.Context, userID string) (bool, error) {
	alive, err := service.repo.AliveIDs(context, []string{userID})
	if err != nil {
		return false, err
	}
	return len(alive) == 1, nil
}

func (service *Service) verifyBindTargets(context context.Context, userIDs, roleIDs []string) error {
	validator := &validate.Validator{}
	validator.Custom(FieldUserIDs, len(userIDs) == 0, "At least one user ID is required")
	validator.Custom(FieldRoleIDs, len(roleIDs) == 0, "At least one role ID is required")
	if err := validator.Err(); err != nil {
		return err
	}

	aliveUsers, err := service.repo.AliveIDs(context, userIDs)
	if err != nil {
		return err
	}
	if missing := missingIDs(userIDs, aliveUsers); len(missing) > 0 {
		return apperr.NotFoundWith(fmt.Sprintf("Unknown user IDs: %s", strings.Join(missing, ", ")))
	}

	aliveRoles, err := service.roles.AliveIDs(context, roleIDs)
	if err != nil {
		return err
	}
	if missing := missingIDs(roleIDs, aliveRoles); len(missing) > 0 {
		return apperr.NotFoundWith(fmt.Sprintf("Unknown role IDs: %s", strings.Join(missing, ", ")))
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

func (service *Service) validatePassword(context context.Context, validator *validate.Validator, field, password string) {
	validator.Required(field, password).
		MinLen(field, password, 6).
		MaxLen(field, password, 64)
	if password != "" && !service.policies.PasswordPolicy(context).Validate(password) {
		validator.Custom(field, true, "Password does not satisfy the password policy")
	}
}

// bumpEpoch advances the global permission epoch after a committed binding
// change. The row change is already durable; a failed bump means cached
// permission sets keep serving the old memberships until their TTL, so the
// failure is surfaced to the caller instead of swallowed.
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
