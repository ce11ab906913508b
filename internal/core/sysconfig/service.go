// Copyright (c) 2026 Castellan. All rights reserved.
// Author: ops@castellan.dev

package sysconfig

import (
	"context"
	"log/slog"

	"github.com/castellan/castellan/internal/platform/apperr"
	"github.com/castellan/castellan/internal/platform/config"
	"github.com/castellan/castellan/internal/platform/optimistic"
	"github.com/castellan/castellan/internal/platform/sec"
	"github.com/castellan/castellan/internal/platform/validate"
)

// Zero fields in the singleton fall back to these.
const (
	defaultPasswordMinLength = 8
	defaultPageSize          = 20
)

type Service struct {
	repo     Repository
	fallback *config.Config
	logger   *slog.Logger
}

func NewService(repo Repository, fallback *config.Config, logger *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		fallback: fallback,
		logger:   logger,
	}
}

func (service *Service) Get(context context.Context) (*SystemConfig, error) {
	return service.repo.GetSingleton(context)
}

// Update applies a version-checked partial update to the singleton.
func (service *Service) Update(context context.Context, expectedVersion int64, input UpdateInput) (*SystemConfig, error) {
	validator := &validate.Validator{}

	patch := optimistic.NewPatch()
	if input.ProjectName != nil {
		validator.MaxLen("project_name", *input.ProjectName, 128)
		patch.Set("projectname", *input.ProjectName)
	}
	if input.ProjectDescription != nil {
		validator.MaxLen("project_description", *input.ProjectDescription, 255)
		patch.Set("projectdescription", *input.ProjectDescription)
	}
	if input.ProjectURL != nil {
		validator.MaxLen("project_url", *input.ProjectURL, 255)
		patch.Set("projecturl", *input.ProjectURL)
	}
	if input.DefaultPageSize != nil {
		validator.Range("default_page_size", *input.DefaultPageSize, 1, 200)
		patch.Set("defaultpagesize", *input.DefaultPageSize)
	}
	if input.PasswordMinLength != nil {
		validator.Range("password_min_length", *input.PasswordMinLength, 6, 64)
		patch.Set("passwordminlength", *input.PasswordMinLength)
	}
	if input.PasswordRequireUppercase != nil {
		patch.Set("passwordrequireuppercase", *input.PasswordRequireUppercase)
	}
	if input.PasswordRequireLowercase != nil {
		patch.Set("passwordrequirelowercase", *input.PasswordRequireLowercase)
	}
	if input.PasswordRequireDigits != nil {
		patch.Set("passwordrequiredigits", *input.PasswordRequireDigits)
	}
	if input.PasswordRequireSpecial != nil {
		patch.Set("passwordrequirespecial", *input.PasswordRequireSpecial)
	}
	if input.PasswordExpireDays != nil {
		validator.Range("password_expire_days", *input.PasswordExpireDays, 0, 3650)
		patch.Set("passwordexpiredays", *input.PasswordExpireDays)
	}
	if input.LoginMaxFailedAttempts != nil {
		validator.Range("login_max_failed_attempts", *input.LoginMaxFailedAttempts, 1, 100)
		patch.Set("loginmaxfailedattempts", *input.LoginMaxFailedAttempts)
	}
	if input.LoginLockMinutes != nil {
		validator.Range("login_lock_minutes", *input.LoginLockMinutes, 1, 1440)
		patch.Set("loginlockminutes", *input.LoginLockMinutes)
	}
	if input.SessionTimeoutHours != nil {
		validator.Range("session_timeout_hours", *input.SessionTimeoutHours, 0, 720)
		patch.Set("sessiontimeouthours", *input.SessionTimeoutHours)
	}
	if input.ForceHTTPS != nil {
		patch.Set("forcehttps", *input.ForceHTTPS)
	}

	if err := validator.Err(); err != nil {
		return nil, err
	}
	if patch.Empty() {
		return nil, validate.RequiredError("patch", "At least one field must be provided")
	}

	affected, err := service.repo.UpdateWithVersion(context, expectedVersion, patch)
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, apperr.Conflict("Configuration was modified concurrently, reload and retry")
	}

	service.logger.Info("system_config_updated", slog.Int64("version", expectedVersion+1))
	return service.repo.GetSingleton(context)
}

// # Policy Snapshots
//
// The accessors below are consumed on hot paths (login, password change,
// every HTTPS-forced request). They degrade to the environment fallbacks on
// store failure instead of propagating the error: a flaky settings read
// must not lock every operator out.

// PasswordPolicy returns the active password complexity rules.
func (service *Service) PasswordPolicy(context context.Context) sec.PasswordPolicy {
	entity, err := service.repo.GetSingleton(context)
	if err != nil {
		service.logger.Warn("system_config_read_failed", slog.Any("error", err))
		return sec.PasswordPolicy{MinLength: defaultPasswordMinLength}
	}

	minLength := entity.PasswordMinLength
	if minLength == 0 {
		minLength = defaultPasswordMinLength
	}

	return sec.PasswordPolicy{
		MinLength:        minLength,
		RequireUppercase: entity.PasswordRequireUppercase,
		RequireLowercase: entity.PasswordRequireLowercase,
		RequireDigits:    entity.PasswordRequireDigits,
		RequireSpecial:   entity.PasswordRequireSpecial,
	}
}

// LoginPolicy returns the active lockout thresholds.
func (service *Service) LoginPolicy(context context.Context) LoginPolicy {
	policy := LoginPolicy{
		MaxFailedAttempts: service.fallback.LoginMaxFailedAttempts,
		LockMinutes:       service.fallback.LoginLockMinutes,
	}

	entity, err := service.repo.GetSingleton(context)
	if err != nil {
		service.logger.Warn("system_config_read_failed", slog.Any("error", err))
		return policy
	}

	if entity.LoginMaxFailedAttempts > 0 {
		policy.MaxFailedAttempts = entity.LoginMaxFailedAttempts
	}
	if entity.LoginLockMinutes > 0 {
		policy.LockMinutes = entity.LoginLockMinutes
	}
	return policy
}

// ForceHTTPS reports whether plain-HTTP requests should be rejected.
// Plugged into the HTTPS middleware.
func (service *Service) ForceHTTPS(context context.Context) bool {
	entity, err := service.repo.GetSingleton(context)
	if err != nil {
		service.logger.Warn("system_config_read_failed", slog.Any("error", err))
		return false
	}
	return entity.ForceHTTPS
}

// PageSize returns the default page size for list endpoints.
func (service *Service) PageSize(context context.Context) int {
	entity, err := service.repo.GetSingleton(context)
	if err != nil || entity.DefaultPageSize == 0 {
		return defaultPageSize
	}
	return entity.DefaultPageSize
}
