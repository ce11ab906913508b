// Copyright (c) 2026 Castellan. All rights reserved.
// Author: ops@castellan.dev

// Package sysconfig manages the runtime-tunable settings singleton.
//
// A single row (id=1) overrides the cold-start environment defaults for
// pagination, password policy, and login security, so operators can adjust
// them without a redeploy. The row follows the same version-checked update
// contract as every other entity.
package sysconfig

import "time"

// SystemConfig is the settings singleton. Zero or nil fields mean "use the
// environment default" rather than "disabled".
type SystemConfig struct {
	ID                 int64   `json:"id"`
	ProjectName        *string `json:"project_name"`
	ProjectDescription *string `json:"project_description"`
	ProjectURL         *string `json:"project_url"`

	DefaultPageSize int `json:"default_page_size"`

	PasswordMinLength        int  `json:"password_min_length"`
	PasswordRequireUppercase bool `json:"password_require_uppercase"`
	PasswordRequireLowercase bool `json:"password_require_lowercase"`
	PasswordRequireDigits    bool `json:"password_require_digits"`
	PasswordRequireSpecial   bool `json:"password_require_special"`
	PasswordExpireDays       int  `json:"password_expire_days"`

	LoginMaxFailedAttempts int  `json:"login_max_failed_attempts"`
	LoginLockMinutes       int  `json:"login_lock_minutes"`
	SessionTimeoutHours    int  `json:"session_timeout_hours"`
	ForceHTTPS             bool `json:"force_https"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UpdateInput carries the optional fields of a version-checked update.
// Nil fields are left untouched.
type UpdateInput struct {
	ProjectName        *string `json:"project_name"`
	ProjectDescription *string `json:"project_description"`
	ProjectURL         *string `json:"project_url"`

	DefaultPageSize *int `json:"default_page_size"`

	PasswordMinLength        *int  `json:"password_min_length"`
	PasswordRequireUppercase *bool `json:"password_require_uppercase"`
	PasswordRequireLowercase *bool `json:"password_require_lowercase"`
	PasswordRequireDigits    *bool `json:"password_require_digits"`
	PasswordRequireSpecial   *bool `json:"password_require_special"`
	PasswordExpireDays       *int  `json:"password_expire_days"`

	LoginMaxFailedAttempts *int  `json:"login_max_failed_attempts"`
	LoginLockMinutes       *int  `json:"login_lock_minutes"`
	SessionTimeoutHours    *int  `json:"session_timeout_hours"`
	ForceHTTPS             *bool `json:"force_https"`
}

// LoginPolicy is the effective lockout configuration after merging the
// singleton with the environment fallbacks.
type LoginPolicy struct {
	MaxFailedAttempts int
	LockMinutes       int
}
