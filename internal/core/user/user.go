// Copyright (c) 2026 Castellan. All rights reserved.
// Author: ops@castellan.dev

// Package user manages console accounts: credentials, lockout bookkeeping,
// and the role bindings the permission resolver walks.
package user

import "time"

// User is a console account. Username and phone are unique among alive
// rows; email is optional but unique when present.
type User struct {
	ID             string     `json:"id"`
	Username       string     `json:"username"`
	Phone          string     `json:"phone"`
	Email          *string    `json:"email"`
	PasswordHash   string     `json:"-"`
	IsActive       bool       `json:"is_active"`
	FailedAttempts int        `json:"failed_attempts"`
	LockedUntil    *time.Time `json:"locked_until"`
	LastLoginAt    *time.Time `json:"last_login_at"`
	Version        int64      `json:"version"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	IsDeleted      bool       `json:"-"`
	DeletedAt      *time.Time `json:"-"`
}

// Locked reports whether the account is inside a lockout window.
func (user *User) Locked(now time.Time) bool {
	return user.LockedUntil != nil && now.Before(*user.LockedUntil)
}

// Filter holds the parameters for a paginated user search.
type Filter struct {
	Query string // Matches against username and phone
	// IncludeAll disables the alive-only restriction (user:list_all).
	IncludeAll bool
}

// CreateInput carries the fields of a new account. The password arrives in
// plaintext and is hashed by the service before it reaches the store.
type CreateInput struct {
	Username string  `json:"username"`
	Phone    string  `json:"phone"`
	Email    *string `json:"email"`
	Password string  `json:"password"`
}

// UpdateInput carries the optional fields of a version-checked update.
// Nil fields are left untouched.
type UpdateInput struct {
	Username *string `json:"username"`
	Phone    *string `json:"phone"`
	Email    *string `json:"email"`
	Password *string `json:"password"`
	IsActive *bool   `json:"is_active"`
}

// Global field names for validation
const (
	FieldUsername    = "username"
	FieldPhone       = "phone"
	FieldEmail       = "email"
	FieldPassword    = "password"
	FieldOldPassword = "old_password"
	FieldNewPassword = "new_password"
	FieldIDs         = "ids"
	FieldUserIDs     = "user_ids"
	FieldRoleIDs     = "role_ids"
)
