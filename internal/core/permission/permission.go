// Copyright (c) 2026 Castellan. All rights reserved.
// Author: ops@castellan.dev

// Package permission manages the permission catalogue: the named codes that
// roles grant and the authorization layer checks.
package permission

import "time"

// Permission is a single grantable capability, identified by its code
// (resource:action form, e.g. "user:list").
type Permission struct {
	ID          string     `json:"id"`
	Code        string     `json:"code"`
	Name        string     `json:"name"`
	Description *string    `json:"description"`
	IsActive    bool       `json:"is_active"`
	Version     int64      `json:"version"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	IsDeleted   bool       `json:"-"`
	DeletedAt   *time.Time `json:"-"`
}

// Filter holds the parameters for a paginated permission search.
type Filter struct {
	Query string // Matches against code and name
	// IncludeAll disables the alive-only restriction, returning disabled
	// and soft-deleted rows too (permission:list_all).
	IncludeAll bool
}

// UpdateInput carries the optional fields of a version-checked update.
// Nil fields are left untouched.
type UpdateInput struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	IsActive    *bool   `json:"is_active"`
}

// Global field names for validation
const (
	FieldCode        = "code"
	FieldName        = "name"
	FieldDescription = "description"
	FieldIDs         = "ids"
)
