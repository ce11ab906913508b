// Copyright (c) 2026 Castellan. All rights reserved.
// Author: ops@castellan.dev

// Package role manages roles and the role-to-permission grants that give
// them meaning. Binding operations here feed the permission resolver.
package role

import "time"

// Role groups permissions under a stable code (e.g. "admin"). The
// super_admin code is special-cased by the resolver and must never be
// deletable through this package's operations.
type Role struct {
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

// Filter holds the parameters for a paginated role search.
type Filter struct {
	Query      string // Matches against code and name
	IncludeAll bool   // Disables the alive-only restriction (role:list_all)
}

// UpdateInput carries the optional fields of a version-checked update.
type UpdateInput struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	IsActive    *bool   `json:"is_active"`
}

// Global field names for validation
const (
	FieldCode          = "code"
	FieldName          = "name"
	FieldDescription   = "description"
	FieldIDs           = "ids"
	FieldRoleIDs       = "role_ids"
	FieldPermissionIDs = "permission_ids"
)
