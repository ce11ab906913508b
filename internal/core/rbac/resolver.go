// Copyright (c) 2026 Castellan. All rights reserved.
// Author: ops@castellan.dev

/*
Package rbac implements permission resolution and the epoch-keyed permission
cache that sits in front of it.

# Architecture

The resolver computes a user's effective permission codes purely from
persisted bindings (user → role → permission). The cache memoizes that
computation per (user, global permission epoch); any RBAC mutation bumps the
epoch, which orphans every cached set at the previous epoch without touching
the keys themselves.

The entity stores implement the small source interfaces defined here; rbac
never depends on the entity packages directly.
*/
package rbac

import (
	"context"
	"fmt"
)

// BindingSource supplies the persisted RBAC graph. It is implemented by the
// Postgres entity stores. All methods must return only alive rows (not
// soft-deleted, not disabled).
type BindingSource interface {
	// RoleIDsOfUser returns the role IDs bound to a user.
	RoleIDsOfUser(ctx context.Context, userID string) ([]string, error)

	// RoleCodesByIDs returns the codes of the given roles.
	RoleCodesByIDs(ctx context.Context, roleIDs []string) ([]string, error)

	// PermissionCodesOfRoles returns the distinct permission codes granted
	// to any of the given roles.
	PermissionCodesOfRoles(ctx context.Context, roleIDs []string) ([]string, error)
}

// PermissionSet is the result of resolving a user's permissions. The
// all-permissions sentinel (super_admin) is represented by the all flag
// rather than an enumeration, so codes created later are covered too.
type PermissionSet struct {
	all   bool
	codes map[string]struct{}
}

// AllPermissions returns the sentinel set that satisfies every check.
func AllPermissions() PermissionSet {
	return PermissionSet{all: true}
}

// NewPermissionSet builds a set from explicit permission codes.
func NewPermissionSet(codes ...string) PermissionSet {
	set := PermissionSet{codes: make(map[string]struct{}, len(codes))}
	for _, code := range codes {
		set.codes[code] = struct{}{}
	}
	return set
}

// IsAll reports whether the set is the all-permissions sentinel.
func (set PermissionSet) IsAll() bool {
	return set.all
}

// IsEmpty reports whether the set holds no codes (and is not the sentinel).
func (set PermissionSet) IsEmpty() bool {
	return !set.all && len(set.codes) == 0
}

// Has reports whether the set grants a single permission code.
func (set PermissionSet) Has(code string) bool {
	if set.all {
		return true
	}
	_, ok := set.codes[code]
	return ok
}

// HasAll reports whether the set grants every one of the given codes.
// An empty requirement list is trivially satisfied.
func (set PermissionSet) HasAll(codes ...string) bool {
	for _, code := range codes {
		if !set.Has(code) {
			return false
		}
	}
	return true
}

// Codes returns the explicit permission codes in the set. Returns nil for
// the sentinel set, which has no enumeration.
func (set PermissionSet) Codes() []string {
	if set.all {
		return nil
	}
	codes := make([]string, 0, len(set.codes))
	for code := range set.codes {
		codes = append(codes, code)
	}
	return codes
}

// Resolver computes effective permission sets from the persisted bindings.
type Resolver struct {
	source BindingSource
}

// NewResolver creates a [Resolver] over the given binding source.
func NewResolver(source BindingSource) *Resolver {
	return &Resolver{source: source}
}

/*
Resolve computes the definitive permission set held by a user.

Description: The computation walks user → roles → permissions:
 1. Fetch the user's alive role bindings; none means the empty set.
 2. If any held role is coded super_admin, return the all-permissions
    sentinel without enumerating codes.
 3. Otherwise collect the distinct permission codes granted to the held
    roles.

Absence of roles or permissions yields an empty set, never an error.

Parameters:
  - ctx: context.Context
  - userID: string

Returns:
  - PermissionSet: The effective set (possibly empty or the sentinel)
  - error: Store access failures only
*/
func (resolver *Resolver) Resolve(ctx context.Context, userID string) (PermissionSet, error) {

	// 1. Roles held by the user
	roleIDs, err := resolver.source.RoleIDsOfUser(ctx, userID)
	if err != nil {
		return PermissionSet{}, fmt.Errorf("rbac_resolve_roles_failed: %w", err)
	}
	if len(roleIDs) == 0 {
		return NewPermissionSet(), nil
	}

	// 2. Super-admin short-circuit
	roleCodes, err := resolver.source.RoleCodesByIDs(ctx, roleIDs)
	if err != nil {
		return PermissionSet{}, fmt.Errorf("rbac_resolve_role_codes_failed: %w", err)
	}
	for _, code := range roleCodes {
		if code == SuperAdminRoleCode {
			return AllPermissions(), nil
		}
	}

	// 3. Permissions granted through the held roles
	permissionCodes, err := resolver.source.PermissionCodesOfRoles(ctx, roleIDs)
	if err != nil {
		return PermissionSet{}, fmt.Errorf("rbac_resolve_permissions_failed: %w", err)
	}

	return NewPermissionSet(permissionCodes...), nil
}
