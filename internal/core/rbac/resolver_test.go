// Copyright (c) 2026 Castellan. All rights reserved.
// Author: ops@castellan.dev

package rbac

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBindingSource serves the RBAC graph from in-memory maps.
type fakeBindingSource struct {
	userRoles  map[string][]string
	roleCodes  map[string]string
	rolePerms  map[string][]string
	failStage  string
	stageError error
}

func (source *fakeBindingSource) RoleIDsOfUser(_ context.Context, userID string) ([]string, error) {
	if source.failStage == "roles" {
		return nil, source.stageError
	}
	return source.userRoles[userID], nil
}

func (source *fakeBindingSource) RoleCodesByIDs(_ context.Context, roleIDs []string) ([]string, error) {
	if source.failStage == "codes" {
		return nil, source.stageError
	}
	codes := make([]string, 0, len(roleIDs))
	for _, roleID := range roleIDs {
		if code, ok := source.roleCodes[roleID]; ok {
			codes = append(codes, code)
		}
	}
	return codes, nil
}

func (source *fakeBindingSource) PermissionCodesOfRoles(_ context.Context, roleIDs []string) ([]string, error) {
	if source.failStage == "perms" {
		return nil, source.stageError
	}
	seen := map[string]struct{}{}
	var codes []string
	for _, roleID := range roleIDs {
		for _, code := range source.rolePerms[roleID] {
			if _, dup := seen[code]; !dup {
				seen[code] = struct{}{}
				codes = append(codes, code)
			}
		}
	}
	return codes, nil
}

func TestResolverNoRolesYieldsEmptySet(t *testing.T) {
	resolver := NewResolver(&fakeBindingSource{userRoles: map[string][]string{}})

	set, err := resolver.Resolve(context.Background(), "user-1")

	require.NoError(t, err)
	assert.True(t, set.IsEmpty())
	assert.False(t, set.Has(PermUserList))
}

func TestResolverCollectsPermissionsAcrossRoles(t *testing.T) {
	resolver := NewResolver(&fakeBindingSource{
		userRoles: map[string][]string{"user-1": {"role-a", "role-b"}},
		roleCodes: map[string]string{"role-a": "admin", "role-b": "auditor"},
		rolePerms: map[string][]string{
			"role-a": {PermUserList, PermRoleList},
			"role-b": {PermLogList, PermUserList},
		},
	})

	set, err := resolver.Resolve(context.Background(), "user-1")

	require.NoError(t, err)
	assert.False(t, set.IsAll())
	assert.True(t, set.HasAll(PermUserList, PermRoleList, PermLogList))
	assert.False(t, set.Has(PermUserDelete))
	assert.Len(t, set.Codes(), 3, "duplicates across roles must collapse")
}

func TestResolverSuperAdminShortCircuit(t *testing.T) {
	resolver := NewResolver(&fakeBindingSource{
		userRoles: map[string][]string{"user-1": {"role-sa"}},
		roleCodes: map[string]string{"role-sa": SuperAdminRoleCode},
		// No permission rows bound at all: the sentinel must not need them.
		rolePerms: map[string][]string{},
	})

	set, err := resolver.Resolve(context.Background(), "user-1")

	require.NoError(t, err)
	assert.True(t, set.IsAll())
	assert.True(t, set.Has("anything:at_all"))
	assert.Nil(t, set.Codes())
}

func TestResolverPropagatesStoreErrors(t *testing.T) {
	storeErr := errors.New("connection refused")

	for _, stage := range []string{"roles", "codes", "perms"} {
		t.Run(stage, func(t *testing.T) {
			resolver := NewResolver(&fakeBindingSource{
				userRoles:  map[string][]string{"user-1": {"role-a"}},
				roleCodes:  map[string]string{"role-a": "admin"},
				failStage:  stage,
				stageError: storeErr,
			})

			_, err := resolver.Resolve(context.Background(), "user-1")
			require.Error(t, err)
			assert.ErrorIs(t, err, storeErr)
		})
	}
}

func TestPermissionSetHasAll(t *testing.T) {
	set := NewPermissionSet(PermUserList, PermRoleList)

	assert.True(t, set.HasAll())
	assert.True(t, set.HasAll(PermUserList))
	assert.True(t, set.HasAll(PermUserList, PermRoleList))
	assert.False(t, set.HasAll(PermUserList, PermUserDelete))
}

func TestRolePermissionMapCoversBuiltins(t *testing.T) {
	mapping := RolePermissionMap()

	byCode := map[string]struct{}{}
	for _, definition := range BuiltinPermissions() {
		byCode[definition.Code] = struct{}{}
	}

	// Every mapped code must be a declared builtin.
	for roleCode, permCodes := range mapping {
		for _, code := range permCodes {
			_, known := byCode[code]
			assert.True(t, known, "role %s maps unknown permission %s", roleCode, code)
		}
	}

	// super_admin is mapped over the full builtin list.
	assert.Len(t, mapping[SuperAdminRoleCode], len(BuiltinPermissions()))
}
