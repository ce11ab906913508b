// Copyright (c) 2026 Castellan. All rights reserved.
// Author: ops@castellan.dev

package rbac

import "github.com/castellan/castellan/pkg/slice"

// Permission codes understood by the builtin roles. Custom permissions may be
// created at runtime; these constants only cover what the API itself gates on.
const (
	PermUserList        = "user:list"
	PermUserListAll     = "user:list_all"
	PermUserCreate      = "user:create"
	PermUserUpdate      = "user:update"
	PermUserDelete      = "user:delete"
	PermUserBulkDelete  = "user:bulk_delete"
	PermUserDisable     = "user:disable"
	PermUserHardDelete  = "user:hard_delete"
	PermUserUnlock      = "user:unlock"
	PermUserBindRoles   = "user:bind_roles"
	PermUserUnbindRoles = "user:unbind_roles"
	PermUserBindBatch   = "user:bind_roles_batch"
	PermUserUnbindBatch = "user:unbind_roles_batch"
	PermRoleList        = "role:list"
	PermRoleListAll     = "role:list_all"
	PermRoleCreate      = "role:create"
	PermRoleUpdate      = "role:update"
	PermRoleDelete      = "role:delete"
	PermRoleBulkDelete  = "role:bulk_delete"
	PermRoleDisable     = "role:disable"
	PermRoleHardDelete  = "role:hard_delete"
	PermRoleBindPerms   = "role:bind_permissions"
	PermRoleUnbindPerms = "role:unbind_permissions"
	PermRoleBindBatch   = "role:bind_permissions_batch"
	PermRoleUnbindBatch = "role:unbind_permissions_batch"
	PermPermList        = "permission:list"
	PermPermListAll     = "permission:list_all"
	PermPermCreate      = "permission:create"
	PermPermUpdate      = "permission:update"
	PermPermDelete      = "permission:delete"
	PermPermBulkDelete  = "permission:bulk_delete"
	PermPermDisable     = "permission:disable"
	PermPermHardDelete  = "permission:hard_delete"
	PermLogList         = "log:list"
	PermLogSelf         = "log:self"
	PermSysConfigRead   = "system_config:read"
	PermSysConfigUpdate = "system_config:update"
)

// SuperAdminRoleCode is the role whose holders bypass permission checks
// entirely. The resolver returns the all-permissions sentinel for them
// instead of enumerating codes.
const SuperAdminRoleCode = "super_admin"

// Definition describes a builtin permission or role to be seeded at bootstrap.
type Definition struct {
	Code        string
	Name        string
	Description string
}

// BuiltinPermissions returns the permission definitions seeded at bootstrap.
func BuiltinPermissions() []Definition {
	return []Definition{
		{PermUserList, "List users", "View the user list"},
		{PermUserListAll, "List all users", "View all users including disabled and soft-deleted"},
		{PermUserCreate, "Create user", "Create a new user"},
		{PermUserUpdate, "Update user", "Update user details"},
		{PermUserDelete, "Delete user", "Soft-delete a user"},
		{PermUserBulkDelete, "Bulk delete users", "Soft-delete multiple users"},
		{PermUserDisable, "Disable user", "Disable a user account"},
		{PermUserHardDelete, "Hard delete user", "Irreversibly delete a user"},
		{PermUserUnlock, "Unlock user", "Clear a user's login lockout"},
		{PermUserBindRoles, "Bind roles to user", "Grant roles to a user"},
		{PermUserUnbindRoles, "Unbind roles from user", "Remove roles from a user"},
		{PermUserBindBatch, "Batch bind roles", "Grant roles to multiple users"},
		{PermUserUnbindBatch, "Batch unbind roles", "Remove roles from multiple users"},
		{PermRoleList, "List roles", "View the role list"},
		{PermRoleListAll, "List all roles", "View all roles including disabled and soft-deleted"},
		{PermRoleCreate, "Create role", "Create a new role"},
		{PermRoleUpdate, "Update role", "Update role details"},
		{PermRoleDelete, "Delete role", "Soft-delete a role"},
		{PermRoleBulkDelete, "Bulk delete roles", "Soft-delete multiple roles"},
		{PermRoleDisable, "Disable role", "Disable a role"},
		{PermRoleHardDelete, "Hard delete role", "Irreversibly delete a role"},
		{PermRoleBindPerms, "Bind permissions to role", "Grant permissions to a role"},
		{PermRoleUnbindPerms, "Unbind permissions from role", "Remove permissions from a role"},
		{PermRoleBindBatch, "Batch bind permissions", "Grant permissions to multiple roles"},
		{PermRoleUnbindBatch, "Batch unbind permissions", "Remove permissions from multiple roles"},
		{PermPermList, "List permissions", "View the permission list"},
		{PermPermListAll, "List all permissions", "View all permissions including disabled and soft-deleted"},
		{PermPermCreate, "Create permission", "Create a permission entry"},
		{PermPermUpdate, "Update permission", "Update a permission entry"},
		{PermPermDelete, "Delete permission", "Soft-delete a permission entry"},
		{PermPermBulkDelete, "Bulk delete permissions", "Soft-delete multiple permission entries"},
		{PermPermDisable, "Disable permission", "Disable a permission entry"},
		{PermPermHardDelete, "Hard delete permission", "Irreversibly delete a permission entry"},
		{PermLogList, "List audit logs", "View the audit log"},
		{PermLogSelf, "Own audit logs", "View one's own audit records"},
		{PermSysConfigRead, "Read system config", "Read the system configuration"},
		{PermSysConfigUpdate, "Update system config", "Update the system configuration"},
	}
}

// BuiltinRoles returns the role definitions seeded at bootstrap.
func BuiltinRoles() []Definition {
	return []Definition{
		{SuperAdminRoleCode, "Super administrator", "Holds every permission in the system"},
		{"admin", "Administrator", "Day-to-day administration role"},
		{"auditor", "Auditor", "Audit log review"},
	}
}

// RolePermissionMap returns the builtin role to permission-code mapping.
// super_admin gets every builtin code, although the resolver never needs
// the enumeration thanks to the sentinel short-circuit.
func RolePermissionMap() map[string][]string {
	allCodes := slice.Map(BuiltinPermissions(), func(definition Definition) string {
		return definition.Code
	})

	return map[string][]string{
		SuperAdminRoleCode: allCodes,
		"admin": {
			PermUserList, PermUserListAll, PermUserCreate, PermUserUpdate,
			PermUserDisable, PermUserBulkDelete, PermUserHardDelete, PermUserUnlock,
			PermRoleList, PermRoleListAll, PermRoleCreate, PermRoleUpdate,
			PermRoleHardDelete, PermRoleBulkDelete,
			PermPermList, PermPermListAll, PermPermCreate, PermPermUpdate,
			PermPermBulkDelete, PermPermHardDelete,
			PermLogList, PermLogSelf,
		},
		"auditor": {PermLogList},
	}
}
