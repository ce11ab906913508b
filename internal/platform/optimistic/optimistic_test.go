// Copyright (c) 2026 Castellan. All rights reserved.
// Author: ops@castellan.dev

package optimistic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateSQL(t *testing.T) {
	patch := NewPatch().
		Set("title", "Operator").
		Set("description", "Day-two operations")

	sql, args := UpdateSQL("rbac.role", patch, "role-1", 4)

	assert.Equal(t,
		"UPDATE rbac.role SET title = $1, description = $2, version = $3, updatedat = NOW() "+
			"WHERE id = $4 AND version = $5 AND isdeleted = FALSE",
		sql,
	)

	require.Len(t, args, 5)
	assert.Equal(t, "Operator", args[0])
	assert.Equal(t, "Day-two operations", args[1])
	assert.Equal(t, int64(5), args[2], "SET must stamp expected+1")
	assert.Equal(t, "role-1", args[3])
	assert.Equal(t, int64(4), args[4], "WHERE must check the expected version")
}

func TestUpdateSQLSingleColumn(t *testing.T) {
	sql, args := UpdateSQL("rbac.permission", NewPatch().Set("title", "Read users"), "perm-9", 1)

	assert.Equal(t,
		"UPDATE rbac.permission SET title = $1, version = $2, updatedat = NOW() "+
			"WHERE id = $3 AND version = $4 AND isdeleted = FALSE",
		sql,
	)
	assert.Equal(t, []any{"Read users", int64(2), "perm-9", int64(1)}, args)
}

func TestSoftDeleteSQLIsGuarded(t *testing.T) {
	sql, args := SoftDeleteSQL("rbac.account", "user-3")

	assert.Contains(t, sql, "isdeleted = TRUE")
	assert.Contains(t, sql, "WHERE id = $1 AND isdeleted = FALSE")
	assert.Equal(t, []any{"user-3"}, args)
}

func TestRestoreSQLIsGuarded(t *testing.T) {
	sql, args := RestoreSQL("rbac.account", "user-3")

	assert.Contains(t, sql, "isdeleted = FALSE")
	assert.Contains(t, sql, "deletedat = NULL")
	assert.Contains(t, sql, "WHERE id = $1 AND isdeleted = TRUE")
	assert.Equal(t, []any{"user-3"}, args)
}

func TestHardDeleteSQL(t *testing.T) {
	sql, args := HardDeleteSQL("rbac.userrole", "pair-1")

	assert.Equal(t, "DELETE FROM rbac.userrole WHERE id = $1", sql)
	assert.Equal(t, []any{"pair-1"}, args)
}

func TestBulkStatements(t *testing.T) {
	ids := []string{"a", "b"}

	sql, args := BulkSoftDeleteSQL("rbac.role", ids)
	assert.Contains(t, sql, "WHERE id = ANY($1) AND isdeleted = FALSE")
	assert.Equal(t, []any{ids}, args)

	sql, args = BulkDisableSQL("rbac.account", ids)
	assert.Contains(t, sql, "isactive = FALSE")
	assert.Contains(t, sql, "AND isactive = TRUE")
	assert.Equal(t, []any{ids}, args)
}

func TestPatchEmpty(t *testing.T) {
	patch := NewPatch()
	assert.True(t, patch.Empty())

	patch.Set("title", "x")
	assert.False(t, patch.Empty())
	assert.Equal(t, 1, patch.Len())
}

func TestSingletonUpdateSQLHasNoSoftDeleteGuard(t *testing.T) {
	patch := NewPatch().Set("forcehttps", true)

	sql, args := SingletonUpdateSQL("rbac.systemconfig", patch, 1, 3)

	assert.Equal(t,
		"UPDATE rbac.systemconfig SET forcehttps = $1, version = $2, updatedat = NOW() WHERE id = $3 AND version = $4",
		sql,
	)
	assert.Equal(t, []any{true, int64(4), int64(1), int64(3)}, args)
}
