// Copyright (c) 2026 Castellan. All rights reserved.
// Author: ops@castellan.dev

/*
Package optimistic implements the shared mutation protocol for versioned,
soft-deletable entities.

Every mutable Castellan entity carries the same control columns
(version, isdeleted, deletedat, updatedat). This package builds the
single-statement conditional updates that make concurrent writes safe:

  - UpdateSQL: version-stamped patch; the WHERE clause checks the expected
    version so a stale writer affects zero rows instead of clobbering.
  - SoftDeleteSQL / RestoreSQL: state-guarded flips that are idempotent
    (deleting an already-deleted row affects zero rows, which is not an error).

The statements are single atomic UPDATEs on purpose. A read-then-write
sequence would reopen the TOCTOU window the version column exists to close.
*/
package optimistic

import (
	"fmt"
	"strings"
)

// Patch is an ordered set of column assignments for a conditional update.
//
// # Concurrency
//
// Patch is not safe for concurrent use. Build a fresh one per operation.
type Patch struct {
	columns []string
	args    []any
}

// NewPatch creates an empty [Patch].
func NewPatch() *Patch {
	return &Patch{}
}

// Set appends a column assignment. It returns the patch for chaining.
func (patch *Patch) Set(column string, value any) *Patch {
	patch.columns = append(patch.columns, column)
	patch.args = append(patch.args, value)
	return patch
}

// Empty reports whether the patch carries no assignments.
func (patch *Patch) Empty() bool {
	return len(patch.columns) == 0
}

// Len returns the number of assignments in the patch.
func (patch *Patch) Len() int {
	return len(patch.columns)
}

/*
UpdateSQL builds the version-conditioned UPDATE statement for a table.

Description: Produces

	UPDATE <table>
	SET col1 = $1, ..., version = $n, updatedat = NOW()
	WHERE id = $n+1 AND version = $n+2 AND isdeleted = FALSE

with version bound to expectedVersion+1 in SET and expectedVersion in WHERE.
The caller inspects RowsAffected: 1 means the write is durable at
expectedVersion+1; 0 means conflict (stale version, missing row, or
soft-deleted row; the statement deliberately does not distinguish them).

Parameters:
  - table: string (schema-qualified table name)
  - patch: *Patch (column assignments, must be non-empty)
  - id: string (entity ID)
  - expectedVersion: int64

Returns:
  - string: SQL text
  - []any: Positional arguments
*/
func UpdateSQL(table string, patch *Patch, id string, expectedVersion int64) (string, []any) {
	assignments := make([]string, 0, patch.Len()+2)
	args := make([]any, 0, patch.Len()+3)

	for i, column := range patch.columns {
		assignments = append(assignments, fmt.Sprintf("%s = $%d", column, i+1))
		args = append(args, patch.args[i])
	}

	next := patch.Len() + 1
	assignments = append(assignments, fmt.Sprintf("version = $%d", next))
	args = append(args, expectedVersion+1)
	assignments = append(assignments, "updatedat = NOW()")

	sql := fmt.Sprintf(
		"UPDATE %s SET %s WHERE id = $%d AND version = $%d AND isdeleted = FALSE",
		table, strings.Join(assignments, ", "), next+1, next+2,
	)
	args = append(args, id, expectedVersion)

	return sql, args
}

// SingletonUpdateSQL builds the version-conditioned UPDATE for tables
// without soft-delete columns (the settings singleton). Identical to
// [UpdateSQL] minus the isdeleted guard, with a numeric primary key.
func SingletonUpdateSQL(table string, patch *Patch, id int64, expectedVersion int64) (string, []any) {
	assignments := make([]string, 0, patch.Len()+2)
	args := make([]any, 0, patch.Len()+3)

	for i, column := range patch.columns {
		assignments = append(assignments, fmt.Sprintf("%s = $%d", column, i+1))
		args = append(args, patch.args[i])
	}

	next := patch.Len() + 1
	assignments = append(assignments, fmt.Sprintf("version = $%d", next))
	args = append(args, expectedVersion+1)
	assignments = append(assignments, "updatedat = NOW()")

	sql := fmt.Sprintf(
		"UPDATE %s SET %s WHERE id = $%d AND version = $%d",
		table, strings.Join(assignments, ", "), next+1, next+2,
	)
	args = append(args, id, expectedVersion)

	return sql, args
}

// SoftDeleteSQL builds the guarded soft-delete statement.
//
// The isdeleted guard makes the operation idempotent: re-deleting an
// already-deleted row affects zero rows.
func SoftDeleteSQL(table string, id string) (string, []any) {
	sql := fmt.Sprintf(
		"UPDATE %s SET isdeleted = TRUE, deletedat = NOW(), updatedat = NOW() WHERE id = $1 AND isdeleted = FALSE",
		table,
	)
	return sql, []any{id}
}

// RestoreSQL builds the guarded restore statement (inverse of soft delete).
func RestoreSQL(table string, id string) (string, []any) {
	sql := fmt.Sprintf(
		"UPDATE %s SET isdeleted = FALSE, deletedat = NULL, updatedat = NOW() WHERE id = $1 AND isdeleted = TRUE",
		table,
	)
	return sql, []any{id}
}

// HardDeleteSQL builds the physical delete statement. No guard: hard delete
// removes the row regardless of soft-delete state.
func HardDeleteSQL(table string, id string) (string, []any) {
	return fmt.Sprintf("DELETE FROM %s WHERE id = $1", table), []any{id}
}

// BulkSoftDeleteSQL builds a guarded soft delete over an ID list.
func BulkSoftDeleteSQL(table string, ids []string) (string, []any) {
	sql := fmt.Sprintf(
		"UPDATE %s SET isdeleted = TRUE, deletedat = NOW(), updatedat = NOW() WHERE id = ANY($1) AND isdeleted = FALSE",
		table,
	)
	return sql, []any{ids}
}

// BulkDisableSQL builds a guarded disable (isactive = FALSE) over an ID list.
func BulkDisableSQL(table string, ids []string) (string, []any) {
	sql := fmt.Sprintf(
		"UPDATE %s SET isactive = FALSE, updatedat = NOW() WHERE id = ANY($1) AND isdeleted = FALSE AND isactive = TRUE",
		table,
	)
	return sql, []any{ids}
}
