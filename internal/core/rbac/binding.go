// Copyright (c) 2026 Castellan. All rights reserved.
// Author: ops@castellan.dev

package rbac

// BindResult aggregates the per-pair outcomes of a bind operation. Batch
// binds over ID list products routinely mix all three:
//
//   - Added: the pair did not exist and was created.
//   - Restored: the pair existed soft-deleted and was revived.
//   - Existed: the pair was already alive; a counted no-op.
type BindResult struct {
	Added    int `json:"added"`
	Restored int `json:"restored"`
	Existed  int `json:"existed"`
}

// Merge accumulates another result into this one.
func (result *BindResult) Merge(other BindResult) {
	result.Added += other.Added
	result.Restored += other.Restored
	result.Existed += other.Existed
}

// Changed reports whether any write actually happened. A bind where every
// pair already existed must not bump the permission epoch.
func (result BindResult) Changed() bool {
	return result.Added > 0 || result.Restored > 0
}

// UnbindResult reports how many binding rows an unbind soft-deleted.
type UnbindResult struct {
	Removed int `json:"removed"`
}

// Changed reports whether any row was actually removed.
func (result UnbindResult) Changed() bool {
	return result.Removed > 0
}
