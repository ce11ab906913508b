// Copyright (c) 2026 Castellan. All rights reserved.
// Author: ops@castellan.dev

package rbac

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castellan/castellan/internal/platform/vcache"
)

func newTestCache(t *testing.T, source *fakeBindingSource) (*Cache, *miniredis.Miniredis) {
	t.Helper()

	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cache := NewCache(vcache.New(client), NewResolver(source), logger)
	return cache, server
}

func TestCacheMissResolvesAndCaches(t *testing.T) {
	source := &fakeBindingSource{
		userRoles: map[string][]string{"user-1": {"role-a"}},
		roleCodes: map[string]string{"role-a": "admin"},
		rolePerms: map[string][]string{"role-a": {PermUserList, PermRoleList}},
	}
	cache, server := newTestCache(t, source)
	ctx := context.Background()

	allowed, err := cache.HasPermissions(ctx, "user-1", PermUserList)
	require.NoError(t, err)
	assert.True(t, allowed)

	// Positive entry materialized under the current (default) epoch.
	assert.True(t, server.Exists("rbac:perm:v1:u:user-1"))

	// A later store-side change is not visible until the epoch advances.
	source.rolePerms["role-a"] = nil
	allowed, err = cache.HasPermissions(ctx, "user-1", PermUserList)
	require.NoError(t, err)
	assert.True(t, allowed, "cached set must serve until invalidated")
}

func TestCacheNegativeMarkerForPermissionlessUser(t *testing.T) {
	source := &fakeBindingSource{userRoles: map[string][]string{}}
	cache, server := newTestCache(t, source)
	ctx := context.Background()

	allowed, err := cache.HasPermissions(ctx, "user-2", PermUserList)
	require.NoError(t, err)
	assert.False(t, allowed)

	// Negative entry lives at the side key, not the positive key.
	assert.False(t, server.Exists("rbac:perm:v1:u:user-2"))
	assert.True(t, server.Exists("rbac:perm:v1:u:user-2:empty"))

	// The marker short-circuits later checks even if bindings appear,
	// until its TTL expires or the epoch bumps.
	source.userRoles["user-2"] = []string{"role-a"}
	source.roleCodes = map[string]string{"role-a": "admin"}
	source.rolePerms = map[string][]string{"role-a": {PermUserList}}

	allowed, err = cache.HasPermissions(ctx, "user-2", PermUserList)
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestCacheEpochBumpInvalidates(t *testing.T) {
	source := &fakeBindingSource{
		userRoles: map[string][]string{"user-1": {"role-a"}},
		roleCodes: map[string]string{"role-a": "admin"},
		rolePerms: map[string][]string{"role-a": {PermUserList}},
	}
	cache, _ := newTestCache(t, source)
	ctx := context.Background()

	allowed, err := cache.HasPermissions(ctx, "user-1", PermRoleList)
	require.NoError(t, err)
	assert.False(t, allowed)

	// Grant the permission and bump, as a binding mutation would.
	source.rolePerms["role-a"] = []string{PermUserList, PermRoleList}
	newEpoch, err := cache.BumpEpoch(ctx)
	require.NoError(t, err)
	assert.Greater(t, newEpoch, int64(1), "first bump must advance past the default epoch")

	allowed, err = cache.HasPermissions(ctx, "user-1", PermRoleList)
	require.NoError(t, err)
	assert.True(t, allowed, "post-bump check must reflect the new bindings")
}

func TestCacheSuperAdminMarker(t *testing.T) {
	source := &fakeBindingSource{
		userRoles: map[string][]string{"user-1": {"role-sa"}},
		roleCodes: map[string]string{"role-sa": SuperAdminRoleCode},
		rolePerms: map[string][]string{},
	}
	cache, _ := newTestCache(t, source)
	ctx := context.Background()

	// First call resolves and caches the marker; the second is a pure hit.
	for i := 0; i < 2; i++ {
		allowed, err := cache.HasPermissions(ctx, "user-1", "brand_new:code")
		require.NoError(t, err)
		assert.True(t, allowed)
	}
}

func TestCacheInvalidateUser(t *testing.T) {
	source := &fakeBindingSource{
		userRoles: map[string][]string{"user-1": {"role-a"}},
		roleCodes: map[string]string{"role-a": "admin"},
		rolePerms: map[string][]string{"role-a": {PermUserList}},
	}
	cache, server := newTestCache(t, source)
	ctx := context.Background()

	_, err := cache.HasPermissions(ctx, "user-1", PermUserList)
	require.NoError(t, err)
	require.True(t, server.Exists("rbac:perm:v1:u:user-1"))

	require.NoError(t, cache.InvalidateUser(ctx, "user-1"))
	assert.False(t, server.Exists("rbac:perm:v1:u:user-1"))
	assert.False(t, server.Exists("rbac:perm:v1:u:user-1:empty"))
}

func TestCacheFallsBackWhenBackendDown(t *testing.T) {
	source := &fakeBindingSource{
		userRoles: map[string][]string{"user-1": {"role-a"}},
		roleCodes: map[string]string{"role-a": "admin"},
		rolePerms: map[string][]string{"role-a": {PermUserList}},
	}
	cache, server := newTestCache(t, source)
	ctx := context.Background()

	server.Close()

	// The dead backend must not fail the check; the store answers directly.
	allowed, err := cache.HasPermissions(ctx, "user-1", PermUserList)
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = cache.HasPermissions(ctx, "user-1", PermRoleList)
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestCacheBumpEpochMonotonic(t *testing.T) {
	cache, _ := newTestCache(t, &fakeBindingSource{})
	ctx := context.Background()

	previous, err := cache.CurrentEpoch(ctx)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		bumped, err := cache.BumpEpoch(ctx)
		require.NoError(t, err)
		assert.Greater(t, bumped, previous)
		previous = bumped
	}
}

func TestCacheCurrentEpochDefault(t *testing.T) {
	cache, _ := newTestCache(t, &fakeBindingSource{})

	epoch, err := cache.CurrentEpoch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), epoch)
}
