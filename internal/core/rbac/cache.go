// Copyright (c) 2026 Castellan. All rights reserved.
// Author: ops@castellan.dev

package rbac

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/castellan/castellan/internal/platform/metrics"
	"github.com/castellan/castellan/internal/platform/vcache"
)

const (
	// epochKey is the global permission epoch counter.
	epochKey = "rbac:perm:version"

	// defaultEpoch is assumed when the counter has never been set.
	defaultEpoch = 1

	// positiveTTL bounds how long a cached permission set may serve reads.
	// Epoch bumps invalidate sooner; the TTL only caps orphaned keys.
	positiveTTL = 1800 * time.Second

	// negativeTTL bounds repeated resolution for permissionless users.
	negativeTTL = 60 * time.Second

	// superMarker is the cached representation of the all-permissions
	// sentinel. Permission codes always contain a colon, so the marker
	// cannot collide with a real code.
	superMarker = "*"
)

// Cache answers authorization checks from the epoch-keyed permission cache,
// falling back to the [Resolver] on miss or cache failure.
//
// # Concurrency
//
// Concurrent misses for the same (user, epoch) may each hit the store and
// redundantly write the same cache entry. Last write wins, and all
// concurrently computed values for one key are equal, so no lock is taken.
type Cache struct {
	versions *vcache.Cache
	resolver *Resolver
	logger   *slog.Logger
}

// NewCache wires the permission cache over the version store and resolver.
func NewCache(versions *vcache.Cache, resolver *Resolver, logger *slog.Logger) *Cache {
	return &Cache{
		versions: versions,
		resolver: resolver,
		logger:   logger,
	}
}

// CurrentEpoch reads the global permission epoch, defaulting to 1 if the
// counter was never set.
func (cache *Cache) CurrentEpoch(ctx context.Context) (int64, error) {
	return cache.versions.GetInt(ctx, epochKey, defaultEpoch)
}

/*
BumpEpoch atomically increments the global permission epoch.

Every role, permission, or binding mutation calls this exactly once after
its writes commit. Old-epoch cache keys become orphaned rather than being
deleted; resolution always keys off the current epoch.

Returns:
  - int64: The new epoch value
  - error: Cache backend failure
*/
func (cache *Cache) BumpEpoch(ctx context.Context) (int64, error) {
	newEpoch, err := cache.versions.Incr(ctx, epochKey)
	if err != nil {
		return 0, fmt.Errorf("rbac_bump_epoch_failed: %w", err)
	}

	// INCR on a missing key yields 1, which equals the assumed default and
	// would make the very first bump a no-op. Advance once more so a bump
	// always moves past the default epoch.
	if newEpoch == defaultEpoch {
		newEpoch, err = cache.versions.Incr(ctx, epochKey)
		if err != nil {
			return 0, fmt.Errorf("rbac_bump_epoch_failed: %w", err)
		}
	}

	metrics.PermissionEpochBumpsTotal.Inc()
	cache.logger.Info("permission_epoch_bumped", slog.Int64("epoch", newEpoch))
	return newEpoch, nil
}

/*
HasPermissions reports whether a user holds every one of the required codes.

Description: The check is answered from the cache when possible:
 1. Read the current epoch E and build the key for (user, E).
 2. A positive entry answers by set membership; the super marker answers
    true for any requirement.
 3. A negative marker at the side key answers false without resolving.
 4. On full miss, resolve from the store, write the appropriate entry
    (positive set, super marker, or negative marker), and answer from the
    fresh set.

Cache backend errors never fail the check: the resolver answers directly
from the store instead, with the error logged. Store errors are fatal.

Parameters:
  - ctx: context.Context
  - userID: string
  - required: ...string (all must be held; empty list is trivially true)

Returns:
  - bool: Whether the user holds every required code
  - error: Entity store failure only
*/
func (cache *Cache) HasPermissions(ctx context.Context, userID string, required ...string) (bool, error) {

	// 1. Current epoch and cache keys
	epoch, err := cache.CurrentEpoch(ctx)
	if err != nil {
		return cache.checkDirect(ctx, userID, "read_epoch", err, required...)
	}

	positiveKey := userPermissionKey(epoch, userID)
	negativeKey := positiveKey + ":empty"

	// 2. Positive entry
	exists, err := cache.versions.Exists(ctx, positiveKey)
	if err != nil {
		return cache.checkDirect(ctx, userID, "probe_positive", err, required...)
	}
	if exists {
		members, err := cache.versions.MembersOf(ctx, positiveKey)
		if err != nil {
			return cache.checkDirect(ctx, userID, "read_positive", err, required...)
		}

		metrics.PermissionCacheTotal.WithLabelValues("hit").Inc()
		for _, member := range members {
			if member == superMarker {
				return true, nil
			}
		}
		return NewPermissionSet(members...).HasAll(required...), nil
	}

	// 3. Negative marker
	exists, err = cache.versions.Exists(ctx, negativeKey)
	if err != nil {
		return cache.checkDirect(ctx, userID, "probe_negative", err, required...)
	}
	if exists {
		metrics.PermissionCacheTotal.WithLabelValues("hit").Inc()
		return len(required) == 0, nil
	}

	// 4. Full miss: resolve and populate
	metrics.PermissionCacheTotal.WithLabelValues("miss").Inc()
	set, err := cache.resolver.Resolve(ctx, userID)
	if err != nil {
		return false, err
	}

	cache.storeSet(ctx, positiveKey, negativeKey, set)
	return set.HasAll(required...), nil
}

// InvalidateUser deletes the user's cache entries (positive and negative) at
// the current epoch. Used after targeted actions such as logout, where a
// global epoch bump would invalidate every user's cache needlessly.
func (cache *Cache) InvalidateUser(ctx context.Context, userID string) error {
	epoch, err := cache.CurrentEpoch(ctx)
	if err != nil {
		return fmt.Errorf("rbac_invalidate_user_failed: %w", err)
	}

	positiveKey := userPermissionKey(epoch, userID)
	if err := cache.versions.Delete(ctx, positiveKey, positiveKey+":empty"); err != nil {
		return fmt.Errorf("rbac_invalidate_user_failed: %w", err)
	}

	return nil
}

// storeSet writes the resolved set into the cache. Write failures are logged
// and dropped; the caller already has the resolved set in hand.
func (cache *Cache) storeSet(ctx context.Context, positiveKey, negativeKey string, set PermissionSet) {
	var err error
	switch {
	case set.IsAll():
		err = cache.addWithTTL(ctx, positiveKey, superMarker)
	case set.IsEmpty():
		err = cache.versions.Set(ctx, negativeKey, "1", negativeTTL)
	default:
		err = cache.addWithTTL(ctx, positiveKey, set.Codes()...)
	}

	if err != nil {
		cache.logger.Warn("permission_cache_write_failed",
			slog.String("key", positiveKey),
			slog.Any("error", err),
		)
	}
}

func (cache *Cache) addWithTTL(ctx context.Context, key string, members ...string) error {
	if err := cache.versions.AddMembers(ctx, key, members...); err != nil {
		return err
	}
	return cache.versions.Expire(ctx, key, positiveTTL)
}

// checkDirect is the cache-failure fallback: log the cache error and answer
// from the store directly. A dead cache degrades latency, not correctness.
func (cache *Cache) checkDirect(ctx context.Context, userID, stage string, cacheErr error, required ...string) (bool, error) {
	metrics.PermissionCacheTotal.WithLabelValues("fallback").Inc()
	cache.logger.Warn("permission_cache_unavailable",
		slog.String("stage", stage),
		slog.String("user_id", userID),
		slog.Any("error", cacheErr),
	)

	set, err := cache.resolver.Resolve(ctx, userID)
	if err != nil {
		return false, err
	}
	return set.HasAll(required...), nil
}

// userPermissionKey builds the epoch-scoped cache key for a user.
func userPermissionKey(epoch int64, userID string) string {
	return vcache.BuildKey("rbac:perm", fmt.Sprintf("v%d", epoch), "u", userID)
}
