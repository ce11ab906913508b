// Copyright (c) 2026 Castellan. All rights reserved.
// Author: ops@castellan.dev

/*
Package vcache provides the Version Cache: a thin, typed layer over Redis for
the counters and materialized sets the RBAC core depends on.

It covers exactly three data shapes:

  - Counters: monotonically increasing integers (permission epoch, per-user
    token epoch), advanced with an atomic INCR, never read-modify-write.
  - Sets: materialized permission-code sets keyed by (user, epoch).
  - Markers: short-TTL string keys used as negative-cache sentinels.

Errors are always surfaced to the caller. It is the caller's job to decide
whether a cache failure is fatal (counter bump during a mutation) or
degradable (permission lookup falling back to the database).
*/
package vcache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/castellan/castellan/internal/platform/metrics"
)

// Opinionated bound for any single cache round-trip. The Permission Cache
// must degrade to direct resolution rather than hang on a sick backend.
const opTimeout = 500 * time.Millisecond

// Cache wraps a Redis client with the Version Cache operations.
type Cache struct {
	client *redis.Client
}

// New constructs a [Cache] on top of an already-connected Redis client.
func New(client *redis.Client) *Cache {
	return &Cache{client: client}
}

// BuildKey joins non-empty parts with ':' into a standardized cache key.
func BuildKey(parts ...string) string {
	key := ""
	for _, part := range parts {
		if part == "" {
			continue
		}
		if key == "" {
			key = part
			continue
		}
		key += ":" + part
	}
	return key
}

// # Counters

/*
GetInt reads an integer counter.

Description: A missing key or an unparsable value yields the default: a
fresh deployment has no epoch keys yet, and "epoch 1" must be assumed, not
errored on. Connectivity failures are returned as errors.

Parameters:
  - context: context.Context
  - key: string
  - defaultValue: int64

Returns:
  - int64: Counter value or default
  - error: Connectivity failures only
*/
func (cache *Cache) GetInt(context context.Context, key string, defaultValue int64) (int64, error) {
	opCtx, cancel := withOpTimeout(context)
	defer cancel()

	raw, err := cache.client.Get(opCtx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return defaultValue, nil
		}
		metrics.CacheOperationErrorsTotal.WithLabelValues("get").Inc()
		return defaultValue, fmt.Errorf("vcache_get_int_failed: %w", err)
	}

	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return defaultValue, nil
	}
	return value, nil
}

/*
Incr atomically increments a counter and returns the new value.

Description: Redis INCR treats a missing key as 0, so incrementing an absent
counter yields 1. A caller whose counter defaults to 1 therefore sees the
first bump land ON the default rather than past it, and must increment a
second time to get the strictly greater value the epoch invariant requires.

Parameters:
  - context: context.Context
  - key: string

Returns:
  - int64: Value after increment
  - error: Connectivity failures
*/
func (cache *Cache) Incr(context context.Context, key string) (int64, error) {
	opCtx, cancel := withOpTimeout(context)
	defer cancel()

	value, err := cache.client.Incr(opCtx, key).Result()
	if err != nil {
		metrics.CacheOperationErrorsTotal.WithLabelValues("incr").Inc()
		return 0, fmt.Errorf("vcache_incr_failed: %w", err)
	}
	return value, nil
}

// # Markers & Strings

// Set writes a string value with a TTL. A zero TTL means no expiry.
func (cache *Cache) Set(context context.Context, key, value string, ttl time.Duration) error {
	opCtx, cancel := withOpTimeout(context)
	defer cancel()

	if err := cache.client.Set(opCtx, key, value, ttl).Err(); err != nil {
		metrics.CacheOperationErrorsTotal.WithLabelValues("set").Inc()
		return fmt.Errorf("vcache_set_failed: %w", err)
	}
	return nil
}

// Exists reports whether the key is present.
func (cache *Cache) Exists(context context.Context, key string) (bool, error) {
	opCtx, cancel := withOpTimeout(context)
	defer cancel()

	n, err := cache.client.Exists(opCtx, key).Result()
	if err != nil {
		metrics.CacheOperationErrorsTotal.WithLabelValues("exists").Inc()
		return false, fmt.Errorf("vcache_exists_failed: %w", err)
	}
	return n > 0, nil
}

// Delete removes one or more keys. Missing keys are not an error.
func (cache *Cache) Delete(context context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	opCtx, cancel := withOpTimeout(context)
	defer cancel()

	if err := cache.client.Del(opCtx, keys...).Err(); err != nil {
		metrics.CacheOperationErrorsTotal.WithLabelValues("del").Inc()
		return fmt.Errorf("vcache_delete_failed: %w", err)
	}
	return nil
}

// # Sets

// AddMembers adds members to a set key.
func (cache *Cache) AddMembers(context context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}

	opCtx, cancel := withOpTimeout(context)
	defer cancel()

	args := make([]interface{}, 0, len(members))
	for _, member := range members {
		args = append(args, member)
	}

	if err := cache.client.SAdd(opCtx, key, args...).Err(); err != nil {
		metrics.CacheOperationErrorsTotal.WithLabelValues("sadd").Inc()
		return fmt.Errorf("vcache_add_members_failed: %w", err)
	}
	return nil
}

// MembersOf returns all members of a set key. A missing key yields an
// empty slice, not an error.
func (cache *Cache) MembersOf(context context.Context, key string) ([]string, error) {
	opCtx, cancel := withOpTimeout(context)
	defer cancel()

	members, err := cache.client.SMembers(opCtx, key).Result()
	if err != nil {
		metrics.CacheOperationErrorsTotal.WithLabelValues("smembers").Inc()
		return nil, fmt.Errorf("vcache_members_of_failed: %w", err)
	}
	return members, nil
}

// Expire sets the TTL on an existing key.
func (cache *Cache) Expire(context context.Context, key string, ttl time.Duration) error {
	opCtx, cancel := withOpTimeout(context)
	defer cancel()

	if err := cache.client.Expire(opCtx, key, ttl).Err(); err != nil {
		metrics.CacheOperationErrorsTotal.WithLabelValues("expire").Inc()
		return fmt.Errorf("vcache_expire_failed: %w", err)
	}
	return nil
}

// withOpTimeout caps a cache round-trip without overriding a tighter
// caller-provided deadline.
func withOpTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, opTimeout)
}
