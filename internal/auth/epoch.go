// Copyright (c) 2026 Castellan. All rights reserved.
// Author: ops@castellan.dev

package auth

import (
	"context"
	"fmt"

	"github.com/castellan/castellan/internal/platform/vcache"
)

// defaultTokenEpoch is assumed for users whose counter has never been set.
// Every token minted before the first logout embeds this value.
const defaultTokenEpoch = 1

// RedisTokenEpochStore keeps the per-user token epoch under
// auth:ver:u:{user_id}. The epoch is the sole revocation mechanism: a token
// is valid only while its embedded epoch matches the stored counter.
type RedisTokenEpochStore struct {
	versions *vcache.Cache
}

func NewRedisTokenEpochStore(versions *vcache.Cache) *RedisTokenEpochStore {
	return &RedisTokenEpochStore{versions: versions}
}

// Current returns the user's token epoch, defaulting to 1 for users who
// have never logged out. Satisfies the authentication middleware's epoch
// source contract.
func (store *RedisTokenEpochStore) Current(ctx context.Context, userID string) (int64, error) {
	return store.versions.GetInt(ctx, tokenEpochKey(userID), defaultTokenEpoch)
}

// Bump atomically advances the user's token epoch, invalidating every
// previously issued token for that user.
func (store *RedisTokenEpochStore) Bump(ctx context.Context, userID string) (int64, error) {
	key := tokenEpochKey(userID)

	newEpoch, err := store.versions.Incr(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("auth_bump_token_epoch_failed: %w", err)
	}

	// INCR on a missing key yields 1, which equals the assumed default and
	// would leave the user's existing tokens valid. Advance once more so a
	// bump always revokes.
	if newEpoch == defaultTokenEpoch {
		newEpoch, err = store.versions.Incr(ctx, key)
		if err != nil {
			return 0, fmt.Errorf("auth_bump_token_epoch_failed: %w", err)
		}
	}

	return newEpoch, nil
}

func tokenEpochKey(userID string) string {
	return vcache.BuildKey("auth", "ver", "u", userID)
}
