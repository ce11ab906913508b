// Copyright (c) 2026 Castellan. All rights reserved.
// Author: ops@castellan.dev

package auth

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castellan/castellan/internal/core/sysconfig"
	"github.com/castellan/castellan/internal/core/user"
	"github.com/castellan/castellan/internal/platform/apperr"
	"github.com/castellan/castellan/internal/platform/sec"
	"github.com/castellan/castellan/internal/platform/vcache"
)

type fakeUsers struct {
	accounts     map[string]*user.User
	failures     int
	lastLockedAt *time.Time
	successes    int
}

func (users *fakeUsers) Get(_ context.Context, id string) (*user.User, error) {
	if account, ok := users.accounts[id]; ok {
		return account, nil
	}
	return nil, apperr.NotFound("User")
}

func (users *fakeUsers) GetByUsername(_ context.Context, username string) (*user.User, error) {
	for _, account := range users.accounts {
		if account.Username == username {
			return account, nil
		}
	}
	return nil, apperr.NotFound("User")
}

func (users *fakeUsers) GetByPhone(_ context.Context, phone string) (*user.User, error) {
	for _, account := range users.accounts {
		if account.Phone == phone {
			return account, nil
		}
	}
	return nil, apperr.NotFound("User")
}

func (users *fakeUsers) RecordLoginFailure(_ context.Context, id string, lockedUntil *time.Time) error {
	users.failures++
	users.lastLockedAt = lockedUntil
	if account, ok := users.accounts[id]; ok {
		if lockedUntil != nil {
			account.FailedAttempts = 0
			account.LockedUntil = lockedUntil
		} else {
			account.FailedAttempts++
		}
	}
	return nil
}

func (users *fakeUsers) MarkLoginSuccess(_ context.Context, id string, at time.Time) error {
	users.successes++
	if account, ok := users.accounts[id]; ok {
		account.FailedAttempts = 0
		account.LockedUntil = nil
		account.LastLoginAt = &at
	}
	return nil
}

type staticPolicy struct {
	policy sysconfig.LoginPolicy
}

func (source staticPolicy) LoginPolicy(context.Context) sysconfig.LoginPolicy {
	return source.policy
}

type fakeInvalidator struct {
	invalidated []string
}

func (invalidator *fakeInvalidator) InvalidateUser(_ context.Context, userID string) error {
	invalidator.invalidated = append(invalidator.invalidated, userID)
	return nil
}

func newTestService(t *testing.T, users UserSource) (*Service, *fakeInvalidator, *miniredis.Miniredis) {
	t.Helper()

	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	tokens, err := sec.NewTokenService("test-secret", "castellan-test", time.Hour, 24*time.Hour)
	require.NoError(t, err)

	invalidator := &fakeInvalidator{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	policy := staticPolicy{policy: sysconfig.LoginPolicy{MaxFailedAttempts: 3, LockMinutes: 15}}

	service := NewService(users, NewRedisTokenEpochStore(vcache.New(client)), tokens, policy, invalidator, logger)
	return service, invalidator, server
}

func testAccount(t *testing.T, password string) *user.User {
	t.Helper()
	hash, err := sec.HashPassword(password)
	require.NoError(t, err)
	return &user.User{
		ID:           "user-1",
		Username:     "operator",
		Phone:        "13900001111",
		PasswordHash: hash,
		IsActive:     true,
	}
}

func TestLoginMintsPairAtDefaultEpoch(t *testing.T) {
	users := &fakeUsers{accounts: map[string]*user.User{"user-1": testAccount(t, "s3cret!a")}}
	service, _, _ := newTestService(t, users)

	pair, err := service.Login(context.Background(), "operator", "s3cret!a")

	require.NoError(t, err)
	assert.Equal(t, "bearer", pair.TokenType)
	assert.Equal(t, 1, users.successes)

	claims, err := service.tokens.VerifyToken(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, int64(1), claims.Epoch)
	assert.Equal(t, sec.TokenKindAccess, claims.Kind)
}

func TestLoginFallsBackToPhone(t *testing.T) {
	users := &fakeUsers{accounts: map[string]*user.User{"user-1": testAccount(t, "s3cret!a")}}
	service, _, _ := newTestService(t, users)

	_, err := service.Login(context.Background(), "13900001111", "s3cret!a")

	require.NoError(t, err)
}

func TestLoginLocksAfterMaxFailures(t *testing.T) {
	users := &fakeUsers{accounts: map[string]*user.User{"user-1": testAccount(t, "s3cret!a")}}
	service, _, _ := newTestService(t, users)
	ctx := context.Background()

	_, err := service.Login(ctx, "operator", "wrong")
	require.Error(t, err)
	_, err = service.Login(ctx, "operator", "wrong")
	require.Error(t, err)
	assert.Nil(t, users.lastLockedAt, "not locked before the threshold")

	// Third failure crosses MaxFailedAttempts=3.
	_, err = service.Login(ctx, "operator", "wrong")
	require.Error(t, err)
	ae := apperr.As(err)
	require.NotNil(t, ae)
	assert.Equal(t, "FORBIDDEN", ae.Code)
	require.NotNil(t, users.lastLockedAt)
	assert.Zero(t, users.accounts["user-1"].FailedAttempts, "counter resets when the lock is set")

	// While locked, even the correct password is rejected and the failure
	// counter is left alone.
	failuresBefore := users.failures
	_, err = service.Login(ctx, "operator", "s3cret!a")
	require.Error(t, err)
	assert.Equal(t, failuresBefore, users.failures)
}

func TestLoginDisabledAccountUsesUniformMessage(t *testing.T) {
	account := testAccount(t, "s3cret!a")
	account.IsActive = false
	users := &fakeUsers{accounts: map[string]*user.User{"user-1": account}}
	service, _, _ := newTestService(t, users)

	_, disabledErr := service.Login(context.Background(), "operator", "s3cret!a")
	_, unknownErr := service.Login(context.Background(), "no-such-user", "s3cret!a")

	require.Error(t, disabledErr)
	require.Error(t, unknownErr)
	assert.Equal(t, unknownErr.Error(), disabledErr.Error(), "must not leak which condition failed")
}

// unavailableUsers simulates a user store whose backing database is down.
type unavailableUsers struct {
	fakeUsers
}

func (users *unavailableUsers) GetByUsername(context.Context, string) (*user.User, error) {
	return nil, apperr.Unavailable("database unreachable", nil)
}

func (users *unavailableUsers) GetByPhone(context.Context, string) (*user.User, error) {
	return nil, apperr.Unavailable("database unreachable", nil)
}

func TestLoginSurfacesStoreOutage(t *testing.T) {
	service, _, _ := newTestService(t, &unavailableUsers{})

	_, err := service.Login(context.Background(), "operator", "s3cret!a")

	require.Error(t, err)
	ae := apperr.As(err)
	require.NotNil(t, ae)
	assert.Equal(t, "SERVICE_UNAVAILABLE", ae.Code, "a store outage must not look like bad credentials")
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	users := &fakeUsers{accounts: map[string]*user.User{"user-1": testAccount(t, "s3cret!a")}}
	service, _, _ := newTestService(t, users)

	pair, err := service.Login(context.Background(), "operator", "s3cret!a")
	require.NoError(t, err)

	_, err = service.Refresh(context.Background(), pair.AccessToken)
	require.Error(t, err)
}

func TestLogoutRevokesOutstandingTokens(t *testing.T) {
	users := &fakeUsers{accounts: map[string]*user.User{"user-1": testAccount(t, "s3cret!a")}}
	service, invalidator, _ := newTestService(t, users)
	ctx := context.Background()

	pair, err := service.Login(ctx, "operator", "s3cret!a")
	require.NoError(t, err)

	// The pair is usable before logout.
	_, err = service.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)

	require.NoError(t, service.Logout(ctx, "user-1"))
	assert.Equal(t, []string{"user-1"}, invalidator.invalidated)

	// Every token issued before the logout is now dead.
	_, err = service.Refresh(ctx, pair.RefreshToken)
	require.Error(t, err)

	// A fresh login works and embeds the advanced epoch.
	fresh, err := service.Login(ctx, "operator", "s3cret!a")
	require.NoError(t, err)

	claims, err := service.tokens.VerifyToken(fresh.AccessToken)
	require.NoError(t, err)
	assert.Greater(t, claims.Epoch, int64(1))

	_, err = service.Refresh(ctx, fresh.RefreshToken)
	require.NoError(t, err)
}

func TestEpochStoreBumpAlwaysMovesPastDefault(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := NewRedisTokenEpochStore(vcache.New(client))
	ctx := context.Background()

	current, err := store.Current(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(defaultTokenEpoch), current)

	bumped, err := store.Bump(ctx, "user-1")
	require.NoError(t, err)
	assert.Greater(t, bumped, int64(defaultTokenEpoch), "first bump must invalidate default-epoch tokens")

	current, err = store.Current(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, bumped, current)
}
