// Copyright (c) 2026 Castellan. All rights reserved.
// Author: ops@castellan.dev

package user

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castellan/castellan/internal/core/rbac"
	"github.com/castellan/castellan/internal/platform/apperr"
	"github.com/castellan/castellan/internal/platform/optimistic"
	"github.com/castellan/castellan/internal/platform/sec"
)

type fakeRepository struct {
	users          map[string]*User
	aliveUsers     map[string]bool
	bindResult     rbac.BindResult
	unbindResult   rbac.UnbindResult
	bindCalls      int
	updateAffected int64
	created        *User
	newHash        string
	err            error
}

func (repo *fakeRepository) List(_ context.Context, _ Filter, _, _ int) ([]*User, int, error) {
	return nil, 0, repo.err
}

func (repo *fakeRepository) Get(_ context.Context, id string) (*User, error) {
	if entity, ok := repo.users[id]; ok {
		return entity, nil
	}
	if repo.err != nil {
		return nil, repo.err
	}
	return nil, apperr.NotFound("User")
}

func (repo *fakeRepository) GetByUsername(_ context.Context, username string) (*User, error) {
	for _, entity := range repo.users {
		if entity.Username == username {
			return entity, nil
		}
	}
	return nil, apperr.NotFound("User")
}

func (repo *fakeRepository) GetByPhone(_ context.Context, phone string) (*User, error) {
	for _, entity := range repo.users {
		if entity.Phone == phone {
			return entity, nil
		}
	}
	return nil, apperr.NotFound("User")
}

func (repo *fakeRepository) Create(_ context.Context, entity *User) error {
	repo.created = entity
	return repo.err
}

func (repo *fakeRepository) UpdateWithVersion(_ context.Context, _ string, _ int64, _ *optimistic.Patch) (int64, error) {
	return repo.updateAffected, repo.err
}

func (repo *fakeRepository) SoftDeleteMany(_ context.Context, ids []string) (int64, error) {
	return int64(len(ids)), repo.err
}

func (repo *fakeRepository) DisableMany(_ context.Context, ids []string) (int64, error) {
	return int64(len(ids)), repo.err
}

func (repo *fakeRepository) HardDelete(_ context.Context, _ string) (int64, error) {
	return 1, repo.err
}

func (repo *fakeRepository) AliveIDs(_ context.Context, ids []string) ([]string, error) {
	var alive []string
	for _, id := range ids {
		if repo.aliveUsers[id] {
			alive = append(alive, id)
		}
	}
	return alive, repo.err
}

func (repo *fakeRepository) SetPasswordHash(_ context.Context, id, hash string) (int64, error) {
	if _, ok := repo.users[id]; !ok {
		return 0, repo.err
	}
	repo.newHash = hash
	return 1, repo.err
}

func (repo *fakeRepository) RecordLoginFailure(_ context.Context, _ string, _ *time.Time) error {
	return repo.err
}

func (repo *fakeRepository) MarkLoginSuccess(_ context.Context, _ string, _ time.Time) error {
	return repo.err
}

func (repo *fakeRepository) Unlock(_ context.Context, id string) (int64, error) {
	if _, ok := repo.users[id]; !ok {
		return 0, repo.err
	}
	return 1, repo.err
}

func (repo *fakeRepository) BindRoles(_ context.Context, _, _ []string) (rbac.BindResult, error) {
	repo.bindCalls++
	return repo.bindResult, repo.err
}

func (repo *fakeRepository) UnbindRoles(_ context.Context, _, _ []string) (rbac.UnbindResult, error) {
	return repo.unbindResult, repo.err
}

func (repo *fakeRepository) RoleIDsOfUser(_ context.Context, _ string) ([]string, error) {
	return nil, repo.err
}

type fakeVerifier struct {
	alive map[string]bool
}

func (verifier *fakeVerifier) AliveIDs(_ context.Context, ids []string) ([]string, error) {
	var alive []string
	for _, id := range ids {
		if verifier.alive[id] {
			alive = append(alive, id)
		}
	}
	return alive, nil
}

type countingBumper struct {
	bumps int
	epoch int64
	err   error
}

func (bumper *countingBumper) BumpEpoch(context.Context) (int64, error) {
	if bumper.err != nil {
		return 0, bumper.err
	}
	bumper.bumps++
	bumper.epoch++
	return bumper.epoch, nil
}

type staticPolicy struct {
	policy sec.PasswordPolicy
}

func (source staticPolicy) PasswordPolicy(context.Context) sec.PasswordPolicy {
	return source.policy
}

func newTestService(repo *fakeRepository, roles *fakeVerifier, bumper *countingBumper, policy sec.PasswordPolicy) *Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(repo, roles, bumper, staticPolicy{policy: policy}, logger)
}

func TestCreateHashesPassword(t *testing.T) {
	repo := &fakeRepository{}
	service := newTestService(repo, &fakeVerifier{}, &countingBumper{}, sec.PasswordPolicy{MinLength: 6})

	entity, err := service.Create(context.Background(), CreateInput{
		Username: "operator",
		Phone:    "13900001111",
		Password: "s3cret!a",
	})

	require.NoError(t, err)
	assert.NotEmpty(t, entity.ID)
	assert.NotEqual(t, "s3cret!a", entity.PasswordHash, "plaintext must never reach the store")
	assert.True(t, sec.CheckPasswordHash("s3cret!a", entity.PasswordHash))
}

func TestCreateEnforcesPasswordPolicy(t *testing.T) {
	repo := &fakeRepository{}
	policy := sec.PasswordPolicy{MinLength: 8, RequireDigits: true, RequireUppercase: true}
	service := newTestService(repo, &fakeVerifier{}, &countingBumper{}, policy)

	_, err := service.Create(context.Background(), CreateInput{
		Username: "operator",
		Phone:    "13900001111",
		Password: "lowercase-only",
	})

	require.Error(t, err)
	assert.Nil(t, repo.created)
}

func TestCreateRejectsBadPhone(t *testing.T) {
	service := newTestService(&fakeRepository{}, &fakeVerifier{}, &countingBumper{}, sec.PasswordPolicy{MinLength: 6})

	_, err := service.Create(context.Background(), CreateInput{
		Username: "operator",
		Phone:    "not-a-phone",
		Password: "s3cret!a",
	})

	require.Error(t, err)
	ae := apperr.As(err)
	require.NotNil(t, ae)
	assert.Equal(t, "VALIDATION_ERROR", ae.Code)
}

func TestSelfChangePasswordVerifiesOldPassword(t *testing.T) {
	hash, err := sec.HashPassword("old-pass")
	require.NoError(t, err)

	repo := &fakeRepository{users: map[string]*User{
		"user-1": {ID: "user-1", PasswordHash: hash},
	}}
	service := newTestService(repo, &fakeVerifier{}, &countingBumper{}, sec.PasswordPolicy{MinLength: 6})

	err = service.SelfChangePassword(context.Background(), "user-1", "wrong-pass", "new-pass-1")
	require.Error(t, err)
	assert.Empty(t, repo.newHash)

	err = service.SelfChangePassword(context.Background(), "user-1", "old-pass", "new-pass-1")
	require.NoError(t, err)
	assert.True(t, sec.CheckPasswordHash("new-pass-1", repo.newHash))
}

func TestAdminChangePasswordUnknownUser(t *testing.T) {
	repo := &fakeRepository{users: map[string]*User{}}
	service := newTestService(repo, &fakeVerifier{}, &countingBumper{}, sec.PasswordPolicy{MinLength: 6})

	err := service.AdminChangePassword(context.Background(), "user-ghost", "new-pass-1")

	require.Error(t, err)
	assert.True(t, apperr.IsNotFound(err))
}

func TestBindRolesBumpsOncePerBatch(t *testing.T) {
	repo := &fakeRepository{
		aliveUsers: map[string]bool{"user-1": true, "user-2": true},
		bindResult: rbac.BindResult{Added: 3, Existed: 1},
	}
	roles := &fakeVerifier{alive: map[string]bool{"role-1": true, "role-2": true}}
	bumper := &countingBumper{}
	service := newTestService(repo, roles, bumper, sec.PasswordPolicy{MinLength: 6})

	result, err := service.BindRoles(context.Background(), []string{"user-1", "user-2"}, []string{"role-1", "role-2"})

	require.NoError(t, err)
	assert.Equal(t, 3, result.Added)
	assert.Equal(t, 1, bumper.bumps, "one bump per batch")
}

func TestBindRolesSurfacesBumpFailure(t *testing.T) {
	repo := &fakeRepository{
		aliveUsers: map[string]bool{"user-1": true},
		bindResult: rbac.BindResult{Added: 1},
	}
	roles := &fakeVerifier{alive: map[string]bool{"role-1": true}}
	bumper := &countingBumper{err: errors.New("incr timed out")}
	service := newTestService(repo, roles, bumper, sec.PasswordPolicy{MinLength: 6})

	_, err := service.BindRoles(context.Background(), []string{"user-1"}, []string{"role-1"})

	require.Error(t, err)
	ae := apperr.As(err)
	require.NotNil(t, ae)
	assert.Equal(t, "SERVICE_UNAVAILABLE", ae.Code,
		"a swallowed bump failure would hide the new memberships until TTL")
}

func TestBindRolesAllExistedSkipsBump(t *testing.T) {
	repo := &fakeRepository{
		aliveUsers: map[string]bool{"user-1": true},
		bindResult: rbac.BindResult{Existed: 2},
	}
	roles := &fakeVerifier{alive: map[string]bool{"role-1": true}}
	bumper := &countingBumper{}
	service := newTestService(repo, roles, bumper, sec.PasswordPolicy{MinLength: 6})

	_, err := service.BindRoles(context.Background(), []string{"user-1"}, []string{"role-1"})

	require.NoError(t, err)
	assert.Zero(t, bumper.bumps)
}

func TestBindRolesRejectsUnknownRole(t *testing.T) {
	repo := &fakeRepository{aliveUsers: map[string]bool{"user-1": true}}
	roles := &fakeVerifier{alive: map[string]bool{}}
	bumper := &countingBumper{}
	service := newTestService(repo, roles, bumper, sec.PasswordPolicy{MinLength: 6})

	_, err := service.BindRoles(context.Background(), []string{"user-1"}, []string{"role-ghost"})

	require.Error(t, err)
	assert.True(t, apperr.IsNotFound(err))
	assert.Contains(t, err.Error(), "role-ghost")
	assert.Zero(t, repo.bindCalls)
	assert.Zero(t, bumper.bumps)
}

func TestUnbindRolesBumpsOnlyWhenRowsRemoved(t *testing.T) {
	repo := &fakeRepository{unbindResult: rbac.UnbindResult{Removed: 0}}
	bumper := &countingBumper{}
	service := newTestService(repo, &fakeVerifier{}, bumper, sec.PasswordPolicy{MinLength: 6})

	_, err := service.UnbindRoles(context.Background(), []string{"user-1"}, []string{"role-1"})
	require.NoError(t, err)
	assert.Zero(t, bumper.bumps)

	repo.unbindResult = rbac.UnbindResult{Removed: 1}
	_, err = service.UnbindRoles(context.Background(), []string{"user-1"}, []string{"role-1"})
	require.NoError(t, err)
	assert.Equal(t, 1, bumper.bumps)
}

func TestUpdateConflictOnStaleVersion(t *testing.T) {
	repo := &fakeRepository{updateAffected: 0}
	service := newTestService(repo, &fakeVerifier{}, &countingBumper{}, sec.PasswordPolicy{MinLength: 6})

	username := "renamed"
	err := service.Update(context.Background(), "user-1", 4, UpdateInput{Username: &username})

	require.Error(t, err)
	assert.True(t, apperr.IsConflict(err))
}

func TestIsAlive(t *testing.T) {
	repo := &fakeRepository{aliveUsers: map[string]bool{"user-1": true}}
	service := newTestService(repo, &fakeVerifier{}, &countingBumper{}, sec.PasswordPolicy{MinLength: 6})

	alive, err := service.IsAlive(context.Background(), "user-1")
	require.NoError(t, err)
	assert.True(t, alive)

	alive, err = service.IsAlive(context.Background(), "user-2")
	require.NoError(t, err)
	assert.False(t, alive)
}

func TestLocked(t *testing.T) {
	now := time.Now()
	later := now.Add(10 * time.Minute)

	assert.False(t, (&User{}).Locked(now))
	assert.True(t, (&User{LockedUntil: &later}).Locked(now))
	assert.False(t, (&User{LockedUntil: &now}).Locked(later))
}
