// Copyright (c) 2026 Castellan. All rights reserved.
// Author: ops@castellan.dev

package role

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castellan/castellan/internal/core/rbac"
	"github.com/castellan/castellan/internal/platform/apperr"
	"github.com/castellan/castellan/internal/platform/optimistic"
)

type fakeRepository struct {
	aliveRoles     map[string]bool
	bindResult     rbac.BindResult
	unbindResult   rbac.UnbindResult
	bindCalls      int
	updateAffected int64
	err            error
}

func (repo *fakeRepository) List(_ context.Context, _ Filter, _, _ int) ([]*Role, int, error) {
	return nil, 0, repo.err
}

func (repo *fakeRepository) Get(_ context.Context, id string) (*Role, error) {
	return &Role{ID: id}, repo.err
}

func (repo *fakeRepository) GetByCode(_ context.Context, code string) (*Role, error) {
	return &Role{Code: code}, repo.err
}

func (repo *fakeRepository) Create(_ context.Context, _ *Role) error {
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
		if repo.aliveRoles[id] {
			alive = append(alive, id)
		}
	}
	return alive, repo.err
}

func (repo *fakeRepository) BindPermissions(_ context.Context, _, _ []string) (rbac.BindResult, error) {
	repo.bindCalls++
	return repo.bindResult, repo.err
}

func (repo *fakeRepository) UnbindPermissions(_ context.Context, _, _ []string) (rbac.UnbindResult, error) {
	return repo.unbindResult, repo.err
}

func (repo *fakeRepository) PermissionIDsOfRole(_ context.Context, _ string) ([]string, error) {
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

func newTestService(repo *fakeRepository, verifier *fakeVerifier, bumper *countingBumper) *Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(repo, verifier, bumper, logger)
}

func TestBindPermissionsReturnsMixedCounts(t *testing.T) {
	repo := &fakeRepository{
		aliveRoles: map[string]bool{"role-1": true},
		bindResult: rbac.BindResult{Added: 1, Restored: 2, Existed: 3},
	}
	verifier := &fakeVerifier{alive: map[string]bool{"perm-1": true, "perm-2": true}}
	bumper := &countingBumper{}
	service := newTestService(repo, verifier, bumper)

	result, err := service.BindPermissions(context.Background(), []string{"role-1"}, []string{"perm-1", "perm-2"})

	require.NoError(t, err)
	assert.Equal(t, rbac.BindResult{Added: 1, Restored: 2, Existed: 3}, result)
	assert.Equal(t, 1, bumper.bumps, "one bump per batch")
}

func TestBindPermissionsAllExistedSkipsBump(t *testing.T) {
	repo := &fakeRepository{
		aliveRoles: map[string]bool{"role-1": true},
		bindResult: rbac.BindResult{Existed: 4},
	}
	verifier := &fakeVerifier{alive: map[string]bool{"perm-1": true}}
	bumper := &countingBumper{}
	service := newTestService(repo, verifier, bumper)

	result, err := service.BindPermissions(context.Background(), []string{"role-1"}, []string{"perm-1"})

	require.NoError(t, err)
	assert.False(t, result.Changed())
	assert.Zero(t, bumper.bumps, "a pure no-op bind must not invalidate every user's cache")
}

func TestBindPermissionsRejectsUnknownTargets(t *testing.T) {
	repo := &fakeRepository{aliveRoles: map[string]bool{"role-1": true}}
	verifier := &fakeVerifier{alive: map[string]bool{"perm-1": true}}
	bumper := &countingBumper{}
	service := newTestService(repo, verifier, bumper)

	_, err := service.BindPermissions(context.Background(), []string{"role-1"}, []string{"perm-1", "perm-ghost"})

	require.Error(t, err)
	assert.True(t, apperr.IsNotFound(err))
	assert.Contains(t, err.Error(), "perm-ghost")
	assert.Zero(t, repo.bindCalls, "validation failure must not reach the store")
	assert.Zero(t, bumper.bumps)
}

func TestBindPermissionsRejectsUnknownRole(t *testing.T) {
	repo := &fakeRepository{aliveRoles: map[string]bool{}}
	verifier := &fakeVerifier{alive: map[string]bool{"perm-1": true}}
	service := newTestService(repo, verifier, &countingBumper{})

	_, err := service.BindPermissions(context.Background(), []string{"role-ghost"}, []string{"perm-1"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "role-ghost")
}

func TestBindPermissionsRequiresNonEmptyLists(t *testing.T) {
	service := newTestService(&fakeRepository{}, &fakeVerifier{}, &countingBumper{})

	_, err := service.BindPermissions(context.Background(), nil, []string{"perm-1"})
	require.Error(t, err)

	_, err = service.BindPermissions(context.Background(), []string{"role-1"}, nil)
	require.Error(t, err)
}

func TestUnbindPermissionsBumpsOnlyWhenRowsRemoved(t *testing.T) {
	repo := &fakeRepository{unbindResult: rbac.UnbindResult{Removed: 0}}
	bumper := &countingBumper{}
	service := newTestService(repo, &fakeVerifier{}, bumper)

	result, err := service.UnbindPermissions(context.Background(), []string{"role-1"}, []string{"perm-1"})
	require.NoError(t, err)
	assert.Zero(t, result.Removed)
	assert.Zero(t, bumper.bumps)

	repo.unbindResult = rbac.UnbindResult{Removed: 2}
	result, err = service.UnbindPermissions(context.Background(), []string{"role-1"}, []string{"perm-1"})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Removed)
	assert.Equal(t, 1, bumper.bumps)
}

func TestUnbindPermissionsSurfacesBumpFailure(t *testing.T) {
	repo := &fakeRepository{unbindResult: rbac.UnbindResult{Removed: 1}}
	bumper := &countingBumper{err: errors.New("incr timed out")}
	service := newTestService(repo, &fakeVerifier{}, bumper)

	_, err := service.UnbindPermissions(context.Background(), []string{"role-1"}, []string{"perm-1"})

	require.Error(t, err)
	ae := apperr.As(err)
	require.NotNil(t, ae)
	assert.Equal(t, "SERVICE_UNAVAILABLE", ae.Code,
		"a swallowed bump failure would leave revoked grants cached until TTL")
}

func TestUpdateConflictOnStaleVersion(t *testing.T) {
	repo := &fakeRepository{updateAffected: 0}
	bumper := &countingBumper{}
	service := newTestService(repo, &fakeVerifier{}, bumper)

	name := "Operators"
	err := service.Update(context.Background(), "role-1", 7, UpdateInput{Name: &name})

	require.Error(t, err)
	assert.True(t, apperr.IsConflict(err))
	assert.Zero(t, bumper.bumps)
}

func TestCreateValidatesRoleCode(t *testing.T) {
	service := newTestService(&fakeRepository{}, &fakeVerifier{}, &countingBumper{})

	err := service.Create(context.Background(), &Role{Code: "Not-Valid", Name: "Broken"})

	require.Error(t, err)
	ae := apperr.As(err)
	require.NotNil(t, ae)
	assert.Equal(t, "VALIDATION_ERROR", ae.Code)
}
