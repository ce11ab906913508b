// Copyright (c) 2026 Castellan. All rights reserved.
// Author: ops@castellan.dev

package permission

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castellan/castellan/internal/platform/apperr"
	"github.com/castellan/castellan/internal/platform/optimistic"
)

type fakeRepository struct {
	created        []*Permission
	updateAffected int64
	deleteAffected int64
	err            error
}

func (repo *fakeRepository) List(_ context.Context, _ Filter, _, _ int) ([]*Permission, int, error) {
	return nil, 0, repo.err
}

func (repo *fakeRepository) Get(_ context.Context, _ string) (*Permission, error) {
	return nil, repo.err
}

func (repo *fakeRepository) Create(_ context.Context, entity *Permission) error {
	if repo.err != nil {
		return repo.err
	}
	repo.created = append(repo.created, entity)
	return nil
}

func (repo *fakeRepository) UpdateWithVersion(_ context.Context, _ string, _ int64, _ *optimistic.Patch) (int64, error) {
	return repo.updateAffected, repo.err
}

func (repo *fakeRepository) SoftDeleteMany(_ context.Context, _ []string) (int64, error) {
	return repo.deleteAffected, repo.err
}

func (repo *fakeRepository) DisableMany(_ context.Context, _ []string) (int64, error) {
	return repo.deleteAffected, repo.err
}

func (repo *fakeRepository) HardDelete(_ context.Context, _ string) (int64, error) {
	return repo.deleteAffected, repo.err
}

func (repo *fakeRepository) AliveIDs(_ context.Context, ids []string) ([]string, error) {
	return ids, repo.err
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

func newTestService(repo *fakeRepository, bumper *countingBumper) *Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(repo, bumper, logger)
}

func TestCreateValidatesCodeFormat(t *testing.T) {
	repo := &fakeRepository{}
	bumper := &countingBumper{}
	service := newTestService(repo, bumper)

	err := service.Create(context.Background(), &Permission{Code: "NotAValidCode", Name: "Broken"})

	require.Error(t, err)
	ae := apperr.As(err)
	require.NotNil(t, ae)
	assert.Equal(t, "VALIDATION_ERROR", ae.Code)
	assert.Empty(t, repo.created)
	assert.Zero(t, bumper.bumps, "a rejected create must not bump the epoch")
}

func TestCreateAssignsIDAndBumpsOnce(t *testing.T) {
	repo := &fakeRepository{}
	bumper := &countingBumper{}
	service := newTestService(repo, bumper)

	entity := &Permission{Code: "widget:view", Name: "View widgets"}
	require.NoError(t, service.Create(context.Background(), entity))

	require.Len(t, repo.created, 1)
	assert.NotEmpty(t, entity.ID)
	assert.Equal(t, 1, bumper.bumps)
}

func TestCreateSurfacesBumpFailure(t *testing.T) {
	repo := &fakeRepository{}
	bumper := &countingBumper{err: errors.New("incr timed out")}
	service := newTestService(repo, bumper)

	err := service.Create(context.Background(), &Permission{Code: "widget:view", Name: "View widgets"})

	require.Error(t, err)
	ae := apperr.As(err)
	require.NotNil(t, ae)
	assert.Equal(t, "SERVICE_UNAVAILABLE", ae.Code)
	require.Len(t, repo.created, 1, "the row write itself still committed")
}

func TestUpdateZeroAffectedIsConflict(t *testing.T) {
	repo := &fakeRepository{updateAffected: 0}
	bumper := &countingBumper{}
	service := newTestService(repo, bumper)

	name := "Renamed"
	err := service.Update(context.Background(), "perm-1", 3, UpdateInput{Name: &name})

	require.Error(t, err)
	assert.True(t, apperr.IsConflict(err))
	assert.Zero(t, bumper.bumps, "a conflicted update must not bump the epoch")
}

func TestUpdateRequiresAtLeastOneField(t *testing.T) {
	service := newTestService(&fakeRepository{updateAffected: 1}, &countingBumper{})

	err := service.Update(context.Background(), "perm-1", 3, UpdateInput{})

	require.Error(t, err)
	ae := apperr.As(err)
	require.NotNil(t, ae)
	assert.Equal(t, "VALIDATION_ERROR", ae.Code)
}

func TestBulkSoftDeleteBumpsOncePerBatch(t *testing.T) {
	repo := &fakeRepository{deleteAffected: 3}
	bumper := &countingBumper{}
	service := newTestService(repo, bumper)

	require.NoError(t, service.BulkSoftDelete(context.Background(), []string{"a", "b", "c"}))

	assert.Equal(t, 1, bumper.bumps, "batch mutations bump once, not per row")
}

func TestBulkSoftDeleteNothingAffectedIsNotFound(t *testing.T) {
	repo := &fakeRepository{deleteAffected: 0}
	bumper := &countingBumper{}
	service := newTestService(repo, bumper)

	err := service.BulkSoftDelete(context.Background(), []string{"missing"})

	require.Error(t, err)
	assert.True(t, apperr.IsNotFound(err))
	assert.Zero(t, bumper.bumps)
}
