// Copyright (c) 2026 Castellan. All rights reserved.
// Author: ops@castellan.dev

package sysconfig

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castellan/castellan/internal/platform/apperr"
	"github.com/castellan/castellan/internal/platform/config"
	"github.com/castellan/castellan/internal/platform/optimistic"
)

type fakeRepository struct {
	entity         *SystemConfig
	updateAffected int64
	err            error
}

func (repo *fakeRepository) GetSingleton(context.Context) (*SystemConfig, error) {
	if repo.err != nil {
		return nil, repo.err
	}
	return repo.entity, nil
}

func (repo *fakeRepository) UpdateWithVersion(_ context.Context, _ int64, _ *optimistic.Patch) (int64, error) {
	return repo.updateAffected, repo.err
}

func newTestService(repo *fakeRepository) *Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	fallback := &config.Config{LoginMaxFailedAttempts: 5, LoginLockMinutes: 15}
	return NewService(repo, fallback, logger)
}

func TestPasswordPolicyFallsBackOnZeroMinLength(t *testing.T) {
	repo := &fakeRepository{entity: &SystemConfig{ID: 1, PasswordRequireDigits: true}}
	service := newTestService(repo)

	policy := service.PasswordPolicy(context.Background())

	assert.Equal(t, defaultPasswordMinLength, policy.MinLength)
	assert.True(t, policy.RequireDigits)
}

func TestPasswordPolicyDegradesOnStoreFailure(t *testing.T) {
	repo := &fakeRepository{err: errors.New("connection refused")}
	service := newTestService(repo)

	policy := service.PasswordPolicy(context.Background())

	assert.Equal(t, defaultPasswordMinLength, policy.MinLength)
	assert.False(t, policy.RequireUppercase)
}

func TestLoginPolicyMergesFallbacks(t *testing.T) {
	repo := &fakeRepository{entity: &SystemConfig{ID: 1, LoginMaxFailedAttempts: 3}}
	service := newTestService(repo)

	policy := service.LoginPolicy(context.Background())

	assert.Equal(t, 3, policy.MaxFailedAttempts, "singleton overrides the environment")
	assert.Equal(t, 15, policy.LockMinutes, "zero falls back to the environment")
}

func TestUpdateConflictOnStaleVersion(t *testing.T) {
	repo := &fakeRepository{entity: &SystemConfig{ID: 1}, updateAffected: 0}
	service := newTestService(repo)

	size := 50
	_, err := service.Update(context.Background(), 2, UpdateInput{DefaultPageSize: &size})

	require.Error(t, err)
	assert.True(t, apperr.IsConflict(err))
}

func TestUpdateRejectsEmptyPatch(t *testing.T) {
	service := newTestService(&fakeRepository{entity: &SystemConfig{ID: 1}})

	_, err := service.Update(context.Background(), 0, UpdateInput{})

	require.Error(t, err)
}

func TestForceHTTPS(t *testing.T) {
	service := newTestService(&fakeRepository{entity: &SystemConfig{ID: 1, ForceHTTPS: true}})
	assert.True(t, service.ForceHTTPS(context.Background()))

	service = newTestService(&fakeRepository{err: errors.New("down")})
	assert.False(t, service.ForceHTTPS(context.Background()), "fail open: never lock operators out on a settings read error")
}
