// Copyright (c) 2026 Castellan. All rights reserved.
// Author: ops@castellan.dev

/*
Package auth implements the session core: login, refresh, and logout built
on a per-user token epoch.

There is no server-side session record. A token is valid while its
signature checks out, it has not expired, and the epoch it embeds matches
the user's current token epoch counter. Logout increments the counter,
which revokes every outstanding token for that user in O(1).
*/
package auth

import (
	"context"
	"log/slog"
	"time"

	"github.com/castellan/castellan/internal/core/sysconfig"
	"github.com/castellan/castellan/internal/core/user"
	"github.com/castellan/castellan/internal/platform/apperr"
	"github.com/castellan/castellan/internal/platform/metrics"
	"github.com/castellan/castellan/internal/platform/sec"
	"github.com/castellan/castellan/pkg/pointer"
)

// UserSource is the slice of the user repository the session core needs.
type UserSource interface {
	Get(ctx context.Context, id string) (*user.User, error)
	GetByUsername(ctx context.Context, username string) (*user.User, error)
	GetByPhone(ctx context.Context, phone string) (*user.User, error)
	RecordLoginFailure(ctx context.Context, id string, lockedUntil *time.Time) error
	MarkLoginSuccess(ctx context.Context, id string, at time.Time) error
}

// PolicySource supplies the active lockout thresholds.
type PolicySource interface {
	LoginPolicy(ctx context.Context) sysconfig.LoginPolicy
}

// PermissionInvalidator drops a user's cached permission set. Implemented
// by the rbac permission cache.
type PermissionInvalidator interface {
	InvalidateUser(ctx context.Context, userID string) error
}

type Service struct {
	users       UserSource
	epochs      *RedisTokenEpochStore
	tokens      *sec.TokenService
	policies    PolicySource
	permissions PermissionInvalidator
	logger      *slog.Logger
}

func NewService(
	users UserSource,
	epochs *RedisTokenEpochStore,
	tokens *sec.TokenService,
	policies PolicySource,
	permissions PermissionInvalidator,
	logger *slog.Logger,
) *Service {
	return &Service{
		users:       users,
		epochs:      epochs,
		tokens:      tokens,
		policies:    policies,
		permissions: permissions,
		logger:      logger,
	}
}

// errBadCredentials deliberately does not distinguish unknown user, wrong
// password, and disabled account, to avoid user enumeration.
func errBadCredentials() error {
	return apperr.Unauthorized("Invalid username or password")
}

/*
Login authenticates by username or phone and mints a token pair.

Description: The flow follows the lockout contract:
 1. Look up by username, falling back to a phone-number match.
 2. A locked account is rejected without touching the failure counters.
 3. A disabled or missing account fails with the uniform credentials error.
 4. A wrong password increments failed_attempts; crossing the configured
    maximum stamps locked_until and resets the counter.
 5. On success the counters are cleared, last_login_at is stamped, and the
    pair embeds the user's current token epoch.

Parameters:
  - context: context.Context
  - usernameOrPhone: string
  - password: string

Returns:
  - *sec.TokenPair: Access + refresh tokens at the current epoch
  - error: [apperr.Unauthorized] or [apperr.Forbidden]
*/
func (service *Service) Login(context context.Context, usernameOrPhone, password string) (*sec.TokenPair, error) {

	// ── 1. Account Lookup ─────────────────────────────────────────────────

	account, err := service.users.GetByUsername(context, usernameOrPhone)
	if apperr.IsNotFound(err) {
		account, err = service.users.GetByPhone(context, usernameOrPhone)
	}
	if err != nil {
		// Only an absent account is a credentials failure. A store that
		// cannot answer must not masquerade as a 401.
		if !apperr.IsNotFound(err) {
			return nil, err
		}
		metrics.LoginAttemptsTotal.WithLabelValues("bad_credentials").Inc()
		return nil, errBadCredentials()
	}

	// ── 2. Account State ──────────────────────────────────────────────────

	now := time.Now()
	if account.Locked(now) {
		metrics.LoginAttemptsTotal.WithLabelValues("locked").Inc()
		return nil, apperr.Forbidden("Account is locked, try again later")
	}
	if !account.IsActive {
		metrics.LoginAttemptsTotal.WithLabelValues("disabled").Inc()
		return nil, errBadCredentials()
	}

	// ── 3. Password Verification ──────────────────────────────────────────

	if !sec.CheckPasswordHash(password, account.PasswordHash) {
		return nil, service.recordFailure(context, account, now)
	}

	// ── 4. Token Issuance ─────────────────────────────────────────────────

	epoch, err := service.epochs.Current(context, account.ID)
	if err != nil {
		return nil, apperr.Unavailable("Session service is unavailable", err)
	}

	pair, err := service.tokens.GeneratePair(account.ID, epoch)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	if err := service.users.MarkLoginSuccess(context, account.ID, now); err != nil {
		// The tokens are already minted and valid; a failed bookkeeping
		// write is logged rather than turned into a login failure.
		service.logger.Warn("mark_login_success_failed",
			slog.String("user_id", account.ID),
			slog.Any("error", err),
		)
	}

	metrics.LoginAttemptsTotal.WithLabelValues("success").Inc()
	service.logger.Info("login_succeeded",
		slog.String("user_id", account.ID),
		slog.Int64("token_epoch", epoch),
	)
	return pair, nil
}

func (service *Service) recordFailure(context context.Context, account *user.User, now time.Time) error {
	policy := service.policies.LoginPolicy(context)

	var lockedUntil *time.Time
	newlyLocked := account.FailedAttempts+1 >= policy.MaxFailedAttempts
	if newlyLocked {
		lockedUntil = pointer.To(now.Add(time.Duration(policy.LockMinutes) * time.Minute))
	}

	if err := service.users.RecordLoginFailure(context, account.ID, lockedUntil); err != nil {
		service.logger.Warn("record_login_failure_failed",
			slog.String("user_id", account.ID),
			slog.Any("error", err),
		)
	}

	if newlyLocked {
		metrics.LoginAttemptsTotal.WithLabelValues("locked").Inc()
		service.logger.Info("account_locked",
			slog.String("user_id", account.ID),
			slog.Int("lock_minutes", policy.LockMinutes),
		)
		return apperr.Forbidden("Account is locked, try again later")
	}

	metrics.LoginAttemptsTotal.WithLabelValues("bad_credentials").Inc()
	return errBadCredentials()
}

/*
Refresh exchanges a valid refresh token for a fresh pair.

Description: The token must verify, be of refresh kind, and embed the
user's current token epoch; the account must still be alive. The epoch is
NOT advanced here; only logout revokes. A stolen refresh token therefore
dies with the victim's next logout rather than spawning an immortal chain.

Parameters:
  - context: context.Context
  - refreshToken: string

Returns:
  - *sec.TokenPair: Fresh pair at the current epoch
  - error: [apperr.Unauthorized] on any verification failure
*/
func (service *Service) Refresh(context context.Context, refreshToken string) (*sec.TokenPair, error) {
	claims, err := service.tokens.VerifyToken(refreshToken)
	if err != nil {
		return nil, apperr.Unauthorized("Invalid or expired token")
	}
	if claims.Kind != sec.TokenKindRefresh {
		return nil, apperr.Unauthorized("Invalid or expired token")
	}

	epoch, err := service.epochs.Current(context, claims.UserID)
	if err != nil {
		return nil, apperr.Unavailable("Session service is unavailable", err)
	}
	if claims.Epoch != epoch {
		return nil, apperr.Unauthorized("Session invalidated, log in again")
	}

	account, err := service.users.Get(context, claims.UserID)
	if err != nil {
		if apperr.IsNotFound(err) {
			return nil, apperr.Unauthorized("Invalid or expired token")
		}
		return nil, err
	}
	if !account.IsActive {
		return nil, apperr.Unauthorized("Invalid or expired token")
	}

	pair, err := service.tokens.GeneratePair(account.ID, epoch)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return pair, nil
}

// Logout revokes every outstanding token for the user by advancing the
// token epoch, and drops the user's cached permission set so the next
// session resolves fresh.
func (service *Service) Logout(context context.Context, userID string) error {
	newEpoch, err := service.epochs.Bump(context, userID)
	if err != nil {
		return apperr.Unavailable("Session service is unavailable", err)
	}

	if err := service.permissions.InvalidateUser(context, userID); err != nil {
		// Revocation already happened; a stale permission cache entry is
		// harmless because the next resolve overwrites it.
		service.logger.Warn("invalidate_permissions_failed",
			slog.String("user_id", userID),
			slog.Any("error", err),
		)
	}

	metrics.TokenRevocationsTotal.Inc()
	service.logger.Info("logout",
		slog.String("user_id", userID),
		slog.Int64("token_epoch", newEpoch),
	)
	return nil
}
