// Copyright (c) 2026 Castellan. All rights reserved.
// Author: ops@castellan.dev

package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/castellan/castellan/internal/platform/apperr"
	"github.com/castellan/castellan/internal/platform/ctxkey"
	"github.com/castellan/castellan/internal/platform/respond"
	"github.com/castellan/castellan/internal/platform/sec"
)

// TokenVerifier defines the interface needed to verify tokens in middleware.
//
// # Why an interface?
//
// Defining TokenVerifier here decouples the middleware from the `auth` service
// implementation, allowing us to easily inject mocks during unit testing.
type TokenVerifier interface {
	VerifyToken(tokenStr string) (*sec.AuthClaims, error)
}

// TokenEpochSource returns the current token epoch for a user. A token whose
// embedded epoch is behind this value has been revoked by logout.
type TokenEpochSource interface {
	Current(ctx context.Context, userID string) (int64, error)
}

// PermissionChecker answers whether a user holds a set of permission codes.
type PermissionChecker interface {
	HasPermissions(ctx context.Context, userID string, codes ...string) (bool, error)
}

// AccountSource reports whether a user account is alive (exists, not
// soft-deleted, not disabled). Used to re-check account state on every
// protected request so a disable takes effect before the token expires.
type AccountSource interface {
	IsAlive(ctx context.Context, userID string) (bool, error)
}

// Authenticate extracts and verifies the JWT from the Authorization header.
//
// # Flow
//  1. Check for 'Authorization: Bearer <token>' header.
//  2. If absent, request proceeds as anonymous.
//  3. If present, parse and verify the JWT via [TokenVerifier].
//  4. Reject refresh tokens: only access tokens authenticate requests.
//  5. Compare the token's embedded epoch against [TokenEpochSource]; a stale
//     epoch means the user logged out after this token was issued.
//  6. Inject [*sec.AuthClaims] into the request context for downstream use.
//
// All rejection paths return the same 401 message so a caller cannot probe
// which check failed.
//
// # Parameters
//   - verifier: The TokenVerifier instance.
//   - epochs: The per-user token epoch source.
//
// # Returns
//   - An [http.Handler] middleware.
func Authenticate(verifier TokenVerifier, epochs TokenEpochSource) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			authHeader := request.Header.Get("Authorization")

			// ── 1. Anonymous Access ───────────────────────────────────────────
			if authHeader == "" {
				next.ServeHTTP(writer, request)
				return
			}

			// ── 2. Format Validation ──────────────────────────────────────────
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				respond.Error(writer, request, apperr.Unauthorized("Invalid authorization format"))
				return
			}

			// ── 3. Token Verification ─────────────────────────────────────────
			tokenStr := parts[1]
			claims, err := verifier.VerifyToken(tokenStr)
			if err != nil {
				respond.Error(writer, request, apperr.Unauthorized("Invalid or expired token"))
				return
			}

			// ── 4. Token Kind Check ───────────────────────────────────────────
			if claims.Kind != sec.TokenKindAccess {
				respond.Error(writer, request, apperr.Unauthorized("Invalid or expired token"))
				return
			}

			// ── 5. Epoch Revocation Check ─────────────────────────────────────
			currentEpoch, err := epochs.Current(request.Context(), claims.UserID)
			if err != nil {
				respond.Error(writer, request, err)
				return
			}
			if claims.Epoch != currentEpoch {
				respond.Error(writer, request, apperr.Unauthorized("Invalid or expired token"))
				return
			}

			// ── 6. Context Injection ──────────────────────────────────────────
			ctx := context.WithValue(request.Context(), ctxkey.KeyUser, claims)
			next.ServeHTTP(writer, request.WithContext(ctx))
		})
	}
}

// RequireAuth blocks requests that are not authenticated.
//
// # Usage
//
// Must be registered in the router AFTER [Authenticate].
//
// # Flow
//  1. Check if [*sec.AuthClaims] exists in context.
//  2. If missing, abort with HTTP 401 Unauthorized.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		claims := GetUser(request.Context())
		if claims == nil {
			respond.Error(writer, request, apperr.Unauthorized("Authentication required"))
			return
		}
		next.ServeHTTP(writer, request)
	})
}

// RequirePermission blocks requests whose user does not hold every one of the
// required permission codes.
//
// # Usage
//
// Must be registered in the router AFTER [Authenticate]. It automatically
// implies [RequireAuth] so you don't need to mount both.
//
// # Flow
//  1. Check if [*sec.AuthClaims] exists in context (implies AuthN).
//  2. Re-check the account is alive via [AccountSource]. Tokens outlive
//     account disables, so this cannot be trusted to the JWT alone.
//  3. Ask the [PermissionChecker] whether the user holds ALL codes.
//  4. If anything is missing, abort with HTTP 403 Forbidden.
func RequirePermission(accounts AccountSource, checker PermissionChecker, codes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			claims := GetUser(request.Context())

			// ── 1. Authentication Check ───────────────────────────────────────
			if claims == nil {
				respond.Error(writer, request, apperr.Unauthorized("Authentication required"))
				return
			}

			// ── 2. Account Liveness Check ─────────────────────────────────────
			alive, err := accounts.IsAlive(request.Context(), claims.UserID)
			if err != nil {
				respond.Error(writer, request, err)
				return
			}
			if !alive {
				respond.Error(writer, request, apperr.Unauthorized("Account is disabled"))
				return
			}

			// ── 3. Authorization Check ────────────────────────────────────────
			allowed, err := checker.HasPermissions(request.Context(), claims.UserID, codes...)
			if err != nil {
				respond.Error(writer, request, err)
				return
			}
			if !allowed {
				respond.Error(writer, request, apperr.Forbidden("Insufficient permissions"))
				return
			}

			next.ServeHTTP(writer, request)
		})
	}
}

// Guard produces a [RequirePermission] middleware for a set of permission
// codes, with the account and permission sources already bound. Handlers
// receive a Guard at construction so route registration stays declarative.
type Guard func(codes ...string) func(http.Handler) http.Handler

// NewGuard binds the account and permission sources into a [Guard].
func NewGuard(accounts AccountSource, checker PermissionChecker) Guard {
	return func(codes ...string) func(http.Handler) http.Handler {
		return RequirePermission(accounts, checker, codes...)
	}
}

// GetUser retrieves the [*sec.AuthClaims] from the [context.Context].
//
// # Returns
//   - A pointer to [*sec.AuthClaims] if the user is authenticated.
//   - nil if the user is anonymous.
func GetUser(ctx context.Context) *sec.AuthClaims {
	claims, ok := ctx.Value(ctxkey.KeyUser).(*sec.AuthClaims)
	if !ok {
		return nil
	}
	return claims
}
