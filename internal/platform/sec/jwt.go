// Copyright (c) 2026 Castellan. All rights reserved.
// Author: ops@castellan.dev

// Package sec provides cryptographic primitives and token management.
//
// # Architecture
//
// This package isolates security-sensitive code (Hashing, JWT Signing,
// Password Policy) from the domain logic. It acts as an Infrastructure
// service injected into the Application layer via small interfaces.
package sec

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// # Token Kinds

// TokenKind distinguishes access tokens from refresh tokens.
//
// Refresh tokens are only accepted by the /auth/refresh endpoint; access
// tokens are only accepted by request authentication. Mixing them up is
// always an Unauthorized condition.
type TokenKind string

const (
	// TokenKindAccess is the short-lived bearer token sent on every request.
	TokenKindAccess TokenKind = "access"

	// TokenKindRefresh is the long-lived token exchanged for a new pair.
	TokenKindRefresh TokenKind = "refresh"
)

// AuthClaims represents the payload embedded inside a Castellan JWT.
//
// # Why an epoch claim?
//
// Every token carries the per-user token epoch ("ver") that was current at
// issuance. Revocation is a single atomic increment of that counter: all
// previously issued tokens fail the epoch-match check without the server
// keeping any blacklist or session table.
type AuthClaims struct {
	jwt.RegisteredClaims

	// Custom application claims are abbreviated to keep the JWT payload small.
	UserID string    `json:"uid"`
	Epoch  int64     `json:"ver"`
	Kind   TokenKind `json:"kind"`
}

// TokenService handles generation and verification of JWT tokens using HS256.
type TokenService struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// TokenPair carries a freshly minted access + refresh token.
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// NewTokenService creates a new TokenService signing with the shared secret.
func NewTokenService(secret, issuer string, accessTTL, refreshTTL time.Duration) (*TokenService, error) {
	if secret == "" {
		return nil, fmt.Errorf("sec: JWT secret must not be empty")
	}
	return &TokenService{
		secret:     []byte(secret),
		issuer:     issuer,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}, nil
}

// GenerateToken creates a signed token of the given kind for a user,
// embedding the user's current token epoch.
func (service *TokenService) GenerateToken(userID string, epoch int64, kind TokenKind) (string, error) {
	timeToLive := service.accessTTL
	if kind == TokenKindRefresh {
		timeToLive = service.refreshTTL
	}

	currentTime := time.Now()
	claims := AuthClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    service.issuer,
			IssuedAt:  jwt.NewNumericDate(currentTime),
			ExpiresAt: jwt.NewNumericDate(currentTime.Add(timeToLive)),
		},
		UserID: userID,
		Epoch:  epoch,
		Kind:   kind,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedToken, err := token.SignedString(service.secret)
	if err != nil {
		return "", fmt.Errorf("sec: failed to sign token: %w", err)
	}

	return signedToken, nil
}

// GeneratePair mints an access + refresh token pair at the given epoch.
func (service *TokenService) GeneratePair(userID string, epoch int64) (*TokenPair, error) {
	accessToken, err := service.GenerateToken(userID, epoch, TokenKindAccess)
	if err != nil {
		return nil, err
	}

	refreshToken, err := service.GenerateToken(userID, epoch, TokenKindRefresh)
	if err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "bearer",
		ExpiresAt:    time.Now().Add(service.accessTTL),
	}, nil
}

// VerifyToken checks the signature and validity of a JWT string.
//
// Expiry and issuer are validated here; the epoch-match check happens in the
// auth layer because it requires a cache round-trip.
func (service *TokenService) VerifyToken(tokenString string) (*AuthClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AuthClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("sec: unexpected signing method: %v", token.Header["alg"])
		}
		return service.secret, nil
	}, jwt.WithIssuer(service.issuer))

	if err != nil {
		return nil, fmt.Errorf("sec: invalid token: %w", err)
	}

	claims, ok := token.Claims.(*AuthClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("sec: invalid token claims")
	}

	return claims, nil
}
