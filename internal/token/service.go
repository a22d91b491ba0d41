// Copyright (c) 2026 Sentra Labs. All rights reserved.
// Author: eng@sentra.dev

package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sentra-id/sentra/internal/identity"
	"github.com/sentra-id/sentra/internal/platform/apperr"
	"github.com/sentra-id/sentra/internal/platform/constants"
	"github.com/sentra-id/sentra/internal/platform/kvstore"
	"github.com/sentra-id/sentra/internal/platform/sec"
	"github.com/sentra-id/sentra/pkg/uuid"
)

/*
Service manages the full token lifecycle for one deployment.

# Responsibilities

 1. Issuance: Mint access/refresh pairs anchored to a session.
 2. Validation: Verify signature, expiry, type, blacklist, account state.
 3. Rotation: Atomically replace the session's refresh token; detect reuse.
 4. Revocation: Blacklist individual tokens or terminate whole sessions.

# Concurrency

The service holds no in-process locks. Every concurrency-sensitive decision
(rotation winner, blacklist membership) is delegated to atomic operations on
the shared store, so any number of instances behave as one.
*/
type Service struct {
	signer   *sec.Signer
	store    kvstore.Store
	sessions identity.SessionStore
	users    identity.UserStore
	logger   *slog.Logger

	// now is injectable for expiry tests.
	now func() time.Time
}

// NewService creates a new token lifecycle service.
func NewService(
	signer *sec.Signer,
	store kvstore.Store,
	sessions identity.SessionStore,
	users identity.UserStore,
	logger *slog.Logger,
) *Service {
	return &Service{
		signer:   signer,
		store:    store,
		sessions: sessions,
		users:    users,
		logger:   logger,
		now:      time.Now,
	}
}

// # Issuance

/*
StartSession authenticates nothing by itself; callers pass a user whose
credentials have already been verified. It creates a tracking session, mints
the initial token pair, and anchors the refresh token in the shared store.

Parameters:
  - ctx: context.Context
  - user: The authenticated account.
  - ipAddress, userAgent: Request metadata persisted with the session.

Returns:
  - *TokenPair: The access token plus the session's sole refresh token.
  - error: Store or signing failures.
*/
func (service *Service) StartSession(ctx context.Context, user *identity.User, ipAddress, userAgent string) (*TokenPair, error) {
	sessionID := uuid.New()

	pair, refreshJTI, err := service.mintPair(user, sessionID)
	if err != nil {
		return nil, err
	}

	// 1. Anchor the refresh token. The anchor key IS the source of truth for
	//    "which refresh token is currently valid for this session".
	anchorKey := constants.StorePrefixSessionRefresh + sessionID
	if err := service.store.SetWithTTL(ctx, anchorKey, refreshJTI, RefreshTokenTTL); err != nil {
		return nil, apperr.StoreUnavailable(err)
	}

	// 2. Persist the tracking session. Durable metadata only; validity
	//    decisions never read it on the hot path.
	session := &identity.Session{
		ID:             sessionID,
		UserID:         user.ID,
		RefreshTokenID: refreshJTI,
		IPAddress:      ipAddress,
		UserAgent:      userAgent,
		ExpiresAt:      pair.RefreshExpiresAt,
		IsActive:       true,
	}
	if err := service.sessions.Create(ctx, session); err != nil {
		return nil, err
	}

	service.logger.Info("session started",
		slog.String("user_id", user.ID),
		slog.String("session_id", sessionID),
	)

	return pair, nil
}

// mintPair signs a fresh access/refresh pair for the user and session.
// The refresh jti is returned separately because rotation needs it for the
// compare-and-swap before the pair is handed to the client.
func (service *Service) mintPair(user *identity.User, sessionID string) (*TokenPair, string, error) {
	accessJTI := uuid.New()
	refreshJTI := uuid.New()

	accessClaims := sec.Claims{}
	accessClaims.ID = accessJTI
	accessClaims.Subject = user.ID
	accessClaims.SessionID = sessionID
	accessClaims.Roles = user.Roles

	accessToken, accessExpiry, err := service.signer.Sign(accessClaims, sec.TokenTypeAccess, AccessTokenTTL)
	if err != nil {
		return nil, "", apperr.Internal(err)
	}

	// Refresh tokens deliberately omit roles: authorization context is
	// re-derived from the store at rotation time, so a role change takes
	// effect on the next refresh at the latest.
	refreshClaims := sec.Claims{}
	refreshClaims.ID = refreshJTI
	refreshClaims.Subject = user.ID
	refreshClaims.SessionID = sessionID

	refreshToken, refreshExpiry, err := service.signer.Sign(refreshClaims, sec.TokenTypeRefresh, RefreshTokenTTL)
	if err != nil {
		return nil, "", apperr.Internal(err)
	}

	return &TokenPair{
		AccessToken:      accessToken,
		AccessExpiresAt:  accessExpiry,
		RefreshToken:     refreshToken,
		RefreshExpiresAt: refreshExpiry,
		SessionID:        sessionID,
		TokenType:        "Bearer",
	}, refreshJTI, nil
}

// # Validation

/*
ValidateAccessToken verifies an access token end to end.

Check order: signature and structural validity first (local, cheap, cannot be
influenced by store state), then blacklist membership, then account state.
Re-reading the user record on every validation is what makes deactivation
bite immediately instead of lingering for the rest of the access-token
lifetime: revoking sessions only kills refresh anchors, never outstanding
access jtis.

Returns:
  - *sec.Claims: The verified claims for downstream authorization.
  - error: One of the token taxonomy errors, or STORE_UNAVAILABLE.
*/
func (service *Service) ValidateAccessToken(ctx context.Context, raw string) (*sec.Claims, error) {
	claims, err := service.signer.Verify(raw, sec.TokenTypeAccess)
	if err != nil {
		return nil, mapVerifyError(err)
	}

	if err := service.checkBlacklist(ctx, claims.JTI()); err != nil {
		return nil, err
	}

	user, err := service.users.FindByID(ctx, claims.UserID())
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		return nil, apperr.UserInactive()
	}

	return claims, nil
}

// ValidateRefreshToken verifies a refresh token's signature, expiry, and
// blacklist membership. It does NOT consume the token; use [Service.Rotate].
func (service *Service) ValidateRefreshToken(ctx context.Context, raw string) (*sec.Claims, error) {
	claims, err := service.signer.Verify(raw, sec.TokenTypeRefresh)
	if err != nil {
		return nil, mapVerifyError(err)
	}

	if err := service.checkBlacklist(ctx, claims.JTI()); err != nil {
		return nil, err
	}

	return claims, nil
}

// checkBlacklist returns TOKEN_REVOKED if the jti is blacklisted. Store
// failures fail closed: an unverifiable token is treated as unusable, not as
// valid.
func (service *Service) checkBlacklist(ctx context.Context, jti string) error {
	_, err := service.store.Get(ctx, constants.StorePrefixBlacklist+jti)
	switch {
	case err == nil:
		return apperr.TokenRevoked()
	case errors.Is(err, kvstore.ErrNotFound):
		return nil
	default:
		return apperr.StoreUnavailable(err)
	}
}

// mapVerifyError translates the signer's sentinels into the client taxonomy.
func mapVerifyError(err error) error {
	switch {
	case errors.Is(err, sec.ErrTokenExpired):
		return apperr.TokenExpired()
	case errors.Is(err, sec.ErrTokenInvalidSignature):
		return apperr.TokenInvalidSignature()
	default:
		return apperr.TokenMalformed()
	}
}

// # Rotation

/*
Rotate consumes a refresh token and returns a fresh pair.

# Protocol

 1. Verify the presented token (signature, expiry, type, blacklist).
 2. Read the session's anchor. A missing anchor means the session was revoked
    or expired.
 3. If the presented jti is NOT the anchored jti, this token was already
    rotated away: someone is replaying it. The whole session is revoked and
    the caller gets TOKEN_REUSE_DETECTED.
 4. Otherwise compare-and-swap the anchor from the presented jti to a freshly
    minted one. Exactly one of any number of concurrent callers wins; losers
    get CONCURRENT_ROTATION_LOST (retryable: the winner was the same client).

The consumed jti is NOT blacklisted: losing the anchor already makes it
useless, and keeping it recognizable is what lets a later replay trip reuse
detection instead of a generic revocation error.

The user record is re-read on every rotation so deactivation and role changes
propagate within one access-token lifetime.
*/
func (service *Service) Rotate(ctx context.Context, raw string, ipAddress string) (*TokenPair, error) {
	claims, err := service.ValidateRefreshToken(ctx, raw)
	if err != nil {
		return nil, err
	}

	sessionID := claims.SessionID
	presentedJTI := claims.JTI()
	anchorKey := constants.StorePrefixSessionRefresh + sessionID

	// 1. Resolve the session's current refresh jti.
	currentJTI, err := service.store.Get(ctx, anchorKey)
	if err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			// Session revoked or anchor expired. Not reuse: there is nothing
			// live to have been stolen from.
			return nil, apperr.TokenRevoked()
		}
		return nil, apperr.StoreUnavailable(err)
	}

	// 2. Reuse detection. A verified token that is no longer the anchor was
	//    superseded by an earlier rotation; presenting it again means the
	//    token leaked. Kill the whole session.
	if currentJTI != presentedJTI {
		service.logger.Warn("refresh token reuse detected",
			slog.String("session_id", sessionID),
			slog.String("user_id", claims.UserID()),
			slog.String("ip", ipAddress),
		)
		if err := service.RevokeSession(ctx, sessionID); err != nil {
			service.logger.Error("failed to revoke session after reuse detection",
				slog.String("session_id", sessionID),
				slog.Any("error", err),
			)
		}
		// Blacklist both identifiers: the replayed one and the live one the
		// attacker may also hold.
		service.blacklist(ctx, presentedJTI, RefreshTokenTTL)
		service.blacklist(ctx, currentJTI, RefreshTokenTTL)
		return nil, apperr.TokenReuseDetected()
	}

	// 3. Refresh the authorization context from the durable store.
	user, err := service.users.FindByID(ctx, claims.UserID())
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		if err := service.RevokeSession(ctx, sessionID); err != nil {
			service.logger.Error("failed to revoke session for inactive user",
				slog.String("session_id", sessionID),
				slog.Any("error", err),
			)
		}
		return nil, apperr.UserInactive()
	}

	pair, newJTI, err := service.mintPair(user, sessionID)
	if err != nil {
		return nil, err
	}

	// 4. The commit point. Concurrent rotations race here and exactly one CAS
	//    succeeds; there is no lock to hold across the store round trip.
	swapped, err := service.store.CompareAndSwap(ctx, anchorKey, presentedJTI, newJTI, RefreshTokenTTL)
	if err != nil {
		return nil, apperr.StoreUnavailable(err)
	}
	if !swapped {
		return nil, apperr.ConcurrentRotationLost()
	}

	if err := service.sessions.UpdateRefreshTokenID(ctx, sessionID, newJTI, pair.RefreshExpiresAt); err != nil {
		// Tracking metadata only; the anchor already moved. Log and continue.
		service.logger.Error("failed to persist rotated refresh id",
			slog.String("session_id", sessionID),
			slog.Any("error", err),
		)
	}

	return pair, nil
}

// # Revocation

/*
Revoke blacklists a single token for its remaining lifetime.

The blacklist entry needs no longer TTL than the token itself: once the token
expires, signature verification rejects it without consulting the store.
*/
func (service *Service) Revoke(ctx context.Context, claims *sec.Claims) error {
	remaining := claims.ExpiresAt.Time.Sub(service.now())
	if remaining <= 0 {
		return nil
	}
	return service.blacklistErr(ctx, claims.JTI(), remaining)
}

// RevokeSession terminates a session: the refresh anchor is deleted so no
// further rotation can succeed, and the tracking record is deactivated.
func (service *Service) RevokeSession(ctx context.Context, sessionID string) error {
	if err := service.store.Delete(ctx, constants.StorePrefixSessionRefresh+sessionID); err != nil {
		return apperr.StoreUnavailable(err)
	}
	return service.sessions.Deactivate(ctx, sessionID)
}

// RevokeAllSessions terminates every active session belonging to a user.
// Used on password change and administrative lockout.
func (service *Service) RevokeAllSessions(ctx context.Context, userID string) error {
	sessions, err := service.sessions.ListActiveForUser(ctx, userID)
	if err != nil {
		return err
	}

	var firstErr error
	for _, session := range sessions {
		if err := service.RevokeSession(ctx, session.ID); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return firstErr
	}

	return service.sessions.DeactivateAllForUser(ctx, userID)
}

// blacklist is the best-effort variant used where the caller is already on a
// failure path and a store error must not mask the primary outcome.
func (service *Service) blacklist(ctx context.Context, jti string, ttl time.Duration) {
	if err := service.blacklistErr(ctx, jti, ttl); err != nil {
		service.logger.Error("failed to blacklist token",
			slog.String("jti", jti),
			slog.Any("error", err),
		)
	}
}

func (service *Service) blacklistErr(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	key := constants.StorePrefixBlacklist + jti
	if err := service.store.SetWithTTL(ctx, key, "1", ttl+blacklistSlack); err != nil {
		return apperr.StoreUnavailable(fmt.Errorf("blacklist write: %w", err))
	}
	return nil
}
