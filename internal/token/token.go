// Copyright (c) 2026 Sentra Labs. All rights reserved.
// Author: eng@sentra.dev

/*
Package token implements the token lifecycle: issuance, validation, rotation,
and revocation of the signed credentials that cross the trust boundary.

Architecture:

  - Service: Application-layer orchestrator. Owns the pairing of a session
    with its single currently valid refresh token.
  - sec.Signer: Infrastructure dependency that signs and verifies tokens.
  - kvstore.Store: Shared volatile state (blacklist, session refresh anchor).

Lifecycle invariants:

  - Every issued token carries a unique identifier (jti) so it can be revoked
    individually.
  - A session has AT MOST ONE valid refresh token at any instant; rotation
    replaces it atomically via compare-and-swap in the shared store.
  - A validated-then-revoked token fails validation everywhere within one
    store round trip; there is no per-instance revocation cache.
*/
package token

import "time"

// # Token Lifetimes

const (
	// AccessTokenTTL bounds the damage window of a stolen access token.
	// Access tokens are stateless apart from the blacklist check, so they
	// must stay short.
	AccessTokenTTL = 15 * time.Minute

	// RefreshTokenTTL is the maximum session length without re-authentication.
	RefreshTokenTTL = 7 * 24 * time.Hour

	// blacklistSlack is added to blacklist TTLs to absorb clock drift between
	// instances. A blacklist entry outliving its token is harmless; the
	// reverse is not.
	blacklistSlack = 30 * time.Second
)

// TokenPair is the result of authentication or rotation: a fresh access token
// and the session's new (sole) refresh token.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"-"`
	RefreshExpiresAt time.Time `json:"-"`
	SessionID        string    `json:"session_id"`
	TokenType        string    `json:"token_type"`
}
