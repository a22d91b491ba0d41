// Copyright (c) 2026 Sentra Labs. All rights reserved.
// Author: eng@sentra.dev

// Package sec provides cryptographic primitives and token management.
//
// # Architecture
//
// This package isolates security-sensitive code (Hashing, Token Signing) from
// the domain logic. It acts as an Infrastructure service injected into the
// Application layer via narrow interfaces.
package sec

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// # Token Types

// TokenType discriminates access tokens from refresh tokens inside the claims.
type TokenType string

const (
	// TokenTypeAccess is the short-lived, stateless bearer credential.
	TokenTypeAccess TokenType = "access"

	// TokenTypeRefresh is the long-lived credential anchored to a session.
	TokenTypeRefresh TokenType = "refresh"
)

// # Verification Errors

// Sentinel errors returned by [Signer.Verify]. Callers map these to the
// client-facing error taxonomy; the distinction matters because clients must
// refresh only on expiry, never on signature or structure failures.
var (
	ErrTokenExpired          = errors.New("sec: token expired")
	ErrTokenMalformed        = errors.New("sec: token malformed")
	ErrTokenInvalidSignature = errors.New("sec: token signature invalid")
)

// # Claims

// Claims represents the payload embedded inside a signed token.
//
// # Why custom claims?
//
// By embedding the role set, scopes, and session anchor directly inside the
// token, request middleware can reconstruct the caller's authorization context
// WITHOUT querying the database on every single API request. Only the
// blacklist lookup touches the shared store.
type Claims struct {
	jwt.RegisteredClaims

	// Custom application claims are abbreviated to keep the token payload small.
	Roles     []string  `json:"rol,omitempty"`
	Scopes    []string  `json:"scp,omitempty"`
	SessionID string    `json:"sid"`
	TokenType TokenType `json:"typ"`
}

// UserID returns the subject claim, which carries the user identifier.
func (c *Claims) UserID() string { return c.Subject }

// JTI returns the unique token identifier used for blacklist and
// reuse-detection lookups.
func (c *Claims) JTI() string { return c.ID }

// # Signer

// Signer handles generation and verification of HS256 tokens.
//
// # Key Separation
//
// Access and refresh tokens are signed with two independent secrets. A stolen
// access-signing key must not allow refresh-token forgery, so [Signer.Verify]
// selects the verification key strictly by the expected token type — a refresh
// token presented where an access token is expected fails on signature, not
// on the type claim.
type Signer struct {
	accessSecret  []byte
	refreshSecret []byte
	issuer        string
	audience      string
}

// NewSigner creates a new Signer from the two independent signing secrets.
func NewSigner(accessSecret, refreshSecret []byte, issuer, audience string) (*Signer, error) {
	if len(accessSecret) == 0 || len(refreshSecret) == 0 {
		return nil, fmt.Errorf("sec: signing secrets must not be empty")
	}

	return &Signer{
		accessSecret:  accessSecret,
		refreshSecret: refreshSecret,
		issuer:        issuer,
		audience:      audience,
	}, nil
}

// Sign creates a signed token string for the given claims.
//
// # Parameters
//   - claims: Fully populated claims; Issuer/Audience/IssuedAt are overwritten.
//   - tokenType: Selects the signing key and is stamped into the claims.
//   - timeToLive: The duration before the token expires.
//
// # Returns
//   - The compact signed token and its absolute expiry.
func (s *Signer) Sign(claims Claims, tokenType TokenType, timeToLive time.Duration) (string, time.Time, error) {
	currentTime := time.Now()
	expiresAt := currentTime.Add(timeToLive)

	claims.Issuer = s.issuer
	claims.Audience = jwt.ClaimStrings{s.audience}
	claims.IssuedAt = jwt.NewNumericDate(currentTime)
	claims.ExpiresAt = jwt.NewNumericDate(expiresAt)
	claims.TokenType = tokenType

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedToken, err := token.SignedString(s.secretFor(tokenType))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sec: failed to sign token: %w", err)
	}

	return signedToken, expiresAt, nil
}

// Verify checks the signature, issuer, audience, expiry, and type discriminator
// of a token string.
//
// # Returns
//   - The parsed claims on success.
//   - One of [ErrTokenExpired], [ErrTokenMalformed], [ErrTokenInvalidSignature].
//
// The underlying HMAC comparison is constant-time (hmac.Equal inside the jwt
// library), so verification does not leak how much of the signature matched.
func (s *Signer) Verify(raw string, tokenType TokenType) (*Claims, error) {
	token, err := jwt.ParseWithClaims(raw, &Claims{},
		func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("sec: unexpected signing method: %v", token.Header["alg"])
			}
			return s.secretFor(tokenType), nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
	)

	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrTokenExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, ErrTokenInvalidSignature
		default:
			// Structure, issuer, audience, and not-before failures all
			// collapse into "malformed" — the taxonomy deliberately does not
			// tell an attacker which field was wrong.
			return nil, ErrTokenMalformed
		}
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenMalformed
	}

	// A structurally valid token of the wrong type is a protocol violation,
	// not a signature problem.
	if claims.TokenType != tokenType {
		return nil, ErrTokenMalformed
	}

	return claims, nil
}

// secretFor returns the signing key for the given token type.
func (s *Signer) secretFor(tokenType TokenType) []byte {
	if tokenType == TokenTypeRefresh {
		return s.refreshSecret
	}
	return s.accessSecret
}
