// Copyright (c) 2026 Sentra Labs. All rights reserved.
// Author: eng@sentra.dev

package sec

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// GenerateSecureToken returns a URL-safe random string of the given byte length.
//
// Used for API-key secrets: generated once, handed to the caller, and never
// re-derivable server-side (only its hash is persisted).
func GenerateSecureToken(byteLength int) (string, error) {
	buffer := make([]byte, byteLength)
	if _, err := rand.Read(buffer); err != nil {
		return "", fmt.Errorf("sec: failed to generate secure token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buffer), nil
}

// HashSecret returns the hex-encoded SHA-256 digest of a bearer secret.
//
// The raw secret never reaches persistent storage or store keys; lookups and
// counter keys are always done against this digest.
func HashSecret(secret string) string {
	digest := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(digest[:])
}

// ConstantTimeEquals compares two strings without leaking how many leading
// bytes matched. Length mismatch returns false immediately, which is safe
// because lengths are public for every value this is used on.
func ConstantTimeEquals(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
