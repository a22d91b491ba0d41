// Copyright (c) 2026 Sentra Labs. All rights reserved.
// Author: eng@sentra.dev

package sec

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters. Memory-hard by design; tuned for interactive logins.
const (
	argonMemory      = 64 * 1024
	argonIterations  = 2
	argonParallelism = 1
	argonKeyLength   = 32
	argonSaltLength  = 16
)

// HashPassword hashes a plain-text password using argon2id with a random salt.
//
// The result is a self-describing encoded string:
//
//	$argon2id$v=19$m=65536,t=2,p=1$<salt>$<hash>
func HashPassword(plainTextPassword string) (string, error) {
	if len(plainTextPassword) == 0 {
		return "", fmt.Errorf("sec: password must not be empty")
	}

	salt := make([]byte, argonSaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("sec: failed to generate salt: %w", err)
	}

	hash := argon2.IDKey([]byte(plainTextPassword), salt, argonIterations, argonMemory, argonParallelism, argonKeyLength)

	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		argonMemory,
		argonIterations,
		argonParallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// CheckPasswordHash compares a plain-text password with its encoded argon2id hash.
//
// The comparison of the derived keys is constant-time, and the parameters are
// read back from the encoded hash so old records survive parameter upgrades.
func CheckPasswordHash(plainTextPassword, encodedHash string) bool {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return false
	}

	var memory, iterations uint32
	var parallelism uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism); err != nil {
		return false
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}

	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false
	}

	derived := argon2.IDKey([]byte(plainTextPassword), salt, iterations, memory, parallelism, uint32(len(expected)))
	return subtle.ConstantTimeCompare(derived, expected) == 1
}
