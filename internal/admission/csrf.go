// Copyright (c) 2026 Sentra Labs. All rights reserved.
// Author: eng@sentra.dev

package admission

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sentra-id/sentra/internal/platform/apperr"
)

// CSRFTokenTTL bounds how long a minted CSRF token stays valid. Browser
// clients are expected to re-fetch a token when a request bounces with
// CSRF_TOKEN_EXPIRED.
const CSRFTokenTTL = time.Hour

/*
CSRF mints and validates stateless anti-forgery tokens.

# Design

Double-submit with a keyed MAC: the token is HMAC-SHA256 over the session
binding and an absolute expiry, delivered both as a cookie and expected back
in the X-CSRF-Token header on state-changing requests. A forged cross-site
request can make the browser SEND the cookie but cannot READ it to copy into
the header.

Tokens are bound to a session identifier, so a token stolen from one session
is useless in another, and nothing is stored server-side.

Wire format: "<expiryUnix>.<base64url(mac)>".
*/
type CSRF struct {
	secret []byte
	now    func() time.Time
}

// NewCSRF creates a CSRF token manager with the given signing secret.
func NewCSRF(secret []byte) (*CSRF, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("admission: csrf secret must not be empty")
	}
	return &CSRF{secret: secret, now: time.Now}, nil
}

// Issue mints a token bound to the given session identifier.
func (c *CSRF) Issue(bindingID string) string {
	expiry := c.now().Add(CSRFTokenTTL).Unix()
	mac := c.mac(bindingID, expiry)
	return fmt.Sprintf("%d.%s", expiry, base64.RawURLEncoding.EncodeToString(mac))
}

/*
Validate checks a submitted token pair against the session binding.

Check order:

 1. Presence: either half missing is CSRF_TOKEN_MISSING.
 2. Double-submit: header and cookie must be identical (constant-time).
 3. Authenticity: the MAC must verify against the binding and embedded expiry.
 4. Freshness: expiry is honored only AFTER the MAC proves the token is ours;
    an attacker-controlled expiry field must never select the error path.
*/
func (c *CSRF) Validate(headerToken, cookieToken, bindingID string) error {
	if headerToken == "" || cookieToken == "" {
		return apperr.CSRFTokenMissing()
	}

	if !hmac.Equal([]byte(headerToken), []byte(cookieToken)) {
		return apperr.CSRFTokenMismatch()
	}

	expiryField, macField, ok := strings.Cut(headerToken, ".")
	if !ok {
		return apperr.CSRFTokenMismatch()
	}
	expiry, err := strconv.ParseInt(expiryField, 10, 64)
	if err != nil {
		return apperr.CSRFTokenMismatch()
	}
	submittedMAC, err := base64.RawURLEncoding.DecodeString(macField)
	if err != nil {
		return apperr.CSRFTokenMismatch()
	}

	if !hmac.Equal(submittedMAC, c.mac(bindingID, expiry)) {
		return apperr.CSRFTokenMismatch()
	}

	if c.now().Unix() > expiry {
		return apperr.CSRFTokenExpired()
	}

	return nil
}

// mac computes HMAC-SHA256(secret, bindingID || "." || expiry).
func (c *CSRF) mac(bindingID string, expiry int64) []byte {
	h := hmac.New(sha256.New, c.secret)
	fmt.Fprintf(h, "%s.%d", bindingID, expiry)
	return h.Sum(nil)
}
