// Copyright (c) 2026 Sentra Labs. All rights reserved.
// Author: eng@sentra.dev

/*
Package constants provides centralized, immutable values for the entire platform.

It defines default timeouts, header names, and cross-cutting keys that are shared
between different layers of the system.

Categories:

  - Server Timing: Read/Write/Idle timeouts for the HTTP server.
  - Throttling: Burst capacities and IP tracking TTLs for the login throttle.
  - Security: Token issuer/audience, cookie and header names.
  - Store Taxonomy: Redis key prefixes for every volatile data family.

Using this package ensures Magic Strings and Magic Numbers are eliminated
from the business logic.
*/
package constants

import "time"

// # Metadata

const (
	AppName    = "sentra-api"
	AppVersion = "0.1.0-dev"
)

// # Server Timing

const (
	// DefaultReadTimeout is the maximum duration for reading the entire request.
	DefaultReadTimeout = 5 * time.Second

	// DefaultWriteTimeout is the maximum duration before timing out writes of the response.
	DefaultWriteTimeout = 10 * time.Second

	// DefaultIdleTimeout is the maximum amount of time to wait for the next request.
	DefaultIdleTimeout = 120 * time.Second

	// DefaultReadHeaderTimeout is the amount of time allowed to read request headers.
	DefaultReadHeaderTimeout = 2 * time.Second

	// GlobalRequestTimeout is the deadline for the entire request lifecycle.
	GlobalRequestTimeout = 30 * time.Second

	// ShutdownTimeout is how long we wait for in-flight requests to complete during shutdown.
	ShutdownTimeout = 30 * time.Second
)

// # Login Throttling

const (
	// LoginThrottleRPS is the requests per second allowed per IP on
	// unauthenticated credential endpoints (login, register, refresh).
	LoginThrottleRPS = 5.0

	// LoginThrottleBurst is the maximum burst allowed by the login throttle.
	LoginThrottleBurst = 10

	// ThrottleCleanupInterval is how often idle IP entries are removed from memory.
	ThrottleCleanupInterval = 1 * time.Minute

	// ThrottleClientTTL is how long a client must be idle before its entry is deleted.
	ThrottleClientTTL = 3 * time.Minute
)

// # Security

const (
	// AuthIssuer is the standard 'iss' claim in issued tokens.
	AuthIssuer = "sentra.id"

	// AuthAudience is the standard 'aud' claim in issued tokens.
	AuthAudience = "sentra-api"

	// RefreshTokenCookieName is the name of the cookie that stores the refresh token.
	RefreshTokenCookieName = "refresh_token"

	// RefreshTokenCookiePath is the scoped path for the refresh token cookie.
	RefreshTokenCookiePath = "/api/v1/auth"

	// CSRFCookieName is the double-submit cookie carrying the CSRF token.
	CSRFCookieName = "csrf_token"

	// VisitorCookieName carries the anonymous binding identifier that CSRF
	// tokens are issued against before login.
	VisitorCookieName = "visitor_id"

	// HeaderCSRFToken is the header that must echo the CSRF cookie value.
	HeaderCSRFToken = "X-CSRF-Token"

	// HeaderAPIKey carries the API-key secret on machine-to-machine calls.
	HeaderAPIKey = "X-API-Key"
)

// # HTTP Headers

const (
	HeaderXRequestID    = "X-Request-ID"
	HeaderXRealIP       = "X-Real-IP"
	HeaderXForwardedFor = "X-Forwarded-For"
	HeaderOrigin        = "Origin"
	HeaderRetryAfter    = "Retry-After"

	// Rate-limit response headers exposed on API-key gated paths.
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
)

// # JSON Field Identifiers

const (
	FieldData    = "data"
	FieldError   = "error"
	FieldCode    = "code"
	FieldDetails = "details"
	FieldMessage = "message"
	FieldStatus  = "status"
	FieldApp     = "app"
	FieldVersion = "version"
	FieldChecks  = "checks"
)

// # Database Schemas

const (
	SchemaIdentity = "identity"
)

// # Store Prefixes (Volatile Key Taxonomy)

const (
	// StorePrefixBlacklist marks revoked token identifiers (jti).
	StorePrefixBlacklist = "auth:blacklist:"

	// StorePrefixSessionRefresh maps a session ID to its single currently
	// valid refresh-token identifier.
	StorePrefixSessionRefresh = "auth:session_refresh:"

	// StorePrefixRateLimit holds the windowed request counters per API key.
	StorePrefixRateLimit = "admission:ratelimit:"

	// StorePrefixConcurrent holds the in-flight request counter per API key.
	StorePrefixConcurrent = "admission:concurrent:"

	// StorePrefixUsage holds cumulative usage statistics per API key.
	StorePrefixUsage = "admission:usage:"
)
