// Copyright (c) 2026 Sentra Labs. All rights reserved.
// Author: eng@sentra.dev

/*
Package apperr defines the centralized error handling framework for Sentra.

It provides a rich error type that bridges the gap between low-level Domain/Storage
errors and high-level HTTP responses.

Architecture:

  - AppError: A struct containing machine-readable ErrorCode and user-friendly messages.
  - Taxonomy: Every rejection produced by the trust boundary maps to exactly one code.
  - Mapping: Explicit mapping from AppError to standard HTTP Status Codes.

Every error that leaves the service layer should be wrapped as an [AppError] to ensure
consistent API responses. Messages are deliberately uniform and non-leaking: a client
learns which taxonomy entry fired and nothing else.
*/
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError is the canonical error type for the Sentra API.
//
// It carries an HTTP status code, a machine-readable code, a client-safe
// message, and an optional slice of field-level validation errors.
//
// # Security
//
// The Cause field is for server-side logging only and is never sent to clients
// to avoid leaking internal implementation details (e.g., SQL queries or which
// specific credential check failed).
type AppError struct {
	// Code is a machine-readable error identifier (e.g. "TOKEN_EXPIRED").
	Code string `json:"code"`
	// Message is a human-readable description safe to return to the client.
	Message string `json:"error"`
	// HTTPStatus is the HTTP response status code.
	HTTPStatus int `json:"-"`
	// Cause is the underlying error, used for server-side logging only.
	Cause error `json:"-"`
	// Details holds per-field validation errors for VALIDATION_ERROR responses.
	Details []FieldError `json:"details,omitempty"`
	// Meta carries structured, client-safe metadata (e.g. rate-limit reset times).
	Meta map[string]any `json:"meta,omitempty"`
}

// FieldError represents a single field-level validation failure.
type FieldError struct {
	// Field is the JSON field name that failed validation.
	Field string `json:"field"`
	// Message is the human-readable description of the failure.
	Message string `json:"message"`
}

// Error implements the error interface. It returns the client-safe message.
func (e *AppError) Error() string { return e.Message }

// Unwrap allows [errors.Is] and [errors.As] to traverse the cause chain.
func (e *AppError) Unwrap() error { return e.Cause }

// # Token Lifecycle Errors (401)

// TokenMalformed creates a 401 [AppError] for structurally invalid tokens.
func TokenMalformed() *AppError {
	return &AppError{
		Code:       "TOKEN_MALFORMED",
		Message:    "Token is malformed",
		HTTPStatus: http.StatusUnauthorized,
	}
}

// TokenInvalidSignature creates a 401 [AppError] for signature verification failures.
func TokenInvalidSignature() *AppError {
	return &AppError{
		Code:       "TOKEN_INVALID_SIGNATURE",
		Message:    "Token signature is invalid",
		HTTPStatus: http.StatusUnauthorized,
	}
}

// TokenExpired creates a 401 [AppError]. Clients must refresh on this code only.
func TokenExpired() *AppError {
	return &AppError{
		Code:       "TOKEN_EXPIRED",
		Message:    "Token has expired",
		HTTPStatus: http.StatusUnauthorized,
	}
}

// TokenRevoked creates a 401 [AppError] for blacklisted token identifiers.
func TokenRevoked() *AppError {
	return &AppError{
		Code:       "TOKEN_REVOKED",
		Message:    "Token has been revoked",
		HTTPStatus: http.StatusUnauthorized,
	}
}

// TokenReuseDetected creates a 401 [AppError].
//
// # Severity
//
// This is a fatal, session-wide condition: the presenting session and all of
// its descendant tokens have already been revoked by the time the caller sees
// this error. The client must fully re-authenticate.
func TokenReuseDetected() *AppError {
	return &AppError{
		Code:       "TOKEN_REUSE_DETECTED",
		Message:    "Token reuse detected; session revoked",
		HTTPStatus: http.StatusUnauthorized,
	}
}

// ConcurrentRotationLost creates a 409 [AppError] for the losing side of a
// refresh-token rotation race. Unlike TokenReuseDetected this is retryable once.
func ConcurrentRotationLost() *AppError {
	return &AppError{
		Code:       "CONCURRENT_ROTATION_LOST",
		Message:    "Concurrent token rotation in progress",
		HTTPStatus: http.StatusConflict,
	}
}

// # Identity Errors

// UserNotFound creates a 401 [AppError]. Deliberately indistinguishable from a
// bad credential to prevent account enumeration.
func UserNotFound() *AppError {
	return &AppError{
		Code:       "INVALID_CREDENTIALS",
		Message:    "Invalid credentials",
		HTTPStatus: http.StatusUnauthorized,
	}
}

// UserInactive creates a 403 [AppError] for deactivated accounts.
func UserInactive() *AppError {
	return &AppError{
		Code:       "USER_INACTIVE",
		Message:    "Account is deactivated",
		HTTPStatus: http.StatusForbidden,
	}
}

// # Role & Permission Errors

// ImmutableRole creates a 403 [AppError] for mutations against system roles.
func ImmutableRole(name string) *AppError {
	return &AppError{
		Code:       "IMMUTABLE_ROLE",
		Message:    fmt.Sprintf("Role %q is a system role and cannot be modified", name),
		HTTPStatus: http.StatusForbidden,
	}
}

// RoleInUse creates a 409 [AppError] for deleting a role still held by users.
func RoleInUse(name string) *AppError {
	return &AppError{
		Code:       "ROLE_IN_USE",
		Message:    fmt.Sprintf("Role %q is assigned to one or more users", name),
		HTTPStatus: http.StatusConflict,
	}
}

// # Admission Errors

// RateLimited creates a 429 [AppError] carrying remaining/reset metadata.
func RateLimited(retryAfterSeconds int, meta map[string]any) *AppError {
	return &AppError{
		Code:       "RATE_LIMITED",
		Message:    fmt.Sprintf("Too many requests. Try again in %ds.", retryAfterSeconds),
		HTTPStatus: http.StatusTooManyRequests,
		Meta:       meta,
	}
}

// CSRFTokenMissing creates a 403 [AppError] when either submission half is absent.
func CSRFTokenMissing() *AppError {
	return &AppError{
		Code:       "CSRF_TOKEN_MISSING",
		Message:    "CSRF token is missing",
		HTTPStatus: http.StatusForbidden,
	}
}

// CSRFTokenMismatch creates a 403 [AppError] for cookie/header disagreement.
func CSRFTokenMismatch() *AppError {
	return &AppError{
		Code:       "CSRF_TOKEN_MISMATCH",
		Message:    "CSRF token is invalid",
		HTTPStatus: http.StatusForbidden,
	}
}

// CSRFTokenExpired creates a 403 [AppError] for stale CSRF tokens.
func CSRFTokenExpired() *AppError {
	return &AppError{
		Code:       "CSRF_TOKEN_EXPIRED",
		Message:    "CSRF token has expired",
		HTTPStatus: http.StatusForbidden,
	}
}

// # Generic Client Errors (4xx)

// NotFound creates a 404 [AppError] for a named resource.
//
// Example:
//
//	apperr.NotFound("Role") // Returns "Role not found"
func NotFound(resource string) *AppError {
	return &AppError{
		Code:       "NOT_FOUND",
		Message:    resource + " not found",
		HTTPStatus: http.StatusNotFound,
	}
}

// Unauthorized creates a 401 [AppError].
func Unauthorized(msg string) *AppError {
	return &AppError{
		Code:       "UNAUTHORIZED",
		Message:    msg,
		HTTPStatus: http.StatusUnauthorized,
	}
}

// Forbidden creates a 403 [AppError].
func Forbidden(msg string) *AppError {
	return &AppError{
		Code:       "FORBIDDEN",
		Message:    msg,
		HTTPStatus: http.StatusForbidden,
	}
}

// Conflict creates a 409 [AppError] for duplicate or unique-constraint violations.
func Conflict(msg string) *AppError {
	return &AppError{
		Code:       "CONFLICT",
		Message:    msg,
		HTTPStatus: http.StatusConflict,
	}
}

// ValidationError creates a 400 [AppError] with optional per-field details.
func ValidationError(msg string, details ...FieldError) *AppError {
	return &AppError{
		Code:       "VALIDATION_ERROR",
		Message:    msg,
		HTTPStatus: http.StatusBadRequest,
		Details:    details,
	}
}

// # Server Errors (5xx)

// Internal creates a 500 [AppError] wrapping an unexpected server-side error.
// The cause is stored for logging but is never sent to the client.
func Internal(cause error) *AppError {
	return &AppError{
		Code:       "INTERNAL_ERROR",
		Message:    "An unexpected error occurred",
		HTTPStatus: http.StatusInternalServerError,
		Cause:      cause,
	}
}

// StoreUnavailable creates a 503 [AppError] for shared-store connectivity loss.
//
// # Fail Closed
//
// Rate-limit checks that hit this condition deny the request rather than
// letting it through unmetered.
func StoreUnavailable(cause error) *AppError {
	return &AppError{
		Code:       "STORE_UNAVAILABLE",
		Message:    "Service temporarily unavailable",
		HTTPStatus: http.StatusServiceUnavailable,
		Cause:      cause,
	}
}

// # Helpers

// IsAppError reports whether err (or any error in its chain) is an [*AppError].
func IsAppError(err error) bool {
	var ae *AppError
	return errors.As(err, &ae)
}

// As extracts the [*AppError] from err's chain. It returns nil if not found.
func As(err error) *AppError {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae
	}
	return nil
}

// IsCode reports whether err carries the given machine-readable code.
func IsCode(err error, code string) bool {
	ae := As(err)
	return ae != nil && ae.Code == code
}
