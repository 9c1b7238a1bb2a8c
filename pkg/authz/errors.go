// Package authz implements the authorization decision engine: bearer token
// validation, permission-decision caching with risk-tiered expiry, a circuit
// breaker guarding the upstream policy authority, and the orchestration that
// combines them into fail-closed permission checks.
package authz

import (
	"errors"
)

// Common errors. Every permission check terminates in one of these classes;
// the engine never surfaces an unclassified error for a known failure.
var (
	// ErrTokenInvalid indicates a malformed, badly signed, or otherwise
	// unusable credential (401-equivalent)
	ErrTokenInvalid = errors.New("token invalid")

	// ErrTokenExpired indicates a credential past its expiry (401-equivalent)
	ErrTokenExpired = errors.New("token expired")

	// ErrPermissionDenied is a definitive "no" from cache or upstream
	// (403-equivalent)
	ErrPermissionDenied = errors.New("permission denied")

	// ErrAuthorityUnavailable indicates the breaker is open and no cached
	// decision exists (503-equivalent). Distinct from ErrPermissionDenied so
	// operators can tell "no" from "can't tell".
	ErrAuthorityUnavailable = errors.New("policy authority unavailable")

	// ErrAuthorityError indicates the upstream call itself failed (5xx,
	// timeout, or malformed response). Callers treat it like
	// ErrAuthorityUnavailable; the breaker accounts for it separately.
	ErrAuthorityError = errors.New("policy authority error")
)

// IsUnavailable reports whether err belongs to the "can't tell" class that
// maps to a 503 for callers.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrAuthorityUnavailable) || errors.Is(err, ErrAuthorityError)
}
