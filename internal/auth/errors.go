// Package auth resolves raw API keys to credential identities, enforcing the
// full credential lifecycle: key format, existence, revocation, expiry, and
// tier access. Resolution is deliberately separate from rate limiting so that
// a revoked or expired key is rejected before any counter is consulted.
package auth

import "net/http"

// Code identifies why a key failed to resolve. Codes are ordered by the
// lifecycle check that produced them; resolution stops at the first failure.
type Code string

const (
	CodeInvalidFormat    Code = "INVALID_FORMAT"
	CodeInvalidKey       Code = "INVALID_KEY"
	CodeRevoked          Code = "REVOKED"
	CodeExpired          Code = "EXPIRED"
	CodeTierInsufficient Code = "TIER_INSUFFICIENT"
)

// Error is a credential resolution failure with a stable machine-readable
// code.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return string(e.Code) + ": " + e.Message
}

// HTTPStatus maps the failure to a response status. A key that cannot be
// authenticated is 401; a valid key whose tier grants no access is 403.
func (e *Error) HTTPStatus() int {
	if e.Code == CodeTierInsufficient {
		return http.StatusForbidden
	}
	return http.StatusUnauthorized
}
