// Package common defines the sentinel errors shared by the credential,
// token and session layers. Callers match them with errors.Is.
package common

import "errors"

var (
	// Credential verification.
	ErrInvalidCredentials    = errors.New("invalid credentials")
	ErrServiceUnavailable    = errors.New("directory service unavailable")
	ErrMisconfiguredProvider = errors.New("credential provider misconfigured")
	ErrLookupUnsupported     = errors.New("identity lookup unsupported without service account")

	// Access tokens.
	ErrMisconfiguredSigning = errors.New("token signing misconfigured")
	ErrTokenExpired         = errors.New("token expired")
	ErrTokenInvalid         = errors.New("invalid token")

	// Refresh tokens.
	ErrInvalidOrExpired = errors.New("invalid or expired refresh token")
	ErrTokenCollision   = errors.New("refresh token collision")

	// Session / authorization.
	ErrUnauthorized  = errors.New("unauthorized")
	ErrReauthFailed  = errors.New("failed to re-authenticate user")
	ErrForbidden     = errors.New("not enough privileges")
	ErrMisconfigured = errors.New("auth config invalid")
	ErrInternal      = errors.New("internal error")
)
