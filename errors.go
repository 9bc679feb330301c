package identity

import (
	"fmt"

	"github.com/giantswarm/identity-adapter/apierror"
	"github.com/giantswarm/identity-adapter/token"
)

// Error identifiers used by the HTTP flows, in addition to those of the
// state, redirect, token and authn packages.
const (
	IdentifierOAuthFailed          = "OAUTH_FAILED"
	IdentifierMissingCode          = "MISSING_AUTHORIZATION_CODE"
	IdentifierRefreshTokenRequired = "REFRESH_TOKEN_REQUIRED"
	IdentifierRouteNotFound        = "NOT_FOUND"
)

var (
	// ErrLoginFailed marks a callback the provider cancelled or that failed
	// the code exchange. The handler sends the browser to the failure route.
	ErrLoginFailed = apierror.Unauthorized("OAuth authentication was cancelled or failed.", IdentifierOAuthFailed)

	// ErrMissingCode is returned when the callback has neither code nor error.
	ErrMissingCode = apierror.BadRequest("Authorization code is missing from the callback.", IdentifierMissingCode)

	// ErrRefreshTokenRequired is returned when no refresh value is presented.
	ErrRefreshTokenRequired = apierror.Unauthorized("Refresh token is required.", IdentifierRefreshTokenRequired)

	// ErrInvalidRefreshToken covers unknown, revoked and already rotated refresh tokens.
	ErrInvalidRefreshToken = token.ErrInvalidToken

	// ErrRefreshTokenExpired is returned for a refresh token past its expiry.
	ErrRefreshTokenExpired = token.ErrTokenExpired
)

// errOAuthFailed returns the failure route body for a provider.
func errOAuthFailed(displayName string) *apierror.Error {
	return apierror.Unauthorized(fmt.Sprintf("%s authentication was cancelled or failed.", displayName), IdentifierOAuthFailed)
}

// errRouteNotFound returns the catch-all 404 body.
func errRouteNotFound(path string) *apierror.Error {
	return apierror.NotFound(fmt.Sprintf("Route %s not found", path), IdentifierRouteNotFound)
}
