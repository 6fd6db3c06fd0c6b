package auth

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingConfiguration means client id, secret or redirect identifier is not set
	ErrMissingConfiguration = errors.New("missing configuration")

	// ErrInvalidScope means the marketplace rejected the requested scope set
	ErrInvalidScope = errors.New("marketplace rejected the requested scopes")

	// ErrAuthorizationDenied covers every other authorization callback error
	ErrAuthorizationDenied = errors.New("authorization failed")

	// ErrNotAuthenticated means no token pair is stored
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrTokenExpired means the access token expired and no refresh token is available
	ErrTokenExpired = errors.New("access token expired and no refresh token is available")

	// ErrRefreshFailed means the refresh token is dead (invalid_grant); stored tokens were cleared
	ErrRefreshFailed = errors.New("refresh token rejected, re-authorization required")

	// ErrNoPendingCredentials means the callback arrived but submitted credentials were lost
	ErrNoPendingCredentials = errors.New("no pending credentials, submit credentials and authorize again")
)

// AuthorizationError is an error reported on the authorization callback or
// by the token endpoint during code exchange
type AuthorizationError struct {
	Code        string
	Description string
}

func (e *AuthorizationError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("authorization error %s: %s", e.Code, e.Description)
	}
	return "authorization error " + e.Code
}

// Unwrap maps the marketplace error code onto the taxonomy
func (e *AuthorizationError) Unwrap() error {
	if e.Code == "invalid_scope" {
		return ErrInvalidScope
	}
	return ErrAuthorizationDenied
}

// UserMessage is the text shown on the callback status page
func (e *AuthorizationError) UserMessage() string {
	if e.Code == "invalid_scope" {
		return "eBay rejected the requested permissions. Check the scopes enabled for this application " +
			"in the developer portal, then connect again."
	}
	if e.Code == "access_denied" {
		return "Access was not granted. Connect again and accept the consent screen to continue."
	}
	if e.Description != "" {
		return "eBay authorization failed: " + e.Description
	}
	return "eBay authorization failed (" + e.Code + ")."
}
