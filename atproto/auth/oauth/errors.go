package oauth

import (
	"errors"
	"fmt"
)

var (
	// Protected-resource or authorization-server metadata could not be fetched
	ErrDiscoveryFailed = errors.New("OAuth server discovery failed")

	// Authorization-server metadata is missing a required field
	ErrInvalidAuthServerMetadata = errors.New("invalid auth server metadata")

	// Pushed authorization request was rejected
	ErrParFailed = errors.New("pushed authorization request failed")

	// The state returned to the redirect URI does not match the pending login. No request is made in this case.
	ErrStateMismatch = errors.New("OAuth state mismatch")

	ErrTokenExchangeFailed = errors.New("OAuth token request failed")

	// Session has no refresh token
	ErrNoRefreshToken = errors.New("session has no refresh token")

	// Refresh grant was rejected. Also matches [ErrTokenExchangeFailed].
	ErrRefreshFailed = fmt.Errorf("%w: refresh grant", ErrTokenExchangeFailed)

	// Server issued a second DPoP nonce challenge after the retry
	ErrNonceRetryExhausted = errors.New("DPoP nonce retry exhausted")

	// Network-level failure (DNS, connection refused, timeout)
	ErrTransport = errors.New("OAuth transport error")

	ErrSessionNotFound = errors.New("OAuth session not found")

	// AuthState blob failed to decode
	ErrInvalidAuthState = errors.New("invalid OAuth auth state")
)

// Non-success HTTP response from an OAuth endpoint. Unwraps to its Kind sentinel (eg, [ErrParFailed]).
type HTTPError struct {
	Kind       error
	URL        string
	StatusCode int

	// "error" and "error_description" fields of the response, if it was a JSON OAuth error
	ErrorCode   string
	Description string

	// Raw response body, truncated
	Body string
}

func (e *HTTPError) Error() string {
	msg := fmt.Sprintf("%s: HTTP %d", e.Kind, e.StatusCode)
	if e.ErrorCode != "" {
		msg += ": " + e.ErrorCode
	}
	if e.Description != "" {
		msg += " (" + e.Description + ")"
	}
	return msg
}

func (e *HTTPError) Unwrap() error {
	return e.Kind
}
