package client

import (
	"errors"
	"fmt"

	"github.com/skylinks/skylinks/atproto/auth/oauth"
)

var (
	ErrCreateFailed = errors.New("create record failed")
	ErrGetFailed    = errors.New("get record failed")
	ErrListFailed   = errors.New("list records failed")
	ErrDeleteFailed = errors.New("delete record failed")
	ErrNotFound     = errors.New("record not found")
	ErrTransport    = errors.New("PDS unreachable")

	// Same value as the oauth package sentinel, so either can be matched.
	ErrNonceRetryExhausted = oauth.ErrNonceRetryExhausted
)

// Error response from the PDS. Unwraps to Kind.
type APIError struct {
	Kind       error
	StatusCode int

	// XRPC error name and message, from the JSON response body
	Name    string
	Message string

	// Raw response body, truncated
	Body string
}

func (ae *APIError) Error() string {
	if ae.Name != "" && ae.Message != "" {
		return fmt.Sprintf("%s (HTTP %d): %s: %s", ae.Kind, ae.StatusCode, ae.Name, ae.Message)
	} else if ae.Name != "" {
		return fmt.Sprintf("%s (HTTP %d): %s", ae.Kind, ae.StatusCode, ae.Name)
	}
	return fmt.Sprintf("%s (HTTP %d)", ae.Kind, ae.StatusCode)
}

func (ae *APIError) Unwrap() error {
	return ae.Kind
}

type ErrorBody struct {
	Name    string `json:"error"`
	Message string `json:"message,omitempty"`
}
