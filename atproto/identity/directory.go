package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/skylinks/skylinks/atproto/syntax"
)

// Identity lookups needed to start an OAuth login.
type Directory interface {
	// Resolves a handle or DID string to the account DID, handle (if known) and PDS endpoint.
	ResolveIdentity(ctx context.Context, handleOrDID string) (*Identity, error)
	ResolveHandle(ctx context.Context, handle syntax.Handle) (syntax.DID, error)
	ResolveDID(ctx context.Context, did syntax.DID) (*DIDDocument, error)
	// Drops any cached result for the handle or DID, so the next lookup goes to the network.
	Purge(handleOrDID string)
}

var (
	// DID method other than did:plc or did:web
	ErrUnsupportedDIDMethod = errors.New("unsupported DID method")

	// DID document has no #atproto_pds service entry
	ErrPDSNotFound = errors.New("PDS service not declared in DID document")

	// DID document failed to parse, or does not describe the requested DID
	ErrInvalidDIDDocument = errors.New("invalid DID document")

	// Resolution completed, but the DID does not exist
	ErrDIDNotFound = errors.New("DID not found")

	// Resolution completed, but the handle does not exist
	ErrHandleNotFound = errors.New("handle not found")

	// Non-200 response from a resolution endpoint. Returned errors are usually [*HTTPError].
	ErrHTTP = errors.New("identity resolution HTTP error")

	// Network-level failure (DNS, connection refused, timeout)
	ErrTransport = errors.New("identity resolution transport error")
)

// Unexpected HTTP status from a resolution endpoint.
type HTTPError struct {
	URL        string
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("identity resolution HTTP %d: %s", e.StatusCode, e.URL)
}

func (e *HTTPError) Unwrap() error {
	return ErrHTTP
}

const (
	DefaultPLCURL            = "https://plc.directory"
	DefaultHandleResolverURL = "https://bsky.social"
)
