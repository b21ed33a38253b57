package identity

import (
	"github.com/skylinks/skylinks/atproto/syntax"
)

// Result of resolving an account: DID, handle, and the PDS hosting its repository.
type Identity struct {
	DID syntax.DID `json:"did"`

	// Empty when the identity was looked up by DID and the document declares no handle.
	Handle syntax.Handle `json:"handle,omitempty"`

	// Base URL of the PDS, with no trailing slash.
	PDSEndpoint string `json:"pds"`
}
