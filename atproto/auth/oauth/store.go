package oauth

import (
	"context"

	"github.com/skylinks/skylinks/atproto/syntax"
)

// Persistence for sessions, one per account DID. Implementations must allow concurrent access.
type SessionStore interface {
	// Returns an error wrapping [ErrSessionNotFound] if there is no session for the DID.
	GetSession(ctx context.Context, did syntax.DID) (*Session, error)

	// Inserts or replaces the session for sess.DID.
	SaveSession(ctx context.Context, sess *Session) error

	// Deleting a missing session is not an error.
	DeleteSession(ctx context.Context, did syntax.DID) error

	// DIDs of all stored sessions, in insertion order.
	ListSessionDIDs(ctx context.Context) ([]syntax.DID, error)
}
