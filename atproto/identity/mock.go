package identity

import (
	"context"
	"fmt"
	"sync"

	"github.com/skylinks/skylinks/atproto/syntax"
)

// Fixed in-memory [Directory], for tests.
type MockResolver struct {
	mu         sync.RWMutex
	identities map[syntax.DID]Identity
	handles    map[syntax.Handle]syntax.DID
	purged     []string
}

var _ Directory = (*MockResolver)(nil)

func NewMockResolver() *MockResolver {
	return &MockResolver{
		identities: make(map[syntax.DID]Identity),
		handles:    make(map[syntax.Handle]syntax.DID),
	}
}

func (m *MockResolver) Insert(ident Identity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.identities[ident.DID] = ident
	if ident.Handle != "" {
		m.handles[ident.Handle.Normalize()] = ident.DID
	}
}

func (m *MockResolver) ResolveIdentity(ctx context.Context, handleOrDID string) (*Identity, error) {
	atid, err := syntax.ParseAtIdentifier(handleOrDID)
	if err != nil {
		return nil, err
	}
	did, ok := atid.AsDID()
	if !ok {
		handle, _ := atid.AsHandle()
		did, err = m.ResolveHandle(ctx, handle)
		if err != nil {
			return nil, err
		}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	ident, ok := m.identities[did]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDIDNotFound, did)
	}
	return &ident, nil
}

func (m *MockResolver) ResolveHandle(ctx context.Context, handle syntax.Handle) (syntax.DID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	did, ok := m.handles[handle.Normalize()]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrHandleNotFound, handle)
	}
	return did, nil
}

// Records the identifier; the mock has no cache.
func (m *MockResolver) Purge(handleOrDID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purged = append(m.purged, handleOrDID)
}

func (m *MockResolver) Purged() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.purged...)
}

// Synthesizes a minimal document from the stored identity.
func (m *MockResolver) ResolveDID(ctx context.Context, did syntax.DID) (*DIDDocument, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ident, ok := m.identities[did]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDIDNotFound, did)
	}
	doc := DIDDocument{
		DID: did,
		Service: []DocService{{
			ID:              "#atproto_pds",
			Type:            "AtprotoPersonalDataServer",
			ServiceEndpoint: ident.PDSEndpoint,
		}},
	}
	if ident.Handle != "" {
		doc.AlsoKnownAs = []string{"at://" + ident.Handle.String()}
	}
	return &doc, nil
}
