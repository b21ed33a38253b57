package oauth

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/skylinks/skylinks/atproto/syntax"
)

// In-memory [SessionStore], for tests and development. Everything is lost on restart.
type MemStore struct {
	lk       sync.Mutex
	sessions map[syntax.DID]*Session
	order    []syntax.DID
}

var _ SessionStore = (*MemStore)(nil)

func NewMemStore() *MemStore {
	return &MemStore{
		sessions: make(map[syntax.DID]*Session),
	}
}

func (m *MemStore) GetSession(ctx context.Context, did syntax.DID) (*Session, error) {
	m.lk.Lock()
	defer m.lk.Unlock()

	sess, ok := m.sessions[did]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, did)
	}
	return sess.Clone(), nil
}

func (m *MemStore) SaveSession(ctx context.Context, sess *Session) error {
	m.lk.Lock()
	defer m.lk.Unlock()

	if _, ok := m.sessions[sess.DID]; !ok {
		m.order = append(m.order, sess.DID)
	}
	m.sessions[sess.DID] = sess.Clone()
	return nil
}

func (m *MemStore) DeleteSession(ctx context.Context, did syntax.DID) error {
	m.lk.Lock()
	defer m.lk.Unlock()

	if _, ok := m.sessions[did]; !ok {
		return nil
	}
	delete(m.sessions, did)
	m.order = slices.DeleteFunc(m.order, func(d syntax.DID) bool { return d == did })
	return nil
}

func (m *MemStore) ListSessionDIDs(ctx context.Context) ([]syntax.DID, error) {
	m.lk.Lock()
	defer m.lk.Unlock()

	return slices.Clone(m.order), nil
}
