package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/skylinks/skylinks/atproto/auth/oauth"
	"github.com/skylinks/skylinks/atproto/syntax"
)

// Database-backed [oauth.SessionStore].
type SessionStore struct {
	db *gorm.DB
}

var _ oauth.SessionStore = (*SessionStore)(nil)

func NewSessionStore(db *gorm.DB) *SessionStore {
	return &SessionStore{db: db}
}

func (s *SessionStore) GetSession(ctx context.Context, did syntax.DID) (*oauth.Session, error) {
	var row OAuthSession
	if err := s.db.WithContext(ctx).Where("did = ?", did.String()).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", oauth.ErrSessionNotFound, did)
		}
		return nil, err
	}
	return row.session()
}

func (s *SessionStore) SaveSession(ctx context.Context, sess *oauth.Session) error {
	row, err := sessionRow(sess)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "did"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"updated_at", "handle", "access_token", "refresh_token", "dpop_key",
			"pds_url", "auth_server_url", "scope", "expires_at",
			"auth_server_nonce", "resource_server_nonce",
		}),
	}).Create(row).Error
}

func (s *SessionStore) DeleteSession(ctx context.Context, did syntax.DID) error {
	return s.db.WithContext(ctx).Where("did = ?", did.String()).Delete(&OAuthSession{}).Error
}

func (s *SessionStore) ListSessionDIDs(ctx context.Context) ([]syntax.DID, error) {
	var raw []string
	if err := s.db.WithContext(ctx).Model(&OAuthSession{}).Order("id asc").Pluck("did", &raw).Error; err != nil {
		return nil, err
	}
	out := make([]syntax.DID, 0, len(raw))
	for _, d := range raw {
		out = append(out, syntax.DID(d))
	}
	return out, nil
}

func sessionRow(sess *oauth.Session) (*OAuthSession, error) {
	if sess.DID == "" {
		return nil, fmt.Errorf("session has no DID")
	}
	if sess.DPoPKey == nil {
		return nil, fmt.Errorf("session for %s has no DPoP key", sess.DID)
	}
	key, err := sess.DPoPKey.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("serializing DPoP key: %w", err)
	}
	return &OAuthSession{
		DID:                 sess.DID.String(),
		Handle:              sess.Handle.String(),
		AccessToken:         sess.AccessToken,
		RefreshToken:        sess.RefreshToken,
		DPoPKey:             key,
		PDSURL:              sess.PDSURL,
		AuthServerURL:       sess.AuthServerURL,
		Scope:               sess.Scope,
		ExpiresAt:           sess.ExpiresAt,
		AuthServerNonce:     sess.AuthServerNonce,
		ResourceServerNonce: sess.ResourceServerNonce,
	}, nil
}

func (row *OAuthSession) session() (*oauth.Session, error) {
	key, err := oauth.ParseDPoPKey(row.DPoPKey)
	if err != nil {
		return nil, fmt.Errorf("stored DPoP key for %s: %w", row.DID, err)
	}
	return &oauth.Session{
		DID:                 syntax.DID(row.DID),
		Handle:              syntax.Handle(row.Handle),
		AccessToken:         row.AccessToken,
		RefreshToken:        row.RefreshToken,
		DPoPKey:             key,
		PDSURL:              row.PDSURL,
		AuthServerURL:       row.AuthServerURL,
		Scope:               row.Scope,
		ExpiresAt:           row.ExpiresAt,
		AuthServerNonce:     row.AuthServerNonce,
		ResourceServerNonce: row.ResourceServerNonce,
	}, nil
}
