package oauth

import (
	"strings"
	"time"

	"github.com/skylinks/skylinks/atproto/syntax"
)

// Sessions are refreshed when the access token expires within this window.
const RefreshThreshold = 5 * time.Minute

// Durable authentication state for one account.
//
// The DPoP key is fixed for the lifetime of the session; a new key means a new login. Token fields and the auth-server nonce change on refresh, and the resource-server nonce changes on PDS requests, so callers must persist the session after either.
type Session struct {
	DID    syntax.DID    `json:"did"`
	Handle syntax.Handle `json:"handle,omitempty"`

	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token,omitempty"`
	DPoPKey      *DPoPKey `json:"dpop_key"`

	// Base URL of the account's PDS (resource server)
	PDSURL string `json:"pds_url"`

	// Base URL of the authorization server (issuer)
	AuthServerURL string `json:"auth_server_url"`

	Scope     string     `json:"scope,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	// Most recent DPoP nonces, tracked separately per server
	AuthServerNonce     string `json:"auth_server_nonce,omitempty"`
	ResourceServerNonce string `json:"resource_server_nonce,omitempty"`
}

// Token endpoint used for refresh grants.
func (s *Session) TokenEndpoint() string {
	return strings.TrimRight(s.AuthServerURL, "/") + "/oauth/token"
}

// False when expiry is unknown; otherwise true once the token is within [RefreshThreshold] of expiring (or already expired).
func (s *Session) ShouldRefreshAt(now time.Time) bool {
	if s.ExpiresAt == nil {
		return false
	}
	return !now.Add(RefreshThreshold).Before(*s.ExpiresAt)
}

func (s *Session) ShouldRefresh() bool {
	return s.ShouldRefreshAt(time.Now())
}

func (s *Session) ExpiredAt(now time.Time) bool {
	return s.ExpiresAt != nil && now.After(*s.ExpiresAt)
}

func (s *Session) Expired() bool {
	return s.ExpiredAt(time.Now())
}

// Copy of the session. The DPoP key is shared, since it is immutable.
func (s *Session) Clone() *Session {
	out := *s
	if s.ExpiresAt != nil {
		exp := *s.ExpiresAt
		out.ExpiresAt = &exp
	}
	return &out
}
