package oauth

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/skylinks/skylinks/atproto/syntax"
)

// Transient state of one in-flight login, from PAR to code exchange. It holds the DPoP private key and PKCE verifier, so when it is handed to a browser (see [AuthState.Encode]) the container must be encrypted.
//
// It is consumed exactly once by [ClientApp.ExchangeCode] and is never written to a [SessionStore].
type AuthState struct {
	State        string   `json:"state"`
	PKCEVerifier string   `json:"pkce_verifier"`
	DPoPKey      *DPoPKey `json:"dpop_key"`

	// Last DPoP nonce issued by the authorization server
	DPoPNonce string `json:"dpop_nonce,omitempty"`

	AuthServerURL string             `json:"auth_server_url"`
	AuthServer    AuthServerMetadata `json:"auth_server"`
	PDSURL        string             `json:"pds_url"`

	DID    syntax.DID    `json:"did"`
	Handle syntax.Handle `json:"handle,omitempty"`

	ClientID    string `json:"client_id"`
	RedirectURI string `json:"redirect_uri"`
	Scope       string `json:"scope"`

	RequestURI       string    `json:"request_uri"`
	AuthorizationURL string    `json:"authorization_url"`
	CreatedAt        time.Time `json:"created_at"`
}

// Opaque URL-safe string form, for storing in a cookie.
func (s *AuthState) Encode() (string, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func DecodeAuthState(raw string) (*AuthState, error) {
	b, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidAuthState, err)
	}
	var st AuthState
	if err := json.Unmarshal(b, &st); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidAuthState, err)
	}
	if st.State == "" || st.DPoPKey == nil || st.PKCEVerifier == "" {
		return nil, fmt.Errorf("%w: incomplete", ErrInvalidAuthState)
	}
	return &st, nil
}
