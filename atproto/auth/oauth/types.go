package oauth

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Response from "/.well-known/oauth-protected-resource" on a PDS.
type ProtectedResourceMetadata struct {
	Resource string `json:"resource,omitempty"`

	// Only populated when the server returned a JSON array.
	AuthorizationServers []string `json:"authorization_servers,omitempty"`
}

func (m *ProtectedResourceMetadata) UnmarshalJSON(b []byte) error {
	var raw struct {
		Resource             string          `json:"resource"`
		AuthorizationServers json.RawMessage `json:"authorization_servers"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	m.Resource = raw.Resource
	m.AuthorizationServers = nil

	// a bare string or null is treated the same as an absent field
	var servers []string
	if len(raw.AuthorizationServers) > 0 && json.Unmarshal(raw.AuthorizationServers, &servers) == nil {
		m.AuthorizationServers = servers
	}
	return nil
}

// First listed authorization server, or fallback if the list is empty.
func (m *ProtectedResourceMetadata) AuthServer(fallback string) string {
	if len(m.AuthorizationServers) > 0 && m.AuthorizationServers[0] != "" {
		return strings.TrimRight(m.AuthorizationServers[0], "/")
	}
	return fallback
}

// Response from "/.well-known/oauth-authorization-server". Only the fields used by this client are decoded.
type AuthServerMetadata struct {
	Issuer                             string   `json:"issuer"`
	AuthorizationEndpoint              string   `json:"authorization_endpoint"`
	TokenEndpoint                      string   `json:"token_endpoint"`
	PushedAuthorizationRequestEndpoint string   `json:"pushed_authorization_request_endpoint"`
	ScopesSupported                    []string `json:"scopes_supported,omitempty"`
	DPoPSigningAlgValuesSupported      []string `json:"dpop_signing_alg_values_supported,omitempty"`
}

// Checks that the endpoints this client needs are present.
func (m *AuthServerMetadata) Validate() error {
	for name, v := range map[string]string{
		"issuer":                                m.Issuer,
		"authorization_endpoint":                m.AuthorizationEndpoint,
		"token_endpoint":                        m.TokenEndpoint,
		"pushed_authorization_request_endpoint": m.PushedAuthorizationRequestEndpoint,
	} {
		if v == "" {
			return fmt.Errorf("%w: missing %s", ErrInvalidAuthServerMetadata, name)
		}
	}
	return nil
}

// Client metadata document, served at the client_id URL and fetched by authorization servers.
type ClientMetadata struct {
	ClientID                string   `json:"client_id"`
	ApplicationType         string   `json:"application_type,omitempty"`
	ClientName              string   `json:"client_name,omitempty"`
	ClientURI               string   `json:"client_uri,omitempty"`
	GrantTypes              []string `json:"grant_types"`
	Scope                   string   `json:"scope"`
	ResponseTypes           []string `json:"response_types"`
	RedirectURIs            []string `json:"redirect_uris"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
	DPoPBoundAccessTokens   bool     `json:"dpop_bound_access_tokens"`
}

// Form fields of a pushed authorization request. Bodies are form-encoded, not JSON.
type PushedAuthRequest struct {
	ClientID            string `url:"client_id"`
	ResponseType        string `url:"response_type"`
	RedirectURI         string `url:"redirect_uri"`
	Scope               string `url:"scope"`
	State               string `url:"state"`
	CodeChallenge       string `url:"code_challenge"`
	CodeChallengeMethod string `url:"code_challenge_method"`
	LoginHint           string `url:"login_hint,omitempty"`
}

type PushedAuthResponse struct {
	RequestURI string `json:"request_uri"`
	ExpiresIn  int    `json:"expires_in"`
}

// Form fields of the authorization_code grant.
type InitialTokenRequest struct {
	GrantType    string `url:"grant_type"`
	Code         string `url:"code"`
	RedirectURI  string `url:"redirect_uri"`
	ClientID     string `url:"client_id"`
	CodeVerifier string `url:"code_verifier"`
}

// Form fields of the refresh_token grant.
type RefreshTokenRequest struct {
	GrantType    string `url:"grant_type"`
	RefreshToken string `url:"refresh_token"`
	ClientID     string `url:"client_id"`
}

// Token endpoint response, for both grants.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	Subject      string `json:"sub"`
	Scope        string `json:"scope,omitempty"`
}

// OAuth (RFC 6749) error body.
type ErrorResponse struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}
