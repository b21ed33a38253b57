package oauth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/google/go-querystring/query"

	"github.com/skylinks/skylinks/atproto/identity"
	"github.com/skylinks/skylinks/atproto/syntax"
	"github.com/skylinks/skylinks/pkg/httpclient"
)

const DefaultScope = "atproto transition:generic"

// Static configuration of this OAuth client. Only public clients (no client authentication) are supported.
type ClientConfig struct {
	// URL of the client metadata document
	ClientID string

	RedirectURI string
	Scope       string
	ClientName  string
	ClientURI   string
}

// Public client metadata document to serve at the ClientID URL.
func (c ClientConfig) ClientMetadata() ClientMetadata {
	scope := c.Scope
	if scope == "" {
		scope = DefaultScope
	}
	return ClientMetadata{
		ClientID:                c.ClientID,
		ApplicationType:         "web",
		ClientName:              c.ClientName,
		ClientURI:               c.ClientURI,
		GrantTypes:              []string{"authorization_code", "refresh_token"},
		Scope:                   scope,
		ResponseTypes:           []string{"code"},
		RedirectURIs:            []string{c.RedirectURI},
		TokenEndpointAuthMethod: "none",
		DPoPBoundAccessTokens:   true,
	}
}

// Steps of the login flow, as reported in logs and metrics.
type FlowState int

const (
	Unauthenticated FlowState = iota
	ParPending
	Authorized
	TokenExchanged
	Refreshing
)

func (s FlowState) String() string {
	switch s {
	case Unauthenticated:
		return "unauthenticated"
	case ParPending:
		return "par_pending"
	case Authorized:
		return "authorized"
	case TokenExchanged:
		return "token_exchanged"
	case Refreshing:
		return "refreshing"
	default:
		return fmt.Sprintf("FlowState(%d)", int(s))
	}
}

// Coordinates OAuth logins and token refreshes. Safe for concurrent use across distinct sessions.
type ClientApp struct {
	Config     ClientConfig
	Identity   identity.Directory
	Discovery  *Resolver
	HTTPClient *http.Client

	// Optional. When set, sessions are saved after code exchange and deleted on logout.
	Store SessionStore

	Logger *slog.Logger
}

func NewClientApp(config ClientConfig, dir identity.Directory, store SessionStore) *ClientApp {
	return &ClientApp{
		Config:     config,
		Identity:   dir,
		Discovery:  DefaultResolver(),
		HTTPClient: httpclient.New(httpclient.WithPublicOnly()),
		Store:      store,
		Logger:     slog.Default().With("component", "oauth"),
	}
}

func (app *ClientApp) transition(state FlowState, attrs ...any) {
	flowTransitions.WithLabelValues(state.String()).Inc()
	app.Logger.Debug("oauth flow transition", append([]any{"state", state.String()}, attrs...)...)
}

// Resolves the account, discovers its authorization server, and sends a pushed authorization request. Empty redirectURI, scope and clientID fall back to the app config.
//
// The returned state carries the URL to redirect the user to, and must be passed back to [ClientApp.ExchangeCode].
func (app *ClientApp) StartAuthorization(ctx context.Context, handleOrDID, redirectURI, scope, clientID string) (*AuthState, error) {
	if redirectURI == "" {
		redirectURI = app.Config.RedirectURI
	}
	if scope == "" {
		scope = app.Config.Scope
	}
	if scope == "" {
		scope = DefaultScope
	}
	if clientID == "" {
		clientID = app.Config.ClientID
	}
	if redirectURI == "" || clientID == "" {
		return nil, fmt.Errorf("%w: client_id and redirect_uri are required", ErrParFailed)
	}

	ident, err := app.Identity.ResolveIdentity(ctx, handleOrDID)
	if err != nil {
		return nil, fmt.Errorf("resolving %q: %w", handleOrDID, err)
	}
	info, err := app.Discovery.DiscoverAuthServer(ctx, ident.PDSEndpoint)
	if err != nil {
		return nil, err
	}

	pkce := GeneratePKCE()
	key, err := GenerateDPoPKey()
	if err != nil {
		return nil, err
	}
	st := AuthState{
		State:         randomToken(32),
		PKCEVerifier:  pkce.Verifier,
		DPoPKey:       key,
		AuthServerURL: info.AuthServerURL,
		AuthServer:    info.Auth,
		PDSURL:        ident.PDSEndpoint,
		DID:           ident.DID,
		Handle:        ident.Handle,
		ClientID:      clientID,
		RedirectURI:   redirectURI,
		Scope:         scope,
		CreatedAt:     time.Now().UTC(),
	}

	form, err := query.Values(PushedAuthRequest{
		ClientID:            clientID,
		ResponseType:        "code",
		RedirectURI:         redirectURI,
		Scope:               scope,
		State:               st.State,
		CodeChallenge:       pkce.Challenge,
		CodeChallengeMethod: pkce.Method,
		LoginHint:           ident.DID.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParFailed, err)
	}

	app.transition(ParPending, "did", ident.DID, "authServer", info.AuthServerURL)
	parURL := info.Auth.PushedAuthorizationRequestEndpoint
	resp, err := postFormDPoP(ctx, app.HTTPClient, app.Logger, "par", ErrParFailed, parURL, form, key, "")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		herr := resp.httpError(ErrParFailed, parURL)
		app.Logger.Warn("PAR request failed", "authServer", info.AuthServerURL, "statusCode", herr.StatusCode, "error", herr.ErrorCode)
		return nil, herr
	}

	var parResp PushedAuthResponse
	if err := json.Unmarshal(resp.Body, &parResp); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %w", ErrParFailed, err)
	}
	if parResp.RequestURI == "" {
		return nil, fmt.Errorf("%w: response missing request_uri", ErrParFailed)
	}

	authURL, err := url.Parse(info.Auth.AuthorizationEndpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: authorization endpoint: %w", ErrInvalidAuthServerMetadata, err)
	}
	q := authURL.Query()
	q.Set("client_id", clientID)
	q.Set("request_uri", parResp.RequestURI)
	authURL.RawQuery = q.Encode()

	st.DPoPNonce = resp.Nonce
	st.RequestURI = parResp.RequestURI
	st.AuthorizationURL = authURL.String()
	return &st, nil
}

// Exchanges the authorization code from the redirect for tokens. returnedState is the "state" query parameter of the redirect; if it does not match, [ErrStateMismatch] is returned without any network request.
func (app *ClientApp) ExchangeCode(ctx context.Context, st *AuthState, code, returnedState string) (*Session, error) {
	if st == nil || st.State == "" {
		return nil, ErrInvalidAuthState
	}
	if subtle.ConstantTimeCompare([]byte(st.State), []byte(returnedState)) != 1 {
		return nil, ErrStateMismatch
	}
	if code == "" {
		return nil, fmt.Errorf("%w: missing authorization code", ErrTokenExchangeFailed)
	}
	app.transition(Authorized, "did", st.DID)

	form, err := query.Values(InitialTokenRequest{
		GrantType:    "authorization_code",
		Code:         code,
		RedirectURI:  st.RedirectURI,
		ClientID:     st.ClientID,
		CodeVerifier: st.PKCEVerifier,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenExchangeFailed, err)
	}

	tokenURL := st.AuthServer.TokenEndpoint
	resp, err := postFormDPoP(ctx, app.HTTPClient, app.Logger, "token", ErrTokenExchangeFailed, tokenURL, form, st.DPoPKey, st.DPoPNonce)
	if err != nil {
		return nil, err
	}
	tok, err := decodeTokenResponse(resp, ErrTokenExchangeFailed, tokenURL)
	if err != nil {
		app.Logger.Warn("token exchange failed", "did", st.DID, "err", err)
		return nil, err
	}

	did := st.DID
	if tok.Subject != st.DID.String() {
		// the server's subject wins; only a malformed one is ignored
		app.Logger.Warn("token subject does not match resolved DID", "expected", st.DID, "sub", tok.Subject)
		if parsed, err := syntax.ParseDID(tok.Subject); err == nil {
			did = parsed
		}
	}

	sess := &Session{
		DID:             did,
		Handle:          st.Handle,
		AccessToken:     tok.AccessToken,
		RefreshToken:    tok.RefreshToken,
		DPoPKey:         st.DPoPKey,
		PDSURL:          st.PDSURL,
		AuthServerURL:   st.AuthServerURL,
		Scope:           tok.Scope,
		ExpiresAt:       expiryFrom(tok.ExpiresIn),
		AuthServerNonce: resp.Nonce,
	}
	if sess.Scope == "" {
		sess.Scope = st.Scope
	}

	if app.Store != nil {
		if err := app.Store.SaveSession(ctx, sess); err != nil {
			return nil, fmt.Errorf("saving session: %w", err)
		}
	}
	app.transition(TokenExchanged, "did", did)
	app.Logger.Info("oauth login complete", "did", did, "handle", sess.Handle, "scope", sess.Scope)
	return sess, nil
}

// Runs the refresh_token grant and updates sess in place. sess is left unchanged on failure. The caller is responsible for persisting the result.
func (app *ClientApp) RefreshSession(ctx context.Context, sess *Session) error {
	if sess.RefreshToken == "" {
		return ErrNoRefreshToken
	}
	app.transition(Refreshing, "did", sess.DID)

	form, err := query.Values(RefreshTokenRequest{
		GrantType:    "refresh_token",
		RefreshToken: sess.RefreshToken,
		ClientID:     app.Config.ClientID,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}

	tokenURL := sess.TokenEndpoint()
	resp, err := postFormDPoP(ctx, app.HTTPClient, app.Logger, "refresh", ErrRefreshFailed, tokenURL, form, sess.DPoPKey, sess.AuthServerNonce)
	if err != nil {
		return err
	}
	tok, err := decodeTokenResponse(resp, ErrRefreshFailed, tokenURL)
	if err != nil {
		app.Logger.Warn("session refresh failed", "did", sess.DID, "err", err)
		return err
	}

	sess.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		sess.RefreshToken = tok.RefreshToken
	}
	if tok.Scope != "" {
		sess.Scope = tok.Scope
	}
	sess.ExpiresAt = expiryFrom(tok.ExpiresIn)
	sess.AuthServerNonce = resp.Nonce
	app.transition(TokenExchanged, "did", sess.DID)
	return nil
}

// Forgets the stored session for the account. Tokens are not revoked at the server.
func (app *ClientApp) Logout(ctx context.Context, did syntax.DID) error {
	if app.Store == nil {
		return nil
	}
	if err := app.Store.DeleteSession(ctx, did); err != nil && !errors.Is(err, ErrSessionNotFound) {
		return err
	}
	app.transition(Unauthenticated, "did", did)
	return nil
}

func decodeTokenResponse(resp *formResponse, kind error, tokenURL string) (*TokenResponse, error) {
	if resp.StatusCode != http.StatusOK {
		return nil, resp.httpError(kind, tokenURL)
	}
	var tok TokenResponse
	if err := json.Unmarshal(resp.Body, &tok); err != nil {
		return nil, fmt.Errorf("%w: decoding token response: %w", kind, err)
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("%w: token response missing access_token", kind)
	}
	return &tok, nil
}

func expiryFrom(expiresIn int64) *time.Time {
	if expiresIn <= 0 {
		return nil
	}
	t := time.Now().Add(time.Duration(expiresIn) * time.Second).UTC()
	return &t
}
