package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skylinks/skylinks/atproto/identity"
	"github.com/skylinks/skylinks/atproto/syntax"
)

const (
	testAccountDID = "did:plc:alice"
	testClientID   = "https://app.example/oauth/client-metadata.json"
	testRedirect   = "https://app.example/oauth/callback"
	testRequestURI = "urn:ietf:params:oauth:request_uri:req-123"
)

// Combined PDS and authorization server which records what it receives.
type fakeAuthServer struct {
	srv *httptest.Server

	mu              sync.Mutex
	parChallenges   int
	tokenChallenges int
	tokenStatus     int
	tokenResponse   map[string]any
	parForms        []url.Values
	parProofs       []jwt.MapClaims
	tokenForms      []url.Values
	tokenProofs     []jwt.MapClaims
}

func unverifiedClaims(proof string) jwt.MapClaims {
	claims := jwt.MapClaims{}
	jwt.NewParser().ParseUnverified(proof, claims)
	return claims
}

func newFakeAuthServer(t *testing.T) *fakeAuthServer {
	f := &fakeAuthServer{
		tokenResponse: map[string]any{
			"access_token":  "access-1",
			"refresh_token": "refresh-1",
			"token_type":    "DPoP",
			"expires_in":    3600,
			"sub":           testAccountDID,
			"scope":         "atproto transition:generic",
		},
	}
	mux := http.NewServeMux()
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)

	mux.HandleFunc("/.well-known/oauth-protected-resource", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"authorization_servers": []string{f.srv.URL}})
	})
	mux.HandleFunc("/.well-known/oauth-authorization-server", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(authServerMetadata(f.srv.URL))
	})
	mux.HandleFunc("/oauth/par", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		f.mu.Lock()
		defer f.mu.Unlock()
		f.parForms = append(f.parForms, r.PostForm)
		f.parProofs = append(f.parProofs, unverifiedClaims(r.Header.Get("DPoP")))
		if f.parChallenges > 0 {
			f.parChallenges--
			w.Header().Set("DPoP-Nonce", "abc")
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"use_dpop_nonce"}`))
			return
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{"request_uri": testRequestURI, "expires_in": 60})
	})
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		f.mu.Lock()
		defer f.mu.Unlock()
		f.tokenForms = append(f.tokenForms, r.PostForm)
		f.tokenProofs = append(f.tokenProofs, unverifiedClaims(r.Header.Get("DPoP")))
		if f.tokenChallenges > 0 {
			f.tokenChallenges--
			w.Header().Set("DPoP-Nonce", "tok-nonce")
			w.Header().Set("WWW-Authenticate", `DPoP error="use_dpop_nonce"`)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if f.tokenStatus != 0 {
			w.WriteHeader(f.tokenStatus)
			w.Write([]byte(`{"error":"invalid_grant","error_description":"refresh token revoked"}`))
			return
		}
		json.NewEncoder(w).Encode(f.tokenResponse)
	})
	return f
}

func newTestApp(f *fakeAuthServer) *ClientApp {
	dir := identity.NewMockResolver()
	dir.Insert(identity.Identity{DID: testAccountDID, Handle: "alice.test", PDSEndpoint: f.srv.URL})
	return &ClientApp{
		Config:     ClientConfig{ClientID: testClientID, RedirectURI: testRedirect},
		Identity:   dir,
		Discovery:  NewResolver(f.srv.Client()),
		HTTPClient: f.srv.Client(),
		Store:      NewMemStore(),
		Logger:     slog.Default(),
	}
}

func TestStartAuthorizationNonceRetry(t *testing.T) {
	assert := assert.New(t)
	f := newFakeAuthServer(t)
	f.parChallenges = 1
	app := newTestApp(f)

	st, err := app.StartAuthorization(context.Background(), "alice.test", "", "", "")
	require.NoError(t, err)

	require.Len(t, f.parProofs, 2)
	assert.NotContains(f.parProofs[0], "nonce")
	assert.Equal("abc", f.parProofs[1]["nonce"])
	assert.Equal("POST", f.parProofs[1]["htm"])
	assert.Equal(f.srv.URL+"/oauth/par", f.parProofs[1]["htu"])
	assert.NotContains(f.parProofs[1], "ath")

	form := f.parForms[1]
	assert.Equal(testClientID, form.Get("client_id"))
	assert.Equal("code", form.Get("response_type"))
	assert.Equal(testRedirect, form.Get("redirect_uri"))
	assert.Equal(DefaultScope, form.Get("scope"))
	assert.Equal(st.State, form.Get("state"))
	assert.Equal("S256", form.Get("code_challenge_method"))
	assert.Equal(S256CodeChallenge(st.PKCEVerifier), form.Get("code_challenge"))
	assert.Equal(testAccountDID, form.Get("login_hint"))

	authURL, err := url.Parse(st.AuthorizationURL)
	require.NoError(t, err)
	assert.Equal(f.srv.URL+"/oauth/authorize", authURL.Scheme+"://"+authURL.Host+authURL.Path)
	assert.Equal(testClientID, authURL.Query().Get("client_id"))
	assert.Equal(testRequestURI, authURL.Query().Get("request_uri"))

	assert.Equal("abc", st.DPoPNonce)
	assert.Equal(testRequestURI, st.RequestURI)
	assert.Equal(syntax.DID(testAccountDID), st.DID)
	assert.Equal(f.srv.URL, st.PDSURL)
	assert.Equal(f.srv.URL, st.AuthServerURL)
	assert.Len(st.State, 43)
	assert.NotNil(st.DPoPKey)
}

func TestStartAuthorizationNonceExhausted(t *testing.T) {
	assert := assert.New(t)
	f := newFakeAuthServer(t)
	f.parChallenges = 5
	app := newTestApp(f)

	_, err := app.StartAuthorization(context.Background(), testAccountDID, "", "", "")
	assert.ErrorIs(err, ErrParFailed)
	assert.ErrorIs(err, ErrNonceRetryExhausted)
	assert.Len(f.parProofs, 2)
}

func TestStartAuthorizationErrors(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	f := newFakeAuthServer(t)
	app := newTestApp(f)

	_, err := app.StartAuthorization(ctx, "bob.test", "", "", "")
	assert.ErrorIs(err, identity.ErrHandleNotFound)
	assert.Empty(f.parProofs)

	app.Config.ClientID = ""
	_, err = app.StartAuthorization(ctx, "alice.test", "", "", "")
	assert.ErrorIs(err, ErrParFailed)

	rejecting := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/.well-known/oauth-protected-resource":
			w.Write([]byte(`{}`))
		default:
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"invalid_request","error_description":"bad redirect_uri"}`))
		}
	}))
	defer rejecting.Close()

	app = newTestApp(f)
	app.Discovery.DefaultAuthServer = f.srv.URL
	dir := identity.NewMockResolver()
	dir.Insert(identity.Identity{DID: testAccountDID, PDSEndpoint: rejecting.URL})
	app.Identity = dir
	app.Discovery.authCache.Add(f.srv.URL, AuthServerMetadata{
		Issuer:                             f.srv.URL,
		AuthorizationEndpoint:              f.srv.URL + "/oauth/authorize",
		TokenEndpoint:                      f.srv.URL + "/oauth/token",
		PushedAuthorizationRequestEndpoint: rejecting.URL + "/oauth/par",
	})

	_, err = app.StartAuthorization(ctx, testAccountDID, "", "", "")
	assert.ErrorIs(err, ErrParFailed)
	assert.NotErrorIs(err, ErrNonceRetryExhausted)
	var herr *HTTPError
	require.True(t, errors.As(err, &herr))
	assert.Equal(http.StatusBadRequest, herr.StatusCode)
	assert.Equal("invalid_request", herr.ErrorCode)
	assert.Equal("bad redirect_uri", herr.Description)
}

type countingTransport struct {
	calls atomic.Int64
}

func (c *countingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	c.calls.Add(1)
	return nil, errors.New("no network in this test")
}

func TestExchangeCodeStateMismatch(t *testing.T) {
	f := newFakeAuthServer(t)
	app := newTestApp(f)
	st, err := app.StartAuthorization(context.Background(), "alice.test", "", "", "")
	require.NoError(t, err)

	transport := &countingTransport{}
	app.HTTPClient = &http.Client{Transport: transport}

	_, err = app.ExchangeCode(context.Background(), st, "code-1", st.State+"x")
	assert.ErrorIs(t, err, ErrStateMismatch)
	_, err = app.ExchangeCode(context.Background(), st, "code-1", "")
	assert.ErrorIs(t, err, ErrStateMismatch)
	assert.Equal(t, int64(0), transport.calls.Load())
}

func TestExchangeCode(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFakeAuthServer(t)
	f.parChallenges = 1
	f.tokenChallenges = 1
	app := newTestApp(f)

	st, err := app.StartAuthorization(ctx, "alice.test", "", "", "")
	require.NoError(t, err)

	// round trip through the cookie form
	blob, err := st.Encode()
	require.NoError(t, err)
	restored, err := DecodeAuthState(blob)
	require.NoError(t, err)

	before := time.Now()
	sess, err := app.ExchangeCode(ctx, restored, "code-1", st.State)
	require.NoError(t, err)

	require.Len(t, f.tokenProofs, 2)
	assert.Equal("abc", f.tokenProofs[0]["nonce"])
	assert.Equal("tok-nonce", f.tokenProofs[1]["nonce"])
	assert.Equal(f.srv.URL+"/oauth/token", f.tokenProofs[1]["htu"])

	form := f.tokenForms[1]
	assert.Equal("authorization_code", form.Get("grant_type"))
	assert.Equal("code-1", form.Get("code"))
	assert.Equal(testRedirect, form.Get("redirect_uri"))
	assert.Equal(testClientID, form.Get("client_id"))
	assert.Equal(st.PKCEVerifier, form.Get("code_verifier"))
	assert.True(VerifyPKCE(form.Get("code_verifier"), f.parForms[1].Get("code_challenge")))

	assert.Equal(syntax.DID(testAccountDID), sess.DID)
	assert.Equal(syntax.Handle("alice.test"), sess.Handle)
	assert.Equal("access-1", sess.AccessToken)
	assert.Equal("refresh-1", sess.RefreshToken)
	assert.Equal("tok-nonce", sess.AuthServerNonce)
	assert.Equal(f.srv.URL, sess.PDSURL)
	assert.Equal(f.srv.URL, sess.AuthServerURL)
	assert.Equal("atproto transition:generic", sess.Scope)
	require.NotNil(t, sess.ExpiresAt)
	assert.WithinDuration(before.Add(time.Hour), *sess.ExpiresAt, 5*time.Second)
	assert.True(st.DPoPKey.PublicKey().Equal(sess.DPoPKey.PublicKey()))

	stored, err := app.Store.GetSession(ctx, testAccountDID)
	require.NoError(t, err)
	assert.Equal("access-1", stored.AccessToken)
}

func TestExchangeCodeSubjectMismatch(t *testing.T) {
	f := newFakeAuthServer(t)
	f.tokenResponse["sub"] = "did:plc:someoneelse"
	app := newTestApp(f)

	st, err := app.StartAuthorization(context.Background(), "alice.test", "", "", "")
	require.NoError(t, err)
	sess, err := app.ExchangeCode(context.Background(), st, "code-1", st.State)
	require.NoError(t, err)
	assert.Equal(t, syntax.DID("did:plc:someoneelse"), sess.DID)
}

func TestExchangeCodeRejected(t *testing.T) {
	f := newFakeAuthServer(t)
	f.tokenStatus = http.StatusBadRequest
	app := newTestApp(f)

	st, err := app.StartAuthorization(context.Background(), "alice.test", "", "", "")
	require.NoError(t, err)
	_, err = app.ExchangeCode(context.Background(), st, "code-1", st.State)
	assert.ErrorIs(t, err, ErrTokenExchangeFailed)
	var herr *HTTPError
	require.True(t, errors.As(err, &herr))
	assert.Equal(t, "invalid_grant", herr.ErrorCode)
}

func TestRefreshSession(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFakeAuthServer(t)
	app := newTestApp(f)

	key, err := GenerateDPoPKey()
	require.NoError(t, err)
	sess := &Session{
		DID:             testAccountDID,
		AccessToken:     "old-access",
		RefreshToken:    "old-refresh",
		DPoPKey:         key,
		AuthServerURL:   f.srv.URL,
		AuthServerNonce: "stale",
	}

	noRefresh := sess.Clone()
	noRefresh.RefreshToken = ""
	assert.ErrorIs(app.RefreshSession(ctx, noRefresh), ErrNoRefreshToken)
	assert.Empty(f.tokenProofs)

	f.tokenChallenges = 1
	delete(f.tokenResponse, "refresh_token")
	f.tokenResponse["access_token"] = "new-access"
	require.NoError(t, app.RefreshSession(ctx, sess))

	require.Len(t, f.tokenProofs, 2)
	assert.Equal("stale", f.tokenProofs[0]["nonce"])
	assert.Equal("tok-nonce", f.tokenProofs[1]["nonce"])
	assert.Equal("refresh_token", f.tokenForms[1].Get("grant_type"))
	assert.Equal("old-refresh", f.tokenForms[1].Get("refresh_token"))
	assert.Equal(testClientID, f.tokenForms[1].Get("client_id"))

	assert.Equal("new-access", sess.AccessToken)
	assert.Equal("old-refresh", sess.RefreshToken)
	assert.Equal("tok-nonce", sess.AuthServerNonce)
	assert.Equal("atproto transition:generic", sess.Scope)
	require.NotNil(t, sess.ExpiresAt)
	assert.False(sess.ShouldRefresh())
	assert.Same(key, sess.DPoPKey)

	f.tokenStatus = http.StatusBadRequest
	err = app.RefreshSession(ctx, sess)
	assert.ErrorIs(err, ErrRefreshFailed)
	assert.ErrorIs(err, ErrTokenExchangeFailed)
	assert.Equal("new-access", sess.AccessToken)
}

func TestLogout(t *testing.T) {
	ctx := context.Background()
	f := newFakeAuthServer(t)
	app := newTestApp(f)

	st, err := app.StartAuthorization(ctx, "alice.test", "", "", "")
	require.NoError(t, err)
	_, err = app.ExchangeCode(ctx, st, "code-1", st.State)
	require.NoError(t, err)

	require.NoError(t, app.Logout(ctx, testAccountDID))
	_, err = app.Store.GetSession(ctx, testAccountDID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestDecodeAuthState(t *testing.T) {
	_, err := DecodeAuthState("%%%")
	assert.ErrorIs(t, err, ErrInvalidAuthState)
	_, err = DecodeAuthState("e30") // {}
	assert.ErrorIs(t, err, ErrInvalidAuthState)
}

func TestClientMetadata(t *testing.T) {
	assert := assert.New(t)
	meta := ClientConfig{ClientID: testClientID, RedirectURI: testRedirect, ClientName: "skylinks"}.ClientMetadata()

	assert.Equal(testClientID, meta.ClientID)
	assert.Equal([]string{testRedirect}, meta.RedirectURIs)
	assert.Equal(DefaultScope, meta.Scope)
	assert.Equal("none", meta.TokenEndpointAuthMethod)
	assert.True(meta.DPoPBoundAccessTokens)
	assert.Contains(meta.GrantTypes, "refresh_token")
}

func TestIsNonceChallenge(t *testing.T) {
	assert := assert.New(t)
	hdr := http.Header{}

	assert.True(IsNonceChallenge(400, hdr, []byte(`{"error":"use_dpop_nonce"}`)))
	assert.True(IsNonceChallenge(401, hdr, []byte(`{"error":"use_dpop_nonce","message":"x"}`)))
	assert.False(IsNonceChallenge(403, hdr, []byte(`{"error":"use_dpop_nonce"}`)))
	assert.False(IsNonceChallenge(401, hdr, []byte(`{"error":"invalid_token"}`)))
	assert.False(IsNonceChallenge(401, hdr, []byte(`not json`)))

	hdr.Set("WWW-Authenticate", `DPoP error="use_dpop_nonce", error_description="Resource server requires nonce in DPoP proof"`)
	assert.True(IsNonceChallenge(401, hdr, nil))
}
