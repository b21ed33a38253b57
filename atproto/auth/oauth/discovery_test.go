package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func authServerMetadata(base string) map[string]any {
	return map[string]any{
		"issuer":                                base,
		"authorization_endpoint":                base + "/oauth/authorize",
		"token_endpoint":                        base + "/oauth/token",
		"pushed_authorization_request_endpoint": base + "/oauth/par",
		"dpop_signing_alg_values_supported":     []string{"ES256"},
	}
}

func TestProtectedResourceAuthServers(t *testing.T) {
	assert := assert.New(t)

	for body, expected := range map[string]string{
		`{"authorization_servers": ["https://auth.example.com/", "https://other.example.com"]}`: "https://auth.example.com",
		`{"authorization_servers": "https://auth.example.com"}`:                                 "https://fallback.example.com",
		`{"authorization_servers": []}`:                                                         "https://fallback.example.com",
		`{"authorization_servers": null}`:                                                       "https://fallback.example.com",
		`{"resource": "https://pds.example.com"}`:                                               "https://fallback.example.com",
	} {
		var meta ProtectedResourceMetadata
		require.NoError(t, json.Unmarshal([]byte(body), &meta))
		assert.Equal(expected, meta.AuthServer("https://fallback.example.com"), body)
	}
}

func TestAuthServerMetadataValidate(t *testing.T) {
	assert := assert.New(t)

	full := AuthServerMetadata{
		Issuer:                             "https://a.example",
		AuthorizationEndpoint:              "https://a.example/oauth/authorize",
		TokenEndpoint:                      "https://a.example/oauth/token",
		PushedAuthorizationRequestEndpoint: "https://a.example/oauth/par",
	}
	assert.NoError(full.Validate())

	for _, mutate := range []func(*AuthServerMetadata){
		func(m *AuthServerMetadata) { m.Issuer = "" },
		func(m *AuthServerMetadata) { m.AuthorizationEndpoint = "" },
		func(m *AuthServerMetadata) { m.TokenEndpoint = "" },
		func(m *AuthServerMetadata) { m.PushedAuthorizationRequestEndpoint = "" },
	} {
		m := full
		mutate(&m)
		assert.ErrorIs(m.Validate(), ErrInvalidAuthServerMetadata)
	}
}

func TestDiscoverAuthServer(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	var metaCalls atomic.Int64
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/.well-known/oauth-protected-resource", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"resource": srv.URL, "authorization_servers": []string{srv.URL}})
	})
	mux.HandleFunc("/.well-known/oauth-authorization-server", func(w http.ResponseWriter, r *http.Request) {
		metaCalls.Add(1)
		json.NewEncoder(w).Encode(authServerMetadata(srv.URL))
	})

	r := NewResolver(srv.Client())
	info, err := r.DiscoverAuthServer(ctx, srv.URL+"/")
	require.NoError(t, err)
	assert.Equal(srv.URL, info.AuthServerURL)
	assert.Equal(srv.URL+"/oauth/par", info.Auth.PushedAuthorizationRequestEndpoint)
	assert.Equal(srv.URL+"/oauth/token", info.Auth.TokenEndpoint)

	// metadata is cached
	_, err = r.DiscoverAuthServer(ctx, srv.URL)
	require.NoError(t, err)
	assert.Equal(int64(1), metaCalls.Load())
}

func TestDiscoverAuthServerDefault(t *testing.T) {
	ctx := context.Background()

	auth := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(authServerMetadata("https://issuer.example"))
	}))
	defer auth.Close()
	pds := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"authorization_servers": "https://ignored.example"}`))
	}))
	defer pds.Close()

	r := NewResolver(http.DefaultClient)
	r.DefaultAuthServer = auth.URL
	info, err := r.DiscoverAuthServer(ctx, pds.URL)
	require.NoError(t, err)
	assert.Equal(t, auth.URL, info.AuthServerURL)
	assert.Equal(t, "https://issuer.example", info.Auth.Issuer)
}

func TestDiscoveryErrors(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing/.well-known/oauth-protected-resource":
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte("nope"))
		case "/partial/.well-known/oauth-authorization-server":
			w.Write([]byte(`{"issuer": "https://x.example", "token_endpoint": "https://x.example/t"}`))
		case "/garbage/.well-known/oauth-protected-resource":
			w.Write([]byte(`<html>`))
		}
	}))
	defer srv.Close()
	r := NewResolver(srv.Client())

	_, err := r.ResolveProtectedResource(ctx, srv.URL+"/missing")
	assert.ErrorIs(err, ErrDiscoveryFailed)
	var herr *HTTPError
	require.True(t, errors.As(err, &herr))
	assert.Equal(http.StatusNotFound, herr.StatusCode)
	assert.Equal("nope", herr.Body)

	_, err = r.ResolveAuthServerMetadata(ctx, srv.URL+"/partial")
	assert.ErrorIs(err, ErrDiscoveryFailed)
	assert.ErrorIs(err, ErrInvalidAuthServerMetadata)

	_, err = r.ResolveProtectedResource(ctx, srv.URL+"/garbage")
	assert.ErrorIs(err, ErrDiscoveryFailed)
	assert.NotErrorIs(err, ErrTransport)

	srv.Close()
	_, err = r.ResolveProtectedResource(ctx, srv.URL)
	assert.ErrorIs(err, ErrDiscoveryFailed)
	assert.ErrorIs(err, ErrTransport)
}
