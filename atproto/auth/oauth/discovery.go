package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/skylinks/skylinks/pkg/httpclient"
)

// Used when a PDS does not list its authorization servers as an array.
const DefaultAuthServer = "https://bsky.social"

// Fetches protected-resource and authorization-server metadata. No retries.
type Resolver struct {
	HTTPClient        *http.Client
	DefaultAuthServer string

	authCache *expirable.LRU[string, AuthServerMetadata]
}

// Result of [Resolver.DiscoverAuthServer].
type ServerInfo struct {
	Resource      ProtectedResourceMetadata
	AuthServerURL string
	Auth          AuthServerMetadata
}

func NewResolver(client *http.Client) *Resolver {
	return &Resolver{
		HTTPClient:        client,
		DefaultAuthServer: DefaultAuthServer,
		authCache:         expirable.NewLRU[string, AuthServerMetadata](1000, nil, 10*time.Minute),
	}
}

// 10 second timeout and public-only dialing.
func DefaultResolver() *Resolver {
	return NewResolver(httpclient.NewDiscovery(httpclient.WithPublicOnly()))
}

func (r *Resolver) ResolveProtectedResource(ctx context.Context, pdsURL string) (*ProtectedResourceMetadata, error) {
	u := strings.TrimRight(pdsURL, "/") + "/.well-known/oauth-protected-resource"
	var meta ProtectedResourceMetadata
	if err := r.getJSON(ctx, u, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

func (r *Resolver) ResolveAuthServerMetadata(ctx context.Context, authServerURL string) (*AuthServerMetadata, error) {
	authServerURL = strings.TrimRight(authServerURL, "/")
	if r.authCache != nil {
		if meta, ok := r.authCache.Get(authServerURL); ok {
			return &meta, nil
		}
	}

	var meta AuthServerMetadata
	if err := r.getJSON(ctx, authServerURL+"/.well-known/oauth-authorization-server", &meta); err != nil {
		return nil, err
	}
	if err := meta.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDiscoveryFailed, authServerURL, err)
	}

	if r.authCache != nil {
		r.authCache.Add(authServerURL, meta)
	}
	return &meta, nil
}

// Finds the authorization server for a PDS and fetches its metadata.
func (r *Resolver) DiscoverAuthServer(ctx context.Context, pdsURL string) (*ServerInfo, error) {
	res, err := r.ResolveProtectedResource(ctx, pdsURL)
	if err != nil {
		return nil, err
	}
	fallback := r.DefaultAuthServer
	if fallback == "" {
		fallback = DefaultAuthServer
	}
	authURL := res.AuthServer(fallback)

	meta, err := r.ResolveAuthServerMetadata(ctx, authURL)
	if err != nil {
		return nil, err
	}
	return &ServerInfo{
		Resource:      *res,
		AuthServerURL: authURL,
		Auth:          *meta,
	}, nil
}

func (r *Resolver) getJSON(ctx context.Context, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDiscoveryFailed, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w: %w", ErrDiscoveryFailed, ErrTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: %w: %w", ErrDiscoveryFailed, ErrTransport, err)
	}
	if resp.StatusCode != http.StatusOK {
		return &HTTPError{Kind: ErrDiscoveryFailed, URL: u, StatusCode: resp.StatusCode, Body: truncateBody(body)}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: decoding %s: %w", ErrDiscoveryFailed, u, err)
	}
	return nil
}
