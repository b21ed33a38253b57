package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"

	"github.com/skylinks/skylinks/atproto/syntax"
	"github.com/skylinks/skylinks/pkg/httpclient"
)

var errDecode = errors.New("malformed JSON response")

// Network implementation of [Directory]. Use [DefaultResolver] or [NewResolver]; the zero value is not usable.
type Resolver struct {
	HTTPClient *http.Client

	// Base URL of the PLC directory, with no trailing slash.
	PLCURL string

	// Service answering com.atproto.identity.resolveHandle.
	HandleResolverURL string

	// If not nil, waited on before every PLC directory request.
	PLCLimiter *rate.Limiter

	// Scheme used for did:web fetches. Only tests should change this.
	WebScheme string

	Logger *slog.Logger

	cache *expirable.LRU[string, Identity]
}

var _ Directory = (*Resolver)(nil)

// Creates a resolver with the given client and a cache of successful lookups. A cacheTTL of zero disables caching.
func NewResolver(client *http.Client, cacheSize int, cacheTTL time.Duration) *Resolver {
	r := Resolver{
		HTTPClient:        client,
		PLCURL:            DefaultPLCURL,
		HandleResolverURL: DefaultHandleResolverURL,
		WebScheme:         "https",
		Logger:            slog.Default().With("component", "identity"),
	}
	if cacheTTL > 0 {
		r.cache = expirable.NewLRU[string, Identity](cacheSize, nil, cacheTTL)
	}
	return &r
}

// 10 second timeout, public-only dialing, and a 24 hour cache.
func DefaultResolver() *Resolver {
	return NewResolver(httpclient.NewDiscovery(httpclient.WithPublicOnly()), 10_000, 24*time.Hour)
}

func (r *Resolver) ResolveIdentity(ctx context.Context, handleOrDID string) (*Identity, error) {
	atid, err := syntax.ParseAtIdentifier(handleOrDID)
	if err != nil {
		return nil, err
	}
	key := atid.String()

	if r.cache != nil {
		if ident, ok := r.cache.Get(key); ok {
			identityCacheResult.WithLabelValues("hit").Inc()
			return &ident, nil
		}
		identityCacheResult.WithLabelValues("miss").Inc()
	}

	var did syntax.DID
	handle, isHandle := atid.AsHandle()
	if isHandle {
		did, err = r.ResolveHandle(ctx, handle)
		if err != nil {
			return nil, err
		}
	} else {
		did, _ = atid.AsDID()
	}

	doc, err := r.ResolveDID(ctx, did)
	if err != nil {
		return nil, err
	}
	pds, err := doc.PDSEndpoint()
	if err != nil {
		return nil, err
	}

	if !isHandle {
		handle = doc.DeclaredHandle()
	} else if declared := doc.DeclaredHandle(); declared != handle {
		r.Logger.Warn("handle not declared in DID document", "handle", handle, "did", did, "declared", declared)
	}

	ident := Identity{
		DID:         did,
		Handle:      handle,
		PDSEndpoint: pds,
	}
	if r.cache != nil {
		r.cache.Add(key, ident)
	}
	return &ident, nil
}

// Resolves a handle to a DID via the configured handle resolver service.
func (r *Resolver) ResolveHandle(ctx context.Context, handle syntax.Handle) (syntax.DID, error) {
	start := time.Now()
	did, err := r.resolveHandle(ctx, handle)
	handleResolution.WithLabelValues(statusLabel(err)).Inc()
	resolutionDuration.WithLabelValues("handle").Observe(time.Since(start).Seconds())
	return did, err
}

func (r *Resolver) resolveHandle(ctx context.Context, handle syntax.Handle) (syntax.DID, error) {
	u := strings.TrimRight(r.HandleResolverURL, "/") + "/xrpc/com.atproto.identity.resolveHandle?handle=" + url.QueryEscape(handle.Normalize().String())

	var out struct {
		DID string `json:"did"`
	}
	if err := r.fetchJSON(ctx, u, &out); err != nil {
		var herr *HTTPError
		if errors.As(err, &herr) && (herr.StatusCode == http.StatusNotFound || herr.StatusCode == http.StatusBadRequest) {
			return "", fmt.Errorf("%w: %s: %w", ErrHandleNotFound, handle, err)
		}
		return "", fmt.Errorf("resolving handle %s: %w", handle, err)
	}

	did, err := syntax.ParseDID(out.DID)
	if err != nil {
		return "", fmt.Errorf("resolving handle %s: %w", handle, err)
	}
	return did, nil
}

// Fetches the DID document for a did:plc or did:web identifier.
func (r *Resolver) ResolveDID(ctx context.Context, did syntax.DID) (*DIDDocument, error) {
	start := time.Now()
	doc, err := r.resolveDID(ctx, did)
	didResolution.WithLabelValues(did.Method(), statusLabel(err)).Inc()
	resolutionDuration.WithLabelValues("did").Observe(time.Since(start).Seconds())
	return doc, err
}

func (r *Resolver) resolveDID(ctx context.Context, did syntax.DID) (*DIDDocument, error) {
	var u string
	switch did.Method() {
	case "plc":
		if r.PLCLimiter != nil {
			if err := r.PLCLimiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("waiting for PLC rate limit: %w", err)
			}
		}
		u = strings.TrimRight(r.PLCURL, "/") + "/" + did.String()
	case "web":
		host, err := webHost(did)
		if err != nil {
			return nil, err
		}
		u = r.WebScheme + "://" + host + "/.well-known/did.json"
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDIDMethod, did.Method())
	}

	var doc DIDDocument
	if err := r.fetchJSON(ctx, u, &doc); err != nil {
		var herr *HTTPError
		if errors.As(err, &herr) && herr.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s: %w", ErrDIDNotFound, did, err)
		}
		if errors.Is(err, errDecode) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidDIDDocument, err)
		}
		return nil, fmt.Errorf("resolving %s: %w", did, err)
	}
	if doc.DID == "" || doc.DID != did {
		return nil, fmt.Errorf("%w: document id %q does not match %s", ErrInvalidDIDDocument, doc.DID, did)
	}
	return &doc, nil
}

// did:web identifiers are a hostname, with the port (if any) percent-encoded. Path-based did:web is not supported.
func webHost(did syntax.DID) (string, error) {
	ident := did.Identifier()
	if strings.Contains(ident, ":") {
		return "", fmt.Errorf("%w: path-based did:web not supported: %s", ErrUnsupportedDIDMethod, did)
	}
	host, err := url.PathUnescape(ident)
	if err != nil || host == "" || strings.ContainsAny(host, "/?#@") {
		return "", fmt.Errorf("%w: bad did:web hostname: %s", ErrInvalidDIDDocument, did)
	}
	return host, nil
}

func (r *Resolver) fetchJSON(ctx context.Context, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &HTTPError{URL: u, StatusCode: resp.StatusCode}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %s: %w", errDecode, u, err)
	}
	return nil
}

// Drops a cached identity, by the same handle or DID string used to look it up.
func (r *Resolver) Purge(handleOrDID string) {
	if r.cache == nil {
		return
	}
	if atid, err := syntax.ParseAtIdentifier(handleOrDID); err == nil {
		r.cache.Remove(atid.String())
	}
}
