package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"go.opentelemetry.io/otel"

	"github.com/skylinks/skylinks/atproto/auth/oauth"
	"github.com/skylinks/skylinks/atproto/syntax"
	"github.com/skylinks/skylinks/pkg/httpclient"
)

var tracer = otel.Tracer("skylinks/client")

// Response body size limit.
const maxResponseBody = 4 << 20

// Refreshes a session's tokens in place. Implemented by [oauth.ClientApp].
type Refresher interface {
	RefreshSession(ctx context.Context, sess *oauth.Session) error
}

type Client struct {
	HTTPClient *http.Client

	// Source of record keys for [Client.CreateRecord] calls without an explicit key.
	TIDs *syntax.TIDGenerator

	// Used by [Client.GetSessionFor] and [Client.SaveSession]. May be nil if those are not called.
	Sessions oauth.SessionStore

	// Used by [Client.GetSessionFor] when a session is close to expiry. If nil, sessions are returned as stored.
	Refresher Refresher

	Logger *slog.Logger
}

// Creates a client with a [httpclient.RequestTimeout] HTTP client and a random TID clock ID.
func NewClient(sessions oauth.SessionStore, refresher Refresher) (*Client, error) {
	tids, err := syntax.NewRandomTIDGenerator()
	if err != nil {
		return nil, err
	}
	return &Client{
		HTTPClient: httpclient.New(),
		TIDs:       tids,
		Sessions:   sessions,
		Refresher:  refresher,
		Logger:     slog.Default().With("component", "client"),
	}, nil
}

func (c *Client) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

// Buffered PDS response. Error statuses are not converted to errors at this level.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (r *Response) Success() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Decodes an error response body into an [*APIError] with the given kind.
func (r *Response) APIError(kind error) *APIError {
	ae := &APIError{
		Kind:       kind,
		StatusCode: r.StatusCode,
		Body:       truncateBody(r.Body),
	}
	var eb ErrorBody
	if json.Unmarshal(r.Body, &eb) == nil {
		ae.Name = eb.Name
		ae.Message = eb.Message
	}
	return ae
}

// Sends a DPoP-authenticated request to a PDS. body, if not nil, is sent as JSON.
//
// On a 401 "use_dpop_nonce" challenge the request is sent once more with the nonce from the challenge; a second challenge fails with [ErrNonceRetryExhausted]. Any DPoP-Nonce header in a response is recorded in the returned session, which is a copy: sess itself is not modified. The returned session is non-nil whenever the PDS responded, even alongside an error.
func (c *Client) AuthenticatedRequest(ctx context.Context, sess *oauth.Session, method, url string, body any) (*Response, *oauth.Session, error) {
	if sess == nil || sess.DPoPKey == nil || sess.AccessToken == "" {
		return nil, nil, fmt.Errorf("session missing access token or DPoP key")
	}
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, nil, fmt.Errorf("encoding request body: %w", err)
		}
	}

	out := sess.Clone()
	label := endpointLabel(url)
	for attempt := 0; ; attempt++ {
		resp, err := c.send(ctx, out, method, url, payload)
		if err != nil {
			if attempt > 0 {
				// keep the nonce from the challenge
				return nil, out, err
			}
			return nil, nil, err
		}
		pdsRequests.WithLabelValues(label, strconv.Itoa(resp.StatusCode)).Inc()

		fresh := resp.Header.Get("DPoP-Nonce")
		if fresh != "" {
			out.ResourceServerNonce = fresh
		}

		if resp.StatusCode != http.StatusUnauthorized || !oauth.IsNonceChallenge(resp.StatusCode, resp.Header, resp.Body) {
			return resp, out, nil
		}
		if attempt > 0 {
			c.logger().Warn("repeated DPoP nonce challenge from PDS", "did", sess.DID, "url", url)
			return nil, out, resp.APIError(ErrNonceRetryExhausted)
		}
		if fresh == "" {
			return resp, out, nil
		}
		pdsNonceRetries.WithLabelValues(label).Inc()
		c.logger().Debug("retrying PDS request with new DPoP nonce", "did", sess.DID, "url", url)
	}
}

func (c *Client) send(ctx context.Context, sess *oauth.Session, method, url string, payload []byte) (*Response, error) {
	proof, err := oauth.NewDPoPProofWithAth(sess.DPoPKey, method, url, sess.AccessToken, sess.ResourceServerNonce)
	if err != nil {
		return nil, err
	}

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "DPoP "+sess.AccessToken)
	req.Header.Set("DPoP", proof)

	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %w", ErrTransport, err)
	}
	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       respBody,
	}, nil
}

// Loads the stored session for did, refreshing and re-saving it first if the access token is close to expiry.
func (c *Client) GetSessionFor(ctx context.Context, did syntax.DID) (*oauth.Session, error) {
	if c.Sessions == nil {
		return nil, fmt.Errorf("client has no session store")
	}
	sess, err := c.Sessions.GetSession(ctx, did)
	if err != nil {
		return nil, err
	}
	if c.Refresher == nil || !sess.ShouldRefresh() {
		return sess, nil
	}

	c.logger().Info("refreshing session", "did", did, "expiresAt", sess.ExpiresAt)
	if err := c.Refresher.RefreshSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("refreshing session for %s: %w", did, err)
	}
	if err := c.Sessions.SaveSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("saving refreshed session for %s: %w", did, err)
	}
	return sess, nil
}

func (c *Client) SaveSession(ctx context.Context, sess *oauth.Session) error {
	if c.Sessions == nil {
		return fmt.Errorf("client has no session store")
	}
	return c.Sessions.SaveSession(ctx, sess)
}

func truncateBody(b []byte) string {
	const limit = 2048
	if len(b) > limit {
		return string(b[:limit])
	}
	return string(b)
}
