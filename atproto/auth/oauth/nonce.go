package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Response body size limit for OAuth and XRPC responses.
const maxResponseBody = 4 << 20

// Reports whether a response is a DPoP nonce challenge: HTTP 400 or 401 with error "use_dpop_nonce" in either the JSON body or the WWW-Authenticate header.
func IsNonceChallenge(statusCode int, header http.Header, body []byte) bool {
	if statusCode != http.StatusBadRequest && statusCode != http.StatusUnauthorized {
		return false
	}
	if strings.Contains(header.Get("WWW-Authenticate"), `error="use_dpop_nonce"`) {
		return true
	}
	var errResp ErrorResponse
	if json.Unmarshal(body, &errResp) == nil && errResp.Error == "use_dpop_nonce" {
		return true
	}
	return false
}

// Buffered response from an authorization-server endpoint.
type formResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte

	// Latest nonce: the one from the response headers, or the one the request was sent with.
	Nonce string
}

func (r *formResponse) httpError(kind error, u string) *HTTPError {
	e := &HTTPError{
		Kind:       kind,
		URL:        u,
		StatusCode: r.StatusCode,
		Body:       truncateBody(r.Body),
	}
	var errResp ErrorResponse
	if json.Unmarshal(r.Body, &errResp) == nil {
		e.ErrorCode = errResp.Error
		e.Description = errResp.Description
	}
	return e
}

// POSTs a form to an authorization-server endpoint with a DPoP proof. On a nonce challenge the request is sent once more with the new nonce; a second challenge fails with [ErrNonceRetryExhausted]. Other error statuses are returned to the caller un-interpreted.
func postFormDPoP(ctx context.Context, client *http.Client, logger *slog.Logger, op string, kind error, endpoint string, form url.Values, key *DPoPKey, nonce string) (*formResponse, error) {
	body := []byte(form.Encode())

	for attempt := 0; ; attempt++ {
		proof, err := NewDPoPProof(key, http.MethodPost, endpoint, nonce)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", kind, err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", kind, err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Accept", "application/json")
		req.Header.Set("DPoP", proof)

		resp, err := client.Do(req)
		if err != nil {
			oauthRequests.WithLabelValues(op, "transport").Inc()
			return nil, fmt.Errorf("%w: %w: %w", kind, ErrTransport, err)
		}
		respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("%w: %w: %w", kind, ErrTransport, err)
		}
		oauthRequests.WithLabelValues(op, strconv.Itoa(resp.StatusCode)).Inc()

		fresh := resp.Header.Get("DPoP-Nonce")
		if fresh != "" {
			nonce = fresh
		}
		out := &formResponse{
			StatusCode: resp.StatusCode,
			Header:     resp.Header,
			Body:       respBody,
			Nonce:      nonce,
		}

		if !IsNonceChallenge(resp.StatusCode, resp.Header, respBody) {
			return out, nil
		}
		if attempt > 0 {
			logger.Warn("repeated DPoP nonce challenge", "op", op, "url", endpoint)
			return nil, fmt.Errorf("%w: %w", ErrNonceRetryExhausted, out.httpError(kind, endpoint))
		}
		if fresh == "" {
			// challenge without a nonce to retry with
			return nil, out.httpError(kind, endpoint)
		}
		dpopNonceRetries.WithLabelValues(op).Inc()
		logger.Debug("retrying with DPoP nonce", "op", op, "url", endpoint)
	}
}
