// Package httpclient builds the outbound HTTP clients used for identity resolution, OAuth and PDS requests.
//
// Clients use a pooled transport and are instrumented with OpenTelemetry. There is no retry layer: the only retry in this system is the DPoP nonce rotation handled by the oauth and client packages.
package httpclient

import (
	"net/http"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/skylinks/skylinks/util/ssrf"
)

const (
	// Timeout for DID, handle and OAuth metadata fetches.
	DiscoveryTimeout = 10 * time.Second

	// Timeout for PAR, token and PDS XRPC requests.
	RequestTimeout = 15 * time.Second
)

type options struct {
	timeout    time.Duration
	publicOnly bool
	transport  http.RoundTripper
}

type Option func(*options)

// WithTimeout overrides the overall request timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

// WithPublicOnly refuses connections to private and reserved IP ranges, and to ports other than 80/443.
func WithPublicOnly() Option {
	return func(o *options) {
		o.publicOnly = true
	}
}

// WithTransport replaces the base transport (it is still wrapped for tracing).
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) {
		o.transport = rt
	}
}

// New returns a client with [RequestTimeout] unless overridden.
func New(opts ...Option) *http.Client {
	o := options{timeout: RequestTimeout}
	for _, opt := range opts {
		opt(&o)
	}

	base := o.transport
	if base == nil {
		t := cleanhttp.DefaultPooledTransport()
		if o.publicOnly {
			t.DialContext = ssrf.PublicOnlyDialer().DialContext
		}
		base = t
	}

	return &http.Client{
		Timeout:   o.timeout,
		Transport: otelhttp.NewTransport(base),
	}
}

// NewDiscovery returns a client with [DiscoveryTimeout].
func NewDiscovery(opts ...Option) *http.Client {
	return New(append([]Option{WithTimeout(DiscoveryTimeout)}, opts...)...)
}
