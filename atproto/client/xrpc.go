package client

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/skylinks/skylinks/atproto/syntax"
)

var (
	// atproto API "Query" Lexicon method, which is HTTP GET.
	MethodQuery = http.MethodGet

	// atproto API "Procedure" Lexicon method, which is HTTP POST.
	MethodProcedure = http.MethodPost
)

const (
	CreateRecordNSID = syntax.NSID("com.atproto.repo.createRecord")
	GetRecordNSID    = syntax.NSID("com.atproto.repo.getRecord")
	ListRecordsNSID  = syntax.NSID("com.atproto.repo.listRecords")
	DeleteRecordNSID = syntax.NSID("com.atproto.repo.deleteRecord")
)

// Builds the URL of an XRPC endpoint on host. host should be a URL prefix: scheme, hostname, and optional port.
func XRPCURL(host string, endpoint syntax.NSID, params url.Values) (string, error) {
	u, err := url.Parse(strings.TrimRight(host, "/"))
	if err != nil {
		return "", err
	}
	if u.Host == "" {
		return "", fmt.Errorf("empty hostname in host URL")
	}
	if u.Scheme == "" {
		return "", fmt.Errorf("empty scheme in host URL")
	}
	if endpoint == "" {
		return "", fmt.Errorf("empty request endpoint")
	}
	u.Path = "/xrpc/" + endpoint.String()
	u.RawQuery = ""
	if len(params) > 0 {
		u.RawQuery = params.Encode()
	}
	return u.String(), nil
}

// Last path segment of an XRPC URL, for metric labels. Falls back to "other".
func endpointLabel(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "other"
	}
	name, ok := strings.CutPrefix(u.Path, "/xrpc/")
	if !ok || name == "" {
		return "other"
	}
	return name
}
