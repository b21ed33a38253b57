package identity

import (
	"fmt"
	"strings"

	"github.com/skylinks/skylinks/atproto/syntax"
)

type DIDDocument struct {
	DID                syntax.DID              `json:"id"`
	AlsoKnownAs        []string                `json:"alsoKnownAs,omitempty"`
	VerificationMethod []DocVerificationMethod `json:"verificationMethod,omitempty"`
	Service            []DocService            `json:"service,omitempty"`
}

type DocVerificationMethod struct {
	ID                 string `json:"id"`
	Type               string `json:"type"`
	Controller         string `json:"controller"`
	PublicKeyMultibase string `json:"publicKeyMultibase"`
}

type DocService struct {
	ID              string `json:"id"`
	Type            string `json:"type"`
	ServiceEndpoint string `json:"serviceEndpoint"`
}

// Endpoint of the service with id "#atproto_pds" (or fully qualified "{did}#atproto_pds").
func (d *DIDDocument) PDSEndpoint() (string, error) {
	for _, svc := range d.Service {
		if svc.ID != "#atproto_pds" && svc.ID != d.DID.String()+"#atproto_pds" {
			continue
		}
		if svc.ServiceEndpoint == "" {
			break
		}
		return strings.TrimRight(svc.ServiceEndpoint, "/"), nil
	}
	return "", fmt.Errorf("%w: %s", ErrPDSNotFound, d.DID)
}

// First syntactically valid "at://" handle in alsoKnownAs, normalized. Returns empty string if none.
func (d *DIDDocument) DeclaredHandle() syntax.Handle {
	for _, aka := range d.AlsoKnownAs {
		raw, ok := strings.CutPrefix(aka, "at://")
		if !ok {
			continue
		}
		h, err := syntax.ParseHandle(raw)
		if err != nil {
			continue
		}
		return h.Normalize()
	}
	return ""
}
