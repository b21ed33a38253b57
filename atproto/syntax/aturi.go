package syntax

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidATURI = errors.New("invalid AT-URI")

// Reference to a repository, collection or record: "at://<authority>[/<collection>[/<rkey>]]". Query and fragment parts are not supported.
//
// Syntax specification: https://atproto.com/specs/at-uri-scheme
type ATURI string

func ParseATURI(raw string) (ATURI, error) {
	if len(raw) > 8192 {
		return "", fmt.Errorf("%w: too long", ErrInvalidATURI)
	}
	rest, ok := strings.CutPrefix(raw, "at://")
	if !ok {
		return "", fmt.Errorf("%w: missing at:// prefix", ErrInvalidATURI)
	}
	parts := strings.Split(rest, "/")
	if len(parts) > 3 {
		return "", fmt.Errorf("%w: too many path segments", ErrInvalidATURI)
	}
	if _, err := ParseAtIdentifier(parts[0]); err != nil {
		return "", fmt.Errorf("%w: authority: %w", ErrInvalidATURI, err)
	}
	if len(parts) > 1 {
		if _, err := ParseNSID(parts[1]); err != nil {
			return "", fmt.Errorf("%w: collection: %w", ErrInvalidATURI, err)
		}
	}
	if len(parts) > 2 {
		if _, err := ParseRecordKey(parts[2]); err != nil {
			return "", fmt.Errorf("%w: record key: %w", ErrInvalidATURI, err)
		}
	}
	return ATURI(raw), nil
}

// Builds the AT-URI of a record.
func RecordURI(repo DID, collection NSID, rkey RecordKey) ATURI {
	return ATURI(fmt.Sprintf("at://%s/%s/%s", repo, collection, rkey))
}

func (a ATURI) segment(i int) string {
	parts := strings.SplitN(strings.TrimPrefix(string(a), "at://"), "/", 3)
	if i >= len(parts) {
		return ""
	}
	return parts[i]
}

func (a ATURI) Authority() (AtIdentifier, error) {
	return ParseAtIdentifier(a.segment(0))
}

func (a ATURI) Collection() (NSID, error) {
	return ParseNSID(a.segment(1))
}

func (a ATURI) RecordKey() (RecordKey, error) {
	return ParseRecordKey(a.segment(2))
}

func (a ATURI) String() string {
	return string(a)
}
