package syntax

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	ErrInvalidNSID = errors.New("invalid NSID")

	nsidRegex = regexp.MustCompile(`^[a-zA-Z]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)+(\.[a-zA-Z]([a-zA-Z]{0,61}[a-zA-Z])?)$`)
)

// Namespaced identifier naming a record collection or XRPC method, such as "app.skylinks.link".
//
// Syntax specification: https://atproto.com/specs/nsid
type NSID string

func ParseNSID(raw string) (NSID, error) {
	if raw == "" {
		return "", fmt.Errorf("%w: empty string", ErrInvalidNSID)
	}
	if len(raw) > 317 {
		return "", fmt.Errorf("%w: too long (317 chars max)", ErrInvalidNSID)
	}
	if !nsidRegex.MatchString(raw) {
		return "", fmt.Errorf("%w: %q", ErrInvalidNSID, raw)
	}
	return NSID(raw), nil
}

// Final segment, eg "link" for "app.skylinks.link".
func (n NSID) Name() string {
	idx := strings.LastIndexByte(string(n), '.')
	return string(n)[idx+1:]
}

func (n NSID) String() string {
	return string(n)
}

func (n NSID) MarshalText() ([]byte, error) {
	return []byte(n), nil
}

func (n *NSID) UnmarshalText(text []byte) error {
	nsid, err := ParseNSID(string(text))
	if err != nil {
		return err
	}
	*n = nsid
	return nil
}
