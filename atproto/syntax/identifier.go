package syntax

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	ErrInvalidDID    = errors.New("invalid DID")
	ErrInvalidHandle = errors.New("invalid handle")

	didRegex    = regexp.MustCompile(`^did:[a-z]+:[a-zA-Z0-9._:%-]*[a-zA-Z0-9._-]$`)
	handleRegex = regexp.MustCompile(`^([a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?\.)+[a-zA-Z]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?$`)
)

// A syntactically valid DID, such as "did:plc:ewvi7nxzyoun6zhxrhs64oiz".
//
// Syntax specification: https://atproto.com/specs/did
type DID string

func ParseDID(raw string) (DID, error) {
	if raw == "" {
		return "", fmt.Errorf("%w: empty string", ErrInvalidDID)
	}
	if len(raw) > 2048 {
		return "", fmt.Errorf("%w: too long (2048 chars max)", ErrInvalidDID)
	}
	if !didRegex.MatchString(raw) {
		return "", fmt.Errorf("%w: %q", ErrInvalidDID, raw)
	}
	return DID(raw), nil
}

// Method segment, eg "plc" or "web".
func (d DID) Method() string {
	parts := strings.SplitN(string(d), ":", 3)
	if len(parts) < 3 {
		return ""
	}
	return parts[1]
}

// Method-specific identifier segment. For did:web this is the domain.
func (d DID) Identifier() string {
	parts := strings.SplitN(string(d), ":", 3)
	if len(parts) < 3 {
		return ""
	}
	return parts[2]
}

func (d DID) AtIdentifier() AtIdentifier {
	return AtIdentifier{did: d}
}

func (d DID) String() string {
	return string(d)
}

func (d DID) MarshalText() ([]byte, error) {
	return []byte(d), nil
}

func (d *DID) UnmarshalText(text []byte) error {
	did, err := ParseDID(string(text))
	if err != nil {
		return err
	}
	*d = did
	return nil
}

// A syntactically valid handle (a DNS hostname), such as "alice.bsky.social".
//
// Syntax specification: https://atproto.com/specs/handle
type Handle string

func ParseHandle(raw string) (Handle, error) {
	if raw == "" {
		return "", fmt.Errorf("%w: empty string", ErrInvalidHandle)
	}
	if len(raw) > 253 {
		return "", fmt.Errorf("%w: too long (253 chars max)", ErrInvalidHandle)
	}
	if !handleRegex.MatchString(raw) {
		return "", fmt.Errorf("%w: %q", ErrInvalidHandle, raw)
	}
	return Handle(raw), nil
}

// Handles are case-insensitive; the lower-case form is canonical.
func (h Handle) Normalize() Handle {
	return Handle(strings.ToLower(string(h)))
}

func (h Handle) AtIdentifier() AtIdentifier {
	return AtIdentifier{handle: h}
}

func (h Handle) String() string {
	return string(h)
}

func (h Handle) MarshalText() ([]byte, error) {
	return []byte(h), nil
}

func (h *Handle) UnmarshalText(text []byte) error {
	handle, err := ParseHandle(string(text))
	if err != nil {
		return err
	}
	*h = handle
	return nil
}

// Either a DID or a handle. Login input and AT-URI authorities use this form.
type AtIdentifier struct {
	did    DID
	handle Handle
}

// Parses a DID or handle. A leading "@" on handles is tolerated, since users tend to type it.
func ParseAtIdentifier(raw string) (AtIdentifier, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "did:") {
		did, err := ParseDID(raw)
		if err != nil {
			return AtIdentifier{}, err
		}
		return did.AtIdentifier(), nil
	}
	handle, err := ParseHandle(strings.TrimPrefix(raw, "@"))
	if err != nil {
		return AtIdentifier{}, err
	}
	return handle.Normalize().AtIdentifier(), nil
}

func (a AtIdentifier) IsDID() bool {
	return a.did != ""
}

func (a AtIdentifier) IsHandle() bool {
	return a.handle != ""
}

func (a AtIdentifier) AsDID() (DID, bool) {
	return a.did, a.did != ""
}

func (a AtIdentifier) AsHandle() (Handle, bool) {
	return a.handle, a.handle != ""
}

func (a AtIdentifier) String() string {
	if a.did != "" {
		return a.did.String()
	}
	return a.handle.String()
}
