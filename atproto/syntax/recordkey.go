package syntax

import (
	"errors"
	"fmt"
	"regexp"
)

var (
	ErrInvalidRecordKey = errors.New("invalid record key")

	recordKeyRegex = regexp.MustCompile(`^[a-zA-Z0-9_~.:-]{1,512}$`)
)

// Key of a record within a collection. New records created by this module always use a [TID].
type RecordKey string

func ParseRecordKey(raw string) (RecordKey, error) {
	if raw == "." || raw == ".." {
		return "", fmt.Errorf("%w: %q is reserved", ErrInvalidRecordKey, raw)
	}
	if !recordKeyRegex.MatchString(raw) {
		return "", fmt.Errorf("%w: %q", ErrInvalidRecordKey, raw)
	}
	return RecordKey(raw), nil
}

func (r RecordKey) String() string {
	return string(r)
}
