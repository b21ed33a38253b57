package syntax

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Layout used for every timestamp written to records: UTC with exactly three fractional digits.
const DatetimeLayout = "2006-01-02T15:04:05.000Z"

var (
	ErrInvalidDatetime = errors.New("invalid datetime")

	datetimeRegex = regexp.MustCompile(`^[0-9]{4}-[01][0-9]-[0-3][0-9]T[0-2][0-9]:[0-6][0-9]:[0-6][0-9](\.[0-9]{1,20})?(Z|([+-][0-2][0-9]:[0-5][0-9]))$`)
)

// Formats t in [DatetimeLayout], converting to UTC first.
func FormatDatetime(t time.Time) string {
	return t.UTC().Format(DatetimeLayout)
}

// Parses any timestamp in the RFC-3339/ISO-8601 intersection accepted by atproto. Parsing is looser than [FormatDatetime] output.
func ParseDatetime(raw string) (time.Time, error) {
	if len(raw) > 64 || !datetimeRegex.MatchString(raw) {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDatetime, raw)
	}
	if strings.HasSuffix(raw, "-00:00") {
		return time.Time{}, fmt.Errorf("%w: use +00:00 for UTC", ErrInvalidDatetime)
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %w", ErrInvalidDatetime, err)
	}
	return t, nil
}

// Current time in [DatetimeLayout].
func DatetimeNow() string {
	return FormatDatetime(time.Now())
}
