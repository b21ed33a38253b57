package links

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/skylinks/skylinks/atproto/syntax"
)

func createdAt(t time.Time) string {
	if t.IsZero() {
		return syntax.DatetimeNow()
	}
	return syntax.FormatDatetime(t)
}

func setString(m map[string]any, key, val string) {
	if val != "" {
		m[key] = val
	}
}

func setList(m map[string]any, key string, val []string) {
	if len(val) > 0 {
		m[key] = val
	}
}

func checkType(raw map[string]any, nsid syntax.NSID) error {
	if raw == nil {
		return fmt.Errorf("%w: empty record", ErrInvalidRecord)
	}
	if t := getString(raw, "$type"); t != nsid.String() {
		return fmt.Errorf("%w: expected $type %s, got %q", ErrInvalidRecord, nsid, t)
	}
	return nil
}

func getString(raw map[string]any, key string) string {
	s, _ := raw[key].(string)
	return s
}

// Accepts []string (records built in-process) and []any (records decoded from JSON).
func getList(raw map[string]any, key string) []string {
	switch v := raw[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out
	}
	return nil
}

func getInt(raw map[string]any, key string) (int64, error) {
	switch v := raw[key].(type) {
	case nil:
		return 0, nil
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, fmt.Errorf("%w: %s: %w", ErrInvalidRecord, key, err)
		}
		return n, nil
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("%w: %s is not an integer", ErrInvalidRecord, key)
		}
		return int64(v), nil
	default:
		return 0, fmt.Errorf("%w: %s has type %T", ErrInvalidRecord, key, v)
	}
}

func getDatetime(raw map[string]any) (time.Time, error) {
	s := getString(raw, "createdAt")
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: missing createdAt", ErrInvalidRecord)
	}
	t, err := syntax.ParseDatetime(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}
	return t, nil
}
