package links

import (
	"github.com/rivo/uniseg"
)

const ellipsis = "..."

// Shortens s to at most maxBytes bytes. Strings that fit are returned unchanged; otherwise the longest run of whole grapheme clusters fitting in maxBytes-3 bytes is kept and "..." appended.
func Truncate(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	if maxBytes <= len(ellipsis) {
		return ellipsis[:max(maxBytes, 0)]
	}
	limit := maxBytes - len(ellipsis)

	cut := 0
	gr := uniseg.NewGraphemes(s)
	for gr.Next() {
		n := len(gr.Str())
		if cut+n > limit {
			break
		}
		cut += n
	}
	return s[:cut] + ellipsis
}

// First n non-empty entries of list, or nil if there are none.
func capList(list []string, n int) []string {
	var out []string
	for _, s := range list {
		if s == "" {
			continue
		}
		if len(out) == n {
			break
		}
		out = append(out, s)
	}
	return out
}
