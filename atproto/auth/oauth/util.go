package oauth

import (
	"crypto/rand"
	"encoding/base64"
)

// URL-safe base64 (no padding) of n random bytes.
func randomToken(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand does not fail on supported platforms
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}

func truncateBody(b []byte) string {
	const max = 2048
	if len(b) > max {
		return string(b[:max])
	}
	return string(b)
}
