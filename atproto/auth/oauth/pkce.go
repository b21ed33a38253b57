package oauth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
)

// A PKCE verifier and its S256 challenge.
type PKCE struct {
	Verifier  string
	Challenge string
	Method    string
}

// 32 random bytes as unpadded URL-safe base64 (43 characters).
func GenerateVerifier() string {
	return randomToken(32)
}

// Unpadded URL-safe base64 of the SHA-256 of the verifier.
func S256CodeChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func GeneratePKCE() PKCE {
	v := GenerateVerifier()
	return PKCE{
		Verifier:  v,
		Challenge: S256CodeChallenge(v),
		Method:    "S256",
	}
}

func VerifyPKCE(verifier, challenge string) bool {
	return subtle.ConstantTimeCompare([]byte(S256CodeChallenge(verifier)), []byte(challenge)) == 1
}
