package oauth

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// Lifetime of a DPoP proof (exp - iat).
const DPoPProofTTL = 300 * time.Second

// P-256 key pair used to bind tokens to this client. One key is generated per login and kept for the lifetime of the resulting session.
//
// Serializes to and from a private JWK JSON object.
type DPoPKey struct {
	priv *ecdsa.PrivateKey
	pub  jwk.Key
}

func GenerateDPoPKey() (*DPoPKey, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating DPoP key: %w", err)
	}
	return NewDPoPKey(priv)
}

func NewDPoPKey(priv *ecdsa.PrivateKey) (*DPoPKey, error) {
	if priv == nil || priv.Curve != elliptic.P256() {
		return nil, fmt.Errorf("DPoP key must be P-256")
	}
	pub, err := jwk.FromRaw(&priv.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("building DPoP public JWK: %w", err)
	}
	return &DPoPKey{priv: priv, pub: pub}, nil
}

// Public half as a JWK (kty=EC, crv=P-256, x, y), as embedded in proof headers.
func (k *DPoPKey) PublicJWK() jwk.Key {
	return k.pub
}

func (k *DPoPKey) PublicKey() *ecdsa.PublicKey {
	return &k.priv.PublicKey
}

func (k *DPoPKey) MarshalJSON() ([]byte, error) {
	priv, err := jwk.FromRaw(k.priv)
	if err != nil {
		return nil, err
	}
	return json.Marshal(priv)
}

func (k *DPoPKey) UnmarshalJSON(b []byte) error {
	parsed, err := ParseDPoPKey(b)
	if err != nil {
		return err
	}
	*k = *parsed
	return nil
}

// Parses the private JWK JSON produced by marshaling a [DPoPKey].
func ParseDPoPKey(b []byte) (*DPoPKey, error) {
	key, err := jwk.ParseKey(b)
	if err != nil {
		return nil, fmt.Errorf("parsing DPoP key JWK: %w", err)
	}
	var priv ecdsa.PrivateKey
	if err := key.Raw(&priv); err != nil {
		return nil, fmt.Errorf("DPoP key JWK is not an EC private key: %w", err)
	}
	return NewDPoPKey(&priv)
}

type dpopClaims struct {
	jwt.RegisteredClaims

	HTTPMethod      string `json:"htm"`
	TargetURI       string `json:"htu"`
	Nonce           string `json:"nonce,omitempty"`
	AccessTokenHash string `json:"ath,omitempty"`
}

// Proof for authorization-server requests (PAR, token). Pass an empty nonce if none has been issued yet.
func NewDPoPProof(key *DPoPKey, method, targetURL, nonce string) (string, error) {
	return newDPoPProof(key, method, targetURL, nonce, "", time.Now())
}

// Proof for resource-server (PDS) requests, carrying the hash of the access token it accompanies.
func NewDPoPProofWithAth(key *DPoPKey, method, targetURL, accessToken, nonce string) (string, error) {
	sum := sha256.Sum256([]byte(accessToken))
	return newDPoPProof(key, method, targetURL, nonce, base64.RawURLEncoding.EncodeToString(sum[:]), time.Now())
}

func newDPoPProof(key *DPoPKey, method, targetURL, nonce, ath string, now time.Time) (string, error) {
	if key == nil {
		return "", fmt.Errorf("missing DPoP key")
	}
	now = now.Truncate(time.Second)
	claims := dpopClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        randomToken(16),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(DPoPProofTTL)),
		},
		HTTPMethod:      strings.ToUpper(method),
		TargetURI:       stripQueryFragment(targetURL),
		Nonce:           nonce,
		AccessTokenHash: ath,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["typ"] = "dpop+jwt"
	token.Header["jwk"] = key.pub
	return token.SignedString(key.priv)
}

func stripQueryFragment(u string) string {
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		return u[:i]
	}
	return u
}
