package jwtsigner

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

const minHMACKeyLen = 32

// Signer signs and verifies bearer tokens with either an HS256 secret or an
// Ed25519 keypair.
type Signer struct {
	method  jwt.SigningMethod
	signKey any
	verify  any
	public  ed25519.PublicKey
	KeyID   string
}

// NewHMAC returns an HS256 signer. The secret must be at least 32 bytes.
func NewHMAC(secret []byte, kid string) (*Signer, error) {
	if len(secret) < minHMACKeyLen {
		return nil, fmt.Errorf("hmac secret must be at least %d bytes", minHMACKeyLen)
	}
	key := append([]byte(nil), secret...)
	return &Signer{method: jwt.SigningMethodHS256, signKey: key, verify: key, KeyID: kid}, nil
}

// NewEd25519FromBase64 creates an EdDSA signer from base64-encoded ed25519
// private key bytes.
func NewEd25519FromBase64(privB64, kid string) (*Signer, error) {
	raw, err := base64.StdEncoding.DecodeString(privB64)
	if err != nil {
		return nil, err
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, errors.New("invalid ed25519 private key size")
	}
	return NewEd25519(ed25519.PrivateKey(raw), kid), nil
}

func NewEd25519(priv ed25519.PrivateKey, kid string) *Signer {
	pub := priv.Public().(ed25519.PublicKey)
	return &Signer{method: jwt.SigningMethodEdDSA, signKey: priv, verify: pub, public: pub, KeyID: kid}
}

func (s *Signer) Alg() string { return s.method.Alg() }

// Sign serializes claims and stamps the kid header.
func (s *Signer) Sign(claims jwt.Claims) (string, error) {
	t := jwt.NewWithClaims(s.method, claims)
	if s.KeyID != "" {
		t.Header["kid"] = s.KeyID
	}
	return t.SignedString(s.signKey)
}

// Keyfunc hands the verification key to jwt.Parse. The algorithm itself is
// pinned by the parser via jwt.WithValidMethods.
func (s *Signer) Keyfunc(*jwt.Token) (any, error) {
	return s.verify, nil
}

// PublicJWK renders the public part as JWK for the JWKS endpoint. Symmetric
// signers have nothing to publish.
func (s *Signer) PublicJWK() (map[string]any, bool) {
	if s.public == nil {
		return nil, false
	}
	return map[string]any{
		"kty": "OKP",
		"crv": "Ed25519",
		"alg": "EdDSA",
		"use": "sig",
		"kid": s.KeyID,
		"x":   base64.RawURLEncoding.EncodeToString(s.public),
	}, true
}
