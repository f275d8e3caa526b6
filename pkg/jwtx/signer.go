package jwtx

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v3/jwk"
)

// Signer is our interface for anything that can sign JWTs.
type Signer interface {
	Alg() string
	KID() string
	Sign(claims jwt.Claims) (string, error)
	PublicJWK() jwk.Key
}

// signer is the shared implementation across algorithms. The private key
// stays as a raw crypto key for golang-jwt, the public side lives as a
// jwk.Key for JWKS publishing.
type signer struct {
	kid    string
	method jwt.SigningMethod
	priv   any
	pub    jwk.Key
}

func (s *signer) Alg() string { return s.method.Alg() }
func (s *signer) KID() string { return s.kid }

// Sign takes your claims and turns them into a signed JWT string.
func (s *signer) Sign(claims jwt.Claims) (string, error) {
	t := jwt.NewWithClaims(s.method, claims)
	t.Header["kid"] = s.kid
	return t.SignedString(s.priv)
}

func (s *signer) PublicJWK() jwk.Key { return s.pub }

// newSigner wraps a generated private key, deriving the public jwk.Key
// with kid, alg and use set for JWKS output.
func newSigner(kid string, method jwt.SigningMethod, priv, pub any) (*signer, error) {
	key, err := jwk.Import(pub)
	if err != nil {
		return nil, fmt.Errorf("jwtx: import public key: %w", err)
	}
	if err := key.Set(jwk.KeyIDKey, kid); err != nil {
		return nil, err
	}
	if err := key.Set(jwk.AlgorithmKey, method.Alg()); err != nil {
		return nil, err
	}
	if err := key.Set(jwk.KeyUsageKey, "sig"); err != nil {
		return nil, err
	}

	return &signer{kid: kid, method: method, priv: priv, pub: key}, nil
}

// NewEphemeralSignerRS256 generates an in-memory RSA keypair and returns
// an RS256 signer. Bits must be at least 2048.
func NewEphemeralSignerRS256(kid string, bits int) (Signer, error) {
	if bits < 2048 {
		return nil, errors.New("jwtx: RSA key must be at least 2048 bits")
	}
	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("jwtx: generate RSA key: %w", err)
	}
	return newSigner(kid, jwt.SigningMethodRS256, priv, &priv.PublicKey)
}

// NewEphemeralSignerES256 generates an in-memory P-256 keypair and returns
// an ES256 signer.
func NewEphemeralSignerES256(kid string) (Signer, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("jwtx: generate P-256 key: %w", err)
	}
	return newSigner(kid, jwt.SigningMethodES256, priv, &priv.PublicKey)
}

// NewEphemeralSignerEdDSA generates an in-memory Ed25519 keypair and
// returns an EdDSA signer.
func NewEphemeralSignerEdDSA(kid string) (Signer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("jwtx: generate Ed25519 key: %w", err)
	}
	return newSigner(kid, jwt.SigningMethodEdDSA, priv, pub)
}
