package dpop

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v3/jwk"

	"github.com/veridian-id/veridian/internal/auth/cache"
)

// proofTTL bounds how long a proof jti is remembered for replay detection.
// It only needs to cover the iat acceptance window.
const proofTTL = 5 * time.Minute

// Validator is the concrete RFC 9449 proof validator.
type Validator struct {
	// Cache backs proof-jti replay detection.
	Cache cache.Cache

	// NonceSecret keys the stateless server nonces. Required when
	// RequireNonce is set.
	NonceSecret []byte

	// RequireNonce demands a fresh server nonce on every proof.
	RequireNonce bool

	// MaxProofAge is how far in the past a proof's iat may lie.
	// Defaults to 5 minutes.
	MaxProofAge time.Duration

	// ClockSkew is how far in the future a proof's iat may lie.
	// Defaults to 30 seconds.
	ClockSkew time.Duration

	// NonceTTL is how long an issued nonce stays valid. Defaults to
	// 5 minutes.
	NonceTTL time.Duration

	// Now is the clock; defaults to time.Now. Tests override it.
	Now func() time.Time
}

type proofClaims struct {
	jwt.RegisteredClaims
	HTM   string `json:"htm"`
	HTU   string `json:"htu"`
	Nonce string `json:"nonce,omitempty"`
}

var proofAlgs = []string{
	jwt.SigningMethodRS256.Alg(),
	jwt.SigningMethodRS384.Alg(),
	jwt.SigningMethodRS512.Alg(),
	jwt.SigningMethodES256.Alg(),
	jwt.SigningMethodES384.Alg(),
	jwt.SigningMethodES512.Alg(),
	jwt.SigningMethodEdDSA.Alg(),
}

// ValidateProof checks a DPoP proof against the request facts and returns
// the bound key thumbprint.
func (v *Validator) ValidateProof(ctx context.Context, proof string, req ProofRequest) (*Proof, error) {
	now := time.Now
	if v.Now != nil {
		now = v.Now
	}

	var proofKey jwk.Key

	parser := jwt.NewParser(jwt.WithValidMethods(proofAlgs))
	token, err := parser.ParseWithClaims(proof, &proofClaims{}, func(t *jwt.Token) (any, error) {
		// 1. The proof key travels in the jwk header and must be public.
		rawJWK, ok := t.Header["jwk"]
		if !ok {
			return nil, invalidf("missing jwk header")
		}
		jwkBytes, err := json.Marshal(rawJWK)
		if err != nil {
			return nil, invalidf("unreadable jwk header")
		}
		key, err := jwk.ParseKey(jwkBytes)
		if err != nil {
			return nil, invalidf("malformed jwk header")
		}

		var raw any
		if err := jwk.Export(key, &raw); err != nil {
			return nil, invalidf("unusable jwk header")
		}
		// Only the concrete public key types pass; a private key
		// smuggled into the header exports as a private type and is
		// rejected here.
		switch raw.(type) {
		case *rsa.PublicKey, *ecdsa.PublicKey, ed25519.PublicKey:
		default:
			return nil, invalidf("jwk header must be a public key")
		}

		proofKey = key
		return raw, nil
	})
	if err != nil {
		return nil, invalidf("parse or verify: %v", err)
	}

	claims, ok := token.Claims.(*proofClaims)
	if !ok {
		return nil, invalidf("invalid claims")
	}

	// 2. typ must mark this as a DPoP proof, not an access token.
	if typ, _ := token.Header["typ"].(string); typ != "dpop+jwt" {
		return nil, invalidf("typ must be dpop+jwt")
	}

	// 3. htm / htu must match the request.
	if !strings.EqualFold(claims.HTM, req.Method) {
		return nil, invalidf("htm mismatch")
	}
	if !htuMatches(claims.HTU, req.URL) {
		return nil, invalidf("htu mismatch")
	}

	// 4. iat freshness window.
	if claims.IssuedAt == nil {
		return nil, invalidf("missing iat")
	}
	maxAge := v.MaxProofAge
	if maxAge == 0 {
		maxAge = 5 * time.Minute
	}
	skew := v.ClockSkew
	if skew == 0 {
		skew = 30 * time.Second
	}
	age := now().Sub(claims.IssuedAt.Time)
	if age > maxAge || age < -skew {
		return nil, invalidf("iat outside acceptance window")
	}

	// 5. Server nonce.
	if v.RequireNonce {
		if claims.Nonce == "" || !v.checkNonce(claims.Nonce, now()) {
			return nil, &ErrNonceRequired{Nonce: v.NewNonce(now())}
		}
	}

	// 6. Key thumbprint (RFC 7638), including refresh continuity.
	tp, err := proofKey.Thumbprint(crypto.SHA256)
	if err != nil {
		return nil, invalidf("thumbprint: %v", err)
	}
	thumbprint := base64.RawURLEncoding.EncodeToString(tp)

	if req.ExpectedThumbprint != "" && req.ExpectedThumbprint != thumbprint {
		return nil, invalidf("proof key does not match the key the token was bound to")
	}

	// 7. Proof jti replay.
	if claims.ID == "" {
		return nil, invalidf("missing jti")
	}
	added, err := v.Cache.Add(ctx, "dpop:jti:"+claims.ID, proofTTL)
	if err != nil {
		return nil, err
	}
	if !added {
		return nil, invalidf("proof replay detected")
	}

	return &Proof{Thumbprint: thumbprint, JTI: claims.ID}, nil
}

// htuMatches compares the proof's htu against the request URL, ignoring
// query and fragment per RFC 9449 §4.3.
func htuMatches(htu, requestURL string) bool {
	a, err := url.Parse(htu)
	if err != nil {
		return false
	}
	b, err := url.Parse(requestURL)
	if err != nil {
		return false
	}
	return strings.EqualFold(a.Scheme, b.Scheme) &&
		strings.EqualFold(a.Host, b.Host) &&
		a.Path == b.Path
}

// NewNonce mints a stateless server nonce: a timestamp bound to an HMAC
// so no nonce state needs to be stored.
func (v *Validator) NewNonce(now time.Time) string {
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(now.Unix()))

	mac := hmac.New(sha256.New, v.NonceSecret)
	mac.Write(ts[:])
	sum := mac.Sum(nil)

	return base64.RawURLEncoding.EncodeToString(append(ts[:], sum...))
}

// checkNonce verifies an HMAC nonce and its freshness.
func (v *Validator) checkNonce(nonce string, now time.Time) bool {
	raw, err := base64.RawURLEncoding.DecodeString(nonce)
	if err != nil || len(raw) != 8+sha256.Size {
		return false
	}

	mac := hmac.New(sha256.New, v.NonceSecret)
	mac.Write(raw[:8])
	if subtle.ConstantTimeCompare(mac.Sum(nil), raw[8:]) != 1 {
		return false
	}

	ttl := v.NonceTTL
	if ttl == 0 {
		ttl = 5 * time.Minute
	}
	issued := time.Unix(int64(binary.BigEndian.Uint64(raw[:8])), 0)
	return now.Sub(issued) <= ttl && issued.Sub(now) <= time.Minute
}
