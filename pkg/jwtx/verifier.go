package jwtx

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Verifier validates a JWT and gives you back the claims if it's legit.
type Verifier interface {
	Verify(token string) (*AccessClaims, error)
}

var (
	ErrMalformed   = errors.New("jwtx: malformed token")
	ErrAlgMismatch = errors.New("jwtx: algorithm mismatch")
	ErrUnknownKID  = errors.New("jwtx: unknown kid")
	ErrInvalidSig  = errors.New("jwtx: invalid signature")

	ErrIssuer       = errors.New("jwtx: issuer mismatch")
	ErrAudience     = errors.New("jwtx: audience mismatch")
	ErrExpired      = errors.New("jwtx: token expired")
	ErrNotYetValid  = errors.New("jwtx: token not yet valid")
	ErrInvalidClaim = errors.New("jwtx: invalid claims")
)

// KeySetVerifier validates JWTs against a KeySet, resolving the
// verification key by the token's kid header.
type KeySetVerifier struct {
	keys   *KeySet
	issuer string
	aud    []string
	algs   []string
	leeway time.Duration
}

// NewVerifier creates a verifier over a KeySet. The allowed algorithms
// default to the asymmetric set we mint tokens with; symmetric algs are
// deliberately excluded so an HS256 token can never satisfy an RSA key.
func NewVerifier(keys *KeySet, issuer string, aud []string) *KeySetVerifier {
	return &KeySetVerifier{
		keys:   keys,
		issuer: issuer,
		aud:    aud,
		algs: []string{
			jwt.SigningMethodRS256.Alg(),
			jwt.SigningMethodES256.Alg(),
			jwt.SigningMethodEdDSA.Alg(),
		},
		leeway: 30 * time.Second,
	}
}

// Verify validates the JWT string and returns its parsed claims.
func (v *KeySetVerifier) Verify(tokenStr string) (*AccessClaims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods(v.algs),
		jwt.WithLeeway(v.leeway),
	)

	token, err := parser.ParseWithClaims(tokenStr, &AccessClaims{}, func(t *jwt.Token) (any, error) {
		// Need the kid to know which key to use
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("jwtx: missing kid")
		}

		pub, err := v.keys.Get(kid)
		if err != nil {
			return nil, fmt.Errorf("jwtx: unknown kid %q: %w", kid, err)
		}
		return pub, nil
	})
	if err != nil {
		return nil, fmt.Errorf("jwtx: parse or verify: %w", err)
	}

	claims, ok := token.Claims.(*AccessClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidClaim
	}

	// Now check all the claim requirements. Tokens minted for a tenant
	// carry the configured issuer plus one path segment; they verify
	// against the same key set, so both forms are acceptable.
	if err := claims.ValidateIssuer(v.issuer); err != nil {
		if !childIssuer(claims.Issuer, v.issuer) {
			return nil, err
		}
	}
	if err := claims.ValidateAudience(v.aud); err != nil {
		return nil, err
	}
	if err := claims.ValidateExpiryWithLeeway(v.leeway); err != nil {
		return nil, err
	}

	return claims, nil
}

// childIssuer reports whether iss is base extended by exactly one
// non-empty path segment.
func childIssuer(iss, base string) bool {
	rest, ok := strings.CutPrefix(iss, base+"/")
	return ok && rest != "" && !strings.Contains(rest, "/")
}
