package service

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v3/jwk"

	"github.com/veridian-id/veridian/internal/auth/domain"
	"github.com/veridian-id/veridian/pkg/oauthx"
	"github.com/veridian-id/veridian/pkg/slogx"
)

const (
	// assertionJTITTL is the replay window for assertion jti values.
	assertionJTITTL = 5 * time.Minute

	// assertionLeeway is the clock skew tolerated when verifying
	// assertion signatures and expiry.
	assertionLeeway = time.Minute

	// minSymmetricKeyBytes pads shared secrets used as HS* keys to at
	// least 256 bits.
	minSymmetricKeyBytes = 32
)

// assertionStrategy handles private_key_jwt / client_secret_jwt
// (RFC 7523). Both client_assertion and client_assertion_type must be
// present to apply; any structural problem from there is a definitive
// failure, never a fall-through.
type assertionStrategy struct {
	auth *ClientAuthenticator
}

func (s *assertionStrategy) authenticate(ctx context.Context, r *http.Request) (domain.ClientAuthenticationResult, bool) {
	assertion := r.PostForm.Get("client_assertion")
	assertionType := r.PostForm.Get("client_assertion_type")
	if assertion == "" || assertionType == "" {
		return domain.ClientAuthenticationResult{}, false
	}

	if assertionType != oauthx.ClientAssertionTypeJWTBearer {
		return failResult("invalid_client", "unsupported client_assertion_type"), true
	}

	return s.auth.validateAssertion(ctx, assertion), true
}

// validateAssertion validates an RFC 7523 client assertion. No claim is
// trusted until the signature verifies; the unverified parse only steers
// client resolution and the replay check.
func (a *ClientAuthenticator) validateAssertion(ctx context.Context, assertion string) domain.ClientAuthenticationResult {
	log := slogx.FromContext(ctx)
	now := a.now()

	// 1. Parse without validating the signature.
	var unverified jwt.RegisteredClaims
	token, _, err := jwt.NewParser().ParseUnverified(assertion, &unverified)
	if err != nil {
		return failResult("invalid_client", "malformed client assertion")
	}

	// 2. client_id comes from sub, falling back to iss. When both are
	// present they must agree.
	clientID := unverified.Subject
	if clientID == "" {
		clientID = unverified.Issuer
	}
	if clientID == "" {
		return failResult("invalid_client", "assertion missing sub and iss")
	}
	if unverified.Subject != "" && unverified.Issuer != "" && unverified.Subject != unverified.Issuer {
		return failResult("invalid_client", "assertion sub and iss disagree")
	}

	// 3. Resolve and enable-check the client.
	client, err := a.resolveClient(ctx, clientID)
	if err != nil {
		return failResult("invalid_client", "unknown or disabled client")
	}

	// 4. aud must contain the issuer URL or the exact token endpoint.
	issuer := a.Issuers.Issuer(ctx)
	tokenEndpoint := a.Issuers.TokenEndpoint(ctx)
	if !slices.Contains(unverified.Audience, issuer) &&
		!slices.Contains(unverified.Audience, tokenEndpoint) {
		return failResult("invalid_client", "assertion audience does not match this server")
	}

	// 5. exp must be present and unexpired.
	if unverified.ExpiresAt == nil || now.After(unverified.ExpiresAt.Time) {
		return failResult("invalid_client", "assertion expired")
	}

	// 6. Replay protection on jti. The add is atomic, so two concurrent
	// presentations of the same jti cannot both pass. Assertions without
	// a jti skip replay protection (optional per RFC 7523).
	if unverified.ID != "" {
		key := fmt.Sprintf("client:jwt:jti:%s:%s", clientID, unverified.ID)
		added, err := a.Cache.Add(ctx, key, assertionJTITTL)
		if err != nil {
			log.Error("assertion replay cache unavailable", "error", err)
			return failResult("invalid_client", "assertion could not be validated")
		}
		if !added {
			return failResult("invalid_client", "assertion replay detected")
		}
	} else {
		log.Warn("client assertion without jti, skipping replay protection",
			"client_id", clientID)
	}

	// 7. Candidate keys by the assertion's algorithm family.
	alg, _ := token.Header["alg"].(string)
	kid, _ := token.Header["kid"].(string)

	candidates, method := a.assertionKeys(client, alg, kid, now)
	if len(candidates) == 0 {
		return failResult("invalid_client", "no registered key matches the assertion algorithm")
	}

	// 8. Verify signature plus issuer, audience and expiry with a
	// 1-minute clock skew, trying each candidate key.
	var verified *jwt.RegisteredClaims
	for _, key := range candidates {
		claims, err := verifyAssertion(assertion, alg, key)
		if err == nil {
			verified = claims
			break
		}
	}
	if verified == nil {
		return failResult("invalid_client", "assertion signature verification failed")
	}

	if verified.Issuer != "" && verified.Issuer != clientID {
		return failResult("invalid_client", "assertion issuer does not match client")
	}
	if !slices.Contains(verified.Audience, issuer) &&
		!slices.Contains(verified.Audience, tokenEndpoint) {
		return failResult("invalid_client", "assertion audience does not match this server")
	}

	return domain.ClientAuthenticationResult{Client: &client, Method: method}
}

// assertionKeys collects the client's registered keys compatible with the
// assertion's algorithm family. Symmetric algorithms use shared secrets
// padded to 256 bits; asymmetric algorithms use registered JWKs and X.509
// certificates. A kid in the assertion header must match a candidate
// key's id when the candidate carries one.
func (a *ClientAuthenticator) assertionKeys(client domain.Client, alg, kid string, now time.Time) ([]any, string) {
	if strings.HasPrefix(alg, "HS") {
		var keys []any
		for _, secret := range client.ActiveSecrets(domain.SecretTypeShared, now) {
			keys = append(keys, padSymmetricKey([]byte(secret.Value)))
		}
		return keys, domain.AuthMethodClientSecretJWT
	}

	var keys []any
	for _, secret := range client.ActiveSecrets(domain.SecretTypeJWK, now) {
		key, err := jwk.ParseKey([]byte(secret.Value))
		if err != nil {
			continue
		}
		if keyID, ok := key.KeyID(); ok && keyID != "" && kid != "" && keyID != kid {
			continue
		}
		pub, err := publicKeyOf(key)
		if err != nil {
			continue
		}
		keys = append(keys, pub)
	}
	for _, secret := range client.ActiveSecrets(domain.SecretTypeX509, now) {
		pub, err := certificatePublicKey([]byte(secret.Value))
		if err != nil {
			continue
		}
		keys = append(keys, pub)
	}
	return keys, domain.AuthMethodPrivateKeyJWT
}

// verifyAssertion runs the full signed parse against one candidate key.
func verifyAssertion(assertion, alg string, key any) (*jwt.RegisteredClaims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{alg}),
		jwt.WithLeeway(assertionLeeway),
		jwt.WithExpirationRequired(),
	)

	token, err := parser.ParseWithClaims(assertion, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		return key, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidClient
	}
	return claims, nil
}

// publicKeyOf exports a JWK into a raw verification key, deriving the
// public half when a private key was registered.
func publicKeyOf(key jwk.Key) (any, error) {
	var raw any
	if err := jwk.Export(key, &raw); err != nil {
		return nil, err
	}
	switch k := raw.(type) {
	case *rsa.PrivateKey:
		return &k.PublicKey, nil
	case *ecdsa.PrivateKey:
		return &k.PublicKey, nil
	case ed25519.PrivateKey:
		return k.Public(), nil
	default:
		return raw, nil
	}
}

// certificatePublicKey extracts the public key from a PEM certificate.
func certificatePublicKey(pemBytes []byte) (any, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, ErrInvalidClient
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, err
	}
	return cert.PublicKey, nil
}

// padSymmetricKey zero-pads a shared secret to the HS* minimum key size.
func padSymmetricKey(key []byte) []byte {
	if len(key) >= minSymmetricKeyBytes {
		return key
	}
	padded := make([]byte, minSymmetricKeyBytes)
	copy(padded, key)
	return padded
}
