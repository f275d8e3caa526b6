package service

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/stretchr/testify/require"

	"github.com/veridian-id/veridian/internal/auth/domain"
	"github.com/veridian-id/veridian/pkg/jwtx"
	"github.com/veridian-id/veridian/pkg/oauthx"
)

func TestAuthenticate_ClientSecretBasic(t *testing.T) {
	e := newTestEnv(t)
	e.seedClient(t, "acme", "s3cr3t", nil)

	r := formRequest(t, url.Values{}, func(r *http.Request) {
		r.Header.Set("Authorization", "Basic YWNtZTpzM2NyM3Q=")
	})

	result := e.auth.Authenticate(context.Background(), r)
	require.True(t, result.OK())
	require.Equal(t, "acme", result.Client.ID)
	require.Equal(t, domain.AuthMethodClientSecretBasic, result.Method)
}

func TestAuthenticate_BasicWrongSecret(t *testing.T) {
	e := newTestEnv(t)
	e.seedClient(t, "acme", "s3cr3t", nil)

	creds := base64.StdEncoding.EncodeToString([]byte("acme:wrong"))
	r := formRequest(t, url.Values{}, func(r *http.Request) {
		r.Header.Set("Authorization", "Basic "+creds)
	})

	result := e.auth.Authenticate(context.Background(), r)
	require.False(t, result.OK())
	require.Equal(t, "invalid_client", result.ErrorCode)
}

func TestAuthenticate_MalformedBasicFallsThrough(t *testing.T) {
	e := newTestEnv(t)
	e.seedClient(t, "acme", "s3cr3t", nil)

	// Garbage Basic header plus valid post credentials: the malformed
	// header is not-applicable, the post method wins.
	r := formRequest(t, url.Values{
		"client_id":     {"acme"},
		"client_secret": {"s3cr3t"},
	}, func(r *http.Request) {
		r.Header.Set("Authorization", "Basic not!!base64")
	})

	result := e.auth.Authenticate(context.Background(), r)
	require.True(t, result.OK())
	require.Equal(t, domain.AuthMethodClientSecretPost, result.Method)
}

func TestAuthenticate_RawDevelopmentSecret(t *testing.T) {
	e := newTestEnv(t)
	e.seedClient(t, "dev", "", func(c *domain.Client) {
		c.RequireClientSecret = true
		c.Secrets = []domain.ClientSecret{{
			Type:  domain.SecretTypeShared,
			Value: "plain-dev-secret",
		}}
	})

	r := formRequest(t, url.Values{
		"client_id":     {"dev"},
		"client_secret": {"plain-dev-secret"},
	}, nil)

	result := e.auth.Authenticate(context.Background(), r)
	require.True(t, result.OK())
}

func TestAuthenticate_ExpiredSecretRejected(t *testing.T) {
	e := newTestEnv(t)
	e.seedClient(t, "acme", "", func(c *domain.Client) {
		c.RequireClientSecret = true
		c.Secrets = []domain.ClientSecret{{
			Type:       domain.SecretTypeShared,
			Value:      "old-secret",
			Expiration: timePtr(time.Now().Add(-time.Hour)),
		}}
	})

	r := formRequest(t, url.Values{
		"client_id":     {"acme"},
		"client_secret": {"old-secret"},
	}, nil)

	result := e.auth.Authenticate(context.Background(), r)
	require.False(t, result.OK())
}

func TestAuthenticate_PublicClient(t *testing.T) {
	e := newTestEnv(t)
	e.seedClient(t, "spa", "", func(c *domain.Client) {
		c.RequireClientSecret = false
	})

	r := formRequest(t, url.Values{"client_id": {"spa"}}, nil)

	result := e.auth.Authenticate(context.Background(), r)
	require.True(t, result.OK())
	require.Equal(t, domain.AuthMethodNone, result.Method)
}

func TestAuthenticate_PublicPathRejectsConfidentialClient(t *testing.T) {
	e := newTestEnv(t)
	e.seedClient(t, "acme", "s3cr3t", nil)

	// client_id without any secret on a client that requires one.
	r := formRequest(t, url.Values{"client_id": {"acme"}}, nil)

	result := e.auth.Authenticate(context.Background(), r)
	require.False(t, result.OK())
	require.Equal(t, "invalid_client", result.ErrorCode)
}

func TestAuthenticate_DisabledClient(t *testing.T) {
	e := newTestEnv(t)
	e.seedClient(t, "acme", "s3cr3t", func(c *domain.Client) {
		c.Enabled = false
	})

	r := formRequest(t, url.Values{
		"client_id":     {"acme"},
		"client_secret": {"s3cr3t"},
	}, nil)

	result := e.auth.Authenticate(context.Background(), r)
	require.False(t, result.OK())
}

func TestAuthenticate_NoMethodMatches(t *testing.T) {
	e := newTestEnv(t)

	r := formRequest(t, url.Values{"grant_type": {"client_credentials"}}, nil)

	result := e.auth.Authenticate(context.Background(), r)
	require.False(t, result.OK())
	require.Equal(t, "invalid_client", result.ErrorCode)
}

func TestAuthenticateCredentials(t *testing.T) {
	e := newTestEnv(t)
	e.seedClient(t, "acme", "s3cr3t", nil)
	e.seedClient(t, "spa", "", func(c *domain.Client) {
		c.RequireClientSecret = false
	})

	t.Run("valid secret", func(t *testing.T) {
		result := e.auth.AuthenticateCredentials(context.Background(), "acme", "s3cr3t")
		require.True(t, result.OK())
	})

	t.Run("wrong secret", func(t *testing.T) {
		result := e.auth.AuthenticateCredentials(context.Background(), "acme", "nope")
		require.False(t, result.OK())
	})

	t.Run("public client without secret", func(t *testing.T) {
		result := e.auth.AuthenticateCredentials(context.Background(), "spa", "")
		require.True(t, result.OK())
		require.Equal(t, domain.AuthMethodNone, result.Method)
	})

	t.Run("missing client_id", func(t *testing.T) {
		result := e.auth.AuthenticateCredentials(context.Background(), "", "s3cr3t")
		require.False(t, result.OK())
	})
}

// ---------------------------------------------------------------------------
// RFC 7523 client assertions
// ---------------------------------------------------------------------------

const hsSecret = "a-shared-secret-that-is-long-enough-for-hs256"

type assertionSpec struct {
	iss, sub string
	aud      []string
	exp      time.Time
	jti      string
}

func defaultAssertion(clientID string) assertionSpec {
	return assertionSpec{
		iss: clientID,
		sub: clientID,
		aud: []string{testIssuer},
		exp: time.Now().Add(5 * time.Minute),
		jti: jwtx.NewJTI(),
	}
}

func signHS256Assertion(t *testing.T, spec assertionSpec, secret string) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, assertionClaims(spec))
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func signES256Assertion(t *testing.T, spec assertionSpec, key *ecdsa.PrivateKey, kid string) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodES256, assertionClaims(spec))
	if kid != "" {
		token.Header["kid"] = kid
	}
	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}

func assertionClaims(spec assertionSpec) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		Issuer:    spec.iss,
		Subject:   spec.sub,
		Audience:  jwt.ClaimStrings(spec.aud),
		ExpiresAt: jwt.NewNumericDate(spec.exp),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ID:        spec.jti,
	}
}

func assertionRequest(t *testing.T, assertion string) *http.Request {
	t.Helper()
	return formRequest(t, url.Values{
		"client_assertion":      {assertion},
		"client_assertion_type": {oauthx.ClientAssertionTypeJWTBearer},
	}, nil)
}

func seedHSClient(t *testing.T, e *testEnv, id string) {
	t.Helper()
	e.seedClient(t, id, "", func(c *domain.Client) {
		c.Secrets = []domain.ClientSecret{{
			Type:  domain.SecretTypeShared,
			Value: hsSecret,
		}}
	})
}

func seedJWKClient(t *testing.T, e *testEnv, id, kid string) *ecdsa.PrivateKey {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	pub, err := jwk.Import(&key.PublicKey)
	require.NoError(t, err)
	if kid != "" {
		require.NoError(t, pub.Set(jwk.KeyIDKey, kid))
	}
	jwkJSON, err := json.Marshal(pub)
	require.NoError(t, err)

	e.seedClient(t, id, "", func(c *domain.Client) {
		c.Secrets = []domain.ClientSecret{{
			Type:  domain.SecretTypeJWK,
			Value: string(jwkJSON),
		}}
	})
	return key
}

func TestAssertion_ClientSecretJWT(t *testing.T) {
	e := newTestEnv(t)
	seedHSClient(t, e, "acme")

	assertion := signHS256Assertion(t, defaultAssertion("acme"), hsSecret)
	result := e.auth.Authenticate(context.Background(), assertionRequest(t, assertion))

	require.True(t, result.OK())
	require.Equal(t, domain.AuthMethodClientSecretJWT, result.Method)
}

func TestAssertion_PrivateKeyJWT(t *testing.T) {
	e := newTestEnv(t)
	key := seedJWKClient(t, e, "acme", "key-1")

	assertion := signES256Assertion(t, defaultAssertion("acme"), key, "key-1")
	result := e.auth.Authenticate(context.Background(), assertionRequest(t, assertion))

	require.True(t, result.OK())
	require.Equal(t, domain.AuthMethodPrivateKeyJWT, result.Method)
}

func TestAssertion_KidMismatch(t *testing.T) {
	e := newTestEnv(t)
	key := seedJWKClient(t, e, "acme", "key-1")

	assertion := signES256Assertion(t, defaultAssertion("acme"), key, "key-2")
	result := e.auth.Authenticate(context.Background(), assertionRequest(t, assertion))

	require.False(t, result.OK())
	require.Equal(t, "invalid_client", result.ErrorCode)
}

func TestAssertion_WrongSignature(t *testing.T) {
	e := newTestEnv(t)
	seedJWKClient(t, e, "acme", "")

	otherKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	assertion := signES256Assertion(t, defaultAssertion("acme"), otherKey, "")
	result := e.auth.Authenticate(context.Background(), assertionRequest(t, assertion))

	require.False(t, result.OK())
}

func TestAssertion_AudienceTokenEndpoint(t *testing.T) {
	e := newTestEnv(t)
	seedHSClient(t, e, "acme")

	spec := defaultAssertion("acme")
	spec.aud = []string{testIssuer + "/oauth2/token"}

	result := e.auth.Authenticate(context.Background(),
		assertionRequest(t, signHS256Assertion(t, spec, hsSecret)))
	require.True(t, result.OK())
}

func TestAssertion_AudienceMismatch(t *testing.T) {
	e := newTestEnv(t)
	seedHSClient(t, e, "acme")

	spec := defaultAssertion("acme")
	spec.aud = []string{"https://unrelated.example.com"}

	result := e.auth.Authenticate(context.Background(),
		assertionRequest(t, signHS256Assertion(t, spec, hsSecret)))
	require.False(t, result.OK())
	require.Equal(t, "invalid_client", result.ErrorCode)
}

func TestAssertion_Expired(t *testing.T) {
	e := newTestEnv(t)
	seedHSClient(t, e, "acme")

	spec := defaultAssertion("acme")
	spec.exp = time.Now().Add(-10 * time.Minute)

	result := e.auth.Authenticate(context.Background(),
		assertionRequest(t, signHS256Assertion(t, spec, hsSecret)))
	require.False(t, result.OK())
}

func TestAssertion_SubIssDisagree(t *testing.T) {
	e := newTestEnv(t)
	seedHSClient(t, e, "acme")

	spec := defaultAssertion("acme")
	spec.iss = "other"

	result := e.auth.Authenticate(context.Background(),
		assertionRequest(t, signHS256Assertion(t, spec, hsSecret)))
	require.False(t, result.OK())
}

func TestAssertion_ReplayRejected(t *testing.T) {
	e := newTestEnv(t)
	seedHSClient(t, e, "acme")

	assertion := signHS256Assertion(t, defaultAssertion("acme"), hsSecret)

	result := e.auth.Authenticate(context.Background(), assertionRequest(t, assertion))
	require.True(t, result.OK())

	// The identical assertion presented again is a replay.
	result = e.auth.Authenticate(context.Background(), assertionRequest(t, assertion))
	require.False(t, result.OK())
	require.Contains(t, result.ErrorDescription, "replay")
}

func TestAssertion_NoJTISkipsReplayProtection(t *testing.T) {
	e := newTestEnv(t)
	seedHSClient(t, e, "acme")

	spec := defaultAssertion("acme")
	spec.jti = ""
	assertion := signHS256Assertion(t, spec, hsSecret)

	// Without a jti there is nothing to replay-check; the same
	// assertion is accepted twice.
	result := e.auth.Authenticate(context.Background(), assertionRequest(t, assertion))
	require.True(t, result.OK())

	result = e.auth.Authenticate(context.Background(), assertionRequest(t, assertion))
	require.True(t, result.OK())
}

func TestAssertion_DefinitiveFailureDoesNotFallThrough(t *testing.T) {
	e := newTestEnv(t)
	e.seedClient(t, "spa", "", func(c *domain.Client) {
		c.RequireClientSecret = false
	})

	// A broken assertion plus a client_id that would succeed as a
	// public client: the assertion method is applicable and its failure
	// is final.
	r := formRequest(t, url.Values{
		"client_id":             {"spa"},
		"client_assertion":      {"not-a-jwt"},
		"client_assertion_type": {oauthx.ClientAssertionTypeJWTBearer},
	}, nil)

	result := e.auth.Authenticate(context.Background(), r)
	require.False(t, result.OK())
}

func TestAssertion_UnsupportedAssertionType(t *testing.T) {
	e := newTestEnv(t)
	seedHSClient(t, e, "acme")

	r := formRequest(t, url.Values{
		"client_assertion":      {signHS256Assertion(t, defaultAssertion("acme"), hsSecret)},
		"client_assertion_type": {"urn:example:wrong"},
	}, nil)

	result := e.auth.Authenticate(context.Background(), r)
	require.False(t, result.OK())
}

func TestAssertion_TenantAwareAudience(t *testing.T) {
	e := newTestEnv(t)
	seedHSClient(t, e, "acme")

	ctx := WithTenant(context.Background(), "tenant-a")

	spec := defaultAssertion("acme")
	spec.aud = []string{testIssuer + "/tenant-a"}

	result := e.auth.Authenticate(ctx,
		assertionRequest(t, signHS256Assertion(t, spec, hsSecret)))
	require.True(t, result.OK())

	// The bare issuer is no longer a valid audience under a tenant.
	spec = defaultAssertion("acme")
	spec.aud = []string{testIssuer}
	result = e.auth.Authenticate(ctx,
		assertionRequest(t, signHS256Assertion(t, spec, hsSecret)))
	require.False(t, result.OK())
}
