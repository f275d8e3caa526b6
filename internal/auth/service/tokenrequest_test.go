package service

import (
	"context"
	"crypto"
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
	"github.com/veridian-id/veridian/internal/auth/dpop"
	"github.com/veridian-id/veridian/pkg/jwtx"
	"github.com/veridian-id/veridian/pkg/oauthx"
)

func newValidator(e *testEnv, requireNonce bool) *TokenRequestValidator {
	return &TokenRequestValidator{
		Clients: e.auth,
		Scopes:  e.scopes,
		Store:   e.store,
		DPoP: &dpop.Validator{
			Cache:        e.cache,
			NonceSecret:  []byte("test-nonce-secret"),
			RequireNonce: requireNonce,
		},
	}
}

// signDPoPProof builds an ES256 proof with the public key in the jwk
// header.
func signDPoPProof(t *testing.T, key *ecdsa.PrivateKey, method, htu, nonce string) string {
	t.Helper()

	claims := jwt.MapClaims{
		"htm": method,
		"htu": htu,
		"iat": time.Now().Unix(),
		"jti": jwtx.NewJTI(),
	}
	if nonce != "" {
		claims["nonce"] = nonce
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["typ"] = "dpop+jwt"

	pub, err := jwk.Import(&key.PublicKey)
	require.NoError(t, err)
	raw, err := json.Marshal(pub)
	require.NoError(t, err)
	var header map[string]any
	require.NoError(t, json.Unmarshal(raw, &header))
	token.Header["jwk"] = header

	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}

func proofThumbprint(t *testing.T, key *ecdsa.PrivateKey) string {
	t.Helper()

	pub, err := jwk.Import(&key.PublicKey)
	require.NoError(t, err)
	tp, err := pub.Thumbprint(crypto.SHA256)
	require.NoError(t, err)
	return base64.RawURLEncoding.EncodeToString(tp)
}

func TestValidate_WrongContentType(t *testing.T) {
	e := newTestEnv(t)
	v := newValidator(e, false)

	r := formRequest(t, url.Values{"grant_type": {"client_credentials"}}, func(r *http.Request) {
		r.Header.Set("Content-Type", "application/json")
	})

	_, oerr := v.Validate(context.Background(), r)
	require.NotNil(t, oerr)
	require.Equal(t, oauthx.ErrorCodeInvalidRequest, oerr.Code)
	require.Contains(t, oerr.Description, "content-type")
}

func TestValidate_MissingContentType(t *testing.T) {
	e := newTestEnv(t)
	v := newValidator(e, false)

	r := formRequest(t, url.Values{"grant_type": {"client_credentials"}}, func(r *http.Request) {
		r.Header.Del("Content-Type")
	})

	_, oerr := v.Validate(context.Background(), r)
	require.NotNil(t, oerr)
	require.Equal(t, oauthx.ErrorCodeInvalidRequest, oerr.Code)
	require.Contains(t, oerr.Description, "content-type")
}

func TestValidate_MissingGrantType(t *testing.T) {
	e := newTestEnv(t)
	e.seedClient(t, "acme", "s3cr3t", nil)
	v := newValidator(e, false)

	r := formRequest(t, url.Values{
		"client_id":     {"acme"},
		"client_secret": {"s3cr3t"},
	}, nil)

	_, oerr := v.Validate(context.Background(), r)
	require.NotNil(t, oerr)
	require.Equal(t, oauthx.ErrorCodeInvalidRequest, oerr.Code)
	require.Contains(t, oerr.Description, "grant_type")
}

func TestValidate_ClientAuthenticationFailure(t *testing.T) {
	e := newTestEnv(t)
	e.seedClient(t, "acme", "s3cr3t", nil)
	v := newValidator(e, false)

	r := formRequest(t, url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {"acme"},
		"client_secret": {"wrong"},
	}, nil)

	_, oerr := v.Validate(context.Background(), r)
	require.NotNil(t, oerr)
	require.Equal(t, oauthx.ErrorCodeInvalidClient, oerr.Code)
	require.Equal(t, http.StatusUnauthorized, oerr.StatusCode)
}

func TestValidate_CodeWithoutCredentials(t *testing.T) {
	e := newTestEnv(t)
	e.seedClient(t, "acme", "s3cr3t", nil)
	v := newValidator(e, false)

	// A valid-looking code redemption that never authenticates the
	// client fails before the grant is even considered.
	r := formRequest(t, url.Values{
		"grant_type": {"authorization_code"},
		"code":       {"some-code"},
	}, nil)

	_, oerr := v.Validate(context.Background(), r)
	require.NotNil(t, oerr)
	require.Equal(t, oauthx.ErrorCodeInvalidClient, oerr.Code)
}

func TestValidate_UnauthorizedGrantType(t *testing.T) {
	e := newTestEnv(t)
	e.seedClient(t, "acme", "s3cr3t", nil)
	v := newValidator(e, false)

	r := formRequest(t, url.Values{
		"grant_type":    {"password"},
		"client_id":     {"acme"},
		"client_secret": {"s3cr3t"},
		"username":      {"alice"},
		"password":      {"pw"},
	}, nil)

	_, oerr := v.Validate(context.Background(), r)
	require.NotNil(t, oerr)
	require.Equal(t, oauthx.ErrorCodeUnauthorizedClient, oerr.Code)
}

func TestValidate_GrantParameterTable(t *testing.T) {
	e := newTestEnv(t)
	e.seedClient(t, "acme", "s3cr3t", func(c *domain.Client) {
		c.GrantTypes = []string{
			oauthx.GrantAuthorizationCode,
			oauthx.GrantRefreshToken,
			oauthx.GrantPassword,
			oauthx.GrantDeviceCode,
			oauthx.GrantTokenExchange,
			oauthx.GrantJWTBearer,
			oauthx.GrantCIBA,
		}
	})
	v := newValidator(e, false)

	tests := []struct {
		grantType string
		form      url.Values
		missing   string
	}{
		{oauthx.GrantAuthorizationCode, url.Values{}, "code"},
		{oauthx.GrantRefreshToken, url.Values{}, "refresh_token"},
		{oauthx.GrantPassword, url.Values{}, "username"},
		{oauthx.GrantPassword, url.Values{"username": {"alice"}}, "password"},
		{oauthx.GrantDeviceCode, url.Values{}, "device_code"},
		{oauthx.GrantTokenExchange, url.Values{}, "subject_token"},
		{oauthx.GrantTokenExchange, url.Values{"subject_token": {"tok"}}, "subject_token_type"},
		{oauthx.GrantJWTBearer, url.Values{}, "assertion"},
		{oauthx.GrantCIBA, url.Values{}, "auth_req_id"},
	}

	for _, tt := range tests {
		t.Run(tt.grantType+" missing "+tt.missing, func(t *testing.T) {
			form := url.Values{
				"grant_type":    {tt.grantType},
				"client_id":     {"acme"},
				"client_secret": {"s3cr3t"},
			}
			for k, vs := range tt.form {
				form[k] = vs
			}

			_, oerr := v.Validate(context.Background(), formRequest(t, form, nil))
			require.NotNil(t, oerr)
			require.Equal(t, oauthx.ErrorCodeInvalidRequest, oerr.Code)
			require.Contains(t, oerr.Description, tt.missing)
		})
	}
}

func TestValidate_UnknownGrantTypePassesValidation(t *testing.T) {
	e := newTestEnv(t)
	e.seedClient(t, "acme", "s3cr3t", func(c *domain.Client) {
		c.GrantTypes = append(c.GrantTypes, "urn:example:custom")
	})
	v := newValidator(e, false)

	r := formRequest(t, url.Values{
		"grant_type":    {"urn:example:custom"},
		"client_id":     {"acme"},
		"client_secret": {"s3cr3t"},
	}, nil)

	req, oerr := v.Validate(context.Background(), r)
	require.Nil(t, oerr)
	require.Equal(t, "urn:example:custom", req.GrantType)
}

func TestValidate_ScopeAllOrNothing(t *testing.T) {
	e := newTestEnv(t)
	e.seedClient(t, "acme", "s3cr3t", nil)
	v := newValidator(e, false)

	r := formRequest(t, url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {"acme"},
		"client_secret": {"s3cr3t"},
		"scope":         {"accounts:read not:allowed"},
	}, nil)

	_, oerr := v.Validate(context.Background(), r)
	require.NotNil(t, oerr)
	require.Equal(t, oauthx.ErrorCodeInvalidScope, oerr.Code)
}

func TestValidate_Success(t *testing.T) {
	e := newTestEnv(t)
	e.seedClient(t, "acme", "s3cr3t", nil)
	v := newValidator(e, false)

	r := formRequest(t, url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {"acme"},
		"client_secret": {"s3cr3t"},
		"scope":         {"accounts:read"},
	}, nil)

	req, oerr := v.Validate(context.Background(), r)
	require.Nil(t, oerr)
	require.Equal(t, "acme", req.Client.ID)
	require.Equal(t, domain.AuthMethodClientSecretPost, req.Client.AuthMethod)
	require.NotNil(t, req.Scopes)
	require.Equal(t, []string{"accounts:read"}, req.Scopes.Scopes)
	require.Empty(t, req.DPoPKeyThumbprint)
}

func TestValidate_MultipleDPoPHeaders(t *testing.T) {
	e := newTestEnv(t)
	e.seedClient(t, "acme", "s3cr3t", nil)
	v := newValidator(e, false)

	r := formRequest(t, url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {"acme"},
		"client_secret": {"s3cr3t"},
	}, func(r *http.Request) {
		r.Header.Add("DPoP", "proof-one")
		r.Header.Add("DPoP", "proof-two")
	})

	_, oerr := v.Validate(context.Background(), r)
	require.NotNil(t, oerr)
	require.Equal(t, oauthx.ErrorCodeInvalidRequest, oerr.Code)
}

func TestValidate_DPoPRequiredButMissing(t *testing.T) {
	e := newTestEnv(t)
	e.seedClient(t, "acme", "s3cr3t", func(c *domain.Client) {
		c.RequireDPoP = true
	})
	v := newValidator(e, false)

	r := formRequest(t, url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {"acme"},
		"client_secret": {"s3cr3t"},
	}, nil)

	_, oerr := v.Validate(context.Background(), r)
	require.NotNil(t, oerr)
	require.Equal(t, oauthx.ErrorCodeInvalidRequest, oerr.Code)
	require.Contains(t, oerr.Description, "DPoP")
}

func TestValidate_DPoPBinding(t *testing.T) {
	e := newTestEnv(t)
	e.seedClient(t, "acme", "s3cr3t", nil)
	v := newValidator(e, false)

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	proof := signDPoPProof(t, key, http.MethodPost, testIssuer+"/oauth2/token", "")

	r := formRequest(t, url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {"acme"},
		"client_secret": {"s3cr3t"},
	}, func(r *http.Request) {
		r.Header.Set("DPoP", proof)
	})

	req, oerr := v.Validate(context.Background(), r)
	require.Nil(t, oerr)
	require.Equal(t, proof, req.DPoPProof)
	require.Equal(t, proofThumbprint(t, key), req.DPoPKeyThumbprint)
}

func TestValidate_BoundRefreshRequiresProof(t *testing.T) {
	e := newTestEnv(t)
	e.seedClient(t, "acme", "s3cr3t", nil)
	v := newValidator(e, false)

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	seedRefreshGrant(t, e, "refresh-1", "acme", domain.GrantPayload{
		Scopes: []string{"accounts:read"},
		JKT:    proofThumbprint(t, key),
	})

	// No DPoP header on a key-bound refresh token: rejected outright.
	r := formRequest(t, url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {"refresh-1"},
		"client_id":     {"acme"},
		"client_secret": {"s3cr3t"},
	}, nil)

	_, oerr := v.Validate(context.Background(), r)
	require.NotNil(t, oerr)
	require.Equal(t, oauthx.ErrorCodeInvalidRequest, oerr.Code)
	require.Contains(t, oerr.Description, "bound")

	// A proof from the bound key unlocks the same request.
	proof := signDPoPProof(t, key, http.MethodPost, testIssuer+"/oauth2/token", "")
	r = formRequest(t, url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {"refresh-1"},
		"client_id":     {"acme"},
		"client_secret": {"s3cr3t"},
	}, func(r *http.Request) {
		r.Header.Set("DPoP", proof)
	})

	req, oerr := v.Validate(context.Background(), r)
	require.Nil(t, oerr)
	require.Equal(t, proofThumbprint(t, key), req.DPoPKeyThumbprint)
}

func TestValidate_InvalidDPoPProof(t *testing.T) {
	e := newTestEnv(t)
	e.seedClient(t, "acme", "s3cr3t", nil)
	v := newValidator(e, false)

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	// htu points at the wrong endpoint.
	proof := signDPoPProof(t, key, http.MethodPost, testIssuer+"/oauth2/introspect", "")

	r := formRequest(t, url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {"acme"},
		"client_secret": {"s3cr3t"},
	}, func(r *http.Request) {
		r.Header.Set("DPoP", proof)
	})

	_, oerr := v.Validate(context.Background(), r)
	require.NotNil(t, oerr)
	require.Equal(t, oauthx.ErrorCodeInvalidDPoPProof, oerr.Code)
}

func TestValidate_DPoPNonceChallenge(t *testing.T) {
	e := newTestEnv(t)
	e.seedClient(t, "acme", "s3cr3t", nil)
	v := newValidator(e, true)

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	request := func(proof string) (*domain.TokenRequest, *oauthx.OAuth2Error) {
		r := formRequest(t, url.Values{
			"grant_type":    {"client_credentials"},
			"client_id":     {"acme"},
			"client_secret": {"s3cr3t"},
		}, func(r *http.Request) {
			r.Header.Set("DPoP", proof)
		})
		return v.Validate(context.Background(), r)
	}

	// First attempt without a nonce: challenged with a fresh one.
	_, oerr := request(signDPoPProof(t, key, http.MethodPost, testIssuer+"/oauth2/token", ""))
	require.NotNil(t, oerr)
	require.Equal(t, oauthx.ErrorCodeUseDPoPNonce, oerr.Code)
	nonce := oerr.Headers["DPoP-Nonce"]
	require.NotEmpty(t, nonce)

	// Retry with the issued nonce embedded in the proof.
	req, oerr := request(signDPoPProof(t, key, http.MethodPost, testIssuer+"/oauth2/token", nonce))
	require.Nil(t, oerr)
	require.NotEmpty(t, req.DPoPKeyThumbprint)
}
