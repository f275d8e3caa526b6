package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/veridian-id/veridian/internal/auth/domain"
	"github.com/veridian-id/veridian/pkg/jwtx"
	"github.com/veridian-id/veridian/pkg/oauthx"
)

func newIntrospector(t *testing.T, e *testEnv, issuer *TokenIssuer) *IntrospectionAuthorizer {
	t.Helper()
	return &IntrospectionAuthorizer{
		Store:    e.store,
		Verifier: issuer.KeyManager.Verifier,
	}
}

func TestIntrospect_OwnerSeesReferenceToken(t *testing.T) {
	e := newTestEnv(t)
	owner := e.seedClient(t, "acme", "s3cr3t", nil)
	issuer := newIssuer(t, e)
	intro := newIntrospector(t, e, issuer)

	seedRefreshGrant(t, e, "refresh-1", "acme", domain.GrantPayload{
		Scopes: []string{"openid", "accounts:read"},
		SID:    "sess-1",
	})

	resp := intro.Introspect(context.Background(), "refresh-1", "", &owner)
	require.True(t, resp.Active)
	require.Equal(t, "Bearer", resp.TokenType)
	require.Equal(t, "acme", resp.ClientID)
	require.Equal(t, "user-1", resp.Sub)
	require.Equal(t, "openid accounts:read", resp.Scope)
	require.Equal(t, "sess-1", resp.SessionID)
	require.NotZero(t, resp.Exp)
}

func TestIntrospect_InactiveCasesIndistinguishable(t *testing.T) {
	e := newTestEnv(t)
	e.seedClient(t, "acme", "s3cr3t", nil)
	other := e.seedClient(t, "other", "secret2", nil)
	issuer := newIssuer(t, e)
	intro := newIntrospector(t, e, issuer)

	seedRefreshGrant(t, e, "refresh-1", "acme", domain.GrantPayload{
		Scopes: []string{"accounts:read"},
	})
	seedGrant(t, e, "expired-1", domain.GrantTypeRefreshToken, "other",
		domain.GrantPayload{Scopes: []string{"accounts:read"}}, -time.Minute)

	inactive := oauthx.IntrospectionResponse{Active: false}

	tests := []struct {
		name  string
		token string
	}{
		{"token owned by another client", "refresh-1"},
		{"expired own token", "expired-1"},
		{"nonexistent token", "no-such-token"},
		{"garbage jwt", "eyJhbGciOiJub25lIn0.e30."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := intro.Introspect(context.Background(), tt.token, "", &other)
			require.Equal(t, inactive, resp)
		})
	}
}

func TestIntrospect_ConsumedGrantInactive(t *testing.T) {
	e := newTestEnv(t)
	owner := e.seedClient(t, "acme", "s3cr3t", nil)
	issuer := newIssuer(t, e)
	intro := newIntrospector(t, e, issuer)

	seedRefreshGrant(t, e, "refresh-1", "acme", domain.GrantPayload{
		Scopes: []string{"openid"},
	})
	require.NoError(t, e.store.Grants().ConsumeGrant(context.Background(), "refresh-1", time.Now()))

	resp := intro.Introspect(context.Background(), "refresh-1", "", &owner)
	require.False(t, resp.Active)
}

func TestIntrospect_ResourceAudience(t *testing.T) {
	e := newTestEnv(t)
	e.seedClient(t, "acme", "s3cr3t", nil)
	resource := e.seedClient(t, "accounts-api", "rs-secret", nil)
	issuer := newIssuer(t, e)
	intro := newIntrospector(t, e, issuer)

	require.NoError(t, e.store.Resources().CreateAPIResource(context.Background(), domain.APIResource{
		Name:   "accounts-api",
		Scopes: []string{"accounts:read", "accounts:write"},
	}))

	seedRefreshGrant(t, e, "refresh-1", "acme", domain.GrantPayload{
		Scopes: []string{"accounts:read"},
	})
	seedRefreshGrant(t, e, "refresh-2", "acme", domain.GrantPayload{
		Scopes: []string{"openid"},
	})

	// Scope intersection grants visibility.
	resp := intro.Introspect(context.Background(), "refresh-1", "", &resource)
	require.True(t, resp.Active)

	// No intersecting scope: the token stays invisible.
	resp = intro.Introspect(context.Background(), "refresh-2", "", &resource)
	require.False(t, resp.Active)
}

func TestIntrospect_JWT(t *testing.T) {
	e := newTestEnv(t)
	owner := e.seedClient(t, "acme", "s3cr3t", nil)
	issuer := newIssuer(t, e)
	intro := newIntrospector(t, e, issuer)

	tokenResp, oerr := issuer.Issue(context.Background(),
		issueRequest(owner, oauthx.GrantClientCredentials))
	require.Nil(t, oerr)

	resp := intro.Introspect(context.Background(), tokenResp.AccessToken, "access_token", &owner)
	require.True(t, resp.Active)
	require.Equal(t, "Bearer", resp.TokenType)
	require.Equal(t, "acme", resp.ClientID)
	require.Equal(t, "acme", resp.Sub)
	require.Equal(t, testIssuer, resp.Iss)
	require.NotEmpty(t, resp.Jti)
	require.NotZero(t, resp.Exp)
	require.NotZero(t, resp.Iat)
}

func TestIntrospect_TenantIssuedJWT(t *testing.T) {
	e := newTestEnv(t)
	owner := e.seedClient(t, "acme", "s3cr3t", nil)
	issuer := newIssuer(t, e)
	intro := newIntrospector(t, e, issuer)

	// Minted through a tenant mount: the issuer claim carries the
	// tenant suffix but the token verifies against the same keys.
	ctx := WithTenant(context.Background(), "tenant-a")
	tokenResp, oerr := issuer.Issue(ctx, issueRequest(owner, oauthx.GrantClientCredentials))
	require.Nil(t, oerr)

	resp := intro.Introspect(context.Background(), tokenResp.AccessToken, "", &owner)
	require.True(t, resp.Active)
	require.Equal(t, testIssuer+"/tenant-a", resp.Iss)
	require.Equal(t, "acme", resp.ClientID)
}

func TestIntrospect_DPoPBoundJWT(t *testing.T) {
	e := newTestEnv(t)
	owner := e.seedClient(t, "acme", "s3cr3t", nil)
	issuer := newIssuer(t, e)
	intro := newIntrospector(t, e, issuer)

	const jkt = "NzbLsXh8uDCcd-6MNwXF4W_7noWXFZAfHkxZsRGC9Xs"
	req := issueRequest(owner, oauthx.GrantClientCredentials)
	req.DPoPKeyThumbprint = jkt

	tokenResp, oerr := issuer.Issue(context.Background(), req)
	require.Nil(t, oerr)

	resp := intro.Introspect(context.Background(), tokenResp.AccessToken, "", &owner)
	require.True(t, resp.Active)
	require.Equal(t, "DPoP", resp.TokenType)
	require.NotNil(t, resp.Cnf)
	require.Equal(t, jkt, resp.Cnf.JKT)
}

func TestIntrospect_ForeignJWTInactive(t *testing.T) {
	e := newTestEnv(t)
	owner := e.seedClient(t, "acme", "s3cr3t", nil)
	issuer := newIssuer(t, e)
	intro := newIntrospector(t, e, issuer)

	// A token signed by a different key set fails verification and
	// collapses to inactive like everything else.
	foreign, err := jwtx.NewEphemeralKeyManager(jwtx.KeyManagerOptions{
		Algorithm: jwtx.AlgorithmES256,
		Issuer:    testIssuer,
		NumKeys:   1,
	})
	require.NoError(t, err)

	claims := jwtx.NewAccessClaims("user-1", "", "acme",
		[]string{"openid"}, time.Minute, testIssuer, nil, time.Now())
	token, err := foreign.GetSigner().Sign(claims)
	require.NoError(t, err)

	resp := intro.Introspect(context.Background(), token, "", &owner)
	require.False(t, resp.Active)
}

func TestIntrospect_UnknownHint(t *testing.T) {
	e := newTestEnv(t)
	owner := e.seedClient(t, "acme", "s3cr3t", nil)
	issuer := newIssuer(t, e)
	intro := newIntrospector(t, e, issuer)

	seedRefreshGrant(t, e, "refresh-1", "acme", domain.GrantPayload{
		Scopes: []string{"openid"},
	})

	resp := intro.Introspect(context.Background(), "refresh-1", "id_token", &owner)
	require.False(t, resp.Active)

	// Known hints still resolve the token.
	resp = intro.Introspect(context.Background(), "refresh-1", "refresh_token", &owner)
	require.True(t, resp.Active)
}

func TestIntrospect_EmptyToken(t *testing.T) {
	e := newTestEnv(t)
	owner := e.seedClient(t, "acme", "s3cr3t", nil)
	issuer := newIssuer(t, e)
	intro := newIntrospector(t, e, issuer)

	resp := intro.Introspect(context.Background(), "", "", &owner)
	require.False(t, resp.Active)
}
