package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/veridian-id/veridian/internal/auth/cache"
	"github.com/veridian-id/veridian/internal/auth/domain"
	"github.com/veridian-id/veridian/internal/auth/store/drivers/sqlite"
	"github.com/veridian-id/veridian/pkg/cryptox"
)

const testIssuer = "https://auth.example.com"

// testEnv wires a :memory: store, a miniredis-backed cache and the
// protocol services for tests.
type testEnv struct {
	store   *sqlite.Store
	cache   *cache.RedisCache
	auth    *ClientAuthenticator
	scopes  *ScopeValidator
	issuers *IssuerResolver
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	s, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	require.NoError(t, s.ApplyMigrations())
	t.Cleanup(func() { _ = s.Close() })

	mr := miniredis.RunT(t)
	c := cache.NewRedisCacheWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = c.Close() })

	issuers := &IssuerResolver{BaseURL: testIssuer}

	return &testEnv{
		store:   s,
		cache:   c,
		issuers: issuers,
		scopes:  &ScopeValidator{Resources: s.Resources()},
		auth: &ClientAuthenticator{
			Store:   s,
			Cache:   c,
			Issuers: issuers,
		},
	}
}

// seedClient registers a confidential client with a hashed shared secret.
func (e *testEnv) seedClient(t *testing.T, id, secret string, mutate func(*domain.Client)) domain.Client {
	t.Helper()

	client := domain.Client{
		ID:                  id,
		Name:                id,
		Enabled:             true,
		RequireClientSecret: secret != "",
		GrantTypes:          []string{"client_credentials", "authorization_code", "refresh_token"},
		Scopes:              []string{"openid", "accounts:read", "accounts:write"},
	}
	if secret != "" {
		client.Secrets = []domain.ClientSecret{{
			Type:  domain.SecretTypeShared,
			Value: cryptox.FingerprintSecret(secret),
		}}
	}
	if mutate != nil {
		mutate(&client)
	}
	require.NoError(t, e.store.Clients().CreateClient(context.Background(), client))
	return client
}

// formRequest builds a parsed POST form request to the token endpoint.
func formRequest(t *testing.T, values url.Values, mutate func(*http.Request)) *http.Request {
	t.Helper()

	r := httptest.NewRequest(http.MethodPost, testIssuer+"/oauth2/token",
		strings.NewReader(values.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if mutate != nil {
		mutate(r)
	}
	require.NoError(t, r.ParseForm())
	return r
}

func timePtr(t time.Time) *time.Time { return &t }
