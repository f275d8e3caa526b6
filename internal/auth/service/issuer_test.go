package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIssuerResolver(t *testing.T) {
	r := &IssuerResolver{BaseURL: "https://auth.example.com/"}
	ctx := context.Background()

	require.Equal(t, "https://auth.example.com", r.Issuer(ctx))
	require.Equal(t, "https://auth.example.com/oauth2/token", r.TokenEndpoint(ctx))

	tenant := WithTenant(ctx, "tenant-a")
	require.Equal(t, "https://auth.example.com/tenant-a", r.Issuer(tenant))
	require.Equal(t, "https://auth.example.com/tenant-a/oauth2/token", r.TokenEndpoint(tenant))
}

func TestTenantFromContext(t *testing.T) {
	require.Empty(t, TenantFromContext(context.Background()))
	require.Equal(t, "x", TenantFromContext(WithTenant(context.Background(), "x")))
}
