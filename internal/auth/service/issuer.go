package service

import (
	"context"
	"strings"
)

type tenantKey struct{}

// WithTenant returns a context carrying the active tenant identifier.
// Tenancy is always explicit context, never ambient state.
func WithTenant(ctx context.Context, tenant string) context.Context {
	return context.WithValue(ctx, tenantKey{}, tenant)
}

// TenantFromContext returns the active tenant, or "" when none is set.
func TenantFromContext(ctx context.Context) string {
	t, _ := ctx.Value(tenantKey{}).(string)
	return t
}

// IssuerResolver derives the issuer and token endpoint URLs, suffixing the
// base URL with the tenant identifier when a tenant is active.
type IssuerResolver struct {
	// BaseURL is the server's canonical base URL, e.g.
	// "https://auth.example.com". No trailing slash.
	BaseURL string
}

// Issuer returns the issuer URL for the request's tenant.
func (r *IssuerResolver) Issuer(ctx context.Context) string {
	base := strings.TrimRight(r.BaseURL, "/")
	if tenant := TenantFromContext(ctx); tenant != "" {
		return base + "/" + tenant
	}
	return base
}

// TokenEndpoint returns the token endpoint URL for the request's tenant.
func (r *IssuerResolver) TokenEndpoint(ctx context.Context) string {
	return r.Issuer(ctx) + "/oauth2/token"
}
