package domain

// Scope types in the resource registry.
const (
	ScopeTypeIdentity = "identity"
	ScopeTypeAPI      = "api"
)

// Well-known identity scopes.
const (
	ScopeOpenID        = "openid"
	ScopeOfflineAccess = "offline_access"
)

// Scope is a registered scope definition.
type Scope struct {
	Name        string
	Type        string
	Description string
}

// APIResource is a protected resource server. Clients whose id matches a
// resource name may introspect tokens scoped to that resource.
type APIResource struct {
	Name   string
	Scopes []string
}

// HasScope reports whether the resource covers the given scope name.
func (r *APIResource) HasScope(scope string) bool {
	for _, s := range r.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}
