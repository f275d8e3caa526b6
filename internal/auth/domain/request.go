package domain

import (
	"net/url"
	"time"
)

// Client authentication methods recorded on successful authentication.
const (
	AuthMethodNone              = "none"
	AuthMethodClientSecretBasic = "client_secret_basic"
	AuthMethodClientSecretPost  = "client_secret_post"
	AuthMethodPrivateKeyJWT     = "private_key_jwt"
	AuthMethodClientSecretJWT   = "client_secret_jwt"
)

// ClientAuthenticationResult is the outcome of authenticating a caller.
// Exactly one of (Client, Method) or (ErrorCode, ErrorDescription) is
// populated. Transient, request-scoped.
type ClientAuthenticationResult struct {
	Client *Client
	Method string

	ErrorCode        string
	ErrorDescription string
}

// OK reports whether authentication succeeded.
func (r ClientAuthenticationResult) OK() bool {
	return r.Client != nil && r.ErrorCode == ""
}

// ValidatedClient is a flattened, read-only snapshot of the Client fields
// relevant to issuance. Pure data; no decision logic.
type ValidatedClient struct {
	ID                   string
	Name                 string
	GrantTypes           []string
	Scopes               []string
	RequireDPoP          bool
	RequirePKCE          bool
	AllowPlainTextPKCE   bool
	AccessTokenLifetime  time.Duration
	RefreshTokenLifetime time.Duration
	Properties           map[string]string
	AuthMethod           string
}

// NewValidatedClient projects a resolved client and the method used to
// authenticate it into the issuance snapshot.
func NewValidatedClient(c *Client, method string) ValidatedClient {
	return ValidatedClient{
		ID:                   c.ID,
		Name:                 c.Name,
		GrantTypes:           append([]string(nil), c.GrantTypes...),
		Scopes:               append([]string(nil), c.Scopes...),
		RequireDPoP:          c.RequireDPoP,
		RequirePKCE:          c.RequirePKCE,
		AllowPlainTextPKCE:   c.AllowPlainTextPKCE,
		AccessTokenLifetime:  c.AccessTokenLifetime,
		RefreshTokenLifetime: c.RefreshTokenLifetime,
		Properties:           c.Properties,
		AuthMethod:           method,
	}
}

// ScopeValidationResult is the validated scope set plus its categorized
// sub-sets and derived booleans.
type ScopeValidationResult struct {
	Valid bool

	Scopes         []string
	IdentityScopes []string
	APIScopes      []string
	ResourceNames  []string

	HasOpenID        bool
	HasOfflineAccess bool
}

// TokenRequest is the fully validated, normalized representation of a
// token endpoint call. Built once per request, immutable thereafter, and
// handed to the token issuer.
type TokenRequest struct {
	// Raw form parameters as received.
	Form url.Values

	Client    ValidatedClient
	GrantType string

	// Grant-specific clusters; exactly one is populated per grant type.
	Code         string
	RedirectURI  string
	CodeVerifier string

	RefreshToken string

	Username string
	Password string

	DeviceCode string

	SubjectToken       string
	SubjectTokenType   string
	ActorToken         string
	ActorTokenType     string
	RequestedTokenType string

	Assertion string

	AuthReqID string

	// Scopes is present when the request carried a scope parameter.
	Scopes *ScopeValidationResult

	// DPoP binding.
	DPoPProof         string
	DPoPKeyThumbprint string
}
