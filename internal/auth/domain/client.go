package domain

import (
	"time"
)

// Secret types understood by client authentication.
const (
	SecretTypeShared = "shared_secret"
	SecretTypeJWK    = "jwk"
	SecretTypeX509   = "x509_cert"
)

// ClientSecret is a single registered credential for a client. Value holds
// either a SHA-256 base64url fingerprint (or a raw development secret) for
// shared secrets, a serialized JWK, or a PEM certificate depending on Type.
type ClientSecret struct {
	ID         string     `json:"id"`
	Type       string     `json:"type"`
	Value      string     `json:"value"`
	Expiration *time.Time `json:"expiration,omitempty"`
}

// Expired reports whether the secret has an expiration in the past.
func (s ClientSecret) Expired(now time.Time) bool {
	return s.Expiration != nil && now.After(*s.Expiration)
}

// Client is a registered OAuth2 client. Read-only to the protocol core;
// ownership lives with the client store.
type Client struct {
	ID      string
	Name    string
	Enabled bool

	Secrets []ClientSecret

	// GrantTypes the client may use at the token endpoint.
	GrantTypes []string

	// Scopes the client may request.
	Scopes []string

	// RequireClientSecret is false for public clients.
	RequireClientSecret bool

	// RequireDPoP forces a DPoP proof on every token request.
	RequireDPoP bool

	// RequirePKCE forces a code_verifier on authorization_code requests.
	RequirePKCE bool

	// AllowPlainTextPKCE permits the "plain" code challenge method.
	AllowPlainTextPKCE bool

	AccessTokenLifetime  time.Duration
	RefreshTokenLifetime time.Duration

	// Properties carries free-form client metadata.
	Properties map[string]string
}

// AllowsGrantType reports whether the client is registered for the grant.
func (c *Client) AllowsGrantType(grantType string) bool {
	for _, g := range c.GrantTypes {
		if g == grantType {
			return true
		}
	}
	return false
}

// ActiveSecrets returns the non-expired secrets of the given type.
func (c *Client) ActiveSecrets(secretType string, now time.Time) []ClientSecret {
	var out []ClientSecret
	for _, s := range c.Secrets {
		if s.Type == secretType && !s.Expired(now) {
			out = append(out, s)
		}
	}
	return out
}
