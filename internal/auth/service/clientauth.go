package service

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/veridian-id/veridian/internal/auth/cache"
	"github.com/veridian-id/veridian/internal/auth/domain"
	"github.com/veridian-id/veridian/internal/auth/store"
	"github.com/veridian-id/veridian/pkg/cryptox"
	"github.com/veridian-id/veridian/pkg/slogx"
)

var (
	ErrInvalidClient = errors.New("invalid_client")
	ErrInvalidScope  = errors.New("invalid_scope")
)

// ClientAuthenticator authenticates the caller of the token and
// introspection endpoints. Methods are tried in a fixed priority order;
// the first method whose required input is present determines the outcome
// and never falls through once its input is present.
type ClientAuthenticator struct {
	Store   store.Store
	Cache   cache.Cache
	Issuers *IssuerResolver

	// Now is the clock; defaults to time.Now. Tests override it.
	Now func() time.Time
}

// authStrategy is one authentication method. It reports applicable=false
// when its required input is absent, letting the orchestrator fall
// through to the next method. Once applicable, its result is final.
type authStrategy interface {
	authenticate(ctx context.Context, r *http.Request) (result domain.ClientAuthenticationResult, applicable bool)
}

func (a *ClientAuthenticator) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

// Authenticate runs the strategy chain against the request. The form must
// already be parsed.
func (a *ClientAuthenticator) Authenticate(ctx context.Context, r *http.Request) domain.ClientAuthenticationResult {
	strategies := []authStrategy{
		&basicStrategy{a},
		&postStrategy{a},
		&assertionStrategy{a},
		&publicStrategy{a},
	}

	for _, s := range strategies {
		if result, applicable := s.authenticate(ctx, r); applicable {
			return result
		}
	}

	return failResult("invalid_client", "no client authentication method matched")
}

// AuthenticateCredentials authenticates from already-extracted
// credentials, for callers that carry them outside the form body. An
// empty secret takes the public-client path.
func (a *ClientAuthenticator) AuthenticateCredentials(ctx context.Context, clientID, clientSecret string) domain.ClientAuthenticationResult {
	if clientID == "" {
		return failResult("invalid_client", "missing client_id")
	}
	if clientSecret == "" {
		return a.authenticatePublic(ctx, clientID)
	}
	return a.validateSecret(ctx, clientID, clientSecret, domain.AuthMethodClientSecretPost)
}

// validateSecret resolves the client and checks the candidate secret
// against every non-expired shared secret: a SHA-256 fingerprint match or
// a raw match (unhashed development secrets), first match wins. Both
// comparisons run in constant time.
func (a *ClientAuthenticator) validateSecret(ctx context.Context, clientID, candidate, method string) domain.ClientAuthenticationResult {
	client, err := a.resolveClient(ctx, clientID)
	if err != nil {
		return failResult("invalid_client", "unknown or disabled client")
	}

	fingerprint := cryptox.FingerprintSecret(candidate)
	for _, secret := range client.ActiveSecrets(domain.SecretTypeShared, a.now()) {
		if cryptox.SecureCompare(fingerprint, secret.Value) ||
			cryptox.SecureCompare(candidate, secret.Value) {
			return domain.ClientAuthenticationResult{Client: &client, Method: method}
		}
	}

	slogx.FromContext(ctx).Info("client secret validation failed", "client_id", clientID)
	return failResult("invalid_client", "invalid client secret")
}

// authenticatePublic resolves a client that presented no secret and
// requires it to actually be public.
func (a *ClientAuthenticator) authenticatePublic(ctx context.Context, clientID string) domain.ClientAuthenticationResult {
	client, err := a.resolveClient(ctx, clientID)
	if err != nil {
		return failResult("invalid_client", "unknown or disabled client")
	}
	if client.RequireClientSecret {
		return failResult("invalid_client", "client requires a secret")
	}
	return domain.ClientAuthenticationResult{Client: &client, Method: domain.AuthMethodNone}
}

// resolveClient fetches a client and enforces the enabled flag.
func (a *ClientAuthenticator) resolveClient(ctx context.Context, clientID string) (domain.Client, error) {
	client, err := a.Store.Clients().GetClientByID(ctx, clientID)
	if err != nil {
		return domain.Client{}, ErrInvalidClient
	}
	if !client.Enabled {
		return domain.Client{}, ErrInvalidClient
	}
	return client, nil
}

func failResult(code, description string) domain.ClientAuthenticationResult {
	return domain.ClientAuthenticationResult{
		ErrorCode:        code,
		ErrorDescription: description,
	}
}

// basicStrategy handles client_secret_basic. Malformed Basic headers
// (bad base64, no colon) are treated as not-applicable rather than an
// error: a broken header may coexist with a valid alternative method.
type basicStrategy struct {
	auth *ClientAuthenticator
}

func (s *basicStrategy) authenticate(ctx context.Context, r *http.Request) (domain.ClientAuthenticationResult, bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Basic "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return domain.ClientAuthenticationResult{}, false
	}

	decoded, err := base64.StdEncoding.DecodeString(header[len(prefix):])
	if err != nil {
		return domain.ClientAuthenticationResult{}, false
	}

	id, secret, found := strings.Cut(string(decoded), ":")
	if !found {
		return domain.ClientAuthenticationResult{}, false
	}

	// Credentials are form-urlencoded inside the header (RFC 6749 §2.3.1).
	clientID, err := url.QueryUnescape(id)
	if err != nil {
		return domain.ClientAuthenticationResult{}, false
	}
	clientSecret, err := url.QueryUnescape(secret)
	if err != nil {
		return domain.ClientAuthenticationResult{}, false
	}

	return s.auth.validateSecret(ctx, clientID, clientSecret, domain.AuthMethodClientSecretBasic), true
}

// postStrategy handles client_secret_post: client_id plus a non-empty
// client_secret in the form. A client_id without a secret is not
// applicable - it may be a public client.
type postStrategy struct {
	auth *ClientAuthenticator
}

func (s *postStrategy) authenticate(ctx context.Context, r *http.Request) (domain.ClientAuthenticationResult, bool) {
	clientID := r.PostForm.Get("client_id")
	clientSecret := r.PostForm.Get("client_secret")
	if clientID == "" || clientSecret == "" {
		return domain.ClientAuthenticationResult{}, false
	}

	return s.auth.validateSecret(ctx, clientID, clientSecret, domain.AuthMethodClientSecretPost), true
}

// publicStrategy handles method "none": a client_id in the form or query
// with no secret anywhere. The resolved client must not require a secret.
type publicStrategy struct {
	auth *ClientAuthenticator
}

func (s *publicStrategy) authenticate(ctx context.Context, r *http.Request) (domain.ClientAuthenticationResult, bool) {
	clientID := r.PostForm.Get("client_id")
	if clientID == "" {
		clientID = r.URL.Query().Get("client_id")
	}
	if clientID == "" {
		return domain.ClientAuthenticationResult{}, false
	}

	return s.auth.authenticatePublic(ctx, clientID), true
}
