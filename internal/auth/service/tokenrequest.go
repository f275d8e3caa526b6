package service

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/veridian-id/veridian/internal/auth/domain"
	"github.com/veridian-id/veridian/internal/auth/dpop"
	"github.com/veridian-id/veridian/internal/auth/store"
	"github.com/veridian-id/veridian/pkg/oauthx"
	"github.com/veridian-id/veridian/pkg/slogx"
)

// TokenRequestValidator orchestrates client authentication, grant-type
// authorization, per-grant parameter parsing, scope validation and DPoP
// binding into one validated TokenRequest.
type TokenRequestValidator struct {
	Clients *ClientAuthenticator
	Scopes  *ScopeValidator
	Store   store.Store
	DPoP    dpop.ProofValidator
}

// Validate runs the pipeline against an inbound token endpoint request.
// On success the returned TokenRequest is complete and immutable; the
// caller hands it to the token issuer.
func (v *TokenRequestValidator) Validate(ctx context.Context, r *http.Request) (*domain.TokenRequest, *oauthx.OAuth2Error) {
	log := slogx.FromContext(ctx)

	// 1. Token requests are form-encoded, full stop. An absent
	// Content-Type is just as wrong as an incorrect one.
	if ct := r.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/x-www-form-urlencoded") {
		return nil, oauthx.ErrInvalidContentType
	}
	if err := r.ParseForm(); err != nil {
		return nil, oauthx.ErrInvalidFormBody
	}

	// 2. Authenticate the client; failures propagate verbatim.
	authResult := v.Clients.Authenticate(ctx, r)
	if !authResult.OK() {
		log.Info("token request client authentication failed",
			"error", authResult.ErrorCode)
		return nil, authError(authResult)
	}

	// 3. Project into the issuance snapshot.
	req := &domain.TokenRequest{
		Form:   r.PostForm,
		Client: domain.NewValidatedClient(authResult.Client, authResult.Method),
	}

	// 4. grant_type is required and must be registered for the client.
	req.GrantType = r.PostForm.Get("grant_type")
	if req.GrantType == "" {
		return nil, oauthx.ErrInvalidRequest.WithDescription("missing grant_type")
	}
	if !authResult.Client.AllowsGrantType(req.GrantType) {
		return nil, oauthx.ErrUnauthorizedClient
	}

	// 5. Per-grant parameter parsing. Unknown grant types pass through
	// untouched; the downstream issuer owns the rejection.
	if oerr := v.parseGrantParams(req, r); oerr != nil {
		return nil, oerr
	}

	// 6. Scope validation, all-or-nothing.
	if scope := r.PostForm.Get("scope"); scope != "" {
		result, err := v.Scopes.Validate(ctx, ParseScopes(scope), authResult.Client.Scopes)
		if err != nil {
			if errors.Is(err, ErrInvalidScope) {
				return nil, oauthx.ErrInvalidScope
			}
			log.Error("scope validation failed", "error", err)
			return nil, oauthx.ErrServerError
		}
		req.Scopes = &result
	}

	// 7. DPoP binding.
	if oerr := v.validateDPoP(ctx, req, r); oerr != nil {
		return nil, oerr
	}

	return req, nil
}

// parseGrantParams applies the per-grant required/optional parameter
// table. Missing required parameters fail with invalid_request.
func (v *TokenRequestValidator) parseGrantParams(req *domain.TokenRequest, r *http.Request) *oauthx.OAuth2Error {
	form := r.PostForm

	required := func(name string) (string, *oauthx.OAuth2Error) {
		val := form.Get(name)
		if val == "" {
			return "", oauthx.ErrInvalidRequest.WithDescription("missing " + name)
		}
		return val, nil
	}

	var oerr *oauthx.OAuth2Error
	switch req.GrantType {
	case oauthx.GrantAuthorizationCode:
		if req.Code, oerr = required("code"); oerr != nil {
			return oerr
		}
		req.RedirectURI = form.Get("redirect_uri")
		req.CodeVerifier = form.Get("code_verifier")

	case oauthx.GrantRefreshToken:
		if req.RefreshToken, oerr = required("refresh_token"); oerr != nil {
			return oerr
		}

	case oauthx.GrantClientCredentials:
		// No grant-specific parameters.

	case oauthx.GrantPassword:
		if req.Username, oerr = required("username"); oerr != nil {
			return oerr
		}
		if req.Password, oerr = required("password"); oerr != nil {
			return oerr
		}

	case oauthx.GrantDeviceCode:
		if req.DeviceCode, oerr = required("device_code"); oerr != nil {
			return oerr
		}

	case oauthx.GrantTokenExchange:
		if req.SubjectToken, oerr = required("subject_token"); oerr != nil {
			return oerr
		}
		if req.SubjectTokenType, oerr = required("subject_token_type"); oerr != nil {
			return oerr
		}
		req.ActorToken = form.Get("actor_token")
		req.ActorTokenType = form.Get("actor_token_type")
		req.RequestedTokenType = form.Get("requested_token_type")

	case oauthx.GrantJWTBearer:
		if req.Assertion, oerr = required("assertion"); oerr != nil {
			return oerr
		}

	case oauthx.GrantCIBA:
		if req.AuthReqID, oerr = required("auth_req_id"); oerr != nil {
			return oerr
		}

	default:
		// Unknown grant types succeed at this stage.
	}

	return nil
}

// validateDPoP enforces the single-header rule, the client's DPoP
// requirement, and delegates proof validation. For refresh grants the
// proof key must match the thumbprint the original token was bound to.
func (v *TokenRequestValidator) validateDPoP(ctx context.Context, req *domain.TokenRequest, r *http.Request) *oauthx.OAuth2Error {
	headers := r.Header.Values("DPoP")
	if len(headers) > 1 {
		return oauthx.ErrInvalidRequest.WithDescription("multiple DPoP headers")
	}

	// Refresh grants inherit the binding of the presented grant: a
	// key-bound refresh token can only be redeemed with a proof from
	// that key, header or no header.
	var boundThumbprint string
	if req.GrantType == oauthx.GrantRefreshToken && req.RefreshToken != "" {
		if grant, err := v.Store.Grants().GetGrantByKey(ctx, req.RefreshToken); err == nil {
			if payload, err := grant.DecodePayload(); err == nil {
				boundThumbprint = payload.JKT
			}
		}
		// A missing grant is not this stage's problem; the issuer
		// rejects it with invalid_grant.
	}

	if len(headers) == 0 {
		if req.Client.RequireDPoP {
			return oauthx.ErrInvalidRequest.WithDescription("client requires DPoP")
		}
		if boundThumbprint != "" {
			return oauthx.ErrInvalidRequest.WithDescription("refresh token is bound to a DPoP key")
		}
		return nil
	}

	proofReq := dpop.ProofRequest{
		Method:             r.Method,
		URL:                requestURL(r),
		ExpectedThumbprint: boundThumbprint,
	}

	proof, err := v.DPoP.ValidateProof(ctx, headers[0], proofReq)
	if err != nil {
		var nonceErr *dpop.ErrNonceRequired
		if errors.As(err, &nonceErr) {
			return oauthx.NewUseDPoPNonceError(nonceErr.Nonce)
		}
		return oauthx.ErrInvalidDPoPProof
	}

	req.DPoPProof = headers[0]
	req.DPoPKeyThumbprint = proof.Thumbprint
	return nil
}

// authError maps a failed authentication result onto the wire error.
func authError(result domain.ClientAuthenticationResult) *oauthx.OAuth2Error {
	err := oauthx.ErrInvalidClient
	if result.ErrorCode != "" && result.ErrorCode != oauthx.ErrorCodeInvalidClient {
		err = oauthx.NewOAuth2Error(err.StatusCode, result.ErrorCode, result.ErrorDescription)
		return err
	}
	if result.ErrorDescription != "" {
		return err.WithDescription(result.ErrorDescription)
	}
	return err
}

// requestURL reconstructs the full URL of an inbound request for DPoP
// htu comparison.
func requestURL(r *http.Request) string {
	scheme := "https"
	if r.TLS == nil {
		scheme = "http"
	}
	if fwd := r.Header.Get("X-Forwarded-Proto"); fwd != "" {
		scheme = fwd
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}
