package http

import (
	"net/http"

	"github.com/veridian-id/veridian/internal/auth/service"
	"github.com/veridian-id/veridian/pkg/httpx"
)

// TokenHandler serves POST /oauth2/token
// Accepts application/x-www-form-urlencoded per the RFC 6749 framework.
type TokenHandler struct {
	Validator *service.TokenRequestValidator
	Issuer    *service.TokenIssuer
}

// ServeHTTP godoc
//
//	@Summary		OAuth2 Token Endpoint
//	@Description	Issues access and refresh tokens using OAuth2 grant types (client_credentials, authorization_code, refresh_token).
//	@Description	Clients authenticate via HTTP Basic, form credentials, signed JWT assertions (RFC 7523) or as public clients.
//	@Description	Requests carrying a DPoP proof header (RFC 9449) receive sender-constrained tokens.
//	@Tags			OAuth2
//	@Accept			application/x-www-form-urlencoded
//	@Produce		json
//	@Param			grant_type				formData	string					true	"Grant type"	Enums(authorization_code, refresh_token, client_credentials)
//	@Param			code					formData	string					false	"Authorization code (required for authorization_code grant)"
//	@Param			redirect_uri			formData	string					false	"Redirect URI (when one was used in the authorization request)"
//	@Param			code_verifier			formData	string					false	"PKCE code_verifier (required when PKCE was used)"
//	@Param			refresh_token			formData	string					false	"Refresh token (required for refresh_token grant)"
//	@Param			client_id				formData	string					false	"Client identifier (for post and public client authentication)"
//	@Param			client_secret			formData	string					false	"Client secret (for client_secret_post authentication)"
//	@Param			client_assertion		formData	string					false	"Signed JWT client assertion (RFC 7523)"
//	@Param			client_assertion_type	formData	string					false	"Must be urn:ietf:params:oauth:client-assertion-type:jwt-bearer"
//	@Param			scope					formData	string					false	"Space-delimited list of scopes"
//	@Param			DPoP					header		string					false	"DPoP proof JWT binding the token to the client's key"
//	@Success		200						{object}	oauthx.TokenResponse	"access_token, token_type, expires_in, refresh_token, scope"
//	@Failure		400						{object}	oauthx.ErrorResponse	"error, error_description"
//	@Failure		401						{object}	oauthx.ErrorResponse	"error, error_description"
//	@Failure		500						{object}	oauthx.ErrorResponse	"error, error_description"
//	@Header			200						{string}	Cache-Control			"no-store"
//	@Header			200						{string}	Pragma					"no-cache"
//	@Router			/oauth2/token [post].
func (h *TokenHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// 1. Validate the request end to end: content type, client
	// authentication, grant parameters, scopes, DPoP binding.
	req, oerr := h.Validator.Validate(ctx, r)
	if oerr != nil {
		oerr.WriteError(w)
		return
	}

	// 2. Execute the grant.
	resp, oerr := h.Issuer.Issue(ctx, req)
	if oerr != nil {
		oerr.WriteError(w)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, resp)
}
