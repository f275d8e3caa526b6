package http

import (
	"net/http"
	"strings"

	"github.com/veridian-id/veridian/internal/auth/service"
	"github.com/veridian-id/veridian/pkg/httpx"
	"github.com/veridian-id/veridian/pkg/oauthx"
)

// IntrospectHandler serves POST /oauth2/introspect following RFC 7662.
// Callers authenticate with their own client credentials; whether they may
// see a given token is decided by the introspection authorizer.
type IntrospectHandler struct {
	Clients       *service.ClientAuthenticator
	Introspection *service.IntrospectionAuthorizer
}

// ServeHTTP godoc
//
//	@Summary		OAuth2 Token Introspection Endpoint
//	@Description	Introspects a token and returns metadata about it (RFC 7662).
//	@Description	The caller authenticates with client credentials and may only see
//	@Description	tokens it owns or, as a resource server, tokens scoped to it. All
//	@Description	other outcomes return {"active": false} without revealing why.
//	@Tags			OAuth2
//	@Accept			application/x-www-form-urlencoded
//	@Produce		json
//	@Param			token			formData	string							true	"The token to introspect"
//	@Param			token_type_hint	formData	string							false	"Hint about token type"	Enums(access_token, refresh_token)
//	@Param			client_id		formData	string							false	"Client identifier (for post authentication)"
//	@Param			client_secret	formData	string							false	"Client secret (for client_secret_post authentication)"
//	@Success		200				{object}	oauthx.IntrospectionResponse	"Token introspection result"
//	@Failure		400				{object}	oauthx.ErrorResponse			"error, error_description"
//	@Failure		401				{object}	oauthx.ErrorResponse			"error, error_description"
//	@Header			200				{string}	Cache-Control					"no-store"
//	@Header			200				{string}	Pragma							"no-cache"
//	@Router			/oauth2/introspect [post].
func (h *IntrospectHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// 1. Ensure the right content-type; a missing one is rejected too
	if ct := r.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/x-www-form-urlencoded") {
		oauthx.ErrInvalidContentType.WriteError(w)
		return
	}

	// 2. Parse the form body
	if err := r.ParseForm(); err != nil {
		oauthx.ErrInvalidFormBody.WriteError(w)
		return
	}

	// 3. Authenticate the caller. Introspection is never anonymous.
	authResult := h.Clients.Authenticate(ctx, r)
	if !authResult.OK() {
		oauthx.ErrInvalidClient.WriteError(w)
		return
	}

	token := r.PostForm.Get("token")
	if token == "" {
		oauthx.ErrInvalidRequest.WithDescription("missing token").WriteError(w)
		return
	}
	tokenTypeHint := r.PostForm.Get("token_type_hint")

	// 4. Resolve and authorize; every failure mode is the same inactive
	// response.
	response := h.Introspection.Introspect(ctx, token, tokenTypeHint, authResult.Client)

	httpx.WriteJSON(w, http.StatusOK, response)
}
