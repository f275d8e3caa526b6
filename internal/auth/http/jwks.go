package http

import (
	"net/http"

	"github.com/veridian-id/veridian/pkg/httpx"
	"github.com/veridian-id/veridian/pkg/jwtx"
)

// JWKSHandler exposes the JSON Web Key Set for public key discovery.
//
//	@Summary		Get JWKS
//	@Description	Returns the JSON Web Key Set used to verify issued tokens.
//	@Tags			well-known
//	@Produce		json
//	@Success		200	{object}	map[string]any	"The JSON Web Key Set"
//	@Router			/.well-known/jwks.json [get].
func JWKSHandler(keys *jwtx.KeySet) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, keys.PublicJWKS())
	}
}
