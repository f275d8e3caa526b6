package service

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/veridian-id/veridian/internal/auth/domain"
	"github.com/veridian-id/veridian/internal/auth/store"
	"github.com/veridian-id/veridian/pkg/cryptox"
	"github.com/veridian-id/veridian/pkg/jwtx"
	"github.com/veridian-id/veridian/pkg/oauthx"
	"github.com/veridian-id/veridian/pkg/slogx"
)

// TokenIssuer is the reference issuance component behind the validated
// TokenRequest. It executes the grant-specific business logic the request
// validator deliberately leaves alone: credential/code consumption,
// refresh rotation, token signing.
type TokenIssuer struct {
	KeyManager *jwtx.KeyManager
	Store      store.Store
	Issuers    *IssuerResolver

	AccessTTL  time.Duration
	RefreshTTL time.Duration

	// Now is the clock; defaults to time.Now. Tests override it.
	Now func() time.Time
}

func (s *TokenIssuer) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *TokenIssuer) accessTTL(req *domain.TokenRequest) time.Duration {
	if req.Client.AccessTokenLifetime > 0 {
		return req.Client.AccessTokenLifetime
	}
	if s.AccessTTL > 0 {
		return s.AccessTTL
	}
	return jwtx.DefaultAccessTokenTTL
}

func (s *TokenIssuer) refreshTTL(req *domain.TokenRequest) time.Duration {
	if req.Client.RefreshTokenLifetime > 0 {
		return req.Client.RefreshTokenLifetime
	}
	if s.RefreshTTL > 0 {
		return s.RefreshTTL
	}
	return jwtx.DefaultRefreshTokenTTL
}

// Issue executes a validated token request. Grant types without an
// implementation here are rejected with unsupported_grant_type.
func (s *TokenIssuer) Issue(ctx context.Context, req *domain.TokenRequest) (*oauthx.TokenResponse, *oauthx.OAuth2Error) {
	switch req.GrantType {
	case oauthx.GrantClientCredentials:
		return s.issueClientCredentials(ctx, req)
	case oauthx.GrantAuthorizationCode:
		return s.issueAuthorizationCode(ctx, req)
	case oauthx.GrantRefreshToken:
		return s.issueRefreshToken(ctx, req)
	default:
		return nil, oauthx.ErrUnsupportedGrantType
	}
}

// issueClientCredentials mints a token for the client itself.
func (s *TokenIssuer) issueClientCredentials(ctx context.Context, req *domain.TokenRequest) (*oauthx.TokenResponse, *oauthx.OAuth2Error) {
	scopes := req.Client.Scopes
	var audience []string
	if req.Scopes != nil {
		scopes = req.Scopes.Scopes
		audience = req.Scopes.ResourceNames
	}

	return s.mint(ctx, mintParams{
		req:      req,
		subject:  req.Client.ID,
		scopes:   scopes,
		audience: audience,
	})
}

// issueAuthorizationCode redeems a stored code grant.
func (s *TokenIssuer) issueAuthorizationCode(ctx context.Context, req *domain.TokenRequest) (*oauthx.TokenResponse, *oauthx.OAuth2Error) {
	now := s.now()

	var resp *oauthx.TokenResponse
	var oerr *oauthx.OAuth2Error

	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		grant, err := tx.Grants().GetGrantByKey(ctx, req.Code)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				oerr = oauthx.ErrInvalidGrant
				return oerr
			}
			return err
		}

		if grant.Type != domain.GrantTypeAuthorizationCode ||
			grant.ClientID != req.Client.ID ||
			!grant.Active(now) {
			oerr = oauthx.ErrInvalidGrant
			return oerr
		}

		payload, err := grant.DecodePayload()
		if err != nil {
			oerr = oauthx.ErrInvalidGrant
			return oerr
		}

		// Codes are single use.
		if err := tx.Grants().ConsumeGrant(ctx, grant.Key, now); err != nil {
			oerr = oauthx.ErrInvalidGrant
			return oerr
		}

		resp, oerr = s.mintWithRefresh(ctx, tx, mintParams{
			req:     req,
			subject: grant.SubjectID,
			scopes:  payload.Scopes,
			sid:     payload.SID,
		})
		if oerr != nil {
			return oerr
		}
		return nil
	})
	if oerr != nil {
		return nil, oerr
	}
	if err != nil {
		slogx.FromContext(ctx).Error("authorization_code issuance failed", "error", err)
		return nil, oauthx.ErrServerError
	}
	return resp, nil
}

// issueRefreshToken rotates a refresh grant and mints a fresh access
// token. The request validator has already enforced DPoP key continuity;
// this path re-checks ownership and liveness.
func (s *TokenIssuer) issueRefreshToken(ctx context.Context, req *domain.TokenRequest) (*oauthx.TokenResponse, *oauthx.OAuth2Error) {
	now := s.now()

	var resp *oauthx.TokenResponse
	var oerr *oauthx.OAuth2Error

	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		grant, err := tx.Grants().GetGrantByKey(ctx, req.RefreshToken)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				oerr = oauthx.ErrInvalidGrant
				return oerr
			}
			return err
		}

		if grant.Type != domain.GrantTypeRefreshToken ||
			grant.ClientID != req.Client.ID ||
			!grant.Active(now) {
			oerr = oauthx.ErrInvalidGrant
			return oerr
		}

		payload, err := grant.DecodePayload()
		if err != nil {
			oerr = oauthx.ErrInvalidGrant
			return oerr
		}

		// Narrowing only: a refresh may request a subset of the
		// original scopes, never more.
		scopes := payload.Scopes
		if req.Scopes != nil {
			for _, want := range req.Scopes.Scopes {
				if !slices.Contains(payload.Scopes, want) {
					oerr = oauthx.ErrInvalidScope
					return oerr
				}
			}
			scopes = req.Scopes.Scopes
		}

		// Rotate: the presented token is consumed.
		if err := tx.Grants().ConsumeGrant(ctx, grant.Key, now); err != nil {
			oerr = oauthx.ErrInvalidGrant
			return oerr
		}

		resp, oerr = s.mintWithRefresh(ctx, tx, mintParams{
			req:     req,
			subject: grant.SubjectID,
			scopes:  scopes,
			sid:     payload.SID,
		})
		if oerr != nil {
			return oerr
		}
		return nil
	})
	if oerr != nil {
		return nil, oerr
	}
	if err != nil {
		slogx.FromContext(ctx).Error("refresh_token issuance failed", "error", err)
		return nil, oauthx.ErrServerError
	}
	return resp, nil
}

type mintParams struct {
	req      *domain.TokenRequest
	subject  string
	scopes   []string
	audience []string
	sid      string
}

// mint signs an access token for the request.
func (s *TokenIssuer) mint(ctx context.Context, p mintParams) (*oauthx.TokenResponse, *oauthx.OAuth2Error) {
	ttl := s.accessTTL(p.req)
	now := s.now()

	claims := jwtx.NewAccessClaims(
		p.subject, p.sid, p.req.Client.ID,
		p.scopes, ttl,
		s.Issuers.Issuer(ctx),
		p.audience,
		now,
	)

	tokenType := "Bearer"
	if p.req.DPoPKeyThumbprint != "" {
		claims.Cnf = &jwtx.Confirmation{JKT: p.req.DPoPKeyThumbprint}
		tokenType = "DPoP"
	}

	signer := s.KeyManager.GetSigner()
	if signer == nil {
		return nil, oauthx.ErrServerError
	}
	accessToken, err := signer.Sign(claims)
	if err != nil {
		slogx.FromContext(ctx).Error("access token signing failed", "error", err)
		return nil, oauthx.ErrServerError
	}

	return &oauthx.TokenResponse{
		AccessToken: accessToken,
		TokenType:   tokenType,
		ExpiresIn:   int64(ttl.Seconds()),
		Scope:       strings.Join(p.scopes, " "),
	}, nil
}

// mintWithRefresh mints the access token plus a rotated refresh grant.
func (s *TokenIssuer) mintWithRefresh(ctx context.Context, tx store.Tx, p mintParams) (*oauthx.TokenResponse, *oauthx.OAuth2Error) {
	resp, oerr := s.mint(ctx, p)
	if oerr != nil {
		return nil, oerr
	}

	refreshToken, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return nil, oauthx.ErrServerError
	}

	payload, err := domain.EncodeGrantPayload(domain.GrantPayload{
		Scopes: p.scopes,
		SID:    p.sid,
		JKT:    p.req.DPoPKeyThumbprint,
	})
	if err != nil {
		return nil, oauthx.ErrServerError
	}

	now := s.now()
	if err := tx.Grants().CreateGrant(ctx, domain.Grant{
		Key:       refreshToken,
		Type:      domain.GrantTypeRefreshToken,
		SubjectID: p.subject,
		ClientID:  p.req.Client.ID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.refreshTTL(p.req)),
		Payload:   payload,
	}); err != nil {
		return nil, oauthx.ErrServerError
	}

	resp.RefreshToken = refreshToken
	return resp, nil
}
