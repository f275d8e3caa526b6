package service

import (
	"context"
	"errors"
	"slices"

	"github.com/veridian-id/veridian/internal/auth/domain"
	"github.com/veridian-id/veridian/internal/auth/store"
	"github.com/veridian-id/veridian/pkg/httpx"
)

// ParseScopes splits a space-delimited scope string into scope names,
// dropping empties.
func ParseScopes(scope string) []string {
	return httpx.ParseSpaceDelimitedFields(scope)
}

// ScopeValidator checks a requested scope set against a client's allowed
// set and buckets valid scopes by the resource registry.
type ScopeValidator struct {
	Resources store.Resources
}

// Validate is all-or-nothing: any requested scope outside clientAllowed
// fails the whole request with ErrInvalidScope, nothing is silently
// dropped.
func (v *ScopeValidator) Validate(ctx context.Context, requested, clientAllowed []string) (domain.ScopeValidationResult, error) {
	// 1. Every requested scope must be in the client's allowed set.
	for _, s := range requested {
		if !slices.Contains(clientAllowed, s) {
			return domain.ScopeValidationResult{}, ErrInvalidScope
		}
	}

	result := domain.ScopeValidationResult{
		Valid:  true,
		Scopes: append([]string(nil), requested...),
	}

	// 2. Bucket each scope by the registry. Scopes without a registry
	// entry count as API scopes so unregistered custom scopes still
	// reach resource servers.
	seen := make(map[string]struct{})
	for _, name := range requested {
		switch name {
		case domain.ScopeOpenID:
			result.HasOpenID = true
		case domain.ScopeOfflineAccess:
			result.HasOfflineAccess = true
		}

		scopeType := domain.ScopeTypeAPI
		if def, err := v.Resources.GetScopeByName(ctx, name); err == nil {
			scopeType = def.Type
		} else if !errors.Is(err, store.ErrNotFound) {
			return domain.ScopeValidationResult{}, err
		}

		switch scopeType {
		case domain.ScopeTypeIdentity:
			result.IdentityScopes = append(result.IdentityScopes, name)
		default:
			result.APIScopes = append(result.APIScopes, name)
		}

		resources, err := v.Resources.ListAPIResourcesByScope(ctx, name)
		if err != nil {
			return domain.ScopeValidationResult{}, err
		}
		for _, res := range resources {
			if _, ok := seen[res.Name]; ok {
				continue
			}
			seen[res.Name] = struct{}{}
			result.ResourceNames = append(result.ResourceNames, res.Name)
		}
	}

	return result, nil
}
