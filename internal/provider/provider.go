// Package provider implements OAuth refresh-token grants against external
// fitness-data providers, behind a name-keyed registry so new providers can be
// added without touching the rotation orchestrator.
package provider

import (
	"context"

	apperrors "github.com/steviebd/swole-tracker-sub007/internal/errors"
)

// Grant is the normalized result of a refresh-token exchange.
type Grant struct {
	AccessToken string
	// RefreshToken is empty when the provider did not rotate the refresh
	// token; the caller keeps the existing one.
	RefreshToken string
	// ExpiresIn is the access token lifetime in seconds, 0 when unknown.
	ExpiresIn int
}

// Refresher exchanges a still-valid refresh token for fresh tokens at one
// provider's OAuth endpoint.
type Refresher interface {
	Name() string
	Refresh(ctx context.Context, refreshToken string) (*Grant, error)
}

// Registry dispatches refresh calls by provider name.
type Registry struct {
	refreshers map[string]Refresher
}

// NewRegistry builds a registry from the given refreshers.
func NewRegistry(refreshers ...Refresher) *Registry {
	m := make(map[string]Refresher, len(refreshers))
	for _, r := range refreshers {
		m[r.Name()] = r
	}
	return &Registry{refreshers: m}
}

// Refresh performs the grant for the named provider. An unknown provider
// fails without any network call.
func (r *Registry) Refresh(ctx context.Context, name, refreshToken string) (*Grant, error) {
	ref, ok := r.refreshers[name]
	if !ok {
		return nil, apperrors.ProviderError("unsupported provider", nil).WithContext("provider", name)
	}
	return ref.Refresh(ctx, refreshToken)
}
