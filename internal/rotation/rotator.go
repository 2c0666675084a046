package rotation

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/steviebd/swole-tracker-sub007/internal/crypto"
	"github.com/steviebd/swole-tracker-sub007/internal/domain"
	apperrors "github.com/steviebd/swole-tracker-sub007/internal/errors"
	"github.com/steviebd/swole-tracker-sub007/internal/metrics"
	"github.com/steviebd/swole-tracker-sub007/internal/provider"
)

// Result is the outcome of a rotation attempt. AccessToken is always
// plaintext; the envelope never leaves the subsystem.
type Result struct {
	Rotated     bool
	AccessToken string
}

// Rotator orchestrates single-record token rotation: store lookup, policy
// evaluation, provider refresh, re-encryption, and the conditional write-back.
type Rotator struct {
	store     domain.CredentialStore
	keys      *crypto.Keychain
	providers *provider.Registry
	locker    domain.RotationLocker
	policy    *Policy
	clock     clockwork.Clock
}

// NewRotator wires the orchestrator. Pass domain.NoopLocker{} when no
// distributed lock is available.
func NewRotator(store domain.CredentialStore, keys *crypto.Keychain, providers *provider.Registry, locker domain.RotationLocker, clock clockwork.Clock) *Rotator {
	return &Rotator{
		store:     store,
		keys:      keys,
		providers: providers,
		locker:    locker,
		policy:    NewPolicy(clock),
		clock:     clock,
	}
}

// RotateTokens refreshes the credential for (userID, providerName) when the
// rotation policy says it is due, returning the current plaintext access
// token either way. The store is never mutated on provider failure.
func (r *Rotator) RotateTokens(ctx context.Context, userID uuid.UUID, providerName string) (*Result, error) {
	return r.rotate(ctx, userID, providerName, false)
}

// ForceRotate rotates unconditionally, bypassing the policy and its
// minimum-interval guard.
func (r *Rotator) ForceRotate(ctx context.Context, userID uuid.UUID, providerName string) (*Result, error) {
	return r.rotate(ctx, userID, providerName, true)
}

// ValidAccessToken is the single entry point for subsystems that need an
// authenticated provider call: it returns a usable plaintext access token,
// rotating first when necessary.
func (r *Rotator) ValidAccessToken(ctx context.Context, userID uuid.UUID, providerName string) (string, error) {
	res, err := r.RotateTokens(ctx, userID, providerName)
	if err != nil {
		return "", err
	}
	return res.AccessToken, nil
}

func (r *Rotator) rotate(ctx context.Context, userID uuid.UUID, providerName string, force bool) (*Result, error) {
	// The master key is validated on first use, not at boot.
	if r.keys == nil {
		return nil, apperrors.ConfigurationError("token encryption is not configured")
	}

	cred, err := r.store.FindActive(ctx, userID, providerName)
	if err != nil {
		metrics.RotationsTotal.WithLabelValues(providerName, "failed").Inc()
		return nil, err
	}

	if cred.RefreshToken == nil {
		metrics.RotationsTotal.WithLabelValues(providerName, "failed").Inc()
		return nil, apperrors.StateError("no refresh token available").
			WithContext("provider", providerName).
			WithContext("user_id", userID.String())
	}

	if !r.policy.ShouldRotate(cred.ExpiresAt, &cred.UpdatedAt, force) {
		return r.currentToken(cred, "fresh")
	}

	acquired, err := r.locker.Acquire(ctx, userID, providerName)
	if err != nil {
		// A broken lock backend degrades to unguarded rotation rather than
		// blocking token access entirely.
		slog.WarnContext(ctx, "Rotation lock unavailable, proceeding unlocked",
			"provider", providerName, "user_id", userID, "error", err)
		acquired = true
	} else if !acquired {
		// Another caller is rotating this record right now; hand back the
		// current token instead of double-refreshing.
		slog.InfoContext(ctx, "Rotation already in progress elsewhere",
			"provider", providerName, "user_id", userID)
		return r.currentToken(cred, "locked")
	} else {
		defer func() {
			if err := r.locker.Release(context.WithoutCancel(ctx), userID, providerName); err != nil {
				slog.WarnContext(ctx, "Failed to release rotation lock",
					"provider", providerName, "user_id", userID, "error", err)
			}
		}()
	}

	refreshPlain, err := r.keys.DecryptTransparent(*cred.RefreshToken)
	if err != nil {
		metrics.RotationsTotal.WithLabelValues(providerName, "failed").Inc()
		return nil, err
	}

	grant, err := r.providers.Refresh(ctx, providerName, refreshPlain)
	if err != nil {
		// Old tokens stay in place; they remain usable until actual expiry.
		metrics.RotationsTotal.WithLabelValues(providerName, "failed").Inc()
		return nil, err
	}

	update, err := r.buildUpdate(grant)
	if err != nil {
		metrics.RotationsTotal.WithLabelValues(providerName, "failed").Inc()
		return nil, err
	}

	if _, err := r.store.UpdateTokens(ctx, cred.ID, update, cred.UpdatedAt); err != nil {
		// The provider already issued new tokens; losing this write leaves
		// the record on the old refresh token, which may still work on the
		// next attempt. Log distinctly from an ordinary failure.
		slog.ErrorContext(ctx, "Rotated tokens could not be persisted",
			"provider", providerName, "user_id", userID, "credential_id", cred.ID, "error", err)
		metrics.RotationLostWrites.WithLabelValues(providerName).Inc()
		metrics.RotationsTotal.WithLabelValues(providerName, "failed").Inc()
		return nil, err
	}

	slog.InfoContext(ctx, "Rotated OAuth tokens",
		"provider", providerName, "user_id", userID, "credential_id", cred.ID,
		"refresh_token_rotated", grant.RefreshToken != "")
	metrics.RotationsTotal.WithLabelValues(providerName, "rotated").Inc()

	return &Result{Rotated: true, AccessToken: grant.AccessToken}, nil
}

func (r *Rotator) currentToken(cred *domain.Credential, outcome string) (*Result, error) {
	access, err := r.keys.DecryptTransparent(cred.AccessToken)
	if err != nil {
		metrics.RotationsTotal.WithLabelValues(cred.Provider, "failed").Inc()
		return nil, err
	}
	metrics.RotationsTotal.WithLabelValues(cred.Provider, outcome).Inc()
	return &Result{Rotated: false, AccessToken: access}, nil
}

func (r *Rotator) buildUpdate(grant *provider.Grant) (domain.TokenUpdate, error) {
	encAccess, err := r.keys.Encode(grant.AccessToken)
	if err != nil {
		return domain.TokenUpdate{}, err
	}
	update := domain.TokenUpdate{AccessToken: encAccess}

	// Only replace the stored refresh token when the provider rotated it.
	if grant.RefreshToken != "" {
		encRefresh, err := r.keys.Encode(grant.RefreshToken)
		if err != nil {
			return domain.TokenUpdate{}, err
		}
		update.RefreshToken = &encRefresh
	}

	if grant.ExpiresIn > 0 {
		expiresAt := r.clock.Now().Add(time.Duration(grant.ExpiresIn) * time.Second)
		update.ExpiresAt = &expiresAt
	}

	return update, nil
}
