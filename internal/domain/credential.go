// Package domain defines the integration credential model and the
// collaborator interfaces the rotation core depends on.
package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Provider names known to the system.
const (
	ProviderWhoop = "whoop"
)

// Credential is one user's stored OAuth tokens for one provider. The token
// fields hold either an encrypted envelope or, transiently before migration,
// legacy plaintext. UpdatedAt doubles as the last-rotation time for policy
// decisions.
type Credential struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	Provider     string
	AccessToken  string
	RefreshToken *string
	ExpiresAt    *time.Time
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// TokenUpdate carries the fields written back after a successful rotation.
// A nil RefreshToken or ExpiresAt leaves the stored value unchanged.
type TokenUpdate struct {
	AccessToken  string
	RefreshToken *string
	ExpiresAt    *time.Time
}

// CredentialStore is the persistence boundary for integration credentials.
type CredentialStore interface {
	// FindActive returns the active credential for (userID, provider).
	FindActive(ctx context.Context, userID uuid.UUID, provider string) (*Credential, error)

	// UpdateTokens writes rotated tokens in a single update. The write is
	// conditional on updated_at still matching expectedUpdatedAt so that
	// concurrent rotations of the same record are detected instead of
	// silently double-refreshing.
	UpdateTokens(ctx context.Context, id uuid.UUID, update TokenUpdate, expectedUpdatedAt time.Time) (*Credential, error)

	// SaveMigrated persists re-encoded token fields during migration,
	// without touching expiry or rotation bookkeeping.
	SaveMigrated(ctx context.Context, id uuid.UUID, accessToken string, refreshToken *string) error

	// ListRotationCandidates returns active credentials whose expiry falls
	// on or before cutoff, or is unknown. The caller derives cutoff from its
	// own clock so fake-clock tests stay deterministic.
	ListRotationCandidates(ctx context.Context, cutoff time.Time) ([]Credential, error)

	// ListAll returns every credential, active or not. Migration is a
	// storage-format concern, not a liveness concern.
	ListAll(ctx context.Context) ([]Credential, error)

	// Deactivate logically destroys a credential.
	Deactivate(ctx context.Context, id uuid.UUID) error
}

// RotationLocker serializes rotation attempts per (userID, provider) so
// concurrent callers do not both hit the provider's token endpoint. Some
// providers invalidate the previous refresh token on use, which makes the
// losing caller's tokens worthless.
type RotationLocker interface {
	// Acquire returns true when the caller holds the lock.
	Acquire(ctx context.Context, userID uuid.UUID, provider string) (bool, error)
	Release(ctx context.Context, userID uuid.UUID, provider string) error
}

// NoopLocker always grants the lock (single-instance or test deployments).
type NoopLocker struct{}

func (NoopLocker) Acquire(context.Context, uuid.UUID, string) (bool, error) { return true, nil }
func (NoopLocker) Release(context.Context, uuid.UUID, string) error         { return nil }
