package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/steviebd/swole-tracker-sub007/internal/domain"
	apperrors "github.com/steviebd/swole-tracker-sub007/internal/errors"
)

const credentialColumns = `id, user_id, provider, access_token, refresh_token, expires_at, is_active, created_at, updated_at`

// CredentialRepository stores integration credentials in Postgres. Token
// columns hold encrypted envelopes (or legacy plaintext awaiting migration);
// the repository never inspects their content.
type CredentialRepository struct {
	pool *pgxpool.Pool
}

func NewCredentialRepository(pool *pgxpool.Pool) *CredentialRepository {
	return &CredentialRepository{pool: pool}
}

func (r *CredentialRepository) FindActive(ctx context.Context, userID uuid.UUID, provider string) (*domain.Credential, error) {
	query := `SELECT ` + credentialColumns + `
	          FROM integration_credentials
	          WHERE user_id = $1 AND provider = $2 AND is_active`

	cred, err := scanCredential(r.pool.QueryRow(ctx, query, userID, provider))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFoundError("no active integration found").
			WithContext("provider", provider).
			WithContext("user_id", userID.String())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load credential: %w", err)
	}
	return cred, nil
}

// UpdateTokens replaces the stored tokens only when updated_at still matches
// expectedUpdatedAt. A concurrent writer makes the update match zero rows,
// which surfaces as a conflict instead of silently clobbering newer tokens.
func (r *CredentialRepository) UpdateTokens(ctx context.Context, id uuid.UUID, update domain.TokenUpdate, expectedUpdatedAt time.Time) (*domain.Credential, error) {
	query := `UPDATE integration_credentials
	          SET access_token = $2,
	              refresh_token = COALESCE($3, refresh_token),
	              expires_at = COALESCE($4, expires_at),
	              updated_at = now()
	          WHERE id = $1 AND updated_at = $5
	          RETURNING ` + credentialColumns

	cred, err := scanCredential(r.pool.QueryRow(ctx, query,
		id, update.AccessToken, update.RefreshToken, update.ExpiresAt, expectedUpdatedAt))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ConflictError("credential modified concurrently").
			WithContext("credential_id", id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update credential tokens: %w", err)
	}
	return cred, nil
}

// SaveMigrated rewrites token columns in place without touching updated_at,
// so a storage-format migration never counts as a rotation.
func (r *CredentialRepository) SaveMigrated(ctx context.Context, id uuid.UUID, accessToken string, refreshToken *string) error {
	query := `UPDATE integration_credentials
	          SET access_token = $2,
	              refresh_token = COALESCE($3, refresh_token)
	          WHERE id = $1`

	tag, err := r.pool.Exec(ctx, query, id, accessToken, refreshToken)
	if err != nil {
		return fmt.Errorf("failed to save migrated tokens: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFoundError("no active integration found").
			WithContext("credential_id", id.String())
	}
	return nil
}

// ListRotationCandidates returns active credentials expiring on or before
// cutoff, including those with unknown expiry.
func (r *CredentialRepository) ListRotationCandidates(ctx context.Context, cutoff time.Time) ([]domain.Credential, error) {
	query := `SELECT ` + credentialColumns + `
	          FROM integration_credentials
	          WHERE is_active AND (expires_at IS NULL OR expires_at <= $1)
	          ORDER BY expires_at ASC NULLS FIRST`

	rows, err := r.pool.Query(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list rotation candidates: %w", err)
	}
	return collectCredentials(rows)
}

func (r *CredentialRepository) ListAll(ctx context.Context) ([]domain.Credential, error) {
	query := `SELECT ` + credentialColumns + `
	          FROM integration_credentials
	          ORDER BY created_at ASC`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}
	return collectCredentials(rows)
}

func (r *CredentialRepository) Deactivate(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE integration_credentials
	          SET is_active = FALSE, updated_at = now()
	          WHERE id = $1`

	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to deactivate credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFoundError("no active integration found").
			WithContext("credential_id", id.String())
	}
	return nil
}

// Upsert creates or replaces the credential for (user_id, provider). Used by
// the connect flow when a user first links a provider account.
func (r *CredentialRepository) Upsert(ctx context.Context, cred *domain.Credential) (*domain.Credential, error) {
	query := `INSERT INTO integration_credentials
	              (user_id, provider, access_token, refresh_token, expires_at, is_active)
	          VALUES ($1, $2, $3, $4, $5, TRUE)
	          ON CONFLICT (user_id, provider) DO UPDATE
	          SET access_token = EXCLUDED.access_token,
	              refresh_token = EXCLUDED.refresh_token,
	              expires_at = EXCLUDED.expires_at,
	              is_active = TRUE,
	              updated_at = now()
	          RETURNING ` + credentialColumns

	saved, err := scanCredential(r.pool.QueryRow(ctx, query,
		cred.UserID, cred.Provider, cred.AccessToken, cred.RefreshToken, cred.ExpiresAt))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert credential: %w", err)
	}
	return saved, nil
}

func scanCredential(row pgx.Row) (*domain.Credential, error) {
	var cred domain.Credential
	err := row.Scan(
		&cred.ID,
		&cred.UserID,
		&cred.Provider,
		&cred.AccessToken,
		&cred.RefreshToken,
		&cred.ExpiresAt,
		&cred.IsActive,
		&cred.CreatedAt,
		&cred.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &cred, nil
}

func collectCredentials(rows pgx.Rows) ([]domain.Credential, error) {
	defer rows.Close()

	var creds []domain.Credential
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan credential: %w", err)
		}
		creds = append(creds, *cred)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read credentials: %w", err)
	}
	return creds, nil
}
