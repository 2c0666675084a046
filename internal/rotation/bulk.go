package rotation

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/steviebd/swole-tracker-sub007/internal/crypto"
	"github.com/steviebd/swole-tracker-sub007/internal/domain"
	"github.com/steviebd/swole-tracker-sub007/internal/logging"
	"github.com/steviebd/swole-tracker-sub007/internal/metrics"
)

// DefaultSweepWindow is how far ahead the bulk rotator looks for expiring
// tokens.
const DefaultSweepWindow = 48 * time.Hour

// Record statuses reported by the bulk operations.
const (
	StatusMigrated = "migrated"
	StatusSkipped  = "skipped"
	StatusRotated  = "rotated"
	StatusFresh    = "fresh"
	StatusFailed   = "failed"
)

// RecordResult reports the outcome for one credential in a bulk operation.
type RecordResult struct {
	CredentialID uuid.UUID `json:"credentialId"`
	UserID       uuid.UUID `json:"userId"`
	Provider     string    `json:"provider"`
	Status       string    `json:"status"`
	Error        string    `json:"error,omitempty"`
}

// MigrationSummary aggregates a full plaintext-to-envelope migration pass.
type MigrationSummary struct {
	Migrated int            `json:"migrated"`
	Skipped  int            `json:"skipped"`
	Failed   int            `json:"failed"`
	Results  []RecordResult `json:"results"`
}

// Migrator encrypts legacy plaintext tokens in place. It scans every record,
// active or not: migration is a storage-format concern, not a liveness one.
type Migrator struct {
	store domain.CredentialStore
	keys  *crypto.Keychain
}

// NewMigrator creates a migrator. keys may be nil when no master key is
// configured yet; migration then reports everything skipped instead of
// failing.
func NewMigrator(store domain.CredentialStore, keys *crypto.Keychain) *Migrator {
	return &Migrator{store: store, keys: keys}
}

// MigrateTokens runs one migration pass. A failing record is recorded and
// counted but never aborts the scan.
func (m *Migrator) MigrateTokens(ctx context.Context) (*MigrationSummary, error) {
	records, err := m.store.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	summary := &MigrationSummary{Results: make([]RecordResult, 0, len(records))}

	if m.keys == nil {
		slog.InfoContext(ctx, "Token migration skipped: no master key configured", "records", len(records))
		for _, cred := range records {
			summary.record(cred, StatusSkipped, nil)
		}
		return summary, nil
	}

	for _, cred := range records {
		recCtx := logging.WithCorrelationID(ctx, logging.NewCorrelationID())
		m.migrateRecord(recCtx, cred, summary)
	}

	slog.InfoContext(ctx, "Token migration pass complete",
		"migrated", summary.Migrated, "skipped", summary.Skipped, "failed", summary.Failed)
	return summary, nil
}

func (m *Migrator) migrateRecord(ctx context.Context, cred domain.Credential, summary *MigrationSummary) {
	// An empty field counts as done: there is nothing to encrypt.
	accessDone := cred.AccessToken == "" || crypto.IsEnvelope(cred.AccessToken)
	refreshDone := cred.RefreshToken == nil || *cred.RefreshToken == "" || crypto.IsEnvelope(*cred.RefreshToken)
	if accessDone && refreshDone {
		summary.record(cred, StatusSkipped, nil)
		return
	}

	access, err := m.keys.MigrateIfPlaintext(cred.AccessToken)
	if err != nil {
		slog.WarnContext(ctx, "Token migration failed for record", "credential_id", cred.ID, "error", err)
		summary.record(cred, StatusFailed, err)
		return
	}

	var refresh *string
	if cred.RefreshToken != nil {
		migrated, err := m.keys.MigrateIfPlaintext(*cred.RefreshToken)
		if err != nil {
			slog.WarnContext(ctx, "Token migration failed for record", "credential_id", cred.ID, "error", err)
			summary.record(cred, StatusFailed, err)
			return
		}
		refresh = &migrated
	}

	if err := m.store.SaveMigrated(ctx, cred.ID, access, refresh); err != nil {
		slog.WarnContext(ctx, "Token migration write failed", "credential_id", cred.ID, "error", err)
		summary.record(cred, StatusFailed, err)
		return
	}

	summary.record(cred, StatusMigrated, nil)
}

func (s *MigrationSummary) record(cred domain.Credential, status string, err error) {
	result := RecordResult{
		CredentialID: cred.ID,
		UserID:       cred.UserID,
		Provider:     cred.Provider,
		Status:       status,
	}
	if err != nil {
		result.Error = err.Error()
	}
	s.Results = append(s.Results, result)

	metrics.MigrationRecordsTotal.WithLabelValues(status).Inc()
	switch status {
	case StatusMigrated:
		s.Migrated++
	case StatusSkipped:
		s.Skipped++
	case StatusFailed:
		s.Failed++
	}
}

// SweepSummary aggregates one bulk rotation pass.
type SweepSummary struct {
	Rotated int            `json:"rotated"`
	Fresh   int            `json:"fresh"`
	Failed  int            `json:"failed"`
	Results []RecordResult `json:"results"`
}

// SweepExpiring rotates every active credential expiring within the window
// (or with unknown expiry), sequentially. One failing record never stops the
// sweep; provider-API load stays bounded by the per-call timeout and the
// endpoint circuit breaker.
func (r *Rotator) SweepExpiring(ctx context.Context, window time.Duration) (*SweepSummary, error) {
	if window <= 0 {
		window = DefaultSweepWindow
	}

	candidates, err := r.store.ListRotationCandidates(ctx, r.clock.Now().Add(window))
	if err != nil {
		return nil, err
	}

	summary := &SweepSummary{Results: make([]RecordResult, 0, len(candidates))}

	for _, cred := range candidates {
		recCtx := logging.WithCorrelationID(ctx, logging.NewCorrelationID())

		result := RecordResult{
			CredentialID: cred.ID,
			UserID:       cred.UserID,
			Provider:     cred.Provider,
		}

		res, err := r.RotateTokens(recCtx, cred.UserID, cred.Provider)
		switch {
		case err != nil:
			result.Status = StatusFailed
			result.Error = err.Error()
			summary.Failed++
		case res.Rotated:
			result.Status = StatusRotated
			summary.Rotated++
		default:
			result.Status = StatusFresh
			summary.Fresh++
		}

		metrics.SweepRecordsTotal.WithLabelValues(result.Status).Inc()
		summary.Results = append(summary.Results, result)
	}

	slog.InfoContext(ctx, "Rotation sweep complete",
		"candidates", len(candidates),
		"rotated", summary.Rotated, "fresh", summary.Fresh, "failed", summary.Failed)
	return summary, nil
}
