package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steviebd/swole-tracker-sub007/internal/config"
	"github.com/steviebd/swole-tracker-sub007/internal/crypto"
	"github.com/steviebd/swole-tracker-sub007/internal/domain"
	apperrors "github.com/steviebd/swole-tracker-sub007/internal/errors"
	"github.com/steviebd/swole-tracker-sub007/internal/rotation"
)

const testMasterKey = "server-test-master-key-0123456789abcdef"

type mockRotationService struct {
	result       *rotation.Result
	err          error
	sweepSummary *rotation.SweepSummary
	forced       bool
	lastUserID   uuid.UUID
	lastProvider string
}

func (m *mockRotationService) RotateTokens(_ context.Context, userID uuid.UUID, provider string) (*rotation.Result, error) {
	m.lastUserID, m.lastProvider = userID, provider
	return m.result, m.err
}

func (m *mockRotationService) ForceRotate(_ context.Context, userID uuid.UUID, provider string) (*rotation.Result, error) {
	m.forced = true
	m.lastUserID, m.lastProvider = userID, provider
	return m.result, m.err
}

func (m *mockRotationService) ValidAccessToken(_ context.Context, userID uuid.UUID, provider string) (string, error) {
	m.lastUserID, m.lastProvider = userID, provider
	if m.err != nil {
		return "", m.err
	}
	return m.result.AccessToken, nil
}

func (m *mockRotationService) SweepExpiring(context.Context, time.Duration) (*rotation.SweepSummary, error) {
	return m.sweepSummary, m.err
}

type mockMigrationService struct {
	summary *rotation.MigrationSummary
	err     error
}

func (m *mockMigrationService) MigrateTokens(context.Context) (*rotation.MigrationSummary, error) {
	return m.summary, m.err
}

type mockCredentialStore struct {
	upserted    *domain.Credential
	found       *domain.Credential
	findErr     error
	deactivated []uuid.UUID
}

func (m *mockCredentialStore) Upsert(_ context.Context, cred *domain.Credential) (*domain.Credential, error) {
	m.upserted = cred
	saved := *cred
	saved.ID = uuid.New()
	saved.IsActive = true
	return &saved, nil
}

func (m *mockCredentialStore) FindActive(context.Context, uuid.UUID, string) (*domain.Credential, error) {
	return m.found, m.findErr
}

func (m *mockCredentialStore) Deactivate(_ context.Context, id uuid.UUID) error {
	m.deactivated = append(m.deactivated, id)
	return nil
}

type mockPinger struct {
	err error
}

func (m *mockPinger) Ping(context.Context) error { return m.err }

type testServerOptions struct {
	rotator     *mockRotationService
	migrator    *mockMigrationService
	credentials *mockCredentialStore
	keys        *crypto.Keychain
	postgres    pinger
	redis       pinger
}

func newTestServer(t *testing.T, opts testServerOptions) *Server {
	t.Helper()

	if opts.rotator == nil {
		opts.rotator = &mockRotationService{result: &rotation.Result{Rotated: true, AccessToken: "plain-token"}}
	}
	if opts.migrator == nil {
		opts.migrator = &mockMigrationService{summary: &rotation.MigrationSummary{}}
	}
	if opts.credentials == nil {
		opts.credentials = &mockCredentialStore{}
	}

	cfg := &config.Config{Port: "0", SweepWindow: rotation.DefaultSweepWindow}
	return NewServer(cfg, opts.rotator, opts.migrator, opts.credentials, opts.keys, opts.postgres, opts.redis)
}

func doRequest(srv *Server, method, target string, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)
	return rec
}

func TestHandleLiveness(t *testing.T) {
	srv := newTestServer(t, testServerOptions{})

	rec := doRequest(srv, http.MethodGet, "/health/live", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestHandleReadiness(t *testing.T) {
	t.Run("all healthy", func(t *testing.T) {
		srv := newTestServer(t, testServerOptions{postgres: &mockPinger{}, redis: &mockPinger{}})

		rec := doRequest(srv, http.MethodGet, "/health/ready", "")

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"status":"ready"}`, rec.Body.String())
	})

	t.Run("postgres down", func(t *testing.T) {
		srv := newTestServer(t, testServerOptions{postgres: &mockPinger{err: assert.AnError}, redis: &mockPinger{}})

		rec := doRequest(srv, http.MethodGet, "/health/ready", "")

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, rec.Body.String(), `"failed_check":"postgres"`)
	})

	t.Run("missing checkers are skipped", func(t *testing.T) {
		srv := newTestServer(t, testServerOptions{})

		rec := doRequest(srv, http.MethodGet, "/health/ready", "")

		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestHandleVersion(t *testing.T) {
	srv := newTestServer(t, testServerOptions{})

	rec := doRequest(srv, http.MethodGet, "/version", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"goVersion"`)
}

func TestHandleRotate(t *testing.T) {
	rotator := &mockRotationService{result: &rotation.Result{Rotated: true, AccessToken: "fresh-token"}}
	srv := newTestServer(t, testServerOptions{rotator: rotator})

	userID := uuid.New()
	rec := doRequest(srv, http.MethodPost, "/api/rotations/"+userID.String()+"/whoop", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"rotated":true,"accessToken":"fresh-token"}`, rec.Body.String())
	assert.Equal(t, userID, rotator.lastUserID)
	assert.Equal(t, "whoop", rotator.lastProvider)
	assert.False(t, rotator.forced)
}

func TestHandleRotate_InvalidUserID(t *testing.T) {
	srv := newTestServer(t, testServerOptions{})

	rec := doRequest(srv, http.MethodPost, "/api/rotations/not-a-uuid/whoop", "")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "userID must be a valid UUID")
}

func TestHandleRotate_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"not found", apperrors.NotFoundError("no active integration found"), http.StatusNotFound},
		{"no refresh token", apperrors.StateError("no refresh token available"), http.StatusUnprocessableEntity},
		{"provider down", apperrors.ProviderError("WHOOP token refresh failed", nil), http.StatusBadGateway},
		{"concurrent write", apperrors.ConflictError("credential modified concurrently"), http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, testServerOptions{rotator: &mockRotationService{err: tt.err}})

			rec := doRequest(srv, http.MethodPost, "/api/rotations/"+uuid.NewString()+"/whoop", "")

			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestHandleForceRotate(t *testing.T) {
	rotator := &mockRotationService{result: &rotation.Result{Rotated: true, AccessToken: "forced-token"}}
	srv := newTestServer(t, testServerOptions{rotator: rotator})

	rec := doRequest(srv, http.MethodPost, "/api/rotations/"+uuid.NewString()+"/whoop/force", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, rotator.forced)
}

func TestHandleAccessToken(t *testing.T) {
	rotator := &mockRotationService{result: &rotation.Result{Rotated: false, AccessToken: "usable-token"}}
	srv := newTestServer(t, testServerOptions{rotator: rotator})

	rec := doRequest(srv, http.MethodGet, "/api/tokens/"+uuid.NewString()+"/whoop", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"accessToken":"usable-token"}`, rec.Body.String())
}

func TestHandleLinkCredential(t *testing.T) {
	keys, err := crypto.NewKeychain(testMasterKey)
	require.NoError(t, err)

	store := &mockCredentialStore{}
	srv := newTestServer(t, testServerOptions{credentials: store, keys: keys})

	userID := uuid.New()
	body := `{"userId":"` + userID.String() + `","provider":"whoop","accessToken":"plain-at","refreshToken":"plain-rt"}`
	rec := doRequest(srv, http.MethodPut, "/api/credentials", body)

	require.Equal(t, http.StatusOK, rec.Code)

	// Tokens are encrypted before they reach the store.
	require.NotNil(t, store.upserted)
	assert.True(t, crypto.IsEnvelope(store.upserted.AccessToken))
	require.NotNil(t, store.upserted.RefreshToken)
	assert.True(t, crypto.IsEnvelope(*store.upserted.RefreshToken))

	plain, err := keys.Decode(store.upserted.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "plain-at", plain)

	// The response never echoes token material.
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotContains(t, resp, "accessToken")
	assert.NotContains(t, resp, "refreshToken")
}

func TestHandleLinkCredential_NoMasterKeyStoresPlaintext(t *testing.T) {
	store := &mockCredentialStore{}
	srv := newTestServer(t, testServerOptions{credentials: store})

	body := `{"userId":"` + uuid.NewString() + `","provider":"whoop","accessToken":"plain-at"}`
	rec := doRequest(srv, http.MethodPut, "/api/credentials", body)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "plain-at", store.upserted.AccessToken)
}

func TestHandleLinkCredential_ExpiresAtFormats(t *testing.T) {
	farFuture := time.Now().Add(72 * time.Hour).UTC().Truncate(time.Second)
	soonMillis := time.Now().Add(30 * time.Minute).UnixMilli()

	t.Run("RFC3339 string", func(t *testing.T) {
		store := &mockCredentialStore{}
		srv := newTestServer(t, testServerOptions{credentials: store})

		body := `{"userId":"` + uuid.NewString() + `","provider":"whoop","accessToken":"at","expiresAt":"` + farFuture.Format(time.RFC3339) + `"}`
		rec := doRequest(srv, http.MethodPut, "/api/credentials", body)

		require.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, store.upserted.ExpiresAt)
		assert.True(t, store.upserted.ExpiresAt.Equal(farFuture))
		assert.Contains(t, rec.Body.String(), `"rotationDue":false`)
	})

	t.Run("epoch milliseconds", func(t *testing.T) {
		store := &mockCredentialStore{}
		srv := newTestServer(t, testServerOptions{credentials: store})

		body := `{"userId":"` + uuid.NewString() + `","provider":"whoop","accessToken":"at","expiresAt":` + strconv.FormatInt(soonMillis, 10) + `}`
		rec := doRequest(srv, http.MethodPut, "/api/credentials", body)

		require.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, store.upserted.ExpiresAt)
		assert.True(t, store.upserted.ExpiresAt.Equal(time.UnixMilli(soonMillis)))
		// Expiring within the rotation window: caller should rotate now.
		assert.Contains(t, rec.Body.String(), `"rotationDue":true`)
	})

	t.Run("unknown expiry is due", func(t *testing.T) {
		store := &mockCredentialStore{}
		srv := newTestServer(t, testServerOptions{credentials: store})

		body := `{"userId":"` + uuid.NewString() + `","provider":"whoop","accessToken":"at"}`
		rec := doRequest(srv, http.MethodPut, "/api/credentials", body)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Nil(t, store.upserted.ExpiresAt)
		assert.Contains(t, rec.Body.String(), `"rotationDue":true`)
	})

	t.Run("unparseable expiry rejected", func(t *testing.T) {
		srv := newTestServer(t, testServerOptions{})

		body := `{"userId":"` + uuid.NewString() + `","provider":"whoop","accessToken":"at","expiresAt":"next tuesday"}`
		rec := doRequest(srv, http.MethodPut, "/api/credentials", body)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "expiresAt must be an RFC3339 timestamp or epoch milliseconds")
	})
}

func TestHandleLinkCredential_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"missing user", `{"provider":"whoop","accessToken":"at"}`, "userId is required"},
		{"missing provider", `{"userId":"` + uuid.NewString() + `","accessToken":"at"}`, "provider is required"},
		{"missing access token", `{"userId":"` + uuid.NewString() + `","provider":"whoop"}`, "accessToken is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, testServerOptions{})

			rec := doRequest(srv, http.MethodPut, "/api/credentials", tt.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.want)
		})
	}
}

func TestHandleUnlinkCredential(t *testing.T) {
	credID := uuid.New()
	store := &mockCredentialStore{found: &domain.Credential{ID: credID}}
	srv := newTestServer(t, testServerOptions{credentials: store})

	rec := doRequest(srv, http.MethodDelete, "/api/credentials/"+uuid.NewString()+"/whoop", "")

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []uuid.UUID{credID}, store.deactivated)
}

func TestHandleUnlinkCredential_NotFound(t *testing.T) {
	store := &mockCredentialStore{findErr: apperrors.NotFoundError("no active integration found")}
	srv := newTestServer(t, testServerOptions{credentials: store})

	rec := doRequest(srv, http.MethodDelete, "/api/credentials/"+uuid.NewString()+"/whoop", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, store.deactivated)
}

func TestHandleSweep(t *testing.T) {
	rotator := &mockRotationService{sweepSummary: &rotation.SweepSummary{Rotated: 2, Fresh: 3}}
	srv := newTestServer(t, testServerOptions{rotator: rotator})

	rec := doRequest(srv, http.MethodPost, "/api/sweeps", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"rotated":2`)
	assert.Contains(t, rec.Body.String(), `"fresh":3`)
}

func TestHandleMigration(t *testing.T) {
	migrator := &mockMigrationService{summary: &rotation.MigrationSummary{Migrated: 5, Skipped: 1}}
	srv := newTestServer(t, testServerOptions{migrator: migrator})

	rec := doRequest(srv, http.MethodPost, "/api/migrations", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"migrated":5`)
}
