package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/steviebd/swole-tracker-sub007/internal/errors"
)

func newTestWhoop(t *testing.T, handler http.HandlerFunc) *WhoopRefresher {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	w := NewWhoopRefresher("client-id", "client-secret", 5*time.Second)
	w.tokenURL = srv.URL
	return w
}

func TestWhoopRefresher_Success(t *testing.T) {
	var gotForm map[string]string

	w := newTestWhoop(t, func(rw http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))

		require.NoError(t, r.ParseForm())
		gotForm = map[string]string{
			"grant_type":    r.PostForm.Get("grant_type"),
			"refresh_token": r.PostForm.Get("refresh_token"),
			"client_id":     r.PostForm.Get("client_id"),
			"client_secret": r.PostForm.Get("client_secret"),
		}

		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(map[string]any{
			"access_token":  "new-at",
			"refresh_token": "new-rt",
			"expires_in":    3600,
		})
	})

	grant, err := w.Refresh(context.Background(), "current-rt")
	require.NoError(t, err)

	assert.Equal(t, "new-at", grant.AccessToken)
	assert.Equal(t, "new-rt", grant.RefreshToken)
	assert.Equal(t, 3600, grant.ExpiresIn)

	assert.Equal(t, map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": "current-rt",
		"client_id":     "client-id",
		"client_secret": "client-secret",
	}, gotForm)
}

func TestWhoopRefresher_NoRotatedRefreshToken(t *testing.T) {
	w := newTestWhoop(t, func(rw http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(rw).Encode(map[string]any{"access_token": "new-at"})
	})

	grant, err := w.Refresh(context.Background(), "current-rt")
	require.NoError(t, err)

	assert.Equal(t, "new-at", grant.AccessToken)
	assert.Empty(t, grant.RefreshToken)
	assert.Zero(t, grant.ExpiresIn)
}

func TestWhoopRefresher_Non2xxStatus(t *testing.T) {
	tests := []struct {
		name   string
		status int
	}{
		{"bad request", http.StatusBadRequest},
		{"unauthorized", http.StatusUnauthorized},
		{"server error", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newTestWhoop(t, func(rw http.ResponseWriter, r *http.Request) {
				http.Error(rw, "nope", tt.status)
			})

			_, err := w.Refresh(context.Background(), "current-rt")
			require.Error(t, err)
			assert.True(t, apperrors.IsKind(err, apperrors.KindProvider))
			assert.Contains(t, err.Error(), "WHOOP token refresh failed")

			structured := apperrors.AsStructuredError(err)
			assert.Equal(t, tt.status, structured.Context["status"])
		})
	}
}

func TestWhoopRefresher_MissingAccessToken(t *testing.T) {
	w := newTestWhoop(t, func(rw http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(rw).Encode(map[string]any{"refresh_token": "only-rt"})
	})

	_, err := w.Refresh(context.Background(), "current-rt")
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindProvider))
	assert.Contains(t, err.Error(), "no access token in response")
}

func TestWhoopRefresher_MalformedBody(t *testing.T) {
	w := newTestWhoop(t, func(rw http.ResponseWriter, r *http.Request) {
		_, _ = rw.Write([]byte("not json"))
	})

	_, err := w.Refresh(context.Background(), "current-rt")
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindProvider))
}

func TestWhoopRefresher_ContextCancelled(t *testing.T) {
	w := newTestWhoop(t, func(rw http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := w.Refresh(ctx, "current-rt")
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindProvider))
}

func TestRegistry_DispatchByName(t *testing.T) {
	w := newTestWhoop(t, func(rw http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(rw).Encode(map[string]any{"access_token": "new-at"})
	})
	registry := NewRegistry(w)

	grant, err := registry.Refresh(context.Background(), "whoop", "current-rt")
	require.NoError(t, err)
	assert.Equal(t, "new-at", grant.AccessToken)
}

func TestRegistry_UnsupportedProvider(t *testing.T) {
	called := false
	w := newTestWhoop(t, func(rw http.ResponseWriter, r *http.Request) {
		called = true
	})
	registry := NewRegistry(w)

	_, err := registry.Refresh(context.Background(), "garmin", "rt")
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindProvider))
	assert.Contains(t, err.Error(), "unsupported provider")
	assert.False(t, called, "unknown provider must not trigger a network call")
}
