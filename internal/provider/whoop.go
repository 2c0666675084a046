package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go/circuitbreaker"

	"github.com/steviebd/swole-tracker-sub007/internal/domain"
	apperrors "github.com/steviebd/swole-tracker-sub007/internal/errors"
	"github.com/steviebd/swole-tracker-sub007/internal/metrics"
)

const (
	defaultWhoopTokenURL = "https://api.prod.whoop.com/oauth/oauth2/token"

	// DefaultRefreshTimeout bounds the only unbounded-latency call in the
	// rotation path.
	DefaultRefreshTimeout = 10 * time.Second
)

// WhoopRefresher performs the refresh-token grant against the WHOOP OAuth
// endpoint. A circuit breaker protects bulk sweeps from hammering an endpoint
// that is down.
type WhoopRefresher struct {
	clientID     string
	clientSecret string
	tokenURL     string // configurable for testing
	client       *http.Client
	cb           circuitbreaker.CircuitBreaker[any]
}

// NewWhoopRefresher creates a WHOOP refresher with the given client
// credentials. A zero timeout falls back to DefaultRefreshTimeout.
func NewWhoopRefresher(clientID, clientSecret string, timeout time.Duration) *WhoopRefresher {
	if timeout <= 0 {
		timeout = DefaultRefreshTimeout
	}

	cb := circuitbreaker.NewBuilder[any]().
		WithFailureRateThreshold(0.6, 5, 10*time.Second).
		WithDelay(30 * time.Second).
		WithSuccessThreshold(1).
		OnStateChanged(func(e circuitbreaker.StateChangedEvent) {
			slog.Warn("Circuit breaker state changed",
				"component", "whoop_token_endpoint",
				"from", e.OldState.String(),
				"to", e.NewState.String(),
			)
			metrics.CircuitBreakerStateChanges.WithLabelValues("whoop_token_endpoint", e.NewState.String()).Inc()
			metrics.CircuitBreakerState.WithLabelValues("whoop_token_endpoint").Set(breakerStateToFloat(e.NewState))
		}).
		Build()

	return &WhoopRefresher{
		clientID:     clientID,
		clientSecret: clientSecret,
		tokenURL:     defaultWhoopTokenURL,
		client:       &http.Client{Timeout: timeout},
		cb:           cb,
	}
}

func breakerStateToFloat(state circuitbreaker.State) float64 {
	switch state {
	case circuitbreaker.ClosedState:
		return 0
	case circuitbreaker.HalfOpenState:
		return 1
	case circuitbreaker.OpenState:
		return 2
	default:
		return -1
	}
}

func (w *WhoopRefresher) Name() string { return domain.ProviderWhoop }

// Refresh exchanges refreshToken for new tokens via a form-urlencoded POST.
func (w *WhoopRefresher) Refresh(ctx context.Context, refreshToken string) (*Grant, error) {
	if !w.cb.TryAcquirePermit() {
		metrics.ProviderRefreshesTotal.WithLabelValues(w.Name(), "circuit_open").Inc()
		return nil, apperrors.ProviderError("WHOOP token refresh failed: circuit open", circuitbreaker.ErrOpen)
	}

	start := time.Now()
	grant, err := w.refresh(ctx, refreshToken)
	metrics.ProviderRefreshDuration.WithLabelValues(w.Name()).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.ProviderRefreshesTotal.WithLabelValues(w.Name(), "error").Inc()
		return nil, err
	}
	metrics.ProviderRefreshesTotal.WithLabelValues(w.Name(), "success").Inc()
	return grant, nil
}

func (w *WhoopRefresher) refresh(ctx context.Context, refreshToken string) (*Grant, error) {
	data := url.Values{}
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", refreshToken)
	data.Set("client_id", w.clientID)
	data.Set("client_secret", w.clientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		w.cb.RecordError(err)
		return nil, apperrors.ProviderError("WHOOP token refresh failed", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := w.client.Do(req)
	if err != nil {
		w.cb.RecordError(err)
		return nil, apperrors.ProviderError("WHOOP token refresh failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		w.cb.RecordError(err)
		return nil, apperrors.ProviderError("WHOOP token refresh failed", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// 5xx and transport failures count against the breaker; a 4xx means
		// the endpoint is healthy and this token is bad.
		if resp.StatusCode >= 500 {
			w.cb.RecordError(fmt.Errorf("status %d", resp.StatusCode))
		} else {
			w.cb.RecordSuccess()
		}
		return nil, apperrors.ProviderError(
			fmt.Sprintf("WHOOP token refresh failed: %d %s", resp.StatusCode, http.StatusText(resp.StatusCode)), nil).
			WithContext("status", resp.StatusCode).
			WithContext("body", string(body))
	}
	w.cb.RecordSuccess()

	var result struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, apperrors.ProviderError("WHOOP token refresh failed: invalid response body", err)
	}
	if result.AccessToken == "" {
		return nil, apperrors.ProviderError("no access token in response", nil)
	}

	return &Grant{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		ExpiresIn:    result.ExpiresIn,
	}, nil
}
