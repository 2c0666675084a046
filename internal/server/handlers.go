package server

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/steviebd/swole-tracker-sub007/internal/domain"
	apperrors "github.com/steviebd/swole-tracker-sub007/internal/errors"
	"github.com/steviebd/swole-tracker-sub007/internal/rotation"
)

// linkCredentialRequest accepts expiresAt as an RFC3339 string or epoch
// milliseconds; provider callbacks disagree on the format.
type linkCredentialRequest struct {
	UserID       uuid.UUID `json:"userId"`
	Provider     string    `json:"provider"`
	AccessToken  string    `json:"accessToken"`
	RefreshToken *string   `json:"refreshToken,omitempty"`
	ExpiresAt    any       `json:"expiresAt,omitempty"`
}

type credentialResponse struct {
	ID        uuid.UUID  `json:"id"`
	UserID    uuid.UUID  `json:"userId"`
	Provider  string     `json:"provider"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	IsActive  bool       `json:"isActive"`
	// RotationDue reports whether the linked token is already inside the
	// rotation window, so callers can trigger a rotation right away.
	RotationDue bool      `json:"rotationDue"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type rotationResponse struct {
	Rotated     bool   `json:"rotated"`
	AccessToken string `json:"accessToken"`
}

type accessTokenResponse struct {
	AccessToken string `json:"accessToken"`
}

func (s *Server) handleLinkCredential(c echo.Context) error {
	var req linkCredentialRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.FormatError("invalid request body")
	}
	if req.UserID == uuid.Nil {
		return apperrors.FormatError("userId is required")
	}
	if req.Provider == "" {
		return apperrors.FormatError("provider is required")
	}
	if req.AccessToken == "" {
		return apperrors.FormatError("accessToken is required")
	}
	expiresAt, ok := rotation.NormalizeTimestamp(req.ExpiresAt)
	if !ok {
		return apperrors.FormatError("expiresAt must be an RFC3339 timestamp or epoch milliseconds")
	}

	cred := &domain.Credential{
		UserID:      req.UserID,
		Provider:    req.Provider,
		AccessToken: req.AccessToken,
		ExpiresAt:   expiresAt,
	}
	if req.RefreshToken != nil {
		cred.RefreshToken = req.RefreshToken
	}

	// Encrypt at the storage boundary. Without a master key the service runs
	// in legacy plaintext mode until the migration tooling is rolled out.
	if s.keys != nil {
		encAccess, err := s.keys.Encode(cred.AccessToken)
		if err != nil {
			return err
		}
		cred.AccessToken = encAccess

		if cred.RefreshToken != nil {
			encRefresh, err := s.keys.Encode(*cred.RefreshToken)
			if err != nil {
				return err
			}
			cred.RefreshToken = &encRefresh
		}
	}

	saved, err := s.credentials.Upsert(c.Request().Context(), cred)
	if err != nil {
		return err
	}

	resp := toCredentialResponse(saved)
	resp.RotationDue = s.policy.ShouldRotateLoose(req.ExpiresAt, nil, false)
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleUnlinkCredential(c echo.Context) error {
	userID, provider, err := pathIdentity(c)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	cred, err := s.credentials.FindActive(ctx, userID, provider)
	if err != nil {
		return err
	}
	if err := s.credentials.Deactivate(ctx, cred.ID); err != nil {
		return err
	}

	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleAccessToken(c echo.Context) error {
	userID, provider, err := pathIdentity(c)
	if err != nil {
		return err
	}

	token, err := s.rotator.ValidAccessToken(c.Request().Context(), userID, provider)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, accessTokenResponse{AccessToken: token})
}

func (s *Server) handleRotate(c echo.Context) error {
	userID, provider, err := pathIdentity(c)
	if err != nil {
		return err
	}

	res, err := s.rotator.RotateTokens(c.Request().Context(), userID, provider)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, rotationResponse{Rotated: res.Rotated, AccessToken: res.AccessToken})
}

func (s *Server) handleForceRotate(c echo.Context) error {
	userID, provider, err := pathIdentity(c)
	if err != nil {
		return err
	}

	res, err := s.rotator.ForceRotate(c.Request().Context(), userID, provider)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, rotationResponse{Rotated: res.Rotated, AccessToken: res.AccessToken})
}

func (s *Server) handleSweep(c echo.Context) error {
	summary, err := s.rotator.SweepExpiring(c.Request().Context(), s.sweepWindow)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, summary)
}

func (s *Server) handleMigration(c echo.Context) error {
	summary, err := s.migrator.MigrateTokens(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, summary)
}

func pathIdentity(c echo.Context) (uuid.UUID, string, error) {
	userID, err := uuid.Parse(c.Param("userID"))
	if err != nil {
		return uuid.Nil, "", apperrors.FormatError("userID must be a valid UUID")
	}
	provider := c.Param("provider")
	if provider == "" {
		return uuid.Nil, "", apperrors.FormatError("provider is required")
	}
	return userID, provider, nil
}

func toCredentialResponse(cred *domain.Credential) credentialResponse {
	return credentialResponse{
		ID:        cred.ID,
		UserID:    cred.UserID,
		Provider:  cred.Provider,
		ExpiresAt: cred.ExpiresAt,
		IsActive:  cred.IsActive,
		CreatedAt: cred.CreatedAt,
		UpdatedAt: cred.UpdatedAt,
	}
}
