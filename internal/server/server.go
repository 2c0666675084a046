package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/steviebd/swole-tracker-sub007/internal/config"
	"github.com/steviebd/swole-tracker-sub007/internal/crypto"
	"github.com/steviebd/swole-tracker-sub007/internal/domain"
	apperrors "github.com/steviebd/swole-tracker-sub007/internal/errors"
	"github.com/steviebd/swole-tracker-sub007/internal/logging"
	"github.com/steviebd/swole-tracker-sub007/internal/rotation"
)

// rotationService is the surface of rotation.Rotator the server uses.
type rotationService interface {
	RotateTokens(ctx context.Context, userID uuid.UUID, provider string) (*rotation.Result, error)
	ForceRotate(ctx context.Context, userID uuid.UUID, provider string) (*rotation.Result, error)
	ValidAccessToken(ctx context.Context, userID uuid.UUID, provider string) (string, error)
	SweepExpiring(ctx context.Context, window time.Duration) (*rotation.SweepSummary, error)
}

type migrationService interface {
	MigrateTokens(ctx context.Context) (*rotation.MigrationSummary, error)
}

// credentialStore is the repository surface for linking and unlinking
// provider accounts.
type credentialStore interface {
	Upsert(ctx context.Context, cred *domain.Credential) (*domain.Credential, error)
	FindActive(ctx context.Context, userID uuid.UUID, provider string) (*domain.Credential, error)
	Deactivate(ctx context.Context, id uuid.UUID) error
}

type pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	echo        *echo.Echo
	config      *config.Config
	rotator     rotationService
	migrator    migrationService
	credentials credentialStore
	keys        *crypto.Keychain
	policy      *rotation.Policy
	sweepWindow time.Duration

	// nil checkers degrade the corresponding readiness check to a skip.
	postgresCheck pinger
	redisCheck    pinger

	startTime time.Time
}

func NewServer(cfg *config.Config, rotator rotationService, migrator migrationService, credentials credentialStore, keys *crypto.Keychain, postgresCheck, redisCheck pinger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(correlationMiddleware())
	e.Use(apperrors.Middleware())

	srv := &Server{
		echo:          e,
		config:        cfg,
		rotator:       rotator,
		migrator:      migrator,
		credentials:   credentials,
		keys:          keys,
		policy:        rotation.NewPolicy(clockwork.NewRealClock()),
		sweepWindow:   cfg.SweepWindow,
		postgresCheck: postgresCheck,
		redisCheck:    redisCheck,
		startTime:     time.Now(),
	}

	srv.registerRoutes()
	return srv
}

// correlationMiddleware tags each request context with a correlation ID so
// log lines across a rotation attempt can be tied together.
func correlationMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			ctx := logging.WithCorrelationID(req.Context(), logging.NewCorrelationID())
			c.SetRequest(req.WithContext(ctx))
			return next(c)
		}
	}
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	return s.echo.Start(fmt.Sprintf(":%s", s.config.Port))
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
