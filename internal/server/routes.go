package server

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) registerRoutes() {
	// Observability endpoints
	s.echo.GET("/health/live", s.handleLiveness)
	s.echo.GET("/health/ready", s.handleReadiness)
	s.echo.GET("/version", s.handleVersion)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// Credential lifecycle. This service is internal infrastructure; callers
	// are trusted backend services, so tokens travel in plaintext request
	// bodies and are encrypted at the storage boundary.
	s.echo.PUT("/api/credentials", s.handleLinkCredential)
	s.echo.DELETE("/api/credentials/:userID/:provider", s.handleUnlinkCredential)

	// Rotation
	s.echo.GET("/api/tokens/:userID/:provider", s.handleAccessToken)
	s.echo.POST("/api/rotations/:userID/:provider", s.handleRotate)
	s.echo.POST("/api/rotations/:userID/:provider/force", s.handleForceRotate)

	// Bulk operations
	s.echo.POST("/api/sweeps", s.handleSweep)
	s.echo.POST("/api/migrations", s.handleMigration)
}
