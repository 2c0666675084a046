package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"

	"github.com/steviebd/swole-tracker-sub007/internal/config"
	"github.com/steviebd/swole-tracker-sub007/internal/crypto"
	"github.com/steviebd/swole-tracker-sub007/internal/database"
	"github.com/steviebd/swole-tracker-sub007/internal/domain"
	"github.com/steviebd/swole-tracker-sub007/internal/logging"
	"github.com/steviebd/swole-tracker-sub007/internal/provider"
	"github.com/steviebd/swole-tracker-sub007/internal/redis"
	"github.com/steviebd/swole-tracker-sub007/internal/rotation"
	"github.com/steviebd/swole-tracker-sub007/internal/server"
)

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupDB(cfg *config.Config) *pgxpool.Pool {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}

	if err := database.RunMigrationsWithLock(ctx, pool); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	return pool
}

func setupKeychain(cfg *config.Config) *crypto.Keychain {
	if cfg.TokenMasterKey == "" {
		slog.Warn("TOKEN_MASTER_KEY not set, token encryption disabled")
		return nil
	}

	keys, err := crypto.NewKeychain(cfg.TokenMasterKey)
	if err != nil {
		slog.Error("Failed to create keychain", "error", err)
		os.Exit(1)
	}
	return keys
}

func runGracefulShutdown(srv *server.Server, cancelTicker context.CancelFunc) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		cancelTicker()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port)

	pool := setupDB(cfg)
	defer pool.Close()

	// Redis is optional: without it, rotation loses the cross-instance lock
	// but keeps working.
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		var err error
		redisClient, err = redis.NewClient(cfg.RedisURL)
		if err != nil {
			slog.Error("Failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		defer func() { _ = redisClient.Close() }()
	}

	var locker domain.RotationLocker = domain.NoopLocker{}
	if redisClient != nil {
		locker = redis.NewRotationLock(redisClient.Underlying())
	}

	keys := setupKeychain(cfg)

	whoop := provider.NewWhoopRefresher(cfg.WhoopClientID, cfg.WhoopClientSecret, cfg.ProviderTimeout)
	registry := provider.NewRegistry(whoop)

	repo := database.NewCredentialRepository(pool)
	rotator := rotation.NewRotator(repo, keys, registry, locker, clock)
	migrator := rotation.NewMigrator(repo, keys)

	tickerCtx, cancelTicker := context.WithCancel(context.Background())
	ticker := rotation.NewSweepTicker(rotator, cfg.SweepInterval, cfg.SweepWindow, clock)
	go ticker.Run(tickerCtx)

	// Pass nil explicitly to avoid a typed-nil interface value.
	var srv *server.Server
	if redisClient != nil {
		srv = server.NewServer(cfg, rotator, migrator, repo, keys, pool, redisClient)
	} else {
		srv = server.NewServer(cfg, rotator, migrator, repo, keys, pool, nil)
	}

	done := runGracefulShutdown(srv, cancelTicker)

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
