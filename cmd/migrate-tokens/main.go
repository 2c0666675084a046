package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/steviebd/swole-tracker-sub007/internal/crypto"
	"github.com/steviebd/swole-tracker-sub007/internal/database"
	"github.com/steviebd/swole-tracker-sub007/internal/rotation"
)

func main() {
	var (
		databaseURL = flag.String("database", os.Getenv("DATABASE_URL"), "Postgres URL (or set DATABASE_URL env)")
		masterKey   = flag.String("master-key", os.Getenv("TOKEN_MASTER_KEY"), "Token master key (or set TOKEN_MASTER_KEY env)")
		dryRun      = flag.Bool("dry-run", false, "Dry run mode (don't write to the database)")
		verbose     = flag.Bool("verbose", false, "Verbose logging")
	)
	flag.Parse()

	if *databaseURL == "" {
		log.Fatal("Postgres URL required (--database or DATABASE_URL env)")
	}
	if *masterKey == "" {
		log.Fatal("Master key required (--master-key or TOKEN_MASTER_KEY env)")
	}

	// Configure logging
	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	slog.SetDefault(slog.New(handler))

	keys, err := crypto.NewKeychain(*masterKey)
	if err != nil {
		log.Fatalf("Invalid master key: %v", err)
	}

	ctx := context.Background()
	pool, err := database.Connect(ctx, *databaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	slog.Info("Connected to database", "url", sanitizeURL(*databaseURL))

	repo := database.NewCredentialRepository(pool)

	start := time.Now()
	if *dryRun {
		err = reportPlaintext(ctx, repo)
	} else {
		err = migrate(ctx, repo, keys)
	}
	if err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	slog.Info("Migration complete", "dry_run", *dryRun, "duration_ms", time.Since(start).Milliseconds())
}

func migrate(ctx context.Context, repo *database.CredentialRepository, keys *crypto.Keychain) error {
	migrator := rotation.NewMigrator(repo, keys)

	summary, err := migrator.MigrateTokens(ctx)
	if err != nil {
		return err
	}

	for _, result := range summary.Results {
		if result.Status == rotation.StatusFailed {
			slog.Warn("Record failed",
				"credential_id", result.CredentialID,
				"provider", result.Provider,
				"error", result.Error)
		} else {
			slog.Debug("Record processed",
				"credential_id", result.CredentialID,
				"provider", result.Provider,
				"status", result.Status)
		}
	}

	slog.Info("Migration summary",
		"migrated", summary.Migrated,
		"skipped", summary.Skipped,
		"failed", summary.Failed)
	return nil
}

// reportPlaintext counts what a real run would touch, without writing.
func reportPlaintext(ctx context.Context, repo *database.CredentialRepository) error {
	records, err := repo.ListAll(ctx)
	if err != nil {
		return err
	}

	var plaintext, encrypted int
	for _, cred := range records {
		needsWork := !crypto.IsEnvelope(cred.AccessToken)
		if cred.RefreshToken != nil && !crypto.IsEnvelope(*cred.RefreshToken) {
			needsWork = true
		}

		if needsWork {
			plaintext++
			slog.Debug("Would migrate", "credential_id", cred.ID, "provider", cred.Provider)
		} else {
			encrypted++
		}
	}

	slog.Info("Dry run summary",
		"records", len(records),
		"would_migrate", plaintext,
		"already_encrypted", encrypted)
	return nil
}

func sanitizeURL(url string) string {
	// Hide password in the URL for logging
	if strings.Contains(url, "@") {
		parts := strings.Split(url, "@")
		if len(parts) == 2 {
			credParts := strings.Split(parts[0], ":")
			if len(credParts) >= 2 {
				return credParts[0] + ":***@" + parts[1]
			}
		}
	}
	return url
}
