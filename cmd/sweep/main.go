package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"filedepot/internal/config"
	"filedepot/internal/database"
	"filedepot/internal/modules/upload"
	"filedepot/internal/repository"
)

// Standalone recovery sweep: resolves PENDING rows older than the grace
// period to FAILED and removes their blobs. The API server runs the same
// sweep at startup; this binary exists for cron-style reconciliation.
func main() {
	_ = godotenv.Load()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		dsn = "filedepot.db"
	}

	cfg, err := config.LoadUploadRuntimeConfig()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	db, err := database.Connect(dsn)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}

	uploadRepo := repository.NewUploadRepository(db)
	if err := uploadRepo.Migrate(); err != nil {
		log.Fatalf("db migrate failed: %v", err)
	}

	blobs, err := upload.NewBlobStore(cfg.UploadDir)
	if err != nil {
		log.Fatalf("blob store init failed: %v", err)
	}

	coordinator := upload.NewCoordinator(uploadRepo, blobs, cfg.StoreBusyRetries, cfg.StoreBusyBackoff)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	resolved, err := coordinator.SweepStalePending(ctx, cfg.SweepGracePeriod)
	if err != nil {
		log.Fatalf("recovery sweep failed: %v", err)
	}
	log.Printf("recovery sweep completed: resolved=%d", resolved)
}
