package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"filedepot/internal/config"
	"filedepot/internal/database"
	"filedepot/internal/middleware"
	"filedepot/internal/modules/upload"
	"filedepot/internal/repository"
)

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

	// Interrupted commits from a previous run surface as stale PENDING
	// rows; resolve them before taking traffic.
	sweepCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	resolved, err := coordinator.SweepStalePending(sweepCtx, cfg.SweepGracePeriod)
	cancel()
	if err != nil {
		log.Fatalf("recovery sweep failed: %v", err)
	}
	log.Printf("recovery sweep completed: resolved=%d", resolved)

	uploadService := upload.NewService(coordinator, uploadRepo, blobs, cfg.MaxUploadBytes, cfg.StreamTimeout, cfg.AllowedContentTypes)
	uploadHandler := upload.NewHandler(uploadService)

	r := gin.Default()
	r.Use(middleware.ErrorLogger())

	v1 := r.Group("/api/v1")
	{
		uploadHandler.RegisterRoutes(v1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	if err := r.Run(":" + port); err != nil {
		log.Fatal(err)
	}
}
