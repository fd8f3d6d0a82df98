package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"vipcommerce/imagefetch/internal/config"
	"vipcommerce/imagefetch/internal/container"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

func main() {
	log.Info("Starting product image fetcher...")

	// Credentials usually live in a local .env during development
	if err := godotenv.Load(); err == nil {
		log.Debug("Loaded environment from .env")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	log.Info("Configuration loaded successfully")

	// An interrupt lets in-flight downloads finish or abort promptly;
	// partially written files never become visible.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := container.New(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize container: %v", err)
	}
	defer app.Close()

	if err := app.Run(ctx); err != nil {
		log.Fatalf("Run failed: %v", err)
	}

	log.Info("Run finished successfully")
}
