package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"godiffex/adapters/sqlstore"
	"godiffex/app"
	"godiffex/internal/api"
	"godiffex/internal/config"
	"godiffex/internal/migration"
	"godiffex/ports"

	"github.com/joho/godotenv"
)

func main() {
	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger := cfg.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var results ports.ResultsRepository
	if cfg.Database.Enabled() {
		db, err := sqlstore.Open(ctx, cfg.Database.Driver, cfg.Database.URL)
		if err != nil {
			log.Fatalf("Failed to open results database: %v", err)
		}
		defer db.Close()

		if err := migration.NewRunner(logger).Run(ctx, db); err != nil {
			log.Fatalf("Database migration failed: %v", err)
		}
		results = sqlstore.NewResultsRepository(db, logger)
	} else {
		logger.Warn("DATABASE_URL not set; runs will not be stored")
	}

	service := app.NewAnalysisService(cfg.Engine, results, logger)
	server := api.NewServer(cfg.Server, service, results, logger)

	if err := server.Start(ctx); err != nil {
		logger.Error("server stopped: %v", err)
		stop()
		os.Exit(1)
	}
}
