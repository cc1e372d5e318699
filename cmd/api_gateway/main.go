package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/credit-ledger/internal/api_gateway"
	"github.com/credit-ledger/internal/api_gateway/service"
	"github.com/credit-ledger/internal/config"
	"github.com/credit-ledger/internal/credit_processor/components"
	"github.com/credit-ledger/internal/data/mongo"
	"github.com/credit-ledger/internal/data/postgres"
	"github.com/credit-ledger/internal/logger"
	"github.com/credit-ledger/internal/platform/messaging/producers"
	"github.com/credit-ledger/internal/platform/persistence"
	"github.com/credit-ledger/internal/pricing"
)

func main() {
	// Create base context with cancellation
	appCtx, cancelAppCtx := context.WithCancel(context.Background())
	defer cancelAppCtx()

	// Initialize configuration
	cfg, err := config.LoadConfig("api_gateway")
	if err != nil {
		// logger is not initialized yet, so we use fmt
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.NewLogger(cfg)

	// Initialize databases with app context
	postgresDB, err := persistence.NewPostgresDB(appCtx, log, &cfg.Postgres)
	if err != nil {
		log.Error("Failed to initialize PostgreSQL", "error", err)
		os.Exit(1)
	}

	mongoDB, err := persistence.NewMongoDB(appCtx, log, &cfg.MongoDB)
	if err != nil {
		log.Error("Failed to initialize MongoDB", "error", err)
		os.Exit(1)
	}

	// Initialize Kafka producer for job outcomes reported over HTTP
	outcomeProducer, err := producers.NewJobOutcomeProducer(appCtx, log, &cfg.Kafka)
	if err != nil {
		log.Error("Failed to initialize job outcome Kafka producer", "error", err)
		os.Exit(1)
	}

	// Pricing catalog, refreshed from the action_costs table
	catalog := pricing.NewCatalog(postgres.NewActionCostRepository(log, postgresDB), log.With("component", "pricing"))
	if err := catalog.Refresh(appCtx); err != nil {
		log.Warn("Using default action costs", "error", err)
	}
	go catalog.Run(appCtx, cfg.Pricing.RefreshInterval)

	// Initialize the credit core
	store := postgres.NewStore(log, postgresDB)
	core, err := components.CreateCore(store, catalog, cfg, log)
	if err != nil {
		log.Error("Failed to initialize credit core", "error", err)
		os.Exit(1)
	}
	historyRepo := mongo.NewHistoryRepository(log, mongoDB.Database())

	// Initialize REST server
	server := api_gateway.NewServer(log, cfg, api_gateway.Services{
		Wallets:      service.NewWalletService(log, core.Ledger, core.Engine, historyRepo),
		Reservations: service.NewReservationService(log, core.Engine, catalog),
		Jobs:         service.NewJobService(log, outcomeProducer),
		Pricing:      catalog,
	})
	log.Info("REST server initialized")

	// Create error channel for server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		if err := server.Start(); err != nil {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	// Set up signal handling
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	// Wait for a shutdown signal or error
	var serverErr error
	select {
	case <-quit:
		log.Info("Shutdown signal received")
	case err := <-errChan:
		log.Error("Server error occurred", "error", err)
		serverErr = err
	}

	// Cancel the application context
	cancelAppCtx()

	// Create a shutdown context with timeout
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelShutdown()

	// Graceful shutdown sequence
	log.Info("Starting graceful shutdown...")

	// Drain HTTP requests before the pools they use are closed
	if err = server.Stop(shutdownCtx); err != nil {
		log.Error("Error during server shutdown", "error", err)
	}

	if err = outcomeProducer.Close(); err != nil {
		log.Error("Error closing Kafka producer", "error", err)
	}

	postgresDB.Close()

	if err = mongoDB.Close(shutdownCtx); err != nil {
		log.Error("Error closing MongoDB connection", "error", err)
	}

	// Final status
	if serverErr != nil {
		log.Error("HTTP server shutdown with errors", "error", serverErr)
	}
	if err != nil {
		log.Error("Server shutdown completed with errors")
	} else {
		log.Info("Server shutdown completed successfully")
	}
}
