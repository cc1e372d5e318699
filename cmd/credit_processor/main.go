package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/credit-ledger/internal/config"
	"github.com/credit-ledger/internal/credit_processor/components"
	"github.com/credit-ledger/internal/credit_processor/consumer"
	"github.com/credit-ledger/internal/credit_processor/outbox_poller"
	"github.com/credit-ledger/internal/credit_processor/service"
	"github.com/credit-ledger/internal/data/mongo"
	"github.com/credit-ledger/internal/data/postgres"
	"github.com/credit-ledger/internal/logger"
	"github.com/credit-ledger/internal/platform/messaging/consumers"
	"github.com/credit-ledger/internal/platform/messaging/producers"
	"github.com/credit-ledger/internal/platform/metrics"
	"github.com/credit-ledger/internal/platform/persistence"
	"github.com/credit-ledger/internal/pricing"
	"github.com/gin-gonic/gin"
)

func main() {
	// Create base context with cancellation
	appCtx, cancelAppCtx := context.WithCancel(context.Background())
	defer cancelAppCtx()

	// Initialize configuration
	cfg, err := config.LoadConfig("credit_processor")
	if err != nil {
		// logger is not initialized yet, so we use fmt
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.NewLogger(cfg)

	log.Info("Starting Credit Processor",
		"app_name", cfg.Application.Name,
		"env", cfg.Application.Env,
	)

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

	// Initialize repositories
	store := postgres.NewStore(log, postgresDB)
	outboxRepo := postgres.NewOutboxRepository(log, postgresDB)
	historyRepo := mongo.NewHistoryRepository(log, mongoDB.Database())

	catalog := pricing.NewCatalog(postgres.NewActionCostRepository(log, postgresDB), log.With("component", "pricing"))
	if err := catalog.Refresh(appCtx); err != nil {
		log.Warn("Using default action costs", "error", err)
	}

	core, err := components.CreateCore(store, catalog, cfg, log)
	if err != nil {
		log.Error("Failed to initialize credit core", "error", err)
		os.Exit(1)
	}
	tasks := components.CreateMaintenance(store, core, cfg, log)

	// Initialize Kafka consumer
	kafkaConsumer := consumers.NewKafkaConsumer(appCtx, log, &cfg.Kafka)

	// Initialize Kafka DLQ producer
	dlqProducer, err := producers.NewDLQProducer(appCtx, log, &cfg.Kafka)
	if err != nil {
		log.Error("Failed to initialize DLQ Kafka producer", "error", err)
		os.Exit(1)
	}

	// Initialize outcome service and the message handler in front of it
	outcomeService := components.CreateOutcomeService(core.Coordinator, cfg, log)
	outcomeHandler := consumer.NewJobOutcomeHandler(log, outcomeService, dlqProducer)

	// Initialize outbox poller copying credit events into the Mongo history
	historyPublisher := outbox_poller.NewHistoryPublisher(outboxRepo, historyRepo, log)
	poller := outbox_poller.NewPoller(&cfg.Outbox, outboxRepo, historyPublisher, log)

	// Create error channel for service errors
	errChan := make(chan error, 2)

	// Create wait group for graceful shutdown
	var wg sync.WaitGroup

	if err := kafkaConsumer.Subscribe(appCtx, cfg.Kafka.JobOutcomeTopic, cfg.Kafka.ConsumerGroup, outcomeHandler.HandleMessage); err != nil {
		log.Error("Failed to subscribe to job outcomes", "error", err)
		os.Exit(1)
	}

	background := map[string]func(ctx context.Context){
		"outbox_poller": poller.Start,
		"sweeper":       tasks.Sweeper.Start,
		"reconciler": func(ctx context.Context) {
			tasks.Reconciler.Start(ctx, cfg.Audit.Interval)
		},
		"pricing": func(ctx context.Context) {
			catalog.Run(ctx, cfg.Pricing.RefreshInterval)
		},
	}
	for name, run := range background {
		wg.Add(1)
		go func(name string, run func(ctx context.Context)) {
			defer wg.Done()
			log.Info("Starting background task", "task", name)
			run(appCtx)
		}(name, run)
	}

	// Prometheus endpoint
	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		gin.SetMode(gin.ReleaseMode)
		router := gin.New()
		router.GET(cfg.Metrics.Path, gin.WrapH(metrics.Handler()))
		metricsServer = &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Metrics.Port),
			Handler: router,
		}
		go func() {
			log.Info("Serving metrics", "port", cfg.Metrics.Port, "path", cfg.Metrics.Path)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errChan <- fmt.Errorf("metrics server error: %w", err)
			}
		}()
	}

	// Set up signal handling
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	// Wait for a shutdown signal or error
	var serviceErr error
	select {
	case <-quit:
		log.Info("Shutdown signal received")
	case err := <-errChan:
		log.Error("Service error occurred", "error", err)
		serviceErr = err
	}

	// Cancel the application context
	cancelAppCtx()

	// Close Kafka consumer first so no new outcome reaches the pool
	if err = kafkaConsumer.Close(); err != nil {
		log.Error("Error closing Kafka consumer", "error", err)
	}

	if wpService, ok := outcomeService.(*service.WorkerPoolOutcomeService); ok {
		log.Info("Shutting down worker pool", "running_workers", wpService.Running())
		wpService.Shutdown()
	}

	// Create a shutdown context with timeout
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	// Graceful shutdown sequence
	log.Info("Starting graceful shutdown...")

	// Wait for all goroutines to finish
	log.Info("Waiting for background tasks to stop...")
	wgChan := make(chan struct{})
	go func() {
		wg.Wait()
		close(wgChan)
	}()

	select {
	case <-wgChan:
		log.Info("All background tasks stopped successfully")
	case <-shutdownCtx.Done():
		log.Warn("Shutdown timeout reached, forcing exit")
	}

	if metricsServer != nil {
		if err = metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Error("Error stopping metrics server", "error", err)
		}
	}

	// dlqProducer is nil when no DLQ topic is configured; Close is nil-safe
	if err = dlqProducer.Close(); err != nil {
		log.Error("Error closing DLQ Kafka producer", "error", err)
	}

	// Shutdown postgres connection pool
	postgresDB.Close()

	// Close MongoDB connection
	if err = mongoDB.Close(shutdownCtx); err != nil {
		log.Error("Error closing MongoDB connection", "error", err)
	}

	// Final status
	if serviceErr != nil {
		log.Error("Credit Processor shutdown with errors", "error", serviceErr)
	}
	if err != nil {
		log.Error("Credit Processor shutdown completed with errors")
	} else {
		log.Info("Credit Processor shutdown completed successfully")
	}
}
