package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/credit-ledger/internal/cli"
	"github.com/credit-ledger/internal/config"
	"github.com/credit-ledger/internal/credit_processor/components"
	"github.com/credit-ledger/internal/data/postgres"
	"github.com/credit-ledger/internal/logger"
	"github.com/credit-ledger/internal/platform/persistence"
	"github.com/credit-ledger/internal/pricing"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.LoadConfig("creditctl")
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	log := logger.NewLogger(cfg)

	postgresDB, err := persistence.NewPostgresDB(ctx, log, &cfg.Postgres)
	if err != nil {
		return fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}
	defer postgresDB.Close()

	catalog := pricing.NewCatalog(postgres.NewActionCostRepository(log, postgresDB), log)
	if err := catalog.Refresh(ctx); err != nil {
		log.Warn("Using default action costs", "error", err)
	}

	store := postgres.NewStore(log, postgresDB)
	core, err := components.CreateCore(store, catalog, cfg, log)
	if err != nil {
		return err
	}
	tasks := components.CreateMaintenance(store, core, cfg, log)

	root := cli.NewRootCommand(&cli.App{
		Ledger:      core.Ledger,
		Engine:      core.Engine,
		Coordinator: core.Coordinator,
		Auditor:     tasks.Auditor,
		Reconciler:  tasks.Reconciler,
		Logger:      log,
	})
	return root.ExecuteContext(ctx)
}
