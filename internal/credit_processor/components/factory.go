// Package components assembles the credit core and the processor's background
// components from configuration.
package components

import (
	"fmt"
	"log/slog"

	"github.com/credit-ledger/internal/config"
	"github.com/credit-ledger/internal/credit"
	"github.com/credit-ledger/internal/credit_processor/service"
	"github.com/credit-ledger/internal/domain/ledger"
	"github.com/credit-ledger/internal/domain/store"
	"github.com/credit-ledger/internal/maintenance"
)

// Core is the ledger, the reservation engine and the job coordinator over one store
type Core struct {
	Ledger      *credit.Ledger
	Engine      *credit.ReservationEngine
	Coordinator *credit.JobCoordinator
}

// CreateCore builds the credit core. actions may be nil, in which case action keys
// are taken as action codes.
func CreateCore(uow store.UnitOfWork, actions credit.ActionResolver, cfg *config.Config, logger *slog.Logger) (*Core, error) {
	policy, err := ledger.ParseBalancePolicy(cfg.Ledger.NegativeBalanceTypes)
	if err != nil {
		return nil, fmt.Errorf("invalid LEDGER_NEGATIVE_BALANCE_TYPES: %w", err)
	}

	l := credit.NewLedger(uow, policy, cfg.Ledger.SignupGrant, logger.With("component", "ledger"))
	engine := credit.NewReservationEngine(uow, l, actions, credit.EngineConfig{
		DefaultTTL:     cfg.Reservation.DefaultTTL,
		SweepBatchSize: cfg.Reservation.SweepBatchSize,
	}, logger.With("component", "reservation_engine"))

	return &Core{
		Ledger:      l,
		Engine:      engine,
		Coordinator: credit.NewJobCoordinator(uow, engine, logger.With("component", "job_coordinator")),
	}, nil
}

// CreateOutcomeService wraps the coordinator in the outcome service, bounded by a
// worker pool when one is configured.
func CreateOutcomeService(completer service.JobCompleter, cfg *config.Config, logger *slog.Logger) service.OutcomeService {
	baseService := service.NewOutcomeService(completer, logger)

	if cfg.WorkerPool.Size <= 0 {
		logger.Warn("Worker pool disabled, applying outcomes on the consumer goroutine")
		return baseService
	}

	workerPoolService, err := service.NewWorkerPoolOutcomeService(
		baseService,
		service.WorkerPoolConfig{
			Size: cfg.WorkerPool.Size,
		},
		logger.With("component", "worker_pool"),
	)
	if err != nil {
		logger.Error("Failed to create worker pool service, falling back to base service", "error", err)
		return baseService
	}

	logger.Info("Created worker pool outcome service", "pool_size", cfg.WorkerPool.Size)
	return workerPoolService
}

// Maintenance holds the background tasks that keep holds and balances consistent
type Maintenance struct {
	Sweeper    *maintenance.Sweeper
	Auditor    *maintenance.DriftAuditor
	Reconciler *maintenance.Reconciler
}

func CreateMaintenance(uow store.UnitOfWork, core *Core, cfg *config.Config, logger *slog.Logger) *Maintenance {
	auditor := maintenance.NewDriftAuditor(uow, logger.With("component", "drift_auditor"))

	return &Maintenance{
		Sweeper: maintenance.NewSweeper(core.Engine, cfg.Reservation.SweepInterval, logger.With("component", "sweeper")),
		Auditor: auditor,
		Reconciler: maintenance.NewReconciler(uow, auditor, core.Engine, maintenance.ReconcilerConfig{
			MaxFixesPerRun:      cfg.Audit.MaxFixesPerRun,
			StaleReservationAge: cfg.Audit.StaleReservationAge,
			DryRun:              cfg.Audit.DryRun,
		}, logger.With("component", "reconciler")),
	}
}
