package maintenance

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/credit-ledger/internal/credit"
	"github.com/credit-ledger/internal/domain/job"
	"github.com/credit-ledger/internal/domain/reservation"
	"github.com/credit-ledger/internal/domain/store"
	"github.com/google/uuid"
)

// HoldReleaser returns a hold with an explicit reason
type HoldReleaser interface {
	Release(ctx context.Context, reservationID uuid.UUID, reason string) (*credit.ReleaseResult, error)
}

// ReconcilerConfig bounds one reconciliation run
type ReconcilerConfig struct {
	MaxFixesPerRun      int
	StaleReservationAge time.Duration
	DryRun              bool
}

// StaleHold is a HELD reservation the reconciler released, or would release in a dry run
type StaleHold struct {
	ReservationID uuid.UUID `json:"reservation_id"`
	IdentityID    string    `json:"identity_id"`
	JobID         string    `json:"job_id"`
	Reason        string    `json:"reason"`
}

// ReconcileReport summarizes one run
type ReconcileReport struct {
	Audit                 *AuditReport               `json:"audit"`
	StaleHolds            []StaleHold                `json:"stale_holds"`
	FinalizedWithoutEntry []*reservation.Reservation `json:"finalized_without_entry"`
	Errors                int                        `json:"errors"`
	DryRun                bool                       `json:"dry_run"`
}

// Reconciler repairs wallet drift, releases holds whose job is gone or failed and
// reports captured holds that never reached the ledger.
type Reconciler struct {
	uow      store.UnitOfWork
	auditor  *DriftAuditor
	releaser HoldReleaser
	cfg      ReconcilerConfig
	logger   *slog.Logger
	now      func() time.Time
}

func NewReconciler(uow store.UnitOfWork, auditor *DriftAuditor, releaser HoldReleaser, cfg ReconcilerConfig, logger *slog.Logger) *Reconciler {
	if cfg.MaxFixesPerRun <= 0 {
		cfg.MaxFixesPerRun = 100
	}
	if cfg.StaleReservationAge <= 0 {
		cfg.StaleReservationAge = 30 * time.Minute
	}
	return &Reconciler{
		uow:      uow,
		auditor:  auditor,
		releaser: releaser,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// Start runs the reconciler on every tick until ctx is cancelled
func (r *Reconciler) Start(ctx context.Context, interval time.Duration) {
	r.logger.Info("Starting reconciler", "interval", interval.String(), "dry_run", r.cfg.DryRun)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Reconciler stopping due to context cancellation.")
			return
		case <-ticker.C:
			if _, err := r.Run(ctx); err != nil {
				r.logger.Error("Error during reconciliation", "error", err)
			}
		}
	}
}

func (r *Reconciler) Run(ctx context.Context) (*ReconcileReport, error) {
	report := &ReconcileReport{DryRun: r.cfg.DryRun}

	audit, err := r.auditor.Audit(ctx, AuditOptions{
		DryRun:        r.cfg.DryRun,
		Limit:         r.cfg.MaxFixesPerRun,
		TriggerSource: TriggerReconciler,
	})
	if err != nil {
		return nil, err
	}
	report.Audit = audit

	if err := r.fixStaleHolds(ctx, report); err != nil {
		return nil, err
	}

	report.FinalizedWithoutEntry, err = r.uow.Repositories().Reservations.ListFinalizedWithoutEntry(ctx, r.cfg.MaxFixesPerRun)
	if err != nil {
		return nil, err
	}
	for _, res := range report.FinalizedWithoutEntry {
		r.logger.Error("Finalized reservation has no ledger entry",
			"reservation_id", res.ID.String(),
			"identity_id", res.IdentityID,
			"cost", res.CostCredits)
	}

	r.logger.Info("Reconciliation finished",
		"drifts", audit.TotalDrifts,
		"repairs", len(audit.Repairs),
		"stale_holds", len(report.StaleHolds),
		"finalized_without_entry", len(report.FinalizedWithoutEntry),
		"errors", report.Errors,
		"dry_run", r.cfg.DryRun)
	return report, nil
}

func (r *Reconciler) fixStaleHolds(ctx context.Context, report *ReconcileReport) error {
	repos := r.uow.Repositories()
	cutoff := r.now().Add(-r.cfg.StaleReservationAge)

	stale, err := repos.Reservations.ListStaleHeld(ctx, cutoff, r.cfg.MaxFixesPerRun)
	if err != nil {
		return err
	}

	for _, res := range stale {
		reason, ok, err := r.staleReason(ctx, repos, res)
		if err != nil {
			r.logger.Error("Failed to look up job of stale reservation", "reservation_id", res.ID.String(), "error", err)
			report.Errors++
			continue
		}
		if !ok {
			continue
		}

		hold := StaleHold{ReservationID: res.ID, IdentityID: res.IdentityID, JobID: res.JobID, Reason: reason}
		if r.cfg.DryRun {
			report.StaleHolds = append(report.StaleHolds, hold)
			continue
		}

		result, err := r.releaser.Release(ctx, res.ID, reason)
		if err != nil {
			r.logger.Error("Failed to release stale reservation", "reservation_id", res.ID.String(), "error", err)
			report.Errors++
			continue
		}
		if !result.AlreadyReleased {
			report.StaleHolds = append(report.StaleHolds, hold)
		}
	}
	return nil
}

// staleReason decides whether a stale hold is orphaned. Holds of queued or
// pending jobs stay untouched.
func (r *Reconciler) staleReason(ctx context.Context, repos store.Repositories, res *reservation.Reservation) (string, bool, error) {
	j, err := repos.Jobs.GetByID(ctx, res.JobID)
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound{}) {
			return reservation.ReasonReconcileJobMissing, true, nil
		}
		return "", false, err
	}
	if j.Status == job.StatusFailed {
		return reservation.ReasonReconcileJobFailed, true, nil
	}
	return "", false, nil
}
