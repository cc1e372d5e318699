package credit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/credit-ledger/internal/domain/job"
	"github.com/credit-ledger/internal/domain/ledger"
	"github.com/credit-ledger/internal/domain/outbox"
	"github.com/credit-ledger/internal/domain/reservation"
	"github.com/credit-ledger/internal/domain/store"
	"github.com/credit-ledger/internal/platform/metrics"
)

// Outcome is the terminal result a provider reported for a job
type Outcome struct {
	Success     bool
	ErrorDetail string
}

type CompletionResult struct {
	Job              *job.Job
	Reservation      *reservation.Reservation
	Entry            *ledger.Entry
	AlreadyCompleted bool
}

// JobCoordinator resolves a job's hold when the job reaches a terminal status
type JobCoordinator struct {
	uow    store.UnitOfWork
	engine *ReservationEngine
	logger *slog.Logger
	now    func() time.Time
}

func NewJobCoordinator(uow store.UnitOfWork, engine *ReservationEngine, logger *slog.Logger) *JobCoordinator {
	return &JobCoordinator{
		uow:    uow,
		engine: engine,
		logger: logger,
		now:    time.Now,
	}
}

// CompleteJob records the outcome and, in the same transaction, finalizes the
// job's hold on success or releases it on failure. Replaying the recorded
// outcome is not an error; reporting the other one is job.ErrStatusConflict.
func (c *JobCoordinator) CompleteJob(ctx context.Context, jobID string, outcome Outcome) (*CompletionResult, error) {
	defer metrics.ObserveOperation("complete_job", time.Now())

	logger := c.logger.With("job_id", jobID)

	peek, err := c.uow.Repositories().Jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}

	var result *CompletionResult
	err = c.uow.ExecuteTx(ctx, func(repos store.Repositories) error {
		var err error
		result, err = c.completeLocked(ctx, repos, peek.IdentityID, jobID, outcome, logger)
		return err
	})
	if err != nil {
		if errors.Is(err, job.ErrStatusConflict{}) {
			metrics.JobCompletions.WithLabelValues("conflict").Inc()
			logger.Error("Conflicting job outcome", "success", outcome.Success, "error", err)
		}
		return nil, err
	}

	if result.AlreadyCompleted {
		metrics.JobCompletions.WithLabelValues("replayed").Inc()
		logger.Info("Job outcome replayed", "status", string(result.Job.Status))
		return result, nil
	}

	metrics.JobCompletions.WithLabelValues(string(result.Job.Status)).Inc()
	if result.Entry != nil {
		metrics.LedgerEntries.WithLabelValues(string(ledger.EntryTypeReservationFinalize)).Inc()
	}
	if res := result.Reservation; res != nil && res.IsTerminal() {
		metrics.ReservationsResolved.WithLabelValues(string(res.Status), res.ReleaseReason).Inc()
	}
	logger.Info("Job completed", "status", string(result.Job.Status), "identity_id", result.Job.IdentityID)
	return result, nil
}

func (c *JobCoordinator) completeLocked(ctx context.Context, repos store.Repositories, identityID, jobID string, outcome Outcome, logger *slog.Logger) (*CompletionResult, error) {
	if _, err := repos.Wallets.LockForUpdate(ctx, identityID); err != nil {
		return nil, err
	}
	j, err := repos.Jobs.LockForUpdate(ctx, jobID)
	if err != nil {
		return nil, err
	}

	now := c.now()
	already, err := j.Complete(outcome.Success, outcome.ErrorDetail, now)
	if err != nil {
		return nil, err
	}
	result := &CompletionResult{Job: j, AlreadyCompleted: already}
	if already {
		if j.ReservationID != nil {
			res, err := repos.Reservations.GetByID(ctx, *j.ReservationID)
			if err != nil && !errors.Is(err, reservation.ErrReservationNotFound{}) {
				return nil, err
			}
			result.Reservation = res
		}
		return result, nil
	}

	if err := repos.Jobs.Update(ctx, j); err != nil {
		return nil, err
	}

	if j.ReservationID == nil {
		logger.Warn("Completed job has no linked reservation")
	} else if err := c.resolveHold(ctx, repos, j, outcome, now, result, logger); err != nil {
		return nil, err
	}

	if err := writeEvent(ctx, repos, outbox.EventJobCompleted, j.IdentityID, jobChanged(j)); err != nil {
		return nil, err
	}
	return result, nil
}

// lockHold locks the job's reservation and refuses one owned by another identity
func (c *JobCoordinator) lockHold(ctx context.Context, repos store.Repositories, j *job.Job) (*reservation.Reservation, error) {
	res, err := repos.Reservations.LockForUpdate(ctx, *j.ReservationID)
	if err != nil {
		return nil, err
	}
	if res.IdentityID != j.IdentityID {
		return nil, job.ErrOwnershipMismatch{JobID: j.ID, Owner: j.IdentityID, Requested: res.IdentityID}
	}
	return res, nil
}

// resolveHold captures or returns the job's reservation. A hold that already
// left HELD the other way is logged and kept as is. A success reported after the
// hold expired releases it without a charge.
func (c *JobCoordinator) resolveHold(ctx context.Context, repos store.Repositories, j *job.Job, outcome Outcome, now time.Time, result *CompletionResult, logger *slog.Logger) error {
	res, err := c.lockHold(ctx, repos, j)
	if err != nil {
		return err
	}

	switch {
	case outcome.Success && res.IsExpired(now):
		logger.Warn("Job succeeded after its reservation expired, releasing it without charge",
			"reservation_id", res.ID.String(),
			"expires_at", res.ExpiresAt)
		var released *ReleaseResult
		released, err = c.engine.releaseReservation(ctx, repos, res, reservation.ReasonExpired, now)
		if err == nil {
			result.Reservation = released.Reservation
		}
	case outcome.Success:
		var finalized *FinalizeResult
		finalized, err = c.engine.finalizeReservation(ctx, repos, res, now)
		if err == nil {
			result.Reservation, result.Entry = finalized.Reservation, finalized.Entry
			if finalized.AlreadyFinalized {
				result.Entry = nil
			}
		}
	default:
		reason := outcome.ErrorDetail
		if reason == "" {
			reason = reservation.ReasonJobFailed
		}
		var released *ReleaseResult
		released, err = c.engine.releaseReservation(ctx, repos, res, reason, now)
		if err == nil {
			result.Reservation = released.Reservation
		}
	}

	if errors.Is(err, reservation.ErrInvalidStateTransition{}) {
		logger.Warn("Reservation already resolved the other way, keeping job outcome",
			"reservation_id", res.ID.String(),
			"success", outcome.Success,
			"error", err)
		result.Reservation = res
		return nil
	}
	return err
}

// CompleteByUpstreamID resolves the job by the provider's id before completing it
func (c *JobCoordinator) CompleteByUpstreamID(ctx context.Context, provider, upstreamJobID string, outcome Outcome) (*CompletionResult, error) {
	j, err := c.uow.Repositories().Jobs.GetByUpstreamID(ctx, provider, upstreamJobID)
	if err != nil {
		return nil, err
	}
	return c.CompleteJob(ctx, j.ID, outcome)
}

// MarkDispatched records that the provider accepted the job
func (c *JobCoordinator) MarkDispatched(ctx context.Context, jobID, provider, upstreamJobID string) (*job.Job, error) {
	var j *job.Job
	err := c.uow.ExecuteTx(ctx, func(repos store.Repositories) error {
		var err error
		j, err = repos.Jobs.LockForUpdate(ctx, jobID)
		if err != nil {
			return err
		}
		if err := j.MarkDispatched(provider, upstreamJobID, c.now()); err != nil {
			return err
		}
		return repos.Jobs.Update(ctx, j)
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("Job dispatched", "job_id", jobID, "provider", provider, "upstream_job_id", upstreamJobID)
	return j, nil
}

// CancelJob fails a queued job and returns its hold. force also cancels a pending job.
func (c *JobCoordinator) CancelJob(ctx context.Context, jobID, reason string, force bool) (*CompletionResult, error) {
	if reason == "" {
		reason = reservation.ReasonJobCancelled
	}

	peek, err := c.uow.Repositories().Jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}

	var result *CompletionResult
	err = c.uow.ExecuteTx(ctx, func(repos store.Repositories) error {
		if _, err := repos.Wallets.LockForUpdate(ctx, peek.IdentityID); err != nil {
			return err
		}
		j, err := repos.Jobs.LockForUpdate(ctx, jobID)
		if err != nil {
			return err
		}
		now := c.now()
		if err := j.Cancel(reason, force, now); err != nil {
			return err
		}
		if err := repos.Jobs.Update(ctx, j); err != nil {
			return err
		}

		result = &CompletionResult{Job: j}
		if j.ReservationID != nil {
			res, err := c.lockHold(ctx, repos, j)
			if err != nil {
				return err
			}
			released, err := c.engine.releaseReservation(ctx, repos, res, reason, now)
			switch {
			case errors.Is(err, reservation.ErrInvalidStateTransition{}):
				c.logger.Warn("Cancelled job's reservation was already captured", "job_id", jobID, "reservation_id", j.ReservationID.String())
			case err != nil:
				return err
			default:
				result.Reservation = released.Reservation
			}
		}
		return writeEvent(ctx, repos, outbox.EventJobCancelled, j.IdentityID, jobChanged(j))
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("Job cancelled", "job_id", jobID, "reason", reason, "force", force)
	return result, nil
}
