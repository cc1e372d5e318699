package credit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/credit-ledger/internal/domain/job"
	"github.com/credit-ledger/internal/domain/ledger"
	"github.com/credit-ledger/internal/domain/outbox"
	"github.com/credit-ledger/internal/domain/reservation"
	"github.com/credit-ledger/internal/domain/store"
	"github.com/credit-ledger/internal/domain/wallet"
	"github.com/credit-ledger/internal/platform/metrics"
	"github.com/google/uuid"
)

// ReasonManualRelease is used when Release is called without a reason
const ReasonManualRelease = "manual_release"

// ActionResolver maps a caller supplied action key to the stored action code
type ActionResolver interface {
	ActionCode(actionKey string) (string, error)
}

// EngineConfig holds the reservation policy knobs
type EngineConfig struct {
	DefaultTTL     time.Duration
	SweepBatchSize int
}

type ReserveRequest struct {
	IdentityID string
	ActionKey  string
	JobID      string
	Cost       int64
	TTL        time.Duration // DefaultTTL when zero
	Meta       map[string]any
}

type ReserveResult struct {
	Reservation *reservation.Reservation
	Snapshot    wallet.Snapshot
	Replayed    bool
}

type FinalizeResult struct {
	Reservation      *reservation.Reservation
	Entry            *ledger.Entry
	AlreadyFinalized bool
}

type ReleaseResult struct {
	Reservation     *reservation.Reservation
	AlreadyReleased bool
}

// ReservationEngine places, captures and returns credit holds
type ReservationEngine struct {
	uow     store.UnitOfWork
	ledger  *Ledger
	actions ActionResolver
	cfg     EngineConfig
	logger  *slog.Logger
	now     func() time.Time
}

// NewReservationEngine creates the engine. A nil resolver uses action keys as codes.
func NewReservationEngine(uow store.UnitOfWork, l *Ledger, actions ActionResolver, cfg EngineConfig, logger *slog.Logger) *ReservationEngine {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 20 * time.Minute
	}
	if cfg.SweepBatchSize <= 0 {
		cfg.SweepBatchSize = 500
	}
	return &ReservationEngine{
		uow:     uow,
		ledger:  l,
		actions: actions,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

func (e *ReservationEngine) resolveAction(actionKey string) (string, error) {
	if e.actions == nil {
		return actionKey, nil
	}
	return e.actions.ActionCode(actionKey)
}

// Reserve holds req.Cost credits for the job. Repeating the call for the same
// identity, job and action returns the existing hold with Replayed set.
func (e *ReservationEngine) Reserve(ctx context.Context, req ReserveRequest) (*ReserveResult, error) {
	defer metrics.ObserveOperation("reserve", time.Now())

	actionCode, err := e.resolveAction(req.ActionKey)
	if err != nil {
		return nil, err
	}
	ttl := req.TTL
	if ttl == 0 {
		ttl = e.cfg.DefaultTTL
	}

	now := e.now()
	res, err := reservation.New(req.IdentityID, actionCode, req.JobID, req.Cost, ttl, req.Meta, now)
	if err != nil {
		return nil, err
	}

	var result *ReserveResult
	err = e.uow.ExecuteTx(ctx, func(repos store.Repositories) error {
		var err error
		result, err = e.reserve(ctx, repos, res, now)
		return err
	})
	if err != nil {
		if errors.Is(err, wallet.ErrInsufficientCredits{}) {
			metrics.ReservationsTotal.WithLabelValues(metrics.ReserveInsufficient).Inc()
			e.logger.Info("Reservation rejected", "identity_id", req.IdentityID, "job_id", req.JobID, "error", err)
		} else {
			metrics.ReservationsTotal.WithLabelValues(metrics.ReserveError).Inc()
		}
		return nil, err
	}

	if result.Replayed {
		metrics.ReservationsTotal.WithLabelValues(metrics.ReserveReplayed).Inc()
		e.logger.Info("Reservation replayed", "identity_id", req.IdentityID, "job_id", req.JobID, "reservation_id", result.Reservation.ID.String())
	} else {
		metrics.ReservationsTotal.WithLabelValues(metrics.ReserveHeld).Inc()
		metrics.ReservedCredits.Add(float64(req.Cost))
		e.logger.Info("Credits reserved",
			"identity_id", req.IdentityID,
			"job_id", req.JobID,
			"reservation_id", result.Reservation.ID.String(),
			"cost", req.Cost,
			"available", result.Snapshot.Available)
	}
	return result, nil
}

func (e *ReservationEngine) reserve(ctx context.Context, repos store.Repositories, res *reservation.Reservation, now time.Time) (*ReserveResult, error) {
	w, err := repos.Wallets.LockForUpdate(ctx, res.IdentityID)
	if err != nil {
		return nil, err
	}

	existing, err := repos.Reservations.FindHeld(ctx, res.IdentityID, res.JobID, res.ActionCode)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.IsActive(now) {
			held, err := repos.Reservations.SumHeld(ctx, res.IdentityID, now)
			if err != nil {
				return nil, err
			}
			return &ReserveResult{
				Reservation: existing,
				Snapshot:    wallet.NewSnapshot(w.IdentityID, w.BalanceCredits, held),
				Replayed:    true,
			}, nil
		}
		if _, err := e.releaseReservation(ctx, repos, existing, reservation.ReasonExpired, now); err != nil {
			return nil, err
		}
	}

	held, err := repos.Reservations.SumHeld(ctx, res.IdentityID, now)
	if err != nil {
		return nil, err
	}
	snapshot := wallet.NewSnapshot(w.IdentityID, w.BalanceCredits, held)
	if !snapshot.Covers(res.CostCredits) {
		return nil, wallet.ErrInsufficientCredits{
			IdentityID: w.IdentityID,
			Required:   res.CostCredits,
			Balance:    snapshot.Balance,
			Reserved:   snapshot.Reserved,
			Available:  snapshot.Available,
		}
	}

	if err := repos.Reservations.Create(ctx, res); err != nil {
		return nil, err
	}
	if err := e.attachJob(ctx, repos, res, now); err != nil {
		return nil, err
	}
	if err := writeEvent(ctx, repos, outbox.EventReservationHeld, res.IdentityID, reservationChanged(res)); err != nil {
		return nil, err
	}

	return &ReserveResult{
		Reservation: res,
		Snapshot:    wallet.NewSnapshot(w.IdentityID, w.BalanceCredits, held+res.CostCredits),
	}, nil
}

// attachJob upserts the queued job row and points it at the new hold. A job id
// owned by another identity, or still paid for by another live hold, is refused.
func (e *ReservationEngine) attachJob(ctx context.Context, repos store.Repositories, res *reservation.Reservation, now time.Time) error {
	j, err := job.New(res.JobID, res.IdentityID, res.ActionCode, now)
	if err != nil {
		return err
	}
	created, err := repos.Jobs.Create(ctx, j)
	if err != nil {
		return err
	}
	if !created {
		existing, err := repos.Jobs.LockForUpdate(ctx, res.JobID)
		if err != nil {
			return err
		}
		if existing.IdentityID != res.IdentityID {
			e.logger.Warn("Job id already belongs to another identity",
				"job_id", existing.ID,
				"owner", existing.IdentityID,
				"identity_id", res.IdentityID)
			return job.ErrOwnershipMismatch{JobID: existing.ID, Owner: existing.IdentityID, Requested: res.IdentityID}
		}
		if existing.IsTerminal() {
			return job.ErrStatusConflict{JobID: existing.ID, Current: existing.Status, Requested: job.StatusQueued}
		}
		if err := e.detachPrevious(ctx, repos, existing, now); err != nil {
			return err
		}
	}
	return repos.Jobs.LinkReservation(ctx, res.JobID, res.ID)
}

// detachPrevious lets a job move to a new hold only once its previous hold is
// resolved. An expired but unswept previous hold is released first.
func (e *ReservationEngine) detachPrevious(ctx context.Context, repos store.Repositories, j *job.Job, now time.Time) error {
	if j.ReservationID == nil {
		return nil
	}
	prev, err := repos.Reservations.LockForUpdate(ctx, *j.ReservationID)
	if errors.Is(err, reservation.ErrReservationNotFound{}) {
		return nil
	}
	if err != nil {
		return err
	}
	switch {
	case prev.IsActive(now):
		e.logger.Warn("Job is still held by another reservation",
			"job_id", j.ID,
			"reservation_id", prev.ID.String(),
			"action_code", prev.ActionCode)
		return job.ErrHoldAlreadyLinked{JobID: j.ID, ReservationID: prev.ID}
	case prev.IsExpired(now):
		_, err := e.releaseReservation(ctx, repos, prev, reservation.ReasonExpired, now)
		return err
	}
	return nil
}

// Finalize captures a hold, writing its reservation_finalize ledger entry
func (e *ReservationEngine) Finalize(ctx context.Context, reservationID uuid.UUID) (*FinalizeResult, error) {
	defer metrics.ObserveOperation("finalize", time.Now())

	peek, err := e.uow.Repositories().Reservations.GetByID(ctx, reservationID)
	if err != nil {
		return nil, err
	}

	var result *FinalizeResult
	err = e.uow.ExecuteTx(ctx, func(repos store.Repositories) error {
		if _, err := repos.Wallets.LockForUpdate(ctx, peek.IdentityID); err != nil {
			return err
		}
		var err error
		result, err = e.finalizeLocked(ctx, repos, reservationID, e.now())
		return err
	})
	if err != nil {
		return nil, err
	}

	e.logFinalize(result)
	return result, nil
}

func (e *ReservationEngine) logFinalize(result *FinalizeResult) {
	res := result.Reservation
	if result.AlreadyFinalized {
		e.logger.Info("Reservation already finalized", "reservation_id", res.ID.String())
		return
	}
	metrics.ReservationsResolved.WithLabelValues(string(reservation.StatusFinalized), "").Inc()
	metrics.LedgerEntries.WithLabelValues(string(ledger.EntryTypeReservationFinalize)).Inc()
	e.logger.Info("Reservation finalized",
		"reservation_id", res.ID.String(),
		"identity_id", res.IdentityID,
		"cost", res.CostCredits)
}

// finalizeLocked expects the caller to hold the wallet lock of the reservation's identity
func (e *ReservationEngine) finalizeLocked(ctx context.Context, repos store.Repositories, reservationID uuid.UUID, now time.Time) (*FinalizeResult, error) {
	res, err := repos.Reservations.LockForUpdate(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	return e.finalizeReservation(ctx, repos, res, now)
}

// finalizeReservation captures an already locked reservation
func (e *ReservationEngine) finalizeReservation(ctx context.Context, repos store.Repositories, res *reservation.Reservation, now time.Time) (*FinalizeResult, error) {
	changed, err := res.Finalize(now)
	if err != nil {
		return nil, err
	}
	if !changed {
		entry, err := repos.Ledger.GetByRef(ctx, res.IdentityID, ledger.EntryTypeReservationFinalize, ledger.RefTypeReservation, res.ID.String())
		if err != nil && !errors.Is(err, ledger.ErrEntryNotFound{}) {
			return nil, err
		}
		return &FinalizeResult{Reservation: res, Entry: entry, AlreadyFinalized: true}, nil
	}

	if err := repos.Reservations.Update(ctx, res); err != nil {
		return nil, err
	}
	entry, _, err := e.ledger.applyEntry(ctx, repos, EntryRequest{
		IdentityID: res.IdentityID,
		Type:       ledger.EntryTypeReservationFinalize,
		Amount:     -res.CostCredits,
		RefType:    ledger.RefTypeReservation,
		RefID:      res.ID.String(),
		Meta: map[string]any{
			reservation.MetaKeyActionCode: res.ActionCode,
			reservation.MetaKeyJobID:      res.JobID,
		},
	}, now)
	if err != nil {
		return nil, fmt.Errorf("failed to capture reservation %s: %w", res.ID, err)
	}
	if err := writeEvent(ctx, repos, outbox.EventReservationFinalized, res.IdentityID, reservationChanged(res)); err != nil {
		return nil, err
	}

	return &FinalizeResult{Reservation: res, Entry: entry}, nil
}

// Release returns a hold without touching the ledger
func (e *ReservationEngine) Release(ctx context.Context, reservationID uuid.UUID, reason string) (*ReleaseResult, error) {
	defer metrics.ObserveOperation("release", time.Now())

	if reason == "" {
		reason = ReasonManualRelease
	}

	var result *ReleaseResult
	err := e.uow.ExecuteTx(ctx, func(repos store.Repositories) error {
		var err error
		result, err = e.releaseLocked(ctx, repos, reservationID, reason, e.now())
		return err
	})
	if err != nil {
		return nil, err
	}

	e.logRelease(result)
	return result, nil
}

func (e *ReservationEngine) logRelease(result *ReleaseResult) {
	res := result.Reservation
	if result.AlreadyReleased {
		e.logger.Info("Reservation already released", "reservation_id", res.ID.String())
		return
	}
	metrics.ReservationsResolved.WithLabelValues(string(reservation.StatusReleased), res.ReleaseReason).Inc()
	e.logger.Info("Reservation released",
		"reservation_id", res.ID.String(),
		"identity_id", res.IdentityID,
		"reason", res.ReleaseReason)
}

func (e *ReservationEngine) releaseLocked(ctx context.Context, repos store.Repositories, reservationID uuid.UUID, reason string, now time.Time) (*ReleaseResult, error) {
	res, err := repos.Reservations.LockForUpdate(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	return e.releaseReservation(ctx, repos, res, reason, now)
}

// releaseReservation transitions an already loaded reservation
func (e *ReservationEngine) releaseReservation(ctx context.Context, repos store.Repositories, res *reservation.Reservation, reason string, now time.Time) (*ReleaseResult, error) {
	changed, err := res.Release(reason, now)
	if err != nil {
		return nil, err
	}
	if !changed {
		return &ReleaseResult{Reservation: res, AlreadyReleased: true}, nil
	}

	if err := repos.Reservations.Update(ctx, res); err != nil {
		return nil, err
	}
	if err := writeEvent(ctx, repos, outbox.EventReservationReleased, res.IdentityID, reservationChanged(res)); err != nil {
		return nil, err
	}
	return &ReleaseResult{Reservation: res}, nil
}

// SweepExpired releases every hold past its expiry, one batch per transaction
func (e *ReservationEngine) SweepExpired(ctx context.Context) (int, error) {
	defer metrics.ObserveOperation("sweep_expired", time.Now())

	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		var released []*reservation.Reservation
		err := e.uow.ExecuteTx(ctx, func(repos store.Repositories) error {
			var err error
			released, err = repos.Reservations.ReleaseExpired(ctx, e.now(), e.cfg.SweepBatchSize)
			if err != nil {
				return err
			}
			for _, res := range released {
				if err := writeEvent(ctx, repos, outbox.EventReservationReleased, res.IdentityID, reservationChanged(res)); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return total, fmt.Errorf("failed to sweep expired reservations: %w", err)
		}

		total += len(released)
		if len(released) < e.cfg.SweepBatchSize {
			break
		}
	}

	if total > 0 {
		metrics.ReservationsSwept.Add(float64(total))
		metrics.ReservationsResolved.WithLabelValues(string(reservation.StatusReleased), reservation.ReasonExpired).Add(float64(total))
		e.logger.Info("Expired reservations released", "count", total)
	}
	return total, nil
}

// Snapshot reports balance, live reserved sum and available credits
func (e *ReservationEngine) Snapshot(ctx context.Context, identityID string) (wallet.Snapshot, error) {
	repos := e.uow.Repositories()
	w, err := repos.Wallets.GetByIdentity(ctx, identityID)
	if err != nil {
		return wallet.Snapshot{}, err
	}
	held, err := repos.Reservations.SumHeld(ctx, identityID, e.now())
	if err != nil {
		return wallet.Snapshot{}, err
	}
	return wallet.NewSnapshot(identityID, w.BalanceCredits, held), nil
}

// CanReserve is an advisory check. Only Reserve decides under the wallet lock.
func (e *ReservationEngine) CanReserve(ctx context.Context, identityID string, cost int64) (bool, wallet.Snapshot, error) {
	snapshot, err := e.Snapshot(ctx, identityID)
	if err != nil {
		return false, wallet.Snapshot{}, err
	}
	return snapshot.Covers(cost), snapshot, nil
}

func (e *ReservationEngine) ActiveReservations(ctx context.Context, identityID string) ([]*reservation.Reservation, error) {
	repos := e.uow.Repositories()
	if _, err := repos.Wallets.GetByIdentity(ctx, identityID); err != nil {
		return nil, err
	}
	return repos.Reservations.ListActive(ctx, identityID, e.now())
}

func (e *ReservationEngine) Get(ctx context.Context, reservationID uuid.UUID) (*reservation.Reservation, error) {
	return e.uow.Repositories().Reservations.GetByID(ctx, reservationID)
}
