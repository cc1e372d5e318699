package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/credit-ledger/internal/domain/ledger"
	"github.com/credit-ledger/internal/domain/reservation"
	"github.com/credit-ledger/internal/platform/persistence"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ReservationRepository implements the reservation.Repository interface for PostgreSQL
type ReservationRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

// NewReservationRepository creates a new PostgreSQL reservation repository
func NewReservationRepository(logger *slog.Logger, db *persistence.PostgresDB) *ReservationRepository {
	return &ReservationRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

// WithTx returns a copy of the repository that runs every statement on tx
func (r *ReservationRepository) WithTx(tx pgx.Tx) *ReservationRepository {
	return &ReservationRepository{
		querier: tx,
		logger:  r.logger,
	}
}

const reservationColumns = `r.id, r.identity_id, r.action_code, r.cost_credits, r.status, r.ref_job_id, r.meta,
		r.created_at, r.expires_at, r.captured_at, r.released_at`

// Create inserts a new HELD reservation
func (r *ReservationRepository) Create(ctx context.Context, res *reservation.Reservation) error {
	meta, err := encodeMeta(res.Meta)
	if err != nil {
		return fmt.Errorf("failed to encode reservation meta: %w", err)
	}

	query := `
		INSERT INTO credit_reservations (id, identity_id, action_code, cost_credits, status, ref_job_id, meta, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err = r.querier.Exec(ctx, query,
		res.ID,
		res.IdentityID,
		res.ActionCode,
		res.CostCredits,
		res.Status,
		res.JobID,
		meta,
		res.CreatedAt,
		res.ExpiresAt,
	)
	if err != nil {
		r.logger.Error("Failed to create reservation",
			"identity_id", res.IdentityID,
			"job_id", res.JobID,
			"error", err,
		)
		return fmt.Errorf("failed to create reservation: %w", err)
	}
	return nil
}

// GetByID reads a reservation without locking it
func (r *ReservationRepository) GetByID(ctx context.Context, id uuid.UUID) (*reservation.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM credit_reservations r WHERE r.id = $1`
	return r.getOne(ctx, "get reservation", query, id)
}

// LockForUpdate locks the reservation row for the rest of the transaction
func (r *ReservationRepository) LockForUpdate(ctx context.Context, id uuid.UUID) (*reservation.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM credit_reservations r WHERE r.id = $1 FOR UPDATE`
	return r.getOne(ctx, "lock reservation for update", query, id)
}

func (r *ReservationRepository) getOne(ctx context.Context, op, query string, id uuid.UUID) (*reservation.Reservation, error) {
	res, err := scanReservation(r.querier.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, reservation.ErrReservationNotFound{ID: id}
		}
		r.logger.Error("Failed to "+op, "reservation_id", id.String(), "error", err)
		return nil, fmt.Errorf("failed to %s: %w", op, err)
	}
	return res, nil
}

// FindHeld returns the newest HELD reservation for the triple, or nil when none exists
func (r *ReservationRepository) FindHeld(ctx context.Context, identityID, jobID, actionCode string) (*reservation.Reservation, error) {
	query := `
		SELECT ` + reservationColumns + `
		FROM credit_reservations r
		WHERE r.identity_id = $1 AND r.ref_job_id = $2 AND r.action_code = $3 AND r.status = $4
		ORDER BY r.created_at DESC
		LIMIT 1
	`

	res, err := scanReservation(r.querier.QueryRow(ctx, query, identityID, jobID, actionCode, reservation.StatusHeld))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		r.logger.Error("Failed to find held reservation",
			"identity_id", identityID,
			"job_id", jobID,
			"error", err,
		)
		return nil, fmt.Errorf("failed to find held reservation: %w", err)
	}
	return res, nil
}

// SumHeld totals the credits held by unexpired HELD reservations
func (r *ReservationRepository) SumHeld(ctx context.Context, identityID string, now time.Time) (int64, error) {
	query := `
		SELECT COALESCE(SUM(cost_credits), 0)
		FROM credit_reservations
		WHERE identity_id = $1 AND status = $2 AND expires_at > $3
	`

	var held int64
	if err := r.querier.QueryRow(ctx, query, identityID, reservation.StatusHeld, now).Scan(&held); err != nil {
		r.logger.Error("Failed to sum held reservations", "identity_id", identityID, "error", err)
		return 0, fmt.Errorf("failed to sum held reservations: %w", err)
	}
	return held, nil
}

// ListActive lists unexpired HELD reservations, soonest expiry first
func (r *ReservationRepository) ListActive(ctx context.Context, identityID string, now time.Time) ([]*reservation.Reservation, error) {
	query := `
		SELECT ` + reservationColumns + `
		FROM credit_reservations r
		WHERE r.identity_id = $1 AND r.status = $2 AND r.expires_at > $3
		ORDER BY r.expires_at ASC
	`
	return r.list(ctx, "list active reservations", query, identityID, reservation.StatusHeld, now)
}

// Update persists a state transition
func (r *ReservationRepository) Update(ctx context.Context, res *reservation.Reservation) error {
	meta, err := encodeMeta(res.Meta)
	if err != nil {
		return fmt.Errorf("failed to encode reservation meta: %w", err)
	}

	query := `
		UPDATE credit_reservations
		SET status = $1, meta = $2, captured_at = $3, released_at = $4
		WHERE id = $5
	`

	result, err := r.querier.Exec(ctx, query, res.Status, meta, res.CapturedAt, res.ReleasedAt, res.ID)
	if err != nil {
		r.logger.Error("Failed to update reservation",
			"reservation_id", res.ID.String(),
			"status", string(res.Status),
			"error", err,
		)
		return fmt.Errorf("failed to update reservation: %w", err)
	}

	if result.RowsAffected() == 0 {
		return reservation.ErrReservationNotFound{ID: res.ID}
	}
	return nil
}

// ReleaseExpired releases one batch of expired holds. Rows locked by live
// transactions are skipped and picked up by a later batch.
func (r *ReservationRepository) ReleaseExpired(ctx context.Context, now time.Time, limit int) ([]*reservation.Reservation, error) {
	query := `
		WITH expired AS (
			SELECT id
			FROM credit_reservations
			WHERE status = $1 AND expires_at <= $2
			ORDER BY expires_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		UPDATE credit_reservations r
		SET status = $4,
			released_at = $2,
			meta = r.meta || jsonb_build_object('` + reservation.MetaKeyReleaseReason + `', $5::text)
		FROM expired
		WHERE r.id = expired.id
		RETURNING ` + reservationColumns

	return r.list(ctx, "release expired reservations", query,
		reservation.StatusHeld, now, limit, reservation.StatusReleased, reservation.ReasonExpired)
}

// ListStaleHeld lists HELD reservations created before the cutoff, expired or not
func (r *ReservationRepository) ListStaleHeld(ctx context.Context, createdBefore time.Time, limit int) ([]*reservation.Reservation, error) {
	query := `
		SELECT ` + reservationColumns + `
		FROM credit_reservations r
		WHERE r.status = $1 AND r.created_at < $2
		ORDER BY r.created_at ASC
		LIMIT $3
	`
	return r.list(ctx, "list stale reservations", query, reservation.StatusHeld, createdBefore, limit)
}

// ListFinalizedWithoutEntry finds captured holds with no matching ledger entry
func (r *ReservationRepository) ListFinalizedWithoutEntry(ctx context.Context, limit int) ([]*reservation.Reservation, error) {
	query := `
		SELECT ` + reservationColumns + `
		FROM credit_reservations r
		WHERE r.status = $1
		AND NOT EXISTS (
			SELECT 1 FROM ledger_entries l
			WHERE l.identity_id = r.identity_id AND l.ref_type = $2 AND l.ref_id = r.id::text
		)
		ORDER BY r.captured_at ASC
		LIMIT $3
	`
	return r.list(ctx, "list finalized reservations without ledger entry", query,
		reservation.StatusFinalized, ledger.RefTypeReservation, limit)
}

func (r *ReservationRepository) list(ctx context.Context, op, query string, args ...any) ([]*reservation.Reservation, error) {
	rows, err := r.querier.Query(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to "+op, "error", err)
		return nil, fmt.Errorf("failed to %s: %w", op, err)
	}
	defer rows.Close()

	var reservations []*reservation.Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			r.logger.Error("Failed to scan reservation", "error", err)
			return nil, fmt.Errorf("failed to scan reservation: %w", err)
		}
		reservations = append(reservations, res)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("Error iterating over reservations", "error", err)
		return nil, fmt.Errorf("error iterating over reservations: %w", err)
	}
	return reservations, nil
}

func scanReservation(row pgx.Row) (*reservation.Reservation, error) {
	var (
		res  reservation.Reservation
		meta []byte
	)
	err := row.Scan(
		&res.ID,
		&res.IdentityID,
		&res.ActionCode,
		&res.CostCredits,
		&res.Status,
		&res.JobID,
		&meta,
		&res.CreatedAt,
		&res.ExpiresAt,
		&res.CapturedAt,
		&res.ReleasedAt,
	)
	if err != nil {
		return nil, err
	}

	if res.Meta, err = decodeMeta(meta); err != nil {
		return nil, fmt.Errorf("failed to decode reservation meta: %w", err)
	}
	if reason, ok := res.Meta[reservation.MetaKeyReleaseReason].(string); ok {
		res.ReleaseReason = reason
	}
	return &res, nil
}
