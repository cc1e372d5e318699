package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/credit-ledger/internal/domain/job"
	"github.com/credit-ledger/internal/platform/persistence"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// JobRepository implements the job.Repository interface for PostgreSQL
type JobRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

// NewJobRepository creates a new PostgreSQL job repository
func NewJobRepository(logger *slog.Logger, db *persistence.PostgresDB) *JobRepository {
	return &JobRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

// WithTx returns a copy of the repository that runs every statement on tx
func (r *JobRepository) WithTx(tx pgx.Tx) *JobRepository {
	return &JobRepository{
		querier: tx,
		logger:  r.logger,
	}
}

const jobColumns = `id, identity_id, action_code, status, reservation_id, provider, upstream_job_id,
		error_message, created_at, updated_at, completed_at`

// Create records a job the first time a hold is taken for it
func (r *JobRepository) Create(ctx context.Context, j *job.Job) (bool, error) {
	query := `
		INSERT INTO jobs (id, identity_id, action_code, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`

	result, err := r.querier.Exec(ctx, query, j.ID, j.IdentityID, j.ActionCode, j.Status, j.CreatedAt, j.UpdatedAt)
	if err != nil {
		r.logger.Error("Failed to create job", "job_id", j.ID, "error", err)
		return false, fmt.Errorf("failed to create job: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// GetByID reads a job without locking it
func (r *JobRepository) GetByID(ctx context.Context, id string) (*job.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`
	return r.getOne(ctx, "get job", query, id)
}

// GetByUpstreamID resolves a job from the identifier its provider reports
func (r *JobRepository) GetByUpstreamID(ctx context.Context, provider, upstreamJobID string) (*job.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE provider = $1 AND upstream_job_id = $2`

	j, err := scanJob(r.querier.QueryRow(ctx, query, provider, upstreamJobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, job.ErrJobNotFound{JobID: provider + ":" + upstreamJobID}
		}
		r.logger.Error("Failed to get job by upstream id",
			"provider", provider,
			"upstream_job_id", upstreamJobID,
			"error", err,
		)
		return nil, fmt.Errorf("failed to get job by upstream id: %w", err)
	}
	return j, nil
}

// LockForUpdate locks the job row for the rest of the transaction
func (r *JobRepository) LockForUpdate(ctx context.Context, id string) (*job.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1 FOR UPDATE`
	return r.getOne(ctx, "lock job for update", query, id)
}

func (r *JobRepository) getOne(ctx context.Context, op, query, id string) (*job.Job, error) {
	j, err := scanJob(r.querier.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, job.ErrJobNotFound{JobID: id}
		}
		r.logger.Error("Failed to "+op, "job_id", id, "error", err)
		return nil, fmt.Errorf("failed to %s: %w", op, err)
	}
	return j, nil
}

// LinkReservation points the job at the hold paying for it
func (r *JobRepository) LinkReservation(ctx context.Context, id string, reservationID uuid.UUID) error {
	query := `UPDATE jobs SET reservation_id = $1 WHERE id = $2`

	result, err := r.querier.Exec(ctx, query, reservationID, id)
	if err != nil {
		r.logger.Error("Failed to link job reservation", "job_id", id, "error", err)
		return fmt.Errorf("failed to link job reservation: %w", err)
	}
	if result.RowsAffected() == 0 {
		return job.ErrJobNotFound{JobID: id}
	}
	return nil
}

// Update persists status, provider fields and completion details
func (r *JobRepository) Update(ctx context.Context, j *job.Job) error {
	query := `
		UPDATE jobs
		SET status = $1, provider = $2, upstream_job_id = $3, error_message = $4, updated_at = $5, completed_at = $6
		WHERE id = $7
	`

	result, err := r.querier.Exec(ctx, query,
		j.Status,
		nullString(j.Provider),
		nullString(j.UpstreamJobID),
		nullString(j.ErrorMessage),
		j.UpdatedAt,
		j.CompletedAt,
		j.ID,
	)
	if err != nil {
		r.logger.Error("Failed to update job", "job_id", j.ID, "status", string(j.Status), "error", err)
		return fmt.Errorf("failed to update job: %w", err)
	}
	if result.RowsAffected() == 0 {
		return job.ErrJobNotFound{JobID: j.ID}
	}
	return nil
}

func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j             job.Job
		provider      *string
		upstreamJobID *string
		errorMessage  *string
	)
	err := row.Scan(
		&j.ID,
		&j.IdentityID,
		&j.ActionCode,
		&j.Status,
		&j.ReservationID,
		&provider,
		&upstreamJobID,
		&errorMessage,
		&j.CreatedAt,
		&j.UpdatedAt,
		&j.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	j.Provider = fromNullString(provider)
	j.UpstreamJobID = fromNullString(upstreamJobID)
	j.ErrorMessage = fromNullString(errorMessage)
	return &j, nil
}
