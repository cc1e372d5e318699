package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/credit-ledger/internal/domain/ledger"
	"github.com/credit-ledger/internal/platform/persistence"
	"github.com/jackc/pgx/v5"
)

// LedgerRepository implements the ledger.Repository interface for PostgreSQL.
// Entries are insert-only; there is no update or delete statement.
type LedgerRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

// NewLedgerRepository creates a new PostgreSQL ledger repository
func NewLedgerRepository(logger *slog.Logger, db *persistence.PostgresDB) *LedgerRepository {
	return &LedgerRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

// WithTx returns a copy of the repository that runs every statement on tx
func (r *LedgerRepository) WithTx(tx pgx.Tx) *LedgerRepository {
	return &LedgerRepository{
		querier: tx,
		logger:  r.logger,
	}
}

const entryColumns = `id, identity_id, entry_type, amount_credits, ref_type, ref_id, meta, created_at`

// Create appends an entry. A second entry for the same reference fails with ErrDuplicateEntry.
func (r *LedgerRepository) Create(ctx context.Context, entry *ledger.Entry) error {
	meta, err := encodeMeta(entry.Meta)
	if err != nil {
		return fmt.Errorf("failed to encode ledger entry meta: %w", err)
	}

	query := `
		INSERT INTO ledger_entries (` + entryColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err = r.querier.Exec(ctx, query,
		entry.ID,
		entry.IdentityID,
		entry.Type,
		entry.Amount,
		nullString(entry.RefType),
		nullString(entry.RefID),
		meta,
		entry.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ledger.ErrDuplicateEntry{RefType: entry.RefType, RefID: entry.RefID}
		}
		r.logger.Error("Failed to create ledger entry",
			"identity_id", entry.IdentityID,
			"entry_type", string(entry.Type),
			"error", err,
		)
		return fmt.Errorf("failed to create ledger entry: %w", err)
	}

	return nil
}

// GetByRef finds the entry an idempotent replay must return
func (r *LedgerRepository) GetByRef(ctx context.Context, identityID string, entryType ledger.EntryType, refType, refID string) (*ledger.Entry, error) {
	query := `
		SELECT ` + entryColumns + `
		FROM ledger_entries
		WHERE identity_id = $1 AND entry_type = $2 AND ref_type = $3 AND ref_id = $4
	`

	entry, err := scanEntry(r.querier.QueryRow(ctx, query, identityID, entryType, refType, refID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ledger.ErrEntryNotFound{RefType: refType, RefID: refID}
		}
		r.logger.Error("Failed to get ledger entry by reference",
			"identity_id", identityID,
			"ref_type", refType,
			"ref_id", refID,
			"error", err,
		)
		return nil, fmt.Errorf("failed to get ledger entry by reference: %w", err)
	}
	return entry, nil
}

// ListByIdentity returns a page of entries, newest first
func (r *LedgerRepository) ListByIdentity(ctx context.Context, identityID string, limit, offset int) ([]*ledger.Entry, error) {
	query := `
		SELECT ` + entryColumns + `
		FROM ledger_entries
		WHERE identity_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3
	`

	rows, err := r.querier.Query(ctx, query, identityID, limit, offset)
	if err != nil {
		r.logger.Error("Failed to list ledger entries", "identity_id", identityID, "error", err)
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []*ledger.Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			r.logger.Error("Failed to scan ledger entry", "error", err)
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("Error iterating over ledger entries", "error", err)
		return nil, fmt.Errorf("error iterating over ledger entries: %w", err)
	}
	return entries, nil
}

// CountByIdentity counts all entries of an identity
func (r *LedgerRepository) CountByIdentity(ctx context.Context, identityID string) (int64, error) {
	query := `SELECT COUNT(*) FROM ledger_entries WHERE identity_id = $1`

	var count int64
	if err := r.querier.QueryRow(ctx, query, identityID).Scan(&count); err != nil {
		r.logger.Error("Failed to count ledger entries", "identity_id", identityID, "error", err)
		return 0, fmt.Errorf("failed to count ledger entries: %w", err)
	}
	return count, nil
}

// SumByIdentity is the balance the ledger proves for an identity
func (r *LedgerRepository) SumByIdentity(ctx context.Context, identityID string) (int64, error) {
	query := `SELECT COALESCE(SUM(amount_credits), 0) FROM ledger_entries WHERE identity_id = $1`

	var sum int64
	if err := r.querier.QueryRow(ctx, query, identityID).Scan(&sum); err != nil {
		r.logger.Error("Failed to sum ledger entries", "identity_id", identityID, "error", err)
		return 0, fmt.Errorf("failed to sum ledger entries: %w", err)
	}
	return sum, nil
}

func scanEntry(row pgx.Row) (*ledger.Entry, error) {
	var (
		entry   ledger.Entry
		refType *string
		refID   *string
		meta    []byte
	)
	err := row.Scan(
		&entry.ID,
		&entry.IdentityID,
		&entry.Type,
		&entry.Amount,
		&refType,
		&refID,
		&meta,
		&entry.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	entry.RefType = fromNullString(refType)
	entry.RefID = fromNullString(refID)
	if entry.Meta, err = decodeMeta(meta); err != nil {
		return nil, fmt.Errorf("failed to decode ledger entry meta: %w", err)
	}
	return &entry, nil
}
