// Package postgres provides PostgreSQL implementations of the domain repositories.
// Every repository can be bound to a transaction with WithTx so a credit operation
// commits its wallet, ledger, reservation, job and outbox writes together.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/credit-ledger/internal/domain/wallet"
	"github.com/credit-ledger/internal/platform/persistence"
	"github.com/jackc/pgx/v5"
)

// WalletRepository implements the wallet.Repository interface for PostgreSQL
type WalletRepository struct {
	querier persistence.Querier // Can be a pool or pgx.Tx
	logger  *slog.Logger
}

// NewWalletRepository creates a new PostgreSQL wallet repository
func NewWalletRepository(logger *slog.Logger, db *persistence.PostgresDB) *WalletRepository {
	return &WalletRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

// WithTx returns a copy of the repository that runs every statement on tx
func (r *WalletRepository) WithTx(tx pgx.Tx) *WalletRepository {
	return &WalletRepository{
		querier: tx,
		logger:  r.logger,
	}
}

// Create provisions a wallet. An existing wallet is left untouched.
func (r *WalletRepository) Create(ctx context.Context, w *wallet.Wallet) (bool, error) {
	query := `
		INSERT INTO wallets (identity_id, balance_credits, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (identity_id) DO NOTHING
	`

	result, err := r.querier.Exec(ctx, query, w.IdentityID, w.BalanceCredits, w.CreatedAt, w.UpdatedAt)
	if err != nil {
		r.logger.Error("Failed to create wallet", "identity_id", w.IdentityID, "error", err)
		return false, fmt.Errorf("failed to create wallet: %w", err)
	}

	return result.RowsAffected() == 1, nil
}

// GetByIdentity reads a wallet without locking it
func (r *WalletRepository) GetByIdentity(ctx context.Context, identityID string) (*wallet.Wallet, error) {
	query := `
		SELECT identity_id, balance_credits, created_at, updated_at
		FROM wallets
		WHERE identity_id = $1
	`
	return r.getOne(ctx, "get wallet", query, identityID)
}

// LockForUpdate obtains a pessimistic lock on the wallet row for the rest of the transaction.
func (r *WalletRepository) LockForUpdate(ctx context.Context, identityID string) (*wallet.Wallet, error) {
	query := `
		SELECT identity_id, balance_credits, created_at, updated_at
		FROM wallets
		WHERE identity_id = $1
		FOR UPDATE
	`
	return r.getOne(ctx, "lock wallet for update", query, identityID)
}

func (r *WalletRepository) getOne(ctx context.Context, op, query, identityID string) (*wallet.Wallet, error) {
	var w wallet.Wallet
	err := r.querier.QueryRow(ctx, query, identityID).Scan(
		&w.IdentityID,
		&w.BalanceCredits,
		&w.CreatedAt,
		&w.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, wallet.ErrWalletNotFound{IdentityID: identityID}
		}
		r.logger.Error("Failed to "+op, "identity_id", identityID, "error", err)
		return nil, fmt.Errorf("failed to %s: %w", op, err)
	}
	return &w, nil
}

// UpdateBalance overwrites the cached balance. Callers hold the row lock.
func (r *WalletRepository) UpdateBalance(ctx context.Context, identityID string, balance int64, now time.Time) error {
	query := `
		UPDATE wallets
		SET balance_credits = $1, updated_at = $2
		WHERE identity_id = $3
	`

	result, err := r.querier.Exec(ctx, query, balance, now, identityID)
	if err != nil {
		r.logger.Error("Failed to update wallet balance", "identity_id", identityID, "error", err)
		return fmt.Errorf("failed to update wallet balance: %w", err)
	}

	if result.RowsAffected() == 0 {
		return wallet.ErrWalletNotFound{IdentityID: identityID}
	}
	return nil
}

const driftQuery = `
		SELECT w.identity_id, w.balance_credits, COALESCE(SUM(l.amount_credits), 0) AS ledger_sum
		FROM wallets w
		LEFT JOIN ledger_entries l ON l.identity_id = w.identity_id
		GROUP BY w.identity_id, w.balance_credits
		HAVING w.balance_credits <> COALESCE(SUM(l.amount_credits), 0)
`

// FindDrifts lists wallets whose cached balance differs from their ledger sum, largest gap first
func (r *WalletRepository) FindDrifts(ctx context.Context, limit int) ([]wallet.Drift, error) {
	query := driftQuery + `
		ORDER BY ABS(w.balance_credits - COALESCE(SUM(l.amount_credits), 0)) DESC
		LIMIT $1
	`

	rows, err := r.querier.Query(ctx, query, limit)
	if err != nil {
		r.logger.Error("Failed to find wallet drifts", "error", err)
		return nil, fmt.Errorf("failed to find wallet drifts: %w", err)
	}
	defer rows.Close()

	var drifts []wallet.Drift
	for rows.Next() {
		var d wallet.Drift
		if err := rows.Scan(&d.IdentityID, &d.CachedBalance, &d.LedgerSum); err != nil {
			r.logger.Error("Failed to scan wallet drift", "error", err)
			return nil, fmt.Errorf("failed to scan wallet drift: %w", err)
		}
		drifts = append(drifts, d)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("Error iterating over wallet drifts", "error", err)
		return nil, fmt.Errorf("error iterating over wallet drifts: %w", err)
	}
	return drifts, nil
}

// CountDrifts counts wallets out of sync with their ledger
func (r *WalletRepository) CountDrifts(ctx context.Context) (int64, error) {
	query := `SELECT COUNT(*) FROM (` + driftQuery + `) AS drifted`

	var count int64
	if err := r.querier.QueryRow(ctx, query).Scan(&count); err != nil {
		r.logger.Error("Failed to count wallet drifts", "error", err)
		return 0, fmt.Errorf("failed to count wallet drifts: %w", err)
	}
	return count, nil
}

// CreateRepair appends a wallet_repairs audit row
func (r *WalletRepository) CreateRepair(ctx context.Context, repair *wallet.Repair) error {
	query := `
		INSERT INTO wallet_repairs (id, identity_id, old_balance, new_balance, delta, reason, trigger_source, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.querier.Exec(ctx, query,
		repair.ID,
		repair.IdentityID,
		repair.OldBalance,
		repair.NewBalance,
		repair.Delta,
		repair.Reason,
		repair.TriggerSource,
		repair.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create wallet repair", "identity_id", repair.IdentityID, "error", err)
		return fmt.Errorf("failed to create wallet repair: %w", err)
	}
	return nil
}
