package postgres

import (
	"context"
	"log/slog"

	"github.com/credit-ledger/internal/domain/store"
	"github.com/credit-ledger/internal/platform/persistence"
	"github.com/jackc/pgx/v5"
)

// Store is the PostgreSQL unit of work. Each ExecuteTx call binds every
// repository to one database transaction.
type Store struct {
	db           *persistence.PostgresDB
	wallets      *WalletRepository
	ledger       *LedgerRepository
	reservations *ReservationRepository
	jobs         *JobRepository
	outbox       *OutboxRepository
}

var _ store.UnitOfWork = (*Store)(nil)

func NewStore(logger *slog.Logger, db *persistence.PostgresDB) *Store {
	return &Store{
		db:           db,
		wallets:      NewWalletRepository(logger, db),
		ledger:       NewLedgerRepository(logger, db),
		reservations: NewReservationRepository(logger, db),
		jobs:         NewJobRepository(logger, db),
		outbox:       NewOutboxRepository(logger, db),
	}
}

// Repositories returns pool-bound repositories for reads outside a transaction
func (s *Store) Repositories() store.Repositories {
	return store.Repositories{
		Wallets:      s.wallets,
		Ledger:       s.ledger,
		Reservations: s.reservations,
		Jobs:         s.jobs,
		Outbox:       s.outbox,
	}
}

func (s *Store) ExecuteTx(ctx context.Context, fn func(repos store.Repositories) error) error {
	return s.db.ExecuteTx(ctx, func(tx pgx.Tx) error {
		return fn(store.Repositories{
			Wallets:      s.wallets.WithTx(tx),
			Ledger:       s.ledger.WithTx(tx),
			Reservations: s.reservations.WithTx(tx),
			Jobs:         s.jobs.WithTx(tx),
			Outbox:       s.outbox.WithTx(tx),
		})
	})
}
