// Package store defines the transactional boundary the credit services run under.
package store

import (
	"context"

	"github.com/credit-ledger/internal/domain/job"
	"github.com/credit-ledger/internal/domain/ledger"
	"github.com/credit-ledger/internal/domain/outbox"
	"github.com/credit-ledger/internal/domain/reservation"
	"github.com/credit-ledger/internal/domain/wallet"
)

// Repositories bundles repositories bound to the same transaction or connection
type Repositories struct {
	Wallets      wallet.Repository
	Ledger       ledger.Repository
	Reservations reservation.Repository
	Jobs         job.Repository
	Outbox       outbox.Repository
}

// UnitOfWork runs fn atomically. Any error returned by fn rolls back every write it made.
type UnitOfWork interface {
	Repositories() Repositories
	ExecuteTx(ctx context.Context, fn func(repos Repositories) error) error
}
