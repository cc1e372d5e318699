// Package memory is an in-process implementation of the credit repositories.
// Transactions are serialized by one mutex and rolled back by restoring a
// snapshot, which makes it suitable for tests and single-process tooling.
package memory

import (
	"context"
	"sync"

	"github.com/credit-ledger/internal/domain/job"
	"github.com/credit-ledger/internal/domain/ledger"
	"github.com/credit-ledger/internal/domain/outbox"
	"github.com/credit-ledger/internal/domain/reservation"
	"github.com/credit-ledger/internal/domain/store"
	"github.com/credit-ledger/internal/domain/wallet"
	"github.com/google/uuid"
)

type state struct {
	wallets      map[string]wallet.Wallet
	repairs      []wallet.Repair
	entries      []ledger.Entry
	reservations map[uuid.UUID]reservation.Reservation
	jobs         map[string]job.Job
	messages     []outbox.Message
	nextOutboxID int64
}

func newState() *state {
	return &state{
		wallets:      make(map[string]wallet.Wallet),
		reservations: make(map[uuid.UUID]reservation.Reservation),
		jobs:         make(map[string]job.Job),
	}
}

// clone copies the containers. Stored values are replaced, never mutated, so
// sharing them between snapshots is safe.
func (s *state) clone() *state {
	c := &state{
		wallets:      make(map[string]wallet.Wallet, len(s.wallets)),
		repairs:      append([]wallet.Repair(nil), s.repairs...),
		entries:      append([]ledger.Entry(nil), s.entries...),
		reservations: make(map[uuid.UUID]reservation.Reservation, len(s.reservations)),
		jobs:         make(map[string]job.Job, len(s.jobs)),
		messages:     append([]outbox.Message(nil), s.messages...),
		nextOutboxID: s.nextOutboxID,
	}
	for k, v := range s.wallets {
		c.wallets[k] = v
	}
	for k, v := range s.reservations {
		c.reservations[k] = v
	}
	for k, v := range s.jobs {
		c.jobs[k] = v
	}
	return c
}

// Store implements store.UnitOfWork in memory
type Store struct {
	mu    sync.Mutex
	state *state
}

var _ store.UnitOfWork = (*Store)(nil)

func NewStore() *Store {
	return &Store{state: newState()}
}

// Repositories returns repositories that lock the store for each call
func (s *Store) Repositories() store.Repositories {
	return s.repositories(false)
}

func (s *Store) ExecuteTx(ctx context.Context, fn func(repos store.Repositories) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.state.clone()
	defer func() {
		if r := recover(); r != nil {
			s.state = snapshot
			panic(r)
		}
		if err != nil {
			s.state = snapshot
		}
	}()

	return fn(s.repositories(true))
}

func (s *Store) repositories(inTx bool) store.Repositories {
	b := binding{store: s, inTx: inTx}
	return store.Repositories{
		Wallets:      &WalletRepository{b},
		Ledger:       &LedgerRepository{b},
		Reservations: &ReservationRepository{b},
		Jobs:         &JobRepository{b},
		Outbox:       &OutboxRepository{b},
	}
}

// binding runs repository calls either inside a held transaction or under the store lock
type binding struct {
	store *Store
	inTx  bool
}

func (b binding) read(fn func(st *state) error) error {
	if !b.inTx {
		b.store.mu.Lock()
		defer b.store.mu.Unlock()
	}
	return fn(b.store.state)
}

// Messages returns every outbox message written so far, oldest first
func (s *Store) Messages() []outbox.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]outbox.Message(nil), s.state.messages...)
}

// Repairs returns every wallet repair written so far
func (s *Store) Repairs() []wallet.Repair {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]wallet.Repair(nil), s.state.repairs...)
}

// SetBalance overwrites a cached balance without a ledger entry. Tests use it to simulate drift.
func (s *Store) SetBalance(identityID string, balance int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.state.wallets[identityID]; ok {
		w.BalanceCredits = balance
		s.state.wallets[identityID] = w
	}
}

// PutReservation stores a reservation as is. Tests use it to seed stale or orphaned rows.
func (s *Store) PutReservation(res *reservation.Reservation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.reservations[res.ID] = copyReservation(*res)
}

func copyMeta(meta map[string]any) map[string]any {
	if meta == nil {
		return nil
	}
	c := make(map[string]any, len(meta))
	for k, v := range meta {
		c[k] = v
	}
	return c
}
