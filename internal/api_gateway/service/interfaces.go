package service

import (
	"context"
	"time"

	"github.com/credit-ledger/internal/credit"
	"github.com/credit-ledger/internal/domain/history"
	"github.com/credit-ledger/internal/domain/ledger"
	"github.com/credit-ledger/internal/domain/reservation"
	"github.com/credit-ledger/internal/domain/shared"
	"github.com/credit-ledger/internal/domain/wallet"
	"github.com/credit-ledger/internal/pricing"
	"github.com/google/uuid"
)

// WalletService defines the wallet and ledger read and admin operations
type WalletService interface {
	// Provision creates the wallet if missing, reporting whether it was created
	Provision(ctx context.Context, identityID string) (*wallet.Wallet, bool, error)

	// Snapshot returns balance, reserved and available credits.
	// Returns ErrWalletNotFound if the identity has no wallet
	Snapshot(ctx context.Context, identityID string) (wallet.Snapshot, error)

	// Entries returns one page of the ledger, newest first, and the total count
	Entries(ctx context.Context, identityID string, page, perPage int) ([]*ledger.Entry, int64, error)

	// History returns one page of recorded credit events and the total count
	History(ctx context.Context, identityID string, page, perPage int) ([]*history.Event, int64, error)

	ActiveReservations(ctx context.Context, identityID string) ([]*reservation.Reservation, error)

	// ApplyEntry writes an administrative ledger entry
	ApplyEntry(ctx context.Context, req credit.EntryRequest) (*ledger.Entry, error)
}

// ReserveCommand asks for a hold priced by the action catalog
type ReserveCommand struct {
	IdentityID string
	ActionKey  string
	JobID      string
	TTL        time.Duration
	Meta       map[string]any
}

// ReservationService defines hold lifecycle operations
type ReservationService interface {
	Reserve(ctx context.Context, cmd ReserveCommand) (*credit.ReserveResult, pricing.Quote, error)
	Get(ctx context.Context, id uuid.UUID) (*reservation.Reservation, error)
	Finalize(ctx context.Context, id uuid.UUID) (*credit.FinalizeResult, error)
	Release(ctx context.Context, id uuid.UUID, reason string) (*credit.ReleaseResult, error)
}

// JobService forwards job outcomes to the credit processor
type JobService interface {
	SubmitOutcome(ctx context.Context, message *shared.JobOutcomeMessage) error
}

// PricingService exposes the action cost catalog
type PricingService interface {
	Quote(actionKey string) (pricing.Quote, error)
	Costs() map[string]int64
}
