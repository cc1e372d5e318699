package wallet

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrEmptyIdentity = errors.New("identity id cannot be empty")

// Wallet holds the cached credit balance of one identity.
// BalanceCredits always equals the sum of the identity's ledger entries.
type Wallet struct {
	IdentityID     string    `json:"identity_id"`
	BalanceCredits int64     `json:"balance_credits"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// NewWallet creates an empty wallet for the identity
func NewWallet(identityID string, now time.Time) (*Wallet, error) {
	if identityID == "" {
		return nil, ErrEmptyIdentity
	}
	return &Wallet{
		IdentityID: identityID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// Snapshot is the spendable view of a wallet at one instant
type Snapshot struct {
	IdentityID string `json:"identity_id"`
	Balance    int64  `json:"balance"`
	Reserved   int64  `json:"reserved"`
	Available  int64  `json:"available"`
}

// NewSnapshot derives Available, clamped at zero
func NewSnapshot(identityID string, balance, reserved int64) Snapshot {
	available := balance - reserved
	if available < 0 {
		available = 0
	}
	return Snapshot{
		IdentityID: identityID,
		Balance:    balance,
		Reserved:   reserved,
		Available:  available,
	}
}

// Covers reports whether cost fits into the unclamped spendable amount
func (s Snapshot) Covers(cost int64) bool {
	return s.Balance-s.Reserved >= cost
}

// Drift compares a cached balance to the ledger it projects
type Drift struct {
	IdentityID    string `json:"identity_id"`
	CachedBalance int64  `json:"cached_balance"`
	LedgerSum     int64  `json:"ledger_sum"`
}

func (d Drift) Delta() int64 {
	return d.LedgerSum - d.CachedBalance
}

func (d Drift) InSync() bool {
	return d.CachedBalance == d.LedgerSum
}

// Repair records one re-projection of a wallet from its ledger
type Repair struct {
	ID            uuid.UUID `json:"id"`
	IdentityID    string    `json:"identity_id"`
	OldBalance    int64     `json:"old_balance"`
	NewBalance    int64     `json:"new_balance"`
	Delta         int64     `json:"delta"`
	Reason        string    `json:"reason"`
	TriggerSource string    `json:"trigger_source"`
	CreatedAt     time.Time `json:"created_at"`
}

func NewRepair(drift Drift, reason, triggerSource string, now time.Time) *Repair {
	return &Repair{
		ID:            uuid.New(),
		IdentityID:    drift.IdentityID,
		OldBalance:    drift.CachedBalance,
		NewBalance:    drift.LedgerSum,
		Delta:         drift.Delta(),
		Reason:        reason,
		TriggerSource: triggerSource,
		CreatedAt:     now,
	}
}
