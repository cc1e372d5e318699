package wallet

import (
	"context"
	"fmt"
	"time"
)

// Repository defines wallet persistence operations
type Repository interface {
	// Create inserts the wallet unless one exists, reporting whether a row was written
	Create(ctx context.Context, wallet *Wallet) (bool, error)
	GetByIdentity(ctx context.Context, identityID string) (*Wallet, error)

	// LockForUpdate acquires the row lock every balance-derived decision runs under
	LockForUpdate(ctx context.Context, identityID string) (*Wallet, error)
	UpdateBalance(ctx context.Context, identityID string, balance int64, now time.Time) error

	FindDrifts(ctx context.Context, limit int) ([]Drift, error)
	CountDrifts(ctx context.Context) (int64, error)
	CreateRepair(ctx context.Context, repair *Repair) error
}

// ErrWalletNotFound indicates the identity has no provisioned wallet
type ErrWalletNotFound struct {
	IdentityID string
}

func (e ErrWalletNotFound) Error() string {
	return "wallet not found: " + e.IdentityID
}

// Is matches any ErrWalletNotFound when the target carries no identity
func (e ErrWalletNotFound) Is(target error) bool {
	t, ok := target.(ErrWalletNotFound)
	if !ok {
		return false
	}
	if t.IdentityID == "" {
		return true
	}
	return e.IdentityID == t.IdentityID
}

// InsufficientCreditsCode is the machine readable code callers surface to users
const InsufficientCreditsCode = "INSUFFICIENT_CREDITS"

// ErrInsufficientCredits rejects a hold that does not fit into the available credits
type ErrInsufficientCredits struct {
	IdentityID string
	Required   int64
	Balance    int64
	Reserved   int64
	Available  int64
}

func (e ErrInsufficientCredits) Error() string {
	return fmt.Sprintf("insufficient credits for %s: required=%d balance=%d reserved=%d available=%d",
		e.IdentityID, e.Required, e.Balance, e.Reserved, e.Available)
}

func (e ErrInsufficientCredits) Code() string {
	return InsufficientCreditsCode
}

// Is matches any ErrInsufficientCredits
func (e ErrInsufficientCredits) Is(target error) bool {
	_, ok := target.(ErrInsufficientCredits)
	return ok
}
