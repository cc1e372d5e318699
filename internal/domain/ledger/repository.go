package ledger

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrEmptyIdentity       = errors.New("identity id cannot be empty")
	ErrIncompleteReference = errors.New("ref_type and ref_id must be given together")
)

// Repository manages append-only ledger entry persistence
type Repository interface {
	Create(ctx context.Context, entry *Entry) error
	GetByRef(ctx context.Context, identityID string, entryType EntryType, refType, refID string) (*Entry, error)
	ListByIdentity(ctx context.Context, identityID string, limit, offset int) ([]*Entry, error)
	CountByIdentity(ctx context.Context, identityID string) (int64, error)
	SumByIdentity(ctx context.Context, identityID string) (int64, error)
}

// ErrInvalidEntryType rejects a type outside the closed set
type ErrInvalidEntryType struct {
	Type EntryType
}

func (e ErrInvalidEntryType) Error() string {
	return "invalid ledger entry type: " + string(e.Type)
}

// ErrInvalidAmount rejects a zero amount or one whose sign the type forbids
type ErrInvalidAmount struct {
	Type   EntryType
	Amount int64
}

func (e ErrInvalidAmount) Error() string {
	return fmt.Sprintf("invalid amount %d for ledger entry type %s", e.Amount, e.Type)
}

// Is matches any ErrInvalidAmount
func (e ErrInvalidAmount) Is(target error) bool {
	_, ok := target.(ErrInvalidAmount)
	return ok
}

// ErrInsufficientBalance rejects an entry that would take the wallet below zero
type ErrInsufficientBalance struct {
	IdentityID string
	Type       EntryType
	Balance    int64
	Delta      int64
}

func (e ErrInsufficientBalance) Error() string {
	return fmt.Sprintf("insufficient balance for %s: balance=%d delta=%d type=%s",
		e.IdentityID, e.Balance, e.Delta, e.Type)
}

// Is matches any ErrInsufficientBalance
func (e ErrInsufficientBalance) Is(target error) bool {
	_, ok := target.(ErrInsufficientBalance)
	return ok
}

// ErrEntryNotFound indicates no entry exists for the reference
type ErrEntryNotFound struct {
	RefType string
	RefID   string
}

func (e ErrEntryNotFound) Error() string {
	return "ledger entry not found: " + e.RefType + "/" + e.RefID
}

// Is implements the errors.Is interface for ErrEntryNotFound
func (e ErrEntryNotFound) Is(target error) bool {
	t, ok := target.(ErrEntryNotFound)
	if !ok {
		return false
	}
	// An empty target reference matches any ErrEntryNotFound
	if t.RefID == "" {
		return true
	}
	return e.RefType == t.RefType && e.RefID == t.RefID
}

// ErrDuplicateEntry indicates the reference uniqueness constraint fired
type ErrDuplicateEntry struct {
	RefType string
	RefID   string
}

func (e ErrDuplicateEntry) Error() string {
	return "duplicate ledger entry: " + e.RefType + "/" + e.RefID
}

// Is implements the errors.Is interface for ErrDuplicateEntry
func (e ErrDuplicateEntry) Is(target error) bool {
	t, ok := target.(ErrDuplicateEntry)
	if !ok {
		return false
	}
	if t.RefID == "" {
		return true
	}
	return e.RefType == t.RefType && e.RefID == t.RefID
}
