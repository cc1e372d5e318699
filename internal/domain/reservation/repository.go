package reservation

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository manages reservation persistence
type Repository interface {
	Create(ctx context.Context, reservation *Reservation) error
	GetByID(ctx context.Context, id uuid.UUID) (*Reservation, error)
	LockForUpdate(ctx context.Context, id uuid.UUID) (*Reservation, error)

	// FindHeld returns the HELD reservation for the triple, expired or not, or nil
	FindHeld(ctx context.Context, identityID, jobID, actionCode string) (*Reservation, error)

	// SumHeld is the derived reserved amount: HELD rows expiring after now
	SumHeld(ctx context.Context, identityID string, now time.Time) (int64, error)
	ListActive(ctx context.Context, identityID string, now time.Time) ([]*Reservation, error)

	// Update persists status, timestamps and meta of an existing reservation
	Update(ctx context.Context, reservation *Reservation) error

	// ReleaseExpired releases up to limit HELD rows expired at now and returns them
	ReleaseExpired(ctx context.Context, now time.Time, limit int) ([]*Reservation, error)
	ListStaleHeld(ctx context.Context, createdBefore time.Time, limit int) ([]*Reservation, error)
	ListFinalizedWithoutEntry(ctx context.Context, limit int) ([]*Reservation, error)
}

// ErrReservationNotFound indicates missing reservation
type ErrReservationNotFound struct {
	ID uuid.UUID
}

func (e ErrReservationNotFound) Error() string {
	return "reservation not found: " + e.ID.String()
}

// Is implements the errors.Is interface for ErrReservationNotFound
func (e ErrReservationNotFound) Is(target error) bool {
	t, ok := target.(ErrReservationNotFound)
	if !ok {
		return false
	}
	if t.ID == uuid.Nil {
		return true
	}
	return e.ID == t.ID
}

// ErrInvalidStateTransition rejects moving a hold out of a terminal state
type ErrInvalidStateTransition struct {
	ID   uuid.UUID
	From Status
	To   Status
}

func (e ErrInvalidStateTransition) Error() string {
	return "invalid reservation transition " + string(e.From) + " -> " + string(e.To) + ": " + e.ID.String()
}

// Is matches any ErrInvalidStateTransition
func (e ErrInvalidStateTransition) Is(target error) bool {
	_, ok := target.(ErrInvalidStateTransition)
	return ok
}
