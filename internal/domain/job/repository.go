package job

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Repository manages job persistence
type Repository interface {
	// Create inserts the job unless one with the same id exists, reporting whether a row was written
	Create(ctx context.Context, job *Job) (bool, error)
	GetByID(ctx context.Context, id string) (*Job, error)
	GetByUpstreamID(ctx context.Context, provider, upstreamJobID string) (*Job, error)
	LockForUpdate(ctx context.Context, id string) (*Job, error)
	LinkReservation(ctx context.Context, id string, reservationID uuid.UUID) error
	Update(ctx context.Context, job *Job) error
}

// ErrJobNotFound indicates missing job
type ErrJobNotFound struct {
	JobID string
}

func (e ErrJobNotFound) Error() string {
	return "job not found: " + e.JobID
}

// Is matches any ErrJobNotFound when the target carries no id
func (e ErrJobNotFound) Is(target error) bool {
	t, ok := target.(ErrJobNotFound)
	if !ok {
		return false
	}
	if t.JobID == "" {
		return true
	}
	return e.JobID == t.JobID
}

// ErrStatusConflict indicates a job reported two different terminal outcomes
type ErrStatusConflict struct {
	JobID     string
	Current   Status
	Requested Status
}

func (e ErrStatusConflict) Error() string {
	return fmt.Sprintf("job %s is %s, cannot become %s", e.JobID, e.Current, e.Requested)
}

// Is matches any ErrStatusConflict
func (e ErrStatusConflict) Is(target error) bool {
	_, ok := target.(ErrStatusConflict)
	return ok
}

// ErrNotCancellable indicates the job already left the queue
type ErrNotCancellable struct {
	JobID  string
	Status Status
}

func (e ErrNotCancellable) Error() string {
	return fmt.Sprintf("job %s cannot be cancelled in status %s", e.JobID, e.Status)
}

// Is matches any ErrNotCancellable
func (e ErrNotCancellable) Is(target error) bool {
	_, ok := target.(ErrNotCancellable)
	return ok
}

// ErrOwnershipMismatch indicates a job id already belongs to another identity
type ErrOwnershipMismatch struct {
	JobID     string
	Owner     string
	Requested string
}

func (e ErrOwnershipMismatch) Error() string {
	return fmt.Sprintf("job %s belongs to %s, not %s", e.JobID, e.Owner, e.Requested)
}

// Is matches any ErrOwnershipMismatch
func (e ErrOwnershipMismatch) Is(target error) bool {
	_, ok := target.(ErrOwnershipMismatch)
	return ok
}

// ErrHoldAlreadyLinked indicates the job is still paid for by another live hold
type ErrHoldAlreadyLinked struct {
	JobID         string
	ReservationID uuid.UUID
}

func (e ErrHoldAlreadyLinked) Error() string {
	return fmt.Sprintf("job %s is already held by reservation %s", e.JobID, e.ReservationID)
}

// Is matches any ErrHoldAlreadyLinked
func (e ErrHoldAlreadyLinked) Is(target error) bool {
	_, ok := target.(ErrHoldAlreadyLinked)
	return ok
}
