package job

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status is the dispatch state of a paid generation job
type Status string

const (
	StatusQueued    Status = "queued"
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

var (
	ErrEmptyJobID    = errors.New("job id cannot be empty")
	ErrEmptyIdentity = errors.New("identity id cannot be empty")
)

func (s Status) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// TerminalStatus maps a reported outcome to its terminal status
func TerminalStatus(success bool) Status {
	if success {
		return StatusSucceeded
	}
	return StatusFailed
}

// Job links a dispatched generation request to the hold paying for it
type Job struct {
	ID            string     `json:"id"`
	IdentityID    string     `json:"identity_id"`
	ActionCode    string     `json:"action_code"`
	Status        Status     `json:"status"`
	ReservationID *uuid.UUID `json:"reservation_id,omitempty"`
	Provider      string     `json:"provider,omitempty"`
	UpstreamJobID string     `json:"upstream_job_id,omitempty"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// New creates a queued job
func New(id, identityID, actionCode string, now time.Time) (*Job, error) {
	if id == "" {
		return nil, ErrEmptyJobID
	}
	if identityID == "" {
		return nil, ErrEmptyIdentity
	}
	return &Job{
		ID:         id,
		IdentityID: identityID,
		ActionCode: actionCode,
		Status:     StatusQueued,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

func (j *Job) IsTerminal() bool {
	return j.Status.IsTerminal()
}

// Complete records a terminal outcome. Replaying the recorded outcome reports
// alreadyCompleted; requesting the other outcome fails with ErrStatusConflict.
func (j *Job) Complete(success bool, errorDetail string, now time.Time) (alreadyCompleted bool, err error) {
	requested := TerminalStatus(success)
	if j.IsTerminal() {
		if j.Status == requested {
			return true, nil
		}
		return false, ErrStatusConflict{JobID: j.ID, Current: j.Status, Requested: requested}
	}

	j.Status = requested
	if !success {
		j.ErrorMessage = errorDetail
	}
	j.UpdatedAt = now
	j.CompletedAt = &now
	return false, nil
}

// MarkDispatched moves a queued job to pending and records the provider's id
func (j *Job) MarkDispatched(provider, upstreamJobID string, now time.Time) error {
	if j.IsTerminal() {
		return ErrStatusConflict{JobID: j.ID, Current: j.Status, Requested: StatusPending}
	}
	j.Status = StatusPending
	j.Provider = provider
	j.UpstreamJobID = upstreamJobID
	j.UpdatedAt = now
	return nil
}

// Cancel fails a job that has not been dispatched. force also cancels pending jobs.
func (j *Job) Cancel(reason string, force bool, now time.Time) error {
	switch {
	case j.IsTerminal():
		return ErrNotCancellable{JobID: j.ID, Status: j.Status}
	case j.Status == StatusPending && !force:
		return ErrNotCancellable{JobID: j.ID, Status: j.Status}
	}
	j.Status = StatusFailed
	j.ErrorMessage = reason
	j.UpdatedAt = now
	j.CompletedAt = &now
	return nil
}
