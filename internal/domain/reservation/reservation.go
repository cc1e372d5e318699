package reservation

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a hold
type Status string

const (
	StatusHeld      Status = "HELD"
	StatusFinalized Status = "FINALIZED"
	StatusReleased  Status = "RELEASED"
)

// Release reasons written by the services themselves
const (
	ReasonExpired             = "expired"
	ReasonJobFailed           = "job_failed"
	ReasonJobCancelled        = "job_cancelled"
	ReasonReconcileJobMissing = "reconciliation:job_missing"
	ReasonReconcileJobFailed  = "reconciliation:job_failed"
)

const (
	MetaKeyReleaseReason = "release_reason"
	MetaKeyActionCode    = "action_code"
	MetaKeyJobID         = "job_id"
)

var (
	ErrEmptyIdentity   = errors.New("identity id cannot be empty")
	ErrEmptyActionCode = errors.New("action code cannot be empty")
	ErrEmptyJobID      = errors.New("job id cannot be empty")
	ErrInvalidCost     = errors.New("cost must be positive")
	ErrInvalidTTL      = errors.New("ttl must be positive")
)

// Reservation holds credits for one job until it is captured or returned
type Reservation struct {
	ID            uuid.UUID      `json:"id"`
	IdentityID    string         `json:"identity_id"`
	ActionCode    string         `json:"action_code"`
	CostCredits   int64          `json:"cost_credits"`
	Status        Status         `json:"status"`
	JobID         string         `json:"job_id"`
	ReleaseReason string         `json:"release_reason,omitempty"`
	Meta          map[string]any `json:"meta,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	ExpiresAt     time.Time      `json:"expires_at"`
	CapturedAt    *time.Time     `json:"captured_at,omitempty"`
	ReleasedAt    *time.Time     `json:"released_at,omitempty"`
}

// New creates a HELD reservation expiring ttl after now
func New(identityID, actionCode, jobID string, cost int64, ttl time.Duration, meta map[string]any, now time.Time) (*Reservation, error) {
	switch {
	case identityID == "":
		return nil, ErrEmptyIdentity
	case actionCode == "":
		return nil, ErrEmptyActionCode
	case jobID == "":
		return nil, ErrEmptyJobID
	case cost <= 0:
		return nil, ErrInvalidCost
	case ttl <= 0:
		return nil, ErrInvalidTTL
	}

	return &Reservation{
		ID:          uuid.New(),
		IdentityID:  identityID,
		ActionCode:  actionCode,
		CostCredits: cost,
		Status:      StatusHeld,
		JobID:       jobID,
		Meta:        meta,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}, nil
}

// IsActive reports whether the hold still counts against available credits
func (r *Reservation) IsActive(now time.Time) bool {
	return r.Status == StatusHeld && r.ExpiresAt.After(now)
}

// IsExpired reports a hold past its expiry that no sweep has released yet
func (r *Reservation) IsExpired(now time.Time) bool {
	return r.Status == StatusHeld && !r.ExpiresAt.After(now)
}

func (r *Reservation) IsTerminal() bool {
	return r.Status == StatusFinalized || r.Status == StatusReleased
}

// Finalize captures the hold. It reports false when the hold was already captured.
func (r *Reservation) Finalize(now time.Time) (bool, error) {
	switch r.Status {
	case StatusFinalized:
		return false, nil
	case StatusHeld:
		r.Status = StatusFinalized
		r.CapturedAt = &now
		return true, nil
	default:
		return false, ErrInvalidStateTransition{ID: r.ID, From: r.Status, To: StatusFinalized}
	}
}

// Release returns the hold. It reports false when the hold was already returned.
func (r *Reservation) Release(reason string, now time.Time) (bool, error) {
	switch r.Status {
	case StatusReleased:
		return false, nil
	case StatusHeld:
		r.Status = StatusReleased
		r.ReleasedAt = &now
		r.ReleaseReason = reason
		if r.Meta == nil {
			r.Meta = make(map[string]any)
		}
		r.Meta[MetaKeyReleaseReason] = reason
		return true, nil
	default:
		return false, ErrInvalidStateTransition{ID: r.ID, From: r.Status, To: StatusReleased}
	}
}
