// Package credit implements the credit ledger, the reservation engine and the
// job completion coordinator. Every balance-derived decision runs inside one
// store.UnitOfWork transaction that holds the identity's wallet row lock, taken
// in the order wallet, job, reservation.
package credit

import (
	"context"
	"fmt"
	"time"

	"github.com/credit-ledger/internal/domain/job"
	"github.com/credit-ledger/internal/domain/ledger"
	"github.com/credit-ledger/internal/domain/outbox"
	"github.com/credit-ledger/internal/domain/reservation"
	"github.com/credit-ledger/internal/domain/store"
	"github.com/google/uuid"
)

// LedgerEntryApplied is the outbox payload of EventLedgerEntryApplied
type LedgerEntryApplied struct {
	Entry        *ledger.Entry `json:"entry"`
	BalanceAfter int64         `json:"balance_after"`
}

// ReservationChanged is the outbox payload of the reservation events
type ReservationChanged struct {
	ReservationID uuid.UUID          `json:"reservation_id"`
	IdentityID    string             `json:"identity_id"`
	ActionCode    string             `json:"action_code"`
	CostCredits   int64              `json:"cost_credits"`
	Status        reservation.Status `json:"status"`
	JobID         string             `json:"job_id"`
	Reason        string             `json:"reason,omitempty"`
	ExpiresAt     time.Time          `json:"expires_at"`
}

// JobChanged is the outbox payload of EventJobCompleted and EventJobCancelled
type JobChanged struct {
	JobID         string     `json:"job_id"`
	IdentityID    string     `json:"identity_id"`
	Status        job.Status `json:"status"`
	ReservationID *uuid.UUID `json:"reservation_id,omitempty"`
	ErrorMessage  string     `json:"error_message,omitempty"`
}

func reservationChanged(res *reservation.Reservation) ReservationChanged {
	return ReservationChanged{
		ReservationID: res.ID,
		IdentityID:    res.IdentityID,
		ActionCode:    res.ActionCode,
		CostCredits:   res.CostCredits,
		Status:        res.Status,
		JobID:         res.JobID,
		Reason:        res.ReleaseReason,
		ExpiresAt:     res.ExpiresAt,
	}
}

func jobChanged(j *job.Job) JobChanged {
	return JobChanged{
		JobID:         j.ID,
		IdentityID:    j.IdentityID,
		Status:        j.Status,
		ReservationID: j.ReservationID,
		ErrorMessage:  j.ErrorMessage,
	}
}

// writeEvent stores an outbox message in the caller's transaction
func writeEvent(ctx context.Context, repos store.Repositories, eventType outbox.EventType, identityID string, payload any) error {
	message, err := outbox.NewMessage(eventType, identityID, payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", eventType, err)
	}
	if err := repos.Outbox.Create(ctx, message); err != nil {
		return fmt.Errorf("failed to write %s event: %w", eventType, err)
	}
	return nil
}
