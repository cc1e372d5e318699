package outbox

import (
	"encoding/json"
	"time"

	"github.com/credit-ledger/internal/domain/shared"
	"github.com/google/uuid"
)

// EventType names a credit state change recorded for downstream consumers
type EventType string

const (
	EventLedgerEntryApplied   EventType = "LEDGER_ENTRY_APPLIED"
	EventReservationHeld      EventType = "RESERVATION_HELD"
	EventReservationFinalized EventType = "RESERVATION_FINALIZED"
	EventReservationReleased  EventType = "RESERVATION_RELEASED"
	EventJobCompleted         EventType = "JOB_COMPLETED"
	EventJobCancelled         EventType = "JOB_CANCELLED"
	EventWalletRepaired       EventType = "WALLET_REPAIRED"
)

// Message is written in the same transaction as the state change it describes
type Message struct {
	ID            int64               `json:"id"`
	EventID       uuid.UUID           `json:"event_id"`
	IdentityID    string              `json:"identity_id"`
	EventType     EventType           `json:"event_type"`
	Payload       json.RawMessage     `json:"payload"`
	Status        shared.OutboxStatus `json:"status"`
	Attempts      int                 `json:"attempts"`
	CreatedAt     time.Time           `json:"created_at"`
	LastAttemptAt *time.Time          `json:"last_attempt_at,omitempty"`
}

func NewMessage(eventType EventType, identityID string, payload any) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return &Message{
		EventID:    uuid.New(),
		IdentityID: identityID,
		EventType:  eventType,
		Payload:    data,
		Status:     shared.OutboxStatusPending,
		Attempts:   0,
		CreatedAt:  time.Now(),
	}, nil
}

func (m *Message) IncrementAttempts() {
	m.Attempts++
	now := time.Now()
	m.LastAttemptAt = &now
}

func (m *Message) MarkAsProcessed() {
	m.Status = shared.OutboxStatusProcessed
	now := time.Now()
	m.LastAttemptAt = &now
}

func (m *Message) MarkAsFailed() {
	m.Status = shared.OutboxStatusFailedToPublish
	now := time.Now()
	m.LastAttemptAt = &now
}

// Decode unmarshals the payload into v
func (m *Message) Decode(v any) error {
	return json.Unmarshal(m.Payload, v)
}
