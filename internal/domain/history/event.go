package history

import (
	"context"
	"encoding/json"
	"time"
)

// Event is the durable audit copy of a published outbox message
type Event struct {
	EventID    string         `json:"event_id" bson:"event_id"`
	IdentityID string         `json:"identity_id" bson:"identity_id"`
	EventType  string         `json:"event_type" bson:"event_type"`
	Payload    map[string]any `json:"payload" bson:"payload"`
	OccurredAt time.Time      `json:"occurred_at" bson:"occurred_at"`
	RecordedAt time.Time      `json:"recorded_at" bson:"recorded_at"`
}

// NewEvent decodes a JSON payload into a history event
func NewEvent(eventID, identityID, eventType string, payload json.RawMessage, occurredAt time.Time) (*Event, error) {
	var body map[string]any
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &body); err != nil {
			return nil, err
		}
	}
	return &Event{
		EventID:    eventID,
		IdentityID: identityID,
		EventType:  eventType,
		Payload:    body,
		OccurredAt: occurredAt,
		RecordedAt: time.Now(),
	}, nil
}

// Repository stores credit events for audit listing
type Repository interface {
	Record(ctx context.Context, event *Event) error
	ListByIdentity(ctx context.Context, identityID string, limit, offset int) ([]*Event, error)
	CountByIdentity(ctx context.Context, identityID string) (int64, error)
}

// ErrDuplicateEvent indicates the event was already recorded
type ErrDuplicateEvent struct {
	EventID string
}

func (e ErrDuplicateEvent) Error() string {
	return "duplicate credit event: " + e.EventID
}

// Is matches any ErrDuplicateEvent when the target carries no id
func (e ErrDuplicateEvent) Is(target error) bool {
	t, ok := target.(ErrDuplicateEvent)
	if !ok {
		return false
	}
	return t.EventID == "" || t.EventID == e.EventID
}
