package outbox_poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/credit-ledger/internal/domain/history"
	"github.com/credit-ledger/internal/domain/outbox"
	"github.com/credit-ledger/internal/domain/shared"
)

// EventPublisher delivers one outbox message downstream
type EventPublisher interface {
	Publish(ctx context.Context, message *outbox.Message) error
}

// HistoryPublisher copies outbox messages into the credit event history and
// marks them processed
type HistoryPublisher struct {
	outboxRepo  outbox.Repository
	historyRepo history.Repository
	logger      *slog.Logger
}

func NewHistoryPublisher(
	outboxRepo outbox.Repository,
	historyRepo history.Repository,
	logger *slog.Logger,
) *HistoryPublisher {
	return &HistoryPublisher{
		outboxRepo:  outboxRepo,
		historyRepo: historyRepo,
		logger:      logger,
	}
}

// Publish records the event unless it is already in the history, then marks the
// outbox row PROCESSED
func (p *HistoryPublisher) Publish(ctx context.Context, message *outbox.Message) error {
	logger := p.logger.With("outbox_id", message.ID, "event_id", message.EventID.String(), "event_type", message.EventType)

	event, err := history.NewEvent(message.EventID.String(), message.IdentityID, string(message.EventType), message.Payload, message.CreatedAt)
	if err != nil {
		logger.Error("Failed to decode outbox payload", "error", err)
		if updateErr := p.outboxRepo.UpdateStatus(ctx, message.ID, shared.OutboxStatusFailedToPublish); updateErr != nil {
			logger.Error("Also failed to mark undecodable outbox message as FAILED_TO_PUBLISH", "update_error", updateErr)
		}
		return fmt.Errorf("decode payload of outbox message %d: %w", message.ID, err)
	}

	if err := p.historyRepo.Record(ctx, event); err != nil {
		if !errors.Is(err, history.ErrDuplicateEvent{}) {
			return fmt.Errorf("failed to record event %s: %w", event.EventID, err)
		}
		logger.Info("Credit event already recorded")
	}

	if err := p.outboxRepo.UpdateStatus(ctx, message.ID, shared.OutboxStatusProcessed); err != nil {
		logger.Error("Failed to mark outbox message as PROCESSED", "error", err)
		return fmt.Errorf("event %s recorded, but failed to mark outbox %d as PROCESSED: %w", event.EventID, message.ID, err)
	}

	logger.Debug("Credit event recorded")
	return nil
}
