package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/credit-ledger/internal/domain/shared"
	"github.com/credit-ledger/internal/platform/messaging/producers"
)

// JobServiceImpl publishes outcomes to Kafka; the credit processor applies them
type JobServiceImpl struct {
	producer producers.MessagePublisher
	logger   *slog.Logger
}

func NewJobService(logger *slog.Logger, producer producers.MessagePublisher) JobService {
	return &JobServiceImpl{
		producer: producer,
		logger:   logger,
	}
}

func (s *JobServiceImpl) SubmitOutcome(ctx context.Context, message *shared.JobOutcomeMessage) error {
	if err := message.Validate(); err != nil {
		return err
	}
	if message.CorrelationID == "" {
		message.CorrelationID = shared.CorrelationID(ctx)
	}
	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now().UTC()
	}

	if err := s.producer.Publish(ctx, message.Key(), message); err != nil {
		s.logger.Error("Failed to publish job outcome", "job", message.Key(), "error", err)
		return err
	}

	s.logger.Info("Job outcome published", "job", message.Key(), "success", message.Success)
	return nil
}
