package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/credit-ledger/internal/credit_processor/service"
	"github.com/credit-ledger/internal/domain/job"
	"github.com/credit-ledger/internal/domain/ledger"
	"github.com/credit-ledger/internal/domain/shared"
	"github.com/credit-ledger/internal/platform/messaging/producers"
	"github.com/credit-ledger/internal/platform/metrics"
)

// Handler results recorded on the job outcome metric
const (
	ResultApplied      = "applied"
	ResultReplayed     = "replayed"
	ResultDeadLettered = "dead_lettered"
	ResultRetry        = "retry"
	ResultDropped      = "dropped"
)

// JobOutcomeHandler handles job outcome messages from Kafka
type JobOutcomeHandler struct {
	outcomeService service.OutcomeService
	producer       producers.DeadLetterPublisher
	logger         *slog.Logger
}

func NewJobOutcomeHandler(
	logger *slog.Logger,
	outcomeService service.OutcomeService,
	producer producers.DeadLetterPublisher,
) *JobOutcomeHandler {
	return &JobOutcomeHandler{
		outcomeService: outcomeService,
		producer:       producer,
		logger:         logger,
	}
}

// HandleMessage applies one outcome. Messages that can never be applied go to the
// DLQ, or are dropped when no DLQ is configured, and are committed. Anything else
// that fails is returned so the consumer retries it.
func (h *JobOutcomeHandler) HandleMessage(ctx context.Context, key []byte, value []byte) error {
	var message shared.JobOutcomeMessage
	if err := json.Unmarshal(value, &message); err != nil {
		return h.deadLetter(ctx, key, value, "malformed job outcome", err)
	}
	if err := message.Validate(); err != nil {
		return h.deadLetter(ctx, key, value, "invalid job outcome", err)
	}

	logger := h.logger
	if message.CorrelationID != "" {
		logger = h.logger.With("correlation_id", message.CorrelationID)
	}

	result, err := h.outcomeService.ApplyOutcome(ctx, &message)
	if err != nil {
		if isPermanent(err) {
			return h.deadLetter(ctx, key, value, "job outcome rejected", err)
		}
		metrics.OutcomeMessages.WithLabelValues(ResultRetry).Inc()
		logger.Error("Failed to apply job outcome, leaving it for redelivery", "job", message.Key(), "error", err)
		return fmt.Errorf("applying outcome of job %s failed: %w", message.Key(), err)
	}

	if result.AlreadyCompleted {
		metrics.OutcomeMessages.WithLabelValues(ResultReplayed).Inc()
	} else {
		metrics.OutcomeMessages.WithLabelValues(ResultApplied).Inc()
	}
	return nil
}

// isPermanent reports errors that redelivery cannot fix
func isPermanent(err error) bool {
	return errors.Is(err, job.ErrStatusConflict{}) ||
		errors.Is(err, job.ErrJobNotFound{}) ||
		errors.Is(err, job.ErrOwnershipMismatch{}) ||
		errors.Is(err, ledger.ErrInsufficientBalance{})
}

func (h *JobOutcomeHandler) deadLetter(ctx context.Context, key, value []byte, reason string, cause error) error {
	dlqReason := fmt.Sprintf("%s: %s", reason, cause.Error())
	h.logger.Error("Job outcome cannot be applied", "message_key", string(key), "reason", dlqReason)

	var err error
	if h.producer == nil {
		err = producers.ErrDLQDisabled
	} else {
		err = h.producer.PublishToDLQ(ctx, string(key), value, dlqReason)
	}
	if errors.Is(err, producers.ErrDLQDisabled) {
		h.logger.Warn("No DLQ configured, dropping job outcome", "message_key", string(key))
		metrics.OutcomeMessages.WithLabelValues(ResultDropped).Inc()
		return nil
	}
	if err != nil {
		h.logger.Error("Failed to publish job outcome to DLQ",
			"dlq_error", err,
			"original_error", cause,
			"message_key", string(key),
		)
		metrics.OutcomeMessages.WithLabelValues(ResultRetry).Inc()
		return fmt.Errorf("%s: %w", reason, cause)
	}

	metrics.OutcomeMessages.WithLabelValues(ResultDeadLettered).Inc()
	return nil
}
