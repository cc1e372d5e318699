package service

import (
	"context"
	"log/slog"

	"github.com/credit-ledger/internal/credit"
	"github.com/credit-ledger/internal/domain/shared"
)

type OutcomeServiceImpl struct {
	completer JobCompleter
	logger    *slog.Logger
}

func NewOutcomeService(completer JobCompleter, logger *slog.Logger) OutcomeService {
	return &OutcomeServiceImpl{
		completer: completer,
		logger:    logger,
	}
}

// ApplyOutcome validates the message and completes the job it addresses.
// Replays of an applied outcome succeed without side effects.
func (s *OutcomeServiceImpl) ApplyOutcome(ctx context.Context, message *shared.JobOutcomeMessage) (*credit.CompletionResult, error) {
	if err := message.Validate(); err != nil {
		return nil, err
	}

	logger := s.logger
	if message.CorrelationID != "" {
		logger = s.logger.With("correlation_id", message.CorrelationID)
	}

	outcome := credit.Outcome{Success: message.Success, ErrorDetail: message.ErrorDetail}
	logger.Info("Applying job outcome", "job", message.Key(), "success", message.Success)

	var (
		result *credit.CompletionResult
		err    error
	)
	if message.JobID != "" {
		result, err = s.completer.CompleteJob(ctx, message.JobID, outcome)
	} else {
		result, err = s.completer.CompleteByUpstreamID(ctx, message.Provider, message.UpstreamJobID, outcome)
	}
	if err != nil {
		logger.Error("Failed to apply job outcome", "job", message.Key(), "error", err)
		return nil, err
	}

	if result.AlreadyCompleted {
		logger.Info("Job outcome already applied", "job_id", result.Job.ID)
	} else {
		logger.Info("Job outcome applied", "job_id", result.Job.ID, "status", result.Job.Status)
	}
	return result, nil
}
