package service

import (
	"context"
	"log/slog"

	"github.com/credit-ledger/internal/credit"
	"github.com/credit-ledger/internal/domain/shared"
	"github.com/panjf2000/ants/v2"
)

// WorkerPoolOutcomeService bounds how many outcomes are applied concurrently
type WorkerPoolOutcomeService struct {
	baseService OutcomeService
	pool        *ants.Pool
	logger      *slog.Logger
}

type WorkerPoolConfig struct {
	Size int
}

type outcomeResult struct {
	result *credit.CompletionResult
	err    error
}

func NewWorkerPoolOutcomeService(
	baseService OutcomeService,
	config WorkerPoolConfig,
	logger *slog.Logger,
) (*WorkerPoolOutcomeService, error) {
	pool, err := ants.NewPool(config.Size)
	if err != nil {
		return nil, err
	}

	return &WorkerPoolOutcomeService{
		baseService: baseService,
		pool:        pool,
		logger:      logger,
	}, nil
}

// ApplyOutcome runs the base service on a pool worker and waits for its result
func (s *WorkerPoolOutcomeService) ApplyOutcome(ctx context.Context, message *shared.JobOutcomeMessage) (*credit.CompletionResult, error) {
	logger := s.logger
	if message.CorrelationID != "" {
		logger = s.logger.With("correlation_id", message.CorrelationID)
	}
	logger.Debug("Submitting job outcome to worker pool", "job", message.Key())

	resultChan := make(chan outcomeResult, 1)
	messageCopy := *message

	err := s.pool.Submit(func() {
		result, err := s.baseService.ApplyOutcome(ctx, &messageCopy)
		resultChan <- outcomeResult{result: result, err: err}
	})
	if err != nil {
		logger.Error("Failed to submit job outcome to worker pool", "job", message.Key(), "error", err)
		return nil, err
	}

	select {
	case res := <-resultChan:
		return res.result, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Shutdown gracefully shuts down the worker pool.
func (s *WorkerPoolOutcomeService) Shutdown() {
	s.logger.Info("Shutting down worker pool", "running_workers", s.pool.Running())
	s.pool.Release()
}

func (s *WorkerPoolOutcomeService) Running() int {
	return s.pool.Running()
}

func (s *WorkerPoolOutcomeService) Capacity() int {
	return s.pool.Cap()
}
