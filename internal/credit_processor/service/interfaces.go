package service

import (
	"context"

	"github.com/credit-ledger/internal/credit"
	"github.com/credit-ledger/internal/domain/shared"
)

// OutcomeService applies a reported job outcome to the job and its hold
type OutcomeService interface {
	ApplyOutcome(ctx context.Context, message *shared.JobOutcomeMessage) (*credit.CompletionResult, error)
}

// JobCompleter completes jobs by their own id or by the provider's id
type JobCompleter interface {
	CompleteJob(ctx context.Context, jobID string, outcome credit.Outcome) (*credit.CompletionResult, error)
	CompleteByUpstreamID(ctx context.Context, provider, upstreamJobID string, outcome credit.Outcome) (*credit.CompletionResult, error)
}
