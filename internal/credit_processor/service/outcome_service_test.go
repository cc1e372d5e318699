package service

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/credit-ledger/internal/credit"
	"github.com/credit-ledger/internal/data/memory"
	"github.com/credit-ledger/internal/domain/job"
	"github.com/credit-ledger/internal/domain/ledger"
	"github.com/credit-ledger/internal/domain/reservation"
	"github.com/credit-ledger/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockJobCompleter struct {
	mock.Mock
}

func (m *MockJobCompleter) CompleteJob(ctx context.Context, jobID string, outcome credit.Outcome) (*credit.CompletionResult, error) {
	args := m.Called(ctx, jobID, outcome)
	result, _ := args.Get(0).(*credit.CompletionResult)
	return result, args.Error(1)
}

func (m *MockJobCompleter) CompleteByUpstreamID(ctx context.Context, provider, upstreamJobID string, outcome credit.Outcome) (*credit.CompletionResult, error) {
	args := m.Called(ctx, provider, upstreamJobID, outcome)
	result, _ := args.Get(0).(*credit.CompletionResult)
	return result, args.Error(1)
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOutcomeService_ApplyOutcome(t *testing.T) {
	ctx := context.Background()

	t.Run("ByJobID", func(t *testing.T) {
		completer := &MockJobCompleter{}
		svc := NewOutcomeService(completer, newTestLogger())
		expected := &credit.CompletionResult{Job: &job.Job{ID: "job-1", Status: job.StatusSucceeded}}
		completer.On("CompleteJob", ctx, "job-1", credit.Outcome{Success: true}).Return(expected, nil).Once()

		result, err := svc.ApplyOutcome(ctx, &shared.JobOutcomeMessage{JobID: "job-1", Success: true, CorrelationID: "corr-1"})
		require.NoError(t, err)
		assert.Same(t, expected, result)
		completer.AssertExpectations(t)
	})

	t.Run("ByUpstreamID", func(t *testing.T) {
		completer := &MockJobCompleter{}
		svc := NewOutcomeService(completer, newTestLogger())
		outcome := credit.Outcome{Success: false, ErrorDetail: "nsfw"}
		expected := &credit.CompletionResult{Job: &job.Job{ID: "job-2", Status: job.StatusFailed}, AlreadyCompleted: true}
		completer.On("CompleteByUpstreamID", ctx, "meshy", "up-2", outcome).Return(expected, nil).Once()

		result, err := svc.ApplyOutcome(ctx, &shared.JobOutcomeMessage{Provider: "meshy", UpstreamJobID: "up-2", ErrorDetail: "nsfw"})
		require.NoError(t, err)
		assert.True(t, result.AlreadyCompleted)
		completer.AssertExpectations(t)
	})

	t.Run("InvalidMessage", func(t *testing.T) {
		completer := &MockJobCompleter{}
		svc := NewOutcomeService(completer, newTestLogger())

		_, err := svc.ApplyOutcome(ctx, &shared.JobOutcomeMessage{Provider: "meshy"})
		assert.ErrorIs(t, err, shared.ErrIncompleteUpstream)
		completer.AssertNotCalled(t, "CompleteJob", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("CompleterError", func(t *testing.T) {
		completer := &MockJobCompleter{}
		svc := NewOutcomeService(completer, newTestLogger())
		conflict := job.ErrStatusConflict{JobID: "job-3", Current: job.StatusSucceeded, Requested: job.StatusFailed}
		completer.On("CompleteJob", ctx, "job-3", credit.Outcome{}).Return(nil, conflict).Once()

		_, err := svc.ApplyOutcome(ctx, &shared.JobOutcomeMessage{JobID: "job-3"})
		assert.ErrorIs(t, err, job.ErrStatusConflict{})
	})
}

func TestOutcomeService_WithCoordinator(t *testing.T) {
	ctx := context.Background()
	s := memory.NewStore()
	logger := newTestLogger()
	l := credit.NewLedger(s, ledger.DefaultBalancePolicy(), 0, logger)
	engine := credit.NewReservationEngine(s, l, nil, credit.EngineConfig{}, logger)
	coordinator := credit.NewJobCoordinator(s, engine, logger)

	_, _, err := l.ProvisionWallet(ctx, "user-1")
	require.NoError(t, err)
	_, err = l.ApplyEntry(ctx, credit.EntryRequest{IdentityID: "user-1", Type: ledger.EntryTypePurchaseCredit, Amount: 100})
	require.NoError(t, err)
	_, err = engine.Reserve(ctx, credit.ReserveRequest{IdentityID: "user-1", ActionKey: "MESHY_TEXT_TO_3D", JobID: "job-1", Cost: 20})
	require.NoError(t, err)
	_, err = coordinator.MarkDispatched(ctx, "job-1", "meshy", "up-1")
	require.NoError(t, err)

	svc := NewOutcomeService(coordinator, logger)
	message := &shared.JobOutcomeMessage{Provider: "meshy", UpstreamJobID: "up-1", Success: true}

	result, err := svc.ApplyOutcome(ctx, message)
	require.NoError(t, err)
	assert.Equal(t, job.StatusSucceeded, result.Job.Status)
	assert.Equal(t, reservation.StatusFinalized, result.Reservation.Status)
	require.NotNil(t, result.Entry)
	assert.EqualValues(t, -20, result.Entry.Amount)

	replay, err := svc.ApplyOutcome(ctx, message)
	require.NoError(t, err)
	assert.True(t, replay.AlreadyCompleted)

	snapshot, err := engine.Snapshot(ctx, "user-1")
	require.NoError(t, err)
	assert.EqualValues(t, 80, snapshot.Balance)
	assert.Zero(t, snapshot.Reserved)
}
