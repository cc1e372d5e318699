package credit

import (
	"context"
	"testing"
	"time"

	"github.com/credit-ledger/internal/domain/job"
	"github.com/credit-ledger/internal/domain/outbox"
	"github.com/credit-ledger/internal/domain/reservation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobCoordinator_CompleteJob(t *testing.T) {
	ctx := context.Background()

	t.Run("success captures the hold", func(t *testing.T) {
		f := newFixture(t)
		f.fund(t, "user-1", 100)
		held := f.reserve(t, "user-1", "job-1", 20)

		result, err := f.coordinator.CompleteJob(ctx, "job-1", Outcome{Success: true})
		require.NoError(t, err)
		assert.False(t, result.AlreadyCompleted)
		assert.Equal(t, job.StatusSucceeded, result.Job.Status)
		require.NotNil(t, result.Reservation)
		assert.Equal(t, held.Reservation.ID, result.Reservation.ID)
		assert.Equal(t, reservation.StatusFinalized, result.Reservation.Status)
		require.NotNil(t, result.Entry)
		assert.Equal(t, int64(-20), result.Entry.Amount)

		snap, err := f.engine.Snapshot(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, int64(80), snap.Balance)
		f.requireInSync(t, "user-1")

		messages := f.store.Messages()
		assert.Equal(t, outbox.EventJobCompleted, messages[len(messages)-1].EventType)
	})

	t.Run("failure returns the hold", func(t *testing.T) {
		f := newFixture(t)
		f.fund(t, "user-1", 100)
		f.reserve(t, "user-1", "job-1", 20)

		result, err := f.coordinator.CompleteJob(ctx, "job-1", Outcome{Success: false, ErrorDetail: "provider timeout"})
		require.NoError(t, err)
		assert.Equal(t, job.StatusFailed, result.Job.Status)
		assert.Equal(t, "provider timeout", result.Job.ErrorMessage)
		assert.Equal(t, reservation.StatusReleased, result.Reservation.Status)
		assert.Equal(t, "provider timeout", result.Reservation.ReleaseReason)
		assert.Nil(t, result.Entry)

		snap, err := f.engine.Snapshot(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, int64(100), snap.Available)
	})

	t.Run("failure without detail uses job_failed", func(t *testing.T) {
		f := newFixture(t)
		f.fund(t, "user-1", 100)
		f.reserve(t, "user-1", "job-1", 20)

		result, err := f.coordinator.CompleteJob(ctx, "job-1", Outcome{Success: false})
		require.NoError(t, err)
		assert.Equal(t, reservation.ReasonJobFailed, result.Reservation.ReleaseReason)
	})

	t.Run("same outcome replayed", func(t *testing.T) {
		f := newFixture(t)
		f.fund(t, "user-1", 100)
		f.reserve(t, "user-1", "job-1", 20)

		_, err := f.coordinator.CompleteJob(ctx, "job-1", Outcome{Success: true})
		require.NoError(t, err)
		result, err := f.coordinator.CompleteJob(ctx, "job-1", Outcome{Success: true})
		require.NoError(t, err)
		assert.True(t, result.AlreadyCompleted)
		assert.Equal(t, reservation.StatusFinalized, result.Reservation.Status)

		_, total, err := f.ledger.Entries(ctx, "user-1", 10, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(2), total)
	})

	t.Run("opposite outcome conflicts", func(t *testing.T) {
		f := newFixture(t)
		f.fund(t, "user-1", 100)
		f.reserve(t, "user-1", "job-1", 20)

		_, err := f.coordinator.CompleteJob(ctx, "job-1", Outcome{Success: true})
		require.NoError(t, err)
		_, err = f.coordinator.CompleteJob(ctx, "job-1", Outcome{Success: false, ErrorDetail: "late"})
		var conflict job.ErrStatusConflict
		require.ErrorAs(t, err, &conflict)
		assert.Equal(t, job.StatusSucceeded, conflict.Current)
		assert.Equal(t, job.StatusFailed, conflict.Requested)

		snap, err := f.engine.Snapshot(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, int64(80), snap.Balance)
	})

	t.Run("success after the hold was swept keeps the outcome", func(t *testing.T) {
		f := newFixture(t)
		f.fund(t, "user-1", 100)
		held := f.reserve(t, "user-1", "job-1", 20)

		f.clock.Advance(time.Hour)
		_, err := f.engine.SweepExpired(ctx)
		require.NoError(t, err)

		result, err := f.coordinator.CompleteJob(ctx, "job-1", Outcome{Success: true})
		require.NoError(t, err)
		assert.Equal(t, job.StatusSucceeded, result.Job.Status)
		assert.Equal(t, held.Reservation.ID, result.Reservation.ID)
		assert.Equal(t, reservation.StatusReleased, result.Reservation.Status)
		assert.Nil(t, result.Entry)

		snap, err := f.engine.Snapshot(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, int64(100), snap.Balance)
	})

	t.Run("success after unswept expiry releases without charge", func(t *testing.T) {
		f := newFixture(t)
		f.fund(t, "user-1", 100)
		stale := f.reserve(t, "user-1", "j1", 60)

		f.clock.Advance(21 * time.Minute)
		fresh := f.reserve(t, "user-1", "j2", 60)
		_, err := f.engine.Finalize(ctx, fresh.Reservation.ID)
		require.NoError(t, err)

		result, err := f.coordinator.CompleteJob(ctx, "j1", Outcome{Success: true})
		require.NoError(t, err)
		assert.Equal(t, job.StatusSucceeded, result.Job.Status)
		assert.Equal(t, stale.Reservation.ID, result.Reservation.ID)
		assert.Equal(t, reservation.StatusReleased, result.Reservation.Status)
		assert.Equal(t, reservation.ReasonExpired, result.Reservation.ReleaseReason)
		assert.Nil(t, result.Entry)

		stored, err := f.store.Repositories().Jobs.GetByID(ctx, "j1")
		require.NoError(t, err)
		assert.Equal(t, job.StatusSucceeded, stored.Status)

		snap, err := f.engine.Snapshot(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, int64(40), snap.Balance)
		assert.Equal(t, int64(0), snap.Reserved)
		f.requireInSync(t, "user-1")
	})

	t.Run("job id reused by another identity bills its owner only", func(t *testing.T) {
		f := newFixture(t)
		f.fund(t, "alice", 100)
		f.fund(t, "bob", 100)
		held := f.reserve(t, "alice", "job-1", 20)

		_, err := f.engine.Reserve(ctx, ReserveRequest{IdentityID: "bob", ActionKey: "MESHY_TEXT_TO_3D", JobID: "job-1", Cost: 30})
		var mismatch job.ErrOwnershipMismatch
		require.ErrorAs(t, err, &mismatch)
		assert.Equal(t, "alice", mismatch.Owner)
		assert.Equal(t, "bob", mismatch.Requested)

		bobSnap, err := f.engine.Snapshot(ctx, "bob")
		require.NoError(t, err)
		assert.Equal(t, int64(0), bobSnap.Reserved)

		result, err := f.coordinator.CompleteJob(ctx, "job-1", Outcome{Success: true})
		require.NoError(t, err)
		assert.Equal(t, held.Reservation.ID, result.Reservation.ID)
		assert.Equal(t, "alice", result.Reservation.IdentityID)

		aliceSnap, err := f.engine.Snapshot(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, int64(80), aliceSnap.Balance)
		assert.Equal(t, int64(0), aliceSnap.Reserved)
		bobSnap, err = f.engine.Snapshot(ctx, "bob")
		require.NoError(t, err)
		assert.Equal(t, int64(100), bobSnap.Balance)
		f.requireInSync(t, "alice")
		f.requireInSync(t, "bob")
	})

	t.Run("hold owned by another identity is refused", func(t *testing.T) {
		f := newFixture(t)
		f.fund(t, "alice", 100)
		f.fund(t, "bob", 100)
		f.reserve(t, "alice", "job-1", 20)
		foreign := f.reserve(t, "bob", "job-2", 30)
		require.NoError(t, f.store.Repositories().Jobs.LinkReservation(ctx, "job-1", foreign.Reservation.ID))

		_, err := f.coordinator.CompleteJob(ctx, "job-1", Outcome{Success: true})
		assert.ErrorIs(t, err, job.ErrOwnershipMismatch{})

		_, err = f.coordinator.CancelJob(ctx, "job-1", "", false)
		assert.ErrorIs(t, err, job.ErrOwnershipMismatch{})

		stored, err := f.store.Repositories().Reservations.GetByID(ctx, foreign.Reservation.ID)
		require.NoError(t, err)
		assert.Equal(t, reservation.StatusHeld, stored.Status)
		bobSnap, err := f.engine.Snapshot(ctx, "bob")
		require.NoError(t, err)
		assert.Equal(t, int64(100), bobSnap.Balance)
	})

	t.Run("unknown job", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.coordinator.CompleteJob(ctx, "missing", Outcome{Success: true})
		assert.ErrorIs(t, err, job.ErrJobNotFound{JobID: "missing"})
	})
}

func TestJobCoordinator_Dispatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.fund(t, "user-1", 100)
	f.reserve(t, "user-1", "job-1", 20)

	j, err := f.coordinator.MarkDispatched(ctx, "job-1", "meshy", "up-123")
	require.NoError(t, err)
	assert.Equal(t, job.StatusPending, j.Status)

	result, err := f.coordinator.CompleteByUpstreamID(ctx, "meshy", "up-123", Outcome{Success: true})
	require.NoError(t, err)
	assert.Equal(t, "job-1", result.Job.ID)
	assert.Equal(t, job.StatusSucceeded, result.Job.Status)

	_, err = f.coordinator.MarkDispatched(ctx, "job-1", "meshy", "up-456")
	assert.ErrorIs(t, err, job.ErrStatusConflict{})

	_, err = f.coordinator.CompleteByUpstreamID(ctx, "meshy", "unknown", Outcome{Success: true})
	assert.ErrorIs(t, err, job.ErrJobNotFound{})
}

func TestJobCoordinator_CancelJob(t *testing.T) {
	ctx := context.Background()

	t.Run("queued job releases its hold", func(t *testing.T) {
		f := newFixture(t)
		f.fund(t, "user-1", 100)
		f.reserve(t, "user-1", "job-1", 20)

		result, err := f.coordinator.CancelJob(ctx, "job-1", "", false)
		require.NoError(t, err)
		assert.Equal(t, job.StatusFailed, result.Job.Status)
		assert.Equal(t, reservation.ReasonJobCancelled, result.Reservation.ReleaseReason)

		messages := f.store.Messages()
		assert.Equal(t, outbox.EventJobCancelled, messages[len(messages)-1].EventType)
	})

	t.Run("pending job needs force", func(t *testing.T) {
		f := newFixture(t)
		f.fund(t, "user-1", 100)
		f.reserve(t, "user-1", "job-1", 20)
		_, err := f.coordinator.MarkDispatched(ctx, "job-1", "meshy", "up-1")
		require.NoError(t, err)

		_, err = f.coordinator.CancelJob(ctx, "job-1", "stuck", false)
		assert.ErrorIs(t, err, job.ErrNotCancellable{})

		result, err := f.coordinator.CancelJob(ctx, "job-1", "stuck", true)
		require.NoError(t, err)
		assert.Equal(t, "stuck", result.Reservation.ReleaseReason)
	})

	t.Run("terminal job is not cancellable", func(t *testing.T) {
		f := newFixture(t)
		f.fund(t, "user-1", 100)
		f.reserve(t, "user-1", "job-1", 20)
		_, err := f.coordinator.CompleteJob(ctx, "job-1", Outcome{Success: true})
		require.NoError(t, err)

		_, err = f.coordinator.CancelJob(ctx, "job-1", "", true)
		assert.ErrorIs(t, err, job.ErrNotCancellable{})
	})
}
