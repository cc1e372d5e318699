package job

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	now := time.Now()

	j, err := New("job-1", "user-1", "text_to_3d", now)
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, j.Status)
	assert.Nil(t, j.ReservationID)
	assert.Nil(t, j.CompletedAt)

	_, err = New("", "user-1", "text_to_3d", now)
	assert.ErrorIs(t, err, ErrEmptyJobID)
	_, err = New("job-1", "", "text_to_3d", now)
	assert.ErrorIs(t, err, ErrEmptyIdentity)
}

func TestJob_Complete(t *testing.T) {
	now := time.Now()

	t.Run("Success", func(t *testing.T) {
		j, _ := New("job-1", "user-1", "a", now)
		already, err := j.Complete(true, "", now)
		require.NoError(t, err)
		assert.False(t, already)
		assert.Equal(t, StatusSucceeded, j.Status)
		require.NotNil(t, j.CompletedAt)
		assert.Empty(t, j.ErrorMessage)
	})

	t.Run("FailureStoresDetail", func(t *testing.T) {
		j, _ := New("job-1", "user-1", "a", now)
		_, err := j.Complete(false, "provider timeout", now)
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, j.Status)
		assert.Equal(t, "provider timeout", j.ErrorMessage)
	})

	t.Run("SameOutcomeReplay", func(t *testing.T) {
		j, _ := New("job-1", "user-1", "a", now)
		_, _ = j.Complete(true, "", now)
		completedAt := *j.CompletedAt

		already, err := j.Complete(true, "", now.Add(time.Minute))
		require.NoError(t, err)
		assert.True(t, already)
		assert.Equal(t, completedAt, *j.CompletedAt)
	})

	t.Run("ConflictingOutcome", func(t *testing.T) {
		j, _ := New("job-1", "user-1", "a", now)
		_, _ = j.Complete(true, "", now)

		already, err := j.Complete(false, "late failure", now)
		assert.False(t, already)
		var target ErrStatusConflict
		require.True(t, errors.As(err, &target))
		assert.Equal(t, StatusSucceeded, target.Current)
		assert.Equal(t, StatusFailed, target.Requested)
		assert.Equal(t, StatusSucceeded, j.Status)
	})
}

func TestJob_MarkDispatched(t *testing.T) {
	now := time.Now()
	j, _ := New("job-1", "user-1", "a", now)

	require.NoError(t, j.MarkDispatched("meshy", "m-42", now))
	assert.Equal(t, StatusPending, j.Status)
	assert.Equal(t, "meshy", j.Provider)
	assert.Equal(t, "m-42", j.UpstreamJobID)

	_, _ = j.Complete(true, "", now)
	assert.ErrorIs(t, j.MarkDispatched("meshy", "m-43", now), ErrStatusConflict{})
}

func TestJob_Cancel(t *testing.T) {
	now := time.Now()

	t.Run("Queued", func(t *testing.T) {
		j, _ := New("job-1", "user-1", "a", now)
		require.NoError(t, j.Cancel("user cancelled", false, now))
		assert.Equal(t, StatusFailed, j.Status)
		assert.Equal(t, "user cancelled", j.ErrorMessage)
	})

	t.Run("PendingWithoutForce", func(t *testing.T) {
		j, _ := New("job-1", "user-1", "a", now)
		_ = j.MarkDispatched("meshy", "m-1", now)
		assert.ErrorIs(t, j.Cancel("stop", false, now), ErrNotCancellable{})
		assert.Equal(t, StatusPending, j.Status)
	})

	t.Run("PendingWithForce", func(t *testing.T) {
		j, _ := New("job-1", "user-1", "a", now)
		_ = j.MarkDispatched("meshy", "m-1", now)
		require.NoError(t, j.Cancel("stop", true, now))
		assert.Equal(t, StatusFailed, j.Status)
	})

	t.Run("Terminal", func(t *testing.T) {
		j, _ := New("job-1", "user-1", "a", now)
		_, _ = j.Complete(true, "", now)
		assert.ErrorIs(t, j.Cancel("stop", true, now), ErrNotCancellable{})
	})
}

func TestErrJobNotFound_Is(t *testing.T) {
	err := ErrJobNotFound{JobID: "job-1"}
	assert.True(t, errors.Is(err, ErrJobNotFound{}))
	assert.False(t, errors.Is(err, ErrJobNotFound{JobID: "job-2"}))
}

func TestOwnershipErrors(t *testing.T) {
	err := fmt.Errorf("reserve: %w", ErrOwnershipMismatch{JobID: "job-1", Owner: "alice", Requested: "bob"})
	assert.True(t, errors.Is(err, ErrOwnershipMismatch{}))
	assert.Contains(t, err.Error(), "job job-1 belongs to alice, not bob")

	linked := ErrHoldAlreadyLinked{JobID: "job-1", ReservationID: uuid.New()}
	assert.True(t, errors.Is(linked, ErrHoldAlreadyLinked{}))
	assert.False(t, errors.Is(linked, ErrStatusConflict{}))
}
