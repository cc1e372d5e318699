package mongo

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"

	"github.com/credit-ledger/internal/domain/history"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testEvent() *history.Event {
	return &history.Event{
		EventID:    "evt-1",
		IdentityID: "user-1",
		EventType:  "RESERVATION_HELD",
		Payload:    map[string]any{"cost_credits": int64(20)},
		OccurredAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		RecordedAt: time.Date(2026, 3, 1, 12, 0, 1, 0, time.UTC),
	}
}

func TestNewHistoryRepository(t *testing.T) {
	repo := NewHistoryRepository(slog.Default(), &mongo.Database{})
	assert.NotNil(t, repo)
}

func TestHistoryRepository_Record(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("successful insert", func(mt *mtest.T) {
		repo := NewHistoryRepository(newTestLogger(), mt.DB)
		mt.AddMockResponses(mtest.CreateSuccessResponse())

		err := repo.Record(context.Background(), testEvent())
		assert.NoError(t, err)
	})

	mt.Run("duplicate event id", func(mt *mtest.T) {
		repo := NewHistoryRepository(newTestLogger(), mt.DB)
		mt.AddMockResponses(mtest.CreateWriteErrorsResponse(mtest.WriteError{
			Index:   0,
			Code:    11000,
			Message: "duplicate key error",
		}))

		err := repo.Record(context.Background(), testEvent())
		assert.ErrorIs(t, err, history.ErrDuplicateEvent{EventID: "evt-1"})
	})

	mt.Run("command error", func(mt *mtest.T) {
		repo := NewHistoryRepository(newTestLogger(), mt.DB)
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{
			Code:    2,
			Message: "bad value",
		}))

		err := repo.Record(context.Background(), testEvent())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to record credit event")
	})
}

func TestHistoryRepository_ListByIdentity(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("decodes events", func(mt *mtest.T) {
		repo := NewHistoryRepository(newTestLogger(), mt.DB)
		ns := mt.DB.Name() + "." + HistoryCollectionName
		first := mtest.CreateCursorResponse(1, ns, mtest.FirstBatch, bson.D{
			{Key: "event_id", Value: "evt-2"},
			{Key: "identity_id", Value: "user-1"},
			{Key: "event_type", Value: "RESERVATION_FINALIZED"},
		})
		second := mtest.CreateCursorResponse(0, ns, mtest.NextBatch, bson.D{
			{Key: "event_id", Value: "evt-1"},
			{Key: "identity_id", Value: "user-1"},
			{Key: "event_type", Value: "RESERVATION_HELD"},
		})
		mt.AddMockResponses(first, second)

		events, err := repo.ListByIdentity(context.Background(), "user-1", 10, 0)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, "evt-2", events[0].EventID)
		assert.Equal(t, "RESERVATION_HELD", events[1].EventType)
	})

	mt.Run("find error", func(mt *mtest.T) {
		repo := NewHistoryRepository(newTestLogger(), mt.DB)
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{Code: 13, Message: "unauthorized"}))

		_, err := repo.ListByIdentity(context.Background(), "user-1", 10, 0)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to get credit events")
	})
}

func TestHistoryRepository_CountByIdentity(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("returns count", func(mt *mtest.T) {
		repo := NewHistoryRepository(newTestLogger(), mt.DB)
		ns := mt.DB.Name() + "." + HistoryCollectionName
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch, bson.D{{Key: "n", Value: int32(3)}}))

		count, err := repo.CountByIdentity(context.Background(), "user-1")
		require.NoError(t, err)
		assert.Equal(t, int64(3), count)
	})
}

func TestHistoryRepository_EnsureIndexes(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("creates indexes", func(mt *mtest.T) {
		repo := NewHistoryRepository(newTestLogger(), mt.DB)
		mt.AddMockResponses(mtest.CreateSuccessResponse())

		assert.NoError(t, repo.EnsureIndexes(context.Background()))
	})
}
