package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/credit-ledger/internal/domain/outbox"
	"github.com/credit-ledger/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var outboxColumnNames = []string{"id", "event_id", "identity_id", "event_type", "payload", "status", "attempts", "created_at", "last_attempt_at"}

func TestOutboxRepository_WithTx(t *testing.T) {
	repo := &OutboxRepository{querier: nil, logger: newTestLogger()}

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	txRepo := repo.WithTx(tx)
	assert.Equal(t, tx, txRepo.querier)
	assert.Equal(t, repo.logger, txRepo.logger)
}

func TestOutboxRepository_Create(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &OutboxRepository{querier: mock, logger: newTestLogger()}
	msg, err := outbox.NewMessage(outbox.EventReservationHeld, "user-1", map[string]any{"cost_credits": 20})
	require.NoError(t, err)

	query := `INSERT INTO credit_outbox \(event_id, identity_id, event_type, payload, status, attempts, created_at\) VALUES \(\$1, \$2, \$3, \$4, \$5, \$6, \$7\) RETURNING id`

	t.Run("success", func(t *testing.T) {
		mock.ExpectQuery(query).
			WithArgs(msg.EventID, "user-1", outbox.EventReservationHeld, []byte(msg.Payload), shared.OutboxStatusPending, 0, msg.CreatedAt).
			WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(42)))

		require.NoError(t, repo.Create(ctx, msg))
		assert.Equal(t, int64(42), msg.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("failure", func(t *testing.T) {
		mock.ExpectQuery(query).
			WithArgs(msg.EventID, "user-1", outbox.EventReservationHeld, []byte(msg.Payload), shared.OutboxStatusPending, 0, msg.CreatedAt).
			WillReturnError(errors.New("db error"))

		err := repo.Create(ctx, msg)
		assert.ErrorContains(t, err, "failed to create outbox message")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestOutboxRepository_GetPending(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &OutboxRepository{querier: mock, logger: newTestLogger()}
	now := time.Now()
	eventID := uuid.New()

	rows := pgxmock.NewRows(outboxColumnNames).
		AddRow(int64(1), eventID, "user-1", outbox.EventLedgerEntryApplied, []byte(`{"amount_credits":-20}`),
			shared.OutboxStatusPending, 0, now, nil)
	mock.ExpectQuery(`FROM credit_outbox WHERE status = \$1 ORDER BY created_at ASC, id ASC LIMIT \$2`).
		WithArgs(shared.OutboxStatusPending, 100).
		WillReturnRows(rows)

	messages, err := repo.GetPending(ctx, 100)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, eventID, messages[0].EventID)
	assert.Equal(t, json.RawMessage(`{"amount_credits":-20}`), messages[0].Payload)
	assert.Nil(t, messages[0].LastAttemptAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxRepository_UpdateStatus(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &OutboxRepository{querier: mock, logger: newTestLogger()}
	query := `UPDATE credit_outbox SET status = \$1, last_attempt_at = \$2 WHERE id = \$3`

	mock.ExpectExec(query).
		WithArgs(shared.OutboxStatusProcessed, pgxmock.AnyArg(), int64(1)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	assert.NoError(t, repo.UpdateStatus(ctx, 1, shared.OutboxStatusProcessed))

	mock.ExpectExec(query).
		WithArgs(shared.OutboxStatusProcessed, pgxmock.AnyArg(), int64(9)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	assert.ErrorIs(t, repo.UpdateStatus(ctx, 9, shared.OutboxStatusProcessed), outbox.ErrMessageNotFound{ID: 9})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxRepository_IncrementAttempts(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &OutboxRepository{querier: mock, logger: newTestLogger()}
	mock.ExpectExec(`SET attempts = attempts \+ 1`).
		WithArgs(pgxmock.AnyArg(), int64(3)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	assert.NoError(t, repo.IncrementAttempts(ctx, 3))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxRepository_GetByEventID(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &OutboxRepository{querier: mock, logger: newTestLogger()}
	eventID := uuid.New()
	mock.ExpectQuery(`WHERE event_id = \$1`).WithArgs(eventID).WillReturnError(pgx.ErrNoRows)

	_, err = repo.GetByEventID(ctx, eventID)
	assert.ErrorIs(t, err, outbox.ErrMessageNotFound{})
	assert.NoError(t, mock.ExpectationsWereMet())
}
