package persistence

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestPostgresDB_Pool(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	db := NewPostgresDBWithPool(newTestLogger(), mock)
	assert.Equal(t, Pool(mock), db.Pool(), "Pool() should return the wrapped pool")
}

func TestPostgresDB_ExecuteTx(t *testing.T) {
	ctx := context.Background()

	t.Run("commits on success", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()
		db := NewPostgresDBWithPool(newTestLogger(), mock)

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE wallets SET balance_credits = \$1`).
			WithArgs(int64(10)).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectCommit()

		err = db.ExecuteTx(ctx, func(tx pgx.Tx) error {
			_, execErr := tx.Exec(ctx, "UPDATE wallets SET balance_credits = $1", int64(10))
			return execErr
		})
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back on error", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()
		db := NewPostgresDBWithPool(newTestLogger(), mock)

		fnErr := errors.New("insufficient credits")
		mock.ExpectBegin()
		mock.ExpectRollback()

		err = db.ExecuteTx(ctx, func(tx pgx.Tx) error {
			return fnErr
		})
		assert.ErrorIs(t, err, fnErr)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("begin failure", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()
		db := NewPostgresDBWithPool(newTestLogger(), mock)

		mock.ExpectBegin().WillReturnError(errors.New("too many connections"))

		err = db.ExecuteTx(ctx, func(tx pgx.Tx) error {
			t.Fatal("fn must not run without a transaction")
			return nil
		})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to begin transaction")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back and re-panics", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()
		db := NewPostgresDBWithPool(newTestLogger(), mock)

		mock.ExpectBegin()
		mock.ExpectRollback()

		assert.Panics(t, func() {
			_ = db.ExecuteTx(ctx, func(tx pgx.Tx) error {
				panic("boom")
			})
		})
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
