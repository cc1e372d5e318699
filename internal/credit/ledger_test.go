package credit

import (
	"context"
	"testing"

	"github.com/credit-ledger/internal/domain/ledger"
	"github.com/credit-ledger/internal/domain/outbox"
	"github.com/credit-ledger/internal/domain/wallet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedger_ApplyEntry(t *testing.T) {
	ctx := context.Background()

	t.Run("credits and debits move the balance", func(t *testing.T) {
		f := newFixture(t)
		f.fund(t, "user-1", 100)

		entry, err := f.ledger.ApplyEntry(ctx, EntryRequest{IdentityID: "user-1", Type: ledger.EntryTypeChargeback, Amount: -30})
		require.NoError(t, err)
		assert.Equal(t, int64(-30), entry.Amount)

		snap, err := f.engine.Snapshot(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, int64(70), snap.Balance)
		f.requireInSync(t, "user-1")
	})

	t.Run("referenced entry is idempotent", func(t *testing.T) {
		f := newFixture(t)
		f.fund(t, "user-1", 0)
		req := EntryRequest{IdentityID: "user-1", Type: ledger.EntryTypePurchaseCredit, Amount: 50, RefType: "checkout", RefID: "cs_1"}

		first, err := f.ledger.ApplyEntry(ctx, req)
		require.NoError(t, err)
		second, err := f.ledger.ApplyEntry(ctx, req)
		require.NoError(t, err)

		assert.Equal(t, first.ID, second.ID)
		snap, err := f.engine.Snapshot(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, int64(50), snap.Balance)

		_, total, err := f.ledger.Entries(ctx, "user-1", 10, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
	})

	t.Run("validation errors", func(t *testing.T) {
		f := newFixture(t)
		f.fund(t, "user-1", 10)

		_, err := f.ledger.ApplyEntry(ctx, EntryRequest{IdentityID: "user-1", Type: "bonus", Amount: 5})
		assert.ErrorIs(t, err, ledger.ErrInvalidEntryType{Type: "bonus"})

		_, err = f.ledger.ApplyEntry(ctx, EntryRequest{IdentityID: "user-1", Type: ledger.EntryTypeRefund, Amount: -5})
		assert.ErrorIs(t, err, ledger.ErrInvalidAmount{})

		_, err = f.ledger.ApplyEntry(ctx, EntryRequest{IdentityID: "user-1", Type: ledger.EntryTypeAdminGrant, Amount: 0})
		assert.ErrorIs(t, err, ledger.ErrInvalidAmount{})
	})

	t.Run("unknown wallet", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.ledger.ApplyEntry(ctx, EntryRequest{IdentityID: "ghost", Type: ledger.EntryTypeAdminGrant, Amount: 5})
		assert.ErrorIs(t, err, wallet.ErrWalletNotFound{})
	})

	t.Run("balance policy", func(t *testing.T) {
		f := newFixture(t)
		f.fund(t, "user-1", 10)

		_, err := f.ledger.ApplyEntry(ctx, EntryRequest{IdentityID: "user-1", Type: ledger.EntryTypeReservationFinalize, Amount: -20})
		var insufficient ledger.ErrInsufficientBalance
		require.ErrorAs(t, err, &insufficient)
		assert.Equal(t, int64(10), insufficient.Balance)
		assert.Equal(t, int64(-20), insufficient.Delta)

		_, err = f.ledger.ApplyEntry(ctx, EntryRequest{IdentityID: "user-1", Type: ledger.EntryTypeAdminAdjust, Amount: -25})
		require.NoError(t, err)

		snap, err := f.engine.Snapshot(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, int64(-15), snap.Balance)
		assert.Equal(t, int64(0), snap.Available)
		f.requireInSync(t, "user-1")
	})

	t.Run("writes an outbox event per applied entry", func(t *testing.T) {
		f := newFixture(t)
		f.fund(t, "user-1", 10)

		var applied int
		for _, m := range f.store.Messages() {
			if m.EventType == outbox.EventLedgerEntryApplied {
				applied++
				var payload LedgerEntryApplied
				require.NoError(t, m.Decode(&payload))
				assert.Equal(t, int64(10), payload.BalanceAfter)
			}
		}
		assert.Equal(t, 1, applied)
	})
}

func TestLedger_ProvisionWallet(t *testing.T) {
	ctx := context.Background()

	t.Run("without signup grant", func(t *testing.T) {
		f := newFixture(t)
		w, created, err := f.ledger.ProvisionWallet(ctx, "user-1")
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, int64(0), w.BalanceCredits)

		_, created, err = f.ledger.ProvisionWallet(ctx, "user-1")
		require.NoError(t, err)
		assert.False(t, created)
	})

	t.Run("signup grant applied once", func(t *testing.T) {
		f := newFixture(t)
		f.ledger.signupGrant = 25

		w, created, err := f.ledger.ProvisionWallet(ctx, "user-1")
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, int64(25), w.BalanceCredits)

		w, _, err = f.ledger.ProvisionWallet(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, int64(25), w.BalanceCredits)

		entries, total, err := f.ledger.Entries(ctx, "user-1", 10, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
		assert.Equal(t, ledger.EntryTypeSignupGrant, entries[0].Type)
		assert.Equal(t, RefTypeSignup, entries[0].RefType)
		f.requireInSync(t, "user-1")
	})

	t.Run("empty identity", func(t *testing.T) {
		f := newFixture(t)
		_, _, err := f.ledger.ProvisionWallet(ctx, "")
		assert.ErrorIs(t, err, wallet.ErrEmptyIdentity)
	})
}

func TestLedger_VerifyWallet(t *testing.T) {
	f := newFixture(t)
	f.fund(t, "user-1", 40)
	f.store.SetBalance("user-1", 35)

	drift, err := f.ledger.VerifyWallet(context.Background(), "user-1")
	require.NoError(t, err)
	assert.False(t, drift.InSync())
	assert.Equal(t, int64(5), drift.Delta())
}
