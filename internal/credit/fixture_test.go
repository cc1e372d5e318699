package credit

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/credit-ledger/internal/data/memory"
	"github.com/credit-ledger/internal/domain/ledger"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type fixture struct {
	store       *memory.Store
	clock       *testClock
	ledger      *Ledger
	engine      *ReservationEngine
	coordinator *JobCoordinator
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := memory.NewStore()
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	logger := newTestLogger()

	l := NewLedger(s, ledger.DefaultBalancePolicy(), 0, logger)
	l.now = clock.Now
	engine := NewReservationEngine(s, l, nil, EngineConfig{DefaultTTL: 20 * time.Minute, SweepBatchSize: 2}, logger)
	engine.now = clock.Now
	coordinator := NewJobCoordinator(s, engine, logger)
	coordinator.now = clock.Now

	return &fixture{store: s, clock: clock, ledger: l, engine: engine, coordinator: coordinator}
}

// fund provisions a wallet holding balance credits
func (f *fixture) fund(t *testing.T, identityID string, balance int64) {
	t.Helper()
	ctx := context.Background()
	_, _, err := f.ledger.ProvisionWallet(ctx, identityID)
	require.NoError(t, err)
	if balance > 0 {
		_, err = f.ledger.ApplyEntry(ctx, EntryRequest{
			IdentityID: identityID,
			Type:       ledger.EntryTypePurchaseCredit,
			Amount:     balance,
		})
		require.NoError(t, err)
	}
}

func (f *fixture) reserve(t *testing.T, identityID, jobID string, cost int64) *ReserveResult {
	t.Helper()
	result, err := f.engine.Reserve(context.Background(), ReserveRequest{
		IdentityID: identityID,
		ActionKey:  "MESHY_TEXT_TO_3D",
		JobID:      jobID,
		Cost:       cost,
	})
	require.NoError(t, err)
	return result
}

// requireInSync asserts the cached balance equals the ledger sum
func (f *fixture) requireInSync(t *testing.T, identityID string) {
	t.Helper()
	drift, err := f.ledger.VerifyWallet(context.Background(), identityID)
	require.NoError(t, err)
	require.True(t, drift.InSync(), "wallet %s drifted: cached=%d ledger=%d", identityID, drift.CachedBalance, drift.LedgerSum)
}
