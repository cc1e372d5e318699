package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/credit-ledger/internal/credit"
	"github.com/credit-ledger/internal/data/memory"
	"github.com/credit-ledger/internal/domain/ledger"
	"github.com/credit-ledger/internal/maintenance"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	app   *App
	store *memory.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := memory.NewStore()
	l := credit.NewLedger(s, ledger.DefaultBalancePolicy(), 40, logger)
	engine := credit.NewReservationEngine(s, l, nil, credit.EngineConfig{}, logger)
	auditor := maintenance.NewDriftAuditor(s, logger)

	return &fixture{
		store: s,
		app: &App{
			Ledger:      l,
			Engine:      engine,
			Coordinator: credit.NewJobCoordinator(s, engine, logger),
			Auditor:     auditor,
			Reconciler:  maintenance.NewReconciler(s, auditor, engine, maintenance.ReconcilerConfig{}, logger),
			Logger:      logger,
		},
	}
}

func (f *fixture) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand(f.app)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestProvisionAndBalance(t *testing.T) {
	f := newFixture(t)

	out, err := f.run(t, "provision", "user-1")
	require.NoError(t, err)
	assert.Contains(t, out, "Wallet user-1 created with balance 40")

	out, err = f.run(t, "provision", "user-1")
	require.NoError(t, err)
	assert.Contains(t, out, "already exists")

	out, err = f.run(t, "balance", "user-1", "--verify")
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, true, got["in_sync"])
	assert.Equal(t, float64(40), got["ledger_sum"])

	_, err = f.run(t, "balance", "ghost")
	assert.Error(t, err)
}

func TestGrantAndAdjust(t *testing.T) {
	f := newFixture(t)
	_, err := f.run(t, "provision", "user-1")
	require.NoError(t, err)

	out, err := f.run(t, "grant", "user-1", "15", "--reason", "support ticket")
	require.NoError(t, err)
	assert.Contains(t, out, "admin_grant +15")

	out, err = f.run(t, "adjust", "user-1", "--delta=-70")
	require.NoError(t, err)
	assert.Contains(t, out, "admin_adjust -70")

	snapshot, err := f.app.Engine.Snapshot(context.Background(), "user-1")
	require.NoError(t, err)
	assert.EqualValues(t, -15, snapshot.Balance)

	_, err = f.run(t, "grant", "user-1", "-5")
	assert.Error(t, err)

	_, err = f.run(t, "grant", "user-1", "ten")
	assert.ErrorContains(t, err, "invalid amount")

	_, err = f.run(t, "adjust", "user-1")
	assert.Error(t, err, "--delta is required")
}

func TestCompleteAndCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.run(t, "provision", "user-1")
	require.NoError(t, err)

	for _, jobID := range []string{"job-1", "job-2", "job-3"} {
		_, err := f.app.Engine.Reserve(ctx, credit.ReserveRequest{IdentityID: "user-1", ActionKey: "MESHY_REFINE", JobID: jobID, Cost: 10})
		require.NoError(t, err)
	}

	out, err := f.run(t, "complete", "job-1", "--success")
	require.NoError(t, err)
	assert.Contains(t, out, "Job job-1 is succeeded")
	assert.Contains(t, out, "FINALIZED")
	assert.Contains(t, out, "Ledger entry")

	out, err = f.run(t, "complete", "job-1", "--success")
	require.NoError(t, err)
	assert.Contains(t, out, "already succeeded")

	out, err = f.run(t, "complete", "job-2", "--failed", "--detail", "provider timeout")
	require.NoError(t, err)
	assert.Contains(t, out, "RELEASED")

	_, err = f.run(t, "complete", "job-3", "--success", "--failed")
	assert.ErrorContains(t, err, "exactly one")

	out, err = f.run(t, "cancel", "job-3")
	require.NoError(t, err)
	assert.Contains(t, out, "Job job-3 is failed")

	snapshot, err := f.app.Engine.Snapshot(ctx, "user-1")
	require.NoError(t, err)
	assert.EqualValues(t, 30, snapshot.Balance)
	assert.EqualValues(t, 0, snapshot.Reserved)
}

func TestMaintenanceCommands(t *testing.T) {
	f := newFixture(t)
	_, err := f.run(t, "provision", "user-1")
	require.NoError(t, err)
	f.store.SetBalance("user-1", 55)

	out, err := f.run(t, "audit")
	require.NoError(t, err)
	var report maintenance.AuditReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.True(t, report.DryRun)
	assert.EqualValues(t, 1, report.TotalDrifts)
	assert.Empty(t, report.Repairs)

	out, err = f.run(t, "repair", "user-1", "--reason", "manual check")
	require.NoError(t, err)
	assert.Contains(t, out, `"new_balance": 40`)

	out, err = f.run(t, "repair", "user-1")
	require.NoError(t, err)
	assert.Contains(t, out, "in sync")

	out, err = f.run(t, "sweep")
	require.NoError(t, err)
	assert.Contains(t, out, "Released 0 expired reservations")

	out, err = f.run(t, "reconcile")
	require.NoError(t, err)
	var reconcile maintenance.ReconcileReport
	require.NoError(t, json.Unmarshal([]byte(out), &reconcile))
	assert.Empty(t, reconcile.StaleHolds)
	assert.Zero(t, reconcile.Errors)
}
