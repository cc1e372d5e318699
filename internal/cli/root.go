// Package cli implements creditctl, the operator command line for wallets, holds
// and ledger maintenance. Commands run against the same PostgreSQL store the
// services use, so every write goes through the ledger and its locks.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/credit-ledger/internal/credit"
	"github.com/credit-ledger/internal/maintenance"
	"github.com/spf13/cobra"
)

// App carries the components the commands operate on
type App struct {
	Ledger      *credit.Ledger
	Engine      *credit.ReservationEngine
	Coordinator *credit.JobCoordinator
	Auditor     *maintenance.DriftAuditor
	Reconciler  *maintenance.Reconciler
	Logger      *slog.Logger
}

// NewRootCommand builds the creditctl command tree
func NewRootCommand(app *App) *cobra.Command {
	root := &cobra.Command{
		Use:   "creditctl",
		Short: "Operate the credit ledger",
		Long: `creditctl provisions wallets, writes administrative ledger entries, settles jobs
and runs the maintenance tasks the credit processor schedules.`,
		SilenceUsage: true,
	}

	root.AddCommand(
		newProvisionCmd(app),
		newBalanceCmd(app),
		newGrantCmd(app),
		newAdjustCmd(app),
		newSweepCmd(app),
		newAuditCmd(app),
		newRepairCmd(app),
		newReconcileCmd(app),
		newCompleteCmd(app),
		newCancelCmd(app),
	)
	return root
}

func printJSON(w io.Writer, v any) error {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(encoded))
	return err
}

func parseAmount(raw string) (int64, error) {
	amount, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", raw, err)
	}
	return amount, nil
}
