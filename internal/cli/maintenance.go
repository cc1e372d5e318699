package cli

import (
	"fmt"

	"github.com/credit-ledger/internal/maintenance"
	"github.com/spf13/cobra"
)

func newSweepCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Release every expired hold now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			released, err := app.Engine.SweepExpired(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Released %d expired reservations\n", released)
			return nil
		},
	}
}

func newAuditCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Find wallets whose balance differs from their ledger sum",
		Long: `Find wallets whose cached balance differs from the sum of their ledger entries.
Without --repair nothing is written.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			repair, _ := cmd.Flags().GetBool("repair")
			limit, _ := cmd.Flags().GetInt("limit")

			report, err := app.Auditor.Audit(cmd.Context(), maintenance.AuditOptions{
				DryRun:        !repair,
				Limit:         limit,
				TriggerSource: maintenance.TriggerManual,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().Bool("repair", false, "Re-project drifted balances from the ledger")
	cmd.Flags().Int("limit", 100, "Maximum wallets to inspect")
	return cmd
}

func newRepairCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repair IDENTITY",
		Short: "Re-project one wallet balance from its ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reason, _ := cmd.Flags().GetString("reason")
			repair, err := app.Auditor.RepairWallet(cmd.Context(), args[0], reason, maintenance.TriggerManual)
			if err != nil {
				return err
			}
			if repair == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "Wallet %s is in sync\n", args[0])
				return nil
			}
			return printJSON(cmd.OutOrStdout(), repair)
		},
	}
	cmd.Flags().String("reason", "", "Reason recorded on the repair")
	return cmd
}

func newReconcileCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Repair drift and release holds whose job is missing or failed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := app.Reconciler.Run(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}
}
