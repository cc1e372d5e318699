package cli

import (
	"fmt"

	"github.com/credit-ledger/internal/credit"
	"github.com/credit-ledger/internal/domain/ledger"
	"github.com/spf13/cobra"
)

// ─── provision ──────────────────────────────────────────────────────────────

func newProvisionCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "provision IDENTITY",
		Short: "Create a wallet, applying the signup grant once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, created, err := app.Ledger.ProvisionWallet(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if created {
				fmt.Fprintf(cmd.OutOrStdout(), "Wallet %s created with balance %d\n", w.IdentityID, w.BalanceCredits)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wallet %s already exists with balance %d\n", w.IdentityID, w.BalanceCredits)
			return nil
		},
	}
}

// ─── balance ────────────────────────────────────────────────────────────────

func newBalanceCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "balance IDENTITY",
		Short: "Show balance, reserved and available credits",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snapshot, err := app.Engine.Snapshot(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			verify, _ := cmd.Flags().GetBool("verify")
			if !verify {
				return printJSON(cmd.OutOrStdout(), snapshot)
			}

			drift, err := app.Ledger.VerifyWallet(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"wallet":     snapshot,
				"ledger_sum": drift.LedgerSum,
				"in_sync":    drift.InSync(),
			})
		},
	}
	cmd.Flags().Bool("verify", false, "Compare the balance with the ledger sum")
	return cmd
}

// ─── grant / adjust ─────────────────────────────────────────────────────────

func newGrantCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grant IDENTITY AMOUNT",
		Short: "Add credits with an admin_grant entry",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parseAmount(args[1])
			if err != nil {
				return err
			}
			return applyEntry(cmd, app, args[0], ledger.EntryTypeAdminGrant, amount)
		},
	}
	addReferenceFlags(cmd)
	return cmd
}

func newAdjustCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "adjust IDENTITY --delta N",
		Short: "Correct a balance with a signed admin_adjust entry",
		Long: `Correct a balance with a signed admin_adjust entry. Adjustments may take the
wallet below zero. Pass negative deltas as --delta=-5.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			delta, _ := cmd.Flags().GetInt64("delta")
			return applyEntry(cmd, app, args[0], ledger.EntryTypeAdminAdjust, delta)
		},
	}
	cmd.Flags().Int64("delta", 0, "Signed credit amount")
	_ = cmd.MarkFlagRequired("delta")
	addReferenceFlags(cmd)
	return cmd
}

func addReferenceFlags(cmd *cobra.Command) {
	cmd.Flags().String("ref-type", "", "Reference type making the entry idempotent")
	cmd.Flags().String("ref-id", "", "Reference id making the entry idempotent")
	cmd.Flags().String("reason", "", "Free text stored in the entry meta")
}

func applyEntry(cmd *cobra.Command, app *App, identityID string, entryType ledger.EntryType, amount int64) error {
	refType, _ := cmd.Flags().GetString("ref-type")
	refID, _ := cmd.Flags().GetString("ref-id")
	reason, _ := cmd.Flags().GetString("reason")

	meta := map[string]any{"source": "creditctl"}
	if reason != "" {
		meta["reason"] = reason
	}

	entry, err := app.Ledger.ApplyEntry(cmd.Context(), credit.EntryRequest{
		IdentityID: identityID,
		Type:       entryType,
		Amount:     amount,
		RefType:    refType,
		RefID:      refID,
		Meta:       meta,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Applied %s %+d to %s (entry %s)\n", entry.Type, entry.Amount, entry.IdentityID, entry.ID)
	return nil
}
