package cli

import (
	"errors"
	"fmt"

	"github.com/credit-ledger/internal/credit"
	"github.com/spf13/cobra"
)

func newCompleteCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "complete JOB_ID --success|--failed",
		Short: "Record a job outcome and settle its hold",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			success, _ := cmd.Flags().GetBool("success")
			failed, _ := cmd.Flags().GetBool("failed")
			detail, _ := cmd.Flags().GetString("detail")
			if success == failed {
				return errors.New("exactly one of --success or --failed is required")
			}

			result, err := app.Coordinator.CompleteJob(cmd.Context(), args[0], credit.Outcome{
				Success:     success,
				ErrorDetail: detail,
			})
			if err != nil {
				return err
			}
			return printCompletion(cmd, result)
		},
	}
	cmd.Flags().Bool("success", false, "The job succeeded; capture its hold")
	cmd.Flags().Bool("failed", false, "The job failed; return its hold")
	cmd.Flags().String("detail", "", "Failure detail stored as the release reason")
	return cmd
}

func newCancelCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel JOB_ID",
		Short: "Cancel a queued job and return its hold",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reason, _ := cmd.Flags().GetString("reason")
			force, _ := cmd.Flags().GetBool("force")

			result, err := app.Coordinator.CancelJob(cmd.Context(), args[0], reason, force)
			if err != nil {
				return err
			}
			return printCompletion(cmd, result)
		},
	}
	cmd.Flags().String("reason", "", "Release reason")
	cmd.Flags().Bool("force", false, "Also cancel a job already dispatched to its provider")
	return cmd
}

func printCompletion(cmd *cobra.Command, result *credit.CompletionResult) error {
	out := cmd.OutOrStdout()
	if result.AlreadyCompleted {
		fmt.Fprintf(out, "Job %s was already %s\n", result.Job.ID, result.Job.Status)
		return nil
	}
	fmt.Fprintf(out, "Job %s is %s\n", result.Job.ID, result.Job.Status)
	if result.Reservation != nil {
		fmt.Fprintf(out, "Reservation %s is %s\n", result.Reservation.ID, result.Reservation.Status)
	}
	if result.Entry != nil {
		fmt.Fprintf(out, "Ledger entry %s %+d\n", result.Entry.ID, result.Entry.Amount)
	}
	return nil
}
