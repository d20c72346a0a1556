package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pranav1703/queuectl/internal/storage"
)

func DlqCmd(app *App) *cobra.Command {
	dlqCmd := &cobra.Command{
		Use:   "dlq",
		Short: "Manage the Dead Letter Queue (DLQ)",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List all jobs in the DLQ",
		RunE: func(cmd *cobra.Command, args []string) error {
			jobs, err := app.Store.ListDLQ(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list DLQ jobs: %w", err)
			}
			return writeJobLines(cmd.OutOrStdout(), jobs)
		},
	}

	retryCmd := &cobra.Command{
		Use:   "retry <job-id>",
		Short: "Move a job from the DLQ back to pending",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID := args[0]
			err := app.Store.RetryDLQ(cmd.Context(), jobID)
			switch {
			case errors.Is(err, storage.ErrNotFound):
				return fmt.Errorf("job %s not found", jobID)
			case errors.Is(err, storage.ErrNotInDLQ):
				return fmt.Errorf("job %s is not in the DLQ", jobID)
			case err != nil:
				return err
			}
			app.Logger.Info("job moved from DLQ to pending", "job_id", jobID)
			fmt.Fprintln(cmd.OutOrStdout(), "OK")
			return nil
		},
	}

	dlqCmd.AddCommand(listCmd)
	dlqCmd.AddCommand(retryCmd)
	return dlqCmd
}
