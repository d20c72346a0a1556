package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pranav1703/queuectl/internal/model"
	"github.com/pranav1703/queuectl/internal/storage"
)

func EnqueueCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "enqueue <job(json)>",
		Short: "Add a job to the queue",
		Long:  `Add a job to the queue, e.g. queuectl enqueue '{"id":"job1","command":"echo hi"}'`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sub, err := model.ParseSubmission(args[0])
			if err != nil {
				return err
			}
			if err := sub.Validate(); err != nil {
				return err
			}

			job := sub.Job(app.Config.MaxRetries)
			if err := app.Store.Enqueue(cmd.Context(), job); err != nil {
				if errors.Is(err, storage.ErrDuplicateID) {
					return fmt.Errorf("job %q already exists", job.ID)
				}
				return fmt.Errorf("failed to enqueue job: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), job.ID)
			return nil
		},
	}
}
