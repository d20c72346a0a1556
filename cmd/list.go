package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pranav1703/queuectl/internal/model"
)

func ListCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, one JSON object per line",
		RunE: func(cmd *cobra.Command, args []string) error {
			state, _ := cmd.Flags().GetString("state")
			if state != "" && !slices.Contains(model.States, state) {
				return fmt.Errorf("unknown state %q (want one of %s)", state, strings.Join(model.States, ", "))
			}

			jobs, err := app.Store.ListJobs(cmd.Context(), state)
			if err != nil {
				return fmt.Errorf("failed to list jobs: %w", err)
			}
			return writeJobLines(cmd.OutOrStdout(), jobs)
		},
	}
	cmd.Flags().String("state", "", "Filter jobs by state (pending, processing, completed, failed, dead)")
	return cmd
}

func StatusCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show a summary of job states",
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := app.Store.Stats(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to get stats: %w", err)
			}
			data, err := json.MarshalIndent(stats, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
}

func writeJobLines(w io.Writer, jobs []model.Job) error {
	enc := json.NewEncoder(w)
	for i := range jobs {
		if err := enc.Encode(&jobs[i]); err != nil {
			return err
		}
	}
	return nil
}
