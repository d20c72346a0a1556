// Package cmd defines the queuectl command line.
package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/pranav1703/queuectl/internal/config"
	"github.com/pranav1703/queuectl/internal/storage"
)

// App carries the dependencies shared by every command.
type App struct {
	Config *config.Config
	Store  storage.JobStore
	Logger *slog.Logger
}

// NewRootCmd builds the command tree over app.
func NewRootCmd(app *App) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "queuectl",
		Short:         "A cli-based job queue system",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	rootCmd.AddCommand(EnqueueCmd(app))
	rootCmd.AddCommand(ListCmd(app))
	rootCmd.AddCommand(StatusCmd(app))
	rootCmd.AddCommand(WorkerCmd(app))
	rootCmd.AddCommand(DlqCmd(app))
	rootCmd.AddCommand(ConfigCmd(app))
	return rootCmd
}

// Execute runs the command line and returns the process exit code.
func Execute(app *App) int {
	if err := NewRootCmd(app).Execute(); err != nil {
		app.Logger.Error("command failed", "err", err)
		return 1
	}
	return 0
}
