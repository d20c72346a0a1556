package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/pranav1703/queuectl/internal/metrics"
	"github.com/pranav1703/queuectl/internal/worker"
)

func WorkerCmd(app *App) *cobra.Command {
	workerCmd := &cobra.Command{
		Use:   "worker",
		Short: "Manage worker processes",
	}

	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start workers in the foreground until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			count, _ := cmd.Flags().GetInt("count")
			metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			opts := []worker.Option{worker.WithLogger(app.Logger)}
			if metricsAddr != "" {
				m := metrics.New()
				opts = append(opts, worker.WithMetrics(m))
				srv, err := serveMetrics(metricsAddr, m, app)
				if err != nil {
					return err
				}
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					if err := srv.Shutdown(shutdownCtx); err != nil {
						app.Logger.Warn("metrics server shutdown", "err", err)
					}
				}()
			}

			registry := worker.NewRegistry(app.Config.WorkerRegistryPath())
			pool := worker.NewPool(app.Store, registry, opts...)
			fmt.Fprintf(cmd.OutOrStdout(), "Started %d worker(s)\n", count)
			return pool.Start(ctx, count)
		},
	}
	startCmd.Flags().Int("count", 1, "Number of workers to start")
	startCmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Signal running workers to finish their current job and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			registry := worker.NewRegistry(app.Config.WorkerRegistryPath())
			_, err := worker.Stop(registry, app.Logger)
			if errors.Is(err, worker.ErrNoWorkers) {
				fmt.Fprintln(cmd.OutOrStdout(), "No workers running")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Stopped workers")
			return nil
		},
	}

	workerCmd.AddCommand(startCmd)
	workerCmd.AddCommand(stopCmd)
	return workerCmd
}

// serveMetrics binds addr and serves /metrics in the background.
func serveMetrics(addr string, m *metrics.Metrics, app *App) (*http.Server, error) {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", m.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}
	go func() {
		app.Logger.Info("metrics server started", "addr", ln.Addr().String())
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			app.Logger.Error("metrics server", "err", err)
		}
	}()
	return srv, nil
}
