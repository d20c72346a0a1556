// Package worker runs jobs claimed from a JobStore. A Pool owns a set of
// Worker goroutines and records them in a Registry so a later process can
// stop them.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pranav1703/queuectl/internal/config"
	"github.com/pranav1703/queuectl/internal/executor"
	"github.com/pranav1703/queuectl/internal/metrics"
	"github.com/pranav1703/queuectl/internal/model"
	"github.com/pranav1703/queuectl/internal/storage"
)

// Runner executes a job command.
type Runner interface {
	Run(ctx context.Context, command string) executor.Result
}

type options struct {
	runner  Runner
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures a Worker or Pool.
type Option func(*options)

// WithRunner replaces the shell executor.
func WithRunner(r Runner) Option {
	return func(o *options) { o.runner = r }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics records claims and outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

func buildOptions(opts []Option) options {
	o := options{runner: executor.New(), logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Worker claims and executes one job at a time until its context is done.
type Worker struct {
	ID       string
	store    storage.JobStore
	settings *config.Settings
	runner   Runner
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// New returns a Worker identified by id.
func New(id string, store storage.JobStore, settings *config.Settings, opts ...Option) *Worker {
	o := buildOptions(opts)
	return &Worker{
		ID:       id,
		store:    store,
		settings: settings,
		runner:   o.runner,
		logger:   o.logger.With("worker_id", id),
		metrics:  o.metrics,
	}
}

// Run is the worker loop. Cancellation is checked between jobs and during
// the idle sleep; a command already running is allowed to finish and its
// result is recorded. Run only returns once ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker started")
	defer w.logger.Info("worker stopped")

	for {
		if ctx.Err() != nil {
			return nil
		}
		processed, err := w.processNext(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.metrics.ObserveStoreError()
			w.logger.Error("job store error", "err", err)
		}
		if processed && err == nil {
			continue
		}
		if !w.sleep(ctx) {
			return nil
		}
	}
}

// processNext claims one job and runs it to a recorded outcome. It reports
// false when nothing was claimed.
func (w *Worker) processNext(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNext(ctx)
	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}
	if job == nil {
		return false, nil
	}
	w.metrics.ObserveClaim()

	log := w.logger.With("job_id", job.ID)
	log.Info("processing job", "command", job.Command, "attempt", job.Attempts+1)

	start := time.Now()
	res := w.execute(ctx, job)
	elapsed := time.Since(start)

	// The outcome is recorded even when shutdown began mid-command.
	finishCtx := context.WithoutCancel(ctx)

	if res.Success {
		if err := w.store.FinishSuccess(finishCtx, job.ID, res.Output); err != nil {
			return true, fmt.Errorf("finish job %s: %w", job.ID, err)
		}
		w.metrics.ObserveOutcome("completed", elapsed)
		log.Info("job completed", "duration", elapsed)
		return true, nil
	}

	base, err := w.settings.BackoffBase(finishCtx)
	if err != nil {
		log.Warn("reading backoff_base, using default", "err", err, "backoff_base", base)
	}
	updated, err := w.store.FinishFailure(finishCtx, job, res.Output, base)
	if err != nil {
		return true, fmt.Errorf("record failure for job %s: %w", job.ID, err)
	}

	if updated.State == model.StateDead {
		w.metrics.ObserveOutcome("dead", elapsed)
		log.Warn("job moved to dead letter queue", "attempts", updated.Attempts, "output", res.Output)
		return true, nil
	}
	w.metrics.ObserveOutcome("retry", elapsed)
	log.Info("job failed, retry scheduled",
		"attempts", updated.Attempts,
		"next_attempt_at", updated.NextAttemptAt,
		"output", res.Output)
	return true, nil
}

// execute runs the command, turning a panic into a failed attempt.
func (w *Worker) execute(ctx context.Context, job *model.Job) (res executor.Result) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("job execution panicked", "job_id", job.ID, "panic", r)
			res = executor.Failure(fmt.Errorf("panic: %v", r))
		}
	}()
	return w.runner.Run(ctx, job.Command)
}

// sleep waits for the live poll interval. It returns false if ctx ended first.
func (w *Worker) sleep(ctx context.Context) bool {
	d, err := w.settings.PollInterval(ctx)
	if err != nil && ctx.Err() == nil {
		w.logger.Warn("reading poll_interval, using default", "err", err, "poll_interval", d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
