package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/pranav1703/queuectl/internal/config"
	"github.com/pranav1703/queuectl/internal/storage"
)

// ErrNoWorkers is returned by Stop when no pool is recorded.
var ErrNoWorkers = errors.New("no workers running")

// Pool runs a fixed number of workers against one store.
type Pool struct {
	store    storage.JobStore
	settings *config.Settings
	registry *Registry
	opts     []Option
	logger   *slog.Logger
}

// NewPool returns a Pool that records itself in registry. Options are passed
// on to every worker.
func NewPool(store storage.JobStore, registry *Registry, opts ...Option) *Pool {
	return &Pool{
		store:    store,
		settings: config.NewSettings(store),
		registry: registry,
		opts:     opts,
		logger:   buildOptions(opts).logger,
	}
}

// Start launches count workers and blocks until ctx is done and every worker
// has returned. The pool is registered for the duration of the call.
func (p *Pool) Start(ctx context.Context, count int) error {
	if count < 1 {
		return fmt.Errorf("worker count must be at least 1, got %d", count)
	}

	ids := make([]string, count)
	for i := range ids {
		ids[i] = uuid.NewString()
	}
	pid := os.Getpid()
	rec := Record{PID: pid, Workers: ids, StartedAt: time.Now().UTC()}
	if err := p.registry.Add(rec); err != nil {
		return err
	}
	defer func() {
		if err := p.registry.Remove(pid); err != nil {
			p.logger.Error("removing worker registry record", "err", err)
		}
	}()

	p.logger.Info("starting workers", "count", count, "pid", pid, "registry", p.registry.Path())

	g, gctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		w := New(id, p.store, p.settings, p.opts...)
		g.Go(func() error {
			return w.Run(gctx)
		})
	}
	err := g.Wait()
	p.logger.Info("all workers stopped")
	return err
}

// Stop signals every recorded pool with SIGTERM and clears the registry. It
// returns the pids that were signalled.
func Stop(registry *Registry, logger *slog.Logger) ([]int, error) {
	pools, err := registry.Drain()
	if err != nil {
		return nil, err
	}
	if len(pools) == 0 {
		return nil, ErrNoWorkers
	}

	var signalled []int
	for _, rec := range pools {
		proc, err := os.FindProcess(rec.PID)
		if err == nil {
			err = proc.Signal(syscall.SIGTERM)
		}
		if err != nil {
			logger.Warn("could not signal worker process", "pid", rec.PID, "err", err)
			continue
		}
		logger.Info("sent SIGTERM to worker process", "pid", rec.PID, "workers", len(rec.Workers))
		signalled = append(signalled, rec.PID)
	}
	return signalled, nil
}
