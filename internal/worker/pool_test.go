package worker

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pranav1703/queuectl/internal/config"
	"github.com/pranav1703/queuectl/internal/model"
	"github.com/pranav1703/queuectl/internal/testutil"
)

func TestRegistry_RoundTrip(t *testing.T) {
	reg := NewRegistry(filepath.Join(t.TempDir(), "state", "workers.json"))

	pools, err := reg.Load()
	require.NoError(t, err)
	assert.Empty(t, pools)

	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, reg.Add(Record{PID: 100, Workers: []string{"a", "b"}, StartedAt: started}))
	require.NoError(t, reg.Add(Record{PID: 200, Workers: []string{"c"}, StartedAt: started}))

	// A second registry handle on the same path sees the same records.
	pools, err = NewRegistry(reg.Path()).Load()
	require.NoError(t, err)
	require.Len(t, pools, 2)
	assert.Equal(t, []string{"a", "b"}, pools[0].Workers)
	assert.True(t, pools[0].StartedAt.Equal(started))

	require.NoError(t, reg.Remove(100))
	pools, err = reg.Load()
	require.NoError(t, err)
	require.Len(t, pools, 1)
	assert.Equal(t, 200, pools[0].PID)

	require.NoError(t, reg.Remove(200))
	_, err = os.Stat(reg.Path())
	assert.True(t, errors.Is(err, os.ErrNotExist), "empty registry removes its file")
}

func TestRegistry_ConcurrentAddsKeepEveryRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workers.json")
	const writers = 8

	for trial := 0; trial < 20; trial++ {
		_, err := NewRegistry(path).Drain()
		require.NoError(t, err)

		var wg sync.WaitGroup
		errs := make(chan error, writers)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(pid int) {
				defer wg.Done()
				// Separate handles stand in for separate processes.
				errs <- NewRegistry(path).Add(Record{PID: pid, Workers: []string{"w"}, StartedAt: time.Now()})
			}(1000 + i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		pools, err := NewRegistry(path).Load()
		require.NoError(t, err)
		require.Len(t, pools, writers, "trial %d lost records", trial)
	}
}

func TestRegistry_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workers.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := NewRegistry(path).Load()
	assert.Error(t, err)
}

func TestStop_NoWorkers(t *testing.T) {
	reg := NewRegistry(filepath.Join(t.TempDir(), "workers.json"))

	pids, err := Stop(reg, quietLogger())
	assert.ErrorIs(t, err, ErrNoWorkers)
	assert.Empty(t, pids)
}

func TestStop_SignalsRecordedProcess(t *testing.T) {
	proc := exec.Command("sleep", "30")
	require.NoError(t, proc.Start())
	exited := make(chan error, 1)
	go func() { exited <- proc.Wait() }()

	reg := NewRegistry(filepath.Join(t.TempDir(), "workers.json"))
	require.NoError(t, reg.Add(Record{PID: proc.Process.Pid, Workers: []string{"w"}, StartedAt: time.Now()}))

	pids, err := Stop(reg, quietLogger())
	require.NoError(t, err)
	assert.Equal(t, []int{proc.Process.Pid}, pids)

	select {
	case err := <-exited:
		assert.Error(t, err, "sleep should exit on SIGTERM")
	case <-time.After(5 * time.Second):
		_ = proc.Process.Kill()
		t.Fatal("process was not terminated")
	}

	pools, err := reg.Load()
	require.NoError(t, err)
	assert.Empty(t, pools)

	_, err = Stop(reg, quietLogger())
	assert.ErrorIs(t, err, ErrNoWorkers)
}

func TestPool_ProcessesJobsAndShutsDown(t *testing.T) {
	store := testutil.NewSQLiteStore(t)
	ctx := context.Background()
	require.NoError(t, config.NewSettings(store).Set(ctx, "poll_interval", "0.05"))

	for _, id := range []string{"a", "b", "c", "d"} {
		enqueue(t, store, id, "echo "+id, 3)
	}

	reg := NewRegistry(filepath.Join(t.TempDir(), "workers.json"))
	pool := NewPool(store, reg, WithLogger(quietLogger()))

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- pool.Start(runCtx, 3) }()

	require.Eventually(t, func() bool {
		stats, err := store.Stats(ctx)
		return err == nil && stats.Completed == 4
	}, 10*time.Second, 20*time.Millisecond)

	pools, err := reg.Load()
	require.NoError(t, err)
	require.Len(t, pools, 1)
	assert.Equal(t, os.Getpid(), pools[0].PID)
	assert.Len(t, pools[0].Workers, 3)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("pool did not shut down")
	}

	pools, err = reg.Load()
	require.NoError(t, err)
	assert.Empty(t, pools, "pool removes its record on exit")

	jobs, err := store.ListJobs(ctx, model.StateCompleted)
	require.NoError(t, err)
	for _, j := range jobs {
		assert.Equal(t, j.ID, j.OutputText())
		assert.Equal(t, 0, j.Attempts)
	}
}

func TestPool_RejectsZeroCount(t *testing.T) {
	store := testutil.NewSQLiteStore(t)
	reg := NewRegistry(filepath.Join(t.TempDir(), "workers.json"))

	err := NewPool(store, reg, WithLogger(quietLogger())).Start(context.Background(), 0)
	assert.Error(t, err)
}
