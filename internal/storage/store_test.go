package storage_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pranav1703/queuectl/internal/model"
	"github.com/pranav1703/queuectl/internal/storage"
	"github.com/pranav1703/queuectl/internal/storage/storetest"
	"github.com/pranav1703/queuectl/internal/testutil"
)

func TestSQLiteStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T, clock *testutil.Clock) storage.JobStore {
		return testutil.NewSQLiteStore(t, storage.WithClock(clock.Now))
	})
}

func TestNewStore_ReopenKeepsDataAndSettings(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "queue.db")

	s, err := storage.NewStore(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s.Enqueue(ctx, &model.Job{ID: "persist", Command: "true", MaxRetries: 3}))
	require.NoError(t, s.SetSetting(ctx, "poll_interval", "5"))
	require.NoError(t, s.Close())

	reopened, err := storage.NewStore(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	j, err := reopened.GetJob(ctx, "persist")
	require.NoError(t, err)
	assert.Equal(t, model.StatePending, j.State)

	val, ok, err := reopened.GetSetting(ctx, "poll_interval")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "5", val, "migrations must not reset an existing setting")
}

func TestEnqueue_RejectsMissingFields(t *testing.T) {
	s := testutil.NewSQLiteStore(t)

	err := s.Enqueue(context.Background(), &model.Job{ID: "x"})

	var verr *model.ValidationError
	require.ErrorAs(t, err, &verr)
	_, err = s.GetJob(context.Background(), "x")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestGetJob_NotFound(t *testing.T) {
	s := testutil.NewSQLiteStore(t)

	_, err := s.GetJob(context.Background(), "nope")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestNewStore_UsesWALAndBusyTimeout(t *testing.T) {
	s := testutil.NewSQLiteStore(t, storage.WithBusyTimeout(750*time.Millisecond))
	ctx := context.Background()

	var mode string
	require.NoError(t, s.DB().QueryRowContext(ctx, `PRAGMA journal_mode`).Scan(&mode))
	assert.Equal(t, "wal", mode)

	var timeout int
	require.NoError(t, s.DB().QueryRowContext(ctx, `PRAGMA busy_timeout`).Scan(&timeout))
	assert.Equal(t, 750, timeout)
}

func TestNewStore_ConcurrentOpenOfFreshDatabase(t *testing.T) {
	ctx := context.Background()
	const openers = 4

	for trial := 0; trial < 10; trial++ {
		path := filepath.Join(t.TempDir(), "queue.db")

		var wg sync.WaitGroup
		errs := make(chan error, openers)
		for i := 0; i < openers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				s, err := storage.NewStore(ctx, path)
				if err == nil {
					err = s.Close()
				}
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err, "trial %d", trial)
		}
	}
}
