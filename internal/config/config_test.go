package config_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pranav1703/queuectl/internal/config"
	"github.com/pranav1703/queuectl/internal/testutil"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("QUEUECTL_DATA_DIR", "")
	t.Setenv("QUEUECTL_DATABASE_URL", "")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 5*time.Second, cfg.BusyTimeout())
	assert.False(t, cfg.UsePostgres())
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("QUEUECTL_DATA_DIR", "/var/lib/queuectl")
	t.Setenv("QUEUECTL_DATABASE_URL", "postgres://u:p@localhost/q")
	t.Setenv("QUEUECTL_MAX_RETRIES", "7")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.MaxRetries)
	assert.True(t, cfg.UsePostgres())
	assert.Equal(t, filepath.Join("/var/lib/queuectl", "queue.db"), cfg.SQLitePath())
	assert.Equal(t, filepath.Join("/var/lib/queuectl", "workers.json"), cfg.WorkerRegistryPath())
}

func TestLoad_RegistryOverride(t *testing.T) {
	t.Setenv("QUEUECTL_REGISTRY_PATH", "/tmp/w.json")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/w.json", cfg.WorkerRegistryPath())
}

func TestSettings_DefaultsFromMigration(t *testing.T) {
	s := config.NewSettings(testutil.NewSQLiteStore(t))
	ctx := context.Background()

	base, err := s.BackoffBase(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2.0, base)

	poll, err := s.PollInterval(ctx)
	require.NoError(t, err)
	assert.Equal(t, time.Second, poll)
}

func TestSettings_LiveReadsSeeUpdates(t *testing.T) {
	s := config.NewSettings(testutil.NewSQLiteStore(t))
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "backoff-base", "3"))
	require.NoError(t, s.Set(ctx, "poll_interval", "0.25"))

	base, err := s.BackoffBase(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3.0, base)

	poll, err := s.PollInterval(ctx)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, poll)

	got, err := s.Get(ctx, "backoff_base")
	require.NoError(t, err)
	assert.Equal(t, "3", got)
}

func TestSettings_RejectsInvalidValues(t *testing.T) {
	s := config.NewSettings(testutil.NewSQLiteStore(t))
	ctx := context.Background()

	assert.Error(t, s.Set(ctx, "backoff_base", "abc"))
	assert.Error(t, s.Set(ctx, "poll_interval", "0"))
	assert.Error(t, s.Set(ctx, "poll_interval", "-1"))
	assert.Error(t, s.Set(ctx, "max_workers", "4"))

	base, err := s.BackoffBase(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2.0, base, "rejected writes leave the setting unchanged")
}

func TestSettings_CorruptValueFallsBackToDefault(t *testing.T) {
	store := testutil.NewSQLiteStore(t)
	s := config.NewSettings(store)
	ctx := context.Background()

	require.NoError(t, store.SetSetting(ctx, "poll_interval", "soon"))

	poll, err := s.PollInterval(ctx)
	assert.Error(t, err)
	assert.Equal(t, config.DefaultPollInterval, poll)
}

func TestSettings_All(t *testing.T) {
	s := config.NewSettings(testutil.NewSQLiteStore(t))

	all, err := s.All(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"backoff_base": "2", "poll_interval": "1"}, all)
}

func TestSettings_PollIntervalIsClamped(t *testing.T) {
	s := config.NewSettings(testutil.NewSQLiteStore(t))
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "poll_interval", "1e10"))
	poll, err := s.PollInterval(ctx)
	require.NoError(t, err)
	assert.Equal(t, config.MaxPollInterval, poll, "huge values saturate instead of overflowing")

	require.NoError(t, s.Set(ctx, "poll_interval", "1e-12"))
	poll, err = s.PollInterval(ctx)
	require.NoError(t, err)
	assert.Equal(t, config.MinPollInterval, poll)
}

func TestSettings_BackoffBaseBelowOneRejected(t *testing.T) {
	store := testutil.NewSQLiteStore(t)
	s := config.NewSettings(store)
	ctx := context.Background()

	assert.Error(t, s.Set(ctx, "backoff_base", "1e-10"))
	assert.Error(t, s.Set(ctx, "backoff_base", "0.5"))
	require.NoError(t, s.Set(ctx, "backoff_base", "1"))

	// A value written behind the validator falls back to the default.
	require.NoError(t, store.SetSetting(ctx, "backoff_base", "0.000000001"))
	base, err := s.BackoffBase(ctx)
	assert.Error(t, err)
	assert.Equal(t, config.DefaultBackoffBase, base)
}
