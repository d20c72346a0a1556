package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pranav1703/queuectl/internal/config"
	"github.com/pranav1703/queuectl/internal/model"
	"github.com/pranav1703/queuectl/internal/testutil"
)

func newTestApp(t *testing.T) *App {
	t.Helper()
	dir := t.TempDir()
	return &App{
		Config: &config.Config{DataDir: dir, MaxRetries: 3, RegistryPath: filepath.Join(dir, "workers.json")},
		Store:  testutil.NewSQLiteStore(t),
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func run(t *testing.T, app *App, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd(app)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestEnqueue(t *testing.T) {
	app := newTestApp(t)

	out, err := run(t, app, "enqueue", `{"id":"job1","command":"echo hi"}`)
	require.NoError(t, err)
	assert.Equal(t, "job1\n", out)

	j, err := app.Store.GetJob(context.Background(), "job1")
	require.NoError(t, err)
	assert.Equal(t, model.StatePending, j.State)
	assert.Equal(t, 3, j.MaxRetries, "max_retries defaults from config")

	_, err = run(t, app, "enqueue", `{"id":"job1","command":"echo again"}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestEnqueue_Invalid(t *testing.T) {
	app := newTestApp(t)

	_, err := run(t, app, "enqueue", `{"id":"job1"`)
	assert.ErrorContains(t, err, "invalid job JSON")

	_, err = run(t, app, "enqueue", `{"id":"job1"}`)
	var verr *model.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "command", verr.Field)

	_, err = run(t, app, "enqueue", `{"id":"job1","command":"true","max_retries":0}`)
	assert.ErrorAs(t, err, &verr)

	stats, err := app.Store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Pending)
}

func TestListAndStatus(t *testing.T) {
	app := newTestApp(t)
	for _, sub := range []string{
		`{"id":"a","command":"true"}`,
		`{"id":"b","command":"true","max_retries":5}`,
	} {
		_, err := run(t, app, "enqueue", sub)
		require.NoError(t, err)
	}

	out, err := run(t, app, "list", "--state", "pending")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)

	var j model.Job
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &j))
	assert.Equal(t, "b", j.ID)
	assert.Equal(t, 5, j.MaxRetries)

	out, err = run(t, app, "list", "--state", "completed")
	require.NoError(t, err)
	assert.Empty(t, out)

	_, err = run(t, app, "list", "--state", "running")
	assert.Error(t, err)

	out, err = run(t, app, "status")
	require.NoError(t, err)
	var stats model.Stats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, model.Stats{Pending: 2}, stats)
}

func TestDLQRetry(t *testing.T) {
	app := newTestApp(t)
	ctx := context.Background()

	_, err := run(t, app, "dlq", "retry", "missing")
	assert.ErrorContains(t, err, "not found")

	_, err = run(t, app, "enqueue", `{"id":"job1","command":"exit 1","max_retries":1}`)
	require.NoError(t, err)

	_, err = run(t, app, "dlq", "retry", "job1")
	assert.ErrorContains(t, err, "not in the DLQ")

	j, err := app.Store.ClaimNext(ctx)
	require.NoError(t, err)
	_, err = app.Store.FinishFailure(ctx, j, "boom", 2)
	require.NoError(t, err)

	out, err := run(t, app, "dlq", "list")
	require.NoError(t, err)
	assert.Contains(t, out, `"id":"job1"`)

	out, err = run(t, app, "dlq", "retry", "job1")
	require.NoError(t, err)
	assert.Equal(t, "OK\n", out)

	j, err = app.Store.GetJob(ctx, "job1")
	require.NoError(t, err)
	assert.Equal(t, model.StatePending, j.State)
	assert.Equal(t, 0, j.Attempts)
}

func TestConfigCommands(t *testing.T) {
	app := newTestApp(t)

	out, err := run(t, app, "config", "get", "backoff_base")
	require.NoError(t, err)
	assert.Equal(t, "2\n", out)

	_, err = run(t, app, "config", "set", "backoff-base", "3")
	require.NoError(t, err)

	out, err = run(t, app, "config", "get", "backoff-base")
	require.NoError(t, err)
	assert.Equal(t, "3\n", out)

	_, err = run(t, app, "config", "set", "poll_interval", "never")
	assert.Error(t, err)

	_, err = run(t, app, "config", "get", "max-workers")
	assert.ErrorContains(t, err, "unknown config key")

	out, err = run(t, app, "config", "show")
	require.NoError(t, err)
	var all map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &all))
	assert.Equal(t, map[string]string{"backoff_base": "3", "poll_interval": "1"}, all)
}

func TestWorkerStop_NoWorkers(t *testing.T) {
	app := newTestApp(t)

	out, err := run(t, app, "worker", "stop")
	require.NoError(t, err)
	assert.Equal(t, "No workers running\n", out)
}
