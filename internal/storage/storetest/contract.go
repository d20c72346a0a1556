// Package storetest holds the behavioural contract every storage.JobStore
// implementation must satisfy. Backend test files call Run with a
// constructor for their store.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pranav1703/queuectl/internal/model"
	"github.com/pranav1703/queuectl/internal/storage"
	"github.com/pranav1703/queuectl/internal/testutil"
)

// Factory opens an empty, migrated store whose time source is clock.Now.
type Factory func(t *testing.T, clock *testutil.Clock) storage.JobStore

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// Run executes the contract against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, newStore Factory)
	}{
		{"EnqueueDefaults", testEnqueueDefaults},
		{"EnqueueDuplicate", testEnqueueDuplicate},
		{"ClaimEmpty", testClaimEmpty},
		{"ClaimOldestFirst", testClaimOldestFirst},
		{"ClaimSkipsFutureRetry", testClaimSkipsFutureRetry},
		{"ClaimConcurrentSingleJob", testClaimConcurrentSingleJob},
		{"ClaimConcurrentManyJobs", testClaimConcurrentManyJobs},
		{"FinishSuccess", testFinishSuccess},
		{"FinishFailureSchedulesRetry", testFinishFailureSchedulesRetry},
		{"FinishFailureDeadLetters", testFinishFailureDeadLetters},
		{"FinishFailureUsesSnapshot", testFinishFailureUsesSnapshot},
		{"RetryDLQ", testRetryDLQ},
		{"RetryDLQErrors", testRetryDLQErrors},
		{"ListAndStats", testListAndStats},
		{"Settings", testSettings},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore)
		})
	}
}

func enqueue(t *testing.T, s storage.JobStore, id, command string, maxRetries int) *model.Job {
	t.Helper()
	j := &model.Job{ID: id, Command: command, MaxRetries: maxRetries}
	require.NoError(t, s.Enqueue(context.Background(), j), "Enqueue(%s)", id)
	return j
}

func claim(t *testing.T, s storage.JobStore) *model.Job {
	t.Helper()
	j, err := s.ClaimNext(context.Background())
	require.NoError(t, err)
	require.NotNil(t, j, "ClaimNext returned no job")
	return j
}

func testEnqueueDefaults(t *testing.T, newStore Factory) {
	clock := testutil.NewClock(epoch)
	s := newStore(t, clock)
	ctx := context.Background()

	enqueue(t, s, "job1", "echo hi", 3)

	got, err := s.GetJob(ctx, "job1")
	require.NoError(t, err)
	assert.Equal(t, model.StatePending, got.State)
	assert.Equal(t, 0, got.Attempts)
	assert.Equal(t, 3, got.MaxRetries)
	assert.True(t, got.CreatedAt.Equal(epoch), "created_at = %v", got.CreatedAt)
	assert.True(t, got.UpdatedAt.Equal(epoch), "updated_at = %v", got.UpdatedAt)
	assert.Nil(t, got.NextAttemptAt)
	assert.Nil(t, got.Output)
}

func testEnqueueDuplicate(t *testing.T, newStore Factory) {
	clock := testutil.NewClock(epoch)
	s := newStore(t, clock)
	ctx := context.Background()

	enqueue(t, s, "dup", "echo original", 3)
	clock.Advance(time.Second)

	err := s.Enqueue(ctx, &model.Job{ID: "dup", Command: "echo other", MaxRetries: 5})
	require.ErrorIs(t, err, storage.ErrDuplicateID)

	got, err := s.GetJob(ctx, "dup")
	require.NoError(t, err)
	assert.Equal(t, "echo original", got.Command)
	assert.Equal(t, 3, got.MaxRetries)
	assert.True(t, got.CreatedAt.Equal(epoch))
}

func testClaimEmpty(t *testing.T, newStore Factory) {
	s := newStore(t, testutil.NewClock(epoch))

	j, err := s.ClaimNext(context.Background())
	require.NoError(t, err)
	assert.Nil(t, j)
}

func testClaimOldestFirst(t *testing.T, newStore Factory) {
	clock := testutil.NewClock(epoch)
	s := newStore(t, clock)

	enqueue(t, s, "b-older", "true", 3)
	clock.Advance(time.Second)
	enqueue(t, s, "a-newer", "true", 3)

	first := claim(t, s)
	assert.Equal(t, "b-older", first.ID)
	assert.Equal(t, model.StateProcessing, first.State)

	second := claim(t, s)
	assert.Equal(t, "a-newer", second.ID)

	j, err := s.ClaimNext(context.Background())
	require.NoError(t, err)
	assert.Nil(t, j)
}

func testClaimSkipsFutureRetry(t *testing.T, newStore Factory) {
	clock := testutil.NewClock(epoch)
	s := newStore(t, clock)
	ctx := context.Background()

	enqueue(t, s, "old", "false", 3)
	clock.Advance(time.Second)
	enqueue(t, s, "new", "true", 3)

	old := claim(t, s)
	_, err := s.FinishFailure(ctx, old, "boom", 2) // retry in 2s
	require.NoError(t, err)

	got := claim(t, s)
	assert.Equal(t, "new", got.ID, "older job with future next_attempt_at must be skipped")

	clock.Advance(3 * time.Second)
	retried := claim(t, s)
	assert.Equal(t, "old", retried.ID)
	assert.Nil(t, retried.NextAttemptAt, "next_attempt_at is cleared on claim")
	assert.True(t, retried.UpdatedAt.Equal(clock.Now()))
}

func testClaimConcurrentSingleJob(t *testing.T, newStore Factory) {
	s := newStore(t, testutil.NewClock(epoch))
	enqueue(t, s, "only", "true", 3)

	const callers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
		errs    []error
	)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			j, err := s.ClaimNext(context.Background())
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if j != nil {
				winners = append(winners, j.ID)
			}
		}()
	}
	wg.Wait()

	assert.Empty(t, errs)
	assert.Equal(t, []string{"only"}, winners)
}

func testClaimConcurrentManyJobs(t *testing.T, newStore Factory) {
	clock := testutil.NewClock(epoch)
	s := newStore(t, clock)

	const jobs = 20
	for i := range jobs {
		enqueue(t, s, fmt.Sprintf("job-%02d", i), "true", 3)
		clock.Advance(time.Millisecond)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		claimed = make(map[string]int)
	)
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				j, err := s.ClaimNext(context.Background())
				if err != nil {
					t.Errorf("ClaimNext: %v", err)
					return
				}
				if j == nil {
					return
				}
				mu.Lock()
				claimed[j.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// A busy database may end a worker's run early, so drain what is left.
	for {
		j, err := s.ClaimNext(context.Background())
		require.NoError(t, err)
		if j == nil {
			break
		}
		claimed[j.ID]++
	}

	assert.Len(t, claimed, jobs)
	for id, n := range claimed {
		assert.Equal(t, 1, n, "job %s claimed %d times", id, n)
	}
}

func testFinishSuccess(t *testing.T, newStore Factory) {
	clock := testutil.NewClock(epoch)
	s := newStore(t, clock)
	ctx := context.Background()

	enqueue(t, s, "ok", "echo hi", 3)
	j := claim(t, s)
	clock.Advance(time.Second)

	require.NoError(t, s.FinishSuccess(ctx, j.ID, "hi"))
	require.NoError(t, s.FinishSuccess(ctx, j.ID, "hi"), "repeat is harmless")

	got, err := s.GetJob(ctx, "ok")
	require.NoError(t, err)
	assert.Equal(t, model.StateCompleted, got.State)
	assert.Equal(t, "hi", got.OutputText())
	assert.True(t, got.UpdatedAt.Equal(clock.Now()))

	require.ErrorIs(t, s.FinishSuccess(ctx, "missing", ""), storage.ErrNotFound)
}

func testFinishFailureSchedulesRetry(t *testing.T, newStore Factory) {
	clock := testutil.NewClock(epoch)
	s := newStore(t, clock)
	ctx := context.Background()

	require.NoError(t, s.Enqueue(ctx, &model.Job{ID: "r", Command: "false", Attempts: 1, MaxRetries: 3}))
	j := claim(t, s)
	require.Equal(t, 1, j.Attempts)

	got, err := s.FinishFailure(ctx, j, "exit 1", 2)
	require.NoError(t, err)

	assert.Equal(t, 2, got.Attempts)
	assert.Equal(t, model.StatePending, got.State)
	require.NotNil(t, got.NextAttemptAt)
	assert.True(t, got.NextAttemptAt.Equal(clock.Now().Add(4*time.Second)),
		"next_attempt_at = %v, want now+4s", got.NextAttemptAt)
	assert.Equal(t, "exit 1", got.OutputText())
}

func testFinishFailureDeadLetters(t *testing.T, newStore Factory) {
	clock := testutil.NewClock(epoch)
	s := newStore(t, clock)
	ctx := context.Background()

	require.NoError(t, s.Enqueue(ctx, &model.Job{ID: "d", Command: "false", Attempts: 2, MaxRetries: 3}))
	j := claim(t, s)

	got, err := s.FinishFailure(ctx, j, "still failing", 2)
	require.NoError(t, err)

	assert.Equal(t, 3, got.Attempts)
	assert.Equal(t, model.StateDead, got.State)
	assert.Equal(t, "still failing", got.OutputText())

	next, err := s.ClaimNext(ctx)
	require.NoError(t, err)
	assert.Nil(t, next, "dead jobs are never claimed")
}

func testFinishFailureUsesSnapshot(t *testing.T, newStore Factory) {
	s := newStore(t, testutil.NewClock(epoch))
	ctx := context.Background()

	enqueue(t, s, "snap", "false", 5)
	j := claim(t, s)

	snapshot := *j
	snapshot.Attempts = 3 // caller-supplied record decides the count

	got, err := s.FinishFailure(ctx, &snapshot, "", 2)
	require.NoError(t, err)
	assert.Equal(t, 4, got.Attempts)
}

func testRetryDLQ(t *testing.T, newStore Factory) {
	clock := testutil.NewClock(epoch)
	s := newStore(t, clock)
	ctx := context.Background()

	enqueue(t, s, "dl", "false", 1)
	j := claim(t, s)
	dead, err := s.FinishFailure(ctx, j, "nope", 2)
	require.NoError(t, err)
	require.Equal(t, model.StateDead, dead.State)

	require.NoError(t, s.RetryDLQ(ctx, "dl"))

	got, err := s.GetJob(ctx, "dl")
	require.NoError(t, err)
	assert.Equal(t, model.StatePending, got.State)
	assert.Equal(t, 0, got.Attempts)
	assert.Nil(t, got.NextAttemptAt)

	again := claim(t, s)
	assert.Equal(t, "dl", again.ID)
}

func testRetryDLQErrors(t *testing.T, newStore Factory) {
	s := newStore(t, testutil.NewClock(epoch))
	ctx := context.Background()

	require.ErrorIs(t, s.RetryDLQ(ctx, "absent"), storage.ErrNotFound)

	enqueue(t, s, "done", "true", 3)
	j := claim(t, s)
	require.NoError(t, s.FinishSuccess(ctx, j.ID, ""))
	require.ErrorIs(t, s.RetryDLQ(ctx, "done"), storage.ErrNotInDLQ)

	enqueue(t, s, "waiting", "true", 3)
	require.ErrorIs(t, s.RetryDLQ(ctx, "waiting"), storage.ErrNotInDLQ)
}

func testListAndStats(t *testing.T, newStore Factory) {
	clock := testutil.NewClock(epoch)
	s := newStore(t, clock)
	ctx := context.Background()

	for _, id := range []string{"s1", "s2", "s3", "s4"} {
		enqueue(t, s, id, "true", 1)
		clock.Advance(time.Second)
	}
	j1 := claim(t, s) // s1
	require.NoError(t, s.FinishSuccess(ctx, j1.ID, "ok"))
	j2 := claim(t, s) // s2
	_, err := s.FinishFailure(ctx, j2, "bad", 2)
	require.NoError(t, err)
	claim(t, s) // s3 stays processing

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.Stats{
		Pending: 1, Processing: 1, Completed: 1, Failed: 0, Dead: 1, ActiveWorkers: 1,
	}, stats)

	all, err := s.ListJobs(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "s1", all[0].ID)
	assert.Equal(t, "s4", all[3].ID)

	pending, err := s.ListJobs(ctx, model.StatePending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "s4", pending[0].ID)

	dlq, err := s.ListDLQ(ctx)
	require.NoError(t, err)
	require.Len(t, dlq, 1)
	assert.Equal(t, "s2", dlq[0].ID)
}

func testSettings(t *testing.T, newStore Factory) {
	s := newStore(t, testutil.NewClock(epoch))
	ctx := context.Background()

	val, ok, err := s.GetSetting(ctx, "backoff_base")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "2", val)

	val, ok, err = s.GetSetting(ctx, "poll_interval")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "1", val)

	require.NoError(t, s.SetSetting(ctx, "backoff_base", "3"))
	val, _, err = s.GetSetting(ctx, "backoff_base")
	require.NoError(t, err)
	assert.Equal(t, "3", val)

	_, ok, err = s.GetSetting(ctx, "unknown")
	require.NoError(t, err)
	assert.False(t, ok)

	all, err := s.ListSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"backoff_base": "3", "poll_interval": "1"}, all)
}
