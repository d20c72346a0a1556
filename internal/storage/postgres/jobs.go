package postgres

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/pranav1703/queuectl/internal/model"
	"github.com/pranav1703/queuectl/internal/retry"
	"github.com/pranav1703/queuectl/internal/storage"
)

const jobColumns = "id, command, state, attempts, max_retries, created_at, updated_at, next_attempt_at, output"

const selectEligibleSQL = `
SELECT id FROM jobs
WHERE state = $1 AND (next_attempt_at IS NULL OR next_attempt_at <= $2)
ORDER BY created_at ASC, id ASC
LIMIT 1`

const claimSQL = `
UPDATE jobs SET
	state = $1,
	updated_at = $2,
	next_attempt_at = NULL
WHERE id = $3 AND state = $4
RETURNING ` + jobColumns

func scanJob(row pgx.Row) (*model.Job, error) {
	var j model.Job
	if err := row.Scan(
		&j.ID,
		&j.Command,
		&j.State,
		&j.Attempts,
		&j.MaxRetries,
		&j.CreatedAt,
		&j.UpdatedAt,
		&j.NextAttemptAt,
		&j.Output,
	); err != nil {
		return nil, err
	}
	return &j, nil
}

// Enqueue inserts j as a pending job, stamping created_at and updated_at.
func (s *Store) Enqueue(ctx context.Context, j *model.Job) error {
	if j.ID == "" || j.Command == "" {
		return &model.ValidationError{Field: "id/command", Reason: "is required"}
	}
	now := s.now().UTC()
	j.State = model.StatePending
	j.CreatedAt = now
	j.UpdatedAt = now
	j.NextAttemptAt = nil

	_, err := s.pool.Exec(ctx, `INSERT INTO jobs (
		id, command, state, attempts, max_retries, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		j.ID, j.Command, j.State, j.Attempts, j.MaxRetries, now, now)
	if err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("enqueue job %s: %w", j.ID, storage.ErrDuplicateID)
		}
		return fmt.Errorf("enqueue job %s: %w", j.ID, err)
	}
	return nil
}

// ClaimNext selects the oldest eligible pending job and conditionally moves
// it to processing. A lost race moves on to the next candidate. Returns
// (nil, nil) when nothing is available.
func (s *Store) ClaimNext(ctx context.Context) (*model.Job, error) {
	for round := 0; round < maxClaimRounds; round++ {
		job, candidate, err := s.tryClaim(ctx)
		if err != nil {
			return nil, fmt.Errorf("claim job: %w", err)
		}
		if !candidate || job != nil {
			return job, nil
		}
		s.logger.Debug("claim race lost, trying next candidate", "round", round)
	}
	return nil, nil
}

func (s *Store) tryClaim(ctx context.Context) (job *model.Job, candidate bool, err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	now := s.now().UTC()

	var id string
	err = tx.QueryRow(ctx, selectEligibleSQL, model.StatePending, now).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	job, err = scanJob(tx.QueryRow(ctx, claimSQL, model.StateProcessing, now, id, model.StatePending))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, true, nil
	}
	if err != nil {
		return nil, true, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, true, err
	}
	return job, true, nil
}

// FinishSuccess marks the job completed without checking its current state.
func (s *Store) FinishSuccess(ctx context.Context, id, output string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET state = $1, output = $2, next_attempt_at = NULL, updated_at = $3 WHERE id = $4`,
		model.StateCompleted, output, s.now().UTC(), id)
	if err != nil {
		return fmt.Errorf("finish job %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("finish job %s: %w", id, storage.ErrNotFound)
	}
	return nil
}

// FinishFailure records a failed attempt on the claimed snapshot j.
func (s *Store) FinishFailure(ctx context.Context, j *model.Job, output string, backoffBase float64) (*model.Job, error) {
	now := s.now().UTC()
	out := retry.Next(j, backoffBase, now)

	ub := s.sb.Update("jobs").
		Set("state", out.State).
		Set("attempts", out.Attempts).
		Set("output", output).
		Set("updated_at", now).
		Where(sq.Eq{"id": j.ID}).
		Suffix("RETURNING " + jobColumns)
	if out.NextAttemptAt != nil {
		ub = ub.Set("next_attempt_at", out.NextAttemptAt.UTC())
	}

	query, args, err := ub.ToSql()
	if err != nil {
		return nil, fmt.Errorf("fail job %s: build query: %w", j.ID, err)
	}
	updated, err := scanJob(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("fail job %s: %w", j.ID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("fail job %s: %w", j.ID, err)
	}
	return updated, nil
}

// RetryDLQ resets a dead job to pending with zero attempts.
func (s *Store) RetryDLQ(ctx context.Context, id string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("retry dlq %s: %w", id, err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var state string
	err = tx.QueryRow(ctx, `SELECT state FROM jobs WHERE id = $1 FOR UPDATE`, id).Scan(&state)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("retry dlq %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("retry dlq %s: %w", id, err)
	}
	if state != model.StateDead {
		return fmt.Errorf("retry dlq %s (state %s): %w", id, state, storage.ErrNotInDLQ)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE jobs SET state = $1, attempts = 0, next_attempt_at = NULL, updated_at = $2
		WHERE id = $3 AND state = $4`,
		model.StatePending, s.now().UTC(), id, model.StateDead); err != nil {
		return fmt.Errorf("retry dlq %s: %w", id, err)
	}
	return tx.Commit(ctx)
}

// GetJob returns the job with the given id or storage.ErrNotFound.
func (s *Store) GetJob(ctx context.Context, id string) (*model.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("get job %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return j, nil
}
