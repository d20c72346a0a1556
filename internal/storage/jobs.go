package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/pranav1703/queuectl/internal/model"
	"github.com/pranav1703/queuectl/internal/retry"
)

const selectEligibleSQL = `
SELECT id FROM jobs
WHERE state = ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
ORDER BY created_at ASC, id ASC
LIMIT 1`

const claimSQL = `
UPDATE jobs SET
	state = ?,
	updated_at = ?,
	next_attempt_at = NULL
WHERE id = ? AND state = ?
RETURNING ` + jobColumns

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

	statement := `INSERT INTO jobs (
		id, command, state, attempts, max_retries, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, statement,
		j.ID, j.Command, j.State, j.Attempts, j.MaxRetries, formatTime(now), formatTime(now))
	if err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("enqueue job %s: %w", j.ID, ErrDuplicateID)
		}
		return fmt.Errorf("enqueue job %s: %w", j.ID, err)
	}
	return nil
}

// ClaimNext selects the oldest eligible pending job and moves it to
// processing with a conditional update. If the update matches no row another
// claimer got there first and the next candidate is tried. Returns (nil, nil)
// when nothing is available.
func (s *Store) ClaimNext(ctx context.Context) (*model.Job, error) {
	for round := 0; round < maxClaimRounds; round++ {
		job, candidate, err := s.tryClaim(ctx)
		if err != nil {
			if isBusy(err) {
				return nil, nil // lost the lock, try again next poll
			}
			return nil, fmt.Errorf("claim job: %w", err)
		}
		if !candidate || job != nil {
			return job, nil
		}
		s.logger.Debug("claim race lost, trying next candidate", "round", round)
	}
	return nil, nil
}

// tryClaim attempts one select-then-update. candidate is false when no job
// was eligible; a nil job with candidate true means the race was lost.
func (s *Store) tryClaim(ctx context.Context) (job *model.Job, candidate bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback() //nolint:errcheck

	now := formatTime(s.now())

	var id string
	err = tx.QueryRowContext(ctx, selectEligibleSQL, model.StatePending, now).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	job, err = scanJob(tx.QueryRowContext(ctx, claimSQL,
		model.StateProcessing, now, id, model.StatePending))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, true, nil
	}
	if err != nil {
		return nil, true, err
	}
	if err := tx.Commit(); err != nil {
		return nil, true, err
	}
	return job, true, nil
}

// FinishSuccess marks the job completed. It does not check that the job is
// processing, so repeating the call is harmless.
func (s *Store) FinishSuccess(ctx context.Context, id, output string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET state = ?, output = ?, next_attempt_at = NULL, updated_at = ? WHERE id = ?`,
		model.StateCompleted, output, formatTime(s.now()), id)
	if err != nil {
		return fmt.Errorf("finish job %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 { //nolint:errcheck
		return fmt.Errorf("finish job %s: %w", id, ErrNotFound)
	}
	return nil
}

// FinishFailure increments attempts on the claimed snapshot j and either
// schedules a retry at now + backoffBase^attempts seconds or dead-letters it.
func (s *Store) FinishFailure(ctx context.Context, j *model.Job, output string, backoffBase float64) (*model.Job, error) {
	now := s.now()
	out := retry.Next(j, backoffBase, now)

	ub := s.sb.Update("jobs").
		Set("state", out.State).
		Set("attempts", out.Attempts).
		Set("output", output).
		Set("updated_at", formatTime(now)).
		Where(sq.Eq{"id": j.ID}).
		Suffix("RETURNING " + jobColumns)
	if out.NextAttemptAt != nil {
		ub = ub.Set("next_attempt_at", formatTime(*out.NextAttemptAt))
	}

	query, args, err := ub.ToSql()
	if err != nil {
		return nil, fmt.Errorf("fail job %s: build query: %w", j.ID, err)
	}
	updated, err := scanJob(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("fail job %s: %w", j.ID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("fail job %s: %w", j.ID, err)
	}
	return updated, nil
}

// RetryDLQ resets a dead job to pending with zero attempts.
func (s *Store) RetryDLQ(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("retry dlq %s: %w", id, err)
	}
	defer tx.Rollback() //nolint:errcheck

	var state string
	err = tx.QueryRowContext(ctx, `SELECT state FROM jobs WHERE id = ?`, id).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("retry dlq %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("retry dlq %s: %w", id, err)
	}
	if state != model.StateDead {
		return fmt.Errorf("retry dlq %s (state %s): %w", id, state, ErrNotInDLQ)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE jobs SET state = ?, attempts = 0, next_attempt_at = NULL, updated_at = ?
		WHERE id = ? AND state = ?`,
		model.StatePending, formatTime(s.now()), id, model.StateDead)
	if err != nil {
		return fmt.Errorf("retry dlq %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 { //nolint:errcheck
		return fmt.Errorf("retry dlq %s: %w", id, ErrNotInDLQ)
	}
	return tx.Commit()
}

// GetJob returns the job with the given id or ErrNotFound.
func (s *Store) GetJob(ctx context.Context, id string) (*model.Job, error) {
	j, err := scanJob(s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return j, nil
}
