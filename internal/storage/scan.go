package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/pranav1703/queuectl/internal/model"
)

// jobColumns is the column order every job query selects and scanJob reads.
const jobColumns = "id, command, state, attempts, max_retries, created_at, updated_at, next_attempt_at, output"

// timeLayout is fixed width and always UTC, so stored timestamps order
// correctly as plain text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		// Rows written by other tools may use plain RFC 3339.
		return time.Parse(time.RFC3339Nano, s)
	}
	return t, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*model.Job, error) {
	var (
		j                    model.Job
		createdAt, updatedAt string
		nextAttemptAt        sql.NullString
		output               sql.NullString
	)
	if err := row.Scan(
		&j.ID,
		&j.Command,
		&j.State,
		&j.Attempts,
		&j.MaxRetries,
		&createdAt,
		&updatedAt,
		&nextAttemptAt,
		&output,
	); err != nil {
		return nil, err
	}

	var err error
	if j.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("job %s created_at: %w", j.ID, err)
	}
	if j.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("job %s updated_at: %w", j.ID, err)
	}
	if nextAttemptAt.Valid {
		t, err := parseTime(nextAttemptAt.String)
		if err != nil {
			return nil, fmt.Errorf("job %s next_attempt_at: %w", j.ID, err)
		}
		j.NextAttemptAt = &t
	}
	if output.Valid {
		j.Output = &output.String
	}
	return &j, nil
}

func scanJobs(rows *sql.Rows) ([]model.Job, error) {
	defer rows.Close() //nolint:errcheck

	var jobs []model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

// isBusy reports whether err is SQLite lock contention that outlasted the
// busy timeout.
func isBusy(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
	}
	return false
}

func isDuplicateKey(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
			se.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}
