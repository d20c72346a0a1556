package storage

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/pranav1703/queuectl/internal/model"
)

// ListJobs returns jobs ordered by created_at, filtered by state unless state
// is empty.
func (s *Store) ListJobs(ctx context.Context, state string) ([]model.Job, error) {
	sb := s.sb.Select(jobColumns).From("jobs").OrderBy("created_at ASC", "id ASC")
	if state != "" {
		sb = sb.Where(sq.Eq{"state": state})
	}
	return s.queryJobs(ctx, sb, "list jobs")
}

// ListDLQ returns dead jobs ordered by the time they were dead-lettered.
func (s *Store) ListDLQ(ctx context.Context) ([]model.Job, error) {
	sb := s.sb.Select(jobColumns).From("jobs").
		Where(sq.Eq{"state": model.StateDead}).
		OrderBy("updated_at ASC", "id ASC")
	return s.queryJobs(ctx, sb, "list dlq")
}

func (s *Store) queryJobs(ctx context.Context, sb sq.SelectBuilder, op string) ([]model.Job, error) {
	query, args, err := sb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: build query: %w", op, err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	jobs, err := scanJobs(rows)
	if err != nil {
		return nil, fmt.Errorf("%s: scan: %w", op, err)
	}
	return jobs, nil
}

// Stats counts jobs per state. active_workers is the processing count.
func (s *Store) Stats(ctx context.Context) (model.Stats, error) {
	var stats model.Stats

	query, args, err := s.sb.Select("state", "COUNT(*)").From("jobs").GroupBy("state").ToSql()
	if err != nil {
		return stats, fmt.Errorf("job stats: build query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return stats, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	for rows.Next() {
		var (
			state string
			count int
		)
		if err := rows.Scan(&state, &count); err != nil {
			return stats, fmt.Errorf("job stats: scan: %w", err)
		}
		stats.Add(state, count)
	}
	return stats, rows.Err()
}
