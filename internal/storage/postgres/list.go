package postgres

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

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

// ListDLQ returns dead jobs ordered by updated_at.
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
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	jobs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Job, error) {
		j, err := scanJob(row)
		if err != nil {
			return model.Job{}, err
		}
		return *j, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: scan: %w", op, err)
	}
	return jobs, nil
}

// Stats counts jobs per state.
func (s *Store) Stats(ctx context.Context) (model.Stats, error) {
	var stats model.Stats

	query, args, err := s.sb.Select("state", "COUNT(*)").From("jobs").GroupBy("state").ToSql()
	if err != nil {
		return stats, fmt.Errorf("job stats: build query: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return stats, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

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

// GetSetting returns the stored value for key and whether it exists.
func (s *Store) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var val string
	err := s.pool.QueryRow(ctx, `SELECT val FROM settings WHERE key = $1`, key).Scan(&val)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get setting %s: %w", key, err)
	}
	return val, true, nil
}

// SetSetting stores val under key.
func (s *Store) SetSetting(ctx context.Context, key, val string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO settings (key, val) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET val = EXCLUDED.val`, key, val)
	if err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	return nil
}

// ListSettings returns every stored setting.
func (s *Store) ListSettings(ctx context.Context) (map[string]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT key, val FROM settings ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	defer rows.Close()

	settings := make(map[string]string)
	for rows.Next() {
		var key, val string
		if err := rows.Scan(&key, &val); err != nil {
			return nil, fmt.Errorf("list settings: scan: %w", err)
		}
		settings[key] = val
	}
	return settings, rows.Err()
}
