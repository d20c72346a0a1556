// Package postgres implements storage.JobStore on PostgreSQL with pgx.
//
// The claim protocol is the same select-then-conditional-update used by the
// SQLite store. Under read committed, a concurrent claimer's UPDATE waits for
// the winner to commit, re-evaluates state = 'pending' and matches no row.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/pranav1703/queuectl/internal/storage"
	"github.com/pranav1703/queuectl/migrations"
)

var _ storage.JobStore = (*Store)(nil)

// maxClaimRounds bounds how many candidates ClaimNext tries after losing races.
const maxClaimRounds = 5

// uniqueViolation is the SQLSTATE for a unique constraint violation.
const uniqueViolation = "23505"

// Store is the PostgreSQL JobStore.
type Store struct {
	pool   *pgxpool.Pool
	sb     sq.StatementBuilderType
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for timestamps and eligibility.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// New wraps an existing pool. The caller is expected to have run Migrate.
// Close closes the pool.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{
		pool:   pool,
		sb:     sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open connects to databaseURL, applies pending migrations and returns the
// store. Connection attempts are retried with linear backoff while the server
// comes up.
func Open(ctx context.Context, databaseURL string, maxConns int32, opts ...Option) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = maxConns
	}

	var (
		pool    *pgxpool.Pool
		connErr error
	)
	for attempt := 1; attempt <= 5; attempt++ {
		pool, connErr = pgxpool.NewWithConfig(ctx, poolCfg)
		if connErr == nil {
			if connErr = pool.Ping(ctx); connErr == nil {
				break
			}
			pool.Close()
		}
		slog.Warn("database not ready, retrying", "attempt", attempt, "error", connErr)
		timer := time.NewTimer(time.Duration(attempt) * time.Second)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	if connErr != nil {
		return nil, fmt.Errorf("database unavailable after retries: %w", connErr)
	}
	if err := Migrate(ctx, databaseURL); err != nil {
		pool.Close()
		return nil, err
	}
	return New(pool, opts...), nil
}

// Migrate applies the embedded postgres migrations to databaseURL.
func Migrate(ctx context.Context, databaseURL string) error {
	src, err := iofs.New(migrations.FS, "postgres")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}

	connCfg, err := pgx.ParseConfig(databaseURL)
	if err != nil {
		return fmt.Errorf("parse db url: %w", err)
	}
	// Simple protocol lets the server run multi-statement migration files.
	connCfg.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	db := stdlib.OpenDB(*connCfg)
	defer db.Close() //nolint:errcheck

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("migration ping: %w", err)
	}

	driver, err := migratepg.WithInstance(db, &migratepg.Config{MultiStatementEnabled: true})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migrate init: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

// Pool returns the underlying pgx pool.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Close closes the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
