// Package storage persists jobs and live settings. The JobStore interface is
// the only path through which job state changes; Store implements it on
// SQLite and the postgres subpackage on PostgreSQL.
//
// Claiming is optimistic: the oldest eligible job is selected and then moved
// to processing with an update conditioned on state = 'pending'. A zero-row
// update means another worker won and the claim moves on to the next
// candidate. No in-process lock is involved, so the guarantee holds across
// processes sharing one database.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/gofrs/flock"
	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"

	"github.com/pranav1703/queuectl/internal/model"
	"github.com/pranav1703/queuectl/migrations"
)

// JobStore is the transactional job lifecycle API shared by all backends.
type JobStore interface {
	// Enqueue inserts a new pending job. Returns ErrDuplicateID if the id exists.
	Enqueue(ctx context.Context, j *model.Job) error
	// ClaimNext moves the oldest eligible pending job to processing and
	// returns it, or (nil, nil) when no job is available.
	ClaimNext(ctx context.Context) (*model.Job, error)
	// FinishSuccess marks a job completed and stores its output.
	FinishSuccess(ctx context.Context, id, output string) error
	// FinishFailure records a failed attempt on the claimed snapshot j,
	// scheduling a retry or dead-lettering it. Returns the updated record.
	FinishFailure(ctx context.Context, j *model.Job, output string, backoffBase float64) (*model.Job, error)
	// RetryDLQ moves a dead job back to pending with its attempts reset.
	RetryDLQ(ctx context.Context, id string) error

	GetJob(ctx context.Context, id string) (*model.Job, error)
	ListJobs(ctx context.Context, state string) ([]model.Job, error)
	ListDLQ(ctx context.Context) ([]model.Job, error)
	Stats(ctx context.Context) (model.Stats, error)

	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, val string) error
	ListSettings(ctx context.Context) (map[string]string, error)

	Close() error
}

var _ JobStore = (*Store)(nil)

// maxClaimRounds bounds how many candidates ClaimNext tries after losing races.
const maxClaimRounds = 5

// Store is the SQLite JobStore.
type Store struct {
	db          *sql.DB
	sb          sq.StatementBuilderType
	now         func() time.Time
	logger      *slog.Logger
	busyTimeout time.Duration
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

// WithBusyTimeout sets how long a connection waits on a locked database.
func WithBusyTimeout(d time.Duration) Option {
	return func(s *Store) { s.busyTimeout = d }
}

// NewStore opens the SQLite database at dbPath in WAL mode and applies all
// pending migrations.
func NewStore(ctx context.Context, dbPath string, opts ...Option) (*Store, error) {
	s := &Store{
		sb:          sq.StatementBuilder.PlaceholderFormat(sq.Question),
		now:         time.Now,
		logger:      slog.Default(),
		busyTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}

	db, err := sql.Open("sqlite3", dsn(dbPath, s.busyTimeout))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	s.db = db

	if err := s.migrate(dbPath); err != nil {
		db.Close() //nolint:errcheck
		return nil, err
	}
	return s, nil
}

// dsn builds the go-sqlite3 connection string. _txlock=immediate makes every
// transaction take the write lock at BEGIN so claims serialize on the lock
// instead of failing at commit.
func dsn(path string, busyTimeout time.Duration) string {
	q := url.Values{}
	q.Set("_journal_mode", "WAL")
	q.Set("_busy_timeout", strconv.FormatInt(busyTimeout.Milliseconds(), 10))
	q.Set("_txlock", "immediate")
	return "file:" + path + "?" + q.Encode()
}

// migrate applies pending migrations while holding <dbPath>.lock. The
// sqlite3 migration driver only locks within one process, so the file lock
// serializes processes that open a new database at the same time.
func (s *Store) migrate(dbPath string) error {
	lock := flock.New(dbPath + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock for migration: %w", err)
	}
	defer lock.Unlock() //nolint:errcheck

	src, err := iofs.New(migrations.FS, "sqlite")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}
	driver, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("migrate init: %w", err)
	}
	// m.Close would close s.db through the driver; only the source is released.
	defer src.Close() //nolint:errcheck

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }
