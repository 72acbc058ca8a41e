// Package sqlstore persists quota counters in a relational table with a
// version column for optimistic concurrency. One implementation serves
// PostgreSQL, MySQL and SQLite; only the statement text differs.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"nova/internal/ratelimit/config"
	"nova/internal/ratelimit/models"
	"nova/pkg/platform/sentinel"
)

// Dialect selects statement syntax.
type Dialect string

const (
	Postgres Dialect = "postgres"
	MySQL    Dialect = "mysql"
	SQLite   Dialect = "sqlite"
)

func (d Dialect) IsValid() bool {
	return d == Postgres || d == MySQL || d == SQLite
}

// statements holds the dialect-specific SQL, built once at construction.
type statements struct {
	create string
	get    string
	insert string
	update string
	delete string
	sweep  string
}

func buildStatements(d Dialect) statements {
	switch d {
	case Postgres:
		return statements{
			create: `CREATE TABLE IF NOT EXISTS rate_limit_entries (
				rate_key        TEXT PRIMARY KEY,
				count           INTEGER NOT NULL,
				window_reset_at BIGINT NOT NULL,
				expires_at      BIGINT NOT NULL,
				version         BIGINT NOT NULL
			)`,
			get: `SELECT count, window_reset_at, version FROM rate_limit_entries WHERE rate_key = $1`,
			insert: `INSERT INTO rate_limit_entries (rate_key, count, window_reset_at, expires_at, version)
				VALUES ($1, $2, $3, $4, 1)
				ON CONFLICT (rate_key) DO NOTHING`,
			update: `UPDATE rate_limit_entries
				SET count = $1, window_reset_at = $2, expires_at = $3, version = version + 1
				WHERE rate_key = $4 AND version = $5`,
			delete: `DELETE FROM rate_limit_entries WHERE rate_key = $1`,
			sweep:  `DELETE FROM rate_limit_entries WHERE expires_at <= $1`,
		}
	case MySQL:
		return statements{
			create: `CREATE TABLE IF NOT EXISTS rate_limit_entries (
				rate_key        VARCHAR(512) NOT NULL PRIMARY KEY,
				count           INT NOT NULL,
				window_reset_at BIGINT NOT NULL,
				expires_at      BIGINT NOT NULL,
				version         BIGINT NOT NULL,
				INDEX idx_rate_limit_entries_expires_at (expires_at)
			)`,
			get: `SELECT count, window_reset_at, version FROM rate_limit_entries WHERE rate_key = ?`,
			insert: `INSERT IGNORE INTO rate_limit_entries (rate_key, count, window_reset_at, expires_at, version)
				VALUES (?, ?, ?, ?, 1)`,
			update: `UPDATE rate_limit_entries
				SET count = ?, window_reset_at = ?, expires_at = ?, version = version + 1
				WHERE rate_key = ? AND version = ?`,
			delete: `DELETE FROM rate_limit_entries WHERE rate_key = ?`,
			sweep:  `DELETE FROM rate_limit_entries WHERE expires_at <= ?`,
		}
	default:
		return statements{
			create: `CREATE TABLE IF NOT EXISTS rate_limit_entries (
				rate_key        TEXT PRIMARY KEY,
				count           INTEGER NOT NULL,
				window_reset_at INTEGER NOT NULL,
				expires_at      INTEGER NOT NULL,
				version         INTEGER NOT NULL
			)`,
			get: `SELECT count, window_reset_at, version FROM rate_limit_entries WHERE rate_key = ?`,
			insert: `INSERT INTO rate_limit_entries (rate_key, count, window_reset_at, expires_at, version)
				VALUES (?, ?, ?, ?, 1)
				ON CONFLICT (rate_key) DO NOTHING`,
			update: `UPDATE rate_limit_entries
				SET count = ?, window_reset_at = ?, expires_at = ?, version = version + 1
				WHERE rate_key = ? AND version = ?`,
			delete: `DELETE FROM rate_limit_entries WHERE rate_key = ?`,
			sweep:  `DELETE FROM rate_limit_entries WHERE expires_at <= ?`,
		}
	}
}

// SQLQuotaStore implements ports.QuotaStore and ports.Sweepable.
// This store is pure I/O; the window decision belongs to the service.
type SQLQuotaStore struct {
	db      *sql.DB
	dialect Dialect
	stmts   statements
	grace   time.Duration
}

type Option func(*SQLQuotaStore)

// WithGrace sets the retention past window reset used for sweeping.
func WithGrace(grace time.Duration) Option {
	return func(s *SQLQuotaStore) {
		s.grace = grace
	}
}

func New(db *sql.DB, dialect Dialect, opts ...Option) (*SQLQuotaStore, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	if !dialect.IsValid() {
		return nil, fmt.Errorf("unsupported sql dialect %q", dialect)
	}
	s := &SQLQuotaStore{
		db:      db,
		dialect: dialect,
		stmts:   buildStatements(dialect),
		grace:   config.DefaultGrace,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Migrate creates the counters table if it does not exist.
func (s *SQLQuotaStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, s.stmts.create); err != nil {
		return fmt.Errorf("create rate_limit_entries: %w", err)
	}
	if s.dialect != MySQL {
		_, err := s.db.ExecContext(ctx,
			`CREATE INDEX IF NOT EXISTS idx_rate_limit_entries_expires_at ON rate_limit_entries (expires_at)`)
		if err != nil {
			return fmt.Errorf("create rate_limit_entries index: %w", err)
		}
	}
	return nil
}

func (s *SQLQuotaStore) Get(ctx context.Context, key string) (*models.VersionedEntry, error) {
	var (
		count   int
		resetMs int64
		version int64
	)
	err := s.db.QueryRowContext(ctx, s.stmts.get, key).Scan(&count, &resetMs, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("get rate limit entry", err)
	}
	return &models.VersionedEntry{
		Entry: models.RateLimitEntry{
			Count:         count,
			WindowResetAt: time.UnixMilli(resetMs),
		},
		Version: version,
	}, nil
}

// CompareAndSwap inserts when expectedVersion is 0 and otherwise updates the
// row only while its version still matches. Retention is derived from the
// entry (window reset plus grace) so sweeping agrees with the ttl callers pass.
func (s *SQLQuotaStore) CompareAndSwap(ctx context.Context, key string, expectedVersion int64, entry models.RateLimitEntry, _ time.Duration) (bool, error) {
	resetMs := entry.WindowResetAt.UnixMilli()
	expiresMs := entry.WindowResetAt.Add(s.grace).UnixMilli()

	var (
		res sql.Result
		err error
	)
	if expectedVersion == 0 {
		res, err = s.db.ExecContext(ctx, s.stmts.insert, key, entry.Count, resetMs, expiresMs)
	} else {
		res, err = s.db.ExecContext(ctx, s.stmts.update, entry.Count, resetMs, expiresMs, key, expectedVersion)
	}
	if err != nil {
		return false, unavailable("write rate limit entry", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, unavailable("write rate limit entry", err)
	}
	return affected == 1, nil
}

func (s *SQLQuotaStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, s.stmts.delete, key); err != nil {
		return unavailable("delete rate limit entry", err)
	}
	return nil
}

func (s *SQLQuotaStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, s.stmts.sweep, now.UnixMilli())
	if err != nil {
		return 0, unavailable("sweep rate limit entries", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, unavailable("sweep rate limit entries", err)
	}
	return int(n), nil
}

func (s *SQLQuotaStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, sentinel.ErrUnavailable, err)
}
