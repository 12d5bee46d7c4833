package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"sync/atomic"
	"time"
)

// SQLDialect selects placeholder and upsert syntax.
type SQLDialect int

const (
	// DialectPostgreSQL uses $n placeholders. Use with github.com/lib/pq.
	DialectPostgreSQL SQLDialect = iota

	// DialectSQLite uses ? placeholders. Use with modernc.org/sqlite.
	DialectSQLite
)

// String returns the dialect name.
func (d SQLDialect) String() string {
	switch d {
	case DialectPostgreSQL:
		return "postgres"
	case DialectSQLite:
		return "sqlite"
	default:
		return "unknown"
	}
}

// SQLStore keeps sessions in a database/sql table:
//
//	CREATE TABLE mirror_sessions (
//	    id         VARCHAR(64) PRIMARY KEY,
//	    data       BYTEA NOT NULL,
//	    expires_at BIGINT NOT NULL   -- unix milliseconds
//	);
//
// Expiry is stored as unix milliseconds and compared against a parameter,
// so the same queries work for every dialect.
type SQLStore struct {
	db        *sql.DB
	tableName string
	dialect   SQLDialect
	ownsDB    bool
	logger    *slog.Logger

	closed    atomic.Bool
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// SQLStoreOption configures SQLStore behavior.
type SQLStoreOption func(*sqlStoreConfig)

type sqlStoreConfig struct {
	tableName       string
	dialect         SQLDialect
	cleanupInterval time.Duration
	logger          *slog.Logger
}

// WithSQLTableName sets the table name. Default: "mirror_sessions".
func WithSQLTableName(name string) SQLStoreOption {
	return func(c *sqlStoreConfig) {
		c.tableName = name
	}
}

// WithSQLDialect sets the dialect. Default: DialectPostgreSQL.
func WithSQLDialect(dialect SQLDialect) SQLStoreOption {
	return func(c *sqlStoreConfig) {
		c.dialect = dialect
	}
}

// WithSQLCleanupInterval sets how often expired sessions are deleted.
// Zero or negative disables the cleanup loop. Default: 5 minutes.
func WithSQLCleanupInterval(d time.Duration) SQLStoreOption {
	return func(c *sqlStoreConfig) {
		c.cleanupInterval = d
	}
}

// WithSQLLogger sets the logger for cleanup failures.
func WithSQLLogger(l *slog.Logger) SQLStoreOption {
	return func(c *sqlStoreConfig) {
		c.logger = l
	}
}

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// NewSQLStore creates a store on db. The table is not created; call
// CreateTable for that. Close does not close db.
func NewSQLStore(db *sql.DB, opts ...SQLStoreOption) (*SQLStore, error) {
	cfg := &sqlStoreConfig{
		tableName:       "mirror_sessions",
		dialect:         DialectPostgreSQL,
		cleanupInterval: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if !tableNamePattern.MatchString(cfg.tableName) {
		return nil, fmt.Errorf("session: invalid table name %q", cfg.tableName)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}

	s := &SQLStore{
		db:        db,
		tableName: cfg.tableName,
		dialect:   cfg.dialect,
		logger:    cfg.logger.With("component", "session_store", "dialect", cfg.dialect.String()),
		done:      make(chan struct{}),
	}
	if cfg.cleanupInterval > 0 {
		s.wg.Add(1)
		go s.cleanupLoop(cfg.cleanupInterval)
	}
	return s, nil
}

// placeholder returns the n-th placeholder for the dialect.
func (s *SQLStore) placeholder(n int) string {
	if s.dialect == DialectPostgreSQL {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}

// Save stores session data with an expiration time.
func (s *SQLStore) Save(ctx context.Context, sessionID string, data []byte, expiresAt time.Time) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}

	var query string
	switch s.dialect {
	case DialectPostgreSQL:
		query = fmt.Sprintf(`
			INSERT INTO %s (id, data, expires_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (id) DO UPDATE SET
				data = EXCLUDED.data,
				expires_at = EXCLUDED.expires_at
		`, s.tableName)
	case DialectSQLite:
		query = fmt.Sprintf(`
			INSERT OR REPLACE INTO %s (id, data, expires_at)
			VALUES (?, ?, ?)
		`, s.tableName)
	}

	_, err := s.db.ExecContext(ctx, query, sessionID, data, millis(expiresAt))
	return err
}

// Load retrieves session data if it exists and hasn't expired.
func (s *SQLStore) Load(ctx context.Context, sessionID string) ([]byte, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}

	query := fmt.Sprintf(`SELECT data FROM %s WHERE id = %s AND expires_at > %s`,
		s.tableName, s.placeholder(1), s.placeholder(2))

	var data []byte
	err := s.db.QueryRowContext(ctx, query, sessionID, millis(time.Now())).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Delete removes a session.
func (s *SQLStore) Delete(ctx context.Context, sessionID string) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}

	query := fmt.Sprintf(`DELETE FROM %s WHERE id = %s`, s.tableName, s.placeholder(1))
	_, err := s.db.ExecContext(ctx, query, sessionID)
	return err
}

// Touch updates the expiration time for a session.
func (s *SQLStore) Touch(ctx context.Context, sessionID string, expiresAt time.Time) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}

	query := fmt.Sprintf(`UPDATE %s SET expires_at = %s WHERE id = %s`,
		s.tableName, s.placeholder(1), s.placeholder(2))
	_, err := s.db.ExecContext(ctx, query, millis(expiresAt), sessionID)
	return err
}

// Close stops the cleanup loop. The database is closed only when the store
// opened it itself (see Open).
func (s *SQLStore) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.done)
		s.wg.Wait()
		if s.ownsDB {
			err = s.db.Close()
		}
	})
	return err
}

func (s *SQLStore) cleanupLoop(interval time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if _, err := s.DeleteExpired(ctx); err != nil {
				s.logger.Warn("session cleanup failed", "error", err)
			}
			cancel()
		case <-s.done:
			return
		}
	}
}

// DeleteExpired removes expired sessions and returns how many were deleted.
func (s *SQLStore) DeleteExpired(ctx context.Context) (int64, error) {
	if s.closed.Load() {
		return 0, ErrStoreClosed
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE expires_at <= %s`, s.tableName, s.placeholder(1))
	res, err := s.db.ExecContext(ctx, query, millis(time.Now()))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CreateTable creates the session table and its expiry index if they don't
// exist.
func (s *SQLStore) CreateTable(ctx context.Context) error {
	var query string
	switch s.dialect {
	case DialectPostgreSQL:
		query = fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id VARCHAR(64) PRIMARY KEY,
				data BYTEA NOT NULL,
				expires_at BIGINT NOT NULL
			)
		`, s.tableName)
	case DialectSQLite:
		query = fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id TEXT PRIMARY KEY,
				data BLOB NOT NULL,
				expires_at INTEGER NOT NULL
			)
		`, s.tableName)
	}
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("session: create table: %w", err)
	}

	index := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_expires ON %s(expires_at)`, s.tableName, s.tableName)
	if _, err := s.db.ExecContext(ctx, index); err != nil {
		return fmt.Errorf("session: create index: %w", err)
	}
	return nil
}
