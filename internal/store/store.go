package store

import (
	"database/sql"
	_ "embed"
	"fmt"
	"io"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// migration upgrades a replica from version-1 to version. schema.sql
// already contains every migration's result, so each step must be a no-op
// on a fresh database.
type migration struct {
	version int
	name    string
	stmt    string
}

var migrations = []migration{
	{
		version: 1,
		name:    "sibling-order index",
		stmt:    `CREATE INDEX IF NOT EXISTS idx_nodes_parent ON nodes(parent_id, idx)`,
	},
}

// currentSchemaVersion is the PRAGMA user_version of an up-to-date replica.
var currentSchemaVersion = migrations[len(migrations)-1].version

// Store is the local replica: nodes, the mutation outbox, rejected
// mutations and pull cursors in one SQLite database.
//
// The database runs in WAL mode behind a single connection, so every
// write is serialized.
type Store struct {
	ops
	db     *sql.DB
	logger *slog.Logger
}

// Option configures Open.
type Option func(*openConfig)

type openConfig struct {
	logger      *slog.Logger
	busyTimeout time.Duration
}

// WithLogger sets the logger used for migrations.
func WithLogger(l *slog.Logger) Option {
	return func(c *openConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithBusyTimeout sets how long a statement waits on a locked database.
func WithBusyTimeout(d time.Duration) Option {
	return func(c *openConfig) {
		if d > 0 {
			c.busyTimeout = d
		}
	}
}

// Open creates or opens the replica at path and brings its schema up to
// date. ":memory:" opens a throwaway replica.
func Open(path string, opts ...Option) (*Store, error) {
	cfg := openConfig{
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		busyTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: SQLite has a single writer, and an in-memory
	// database exists only on the connection that created it.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{ops: ops{q: db}, db: db, logger: cfg.logger}
	if err := s.init(cfg); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init(cfg openConfig) error {
	if err := s.db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.busyTimeout.Milliseconds()),
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("failed to apply pragmas: %q: %w", p, err)
		}
	}

	if _, err := s.db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	if err := s.migrate(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// migrate applies every migration newer than the stored user_version.
func (s *Store) migrate() error {
	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= version {
			continue
		}
		if _, err := s.db.Exec(m.stmt); err != nil {
			return fmt.Errorf("migrate to v%d (%s): %w", m.version, m.name, err)
		}
		s.logger.Info("replica migrated", "version", m.version, "migration", m.name)
	}

	if version == currentSchemaVersion {
		return nil
	}
	// PRAGMA does not take bound parameters.
	if _, err := s.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying database for tests and diagnostics.
func (s *Store) DB() *sql.DB {
	return s.db
}

// verifyPragma checks that a pragma is set to the expected value.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	if err := s.db.QueryRow("PRAGMA " + name).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
