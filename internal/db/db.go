package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aimi/goalgraph/internal/config"
	_ "modernc.org/sqlite"
)

// CurrentSchemaVersion is the latest schema version.
// Bump this when adding migrations.
const CurrentSchemaVersion = 2

// FileName is the database file inside the base directory.
const FileName = "goalgraph.db"

// Querier is satisfied by both *sql.DB and *sql.Tx, so every query runs
// either standalone or inside a unit of work.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Init initializes the SQLite database at baseDir/goalgraph.db.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.goalgraph.
func Init(baseDir string) (*sql.DB, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	_ = os.Chmod(baseDir, 0700)

	// Pragmas in the DSN apply to every pooled connection.
	dbPath := filepath.Join(baseDir, FileName)
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := verifyWALMode(db); err != nil {
		db.Close()
		return nil, err
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	_ = os.Chmod(dbPath, 0600)

	return db, nil
}

// ConfigurePool applies connection pool settings from config.
// Only sets limits if explicitly configured (non-zero values).
func ConfigurePool(db *sql.DB, cfg *config.Config) {
	if cfg == nil {
		return
	}
	if cfg.DBMaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	}
	if cfg.DBMaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	}
}

const schemaV1 = `
CREATE TABLE IF NOT EXISTS goals (
  id                      TEXT PRIMARY KEY,
  user_id                 TEXT NOT NULL,
  chat_id                 TEXT NOT NULL,
  title                   TEXT NOT NULL,
  description             TEXT,
  status                  TEXT NOT NULL DEFAULT 'todo'
    CONSTRAINT goals_status_valid CHECK (status IN ('todo', 'blocked', 'done', 'canceled')),
  category                TEXT
    CONSTRAINT goals_category_valid CHECK (category IS NULL OR category IN
      ('career', 'health', 'learning', 'finance', 'personal', 'social', 'creative')),
  priority                INTEGER NOT NULL DEFAULT 3
    CONSTRAINT goals_priority_range CHECK (priority BETWEEN 1 AND 5),
  deadline                TEXT,
  estimated_duration_days INTEGER
    CONSTRAINT goals_duration_nonnegative CHECK (estimated_duration_days IS NULL OR estimated_duration_days >= 0),
  difficulty_level        INTEGER NOT NULL DEFAULT 0
    CONSTRAINT goals_difficulty_range CHECK (difficulty_level BETWEEN 0 AND 10),
  motivation              TEXT,
  success_criteria        TEXT,
  created_at              INTEGER NOT NULL,
  updated_at              INTEGER NOT NULL,
  archived_at             INTEGER,
  merged_into_id          TEXT REFERENCES goals(id) ON DELETE SET NULL
);

CREATE INDEX IF NOT EXISTS idx_goals_user_status
ON goals(user_id, status)
WHERE archived_at IS NULL;

CREATE INDEX IF NOT EXISTS idx_goals_user_updated
ON goals(user_id, updated_at DESC);

CREATE TABLE IF NOT EXISTS goal_dependencies (
  id                TEXT PRIMARY KEY,
  parent_goal_id    TEXT NOT NULL REFERENCES goals(id) ON DELETE CASCADE,
  dependent_goal_id TEXT NOT NULL REFERENCES goals(id) ON DELETE CASCADE,
  dependency_type   TEXT NOT NULL DEFAULT 'requires'
    CONSTRAINT deps_type_valid CHECK (dependency_type IN ('requires', 'enables', 'blocks', 'related', 'parallel')),
  strength          INTEGER NOT NULL DEFAULT 1
    CONSTRAINT deps_strength_range CHECK (strength BETWEEN 1 AND 5),
  notes             TEXT,
  created_at        INTEGER NOT NULL,
  CONSTRAINT deps_no_self CHECK (parent_goal_id <> dependent_goal_id),
  CONSTRAINT deps_unique_pair UNIQUE (parent_goal_id, dependent_goal_id)
);

CREATE INDEX IF NOT EXISTS idx_deps_dependent
ON goal_dependencies(dependent_goal_id);

CREATE TRIGGER IF NOT EXISTS deps_same_user_insert
BEFORE INSERT ON goal_dependencies
FOR EACH ROW
WHEN (SELECT user_id FROM goals WHERE id = NEW.parent_goal_id)
  <> (SELECT user_id FROM goals WHERE id = NEW.dependent_goal_id)
BEGIN
  SELECT RAISE(ABORT, 'cross_user_dependency');
END;

CREATE TRIGGER IF NOT EXISTS deps_same_user_update
BEFORE UPDATE OF parent_goal_id, dependent_goal_id ON goal_dependencies
FOR EACH ROW
WHEN (SELECT user_id FROM goals WHERE id = NEW.parent_goal_id)
  <> (SELECT user_id FROM goals WHERE id = NEW.dependent_goal_id)
BEGIN
  SELECT RAISE(ABORT, 'cross_user_dependency');
END;

CREATE TABLE IF NOT EXISTS goal_embeddings (
  id           TEXT PRIMARY KEY,
  goal_id      TEXT NOT NULL REFERENCES goals(id) ON DELETE CASCADE,
  summary_text TEXT NOT NULL,
  vector       BLOB NOT NULL,
  dimensions   INTEGER NOT NULL,
  model        TEXT NOT NULL,
  content_hash TEXT NOT NULL,
  active       INTEGER NOT NULL DEFAULT 1,
  created_at   INTEGER NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_embeddings_one_active
ON goal_embeddings(goal_id)
WHERE active = 1;

CREATE TABLE IF NOT EXISTS graph_heads (
  user_id    TEXT PRIMARY KEY,
  version    INTEGER NOT NULL,
  updated_at INTEGER NOT NULL
);
`

// schemaV2 keeps the text of every duplicate merged into a goal. pending is
// set until the goal's embedding has been consolidated from merged_text.
const schemaV2 = `
CREATE TABLE IF NOT EXISTS merged_summaries (
  goal_id     TEXT PRIMARY KEY REFERENCES goals(id) ON DELETE CASCADE,
  merged_text TEXT NOT NULL,
  pending     INTEGER NOT NULL DEFAULT 1,
  updated_at  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_merged_summaries_pending
ON merged_summaries(goal_id)
WHERE pending = 1;
`

// migrate applies schema migrations based on user_version.
func migrate(db *sql.DB) error {
	version, err := GetUserVersion(db)
	if err != nil {
		return err
	}

	if version < 1 {
		if _, err := db.Exec(schemaV1); err != nil {
			return fmt.Errorf("migration 1 failed: %w", err)
		}
		if err := SetUserVersion(db, 1); err != nil {
			return err
		}
		version = 1
	}

	if version < 2 {
		if _, err := db.Exec(schemaV2); err != nil {
			return fmt.Errorf("migration 2 failed: %w", err)
		}
		if err := SetUserVersion(db, 2); err != nil {
			return err
		}
	}

	return nil
}

// verifyWALMode checks that WAL mode is active (set via connection string).
func verifyWALMode(db *sql.DB) error {
	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode;").Scan(&journalMode); err != nil {
		return fmt.Errorf("failed to verify journal mode: %w", err)
	}
	if journalMode != "wal" {
		return fmt.Errorf("expected WAL mode, got %s", journalMode)
	}
	return nil
}

// GetUserVersion returns the current schema version (user_version pragma).
func GetUserVersion(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get user_version: %w", err)
	}
	return version, nil
}

// SetUserVersion sets the schema version (user_version pragma).
func SetUserVersion(db *sql.DB, version int) error {
	_, err := db.Exec(fmt.Sprintf("PRAGMA user_version=%d", version))
	if err != nil {
		return fmt.Errorf("failed to set user_version: %w", err)
	}
	return nil
}
