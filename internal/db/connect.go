package db

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // driver: pgx
	_ "modernc.org/sqlite"             // driver: sqlite
)

type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// Open opens a DB and ensures schema exists.
func Open(ctx context.Context, driver Driver, dsn string) (*sql.DB, error) {
	var drvName string
	switch driver {
	case DriverSQLite:
		drvName = "sqlite" // modernc driver
		if dsn == "" {
			dsn = "file:progress.db?cache=shared&mode=rwc&_pragma=busy_timeout(5000)"
		}
	case DriverPostgres:
		drvName = "pgx" // pgx stdlib driver
		if dsn == "" {
			dsn = "postgres://localhost:5432/progress?sslmode=disable"
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}

	db, err := sql.Open(drvName, dsn)
	if err != nil {
		return nil, err
	}
	if driver == DriverSQLite {
		// single writer; avoids SQLITE_BUSY between pooled connections
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := ensureSchema(ctx, db, driver); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return db, nil
}

func ensureSchema(ctx context.Context, db *sql.DB, driver Driver) error {
	var schema string
	switch driver {
	case DriverSQLite:
		schema = schemaSQLite
	case DriverPostgres:
		schema = schemaPostgres
	}
	_, err := db.ExecContext(ctx, schema)
	return err
}

const schemaSQLite = `
PRAGMA foreign_keys=ON;

CREATE TABLE IF NOT EXISTS modules (
  id TEXT PRIMARY KEY,
  title TEXT NOT NULL,
  status TEXT NOT NULL,
  passing_score_default INTEGER NOT NULL DEFAULT 0,
  components_json TEXT NOT NULL,
  created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS component_progress (
  learner_id TEXT NOT NULL,
  component_id TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'NOT_STARTED',
  progress INTEGER NOT NULL DEFAULT 0,
  score INTEGER,
  score_seq INTEGER NOT NULL DEFAULT 0,
  attempts INTEGER NOT NULL DEFAULT 0,
  time_spent INTEGER NOT NULL DEFAULT 0,
  started_at INTEGER,
  completed_at INTEGER,
  updated_at INTEGER NOT NULL,
  PRIMARY KEY (learner_id, component_id)
);

CREATE TABLE IF NOT EXISTS material_progress (
  learner_id TEXT NOT NULL,
  component_id TEXT NOT NULL,
  material_id TEXT NOT NULL,
  view_progress INTEGER NOT NULL DEFAULT 0,
  completed INTEGER NOT NULL DEFAULT 0,
  updated_at INTEGER NOT NULL,
  PRIMARY KEY (learner_id, component_id, material_id)
);

CREATE TABLE IF NOT EXISTS assessment_attempts (
  id TEXT PRIMARY KEY,
  learner_id TEXT NOT NULL,
  component_id TEXT NOT NULL,
  seq INTEGER NOT NULL,
  submitted_at INTEGER NOT NULL,
  score_percent INTEGER NOT NULL,
  passed INTEGER NOT NULL,
  expired INTEGER NOT NULL DEFAULT 0,
  attempt_json TEXT NOT NULL,
  UNIQUE (learner_id, component_id, seq)
);

CREATE TABLE IF NOT EXISTS attempt_sessions (
  id TEXT PRIMARY KEY,
  learner_id TEXT NOT NULL,
  module_id TEXT NOT NULL,
  component_id TEXT NOT NULL,
  status TEXT NOT NULL,
  answers_json TEXT NOT NULL,
  started_at INTEGER NOT NULL,
  deadline INTEGER,
  closed_at INTEGER
);
CREATE INDEX IF NOT EXISTS attempt_sessions_open ON attempt_sessions (status, deadline);

CREATE TABLE IF NOT EXISTS event_log (
  seq INTEGER PRIMARY KEY AUTOINCREMENT,
  learner_id TEXT NOT NULL,
  typ TEXT NOT NULL,      -- e.g., component.completed
  key TEXT NOT NULL,      -- module:component
  data TEXT NOT NULL,     -- JSON payload
  created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS event_log_learner ON event_log (learner_id, seq);
`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS modules (
  id TEXT PRIMARY KEY,
  title TEXT NOT NULL,
  status TEXT NOT NULL,
  passing_score_default INTEGER NOT NULL DEFAULT 0,
  components_json TEXT NOT NULL,
  created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS component_progress (
  learner_id TEXT NOT NULL,
  component_id TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'NOT_STARTED',
  progress INTEGER NOT NULL DEFAULT 0,
  score INTEGER,
  score_seq INTEGER NOT NULL DEFAULT 0,
  attempts INTEGER NOT NULL DEFAULT 0,
  time_spent BIGINT NOT NULL DEFAULT 0,
  started_at BIGINT,
  completed_at BIGINT,
  updated_at BIGINT NOT NULL,
  PRIMARY KEY (learner_id, component_id)
);

CREATE TABLE IF NOT EXISTS material_progress (
  learner_id TEXT NOT NULL,
  component_id TEXT NOT NULL,
  material_id TEXT NOT NULL,
  view_progress INTEGER NOT NULL DEFAULT 0,
  completed INTEGER NOT NULL DEFAULT 0,
  updated_at BIGINT NOT NULL,
  PRIMARY KEY (learner_id, component_id, material_id)
);

CREATE TABLE IF NOT EXISTS assessment_attempts (
  id TEXT PRIMARY KEY,
  learner_id TEXT NOT NULL,
  component_id TEXT NOT NULL,
  seq INTEGER NOT NULL,
  submitted_at BIGINT NOT NULL,
  score_percent INTEGER NOT NULL,
  passed INTEGER NOT NULL,
  expired INTEGER NOT NULL DEFAULT 0,
  attempt_json TEXT NOT NULL,
  UNIQUE (learner_id, component_id, seq)
);

CREATE TABLE IF NOT EXISTS attempt_sessions (
  id TEXT PRIMARY KEY,
  learner_id TEXT NOT NULL,
  module_id TEXT NOT NULL,
  component_id TEXT NOT NULL,
  status TEXT NOT NULL,
  answers_json TEXT NOT NULL,
  started_at BIGINT NOT NULL,
  deadline BIGINT,
  closed_at BIGINT
);
CREATE INDEX IF NOT EXISTS attempt_sessions_open ON attempt_sessions (status, deadline);

CREATE TABLE IF NOT EXISTS event_log (
  seq BIGSERIAL PRIMARY KEY,
  learner_id TEXT NOT NULL,
  typ TEXT NOT NULL,
  key TEXT NOT NULL,
  data TEXT NOT NULL,
  created_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS event_log_learner ON event_log (learner_id, seq);
`
