// ABOUTME: Database schema definitions for accounts, rollup configs, and audit history
// ABOUTME: Core tables are always created; the history tables are optional on older databases
package db

import (
	"database/sql"
	"fmt"
)

// Optional audit tables probed when a Store is opened.
const (
	ConfigHistoryTable = "rollup_config_history"
	RunHistoryTable    = "rollup_run_history"
)

const sqliteCoreSchema = `
CREATE TABLE IF NOT EXISTS accounts (
	key TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	provider TEXT NOT NULL CHECK(provider IN ('rest', 'google')),
	rollup_target INTEGER NOT NULL DEFAULT 0,
	base_url TEXT,
	credentials TEXT,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS rollup_configs (
	job_key TEXT PRIMARY KEY,
	target_account_key TEXT,
	source_account_keys TEXT NOT NULL DEFAULT '[]',
	enabled INTEGER NOT NULL DEFAULT 0,
	schedule_interval_hours INTEGER NOT NULL DEFAULT 1,
	schedule_minute_utc INTEGER NOT NULL DEFAULT 0,
	full_sync_enabled INTEGER NOT NULL DEFAULT 0,
	full_sync_hour_utc INTEGER NOT NULL DEFAULT 3,
	full_sync_minute_utc INTEGER NOT NULL DEFAULT 0,
	scrub_invalid_emails INTEGER NOT NULL DEFAULT 0,
	scrub_invalid_phones INTEGER NOT NULL DEFAULT 0,
	updated_by_id TEXT,
	updated_by_email TEXT,
	last_synced_at DATETIME,
	last_sync_status TEXT CHECK(last_sync_status IN ('ok', 'failed', 'disabled')),
	last_sync_summary TEXT,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
`

const sqliteHistorySchema = `
CREATE TABLE IF NOT EXISTS rollup_config_history (
	id TEXT PRIMARY KEY,
	job_key TEXT NOT NULL,
	changed_fields TEXT NOT NULL,
	before_json TEXT,
	after_json TEXT NOT NULL,
	changed_by_id TEXT,
	changed_by_email TEXT,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rollup_config_history_job ON rollup_config_history(job_key, created_at DESC);

CREATE TABLE IF NOT EXISTS rollup_run_history (
	id TEXT PRIMARY KEY,
	run_id TEXT NOT NULL,
	job_key TEXT NOT NULL,
	kind TEXT NOT NULL CHECK(kind IN ('sync', 'wipe')),
	status TEXT NOT NULL CHECK(status IN ('ok', 'failed', 'disabled')),
	mode TEXT,
	dry_run INTEGER NOT NULL DEFAULT 0,
	trigger_source TEXT NOT NULL,
	triggered_by_id TEXT,
	triggered_by_email TEXT,
	started_at DATETIME NOT NULL,
	finished_at DATETIME NOT NULL,
	totals TEXT NOT NULL,
	errors TEXT
);

CREATE INDEX IF NOT EXISTS idx_rollup_run_history_job ON rollup_run_history(job_key, started_at DESC);
`

const postgresCoreSchema = `
CREATE TABLE IF NOT EXISTS accounts (
	key TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	provider TEXT NOT NULL CHECK(provider IN ('rest', 'google')),
	rollup_target BOOLEAN NOT NULL DEFAULT FALSE,
	base_url TEXT,
	credentials TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS rollup_configs (
	job_key TEXT PRIMARY KEY,
	target_account_key TEXT,
	source_account_keys TEXT NOT NULL DEFAULT '[]',
	enabled BOOLEAN NOT NULL DEFAULT FALSE,
	schedule_interval_hours INTEGER NOT NULL DEFAULT 1,
	schedule_minute_utc INTEGER NOT NULL DEFAULT 0,
	full_sync_enabled BOOLEAN NOT NULL DEFAULT FALSE,
	full_sync_hour_utc INTEGER NOT NULL DEFAULT 3,
	full_sync_minute_utc INTEGER NOT NULL DEFAULT 0,
	scrub_invalid_emails BOOLEAN NOT NULL DEFAULT FALSE,
	scrub_invalid_phones BOOLEAN NOT NULL DEFAULT FALSE,
	updated_by_id TEXT,
	updated_by_email TEXT,
	last_synced_at TIMESTAMPTZ,
	last_sync_status TEXT CHECK(last_sync_status IN ('ok', 'failed', 'disabled')),
	last_sync_summary TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
`

const postgresHistorySchema = `
CREATE TABLE IF NOT EXISTS rollup_config_history (
	id TEXT PRIMARY KEY,
	job_key TEXT NOT NULL,
	changed_fields TEXT NOT NULL,
	before_json TEXT,
	after_json TEXT NOT NULL,
	changed_by_id TEXT,
	changed_by_email TEXT,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rollup_config_history_job ON rollup_config_history(job_key, created_at DESC);

CREATE TABLE IF NOT EXISTS rollup_run_history (
	id TEXT PRIMARY KEY,
	run_id TEXT NOT NULL,
	job_key TEXT NOT NULL,
	kind TEXT NOT NULL CHECK(kind IN ('sync', 'wipe')),
	status TEXT NOT NULL CHECK(status IN ('ok', 'failed', 'disabled')),
	mode TEXT,
	dry_run BOOLEAN NOT NULL DEFAULT FALSE,
	trigger_source TEXT NOT NULL,
	triggered_by_id TEXT,
	triggered_by_email TEXT,
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL,
	totals TEXT NOT NULL,
	errors TEXT
);

CREATE INDEX IF NOT EXISTS idx_rollup_run_history_job ON rollup_run_history(job_key, started_at DESC);
`

// InitSchema creates the core tables and the audit history tables.
func InitSchema(db *sql.DB, dialect Dialect) error {
	if err := InitCoreSchema(db, dialect); err != nil {
		return err
	}
	return InitHistorySchema(db, dialect)
}

// InitCoreSchema creates the accounts and rollup config tables only.
func InitCoreSchema(db *sql.DB, dialect Dialect) error {
	schema := sqliteCoreSchema
	if dialect == DialectPostgres {
		schema = postgresCoreSchema
	}
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create core schema: %w", err)
	}
	return nil
}

// InitHistorySchema creates the optional audit history tables.
func InitHistorySchema(db *sql.DB, dialect Dialect) error {
	schema := sqliteHistorySchema
	if dialect == DialectPostgres {
		schema = postgresHistorySchema
	}
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create history schema: %w", err)
	}
	return nil
}

// TableExists reports whether name is a table in the current database.
func TableExists(db *sql.DB, dialect Dialect, name string) (bool, error) {
	query := "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?"
	if dialect == DialectPostgres {
		query = "SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = ?"
	}
	var count int
	if err := db.QueryRow(rebind(dialect, query), name).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check table %s: %w", name, err)
	}
	return count > 0, nil
}
