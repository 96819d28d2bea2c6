package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS client (
	id TEXT PRIMARY KEY,
	secret TEXT NOT NULL,
	label TEXT NOT NULL,
	scopes TEXT NOT NULL, -- JSON array
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS backup_record (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	kind TEXT NOT NULL,
	status TEXT NOT NULL,
	progress INTEGER NOT NULL DEFAULT 0,
	collections_included TEXT NOT NULL, -- JSON array
	include_files INTEGER NOT NULL DEFAULT 0,
	compression TEXT NOT NULL,
	artifact_path TEXT,
	size_bytes INTEGER,
	checksum TEXT,
	error_message TEXT,
	started_by TEXT,
	retention_days INTEGER NOT NULL,
	expires_at DATETIME NOT NULL,
	started_at DATETIME NOT NULL,
	completed_at DATETIME,
	finished_at DATETIME
);

CREATE TABLE IF NOT EXISTS backup_config (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	auto_backup_enabled INTEGER NOT NULL,
	schedule_type TEXT NOT NULL,
	schedule_time_of_day TEXT NOT NULL,
	retention_days INTEGER NOT NULL,
	compression TEXT NOT NULL,
	include_files INTEGER NOT NULL,
	include_file_contents INTEGER NOT NULL,
	include_database INTEGER NOT NULL,
	max_backups INTEGER NOT NULL,
	collections TEXT NOT NULL, -- JSON array
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS restore_result (
	id TEXT PRIMARY KEY,
	backup_id TEXT NOT NULL,
	status TEXT NOT NULL,
	restored_collections TEXT NOT NULL, -- JSON array
	failed_collections TEXT NOT NULL, -- JSON array
	files_restored INTEGER NOT NULL DEFAULT 0,
	warnings TEXT NOT NULL DEFAULT '[]', -- JSON array
	error_message TEXT,
	started_by TEXT,
	started_at DATETIME NOT NULL,
	completed_at DATETIME
);

CREATE TABLE IF NOT EXISTS activity (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_type TEXT NOT NULL,
	metadata TEXT NOT NULL, -- JSON object
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS collection_record (
	collection TEXT NOT NULL,
	position INTEGER NOT NULL,
	data TEXT NOT NULL, -- JSON object
	PRIMARY KEY (collection, position)
);

CREATE INDEX IF NOT EXISTS idx_backup_record_started_at ON backup_record(started_at);
CREATE INDEX IF NOT EXISTS idx_backup_record_status ON backup_record(status);
CREATE INDEX IF NOT EXISTS idx_restore_result_backup_id ON restore_result(backup_id);
CREATE INDEX IF NOT EXISTS idx_activity_event_type ON activity(event_type);
CREATE INDEX IF NOT EXISTS idx_activity_created_at ON activity(created_at);
`

type DB struct {
	*sqlx.DB
}

func New(dbPath string) (*DB, error) {
	db, err := sqlx.Connect("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Every connection to ":memory:" opens its own empty database
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrency (allows concurrent reads/writes)
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Set busy timeout to handle concurrent access from the API and the scheduler
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &DB{db}, nil
}

func (db *DB) Close() error {
	return db.DB.Close()
}

// NullString helper for optional string fields
func NullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: *s, Valid: true}
}

// NullInt64 helper for optional int64 fields
func NullInt64(i *int64) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{Valid: false}
	}
	return sql.NullInt64{Int64: *i, Valid: true}
}

// NullTime helper for optional time fields, stored in UTC
func NullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{Valid: false}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func int64Ptr(ni sql.NullInt64) *int64 {
	if !ni.Valid {
		return nil
	}
	i := ni.Int64
	return &i
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

// marshalList stores a string list as a JSON array, never "null".
func marshalList(list []string) (string, error) {
	if list == nil {
		list = []string{}
	}
	b, err := json.Marshal(list)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalList(s string) ([]string, error) {
	var list []string
	if err := json.Unmarshal([]byte(s), &list); err != nil {
		return nil, err
	}
	return list, nil
}
