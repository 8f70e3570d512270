// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package store persists records, flagged events, run metadata and risk
// profiles in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"sentinel-scan/internal/observability"
)

// SchemaVersion is the schema this build writes. Version 1 kept
// confirmation outcomes on flagged_events; version 2 keeps them per run in
// run_events.
const SchemaVersion = 2

// v1EventColumns are the flagged_events columns dropped by version 2
var v1EventColumns = []string{
	"mode", "status", "confidence", "model_version", "confirmed_category", "confirmed_tier", "summary",
}

// SchemaVersionError is returned when a database was created by a newer
// build
type SchemaVersionError struct {
	Path      string
	Found     int
	Supported int
}

func (e *SchemaVersionError) Error() string {
	return fmt.Sprintf("database %s has schema version %d, this build supports up to %d", e.Path, e.Found, e.Supported)
}

const schema = `
CREATE TABLE IF NOT EXISTS schema_info (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id             TEXT PRIMARY KEY,
	timestamp_ms   INTEGER NOT NULL,
	counterparty   TEXT NOT NULL,
	contact_name   TEXT NOT NULL DEFAULT '',
	direction      TEXT NOT NULL,
	channel        TEXT NOT NULL,
	raw_type       TEXT NOT NULL DEFAULT '',
	body           TEXT NOT NULL DEFAULT '',
	source_file    TEXT NOT NULL,
	source_ordinal INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_counterparty ON messages(counterparty, timestamp_ms);

CREATE TABLE IF NOT EXISTS calls (
	id             TEXT PRIMARY KEY,
	timestamp_ms   INTEGER NOT NULL,
	counterparty   TEXT NOT NULL,
	contact_name   TEXT NOT NULL DEFAULT '',
	direction      TEXT NOT NULL,
	raw_type       TEXT NOT NULL DEFAULT '',
	duration_sec   INTEGER NOT NULL DEFAULT 0,
	source_file    TEXT NOT NULL,
	source_ordinal INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_calls_counterparty ON calls(counterparty, timestamp_ms);

CREATE TABLE IF NOT EXISTS flagged_events (
	id                 TEXT PRIMARY KEY,
	record_id          TEXT NOT NULL,
	counterparty       TEXT NOT NULL,
	direction          TEXT NOT NULL,
	timestamp_ms       INTEGER NOT NULL,
	category           TEXT NOT NULL,
	tier               INTEGER NOT NULL,
	span_term          TEXT NOT NULL,
	span_start         INTEGER NOT NULL,
	span_end           INTEGER NOT NULL,
	dictionary_version TEXT NOT NULL,
	supportive         INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_flagged_events_record ON flagged_events(record_id);

CREATE TABLE IF NOT EXISTS run_metadata (
	run_id             TEXT PRIMARY KEY,
	started_at         TEXT NOT NULL,
	finished_at        TEXT NOT NULL,
	dictionary_version TEXT NOT NULL,
	adapter_model      TEXT NOT NULL DEFAULT '',
	config_snapshot    TEXT NOT NULL,
	config_hash        TEXT NOT NULL,
	inputs_json        TEXT NOT NULL,
	flagged_digest     TEXT NOT NULL,
	flagged_count      INTEGER NOT NULL,
	components_json    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS risk_profiles (
	run_id            TEXT NOT NULL REFERENCES run_metadata(run_id),
	contact_id        TEXT NOT NULL,
	contact_name      TEXT NOT NULL DEFAULT '',
	score             REAL NOT NULL,
	label             TEXT NOT NULL,
	severity_score    REAL NOT NULL,
	messages          INTEGER NOT NULL,
	calls             INTEGER NOT NULL,
	flags             INTEGER NOT NULL,
	high              INTEGER NOT NULL,
	medium            INTEGER NOT NULL,
	low               INTEGER NOT NULL,
	escalation_trend  TEXT NOT NULL,
	escalating        INTEGER NOT NULL,
	first_contact_ms  INTEGER NOT NULL,
	last_contact_ms   INTEGER NOT NULL,
	breakdown_json    TEXT NOT NULL,
	categories_json   TEXT NOT NULL,
	tags_json         TEXT NOT NULL,
	PRIMARY KEY (run_id, contact_id)
);

CREATE TABLE IF NOT EXISTS run_events (
	run_id             TEXT NOT NULL REFERENCES run_metadata(run_id),
	event_id           TEXT NOT NULL REFERENCES flagged_events(id),
	mode               TEXT NOT NULL,
	status             TEXT NOT NULL,
	confidence         REAL NOT NULL DEFAULT 0,
	model_version      TEXT NOT NULL DEFAULT '',
	confirmed_category TEXT NOT NULL DEFAULT '',
	confirmed_tier     INTEGER NOT NULL DEFAULT 0,
	summary            TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (run_id, event_id)
);
`

// Store wraps the SQLite database
type Store struct {
	db     *sqlx.DB
	path   string
	logger *zap.Logger
}

// Open opens or creates the database at path and applies the schema.
// ":memory:" opens a private in-memory database.
func Open(ctx context.Context, path string, logger *zap.Logger) (*Store, error) {
	db, err := sqlx.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// one writer; also keeps a :memory: database on a single connection
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{db: db, path: path, logger: observability.OrNop(logger)}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	s.logger.Debug("store opened", zap.String("path", path), zap.Int("schema_version", SchemaVersion))
	return s, nil
}

func dsn(path string) string {
	if path == ":memory:" {
		return path
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return "file:" + path + sep + "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	var found int
	err := s.db.GetContext(ctx, &found, `SELECT version FROM schema_info LIMIT 1`)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = s.db.ExecContext(ctx, `INSERT INTO schema_info (version) VALUES (?)`, SchemaVersion)
		if err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("read schema version: %w", err)
	case found > SchemaVersion:
		return &SchemaVersionError{Path: s.path, Found: found, Supported: SchemaVersion}
	case found < SchemaVersion:
		if err := s.upgrade(ctx, found); err != nil {
			return err
		}
		s.logger.Info("store schema upgraded", zap.Int("from", found), zap.Int("to", SchemaVersion))
	}
	return nil
}

// upgrade moves a version 1 database to the current schema. run_events is
// already created by the schema; confirmation columns on flagged_events
// belonged to whichever run wrote last and are dropped.
func (s *Store) upgrade(ctx context.Context, from int) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		if from == 1 {
			for _, col := range v1EventColumns {
				if _, err := tx.ExecContext(ctx, `ALTER TABLE flagged_events DROP COLUMN `+col); err != nil {
					return fmt.Errorf("drop flagged_events.%s: %w", col, err)
				}
			}
		}
		if _, err := tx.ExecContext(ctx, `UPDATE schema_info SET version = ?`, SchemaVersion); err != nil {
			return fmt.Errorf("upgrade schema version: %w", err)
		}
		return nil
	})
}

// inTx runs fn inside one transaction
func (s *Store) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
