// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package offsqlite provides SQLite-backed durable storage for offsync: the key/value
// Store holding entities and pending mutations, and the ResponseCache used to seed
// engines on cold start.
package offsqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Open opens (or creates) the SQLite database at path with the settings offsqlite
// expects: WAL journal, a busy timeout and a single connection so that ":memory:"
// databases are shared by every statement.
func Open(path string) (*sql.DB, error) {
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open sqlite database %s: %w", path, err)
	}
	return db, nil
}

// initializeDatabase creates the offsync tables if they do not exist yet.
func initializeDatabase(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode=WAL`); err != nil {
		return fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	tables := []string{
		// Entities ("{resource}.{id}") and pending mutations ("updates.{resource}.{id}")
		`CREATE TABLE IF NOT EXISTS offsync_kv (
			key        TEXT NOT NULL PRIMARY KEY,
			value      BLOB NOT NULL,
			updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,

		// Last successful list response per collection URL
		`CREATE TABLE IF NOT EXISTS offsync_responses (
			url        TEXT NOT NULL PRIMARY KEY,
			body       BLOB NOT NULL,
			stored_at  TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,
	}
	for _, table := range tables {
		if _, err := db.ExecContext(ctx, table); err != nil {
			return fmt.Errorf("failed to create offsync table: %w", err)
		}
	}
	return nil
}
