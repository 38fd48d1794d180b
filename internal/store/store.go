// Package store provides the on-device ledger cache: an embedded SQLite
// database holding the working copy of all entities, plus the
// engine-private snapshot used as the common ancestor for three-way
// diffing.
//
// The database runs in WAL mode so reads stay concurrent with the single
// sync-cycle writer. All mutations during a sync cycle happen inside one
// Transactionally scope; a crash mid-apply leaves the cache in either
// the pre-sync or fully-post-sync state, never partial.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Store wraps the SQLite connection for the local ledger cache.
type Store struct {
	conn *sql.DB
	path string
}

// Open creates or opens the cache database at the given path.
//
// The caller MUST call Close when done.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{conn: conn, path: path}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := s.conn.Exec(pragma); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	return s, nil
}

// Close closes the database connection after checkpointing the WAL.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	s.conn = nil
	return nil
}

// InitSchema creates all tables and indexes. Idempotent.
func (s *Store) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		tx_date TEXT NOT NULL,
		month TEXT NOT NULL,
		amount TEXT NOT NULL,      -- decimal string, never a float
		tx_type TEXT NOT NULL,
		category_id TEXT,
		payer_id TEXT,
		participants TEXT,         -- semicolon-joined member ids
		note TEXT,
		merchant TEXT,
		source TEXT NOT NULL,
		ocr_text TEXT,
		currency TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS members (
		id TEXT PRIMARY KEY,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		name TEXT NOT NULL,
		nickname TEXT,
		role TEXT,
		avatar_color TEXT,
		link_token TEXT
	);

	CREATE TABLE IF NOT EXISTS categories (
		id TEXT PRIMARY KEY,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		name TEXT NOT NULL,
		icon TEXT,
		color TEXT,
		cat_type TEXT NOT NULL,
		is_default INTEGER NOT NULL DEFAULT 0,
		sort_order INTEGER NOT NULL DEFAULT 0
	);

	-- Single-row settings document, stored whole.
	CREATE TABLE IF NOT EXISTS settings (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		doc TEXT NOT NULL
	);

	-- Last-synced ancestor state, written only by the sync engine.
	-- Payload is the record's canonical column vector as a JSON array.
	CREATE TABLE IF NOT EXISTS snapshots (
		kind TEXT NOT NULL,
		bucket TEXT NOT NULL,
		record_id TEXT NOT NULL,
		payload TEXT NOT NULL,
		PRIMARY KEY (kind, bucket, record_id)
	);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_month ON transactions(month);
	CREATE INDEX IF NOT EXISTS idx_transactions_date ON transactions(tx_date);
	CREATE INDEX IF NOT EXISTS idx_transactions_category ON transactions(category_id);
	CREATE INDEX IF NOT EXISTS idx_snapshots_kind_bucket ON snapshots(kind, bucket);
	`

	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// dbtx is satisfied by both *sql.DB and *sql.Tx so the entity helpers
// work inside and outside Transactionally.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Tx exposes the store's mutation surface inside a transaction.
type Tx struct {
	tx *sql.Tx
}

// Transactionally runs fn inside one database transaction. This is the
// engine's sole mutual-exclusion mechanism for local writes: either
// every mutation in fn commits, or none do.
func (s *Store) Transactionally(ctx context.Context, fn func(tx *Tx) error) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&Tx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
