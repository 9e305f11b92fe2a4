// Package sqlite implements cortex.Bus, cortex.SessionStore,
// cortex.Hippocampus, and router.Store against a single pure-Go SQLite
// file. Zero CGO required (modernc.org/sqlite).
//
// All four interfaces share one *sql.DB with SetMaxOpenConns(1): the
// whole system has one writer, so rather than fight SQLITE_BUSY with
// retries, a single connection serializes every statement at the
// database/sql pool level. Cortex's bus/session/Hippocampus tables and
// the Router's jobs/jobs_archive tables live side by side in the same
// file but are never touched by a query meant for the other — see
// SPEC_FULL.md §4 "Ownership".
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"

	"github.com/cortexlabs/cortex"
	"github.com/cortexlabs/cortex/router"
)

// Store backs cortex.Bus, cortex.SessionStore, cortex.Hippocampus, and
// router.Store.
type Store struct {
	db            *sql.DB
	logger        *slog.Logger
	coldAvailable bool
}

var (
	_ cortex.Bus          = (*Store)(nil)
	_ cortex.SessionStore = (*Store)(nil)
	_ cortex.Hippocampus  = (*Store)(nil)
	_ router.Store        = (*Store)(nil)
)

// Option configures a Store.
type Option func(*Store)

// WithLogger injects a structured logger. Default is a discard logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = cortex.OrDiscard(logger) }
}

// New opens (or creates) the SQLite file at path and returns a Store ready
// for Init.
func New(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One process, one writer: serialize all access through one
	// connection rather than racing on SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, logger: cortex.OrDiscard(nil), coldAvailable: true}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// WithColdMemoryDisabled marks cold memory unavailable from the start,
// exercising the graceful-degradation path documented in SPEC_FULL.md §9
// ("vector index optionality") without requiring an actual missing
// extension to simulate it.
func WithColdMemoryDisabled() Option {
	return func(s *Store) { s.coldAvailable = false }
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS cortex_bus (
		id TEXT PRIMARY KEY,
		envelope TEXT NOT NULL,
		state TEXT NOT NULL,
		priority INTEGER NOT NULL,
		enqueued_at TEXT NOT NULL,
		processed_at TEXT,
		attempts INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		checkpoint_id INTEGER
	)`,
	`CREATE INDEX IF NOT EXISTS idx_cortex_bus_order ON cortex_bus(state, priority, enqueued_at)`,

	`CREATE TABLE IF NOT EXISTS cortex_checkpoints (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		created_at TEXT NOT NULL,
		session_snapshot TEXT,
		channel_states TEXT,
		pending_ops TEXT
	)`,

	`CREATE TABLE IF NOT EXISTS cortex_session (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		envelope_id TEXT,
		role TEXT NOT NULL,
		channel TEXT NOT NULL,
		sender_id TEXT NOT NULL,
		content TEXT NOT NULL,
		timestamp TEXT NOT NULL,
		metadata TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_cortex_session_channel ON cortex_session(channel, timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_cortex_session_timestamp ON cortex_session(timestamp)`,

	`CREATE TABLE IF NOT EXISTS cortex_channel_states (
		channel TEXT PRIMARY KEY,
		last_message_at TEXT,
		unread_count INTEGER NOT NULL DEFAULT 0,
		summary TEXT,
		layer TEXT NOT NULL DEFAULT 'foreground'
	)`,

	`CREATE TABLE IF NOT EXISTS cortex_pending_ops (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		description TEXT NOT NULL,
		dispatched_at TEXT NOT NULL,
		expected_channel TEXT,
		status TEXT NOT NULL,
		completed_at TEXT,
		result TEXT,
		reply_channel TEXT,
		result_priority TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_cortex_pending_ops_status ON cortex_pending_ops(status)`,

	`CREATE TABLE IF NOT EXISTS cortex_hot_memory (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		fact_text TEXT NOT NULL UNIQUE,
		inserted_at TEXT NOT NULL,
		last_accessed_at TEXT NOT NULL,
		hit_count INTEGER NOT NULL DEFAULT 0
	)`,

	`CREATE TABLE IF NOT EXISTS cortex_cold_memory (
		rowid INTEGER PRIMARY KEY AUTOINCREMENT,
		fact_text TEXT NOT NULL,
		archived_at TEXT NOT NULL,
		embedding TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		status TEXT NOT NULL,
		weight INTEGER NOT NULL DEFAULT 0,
		tier TEXT,
		issuer TEXT NOT NULL,
		payload TEXT,
		result TEXT,
		error TEXT,
		retry_count INTEGER NOT NULL DEFAULT 0,
		worker_id TEXT,
		last_checkpoint TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		started_at TEXT,
		finished_at TEXT,
		delivered_at TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status, updated_at)`,

	`CREATE TABLE IF NOT EXISTS jobs_archive (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		status TEXT NOT NULL,
		weight INTEGER NOT NULL DEFAULT 0,
		tier TEXT,
		issuer TEXT NOT NULL,
		payload TEXT,
		result TEXT,
		error TEXT,
		retry_count INTEGER NOT NULL DEFAULT 0,
		worker_id TEXT,
		last_checkpoint TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		started_at TEXT,
		finished_at TEXT,
		delivered_at TEXT
	)`,
}

// Init creates every table and index this package depends on. Safe to call
// repeatedly (every statement is idempotent).
func (s *Store) Init(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	s.logger.Debug("storage: schema initialized")
	return nil
}
