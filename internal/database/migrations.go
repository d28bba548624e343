// Package database handles database migrations.
package database

import (
	"fmt"
)

// migrate runs all database migrations.
func (db *DB) migrate() error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS migrations (
			version INTEGER PRIMARY KEY,
			applied_at TEXT DEFAULT (datetime('now'))
		)
	`); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	var currentVersion int
	row := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("failed to get current migration version: %w", err)
	}

	for _, m := range getAllMigrations() {
		if m.version > currentVersion {
			if err := db.runMigration(m); err != nil {
				return fmt.Errorf("migration %d failed: %w", m.version, err)
			}
		}
	}

	return nil
}

type migration struct {
	version int
	sql     string
}

func (db *DB) runMigration(m migration) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(m.sql); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}

	if _, err := tx.Exec("INSERT INTO migrations (version) VALUES (?)", m.version); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	return tx.Commit()
}

func getAllMigrations() []migration {
	return []migration{
		{
			version: 1,
			sql:     migration001InitialSchema,
		},
	}
}

const migration001InitialSchema = `
-- Discovery sessions: one row per scan run, never deleted mid-history.
CREATE TABLE IF NOT EXISTS discovery_sessions (
    id TEXT PRIMARY KEY,                    -- "ses_" + random
    pack_id TEXT NOT NULL,
    started_at TEXT DEFAULT (datetime('now')),
    completed_at TEXT,
    emails_scanned INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL DEFAULT 'running' CHECK (status IN (
        'running', 'completed', 'failed'
    )),
    output TEXT                             -- JSON: proposals + stats
);

CREATE INDEX IF NOT EXISTS idx_sessions_pack ON discovery_sessions(pack_id);
CREATE INDEX IF NOT EXISTS idx_sessions_started ON discovery_sessions(started_at);


-- Evidence: scored emails captured during a scan. Immutable.
CREATE TABLE IF NOT EXISTS evidence (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL REFERENCES discovery_sessions(id),
    message_id TEXT NOT NULL,
    subject TEXT,
    sender TEXT,
    date TEXT,
    snippet TEXT,
    score REAL NOT NULL,
    matched_rules TEXT                      -- JSON array of rule ids
);

CREATE INDEX IF NOT EXISTS idx_evidence_session ON evidence(session_id);


-- Queue items: discovery finds surfaced for human review.
CREATE TABLE IF NOT EXISTS queue_items (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL REFERENCES discovery_sessions(id),
    message_id TEXT NOT NULL,
    category TEXT,
    person TEXT,
    item_type TEXT NOT NULL DEFAULT 'announcement',
    obligation_date TEXT,                   -- YYYY-MM-DD or NULL
    confidence REAL NOT NULL DEFAULT 0.5,
    reasoning TEXT,
    status TEXT NOT NULL DEFAULT 'pending_approval' CHECK (status IN (
        'pending_approval', 'approved', 'dismissed'
    )),
    created_at TEXT DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_queue_items_session ON queue_items(session_id);
CREATE INDEX IF NOT EXISTS idx_queue_items_status ON queue_items(status);


-- Events: durable record per extracted calendar intent. The UNIQUE
-- fingerprint column is the arbiter of deduplication; rows are never deleted.
CREATE TABLE IF NOT EXISTS events (
    id TEXT PRIMARY KEY,                    -- "evt_" + random
    fingerprint TEXT UNIQUE NOT NULL,       -- SHA-256 of canonical identity
    message_id TEXT NOT NULL,
    pack_id TEXT NOT NULL,
    calendar_event_id TEXT,
    intent TEXT NOT NULL,                   -- JSON EventIntent
    title_key TEXT NOT NULL,                -- normalized title (dedup query)
    date_key TEXT NOT NULL,                 -- YYYY-MM-DD (dedup query)
    confidence REAL NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending_approval' CHECK (status IN (
        'pending_approval', 'approved', 'created', 'updated', 'flagged', 'failed'
    )),
    manually_edited INTEGER NOT NULL DEFAULT 0,
    error TEXT,
    created_at TEXT DEFAULT (datetime('now')),
    updated_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_events_date_key ON events(title_key, date_key);
CREATE INDEX IF NOT EXISTS idx_events_status ON events(status);
CREATE INDEX IF NOT EXISTS idx_events_message ON events(message_id);


-- Operations: calendar mutation work, paired 1:1 with an event.
CREATE TABLE IF NOT EXISTS operations (
    id TEXT PRIMARY KEY,                    -- "op_" + random
    type TEXT NOT NULL CHECK (type IN ('create', 'update', 'flag', 'skip')),
    event_fingerprint TEXT NOT NULL REFERENCES events(fingerprint),
    intent TEXT NOT NULL,                   -- JSON EventIntent snapshot
    reason TEXT,
    requires_approval INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN (
        'pending', 'approved', 'rejected', 'executed', 'failed'
    )),
    calendar_event_id TEXT,
    error TEXT,
    created_at TEXT DEFAULT (datetime('now')),
    decided_at TEXT,
    executed_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_operations_status ON operations(status);
CREATE INDEX IF NOT EXISTS idx_operations_fingerprint ON operations(event_fingerprint);


-- Approval tokens: single-use capabilities gating one operation each.
CREATE TABLE IF NOT EXISTS approval_tokens (
    token_hash TEXT PRIMARY KEY,            -- SHA-256 of token
    operation_id TEXT NOT NULL REFERENCES operations(id),
    expires_at TEXT NOT NULL,
    approved INTEGER NOT NULL DEFAULT 0,
    consumed_at TEXT,
    created_at TEXT DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_approval_tokens_operation ON approval_tokens(operation_id);
CREATE INDEX IF NOT EXISTS idx_approval_tokens_expires ON approval_tokens(expires_at)
    WHERE consumed_at IS NULL;


-- Processed messages: per-item ledger for idempotent re-runs.
CREATE TABLE IF NOT EXISTS processed_messages (
    message_id TEXT PRIMARY KEY,
    pack_id TEXT NOT NULL,
    events_extracted INTEGER NOT NULL DEFAULT 0,
    processed_at TEXT DEFAULT (datetime('now'))
);


-- Exceptions: captured failures; resolution is manual.
CREATE TABLE IF NOT EXISTS exceptions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    type TEXT NOT NULL CHECK (type IN (
        'extraction_error', 'calendar_error', 'duplicate_detected',
        'api_error', 'forwarding_error', 'other'
    )),
    severity TEXT NOT NULL DEFAULT 'error',
    message TEXT NOT NULL,
    context TEXT,                           -- JSON: message id / fingerprint / pack id
    resolved INTEGER NOT NULL DEFAULT 0,
    created_at TEXT DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_exceptions_type ON exceptions(type);
CREATE INDEX IF NOT EXISTS idx_exceptions_unresolved ON exceptions(created_at)
    WHERE resolved = 0;


-- Audit log: append-only record of all state transitions.
CREATE TABLE IF NOT EXISTS audit_log (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp TEXT DEFAULT (datetime('now')),
    event_type TEXT NOT NULL,
    subject_id TEXT,                        -- event / operation / session id
    actor TEXT,
    details TEXT                            -- JSON: event-specific data
);

CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_log(timestamp);
CREATE INDEX IF NOT EXISTS idx_audit_type ON audit_log(event_type);
CREATE INDEX IF NOT EXISTS idx_audit_subject ON audit_log(subject_id);


-- OAuth tokens: encrypted Google refresh tokens.
CREATE TABLE IF NOT EXISTS oauth_tokens (
    id TEXT PRIMARY KEY DEFAULT 'primary',
    refresh_token_enc BLOB NOT NULL,        -- AES-256-GCM encrypted
    scopes TEXT,
    created_at TEXT DEFAULT (datetime('now')),
    updated_at TEXT DEFAULT (datetime('now'))
);
`
