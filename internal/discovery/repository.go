// Package discovery runs scan sessions over the mailbox: score candidate
// emails, capture evidence, surface review queue items, and propose
// config changes (new sources, keywords, platforms) from what a scan saw.
package discovery

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/seanmckay/hearth/internal/database"
	"github.com/seanmckay/hearth/internal/util"
)

type Repository struct {
	db *database.DB
}

func NewRepository(db *database.DB) *Repository {
	return &Repository{db: db}
}

// newID returns a prefixed UUID for discovery rows.
func newID(prefix string) string {
	return prefix + uuid.NewString()
}

// CreateSession opens a new session in the running state.
func (r *Repository) CreateSession(packID string) (*database.DiscoverySession, error) {
	id := newID("ses_")

	_, err := r.db.Exec(`
		INSERT INTO discovery_sessions (id, pack_id, status)
		VALUES (?, ?, ?)`, id, packID, database.SessionRunning)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return &database.DiscoverySession{
		ID:        id,
		PackID:    packID,
		StartedAt: time.Now(),
		Status:    database.SessionRunning,
	}, nil
}

// FinalizeSession closes a session, storing the output blob and final
// counters. Sessions are append-only history and never deleted from here.
func (r *Repository) FinalizeSession(id, status string, emailsScanned int, output any) error {
	var outputJSON any
	if output != nil {
		data, err := json.Marshal(output)
		if err != nil {
			return fmt.Errorf("failed to marshal session output: %w", err)
		}
		outputJSON = string(data)
	}

	_, err := r.db.Exec(`
		UPDATE discovery_sessions
		SET status = ?, emails_scanned = ?, output = ?, completed_at = ?
		WHERE id = ?`,
		status, emailsScanned, outputJSON, util.SQLiteTimestamp(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to finalize session: %w", err)
	}
	return nil
}

// GetSession returns one session, or nil when unknown.
func (r *Repository) GetSession(id string) (*database.DiscoverySession, error) {
	var session database.DiscoverySession
	var startedAt string
	var completedAt, output sql.NullString

	err := r.db.QueryRow(`
		SELECT id, pack_id, started_at, completed_at, emails_scanned, status, output
		FROM discovery_sessions WHERE id = ?`, id).
		Scan(&session.ID, &session.PackID, &startedAt, &completedAt,
			&session.EmailsScanned, &session.Status, &output)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	if t, err := util.ParseSQLiteTimestamp(startedAt); err == nil {
		session.StartedAt = t
	}
	if completedAt.Valid {
		if t, err := util.ParseSQLiteTimestamp(completedAt.String); err == nil {
			session.CompletedAt = sql.NullTime{Time: t, Valid: true}
		}
	}
	if output.Valid {
		session.Output = json.RawMessage(output.String)
	}
	return &session, nil
}

// AddEvidence records one scored email under a session. Snippets are
// trimmed before storage; evidence rows are immutable afterward.
func (r *Repository) AddEvidence(ev *database.Evidence) error {
	if ev.ID == "" {
		ev.ID = newID("evd_")
	}

	rules, err := json.Marshal(ev.MatchedRules)
	if err != nil {
		return fmt.Errorf("failed to marshal matched rules: %w", err)
	}

	_, err = r.db.Exec(`
		INSERT INTO evidence (id, session_id, message_id, subject, sender, date, snippet, score, matched_rules)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.SessionID, ev.MessageID, ev.Subject, ev.Sender,
		util.SQLiteTimestamp(ev.Date), util.TruncateString(ev.Snippet, 160),
		ev.Score, string(rules))
	if err != nil {
		return fmt.Errorf("failed to add evidence: %w", err)
	}
	return nil
}

// ListEvidence returns a session's evidence in insertion order.
func (r *Repository) ListEvidence(sessionID string) ([]*database.Evidence, error) {
	rows, err := r.db.Query(`
		SELECT id, session_id, message_id, subject, sender, date, snippet, score, matched_rules
		FROM evidence WHERE session_id = ?
		ORDER BY rowid`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list evidence: %w", err)
	}
	defer rows.Close()

	var evidence []*database.Evidence
	for rows.Next() {
		var ev database.Evidence
		var date string
		var rules sql.NullString
		if err := rows.Scan(&ev.ID, &ev.SessionID, &ev.MessageID, &ev.Subject,
			&ev.Sender, &date, &ev.Snippet, &ev.Score, &rules); err != nil {
			return nil, fmt.Errorf("failed to scan evidence: %w", err)
		}
		if t, err := util.ParseSQLiteTimestamp(date); err == nil {
			ev.Date = t
		}
		if rules.Valid {
			if err := json.Unmarshal([]byte(rules.String), &ev.MatchedRules); err != nil {
				return nil, fmt.Errorf("failed to unmarshal matched rules: %w", err)
			}
		}
		evidence = append(evidence, &ev)
	}
	return evidence, rows.Err()
}

// AddQueueItem surfaces one discovery find for human review.
func (r *Repository) AddQueueItem(item *database.QueueItem) error {
	if item.ID == "" {
		item.ID = newID("qi_")
	}
	if item.Status == "" {
		item.Status = database.QueueItemPending
	}
	if item.ItemType == "" {
		item.ItemType = database.ItemTypeAnnouncement
	}

	_, err := r.db.Exec(`
		INSERT INTO queue_items (id, session_id, message_id, category, person,
			item_type, obligation_date, confidence, reasoning, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.SessionID, item.MessageID, item.Category, item.Person,
		item.ItemType, item.ObligationDate, item.Confidence, item.Reasoning,
		item.Status)
	if err != nil {
		return fmt.Errorf("failed to add queue item: %w", err)
	}
	return nil
}

// ListQueueItems returns items in a given status for review surfaces.
func (r *Repository) ListQueueItems(status string, limit int) ([]*database.QueueItem, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(`
		SELECT id, session_id, message_id, category, person, item_type,
			obligation_date, confidence, reasoning, status, created_at
		FROM queue_items WHERE status = ?
		ORDER BY created_at DESC LIMIT ?`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue items: %w", err)
	}
	defer rows.Close()

	var items []*database.QueueItem
	for rows.Next() {
		var item database.QueueItem
		var category sql.NullString
		var createdAt string
		if err := rows.Scan(&item.ID, &item.SessionID, &item.MessageID,
			&category, &item.Person, &item.ItemType, &item.ObligationDate,
			&item.Confidence, &item.Reasoning, &item.Status, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan queue item: %w", err)
		}
		item.Category = category.String
		if t, err := util.ParseSQLiteTimestamp(createdAt); err == nil {
			item.CreatedAt = t
		}
		items = append(items, &item)
	}
	return items, rows.Err()
}

// SetQueueItemStatus moves a queue item out of pending review.
func (r *Repository) SetQueueItemStatus(id, status string) error {
	result, err := r.db.Exec(`
		UPDATE queue_items SET status = ?
		WHERE id = ? AND status = ?`,
		status, id, database.QueueItemPending)
	if err != nil {
		return fmt.Errorf("failed to update queue item: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check queue item update: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("queue item %s is not pending", id)
	}
	return nil
}

// DeleteSessionDataBefore purges evidence and queue items belonging to
// completed sessions older than the cutoff. Session rows themselves are
// kept as history.
func (r *Repository) DeleteSessionDataBefore(cutoff string) (int64, error) {
	result, err := r.db.Exec(`
		DELETE FROM evidence WHERE session_id IN (
			SELECT id FROM discovery_sessions
			WHERE status != ? AND started_at < ?)`,
		database.SessionRunning, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge evidence: %w", err)
	}
	deleted, _ := result.RowsAffected()

	result, err = r.db.Exec(`
		DELETE FROM queue_items WHERE status != ? AND session_id IN (
			SELECT id FROM discovery_sessions
			WHERE status != ? AND started_at < ?)`,
		database.QueueItemPending, database.SessionRunning, cutoff)
	if err != nil {
		return deleted, fmt.Errorf("failed to purge queue items: %w", err)
	}
	n, _ := result.RowsAffected()
	return deleted + n, nil
}
