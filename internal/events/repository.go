// Package events persists extracted calendar intents and the mutation
// operations derived from them. The UNIQUE fingerprint column on the
// events table is the single arbiter of deduplication: a second insert
// with the same fingerprint fails at the database, not in application
// logic.
package events

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/seanmckay/hearth/internal/crypto"
	"github.com/seanmckay/hearth/internal/database"
	"github.com/seanmckay/hearth/internal/util"
)

// ErrDuplicateFingerprint reports that an event with the same fingerprint
// already exists. Callers treat this as the dedup signal, not a failure.
var ErrDuplicateFingerprint = errors.New("event fingerprint already exists")

type Repository struct {
	db *database.DB
}

func NewRepository(db *database.DB) *Repository {
	return &Repository{db: db}
}

// CreateEvent inserts a new event row. The fingerprint UNIQUE constraint
// makes this the dedup gate: a constraint violation is surfaced as
// ErrDuplicateFingerprint.
func (r *Repository) CreateEvent(event *database.PersistedEvent) error {
	if event.ID == "" {
		id, err := crypto.GenerateEventID()
		if err != nil {
			return fmt.Errorf("failed to generate event id: %w", err)
		}
		event.ID = id
	}
	if event.Status == "" {
		event.Status = database.EventPendingApproval
	}

	intentJSON, err := json.Marshal(event.Intent)
	if err != nil {
		return fmt.Errorf("failed to marshal intent: %w", err)
	}

	_, err = r.db.Exec(`
		INSERT INTO events (id, fingerprint, message_id, pack_id, intent,
			title_key, date_key, confidence, status, manually_edited)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.Fingerprint, event.MessageID, event.PackID,
		string(intentJSON), event.TitleKey, event.DateKey,
		event.Confidence, event.Status, event.ManuallyEdited)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateFingerprint
		}
		return fmt.Errorf("failed to create event: %w", err)
	}
	return nil
}

// FindByFingerprint returns the event for a fingerprint, or nil when none
// exists.
func (r *Repository) FindByFingerprint(fingerprint string) (*database.PersistedEvent, error) {
	row := r.db.QueryRow(`
		SELECT id, fingerprint, message_id, pack_id, calendar_event_id,
			intent, title_key, date_key, confidence, status,
			manually_edited, error, created_at, updated_at
		FROM events WHERE fingerprint = ?`, fingerprint)
	return scanEvent(row)
}

// FindByID returns the event with the given id, or nil.
func (r *Repository) FindByID(id string) (*database.PersistedEvent, error) {
	row := r.db.QueryRow(`
		SELECT id, fingerprint, message_id, pack_id, calendar_event_id,
			intent, title_key, date_key, confidence, status,
			manually_edited, error, created_at, updated_at
		FROM events WHERE id = ?`, id)
	return scanEvent(row)
}

// FindSimilarInWindow returns events sharing the normalized title whose
// date key falls within the dedup window around the given date. Used to
// block near-duplicate creations that differ only in message id.
func (r *Repository) FindSimilarInWindow(titleKey, dateKey string, window time.Duration) ([]*database.PersistedEvent, error) {
	date, err := time.Parse("2006-01-02", dateKey)
	if err != nil {
		return nil, fmt.Errorf("bad date key %q: %w", dateKey, err)
	}
	lo := date.Add(-window).Format("2006-01-02")
	hi := date.Add(window).Format("2006-01-02")

	rows, err := r.db.Query(`
		SELECT id, fingerprint, message_id, pack_id, calendar_event_id,
			intent, title_key, date_key, confidence, status,
			manually_edited, error, created_at, updated_at
		FROM events
		WHERE title_key = ? AND date_key >= ? AND date_key <= ?
		ORDER BY created_at`, titleKey, lo, hi)
	if err != nil {
		return nil, fmt.Errorf("failed to query similar events: %w", err)
	}
	defer rows.Close()

	var events []*database.PersistedEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// ListByStatus returns events in a given status, oldest first.
func (r *Repository) ListByStatus(status string, limit int) ([]*database.PersistedEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(`
		SELECT id, fingerprint, message_id, pack_id, calendar_event_id,
			intent, title_key, date_key, confidence, status,
			manually_edited, error, created_at, updated_at
		FROM events WHERE status = ?
		ORDER BY created_at LIMIT ?`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var events []*database.PersistedEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// TransitionEvent moves an event from one status to another, refusing the
// update when the row is no longer in the expected state.
func (r *Repository) TransitionEvent(id, from, to string) error {
	result, err := r.db.Exec(`
		UPDATE events SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		to, util.SQLiteTimestamp(time.Now()), id, from)
	if err != nil {
		return fmt.Errorf("failed to transition event: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check transition result: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("event %s is not in status %s", id, from)
	}
	return nil
}

// SetCalendarEventID records the calendar id after a successful create or
// update, moving the event into the given terminal status.
func (r *Repository) SetCalendarEventID(id, calendarEventID, status string) error {
	_, err := r.db.Exec(`
		UPDATE events SET calendar_event_id = ?, status = ?, error = NULL, updated_at = ?
		WHERE id = ?`,
		calendarEventID, status, util.SQLiteTimestamp(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to set calendar event id: %w", err)
	}
	return nil
}

// MarkEventFailed records the failure message and moves the event to
// failed.
func (r *Repository) MarkEventFailed(id, message string) error {
	_, err := r.db.Exec(`
		UPDATE events SET status = ?, error = ?, updated_at = ?
		WHERE id = ?`,
		database.EventFailed, message, util.SQLiteTimestamp(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to mark event failed: %w", err)
	}
	return nil
}

// SetManuallyEdited flags an event whose calendar copy was changed by a
// human. Under the respect_manual drift policy this blocks future
// automatic updates.
func (r *Repository) SetManuallyEdited(id string, edited bool) error {
	_, err := r.db.Exec(`
		UPDATE events SET manually_edited = ?, updated_at = ?
		WHERE id = ?`,
		edited, util.SQLiteTimestamp(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to flag manual edit: %w", err)
	}
	return nil
}

// CreateOperation inserts a new calendar operation paired with an
// existing event fingerprint.
func (r *Repository) CreateOperation(op *database.CalendarOperation) error {
	if op.ID == "" {
		id, err := crypto.GenerateOperationID()
		if err != nil {
			return fmt.Errorf("failed to generate operation id: %w", err)
		}
		op.ID = id
	}
	if op.Status == "" {
		op.Status = database.OpPending
	}

	intentJSON, err := json.Marshal(op.Intent)
	if err != nil {
		return fmt.Errorf("failed to marshal intent: %w", err)
	}

	_, err = r.db.Exec(`
		INSERT INTO operations (id, type, event_fingerprint, intent,
			reason, requires_approval, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		op.ID, op.Type, op.EventFingerprint, string(intentJSON),
		op.Reason, op.RequiresApproval, op.Status)
	if err != nil {
		return fmt.Errorf("failed to create operation: %w", err)
	}
	return nil
}

// GetOperation returns one operation by id, or nil.
func (r *Repository) GetOperation(id string) (*database.CalendarOperation, error) {
	row := r.db.QueryRow(`
		SELECT id, type, event_fingerprint, intent, reason,
			requires_approval, status, calendar_event_id, error,
			created_at, decided_at, executed_at
		FROM operations WHERE id = ?`, id)
	return scanOperation(row)
}

// ListPendingOperations returns operations awaiting a decision, oldest
// first.
func (r *Repository) ListPendingOperations(limit int) ([]*database.CalendarOperation, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(`
		SELECT id, type, event_fingerprint, intent, reason,
			requires_approval, status, calendar_event_id, error,
			created_at, decided_at, executed_at
		FROM operations WHERE status = ?
		ORDER BY created_at LIMIT ?`, database.OpPending, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list operations: %w", err)
	}
	defer rows.Close()

	var ops []*database.CalendarOperation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// FindLatestOperation returns the most recently created operation in
// any status, or nil when none exist.
func (r *Repository) FindLatestOperation() (*database.CalendarOperation, error) {
	row := r.db.QueryRow(`
		SELECT id, type, event_fingerprint, intent, reason,
			requires_approval, status, calendar_event_id, error,
			created_at, decided_at, executed_at
		FROM operations ORDER BY created_at DESC, rowid DESC LIMIT 1`)
	return scanOperation(row)
}

// FindOperationForEvent returns the most recent operation paired with an
// event fingerprint, or nil.
func (r *Repository) FindOperationForEvent(fingerprint string) (*database.CalendarOperation, error) {
	row := r.db.QueryRow(`
		SELECT id, type, event_fingerprint, intent, reason,
			requires_approval, status, calendar_event_id, error,
			created_at, decided_at, executed_at
		FROM operations WHERE event_fingerprint = ?
		ORDER BY created_at DESC, rowid DESC LIMIT 1`, fingerprint)
	return scanOperation(row)
}

// DecideOperation records the approve/reject decision. The status guard
// makes concurrent decisions race-safe: only one caller moves the row out
// of pending.
func (r *Repository) DecideOperation(id, decision string) error {
	if decision != database.OpApproved && decision != database.OpRejected {
		return fmt.Errorf("invalid decision %q", decision)
	}
	result, err := r.db.Exec(`
		UPDATE operations SET status = ?, decided_at = ?
		WHERE id = ? AND status = ?`,
		decision, util.SQLiteTimestamp(time.Now()), id, database.OpPending)
	if err != nil {
		return fmt.Errorf("failed to decide operation: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check decision result: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("operation %s is not pending", id)
	}
	return nil
}

// RejectOperation moves a pending operation to rejected, attaching the
// rejection reason. Same race guard as DecideOperation.
func (r *Repository) RejectOperation(id, reason string) error {
	result, err := r.db.Exec(`
		UPDATE operations SET status = ?, error = ?, decided_at = ?
		WHERE id = ? AND status = ?`,
		database.OpRejected, reason, util.SQLiteTimestamp(time.Now()),
		id, database.OpPending)
	if err != nil {
		return fmt.Errorf("failed to reject operation: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rejection result: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("operation %s is not pending", id)
	}
	return nil
}

// FlagEvent moves an event to flagged with an explanatory note,
// whatever state it was in.
func (r *Repository) FlagEvent(id, note string) error {
	_, err := r.db.Exec(`
		UPDATE events SET status = ?, error = ?, updated_at = ?
		WHERE id = ?`,
		database.EventFlagged, note, util.SQLiteTimestamp(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to flag event: %w", err)
	}
	return nil
}

// MarkOperationExecuted moves an operation to its terminal executed state
// and records the calendar event it touched.
func (r *Repository) MarkOperationExecuted(id, calendarEventID string) error {
	_, err := r.db.Exec(`
		UPDATE operations SET status = ?, calendar_event_id = ?, executed_at = ?
		WHERE id = ?`,
		database.OpExecuted, calendarEventID, util.SQLiteTimestamp(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to mark operation executed: %w", err)
	}
	return nil
}

// MarkOperationFailed records the failure and moves the operation to its
// terminal failed state.
func (r *Repository) MarkOperationFailed(id, message string) error {
	_, err := r.db.Exec(`
		UPDATE operations SET status = ?, error = ?, executed_at = ?
		WHERE id = ?`,
		database.OpFailed, message, util.SQLiteTimestamp(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to mark operation failed: %w", err)
	}
	return nil
}

// MarkMessageProcessed records a message as handled, with how many events
// it produced. Idempotent per message.
func (r *Repository) MarkMessageProcessed(messageID, packID string, eventsExtracted int) error {
	_, err := r.db.Exec(`
		INSERT INTO processed_messages (message_id, pack_id, events_extracted)
		VALUES (?, ?, ?)
		ON CONFLICT(message_id) DO UPDATE SET events_extracted = excluded.events_extracted`,
		messageID, packID, eventsExtracted)
	if err != nil {
		return fmt.Errorf("failed to mark message processed: %w", err)
	}
	return nil
}

// IsMessageProcessed reports whether a message has already been handled.
func (r *Repository) IsMessageProcessed(messageID string) (bool, error) {
	var one int
	err := r.db.QueryRow(`
		SELECT 1 FROM processed_messages WHERE message_id = ?`, messageID).Scan(&one)
	switch {
	case err == sql.ErrNoRows:
		return false, nil
	case err != nil:
		return false, fmt.Errorf("failed to check processed message: %w", err)
	}
	return true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*database.PersistedEvent, error) {
	var event database.PersistedEvent
	var intentJSON, createdAt string
	var updatedAt sql.NullString

	err := row.Scan(&event.ID, &event.Fingerprint, &event.MessageID,
		&event.PackID, &event.CalendarEventID, &intentJSON,
		&event.TitleKey, &event.DateKey, &event.Confidence,
		&event.Status, &event.ManuallyEdited, &event.Error,
		&createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan event: %w", err)
	}

	if err := json.Unmarshal([]byte(intentJSON), &event.Intent); err != nil {
		return nil, fmt.Errorf("failed to unmarshal intent: %w", err)
	}
	if t, err := util.ParseSQLiteTimestamp(createdAt); err == nil {
		event.CreatedAt = t
	}
	if updatedAt.Valid {
		if t, err := util.ParseSQLiteTimestamp(updatedAt.String); err == nil {
			event.UpdatedAt = sql.NullTime{Time: t, Valid: true}
		}
	}
	return &event, nil
}

func scanOperation(row rowScanner) (*database.CalendarOperation, error) {
	var op database.CalendarOperation
	var intentJSON, createdAt string
	var reason sql.NullString
	var decidedAt, executedAt sql.NullString

	err := row.Scan(&op.ID, &op.Type, &op.EventFingerprint, &intentJSON,
		&reason, &op.RequiresApproval, &op.Status, &op.CalendarEventID,
		&op.Error, &createdAt, &decidedAt, &executedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan operation: %w", err)
	}

	if err := json.Unmarshal([]byte(intentJSON), &op.Intent); err != nil {
		return nil, fmt.Errorf("failed to unmarshal intent: %w", err)
	}
	op.Reason = reason.String
	if t, err := util.ParseSQLiteTimestamp(createdAt); err == nil {
		op.CreatedAt = t
	}
	if decidedAt.Valid {
		if t, err := util.ParseSQLiteTimestamp(decidedAt.String); err == nil {
			op.DecidedAt = sql.NullTime{Time: t, Valid: true}
		}
	}
	if executedAt.Valid {
		if t, err := util.ParseSQLiteTimestamp(executedAt.String); err == nil {
			op.ExecutedAt = sql.NullTime{Time: t, Valid: true}
		}
	}
	return &op, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	// Fallback for wrapped drivers.
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
