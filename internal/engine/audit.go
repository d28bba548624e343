package engine

import (
	"database/sql"
	"encoding/json"

	"github.com/seanmckay/hearth/internal/database"
	"github.com/seanmckay/hearth/internal/util"
)

// AuditLogger appends to the audit trail after a state change has
// committed. It never returns an error to the caller: a failed audit
// write is logged and the business mutation stands, so state-machine
// code stays testable without a working audit sink.
type AuditLogger struct {
	db *database.DB
}

func NewAuditLogger(db *database.DB) *AuditLogger {
	return &AuditLogger{db: db}
}

func (a *AuditLogger) Record(eventType, subjectID, actor string, details any) {
	var detailsJSON any
	if details != nil {
		data, err := json.Marshal(details)
		if err != nil {
			util.Error("failed to marshal audit details", "event_type", eventType, "error", err)
		} else {
			detailsJSON = string(data)
		}
	}

	var subject, act any
	if subjectID != "" {
		subject = subjectID
	}
	if actor != "" {
		act = actor
	}

	_, err := a.db.Exec(`
		INSERT INTO audit_log (event_type, subject_id, actor, details)
		VALUES (?, ?, ?, ?)`, eventType, subject, act, detailsJSON)
	if err != nil {
		util.Error("failed to write audit log", "event_type", eventType, "error", err)
	}
}

// Recent returns the newest audit entries for the API surface.
func (a *AuditLogger) Recent(limit int) ([]*database.AuditLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := a.db.Query(`
		SELECT id, timestamp, event_type, subject_id, actor, details
		FROM audit_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*database.AuditLogEntry
	for rows.Next() {
		var entry database.AuditLogEntry
		var ts string
		var details sql.NullString
		if err := rows.Scan(&entry.ID, &ts, &entry.EventType,
			&entry.SubjectID, &entry.Actor, &details); err != nil {
			return nil, err
		}
		if t, err := util.ParseSQLiteTimestamp(ts); err == nil {
			entry.Timestamp = t
		}
		if details.Valid {
			entry.Details = json.RawMessage(details.String)
		}
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}

// DeleteBefore purges audit rows older than the cutoff.
func (a *AuditLogger) DeleteBefore(cutoff string) (int64, error) {
	result, err := a.db.Exec(`DELETE FROM audit_log WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
