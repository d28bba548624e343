// Package exceptions records pipeline failures for later human review.
// Every fallible stage of message processing reports here instead of
// aborting the run; resolution is a manual action through the API.
package exceptions

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/seanmckay/hearth/internal/database"
	"github.com/seanmckay/hearth/internal/util"
)

type Repository struct {
	db *database.DB
}

func NewRepository(db *database.DB) *Repository {
	return &Repository{db: db}
}

// Record captures one failure. ctx is marshalled to JSON and stored as
// free-form context (message id, fingerprint, pack id, and so on). A nil
// ctx stores NULL.
func (r *Repository) Record(excType, severity, message string, ctx any) error {
	var contextJSON any
	if ctx != nil {
		data, err := json.Marshal(ctx)
		if err != nil {
			return fmt.Errorf("failed to marshal exception context: %w", err)
		}
		contextJSON = string(data)
	}

	_, err := r.db.Exec(`
		INSERT INTO exceptions (type, severity, message, context)
		VALUES (?, ?, ?, ?)`,
		excType, severity, message, contextJSON)
	if err != nil {
		return fmt.Errorf("failed to record exception: %w", err)
	}

	util.Warn("exception recorded", "type", excType, "severity", severity, "message", message)
	return nil
}

// Resolve marks one exception handled. Returns sql.ErrNoRows when the id
// does not exist or was already resolved.
func (r *Repository) Resolve(id int64) error {
	result, err := r.db.Exec(`
		UPDATE exceptions SET resolved = 1
		WHERE id = ? AND resolved = 0`, id)
	if err != nil {
		return fmt.Errorf("failed to resolve exception: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check resolve result: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListUnresolved returns open exceptions, newest first.
func (r *Repository) ListUnresolved(limit int) ([]*database.ExceptionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(`
		SELECT id, type, severity, message, context, resolved, created_at
		FROM exceptions
		WHERE resolved = 0
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list exceptions: %w", err)
	}
	defer rows.Close()

	var records []*database.ExceptionRecord
	for rows.Next() {
		rec, err := scanException(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// CountByType returns unresolved counts keyed by exception type, for the
// digest and the health surface.
func (r *Repository) CountByType() (map[string]int, error) {
	rows, err := r.db.Query(`
		SELECT type, COUNT(*) FROM exceptions
		WHERE resolved = 0
		GROUP BY type`)
	if err != nil {
		return nil, fmt.Errorf("failed to count exceptions: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var excType string
		var n int
		if err := rows.Scan(&excType, &n); err != nil {
			return nil, fmt.Errorf("failed to scan exception count: %w", err)
		}
		counts[excType] = n
	}
	return counts, rows.Err()
}

// DeleteResolvedBefore removes resolved exceptions older than the cutoff.
// Used by the retention worker; unresolved rows are never purged.
func (r *Repository) DeleteResolvedBefore(cutoff string) (int64, error) {
	result, err := r.db.Exec(`
		DELETE FROM exceptions
		WHERE resolved = 1 AND created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge exceptions: %w", err)
	}
	return result.RowsAffected()
}

func scanException(rows *sql.Rows) (*database.ExceptionRecord, error) {
	var rec database.ExceptionRecord
	var context sql.NullString
	var createdAt string

	if err := rows.Scan(&rec.ID, &rec.Type, &rec.Severity, &rec.Message,
		&context, &rec.Resolved, &createdAt); err != nil {
		return nil, fmt.Errorf("failed to scan exception: %w", err)
	}
	if context.Valid {
		rec.Context = json.RawMessage(context.String)
	}
	if t, err := util.ParseSQLiteTimestamp(createdAt); err == nil {
		rec.CreatedAt = t
	}
	return &rec, nil
}
