// Package tokens manages single-use approval tokens. A token is a
// capability over exactly one pending operation: the raw value is shown
// once in the notification link, only its SHA-256 hash is stored, and
// consumption is guarded by an atomic update so concurrent redemptions
// cannot both succeed.
package tokens

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/seanmckay/hearth/internal/crypto"
	"github.com/seanmckay/hearth/internal/database"
	"github.com/seanmckay/hearth/internal/util"
)

var (
	ErrNotFound    = errors.New("token not found")
	ErrAlreadyUsed = errors.New("token already used")
	ErrExpired     = errors.New("token expired")
)

type Repository struct {
	db  *database.DB
	ttl time.Duration
}

func NewRepository(db *database.DB, ttl time.Duration) *Repository {
	return &Repository{db: db, ttl: ttl}
}

// Issue creates a token for an operation and returns the raw value. The
// raw value never touches the database.
func (r *Repository) Issue(operationID string) (string, error) {
	raw, hash, err := crypto.GenerateApprovalToken()
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}

	expiresAt := time.Now().Add(r.ttl)
	_, err = r.db.Exec(`
		INSERT INTO approval_tokens (token_hash, operation_id, expires_at)
		VALUES (?, ?, ?)`,
		hash, operationID, util.SQLiteTimestamp(expiresAt))
	if err != nil {
		return "", fmt.Errorf("failed to store token: %w", err)
	}
	return raw, nil
}

// Validate looks up a raw token and checks it is still redeemable. The
// error distinguishes the three failure reasons so the API can tell the
// user which one applies.
func (r *Repository) Validate(raw string) (*database.ApprovalToken, error) {
	hash := crypto.HashSHA256(raw)

	var token database.ApprovalToken
	var expiresAt, createdAt string
	var consumedAt sql.NullString
	err := r.db.QueryRow(`
		SELECT token_hash, operation_id, expires_at, approved, consumed_at, created_at
		FROM approval_tokens WHERE token_hash = ?`, hash).
		Scan(&token.TokenHash, &token.OperationID, &expiresAt,
			&token.Approved, &consumedAt, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up token: %w", err)
	}

	if t, err := util.ParseSQLiteTimestamp(expiresAt); err == nil {
		token.ExpiresAt = t
	}
	if t, err := util.ParseSQLiteTimestamp(createdAt); err == nil {
		token.CreatedAt = t
	}
	if consumedAt.Valid {
		if t, err := util.ParseSQLiteTimestamp(consumedAt.String); err == nil {
			token.ConsumedAt = sql.NullTime{Time: t, Valid: true}
		}
		return &token, ErrAlreadyUsed
	}
	if time.Now().After(token.ExpiresAt) {
		return &token, ErrExpired
	}
	return &token, nil
}

// Consume redeems a token, recording the approve/reject decision it
// carried. The consumed_at guard makes the update atomic: of two
// concurrent redemptions, exactly one sees a row change.
func (r *Repository) Consume(raw string, approved bool) (*database.ApprovalToken, error) {
	token, err := r.Validate(raw)
	if err != nil {
		return nil, err
	}

	result, err := r.db.Exec(`
		UPDATE approval_tokens
		SET approved = ?, consumed_at = ?
		WHERE token_hash = ? AND consumed_at IS NULL`,
		approved, util.SQLiteTimestamp(time.Now()), token.TokenHash)
	if err != nil {
		return nil, fmt.Errorf("failed to consume token: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check consume result: %w", err)
	}
	if rows == 0 {
		// Lost the race to another redemption between Validate and here.
		return nil, ErrAlreadyUsed
	}

	token.Approved = approved
	token.ConsumedAt = sql.NullTime{Time: time.Now(), Valid: true}
	return token, nil
}

// DeleteExpired purges tokens past their expiry, consumed or not.
// Operations they gated stay pending; a fresh token can be issued.
func (r *Repository) DeleteExpired() (int64, error) {
	result, err := r.db.Exec(`
		DELETE FROM approval_tokens WHERE expires_at < ?`,
		util.SQLiteTimestamp(time.Now()))
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired tokens: %w", err)
	}
	return result.RowsAffected()
}
