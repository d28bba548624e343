// Package crypto provides token generation and hashing for approvals.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Base62 alphabet for token and ID generation
const base62Chars = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// GenerateApprovalToken creates a secure random token for approval links.
// Returns the token (to be used in URLs) and its hash (to be stored in DB).
// Format: atok_{base62_22_chars}
func GenerateApprovalToken() (token string, hash string, err error) {
	randomPart, err := generateBase62(22)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	token = "atok_" + randomPart
	hash = HashSHA256(token)

	return token, hash, nil
}

// HashSHA256 computes a SHA-256 hash of a token for storage.
func HashSHA256(data string) string {
	h := sha256.Sum256([]byte(data))
	return hex.EncodeToString(h[:])
}

// generateBase62 generates n random base62 characters.
func generateBase62(n int) (string, error) {
	bytes := make([]byte, n)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}

	result := make([]byte, n)
	for i := 0; i < n; i++ {
		result[i] = base62Chars[bytes[i]%62]
	}

	return string(result), nil
}

// GenerateID creates a short unique ID with prefix.
func GenerateID(prefix string, length int) (string, error) {
	randomPart, err := generateBase62(length)
	if err != nil {
		return "", fmt.Errorf("failed to generate id: %w", err)
	}
	return prefix + randomPart, nil
}

// Convenience functions for common ID types

// GenerateEventID creates an event ID (evt_ prefix).
func GenerateEventID() (string, error) {
	return GenerateID("evt_", 16)
}

// GenerateOperationID creates an operation ID (op_ prefix).
func GenerateOperationID() (string, error) {
	return GenerateID("op_", 16)
}
