package util

import (
	"time"
	"unicode/utf8"
)

// SQLiteTimestamp formats a time the way SQLite's datetime('now') does.
func SQLiteTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05")
}

// ParseSQLiteTimestamp parses a SQLite timestamp.
func ParseSQLiteTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

// DateKey returns the calendar date key (YYYY-MM-DD) for a time.
func DateKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// TruncateString shortens a string to at most n runes, appending an
// ellipsis when anything was cut.
func TruncateString(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "..."
}
