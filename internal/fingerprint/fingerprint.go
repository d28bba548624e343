// Package fingerprint derives the deterministic identity hash for a
// calendar-event intent, used to prevent duplicate creation.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode"

	"github.com/seanmckay/hearth/internal/database"
)

// AllDayKey is the time key used for all-day events.
const AllDayKey = "allday"

// identity is the fixed-shape record hashed to produce a fingerprint.
// Composing a struct (not a free-form map) keeps serialization order stable.
type identity struct {
	MessageID string
	TitleKey  string
	DateKey   string
	TimeKey   string
}

// Compute returns the fingerprint for a message/intent pair. Two
// extractions of the same human event collide on this key regardless of
// extraction method; two different events in one email do not.
func Compute(messageID string, intent database.EventIntent) string {
	id := identity{
		MessageID: messageID,
		TitleKey:  NormalizeTitle(intent.Title),
		DateKey:   DateKey(intent),
		TimeKey:   TimeKey(intent),
	}

	canonical := fmt.Sprintf("v1|%s|%s|%s|%s", id.MessageID, id.TitleKey, id.DateKey, id.TimeKey)
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// NormalizeTitle lowercases, strips punctuation, and collapses whitespace
// so cosmetic differences ("Winter Concert!!" vs "winter concert") do not
// produce distinct identities.
func NormalizeTitle(title string) string {
	var b strings.Builder
	b.Grow(len(title))

	for _, r := range strings.ToLower(title) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
		// Punctuation and symbols are dropped.
	}

	return strings.Join(strings.Fields(b.String()), " ")
}

// DateKey returns the YYYY-MM-DD key for an intent.
func DateKey(intent database.EventIntent) string {
	return intent.Start.Format("2006-01-02")
}

// TimeKey returns the HH:mm key for an intent, or AllDayKey.
func TimeKey(intent database.EventIntent) string {
	if intent.AllDay {
		return AllDayKey
	}
	return intent.Start.Format("15:04")
}
