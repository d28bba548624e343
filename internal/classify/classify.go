// Package classify asks an AI model what a relevant email actually is:
// an obligation with a date attached, or a plain announcement. The
// classifier is advisory; when it fails or talks nonsense the pipeline
// proceeds with a neutral fallback rather than stalling on the item.
package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/seanmckay/hearth/internal/database"
)

// Result is one classification. Category and Person are free-form model
// output; ItemType is constrained to the known values.
type Result struct {
	ItemType       string   `json:"item_type"`
	Category       string   `json:"category"`
	Person         string   `json:"person,omitempty"`
	ObligationDate string   `json:"obligation_date,omitempty"` // YYYY-MM-DD
	Confidence     float64  `json:"confidence"`
	Reasoning      string   `json:"reasoning,omitempty"`
	EventTitles    []string `json:"event_titles,omitempty"`
}

// Classifier is the AI collaborator interface the pipeline consumes.
type Classifier interface {
	Classify(ctx context.Context, subject, sender, body string) (*Result, error)
}

// Neutral is the fallback applied when classification fails: an
// announcement, no obligation date, confidence pinned to 0.5.
func Neutral() *Result {
	return &Result{
		ItemType:   database.ItemTypeAnnouncement,
		Confidence: 0.5,
	}
}

// Sanitize clamps model output into the value space the rest of the
// system trusts. Unknown item types and out-of-range confidences come
// back from real models often enough to guard here.
func Sanitize(r *Result) *Result {
	if r == nil {
		return Neutral()
	}
	if r.ItemType != database.ItemTypeObligation && r.ItemType != database.ItemTypeAnnouncement {
		r.ItemType = database.ItemTypeAnnouncement
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		r.Confidence = 0.5
	}
	if r.ObligationDate != "" {
		if _, err := time.Parse("2006-01-02", r.ObligationDate); err != nil {
			r.ObligationDate = ""
		}
	}
	return r
}

// parseModelJSON strips markdown code fences models wrap JSON in and
// unmarshals the result.
func parseModelJSON(text string) (*Result, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var result Result
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		return nil, fmt.Errorf("failed to parse classifier output: %w", err)
	}
	return &result, nil
}
