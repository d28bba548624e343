package engine

import (
	"context"
	"fmt"

	"github.com/seanmckay/hearth/internal/config"
	"github.com/seanmckay/hearth/internal/database"
	"github.com/seanmckay/hearth/internal/google"
	"github.com/seanmckay/hearth/internal/util"
)

// FieldDiff is one field that differs between the stored intent and the
// calendar's current copy.
type FieldDiff struct {
	Field  string `json:"field"`
	Stored string `json:"stored"`
	Remote string `json:"remote"`
}

// DriftReport describes how a synced event has drifted. Deleted means
// the remote copy is gone entirely.
type DriftReport struct {
	EventID string      `json:"eventId"`
	Deleted bool        `json:"deleted"`
	Diffs   []FieldDiff `json:"diffs,omitempty"`
}

// ReconcileEvent compares a synced event's stored intent against the
// calendar and records any drift. It never mutates operation state:
// under respect_manual the event is marked manually edited and left
// alone; under flag_conflict the drift is raised as an exception.
func (e *Engine) ReconcileEvent(ctx context.Context, event *database.PersistedEvent) (*DriftReport, error) {
	if !event.CalendarEventID.Valid {
		return nil, fmt.Errorf("event %s has no calendar event id", event.ID)
	}

	remote, err := e.calendar.GetEvent(ctx, event.CalendarEventID.String)
	if err != nil {
		return nil, err
	}

	report := &DriftReport{EventID: event.ID}
	if remote == nil {
		report.Deleted = true
	} else {
		report.Diffs = diffIntent(&event.Intent, remote)
	}
	if !report.Deleted && len(report.Diffs) == 0 {
		return nil, nil
	}

	e.audit.Record(database.AuditDriftDetected, event.ID, "reconciler", report)

	switch e.cfg.Pipeline.DriftPolicy {
	case config.DriftFlagConflict:
		if recErr := e.exceptions.Record(database.ExcOther, database.SeverityWarning,
			"calendar event drifted from stored intent", report); recErr != nil {
			util.Error("failed to record drift exception", "error", recErr)
		}
	default: // respect_manual
		if !event.ManuallyEdited {
			if err := e.repo.SetManuallyEdited(event.ID, true); err != nil {
				util.Error("failed to mark event manually edited", "event_id", event.ID, "error", err)
			}
		}
	}
	return report, nil
}

func diffIntent(intent *database.EventIntent, remote *google.CalendarEvent) []FieldDiff {
	var diffs []FieldDiff
	add := func(field, stored, current string) {
		if stored != current {
			diffs = append(diffs, FieldDiff{Field: field, Stored: stored, Remote: current})
		}
	}

	add("title", intent.Title, remote.Title)
	add("location", intent.Location, remote.Location)

	if intent.AllDay || remote.AllDay {
		add("date", intent.Start.Format("2006-01-02"), remote.Start.Format("2006-01-02"))
		add("allDay", fmt.Sprint(intent.AllDay), fmt.Sprint(remote.AllDay))
	} else {
		if !intent.Start.Equal(remote.Start) {
			diffs = append(diffs, FieldDiff{
				Field:  "start",
				Stored: intent.Start.UTC().Format("2006-01-02 15:04"),
				Remote: remote.Start.UTC().Format("2006-01-02 15:04"),
			})
		}
		if !intent.End.IsZero() && !remote.End.IsZero() && !intent.End.Equal(remote.End) {
			diffs = append(diffs, FieldDiff{
				Field:  "end",
				Stored: intent.End.UTC().Format("2006-01-02 15:04"),
				Remote: remote.End.UTC().Format("2006-01-02 15:04"),
			})
		}
	}
	return diffs
}
