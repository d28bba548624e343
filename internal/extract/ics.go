// Package extract turns email content into calendar intents. Two paths
// feed it: ICS attachments, parsed line by line, and structured date
// patterns found in the subject and body text.
package extract

import (
	"strings"
	"time"

	"github.com/seanmckay/hearth/internal/database"
)

// ParseICS extracts event intents from an iCalendar payload. The parse
// is deliberately line-level: unfold continuations, walk VEVENT blocks,
// read the handful of properties we care about. Malformed blocks are
// skipped rather than failing the whole attachment.
func ParseICS(data []byte) []database.EventIntent {
	lines := unfoldLines(string(data))

	var intents []database.EventIntent
	var cur *icsEvent
	for _, line := range lines {
		switch {
		case line == "BEGIN:VEVENT":
			cur = &icsEvent{}
		case line == "END:VEVENT":
			if cur != nil {
				if intent, ok := cur.toIntent(); ok {
					intents = append(intents, intent)
				}
			}
			cur = nil
		case cur != nil:
			name, params, value := splitProperty(line)
			switch name {
			case "SUMMARY":
				cur.summary = unescapeText(value)
			case "LOCATION":
				cur.location = unescapeText(value)
			case "DESCRIPTION":
				cur.description = unescapeText(value)
			case "DTSTART":
				cur.start, cur.startDateOnly = parseICSTime(params, value)
			case "DTEND":
				cur.end, _ = parseICSTime(params, value)
			}
		}
	}
	return intents
}

type icsEvent struct {
	summary       string
	location      string
	description   string
	start         time.Time
	end           time.Time
	startDateOnly bool
}

func (e *icsEvent) toIntent() (database.EventIntent, bool) {
	if e.summary == "" || e.start.IsZero() {
		return database.EventIntent{}, false
	}
	intent := database.EventIntent{
		Title:       e.summary,
		Description: e.description,
		Location:    e.location,
		Start:       e.start,
		End:         e.end,
		AllDay:      e.startDateOnly,
	}
	if intent.End.IsZero() {
		if intent.AllDay {
			intent.End = intent.Start.Add(24 * time.Hour)
		} else {
			intent.End = intent.Start.Add(time.Hour)
		}
	}
	return intent, true
}

// unfoldLines joins RFC 5545 folded lines: a line starting with a space
// or tab continues the previous one.
func unfoldLines(data string) []string {
	raw := strings.Split(strings.ReplaceAll(data, "\r\n", "\n"), "\n")
	var lines []string
	for _, line := range raw {
		if (strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t")) && len(lines) > 0 {
			lines[len(lines)-1] += line[1:]
			continue
		}
		lines = append(lines, strings.TrimRight(line, "\r"))
	}
	return lines
}

// splitProperty splits "DTSTART;VALUE=DATE:20261218" into name, params,
// and value.
func splitProperty(line string) (name string, params map[string]string, value string) {
	idx := strings.Index(line, ":")
	if idx < 0 {
		return line, nil, ""
	}
	head, value := line[:idx], line[idx+1:]

	parts := strings.Split(head, ";")
	name = strings.ToUpper(parts[0])
	if len(parts) > 1 {
		params = make(map[string]string, len(parts)-1)
		for _, p := range parts[1:] {
			if k, v, ok := strings.Cut(p, "="); ok {
				params[strings.ToUpper(k)] = v
			}
		}
	}
	return name, params, value
}

// parseICSTime handles the three DTSTART/DTEND shapes that appear in
// practice: UTC timestamps, floating/TZID timestamps, and bare dates.
// A bare date marks the event all-day.
func parseICSTime(params map[string]string, value string) (time.Time, bool) {
	if params["VALUE"] == "DATE" || len(value) == 8 {
		if t, err := time.ParseInLocation("20060102", value, time.UTC); err == nil {
			return t, true
		}
		return time.Time{}, false
	}

	loc := time.Local
	if tzid := params["TZID"]; tzid != "" {
		if l, err := time.LoadLocation(tzid); err == nil {
			loc = l
		}
	}
	if strings.HasSuffix(value, "Z") {
		if t, err := time.Parse("20060102T150405Z", value); err == nil {
			return t, false
		}
	}
	if t, err := time.ParseInLocation("20060102T150405", value, loc); err == nil {
		return t, false
	}
	return time.Time{}, false
}

func unescapeText(s string) string {
	r := strings.NewReplacer(`\n`, "\n", `\N`, "\n", `\,`, ",", `\;`, ";", `\\`, `\`)
	return r.Replace(s)
}
