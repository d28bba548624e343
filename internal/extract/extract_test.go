package extract

import (
	"testing"
	"time"
)

const sampleICS = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"BEGIN:VEVENT\r\n" +
	"SUMMARY:Winter Concert\r\n" +
	"DTSTART:20261218T180000Z\r\n" +
	"DTEND:20261218T193000Z\r\n" +
	"LOCATION:School Auditorium\\, Main Hall\r\n" +
	"DESCRIPTION:Doors open at 5:30.\\nArrive early.\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func TestParseICS(t *testing.T) {
	intents := ParseICS([]byte(sampleICS))
	if len(intents) != 1 {
		t.Fatalf("got %d intents, want 1", len(intents))
	}

	intent := intents[0]
	if intent.Title != "Winter Concert" {
		t.Errorf("title = %q", intent.Title)
	}
	if intent.Location != "School Auditorium, Main Hall" {
		t.Errorf("escaped comma not unescaped: %q", intent.Location)
	}
	if intent.Description != "Doors open at 5:30.\nArrive early." {
		t.Errorf("description = %q", intent.Description)
	}
	want := time.Date(2026, 12, 18, 18, 0, 0, 0, time.UTC)
	if !intent.Start.Equal(want) {
		t.Errorf("start = %v, want %v", intent.Start, want)
	}
	if intent.AllDay {
		t.Error("timed event marked all-day")
	}
}

func TestParseICSDateOnlyIsAllDay(t *testing.T) {
	ics := "BEGIN:VEVENT\r\n" +
		"SUMMARY:Teacher Workday\r\n" +
		"DTSTART;VALUE=DATE:20261218\r\n" +
		"END:VEVENT\r\n"

	intents := ParseICS([]byte(ics))
	if len(intents) != 1 {
		t.Fatalf("got %d intents, want 1", len(intents))
	}
	if !intents[0].AllDay {
		t.Error("date-only DTSTART should mark all-day")
	}
	if got := intents[0].End.Sub(intents[0].Start); got != 24*time.Hour {
		t.Errorf("all-day default span = %v", got)
	}
}

func TestParseICSFoldedLines(t *testing.T) {
	ics := "BEGIN:VEVENT\r\n" +
		"SUMMARY:Spring Science\r\n" +
		" Fair\r\n" +
		"DTSTART:20260410T090000\r\n" +
		"END:VEVENT\r\n"

	intents := ParseICS([]byte(ics))
	if len(intents) != 1 {
		t.Fatalf("got %d intents, want 1", len(intents))
	}
	if intents[0].Title != "Spring ScienceFair" {
		t.Errorf("folded summary = %q", intents[0].Title)
	}
}

func TestParseICSSkipsMalformedBlocks(t *testing.T) {
	ics := "BEGIN:VEVENT\r\n" +
		"DTSTART:20261218T180000Z\r\n" + // no SUMMARY
		"END:VEVENT\r\n" +
		"BEGIN:VEVENT\r\n" +
		"SUMMARY:Valid One\r\n" +
		"DTSTART:20261219T100000Z\r\n" +
		"END:VEVENT\r\n"

	intents := ParseICS([]byte(ics))
	if len(intents) != 1 || intents[0].Title != "Valid One" {
		t.Fatalf("malformed block not skipped: %+v", intents)
	}
}

func TestFindDateMonthName(t *testing.T) {
	ref := time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)

	start, hasTime, ok := FindDate("Picture day is September 14th at 9:00 AM sharp", ref)
	if !ok {
		t.Fatal("no date found")
	}
	if !hasTime {
		t.Error("time not detected")
	}
	want := time.Date(2026, 9, 14, 9, 0, 0, 0, time.UTC)
	if !start.Equal(want) {
		t.Errorf("start = %v, want %v", start, want)
	}
}

func TestFindDateRollsYearForward(t *testing.T) {
	// In late August, a bare "January 5" means next January.
	ref := time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)

	start, _, ok := FindDate("Registration closes January 5", ref)
	if !ok {
		t.Fatal("no date found")
	}
	if start.Year() != 2027 {
		t.Errorf("year = %d, want 2027", start.Year())
	}
}

func TestFindDateNumericAndISO(t *testing.T) {
	ref := time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)

	start, hasTime, ok := FindDate("Field trip on 10/2, bus leaves 8:15am", ref)
	if !ok || !hasTime {
		t.Fatalf("numeric date parse failed: %v %v", ok, hasTime)
	}
	if start.Month() != time.October || start.Day() != 2 || start.Hour() != 8 || start.Minute() != 15 {
		t.Errorf("start = %v", start)
	}

	start, hasTime, ok = FindDate("Deadline: 2026-11-30", ref)
	if !ok || hasTime {
		t.Fatalf("iso date parse failed: %v %v", ok, hasTime)
	}
	if start.Day() != 30 || start.Month() != time.November {
		t.Errorf("start = %v", start)
	}
}

func TestFindDateNone(t *testing.T) {
	ref := time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)
	if _, _, ok := FindDate("No schedule information here", ref); ok {
		t.Fatal("found a date in dateless text")
	}
}
