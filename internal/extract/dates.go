package extract

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	// "January 5", "Jan. 5th, 2026"
	monthNameRe = regexp.MustCompile(`(?i)\b(jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|jun(?:e)?|jul(?:y)?|aug(?:ust)?|sep(?:tember|t)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?)\.?\s+(\d{1,2})(?:st|nd|rd|th)?(?:,?\s+(\d{4}))?\b`)
	// "1/5" or "1/5/2026"
	numericRe = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})(?:/(\d{2,4}))?\b`)
	// "2026-01-05"
	isoRe = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
	// "3pm", "3:30 PM", "15:00"
	timeRe = regexp.MustCompile(`(?i)\b(\d{1,2})(?::(\d{2}))?\s*(am|pm)\b|\b(\d{1,2}):(\d{2})\b`)
)

var monthIndex = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March,
	"apr": time.April, "may": time.May, "jun": time.June,
	"jul": time.July, "aug": time.August, "sep": time.September,
	"oct": time.October, "nov": time.November, "dec": time.December,
}

// FindDate scans text for the first structured date, and when found,
// the first clock time near it. ref supplies the year when the text
// omits one; a date that would land more than a month in the past rolls
// forward a year, since school mail announces the future.
func FindDate(text string, ref time.Time) (start time.Time, hasTime bool, ok bool) {
	date, found := firstDate(text, ref)
	if !found {
		return time.Time{}, false, false
	}

	if h, m, tok := firstTime(text); tok {
		return time.Date(date.Year(), date.Month(), date.Day(), h, m, 0, 0, ref.Location()), true, true
	}
	return date, false, true
}

func firstDate(text string, ref time.Time) (time.Time, bool) {
	type hit struct {
		pos int
		t   time.Time
	}
	var best *hit
	consider := func(pos int, t time.Time) {
		if t.IsZero() {
			return
		}
		if best == nil || pos < best.pos {
			best = &hit{pos: pos, t: t}
		}
	}

	if loc := isoRe.FindStringSubmatchIndex(text); loc != nil {
		m := isoRe.FindStringSubmatch(text)
		y, _ := strconv.Atoi(m[1])
		mo, _ := strconv.Atoi(m[2])
		d, _ := strconv.Atoi(m[3])
		consider(loc[0], civilDate(y, time.Month(mo), d, ref))
	}
	if loc := monthNameRe.FindStringSubmatchIndex(text); loc != nil {
		m := monthNameRe.FindStringSubmatch(text)
		month := monthIndex[strings.ToLower(m[1])[:3]]
		d, _ := strconv.Atoi(m[2])
		year := 0
		if m[3] != "" {
			year, _ = strconv.Atoi(m[3])
		}
		consider(loc[0], inferYear(year, month, d, ref))
	}
	if loc := numericRe.FindStringSubmatchIndex(text); loc != nil {
		m := numericRe.FindStringSubmatch(text)
		mo, _ := strconv.Atoi(m[1])
		d, _ := strconv.Atoi(m[2])
		year := 0
		if m[3] != "" {
			year, _ = strconv.Atoi(m[3])
			if year < 100 {
				year += 2000
			}
		}
		if mo >= 1 && mo <= 12 {
			consider(loc[0], inferYear(year, time.Month(mo), d, ref))
		}
	}

	if best == nil {
		return time.Time{}, false
	}
	return best.t, true
}

func firstTime(text string) (hour, minute int, ok bool) {
	m := timeRe.FindStringSubmatch(text)
	if m == nil {
		return 0, 0, false
	}
	if m[3] != "" { // am/pm form
		hour, _ = strconv.Atoi(m[1])
		if m[2] != "" {
			minute, _ = strconv.Atoi(m[2])
		}
		if hour > 12 {
			return 0, 0, false
		}
		if strings.EqualFold(m[3], "pm") && hour != 12 {
			hour += 12
		}
		if strings.EqualFold(m[3], "am") && hour == 12 {
			hour = 0
		}
		return hour, minute, true
	}
	hour, _ = strconv.Atoi(m[4])
	minute, _ = strconv.Atoi(m[5])
	if hour > 23 || minute > 59 {
		return 0, 0, false
	}
	return hour, minute, true
}

func civilDate(year int, month time.Month, day int, ref time.Time) time.Time {
	if day < 1 || day > 31 {
		return time.Time{}
	}
	return time.Date(year, month, day, 0, 0, 0, 0, ref.Location())
}

func inferYear(year int, month time.Month, day int, ref time.Time) time.Time {
	if day < 1 || day > 31 {
		return time.Time{}
	}
	if year != 0 {
		return time.Date(year, month, day, 0, 0, 0, 0, ref.Location())
	}
	t := time.Date(ref.Year(), month, day, 0, 0, 0, 0, ref.Location())
	if t.Before(ref.AddDate(0, -1, 0)) {
		t = t.AddDate(1, 0, 0)
	}
	return t
}
