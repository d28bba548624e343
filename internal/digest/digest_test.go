package digest

import (
	"strings"
	"testing"
	"time"
)

func TestRenderEventItem(t *testing.T) {
	start := time.Date(2026, 12, 18, 18, 0, 0, 0, time.UTC)
	item := NewEventItem(EventItem{
		Title:      "Winter Concert",
		Start:      start,
		Location:   "Auditorium",
		Person:     "Maya",
		AutoPlaced: true,
	})

	got := item.Render()
	want := "Fri Dec 18 6:00 PM — Winter Concert @ Auditorium [Maya] (auto)"
	if got != want {
		t.Errorf("Render() = %q, want %q", got, want)
	}
}

func TestRenderAllDayEvent(t *testing.T) {
	item := NewEventItem(EventItem{
		Title:  "Picture Day",
		Start:  time.Date(2026, 10, 5, 0, 0, 0, 0, time.UTC),
		AllDay: true,
	})

	got := item.Render()
	if !strings.Contains(got, "(all day)") {
		t.Errorf("expected all-day marker, got %q", got)
	}
	if strings.Contains(got, "12:00") {
		t.Errorf("all-day event should not render a time, got %q", got)
	}
}

func TestRenderOtherKinds(t *testing.T) {
	cases := []struct {
		item Item
		want string
	}{
		{
			NewForwardedItem(ForwardedItem{Subject: "Lunch menu", Sender: "cafeteria@waterford.org", Reason: "no date found"}),
			`forwarded: "Lunch menu" from cafeteria@waterford.org (no date found)`,
		},
		{
			NewDeferredItem(DeferredItem{Subject: "Permission slip", Category: "school", Confidence: 0.72}),
			`awaiting review: "Permission slip" (school, 72%)`,
		},
		{
			NewDismissedItem(DismissedItem{Subject: "Spirit wear sale", Reason: "not an event"}),
			`dismissed: "Spirit wear sale" — not an event`,
		},
	}
	for _, tc := range cases {
		if got := tc.item.Render(); got != tc.want {
			t.Errorf("Render() = %q, want %q", got, tc.want)
		}
	}
}

func TestDigestGroupsAndSorts(t *testing.T) {
	later := time.Date(2026, 12, 20, 9, 0, 0, 0, time.UTC)
	earlier := time.Date(2026, 12, 18, 18, 0, 0, 0, time.UTC)
	d := &Digest{
		From: time.Date(2026, 12, 14, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2026, 12, 21, 0, 0, 0, 0, time.UTC),
		Items: []Item{
			NewEventItem(EventItem{Title: "Cookie Exchange", Start: later}),
			NewDismissedItem(DismissedItem{Subject: "Sale", Reason: "ad"}),
			NewEventItem(EventItem{Title: "Winter Concert", Start: earlier}),
		},
	}

	body := d.Render()

	concert := strings.Index(body, "Winter Concert")
	cookies := strings.Index(body, "Cookie Exchange")
	if concert == -1 || cookies == -1 {
		t.Fatalf("missing events in digest:\n%s", body)
	}
	if concert > cookies {
		t.Errorf("events not sorted by start time:\n%s", body)
	}
	if !strings.Contains(body, "Calendar\n") || !strings.Contains(body, "Dismissed\n") {
		t.Errorf("missing section headers:\n%s", body)
	}
	if strings.Contains(body, "Forwarded\n") {
		t.Errorf("empty section should be omitted:\n%s", body)
	}
}

func TestEmptyDigest(t *testing.T) {
	d := &Digest{
		From: time.Date(2026, 12, 14, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2026, 12, 21, 0, 0, 0, 0, time.UTC),
	}
	if !strings.Contains(d.Render(), "Nothing new this period.") {
		t.Error("empty digest should say so")
	}
}
