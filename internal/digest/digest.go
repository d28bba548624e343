// Package digest renders the periodic family summary. Items are a
// closed variant type: each kind carries only its own fields and the
// renderer matches exhaustively, so a new kind fails loudly at render
// instead of silently falling through a field-presence check.
package digest

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// ItemKind discriminates digest item variants.
type ItemKind int

const (
	KindEvent ItemKind = iota
	KindForwarded
	KindDeferred
	KindDismissed
)

// Item is the tagged union. Exactly one variant pointer is non-nil,
// matching Kind.
type Item struct {
	Kind      ItemKind
	Event     *EventItem
	Forwarded *ForwardedItem
	Deferred  *DeferredItem
	Dismissed *DismissedItem
}

// EventItem is a calendar event created or updated since the last digest.
type EventItem struct {
	Title      string
	Start      time.Time
	AllDay     bool
	Location   string
	Person     string
	AutoPlaced bool // false when a human approved it
}

// ForwardedItem is an email passed along untouched.
type ForwardedItem struct {
	Subject string
	Sender  string
	Reason  string
}

// DeferredItem is a find still waiting on review.
type DeferredItem struct {
	Subject    string
	Category   string
	Confidence float64
}

// DismissedItem is a find a human rejected.
type DismissedItem struct {
	Subject string
	Reason  string
}

func NewEventItem(e EventItem) Item         { return Item{Kind: KindEvent, Event: &e} }
func NewForwardedItem(f ForwardedItem) Item { return Item{Kind: KindForwarded, Forwarded: &f} }
func NewDeferredItem(d DeferredItem) Item   { return Item{Kind: KindDeferred, Deferred: &d} }
func NewDismissedItem(d DismissedItem) Item { return Item{Kind: KindDismissed, Dismissed: &d} }

// Render formats one item as a digest line. Unknown kinds are a
// programming error and say so in the output rather than vanishing.
func (i Item) Render() string {
	switch i.Kind {
	case KindEvent:
		e := i.Event
		var sb strings.Builder
		if e.AllDay {
			fmt.Fprintf(&sb, "%s — %s (all day)", e.Start.Format("Mon Jan 2"), e.Title)
		} else {
			fmt.Fprintf(&sb, "%s — %s", e.Start.Format("Mon Jan 2 3:04 PM"), e.Title)
		}
		if e.Location != "" {
			fmt.Fprintf(&sb, " @ %s", e.Location)
		}
		if e.Person != "" {
			fmt.Fprintf(&sb, " [%s]", e.Person)
		}
		if e.AutoPlaced {
			sb.WriteString(" (auto)")
		}
		return sb.String()
	case KindForwarded:
		f := i.Forwarded
		return fmt.Sprintf("forwarded: %q from %s (%s)", f.Subject, f.Sender, f.Reason)
	case KindDeferred:
		d := i.Deferred
		return fmt.Sprintf("awaiting review: %q (%s, %.0f%%)", d.Subject, d.Category, d.Confidence*100)
	case KindDismissed:
		d := i.Dismissed
		return fmt.Sprintf("dismissed: %q — %s", d.Subject, d.Reason)
	default:
		return fmt.Sprintf("unrenderable digest item kind %d", i.Kind)
	}
}

// Digest is one rendered summary period.
type Digest struct {
	From  time.Time
	To    time.Time
	Items []Item
}

// Render produces the plain-text digest body, grouped by kind in a
// fixed order: events first, then pending review, forwards, dismissals.
func (d *Digest) Render() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Family digest %s – %s\n",
		d.From.Format("Jan 2"), d.To.Format("Jan 2, 2006"))

	sections := []struct {
		kind  ItemKind
		title string
	}{
		{KindEvent, "Calendar"},
		{KindDeferred, "Awaiting review"},
		{KindForwarded, "Forwarded"},
		{KindDismissed, "Dismissed"},
	}

	for _, section := range sections {
		lines := d.renderKind(section.kind)
		if len(lines) == 0 {
			continue
		}
		fmt.Fprintf(&sb, "\n%s\n", section.title)
		for _, line := range lines {
			fmt.Fprintf(&sb, "  - %s\n", line)
		}
	}
	if len(d.Items) == 0 {
		sb.WriteString("\nNothing new this period.\n")
	}
	return sb.String()
}

func (d *Digest) renderKind(kind ItemKind) []string {
	var items []Item
	for _, item := range d.Items {
		if item.Kind == kind {
			items = append(items, item)
		}
	}
	if kind == KindEvent {
		sort.Slice(items, func(a, b int) bool {
			return items[a].Event.Start.Before(items[b].Event.Start)
		})
	}

	lines := make([]string, 0, len(items))
	for _, item := range items {
		lines = append(lines, item.Render())
	}
	return lines
}
