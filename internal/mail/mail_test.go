package mail

import (
	"strings"
	"testing"
)

func TestParseFrom(t *testing.T) {
	cases := []struct {
		in          string
		address     string
		displayName string
	}{
		{`"Waterford Elementary" <no-reply@mail3.waterford.org>`, "no-reply@mail3.waterford.org", "Waterford Elementary"},
		{`events@waterford.org`, "events@waterford.org", ""},
		{`Not An Address`, "Not An Address", ""},
	}

	for _, tc := range cases {
		addr, name := parseFrom(tc.in)
		if addr != tc.address || name != tc.displayName {
			t.Errorf("parseFrom(%q) = (%q, %q), want (%q, %q)",
				tc.in, addr, name, tc.address, tc.displayName)
		}
	}
}

func TestHasICS(t *testing.T) {
	msg := &Message{Attachments: []Attachment{
		{Filename: "flyer.pdf", MIMEType: "application/pdf"},
	}}
	if msg.HasICS() {
		t.Error("pdf-only message reported ICS")
	}

	msg.Attachments = append(msg.Attachments, Attachment{
		Filename: "invite.ics", MIMEType: "application/octet-stream",
	})
	if !msg.HasICS() {
		t.Error(".ics filename not detected")
	}

	byMime := &Message{Attachments: []Attachment{
		{Filename: "calendar", MIMEType: "text/calendar"},
	}}
	if !byMime.HasICS() {
		t.Error("text/calendar mime not detected")
	}
}

func TestBodyText(t *testing.T) {
	text, err := BodyText(`<p>Picture day is <strong>September 14</strong>.</p>`)
	if err != nil {
		t.Fatalf("conversion failed: %v", err)
	}
	if !strings.Contains(text, "September 14") {
		t.Errorf("converted text lost content: %q", text)
	}
}
