// Package mail reads candidate messages from the family mailbox. The
// Source interface is what the pipeline consumes; Gmail is the one
// production implementation.
package mail

import "context"

// Message is one email with everything the pipeline needs: headers,
// plain-text body, and calendar attachments.
type Message struct {
	ID          string
	ThreadID    string
	Sender      string // bare address
	DisplayName string
	Subject     string
	Date        string // RFC 2822 header value
	Snippet     string
	Body        string // plain text, HTML already converted
	Attachments []Attachment
}

// Attachment carries decoded attachment bytes.
type Attachment struct {
	Filename string
	MIMEType string
	Data     []byte
}

// HasICS reports whether the message carries an iCalendar attachment.
func (m *Message) HasICS() bool {
	for _, a := range m.Attachments {
		if a.IsICS() {
			return true
		}
	}
	return false
}

func (a *Attachment) IsICS() bool {
	if a.MIMEType == "text/calendar" || a.MIMEType == "application/ics" {
		return true
	}
	return len(a.Filename) > 4 && a.Filename[len(a.Filename)-4:] == ".ics"
}

// Source lists and fetches messages. GetMessage returns nil with no
// error for a message id that no longer exists; deletion between list
// and fetch is routine, not a failure.
type Source interface {
	ListMessageIDs(ctx context.Context, query string, max int) ([]string, error)
	GetMessage(ctx context.Context, id string) (*Message, error)
}
