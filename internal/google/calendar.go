package google

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/seanmckay/hearth/internal/database"
)

// CalendarEvent is the slice of a Google event the engine compares
// against its stored intent when checking for drift.
type CalendarEvent struct {
	ID          string
	Title       string
	Description string
	Location    string
	Start       time.Time
	End         time.Time
	AllDay      bool
	Updated     time.Time
}

// CalendarClient writes extracted intents to one Google calendar.
type CalendarClient struct {
	oauth      *OAuthManager
	calendarID string
}

func NewCalendarClient(oauth *OAuthManager, calendarID string) *CalendarClient {
	if calendarID == "" {
		calendarID = "primary"
	}
	return &CalendarClient{oauth: oauth, calendarID: calendarID}
}

func (c *CalendarClient) service(ctx context.Context) (*calendar.Service, error) {
	httpClient, err := c.oauth.Client(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get oauth client: %w", err)
	}
	service, err := calendar.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}
	return service, nil
}

// CreateEvent inserts the intent and returns the Google event id.
func (c *CalendarClient) CreateEvent(ctx context.Context, intent *database.EventIntent) (string, error) {
	service, err := c.service(ctx)
	if err != nil {
		return "", err
	}

	created, err := service.Events.Insert(c.calendarID, intentToGoogle(intent)).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to create calendar event: %w", err)
	}
	return created.Id, nil
}

// UpdateEvent overwrites the intent-owned fields of an existing event.
// Fields the intent does not model are left as Google has them.
func (c *CalendarClient) UpdateEvent(ctx context.Context, eventID string, intent *database.EventIntent) error {
	service, err := c.service(ctx)
	if err != nil {
		return err
	}

	existing, err := service.Events.Get(c.calendarID, eventID).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to get calendar event %s: %w", eventID, err)
	}

	next := intentToGoogle(intent)
	existing.Summary = next.Summary
	existing.Description = next.Description
	existing.Location = next.Location
	existing.Start = next.Start
	existing.End = next.End
	existing.Attendees = next.Attendees
	existing.Reminders = next.Reminders

	if _, err := service.Events.Update(c.calendarID, eventID, existing).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to update calendar event %s: %w", eventID, err)
	}
	return nil
}

// GetEvent fetches one event. A 404, or an event Google has cancelled,
// returns nil with no error: to the engine both mean "gone".
func (c *CalendarClient) GetEvent(ctx context.Context, eventID string) (*CalendarEvent, error) {
	service, err := c.service(ctx)
	if err != nil {
		return nil, err
	}

	event, err := service.Events.Get(c.calendarID, eventID).Context(ctx).Do()
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == 404 {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get calendar event %s: %w", eventID, err)
	}
	if event.Status == "cancelled" {
		return nil, nil
	}
	return googleToEvent(event), nil
}

func intentToGoogle(intent *database.EventIntent) *calendar.Event {
	event := &calendar.Event{
		Summary:     intent.Title,
		Description: intent.Description,
		Location:    intent.Location,
	}

	if intent.AllDay {
		event.Start = &calendar.EventDateTime{Date: intent.Start.Format("2006-01-02")}
		end := intent.End
		if end.IsZero() {
			end = intent.Start.Add(24 * time.Hour)
		}
		event.End = &calendar.EventDateTime{Date: end.Format("2006-01-02")}
	} else {
		event.Start = &calendar.EventDateTime{
			DateTime: intent.Start.Format(time.RFC3339),
			TimeZone: intent.Timezone,
		}
		end := intent.End
		if end.IsZero() {
			end = intent.Start.Add(time.Hour)
		}
		event.End = &calendar.EventDateTime{
			DateTime: end.Format(time.RFC3339),
			TimeZone: intent.Timezone,
		}
	}

	for _, guest := range intent.Guests {
		event.Attendees = append(event.Attendees, &calendar.EventAttendee{Email: guest})
	}

	if len(intent.Reminders) > 0 {
		event.Reminders = &calendar.EventReminders{
			UseDefault:      false,
			ForceSendFields: []string{"UseDefault"},
		}
		for _, minutes := range intent.Reminders {
			event.Reminders.Overrides = append(event.Reminders.Overrides,
				&calendar.EventReminder{Method: "popup", Minutes: int64(minutes)})
		}
	}
	return event
}

func googleToEvent(e *calendar.Event) *CalendarEvent {
	out := &CalendarEvent{
		ID:          e.Id,
		Title:       e.Summary,
		Description: e.Description,
		Location:    e.Location,
	}
	if e.Start != nil {
		if e.Start.Date != "" {
			out.AllDay = true
			out.Start, _ = time.Parse("2006-01-02", e.Start.Date)
		} else {
			out.Start, _ = time.Parse(time.RFC3339, e.Start.DateTime)
		}
	}
	if e.End != nil {
		if e.End.Date != "" {
			out.End, _ = time.Parse("2006-01-02", e.End.Date)
		} else {
			out.End, _ = time.Parse(time.RFC3339, e.End.DateTime)
		}
	}
	if e.Updated != "" {
		out.Updated, _ = time.Parse(time.RFC3339, e.Updated)
	}
	return out
}
