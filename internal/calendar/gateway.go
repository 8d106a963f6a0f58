package calendar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"gwi.com/calendar-assistant/internal/apperr"
)

const (
	primaryCalendar = "primary"
	maxListResults  = 50
)

// Event is a calendar entry normalized away from the Google wire types.
type Event struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	AllDay      bool      `json:"allDay"`
	Description string    `json:"description,omitempty"`
	Attendees   []string  `json:"attendees,omitempty"`
}

type NewEvent struct {
	Title       string
	Description string
	Start       time.Time
	End         time.Time
	Attendees   []string
}

type AccessTokenSource interface {
	ValidAccessToken(ctx context.Context, userID int64) (string, error)
}

// Gateway calls the Google Calendar API on behalf of a user.
type Gateway struct {
	tokens   AccessTokenSource
	timeout  time.Duration
	endpoint string
	base     http.RoundTripper
	location *time.Location
}

type GatewayOption func(*Gateway)

// WithEndpoint points the gateway at a different API root, e.g. a test server.
func WithEndpoint(endpoint string) GatewayOption {
	return func(g *Gateway) { g.endpoint = endpoint }
}

// WithLocation sets the zone used for all-day events.
func WithLocation(loc *time.Location) GatewayOption {
	return func(g *Gateway) { g.location = loc }
}

func NewGateway(tokens AccessTokenSource, timeout time.Duration, opts ...GatewayOption) *Gateway {
	g := &Gateway{tokens: tokens, timeout: timeout, base: http.DefaultTransport, location: time.UTC}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gateway) service(ctx context.Context, userID int64) (*gcal.Service, error) {
	accessToken, err := g.tokens.ValidAccessToken(ctx, userID)
	if err != nil {
		return nil, err
	}
	client := &http.Client{
		Timeout: g.timeout,
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}),
			Base:   g.base,
		},
	}
	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if g.endpoint != "" {
		opts = append(opts, option.WithEndpoint(g.endpoint))
	}
	svc, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}
	return svc, nil
}

// ListEvents returns single (expanded) events in [start, end) ordered by
// start time.
func (g *Gateway) ListEvents(ctx context.Context, userID int64, start, end time.Time) ([]Event, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	svc, err := g.service(ctx, userID)
	if err != nil {
		return nil, err
	}
	res, err := svc.Events.List(primaryCalendar).
		TimeMin(start.Format(time.RFC3339)).
		TimeMax(end.Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		MaxResults(maxListResults).
		Context(ctx).
		Do()
	if err != nil {
		return nil, g.mapError("calendar.list", err)
	}

	events := make([]Event, 0, len(res.Items))
	for _, item := range res.Items {
		events = append(events, g.normalize(item))
	}
	return events, nil
}

// InsertEvent creates an event in UTC with email (1 day) and popup
// (10 minutes) reminders.
func (g *Gateway) InsertEvent(ctx context.Context, userID int64, ev NewEvent) (*Event, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	svc, err := g.service(ctx, userID)
	if err != nil {
		return nil, err
	}

	body := &gcal.Event{
		Summary:     ev.Title,
		Description: ev.Description,
		Start:       &gcal.EventDateTime{DateTime: ev.Start.UTC().Format(time.RFC3339), TimeZone: "UTC"},
		End:         &gcal.EventDateTime{DateTime: ev.End.UTC().Format(time.RFC3339), TimeZone: "UTC"},
		Reminders: &gcal.EventReminders{
			UseDefault: false,
			Overrides: []*gcal.EventReminder{
				{Method: "email", Minutes: 24 * 60},
				{Method: "popup", Minutes: 10},
			},
			ForceSendFields: []string{"UseDefault"},
		},
	}
	for _, a := range ev.Attendees {
		if a = strings.TrimSpace(a); a != "" {
			body.Attendees = append(body.Attendees, &gcal.EventAttendee{Email: a})
		}
	}

	created, err := svc.Events.Insert(primaryCalendar, body).Context(ctx).Do()
	if err != nil {
		return nil, g.mapError("calendar.insert", err)
	}
	out := g.normalize(created)
	return &out, nil
}

func (g *Gateway) DeleteEvent(ctx context.Context, userID int64, eventID string) error {
	if eventID == "" {
		return apperr.Validation("calendar.delete", "event id is required")
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	svc, err := g.service(ctx, userID)
	if err != nil {
		return err
	}
	if err := svc.Events.Delete(primaryCalendar, eventID).Context(ctx).Do(); err != nil {
		return g.mapError("calendar.delete", err)
	}
	return nil
}

func (g *Gateway) normalize(item *gcal.Event) Event {
	ev := Event{ID: item.Id, Title: item.Summary, Description: item.Description}
	if ev.Title == "" {
		ev.Title = "(no title)"
	}
	ev.Start, ev.AllDay = g.parseEventTime(item.Start)
	ev.End, _ = g.parseEventTime(item.End)
	for _, a := range item.Attendees {
		if a != nil && a.Email != "" {
			ev.Attendees = append(ev.Attendees, a.Email)
		}
	}
	return ev
}

// parseEventTime reports allDay=true for date-only values.
func (g *Gateway) parseEventTime(dt *gcal.EventDateTime) (time.Time, bool) {
	if dt == nil {
		return time.Time{}, false
	}
	if dt.DateTime != "" {
		if t, err := time.Parse(time.RFC3339, dt.DateTime); err == nil {
			return t, false
		}
	}
	if dt.Date != "" {
		if t, err := time.ParseInLocation("2006-01-02", dt.Date, g.location); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func (g *Gateway) mapError(op string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusUnauthorized {
		return apperr.Authentication(op, "Google Calendar rejected the stored credentials. Please reconnect your calendar.", err)
	}
	return apperr.External(op, err)
}
