package assistant

import (
	"context"
	"fmt"
	"time"

	"gwi.com/calendar-assistant/internal/apperr"
	"gwi.com/calendar-assistant/internal/calendar"
	"gwi.com/calendar-assistant/internal/llm"
	"gwi.com/calendar-assistant/internal/timeparse"
)

const (
	GetUserSchedule           = "get_user_schedule"
	CreateCalendarEvent       = "create_calendar_event"
	CheckCalendarAvailability = "check_calendar_availability"
	ListUpcomingMeetings      = "list_upcoming_meetings"
	DeleteCalendarEvent       = "delete_calendar_event"
)

const defaultEventDuration = time.Hour

// Function is one entry of the catalog offered to the model.
type Function interface {
	Declaration() llm.FunctionDeclaration
	Execute(ctx context.Context, userID int64, args Args) Result
}

// Calendar is the part of the gateway the functions use.
type Calendar interface {
	ListEvents(ctx context.Context, userID int64, start, end time.Time) ([]calendar.Event, error)
	InsertEvent(ctx context.Context, userID int64, ev calendar.NewEvent) (*calendar.Event, error)
}

// DefaultFunctions returns the five calendar functions in catalog order.
func DefaultFunctions(cal Calendar, parser *timeparse.Parser) []Function {
	return []Function{
		&scheduleFunc{cal: cal, parser: parser},
		&createEventFunc{cal: cal, parser: parser},
		&availabilityFunc{cal: cal, parser: parser},
		&upcomingFunc{cal: cal, parser: parser},
		deleteEventFunc{},
	}
}

func str(description string) *llm.Schema {
	return &llm.Schema{Type: llm.TypeString, Description: description}
}

func object(props map[string]*llm.Schema, required ...string) *llm.Schema {
	return &llm.Schema{Type: llm.TypeObject, Properties: props, Required: required}
}

type scheduleFunc struct {
	cal    Calendar
	parser *timeparse.Parser
}

func (f *scheduleFunc) Declaration() llm.FunctionDeclaration {
	return llm.FunctionDeclaration{
		Name:        GetUserSchedule,
		Description: "Get the user's calendar schedule for a specific time period",
		Parameters: object(map[string]*llm.Schema{
			"startDate": str("Start date in ISO format (e.g., '2025-01-30') or 'today', 'tomorrow', 'this week'"),
			"endDate":   str("End date in ISO format (e.g., '2025-01-30') or 'next week', 'this month'"),
		}),
	}
}

func (f *scheduleFunc) Execute(ctx context.Context, userID int64, args Args) Result {
	startArg, err := args.String("startDate")
	if err != nil {
		return failure(GetUserSchedule, err)
	}
	endArg, err := args.String("endDate")
	if err != nil {
		return failure(GetUserSchedule, err)
	}
	if startArg == "" {
		startArg = "today"
	}
	if endArg == "" {
		endArg = startArg
	}

	start, err := f.parser.ParseDate(startArg)
	if err != nil {
		return failure(GetUserSchedule, err)
	}
	end, err := f.parser.ParseDate(endArg)
	if err != nil {
		return failure(GetUserSchedule, err)
	}
	if timeparse.SameDay(start, end) {
		end = timeparse.StartOfDay(start).AddDate(0, 0, 1)
	}
	if end.Before(start) {
		return failure(GetUserSchedule, apperr.Validation("assistant.schedule", "endDate is before startDate"))
	}

	events, err := f.cal.ListEvents(ctx, userID, start, end)
	if err != nil {
		return failure(GetUserSchedule, err)
	}
	if len(events) == 0 {
		return success(GetUserSchedule, SchedulePayload{Message: "No events found for the specified time period.", Events: []calendar.Event{}})
	}
	return success(GetUserSchedule, SchedulePayload{
		Message: fmt.Sprintf("Found %d event(s) for the specified time period.", len(events)),
		Events:  events,
	})
}

type createEventFunc struct {
	cal    Calendar
	parser *timeparse.Parser
}

func (f *createEventFunc) Declaration() llm.FunctionDeclaration {
	return llm.FunctionDeclaration{
		Name:        CreateCalendarEvent,
		Description: "Create a new calendar event with the specified details",
		Parameters: object(map[string]*llm.Schema{
			"title":       str("Title or summary of the event"),
			"startTime":   str("Start time in ISO format (e.g., '2025-01-30T10:00:00') or natural language (e.g., 'tomorrow at 2 PM')"),
			"endTime":     str("End time in ISO format or natural language (e.g., 'tomorrow at 3 PM')"),
			"description": str("Description or details of the event"),
			"attendees": {
				Type:        llm.TypeArray,
				Description: "List of attendee email addresses",
				Items:       &llm.Schema{Type: llm.TypeString},
			},
		}, "title", "startTime"),
	}
}

func (f *createEventFunc) Execute(ctx context.Context, userID int64, args Args) Result {
	title, err := args.String("title")
	if err != nil {
		return failure(CreateCalendarEvent, err)
	}
	if title == "" {
		return failure(CreateCalendarEvent, apperr.Validation("assistant.create", "title is required"))
	}
	startArg, err := args.String("startTime")
	if err != nil {
		return failure(CreateCalendarEvent, err)
	}
	if startArg == "" {
		return failure(CreateCalendarEvent, apperr.Validation("assistant.create", "startTime is required"))
	}
	endArg, err := args.String("endTime")
	if err != nil {
		return failure(CreateCalendarEvent, err)
	}
	description, err := args.String("description")
	if err != nil {
		return failure(CreateCalendarEvent, err)
	}
	attendees, err := args.Strings("attendees")
	if err != nil {
		return failure(CreateCalendarEvent, err)
	}

	start, err := f.parser.ParseDateTime(startArg)
	if err != nil {
		return failure(CreateCalendarEvent, err)
	}
	end := start.Add(defaultEventDuration)
	if endArg != "" {
		parsed, err := f.parser.ParseDateTime(endArg)
		if err != nil {
			return failure(CreateCalendarEvent, err)
		}
		// an end at or before the start falls back to the default duration
		if parsed.After(start) {
			end = parsed
		}
	}

	created, err := f.cal.InsertEvent(ctx, userID, calendar.NewEvent{
		Title:       title,
		Description: description,
		Start:       start,
		End:         end,
		Attendees:   attendees,
	})
	if err != nil {
		return failure(CreateCalendarEvent, err)
	}
	return success(CreateCalendarEvent, CreatedPayload{
		Message: fmt.Sprintf("Event \"%s\" created successfully!", title),
		EventID: created.ID,
		Event:   *created,
	})
}

type availabilityFunc struct {
	cal    Calendar
	parser *timeparse.Parser
}

func (f *availabilityFunc) Declaration() llm.FunctionDeclaration {
	return llm.FunctionDeclaration{
		Name:        CheckCalendarAvailability,
		Description: "Check if the user is available during a specific time period",
		Parameters: object(map[string]*llm.Schema{
			"startTime": str("Start time to check availability for"),
			"endTime":   str("End time to check availability for"),
			"date":      str("Date to check availability for (e.g., 'today', 'tomorrow', '2025-01-30')"),
		}),
	}
}

// window resolves the period to check:
//
//	date only              the whole day
//	startTime              startTime until endTime, or one hour
//	nothing                the next hour
//
// A bare clock time in startTime or endTime is read on date.
func (f *availabilityFunc) window(args Args) (time.Time, time.Time, error) {
	startArg, err := args.String("startTime")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	endArg, err := args.String("endTime")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	dateArg, err := args.String("date")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}

	if startArg == "" && endArg == "" && dateArg != "" {
		day, err := f.parser.ParseDate(dateArg)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		start := timeparse.StartOfDay(day)
		return start, start.AddDate(0, 0, 1), nil
	}
	if dateArg != "" {
		startArg = onDate(dateArg, startArg)
		endArg = onDate(dateArg, endArg)
	}

	start := f.parser.Now().In(f.parser.Location)
	if startArg != "" {
		if start, err = f.parser.ParseDateTime(startArg); err != nil {
			return time.Time{}, time.Time{}, err
		}
	}
	end := start.Add(defaultEventDuration)
	if endArg != "" {
		if end, err = f.parser.ParseDateTime(endArg); err != nil {
			return time.Time{}, time.Time{}, err
		}
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, apperr.Validation("assistant.availability", "endTime must be after startTime")
	}
	return start, end, nil
}

func onDate(date, clock string) string {
	if timeparse.IsClock(clock) {
		return date + " at " + clock
	}
	return clock
}

func (f *availabilityFunc) Execute(ctx context.Context, userID int64, args Args) Result {
	start, end, err := f.window(args)
	if err != nil {
		return failure(CheckCalendarAvailability, err)
	}
	events, err := f.cal.ListEvents(ctx, userID, start, end)
	if err != nil {
		return failure(CheckCalendarAvailability, err)
	}

	conflicts := []calendar.Event{}
	for _, ev := range events {
		if ev.Start.Before(end) && ev.End.After(start) {
			conflicts = append(conflicts, ev)
		}
	}
	if len(conflicts) == 0 {
		return success(CheckCalendarAvailability, AvailabilityPayload{
			Available: true,
			Message:   "You are available during the specified time period.",
			Conflicts: conflicts,
		})
	}
	return success(CheckCalendarAvailability, AvailabilityPayload{
		Available: false,
		Message:   fmt.Sprintf("You have %d conflicting event(s) during this time.", len(conflicts)),
		Conflicts: conflicts,
	})
}

type upcomingFunc struct {
	cal    Calendar
	parser *timeparse.Parser
}

func (f *upcomingFunc) Declaration() llm.FunctionDeclaration {
	return llm.FunctionDeclaration{
		Name:        ListUpcomingMeetings,
		Description: "List all upcoming meetings and events",
		Parameters: object(map[string]*llm.Schema{
			"limit": {Type: llm.TypeNumber, Description: "Maximum number of events to return (default: 10)"},
			"days":  {Type: llm.TypeNumber, Description: "Number of days ahead to look (default: 7)"},
		}),
	}
}

func (f *upcomingFunc) Execute(ctx context.Context, userID int64, args Args) Result {
	limit, err := args.Int("limit", 10)
	if err != nil {
		return failure(ListUpcomingMeetings, err)
	}
	days, err := args.Int("days", 7)
	if err != nil {
		return failure(ListUpcomingMeetings, err)
	}
	if limit <= 0 || days <= 0 {
		return failure(ListUpcomingMeetings, apperr.Validation("assistant.upcoming", "limit and days must be positive"))
	}

	now := f.parser.Now()
	events, err := f.cal.ListEvents(ctx, userID, now, now.Add(time.Duration(days)*24*time.Hour))
	if err != nil {
		return failure(ListUpcomingMeetings, err)
	}

	upcoming := []calendar.Event{}
	for _, ev := range events {
		if ev.AllDay || !ev.Start.After(now) {
			continue
		}
		upcoming = append(upcoming, ev)
		if len(upcoming) == limit {
			break
		}
	}
	if len(upcoming) == 0 {
		return success(ListUpcomingMeetings, UpcomingPayload{Message: "No upcoming events found.", Events: upcoming})
	}
	return success(ListUpcomingMeetings, UpcomingPayload{
		Message: fmt.Sprintf("Found %d upcoming event(s).", len(upcoming)),
		Events:  upcoming,
	})
}

// deleteEventFunc is advertised to the model but not executed yet: the
// gateway can delete by id, but resolving a title to an id is still missing.
type deleteEventFunc struct{}

func (deleteEventFunc) Declaration() llm.FunctionDeclaration {
	return llm.FunctionDeclaration{
		Name:        DeleteCalendarEvent,
		Description: "Delete a calendar event by its ID or title",
		Parameters: object(map[string]*llm.Schema{
			"eventId":    str("Google Calendar event ID"),
			"eventTitle": str("Title of the event to delete (will find and delete the first match)"),
			"date":       str("Date when the event occurs (to help identify the correct event)"),
		}),
	}
}

func (deleteEventFunc) Execute(context.Context, int64, Args) Result {
	return failure(DeleteCalendarEvent, apperr.New(apperr.KindValidation, "assistant.delete",
		"Deleting calendar events is not implemented yet.", nil))
}
