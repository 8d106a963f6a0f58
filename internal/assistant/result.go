package assistant

import (
	"fmt"
	"strings"
	"time"

	"gwi.com/calendar-assistant/internal/apperr"
	"gwi.com/calendar-assistant/internal/calendar"
)

// Result is the outcome of one function call. Payload is nil on failure.
type Result struct {
	Function string      `json:"function"`
	Success  bool        `json:"success"`
	Error    string      `json:"error,omitempty"`
	Kind     apperr.Kind `json:"-"`
	Payload  any         `json:"payload,omitempty"`
}

type SchedulePayload struct {
	Message string           `json:"message"`
	Events  []calendar.Event `json:"events"`
}

type CreatedPayload struct {
	Message string         `json:"message"`
	EventID string         `json:"eventId"`
	Event   calendar.Event `json:"event"`
}

type AvailabilityPayload struct {
	Available bool             `json:"available"`
	Message   string           `json:"message"`
	Conflicts []calendar.Event `json:"conflictingEvents"`
}

type UpcomingPayload struct {
	Message string           `json:"message"`
	Events  []calendar.Event `json:"events"`
}

func success(name string, payload any) Result {
	return Result{Function: name, Success: true, Payload: payload}
}

// failure keeps the user-facing part of err.
func failure(name string, err error) Result {
	return Result{
		Function: name,
		Success:  false,
		Error:    apperr.UserMessage(err, err.Error()),
		Kind:     apperr.KindOf(err),
	}
}

const genericCompletion = "Calendar operation completed."

// Format turns a result into the assistant's reply. Times are shown in loc.
func Format(res Result, loc *time.Location) string {
	if !res.Success {
		return "Sorry, I couldn't complete that: " + res.Error
	}
	if loc == nil {
		loc = time.UTC
	}

	switch p := res.Payload.(type) {
	case SchedulePayload:
		return withEventLines(p.Message, p.Events, loc)
	case CreatedPayload:
		return fmt.Sprintf("%s\n%s", p.Message, eventLine(p.Event, loc))
	case AvailabilityPayload:
		return withEventLines(p.Message, p.Conflicts, loc)
	case UpcomingPayload:
		return withEventLines(p.Message, p.Events, loc)
	default:
		return genericCompletion
	}
}

func withEventLines(message string, events []calendar.Event, loc *time.Location) string {
	if len(events) == 0 {
		return message
	}
	var b strings.Builder
	b.WriteString(message)
	b.WriteString("\n")
	for i, ev := range events {
		fmt.Fprintf(&b, "\n%d. %s", i+1, eventLine(ev, loc))
	}
	return b.String()
}

func eventLine(ev calendar.Event, loc *time.Location) string {
	if ev.AllDay {
		return fmt.Sprintf("%s (all day, %s)", ev.Title, ev.Start.Format("Mon Jan 2"))
	}
	start := ev.Start.In(loc).Format("Mon Jan 2 3:04 PM")
	if ev.End.IsZero() {
		return fmt.Sprintf("%s, %s", ev.Title, start)
	}
	return fmt.Sprintf("%s, %s - %s", ev.Title, start, ev.End.In(loc).Format("3:04 PM"))
}
