package assistant

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gwi.com/calendar-assistant/internal/apperr"
	"gwi.com/calendar-assistant/internal/calendar"
	"gwi.com/calendar-assistant/internal/llm"
	"gwi.com/calendar-assistant/internal/logger"
	"gwi.com/calendar-assistant/internal/timeparse"
)

var fixedNow = time.Date(2026, 10, 16, 10, 0, 0, 0, time.UTC)

type listCall struct{ start, end time.Time }

type fakeCalendar struct {
	events   []calendar.Event
	listErr  error
	lists    []listCall
	inserted []calendar.NewEvent
}

func (c *fakeCalendar) ListEvents(_ context.Context, _ int64, start, end time.Time) ([]calendar.Event, error) {
	c.lists = append(c.lists, listCall{start, end})
	return c.events, c.listErr
}

func (c *fakeCalendar) InsertEvent(_ context.Context, _ int64, ev calendar.NewEvent) (*calendar.Event, error) {
	c.inserted = append(c.inserted, ev)
	return &calendar.Event{ID: "evt-1", Title: ev.Title, Start: ev.Start, End: ev.End}, nil
}

type fakeConns struct {
	connected bool
	err       error
}

func (c fakeConns) IsConnected(context.Context, int64) (bool, error) { return c.connected, c.err }

type fakeChooser struct {
	decision  *llm.Decision
	err       error
	calls     int
	system    string
	functions []llm.FunctionDeclaration
}

func (f *fakeChooser) ChooseFunction(_ context.Context, system, _ string, fns []llm.FunctionDeclaration) (*llm.Decision, error) {
	f.calls++
	f.system = system
	f.functions = fns
	return f.decision, f.err
}

func newDispatcher(t *testing.T, model *fakeChooser, cal *fakeCalendar, connected bool) *Dispatcher {
	t.Helper()
	parser := timeparse.New(time.UTC)
	parser.Now = func() time.Time { return fixedNow }
	reg, err := NewRegistry(DefaultFunctions(cal, parser)...)
	require.NoError(t, err)
	d := NewDispatcher(model, reg, fakeConns{connected: connected}, logger.NewNop(), time.UTC)
	d.now = func() time.Time { return fixedNow }
	return d
}

func TestCatalogMatchesContract(t *testing.T) {
	d := newDispatcher(t, &fakeChooser{}, &fakeCalendar{}, true)
	catalog := d.Catalog()

	names := make([]string, 0, len(catalog))
	for _, fn := range catalog {
		names = append(names, fn.Name)
	}
	assert.Equal(t, []string{GetUserSchedule, CreateCalendarEvent, CheckCalendarAvailability, ListUpcomingMeetings, DeleteCalendarEvent}, names)

	create := catalog[1].Parameters
	assert.Equal(t, []string{"title", "startTime"}, create.Required)
	assert.Equal(t, llm.TypeArray, create.Properties["attendees"].Type)
	assert.Equal(t, llm.TypeString, create.Properties["attendees"].Items.Type)
	assert.Empty(t, catalog[0].Parameters.Required)
	assert.Equal(t, llm.TypeNumber, catalog[3].Parameters.Properties["limit"].Type)
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	_, err := NewRegistry(deleteEventFunc{}, deleteEventFunc{})
	require.Error(t, err)
}

func TestScheduleForTodayWidensToWholeDay(t *testing.T) {
	cal := &fakeCalendar{events: []calendar.Event{
		{ID: "1", Title: "Standup", Start: fixedNow.Add(time.Hour), End: fixedNow.Add(90 * time.Minute)},
	}}
	model := &fakeChooser{decision: &llm.Decision{
		FunctionName: GetUserSchedule,
		Args:         map[string]any{"startDate": "today", "endDate": "today"},
	}}
	d := newDispatcher(t, model, cal, true)

	reply, err := d.Handle(context.Background(), 1, "What's on my calendar today?")
	require.NoError(t, err)
	require.Len(t, cal.lists, 1)
	assert.Equal(t, time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC), cal.lists[0].start)
	assert.Equal(t, time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC), cal.lists[0].end)
	assert.Contains(t, reply.Text, "Found 1 event(s) for the specified time period.")
	assert.Contains(t, reply.Text, "1. Standup, Fri Oct 16 11:00 AM - 11:30 AM")
	assert.Contains(t, model.system, "Friday, October 16, 2026")
	assert.Len(t, model.functions, 5)
}

func TestScheduleWithoutArgumentsDefaultsToToday(t *testing.T) {
	cal := &fakeCalendar{}
	d := newDispatcher(t, &fakeChooser{}, cal, true)

	res := d.Execute(context.Background(), 1, GetUserSchedule, nil)
	require.True(t, res.Success)
	assert.Equal(t, "No events found for the specified time period.", Format(res, time.UTC))
	assert.Equal(t, 24*time.Hour, cal.lists[0].end.Sub(cal.lists[0].start))
}

func TestCreateEventDefaultsToOneHour(t *testing.T) {
	cal := &fakeCalendar{}
	model := &fakeChooser{decision: &llm.Decision{
		FunctionName: CreateCalendarEvent,
		Args:         map[string]any{"title": "Standup", "startTime": "tomorrow at 2 PM"},
	}}
	d := newDispatcher(t, model, cal, true)

	reply, err := d.Handle(context.Background(), 1, "Book a meeting tomorrow at 2 PM titled Standup")
	require.NoError(t, err)
	require.Len(t, cal.inserted, 1)
	ev := cal.inserted[0]
	assert.Equal(t, time.Date(2026, 10, 17, 14, 0, 0, 0, time.UTC), ev.Start)
	assert.Equal(t, time.Date(2026, 10, 17, 15, 0, 0, 0, time.UTC), ev.End)
	assert.Contains(t, reply.Text, `Event "Standup" created successfully!`)
	require.NotNil(t, reply.Result)
	assert.Equal(t, "evt-1", reply.Result.Payload.(CreatedPayload).EventID)
}

func TestCreateEventReplacesNonPositiveDuration(t *testing.T) {
	cal := &fakeCalendar{}
	d := newDispatcher(t, &fakeChooser{}, cal, true)

	res := d.Execute(context.Background(), 1, CreateCalendarEvent, map[string]any{
		"title":     "Review",
		"startTime": "2026-10-20T15:00:00",
		"endTime":   "2026-10-20T14:00:00",
		"attendees": []any{"a@example.com", " "},
	})
	require.True(t, res.Success, res.Error)
	ev := cal.inserted[0]
	assert.Equal(t, time.Hour, ev.End.Sub(ev.Start))
	assert.Equal(t, []string{"a@example.com"}, ev.Attendees)
}

func TestCreateEventValidation(t *testing.T) {
	cal := &fakeCalendar{}
	d := newDispatcher(t, &fakeChooser{}, cal, true)

	res := d.Execute(context.Background(), 1, CreateCalendarEvent, map[string]any{"title": "x"})
	assert.False(t, res.Success)
	assert.Equal(t, apperr.KindValidation, res.Kind)

	res = d.Execute(context.Background(), 1, CreateCalendarEvent, map[string]any{"title": "x", "startTime": "someday"})
	assert.False(t, res.Success)
	assert.Contains(t, Format(res, time.UTC), "Sorry, I couldn't complete that: could not understand")
	assert.Empty(t, cal.inserted)
}

func TestAvailability(t *testing.T) {
	busy := calendar.Event{Title: "Lunch", Start: fixedNow.Add(2 * time.Hour), End: fixedNow.Add(3 * time.Hour)}
	cal := &fakeCalendar{events: []calendar.Event{busy}}
	d := newDispatcher(t, &fakeChooser{}, cal, true)

	res := d.Execute(context.Background(), 1, CheckCalendarAvailability, map[string]any{"date": "tomorrow"})
	require.True(t, res.Success)
	assert.Equal(t, time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC), cal.lists[0].start)
	assert.Equal(t, time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC), cal.lists[0].end)
	// the fake returns today's lunch even for tomorrow; the overlap filter drops it
	assert.True(t, res.Payload.(AvailabilityPayload).Available)
	assert.Equal(t, "You are available during the specified time period.", Format(res, time.UTC))

	res = d.Execute(context.Background(), 1, CheckCalendarAvailability, map[string]any{"startTime": "2026-10-16T12:30:00"})
	require.True(t, res.Success)
	assert.Equal(t, time.Hour, cal.lists[1].end.Sub(cal.lists[1].start))
	p := res.Payload.(AvailabilityPayload)
	assert.False(t, p.Available)
	assert.Contains(t, Format(res, time.UTC), "You have 1 conflicting event(s) during this time.")

	res = d.Execute(context.Background(), 1, CheckCalendarAvailability, nil)
	require.True(t, res.Success)
	assert.Equal(t, fixedNow, cal.lists[2].start)
	assert.Equal(t, fixedNow.Add(time.Hour), cal.lists[2].end)
}

func TestAvailabilityReadsClockTimesOnDate(t *testing.T) {
	cal := &fakeCalendar{}
	d := newDispatcher(t, &fakeChooser{}, cal, true)

	res := d.Execute(context.Background(), 1, CheckCalendarAvailability,
		map[string]any{"date": "tomorrow", "startTime": "3 pm"})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, time.Date(2026, 10, 17, 15, 0, 0, 0, time.UTC), cal.lists[0].start)
	assert.Equal(t, time.Date(2026, 10, 17, 16, 0, 0, 0, time.UTC), cal.lists[0].end)

	res = d.Execute(context.Background(), 1, CheckCalendarAvailability,
		map[string]any{"date": "2026-10-20", "startTime": "9:30 am", "endTime": "11 am"})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, time.Date(2026, 10, 20, 9, 30, 0, 0, time.UTC), cal.lists[1].start)
	assert.Equal(t, time.Date(2026, 10, 20, 11, 0, 0, 0, time.UTC), cal.lists[1].end)

	// a full datetime is taken as given
	res = d.Execute(context.Background(), 1, CheckCalendarAvailability,
		map[string]any{"date": "tomorrow", "startTime": "2026-10-16T12:30:00"})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, time.Date(2026, 10, 16, 12, 30, 0, 0, time.UTC), cal.lists[2].start)
}

func TestUpcomingMeetingsFiltersAndLimits(t *testing.T) {
	cal := &fakeCalendar{events: []calendar.Event{
		{Title: "Started", Start: fixedNow.Add(-time.Minute), End: fixedNow.Add(time.Hour)},
		{Title: "Holiday", Start: fixedNow.Add(24 * time.Hour), AllDay: true},
		{Title: "A", Start: fixedNow.Add(time.Hour), End: fixedNow.Add(2 * time.Hour)},
		{Title: "B", Start: fixedNow.Add(3 * time.Hour), End: fixedNow.Add(4 * time.Hour)},
		{Title: "C", Start: fixedNow.Add(5 * time.Hour), End: fixedNow.Add(6 * time.Hour)},
	}}
	d := newDispatcher(t, &fakeChooser{}, cal, true)

	res := d.Execute(context.Background(), 1, ListUpcomingMeetings, map[string]any{"limit": float64(2), "days": "3"})
	require.True(t, res.Success, res.Error)
	events := res.Payload.(UpcomingPayload).Events
	require.Len(t, events, 2)
	assert.Equal(t, "A", events[0].Title)
	assert.Equal(t, "B", events[1].Title)
	assert.Equal(t, fixedNow, cal.lists[0].start)
	assert.Equal(t, fixedNow.Add(72*time.Hour), cal.lists[0].end)
	assert.Contains(t, Format(res, time.UTC), "Found 2 upcoming event(s).")

	res = d.Execute(context.Background(), 1, ListUpcomingMeetings, map[string]any{"limit": 1.5})
	assert.False(t, res.Success)

	cal.events = nil
	res = d.Execute(context.Background(), 1, ListUpcomingMeetings, nil)
	assert.Equal(t, "No upcoming events found.", Format(res, time.UTC))
	assert.Equal(t, fixedNow.Add(7*24*time.Hour), cal.lists[len(cal.lists)-1].end)
}

func TestDeleteIsNotImplemented(t *testing.T) {
	d := newDispatcher(t, &fakeChooser{}, &fakeCalendar{}, true)
	res := d.Execute(context.Background(), 1, DeleteCalendarEvent, map[string]any{"eventId": "x"})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "not implemented")
}

func TestNotConnectedSkipsModelAndProvider(t *testing.T) {
	cal := &fakeCalendar{}
	model := &fakeChooser{}
	d := newDispatcher(t, model, cal, false)

	res := d.Execute(context.Background(), 1, GetUserSchedule, map[string]any{"startDate": "today"})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "connect your calendar first")
	assert.Equal(t, apperr.KindCalendarNotConnected, res.Kind)
	assert.Empty(t, cal.lists)

	reply, err := d.Handle(context.Background(), 1, "What's on my calendar?")
	require.NoError(t, err)
	assert.Equal(t, "You don't have a Google Calendar connected. Please connect your calendar first.", reply.Text)
	assert.Zero(t, model.calls)
}

func TestMalformedArgumentsBecomeFailedResult(t *testing.T) {
	model := &fakeChooser{decision: &llm.Decision{
		FunctionName: CreateCalendarEvent,
		ArgsErr:      apperr.Validation("openai.choose_function", "function arguments are not valid JSON"),
	}}
	cal := &fakeCalendar{}
	d := newDispatcher(t, model, cal, true)

	reply, err := d.Handle(context.Background(), 1, "book a standup tomorrow")
	require.NoError(t, err)
	require.NotNil(t, reply.Result)
	assert.False(t, reply.Result.Success)
	assert.Equal(t, CreateCalendarEvent, reply.Result.Function)
	assert.Equal(t, apperr.KindValidation, reply.Result.Kind)
	assert.Equal(t, "Sorry, I couldn't complete that: function arguments are not valid JSON", reply.Text)
	assert.Empty(t, cal.inserted)
}

func TestUnknownFunctionAndTextReplies(t *testing.T) {
	model := &fakeChooser{decision: &llm.Decision{FunctionName: "cancel_everything"}}
	d := newDispatcher(t, model, &fakeCalendar{}, true)

	reply, err := d.Handle(context.Background(), 1, "cancel my calendar")
	require.NoError(t, err)
	assert.Equal(t, "Sorry, I couldn't complete that: Unknown function: cancel_everything", reply.Text)
	assert.Equal(t, apperr.KindNotFound, reply.Result.Kind)

	model.decision = &llm.Decision{Text: "Which day do you mean?"}
	reply, err = d.Handle(context.Background(), 1, "schedule something")
	require.NoError(t, err)
	assert.Equal(t, "Which day do you mean?", reply.Text)
	assert.Nil(t, reply.Result)

	model.err = apperr.External("llm.choose", errors.New("boom"))
	_, err = d.Handle(context.Background(), 1, "schedule something")
	assert.True(t, apperr.IsKind(err, apperr.KindExternalService))
}

func TestGatewayFailureBecomesResult(t *testing.T) {
	cal := &fakeCalendar{listErr: apperr.External("calendar.list", context.DeadlineExceeded)}
	d := newDispatcher(t, &fakeChooser{}, cal, true)

	res := d.Execute(context.Background(), 1, GetUserSchedule, nil)
	assert.False(t, res.Success)
	assert.Equal(t, "Sorry, I couldn't complete that: external service timed out", Format(res, time.UTC))
}

func TestFormatUnknownPayload(t *testing.T) {
	assert.Equal(t, "Calendar operation completed.", Format(Result{Success: true, Payload: 42}, nil))
}

func TestArgs(t *testing.T) {
	args := Args{"n": float64(3), "s": "4", "bad": "x", "list": "a@x.com, b@x.com", "num": 5.0}

	n, err := args.Int("n", 0)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	n, err = args.Int("s", 0)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	n, err = args.Int("missing", 9)
	require.NoError(t, err)
	assert.Equal(t, 9, n)
	_, err = args.Int("bad", 0)
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))

	list, err := args.Strings("list")
	require.NoError(t, err)
	assert.Equal(t, []string{"a@x.com", "b@x.com"}, list)

	_, err = args.String("num")
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
}
