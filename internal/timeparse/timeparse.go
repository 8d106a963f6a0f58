// Package timeparse turns relative date and time phrases ("tomorrow at 2 pm",
// "this week") into absolute instants.
package timeparse

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gwi.com/calendar-assistant/internal/apperr"
)

var clockPattern = regexp.MustCompile(`^(\d{1,2})(?::(\d{2}))?\s*(am|pm)$`)

// isoLayouts are tried in order for anything that is not a keyword.
var isoLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

type Parser struct {
	Now      func() time.Time
	Location *time.Location
}

func New(loc *time.Location) *Parser {
	if loc == nil {
		loc = time.UTC
	}
	return &Parser{Now: time.Now, Location: loc}
}

func (p *Parser) now() time.Time {
	return p.Now().In(p.Location)
}

// ParseDate resolves a date keyword or an ISO-8601 string.
//
//	today, tomorrow  midnight of that day
//	this week        now + 7 days
//	next week        now + 14 days
//	this month       midnight of the last day of the current month
func (p *Parser) ParseDate(s string) (time.Time, error) {
	token := normalize(s)
	if token == "" {
		return time.Time{}, apperr.Validation("timeparse.date", "date is empty")
	}

	now := p.now()
	switch token {
	case "today":
		return midnight(now), nil
	case "tomorrow":
		return midnight(now).AddDate(0, 0, 1), nil
	case "this week":
		return now.AddDate(0, 0, 7), nil
	case "next week":
		return now.AddDate(0, 0, 14), nil
	case "this month":
		firstOfNext := time.Date(now.Year(), now.Month()+1, 1, 0, 0, 0, 0, now.Location())
		return firstOfNext.AddDate(0, 0, -1), nil
	}
	return p.parseISO("timeparse.date", s)
}

// ParseDateTime resolves "<date> at <H[:MM] am|pm>" or an ISO-8601 string.
// A time earlier than now on "today" rolls over to tomorrow.
func (p *Parser) ParseDateTime(s string) (time.Time, error) {
	token := normalize(s)
	if token == "" {
		return time.Time{}, apperr.Validation("timeparse.datetime", "date/time is empty")
	}

	if datePart, timePart, ok := strings.Cut(token, " at "); ok {
		day, err := p.ParseDate(datePart)
		if err != nil {
			return time.Time{}, err
		}
		hour, minute, err := parseClock(timePart)
		if err != nil {
			return time.Time{}, err
		}
		at := time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, day.Location())
		if strings.TrimSpace(datePart) == "today" && at.Before(p.now()) {
			at = at.AddDate(0, 0, 1)
		}
		return at, nil
	}
	return p.parseISO("timeparse.datetime", s)
}

// IsClock reports whether s is a bare clock time such as "3 pm" or "9:30am".
func IsClock(s string) bool {
	return clockPattern.MatchString(normalize(s))
}

func (p *Parser) parseISO(op, s string) (time.Time, error) {
	v := strings.TrimSpace(s)
	for _, layout := range isoLayouts {
		if t, err := time.ParseInLocation(layout, v, p.Location); err == nil {
			return t, nil
		}
	}
	return time.Time{}, apperr.Validation(op, fmt.Sprintf("could not understand date/time %q", v))
}

// parseClock converts 12-hour clock text to 24-hour values.
func parseClock(s string) (int, int, error) {
	m := clockPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, 0, apperr.Validation("timeparse.clock", fmt.Sprintf("could not understand time %q", s))
	}
	hour, _ := strconv.Atoi(m[1])
	minute := 0
	if m[2] != "" {
		minute, _ = strconv.Atoi(m[2])
	}
	if hour < 1 || hour > 12 || minute > 59 {
		return 0, 0, apperr.Validation("timeparse.clock", fmt.Sprintf("time %q is out of range", s))
	}
	switch {
	case m[3] == "pm" && hour != 12:
		hour += 12
	case m[3] == "am" && hour == 12:
		hour = 0
	}
	return hour, minute, nil
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// StartOfDay is exported for callers that widen ranges to whole days.
func StartOfDay(t time.Time) time.Time {
	return midnight(t)
}

func SameDay(a, b time.Time) bool {
	a = a.In(b.Location())
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}
