package timeparse

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gwi.com/calendar-assistant/internal/apperr"
)

// Thursday 2025-01-30 10:30 UTC
var fixedNow = time.Date(2025, 1, 30, 10, 30, 0, 0, time.UTC)

func newTestParser() *Parser {
	p := New(time.UTC)
	p.Now = func() time.Time { return fixedNow }
	return p
}

func TestParseDateKeywords(t *testing.T) {
	p := newTestParser()
	cases := map[string]time.Time{
		"today":      time.Date(2025, 1, 30, 0, 0, 0, 0, time.UTC),
		"Tomorrow":   time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC),
		"this week":  fixedNow.AddDate(0, 0, 7),
		"next  week": fixedNow.AddDate(0, 0, 14),
		"this month": time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC),
		"2025-02-03": time.Date(2025, 2, 3, 0, 0, 0, 0, time.UTC),
	}
	for in, want := range cases {
		got, err := p.ParseDate(in)
		require.NoError(t, err, in)
		require.True(t, want.Equal(got), "%s: want %s got %s", in, want, got)
	}
}

func TestParseDateIsDeterministic(t *testing.T) {
	p := newTestParser()
	for _, kw := range []string{"today", "tomorrow", "this week", "next week", "this month"} {
		a, err := p.ParseDate(kw)
		require.NoError(t, err)
		b, err := p.ParseDate(kw)
		require.NoError(t, err)
		require.True(t, a.Equal(b))
	}
}

func TestThisMonthInFebruaryOfLeapYear(t *testing.T) {
	p := newTestParser()
	p.Now = func() time.Time { return time.Date(2024, 2, 10, 8, 0, 0, 0, time.UTC) }
	got, err := p.ParseDate("this month")
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), got)
}

func TestParseDateTimeCompound(t *testing.T) {
	p := newTestParser()
	cases := map[string]time.Time{
		"tomorrow at 2 PM":     time.Date(2025, 1, 31, 14, 0, 0, 0, time.UTC),
		"tomorrow at 2:30pm":   time.Date(2025, 1, 31, 14, 30, 0, 0, time.UTC),
		"tomorrow at 12 am":    time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC),
		"tomorrow at 12 pm":    time.Date(2025, 1, 31, 12, 0, 0, 0, time.UTC),
		"today at 4 pm":        time.Date(2025, 1, 30, 16, 0, 0, 0, time.UTC),
		"today at 9 am":        time.Date(2025, 1, 31, 9, 0, 0, 0, time.UTC), // already passed
		"2025-02-03T09:15:00Z": time.Date(2025, 2, 3, 9, 15, 0, 0, time.UTC),
		"2025-02-03T09:15":     time.Date(2025, 2, 3, 9, 15, 0, 0, time.UTC),
	}
	for in, want := range cases {
		got, err := p.ParseDateTime(in)
		require.NoError(t, err, in)
		require.True(t, want.Equal(got), "%s: want %s got %s", in, want, got)
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	p := newTestParser()
	for _, in := range []string{"", "   ", "someday", "tomorrow at noonish", "tomorrow at 13 pm", "yesterday at 2 pm"} {
		_, err := p.ParseDateTime(in)
		require.Error(t, err, in)
		require.True(t, apperr.IsKind(err, apperr.KindValidation), in)
	}
	_, err := p.ParseDate("next tuesday")
	require.True(t, apperr.IsKind(err, apperr.KindValidation))
}

func TestLocationIsHonoured(t *testing.T) {
	athens, err := time.LoadLocation("Europe/Athens")
	require.NoError(t, err)
	p := New(athens)
	p.Now = func() time.Time { return fixedNow }

	got, err := p.ParseDateTime("tomorrow at 9 am")
	require.NoError(t, err)
	require.Equal(t, time.Date(2025, 1, 31, 9, 0, 0, 0, athens), got)
	require.Equal(t, 7, got.UTC().Hour())
}

func TestIsClock(t *testing.T) {
	require.True(t, IsClock("3 pm"))
	require.True(t, IsClock(" 9:30AM "))
	require.False(t, IsClock("tomorrow at 3 pm"))
	require.False(t, IsClock("2025-01-30T15:00:00"))
	require.False(t, IsClock(""))
}

func TestSameDay(t *testing.T) {
	a := time.Date(2025, 1, 30, 0, 0, 0, 0, time.UTC)
	require.True(t, SameDay(a, a.Add(23*time.Hour)))
	require.False(t, SameDay(a, a.Add(24*time.Hour)))
	require.Equal(t, a, StartOfDay(a.Add(5*time.Hour)))
}
