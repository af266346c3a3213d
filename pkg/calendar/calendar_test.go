package calendar

import (
	"testing"
	"time"
)

func newYork(t *testing.T) *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	return loc
}

func at(loc *time.Location, hour, minute int) time.Time {
	// 2026-01-05 is a Monday, not a holiday in any default set.
	return time.Date(2026, 1, 5, hour, minute, 0, 0, loc)
}

func TestSessionBoundaries(t *testing.T) {
	loc := newYork(t)
	cal := NewCalendar(loc, nil, nil)

	cases := []struct {
		hour, minute int
		want         SessionTag
	}{
		{3, 59, SessionClosed},
		{4, 0, SessionPreMarket},
		{9, 29, SessionPreMarket},
		{9, 30, SessionOpeningRange},
		{9, 59, SessionOpeningRange},
		{10, 0, SessionMorning},
		{11, 59, SessionMorning},
		{12, 0, SessionAfternoon},
		{12, 59, SessionAfternoon},
		{13, 0, SessionPowerHour},
		{15, 59, SessionPowerHour},
		{16, 0, SessionClosed},
	}

	for _, c := range cases {
		got := cal.Session(at(loc, c.hour, c.minute))
		if got != c.want {
			t.Errorf("Session(%02d:%02d) = %s, want %s", c.hour, c.minute, got, c.want)
		}
	}
}

func TestSessionHalfDayCompressesPowerHourAway(t *testing.T) {
	loc := newYork(t)
	cal := NewCalendar(loc, nil, []string{"2026-01-05"})

	if got := cal.Session(at(loc, 12, 59)); got != SessionAfternoon {
		t.Errorf("Session(12:59 half day) = %s, want %s", got, SessionAfternoon)
	}
	if got := cal.Session(at(loc, 13, 0)); got != SessionClosed {
		t.Errorf("Session(13:00 half day) = %s, want %s", got, SessionClosed)
	}
}

func TestIsTradingDayWeekendAndHoliday(t *testing.T) {
	loc := newYork(t)
	cal := NewCalendar(loc, []string{"2026-01-05"}, nil)

	saturday := time.Date(2026, 1, 3, 10, 0, 0, 0, loc)
	if cal.IsTradingDay(saturday) {
		t.Error("Saturday should not be a trading day")
	}
	if cal.IsTradingDay(at(loc, 10, 0)) {
		t.Error("injected holiday should not be a trading day")
	}

	sunday := time.Date(2026, 1, 4, 10, 0, 0, 0, loc)
	if cal.Session(sunday) != SessionClosed {
		t.Error("weekend session should be CLOSED regardless of time of day")
	}
}

func TestNextTradingDaySkipsWeekendAndHoliday(t *testing.T) {
	loc := newYork(t)
	cal := NewCalendar(loc, []string{"2026-01-05", "2026-01-06"}, nil) // Monday and Tuesday are holidays

	friday := time.Date(2026, 1, 2, 10, 0, 0, 0, loc)
	next := cal.NextTradingDay(friday)
	if next.Weekday() != time.Wednesday {
		t.Errorf("NextTradingDay(Friday) = %s, want Wednesday (Mon/Tue skipped)", next.Weekday())
	}
}

func TestAddTradingDaysNegative(t *testing.T) {
	loc := newYork(t)
	cal := NewCalendar(loc, nil, nil)

	monday := time.Date(2026, 1, 5, 10, 0, 0, 0, loc)
	back := cal.AddTradingDays(monday, -1)
	if back.Weekday() != time.Friday {
		t.Errorf("AddTradingDays(Monday, -1) = %s, want Friday", back.Weekday())
	}
}

func TestMinutesSinceOpenClampsBeforeOpen(t *testing.T) {
	loc := newYork(t)
	cal := NewCalendar(loc, nil, nil)

	if got := cal.MinutesSinceOpen(at(loc, 8, 0)); got != 0 {
		t.Errorf("MinutesSinceOpen(08:00) = %d, want 0", got)
	}
	if got := cal.MinutesSinceOpen(at(loc, 10, 0)); got != 30 {
		t.Errorf("MinutesSinceOpen(10:00) = %d, want 30", got)
	}
}

func TestMinutesToCloseHalfDay(t *testing.T) {
	loc := newYork(t)
	cal := NewCalendar(loc, nil, []string{"2026-01-05"})

	if got := cal.MinutesToClose(at(loc, 14, 0)); got != 0 {
		t.Errorf("MinutesToClose(14:00 half day) = %d, want 0", got)
	}
	if got := cal.MinutesToClose(at(loc, 12, 0)); got != 60 {
		t.Errorf("MinutesToClose(12:00 half day) = %d, want 60", got)
	}
}

func TestIsFriday(t *testing.T) {
	loc := newYork(t)
	cal := NewCalendar(loc, nil, nil)

	friday := time.Date(2026, 1, 2, 10, 0, 0, 0, loc)
	if !cal.IsFriday(friday) {
		t.Error("expected Friday")
	}
	if cal.IsFriday(at(loc, 10, 0)) {
		t.Error("Monday should not be Friday")
	}
}
