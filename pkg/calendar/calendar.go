// Package calendar provides trading-session tagging and trading-day
// arithmetic for U.S. equity/options markets.
package calendar

import "time"

// SessionTag classifies a timestamp's position within the trading day.
type SessionTag string

const (
	SessionClosed       SessionTag = "CLOSED"
	SessionPreMarket    SessionTag = "PRE_MARKET"
	SessionOpeningRange SessionTag = "OPENING_RANGE"
	SessionMorning      SessionTag = "MORNING"
	SessionAfternoon    SessionTag = "AFTERNOON"
	SessionPowerHour    SessionTag = "POWER_HOUR"
)

// IsRegularHours reports whether tag falls within the regular trading
// session (everything from the opening range through the power hour).
func (s SessionTag) IsRegularHours() bool {
	switch s {
	case SessionOpeningRange, SessionMorning, SessionAfternoon, SessionPowerHour:
		return true
	}
	return false
}

// Minute-of-day boundaries, per the documented session table.
const (
	preMarketOpenMinute = 240 // 04:00
	openingRangeMinute  = 570 // 09:30
	morningMinute       = 600 // 10:00
	afternoonMinute     = 720 // 12:00
	powerHourMinute     = 780 // 13:00
	regularCloseMinute  = 960 // 16:00
	halfDayCloseMinute  = 780 // 13:00
)

// Calendar tags timestamps against the U.S. equity trading calendar,
// including an injectable holiday and half-day set.
type Calendar struct {
	loc      *time.Location
	holidays map[string]bool
	halfDays map[string]bool
}

// NewCalendar builds a Calendar for loc with the given holiday and half-day
// sets. Dates are supplied as "2006-01-02" strings in loc's civil calendar.
func NewCalendar(loc *time.Location, holidays, halfDays []string) *Calendar {
	c := &Calendar{
		loc:      loc,
		holidays: make(map[string]bool, len(holidays)),
		halfDays: make(map[string]bool, len(halfDays)),
	}
	for _, d := range holidays {
		c.holidays[d] = true
	}
	for _, d := range halfDays {
		c.halfDays[d] = true
	}
	return c
}

// DefaultCalendar returns a Calendar for America/New_York with no injected
// holidays; callers that need holiday accuracy should supply their own set
// via NewCalendar.
func DefaultCalendar() *Calendar {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		loc = time.UTC
	}
	return NewCalendar(loc, nil, nil)
}

func dateKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// IsTradingDay reports whether t's calendar date is a trading day: not a
// weekend and not an injected holiday.
func (c *Calendar) IsTradingDay(t time.Time) bool {
	t = t.In(c.loc)
	if wd := t.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	return !c.holidays[dateKey(t)]
}

// IsHalfDay reports whether t's calendar date is an injected early-close day.
func (c *Calendar) IsHalfDay(t time.Time) bool {
	return c.halfDays[dateKey(t.In(c.loc))]
}

// Session classifies t into a SessionTag as a pure function of local
// date-time, the holiday set, and the half-day set. A half day closes the
// regular session at 13:00 instead of 16:00, compressing the power hour
// away entirely.
func (c *Calendar) Session(t time.Time) SessionTag {
	t = t.In(c.loc)
	if !c.IsTradingDay(t) {
		return SessionClosed
	}

	m := t.Hour()*60 + t.Minute()
	closeMinute := regularCloseMinute
	if c.IsHalfDay(t) {
		closeMinute = halfDayCloseMinute
	}

	switch {
	case m < preMarketOpenMinute || m >= closeMinute:
		return SessionClosed
	case m < openingRangeMinute:
		return SessionPreMarket
	case m < min(morningMinute, closeMinute):
		return SessionOpeningRange
	case m < min(afternoonMinute, closeMinute):
		return SessionMorning
	case m < min(powerHourMinute, closeMinute):
		return SessionAfternoon
	default:
		return SessionPowerHour
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// NextTradingDay returns the next trading day strictly after t, at the same
// time-of-day.
func (c *Calendar) NextTradingDay(t time.Time) time.Time {
	next := t.AddDate(0, 0, 1)
	for !c.IsTradingDay(next) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// AddTradingDays advances t by n trading days (n may be negative).
func (c *Calendar) AddTradingDays(t time.Time, n int) time.Time {
	step := 1
	if n < 0 {
		step = -1
		n = -n
	}
	cur := t
	for i := 0; i < n; i++ {
		cur = cur.AddDate(0, 0, step)
		for !c.IsTradingDay(cur) {
			cur = cur.AddDate(0, 0, step)
		}
	}
	return cur
}

// MinutesSinceOpen returns minutes elapsed since 9:30am on t's date, clamped
// to zero before the open.
func (c *Calendar) MinutesSinceOpen(t time.Time) int {
	t = t.In(c.loc)
	open := time.Date(t.Year(), t.Month(), t.Day(), 9, 30, 0, 0, c.loc)
	d := int(t.Sub(open).Minutes())
	if d < 0 {
		return 0
	}
	return d
}

// MinutesToClose returns minutes remaining until the close (16:00, or
// 13:00 on a half day) on t's date, clamped to zero after the close.
func (c *Calendar) MinutesToClose(t time.Time) int {
	t = t.In(c.loc)
	closeHour := 16
	if c.IsHalfDay(t) {
		closeHour = 13
	}
	closeTime := time.Date(t.Year(), t.Month(), t.Day(), closeHour, 0, 0, 0, c.loc)
	d := int(closeTime.Sub(t).Minutes())
	if d < 0 {
		return 0
	}
	return d
}

// IsFriday reports whether t falls on a Friday in the calendar's location,
// used by the Scheduler to gate the Friday-only ticker set.
func (c *Calendar) IsFriday(t time.Time) bool {
	return t.In(c.loc).Weekday() == time.Friday
}
