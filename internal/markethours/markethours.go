// Package markethours tells the sync loops when a venue is trading so they
// can skip fetches while it is closed.
package markethours

import (
	"fmt"
	"strings"
	"time"
)

// IST is the Indian Standard Time location (UTC+5:30).
var IST = time.FixedZone("IST", 5*3600+30*60)

// Calendar is a weekday session with a fixed open/close time and a set of
// full-day holidays, all in one location.
type Calendar struct {
	Name     string
	Loc      *time.Location
	Open     time.Duration // offset from midnight
	Close    time.Duration
	holidays map[string]bool
}

// NewCalendar builds a calendar. openAt and closeAt are "15:04" clock times.
func NewCalendar(name string, loc *time.Location, openAt, closeAt string, holidays []time.Time) (*Calendar, error) {
	o, err := clock(openAt)
	if err != nil {
		return nil, err
	}
	c, err := clock(closeAt)
	if err != nil {
		return nil, err
	}
	if c <= o {
		return nil, fmt.Errorf("markethours %s: close %s not after open %s", name, closeAt, openAt)
	}
	cal := &Calendar{Name: name, Loc: loc, Open: o, Close: c, holidays: make(map[string]bool, len(holidays))}
	for _, h := range holidays {
		cal.holidays[h.In(loc).Format("2006-01-02")] = true
	}
	return cal, nil
}

func clock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("markethours: bad clock time %q: %w", s, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// NSE is the National Stock Exchange cash session, 09:15-15:30 IST.
func NSE() *Calendar {
	cal, _ := NewCalendar("NSE", IST, "09:15", "15:30", nseHolidays)
	return cal
}

// ForVenue returns the calendar of a venue, or nil for venues treated as
// always open (crypto, forex).
func ForVenue(venue string) *Calendar {
	switch strings.ToUpper(strings.TrimSpace(venue)) {
	case "NSE", "BSE", "NFO":
		return NSE()
	}
	return nil
}

func (c *Calendar) midnight(t time.Time) time.Time {
	l := t.In(c.Loc)
	return time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, c.Loc)
}

// IsHoliday reports whether t falls on a listed holiday.
func (c *Calendar) IsHoliday(t time.Time) bool {
	return c.holidays[t.In(c.Loc).Format("2006-01-02")]
}

// IsTradingDay reports whether t is a weekday that is not a holiday.
func (c *Calendar) IsTradingDay(t time.Time) bool {
	wd := t.In(c.Loc).Weekday()
	return wd != time.Saturday && wd != time.Sunday && !c.IsHoliday(t)
}

// IsOpen reports whether the session is live at t. A nil calendar is
// always open.
func (c *Calendar) IsOpen(t time.Time) bool {
	if c == nil {
		return true
	}
	if !c.IsTradingDay(t) {
		return false
	}
	since := t.In(c.Loc).Sub(c.midnight(t))
	return since >= c.Open && since < c.Close
}

// NextOpen returns the next session open at or after t.
func (c *Calendar) NextOpen(t time.Time) time.Time {
	day := c.midnight(t)
	if open := day.Add(c.Open); !t.After(open) && c.IsTradingDay(day) {
		return open
	}
	for i := 1; i <= 14; i++ {
		d := day.AddDate(0, 0, i)
		if c.IsTradingDay(d) {
			return d.Add(c.Open)
		}
	}
	return day.AddDate(0, 0, 1).Add(c.Open)
}

// Status returns a short human-readable session status.
func (c *Calendar) Status(t time.Time) string {
	if c == nil {
		return "always open"
	}
	if c.IsOpen(t) {
		return fmt.Sprintf("%s open, closes in %s", c.Name, fmtDur(c.midnight(t).Add(c.Close).Sub(t)))
	}
	next := c.NextOpen(t)
	return fmt.Sprintf("%s closed, opens %s %s (%s)",
		c.Name, next.Weekday().String()[:3], next.Format("15:04"), fmtDur(next.Sub(t)))
}

func fmtDur(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
