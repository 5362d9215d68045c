// Package market knows the exchange calendar: trading hours, holidays,
// expiry date resolution and strike arithmetic.
package market

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// Calendar answers whether the exchange is open at a given instant and
// which days trade at all.
type Calendar struct {
	loc       *time.Location
	openMins  int
	closeMins int
	holidays  map[string]struct{}
}

// NewCalendar builds a calendar from a timezone name, session bounds in
// "HH:MM" form and a list of holiday dates in "YYYY-MM-DD" form.
func NewCalendar(timezone, open, close string, holidays []string) (*Calendar, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", timezone, err)
	}
	openMins, err := parseClock(open)
	if err != nil {
		return nil, fmt.Errorf("market open: %w", err)
	}
	closeMins, err := parseClock(close)
	if err != nil {
		return nil, fmt.Errorf("market close: %w", err)
	}
	if openMins >= closeMins {
		return nil, fmt.Errorf("market open %s is not before close %s", open, close)
	}
	hs := make(map[string]struct{}, len(holidays))
	for _, h := range holidays {
		if _, err := time.Parse(dateLayout, h); err != nil {
			return nil, fmt.Errorf("holiday %q: %w", h, err)
		}
		hs[h] = struct{}{}
	}
	return &Calendar{loc: loc, openMins: openMins, closeMins: closeMins, holidays: hs}, nil
}

func parseClock(s string) (int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("bad clock %q, want HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("bad hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("bad minute in %q", s)
	}
	return h*60 + m, nil
}

// Location is the exchange timezone.
func (c *Calendar) Location() *time.Location {
	return c.loc
}

// IsOpen reports whether the market trades at instant t. The session is
// half-open: the open minute counts, the close minute does not.
func (c *Calendar) IsOpen(t time.Time) bool {
	lt := t.In(c.loc)
	if !c.IsTradingDay(lt) {
		return false
	}
	mins := lt.Hour()*60 + lt.Minute()
	return mins >= c.openMins && mins < c.closeMins
}

// IsTradingDay reports whether the date of t is a weekday that is not a
// configured holiday.
func (c *Calendar) IsTradingDay(t time.Time) bool {
	lt := t.In(c.loc)
	switch lt.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	_, holiday := c.holidays[lt.Format(dateLayout)]
	return !holiday
}
