package market

import (
	"fmt"
	"time"

	"optionflow/models"
)

// ParseWeekday maps a config weekday name to time.Weekday.
func ParseWeekday(s string) (time.Weekday, error) {
	switch s {
	case "monday":
		return time.Monday, nil
	case "tuesday":
		return time.Tuesday, nil
	case "wednesday":
		return time.Wednesday, nil
	case "thursday":
		return time.Thursday, nil
	case "friday":
		return time.Friday, nil
	}
	return 0, fmt.Errorf("unknown expiry weekday %q", s)
}

// ResolveExpiry turns a symbolic expiry code into a concrete contract date
// as seen from now. Weekly buckets land on the index's expiry weekday (today
// counts when it is that weekday), monthly buckets on the last such weekday
// of the month. A date falling on a holiday rolls back to the previous
// trading day.
func ResolveExpiry(code models.ExpiryCode, weekday time.Weekday, cal *Calendar, now time.Time) (models.Expiry, error) {
	today := midnight(now.In(cal.Location()))

	var date time.Time
	switch code {
	case models.ExpiryThisWeek:
		date = nextWeekday(today, weekday)
	case models.ExpiryNextWeek:
		date = nextWeekday(today, weekday).AddDate(0, 0, 7)
	case models.ExpiryThisMonth:
		date = lastWeekday(today.Year(), today.Month(), weekday, cal.Location())
		if date.Before(today) {
			next := today.AddDate(0, 1, -today.Day()+1)
			date = lastWeekday(next.Year(), next.Month(), weekday, cal.Location())
		}
	case models.ExpiryNextMonth:
		this, err := ResolveExpiry(models.ExpiryThisMonth, weekday, cal, now)
		if err != nil {
			return models.Expiry{}, err
		}
		next := this.Date.AddDate(0, 1, -this.Date.Day()+1)
		date = lastWeekday(next.Year(), next.Month(), weekday, cal.Location())
	default:
		return models.Expiry{}, fmt.Errorf("unknown expiry code %q", code)
	}

	date = rollBackToTradingDay(date, today, cal)
	dte := int(date.Sub(today).Hours() / 24)
	return models.Expiry{Code: code, Date: date, DTE: dte}, nil
}

// ResolveAll resolves every requested code against the same reference time.
func ResolveAll(codes []models.ExpiryCode, weekday time.Weekday, cal *Calendar, now time.Time) ([]models.Expiry, error) {
	out := make([]models.Expiry, 0, len(codes))
	for _, code := range codes {
		exp, err := ResolveExpiry(code, weekday, cal, now)
		if err != nil {
			return nil, err
		}
		out = append(out, exp)
	}
	return out, nil
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// nextWeekday returns the first date on or after from that falls on wd.
func nextWeekday(from time.Time, wd time.Weekday) time.Time {
	ahead := (int(wd) - int(from.Weekday()) + 7) % 7
	return from.AddDate(0, 0, ahead)
}

// lastWeekday returns the last wd of the given month.
func lastWeekday(year int, month time.Month, wd time.Weekday, loc *time.Location) time.Time {
	last := time.Date(year, month+1, 1, 0, 0, 0, 0, loc).AddDate(0, 0, -1)
	back := (int(last.Weekday()) - int(wd) + 7) % 7
	return last.AddDate(0, 0, -back)
}

// rollBackToTradingDay steps an expiry off holidays onto the preceding
// trading day, but never before today: exchanges prepone expiries, they do
// not skip a live week.
func rollBackToTradingDay(date, today time.Time, cal *Calendar) time.Time {
	for !cal.IsTradingDay(date) && date.After(today) {
		date = date.AddDate(0, 0, -1)
	}
	return date
}
