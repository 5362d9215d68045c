package models

import (
	"fmt"
	"time"
)

// ExpiryCode names an expiry bucket relative to the collection date.
type ExpiryCode string

const (
	ExpiryThisWeek  ExpiryCode = "this_week"
	ExpiryNextWeek  ExpiryCode = "next_week"
	ExpiryThisMonth ExpiryCode = "this_month"
	ExpiryNextMonth ExpiryCode = "next_month"
)

// AllExpiryCodes lists every supported bucket in nearest-first order.
var AllExpiryCodes = []ExpiryCode{ExpiryThisWeek, ExpiryNextWeek, ExpiryThisMonth, ExpiryNextMonth}

// ParseExpiryCode validates a config-supplied bucket name.
func ParseExpiryCode(s string) (ExpiryCode, error) {
	switch ExpiryCode(s) {
	case ExpiryThisWeek, ExpiryNextWeek, ExpiryThisMonth, ExpiryNextMonth:
		return ExpiryCode(s), nil
	}
	return "", fmt.Errorf("unknown expiry code %q", s)
}

// Expiry is a resolved expiry bucket: the symbolic code, the concrete
// contract date and the number of calendar days until it.
type Expiry struct {
	Code ExpiryCode `json:"code"`
	Date time.Time  `json:"date"`
	DTE  int        `json:"dte"`
}

// DateString renders the contract date the way storage paths and trading
// symbols expect it.
func (e Expiry) DateString() string {
	return e.Date.Format("2006-01-02")
}
