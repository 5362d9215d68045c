package market

import (
	"fmt"
	"math"
)

// Rounding selects how a spot price maps onto the strike grid when it sits
// exactly between two strikes.
type Rounding string

const (
	RoundHalfUp   Rounding = "half_up"
	RoundHalfEven Rounding = "half_even"
)

// ParseRounding validates a config-supplied rounding mode. Empty selects
// half_up.
func ParseRounding(s string) (Rounding, error) {
	switch Rounding(s) {
	case "":
		return RoundHalfUp, nil
	case RoundHalfUp, RoundHalfEven:
		return Rounding(s), nil
	}
	return "", fmt.Errorf("unknown atm rounding %q", s)
}

// ATMStrike rounds the spot price to the nearest multiple of the strike
// step.
func ATMStrike(spot, step float64, mode Rounding) float64 {
	q := spot / step
	switch mode {
	case RoundHalfEven:
		return math.RoundToEven(q) * step
	default:
		return math.Floor(q+0.5) * step
	}
}

// OffsetStrike is the strike a signed number of steps away from the ATM.
func OffsetStrike(atm float64, offset int, step float64) float64 {
	return atm + float64(offset)*step
}
