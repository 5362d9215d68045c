package models

import (
	"fmt"
	"time"
)

// OptionType distinguishes the two legs of a strike.
type OptionType string

const (
	OptionCall OptionType = "CALL"
	OptionPut  OptionType = "PUT"
)

// InstrumentKey uniquely identifies one tradable option contract.
type InstrumentKey struct {
	Index  string     `json:"index"`
	Expiry time.Time  `json:"expiry"`
	Strike float64    `json:"strike"`
	Type   OptionType `json:"type"`
}

func (k InstrumentKey) String() string {
	return fmt.Sprintf("%s %s %.2f %s", k.Index, k.Expiry.Format("2006-01-02"), k.Strike, k.Type)
}

// Instrument pairs an InstrumentKey with the exchange identifiers needed to
// quote the contract upstream.
type Instrument struct {
	InstrumentKey
	Token    int     `json:"token"`
	Symbol   string  `json:"symbol"`
	Exchange string  `json:"exchange"`
	LotSize  int     `json:"lot_size"`
	TickSize float64 `json:"tick_size"`
}

// QuoteSymbol renders the exchange-qualified symbol quote requests use.
func (i Instrument) QuoteSymbol() string {
	return i.Exchange + ":" + i.Symbol
}

// InstrumentList holds every contract of one (index, expiry) chain.
type InstrumentList []Instrument

// Leg returns the contract at the given strike and option type.
func (l InstrumentList) Leg(strike float64, typ OptionType) (Instrument, bool) {
	for _, inst := range l {
		if inst.Type == typ && inst.Strike == strike {
			return inst, true
		}
	}
	return Instrument{}, false
}

// Strikes returns the distinct strikes present in the chain, in list order.
func (l InstrumentList) Strikes() []float64 {
	seen := make(map[float64]struct{}, len(l))
	out := make([]float64, 0, len(l)/2)
	for _, inst := range l {
		if _, ok := seen[inst.Strike]; ok {
			continue
		}
		seen[inst.Strike] = struct{}{}
		out = append(out, inst.Strike)
	}
	return out
}
