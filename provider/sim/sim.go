// Package sim implements provider.Source with deterministic synthetic data
// so the pipeline can run end to end without upstream credentials. Chains,
// premiums and volumes are pure functions of index, expiry, strike and the
// clock, which keeps repeated runs comparable.
package sim

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"strings"
	"time"

	"optionflow/logger"
	"optionflow/models"
	"optionflow/provider"
)

// strikeDepth is how many strikes the synthetic chain carries on each side
// of the ATM strike.
const strikeDepth = 10

type indexProfile struct {
	base     float64
	step     float64
	exchange string
}

var profiles = map[string]indexProfile{
	"NIFTY":      {base: 24800, step: 50, exchange: "NFO"},
	"BANKNIFTY":  {base: 54200, step: 100, exchange: "NFO"},
	"FINNIFTY":   {base: 23150, step: 50, exchange: "NFO"},
	"MIDCPNIFTY": {base: 12900, step: 25, exchange: "NFO"},
	"SENSEX":     {base: 81200, step: 100, exchange: "BFO"},
}

// Source produces synthetic market data.
type Source struct {
	log *logger.Entry
	now func() time.Time
}

func New(log *logger.Log) *Source {
	entry := log.WithComponent("sim_provider")
	entry.Warn("Simulated provider active, quotes are synthetic")
	return &Source{
		log: entry,
		now: time.Now,
	}
}

// Instruments builds a synthetic chain of strikeDepth strikes on each side
// of the current ATM strike.
func (s *Source) Instruments(ctx context.Context, index string, expiry time.Time) (models.InstrumentList, error) {
	p, ok := profiles[index]
	if !ok {
		return nil, provider.Protocol("instruments", index, fmt.Errorf("no synthetic profile for index"))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	spot := spotAt(p, s.now())
	atm := math.Round(spot/p.step) * p.step

	list := make(models.InstrumentList, 0, 2*(2*strikeDepth+1))
	for i := -strikeDepth; i <= strikeDepth; i++ {
		strike := atm + float64(i)*p.step
		if strike <= 0 {
			continue
		}
		for _, typ := range []models.OptionType{models.OptionCall, models.OptionPut} {
			list = append(list, models.Instrument{
				InstrumentKey: models.InstrumentKey{
					Index:  index,
					Expiry: expiry,
					Strike: strike,
					Type:   typ,
				},
				Token:    token(index, expiry, strike, typ),
				Symbol:   symbol(index, expiry, strike, typ),
				Exchange: p.exchange,
				LotSize:  25,
				TickSize: 0.05,
			})
		}
	}

	sort.Slice(list, func(i, j int) bool {
		if list[i].Strike != list[j].Strike {
			return list[i].Strike < list[j].Strike
		}
		return list[i].Type < list[j].Type
	})
	return list, nil
}

// Quotes prices every requested contract as intrinsic value plus a time
// value that decays with distance from the money.
func (s *Source) Quotes(ctx context.Context, instruments []models.Instrument) (map[models.InstrumentKey]models.QuoteRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := s.now()
	out := make(map[models.InstrumentKey]models.QuoteRecord, len(instruments))
	for _, inst := range instruments {
		p, ok := profiles[inst.Index]
		if !ok {
			continue
		}
		spot := spotAt(p, now)
		last := premium(spot, inst.Strike, inst.Type, daysTo(inst.Expiry, now), p.step)
		seed := float64(token(inst.Index, inst.Expiry, inst.Strike, inst.Type))

		out[inst.InstrumentKey] = models.QuoteRecord{
			LastPrice: last,
			AvgPrice:  round2(last * 1.01),
			Open:      round2(last * 0.97),
			High:      round2(last * 1.05),
			Low:       round2(last * 0.94),
			Close:     round2(last * 0.99),
			Volume:    1000 + int64(seed)%9000,
			OI:        5000 + int64(seed)%45000,
			Bid:       roundTick(last * 0.998),
			Ask:       roundTick(last * 1.002),
			FetchedAt: now,
		}
	}
	return out, nil
}

// Spot quotes the index itself. Indices carry no volume, open interest or
// depth, matching what the real upstream returns for them.
func (s *Source) Spot(ctx context.Context, index string) (models.QuoteRecord, error) {
	p, ok := profiles[index]
	if !ok {
		return models.QuoteRecord{}, provider.Protocol("spot", index, fmt.Errorf("no synthetic profile for index"))
	}
	if err := ctx.Err(); err != nil {
		return models.QuoteRecord{}, err
	}

	now := s.now()
	spot := spotAt(p, now)
	return models.QuoteRecord{
		LastPrice: spot,
		AvgPrice:  spot,
		Open:      round2(p.base * 0.999),
		High:      round2(math.Max(spot, p.base) * 1.004),
		Low:       round2(math.Min(spot, p.base) * 0.996),
		Close:     round2(p.base * 0.998),
		FetchedAt: now,
	}, nil
}

// spotAt drifts the base level through a slow intraday sine wave so spots
// move between passes but replay identically for the same clock.
func spotAt(p indexProfile, t time.Time) float64 {
	minute := float64(t.Hour()*60 + t.Minute())
	wiggle := p.base * 0.002 * math.Sin(2*math.Pi*minute/375)
	return round2(p.base + wiggle)
}

func premium(spot, strike float64, typ models.OptionType, dte, step float64) float64 {
	var intrinsic float64
	if typ == models.OptionCall {
		intrinsic = math.Max(0, spot-strike)
	} else {
		intrinsic = math.Max(0, strike-spot)
	}
	dist := math.Abs(spot-strike) / step
	timeValue := spot * 0.0045 * math.Sqrt(dte+1) * math.Exp(-dist/6)
	return round2(intrinsic + timeValue)
}

func daysTo(expiry time.Time, now time.Time) float64 {
	d := expiry.Sub(now).Hours() / 24
	if d < 0 {
		return 0
	}
	return d
}

func token(index string, expiry time.Time, strike float64, typ models.OptionType) int {
	h := fnv.New32a()
	fmt.Fprintf(h, "%s|%s|%.2f|%s", index, expiry.Format("2006-01-02"), strike, typ)
	return int(h.Sum32() % 1000000)
}

func symbol(index string, expiry time.Time, strike float64, typ models.OptionType) string {
	leg := "CE"
	if typ == models.OptionPut {
		leg = "PE"
	}
	return fmt.Sprintf("%s%s%d%s", index, strings.ToUpper(expiry.Format("06Jan")), int(strike), leg)
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}

func roundTick(x float64) float64 {
	return math.Round(x/0.05) * 0.05
}
