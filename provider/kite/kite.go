// Package kite implements provider.Source on top of the Zerodha Kite
// Connect REST API. Option contracts come from the per-exchange instrument
// dumps (NFO for NSE indices, BFO for SENSEX), which are large and change
// only at listing time, so each dump is memoized with its own TTL.
package kite

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	kiteconnect "github.com/zerodha/gokiteconnect/v4"

	"optionflow/config"
	"optionflow/logger"
	"optionflow/models"
	"optionflow/provider"
)

type poolDump struct {
	instruments kiteconnect.Instruments
	fetchedAt   time.Time
}

// Source talks to Kite Connect. It holds no retry or rate-limit policy of
// its own; provider.Client supplies both.
type Source struct {
	kite    *kiteconnect.Client
	log     *logger.Entry
	dumpTTL time.Duration
	now     func() time.Time

	mu    sync.Mutex
	dumps map[string]poolDump
}

func New(cfg config.KiteConfig, timeout time.Duration, log *logger.Log) (*Source, error) {
	if cfg.APIKey == "" || cfg.AccessToken == "" {
		return nil, fmt.Errorf("kite api_key and access_token are required")
	}

	kc := kiteconnect.New(cfg.APIKey)
	kc.SetAccessToken(cfg.AccessToken)
	kc.SetHTTPClient(&http.Client{Timeout: timeout})
	if cfg.BaseURL != "" {
		kc.SetBaseURI(cfg.BaseURL)
	}

	return &Source{
		kite:    kc,
		log:     log.WithComponent("kite_provider"),
		dumpTTL: cfg.InstrumentsTTL,
		now:     time.Now,
		dumps:   make(map[string]poolDump),
	}, nil
}

// Instruments lists the option chain of one index and expiry date out of the
// memoized pool dump.
func (s *Source) Instruments(ctx context.Context, index string, expiry time.Time) (models.InstrumentList, error) {
	pool, ok := OptionsPool(index)
	if !ok {
		return nil, provider.Protocol("instruments", index, fmt.Errorf("no kite exchange mapping for index"))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dump, err := s.poolInstruments(pool)
	if err != nil {
		return nil, classify("instruments", index, err)
	}

	list := chainFromDump(dump, index, expiry)
	if len(list) == 0 {
		return nil, provider.Protocol("instruments", index,
			fmt.Errorf("no %s contracts expiring %s in %s dump", index, expiry.Format("2006-01-02"), pool))
	}
	return list, nil
}

// Quotes fetches market data for the given contracts in a single quote call.
func (s *Source) Quotes(ctx context.Context, instruments []models.Instrument) (map[models.InstrumentKey]models.QuoteRecord, error) {
	if len(instruments) == 0 {
		return map[models.InstrumentKey]models.QuoteRecord{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	symbols := make([]string, 0, len(instruments))
	for _, inst := range instruments {
		symbols = append(symbols, inst.QuoteSymbol())
	}

	quotes, err := s.fetchQuotes(symbols)
	if err != nil {
		return nil, classify("quotes", "", err)
	}

	out := make(map[models.InstrumentKey]models.QuoteRecord, len(instruments))
	for _, inst := range instruments {
		if rec, ok := quotes[inst.QuoteSymbol()]; ok {
			out[inst.InstrumentKey] = rec
		}
	}
	return out, nil
}

// Spot returns the current quote of the index itself.
func (s *Source) Spot(ctx context.Context, index string) (models.QuoteRecord, error) {
	symbol, ok := SpotSymbol(index)
	if !ok {
		return models.QuoteRecord{}, provider.Protocol("spot", index, fmt.Errorf("no kite quote symbol for index"))
	}
	if err := ctx.Err(); err != nil {
		return models.QuoteRecord{}, err
	}

	quotes, err := s.fetchQuotes([]string{symbol})
	if err != nil {
		return models.QuoteRecord{}, classify("spot", index, err)
	}
	rec, ok := quotes[symbol]
	if !ok {
		return models.QuoteRecord{}, provider.Protocol("spot", index, fmt.Errorf("quote response missing %s", symbol))
	}
	return rec, nil
}

// poolInstruments returns the full instrument dump of one exchange segment,
// refetching it only after dumpTTL.
func (s *Source) poolInstruments(pool string) (kiteconnect.Instruments, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d, ok := s.dumps[pool]; ok && s.now().Sub(d.fetchedAt) < s.dumpTTL {
		return d.instruments, nil
	}

	start := s.now()
	instruments, err := s.kite.GetInstrumentsByExchange(pool)
	if err != nil {
		return nil, err
	}
	s.dumps[pool] = poolDump{instruments: instruments, fetchedAt: s.now()}

	s.log.WithFields(logger.Fields{
		"pool":        pool,
		"instruments": len(instruments),
		"duration_ms": s.now().Sub(start).Milliseconds(),
	}).Info("Refreshed instrument dump")
	return instruments, nil
}

func (s *Source) fetchQuotes(symbols []string) (map[string]models.QuoteRecord, error) {
	quotes, err := s.kite.GetQuote(symbols...)
	if err != nil {
		return nil, err
	}

	out := make(map[string]models.QuoteRecord, len(quotes))
	for symbol, q := range quotes {
		rec := models.QuoteRecord{
			LastPrice: q.LastPrice,
			AvgPrice:  q.AveragePrice,
			Open:      q.OHLC.Open,
			High:      q.OHLC.High,
			Low:       q.OHLC.Low,
			Close:     q.OHLC.Close,
			Volume:    int64(q.Volume),
			OI:        int64(q.OI),
			FetchedAt: q.Timestamp.Time,
		}
		if rec.FetchedAt.IsZero() {
			rec.FetchedAt = s.now()
		}
		if len(q.Depth.Buy) > 0 {
			rec.Bid = q.Depth.Buy[0].Price
		}
		if len(q.Depth.Sell) > 0 {
			rec.Ask = q.Depth.Sell[0].Price
		}
		out[symbol] = rec
	}
	return out, nil
}

// chainFromDump filters a pool dump down to the CE/PE contracts of one index
// and expiry date, sorted by strike with the call leg first.
func chainFromDump(dump kiteconnect.Instruments, index string, expiry time.Time) models.InstrumentList {
	want := expiry.Format("2006-01-02")

	var list models.InstrumentList
	for _, inst := range dump {
		if inst.Name != index {
			continue
		}
		if inst.InstrumentType != "CE" && inst.InstrumentType != "PE" {
			continue
		}
		if inst.Expiry.Time.Format("2006-01-02") != want {
			continue
		}

		typ := models.OptionCall
		if inst.InstrumentType == "PE" {
			typ = models.OptionPut
		}
		list = append(list, models.Instrument{
			InstrumentKey: models.InstrumentKey{
				Index:  index,
				Expiry: inst.Expiry.Time,
				Strike: inst.StrikePrice,
				Type:   typ,
			},
			Token:    inst.InstrumentToken,
			Symbol:   inst.Tradingsymbol,
			Exchange: inst.Exchange,
			LotSize:  int(inst.LotSize),
			TickSize: inst.TickSize,
		})
	}

	sort.Slice(list, func(i, j int) bool {
		if list[i].Strike != list[j].Strike {
			return list[i].Strike < list[j].Strike
		}
		return list[i].Type < list[j].Type
	})
	return list
}

// classify maps Kite API failures onto provider error kinds. Auth and
// protocol failures must not be retried, everything else is worth another
// attempt.
func classify(op, index string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return provider.Transient(op, index, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return provider.Transient(op, index, err)
	}

	var kiteErr kiteconnect.Error
	if errors.As(err, &kiteErr) {
		switch kiteErr.ErrorType {
		case kiteconnect.TokenError:
			return provider.Auth(op, index, err)
		case kiteconnect.InputError, kiteconnect.DataError:
			return provider.Protocol(op, index, err)
		}
		return provider.Transient(op, index, err)
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "TokenException"),
		strings.Contains(msg, "api_key"),
		strings.Contains(msg, "access_token"):
		return provider.Auth(op, index, err)
	case strings.Contains(msg, "InputException"),
		strings.Contains(msg, "DataException"):
		return provider.Protocol(op, index, err)
	}
	return provider.Transient(op, index, err)
}
