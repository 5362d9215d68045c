// Package collector assembles per-index option snapshots. One collection
// pass resolves the index's expiry buckets, fetches the spot quote, derives
// the ATM strike and its configured offsets, quotes every listed leg in one
// batched call per expiry, and emits a CollectionBatch on the batch channel.
package collector

import (
	"context"
	"fmt"
	"time"

	"optionflow/config"
	"optionflow/internal/channel"
	"optionflow/internal/metrics"
	"optionflow/logger"
	"optionflow/market"
	"optionflow/models"
)

// Quoter is the provider surface a collection pass consumes.
type Quoter interface {
	Spot(ctx context.Context, index string) (models.QuoteRecord, error)
	Quotes(ctx context.Context, instruments []models.Instrument) (map[models.InstrumentKey]models.QuoteRecord, error)
}

// ChainSource resolves the option chain for one index and expiry. The bool
// result reports whether the chain is stale (served past its TTL because a
// refresh failed).
type ChainSource interface {
	Get(ctx context.Context, index string, expiry models.Expiry) (models.InstrumentList, bool, error)
}

// Collector runs collection passes and publishes the resulting batches.
type Collector struct {
	quoter   Quoter
	chains   ChainSource
	channels *channel.Channels
	cal      *market.Calendar
	metrics  *metrics.Metrics
	log      *logger.Entry
}

func NewCollector(quoter Quoter, chains ChainSource, channels *channel.Channels, cal *market.Calendar, m *metrics.Metrics, log *logger.Log) *Collector {
	return &Collector{
		quoter:   quoter,
		chains:   chains,
		channels: channels,
		cal:      cal,
		metrics:  m,
		log:      log.WithComponent("collector"),
	}
}

// legSlot pairs one strike offset with its resolved contracts before the
// quote results arrive.
type legSlot struct {
	offset int
	strike float64
	call   *models.Instrument
	put    *models.Instrument
}

// CollectIndex runs one pass for a single index at the given pass timestamp.
// A missing leg degrades the record, never the pass; an unresolvable chain or
// spot quote aborts the pass for this index only.
func (c *Collector) CollectIndex(ctx context.Context, idx config.IndexConfig, now time.Time) error {
	weekday, err := market.ParseWeekday(idx.ExpiryWeekday)
	if err != nil {
		return fmt.Errorf("index %s: %w", idx.Name, err)
	}
	rounding, err := market.ParseRounding(idx.ATMRounding)
	if err != nil {
		return fmt.Errorf("index %s: %w", idx.Name, err)
	}
	codes, err := idx.ExpiryCodes()
	if err != nil {
		return fmt.Errorf("index %s: %w", idx.Name, err)
	}
	expiries, err := market.ResolveAll(codes, weekday, c.cal, now)
	if err != nil {
		return fmt.Errorf("resolve expiries for %s: %w", idx.Name, err)
	}

	spot, err := c.quoter.Spot(ctx, idx.Name)
	if err != nil {
		return fmt.Errorf("spot quote for %s: %w", idx.Name, err)
	}
	atm := market.ATMStrike(spot.LastPrice, idx.StrikeStep, rounding)

	batch := models.NewBatch(idx.Name, now)
	pcr := make(map[models.ExpiryCode]float64, len(expiries))

	for _, expiry := range expiries {
		records, ratio, stale, err := c.collectExpiry(ctx, idx, expiry, atm, spot.LastPrice, now)
		if err != nil {
			return err
		}
		if stale {
			batch.Degraded = true
		}
		batch.Options = append(batch.Options, records...)
		pcr[expiry.Code] = ratio
	}

	batch.Overview = &models.OverviewRecord{
		Index:     idx.Name,
		Spot:      spot,
		DayWidth:  spot.DayWidth(),
		PCR:       pcr,
		Timestamp: now,
	}
	batch.RecordCount = len(batch.Options) + 1

	if !c.channels.SendBatch(ctx, batch) {
		c.metrics.BatchesDropped.Inc()
		return fmt.Errorf("batch channel rejected batch for %s", idx.Name)
	}
	logger.IncrementBatchBuilt(batch.RecordCount)
	logger.LogDataFlowEntry(c.log, idx.Name, "batch_channel", batch.RecordCount, "collection_batch")

	c.log.WithFields(logger.Fields{
		"index":    idx.Name,
		"atm":      atm,
		"spot":     spot.LastPrice,
		"expiries": len(expiries),
		"records":  batch.RecordCount,
		"degraded": batch.Degraded,
	}).Debug("Collection pass assembled")
	return nil
}

// collectExpiry gathers the option records of one expiry bucket: leg lookup
// per offset, one batched quote call for every listed leg, then record
// assembly. The returned ratio is the put/call open-interest ratio over the
// quoted legs, 0 when no call OI was seen.
func (c *Collector) collectExpiry(ctx context.Context, idx config.IndexConfig, expiry models.Expiry, atm, spot float64, now time.Time) ([]models.OptionsRecord, float64, bool, error) {
	chain, stale, err := c.chains.Get(ctx, idx.Name, expiry)
	if err != nil {
		return nil, 0, false, fmt.Errorf("instruments for %s %s: %w", idx.Name, expiry.Code, err)
	}

	slots := make([]legSlot, 0, len(idx.Offsets))
	wanted := make([]models.Instrument, 0, 2*len(idx.Offsets))
	for _, offset := range idx.Offsets {
		slot := legSlot{offset: offset, strike: market.OffsetStrike(atm, offset, idx.StrikeStep)}
		if inst, ok := chain.Leg(slot.strike, models.OptionCall); ok {
			slot.call = &inst
			wanted = append(wanted, inst)
		} else {
			c.missingLeg(idx.Name, expiry, slot.strike, models.OptionCall, "not listed")
		}
		if inst, ok := chain.Leg(slot.strike, models.OptionPut); ok {
			slot.put = &inst
			wanted = append(wanted, inst)
		} else {
			c.missingLeg(idx.Name, expiry, slot.strike, models.OptionPut, "not listed")
		}
		slots = append(slots, slot)
	}

	var quotes map[models.InstrumentKey]models.QuoteRecord
	if len(wanted) > 0 {
		quotes, err = c.quoter.Quotes(ctx, wanted)
		if err != nil {
			return nil, 0, false, fmt.Errorf("quotes for %s %s: %w", idx.Name, expiry.Code, err)
		}
	}

	records := make([]models.OptionsRecord, 0, len(slots))
	var callOI, putOI float64
	for _, slot := range slots {
		rec := models.OptionsRecord{
			Index:     idx.Name,
			Expiry:    expiry,
			Offset:    slot.offset,
			Strike:    slot.strike,
			ATM:       atm,
			Spot:      spot,
			Timestamp: now,
		}
		if slot.call != nil {
			if q, ok := quotes[slot.call.InstrumentKey]; ok {
				rec.Call = &q
				callOI += float64(q.OI)
			} else {
				c.missingLeg(idx.Name, expiry, slot.strike, models.OptionCall, "no quote")
			}
		}
		if slot.put != nil {
			if q, ok := quotes[slot.put.InstrumentKey]; ok {
				rec.Put = &q
				putOI += float64(q.OI)
			} else {
				c.missingLeg(idx.Name, expiry, slot.strike, models.OptionPut, "no quote")
			}
		}
		records = append(records, rec)
	}

	ratio := 0.0
	if callOI > 0 {
		ratio = putOI / callOI
	}
	return records, ratio, stale, nil
}

func (c *Collector) missingLeg(index string, expiry models.Expiry, strike float64, typ models.OptionType, reason string) {
	c.metrics.MissingLegs.WithLabelValues(index, string(expiry.Code)).Inc()
	c.log.WithFields(logger.Fields{
		"index":       index,
		"expiry_code": string(expiry.Code),
		"strike":      strike,
		"type":        string(typ),
		"reason":      reason,
	}).Warn("Option leg missing, recording partial strike")
}
