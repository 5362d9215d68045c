package models

import (
	"time"

	"github.com/google/uuid"
)

/////////////////////////////////////////////////////////////////////////////
///////////////////////////////// QUOTES ////////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// QuoteRecord holds one market snapshot of a single instrument.
type QuoteRecord struct {
	LastPrice float64   `json:"last_price"`
	AvgPrice  float64   `json:"avg_price"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    int64     `json:"volume"`
	OI        int64     `json:"oi"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	FetchedAt time.Time `json:"fetched_at"`
}

// DayWidth is the intraday range of the quote.
func (q QuoteRecord) DayWidth() float64 {
	return q.High - q.Low
}

/////////////////////////////////////////////////////////////////////////////
///////////////////////////////// RECORDS ///////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// OptionsRecord is one collected strike slot: the call and put legs at a
// fixed offset from the ATM strike. A leg is nil when the contract was not
// listed upstream or its quote was missing.
type OptionsRecord struct {
	Index     string       `json:"index"`
	Expiry    Expiry       `json:"expiry"`
	Offset    int          `json:"offset"`
	Strike    float64      `json:"strike"`
	ATM       float64      `json:"atm"`
	Spot      float64      `json:"spot"`
	Call      *QuoteRecord `json:"call,omitempty"`
	Put       *QuoteRecord `json:"put,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// Complete reports whether both legs carry data.
func (r OptionsRecord) Complete() bool {
	return r.Call != nil && r.Put != nil
}

// TotalPremium is the summed last price of both legs, or nil when either
// leg is missing.
func (r OptionsRecord) TotalPremium() *float64 {
	if !r.Complete() {
		return nil
	}
	tp := r.Call.LastPrice + r.Put.LastPrice
	return &tp
}

// OverviewRecord is the per-index snapshot written once per collection pass.
type OverviewRecord struct {
	Index     string                 `json:"index"`
	Spot      QuoteRecord            `json:"spot"`
	DayWidth  float64                `json:"day_width"`
	PCR       map[ExpiryCode]float64 `json:"pcr"`
	Timestamp time.Time              `json:"timestamp"`
}

/////////////////////////////////////////////////////////////////////////////
///////////////////////////////// BATCHES ///////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// CollectionBatch carries everything one pass produced for one index.
// Degraded marks batches assembled from stale instrument data.
type CollectionBatch struct {
	ID          string          `json:"batch_id"`
	Index       string          `json:"index"`
	Timestamp   time.Time       `json:"timestamp"`
	Degraded    bool            `json:"degraded"`
	Overview    *OverviewRecord `json:"overview,omitempty"`
	Options     []OptionsRecord `json:"options"`
	RecordCount int             `json:"record_count"`
}

// NewBatch starts an empty batch for the given index and pass timestamp.
func NewBatch(index string, ts time.Time) CollectionBatch {
	return CollectionBatch{
		ID:        uuid.New().String(),
		Index:     index,
		Timestamp: ts,
	}
}

// NearestExpiry returns the lowest-DTE expiry among the batch's options.
func (b *CollectionBatch) NearestExpiry() (Expiry, bool) {
	var nearest Expiry
	found := false
	for _, r := range b.Options {
		if !found || r.Expiry.DTE < nearest.DTE {
			nearest = r.Expiry
			found = true
		}
	}
	return nearest, found
}
