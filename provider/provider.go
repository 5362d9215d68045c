// Package provider fronts the upstream market-data API. Source is the
// minimal fetch contract; Client wraps any Source with rate limiting,
// bounded retries and short-lived quote caching so callers never talk to
// the upstream directly.
package provider

import (
	"context"
	"time"

	"optionflow/models"
)

// Source fetches raw market data for one call, with no retry or caching
// policy of its own.
type Source interface {
	// Instruments lists every option contract of the index expiring on the
	// given date.
	Instruments(ctx context.Context, index string, expiry time.Time) (models.InstrumentList, error)

	// Quotes fetches current market data for the given contracts. Contracts
	// the upstream has no data for are simply absent from the result.
	Quotes(ctx context.Context, instruments []models.Instrument) (map[models.InstrumentKey]models.QuoteRecord, error)

	// Spot returns the current quote of the index itself.
	Spot(ctx context.Context, index string) (models.QuoteRecord, error)
}
