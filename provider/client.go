package provider

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"optionflow/config"
	"optionflow/internal/metrics"
	"optionflow/logger"
	"optionflow/models"
)

type cachedQuote struct {
	q  models.QuoteRecord
	at time.Time
}

// Client is the single choke point in front of a Source. Every upstream
// call passes through the shared rate limiter, transient failures are
// retried with exponential backoff, and quotes are cached for a short TTL
// so overlapping passes do not refetch the same data.
type Client struct {
	source      Source
	limiter     *rate.Limiter
	timeout     time.Duration
	chunk       int
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	quoteTTL    time.Duration
	metrics     *metrics.Metrics
	log         *logger.Entry

	now   func() time.Time
	sleep func(context.Context, time.Duration) error

	mu     sync.Mutex
	quotes map[models.InstrumentKey]cachedQuote
	spots  map[string]cachedQuote
}

func NewClient(source Source, cfg config.ProviderConfig, m *metrics.Metrics, log *logger.Log) *Client {
	return &Client{
		source:      source,
		limiter:     rate.NewLimiter(rate.Limit(cfg.RateLimit.RequestsPerSecond), cfg.RateLimit.BurstSize),
		timeout:     cfg.Timeout,
		chunk:       cfg.QuoteChunk,
		maxAttempts: cfg.Retry.MaxAttempts,
		baseDelay:   cfg.Retry.BaseDelay,
		maxDelay:    cfg.Retry.MaxDelay,
		quoteTTL:    cfg.QuoteTTL,
		metrics:     m,
		log:         log.WithComponent("provider"),
		now:         time.Now,
		sleep:       sleepContext,
		quotes:      make(map[models.InstrumentKey]cachedQuote),
		spots:       make(map[string]cachedQuote),
	}
}

// Instruments fetches the option chain for one index and expiry date.
func (c *Client) Instruments(ctx context.Context, index string, expiry time.Time) (models.InstrumentList, error) {
	var list models.InstrumentList
	err := c.call(ctx, "instruments", index, func(ctx context.Context) error {
		var err error
		list, err = c.source.Instruments(ctx, index, expiry)
		return err
	})
	if err != nil {
		return nil, err
	}
	return list, nil
}

// Spot returns the index quote, served from cache while it is fresh.
func (c *Client) Spot(ctx context.Context, index string) (models.QuoteRecord, error) {
	if c.quoteTTL > 0 {
		c.mu.Lock()
		e, ok := c.spots[index]
		c.mu.Unlock()
		if ok && c.now().Sub(e.at) < c.quoteTTL {
			c.metrics.QuoteCacheHits.Inc()
			return e.q, nil
		}
	}

	var q models.QuoteRecord
	err := c.call(ctx, "spot", index, func(ctx context.Context) error {
		var err error
		q, err = c.source.Spot(ctx, index)
		return err
	})
	if err != nil {
		return models.QuoteRecord{}, err
	}

	if c.quoteTTL > 0 {
		c.mu.Lock()
		c.spots[index] = cachedQuote{q: q, at: c.now()}
		c.mu.Unlock()
	}
	return q, nil
}

// Quotes returns market data for the given contracts, chunking the uncached
// remainder into upstream-sized requests. Contracts without upstream data
// are absent from the result.
func (c *Client) Quotes(ctx context.Context, instruments []models.Instrument) (map[models.InstrumentKey]models.QuoteRecord, error) {
	out := make(map[models.InstrumentKey]models.QuoteRecord, len(instruments))

	fetch := instruments
	if c.quoteTTL > 0 {
		fetch = make([]models.Instrument, 0, len(instruments))
		now := c.now()
		c.mu.Lock()
		for _, inst := range instruments {
			if e, ok := c.quotes[inst.InstrumentKey]; ok && now.Sub(e.at) < c.quoteTTL {
				out[inst.InstrumentKey] = e.q
				continue
			}
			fetch = append(fetch, inst)
		}
		c.mu.Unlock()
		if hits := len(instruments) - len(fetch); hits > 0 {
			c.metrics.QuoteCacheHits.Add(float64(hits))
		}
	}

	for start := 0; start < len(fetch); start += c.chunk {
		end := start + c.chunk
		if end > len(fetch) {
			end = len(fetch)
		}
		chunk := fetch[start:end]

		var got map[models.InstrumentKey]models.QuoteRecord
		err := c.call(ctx, "quotes", "", func(ctx context.Context) error {
			var err error
			got, err = c.source.Quotes(ctx, chunk)
			return err
		})
		if err != nil {
			return nil, err
		}

		now := c.now()
		c.mu.Lock()
		for k, q := range got {
			out[k] = q
			if c.quoteTTL > 0 {
				c.quotes[k] = cachedQuote{q: q, at: now}
			}
		}
		c.mu.Unlock()
	}
	return out, nil
}

// call runs one logical fetch: limiter, per-attempt timeout, and a bounded
// retry loop for transient failures. The call counter counts logical calls,
// the retry counter individual re-attempts.
func (c *Client) call(ctx context.Context, op, index string, fn func(context.Context) error) error {
	var err error
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			c.metrics.ProviderRetries.WithLabelValues(op).Inc()
			if serr := c.sleep(ctx, c.backoff(attempt)); serr != nil {
				return serr
			}
		}
		if werr := c.limiter.Wait(ctx); werr != nil {
			return werr
		}

		logger.IncrementProviderCall()
		start := c.now()
		cctx, cancel := context.WithTimeout(ctx, c.timeout)
		err = fn(cctx)
		cancel()
		c.metrics.ProviderLatency.WithLabelValues(op).Observe(c.now().Sub(start).Seconds())

		if err == nil {
			c.metrics.ProviderCalls.WithLabelValues(op, "ok").Inc()
			return nil
		}
		if !IsTransient(err) || attempt+1 >= c.maxAttempts {
			break
		}
		c.log.WithError(err).WithFields(logger.Fields{
			"op":      op,
			"index":   index,
			"attempt": attempt + 1,
		}).Warn("transient provider error, retrying")
	}

	c.metrics.ProviderCalls.WithLabelValues(op, "error").Inc()
	c.metrics.ProviderErrors.WithLabelValues(op, string(KindOf(err))).Inc()
	return err
}

// backoff doubles the delay each retry, capped at maxDelay.
func (c *Client) backoff(attempt int) time.Duration {
	d := c.baseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= c.maxDelay {
			return c.maxDelay
		}
	}
	if d > c.maxDelay {
		return c.maxDelay
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
