package provider

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"optionflow/config"
	"optionflow/internal/metrics"
	"optionflow/logger"
	"optionflow/models"
)

type fakeSource struct {
	mu              sync.Mutex
	instrumentCalls int
	quoteCalls      int
	spotCalls       int
	quoteErrs       []error
	chunkSizes      []int

	instruments models.InstrumentList
	quotes      map[models.InstrumentKey]models.QuoteRecord
	spot        models.QuoteRecord
	spotErr     error
}

func (f *fakeSource) Instruments(ctx context.Context, index string, expiry time.Time) (models.InstrumentList, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.instrumentCalls++
	return f.instruments, nil
}

func (f *fakeSource) Quotes(ctx context.Context, instruments []models.Instrument) (map[models.InstrumentKey]models.QuoteRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quoteCalls++
	f.chunkSizes = append(f.chunkSizes, len(instruments))
	if len(f.quoteErrs) > 0 {
		err := f.quoteErrs[0]
		f.quoteErrs = f.quoteErrs[1:]
		return nil, err
	}
	out := make(map[models.InstrumentKey]models.QuoteRecord, len(instruments))
	for _, inst := range instruments {
		if q, ok := f.quotes[inst.InstrumentKey]; ok {
			out[inst.InstrumentKey] = q
		}
	}
	return out, nil
}

func (f *fakeSource) Spot(ctx context.Context, index string) (models.QuoteRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spotCalls++
	if f.spotErr != nil {
		return models.QuoteRecord{}, f.spotErr
	}
	return f.spot, nil
}

func testProviderConfig() config.ProviderConfig {
	return config.ProviderConfig{
		RateLimit:  config.RateLimitConfig{RequestsPerSecond: 1000, BurstSize: 1000},
		Retry:      config.RetryConfig{MaxAttempts: 4, BaseDelay: 100 * time.Millisecond, MaxDelay: 10 * time.Second},
		Timeout:    time.Second,
		QuoteChunk: 250,
		QuoteTTL:   2 * time.Second,
	}
}

func testInstruments(n int) models.InstrumentList {
	expiry := time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC)
	list := make(models.InstrumentList, 0, n)
	for i := 0; i < n; i++ {
		list = append(list, models.Instrument{
			InstrumentKey: models.InstrumentKey{
				Index:  "NIFTY",
				Expiry: expiry,
				Strike: float64(19900 + 50*i),
				Type:   models.OptionCall,
			},
		})
	}
	return list
}

func TestClientRetriesThrottlingThenSucceeds(t *testing.T) {
	throttle := Transient("quotes", "", errors.New("429 too many requests"))
	src := &fakeSource{
		quoteErrs: []error{throttle, throttle, throttle},
		quotes:    map[models.InstrumentKey]models.QuoteRecord{},
	}
	m := metrics.New("optionflow")
	c := NewClient(src, testProviderConfig(), m, logger.Logger())

	var delays []time.Duration
	c.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}

	if _, err := c.Quotes(context.Background(), testInstruments(1)); err != nil {
		t.Fatalf("quotes: %v", err)
	}

	if src.quoteCalls != 4 {
		t.Fatalf("upstream attempts: %d, want 4", src.quoteCalls)
	}
	if got := testutil.ToFloat64(m.ProviderCalls.WithLabelValues("quotes", "ok")); got != 1 {
		t.Fatalf("logical calls: %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ProviderRetries.WithLabelValues("quotes")); got != 3 {
		t.Fatalf("retries: %v, want 3", got)
	}
	if len(delays) != 3 {
		t.Fatalf("sleeps: %d, want 3", len(delays))
	}
	for i := 1; i < len(delays); i++ {
		if delays[i] <= delays[i-1] {
			t.Fatalf("backoff not strictly increasing: %v", delays)
		}
	}
}

func TestClientGivesUpAfterMaxAttempts(t *testing.T) {
	throttle := Transient("quotes", "", errors.New("throttled"))
	src := &fakeSource{
		quoteErrs: []error{throttle, throttle, throttle, throttle, throttle},
	}
	m := metrics.New("optionflow")
	c := NewClient(src, testProviderConfig(), m, logger.Logger())
	c.sleep = func(ctx context.Context, d time.Duration) error { return nil }

	if _, err := c.Quotes(context.Background(), testInstruments(1)); err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if src.quoteCalls != 4 {
		t.Fatalf("upstream attempts: %d, want max_attempts=4", src.quoteCalls)
	}
	if got := testutil.ToFloat64(m.ProviderErrors.WithLabelValues("quotes", "transient")); got != 1 {
		t.Fatalf("provider errors: %v, want 1", got)
	}
}

func TestClientDoesNotRetryAuthErrors(t *testing.T) {
	src := &fakeSource{spotErr: Auth("spot", "NIFTY", errors.New("token expired"))}
	m := metrics.New("optionflow")
	c := NewClient(src, testProviderConfig(), m, logger.Logger())
	c.sleep = func(ctx context.Context, d time.Duration) error {
		t.Fatal("auth errors must not back off")
		return nil
	}

	_, err := c.Spot(context.Background(), "NIFTY")
	if err == nil {
		t.Fatal("expected auth error")
	}
	if src.spotCalls != 1 {
		t.Fatalf("upstream attempts: %d, want 1", src.spotCalls)
	}
	if got := testutil.ToFloat64(m.ProviderErrors.WithLabelValues("spot", "auth")); got != 1 {
		t.Fatalf("auth errors: %v, want 1", got)
	}
}

func TestClientQuoteCache(t *testing.T) {
	insts := testInstruments(3)
	quotes := make(map[models.InstrumentKey]models.QuoteRecord, len(insts))
	for _, inst := range insts {
		quotes[inst.InstrumentKey] = models.QuoteRecord{LastPrice: inst.Strike / 100}
	}
	src := &fakeSource{quotes: quotes}
	m := metrics.New("optionflow")
	c := NewClient(src, testProviderConfig(), m, logger.Logger())

	now := time.Date(2026, 8, 21, 10, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	if _, err := c.Quotes(context.Background(), insts); err != nil {
		t.Fatalf("first quotes: %v", err)
	}
	if src.quoteCalls != 1 {
		t.Fatalf("first fetch calls: %d", src.quoteCalls)
	}

	// Within the TTL the same request stays off the wire entirely.
	now = now.Add(time.Second)
	out, err := c.Quotes(context.Background(), insts)
	if err != nil {
		t.Fatalf("second quotes: %v", err)
	}
	if src.quoteCalls != 1 {
		t.Fatalf("cached fetch went upstream: %d calls", src.quoteCalls)
	}
	if len(out) != 3 {
		t.Fatalf("cached result size: %d", len(out))
	}
	if got := testutil.ToFloat64(m.QuoteCacheHits); got != 3 {
		t.Fatalf("quote cache hits: %v", got)
	}

	// Past the TTL the client refetches.
	now = now.Add(5 * time.Second)
	if _, err := c.Quotes(context.Background(), insts); err != nil {
		t.Fatalf("third quotes: %v", err)
	}
	if src.quoteCalls != 2 {
		t.Fatalf("expired cache did not refetch: %d calls", src.quoteCalls)
	}
}

func TestClientChunksQuoteRequests(t *testing.T) {
	insts := testInstruments(5)
	src := &fakeSource{quotes: map[models.InstrumentKey]models.QuoteRecord{}}
	m := metrics.New("optionflow")

	cfg := testProviderConfig()
	cfg.QuoteChunk = 2
	cfg.QuoteTTL = 0
	c := NewClient(src, cfg, m, logger.Logger())

	if _, err := c.Quotes(context.Background(), insts); err != nil {
		t.Fatalf("quotes: %v", err)
	}
	if src.quoteCalls != 3 {
		t.Fatalf("chunked calls: %d, want 3", src.quoteCalls)
	}
	want := []int{2, 2, 1}
	for i, size := range src.chunkSizes {
		if size != want[i] {
			t.Fatalf("chunk sizes: %v, want %v", src.chunkSizes, want)
		}
	}
}

func TestClientSpotCache(t *testing.T) {
	src := &fakeSource{spot: models.QuoteRecord{LastPrice: 19950}}
	m := metrics.New("optionflow")
	c := NewClient(src, testProviderConfig(), m, logger.Logger())

	now := time.Date(2026, 8, 21, 10, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		q, err := c.Spot(context.Background(), "NIFTY")
		if err != nil {
			t.Fatalf("spot: %v", err)
		}
		if q.LastPrice != 19950 {
			t.Fatalf("spot price: %v", q.LastPrice)
		}
	}
	if src.spotCalls != 1 {
		t.Fatalf("spot calls: %d, want 1", src.spotCalls)
	}
}

func TestClientBackoffCapped(t *testing.T) {
	src := &fakeSource{}
	m := metrics.New("optionflow")
	cfg := testProviderConfig()
	cfg.Retry.BaseDelay = time.Second
	cfg.Retry.MaxDelay = 3 * time.Second
	c := NewClient(src, cfg, m, logger.Logger())

	if d := c.backoff(1); d != time.Second {
		t.Fatalf("backoff(1) = %v", d)
	}
	if d := c.backoff(2); d != 2*time.Second {
		t.Fatalf("backoff(2) = %v", d)
	}
	if d := c.backoff(3); d != 3*time.Second {
		t.Fatalf("backoff(3) = %v", d)
	}
	if d := c.backoff(10); d != 3*time.Second {
		t.Fatalf("backoff(10) = %v", d)
	}
}
