package sim

import (
	"context"
	"testing"
	"time"

	"optionflow/logger"
	"optionflow/models"
	"optionflow/provider"
)

func fixedSource(t *testing.T, at time.Time) *Source {
	t.Helper()
	s := New(logger.Logger())
	s.now = func() time.Time { return at }
	return s
}

func TestInstrumentsDeterministic(t *testing.T) {
	at := time.Date(2026, 8, 21, 10, 0, 0, 0, time.UTC)
	expiry := time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC)

	a, err := fixedSource(t, at).Instruments(context.Background(), "NIFTY", expiry)
	if err != nil {
		t.Fatalf("Instruments: %v", err)
	}
	b, err := fixedSource(t, at).Instruments(context.Background(), "NIFTY", expiry)
	if err != nil {
		t.Fatalf("Instruments: %v", err)
	}

	if len(a) != 2*(2*strikeDepth+1) {
		t.Fatalf("chain has %d contracts, want %d", len(a), 2*(2*strikeDepth+1))
	}
	if len(a) != len(b) {
		t.Fatalf("chain sizes differ between runs: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("contract %d differs between runs: %+v vs %+v", i, a[i], b[i])
		}
	}

	for _, inst := range a {
		if rem := int(inst.Strike) % int(profiles["NIFTY"].step); rem != 0 {
			t.Errorf("strike %.0f is not step aligned", inst.Strike)
		}
	}

	spot, err := fixedSource(t, at).Spot(context.Background(), "NIFTY")
	if err != nil {
		t.Fatalf("Spot: %v", err)
	}
	strikes := a.Strikes()
	atm := strikes[len(strikes)/2]
	if diff := atm - spot.LastPrice; diff > profiles["NIFTY"].step/2 || diff < -profiles["NIFTY"].step/2 {
		t.Errorf("middle strike %.0f is not the ATM strike for spot %.2f", atm, spot.LastPrice)
	}
}

func TestQuotesCoverChain(t *testing.T) {
	at := time.Date(2026, 8, 21, 11, 30, 0, 0, time.UTC)
	expiry := time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC)
	s := fixedSource(t, at)

	chain, err := s.Instruments(context.Background(), "BANKNIFTY", expiry)
	if err != nil {
		t.Fatalf("Instruments: %v", err)
	}
	quotes, err := s.Quotes(context.Background(), chain)
	if err != nil {
		t.Fatalf("Quotes: %v", err)
	}
	if len(quotes) != len(chain) {
		t.Fatalf("quotes cover %d of %d contracts", len(quotes), len(chain))
	}

	spot, err := s.Spot(context.Background(), "BANKNIFTY")
	if err != nil {
		t.Fatalf("Spot: %v", err)
	}

	for key, q := range quotes {
		if q.LastPrice <= 0 {
			t.Errorf("%s priced at %.2f", key, q.LastPrice)
		}
		if q.Bid >= q.Ask {
			t.Errorf("%s bid %.2f is not below ask %.2f", key, q.Bid, q.Ask)
		}
		if key.Type == models.OptionPut && key.Strike > spot.LastPrice {
			if intrinsic := key.Strike - spot.LastPrice; q.LastPrice < intrinsic {
				t.Errorf("ITM put %s priced %.2f below intrinsic %.2f", key, q.LastPrice, intrinsic)
			}
		}
	}
}

func TestUnknownIndex(t *testing.T) {
	s := fixedSource(t, time.Date(2026, 8, 21, 10, 0, 0, 0, time.UTC))
	expiry := time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC)

	if _, err := s.Instruments(context.Background(), "DAX", expiry); provider.KindOf(err) != provider.KindProtocol {
		t.Errorf("Instruments(DAX) kind = %v, want protocol", provider.KindOf(err))
	}
	if _, err := s.Spot(context.Background(), "DAX"); provider.KindOf(err) != provider.KindProtocol {
		t.Errorf("Spot(DAX) kind = %v, want protocol", provider.KindOf(err))
	}
}

func TestSymbol(t *testing.T) {
	expiry := time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC)
	if got := symbol("NIFTY", expiry, 19900, models.OptionPut); got != "NIFTY26AUG19900PE" {
		t.Errorf("symbol = %s, want NIFTY26AUG19900PE", got)
	}
	if got := symbol("SENSEX", expiry, 81200, models.OptionCall); got != "SENSEX26AUG81200CE" {
		t.Errorf("symbol = %s, want SENSEX26AUG81200CE", got)
	}
}
