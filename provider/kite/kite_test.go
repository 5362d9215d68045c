package kite

import (
	"context"
	"fmt"
	"testing"
	"time"

	kiteconnect "github.com/zerodha/gokiteconnect/v4"
	kitemodels "github.com/zerodha/gokiteconnect/v4/models"

	"optionflow/models"
	"optionflow/provider"
)

func option(index, symbol string, strike float64, instType string, expiry time.Time, token int) kiteconnect.Instrument {
	exchange := "NFO"
	if index == "SENSEX" {
		exchange = "BFO"
	}
	return kiteconnect.Instrument{
		InstrumentToken: token,
		Tradingsymbol:   symbol,
		Name:            index,
		Expiry:          kitemodels.Time{Time: expiry},
		StrikePrice:     strike,
		LotSize:         75,
		TickSize:        0.05,
		InstrumentType:  instType,
		Exchange:        exchange,
	}
}

func TestIndexMapping(t *testing.T) {
	cases := []struct {
		index string
		pool  string
		spot  string
	}{
		{"NIFTY", "NFO", "NSE:NIFTY 50"},
		{"BANKNIFTY", "NFO", "NSE:NIFTY BANK"},
		{"FINNIFTY", "NFO", "NSE:NIFTY FIN SERVICE"},
		{"MIDCPNIFTY", "NFO", "NSE:NIFTY MID SELECT"},
		{"SENSEX", "BFO", "BSE:SENSEX"},
	}
	for _, tc := range cases {
		pool, ok := OptionsPool(tc.index)
		if !ok || pool != tc.pool {
			t.Errorf("OptionsPool(%s) = %s, %v, want %s", tc.index, pool, ok, tc.pool)
		}
		spot, ok := SpotSymbol(tc.index)
		if !ok || spot != tc.spot {
			t.Errorf("SpotSymbol(%s) = %s, %v, want %s", tc.index, spot, ok, tc.spot)
		}
	}

	if _, ok := OptionsPool("DAX"); ok {
		t.Error("OptionsPool(DAX) should not resolve")
	}
	if _, ok := SpotSymbol("DAX"); ok {
		t.Error("SpotSymbol(DAX) should not resolve")
	}
}

func TestChainFromDump(t *testing.T) {
	expiry := time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC)
	nextExpiry := expiry.AddDate(0, 0, 7)

	future := option("NIFTY", "NIFTY26AUGFUT", 0, "FUT", expiry, 105)

	dump := kiteconnect.Instruments{
		option("NIFTY", "NIFTY26AUG19900CE", 19900, "CE", expiry, 101),
		option("NIFTY", "NIFTY26AUG19900PE", 19900, "PE", expiry, 102),
		option("NIFTY", "NIFTY26SEP19900CE", 19900, "CE", nextExpiry, 103),
		option("BANKNIFTY", "BANKNIFTY26AUG44800CE", 44800, "CE", expiry, 104),
		future,
		option("NIFTY", "NIFTY26AUG19850CE", 19850, "CE", expiry, 106),
	}

	chain := chainFromDump(dump, "NIFTY", expiry)
	if len(chain) != 3 {
		t.Fatalf("chain has %d contracts, want 3", len(chain))
	}

	wantOrder := []struct {
		strike float64
		typ    models.OptionType
	}{
		{19850, models.OptionCall},
		{19900, models.OptionCall},
		{19900, models.OptionPut},
	}
	for i, want := range wantOrder {
		if chain[i].Strike != want.strike || chain[i].Type != want.typ {
			t.Errorf("chain[%d] = %.0f %s, want %.0f %s", i, chain[i].Strike, chain[i].Type, want.strike, want.typ)
		}
	}

	leg, ok := chain.Leg(19900, models.OptionPut)
	if !ok {
		t.Fatal("19900 PUT missing from chain")
	}
	if leg.Token != 102 {
		t.Errorf("19900 PUT token = %d, want 102", leg.Token)
	}
	if got := leg.QuoteSymbol(); got != "NFO:NIFTY26AUG19900PE" {
		t.Errorf("QuoteSymbol = %s, want NFO:NIFTY26AUG19900PE", got)
	}
	if leg.LotSize != 75 {
		t.Errorf("lot size = %d, want 75", leg.LotSize)
	}

	if empty := chainFromDump(dump, "SENSEX", expiry); len(empty) != 0 {
		t.Errorf("SENSEX chain from NFO-style dump has %d contracts, want 0", len(empty))
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want provider.Kind
	}{
		{"token error", kiteconnect.Error{Code: 403, ErrorType: kiteconnect.TokenError, Message: "invalid access_token"}, provider.KindAuth},
		{"input error", kiteconnect.Error{Code: 400, ErrorType: kiteconnect.InputError, Message: "invalid instruments"}, provider.KindProtocol},
		{"data error", kiteconnect.Error{Code: 502, ErrorType: kiteconnect.DataError, Message: "unparsable response"}, provider.KindProtocol},
		{"network error", kiteconnect.Error{Code: 502, ErrorType: "NetworkException", Message: "gateway timeout"}, provider.KindTransient},
		{"token text", fmt.Errorf("kite: TokenException: session expired"), provider.KindAuth},
		{"input text", fmt.Errorf("kite: InputException: bad symbol"), provider.KindProtocol},
		{"plain network", fmt.Errorf("connection reset by peer"), provider.KindTransient},
		{"deadline", context.DeadlineExceeded, provider.KindTransient},
	}
	for _, tc := range cases {
		got := classify("quotes", "NIFTY", tc.err)
		if got == nil {
			t.Fatalf("%s: classify returned nil", tc.name)
		}
		if kind := provider.KindOf(got); kind != tc.want {
			t.Errorf("%s: kind = %s, want %s", tc.name, kind, tc.want)
		}
	}

	if classify("quotes", "NIFTY", nil) != nil {
		t.Error("classify(nil) should stay nil")
	}
}
