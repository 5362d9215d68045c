package kite

// indexMeta ties an index to the exchange segment carrying its option
// contracts and to the quote symbol of the underlying itself.
type indexMeta struct {
	pool         string
	spotExchange string
	spotSymbol   string
}

var indexTable = map[string]indexMeta{
	"NIFTY":      {pool: "NFO", spotExchange: "NSE", spotSymbol: "NIFTY 50"},
	"BANKNIFTY":  {pool: "NFO", spotExchange: "NSE", spotSymbol: "NIFTY BANK"},
	"FINNIFTY":   {pool: "NFO", spotExchange: "NSE", spotSymbol: "NIFTY FIN SERVICE"},
	"MIDCPNIFTY": {pool: "NFO", spotExchange: "NSE", spotSymbol: "NIFTY MID SELECT"},
	"SENSEX":     {pool: "BFO", spotExchange: "BSE", spotSymbol: "SENSEX"},
}

// OptionsPool names the instrument dump an index's contracts live in.
func OptionsPool(index string) (string, bool) {
	meta, ok := indexTable[index]
	return meta.pool, ok
}

// SpotSymbol renders the exchange-qualified quote symbol of the underlying.
func SpotSymbol(index string) (string, bool) {
	meta, ok := indexTable[index]
	if !ok {
		return "", false
	}
	return meta.spotExchange + ":" + meta.spotSymbol, true
}
