package models

// KnownIndices lists every index the collector understands.
var KnownIndices = []string{"NIFTY", "BANKNIFTY", "FINNIFTY", "MIDCPNIFTY", "SENSEX"}

// KnownIndex reports whether name is a supported index.
func KnownIndex(name string) bool {
	for _, idx := range KnownIndices {
		if idx == name {
			return true
		}
	}
	return false
}
