package domain

// FeeSchedule resolves the taker fee charged on a leg. Lookups fall back from
// exchange+quote to exchange to the default.
type FeeSchedule struct {
	DefaultBps float64
	Exchange   map[string]float64
	Quote      map[string]map[string]float64
}

// Bps returns the taker fee in basis points for a market quoted in quote.
func (f FeeSchedule) Bps(exchange, quote string) float64 {
	if byQuote, ok := f.Quote[exchange]; ok {
		if bps, ok := byQuote[quote]; ok {
			return bps
		}
	}
	if bps, ok := f.Exchange[exchange]; ok {
		return bps
	}
	return f.DefaultBps
}

// Rate returns the taker fee as a fraction.
func (f FeeSchedule) Rate(exchange, quote string) float64 {
	return f.Bps(exchange, quote) / 1e4
}
