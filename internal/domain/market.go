package domain

import "strings"

// MarketID identifies one order book: a symbol on an exchange. Both parts are
// normalised to upper case so "binance"/"BINANCE" address the same book.
type MarketID struct {
	Exchange string `json:"exchange"`
	Symbol   string `json:"symbol"`
}

// NewMarketID returns a normalised MarketID.
func NewMarketID(exchange, symbol string) MarketID {
	return MarketID{
		Exchange: strings.ToUpper(strings.TrimSpace(exchange)),
		Symbol:   strings.ToUpper(strings.TrimSpace(symbol)),
	}
}

// Normalize returns m with both parts trimmed and upper-cased.
func (m MarketID) Normalize() MarketID {
	return NewMarketID(m.Exchange, m.Symbol)
}

// Valid reports whether both exchange and symbol are present.
func (m MarketID) Valid() bool {
	return strings.TrimSpace(m.Exchange) != "" && strings.TrimSpace(m.Symbol) != ""
}

func (m MarketID) String() string {
	return m.Exchange + ":" + m.Symbol
}
