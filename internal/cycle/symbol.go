package cycle

import (
	"fmt"
	"sort"
	"strings"
)

// Pair is the base and quote currency of a market.
type Pair struct {
	Base  string
	Quote string
}

func (p Pair) String() string { return p.Base + "/" + p.Quote }

// SymbolParser splits exchange symbols such as "ETHUSDT" into base and quote
// by matching the longest configured quote asset suffix.
type SymbolParser struct {
	quotes []string
}

// NewSymbolParser returns a parser for the given quote assets.
func NewSymbolParser(quoteAssets []string) *SymbolParser {
	quotes := make([]string, 0, len(quoteAssets))
	for _, q := range quoteAssets {
		if q = strings.ToUpper(strings.TrimSpace(q)); q != "" {
			quotes = append(quotes, q)
		}
	}
	sort.SliceStable(quotes, func(i, j int) bool { return len(quotes[i]) > len(quotes[j]) })
	return &SymbolParser{quotes: quotes}
}

// Parse splits symbol. Separators ("/", "-", "_") are honoured when present.
func (p *SymbolParser) Parse(symbol string) (Pair, error) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if i := strings.IndexAny(s, "/-_"); i > 0 && i < len(s)-1 {
		return Pair{Base: s[:i], Quote: s[i+1:]}, nil
	}
	for _, q := range p.quotes {
		if len(s) > len(q) && strings.HasSuffix(s, q) {
			return Pair{Base: strings.TrimSuffix(s, q), Quote: q}, nil
		}
	}
	return Pair{}, fmt.Errorf("cycle: cannot determine base/quote for symbol %q", symbol)
}

// IsQuote reports whether ccy is one of the configured quote assets.
func (p *SymbolParser) IsQuote(ccy string) bool {
	for _, q := range p.quotes {
		if q == ccy {
			return true
		}
	}
	return false
}
