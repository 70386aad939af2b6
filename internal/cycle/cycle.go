// Package cycle resolves closed currency cycles over a set of markets and
// discovers triangular cycles as markets appear.
package cycle

import (
	"errors"
	"fmt"
	"strings"

	"github.com/alanyoungcy/cyclearb/internal/domain"
)

var (
	ErrTooShort  = errors.New("cycle needs at least two markets")
	ErrBroken    = errors.New("market does not trade the held currency")
	ErrNotClosed = errors.New("cycle does not return to its quote currency")
)

// Step is one resolved leg: the market, its pair and the side taken when
// arriving holding the previous step's output currency.
type Step struct {
	Market domain.MarketID
	Pair   Pair
	Side   domain.Side
}

// From is the currency spent on this step.
func (s Step) From() string {
	if s.Side == domain.SideBuy {
		return s.Pair.Quote
	}
	return s.Pair.Base
}

// To is the currency received on this step.
func (s Step) To() string {
	if s.Side == domain.SideBuy {
		return s.Pair.Base
	}
	return s.Pair.Quote
}

// Cycle is an ordered list of steps on one exchange starting and ending in
// Quote.
type Cycle struct {
	Exchange string
	Quote    string
	Steps    []Step
}

// Key identifies the cycle, including its direction.
func (c Cycle) Key() string {
	var sb strings.Builder
	sb.WriteString(c.Exchange)
	sb.WriteByte(':')
	sb.WriteString(c.Quote)
	for _, s := range c.Steps {
		sb.WriteByte('>')
		sb.WriteString(s.Market.Symbol)
	}
	return sb.String()
}

// Markets lists the markets of every step in order.
func (c Cycle) Markets() []domain.MarketID {
	out := make([]domain.MarketID, len(c.Steps))
	for i, s := range c.Steps {
		out[i] = s.Market
	}
	return out
}

// Path renders the currency path, e.g. "USDT>ETH>BTC>USDT".
func (c Cycle) Path() string {
	parts := []string{c.Quote}
	for _, s := range c.Steps {
		parts = append(parts, s.To())
	}
	return strings.Join(parts, ">")
}

// Resolve walks symbols starting from quote, deriving each leg's side from
// the currency held on arrival: holding the market's quote buys its base,
// holding its base sells into its quote.
func Resolve(exchange, quote string, symbols []string, parser *SymbolParser) (Cycle, error) {
	pairs := make([]Pair, len(symbols))
	for i, sym := range symbols {
		p, err := parser.Parse(sym)
		if err != nil {
			return Cycle{}, err
		}
		pairs[i] = p
	}
	return resolvePairs(exchange, quote, symbols, pairs)
}

func resolvePairs(exchange, quote string, symbols []string, pairs []Pair) (Cycle, error) {
	exchange = strings.ToUpper(strings.TrimSpace(exchange))
	quote = strings.ToUpper(strings.TrimSpace(quote))
	if len(symbols) < 2 {
		return Cycle{}, ErrTooShort
	}
	c := Cycle{Exchange: exchange, Quote: quote, Steps: make([]Step, 0, len(symbols))}
	holding := quote
	for i, sym := range symbols {
		p := pairs[i]
		var side domain.Side
		switch holding {
		case p.Quote:
			side = domain.SideBuy
			holding = p.Base
		case p.Base:
			side = domain.SideSell
			holding = p.Quote
		default:
			return Cycle{}, fmt.Errorf("cycle: %s while holding %s: %w", sym, holding, ErrBroken)
		}
		c.Steps = append(c.Steps, Step{
			Market: domain.NewMarketID(exchange, sym),
			Pair:   p,
			Side:   side,
		})
	}
	if holding != quote {
		return Cycle{}, fmt.Errorf("cycle: ends in %s, started in %s: %w", holding, quote, ErrNotClosed)
	}
	return c, nil
}
