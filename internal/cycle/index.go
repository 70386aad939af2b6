package cycle

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/alanyoungcy/cyclearb/internal/domain"
)

type edge [2]string

func edgeKey(a, b string) edge {
	if a > b {
		a, b = b, a
	}
	return edge{a, b}
}

type listing struct {
	market domain.MarketID
	pair   Pair
}

// Index discovers triangular cycles per exchange as markets are added. Every
// triangle yields both directions from each start currency that is an
// allowed quote.
type Index struct {
	mu     sync.Mutex
	parser *SymbolParser
	starts map[string]bool
	// exchange -> unordered currency pair -> market
	edges map[string]map[edge]listing
	// exchange -> currency -> neighbouring currencies
	adj    map[string]map[string]map[string]struct{}
	logger *slog.Logger
}

// NewIndex returns an Index. starts restricts the start currencies; when
// empty every quote asset known to parser may start a cycle.
func NewIndex(parser *SymbolParser, starts []string, logger *slog.Logger) *Index {
	s := make(map[string]bool, len(starts))
	for _, c := range starts {
		s[c] = true
	}
	return &Index{
		parser: parser,
		starts: s,
		edges:  make(map[string]map[edge]listing),
		adj:    make(map[string]map[string]map[string]struct{}),
		logger: logger.With(slog.String("component", "cycle_index")),
	}
}

func (x *Index) canStart(ccy string) bool {
	if len(x.starts) > 0 {
		return x.starts[ccy]
	}
	return x.parser.IsQuote(ccy)
}

// AddMarket registers m and returns the cycles it completes. Symbols the
// parser cannot split are skipped.
func (x *Index) AddMarket(m domain.MarketID) []Cycle {
	pair, err := x.parser.Parse(m.Symbol)
	if err != nil {
		x.logger.Debug("skip market", slog.String("market", m.String()), slog.String("error", err.Error()))
		return nil
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	edges, ok := x.edges[m.Exchange]
	if !ok {
		edges = make(map[edge]listing)
		x.edges[m.Exchange] = edges
		x.adj[m.Exchange] = make(map[string]map[string]struct{})
	}
	key := edgeKey(pair.Base, pair.Quote)
	if _, dup := edges[key]; dup {
		return nil
	}
	edges[key] = listing{market: m, pair: pair}
	adj := x.adj[m.Exchange]
	link := func(a, b string) {
		if adj[a] == nil {
			adj[a] = make(map[string]struct{})
		}
		adj[a][b] = struct{}{}
	}
	link(pair.Base, pair.Quote)
	link(pair.Quote, pair.Base)

	a, b := pair.Base, pair.Quote
	var thirds []string
	for c := range adj[a] {
		if c == b {
			continue
		}
		if _, ok := adj[b][c]; ok {
			thirds = append(thirds, c)
		}
	}
	sort.Strings(thirds)

	var found []Cycle
	for _, c := range thirds {
		for _, start := range []string{a, b, c} {
			if !x.canStart(start) {
				continue
			}
			others := x.othersOf(start, a, b, c)
			for _, order := range [][2]string{{others[0], others[1]}, {others[1], others[0]}} {
				cyc, ok := x.build(m.Exchange, start, order[0], order[1])
				if ok {
					found = append(found, cyc)
				}
			}
		}
	}
	for _, cyc := range found {
		x.logger.Info("found cycle", slog.String("cycle", cyc.Key()), slog.String("path", cyc.Path()))
	}
	return found
}

func (x *Index) othersOf(start, a, b, c string) [2]string {
	var out [2]string
	i := 0
	for _, ccy := range []string{a, b, c} {
		if ccy != start {
			out[i] = ccy
			i++
		}
	}
	return out
}

func (x *Index) build(exchange, start, mid1, mid2 string) (Cycle, bool) {
	edges := x.edges[exchange]
	path := [][2]string{{start, mid1}, {mid1, mid2}, {mid2, start}}
	symbols := make([]string, 0, 3)
	pairs := make([]Pair, 0, 3)
	for _, hop := range path {
		l, ok := edges[edgeKey(hop[0], hop[1])]
		if !ok {
			return Cycle{}, false
		}
		symbols = append(symbols, l.market.Symbol)
		pairs = append(pairs, l.pair)
	}
	cyc, err := resolvePairs(exchange, start, symbols, pairs)
	if err != nil {
		return Cycle{}, false
	}
	return cyc, true
}
