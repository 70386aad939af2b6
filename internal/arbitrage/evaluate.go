package arbitrage

import (
	"math"

	"github.com/alanyoungcy/cyclearb/internal/cycle"
	"github.com/alanyoungcy/cyclearb/internal/domain"
)

// BookReader exposes read-only copies of live top of book.
type BookReader interface {
	TopOfBook(market domain.MarketID) (domain.TopOfBook, bool)
}

// Params are the scan thresholds and sizing limits.
type Params struct {
	Fees               domain.FeeSchedule
	MinProfitQuote     float64
	MinProfitBps       float64
	MaxNotionalQuote   float64
	MaxNotionalByQuote map[string]float64
	LimitMarginBps     float64
	MaxSlippageBp      float64
	ValidMs            uint32
}

func (p Params) maxNotional(quote string) float64 {
	if n, ok := p.MaxNotionalByQuote[quote]; ok {
		return n
	}
	return p.MaxNotionalQuote
}

// Evaluation is the result of pricing one cycle against top of book.
type Evaluation struct {
	Cycle    cycle.Cycle
	Rate     float64
	EdgeBps  float64
	Notional float64
	Profit   float64
	Legs     []domain.Leg
}

// Evaluate prices c at the current top of book. BUY legs cross the ask and
// SELL legs hit the bid; each leg's output is reduced by its taker fee. The
// start notional is the configured maximum capped by the smallest top-level
// quantity along the path. ok is false when any book is missing, stale or
// lacks liquidity on the side used.
func Evaluate(c cycle.Cycle, books BookReader, p Params) (Evaluation, bool) {
	n := len(c.Steps)
	prices := make([]float64, n)
	// factor[i] is the amount of the currency held before step i per unit of
	// start currency.
	factor := make([]float64, n+1)
	factor[0] = 1
	capacity := math.Inf(1)

	for i, s := range c.Steps {
		tob, ok := books.TopOfBook(s.Market)
		if !ok || tob.Stale {
			return Evaluation{}, false
		}
		fee := p.Fees.Rate(s.Market.Exchange, s.Pair.Quote)
		switch s.Side {
		case domain.SideBuy:
			if !tob.HasAsk || tob.AskPrice <= 0 || tob.AskQty <= 0 {
				return Evaluation{}, false
			}
			prices[i] = tob.AskPrice
			capacity = math.Min(capacity, tob.AskQty*tob.AskPrice/factor[i])
			factor[i+1] = factor[i] / tob.AskPrice * (1 - fee)
		case domain.SideSell:
			if !tob.HasBid || tob.BidPrice <= 0 || tob.BidQty <= 0 {
				return Evaluation{}, false
			}
			prices[i] = tob.BidPrice
			capacity = math.Min(capacity, tob.BidQty/factor[i])
			factor[i+1] = factor[i] * tob.BidPrice * (1 - fee)
		default:
			return Evaluation{}, false
		}
	}

	rate := factor[n]
	notional := capacity
	if limit := p.maxNotional(c.Quote); limit > 0 {
		notional = math.Min(notional, limit)
	}
	if !isFinite(rate) || !isFinite(notional) || notional <= 0 {
		return Evaluation{}, false
	}

	margin := p.LimitMarginBps / 1e4
	legs := make([]domain.Leg, n)
	for i, s := range c.Steps {
		held := notional * factor[i]
		leg := domain.Leg{Market: s.Market, Side: s.Side}
		if s.Side == domain.SideBuy {
			leg.Qty = held / prices[i]
			leg.LimitPrice = prices[i] * (1 + margin)
		} else {
			leg.Qty = held
			leg.LimitPrice = prices[i] * (1 - margin)
		}
		legs[i] = leg
	}

	return Evaluation{
		Cycle:    c,
		Rate:     rate,
		EdgeBps:  (rate - 1) * 1e4,
		Notional: notional,
		Profit:   notional * (rate - 1),
		Legs:     legs,
	}, true
}

// Qualifies reports whether ev clears both profit thresholds.
func (ev Evaluation) Qualifies(p Params) bool {
	return ev.Profit > p.MinProfitQuote && ev.EdgeBps > p.MinProfitBps
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
