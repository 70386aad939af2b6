package grpcapi

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/alanyoungcy/cyclearb/internal/domain"
	"github.com/alanyoungcy/cyclearb/internal/grpcapi/wire"
)

var errMissingMarket = errors.New("missing market")

func deltaFromWire(d *wire.OrderBookDelta) (domain.BookDelta, error) {
	if d.Market == nil {
		return domain.BookDelta{}, errMissingMarket
	}
	market := domain.NewMarketID(d.Market.Exchange, d.Market.Symbol)
	if !market.Valid() {
		return domain.BookDelta{}, fmt.Errorf("market %q/%q: exchange and symbol are required", d.Market.Exchange, d.Market.Symbol)
	}
	bids, err := levelsFromWire(d.Bids)
	if err != nil {
		return domain.BookDelta{}, fmt.Errorf("%s bids: %w", market, err)
	}
	asks, err := levelsFromWire(d.Asks)
	if err != nil {
		return domain.BookDelta{}, fmt.Errorf("%s asks: %w", market, err)
	}
	return domain.BookDelta{
		Market:     market,
		Sequence:   d.Sequence,
		TsNs:       d.TsNs,
		Bids:       bids,
		Asks:       asks,
		IsSnapshot: d.IsSnapshot,
	}, nil
}

func levelsFromWire(in []wire.Level) ([]domain.PriceLevel, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make([]domain.PriceLevel, len(in))
	for i, lv := range in {
		if !finite(lv.Price) || !finite(lv.Qty) || lv.Price <= 0 || lv.Qty < 0 {
			return nil, fmt.Errorf("level %d: bad price %v or qty %v", i, lv.Price, lv.Qty)
		}
		out[i] = domain.PriceLevel{Price: lv.Price, Qty: lv.Qty}
	}
	return out, nil
}

// DeltaToWire converts a domain delta for sending.
func DeltaToWire(d domain.BookDelta) *wire.OrderBookDelta {
	out := &wire.OrderBookDelta{
		Market:     &wire.MarketID{Exchange: d.Market.Exchange, Symbol: d.Market.Symbol},
		Sequence:   d.Sequence,
		TsNs:       d.TsNs,
		IsSnapshot: d.IsSnapshot,
	}
	for _, lv := range d.Bids {
		out.Bids = append(out.Bids, wire.Level{Price: lv.Price, Qty: lv.Qty})
	}
	for _, lv := range d.Asks {
		out.Asks = append(out.Asks, wire.Level{Price: lv.Price, Qty: lv.Qty})
	}
	return out
}

func planFromWire(req *wire.ProposePlanRequest) (domain.ExecutionPlan, error) {
	if req.Exchange == "" {
		return domain.ExecutionPlan{}, fmt.Errorf("%w: missing exchange", domain.ErrInvalidPlan)
	}
	plan := domain.ExecutionPlan{
		PlanID:              req.PlanID,
		Exchange:            strings.ToUpper(strings.TrimSpace(req.Exchange)),
		QuoteCcy:            strings.ToUpper(strings.TrimSpace(req.QuoteCcy)),
		ExpectedProfitQuote: req.ExpectedProfitQuote,
		MaxSlippageBp:       req.MaxSlippageBp,
		ValidMs:             req.ValidMs,
		Legs:                make([]domain.Leg, len(req.Legs)),
	}
	if req.CreatedNs != 0 {
		plan.CreatedAt = time.Unix(0, int64(req.CreatedNs))
	}
	for i, leg := range req.Legs {
		var side domain.Side
		switch leg.Side {
		case wire.SideBuy:
			side = domain.SideBuy
		case wire.SideSell:
			side = domain.SideSell
		}
		if !finite(leg.Qty) || !finite(leg.LimitPrice) || leg.Qty <= 0 || leg.LimitPrice <= 0 {
			return domain.ExecutionPlan{}, fmt.Errorf("%w: leg %d qty %v limit %v", domain.ErrInvalidPlan, i, leg.Qty, leg.LimitPrice)
		}
		plan.Legs[i] = domain.Leg{
			Market:     domain.NewMarketID(req.Exchange, leg.Market),
			Side:       side,
			Qty:        leg.Qty,
			LimitPrice: leg.LimitPrice,
		}
	}
	if !finite(plan.MaxSlippageBp) || plan.MaxSlippageBp < 0 {
		return domain.ExecutionPlan{}, fmt.Errorf("%w: max_slippage_bp %v", domain.ErrInvalidPlan, plan.MaxSlippageBp)
	}
	if err := plan.Validate(); err != nil {
		return domain.ExecutionPlan{}, err
	}
	return plan, nil
}

// PlanToWire converts a plan for sending to an executor.
func PlanToWire(p domain.ExecutionPlan) *wire.ProposePlanRequest {
	req := &wire.ProposePlanRequest{
		Exchange:            p.Exchange,
		QuoteCcy:            p.QuoteCcy,
		ExpectedProfitQuote: p.ExpectedProfitQuote,
		MaxSlippageBp:       p.MaxSlippageBp,
		ValidMs:             p.ValidMs,
		PlanID:              p.PlanID,
		Legs:                make([]wire.Leg, len(p.Legs)),
	}
	if !p.CreatedAt.IsZero() {
		req.CreatedNs = uint64(p.CreatedAt.UnixNano())
	}
	for i, leg := range p.Legs {
		side := wire.SideUnspecified
		switch leg.Side {
		case domain.SideBuy:
			side = wire.SideBuy
		case domain.SideSell:
			side = wire.SideSell
		}
		req.Legs[i] = wire.Leg{Market: leg.Market.Symbol, Side: side, Qty: leg.Qty, LimitPrice: leg.LimitPrice}
	}
	return req
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
