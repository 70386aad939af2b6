package domain

import "time"

// PriceLevel is a single price+quantity entry in an order book. A zero Qty in
// an incremental delta removes the level.
type PriceLevel struct {
	Price float64 `json:"price"`
	Qty   float64 `json:"qty"`
}

// BookDelta is one order-book update as received from a feed. A snapshot
// replaces the sides it carries; an incremental update merges level by level.
type BookDelta struct {
	Market     MarketID
	Sequence   uint64
	TsNs       uint64
	Bids       []PriceLevel
	Asks       []PriceLevel
	IsSnapshot bool
}

// TopOfBook is the best bid and ask of one market at a given sequence.
type TopOfBook struct {
	Market    MarketID  `json:"market"`
	Seq       uint64    `json:"seq"`
	Stale     bool      `json:"stale"`
	HasBid    bool      `json:"has_bid"`
	HasAsk    bool      `json:"has_ask"`
	BidPrice  float64   `json:"bid_price"`
	BidQty    float64   `json:"bid_qty"`
	AskPrice  float64   `json:"ask_price"`
	AskQty    float64   `json:"ask_qty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Mid returns the midpoint, or zero when either side is empty.
func (t TopOfBook) Mid() float64 {
	if !t.HasBid || !t.HasAsk {
		return 0
	}
	return (t.BidPrice + t.AskPrice) / 2
}

// BookDepth is a copy of a market's levels, best first on each side.
type BookDepth struct {
	Market    MarketID     `json:"market"`
	Seq       uint64       `json:"seq"`
	Stale     bool         `json:"stale"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	UpdatedAt time.Time    `json:"updated_at"`
}
