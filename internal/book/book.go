// Package book holds the per-market order book state maintained by the
// ingest engine. A Book is not safe for concurrent use; the engine guards
// each one with its own lock.
package book

import (
	"time"

	"github.com/alanyoungcy/cyclearb/internal/domain"
)

// Book is the bid and ask ladders of one market together with the sequence
// of the last applied delta.
type Book struct {
	market    domain.MarketID
	bids      *ladder
	asks      *ladder
	seq       uint64
	stale     bool
	synced    bool
	updatedAt time.Time
}

// New returns an empty, unsynced book. An unsynced book accepts only a
// snapshot.
func New(market domain.MarketID) *Book {
	return &Book{
		market: market,
		bids:   newLadder(true),
		asks:   newLadder(false),
	}
}

func (b *Book) Market() domain.MarketID { return b.market }
func (b *Book) Seq() uint64             { return b.seq }
func (b *Book) Stale() bool             { return b.stale }

// Synced reports whether a snapshot has been applied and no gap has been
// seen since.
func (b *Book) Synced() bool { return b.synced && !b.stale }

// ApplySnapshot replaces the side(s) carried by d. A snapshot that carries
// neither side empties the book.
func (b *Book) ApplySnapshot(d domain.BookDelta, now time.Time) {
	switch {
	case len(d.Bids) == 0 && len(d.Asks) == 0:
		b.bids.reset(nil)
		b.asks.reset(nil)
	default:
		if len(d.Bids) > 0 {
			b.bids.reset(d.Bids)
		}
		if len(d.Asks) > 0 {
			b.asks.reset(d.Asks)
		}
	}
	b.seq = d.Sequence
	b.stale = false
	b.synced = true
	b.updatedAt = now
}

// Merge upserts every non-zero level of d and removes every zero level. The
// caller has already checked the sequence.
func (b *Book) Merge(d domain.BookDelta, now time.Time) {
	for _, lv := range d.Bids {
		b.bids.set(lv.Price, lv.Qty)
	}
	for _, lv := range d.Asks {
		b.asks.set(lv.Price, lv.Qty)
	}
	b.seq = d.Sequence
	b.updatedAt = now
}

// MarkStale suspends the book until the next snapshot.
func (b *Book) MarkStale() { b.stale = true }

// Trim caps each side at depth levels.
func (b *Book) Trim(depth int) {
	b.bids.trim(depth)
	b.asks.trim(depth)
}

// BestBid returns the highest bid.
func (b *Book) BestBid() (domain.PriceLevel, bool) { return b.bids.best() }

// BestAsk returns the lowest ask.
func (b *Book) BestAsk() (domain.PriceLevel, bool) { return b.asks.best() }

// TopOfBook returns a copy of the best levels.
func (b *Book) TopOfBook() domain.TopOfBook {
	tob := domain.TopOfBook{
		Market:    b.market,
		Seq:       b.seq,
		Stale:     b.stale || !b.synced,
		UpdatedAt: b.updatedAt,
	}
	if lv, ok := b.bids.best(); ok {
		tob.HasBid, tob.BidPrice, tob.BidQty = true, lv.Price, lv.Qty
	}
	if lv, ok := b.asks.best(); ok {
		tob.HasAsk, tob.AskPrice, tob.AskQty = true, lv.Price, lv.Qty
	}
	return tob
}

// Depth copies up to n levels per side; n <= 0 copies all of them.
func (b *Book) Depth(n int) domain.BookDepth {
	return domain.BookDepth{
		Market:    b.market,
		Seq:       b.seq,
		Stale:     b.stale || !b.synced,
		Bids:      b.bids.levels(n),
		Asks:      b.asks.levels(n),
		UpdatedAt: b.updatedAt,
	}
}

// Levels returns the number of bid and ask levels.
func (b *Book) Levels() (bids, asks int) { return b.bids.len(), b.asks.len() }
