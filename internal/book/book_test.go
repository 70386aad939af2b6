package book

import (
	"testing"
	"time"

	"github.com/alanyoungcy/cyclearb/internal/domain"
)

var testMarket = domain.NewMarketID("binance", "btcusdt")

func lv(p, q float64) domain.PriceLevel { return domain.PriceLevel{Price: p, Qty: q} }

func TestSnapshotOrdersSides(t *testing.T) {
	b := New(testMarket)
	b.ApplySnapshot(domain.BookDelta{
		Sequence:   10,
		Bids:       []domain.PriceLevel{lv(99, 1), lv(101, 2), lv(100, 3)},
		Asks:       []domain.PriceLevel{lv(104, 1), lv(102, 2), lv(103, 3)},
		IsSnapshot: true,
	}, time.Unix(0, 0))

	d := b.Depth(0)
	wantBids := []float64{101, 100, 99}
	wantAsks := []float64{102, 103, 104}
	for i, p := range wantBids {
		if d.Bids[i].Price != p {
			t.Fatalf("bid[%d] = %v, want %v", i, d.Bids[i].Price, p)
		}
	}
	for i, p := range wantAsks {
		if d.Asks[i].Price != p {
			t.Fatalf("ask[%d] = %v, want %v", i, d.Asks[i].Price, p)
		}
	}
	if b.Seq() != 10 || !b.Synced() {
		t.Fatalf("seq=%d synced=%v", b.Seq(), b.Synced())
	}
}

func TestMergeUpdatesBest(t *testing.T) {
	b := New(testMarket)
	b.ApplySnapshot(domain.BookDelta{
		Sequence: 1,
		Bids:     []domain.PriceLevel{lv(100, 1)},
		Asks:     []domain.PriceLevel{lv(101, 1)},
	}, time.Now())

	b.Merge(domain.BookDelta{Sequence: 2, Bids: []domain.PriceLevel{lv(100.5, 4)}}, time.Now())
	if bid, _ := b.BestBid(); bid.Price != 100.5 || bid.Qty != 4 {
		t.Fatalf("best bid = %+v", bid)
	}

	b.Merge(domain.BookDelta{Sequence: 3, Bids: []domain.PriceLevel{lv(100.5, 0)}}, time.Now())
	if bid, _ := b.BestBid(); bid.Price != 100 {
		t.Fatalf("best bid after removal = %+v", bid)
	}

	b.Merge(domain.BookDelta{Sequence: 4, Asks: []domain.PriceLevel{lv(101, 0)}}, time.Now())
	if _, ok := b.BestAsk(); ok {
		t.Fatal("ask side should be empty")
	}
	tob := b.TopOfBook()
	if tob.HasAsk || !tob.HasBid || tob.Seq != 4 {
		t.Fatalf("tob = %+v", tob)
	}
}

func TestRemovingMissingLevelIsNoop(t *testing.T) {
	b := New(testMarket)
	b.ApplySnapshot(domain.BookDelta{Sequence: 1, Bids: []domain.PriceLevel{lv(100, 1)}}, time.Now())
	b.Merge(domain.BookDelta{Sequence: 2, Bids: []domain.PriceLevel{lv(42, 0)}}, time.Now())
	if n, _ := b.Levels(); n != 1 {
		t.Fatalf("bid levels = %d, want 1", n)
	}
}

func TestSnapshotKeepsUncarriedSide(t *testing.T) {
	b := New(testMarket)
	b.ApplySnapshot(domain.BookDelta{
		Sequence: 1,
		Bids:     []domain.PriceLevel{lv(100, 1)},
		Asks:     []domain.PriceLevel{lv(101, 1)},
	}, time.Now())
	b.ApplySnapshot(domain.BookDelta{Sequence: 5, Bids: []domain.PriceLevel{lv(99, 2)}}, time.Now())

	bid, _ := b.BestBid()
	ask, ok := b.BestAsk()
	if bid.Price != 99 || !ok || ask.Price != 101 {
		t.Fatalf("bid=%+v ask=%+v", bid, ask)
	}
}

func TestStaleUntilSnapshot(t *testing.T) {
	b := New(testMarket)
	if b.Synced() {
		t.Fatal("new book must not be synced")
	}
	b.ApplySnapshot(domain.BookDelta{Sequence: 1}, time.Now())
	b.MarkStale()
	if b.Synced() || !b.TopOfBook().Stale {
		t.Fatal("book should be stale")
	}
	b.ApplySnapshot(domain.BookDelta{Sequence: 9}, time.Now())
	if !b.Synced() {
		t.Fatal("snapshot should clear stale")
	}
}

func TestTrim(t *testing.T) {
	b := New(testMarket)
	b.ApplySnapshot(domain.BookDelta{
		Sequence: 1,
		Bids:     []domain.PriceLevel{lv(1, 1), lv(2, 1), lv(3, 1)},
		Asks:     []domain.PriceLevel{lv(4, 1), lv(5, 1), lv(6, 1)},
	}, time.Now())
	b.Trim(2)
	d := b.Depth(0)
	if len(d.Bids) != 2 || d.Bids[1].Price != 2 || len(d.Asks) != 2 || d.Asks[1].Price != 5 {
		t.Fatalf("depth after trim = %+v", d)
	}
	b.Merge(domain.BookDelta{Sequence: 2, Bids: []domain.PriceLevel{lv(1, 3)}}, time.Now())
	if n, _ := b.Levels(); n != 3 {
		t.Fatalf("trimmed level should be re-addable, got %d bids", n)
	}
}
