package ingest

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/alanyoungcy/cyclearb/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var btc = domain.NewMarketID("binance", "BTCUSDT")

func lv(p, q float64) domain.PriceLevel { return domain.PriceLevel{Price: p, Qty: q} }

func snapshot(m domain.MarketID, seq uint64, bid, ask domain.PriceLevel) domain.BookDelta {
	return domain.BookDelta{
		Market:     m,
		Sequence:   seq,
		Bids:       []domain.PriceLevel{bid},
		Asks:       []domain.PriceLevel{ask},
		IsSnapshot: true,
	}
}

func TestIncrementalBeforeSnapshot(t *testing.T) {
	e := NewEngine(testLogger())
	err := e.Apply(domain.BookDelta{Market: btc, Sequence: 1, Bids: []domain.PriceLevel{lv(1, 1)}})
	if !errors.Is(err, ErrAwaitingSnapshot) {
		t.Fatalf("err = %v, want ErrAwaitingSnapshot", err)
	}
	if tob, ok := e.TopOfBook(btc); ok {
		t.Fatalf("incremental on an unseen market created a book: %+v", tob)
	}
	if got := e.NeedsResync(); len(got) != 1 || got[0] != btc {
		t.Fatalf("resync = %v", got)
	}
}

func TestUnknownMarketIncrementalIsNotRegistered(t *testing.T) {
	e := NewEngine(testLogger())
	var seen []domain.MarketID
	e.OnNewMarket(func(m domain.MarketID) { seen = append(seen, m) })

	xyz := domain.NewMarketID("binance", "XYZUSDT")
	if err := e.Apply(domain.BookDelta{Market: xyz, Sequence: 5}); !errors.Is(err, ErrAwaitingSnapshot) {
		t.Fatalf("err = %v", err)
	}
	if len(seen) != 0 || len(e.Markets()) != 0 || len(e.Snapshot()) != 0 {
		t.Fatalf("new-market hooks=%v markets=%v", seen, e.Markets())
	}
	if st := e.Stats(); st.AwaitingSnapshot != 1 {
		t.Fatalf("stats = %+v", st)
	}

	// The snapshot that follows registers the market exactly once.
	if err := e.Apply(snapshot(xyz, 6, lv(1, 1), lv(2, 1))); err != nil {
		t.Fatal(err)
	}
	if len(seen) != 1 || seen[0] != xyz || len(e.NeedsResync()) != 0 {
		t.Fatalf("hooks=%v resync=%v", seen, e.NeedsResync())
	}
}

func TestDuplicateAndOld(t *testing.T) {
	e := NewEngine(testLogger())
	if err := e.Apply(snapshot(btc, 10, lv(100, 1), lv(101, 1))); err != nil {
		t.Fatal(err)
	}
	for _, seq := range []uint64{10, 9, 1} {
		err := e.Apply(domain.BookDelta{Market: btc, Sequence: seq, Bids: []domain.PriceLevel{lv(100, 7)}})
		if !errors.Is(err, ErrDuplicateOrOld) {
			t.Fatalf("seq %d: err = %v", seq, err)
		}
	}
	tob, _ := e.TopOfBook(btc)
	if tob.BidQty != 1 || tob.Seq != 10 || tob.Stale {
		t.Fatalf("book mutated by duplicate: %+v", tob)
	}
}

func TestGapMarksStaleUntilSnapshot(t *testing.T) {
	e := NewEngine(testLogger())
	var events []ResyncEvent
	e.OnResync(func(evt ResyncEvent) { events = append(events, evt) })

	if err := e.Apply(snapshot(btc, 1, lv(100, 1), lv(101, 1))); err != nil {
		t.Fatal(err)
	}
	err := e.Apply(domain.BookDelta{Market: btc, Sequence: 3, Bids: []domain.PriceLevel{lv(100, 2)}})
	var gap *SequenceGapError
	if !errors.As(err, &gap) || !errors.Is(err, ErrSequenceGap) {
		t.Fatalf("err = %v, want SequenceGapError", err)
	}
	if gap.Expected != 2 || gap.Got != 3 {
		t.Fatalf("gap = %+v", gap)
	}
	if tob, _ := e.TopOfBook(btc); !tob.Stale || tob.BidQty != 1 {
		t.Fatalf("after gap: %+v", tob)
	}

	// The next in-order delta is refused too: the book waits for a snapshot.
	err = e.Apply(domain.BookDelta{Market: btc, Sequence: 4})
	if !errors.Is(err, ErrAwaitingSnapshot) {
		t.Fatalf("err = %v, want ErrAwaitingSnapshot", err)
	}

	if err := e.Apply(snapshot(btc, 20, lv(99, 1), lv(100, 1))); err != nil {
		t.Fatal(err)
	}
	if tob, _ := e.TopOfBook(btc); tob.Stale || tob.Seq != 20 {
		t.Fatalf("after resnapshot: %+v", tob)
	}
	if len(e.NeedsResync()) != 0 {
		t.Fatal("resync list should be empty after snapshot")
	}
	if len(events) != 1 || events[0].Reason != OutcomeSequenceGap {
		t.Fatalf("resync events = %+v", events)
	}
}

func TestFoldInSequenceOrder(t *testing.T) {
	e := NewEngine(testLogger())
	deltas := []domain.BookDelta{
		{Market: btc, Sequence: 5, IsSnapshot: true,
			Bids: []domain.PriceLevel{lv(100, 1), lv(99, 2)},
			Asks: []domain.PriceLevel{lv(101, 1), lv(102, 2)}},
		{Market: btc, Sequence: 6, Bids: []domain.PriceLevel{lv(100, 0), lv(98, 5)}},
		{Market: btc, Sequence: 7, Asks: []domain.PriceLevel{lv(100.5, 3)}},
		{Market: btc, Sequence: 8, Bids: []domain.PriceLevel{lv(99, 4)}, Asks: []domain.PriceLevel{lv(102, 0)}},
	}
	for _, d := range deltas {
		if err := e.Apply(d); err != nil {
			t.Fatalf("seq %d: %v", d.Sequence, err)
		}
	}
	depth, _ := e.Depth(btc, 0)
	wantBids := []domain.PriceLevel{lv(99, 4), lv(98, 5)}
	wantAsks := []domain.PriceLevel{lv(100.5, 3), lv(101, 1)}
	if fmt.Sprint(depth.Bids) != fmt.Sprint(wantBids) || fmt.Sprint(depth.Asks) != fmt.Sprint(wantAsks) {
		t.Fatalf("bids=%v asks=%v", depth.Bids, depth.Asks)
	}
	if depth.Seq != 8 {
		t.Fatalf("seq = %d", depth.Seq)
	}
	st := e.Stats()
	if st.Accepted != 4 || st.Markets != 1 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want Outcome
	}{
		{nil, OutcomeAccepted},
		{ErrAwaitingSnapshot, OutcomeAwaitingSnapshot},
		{ErrDuplicateOrOld, OutcomeDuplicateOrOld},
		{&SequenceGapError{Expected: 2, Got: 4}, OutcomeSequenceGap},
		{domain.ErrInvalidDelta, OutcomeInvalid},
	}
	for _, c := range cases {
		if got := Classify(c.err); got != c.want {
			t.Errorf("Classify(%v) = %s, want %s", c.err, got, c.want)
		}
	}
}

func TestInvalidMarket(t *testing.T) {
	e := NewEngine(testLogger())
	err := e.Apply(domain.BookDelta{Market: domain.MarketID{Exchange: "x"}, IsSnapshot: true})
	if !errors.Is(err, domain.ErrInvalidDelta) {
		t.Fatalf("err = %v", err)
	}
	if len(e.Markets()) != 0 {
		t.Fatal("invalid delta must not create a book")
	}
}

func TestHooks(t *testing.T) {
	e := NewEngine(testLogger())
	var updates []domain.TopOfBook
	var markets []domain.MarketID
	e.OnUpdate(func(tob domain.TopOfBook) { updates = append(updates, tob) })
	e.OnNewMarket(func(m domain.MarketID) { markets = append(markets, m) })

	_ = e.Apply(snapshot(btc, 1, lv(100, 1), lv(101, 1)))
	_ = e.Apply(domain.BookDelta{Market: btc, Sequence: 2, Asks: []domain.PriceLevel{lv(100.5, 1)}})
	_ = e.Apply(domain.BookDelta{Market: btc, Sequence: 2})

	if len(markets) != 1 || len(updates) != 2 || updates[1].AskPrice != 100.5 {
		t.Fatalf("markets=%v updates=%+v", markets, updates)
	}
}

func TestConcurrentMarkets(t *testing.T) {
	e := NewEngine(testLogger())
	const markets, steps = 8, 200
	var wg sync.WaitGroup
	for i := 0; i < markets; i++ {
		m := domain.NewMarketID("x", fmt.Sprintf("M%d", i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := e.Apply(snapshot(m, 1, lv(100, 1), lv(101, 1))); err != nil {
				t.Error(err)
				return
			}
			for s := uint64(2); s <= steps; s++ {
				if err := e.Apply(domain.BookDelta{Market: m, Sequence: s, Bids: []domain.PriceLevel{lv(100, float64(s))}}); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	// Readers run alongside writers and must never see a torn book.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < steps; j++ {
			for _, tob := range e.Snapshot() {
				if tob.HasBid && tob.BidQty != float64(tob.Seq) && tob.Seq > 1 {
					t.Errorf("torn read: %+v", tob)
					return
				}
			}
		}
	}()
	wg.Wait()

	if st := e.Stats(); st.Accepted != markets*steps {
		t.Fatalf("accepted = %d, want %d", st.Accepted, markets*steps)
	}
}
