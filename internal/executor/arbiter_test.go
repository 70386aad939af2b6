package executor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alanyoungcy/cyclearb/internal/cycle"
	"github.com/alanyoungcy/cyclearb/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type books map[domain.MarketID]domain.TopOfBook

func (b books) TopOfBook(m domain.MarketID) (domain.TopOfBook, bool) {
	tob, ok := b[m]
	return tob, ok
}

var (
	ethusdt = domain.NewMarketID("binance", "ETHUSDT")
	ethbtc  = domain.NewMarketID("binance", "ETHBTC")
	btcusdt = domain.NewMarketID("binance", "BTCUSDT")
)

func liveBooks() books {
	return books{
		btcusdt: {Market: btcusdt, HasBid: true, HasAsk: true, BidPrice: 60000, BidQty: 1, AskPrice: 60010, AskQty: 1},
		ethbtc:  {Market: ethbtc, HasBid: true, HasAsk: true, BidPrice: 0.06, BidQty: 10, AskPrice: 0.06001, AskQty: 10},
		ethusdt: {Market: ethusdt, HasBid: true, HasAsk: true, BidPrice: 3580, BidQty: 10, AskPrice: 3585, AskQty: 10},
	}
}

var testParser = cycle.NewSymbolParser([]string{"USDT", "BTC"})

var epoch = time.Unix(1_700_000_000, 0)

func testPlan(id string) domain.ExecutionPlan {
	qty := 1000.0 / 3585
	return domain.ExecutionPlan{
		PlanID:   id,
		Exchange: "BINANCE",
		QuoteCcy: "USDT",
		Legs: []domain.Leg{
			{Market: ethusdt, Side: domain.SideBuy, Qty: qty, LimitPrice: 3585},
			{Market: ethbtc, Side: domain.SideSell, Qty: qty, LimitPrice: 0.06},
			{Market: btcusdt, Side: domain.SideSell, Qty: qty * 0.06, LimitPrice: 60000},
		},
		ExpectedProfitQuote: 4.18,
		MaxSlippageBp:       10,
		ValidMs:             250,
		CreatedAt:           epoch,
	}
}

type recorder struct {
	mu   sync.Mutex
	recs []domain.DecisionRecord
}

func (r *recorder) RecordDecision(rec domain.DecisionRecord) {
	r.mu.Lock()
	r.recs = append(r.recs, rec)
	r.mu.Unlock()
}

func newTestArbiter(b BookReader, now *time.Time, opts ...Option) *Arbiter {
	opts = append([]Option{WithClock(func() time.Time { return *now })}, opts...)
	return NewArbiter(b, testParser, nil, Config{MinProfitQuote: 1}, testLogger(), opts...)
}

func TestAcceptsProfitablePlan(t *testing.T) {
	now := epoch.Add(10 * time.Millisecond)
	sink := &recorder{}
	a := newTestArbiter(liveBooks(), &now, WithSink(sink))

	reply := a.Propose(context.Background(), testPlan("P1"))
	if !reply.Accepted || reply.Reason != domain.ReasonOK {
		t.Fatalf("reply = %+v", reply)
	}
	if len(sink.recs) != 1 || sink.recs[0].LiveProfitQuote < 4 || sink.recs[0].LiveProfitQuote > 4.3 {
		t.Fatalf("records = %+v", sink.recs)
	}
}

func TestRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(p *domain.ExecutionPlan, b books, now *time.Time)
		reason string
	}{
		{"expired", func(p *domain.ExecutionPlan, b books, now *time.Time) {
			*now = epoch.Add(251 * time.Millisecond)
		}, domain.ReasonExpired},
		{"unknown market", func(p *domain.ExecutionPlan, b books, now *time.Time) {
			delete(b, ethbtc)
		}, domain.ReasonUnknownOrStaleMarket},
		{"stale market", func(p *domain.ExecutionPlan, b books, now *time.Time) {
			tob := b[btcusdt]
			tob.Stale = true
			b[btcusdt] = tob
		}, domain.ReasonUnknownOrStaleMarket},
		{"buy slippage", func(p *domain.ExecutionPlan, b books, now *time.Time) {
			tob := b[ethusdt]
			tob.AskPrice = 3590 // 14bp above the limit
			b[ethusdt] = tob
		}, domain.ReasonSlippageExceeded},
		{"sell slippage", func(p *domain.ExecutionPlan, b books, now *time.Time) {
			tob := b[btcusdt]
			tob.BidPrice = 59900
			b[btcusdt] = tob
		}, domain.ReasonSlippageExceeded},
		{"profit below threshold", func(p *domain.ExecutionPlan, b books, now *time.Time) {
			// Every leg stays inside a 20bp tolerance but the edge is gone.
			p.MaxSlippageBp = 20
			tob := b[ethusdt]
			tob.AskPrice = 3592
			b[ethusdt] = tob
			tob = b[ethbtc]
			tob.BidPrice = 0.0599
			b[ethbtc] = tob
			tob = b[btcusdt]
			tob.BidPrice = 59900
			b[btcusdt] = tob
		}, domain.ReasonProfitBelowThreshold},
		{"invalid plan", func(p *domain.ExecutionPlan, b books, now *time.Time) {
			p.Legs = nil
		}, domain.ReasonInvalidPlan},
		{"open cycle", func(p *domain.ExecutionPlan, b books, now *time.Time) {
			p.Legs = []domain.Leg{{Market: btcusdt, Side: domain.SideSell, Qty: 1, LimitPrice: 60000}}
		}, domain.ReasonInvalidPlan},
		{"side against the cycle", func(p *domain.ExecutionPlan, b books, now *time.Time) {
			p.Legs[1].Side = domain.SideBuy
		}, domain.ReasonInvalidPlan},
		{"ends in another currency", func(p *domain.ExecutionPlan, b books, now *time.Time) {
			p.Legs = p.Legs[:2]
		}, domain.ReasonInvalidPlan},
		{"leg on another exchange", func(p *domain.ExecutionPlan, b books, now *time.Time) {
			p.Legs[2].Market = domain.NewMarketID("kraken", "BTCUSDT")
		}, domain.ReasonInvalidPlan},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			now := epoch.Add(10 * time.Millisecond)
			b := liveBooks()
			p := testPlan("P-" + c.name)
			c.mutate(&p, b, &now)
			a := newTestArbiter(b, &now)
			reply := a.Propose(context.Background(), p)
			if reply.Accepted || reply.Reason != c.reason {
				t.Fatalf("reply = %+v, want reason %q", reply, c.reason)
			}
		})
	}
}

func TestExactDeadlineIsNotExpired(t *testing.T) {
	now := epoch.Add(250 * time.Millisecond)
	a := newTestArbiter(liveBooks(), &now)
	if reply := a.Propose(context.Background(), testPlan("edge")); !reply.Accepted {
		t.Fatalf("reply = %+v", reply)
	}
}

func TestMissingCreatedAtUsesReceipt(t *testing.T) {
	now := epoch.Add(time.Hour)
	a := newTestArbiter(liveBooks(), &now)
	p := testPlan("no-ts")
	p.CreatedAt = time.Time{}
	if reply := a.Propose(context.Background(), p); !reply.Accepted {
		t.Fatalf("reply = %+v", reply)
	}
}

func TestDuplicateIsNotReevaluated(t *testing.T) {
	now := epoch.Add(10 * time.Millisecond)
	b := liveBooks()
	a := newTestArbiter(b, &now)
	if reply := a.Propose(context.Background(), testPlan("P1")); !reply.Accepted {
		t.Fatalf("first = %+v", reply)
	}
	// Even after the books vanish the second submission only sees the claim.
	delete(b, ethusdt)
	if reply := a.Propose(context.Background(), testPlan("P1")); reply.Reason != domain.ReasonDuplicatePlan {
		t.Fatalf("second = %+v", reply)
	}
	// A rejected plan id is also claimed.
	now = epoch.Add(time.Second)
	_ = a.Propose(context.Background(), testPlan("P2"))
	if reply := a.Propose(context.Background(), testPlan("P2")); reply.Reason != domain.ReasonDuplicatePlan {
		t.Fatalf("P2 again = %+v", reply)
	}
}

func TestConcurrentDuplicateExactlyOnce(t *testing.T) {
	now := epoch.Add(10 * time.Millisecond)
	a := newTestArbiter(liveBooks(), &now)

	const callers = 64
	var accepted, duplicates atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			reply := a.Propose(context.Background(), testPlan("P1"))
			switch {
			case reply.Accepted:
				accepted.Add(1)
			case reply.Reason == domain.ReasonDuplicatePlan:
				duplicates.Add(1)
			default:
				t.Errorf("unexpected reply %+v", reply)
			}
		}()
	}
	close(start)
	wg.Wait()
	if accepted.Load() != 1 || duplicates.Load() != callers-1 {
		t.Fatalf("accepted=%d duplicates=%d", accepted.Load(), duplicates.Load())
	}
	if st := a.Stats(); st[domain.ReasonOK] != 1 || st[domain.ReasonDuplicatePlan] != callers-1 {
		t.Fatalf("stats = %v", st)
	}
}

type fakeClaimer struct {
	claimed map[string]bool
	err     error
}

func (f *fakeClaimer) Claim(_ context.Context, id string, _ time.Duration) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if f.claimed[id] {
		return false, nil
	}
	f.claimed[id] = true
	return true, nil
}

func TestDistributedClaim(t *testing.T) {
	now := epoch.Add(10 * time.Millisecond)
	remote := &fakeClaimer{claimed: map[string]bool{"P9": true}}
	a := newTestArbiter(liveBooks(), &now, WithClaimer(remote))
	if reply := a.Propose(context.Background(), testPlan("P9")); reply.Reason != domain.ReasonDuplicatePlan {
		t.Fatalf("claimed elsewhere: %+v", reply)
	}

	broken := &fakeClaimer{err: errors.New("redis down")}
	a = newTestArbiter(liveBooks(), &now, WithClaimer(broken))
	if reply := a.Propose(context.Background(), testPlan("P10")); !reply.Accepted {
		t.Fatalf("claimer error should fall back to local claim: %+v", reply)
	}
}

func TestFeeReducesLiveProfit(t *testing.T) {
	now := epoch.Add(10 * time.Millisecond)
	fee := func(domain.MarketID) float64 { return 0.002 }
	a := NewArbiter(liveBooks(), testParser, fee, Config{MinProfitQuote: 0}, testLogger(),
		WithClock(func() time.Time { return now }))
	if reply := a.Propose(context.Background(), testPlan("fee")); reply.Reason != domain.ReasonProfitBelowThreshold {
		t.Fatalf("reply = %+v", reply)
	}
}

func TestClaimPrecedesValidation(t *testing.T) {
	now := epoch.Add(10 * time.Millisecond)
	a := newTestArbiter(liveBooks(), &now)
	if reply := a.Propose(context.Background(), testPlan("P1")); !reply.Accepted {
		t.Fatalf("first = %+v", reply)
	}
	broken := testPlan("P1")
	broken.Legs = nil
	if reply := a.Propose(context.Background(), broken); reply.Reason != domain.ReasonDuplicatePlan {
		t.Fatalf("malformed resubmission = %+v", reply)
	}

	// A malformed first submission still claims its id.
	bad := testPlan("P2")
	bad.Legs[0].Side = domain.SideUnspecified
	if reply := a.Propose(context.Background(), bad); reply.Reason != domain.ReasonInvalidPlan {
		t.Fatalf("malformed = %+v", reply)
	}
	if reply := a.Propose(context.Background(), testPlan("P2")); reply.Reason != domain.ReasonDuplicatePlan {
		t.Fatalf("fixed resubmission = %+v", reply)
	}

	if reply := a.Propose(context.Background(), testPlan("")); reply.Reason != domain.ReasonInvalidPlan {
		t.Fatalf("empty id = %+v", reply)
	}
}

func TestFirstLegSellStartsInQuote(t *testing.T) {
	// USDT -> BTC -> ETH -> USDT, entered by selling USDT on a USDT-based
	// market.
	usdtdai := domain.NewMarketID("binance", "USDTDAI")
	daibtc := domain.NewMarketID("binance", "DAIBTC")
	b := books{
		usdtdai: {Market: usdtdai, HasBid: true, HasAsk: true, BidPrice: 1, BidQty: 1e6, AskPrice: 1.001, AskQty: 1e6},
		daibtc:  {Market: daibtc, HasBid: true, HasAsk: true, BidPrice: 1.0 / 59000, BidQty: 1e6, AskPrice: 1.0 / 59000, AskQty: 1e6},
		btcusdt: liveBooks()[btcusdt],
	}
	now := epoch.Add(10 * time.Millisecond)
	sink := &recorder{}
	parser := cycle.NewSymbolParser([]string{"USDT", "BTC", "DAI"})
	a := NewArbiter(b, parser, nil, Config{MinProfitQuote: 1}, testLogger(),
		WithClock(func() time.Time { return now }), WithSink(sink))

	p := testPlan("sell-first")
	p.Legs = []domain.Leg{
		{Market: usdtdai, Side: domain.SideSell, Qty: 1000, LimitPrice: 1},
		{Market: daibtc, Side: domain.SideSell, Qty: 1000, LimitPrice: 1.0 / 59000},
		{Market: btcusdt, Side: domain.SideSell, Qty: 1000.0 / 59000, LimitPrice: 60000},
	}
	if reply := a.Propose(context.Background(), p); !reply.Accepted {
		t.Fatalf("reply = %+v", reply)
	}
	// 1000 USDT -> 1000 DAI -> 1000/59000 BTC -> ~1016.9 USDT.
	if got := sink.recs[0].LiveProfitQuote; got < 16 || got > 17.5 {
		t.Fatalf("live profit = %v, want about 16.9 USDT", got)
	}
}

type ttlClaimer struct {
	ttls map[string]time.Duration
}

func (c *ttlClaimer) Claim(_ context.Context, id string, ttl time.Duration) (bool, error) {
	if _, ok := c.ttls[id]; ok {
		return false, nil
	}
	c.ttls[id] = ttl
	return true, nil
}

func TestClaimTTLFollowsDeadline(t *testing.T) {
	now := epoch.Add(10 * time.Millisecond)
	remote := &ttlClaimer{ttls: map[string]time.Duration{}}
	a := NewArbiter(liveBooks(), testParser, nil, Config{MinProfitQuote: 1, Retention: time.Minute}, testLogger(),
		WithClock(func() time.Time { return now }), WithClaimer(remote))

	_ = a.Propose(context.Background(), testPlan("stamped"))
	if got, want := remote.ttls["stamped"], time.Minute+240*time.Millisecond; got != want {
		t.Fatalf("stamped ttl = %v, want %v", got, want)
	}

	p := testPlan("receipt")
	p.CreatedAt = time.Time{}
	_ = a.Propose(context.Background(), p)
	if got := remote.ttls["receipt"]; got != 0 {
		t.Fatalf("receipt-stamped ttl = %v, want no expiry", got)
	}

	// Long expired: the key still outlives the local retention window.
	now = epoch.Add(time.Hour)
	_ = a.Propose(context.Background(), testPlan("late"))
	if got := remote.ttls["late"]; got != time.Minute {
		t.Fatalf("late ttl = %v", got)
	}
}

func TestReplayAfterSweepStaysDuplicate(t *testing.T) {
	now := epoch.Add(10 * time.Millisecond)
	a := NewArbiter(liveBooks(), testParser, nil, Config{MinProfitQuote: 1, Retention: 2 * time.Minute}, testLogger(),
		WithClock(func() time.Time { return now }))

	p := testPlan("P1")
	p.CreatedAt = time.Time{}
	if reply := a.Propose(context.Background(), p); !reply.Accepted {
		t.Fatalf("first = %+v", reply)
	}
	now = now.Add(3 * time.Minute)
	a.Sweep()
	if reply := a.Propose(context.Background(), p); reply.Reason != domain.ReasonDuplicatePlan {
		t.Fatalf("replay = %+v", reply)
	}
}

func TestDedupCleanupHonoursDeadlines(t *testing.T) {
	now := epoch
	d := NewDedup(func() time.Time { return now })
	if !d.Claim("a", epoch.Add(time.Minute)) || d.Claim("a", epoch.Add(time.Hour)) {
		t.Fatal("claim must be test-and-set")
	}
	d.Claim("b", epoch.Add(2*time.Minute))
	d.Claim("forever", time.Time{})

	now = epoch.Add(time.Minute)
	if n := d.Cleanup(); n != 0 {
		t.Fatalf("removed %d at the deadline", n)
	}
	now = epoch.Add(90 * time.Second)
	if n := d.Cleanup(); n != 1 || d.Len() != 2 {
		t.Fatalf("removed %d, retained %d", n, d.Len())
	}
	if !d.Claim("a", now.Add(time.Minute)) {
		t.Fatal("swept id can be claimed again")
	}

	now = epoch.Add(24 * time.Hour)
	d.Cleanup()
	if d.Claim("forever", time.Time{}) {
		t.Fatal("id without a deadline must never be forgotten")
	}
}
