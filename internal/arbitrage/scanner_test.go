package arbitrage

import (
	"context"
	"io"
	"log/slog"
	"math"
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

func (b books) set(symbol string, bid, bidQty, ask, askQty float64) {
	m := domain.NewMarketID("binance", symbol)
	b[m] = domain.TopOfBook{
		Market: m, HasBid: true, HasAsk: true,
		BidPrice: bid, BidQty: bidQty, AskPrice: ask, AskQty: askQty,
	}
}

func scenarioBooks() books {
	b := books{}
	b.set("BTCUSDT", 60000, 1.0, 60010, 1.0)
	b.set("ETHBTC", 0.06, 10.0, 0.06001, 10.0)
	b.set("ETHUSDT", 3580, 10.0, 3585, 10.0)
	return b
}

func scenarioCycles(t *testing.T) []cycle.Cycle {
	t.Helper()
	p := cycle.NewSymbolParser([]string{"USDT", "BTC"})
	fwd, err := cycle.Resolve("binance", "USDT", []string{"ETHUSDT", "ETHBTC", "BTCUSDT"}, p)
	if err != nil {
		t.Fatal(err)
	}
	rev, err := cycle.Resolve("binance", "USDT", []string{"BTCUSDT", "ETHBTC", "ETHUSDT"}, p)
	if err != nil {
		t.Fatal(err)
	}
	return []cycle.Cycle{rev, fwd}
}

func approx(a, b float64) bool { return math.Abs(a-b) <= 1e-9*math.Max(1, math.Abs(b)) }

func TestScenarioZeroFeeEmitsPlan(t *testing.T) {
	s := NewScanner(Params{MaxNotionalQuote: 1000, ValidMs: 250, MaxSlippageBp: 5})
	plan, ev, ok := s.Scan(scenarioCycles(t), scenarioBooks())
	if !ok {
		t.Fatal("expected a plan")
	}
	wantRate := 60000 * 0.06 / 3585
	if !approx(ev.Rate, wantRate) {
		t.Fatalf("rate = %v, want %v", ev.Rate, wantRate)
	}
	if !approx(plan.ExpectedProfitQuote, 1000*(wantRate-1)) {
		t.Fatalf("profit = %v", plan.ExpectedProfitQuote)
	}
	if plan.QuoteCcy != "USDT" || plan.Exchange != "BINANCE" || plan.ValidMs != 250 || plan.PlanID == "" {
		t.Fatalf("plan = %+v", plan)
	}
	wantSides := []domain.Side{domain.SideBuy, domain.SideSell, domain.SideSell}
	for i, leg := range plan.Legs {
		if leg.Side != wantSides[i] {
			t.Fatalf("leg %d side %s", i, leg.Side)
		}
	}
	if !approx(plan.Legs[0].Qty, 1000.0/3585) || !approx(plan.Legs[1].Qty, 1000.0/3585) {
		t.Fatalf("legs = %+v", plan.Legs)
	}
	if !approx(plan.Legs[2].Qty, 1000.0/3585*0.06) {
		t.Fatalf("btc leg qty = %v", plan.Legs[2].Qty)
	}
}

func TestScenarioFeeAboveMarginEmitsNothing(t *testing.T) {
	s := NewScanner(Params{
		Fees:             domain.FeeSchedule{DefaultBps: 20},
		MaxNotionalQuote: 1000,
	})
	if _, _, ok := s.Scan(scenarioCycles(t), scenarioBooks()); ok {
		t.Fatal("20bp per leg exceeds the cycle margin")
	}
}

func TestFeeScheduleOverride(t *testing.T) {
	s := NewScanner(Params{
		Fees: domain.FeeSchedule{
			DefaultBps: 20,
			Exchange:   map[string]float64{"BINANCE": 1},
		},
		MaxNotionalQuote: 1000,
	})
	if _, _, ok := s.Scan(scenarioCycles(t), scenarioBooks()); !ok {
		t.Fatal("1bp exchange fee leaves the cycle profitable")
	}
}

func TestNotionalCappedByTopQuantity(t *testing.T) {
	s := NewScanner(Params{})
	_, ev, ok := s.Scan(scenarioCycles(t), scenarioBooks())
	if !ok {
		t.Fatal("expected a plan")
	}
	// 10 ETH at 3585 is the tightest leg.
	if !approx(ev.Notional, 35850) {
		t.Fatalf("notional = %v, want 35850", ev.Notional)
	}

	b := scenarioBooks()
	b.set("BTCUSDT", 60000, 0.5, 60010, 1.0)
	_, ev, _ = s.Scan(scenarioCycles(t), b)
	if !approx(ev.Notional, 0.5/(0.06/3585)) {
		t.Fatalf("notional = %v", ev.Notional)
	}
}

func TestMaxNotionalByQuote(t *testing.T) {
	s := NewScanner(Params{MaxNotionalQuote: 1000, MaxNotionalByQuote: map[string]float64{"USDT": 200}})
	_, ev, ok := s.Scan(scenarioCycles(t), scenarioBooks())
	if !ok || !approx(ev.Notional, 200) {
		t.Fatalf("notional = %v ok=%v", ev.Notional, ok)
	}
}

func TestThresholds(t *testing.T) {
	cycles := scenarioCycles(t)
	// Profit at 1000 USDT is about 4.18.
	if _, _, ok := NewScanner(Params{MaxNotionalQuote: 1000, MinProfitQuote: 5}).Scan(cycles, scenarioBooks()); ok {
		t.Fatal("profit below min_profit_quote must not emit")
	}
	// Edge is about 41.8bp.
	if _, _, ok := NewScanner(Params{MaxNotionalQuote: 1000, MinProfitBps: 42}).Scan(cycles, scenarioBooks()); ok {
		t.Fatal("edge below min_profit_bps must not emit")
	}
	if _, _, ok := NewScanner(Params{MaxNotionalQuote: 1000, MinProfitQuote: 4, MinProfitBps: 41}).Scan(cycles, scenarioBooks()); !ok {
		t.Fatal("both thresholds cleared")
	}
}

func TestStaleOrMissingBookSkipsCycle(t *testing.T) {
	s := NewScanner(Params{MaxNotionalQuote: 1000})
	b := scenarioBooks()
	m := domain.NewMarketID("binance", "ETHBTC")
	tob := b[m]
	tob.Stale = true
	b[m] = tob
	if _, _, ok := s.Scan(scenarioCycles(t), b); ok {
		t.Fatal("stale book must exclude the cycle")
	}

	b = scenarioBooks()
	delete(b, m)
	if _, _, ok := s.Scan(scenarioCycles(t), b); ok {
		t.Fatal("missing book must exclude the cycle")
	}

	b = scenarioBooks()
	tob = b[m]
	tob.HasBid = false
	b[m] = tob
	if _, _, ok := s.Scan(scenarioCycles(t), b); ok {
		t.Fatal("empty side must exclude the cycle")
	}
}

func TestLimitMargin(t *testing.T) {
	s := NewScanner(Params{MaxNotionalQuote: 1000, LimitMarginBps: 10})
	plan, _, ok := s.Scan(scenarioCycles(t), scenarioBooks())
	if !ok {
		t.Fatal("expected a plan")
	}
	if !approx(plan.Legs[0].LimitPrice, 3585*1.001) || !approx(plan.Legs[2].LimitPrice, 60000*0.999) {
		t.Fatalf("limits = %v / %v", plan.Legs[0].LimitPrice, plan.Legs[2].LimitPrice)
	}
}

func TestTieGoesToLowerNotional(t *testing.T) {
	a := Evaluation{Profit: 5, Notional: 100}
	b := Evaluation{Profit: 5, Notional: 90}
	if better(a, b) || !better(b, a) {
		t.Fatal("lower notional should win a tie")
	}
	if !better(Evaluation{Profit: 6, Notional: 1000}, b) {
		t.Fatal("higher profit should win")
	}
}

type capture struct{ plans []domain.ExecutionPlan }

func (c *capture) Publish(_ context.Context, p domain.ExecutionPlan) error {
	c.plans = append(c.plans, p)
	return nil
}

func TestDetectorCooldown(t *testing.T) {
	reg := cycle.NewRegistry()
	for _, c := range scenarioCycles(t) {
		reg.Add(c)
	}
	pub := &capture{}
	d := NewDetector(DetectorConfig{
		Scanner:   NewScanner(Params{MaxNotionalQuote: 1000}),
		Books:     scenarioBooks(),
		Cycles:    reg,
		Publisher: pub,
		Cooldown:  time.Second,
		Logger:    testLogger(),
	})
	now := time.Unix(1000, 0)
	d.now = func() time.Time { return now }

	if !d.ScanOnce(context.Background(), reg.All()) {
		t.Fatal("first scan should publish")
	}
	if d.ScanOnce(context.Background(), reg.All()) {
		t.Fatal("cooldown should suppress the same cycle")
	}
	now = now.Add(2 * time.Second)
	if !d.ScanOnce(context.Background(), reg.All()) {
		t.Fatal("cooldown elapsed")
	}
	if len(pub.plans) != 2 || pub.plans[0].PlanID == pub.plans[1].PlanID {
		t.Fatalf("plans = %+v", pub.plans)
	}
}

func TestDetectorRunScansOnNotify(t *testing.T) {
	reg := cycle.NewRegistry()
	for _, c := range scenarioCycles(t) {
		reg.Add(c)
	}
	published := make(chan domain.ExecutionPlan, 1)
	d := NewDetector(DetectorConfig{
		Scanner: NewScanner(Params{MaxNotionalQuote: 1000}),
		Books:   scenarioBooks(),
		Cycles:  reg,
		Publisher: PublisherFunc(func(_ context.Context, p domain.ExecutionPlan) error {
			published <- p
			return nil
		}),
		Logger: testLogger(),
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	d.Notify(domain.TopOfBook{Market: domain.NewMarketID("binance", "ETHBTC")})
	select {
	case p := <-published:
		if p.QuoteCcy != "USDT" {
			t.Fatalf("plan = %+v", p)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no plan published after notify")
	}
	cancel()
	<-done
}
