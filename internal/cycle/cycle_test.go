package cycle

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/alanyoungcy/cyclearb/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParseSymbol(t *testing.T) {
	p := NewSymbolParser([]string{"BTC", "USDT", "USD"})
	cases := []struct {
		in   string
		want Pair
	}{
		{"ETHUSDT", Pair{"ETH", "USDT"}},
		{"ethbtc", Pair{"ETH", "BTC"}},
		{"BTCUSD", Pair{"BTC", "USD"}},
		{"SOL-USDC", Pair{"SOL", "USDC"}},
	}
	for _, c := range cases {
		got, err := p.Parse(c.in)
		if err != nil || got != c.want {
			t.Errorf("Parse(%q) = %v, %v; want %v", c.in, got, err, c.want)
		}
	}
	if _, err := p.Parse("USDT"); err == nil {
		t.Error("bare quote asset must not parse")
	}
}

func TestResolveTriangle(t *testing.T) {
	p := NewSymbolParser([]string{"USDT", "BTC"})
	c, err := Resolve("binance", "usdt", []string{"ETHUSDT", "ETHBTC", "BTCUSDT"}, p)
	if err != nil {
		t.Fatal(err)
	}
	want := []domain.Side{domain.SideBuy, domain.SideSell, domain.SideSell}
	for i, s := range c.Steps {
		if s.Side != want[i] {
			t.Fatalf("step %d side = %s, want %s", i, s.Side, want[i])
		}
	}
	if c.Path() != "USDT>ETH>BTC>USDT" {
		t.Fatalf("path = %s", c.Path())
	}
	if c.Key() != "BINANCE:USDT>ETHUSDT>ETHBTC>BTCUSDT" {
		t.Fatalf("key = %s", c.Key())
	}
}

func TestResolveRejectsOpenCycles(t *testing.T) {
	p := NewSymbolParser([]string{"USDT", "BTC"})
	if _, err := Resolve("x", "USDT", []string{"ETHUSDT", "ETHBTC"}, p); !errors.Is(err, ErrNotClosed) {
		t.Fatalf("err = %v, want ErrNotClosed", err)
	}
	if _, err := Resolve("x", "USDT", []string{"ETHBTC", "BTCUSDT"}, p); !errors.Is(err, ErrBroken) {
		t.Fatalf("err = %v, want ErrBroken", err)
	}
	if _, err := Resolve("x", "USDT", []string{"ETHUSDT"}, p); !errors.Is(err, ErrTooShort) {
		t.Fatalf("err = %v, want ErrTooShort", err)
	}
}

func TestIndexDiscoversBothDirections(t *testing.T) {
	p := NewSymbolParser([]string{"USDT", "BTC"})
	x := NewIndex(p, []string{"USDT"}, testLogger())
	if got := x.AddMarket(domain.NewMarketID("binance", "BTCUSDT")); len(got) != 0 {
		t.Fatalf("unexpected cycles %v", got)
	}
	if got := x.AddMarket(domain.NewMarketID("binance", "ETHBTC")); len(got) != 0 {
		t.Fatalf("unexpected cycles %v", got)
	}
	got := x.AddMarket(domain.NewMarketID("binance", "ETHUSDT"))
	if len(got) != 2 {
		t.Fatalf("found %d cycles, want 2", len(got))
	}
	paths := map[string]bool{}
	for _, c := range got {
		paths[c.Path()] = true
	}
	if !paths["USDT>BTC>ETH>USDT"] || !paths["USDT>ETH>BTC>USDT"] {
		t.Fatalf("paths = %v", paths)
	}
	// A market on another exchange does not complete the triangle.
	if got := x.AddMarket(domain.NewMarketID("kraken", "ETHUSDT")); len(got) != 0 {
		t.Fatalf("cross-exchange cycles %v", got)
	}
	if got := x.AddMarket(domain.NewMarketID("binance", "ETHUSDT")); got != nil {
		t.Fatal("re-adding a market must be a no-op")
	}
}

func TestRegistryTouching(t *testing.T) {
	p := NewSymbolParser([]string{"USDT", "BTC"})
	c1, _ := Resolve("x", "USDT", []string{"ETHUSDT", "ETHBTC", "BTCUSDT"}, p)
	c2, _ := Resolve("x", "USDT", []string{"BTCUSDT", "ETHBTC", "ETHUSDT"}, p)
	c3, _ := Resolve("x", "USDT", []string{"SOLUSDT", "SOLBTC", "BTCUSDT"}, p)

	r := NewRegistry()
	for _, c := range []Cycle{c1, c2, c3} {
		if !r.Add(c) {
			t.Fatalf("Add(%s) reported duplicate", c.Key())
		}
	}
	if r.Add(c1) {
		t.Fatal("second Add must report duplicate")
	}
	if n := len(r.Touching(domain.NewMarketID("x", "ETHBTC"))); n != 2 {
		t.Fatalf("touching ETHBTC = %d, want 2", n)
	}
	if n := len(r.Touching(domain.NewMarketID("x", "BTCUSDT"), domain.NewMarketID("x", "SOLBTC"))); n != 3 {
		t.Fatalf("touching BTCUSDT+SOLBTC = %d, want 3", n)
	}
	if r.Len() != 3 || len(r.All()) != 3 {
		t.Fatalf("len = %d", r.Len())
	}
}
