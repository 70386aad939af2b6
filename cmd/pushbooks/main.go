// Command pushbooks streams a three-market demo scenario to a running
// ingress: BTCUSDT, ETHBTC and ETHUSDT snapshots priced so that the
// USDT>BTC>ETH>USDT cycle is profitable at low fees. With -updates it then
// streams incremental deltas that nudge ETHUSDT around that edge.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/alanyoungcy/cyclearb/internal/domain"
	"github.com/alanyoungcy/cyclearb/internal/grpcapi"
)

func main() {
	_ = godotenv.Load()

	ingress := flag.String("ingress", envOr("INGRESS_ADDR", "127.0.0.1:50051"), "ingress address")
	exchange := flag.String("exchange", "BINANCE", "exchange name")
	updates := flag.Int("updates", 0, "incremental updates to send after the snapshots")
	interval := flag.Duration("interval", 200*time.Millisecond, "delay between updates")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := *ingress
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	}
	conn, err := grpcapi.Dial(addr)
	if err != nil {
		logger.Error("dial ingress", slog.String("addr", addr), slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer conn.Close()
	client := grpcapi.NewIngressClient(conn)

	now := uint64(time.Now().UnixNano())
	market := func(symbol string) domain.MarketID { return domain.NewMarketID(*exchange, symbol) }
	level := func(p, q float64) []domain.PriceLevel { return []domain.PriceLevel{{Price: p, Qty: q}} }

	deltas := []domain.BookDelta{
		{Market: market("BTCUSDT"), Sequence: 1, TsNs: now, IsSnapshot: true, Bids: level(60000, 1), Asks: level(60010, 1)},
		{Market: market("ETHBTC"), Sequence: 1, TsNs: now, IsSnapshot: true, Bids: level(0.06, 10), Asks: level(0.06001, 10)},
		{Market: market("ETHUSDT"), Sequence: 1, TsNs: now, IsSnapshot: true, Bids: level(3580, 10), Asks: level(3585, 10)},
	}
	for i := 0; i < *updates; i++ {
		// Alternate the ETHUSDT ask across the break-even price.
		ask := 3585.0
		if i%2 == 0 {
			ask = 3605.0
		}
		deltas = append(deltas, domain.BookDelta{
			Market:   market("ETHUSDT"),
			Sequence: uint64(i + 2),
			TsNs:     uint64(time.Now().UnixNano()),
			Asks:     level(ask, 10),
		})
	}

	if *updates == 0 {
		push(ctx, logger, client, deltas)
		return
	}
	push(ctx, logger, client, deltas[:3])
	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for _, d := range deltas[3:] {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		push(ctx, logger, client, []domain.BookDelta{d})
	}
}

func push(ctx context.Context, logger *slog.Logger, client *grpcapi.IngressClient, deltas []domain.BookDelta) {
	ack, err := client.Push(ctx, deltas)
	if err != nil {
		logger.Error("push deltas", slog.String("error", err.Error()))
		os.Exit(1)
	}
	resync := make([]string, 0, len(ack.Resync))
	for _, m := range ack.Resync {
		resync = append(resync, m.Exchange+":"+m.Symbol)
	}
	logger.Info("ingress ack",
		slog.Int("sent", len(deltas)),
		slog.Uint64("accepted", ack.Accepted),
		slog.Uint64("rejected", ack.Rejected),
		slog.Any("resync", resync),
	)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
