package postgres

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/alanyoungcy/cyclearb/internal/domain"
)

func TestDecisionRowMatchesColumns(t *testing.T) {
	rec := domain.DecisionRecord{
		PlanID:   "P1",
		Exchange: "BINANCE",
		QuoteCcy: "USDT",
		Legs: []domain.Leg{
			{Market: domain.NewMarketID("binance", "ETHUSDT"), Side: domain.SideBuy, Qty: 0.25, LimitPrice: 3585},
			{Market: domain.NewMarketID("binance", "ETHBTC"), Side: domain.SideSell, Qty: 0.25, LimitPrice: 0.06},
		},
		Accepted: true,
		Reason:   domain.ReasonOK,
		Latency:  1500 * time.Microsecond,
	}
	row, err := decisionRow(rec)
	if err != nil {
		t.Fatal(err)
	}
	if len(row) != len(decisionColumns) {
		t.Fatalf("row has %d values for %d columns", len(row), len(decisionColumns))
	}
	if row[len(row)-1].(int64) != 1500 {
		t.Fatalf("latency_us = %v", row[len(row)-1])
	}

	var legs []domain.Leg
	if err := json.Unmarshal(row[3].([]byte), &legs); err != nil {
		t.Fatal(err)
	}
	if len(legs) != 2 || legs[0].Side != domain.SideBuy || legs[1].Market.Symbol != "ETHBTC" {
		t.Fatalf("legs = %+v", legs)
	}
}

func TestMigrationsEmbedded(t *testing.T) {
	data, err := migrationsFS.ReadFile("migrations/001_init.sql")
	if err != nil {
		t.Fatal(err)
	}
	if len(data) == 0 {
		t.Fatal("empty migration")
	}
}
