package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/cyclearb/internal/bus/membus"
	"github.com/alanyoungcy/cyclearb/internal/cycle"
	"github.com/alanyoungcy/cyclearb/internal/domain"
	"github.com/alanyoungcy/cyclearb/internal/ingest"
	"github.com/alanyoungcy/cyclearb/internal/journal"
	"github.com/alanyoungcy/cyclearb/internal/server/handler"
	"github.com/alanyoungcy/cyclearb/internal/server/ws"
	"github.com/gorilla/websocket"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeArbiter map[string]uint64

func (f fakeArbiter) Stats() map[string]uint64 { return f }

type fakeAudit struct {
	entries []domain.AuditEntry
	last    domain.ListOpts
}

func (f *fakeAudit) Log(_ context.Context, event string, detail map[string]any) error {
	f.entries = append(f.entries, domain.AuditEntry{Event: event, Detail: detail})
	return nil
}

func (f *fakeAudit) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	f.last = opts
	return f.entries, nil
}

type harness struct {
	engine   *ingest.Engine
	recorder *journal.Recorder
	bus      *membus.Bus
	audit    *fakeAudit
	srv      *httptest.Server
}

func newHarness(t *testing.T, apiKey string, checks map[string]handler.Pinger) *harness {
	t.Helper()
	logger := testLogger()

	engine := ingest.NewEngine(logger)
	for _, d := range []domain.BookDelta{
		{Market: domain.NewMarketID("binance", "BTCUSDT"), Sequence: 1, IsSnapshot: true,
			Bids: []domain.PriceLevel{{Price: 30000, Qty: 1}, {Price: 29990, Qty: 2}},
			Asks: []domain.PriceLevel{{Price: 30010, Qty: 1}}},
		{Market: domain.NewMarketID("binance", "ETHUSDT"), Sequence: 1, IsSnapshot: true,
			Bids: []domain.PriceLevel{{Price: 2000, Qty: 5}},
			Asks: []domain.PriceLevel{{Price: 2001, Qty: 5}}},
	} {
		if err := engine.Apply(d); err != nil {
			t.Fatal(err)
		}
	}
	// Unknown market incremental: lands on the resync list.
	_ = engine.Apply(domain.BookDelta{Market: domain.NewMarketID("binance", "ETHBTC"), Sequence: 4})

	registry := cycle.NewRegistry()
	c, err := cycle.Resolve("BINANCE", "USDT", []string{"BTCUSDT", "ETHBTC", "ETHUSDT"}, cycle.NewSymbolParser([]string{"USDT", "BTC"}))
	if err != nil {
		t.Fatal(err)
	}
	registry.Add(c)

	recorder := journal.NewRecorder(journal.Config{RecentCapacity: 8}, logger)
	recorder.RecordDecision(domain.DecisionRecord{PlanID: "P1", Exchange: "BINANCE", Accepted: true, Reason: "ok"})
	recorder.RecordDecision(domain.DecisionRecord{PlanID: "P2", Exchange: "BINANCE", Reason: "duplicate"})

	audit := &fakeAudit{entries: []domain.AuditEntry{{ID: 1, Event: "resync", Detail: map[string]any{"market": "BINANCE:ETHBTC"}}}}

	bus := membus.New()
	ctx, cancel := context.WithCancel(context.Background())
	hub := ws.NewHub(bus, logger, ws.Config{Mode: "full", Cycles: registry.Len})
	go hub.Run(ctx)

	s := NewServer(Config{APIKey: apiKey, CORSOrigins: []string{"https://ui.example"}}, Handlers{
		Health:    handler.NewHealthHandler("full", checks, logger),
		Books:     handler.NewBookHandler(engine, registry, logger),
		Decisions: handler.NewDecisionHandler(recorder, fakeArbiter{"ok": 1, "duplicate": 1}, nil, audit, logger),
	}, hub, logger)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		cancel()
	})
	return &harness{engine: engine, recorder: recorder, bus: bus, audit: audit, srv: ts}
}

func (h *harness) get(t *testing.T, path string, hdr map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, h.srv.URL+path, nil)
	if err != nil {
		t.Fatal(err)
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("%s: decode: %v", path, err)
	}
	return resp, body
}

func TestListBooks(t *testing.T) {
	h := newHarness(t, "", nil)
	resp, body := h.get(t, "/api/books", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	// ETHBTC only sent an incremental, so it has no book yet.
	if body["count"].(float64) != 2 {
		t.Fatalf("count = %v", body["count"])
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatal("missing request id")
	}
}

func TestGetBookDepth(t *testing.T) {
	h := newHarness(t, "", nil)
	resp, body := h.get(t, "/api/books/binance/btcusdt?depth=1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d body = %v", resp.StatusCode, body)
	}
	bids := body["bids"].([]any)
	if len(bids) != 1 || bids[0].(map[string]any)["price"].(float64) != 30000 {
		t.Fatalf("bids = %v", bids)
	}

	resp, _ = h.get(t, "/api/books/binance/DOGEUSDT", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown market status = %d", resp.StatusCode)
	}
}

func TestIngestStats(t *testing.T) {
	h := newHarness(t, "", nil)
	_, body := h.get(t, "/api/ingest/stats", nil)
	stats := body["stats"].(map[string]any)
	if stats["accepted"].(float64) != 2 || stats["awaiting_snapshot"].(float64) != 1 {
		t.Fatalf("stats = %v", stats)
	}
	if resync := body["resync"].([]any); len(resync) != 1 {
		t.Fatalf("resync = %v", resync)
	}
}

func TestListCycles(t *testing.T) {
	h := newHarness(t, "", nil)
	_, body := h.get(t, "/api/cycles", nil)
	cycles := body["cycles"].([]any)
	if len(cycles) != 1 {
		t.Fatalf("cycles = %v", cycles)
	}
	if path := cycles[0].(map[string]any)["path"].(string); !strings.HasPrefix(path, "USDT>") || !strings.HasSuffix(path, ">USDT") {
		t.Fatalf("path = %q", path)
	}
}

func TestDecisions(t *testing.T) {
	h := newHarness(t, "", nil)
	_, body := h.get(t, "/api/decisions/recent?limit=1", nil)
	decisions := body["decisions"].([]any)
	if len(decisions) != 1 || decisions[0].(map[string]any)["plan_id"] != "P2" {
		t.Fatalf("decisions = %v", decisions)
	}

	_, body = h.get(t, "/api/decisions/stats", nil)
	if body["since_start"].(map[string]any)["ok"].(float64) != 1 {
		t.Fatalf("stats = %v", body)
	}

	resp, _ := h.get(t, "/api/decisions/recent?source=store", nil)
	if resp.StatusCode != http.StatusNotImplemented {
		t.Fatalf("store without postgres: status = %d", resp.StatusCode)
	}
	resp, _ = h.get(t, "/api/decisions/stats?window=bogus", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad window: status = %d", resp.StatusCode)
	}
}

func TestListAudit(t *testing.T) {
	h := newHarness(t, "", nil)
	resp, body := h.get(t, "/api/audit?limit=5&since=1h", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["count"].(float64) != 1 {
		t.Fatalf("count = %v", body["count"])
	}
	if h.audit.last.Limit != 5 || h.audit.last.Since == nil {
		t.Fatalf("opts = %+v", h.audit.last)
	}

	resp, _ = h.get(t, "/api/audit?since=bogus", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad since status = %d", resp.StatusCode)
	}
}

func TestAuth(t *testing.T) {
	h := newHarness(t, "secret", nil)

	resp, _ := h.get(t, "/api/books", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no token: status = %d", resp.StatusCode)
	}
	resp, _ = h.get(t, "/api/books", map[string]string{"Authorization": "Bearer wrong"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong token: status = %d", resp.StatusCode)
	}
	resp, _ = h.get(t, "/api/books", map[string]string{"Authorization": "Bearer secret"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("bearer: status = %d", resp.StatusCode)
	}
	resp, _ = h.get(t, "/api/books", map[string]string{"X-API-Key": "secret"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("api key: status = %d", resp.StatusCode)
	}
	resp, _ = h.get(t, "/api/health", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health must stay open: status = %d", resp.StatusCode)
	}
}

func TestHealthDegraded(t *testing.T) {
	h := newHarness(t, "", map[string]handler.Pinger{
		"redis":    func(context.Context) error { return nil },
		"postgres": func(context.Context) error { return errors.New("connection refused") },
	})
	resp, body := h.get(t, "/api/health", nil)
	if resp.StatusCode != http.StatusServiceUnavailable || body["status"] != "degraded" {
		t.Fatalf("status = %d body = %v", resp.StatusCode, body)
	}
	deps := body["dependencies"].(map[string]any)
	if deps["redis"] != "ok" || deps["postgres"] != "connection refused" {
		t.Fatalf("deps = %v", deps)
	}
}

func TestCORSPreflight(t *testing.T) {
	h := newHarness(t, "secret", nil)
	req, _ := http.NewRequest(http.MethodOptions, h.srv.URL+"/api/books", nil)
	req.Header.Set("Origin", "https://ui.example")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "https://ui.example" {
		t.Fatalf("allow origin = %q", got)
	}

	req, _ = http.NewRequest(http.MethodOptions, h.srv.URL+"/api/books", nil)
	req.Header.Set("Origin", "https://evil.example")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("foreign origin allowed: %q", got)
	}
}

func TestWebSocketRelaysDecisions(t *testing.T) {
	h := newHarness(t, "", nil)
	url := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var status struct {
		Type    string         `json:"type"`
		Payload map[string]any `json:"payload"`
	}
	if err := conn.ReadJSON(&status); err != nil {
		t.Fatal(err)
	}
	if status.Type != "status" || status.Payload["mode"] != "full" || status.Payload["cycles"].(float64) != 1 {
		t.Fatalf("status frame = %+v", status)
	}

	// Receiving the status frame means the hub registered the client.
	want := `{"type":"decision","payload":{"plan_id":"P9"}}`
	if err := h.bus.Publish(context.Background(), domain.ChannelDecisions, []byte(want)); err != nil {
		t.Fatal(err)
	}
	_, got, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != want {
		t.Fatalf("relayed %s", got)
	}
}
