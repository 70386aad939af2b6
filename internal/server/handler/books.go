package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/cyclearb/internal/cycle"
	"github.com/alanyoungcy/cyclearb/internal/domain"
	"github.com/alanyoungcy/cyclearb/internal/ingest"
)

// BookSource is the read side of the book registry.
type BookSource interface {
	Snapshot() []domain.TopOfBook
	Depth(market domain.MarketID, n int) (domain.BookDepth, bool)
	NeedsResync() []domain.MarketID
	Stats() ingest.Stats
}

// CycleSource lists the cycles being scanned.
type CycleSource interface {
	All() []cycle.Cycle
}

// BookHandler serves order-book endpoints.
type BookHandler struct {
	books  BookSource
	cycles CycleSource
	logger *slog.Logger
}

// NewBookHandler creates a BookHandler. cycles may be nil.
func NewBookHandler(books BookSource, cycles CycleSource, logger *slog.Logger) *BookHandler {
	return &BookHandler{books: books, cycles: cycles, logger: logger.With(slog.String("handler", "books"))}
}

// ListBooks returns the top of book of every known market.
// GET /api/books
func (h *BookHandler) ListBooks(w http.ResponseWriter, r *http.Request) {
	tobs := h.books.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"count": len(tobs),
		"books": tobs,
	})
}

// GetBook returns up to ?depth= levels per side of one market.
// GET /api/books/{exchange}/{symbol}
func (h *BookHandler) GetBook(w http.ResponseWriter, r *http.Request) {
	market := domain.NewMarketID(r.PathValue("exchange"), r.PathValue("symbol"))
	if !market.Valid() {
		writeError(w, http.StatusBadRequest, "exchange and symbol are required")
		return
	}
	depth := intParam(r, "depth", 10, 500)
	book, ok := h.books.Depth(market, depth)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown market "+market.String())
		return
	}
	writeJSON(w, http.StatusOK, book)
}

// IngestStats returns per-outcome delta counters and the markets awaiting a
// snapshot.
// GET /api/ingest/stats
func (h *BookHandler) IngestStats(w http.ResponseWriter, r *http.Request) {
	resync := h.books.NeedsResync()
	if resync == nil {
		resync = []domain.MarketID{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"stats":  h.books.Stats(),
		"resync": resync,
	})
}

type cycleView struct {
	Key      string `json:"key"`
	Exchange string `json:"exchange"`
	Quote    string `json:"quote"`
	Path     string `json:"path"`
}

// ListCycles returns the cycles the scanner evaluates.
// GET /api/cycles
func (h *BookHandler) ListCycles(w http.ResponseWriter, r *http.Request) {
	out := []cycleView{}
	if h.cycles != nil {
		for _, c := range h.cycles.All() {
			out = append(out, cycleView{Key: c.Key(), Exchange: c.Exchange, Quote: c.Quote, Path: c.Path()})
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(out), "cycles": out})
}
