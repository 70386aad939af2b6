// Package ingest applies streamed order-book deltas to per-market books,
// enforcing snapshot-first sequencing and gap detection.
package ingest

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/cyclearb/internal/book"
	"github.com/alanyoungcy/cyclearb/internal/domain"
)

// ResyncEvent is emitted when a market needs a fresh snapshot.
type ResyncEvent struct {
	Market   domain.MarketID
	Reason   Outcome
	Expected uint64
	Got      uint64
	At       time.Time
}

// Stats counts deltas per outcome since start.
type Stats struct {
	Accepted         uint64 `json:"accepted"`
	AwaitingSnapshot uint64 `json:"awaiting_snapshot"`
	DuplicateOrOld   uint64 `json:"duplicate_or_old"`
	SequenceGap      uint64 `json:"sequence_gap"`
	Invalid          uint64 `json:"invalid"`
	Markets          int    `json:"markets"`
	Resyncing        int    `json:"resyncing"`
}

type entry struct {
	mu   sync.RWMutex
	book *book.Book
}

// Engine owns every Book. Deltas for different markets only share the
// registry lock, and only while looking up or creating the entry.
type Engine struct {
	mu    sync.RWMutex
	books map[domain.MarketID]*entry

	resyncMu sync.Mutex
	resync   map[domain.MarketID]struct{}

	hooksMu    sync.RWMutex
	onUpdate   []func(domain.TopOfBook)
	onMarket   []func(domain.MarketID)
	onResync   []func(ResyncEvent)
	maxDepth   int
	now        func() time.Time
	logger     *slog.Logger
	accepted   atomic.Uint64
	awaiting   atomic.Uint64
	duplicates atomic.Uint64
	gaps       atomic.Uint64
	invalid    atomic.Uint64
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxDepth caps each book side at depth levels; 0 keeps all levels.
func WithMaxDepth(depth int) Option {
	return func(e *Engine) { e.maxDepth = depth }
}

// WithClock overrides the time source used for book timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an empty Engine.
func NewEngine(logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		books:  make(map[domain.MarketID]*entry),
		resync: make(map[domain.MarketID]struct{}),
		now:    time.Now,
		logger: logger.With(slog.String("component", "ingest_engine")),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// OnUpdate registers fn to run after every accepted delta with the market's
// new top of book. fn runs on the applying goroutine and must not block.
func (e *Engine) OnUpdate(fn func(domain.TopOfBook)) {
	e.hooksMu.Lock()
	e.onUpdate = append(e.onUpdate, fn)
	e.hooksMu.Unlock()
}

// OnNewMarket registers fn to run the first time a market is seen.
func (e *Engine) OnNewMarket(fn func(domain.MarketID)) {
	e.hooksMu.Lock()
	e.onMarket = append(e.onMarket, fn)
	e.hooksMu.Unlock()
}

// OnResync registers fn to run whenever a market starts awaiting a snapshot.
func (e *Engine) OnResync(fn func(ResyncEvent)) {
	e.hooksMu.Lock()
	e.onResync = append(e.onResync, fn)
	e.hooksMu.Unlock()
}

// Apply applies one delta. Snapshots always replace the carried sides and
// clear the stale flag. Incremental deltas require a synced book and the
// next sequence; a gap marks the book stale.
func (e *Engine) Apply(d domain.BookDelta) error {
	market := d.Market.Normalize()
	if !market.Valid() {
		e.invalid.Add(1)
		return fmt.Errorf("ingest: %w: missing exchange or symbol", domain.ErrInvalidDelta)
	}
	now := e.now()

	var ent *entry
	if d.IsSnapshot {
		ent = e.entry(market)
	} else {
		var ok bool
		if ent, ok = e.lookup(market); !ok {
			// No book is created until a snapshot arrives.
			e.awaiting.Add(1)
			e.markResync(ResyncEvent{Market: market, Reason: OutcomeAwaitingSnapshot, Got: d.Sequence, At: now})
			return ErrAwaitingSnapshot
		}
	}

	ent.mu.Lock()
	b := ent.book
	if d.IsSnapshot {
		b.ApplySnapshot(d, now)
		b.Trim(e.maxDepth)
		tob := b.TopOfBook()
		ent.mu.Unlock()

		e.accepted.Add(1)
		e.clearResync(market)
		e.notifyUpdate(tob)
		return nil
	}

	if !b.Synced() {
		ent.mu.Unlock()
		e.awaiting.Add(1)
		e.markResync(ResyncEvent{Market: market, Reason: OutcomeAwaitingSnapshot, Got: d.Sequence, At: now})
		return ErrAwaitingSnapshot
	}

	seq := b.Seq()
	if d.Sequence <= seq {
		ent.mu.Unlock()
		e.duplicates.Add(1)
		return ErrDuplicateOrOld
	}
	if d.Sequence > seq+1 {
		b.MarkStale()
		ent.mu.Unlock()
		e.gaps.Add(1)
		gap := &SequenceGapError{Market: market, Expected: seq + 1, Got: d.Sequence}
		e.logger.Warn("sequence gap, book suspended",
			slog.String("market", market.String()),
			slog.Uint64("expected", gap.Expected),
			slog.Uint64("got", gap.Got),
		)
		e.markResync(ResyncEvent{Market: market, Reason: OutcomeSequenceGap, Expected: gap.Expected, Got: gap.Got, At: now})
		return gap
	}

	b.Merge(d, now)
	b.Trim(e.maxDepth)
	tob := b.TopOfBook()
	ent.mu.Unlock()

	e.accepted.Add(1)
	e.notifyUpdate(tob)
	return nil
}

// entry returns the market's entry, creating an unsynced book on first use.
// Only snapshots create entries.
func (e *Engine) entry(market domain.MarketID) *entry {
	e.mu.RLock()
	ent, ok := e.books[market]
	e.mu.RUnlock()
	if ok {
		return ent
	}

	e.mu.Lock()
	ent, ok = e.books[market]
	if !ok {
		ent = &entry{book: book.New(market)}
		e.books[market] = ent
	}
	e.mu.Unlock()

	if !ok {
		e.logger.Info("new market", slog.String("market", market.String()))
		e.hooksMu.RLock()
		hooks := e.onMarket
		e.hooksMu.RUnlock()
		for _, fn := range hooks {
			fn(market)
		}
	}
	return ent
}

func (e *Engine) lookup(market domain.MarketID) (*entry, bool) {
	e.mu.RLock()
	ent, ok := e.books[market.Normalize()]
	e.mu.RUnlock()
	return ent, ok
}

func (e *Engine) notifyUpdate(tob domain.TopOfBook) {
	e.hooksMu.RLock()
	hooks := e.onUpdate
	e.hooksMu.RUnlock()
	for _, fn := range hooks {
		fn(tob)
	}
}

func (e *Engine) markResync(evt ResyncEvent) {
	e.resyncMu.Lock()
	_, already := e.resync[evt.Market]
	e.resync[evt.Market] = struct{}{}
	e.resyncMu.Unlock()
	if already {
		return
	}
	e.hooksMu.RLock()
	hooks := e.onResync
	e.hooksMu.RUnlock()
	for _, fn := range hooks {
		fn(evt)
	}
}

func (e *Engine) clearResync(market domain.MarketID) {
	e.resyncMu.Lock()
	delete(e.resync, market)
	e.resyncMu.Unlock()
}

// TopOfBook returns a copy of the market's best levels.
func (e *Engine) TopOfBook(market domain.MarketID) (domain.TopOfBook, bool) {
	ent, ok := e.lookup(market)
	if !ok {
		return domain.TopOfBook{}, false
	}
	ent.mu.RLock()
	defer ent.mu.RUnlock()
	return ent.book.TopOfBook(), true
}

// Depth returns a copy of up to n levels per side.
func (e *Engine) Depth(market domain.MarketID, n int) (domain.BookDepth, bool) {
	ent, ok := e.lookup(market)
	if !ok {
		return domain.BookDepth{}, false
	}
	ent.mu.RLock()
	defer ent.mu.RUnlock()
	return ent.book.Depth(n), true
}

// Markets lists every known market in exchange, symbol order.
func (e *Engine) Markets() []domain.MarketID {
	e.mu.RLock()
	out := make([]domain.MarketID, 0, len(e.books))
	for m := range e.books {
		out = append(out, m)
	}
	e.mu.RUnlock()
	sortMarkets(out)
	return out
}

// Snapshot returns the top of book of every known market.
func (e *Engine) Snapshot() []domain.TopOfBook {
	markets := e.Markets()
	out := make([]domain.TopOfBook, 0, len(markets))
	for _, m := range markets {
		if tob, ok := e.TopOfBook(m); ok {
			out = append(out, tob)
		}
	}
	return out
}

// NeedsResync lists the markets currently awaiting a snapshot.
func (e *Engine) NeedsResync() []domain.MarketID {
	e.resyncMu.Lock()
	out := make([]domain.MarketID, 0, len(e.resync))
	for m := range e.resync {
		out = append(out, m)
	}
	e.resyncMu.Unlock()
	sortMarkets(out)
	return out
}

// Stats returns the outcome counters.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	markets := len(e.books)
	e.mu.RUnlock()
	e.resyncMu.Lock()
	resyncing := len(e.resync)
	e.resyncMu.Unlock()
	return Stats{
		Accepted:         e.accepted.Load(),
		AwaitingSnapshot: e.awaiting.Load(),
		DuplicateOrOld:   e.duplicates.Load(),
		SequenceGap:      e.gaps.Load(),
		Invalid:          e.invalid.Load(),
		Markets:          markets,
		Resyncing:        resyncing,
	}
}

func sortMarkets(ms []domain.MarketID) {
	sort.Slice(ms, func(i, j int) bool {
		if ms[i].Exchange != ms[j].Exchange {
			return ms[i].Exchange < ms[j].Exchange
		}
		return ms[i].Symbol < ms[j].Symbol
	})
}
