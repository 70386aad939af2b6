package redis

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/cyclearb/internal/domain"
)

// BookMirror implements domain.BookMirror with one hash per market.
//
// Key schema:
//
//	book:{exchange}:{symbol}:tob - hash with bid, bid_qty, ask, ask_qty, seq, stale, ts
//
// Offer queues a top of book for the background writer; only the latest
// value per market is written on each flush.
type BookMirror struct {
	rdb      redis.UniversalClient
	ttl      time.Duration
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[domain.MarketID]domain.TopOfBook
	dropped uint64
}

// NewBookMirror creates a BookMirror. ttl expires markets that stop updating;
// interval is the flush period of Run.
func NewBookMirror(c *Client, ttl, interval time.Duration, logger *slog.Logger) *BookMirror {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &BookMirror{
		rdb:      c.rdb,
		ttl:      ttl,
		interval: interval,
		logger:   logger.With(slog.String("component", "book_mirror")),
		pending:  make(map[domain.MarketID]domain.TopOfBook),
	}
}

func tobKey(m domain.MarketID) string {
	return "book:" + m.Exchange + ":" + m.Symbol + ":tob"
}

// encodeTopOfBook flattens tob into hash fields. Absent sides are omitted.
func encodeTopOfBook(tob domain.TopOfBook) map[string]any {
	fields := map[string]any{
		"seq":   strconv.FormatUint(tob.Seq, 10),
		"stale": strconv.FormatBool(tob.Stale),
		"ts":    strconv.FormatInt(tob.UpdatedAt.UnixNano(), 10),
	}
	if tob.HasBid {
		fields["bid"] = strconv.FormatFloat(tob.BidPrice, 'f', -1, 64)
		fields["bid_qty"] = strconv.FormatFloat(tob.BidQty, 'f', -1, 64)
	}
	if tob.HasAsk {
		fields["ask"] = strconv.FormatFloat(tob.AskPrice, 'f', -1, 64)
		fields["ask_qty"] = strconv.FormatFloat(tob.AskQty, 'f', -1, 64)
	}
	return fields
}

func decodeTopOfBook(m domain.MarketID, fields map[string]string) (domain.TopOfBook, error) {
	tob := domain.TopOfBook{Market: m}
	var err error
	if v, ok := fields["seq"]; ok {
		if tob.Seq, err = strconv.ParseUint(v, 10, 64); err != nil {
			return tob, fmt.Errorf("seq: %w", err)
		}
	}
	if v, ok := fields["stale"]; ok {
		if tob.Stale, err = strconv.ParseBool(v); err != nil {
			return tob, fmt.Errorf("stale: %w", err)
		}
	}
	if v, ok := fields["ts"]; ok {
		ns, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return tob, fmt.Errorf("ts: %w", err)
		}
		tob.UpdatedAt = time.Unix(0, ns)
	}
	if v, ok := fields["bid"]; ok {
		tob.HasBid = true
		if tob.BidPrice, err = strconv.ParseFloat(v, 64); err != nil {
			return tob, fmt.Errorf("bid: %w", err)
		}
		if tob.BidQty, err = strconv.ParseFloat(fields["bid_qty"], 64); err != nil {
			return tob, fmt.Errorf("bid_qty: %w", err)
		}
	}
	if v, ok := fields["ask"]; ok {
		tob.HasAsk = true
		if tob.AskPrice, err = strconv.ParseFloat(v, 64); err != nil {
			return tob, fmt.Errorf("ask: %w", err)
		}
		if tob.AskQty, err = strconv.ParseFloat(fields["ask_qty"], 64); err != nil {
			return tob, fmt.Errorf("ask_qty: %w", err)
		}
	}
	return tob, nil
}

// SetTopOfBook replaces the market's hash and refreshes its TTL.
func (bm *BookMirror) SetTopOfBook(ctx context.Context, tob domain.TopOfBook) error {
	pipe := bm.rdb.TxPipeline()
	bm.queue(ctx, pipe, tob)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set top of book %s: %w", tob.Market, err)
	}
	return nil
}

func (bm *BookMirror) queue(ctx context.Context, pipe redis.Pipeliner, tob domain.TopOfBook) {
	key := tobKey(tob.Market)
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, encodeTopOfBook(tob))
	if bm.ttl > 0 {
		pipe.Expire(ctx, key, bm.ttl)
	}
}

// GetTopOfBook reads the market's hash. It returns domain.ErrNotFound when the
// market has no mirrored book.
func (bm *BookMirror) GetTopOfBook(ctx context.Context, market domain.MarketID) (domain.TopOfBook, error) {
	fields, err := bm.rdb.HGetAll(ctx, tobKey(market)).Result()
	if err != nil {
		return domain.TopOfBook{}, fmt.Errorf("redis: get top of book %s: %w", market, err)
	}
	if len(fields) == 0 {
		return domain.TopOfBook{}, domain.ErrNotFound
	}
	tob, err := decodeTopOfBook(market, fields)
	if err != nil {
		return domain.TopOfBook{}, fmt.Errorf("redis: decode top of book %s: %w", market, err)
	}
	return tob, nil
}

// Offer records tob for the next flush, replacing any pending value for the
// same market. It never blocks on Redis.
func (bm *BookMirror) Offer(tob domain.TopOfBook) {
	bm.mu.Lock()
	if _, ok := bm.pending[tob.Market]; ok {
		bm.dropped++
	}
	bm.pending[tob.Market] = tob
	bm.mu.Unlock()
}

// Coalesced returns how many offers were superseded before being written.
func (bm *BookMirror) Coalesced() uint64 {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	return bm.dropped
}

func (bm *BookMirror) take() []domain.TopOfBook {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	if len(bm.pending) == 0 {
		return nil
	}
	out := make([]domain.TopOfBook, 0, len(bm.pending))
	for _, tob := range bm.pending {
		out = append(out, tob)
	}
	clear(bm.pending)
	return out
}

// Flush writes every pending top of book in one pipeline.
func (bm *BookMirror) Flush(ctx context.Context) error {
	batch := bm.take()
	if len(batch) == 0 {
		return nil
	}
	pipe := bm.rdb.Pipeline()
	for _, tob := range batch {
		bm.queue(ctx, pipe, tob)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: flush %d books: %w", len(batch), err)
	}
	return nil
}

// Run flushes pending books every interval until ctx is cancelled.
func (bm *BookMirror) Run(ctx context.Context) error {
	ticker := time.NewTicker(bm.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := bm.Flush(flushCtx); err != nil {
				bm.logger.Warn("final flush failed", slog.String("error", err.Error()))
			}
			cancel()
			return nil
		case <-ticker.C:
			if err := bm.Flush(ctx); err != nil {
				bm.logger.Warn("flush failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Compile-time interface check.
var _ domain.BookMirror = (*BookMirror)(nil)
