// Package executor decides, exactly once per plan id, whether a proposed
// execution plan is still worth executing against live books.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/cyclearb/internal/cycle"
	"github.com/alanyoungcy/cyclearb/internal/domain"
)

var errLegMismatch = errors.New("leg does not follow the cycle")

// reasons is every decision reason the arbiter counts.
var reasons = []string{
	domain.ReasonOK,
	domain.ReasonDuplicatePlan,
	domain.ReasonExpired,
	domain.ReasonUnknownOrStaleMarket,
	domain.ReasonSlippageExceeded,
	domain.ReasonProfitBelowThreshold,
	domain.ReasonInvalidPlan,
}

// BookReader exposes read-only copies of live top of book.
type BookReader interface {
	TopOfBook(market domain.MarketID) (domain.TopOfBook, bool)
}

// DecisionSink receives every decision. RecordDecision must not block.
type DecisionSink interface {
	RecordDecision(rec domain.DecisionRecord)
}

// FeeFunc returns the taker fee fraction for a market.
type FeeFunc func(market domain.MarketID) float64

// Config holds the arbiter thresholds.
type Config struct {
	MinProfitQuote float64
	// Retention is how long a plan id is remembered after its validity
	// deadline. Ids of plans stamped on receipt are never forgotten.
	Retention       time.Duration
	CleanupInterval time.Duration
	// ClaimTimeout bounds the distributed claim round trip.
	ClaimTimeout time.Duration
}

// Arbiter evaluates proposed plans. Propose may be called concurrently.
type Arbiter struct {
	books   BookReader
	parser  *cycle.SymbolParser
	fee     FeeFunc
	dedup   *Dedup
	claimer domain.PlanClaimer
	sink    DecisionSink
	cfg     Config
	now     func() time.Time
	logger  *slog.Logger

	// stats is built once in NewArbiter and only read afterwards.
	stats map[string]*atomic.Uint64
}

// Option configures an Arbiter.
type Option func(*Arbiter)

// WithClock overrides the arbiter's time source.
func WithClock(now func() time.Time) Option {
	return func(a *Arbiter) { a.now = now }
}

// WithClaimer adds a cross-process claim after the local one.
func WithClaimer(c domain.PlanClaimer) Option {
	return func(a *Arbiter) { a.claimer = c }
}

// WithSink sends every decision to sink.
func WithSink(sink DecisionSink) Option {
	return func(a *Arbiter) { a.sink = sink }
}

// NewArbiter creates an Arbiter reading live books through books. parser
// splits leg symbols so that every plan can be checked to close in its quote
// currency.
func NewArbiter(books BookReader, parser *cycle.SymbolParser, fee FeeFunc, cfg Config, logger *slog.Logger, opts ...Option) *Arbiter {
	if cfg.Retention <= 0 {
		cfg.Retention = 2 * time.Minute
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 30 * time.Second
	}
	if cfg.ClaimTimeout <= 0 {
		cfg.ClaimTimeout = 50 * time.Millisecond
	}
	if fee == nil {
		fee = func(domain.MarketID) float64 { return 0 }
	}
	if parser == nil {
		parser = cycle.NewSymbolParser(nil)
	}
	a := &Arbiter{
		books:  books,
		parser: parser,
		fee:    fee,
		cfg:    cfg,
		now:    time.Now,
		logger: logger.With(slog.String("component", "arbiter")),
		stats:  make(map[string]*atomic.Uint64, len(reasons)),
	}
	for _, r := range reasons {
		a.stats[r] = new(atomic.Uint64)
	}
	for _, opt := range opts {
		opt(a)
	}
	a.dedup = NewDedup(func() time.Time { return a.now() })
	return a
}

// Propose claims plan.PlanID and, if this is its first submission,
// validates the plan against live books. Any submission of a claimed id is a
// duplicate, however malformed. Rejections are replies, not errors.
func (a *Arbiter) Propose(ctx context.Context, plan domain.ExecutionPlan) domain.ProposeReply {
	received := a.now()
	reply, live := a.decide(ctx, plan, received)
	a.record(plan, reply, live, received)
	return reply
}

func (a *Arbiter) decide(ctx context.Context, plan domain.ExecutionPlan, received time.Time) (domain.ProposeReply, float64) {
	// Without an id there is nothing to claim.
	if plan.PlanID == "" {
		return domain.Reject(domain.ReasonInvalidPlan), 0
	}
	until := a.forgetAfter(plan)
	if !a.dedup.Claim(plan.PlanID, until) {
		return domain.Reject(domain.ReasonDuplicatePlan), 0
	}
	if a.claimer != nil {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.ClaimTimeout)
		ok, err := a.claimer.Claim(cctx, plan.PlanID, a.claimTTL(until, received))
		cancel()
		switch {
		case err != nil:
			a.logger.Warn("distributed claim failed, using local claim",
				slog.String("plan_id", plan.PlanID),
				slog.String("error", err.Error()),
			)
		case !ok:
			return domain.Reject(domain.ReasonDuplicatePlan), 0
		}
	}

	if err := plan.Validate(); err != nil {
		return domain.Reject(domain.ReasonInvalidPlan), 0
	}
	if err := a.checkClosed(plan); err != nil {
		a.logger.Debug("plan does not close",
			slog.String("plan_id", plan.PlanID),
			slog.String("error", err.Error()),
		)
		return domain.Reject(domain.ReasonInvalidPlan), 0
	}

	if plan.CreatedAt.IsZero() {
		plan.CreatedAt = received
	}
	if a.now().After(plan.ExpiresAt()) {
		return domain.Reject(domain.ReasonExpired), 0
	}

	tobs := make([]domain.TopOfBook, len(plan.Legs))
	for i, leg := range plan.Legs {
		tob, ok := a.books.TopOfBook(leg.Market)
		if !ok || tob.Stale {
			return domain.Reject(domain.ReasonUnknownOrStaleMarket), 0
		}
		tobs[i] = tob
	}

	tol := plan.MaxSlippageBp / 1e4
	for i, leg := range plan.Legs {
		tob := tobs[i]
		switch leg.Side {
		case domain.SideBuy:
			if !tob.HasAsk || tob.AskPrice > leg.LimitPrice*(1+tol) {
				return domain.Reject(domain.ReasonSlippageExceeded), 0
			}
		case domain.SideSell:
			if !tob.HasBid || tob.BidPrice < leg.LimitPrice*(1-tol) {
				return domain.Reject(domain.ReasonSlippageExceeded), 0
			}
		}
	}

	live := a.liveProfit(plan, tobs)
	if live < a.cfg.MinProfitQuote {
		return domain.Reject(domain.ReasonProfitBelowThreshold), live
	}
	return domain.Accept(), live
}

// forgetAfter is the earliest time the plan's id may be dropped from the
// dedup set. A plan stamped on receipt would be fresh again if replayed, so
// its id is kept for good.
func (a *Arbiter) forgetAfter(plan domain.ExecutionPlan) time.Time {
	if plan.CreatedAt.IsZero() {
		return time.Time{}
	}
	return plan.ExpiresAt().Add(a.cfg.Retention)
}

// claimTTL converts a dedup deadline into a Redis TTL. Zero means no expiry.
func (a *Arbiter) claimTTL(until, now time.Time) time.Duration {
	if until.IsZero() {
		return 0
	}
	return max(until.Sub(now), a.cfg.Retention)
}

// checkClosed resolves the legs from the plan's quote currency and requires
// each leg to match the resolved market and side, so the plan ends holding
// what it started with.
func (a *Arbiter) checkClosed(plan domain.ExecutionPlan) error {
	symbols := make([]string, len(plan.Legs))
	for i, leg := range plan.Legs {
		symbols[i] = leg.Market.Symbol
	}
	c, err := cycle.Resolve(plan.Exchange, plan.QuoteCcy, symbols, a.parser)
	if err != nil {
		return err
	}
	for i, step := range c.Steps {
		leg := plan.Legs[i]
		if leg.Market.Normalize() != step.Market || leg.Side != step.Side {
			return fmt.Errorf("leg %d %s %s, cycle needs %s %s: %w",
				i, leg.Side, leg.Market, step.Side, step.Market, errLegMismatch)
		}
	}
	return nil
}

// liveProfit walks the cycle at live top of book, starting from the quote
// amount the first leg commits. The plan is closed, so a first BUY spends
// qty*ask of the quote currency and a first SELL is already in it.
func (a *Arbiter) liveProfit(plan domain.ExecutionPlan, tobs []domain.TopOfBook) float64 {
	first := plan.Legs[0]
	start := first.Qty
	if first.Side == domain.SideBuy {
		start = first.Qty * tobs[0].AskPrice
	}
	held := start
	for i, leg := range plan.Legs {
		fee := a.fee(leg.Market)
		if leg.Side == domain.SideBuy {
			held = held / tobs[i].AskPrice * (1 - fee)
		} else {
			held = held * tobs[i].BidPrice * (1 - fee)
		}
	}
	return held - start
}

func (a *Arbiter) record(plan domain.ExecutionPlan, reply domain.ProposeReply, live float64, received time.Time) {
	decided := a.now()

	if c, ok := a.stats[reply.Reason]; ok {
		c.Add(1)
	}

	attrs := []any{
		slog.String("plan_id", plan.PlanID),
		slog.String("exchange", plan.Exchange),
		slog.Bool("accepted", reply.Accepted),
		slog.String("reason", reply.Reason),
		slog.Float64("expected_profit", plan.ExpectedProfitQuote),
		slog.Float64("live_profit", live),
		slog.Duration("latency", decided.Sub(received)),
	}
	if reply.Accepted {
		a.logger.Info("plan accepted", attrs...)
	} else {
		a.logger.Info("plan rejected", attrs...)
	}

	if a.sink == nil {
		return
	}
	created := plan.CreatedAt
	if created.IsZero() {
		created = received
	}
	a.sink.RecordDecision(domain.DecisionRecord{
		PlanID:              plan.PlanID,
		Exchange:            plan.Exchange,
		QuoteCcy:            plan.QuoteCcy,
		Legs:                plan.Legs,
		ExpectedProfitQuote: plan.ExpectedProfitQuote,
		LiveProfitQuote:     live,
		Accepted:            reply.Accepted,
		Reason:              reply.Reason,
		CreatedAt:           created,
		DecidedAt:           decided,
		Latency:             decided.Sub(received),
	})
}

// Publish proposes plan in-process, letting the arbiter serve as the
// scanner's publisher when both run in one process.
func (a *Arbiter) Publish(ctx context.Context, plan domain.ExecutionPlan) error {
	a.Propose(ctx, plan)
	return nil
}

// Stats returns the non-zero decision counts per reason.
func (a *Arbiter) Stats() map[string]uint64 {
	out := make(map[string]uint64, len(a.stats))
	for k, c := range a.stats {
		if n := c.Load(); n > 0 {
			out[k] = n
		}
	}
	return out
}

// Run sweeps expired plan ids until ctx is cancelled.
func (a *Arbiter) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			a.Sweep()
		}
	}
}

// Sweep forgets plan ids whose retention has run out and returns how many
// were dropped.
func (a *Arbiter) Sweep() int {
	n := a.dedup.Cleanup()
	if n > 0 {
		a.logger.Debug("swept plan ids", slog.Int("removed", n), slog.Int("retained", a.dedup.Len()))
	}
	return n
}
