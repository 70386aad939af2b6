package arbitrage

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/cyclearb/internal/cycle"
	"github.com/alanyoungcy/cyclearb/internal/domain"
)

// Detector runs the scanner whenever a book changes and on a fixed interval,
// and publishes the plans it emits.
type Detector struct {
	scanner   *Scanner
	books     BookReader
	cycles    *cycle.Registry
	publisher Publisher
	interval  time.Duration
	cooldown  time.Duration
	logger    *slog.Logger

	wake chan struct{}

	mu       sync.Mutex
	dirty    map[domain.MarketID]struct{}
	lastEmit map[string]time.Time
	now      func() time.Time
}

// DetectorConfig configures the detector.
type DetectorConfig struct {
	Scanner   *Scanner
	Books     BookReader
	Cycles    *cycle.Registry
	Publisher Publisher
	// Interval forces a full scan even without book updates; 0 disables it.
	Interval time.Duration
	// Cooldown suppresses re-emitting a plan for the same cycle.
	Cooldown time.Duration
	Logger   *slog.Logger
}

// NewDetector creates a detector.
func NewDetector(cfg DetectorConfig) *Detector {
	return &Detector{
		scanner:   cfg.Scanner,
		books:     cfg.Books,
		cycles:    cfg.Cycles,
		publisher: cfg.Publisher,
		interval:  cfg.Interval,
		cooldown:  cfg.Cooldown,
		logger:    cfg.Logger.With(slog.String("component", "arb_detector")),
		wake:      make(chan struct{}, 1),
		dirty:     make(map[domain.MarketID]struct{}),
		lastEmit:  make(map[string]time.Time),
		now:       time.Now,
	}
}

// Notify marks a market as changed. It never blocks; bursts of updates
// coalesce into one scan.
func (d *Detector) Notify(tob domain.TopOfBook) {
	d.mu.Lock()
	d.dirty[tob.Market] = struct{}{}
	d.mu.Unlock()
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Run scans until ctx is cancelled.
func (d *Detector) Run(ctx context.Context) error {
	d.logger.Info("arb detector started",
		slog.Int("cycles", d.cycles.Len()),
		slog.Duration("interval", d.interval),
	)
	defer d.logger.Info("arb detector stopped")

	var tick <-chan time.Time
	if d.interval > 0 {
		t := time.NewTicker(d.interval)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.wake:
			d.ScanOnce(ctx, d.cycles.Touching(d.drainDirty()...))
		case <-tick:
			d.ScanOnce(ctx, d.cycles.All())
		}
	}
}

func (d *Detector) drainDirty() []domain.MarketID {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]domain.MarketID, 0, len(d.dirty))
	for m := range d.dirty {
		out = append(out, m)
	}
	clear(d.dirty)
	return out
}

// ScanOnce scans cycles outside their cooldown and publishes the best plan.
// It reports whether a plan was published.
func (d *Detector) ScanOnce(ctx context.Context, cycles []cycle.Cycle) bool {
	if len(cycles) == 0 {
		return false
	}
	now := d.now()
	eligible := cycles[:0:0]
	d.mu.Lock()
	for _, c := range cycles {
		if last, ok := d.lastEmit[c.Key()]; ok && d.cooldown > 0 && now.Sub(last) < d.cooldown {
			continue
		}
		eligible = append(eligible, c)
	}
	d.mu.Unlock()

	plan, ev, ok := d.scanner.Scan(eligible, d.books)
	if !ok {
		return false
	}

	d.mu.Lock()
	d.lastEmit[ev.Cycle.Key()] = now
	d.mu.Unlock()

	d.logger.Info("found profitable cycle",
		slog.String("plan_id", plan.PlanID),
		slog.String("cycle", ev.Cycle.Path()),
		slog.Float64("rate", ev.Rate),
		slog.Float64("edge_bps", ev.EdgeBps),
		slog.Float64("notional", ev.Notional),
		slog.Float64("profit_quote", ev.Profit),
	)
	if err := d.publisher.Publish(ctx, plan); err != nil {
		d.logger.Warn("publish plan failed",
			slog.String("plan_id", plan.PlanID),
			slog.String("error", err.Error()),
		)
	}
	return true
}
