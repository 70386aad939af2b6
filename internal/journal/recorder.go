package journal

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/cyclearb/internal/domain"
	"github.com/alanyoungcy/cyclearb/internal/ingest"
)

// Audit event names.
const (
	EventResync    = "ingest.resync"
	EventSinkError = "journal.sink_error"
)

// Config controls the Recorder's buffering.
type Config struct {
	BufferSize     int
	BatchSize      int
	FlushInterval  time.Duration
	RecentCapacity int
	// SinkTimeout bounds one sink write.
	SinkTimeout time.Duration
}

func (c *Config) defaults() {
	if c.BufferSize <= 0 {
		c.BufferSize = 4096
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 256
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = time.Second
	}
	if c.RecentCapacity <= 0 {
		c.RecentCapacity = 512
	}
	if c.SinkTimeout <= 0 {
		c.SinkTimeout = 5 * time.Second
	}
}

type entry struct {
	decision *domain.DecisionRecord
	plan     *domain.ExecutionPlan
	resync   *ingest.ResyncEvent
}

// Stats counts Recorder activity.
type Stats struct {
	Decisions  uint64 `json:"decisions"`
	Plans      uint64 `json:"plans"`
	Resyncs    uint64 `json:"resyncs"`
	Dropped    uint64 `json:"dropped"`
	Flushes    uint64 `json:"flushes"`
	SinkErrors uint64 `json:"sink_errors"`
}

// Recorder accepts events without blocking and delivers them from a single
// goroutine. When the buffer is full new events are dropped and counted.
type Recorder struct {
	cfg       Config
	in        chan entry
	decisions []DecisionSink
	plans     []PlanSink
	audit     domain.AuditStore
	logger    *slog.Logger

	recentMu sync.RWMutex
	recent   []domain.DecisionRecord
	next     int
	full     bool

	nDecisions atomic.Uint64
	nPlans     atomic.Uint64
	nResyncs   atomic.Uint64
	dropped    atomic.Uint64
	flushes    atomic.Uint64
	sinkErrors atomic.Uint64
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithDecisionSinks adds sinks for decision batches.
func WithDecisionSinks(sinks ...DecisionSink) Option {
	return func(r *Recorder) { r.decisions = append(r.decisions, sinks...) }
}

// WithPlanSinks adds sinks for emitted plans.
func WithPlanSinks(sinks ...PlanSink) Option {
	return func(r *Recorder) { r.plans = append(r.plans, sinks...) }
}

// WithAudit writes resync events and sink failures to an audit log.
func WithAudit(audit domain.AuditStore) Option {
	return func(r *Recorder) { r.audit = audit }
}

// NewRecorder creates a Recorder. Call Run to start delivery.
func NewRecorder(cfg Config, logger *slog.Logger, opts ...Option) *Recorder {
	cfg.defaults()
	r := &Recorder{
		cfg:    cfg,
		in:     make(chan entry, cfg.BufferSize),
		recent: make([]domain.DecisionRecord, cfg.RecentCapacity),
		logger: logger.With(slog.String("component", "journal")),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Recorder) offer(e entry) {
	select {
	case r.in <- e:
	default:
		if r.dropped.Add(1)%1000 == 1 {
			r.logger.Warn("journal buffer full, dropping events", slog.Uint64("dropped", r.dropped.Load()))
		}
	}
}

// RecordDecision keeps rec in the recent ring and queues it for the sinks.
func (r *Recorder) RecordDecision(rec domain.DecisionRecord) {
	r.nDecisions.Add(1)
	r.remember(rec)
	r.offer(entry{decision: &rec})
}

// Publish queues plan for the plan sinks. It never blocks and never fails.
func (r *Recorder) Publish(_ context.Context, plan domain.ExecutionPlan) error {
	r.nPlans.Add(1)
	r.offer(entry{plan: &plan})
	return nil
}

// RecordResync queues an ingest resync event for the audit log.
func (r *Recorder) RecordResync(evt ingest.ResyncEvent) {
	if r.audit == nil {
		return
	}
	r.nResyncs.Add(1)
	r.offer(entry{resync: &evt})
}

func (r *Recorder) remember(rec domain.DecisionRecord) {
	r.recentMu.Lock()
	r.recent[r.next] = rec
	r.next = (r.next + 1) % len(r.recent)
	if r.next == 0 {
		r.full = true
	}
	r.recentMu.Unlock()
}

// Recent returns up to limit decisions, newest first.
func (r *Recorder) Recent(limit int) []domain.DecisionRecord {
	r.recentMu.RLock()
	defer r.recentMu.RUnlock()

	n := r.next
	if r.full {
		n = len(r.recent)
	}
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]domain.DecisionRecord, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (r.next - i + len(r.recent)) % len(r.recent)
		out = append(out, r.recent[idx])
	}
	return out
}

// Stats returns a snapshot of the counters.
func (r *Recorder) Stats() Stats {
	return Stats{
		Decisions:  r.nDecisions.Load(),
		Plans:      r.nPlans.Load(),
		Resyncs:    r.nResyncs.Load(),
		Dropped:    r.dropped.Load(),
		Flushes:    r.flushes.Load(),
		SinkErrors: r.sinkErrors.Load(),
	}
}

// Run delivers queued events until ctx is cancelled, then drains what is
// already buffered.
func (r *Recorder) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]domain.DecisionRecord, 0, r.cfg.BatchSize)
	flush := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		r.writeDecisions(ctx, batch)
		batch = make([]domain.DecisionRecord, 0, r.cfg.BatchSize)
	}
	handle := func(ctx context.Context, e entry) {
		switch {
		case e.decision != nil:
			batch = append(batch, *e.decision)
			if len(batch) >= r.cfg.BatchSize {
				flush(ctx)
			}
		case e.plan != nil:
			r.writePlan(ctx, *e.plan)
		case e.resync != nil:
			r.writeResync(ctx, *e.resync)
		}
	}

	for {
		select {
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.Background(), r.cfg.SinkTimeout)
			defer cancel()
			for {
				select {
				case e := <-r.in:
					handle(drainCtx, e)
				default:
					flush(drainCtx)
					return nil
				}
			}
		case e := <-r.in:
			handle(ctx, e)
		case <-ticker.C:
			flush(ctx)
		}
	}
}

func (r *Recorder) writeDecisions(ctx context.Context, batch []domain.DecisionRecord) {
	r.flushes.Add(1)
	for _, sink := range r.decisions {
		sctx, cancel := context.WithTimeout(ctx, r.cfg.SinkTimeout)
		err := sink.WriteDecisions(sctx, batch)
		cancel()
		if err != nil {
			r.sinkFailed(ctx, sink.Name(), len(batch), err)
		}
	}
}

func (r *Recorder) writePlan(ctx context.Context, plan domain.ExecutionPlan) {
	for _, sink := range r.plans {
		sctx, cancel := context.WithTimeout(ctx, r.cfg.SinkTimeout)
		err := sink.WritePlan(sctx, plan)
		cancel()
		if err != nil {
			r.sinkFailed(ctx, sink.Name(), 1, err)
		}
	}
}

func (r *Recorder) writeResync(ctx context.Context, evt ingest.ResyncEvent) {
	sctx, cancel := context.WithTimeout(ctx, r.cfg.SinkTimeout)
	defer cancel()
	err := r.audit.Log(sctx, EventResync, map[string]any{
		"market":   evt.Market.String(),
		"reason":   string(evt.Reason),
		"expected": evt.Expected,
		"got":      evt.Got,
		"at":       evt.At,
	})
	if err != nil {
		r.sinkErrors.Add(1)
		r.logger.Warn("audit write failed", slog.String("error", err.Error()))
	}
}

func (r *Recorder) sinkFailed(ctx context.Context, sink string, n int, err error) {
	r.sinkErrors.Add(1)
	r.logger.Warn("sink write failed",
		slog.String("sink", sink),
		slog.Int("events", n),
		slog.String("error", err.Error()),
	)
	if r.audit == nil {
		return
	}
	sctx, cancel := context.WithTimeout(ctx, r.cfg.SinkTimeout)
	defer cancel()
	_ = r.audit.Log(sctx, EventSinkError, map[string]any{
		"sink":   sink,
		"events": n,
		"error":  err.Error(),
	})
}
