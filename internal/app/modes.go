package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/cyclearb/internal/arbitrage"
	"github.com/alanyoungcy/cyclearb/internal/cycle"
	"github.com/alanyoungcy/cyclearb/internal/domain"
	"github.com/alanyoungcy/cyclearb/internal/executor"
	"github.com/alanyoungcy/cyclearb/internal/grpcapi"
	"github.com/alanyoungcy/cyclearb/internal/ingest"
	"github.com/alanyoungcy/cyclearb/internal/journal"
	"github.com/alanyoungcy/cyclearb/internal/server"
	"github.com/alanyoungcy/cyclearb/internal/server/handler"
	"github.com/alanyoungcy/cyclearb/internal/server/ws"
)

// core is the in-memory pipeline shared by every mode.
type core struct {
	engine   *ingest.Engine
	parser   *cycle.SymbolParser
	registry *cycle.Registry
	recorder *journal.Recorder
	arbiter  *executor.Arbiter   // nil in finder mode
	detector *arbitrage.Detector // nil when the scanner is off
}

// FullMode runs ingestion, the scanner and the arbiter in one process. Plans
// reach the arbiter in-process; the executor service is still served for
// external finders.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	c, err := a.buildCore(deps, nil)
	if err != nil {
		return fmt.Errorf("full mode: %w", err)
	}
	return a.serve(ctx, deps, c)
}

// FinderMode runs ingestion and the scanner, proposing plans to a remote
// executor.
func (a *App) FinderMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting finder mode",
		slog.String("executor", a.cfg.Executor.RemoteAddr),
	)

	if !a.cfg.RunsScanner() {
		a.logger.WarnContext(ctx, "scanner.enabled is false; finder will only ingest")
	}

	// grpc.NewClient connects lazily, so a down executor does not block
	// startup; proposals fail until it is reachable.
	conn, err := grpcapi.Dial(a.cfg.Executor.RemoteAddr)
	if err != nil {
		return fmt.Errorf("finder mode: %w", err)
	}
	a.closers = append(a.closers, func() { _ = conn.Close() })
	remote := grpcapi.NewExecutorClient(conn, a.cfg.Executor.CallTimeout.Duration, a.logger)

	c, err := a.buildCore(deps, remote)
	if err != nil {
		return fmt.Errorf("finder mode: %w", err)
	}
	return a.serve(ctx, deps, c)
}

// ExecutorMode runs ingestion and the arbiter, accepting plans over gRPC.
func (a *App) ExecutorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting executor mode")

	c, err := a.buildCore(deps, nil)
	if err != nil {
		return fmt.Errorf("executor mode: %w", err)
	}
	return a.serve(ctx, deps, c)
}

// buildCore creates the book engine, cycle registry, journal and, depending
// on mode, the arbiter and scanner. Plans go to remote when set, otherwise
// to the in-process arbiter; the journal sees them either way.
func (a *App) buildCore(deps *Dependencies, remote arbitrage.Publisher) (*core, error) {
	cfg := a.cfg
	c := &core{
		engine:   ingest.NewEngine(a.logger, ingest.WithMaxDepth(cfg.Ingest.MaxDepth)),
		parser:   a.buildParser(),
		registry: cycle.NewRegistry(),
	}

	c.recorder = journal.NewRecorder(journal.Config{
		BufferSize:     cfg.Journal.BufferSize,
		BatchSize:      cfg.Journal.BatchSize,
		FlushInterval:  cfg.Journal.FlushInterval.Duration,
		RecentCapacity: cfg.Journal.RecentCapacity,
	}, a.logger,
		journal.WithDecisionSinks(deps.DecisionSinks()...),
		journal.WithPlanSinks(deps.PlanSinks()...),
		journal.WithAudit(deps.AuditStore),
	)
	c.engine.OnResync(c.recorder.RecordResync)
	if deps.BookMirror != nil {
		c.engine.OnUpdate(deps.BookMirror.Offer)
	}

	fees := feeSchedule(cfg.Fees.DefaultTakerBps, cfg.Fees.Exchanges, cfg.Fees.Quotes)

	if cfg.RunsArbiter() {
		opts := []executor.Option{executor.WithSink(c.recorder)}
		if deps.Claimer != nil {
			opts = append(opts, executor.WithClaimer(deps.Claimer))
		}
		c.arbiter = executor.NewArbiter(c.engine, c.parser, takerFee(c.parser, fees), executor.Config{
			MinProfitQuote:  cfg.Arbiter.MinProfitQuote,
			Retention:       cfg.Arbiter.Retention.Duration,
			CleanupInterval: cfg.Arbiter.CleanupInterval.Duration,
			ClaimTimeout:    cfg.Arbiter.ClaimTimeout.Duration,
		}, a.logger, opts...)
	}

	if !cfg.RunsScanner() {
		return c, nil
	}

	for _, cc := range cfg.Scanner.Cycles {
		cyc, err := cycle.Resolve(strings.ToUpper(cc.Exchange), strings.ToUpper(cc.Quote), cc.Markets, c.parser)
		if err != nil {
			return nil, fmt.Errorf("scanner cycle %s %v: %w", cc.Exchange, cc.Markets, err)
		}
		c.registry.Add(cyc)
	}
	if cfg.Scanner.AutoDiscover {
		index := cycle.NewIndex(c.parser, cfg.Scanner.StartCurrencies, a.logger)
		c.engine.OnNewMarket(func(m domain.MarketID) {
			for _, cyc := range index.AddMarket(m) {
				c.registry.Add(cyc)
			}
		})
	}

	target := remote
	if target == nil {
		if c.arbiter == nil {
			return nil, fmt.Errorf("scanner needs an arbiter or a remote executor")
		}
		target = c.arbiter
	}

	c.detector = arbitrage.NewDetector(arbitrage.DetectorConfig{
		Scanner: arbitrage.NewScanner(arbitrage.Params{
			Fees:               fees,
			MinProfitQuote:     cfg.Scanner.MinProfitQuote,
			MinProfitBps:       cfg.Scanner.MinProfitBps,
			MaxNotionalQuote:   cfg.Scanner.MaxNotionalQuote,
			MaxNotionalByQuote: upperKeys(cfg.Scanner.MaxNotionalByQuote),
			LimitMarginBps:     cfg.Scanner.LimitMarginBps,
			MaxSlippageBp:      cfg.Scanner.MaxSlippageBp,
			ValidMs:            uint32(cfg.Scanner.ValidMs),
		}),
		Books:     c.engine,
		Cycles:    c.registry,
		Publisher: arbitrage.Fanout{target, c.recorder},
		Interval:  cfg.Scanner.Interval.Duration,
		Cooldown:  cfg.Scanner.Cooldown.Duration,
		Logger:    a.logger,
	})
	c.engine.OnUpdate(c.detector.Notify)
	return c, nil
}

// serve starts every long-running component of c and blocks until one fails
// or ctx is cancelled.
func (a *App) serve(ctx context.Context, deps *Dependencies, c *core) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return c.recorder.Run(ctx) })
	if deps.BookMirror != nil {
		g.Go(func() error { return deps.BookMirror.Run(ctx) })
	}
	if c.detector != nil {
		g.Go(func() error { return c.detector.Run(ctx) })
	}
	if c.arbiter != nil {
		g.Go(func() error { return c.arbiter.Run(ctx) })
	}

	ingress := grpcapi.NewServer(grpcapi.ServerConfig{
		Addr:            a.cfg.Ingress.Addr,
		MaxRecvMsgBytes: a.cfg.Ingress.MaxRecvMsgBytes,
		ShutdownTimeout: a.cfg.Ingress.ShutdownTimeout.Duration,
	}, a.logger)
	ingress.RegisterIngress(grpcapi.NewIngressServer(c.engine, a.logger))

	if c.arbiter != nil {
		execSvc := grpcapi.NewExecutorServer(c.arbiter, a.logger)
		if a.cfg.Executor.ListenAddr == a.cfg.Ingress.Addr {
			ingress.RegisterExecutor(execSvc)
		} else {
			execSrv := grpcapi.NewServer(grpcapi.ServerConfig{
				Addr:            a.cfg.Executor.ListenAddr,
				ShutdownTimeout: a.cfg.Ingress.ShutdownTimeout.Duration,
			}, a.logger)
			execSrv.RegisterExecutor(execSvc)
			g.Go(func() error { return execSrv.Run(ctx) })
		}
	}
	g.Go(func() error { return ingress.Run(ctx) })

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, c)
	}

	return g.Wait()
}

// startHTTPServer adds the status API and WebSocket hub to g.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, c *core) {
	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: a.startedAt,
		Cycles:    c.registry.Len,
	})
	g.Go(func() error { return hub.Run(ctx) })

	var counts handler.ReasonCounter
	if c.arbiter != nil {
		counts = c.arbiter
	}
	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
	}, server.Handlers{
		Health:    handler.NewHealthHandler(a.cfg.Mode, deps.Checks, a.logger),
		Books:     handler.NewBookHandler(c.engine, c.registry, a.logger),
		Decisions: handler.NewDecisionHandler(c.recorder, counts, deps.DecisionStore, deps.AuditStore, a.logger),
	}, hub, a.logger)
	g.Go(func() error { return srv.Run(ctx) })
}

func (a *App) buildParser() *cycle.SymbolParser {
	return cycle.NewSymbolParser(a.cfg.Scanner.QuoteAssets)
}

// takerFee resolves a market's fee from its parsed quote currency.
func takerFee(parser *cycle.SymbolParser, fees domain.FeeSchedule) executor.FeeFunc {
	return func(m domain.MarketID) float64 {
		quote := ""
		if pair, err := parser.Parse(m.Symbol); err == nil {
			quote = pair.Quote
		}
		return fees.Rate(m.Exchange, quote)
	}
}

// feeSchedule upper-cases the configured exchange and currency names to
// match normalized market ids.
func feeSchedule(def float64, exchanges map[string]float64, quotes map[string]map[string]float64) domain.FeeSchedule {
	fs := domain.FeeSchedule{DefaultBps: def, Exchange: upperKeys(exchanges)}
	if len(quotes) > 0 {
		fs.Quote = make(map[string]map[string]float64, len(quotes))
		for ex, q := range quotes {
			fs.Quote[strings.ToUpper(ex)] = upperKeys(q)
		}
	}
	return fs
}

func upperKeys(m map[string]float64) map[string]float64 {
	if m == nil {
		return nil
	}
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[strings.ToUpper(k)] = v
	}
	return out
}
