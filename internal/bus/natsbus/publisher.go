// Package natsbus publishes plans and decisions to NATS subjects.
package natsbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/alanyoungcy/cyclearb/internal/domain"
)

// Config holds the NATS connection settings.
type Config struct {
	URL            string
	Name           string
	SubjectPrefix  string
	MaxReconnects  int
	ReconnectWait  time.Duration
	ConnectTimeout time.Duration
}

// Publisher sends JSON-encoded plans to <prefix>.plans.<exchange> and
// decisions to <prefix>.decisions.<exchange>.<accepted|rejected>.
type Publisher struct {
	nc        *nats.Conn
	prefix    string
	connected atomic.Bool
	logger    *slog.Logger
}

// Connect dials NATS. The client keeps reconnecting in the background after
// a disconnect.
func Connect(cfg Config, logger *slog.Logger) (*Publisher, error) {
	if cfg.Name == "" {
		cfg.Name = "cyclearb"
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 2 * time.Second
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	p := &Publisher{
		prefix: cfg.SubjectPrefix,
		logger: logger.With(slog.String("component", "nats")),
	}
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.Timeout(cfg.ConnectTimeout),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.RetryOnFailedConnect(true),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			p.connected.Store(false)
			attrs := []any{}
			if err != nil {
				attrs = append(attrs, slog.String("error", err.Error()))
			}
			p.logger.Warn("nats disconnected", attrs...)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			p.connected.Store(true)
			p.logger.Info("nats reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			p.connected.Store(false)
		}),
	}
	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats: connect %s: %w", cfg.URL, err)
	}
	p.nc = nc
	p.connected.Store(nc.IsConnected())
	p.logger.Info("nats connected", slog.String("url", cfg.URL), slog.Bool("connected", nc.IsConnected()))
	return p, nil
}

// Subject joins parts under the configured prefix.
func (p *Publisher) Subject(parts ...string) string {
	return subject(p.prefix, parts...)
}

func subject(prefix string, parts ...string) string {
	s := prefix
	for _, part := range parts {
		if s == "" {
			s = part
			continue
		}
		s += "." + part
	}
	return s
}

func decisionSubject(prefix string, rec domain.DecisionRecord) string {
	outcome := "rejected"
	if rec.Accepted {
		outcome = "accepted"
	}
	return subject(prefix, "decisions", rec.Exchange, outcome)
}

func (p *Publisher) publishJSON(subj string, v any) error {
	if !p.connected.Load() {
		return fmt.Errorf("nats: not connected")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("nats: encode %s: %w", subj, err)
	}
	if err := p.nc.Publish(subj, data); err != nil {
		return fmt.Errorf("nats: publish %s: %w", subj, err)
	}
	return nil
}

func (p *Publisher) Name() string { return "nats" }

// Health reports an error while the connection is down.
func (p *Publisher) Health(context.Context) error {
	if !p.connected.Load() {
		return fmt.Errorf("nats: not connected")
	}
	return nil
}

// WritePlan publishes one plan.
func (p *Publisher) WritePlan(_ context.Context, plan domain.ExecutionPlan) error {
	return p.publishJSON(p.Subject("plans", plan.Exchange), plan)
}

// WriteDecisions publishes each decision and flushes once per batch.
func (p *Publisher) WriteDecisions(ctx context.Context, batch []domain.DecisionRecord) error {
	for _, rec := range batch {
		if err := p.publishJSON(decisionSubject(p.prefix, rec), rec); err != nil {
			return err
		}
	}
	if err := p.nc.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("nats: flush: %w", err)
	}
	return nil
}

// Close drains pending messages and closes the connection.
func (p *Publisher) Close() error {
	if p.nc == nil || p.nc.IsClosed() {
		return nil
	}
	if err := p.nc.Drain(); err != nil {
		p.nc.Close()
		return fmt.Errorf("nats: drain: %w", err)
	}
	return nil
}
