package arbitrage

import (
	"context"
	"errors"
	"log/slog"

	"github.com/alanyoungcy/cyclearb/internal/domain"
)

// Publisher hands an emitted plan to its consumer.
type Publisher interface {
	Publish(ctx context.Context, plan domain.ExecutionPlan) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, plan domain.ExecutionPlan) error

func (f PublisherFunc) Publish(ctx context.Context, plan domain.ExecutionPlan) error {
	return f(ctx, plan)
}

// LogPublisher logs plans and does nothing else.
type LogPublisher struct {
	logger *slog.Logger
}

// NewLogPublisher returns a LogPublisher.
func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger.With(slog.String("component", "plan_log"))}
}

func (p *LogPublisher) Publish(ctx context.Context, plan domain.ExecutionPlan) error {
	p.logger.InfoContext(ctx, "plan",
		slog.String("plan_id", plan.PlanID),
		slog.String("exchange", plan.Exchange),
		slog.String("quote", plan.QuoteCcy),
		slog.Int("legs", len(plan.Legs)),
		slog.Float64("expected_profit", plan.ExpectedProfitQuote),
	)
	return nil
}

// Fanout publishes to every publisher and joins their errors.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, plan domain.ExecutionPlan) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, plan); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
