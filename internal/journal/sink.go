// Package journal batches arbiter decisions, scanner plans and ingest
// resync events off the hot path and fans them out to storage and messaging
// sinks.
package journal

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/alanyoungcy/cyclearb/internal/domain"
)

// DecisionSink receives batches of decisions in decision order.
type DecisionSink interface {
	Name() string
	WriteDecisions(ctx context.Context, batch []domain.DecisionRecord) error
}

// PlanSink receives every emitted plan.
type PlanSink interface {
	Name() string
	WritePlan(ctx context.Context, plan domain.ExecutionPlan) error
}

// Envelope wraps every event published on a signal bus.
type Envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Envelope types.
const (
	TypeDecision = "decision"
	TypePlan     = "plan"
)

// StoreSink writes decision batches to a DecisionStore.
type StoreSink struct {
	Store domain.DecisionStore
}

func (s StoreSink) Name() string { return "store" }

func (s StoreSink) WriteDecisions(ctx context.Context, batch []domain.DecisionRecord) error {
	return s.Store.InsertBatch(ctx, batch)
}

// BusSink publishes decisions and plans on a SignalBus as JSON envelopes.
type BusSink struct {
	Bus domain.SignalBus
}

func (s BusSink) Name() string { return "bus" }

func (s BusSink) WriteDecisions(ctx context.Context, batch []domain.DecisionRecord) error {
	for _, rec := range batch {
		if err := s.publish(ctx, domain.ChannelDecisions, Envelope{Type: TypeDecision, Payload: rec}); err != nil {
			return err
		}
	}
	return nil
}

func (s BusSink) WritePlan(ctx context.Context, plan domain.ExecutionPlan) error {
	return s.publish(ctx, domain.ChannelPlans, Envelope{Type: TypePlan, Payload: plan})
}

func (s BusSink) publish(ctx context.Context, channel string, env Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("journal: encode %s: %w", env.Type, err)
	}
	return s.Bus.Publish(ctx, channel, payload)
}
