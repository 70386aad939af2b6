package domain

import (
	"context"
	"time"
)

// Pub/sub channels used for decision and plan events.
const (
	ChannelPlans     = "cyclearb:plans"
	ChannelDecisions = "cyclearb:decisions"
)

// BookMirror keeps a shared copy of every market's top of book.
type BookMirror interface {
	SetTopOfBook(ctx context.Context, tob TopOfBook) error
	GetTopOfBook(ctx context.Context, market MarketID) (TopOfBook, error)
}

// PlanClaimer claims a plan id across processes. Claim reports false when the
// id was already claimed. ttl zero means the claim never expires.
type PlanClaimer interface {
	Claim(ctx context.Context, planID string, ttl time.Duration) (bool, error)
}

// SignalBus provides pub/sub.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
