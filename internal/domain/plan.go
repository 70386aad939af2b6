package domain

import (
	"fmt"
	"strings"
	"time"
)

// Side is the direction of one plan leg.
type Side int8

const (
	SideUnspecified Side = iota
	SideBuy
	SideSell
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "BUY"
	case SideSell:
		return "SELL"
	default:
		return "UNSPECIFIED"
	}
}

// ParseSide maps "BUY" and "SELL" (any case) to a Side.
func ParseSide(s string) Side {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY":
		return SideBuy
	case "SELL":
		return SideSell
	default:
		return SideUnspecified
	}
}

// MarshalText encodes the side by name.
func (s Side) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a side name.
func (s *Side) UnmarshalText(text []byte) error {
	*s = ParseSide(string(text))
	return nil
}

// Leg is one order of an execution plan.
type Leg struct {
	Market     MarketID `json:"market"`
	Side       Side     `json:"side"`
	Qty        float64  `json:"qty"`
	LimitPrice float64  `json:"limit_price"`
}

// ExecutionPlan is a candidate multi-leg cycle that starts and ends in
// QuoteCcy. ExpectedProfitQuote is net of per-leg fees.
type ExecutionPlan struct {
	PlanID              string    `json:"plan_id"`
	Exchange            string    `json:"exchange"`
	QuoteCcy            string    `json:"quote_ccy"`
	Legs                []Leg     `json:"legs"`
	ExpectedProfitQuote float64   `json:"expected_profit_quote"`
	MaxSlippageBp       float64   `json:"max_slippage_bp"`
	ValidMs             uint32    `json:"valid_ms"`
	CreatedAt           time.Time `json:"created_at"`
}

// ExpiresAt is the last instant at which the plan may still be accepted.
func (p ExecutionPlan) ExpiresAt() time.Time {
	return p.CreatedAt.Add(time.Duration(p.ValidMs) * time.Millisecond)
}

// Validate checks the structural fields every plan must carry.
func (p ExecutionPlan) Validate() error {
	if p.PlanID == "" {
		return fmt.Errorf("%w: missing plan_id", ErrInvalidPlan)
	}
	if len(p.Legs) == 0 {
		return fmt.Errorf("%w: plan %s has no legs", ErrInvalidPlan, p.PlanID)
	}
	for i, leg := range p.Legs {
		if !leg.Market.Valid() {
			return fmt.Errorf("%w: leg %d has no market", ErrInvalidPlan, i)
		}
		if leg.Side != SideBuy && leg.Side != SideSell {
			return fmt.Errorf("%w: leg %d side %s", ErrInvalidPlan, i, leg.Side)
		}
	}
	return nil
}

// Arbiter decision reasons.
const (
	ReasonOK                   = "ok"
	ReasonDuplicatePlan        = "duplicate plan"
	ReasonExpired              = "expired"
	ReasonUnknownOrStaleMarket = "unknown or stale market"
	ReasonSlippageExceeded     = "slippage exceeded"
	ReasonProfitBelowThreshold = "profit below threshold"
	ReasonInvalidPlan          = "invalid plan"
)

// ProposeReply is the single answer to one plan submission.
type ProposeReply struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason"`
}

// Accept returns an accepting reply.
func Accept() ProposeReply { return ProposeReply{Accepted: true, Reason: ReasonOK} }

// Reject returns a rejecting reply with the given reason.
func Reject(reason string) ProposeReply { return ProposeReply{Reason: reason} }

// DecisionRecord is the journal entry written for every arbiter decision.
type DecisionRecord struct {
	PlanID              string        `json:"plan_id"`
	Exchange            string        `json:"exchange"`
	QuoteCcy            string        `json:"quote_ccy"`
	Legs                []Leg         `json:"legs"`
	ExpectedProfitQuote float64       `json:"expected_profit_quote"`
	LiveProfitQuote     float64       `json:"live_profit_quote"`
	Accepted            bool          `json:"accepted"`
	Reason              string        `json:"reason"`
	CreatedAt           time.Time     `json:"created_at"`
	DecidedAt           time.Time     `json:"decided_at"`
	Latency             time.Duration `json:"latency_ns"`
}
