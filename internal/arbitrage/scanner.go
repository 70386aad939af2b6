// Package arbitrage finds profitable closed cycles across live order books
// and turns the best one into an execution plan.
package arbitrage

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/cyclearb/internal/cycle"
	"github.com/alanyoungcy/cyclearb/internal/domain"
)

// Scanner evaluates cycles and builds plans for the most profitable one.
type Scanner struct {
	params Params
	now    func() time.Time
	newID  func() string
}

// NewScanner returns a Scanner using params.
func NewScanner(params Params) *Scanner {
	return &Scanner{params: params, now: time.Now, newID: uuid.NewString}
}

// Params returns the scanner's thresholds.
func (s *Scanner) Params() Params { return s.params }

// Scan evaluates every cycle and returns a plan for the single highest-profit
// qualifying cycle. Equal profits go to the lower notional.
func (s *Scanner) Scan(cycles []cycle.Cycle, books BookReader) (domain.ExecutionPlan, Evaluation, bool) {
	var (
		best  Evaluation
		found bool
	)
	for _, c := range cycles {
		ev, ok := Evaluate(c, books, s.params)
		if !ok || !ev.Qualifies(s.params) {
			continue
		}
		if !found || better(ev, best) {
			best, found = ev, true
		}
	}
	if !found {
		return domain.ExecutionPlan{}, Evaluation{}, false
	}
	return s.plan(best), best, true
}

func better(a, b Evaluation) bool {
	const eps = 1e-9
	if math.Abs(a.Profit-b.Profit) > eps*math.Max(1, math.Abs(b.Profit)) {
		return a.Profit > b.Profit
	}
	return a.Notional < b.Notional
}

func (s *Scanner) plan(ev Evaluation) domain.ExecutionPlan {
	return domain.ExecutionPlan{
		PlanID:              s.newID(),
		Exchange:            ev.Cycle.Exchange,
		QuoteCcy:            ev.Cycle.Quote,
		Legs:                ev.Legs,
		ExpectedProfitQuote: ev.Profit,
		MaxSlippageBp:       s.params.MaxSlippageBp,
		ValidMs:             s.params.ValidMs,
		CreatedAt:           s.now(),
	}
}
