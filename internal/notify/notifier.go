// Package notify forwards arbiter decisions to chat channels. A Notifier is a
// journal decision sink: it receives decision batches and alerts on the
// outcomes operators subscribed to.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/cyclearb/internal/domain"
)

// Decision outcomes that can be subscribed to.
const (
	EventAccepted = "accepted"
	EventRejected = "rejected"
)

// maxDetailed is the number of decisions per batch sent individually; the
// rest of the batch is summarized in one message.
const maxDetailed = 5

// Sender delivers one message to a channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier sends decision alerts to every sender.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. An empty events list subscribes to
// accepted plans only.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.ToLower(strings.TrimSpace(e)); e != "" {
			allowed[e] = true
		}
	}
	if len(allowed) == 0 {
		allowed[EventAccepted] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

func (n *Notifier) Name() string { return "notify" }

// WriteDecisions alerts on the subscribed decisions of batch.
func (n *Notifier) WriteDecisions(ctx context.Context, batch []domain.DecisionRecord) error {
	var matched []domain.DecisionRecord
	for _, rec := range batch {
		if n.events[eventOf(rec)] {
			matched = append(matched, rec)
		}
	}
	if len(matched) == 0 {
		return nil
	}

	var errs []error
	for i, rec := range matched {
		if i == maxDetailed {
			title, msg := summarize(matched[i:])
			errs = append(errs, n.dispatch(ctx, title, msg))
			break
		}
		title, msg := format(rec)
		errs = append(errs, n.dispatch(ctx, title, msg))
	}
	return errors.Join(errs...)
}

func eventOf(rec domain.DecisionRecord) string {
	if rec.Accepted {
		return EventAccepted
	}
	return EventRejected
}

func format(rec domain.DecisionRecord) (string, string) {
	title := fmt.Sprintf("Plan %s %s", eventOf(rec), rec.PlanID)
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s: expected %.6f, live %.6f", rec.Exchange, rec.QuoteCcy, rec.ExpectedProfitQuote, rec.LiveProfitQuote)
	if !rec.Accepted {
		fmt.Fprintf(&sb, " (%s)", rec.Reason)
	}
	for _, leg := range rec.Legs {
		fmt.Fprintf(&sb, "\n%s %s %.8g @ %.8g", leg.Side, leg.Market.Symbol, leg.Qty, leg.LimitPrice)
	}
	return title, sb.String()
}

func summarize(rest []domain.DecisionRecord) (string, string) {
	var accepted int
	var profit float64
	for _, rec := range rest {
		if rec.Accepted {
			accepted++
			profit += rec.ExpectedProfitQuote
		}
	}
	return fmt.Sprintf("%d more decisions", len(rest)),
		fmt.Sprintf("%d accepted, %d rejected, expected profit %.6f", accepted, len(rest)-accepted, profit)
}

// dispatch sends to every sender; one failure does not stop the others.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
