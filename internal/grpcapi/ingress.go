package grpcapi

import (
	"errors"
	"io"
	"log/slog"
	"sort"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/alanyoungcy/cyclearb/internal/domain"
	"github.com/alanyoungcy/cyclearb/internal/grpcapi/wire"
	"github.com/alanyoungcy/cyclearb/internal/ingest"
)

// DeltaApplier applies one delta to the book registry.
type DeltaApplier interface {
	Apply(d domain.BookDelta) error
}

// IngressServer implements md.OrderBookIngress on top of an ingest engine.
type IngressServer struct {
	engine DeltaApplier
	logger *slog.Logger
}

// NewIngressServer returns an IngressServer.
func NewIngressServer(engine DeltaApplier, logger *slog.Logger) *IngressServer {
	return &IngressServer{
		engine: engine,
		logger: logger.With(slog.String("component", "ingress")),
	}
}

// PushDeltas applies deltas in arrival order until the client closes the
// stream, then replies with per-outcome counts and the markets that still
// need a snapshot. A malformed delta aborts the stream with InvalidArgument;
// deltas applied before it stay applied.
func (s *IngressServer) PushDeltas(stream PushDeltasStream) error {
	var ack wire.Ack
	pending := make(map[domain.MarketID]struct{})

	for {
		msg, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			ack.Ok = true
			ack.Resync = resyncList(pending)
			s.logger.Debug("stream closed",
				slog.Uint64("accepted", ack.Accepted),
				slog.Uint64("rejected", ack.Rejected),
			)
			return stream.SendAndClose(&ack)
		}
		if err != nil {
			s.logger.Warn("stream aborted",
				slog.Uint64("accepted", ack.Accepted),
				slog.String("error", err.Error()),
			)
			return err
		}

		delta, err := deltaFromWire(msg)
		if err != nil {
			return status.Errorf(codes.InvalidArgument, "ingress: %v", err)
		}

		err = s.engine.Apply(delta)
		switch ingest.Classify(err) {
		case ingest.OutcomeAccepted:
			ack.Accepted++
			if delta.IsSnapshot {
				delete(pending, delta.Market)
			}
			continue
		case ingest.OutcomeAwaitingSnapshot:
			ack.AwaitingSnapshot++
			pending[delta.Market] = struct{}{}
		case ingest.OutcomeDuplicateOrOld:
			ack.DuplicateOrOld++
		case ingest.OutcomeSequenceGap:
			ack.SequenceGap++
			pending[delta.Market] = struct{}{}
		default:
			return status.Errorf(codes.InvalidArgument, "ingress: %v", err)
		}
		ack.Rejected++
		s.logger.Debug("delta rejected",
			slog.String("market", delta.Market.String()),
			slog.Uint64("sequence", delta.Sequence),
			slog.String("reason", err.Error()),
		)
	}
}

func resyncList(pending map[domain.MarketID]struct{}) []wire.MarketID {
	out := make([]wire.MarketID, 0, len(pending))
	for m := range pending {
		out = append(out, wire.MarketID{Exchange: m.Exchange, Symbol: m.Symbol})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Exchange != out[j].Exchange {
			return out[i].Exchange < out[j].Exchange
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out
}
