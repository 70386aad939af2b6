package grpcapi

import (
	"context"
	"log/slog"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/alanyoungcy/cyclearb/internal/domain"
	"github.com/alanyoungcy/cyclearb/internal/grpcapi/wire"
)

// Proposer decides on one plan.
type Proposer interface {
	Propose(ctx context.Context, plan domain.ExecutionPlan) domain.ProposeReply
}

// ExecutorServer implements exec.Executor on top of an arbiter.
type ExecutorServer struct {
	arbiter Proposer
	logger  *slog.Logger
}

// NewExecutorServer returns an ExecutorServer.
func NewExecutorServer(arbiter Proposer, logger *slog.Logger) *ExecutorServer {
	return &ExecutorServer{
		arbiter: arbiter,
		logger:  logger.With(slog.String("component", "executor_rpc")),
	}
}

// ProposePlan returns the arbiter's decision. Only malformed requests fail
// the call; every rejection is a reply.
func (s *ExecutorServer) ProposePlan(ctx context.Context, req *wire.ProposePlanRequest) (*wire.ProposeReply, error) {
	plan, err := planFromWire(req)
	if err != nil {
		s.logger.Debug("malformed plan", slog.String("plan_id", req.PlanID), slog.String("error", err.Error()))
		return nil, status.Errorf(codes.InvalidArgument, "executor: %v", err)
	}
	reply := s.arbiter.Propose(ctx, plan)
	return &wire.ProposeReply{Accepted: reply.Accepted, Reason: reply.Reason}, nil
}
