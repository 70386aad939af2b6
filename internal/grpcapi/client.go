package grpcapi

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/alanyoungcy/cyclearb/internal/domain"
	"github.com/alanyoungcy/cyclearb/internal/grpcapi/wire"
)

// Dial opens a client connection that speaks the wire codec. Extra options
// are appended after the defaults.
func Dial(addr string, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	base := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(wire.Codec{})),
	}
	conn, err := grpc.NewClient(addr, append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("grpc: dial %s: %w", addr, err)
	}
	return conn, nil
}

// IngressClient pushes deltas to an ingress server.
type IngressClient struct {
	cc grpc.ClientConnInterface
}

// NewIngressClient wraps an open connection.
func NewIngressClient(cc grpc.ClientConnInterface) *IngressClient {
	return &IngressClient{cc: cc}
}

// Push streams deltas in order and returns the server's acknowledgment.
func (c *IngressClient) Push(ctx context.Context, deltas []domain.BookDelta) (*wire.Ack, error) {
	stream, err := c.cc.NewStream(ctx, &IngressServiceDesc.Streams[0], PushDeltasMethod)
	if err != nil {
		return nil, fmt.Errorf("ingress client: open stream: %w", err)
	}
	cs := &grpc.GenericClientStream[wire.OrderBookDelta, wire.Ack]{ClientStream: stream}
	for _, d := range deltas {
		if err := cs.Send(DeltaToWire(d)); err != nil {
			return nil, fmt.Errorf("ingress client: send %s seq %d: %w", d.Market, d.Sequence, err)
		}
	}
	ack, err := cs.CloseAndRecv()
	if err != nil {
		return nil, fmt.Errorf("ingress client: close: %w", err)
	}
	return ack, nil
}

// ExecutorClient proposes plans to a remote executor. It satisfies the
// arbitrage publisher interface.
type ExecutorClient struct {
	cc      grpc.ClientConnInterface
	timeout time.Duration
	logger  *slog.Logger
}

// NewExecutorClient wraps an open connection. timeout bounds each call.
func NewExecutorClient(cc grpc.ClientConnInterface, timeout time.Duration, logger *slog.Logger) *ExecutorClient {
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	return &ExecutorClient{
		cc:      cc,
		timeout: timeout,
		logger:  logger.With(slog.String("component", "executor_client")),
	}
}

// Propose sends one plan and returns the executor's reply.
func (c *ExecutorClient) Propose(ctx context.Context, plan domain.ExecutionPlan) (domain.ProposeReply, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	out := new(wire.ProposeReply)
	if err := c.cc.Invoke(ctx, ProposePlanMethod, PlanToWire(plan), out); err != nil {
		return domain.ProposeReply{}, fmt.Errorf("executor client: propose %s: %w", plan.PlanID, err)
	}
	return domain.ProposeReply{Accepted: out.Accepted, Reason: out.Reason}, nil
}

// Publish proposes plan and logs the outcome.
func (c *ExecutorClient) Publish(ctx context.Context, plan domain.ExecutionPlan) error {
	reply, err := c.Propose(ctx, plan)
	if err != nil {
		return err
	}
	c.logger.InfoContext(ctx, "plan proposed",
		slog.String("plan_id", plan.PlanID),
		slog.Bool("accepted", reply.Accepted),
		slog.String("reason", reply.Reason),
	)
	return nil
}
