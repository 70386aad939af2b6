// Package grpcapi serves the order-book ingress and executor services over
// gRPC and provides clients for both.
package grpcapi

import (
	"context"

	"google.golang.org/grpc"

	"github.com/alanyoungcy/cyclearb/internal/grpcapi/wire"
)

const (
	IngressServiceName  = "md.OrderBookIngress"
	ExecutorServiceName = "exec.Executor"

	PushDeltasMethod  = "/md.OrderBookIngress/PushDeltas"
	ProposePlanMethod = "/exec.Executor/ProposePlan"
)

// PushDeltasStream is the server side of a PushDeltas call.
type PushDeltasStream = grpc.ClientStreamingServer[wire.OrderBookDelta, wire.Ack]

// IngressService is implemented by the ingress server.
type IngressService interface {
	PushDeltas(stream PushDeltasStream) error
}

// ExecutorService is implemented by the executor server.
type ExecutorService interface {
	ProposePlan(ctx context.Context, req *wire.ProposePlanRequest) (*wire.ProposeReply, error)
}

func pushDeltasHandler(srv any, stream grpc.ServerStream) error {
	return srv.(IngressService).PushDeltas(&grpc.GenericServerStream[wire.OrderBookDelta, wire.Ack]{ServerStream: stream})
}

func proposePlanHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wire.ProposePlanRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ExecutorService).ProposePlan(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ProposePlanMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ExecutorService).ProposePlan(ctx, req.(*wire.ProposePlanRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// IngressServiceDesc describes md.OrderBookIngress.
var IngressServiceDesc = grpc.ServiceDesc{
	ServiceName: IngressServiceName,
	HandlerType: (*IngressService)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "PushDeltas",
			Handler:       pushDeltasHandler,
			ClientStreams: true,
		},
	},
	Metadata: "proto/md/marketdata.proto",
}

// ExecutorServiceDesc describes exec.Executor.
var ExecutorServiceDesc = grpc.ServiceDesc{
	ServiceName: ExecutorServiceName,
	HandlerType: (*ExecutorService)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "ProposePlan",
			Handler:    proposePlanHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "proto/exec/executor.proto",
}
