// Package solverv1 defines the solver.v1.Solver gRPC service.
//
// Requests and replies are protobuf well-known types, so the service needs no
// generated message code; see messages.go for their layout.
package solverv1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	Solver_CheckBatch_FullMethodName = "/solver.v1.Solver/CheckBatch"
	Solver_Discover_FullMethodName   = "/solver.v1.Solver/Discover"
)

// SolverClient is the client API for the Solver service.
type SolverClient interface {
	// CheckBatch runs every script of the request and returns the results in
	// request order.
	CheckBatch(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	// Discover returns the pool's flavor, size, load and static capabilities.
	Discover(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type solverClient struct {
	cc grpc.ClientConnInterface
}

func NewSolverClient(cc grpc.ClientConnInterface) SolverClient {
	return &solverClient{cc}
}

func (c *solverClient) CheckBatch(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, Solver_CheckBatch_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *solverClient) Discover(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, Solver_Discover_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// SolverServer is the server API for the Solver service. Implementations
// must embed UnimplementedSolverServer.
type SolverServer interface {
	CheckBatch(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Discover(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	mustEmbedUnimplementedSolverServer()
}

// UnimplementedSolverServer answers every method with codes.Unimplemented.
type UnimplementedSolverServer struct{}

func (UnimplementedSolverServer) CheckBatch(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Errorf(codes.Unimplemented, "method CheckBatch not implemented")
}

func (UnimplementedSolverServer) Discover(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	return nil, status.Errorf(codes.Unimplemented, "method Discover not implemented")
}

func (UnimplementedSolverServer) mustEmbedUnimplementedSolverServer() {}

func RegisterSolverServer(s grpc.ServiceRegistrar, srv SolverServer) {
	s.RegisterService(&Solver_ServiceDesc, srv)
}

func _Solver_CheckBatch_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SolverServer).CheckBatch(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: Solver_CheckBatch_FullMethodName,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(SolverServer).CheckBatch(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func _Solver_Discover_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SolverServer).Discover(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: Solver_Discover_FullMethodName,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(SolverServer).Discover(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// Solver_ServiceDesc is the grpc.ServiceDesc for the Solver service.
var Solver_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "solver.v1.Solver",
	HandlerType: (*SolverServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "CheckBatch",
			Handler:    _Solver_CheckBatch_Handler,
		},
		{
			MethodName: "Discover",
			Handler:    _Solver_Discover_Handler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "solver/v1/solver.proto",
}
