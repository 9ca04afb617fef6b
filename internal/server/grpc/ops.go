package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// The ops service uses only well-known message types, so its descriptor is
// declared here instead of being generated.
const (
	OpsServiceName = "zapzap.ops.v1.Ops"

	OpsSweepFullMethod   = "/" + OpsServiceName + "/Sweep"
	OpsForwardFullMethod = "/" + OpsServiceName + "/Forward"
	OpsStatusFullMethod  = "/" + OpsServiceName + "/Status"
)

// OpsServer is the operator-facing service.
type OpsServer interface {
	// Sweep runs one reconciliation sweep and returns the number of tips it
	// marked received.
	Sweep(context.Context, *emptypb.Empty) (*wrapperspb.Int64Value, error)
	// Forward forwards one tip by id and returns the forwarding payment id.
	Forward(context.Context, *wrapperspb.StringValue) (*wrapperspb.StringValue, error)
	// Status reports the tip settled by a payment id.
	Status(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
}

func RegisterOpsServer(s grpc.ServiceRegistrar, srv OpsServer) {
	s.RegisterService(&OpsServiceDesc, srv)
}

var OpsServiceDesc = grpc.ServiceDesc{
	ServiceName: OpsServiceName,
	HandlerType: (*OpsServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Sweep", Handler: opsSweepHandler},
		{MethodName: "Forward", Handler: opsForwardHandler},
		{MethodName: "Status", Handler: opsStatusHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "zapzap/ops/v1/ops.proto",
}

func opsSweepHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(OpsServer).Sweep(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: OpsSweepFullMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(OpsServer).Sweep(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func opsForwardHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(OpsServer).Forward(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: OpsForwardFullMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(OpsServer).Forward(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func opsStatusHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(OpsServer).Status(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: OpsStatusFullMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(OpsServer).Status(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

// OpsClient calls the ops service.
type OpsClient struct {
	cc grpc.ClientConnInterface
}

func NewOpsClient(cc grpc.ClientConnInterface) *OpsClient {
	return &OpsClient{cc: cc}
}

func (c *OpsClient) Sweep(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*wrapperspb.Int64Value, error) {
	out := new(wrapperspb.Int64Value)
	if err := c.cc.Invoke(ctx, OpsSweepFullMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OpsClient) Forward(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.StringValue, error) {
	out := new(wrapperspb.StringValue)
	if err := c.cc.Invoke(ctx, OpsForwardFullMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OpsClient) Status(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, OpsStatusFullMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
