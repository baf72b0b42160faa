package proto

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// CascadeService uses protobuf well-known types. Predict takes the encoded
// image bytes and answers with the cascade report as a Struct.
const (
	ServiceName    = "cascade.CascadeService"
	PredictMethod  = "/cascade.CascadeService/Predict"
	DescribeMethod = "/cascade.CascadeService/Describe"
)

type CascadeServiceServer interface {
	Predict(context.Context, *wrapperspb.BytesValue) (*structpb.Struct, error)
	Describe(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

func RegisterCascadeServiceServer(s grpc.ServiceRegistrar, srv CascadeServiceServer) {
	s.RegisterService(&CascadeServiceDesc, srv)
}

func predictHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CascadeServiceServer).Predict(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: PredictMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CascadeServiceServer).Predict(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

func describeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CascadeServiceServer).Describe(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: DescribeMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CascadeServiceServer).Describe(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

var CascadeServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CascadeServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Predict", Handler: predictHandler},
		{MethodName: "Describe", Handler: describeHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "cascade.proto",
}

// CascadeServiceClient calls a remote cascade server.
type CascadeServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewCascadeServiceClient(cc grpc.ClientConnInterface) *CascadeServiceClient {
	return &CascadeServiceClient{cc: cc}
}

func (c *CascadeServiceClient) Predict(ctx context.Context, image []byte, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, PredictMethod, wrapperspb.Bytes(image), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *CascadeServiceClient) Describe(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, DescribeMethod, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
