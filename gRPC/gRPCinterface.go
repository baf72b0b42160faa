package proto

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"

	"CascadeDetServer/cascade"
	"CascadeDetServer/imaging"
	"CascadeDetServer/logger"
	"CascadeDetServer/monitor"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const maxMsgSize = 32 << 20

type Server struct {
	cascade *cascade.Cascade
	decode  imaging.Decoder
}

func NewServer(c *cascade.Cascade, decode imaging.Decoder) *Server {
	return &Server{cascade: c, decode: decode}
}

func (s *Server) Predict(ctx context.Context, req *wrapperspb.BytesValue) (*structpb.Struct, error) {
	monitor.GRPCTotal.Inc()
	frame, err := s.decode(req.GetValue())
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid image: %v", err)
	}
	defer frame.Close()

	res, err := s.cascade.Predict(ctx, frame)
	if err != nil {
		logger.Log().Error("Cascade prediction failed", zap.Error(err))
		return nil, statusFor(err)
	}
	out, err := toStruct(res.Report())
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode result: %v", err)
	}
	return out, nil
}

func (s *Server) Describe(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	monitor.GRPCTotal.Inc()
	out, err := toStruct(s.cascade.Registry().Describe())
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode description: %v", err)
	}
	return out, nil
}

func statusFor(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, cascade.ErrPrimary):
		return status.Error(codes.Unavailable, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// toStruct round-trips v through JSON so the Struct mirrors the HTTP API.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

// Serve registers srv on a new grpc.Server and serves lis in the background.
func Serve(lis net.Listener, srv *Server) *grpc.Server {
	s := grpc.NewServer(
		grpc.MaxRecvMsgSize(maxMsgSize),
		grpc.MaxSendMsgSize(maxMsgSize),
	)
	RegisterCascadeServiceServer(s, srv)
	go func() {
		logger.Log().Info("gRPC server listening", zap.String("addr", lis.Addr().String()))
		if err := s.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			logger.Log().Error("gRPC server stopped", zap.Error(err))
		}
	}()
	return s
}

func StartGRPCServer(port int, srv *Server) (*grpc.Server, error) {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("listen on port %d: %w", port, err)
	}
	return Serve(lis, srv), nil
}
